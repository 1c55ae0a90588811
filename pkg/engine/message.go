package engine

import (
	"sort"
	"strings"
	"time"

	"github.com/aeolun/convosync/pkg/protocol"
)

// TentativePrefix marks ids synthesized locally before the server confirms a
// message. Server ids never carry it.
const TentativePrefix = "temp-"

// StateFlags is the set of delivery and edit markers on a message.
type StateFlags uint8

const (
	StateReceived StateFlags = 1 << iota
	StateDelivered
	StateRead
	StateDeleted
	StateEdited
)

var stateNames = []struct {
	flag StateFlags
	name string
}{
	{StateReceived, protocol.StateReceived},
	{StateDelivered, protocol.StateDelivered},
	{StateRead, protocol.StateRead},
	{StateDeleted, protocol.StateDeleted},
	{StateEdited, protocol.StateEdited},
}

// ParseStateFlags maps server state names to flags. Unknown names are skipped.
func ParseStateFlags(names []string) StateFlags {
	var f StateFlags
	for _, n := range names {
		for _, s := range stateNames {
			if strings.EqualFold(n, s.name) {
				f |= s.flag
			}
		}
	}
	return f
}

func (f StateFlags) Has(flag StateFlags) bool { return f&flag == flag }

func (f StateFlags) String() string {
	var parts []string
	for _, s := range stateNames {
		if f.Has(s.flag) {
			parts = append(parts, s.name)
		}
	}
	return strings.Join(parts, "|")
}

// Message is a chat message in either its tentative or confirmed form. The
// id prefix is the tag: see IsTentative.
type Message struct {
	ID              string
	ConversationID  string
	SenderID        string
	SenderUsername  string
	SenderName      string
	Content         string
	Image           string
	SentAt          time.Time
	DeliveredAt     *time.Time
	ReadAt          *time.Time
	States          StateFlags
	ClientMessageID string
}

// IsTentative reports whether the message was created locally and has not
// yet been reconciled with a server confirmation.
func (m Message) IsTentative() bool {
	return strings.HasPrefix(m.ID, TentativePrefix)
}

// ImageURL returns the image URL when it is absolute and parseable. Invalid
// values must not be rendered as images.
func (m Message) ImageURL() (string, bool) {
	u, ok := protocol.ImageRef(m.Image).URL()
	if !ok {
		return "", false
	}
	return u.String(), true
}

// IsSystem reports whether the message was generated by the server rather
// than a participant.
func (m Message) IsSystem() bool {
	if m.SenderID == "" && m.SenderUsername == "" {
		return true
	}
	return strings.EqualFold(m.SenderID, "system") || strings.EqualFold(m.SenderUsername, "system")
}

// MessageFromEnvelope converts a decoded chat payload into a Message.
func MessageFromEnvelope(env *protocol.Envelope) Message {
	m := Message{
		ID:              string(env.ID),
		ConversationID:  string(env.ConversationID),
		Content:         env.Content,
		Image:           string(env.Image),
		SentAt:          env.DateSent.Time,
		States:          ParseStateFlags(env.States),
		ClientMessageID: env.ClientMessageID,
	}
	if env.Sender != nil {
		m.SenderID = string(env.Sender.ID)
		m.SenderUsername = env.Sender.Username
		m.SenderName = env.Sender.FullName
	}
	if env.DateDelivered != nil && !env.DateDelivered.IsZero() {
		t := env.DateDelivered.Time
		m.DeliveredAt = &t
	}
	if env.DateRead != nil && !env.DateRead.IsZero() {
		t := env.DateRead.Time
		m.ReadAt = &t
	}
	return m
}

// Identity is the local user.
type Identity struct {
	UserID   string
	Username string
	Token    string
}

// Authored reports whether m was written by this identity.
func (id Identity) Authored(m Message) bool {
	if id.UserID != "" && m.SenderID == id.UserID {
		return true
	}
	return id.Username != "" && m.SenderUsername == id.Username
}

// Conversation is read-only metadata owned by the directory cache.
type Conversation struct {
	ID             string
	IsGroup        bool
	GroupName      string
	ParticipantIDs []string
}

// ConversationFromPayload converts an API conversation record.
func ConversationFromPayload(p *protocol.ConversationPayload) Conversation {
	return Conversation{
		ID:             string(p.ID),
		IsGroup:        p.Group(),
		GroupName:      p.GroupName,
		ParticipantIDs: p.ParticipantIDs(),
	}
}

// HasParticipant reports whether userID is on the roster.
func (c Conversation) HasParticipant(userID string) bool {
	for _, id := range c.ParticipantIDs {
		if id == userID {
			return true
		}
	}
	return false
}

// ScrollState is the viewport anchoring and unread count.
type ScrollState struct {
	PinnedToBottom bool
	UnreadCount    int
}

func sortedKeys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
