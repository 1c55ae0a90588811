package engine

import (
	"fmt"
	"strings"

	"github.com/aeolun/convosync/pkg/protocol"
)

// Frame categories, also used as metric labels
const (
	categoryIgnored    = "ignored"
	categoryPresence   = "presence"
	categoryMembership = "membership"
	categoryChat       = "chat"
	categoryMalformed  = "malformed"
)

// Event is the result of classifying one inbound frame body. The set of
// implementations is closed.
type Event interface {
	category() string
}

// Ignored is traffic that needs no reaction.
type Ignored struct {
	Reason string
}

// PresenceSnapshot is the complete online set at one instant.
type PresenceSnapshot struct {
	ConversationID string
	OnlineUserIDs  []string
}

// MembershipChange says someone joined or left the active conversation.
type MembershipChange struct {
	ConversationID string
	Joined         bool
}

// ChatMessage is a confirmed message from the server.
type ChatMessage struct {
	Message Message
}

// Malformed is a frame that could not be parsed.
type Malformed struct {
	Err error
	Raw string
}

func (Ignored) category() string          { return categoryIgnored }
func (PresenceSnapshot) category() string { return categoryPresence }
func (MembershipChange) category() string { return categoryMembership }
func (ChatMessage) category() string      { return categoryChat }
func (Malformed) category() string        { return categoryMalformed }

// Classify turns an untrusted frame body into an Event. It never panics and
// never returns nil.
//
// Diagnostic echo text is dropped before any JSON parsing. Presence and
// membership payloads are recognised by their type discriminator; presence
// and membership events for a conversation other than activeConversationID
// are Ignored. Anything else with content and a conversation id is a chat
// message.
func Classify(raw string, activeConversationID string) Event {
	trimmed := strings.TrimSpace(raw)
	if strings.HasPrefix(trimmed, protocol.DiagnosticPrefix) {
		return Ignored{Reason: "diagnostic"}
	}
	if trimmed == "" {
		return Ignored{Reason: "empty"}
	}

	var env protocol.Envelope
	if err := env.Decode([]byte(trimmed)); err != nil {
		return Malformed{Err: fmt.Errorf("%w: %v", ErrMalformedFrame, err), Raw: raw}
	}

	switch env.Type {
	case protocol.TypeOnlineUsers:
		ids, err := env.OnlineUsers()
		if err != nil {
			return Malformed{Err: fmt.Errorf("%w: %v", ErrMalformedFrame, err), Raw: raw}
		}
		convID := string(env.ConversationID)
		if convID != "" && convID != activeConversationID {
			return Ignored{Reason: "presence for inactive conversation"}
		}
		return PresenceSnapshot{ConversationID: activeConversationID, OnlineUserIDs: ids}

	case protocol.TypeMemberJoined, protocol.TypeMemberLeft:
		convID := string(env.ConversationID)
		if convID == "" || convID != activeConversationID {
			return Ignored{Reason: "membership for inactive conversation"}
		}
		return MembershipChange{ConversationID: convID, Joined: env.Type == protocol.TypeMemberJoined}
	}

	if env.HasChatShape() {
		return ChatMessage{Message: MessageFromEnvelope(&env)}
	}

	return Ignored{Reason: ErrUnknownPayload.Error()}
}

// preview shortens a raw frame for log lines.
func preview(raw string) string {
	const max = 120
	raw = strings.ReplaceAll(raw, "\n", `\n`)
	if len(raw) <= max {
		return raw
	}
	return raw[:max] + "..."
}
