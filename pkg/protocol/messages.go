package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Payload type discriminators (Server → Client)
const (
	TypeOnlineUsers  = "ONLINE_USERS"
	TypeMemberJoined = "MEMBER_JOINED"
	TypeMemberLeft   = "MEMBER_LEFT"
)

// DiagnosticPrefix marks plain-text echo/test traffic that is never parsed.
const DiagnosticPrefix = "TEST ECHO:"

// Message state flags as the server spells them
const (
	StateReceived  = "RECEIVED"
	StateDelivered = "DELIVERED"
	StateRead      = "READ"
	StateDeleted   = "DELETED"
	StateEdited    = "EDITED"
)

var (
	ErrEmptyContent   = errors.New("message content cannot be empty")
	ErrMissingUsers   = errors.New("presence payload has no USERS metadata")
	ErrInvalidUsers   = errors.New("presence USERS value is not a recognised list")
	ErrInvalidTime    = errors.New("unrecognised timestamp")
	ErrNoConversation = errors.New("conversation id is required")
)

// FlexString decodes a JSON string or number into a string. Server ids are
// numeric in some payloads and strings in others.
type FlexString string

func (s *FlexString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || string(data) == "null" {
		*s = ""
		return nil
	}
	if data[0] == '"' {
		var str string
		if err := json.Unmarshal(data, &str); err != nil {
			return err
		}
		*s = FlexString(str)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("expected string or number, got %s", data)
	}
	*s = FlexString(n.String())
	return nil
}

func (s FlexString) String() string { return string(s) }

// Timestamp accepts epoch milliseconds, an RFC 3339 string, a numeric string,
// or a [year, month, day, hour, minute, second, nanos] array.
type Timestamp struct {
	time.Time
}

// Millis returns a timestamp for the given epoch milliseconds.
func Millis(ms int64) Timestamp {
	return Timestamp{time.UnixMilli(ms)}
}

func (t *Timestamp) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || string(data) == "null" {
		t.Time = time.Time{}
		return nil
	}

	switch data[0] {
	case '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		return t.parseString(s)
	case '[':
		var parts []int
		if err := json.Unmarshal(data, &parts); err != nil {
			return fmt.Errorf("%w: %s", ErrInvalidTime, data)
		}
		return t.parseParts(parts)
	default:
		ms, err := strconv.ParseFloat(string(data), 64)
		if err != nil {
			return fmt.Errorf("%w: %s", ErrInvalidTime, data)
		}
		t.Time = time.UnixMilli(int64(ms))
		return nil
	}
}

func (t *Timestamp) parseString(s string) error {
	s = strings.TrimSpace(s)
	if s == "" {
		t.Time = time.Time{}
		return nil
	}
	if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
		t.Time = time.UnixMilli(ms)
		return nil
	}
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05.999999999", "2006-01-02 15:04:05"} {
		if parsed, err := time.Parse(layout, s); err == nil {
			t.Time = parsed
			return nil
		}
	}
	return fmt.Errorf("%w: %q", ErrInvalidTime, s)
}

func (t *Timestamp) parseParts(p []int) error {
	if len(p) < 3 {
		return fmt.Errorf("%w: %v", ErrInvalidTime, p)
	}
	for len(p) < 7 {
		p = append(p, 0)
	}
	t.Time = time.Date(p[0], time.Month(p[1]), p[2], p[3], p[4], p[5], p[6], time.UTC)
	return nil
}

func (t Timestamp) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte("null"), nil
	}
	return []byte(strconv.FormatInt(t.UnixMilli(), 10)), nil
}

// ImageRef holds the raw image field. Non-string values decode to an empty
// reference rather than failing the whole payload.
type ImageRef string

func (i *ImageRef) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		*i = ""
		return nil
	}
	*i = ImageRef(s)
	return nil
}

// URL returns the parsed image URL when it is absolute.
func (i ImageRef) URL() (*url.URL, bool) {
	s := strings.TrimSpace(string(i))
	if s == "" {
		return nil, false
	}
	u, err := url.Parse(s)
	if err != nil || !u.IsAbs() || u.Host == "" {
		return nil, false
	}
	return u, true
}

// Sender identifies the author of a chat payload.
type Sender struct {
	ID       FlexString `json:"id"`
	Username string     `json:"username"`
	FullName string     `json:"fullName,omitempty"`
}

// Metadata carries out-of-band payload data. USERS is left raw because the
// server encodes it three different ways.
type Metadata struct {
	Users json.RawMessage `json:"USERS"`
}

// Envelope is the union of every JSON body delivered on a private queue.
// Which fields are meaningful depends on Type, or on Content when no type is
// set.
type Envelope struct {
	Type            string     `json:"type,omitempty"`
	ID              FlexString `json:"id,omitempty"`
	ConversationID  FlexString `json:"conversationId,omitempty"`
	Content         string     `json:"content,omitempty"`
	Sender          *Sender    `json:"sender,omitempty"`
	DateSent        Timestamp  `json:"dateSent"`
	DateDelivered   *Timestamp `json:"dateDelivered,omitempty"`
	DateRead        *Timestamp `json:"dateRead,omitempty"`
	States          []string   `json:"states,omitempty"`
	Image           ImageRef   `json:"image,omitempty"`
	ClientMessageID string     `json:"clientMessageId,omitempty"`
	Metadata        *Metadata  `json:"metadata,omitempty"`
}

// Decode parses a JSON body into the envelope.
func (e *Envelope) Decode(payload []byte) error {
	*e = Envelope{}
	return json.Unmarshal(payload, e)
}

// HasChatShape reports whether the envelope looks like a chat message.
func (e *Envelope) HasChatShape() bool {
	return e.ConversationID != "" && (e.Content != "" || e.Image != "")
}

// OnlineUsers decodes the USERS metadata of a presence payload.
func (e *Envelope) OnlineUsers() ([]string, error) {
	if e.Metadata == nil || len(e.Metadata.Users) == 0 {
		return nil, ErrMissingUsers
	}
	return ParseOnlineUsers(e.Metadata.Users)
}

// ParseOnlineUsers accepts a JSON array of ids, a string holding a JSON
// array, a bracketed comma-joined string, or the literal "[]".
func ParseOnlineUsers(raw json.RawMessage) ([]string, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || string(raw) == "null" {
		return nil, ErrMissingUsers
	}

	switch raw[0] {
	case '[':
		var ids []FlexString
		if err := json.Unmarshal(raw, &ids); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidUsers, err)
		}
		return compactIDs(ids), nil
	case '"':
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidUsers, err)
		}
		return parseUsersString(s)
	default:
		return nil, fmt.Errorf("%w: %s", ErrInvalidUsers, raw)
	}
}

func parseUsersString(s string) ([]string, error) {
	s = strings.TrimSpace(s)
	if s == "" || s == "[]" {
		return []string{}, nil
	}
	if !strings.HasPrefix(s, "[") || !strings.HasSuffix(s, "]") {
		return nil, fmt.Errorf("%w: %q", ErrInvalidUsers, s)
	}

	var ids []FlexString
	if err := json.Unmarshal([]byte(s), &ids); err == nil {
		return compactIDs(ids), nil
	}

	// Bracketed list such as [u1, u2] or ['u1','u2']
	inner := s[1 : len(s)-1]
	var out []string
	for _, part := range strings.Split(inner, ",") {
		part = strings.TrimSpace(part)
		if strings.HasPrefix(part, "{") {
			return nil, fmt.Errorf("%w: %q", ErrInvalidUsers, s)
		}
		part = strings.Trim(part, `"'`)
		if part != "" {
			out = append(out, part)
		}
	}
	if out == nil {
		out = []string{}
	}
	return out, nil
}

func compactIDs(ids []FlexString) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if s := strings.TrimSpace(string(id)); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// SendMessageRequest - publish body for /app/group.chat and /app/private.chat
type SendMessageRequest struct {
	Content         string `json:"content"`
	ConversationID  string `json:"conversationId"`
	Username        string `json:"username"`
	ClientMessageID string `json:"clientMessageId,omitempty"`
}

func (m *SendMessageRequest) Encode() ([]byte, error) {
	if strings.TrimSpace(m.Content) == "" {
		return nil, ErrEmptyContent
	}
	if m.ConversationID == "" {
		return nil, ErrNoConversation
	}
	return json.Marshal(m)
}

func (m *SendMessageRequest) Decode(payload []byte) error {
	return json.Unmarshal(payload, m)
}

// UserPayload is a user record as returned by the conversation API.
type UserPayload struct {
	ID       FlexString `json:"id"`
	Username string     `json:"username"`
	FullName string     `json:"fullName,omitempty"`
}

// Participant accepts both {"user": {...}} and a bare user object.
type Participant struct {
	User UserPayload
}

func (p *Participant) UnmarshalJSON(data []byte) error {
	var wrapped struct {
		User *UserPayload `json:"user"`
	}
	if err := json.Unmarshal(data, &wrapped); err != nil {
		return err
	}
	if wrapped.User != nil {
		p.User = *wrapped.User
		return nil
	}
	return json.Unmarshal(data, &p.User)
}

func (p Participant) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		User UserPayload `json:"user"`
	}{p.User})
}

// ConversationPayload is a conversation record as returned by the
// conversation API.
type ConversationPayload struct {
	ID                FlexString    `json:"id"`
	IsGroup           bool          `json:"isGroup"`
	GroupConversation bool          `json:"groupConversation"`
	GroupName         string        `json:"groupName,omitempty"`
	Participants      []Participant `json:"participants"`
	Messages          []Envelope    `json:"messages,omitempty"`
}

// Group reports whether the record describes a group conversation. The
// API has used both field names.
func (c *ConversationPayload) Group() bool {
	return c.IsGroup || c.GroupConversation
}

// ParticipantIDs returns the roster's user ids in payload order.
func (c *ConversationPayload) ParticipantIDs() []string {
	ids := make([]string, 0, len(c.Participants))
	for _, p := range c.Participants {
		if p.User.ID != "" {
			ids = append(ids, string(p.User.ID))
		}
	}
	return ids
}

// APIResponse is the wrapper the REST API puts around every payload.
type APIResponse struct {
	Status  int             `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

// UnwrapAPIResponse returns the data member of a wrapped response, or raw
// itself when the body is not wrapped.
func UnwrapAPIResponse(raw []byte) (json.RawMessage, error) {
	if trimmed := bytes.TrimSpace(raw); len(trimmed) > 0 && trimmed[0] == '[' {
		return raw, nil
	}
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(raw, &probe); err != nil {
		return nil, err
	}
	data, ok := probe["data"]
	if !ok {
		return raw, nil
	}
	if _, hasStatus := probe["status"]; !hasStatus {
		return raw, nil
	}
	return data, nil
}
