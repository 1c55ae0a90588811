package protocol

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTimestampUnmarshal(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    time.Time
		wantErr bool
	}{
		{name: "epoch millis", input: `1002`, want: time.UnixMilli(1002)},
		{name: "float millis", input: `1.7e12`, want: time.UnixMilli(1700000000000)},
		{name: "numeric string", input: `"1700000000000"`, want: time.UnixMilli(1700000000000)},
		{name: "rfc3339", input: `"2024-01-02T03:04:05Z"`, want: time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)},
		{name: "local date time", input: `"2024-01-02T03:04:05.5"`, want: time.Date(2024, 1, 2, 3, 4, 5, 500000000, time.UTC)},
		{name: "array", input: `[2024,1,2,3,4,5]`, want: time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)},
		{name: "null", input: `null`},
		{name: "empty string", input: `""`},
		{name: "garbage string", input: `"yesterday"`, wantErr: true},
		{name: "short array", input: `[2024]`, wantErr: true},
		{name: "boolean", input: `true`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var ts Timestamp
			err := json.Unmarshal([]byte(tt.input), &ts)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidTime)
				return
			}
			require.NoError(t, err)
			assert.True(t, tt.want.Equal(ts.Time), "got %v, want %v", ts.Time, tt.want)
		})
	}
}

func TestFlexString(t *testing.T) {
	var v struct {
		A FlexString `json:"a"`
		B FlexString `json:"b"`
		C FlexString `json:"c"`
	}
	require.NoError(t, json.Unmarshal([]byte(`{"a":42,"b":"srv-77","c":null}`), &v))
	assert.Equal(t, FlexString("42"), v.A)
	assert.Equal(t, "srv-77", v.B.String())
	assert.Empty(t, v.C)

	assert.Error(t, json.Unmarshal([]byte(`{"a":true}`), &v))
}

func TestParseOnlineUsers(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    []string
		wantErr error
	}{
		{name: "json array", raw: `["u1","u2"]`, want: []string{"u1", "u2"}},
		{name: "numeric array", raw: `[1, 2]`, want: []string{"1", "2"}},
		{name: "empty array", raw: `[]`, want: []string{}},
		{name: "empty literal string", raw: `"[]"`, want: []string{}},
		{name: "json array string", raw: `"[\"u1\",\"u2\"]"`, want: []string{"u1", "u2"}},
		{name: "bracketed comma string", raw: `"[u1, u2, u3]"`, want: []string{"u1", "u2", "u3"}},
		{name: "single quoted", raw: `"['u1','u2']"`, want: []string{"u1", "u2"}},
		{name: "blank entries dropped", raw: `"[u1, , u2,]"`, want: []string{"u1", "u2"}},
		{name: "null", raw: `null`, wantErr: ErrMissingUsers},
		{name: "plain string", raw: `"u1"`, wantErr: ErrInvalidUsers},
		{name: "object", raw: `{"u1":true}`, wantErr: ErrInvalidUsers},
		{name: "array of objects", raw: `[{"id":1}]`, wantErr: ErrInvalidUsers},
		{name: "array of objects string", raw: `"[{\"username\":\"bob\",\"state\":\"ONLINE\"}]"`, wantErr: ErrInvalidUsers},
		{name: "bracketed objects string", raw: `"[{username: bob}, {username: amy}]"`, wantErr: ErrInvalidUsers},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseOnlineUsers(json.RawMessage(tt.raw))
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEnvelopeDecode(t *testing.T) {
	t.Run("chat message", func(t *testing.T) {
		var env Envelope
		err := env.Decode([]byte(`{
			"id": 77,
			"conversationId": "c1",
			"content": "hi",
			"sender": {"id": 5, "username": "bob", "fullName": "Bob B"},
			"dateSent": 1002,
			"dateRead": "2024-01-02T03:04:05Z",
			"states": ["DELIVERED", "READ"],
			"image": {"unexpected": true},
			"clientMessageId": "abc"
		}`))
		require.NoError(t, err)

		assert.Equal(t, FlexString("77"), env.ID)
		assert.Equal(t, FlexString("c1"), env.ConversationID)
		require.NotNil(t, env.Sender)
		assert.Equal(t, FlexString("5"), env.Sender.ID)
		assert.Equal(t, "bob", env.Sender.Username)
		assert.Equal(t, int64(1002), env.DateSent.UnixMilli())
		require.NotNil(t, env.DateRead)
		assert.Nil(t, env.DateDelivered)
		assert.Empty(t, env.Image, "non-string image is dropped")
		assert.Equal(t, "abc", env.ClientMessageID)
		assert.True(t, env.HasChatShape())
	})

	t.Run("presence", func(t *testing.T) {
		var env Envelope
		require.NoError(t, env.Decode([]byte(`{"type":"ONLINE_USERS","metadata":{"USERS":"[u1, u2]"}}`)))
		assert.Equal(t, TypeOnlineUsers, env.Type)
		assert.False(t, env.HasChatShape())

		ids, err := env.OnlineUsers()
		require.NoError(t, err)
		assert.Equal(t, []string{"u1", "u2"}, ids)
	})

	t.Run("presence without metadata", func(t *testing.T) {
		var env Envelope
		require.NoError(t, env.Decode([]byte(`{"type":"ONLINE_USERS"}`)))
		_, err := env.OnlineUsers()
		assert.ErrorIs(t, err, ErrMissingUsers)
	})

	t.Run("decode resets previous fields", func(t *testing.T) {
		env := Envelope{Content: "stale", Type: TypeMemberLeft}
		require.NoError(t, env.Decode([]byte(`{"conversationId":"c1"}`)))
		assert.Empty(t, env.Content)
		assert.Empty(t, env.Type)
	})

	t.Run("whitespace content is chat", func(t *testing.T) {
		env := Envelope{ConversationID: "c1", Content: "   "}
		assert.True(t, env.HasChatShape())
		env.Content = ""
		assert.False(t, env.HasChatShape())
		env.Image = "https://cdn.example.com/a.png"
		assert.True(t, env.HasChatShape())
	})

	t.Run("invalid json", func(t *testing.T) {
		var env Envelope
		assert.Error(t, env.Decode([]byte(`{"content":`)))
	})
}

func TestImageRefURL(t *testing.T) {
	tests := []struct {
		ref  ImageRef
		want bool
	}{
		{"https://cdn.example.com/cat.png", true},
		{"  http://cdn.example.com/cat.png  ", true},
		{"/uploads/cat.png", false},
		{"not a url", false},
		{"https://", false},
		{"", false},
	}
	for _, tt := range tests {
		_, ok := tt.ref.URL()
		assert.Equal(t, tt.want, ok, "ref %q", tt.ref)
	}
}

func TestSendMessageRequestEncode(t *testing.T) {
	req := &SendMessageRequest{Content: "hi", ConversationID: "c1", Username: "alice", ClientMessageID: "id-1"}
	data, err := req.Encode()
	require.NoError(t, err)
	assert.JSONEq(t, `{"content":"hi","conversationId":"c1","username":"alice","clientMessageId":"id-1"}`, string(data))

	_, err = (&SendMessageRequest{Content: " \t", ConversationID: "c1"}).Encode()
	assert.ErrorIs(t, err, ErrEmptyContent)

	_, err = (&SendMessageRequest{Content: "hi"}).Encode()
	assert.ErrorIs(t, err, ErrNoConversation)
}

func TestConversationPayloadParticipants(t *testing.T) {
	var c ConversationPayload
	require.NoError(t, json.Unmarshal([]byte(`{
		"id": 3,
		"isGroup": true,
		"groupName": "crew",
		"participants": [
			{"user": {"id": 1, "username": "alice"}},
			{"id": "2", "username": "bob"},
			{"user": {"username": "ghost"}}
		]
	}`), &c))

	assert.Equal(t, FlexString("3"), c.ID)
	assert.True(t, c.IsGroup)
	assert.Equal(t, "crew", c.GroupName)
	assert.Equal(t, []string{"1", "2"}, c.ParticipantIDs())
	assert.Equal(t, "bob", c.Participants[1].User.Username)
}

func TestConversationPayloadGroupFlag(t *testing.T) {
	var c ConversationPayload
	require.NoError(t, json.Unmarshal([]byte(`{"id":"g1","groupConversation":true,"messages":[{"id":"m1","conversationId":"g1","content":"hi"}]}`), &c))
	assert.True(t, c.Group())
	require.Len(t, c.Messages, 1)
	assert.Equal(t, "hi", c.Messages[0].Content)

	c = ConversationPayload{}
	assert.False(t, c.Group())
}

func TestUnwrapAPIResponse(t *testing.T) {
	data, err := UnwrapAPIResponse([]byte(`{"status":200,"message":"ok","data":{"id":"c1"}}`))
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":"c1"}`, string(data))

	data, err = UnwrapAPIResponse([]byte(`{"id":"c1","data":"x"}`))
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":"c1","data":"x"}`, string(data), "not a wrapper without status")

	data, err = UnwrapAPIResponse([]byte(` [1,2]`))
	require.NoError(t, err)
	assert.JSONEq(t, `[1,2]`, string(data))

	_, err = UnwrapAPIResponse([]byte(`nope`))
	assert.Error(t, err)
}

func TestDestinations(t *testing.T) {
	assert.Equal(t, "/user/alice/queue/messages", UserQueue("alice"))
	assert.Equal(t, "/user/alice/private-messages", PrivateMessagesQueue("alice"))
	assert.Equal(t, "/topic/chat/42", GroupTopic("42"))
	assert.Equal(t, DestGroupChat, ChatDestination(true))
	assert.Equal(t, DestPrivateChat, ChatDestination(false))

	id, ok := IsGroupTopic("/topic/chat/42")
	assert.True(t, ok)
	assert.Equal(t, "42", id)
	_, ok = IsGroupTopic(UserQueue("alice"))
	assert.False(t, ok)
}
