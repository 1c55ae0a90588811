package ui

import (
	"errors"
	"fmt"
	"io"
	"log"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aeolun/convosync/pkg/client"
	"github.com/aeolun/convosync/pkg/client/ui/modal"
	"github.com/aeolun/convosync/pkg/engine"
	"github.com/aeolun/convosync/pkg/protocol"
)

var testNow = time.UnixMilli(1_700_000_000_000)

func participant(id, username string) protocol.Participant {
	return protocol.Participant{User: protocol.UserPayload{ID: protocol.FlexString(id), Username: username}}
}

func groupPayload(id string, members ...protocol.Participant) protocol.ConversationPayload {
	return protocol.ConversationPayload{
		ID:                protocol.FlexString(id),
		GroupConversation: true,
		GroupName:         "crew",
		Participants:      members,
	}
}

var crew = []protocol.Participant{
	participant("u-local", "alice"),
	participant("u-bob", "bob"),
	participant("u-carol", "carol"),
	participant("u-dave", "dave"),
}

func envelope(id, convID, senderID, content string, ms int64) protocol.Envelope {
	return protocol.Envelope{
		ID:             protocol.FlexString(id),
		ConversationID: protocol.FlexString(convID),
		Content:        content,
		DateSent:       protocol.Millis(ms),
		Sender:         &protocol.Sender{ID: protocol.FlexString(senderID)},
	}
}

type testEnv struct {
	conn  *client.MockConnection
	dir   *client.MockDirectory
	state *client.MockState
	eng   *engine.Engine
}

func newTestModel(t *testing.T, history ...protocol.Envelope) (Model, *testEnv) {
	t.Helper()
	env := &testEnv{
		conn:  client.NewMockConnection("ws://localhost:8080/ws/websocket"),
		dir:   client.NewMockDirectory(),
		state: client.NewMockState(),
	}
	require.NoError(t, env.conn.Connect())
	env.dir.AddConversation(groupPayload("g1", crew...), history...)
	env.dir.AddConversation(groupPayload("g2", crew[:3]...))

	logger := log.New(io.Discard, "", 0)
	env.eng = engine.New(env.conn, env.dir, engine.Identity{UserID: "u-local", Username: "alice"}, engine.Options{
		Logger: logger,
		Now:    func() time.Time { return testNow },
	})
	require.NoError(t, env.eng.Start())

	m := NewModel(env.conn, env.state, env.dir, env.eng, Options{ConversationID: "g1", Notifications: true, Logger: logger})
	m.now = func() time.Time { return testNow }
	m.lastInteractionTime = testNow
	m.notifier = func(title, body string) error { return nil }
	m, _ = update(t, m, tea.WindowSizeMsg{Width: 80, Height: 24})
	return m, env
}

func update(t *testing.T, m Model, msg tea.Msg) (Model, tea.Cmd) {
	t.Helper()
	next, cmd := m.Update(msg)
	nm, ok := next.(Model)
	require.True(t, ok)
	return nm, cmd
}

// open loads conversation id the way /open does.
func open(t *testing.T, m Model, id string) Model {
	t.Helper()
	msg, ok := m.beginLoad(id)().(ConversationLoadedMsg)
	require.True(t, ok)
	m, _ = update(t, m, msg)
	return m
}

func keyMsg(k tea.KeyType) tea.KeyMsg { return tea.KeyMsg{Type: k} }

func runeMsg(s string) tea.KeyMsg { return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)} }

func frame(body string) ServerFrameMsg {
	return ServerFrameMsg{Frame: protocol.NewFrame(protocol.CommandMessage, []byte(body),
		protocol.HeaderDestination, protocol.UserQueue("alice"))}
}

func longHistory(n int) []protocol.Envelope {
	out := make([]protocol.Envelope, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, envelope(fmt.Sprintf("m%d", i), "g1", "u-bob", fmt.Sprintf("line %d", i), testNow.UnixMilli()-int64(n-i)*1000))
	}
	return out
}

func TestNewModelStartsDisconnectedWhenTransportIsDown(t *testing.T) {
	conn := client.NewMockConnection("ws://x")
	eng := engine.New(conn, nil, engine.Identity{UserID: "u"}, engine.Options{})
	m := NewModel(conn, client.NewMockState(), client.NewMockDirectory(), eng, Options{})
	assert.Equal(t, StateDisconnected, m.connectionState)
	assert.Equal(t, "Loading...", m.View())
}

func TestLoadConversation(t *testing.T) {
	m, env := newTestModel(t, envelope("m1", "g1", "u-bob", "earlier", testNow.UnixMilli()-60_000))
	m = open(t, m, "g1")

	conv := env.eng.ActiveConversation()
	assert.Equal(t, "g1", conv.ID)
	assert.True(t, conv.IsGroup)
	assert.Len(t, conv.ParticipantIDs, 4)

	msgs := env.eng.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "earlier", msgs[0].Content)

	assert.Equal(t, "g1", env.state.GetLastConversation())
	assert.Equal(t, []string{"g1"}, env.conn.PublishedTo(protocol.DestJoinConversation))
	assert.True(t, env.conn.IsSubscribed(protocol.GroupTopic("g1")))

	view := m.View()
	assert.Contains(t, view, "crew")
	assert.Contains(t, view, "bob")
	assert.Contains(t, view, "earlier")
	assert.Contains(t, view, "last message 1 minute ago")
}

func TestStaleConversationLoadIsDiscarded(t *testing.T) {
	m, env := newTestModel(t)
	c := groupPayload("other", crew...)
	m, _ = update(t, m, ConversationLoadedMsg{ID: "other", Conversation: &c})
	assert.Equal(t, "g1", env.eng.ActiveConversation().ID)
	assert.Empty(t, env.eng.ActiveConversation().ParticipantIDs)
	assert.True(t, m.modalStack.IsEmpty())
}

func TestConversationLoadFailureShowsErrorAndRetriesOnConnect(t *testing.T) {
	m, env := newTestModel(t)
	env.dir.SetFetchError(errors.New("boom"))
	m = open(t, m, "g1")

	assert.Equal(t, modal.ModalError, m.modalStack.TopType())
	assert.Error(t, m.loadErr)
	assert.Equal(t, "g1", env.eng.ActiveConversation().ID)
	assert.Empty(t, env.eng.ActiveConversation().ParticipantIDs)

	m, cmd := update(t, m, ReconnectResultMsg{})
	assert.NotNil(t, cmd)
	assert.True(t, m.loading, "reconnect retries the failed load")
}

func TestLiveFrameDuringLoadIsKept(t *testing.T) {
	m, env := newTestModel(t)
	env.dir.AddConversation(groupPayload("g2", crew[:3]...), envelope("h1", "g2", "u-bob", "history", testNow.UnixMilli()-60_000))

	m.input.SetValue("/open g2")
	m, cmd := update(t, m, keyMsg(tea.KeyEnter))
	require.NotNil(t, cmd)
	assert.Equal(t, "g2", env.eng.ActiveConversation().ID, "switches before the fetch completes")
	assert.True(t, m.loading)

	m, _ = update(t, m, frame(`{"id":"srv-live","conversationId":"g2","content":"live","sender":{"id":"u-bob"},"dateSent":1700000000500}`))
	require.Len(t, env.eng.Messages(), 1)

	msg, ok := m.loadConversation("g2")().(ConversationLoadedMsg)
	require.True(t, ok)
	m, _ = update(t, m, msg)

	msgs := env.eng.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, "history", msgs[0].Content)
	assert.Equal(t, "live", msgs[1].Content)
	assert.False(t, m.loading)
	assert.True(t, env.conn.IsSubscribed(protocol.GroupTopic("g2")))
}

func TestSendFromInput(t *testing.T) {
	m, env := newTestModel(t)
	m = open(t, m, "g1")

	m.input.SetValue("hello")
	m, _ = update(t, m, keyMsg(tea.KeyEnter))

	msgs := env.eng.Messages()
	require.Len(t, msgs, 1)
	assert.True(t, msgs[0].IsTentative())
	assert.Empty(t, m.input.Value())
	assert.Len(t, env.conn.PublishedTo(protocol.DestGroupChat), 1)
	assert.Contains(t, m.View(), "hello (sending)")
}

func TestSendWhileDisconnectedKeepsText(t *testing.T) {
	m, env := newTestModel(t)
	m = open(t, m, "g1")
	env.conn.SetConnected(false)

	m.input.SetValue("hello")
	m, _ = update(t, m, keyMsg(tea.KeyEnter))

	assert.Empty(t, env.eng.Messages())
	assert.Equal(t, "hello", m.input.Value())
	require.Equal(t, modal.ModalError, m.modalStack.TopType())
	errModal, ok := m.modalStack.Top().(*modal.ErrorModal)
	require.True(t, ok)
	assert.Contains(t, errModal.Message(), "not connected")

	// Any dismiss key closes the notice
	m, _ = update(t, m, keyMsg(tea.KeyEsc))
	assert.True(t, m.modalStack.IsEmpty())
}

func TestUnreadBadgeWhileScrolledAway(t *testing.T) {
	m, env := newTestModel(t, longHistory(60)...)
	m = open(t, m, "g1")
	require.True(t, m.viewport.AtBottom())

	m, _ = update(t, m, keyMsg(tea.KeyPgUp))
	require.False(t, env.eng.Scroll().PinnedToBottom)

	m, _ = update(t, m, frame(`{"id":"srv-1","conversationId":"g1","content":"new one","sender":{"id":"u-bob","username":"bob"},"dateSent":1700000000500}`))
	assert.Equal(t, 1, env.eng.Scroll().UnreadCount)
	assert.Contains(t, m.View(), "1 new")

	m, _ = update(t, m, keyMsg(tea.KeyEnd))
	assert.Equal(t, engine.ScrollState{PinnedToBottom: true}, env.eng.Scroll())
	assert.True(t, m.viewport.AtBottom())
	assert.NotContains(t, m.View(), "1 new")
}

func TestPinnedArrivalFollowsBottom(t *testing.T) {
	m, env := newTestModel(t, longHistory(60)...)
	m = open(t, m, "g1")

	m, _ = update(t, m, frame(`{"id":"srv-1","conversationId":"g1","content":"new one","sender":{"id":"u-bob"},"dateSent":1700000000500}`))
	assert.Zero(t, env.eng.Scroll().UnreadCount)
	assert.True(t, m.viewport.AtBottom())
}

func TestScrollingBackDownRepins(t *testing.T) {
	m, env := newTestModel(t, longHistory(60)...)
	m = open(t, m, "g1")

	m, _ = update(t, m, keyMsg(tea.KeyPgUp))
	require.False(t, env.eng.Scroll().PinnedToBottom)
	m, _ = update(t, m, keyMsg(tea.KeyPgDown))
	assert.True(t, env.eng.Scroll().PinnedToBottom)
	assert.Zero(t, m.distanceFromBottomPx())
}

func TestPresenceRoster(t *testing.T) {
	m, _ := newTestModel(t)
	m = open(t, m, "g1")

	m, _ = update(t, m, frame(`{"type":"ONLINE_USERS","metadata":{"USERS":"[u-bob, u-stranger]"}}`))
	view := m.View()
	assert.Contains(t, view, "● bob")
	assert.Contains(t, view, "○ carol")
	assert.NotContains(t, view, "u-stranger")
	assert.Contains(t, view, "1 online")
}

func TestMembershipChangeRefetchesRoster(t *testing.T) {
	m, env := newTestModel(t)
	m = open(t, m, "g1")

	env.dir.AddConversation(groupPayload("g1", append(crew, participant("u-erin", "erin"))...))
	env.eng.HandleFrame(frame(`{"type":"MEMBER_JOINED","conversationId":"g1"}`).Frame)
	cmds := m.afterEngine()
	require.Len(t, cmds, 1)
	assert.Contains(t, env.dir.Invalidated, "g1")

	msg, ok := cmds[0]().(RosterRefreshedMsg)
	require.True(t, ok)
	require.NoError(t, msg.Err)
	m, _ = update(t, m, msg)

	assert.True(t, env.eng.ActiveConversation().HasParticipant("u-erin"))
	assert.Equal(t, "erin", m.displayName("u-erin"))
}

func TestRosterRefreshForInactiveConversationIgnored(t *testing.T) {
	m, env := newTestModel(t)
	m = open(t, m, "g1")
	c := groupPayload("g2", crew[:2]...)
	m, _ = update(t, m, RosterRefreshedMsg{ID: "g2", Conversation: &c})
	assert.Len(t, env.eng.ActiveConversation().ParticipantIDs, 4)
}

func TestLeaveGroup(t *testing.T) {
	m, env := newTestModel(t)
	m = open(t, m, "g1")

	m, _ = update(t, m, keyMsg(tea.KeyCtrlL))
	require.Equal(t, modal.ModalConfirmLeave, m.modalStack.TopType())

	m, cmd := update(t, m, runeMsg("y"))
	require.NotNil(t, cmd)
	assert.True(t, m.modalStack.IsEmpty())

	confirm, ok := cmd().(modal.ConfirmLeaveMsg)
	require.True(t, ok)
	m, cmd = update(t, m, confirm)
	require.NotNil(t, cmd)
	assert.Empty(t, env.dir.Removed, "removal runs as a command")
	assert.Equal(t, "g1", env.eng.ActiveConversation().ID)

	result, ok := cmd().(LeaveResultMsg)
	require.True(t, ok)
	require.NoError(t, result.Err)
	m, _ = update(t, m, result)

	assert.Equal(t, [][2]string{{"g1", "u-local"}}, env.dir.Removed)
	assert.Empty(t, env.eng.ActiveConversation().ID)
	assert.Empty(t, env.state.GetLastConversation())
	assert.False(t, env.conn.IsSubscribed(protocol.GroupTopic("g1")))
	assert.Contains(t, m.View(), "no conversation")
}

func TestLeaveSmallGroupShowsNotice(t *testing.T) {
	m, env := newTestModel(t)
	m = open(t, m, "g2")

	m, _ = update(t, m, modal.ConfirmLeaveMsg{ConversationID: "g2"})
	assert.Empty(t, env.dir.Removed)
	assert.Equal(t, "g2", env.eng.ActiveConversation().ID)
	require.Equal(t, modal.ModalError, m.modalStack.TopType())
	assert.Contains(t, m.View(), "Could not leave group")
}

func TestLeaveFailureKeepsConversation(t *testing.T) {
	m, env := newTestModel(t)
	m = open(t, m, "g1")

	m, _ = update(t, m, LeaveResultMsg{ConversationID: "g1", Err: errors.New("503")})
	assert.Equal(t, "g1", env.eng.ActiveConversation().ID)
	assert.Equal(t, "g1", env.state.GetLastConversation())
	assert.Equal(t, modal.ModalError, m.modalStack.TopType())
	assert.Contains(t, m.View(), "503")
}

func TestLeaveCancelled(t *testing.T) {
	m, env := newTestModel(t)
	m = open(t, m, "g1")

	m, _ = update(t, m, keyMsg(tea.KeyCtrlL))
	m, cmd := update(t, m, runeMsg("n"))
	assert.Nil(t, cmd)
	assert.True(t, m.modalStack.IsEmpty())
	assert.Equal(t, "g1", env.eng.ActiveConversation().ID)
}

func TestDisconnectAndReconnect(t *testing.T) {
	m, env := newTestModel(t)
	m = open(t, m, "g1")

	env.conn.SetConnected(false)
	m, _ = update(t, m, DisconnectedMsg{Err: errors.New("eof")})
	assert.Equal(t, StateDisconnected, m.connectionState)
	assert.Equal(t, modal.ModalConnectionFailed, m.modalStack.TopType())

	m, _ = update(t, m, ReconnectingMsg{Attempt: 2})
	assert.Equal(t, StateReconnecting, m.connectionState)
	assert.Equal(t, 2, m.reconnectAttempt)

	env.conn.SetConnected(true)
	m, _ = update(t, m, ConnectedMsg{})
	assert.Equal(t, StateConnected, m.connectionState)
	assert.True(t, m.modalStack.IsEmpty())
	assert.Equal(t, []string{"g1", "g1"}, env.conn.PublishedTo(protocol.DestJoinConversation), "resync re-announces")

	last, err := env.state.GetLastSuccessfulConnection(env.conn.GetAddress())
	require.NoError(t, err)
	assert.NotZero(t, last)
}

func TestReconnectFailureKeepsModal(t *testing.T) {
	m, _ := newTestModel(t)
	m, _ = update(t, m, ReconnectResultMsg{Err: errors.New("connection refused")})
	assert.Equal(t, modal.ModalConnectionFailed, m.modalStack.TopType())
	assert.Contains(t, m.View(), "connection refused")

	m, cmd := update(t, m, runeMsg("r"))
	require.NotNil(t, cmd)
	_, ok := cmd().(modal.ConnectionFailedRetryMsg)
	assert.True(t, ok)
	assert.True(t, m.modalStack.IsEmpty())
}

func TestCtrlCSavesConversation(t *testing.T) {
	m, env := newTestModel(t)
	m = open(t, m, "g1")
	require.NoError(t, env.state.SetLastConversation(""))

	_, cmd := update(t, m, keyMsg(tea.KeyCtrlC))
	require.NotNil(t, cmd)
	assert.IsType(t, tea.QuitMsg{}, cmd())
	assert.Equal(t, "g1", env.state.GetLastConversation())
}

func TestTickRequestsRoster(t *testing.T) {
	m, env := newTestModel(t)
	m = open(t, m, "g1")
	before := len(env.conn.PublishedTo(protocol.DestRequestOnlineUsers))

	_, cmd := update(t, m, TickMsg(testNow.Add(engine.DefaultPresenceRefresh)))
	assert.NotNil(t, cmd)
	assert.Len(t, env.conn.PublishedTo(protocol.DestRequestOnlineUsers), before+1)
}
