package ui

import (
	"context"
	"log"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/aeolun/convosync/pkg/client"
	"github.com/aeolun/convosync/pkg/client/ui/modal"
	"github.com/aeolun/convosync/pkg/engine"
	"github.com/aeolun/convosync/pkg/protocol"
)

const (
	// lineHeightPx converts terminal rows into the pixel distance the
	// scroll tracker expects.
	lineHeightPx = 20.0

	// directoryTimeout bounds every REST call made from the UI.
	directoryTimeout = 10 * time.Second

	// idleNotifyAfter is how long without input before arrivals notify
	// even while the view is pinned.
	idleNotifyAfter = 5 * time.Minute
)

// ConnectionState represents the connection status
type ConnectionState int

const (
	StateConnected ConnectionState = iota
	StateDisconnected
	StateReconnecting
)

// engineEvents collects hook callbacks fired during one engine call so
// Update can apply them after the call returns.
type engineEvents struct {
	scrollToLatest bool
	notices        []engine.Notice
	membership     []engine.MembershipChange
}

func (ev *engineEvents) drain() engineEvents {
	out := *ev
	*ev = engineEvents{}
	return out
}

// Options configures a Model.
type Options struct {
	ConversationID string
	Notifications  bool
	IconPath       string
	Logger         *log.Logger
	// ConnectErr is the initial dial failure, shown until a retry succeeds.
	ConnectErr error
}

// Model is the bubbletea model for one conversation view.
type Model struct {
	conn      client.ConnectionInterface
	state     client.StateInterface
	directory client.DirectoryInterface
	engine    *engine.Engine
	logger    *log.Logger
	events    *engineEvents
	notifier  Notifier

	conversationID string
	conversation   *protocol.ConversationPayload
	usernames      map[string]string
	loading        bool
	loadErr        error

	connectionState  ConnectionState
	reconnectAttempt int

	notifications       bool
	lastInteractionTime time.Time
	now                 func() time.Time

	viewport   viewport.Model
	input      textinput.Model
	modalStack modal.ModalStack
	width      int
	height     int
}

// NewModel creates the UI over an engine already bound to conn and directory.
func NewModel(conn client.ConnectionInterface, state client.StateInterface, directory client.DirectoryInterface, eng *engine.Engine, opts Options) Model {
	ti := textinput.New()
	ti.Placeholder = "Type a message, /help for commands"
	ti.CharLimit = 4000
	ti.Focus()

	m := Model{
		conn:           conn,
		state:          state,
		directory:      directory,
		engine:         eng,
		logger:         opts.Logger,
		events:         &engineEvents{},
		notifier:       DesktopNotifier(opts.IconPath),
		conversationID: opts.ConversationID,
		usernames:      make(map[string]string),
		notifications:  opts.Notifications,
		now:            time.Now,
		input:          ti,
		viewport:       viewport.New(80, 20),
	}
	m.lastInteractionTime = m.now()
	if !conn.IsConnected() {
		m.connectionState = StateDisconnected
	}
	if opts.ConnectErr != nil {
		m.modalStack.Push(modal.NewConnectionFailedModal(conn.GetAddress(), opts.ConnectErr.Error()))
	}

	events := m.events
	eng.OnScrollToLatest(func() { events.scrollToLatest = true })
	eng.OnNotice(func(n engine.Notice) { events.notices = append(events.notices, n) })
	eng.OnMembershipChange(func(c engine.MembershipChange) { events.membership = append(events.membership, c) })

	if opts.ConversationID != "" {
		m.loading = true
		if eng.ActiveConversation().ID != opts.ConversationID {
			eng.SwitchConversation(engine.Conversation{ID: opts.ConversationID})
		}
	}
	return m
}

func (m Model) logf(format string, args ...interface{}) {
	if m.logger != nil {
		m.logger.Printf(format, args...)
	}
}

// Init initializes the model
func (m Model) Init() tea.Cmd {
	cmds := []tea.Cmd{
		listenForServerFrames(m.conn),
		tickCmd(),
		textinput.Blink,
	}
	if m.conversationID != "" {
		cmds = append(cmds, m.loadConversation(m.conversationID))
	}
	return tea.Batch(cmds...)
}

// listenForServerFrames listens for incoming frames and connection state changes
func listenForServerFrames(conn client.ConnectionInterface) tea.Cmd {
	return func() tea.Msg {
		select {
		case frame, ok := <-conn.Incoming():
			if !ok {
				return nil
			}
			return ServerFrameMsg{Frame: frame}
		case err, ok := <-conn.Errors():
			if !ok {
				return nil
			}
			return ErrorMsg{Err: err}
		case update, ok := <-conn.StateChanges():
			if !ok {
				return nil
			}
			switch update.State {
			case client.StateTypeConnected:
				return ConnectedMsg{}
			case client.StateTypeDisconnected:
				return DisconnectedMsg{Err: update.Err}
			case client.StateTypeReconnecting:
				return ReconnectingMsg{Attempt: update.Attempt}
			}
		}
		return nil
	}
}

// tickCmd returns a command that sends a tick message every second
func tickCmd() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return TickMsg(t)
	})
}

// loadConversation fetches the record and history for id from the directory.
func (m Model) loadConversation(id string) tea.Cmd {
	dir := m.directory
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), directoryTimeout)
		defer cancel()

		conv, err := dir.Conversation(ctx, id)
		if err != nil {
			return ConversationLoadedMsg{ID: id, Err: err}
		}
		history, err := dir.Messages(ctx, id)
		if err != nil {
			return ConversationLoadedMsg{ID: id, Err: err}
		}
		return ConversationLoadedMsg{ID: id, Conversation: conv, History: history}
	}
}

// beginLoad makes id the active conversation at once, so frames that arrive
// while its record and history are fetched are kept, and returns the fetch.
func (m *Model) beginLoad(id string) tea.Cmd {
	m.conversationID = id
	m.loading = true
	m.loadErr = nil
	if m.engine.ActiveConversation().ID != id {
		m.conversation = nil
		m.usernames = make(map[string]string)
		m.engine.SwitchConversation(engine.Conversation{ID: id})
	}
	return m.loadConversation(id)
}

// removeMember asks the directory to drop the local user from a group.
func (m Model) removeMember(conversationID string) tea.Cmd {
	dir := m.directory
	userID := m.engine.Identity().UserID
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), directoryTimeout)
		defer cancel()
		return LeaveResultMsg{ConversationID: conversationID, Err: dir.RemoveMember(ctx, conversationID, userID)}
	}
}

// refreshRoster refetches the conversation record after a membership change.
// The engine has already invalidated the cached entry.
func (m Model) refreshRoster(id string) tea.Cmd {
	dir := m.directory
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), directoryTimeout)
		defer cancel()
		conv, err := dir.Conversation(ctx, id)
		return RosterRefreshedMsg{ID: id, Conversation: conv, Err: err}
	}
}

// reconnect dials the broker again on user request.
func (m Model) reconnect() tea.Cmd {
	conn := m.conn
	return func() tea.Msg {
		return ReconnectResultMsg{Err: conn.Connect()}
	}
}

// saveAndQuit remembers the open conversation and returns a quit command
func (m *Model) saveAndQuit() tea.Cmd {
	if id := m.engine.ActiveConversation().ID; id != "" {
		if err := m.state.SetLastConversation(id); err != nil {
			m.logf("Failed to save last conversation: %v", err)
		}
	}
	return tea.Quit
}

// distanceFromBottomPx is how far the viewport sits above its last line.
func (m Model) distanceFromBottomPx() float64 {
	rows := m.viewport.TotalLineCount() - m.viewport.YOffset - m.viewport.Height
	if rows < 0 {
		rows = 0
	}
	return float64(rows) * lineHeightPx
}

// displayName picks the best label for a user id.
func (m Model) displayName(userID string) string {
	if name, ok := m.usernames[userID]; ok && name != "" {
		return name
	}
	return userID
}

func (m *Model) setConversation(p *protocol.ConversationPayload) {
	m.conversation = p
	m.usernames = make(map[string]string, len(p.Participants))
	for _, part := range p.Participants {
		name := part.User.Username
		if part.User.FullName != "" {
			name = part.User.FullName
		}
		m.usernames[string(part.User.ID)] = name
	}
}
