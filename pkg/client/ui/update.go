package ui

import (
	"errors"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/aeolun/convosync/pkg/client"
	"github.com/aeolun/convosync/pkg/client/ui/modal"
	"github.com/aeolun/convosync/pkg/engine"
)

// Update handles messages and updates the model
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKeyPress(msg)

	case tea.MouseMsg:
		var cmd tea.Cmd
		m.viewport, cmd = m.viewport.Update(msg)
		m.engine.ObserveViewport(m.distanceFromBottomPx())
		return m, tea.Batch(append(m.afterEngine(), cmd)...)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.viewport.Width = msg.Width
		m.viewport.Height = chatHeight(msg.Height)
		m.input.Width = msg.Width - 6
		m.refreshContent()
		if m.engine.Scroll().PinnedToBottom {
			m.viewport.GotoBottom()
		}
		return m, nil

	case ServerFrameMsg:
		before := len(m.engine.Messages())
		m.engine.HandleFrame(msg.Frame)
		cmds := m.afterEngine()
		if after := m.engine.Messages(); len(after) > before && m.shouldNotifyForMessage(after[len(after)-1]) {
			cmds = append(cmds, m.sendDesktopNotification(after[len(after)-1]))
		}
		cmds = append(cmds, listenForServerFrames(m.conn))
		return m, tea.Batch(cmds...)

	case ErrorMsg:
		m.logf("Transport error: %v", msg.Err)
		return m, listenForServerFrames(m.conn)

	case ConnectedMsg:
		cmds := m.handleConnected()
		return m, tea.Batch(append(cmds, listenForServerFrames(m.conn))...)

	case DisconnectedMsg:
		m.connectionState = StateDisconnected
		reason := "connection closed"
		if msg.Err != nil {
			reason = msg.Err.Error()
		}
		m.logf("Disconnected: %s", reason)
		m.modalStack.Push(modal.NewConnectionFailedModal(m.conn.GetAddress(), reason))
		return m, listenForServerFrames(m.conn)

	case ReconnectingMsg:
		m.connectionState = StateReconnecting
		m.reconnectAttempt = msg.Attempt
		return m, listenForServerFrames(m.conn)

	case modal.ConnectionFailedRetryMsg:
		return m, m.reconnect()

	case ReconnectResultMsg:
		if msg.Err == nil || errors.Is(msg.Err, client.ErrAlreadyConnected) {
			return m, tea.Batch(m.handleConnected()...)
		}
		m.modalStack.Push(modal.NewConnectionFailedModal(m.conn.GetAddress(), msg.Err.Error()))
		return m, nil

	case TickMsg:
		m.engine.Tick(time.Time(msg))
		return m, tickCmd()

	case ConversationLoadedMsg:
		return m.handleConversationLoaded(msg)

	case RosterRefreshedMsg:
		if msg.ID != m.engine.ActiveConversation().ID {
			return m, nil
		}
		if msg.Err != nil {
			m.logf("Roster refresh for %s failed: %v", msg.ID, msg.Err)
			return m, nil
		}
		m.setConversation(msg.Conversation)
		m.engine.UpdateConversation(engine.ConversationFromPayload(msg.Conversation))
		return m, tea.Batch(m.afterEngine()...)

	case modal.ConfirmLeaveMsg:
		return m.leaveGroup(msg.ConversationID)

	case LeaveResultMsg:
		return m.handleLeaveResult(msg)

	case notificationSentMsg:
		if msg.Err != nil {
			m.logf("Failed to send desktop notification: %v", msg.Err)
		}
		return m, nil
	}

	return m, nil
}

func (m Model) handleKeyPress(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	key := msg.String()
	m.lastInteractionTime = m.now()

	if key == "ctrl+c" {
		return m, m.saveAndQuit()
	}

	if active := m.modalStack.Top(); active != nil {
		handled, next, cmd := active.HandleKey(msg)
		if next == nil {
			m.modalStack.Pop()
		} else if next.Type() != active.Type() {
			m.modalStack.Replace(next)
		}
		if handled || active.IsBlockingInput() {
			return m, cmd
		}
	}

	switch key {
	case "enter":
		return m.submitInput()
	case "pgup":
		return m.scrollBy(-m.viewport.Height)
	case "pgdown":
		return m.scrollBy(m.viewport.Height)
	case "up":
		return m.scrollBy(-1)
	case "down":
		return m.scrollBy(1)
	case "end":
		m.engine.JumpToLatest()
		return m, tea.Batch(m.afterEngine()...)
	case "ctrl+l":
		return m.confirmLeave()
	case "f1":
		m.modalStack.Push(modal.NewHelpModal(keyBindings))
		return m, nil
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m Model) submitInput() (tea.Model, tea.Cmd) {
	value := strings.TrimSpace(m.input.Value())
	if value == "" {
		return m, nil
	}
	if name, arg, ok := parseCommand(value); ok {
		m.input.Reset()
		return m.executeCommand(name, arg)
	}

	// Failures surface as notices; the text stays for editing when nothing
	// was appended.
	if id, _ := m.engine.Send(value); id != "" {
		m.input.Reset()
	}
	return m, tea.Batch(m.afterEngine()...)
}

func (m Model) scrollBy(rows int) (tea.Model, tea.Cmd) {
	m.viewport.SetYOffset(m.viewport.YOffset + rows)
	m.engine.ObserveViewport(m.distanceFromBottomPx())
	return m, tea.Batch(m.afterEngine()...)
}

func (m Model) confirmLeave() (tea.Model, tea.Cmd) {
	conv := m.engine.ActiveConversation()
	if conv.ID == "" {
		return m, nil
	}
	m.modalStack.Push(modal.NewConfirmLeaveModal(conv.ID, conv.GroupName))
	return m, nil
}

func (m Model) leaveGroup(conversationID string) (tea.Model, tea.Cmd) {
	if conversationID != m.engine.ActiveConversation().ID {
		return m, nil
	}
	conv, err := m.engine.BeginLeave()
	if err != nil {
		return m, tea.Batch(m.afterEngine()...)
	}
	return m, m.removeMember(conv.ID)
}

func (m Model) handleLeaveResult(msg LeaveResultMsg) (tea.Model, tea.Cmd) {
	wasActive := msg.ConversationID == m.engine.ActiveConversation().ID
	if err := m.engine.FinishLeave(msg.ConversationID, msg.Err); err == nil && wasActive {
		m.conversationID = ""
		m.conversation = nil
		m.usernames = make(map[string]string)
		if err := m.state.SetLastConversation(""); err != nil {
			m.logf("Failed to clear last conversation: %v", err)
		}
	}
	return m, tea.Batch(m.afterEngine()...)
}

func (m *Model) handleConnected() []tea.Cmd {
	m.connectionState = StateConnected
	m.reconnectAttempt = 0
	m.modalStack.RemoveByType(modal.ModalConnectionFailed)

	if !m.engine.Started() {
		if err := m.engine.Start(); err != nil {
			m.modalStack.Push(modal.NewErrorModal("Subscription failed", err.Error()))
		}
	}
	m.engine.Resync()

	if err := m.state.SaveSuccessfulConnection(m.conn.GetAddress()); err != nil {
		m.logf("Failed to record connection: %v", err)
	}

	cmds := m.afterEngine()
	if m.loadErr != nil && m.conversationID != "" {
		cmds = append(cmds, m.beginLoad(m.conversationID))
	}
	return cmds
}

func (m Model) handleConversationLoaded(msg ConversationLoadedMsg) (tea.Model, tea.Cmd) {
	if msg.ID != m.conversationID {
		m.logf("Discarding load for %s; %s is open", msg.ID, m.conversationID)
		return m, nil
	}
	m.loading = false
	if msg.Err != nil {
		m.loadErr = msg.Err
		m.modalStack.Push(modal.NewErrorModal("Could not open conversation", msg.Err.Error()))
		return m, nil
	}
	m.loadErr = nil
	m.setConversation(msg.Conversation)

	conv := engine.ConversationFromPayload(msg.Conversation)
	if m.engine.ActiveConversation().ID == conv.ID {
		m.engine.UpdateConversation(conv)
	} else {
		m.engine.SwitchConversation(conv)
	}

	history := make([]engine.Message, 0, len(msg.History))
	for i := range msg.History {
		history = append(history, engine.MessageFromEnvelope(&msg.History[i]))
	}
	m.engine.LoadHistory(conv.ID, history)

	if err := m.state.SetLastConversation(conv.ID); err != nil {
		m.logf("Failed to save last conversation: %v", err)
	}
	return m, tea.Batch(m.afterEngine()...)
}

// afterEngine applies hook callbacks collected during the last engine call.
func (m *Model) afterEngine() []tea.Cmd {
	ev := m.events.drain()

	m.refreshContent()
	if ev.scrollToLatest {
		m.viewport.GotoBottom()
	}

	for _, n := range ev.notices {
		m.modalStack.Push(modal.NewErrorModal(noticeTitle(n.Kind), noticeMessage(n)))
	}

	var cmds []tea.Cmd
	active := m.engine.ActiveConversation().ID
	seen := make(map[string]bool)
	for _, c := range ev.membership {
		if c.ConversationID != active || seen[c.ConversationID] {
			continue
		}
		seen[c.ConversationID] = true
		cmds = append(cmds, m.refreshRoster(c.ConversationID))
	}
	return cmds
}

func (m *Model) refreshContent() {
	m.viewport.SetContent(m.buildMessages())
}

func noticeTitle(kind engine.NoticeKind) string {
	switch kind {
	case engine.NoticeSendFailed:
		return "Message not sent"
	case engine.NoticeLeaveFailed:
		return "Could not leave group"
	case engine.NoticeSubscribeFailed:
		return "Subscription failed"
	case engine.NoticeJoinFailed:
		return "Could not join conversation"
	default:
		return "Error"
	}
}

func noticeMessage(n engine.Notice) string {
	if n.Err == nil {
		return n.Kind.String()
	}
	return n.Err.Error()
}

func chatHeight(total int) int {
	// header, status bar and a bordered input line
	h := total - 5
	if h < 3 {
		h = 3
	}
	return h
}
