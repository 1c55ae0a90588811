package ui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"

	"github.com/aeolun/convosync/pkg/engine"
)

// View renders the current view
func (m Model) View() string {
	if m.width == 0 || m.height == 0 {
		return "Loading..."
	}

	if top := m.modalStack.Top(); top != nil {
		return top.Render(m.width, m.height)
	}

	return lipgloss.JoinVertical(lipgloss.Left,
		m.renderHeader(),
		m.viewport.View(),
		m.renderStatusBar(),
		InputBorderStyle.Width(m.width-2).Render(m.input.View()),
	)
}

func (m Model) renderHeader() string {
	conv := m.engine.ActiveConversation()
	title := "convosync"
	switch {
	case m.loading:
		title += " · loading " + m.conversationID + "..."
	case conv.ID == "":
		title += " · no conversation (/open ID)"
	case conv.IsGroup && conv.GroupName != "":
		title += " · " + conv.GroupName
	default:
		title += " · " + m.conversationTitle(conv)
	}
	header := HeaderStyle.Render(title)

	if roster := m.renderRoster(conv); roster != "" {
		gap := m.width - lipgloss.Width(header) - lipgloss.Width(roster)
		if gap < 1 {
			gap = 1
		}
		header += strings.Repeat(" ", gap) + roster
	}
	return header
}

// conversationTitle names a conversation by its other participants.
func (m Model) conversationTitle(conv engine.Conversation) string {
	self := m.engine.Identity().UserID
	var names []string
	for _, id := range conv.ParticipantIDs {
		if id != self {
			names = append(names, m.displayName(id))
		}
	}
	if len(names) == 0 {
		return conv.ID
	}
	return strings.Join(names, ", ")
}

// renderRoster marks online participants. Direct conversations only show
// whether the other side is online.
func (m Model) renderRoster(conv engine.Conversation) string {
	if conv.ID == "" {
		return ""
	}
	self := m.engine.Identity().UserID
	var parts []string
	for _, id := range conv.ParticipantIDs {
		if id == self {
			continue
		}
		if m.engine.IsOnline(id) {
			parts = append(parts, OnlineStyle.Render("● "+m.displayName(id)))
		} else if conv.IsGroup {
			parts = append(parts, OfflineStyle.Render("○ "+m.displayName(id)))
		}
	}
	return strings.Join(parts, " ")
}

func (m Model) renderStatusBar() string {
	var parts []string
	switch m.connectionState {
	case StateConnected:
		parts = append(parts, lipgloss.NewStyle().Foreground(SuccessColor).Render("connected"))
	case StateReconnecting:
		parts = append(parts, lipgloss.NewStyle().Foreground(WarningColor).Render(fmt.Sprintf("reconnecting (attempt %d)", m.reconnectAttempt)))
	default:
		parts = append(parts, lipgloss.NewStyle().Foreground(ErrorColor).Render("disconnected"))
	}

	if online := len(m.engine.Online()); m.engine.ActiveConversation().IsGroup {
		parts = append(parts, fmt.Sprintf("%d online", online))
	}

	msgs := m.engine.Messages()
	if len(msgs) > 0 {
		parts = append(parts, "last message "+humanize.RelTime(msgs[len(msgs)-1].SentAt, m.now(), "ago", "from now"))
	}

	bar := StatusBarStyle.Render(strings.Join(parts, " · "))
	if label := m.engine.UnreadLabel(); label != "" {
		bar += " " + UnreadBadgeStyle.Render(label+" new ↓ End")
	}
	return bar
}

// buildMessages renders the visible message list for the viewport.
func (m Model) buildMessages() string {
	msgs := m.engine.Messages()
	if len(msgs) == 0 {
		return MessageTimeStyle.Render("No messages yet.")
	}

	var b strings.Builder
	var lastDay time.Time
	for i, msg := range msgs {
		day := truncateDay(msg.SentAt)
		if i == 0 || !day.Equal(lastDay) {
			b.WriteString(MessageTimeStyle.Render("── "+dayLabel(day, m.now())+" ──") + "\n")
			lastDay = day
		}
		b.WriteString(m.renderMessage(msg))
		if i < len(msgs)-1 {
			b.WriteString("\n")
		}
	}
	return b.String()
}

func (m Model) renderMessage(msg engine.Message) string {
	ts := MessageTimeStyle.Render(msg.SentAt.Format("15:04"))
	content := msg.Content
	if url, ok := msg.ImageURL(); ok {
		if content != "" {
			content += " "
		}
		content += "[image] " + url
	}
	if msg.States.Has(engine.StateDeleted) {
		content = "message deleted"
	} else if msg.States.Has(engine.StateEdited) {
		content += " (edited)"
	}

	if msg.IsSystem() {
		return ts + " " + SystemMessageStyle.Render(content)
	}
	if msg.IsTentative() {
		return ts + " " + MessageOwnAuthorStyle.Render(m.senderLabel(msg)) + " " + MessagePendingStyle.Render(content+" (sending)")
	}

	author := MessageAuthorStyle
	if m.engine.Identity().Authored(msg) {
		author = MessageOwnAuthorStyle
	}
	return ts + " " + author.Render(m.senderLabel(msg)) + " " + MessageContentStyle.Render(content) + receipt(msg)
}

func (m Model) senderLabel(msg engine.Message) string {
	if m.engine.Identity().Authored(msg) {
		return m.engine.Identity().Username
	}
	switch {
	case msg.SenderName != "":
		return msg.SenderName
	case msg.SenderUsername != "":
		return msg.SenderUsername
	default:
		return m.displayName(msg.SenderID)
	}
}

// receipt marks delivery state on confirmed messages.
func receipt(msg engine.Message) string {
	switch {
	case msg.ReadAt != nil || msg.States.Has(engine.StateRead):
		return MessageTimeStyle.Render(" ✓✓")
	case msg.DeliveredAt != nil || msg.States.Has(engine.StateDelivered):
		return MessageTimeStyle.Render(" ✓")
	}
	return ""
}

func truncateDay(t time.Time) time.Time {
	y, mo, d := t.Date()
	return time.Date(y, mo, d, 0, 0, 0, 0, t.Location())
}

func dayLabel(day, now time.Time) string {
	today := truncateDay(now)
	switch {
	case day.Equal(today):
		return "Today"
	case day.Equal(today.AddDate(0, 0, -1)):
		return "Yesterday"
	case now.Sub(day) < 7*24*time.Hour:
		return day.Format("Monday")
	default:
		return day.Format("Jan 2, 2006") + " (" + humanize.Time(day) + ")"
	}
}
