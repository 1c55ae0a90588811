package ui

import (
	"fmt"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/gen2brain/beeep"

	"github.com/aeolun/convosync/pkg/engine"
)

// Notifier shows a desktop notification.
type Notifier func(title, body string) error

// DesktopNotifier posts notifications through the OS notification service.
func DesktopNotifier(iconPath string) Notifier {
	return func(title, body string) error {
		return beeep.Notify(title, body, iconPath)
	}
}

// shouldNotifyForMessage reports whether an arrival deserves a desktop
// notification: someone else wrote it and the user is scrolled away or idle.
func (m Model) shouldNotifyForMessage(msg engine.Message) bool {
	if !m.notifications || m.notifier == nil {
		return false
	}
	if msg.IsTentative() || msg.IsSystem() || m.engine.Identity().Authored(msg) {
		return false
	}
	if !m.engine.Scroll().PinnedToBottom {
		return true
	}
	return m.now().Sub(m.lastInteractionTime) >= idleNotifyAfter
}

func (m Model) sendDesktopNotification(msg engine.Message) tea.Cmd {
	title := "convosync"
	if m.conversation != nil && m.conversation.GroupName != "" {
		title = fmt.Sprintf("convosync - %s", m.conversation.GroupName)
	}

	content := msg.Content
	if content == "" && msg.Image != "" {
		content = "sent an image"
	}
	if r := []rune(content); len(r) > 100 {
		content = string(r[:97]) + "..."
	}
	body := fmt.Sprintf("%s: %s", m.senderLabel(msg), content)

	notify := m.notifier
	return func() tea.Msg {
		return notificationSentMsg{Err: notify(title, body)}
	}
}
