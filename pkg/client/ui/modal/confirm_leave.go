package modal

import (
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// ConfirmLeaveMsg is sent when the user confirms leaving the group
type ConfirmLeaveMsg struct {
	ConversationID string
}

// ConfirmLeaveModal asks before removing the user from a group
type ConfirmLeaveModal struct {
	conversationID string
	groupName      string
}

func NewConfirmLeaveModal(conversationID, groupName string) *ConfirmLeaveModal {
	return &ConfirmLeaveModal{conversationID: conversationID, groupName: groupName}
}

func (m *ConfirmLeaveModal) Type() ModalType {
	return ModalConfirmLeave
}

func (m *ConfirmLeaveModal) HandleKey(msg tea.KeyMsg) (bool, Modal, tea.Cmd) {
	switch msg.String() {
	case "y", "Y", "enter":
		id := m.conversationID
		return true, nil, func() tea.Msg { return ConfirmLeaveMsg{ConversationID: id} }
	case "n", "N", "esc":
		return true, nil, nil
	}
	return true, m, nil
}

func (m *ConfirmLeaveModal) Render(width, height int) string {
	warn := lipgloss.Color("#FFAA00")
	name := m.groupName
	if name == "" {
		name = m.conversationID
	}
	content := lipgloss.NewStyle().Bold(true).Foreground(warn).Render("Leave group?") + "\n\n" +
		"You will stop receiving messages from " + lipgloss.NewStyle().Bold(true).Render(name) + ".\n\n" +
		lipgloss.NewStyle().Foreground(lipgloss.Color("240")).Render("[Y] Leave  [N] Cancel")
	return box(width, height, warn, content)
}

func (m *ConfirmLeaveModal) IsBlockingInput() bool {
	return true
}
