package modal

import (
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// HelpModal lists the key bindings
type HelpModal struct {
	bindings [][2]string
}

func NewHelpModal(bindings [][2]string) *HelpModal {
	return &HelpModal{bindings: bindings}
}

func (m *HelpModal) Type() ModalType {
	return ModalHelp
}

func (m *HelpModal) HandleKey(msg tea.KeyMsg) (bool, Modal, tea.Cmd) {
	switch msg.String() {
	case "esc", "enter", "?", "q":
		return true, nil, nil
	}
	return true, m, nil
}

func (m *HelpModal) Render(width, height int) string {
	accent := lipgloss.Color("205")
	keyStyle := lipgloss.NewStyle().Foreground(accent).Bold(true).Width(12)

	var b strings.Builder
	b.WriteString(lipgloss.NewStyle().Bold(true).Render("Keys") + "\n\n")
	for _, kb := range m.bindings {
		b.WriteString(keyStyle.Render(kb[0]) + kb[1] + "\n")
	}
	return box(width, height, accent, strings.TrimRight(b.String(), "\n"))
}

func (m *HelpModal) IsBlockingInput() bool {
	return true
}
