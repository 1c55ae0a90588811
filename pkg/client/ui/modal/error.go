package modal

import (
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// ErrorModal displays a failure that must be acknowledged
type ErrorModal struct {
	title   string
	message string
}

func NewErrorModal(title, message string) *ErrorModal {
	return &ErrorModal{title: title, message: message}
}

func (m *ErrorModal) Type() ModalType {
	return ModalError
}

// HandleKey closes on Enter, Esc or Space and swallows everything else
func (m *ErrorModal) HandleKey(msg tea.KeyMsg) (bool, Modal, tea.Cmd) {
	switch msg.String() {
	case "enter", "esc", " ":
		return true, nil, nil
	}
	return true, m, nil
}

func (m *ErrorModal) Message() string { return m.message }

func (m *ErrorModal) Render(width, height int) string {
	errorColor := lipgloss.Color("#FF5555")

	titleStyle := lipgloss.NewStyle().
		Bold(true).
		Foreground(errorColor).
		Align(lipgloss.Center)
	messageStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("252"))
	hintStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("240")).Italic(true)

	content := titleStyle.Render(m.title) + "\n\n" +
		messageStyle.Render(m.message) + "\n\n" +
		hintStyle.Render("Press Enter or Esc to dismiss")

	return box(width, height, errorColor, content)
}

func (m *ErrorModal) IsBlockingInput() bool {
	return true
}

// box renders content in a rounded border centred in the terminal
func box(width, height int, border lipgloss.Color, content string) string {
	modalWidth := 50
	if width < modalWidth+4 {
		modalWidth = width - 4
	}
	if modalWidth < 10 {
		modalWidth = 10
	}
	b := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(border).
		Padding(1, 2).
		Width(modalWidth - 4).
		Render(content)
	return lipgloss.Place(width, height, lipgloss.Center, lipgloss.Center, b)
}
