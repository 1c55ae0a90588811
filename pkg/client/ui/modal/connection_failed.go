package modal

import (
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// ConnectionFailedRetryMsg is sent when the user asks to reconnect
type ConnectionFailedRetryMsg struct{}

// ConnectionFailedModal reports a lost broker session with retry/quit options
type ConnectionFailedModal struct {
	serverAddr string
	reason     string
	cursor     int // 0 = Retry, 1 = Quit
}

func NewConnectionFailedModal(serverAddr, reason string) *ConnectionFailedModal {
	return &ConnectionFailedModal{serverAddr: serverAddr, reason: reason}
}

func (m *ConnectionFailedModal) Type() ModalType {
	return ModalConnectionFailed
}

func retry() tea.Msg { return ConnectionFailedRetryMsg{} }

func (m *ConnectionFailedModal) HandleKey(msg tea.KeyMsg) (bool, Modal, tea.Cmd) {
	switch msg.String() {
	case "up", "k":
		m.cursor = 0
		return true, m, nil
	case "down", "j":
		m.cursor = 1
		return true, m, nil
	case "r":
		return true, nil, retry
	case "q":
		return true, nil, tea.Quit
	case "esc":
		// Keep reading the conversation; auto-reconnect continues
		return true, nil, nil
	case "enter":
		if m.cursor == 0 {
			return true, nil, retry
		}
		return true, nil, tea.Quit
	}
	return true, m, nil
}

func (m *ConnectionFailedModal) Render(width, height int) string {
	primary := lipgloss.Color("#FF6B6B")

	title := lipgloss.NewStyle().Bold(true).Foreground(primary)
	server := lipgloss.NewStyle().Foreground(lipgloss.Color("240")).Italic(true)
	reason := lipgloss.NewStyle().Foreground(primary)
	option := lipgloss.NewStyle().Foreground(lipgloss.Color("252"))
	selected := lipgloss.NewStyle().Foreground(primary).Bold(true)
	hint := lipgloss.NewStyle().Foreground(lipgloss.Color("240"))

	content := title.Render("⚠ Connection Lost") + "\n\n" +
		server.Render("Server: "+m.serverAddr) + "\n" +
		reason.Render("Reason: "+m.reason) + "\n\n"

	labels := []string{"Retry now", "Quit"}
	keys := []string{"[R]", "[Q]"}
	for i, l := range labels {
		if i == m.cursor {
			content += selected.Render("→ "+l) + " " + hint.Render(keys[i]) + "\n"
		} else {
			content += option.Render("  "+l) + " " + hint.Render(keys[i]) + "\n"
		}
	}
	content += "\n" + hint.Render("[↑/↓] Navigate  [Enter] Select  [Esc] Dismiss")

	return box(width, height, primary, content)
}

func (m *ConnectionFailedModal) IsBlockingInput() bool {
	return true
}
