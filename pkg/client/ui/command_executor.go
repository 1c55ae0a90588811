package ui

import (
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/aeolun/convosync/pkg/client/ui/modal"
)

// keyBindings is shown by the help modal
var keyBindings = [][2]string{
	{"Enter", "Send message or run /command"},
	{"PgUp/PgDn", "Scroll a page"},
	{"↑/↓", "Scroll a line"},
	{"End", "Jump to latest"},
	{"Ctrl+L", "Leave group"},
	{"F1", "This help"},
	{"Ctrl+C", "Quit"},
	{"/open ID", "Open a conversation"},
	{"/leave", "Leave group"},
	{"/latest", "Jump to latest"},
	{"/quit", "Quit"},
}

// parseCommand splits "/name args" input. Text starting with "//" is an
// escaped message, not a command.
func parseCommand(input string) (name, arg string, ok bool) {
	if !strings.HasPrefix(input, "/") || strings.HasPrefix(input, "//") {
		return "", "", false
	}
	fields := strings.SplitN(strings.TrimPrefix(input, "/"), " ", 2)
	name = strings.ToLower(fields[0])
	if name == "" {
		return "", "", false
	}
	if len(fields) == 2 {
		arg = strings.TrimSpace(fields[1])
	}
	return name, arg, true
}

func (m Model) executeCommand(name, arg string) (tea.Model, tea.Cmd) {
	switch name {
	case "open", "join":
		if arg == "" {
			m.modalStack.Push(modal.NewErrorModal("Missing conversation", "Usage: /open <conversation-id>"))
			return m, nil
		}
		load := m.beginLoad(arg)
		return m, tea.Batch(append(m.afterEngine(), load)...)

	case "leave":
		return m.confirmLeave()

	case "latest":
		m.engine.JumpToLatest()
		return m, tea.Batch(m.afterEngine()...)

	case "help":
		m.modalStack.Push(modal.NewHelpModal(keyBindings))
		return m, nil

	case "quit", "exit":
		return m, m.saveAndQuit()
	}

	m.modalStack.Push(modal.NewErrorModal("Unknown command", fmt.Sprintf("/%s is not a command. Press F1 for help.", name)))
	return m, nil
}
