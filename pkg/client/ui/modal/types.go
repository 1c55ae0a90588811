package modal

import (
	tea "github.com/charmbracelet/bubbletea"
)

// ModalType uniquely identifies each modal type
type ModalType int

const (
	ModalNone ModalType = iota // no modal active
	ModalError
	ModalConnectionFailed
	ModalConfirmLeave
	ModalHelp
)

func (m ModalType) String() string {
	switch m {
	case ModalNone:
		return "None"
	case ModalError:
		return "Error"
	case ModalConnectionFailed:
		return "ConnectionFailed"
	case ModalConfirmLeave:
		return "ConfirmLeave"
	case ModalHelp:
		return "Help"
	default:
		return "Unknown"
	}
}

// Modal is a dialog overlaid on the conversation view
type Modal interface {
	Type() ModalType

	// HandleKey processes keyboard input when this modal is active.
	// newModal is nil to close, the same modal to stay open, or a
	// replacement.
	HandleKey(msg tea.KeyMsg) (handled bool, newModal Modal, cmd tea.Cmd)

	Render(width, height int) string

	// IsBlockingInput reports whether unhandled keys are swallowed
	// instead of reaching the conversation view.
	IsBlockingInput() bool
}

// ModalStack holds the active modals, topmost last
type ModalStack struct {
	stack []Modal
}

// Push adds m on top, replacing any modal of the same type
func (ms *ModalStack) Push(m Modal) {
	ms.RemoveByType(m.Type())
	ms.stack = append(ms.stack, m)
}

// Pop removes and returns the top modal, or nil
func (ms *ModalStack) Pop() Modal {
	if len(ms.stack) == 0 {
		return nil
	}
	m := ms.stack[len(ms.stack)-1]
	ms.stack = ms.stack[:len(ms.stack)-1]
	return m
}

// Top returns the active modal without removing it
func (ms *ModalStack) Top() Modal {
	if len(ms.stack) == 0 {
		return nil
	}
	return ms.stack[len(ms.stack)-1]
}

// TopType returns the type of the active modal, or ModalNone
func (ms *ModalStack) TopType() ModalType {
	if m := ms.Top(); m != nil {
		return m.Type()
	}
	return ModalNone
}

// Replace swaps the top modal for next; a nil next just pops.
func (ms *ModalStack) Replace(next Modal) {
	ms.Pop()
	if next != nil {
		ms.Push(next)
	}
}

func (ms *ModalStack) RemoveByType(t ModalType) {
	kept := ms.stack[:0]
	for _, m := range ms.stack {
		if m.Type() != t {
			kept = append(kept, m)
		}
	}
	ms.stack = kept
}

func (ms *ModalStack) IsEmpty() bool { return len(ms.stack) == 0 }

func (ms *ModalStack) Size() int { return len(ms.stack) }
