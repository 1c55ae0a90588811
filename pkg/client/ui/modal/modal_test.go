package modal

import (
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestModalStack(t *testing.T) {
	var ms ModalStack
	assert.True(t, ms.IsEmpty())
	assert.Equal(t, ModalNone, ms.TopType())
	assert.Nil(t, ms.Pop())

	ms.Push(NewErrorModal("a", "first"))
	ms.Push(NewConfirmLeaveModal("g1", "crew"))
	ms.Push(NewErrorModal("b", "second"))
	assert.Equal(t, 2, ms.Size(), "same type replaces")
	assert.Equal(t, ModalError, ms.TopType())

	top, ok := ms.Top().(*ErrorModal)
	require.True(t, ok)
	assert.Equal(t, "second", top.Message())

	ms.Replace(NewHelpModal(nil))
	assert.Equal(t, ModalHelp, ms.TopType())
	ms.RemoveByType(ModalConfirmLeave)
	assert.Equal(t, 1, ms.Size())

	ms.Replace(nil)
	assert.True(t, ms.IsEmpty())
}

func TestConnectionFailedModalKeys(t *testing.T) {
	m := NewConnectionFailedModal("ws://localhost", "eof")

	handled, next, cmd := m.HandleKey(tea.KeyMsg{Type: tea.KeyEnter})
	assert.True(t, handled)
	assert.Nil(t, next)
	require.NotNil(t, cmd)
	assert.Equal(t, ConnectionFailedRetryMsg{}, cmd())

	m = NewConnectionFailedModal("ws://localhost", "eof")
	_, next, _ = m.HandleKey(tea.KeyMsg{Type: tea.KeyDown})
	assert.Same(t, m, next)
	_, _, cmd = m.HandleKey(tea.KeyMsg{Type: tea.KeyEnter})
	require.NotNil(t, cmd)
	assert.IsType(t, tea.QuitMsg{}, cmd())

	_, next, cmd = m.HandleKey(tea.KeyMsg{Type: tea.KeyEsc})
	assert.Nil(t, next)
	assert.Nil(t, cmd)
}

func TestModalTypeString(t *testing.T) {
	assert.Equal(t, "ConfirmLeave", ModalConfirmLeave.String())
	assert.Equal(t, "Unknown", ModalType(99).String())
}

func TestRenderFitsSmallTerminals(t *testing.T) {
	for _, m := range []Modal{
		NewErrorModal("Oops", "something failed"),
		NewConnectionFailedModal("ws://localhost", "eof"),
		NewConfirmLeaveModal("g1", ""),
		NewHelpModal([][2]string{{"Enter", "Send"}}),
	} {
		assert.NotEmpty(t, m.Render(20, 10), m.Type().String())
		assert.True(t, m.IsBlockingInput())
	}
}
