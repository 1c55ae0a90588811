package ui

import (
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"

	"github.com/aeolun/convosync/pkg/engine"
)

func TestParseCommand(t *testing.T) {
	tests := []struct {
		input    string
		wantName string
		wantArg  string
		wantOK   bool
	}{
		{"/open g1", "open", "g1", true},
		{"/OPEN  g1 ", "open", "g1", true},
		{"/leave", "leave", "", true},
		{"hello", "", "", false},
		{"//not a command", "", "", false},
		{"/", "", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			name, arg, ok := parseCommand(tt.input)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.wantName, name)
			assert.Equal(t, tt.wantArg, arg)
		})
	}
}

func TestDayLabel(t *testing.T) {
	now := time.Date(2026, 3, 12, 15, 0, 0, 0, time.UTC)
	assert.Equal(t, "Today", dayLabel(truncateDay(now), now))
	assert.Equal(t, "Yesterday", dayLabel(truncateDay(now.AddDate(0, 0, -1)), now))
	assert.Equal(t, "Monday", dayLabel(truncateDay(now.AddDate(0, 0, -3)), now))
	assert.Contains(t, dayLabel(truncateDay(now.AddDate(0, 0, -30)), now), "Feb 10, 2026")
}

func TestReceipt(t *testing.T) {
	at := time.UnixMilli(1000)
	assert.Empty(t, receipt(engine.Message{}))
	assert.Contains(t, receipt(engine.Message{DeliveredAt: &at}), "✓")
	assert.Contains(t, receipt(engine.Message{States: engine.StateRead}), "✓✓")
}

func TestChatHeight(t *testing.T) {
	assert.Equal(t, 19, chatHeight(24))
	assert.Equal(t, 3, chatHeight(4))
}

func TestShouldNotifyForMessage(t *testing.T) {
	m, env := newTestModel(t)
	m = open(t, m, "g1")
	fromBob := engine.Message{ID: "srv-1", ConversationID: "g1", SenderID: "u-bob", Content: "hi"}

	assert.False(t, m.shouldNotifyForMessage(fromBob), "pinned and active")

	m.lastInteractionTime = testNow.Add(-idleNotifyAfter)
	assert.True(t, m.shouldNotifyForMessage(fromBob), "idle")
	assert.False(t, m.shouldNotifyForMessage(engine.Message{ID: "srv-2", SenderID: "u-local"}), "own message")
	assert.False(t, m.shouldNotifyForMessage(engine.Message{ID: "srv-3", SenderID: "system", Content: "x"}), "system message")

	m.lastInteractionTime = testNow
	env.eng.ObserveViewport(500)
	assert.True(t, m.shouldNotifyForMessage(fromBob), "scrolled away")

	m.notifications = false
	assert.False(t, m.shouldNotifyForMessage(fromBob))
}

func TestSendDesktopNotification(t *testing.T) {
	m, _ := newTestModel(t)
	m = open(t, m, "g1")

	var title, body string
	m.notifier = func(ti, b string) error {
		title, body = ti, b
		return nil
	}
	msg := engine.Message{ID: "srv-1", SenderID: "u-bob", Content: "hello there"}
	out := m.sendDesktopNotification(msg)()

	assert.Equal(t, notificationSentMsg{}, out)
	assert.Equal(t, "convosync - crew", title)
	assert.Equal(t, "bob: hello there", body)
}

func TestSendDesktopNotificationTruncatesOnRunes(t *testing.T) {
	m, _ := newTestModel(t)
	m = open(t, m, "g1")

	var body string
	m.notifier = func(_, b string) error {
		body = b
		return nil
	}
	content := strings.Repeat("é", 120)
	m.sendDesktopNotification(engine.Message{ID: "srv-1", SenderID: "u-bob", Content: content})()

	assert.True(t, utf8.ValidString(body))
	assert.Equal(t, "bob: "+strings.Repeat("é", 97)+"...", body)
}
