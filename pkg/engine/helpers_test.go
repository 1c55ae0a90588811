package engine

import (
	"context"
	"io"
	"log"
	"time"

	"github.com/aeolun/convosync/pkg/protocol"
)

var testIdentity = Identity{UserID: "u-local", Username: "alice"}

type publishedFrame struct {
	dest string
	body string
}

// stubTransport implements Transport for package-internal tests.
type stubTransport struct {
	connected    bool
	subscribeErr error
	publishErr   error

	subscriptions []string
	unsubscribed  []string
	published     []publishedFrame
	incoming      chan *protocol.Frame
}

func newStubTransport() *stubTransport {
	return &stubTransport{connected: true, incoming: make(chan *protocol.Frame, 16)}
}

func (s *stubTransport) Subscribe(dest string) error {
	if s.subscribeErr != nil {
		return s.subscribeErr
	}
	s.subscriptions = append(s.subscriptions, dest)
	return nil
}

func (s *stubTransport) Unsubscribe(dest string) error {
	s.unsubscribed = append(s.unsubscribed, dest)
	return nil
}

func (s *stubTransport) Publish(dest string, body []byte) error {
	if s.publishErr != nil {
		return s.publishErr
	}
	s.published = append(s.published, publishedFrame{dest: dest, body: string(body)})
	return nil
}

func (s *stubTransport) IsConnected() bool { return s.connected }

func (s *stubTransport) Incoming() <-chan *protocol.Frame { return s.incoming }

func (s *stubTransport) publishedTo(dest string) []string {
	var out []string
	for _, p := range s.published {
		if p.dest == dest {
			out = append(out, p.body)
		}
	}
	return out
}

// stubDirectory records invalidation signals.
type stubDirectory struct {
	invalidated     []string
	listInvalidated int
	removeErr       error
	removedFrom     []string
}

func (d *stubDirectory) Invalidate(conversationID string) {
	d.invalidated = append(d.invalidated, conversationID)
}

func (d *stubDirectory) InvalidateList() { d.listInvalidated++ }

func (d *stubDirectory) RemoveMember(ctx context.Context, conversationID, userID string) error {
	if d.removeErr != nil {
		return d.removeErr
	}
	d.removedFrom = append(d.removedFrom, conversationID+"/"+userID)
	return nil
}

// fixedClock returns a controllable Now.
type fixedClock struct{ t time.Time }

func (c *fixedClock) Now() time.Time { return c.t }

func (c *fixedClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestEngine(tr *stubTransport, dir *stubDirectory, clock *fixedClock) *Engine {
	opts := Options{Logger: log.New(io.Discard, "", 0)}
	if clock != nil {
		opts.Now = clock.Now
	}
	var d Directory
	if dir != nil {
		d = dir
	}
	return New(tr, d, testIdentity, opts)
}

func at(ms int64) time.Time { return time.UnixMilli(ms) }

func confirmed(id, convID, senderID, content string, ms int64) Message {
	return Message{ID: id, ConversationID: convID, SenderID: senderID, Content: content, SentAt: at(ms)}
}

func tentativeMsg(id, convID, content string, ms int64) Message {
	return Message{
		ID:             TentativePrefix + id,
		ConversationID: convID,
		SenderID:       testIdentity.UserID,
		SenderUsername: testIdentity.Username,
		Content:        content,
		SentAt:         at(ms),
	}
}

func messageIDs(msgs []Message) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = m.ID
	}
	return out
}
