// Package botlib runs headless bots on top of a sync engine: it opens one
// conversation, drives the engine loop and hands every new message from
// someone else to a handler that can reply.
package botlib

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/aeolun/convosync/pkg/client"
	"github.com/aeolun/convosync/pkg/engine"
)

var ErrNoConversation = errors.New("no conversation configured")

// MessageHandler is called for each new message from another participant.
type MessageHandler func(ctx *Context, msg engine.Message)

// Config holds the bot configuration.
type Config struct {
	// ConversationID is the conversation to join and monitor
	ConversationID string

	// Logger for debug output (optional, defaults to stdout)
	Logger *log.Logger

	// RequestTimeout bounds directory lookups (default: 10s)
	RequestTimeout time.Duration
}

// Bot answers messages in one conversation.
type Bot struct {
	config    Config
	engine    *engine.Engine
	conn      client.ConnectionInterface
	directory client.DirectoryInterface
	logger    *log.Logger
	runCtx    context.Context

	onMessage MessageHandler

	seen        map[string]bool
	outbox      []string
	dispatching bool
	prepared    bool
}

// New creates a bot over an engine bound to conn and directory.
func New(eng *engine.Engine, conn client.ConnectionInterface, directory client.DirectoryInterface, config Config) *Bot {
	if config.Logger == nil {
		config.Logger = log.New(os.Stdout, "[bot] ", log.LstdFlags)
	}
	if config.RequestTimeout == 0 {
		config.RequestTimeout = 10 * time.Second
	}
	b := &Bot{
		config:    config,
		engine:    eng,
		conn:      conn,
		directory: directory,
		logger:    config.Logger,
		seen:      make(map[string]bool),
	}
	eng.OnChange(b.dispatch)
	eng.OnMembershipChange(b.refreshRoster)
	eng.OnNotice(func(n engine.Notice) { b.logger.Printf("Notice: %v", n) })
	return b
}

// OnMessage registers the handler for new messages.
func (b *Bot) OnMessage(handler MessageHandler) {
	b.onMessage = handler
}

// Prepare subscribes the private queues and opens the conversation. Existing
// history is marked as seen so handlers only see new traffic. It must be
// called before Run, or is called by Run.
func (b *Bot) Prepare(ctx context.Context) error {
	if b.config.ConversationID == "" {
		return ErrNoConversation
	}
	if !b.engine.Started() {
		if err := b.engine.Start(); err != nil {
			return fmt.Errorf("start engine: %w", err)
		}
	}

	ctx, cancel := context.WithTimeout(ctx, b.config.RequestTimeout)
	defer cancel()

	id := b.config.ConversationID
	conv, err := b.directory.Conversation(ctx, id)
	if err != nil {
		return fmt.Errorf("load conversation: %w", err)
	}
	history, err := b.directory.Messages(ctx, id)
	if err != nil {
		return fmt.Errorf("load history: %w", err)
	}

	msgs := make([]engine.Message, 0, len(history))
	for i := range history {
		m := engine.MessageFromEnvelope(&history[i])
		b.seen[seenKey(m)] = true
		msgs = append(msgs, m)
	}
	b.engine.SwitchConversation(engine.ConversationFromPayload(conv))
	b.engine.LoadHistory(id, msgs)

	b.prepared = true
	b.logger.Printf("Watching conversation %s (%d messages of history)", id, len(history))
	return nil
}

// Run processes traffic until ctx is done.
func (b *Bot) Run(ctx context.Context) error {
	if !b.prepared {
		if err := b.Prepare(ctx); err != nil {
			return err
		}
	}
	b.runCtx = ctx
	go b.watchConnection(ctx)

	b.logger.Printf("Bot is running. Press Ctrl+C to stop.")
	err := b.engine.Run(ctx)
	if errors.Is(err, context.Canceled) {
		b.logger.Printf("Stop requested")
		return nil
	}
	return err
}

// watchConnection re-announces the conversation on the engine loop after
// every reconnect. Subscriptions are replayed by the connection itself.
func (b *Bot) watchConnection(ctx context.Context) {
	states := b.conn.StateChanges()
	for {
		select {
		case <-ctx.Done():
			return
		case update, ok := <-states:
			if !ok {
				return
			}
			switch update.State {
			case client.StateTypeConnected:
				b.logger.Printf("Reconnected after %d attempt(s), resyncing", update.Attempt)
				if err := b.engine.Do(ctx, b.engine.Resync); err != nil {
					return
				}
			case client.StateTypeDisconnected:
				b.logger.Printf("Disconnected: %v", update.Err)
			}
		}
	}
}

// dispatch hands unseen confirmed messages to the handler and then sends
// queued replies. Sending re-enters through OnChange; the nested call is a
// no-op.
func (b *Bot) dispatch() {
	if b.dispatching {
		return
	}
	b.dispatching = true
	defer func() { b.dispatching = false }()

	self := b.engine.Identity()
	for _, m := range b.engine.Messages() {
		key := seenKey(m)
		if m.IsTentative() || b.seen[key] {
			continue
		}
		b.seen[key] = true
		if m.IsSystem() || self.Authored(m) || b.onMessage == nil {
			continue
		}
		b.onMessage(&Context{bot: b, message: m}, m)
	}

	outbox := b.outbox
	b.outbox = nil
	for _, content := range outbox {
		if _, err := b.engine.Send(content); err != nil {
			b.logger.Printf("Reply failed: %v", err)
		}
	}
}

// refreshRoster refetches the roster after someone joins or leaves. The
// fetch runs off the engine loop; the result is applied back on it.
func (b *Bot) refreshRoster(change engine.MembershipChange) {
	ctx := b.runCtx
	if ctx == nil {
		ctx = context.Background()
	}
	id := change.ConversationID
	go func() {
		fetchCtx, cancel := context.WithTimeout(ctx, b.config.RequestTimeout)
		defer cancel()
		conv, err := b.directory.Conversation(fetchCtx, id)
		if err != nil {
			b.logger.Printf("Roster refresh for %s failed: %v", id, err)
			return
		}
		roster := engine.ConversationFromPayload(conv)
		if err := b.engine.Do(ctx, func() { b.engine.UpdateConversation(roster) }); err != nil {
			b.logger.Printf("Roster refresh for %s dropped: %v", id, err)
		}
	}()
}

// seenKey identifies a message for dispatch. Messages without a server id
// fall back to sender, send time and content.
func seenKey(m engine.Message) string {
	if m.ID != "" {
		return m.ID
	}
	return fmt.Sprintf("%s|%d|%s", m.SenderID, m.SentAt.UnixMilli(), m.Content)
}
