// Package engine keeps one conversation's view in sync with a STOMP message
// stream: it classifies inbound frames, merges optimistic sends with their
// server confirmations, tracks presence and counts unread messages relative
// to the viewport.
//
// An Engine is not safe for concurrent use. Every method must be called from
// a single goroutine, either the host's own event loop or Run.
package engine

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/aeolun/convosync/pkg/protocol"
)

const (
	// DefaultPresenceRefresh is how often a group's online roster is
	// re-requested while the conversation stays open.
	DefaultPresenceRefresh = 30 * time.Second

	// DefaultHousekeepingInterval is the Run loop's tick.
	DefaultHousekeepingInterval = 5 * time.Second

	// minLeaveGroupSize is the smallest roster a member may still leave.
	minLeaveGroupSize = 4
)

// Options tunes an Engine. Zero values take defaults.
type Options struct {
	MatchWindow          time.Duration
	PinnedThreshold      float64
	PresenceRefresh      time.Duration
	HousekeepingInterval time.Duration
	Logger               *log.Logger
	Metrics              *Metrics
	Now                  func() time.Time
}

func (o *Options) applyDefaults() {
	if o.MatchWindow <= 0 {
		o.MatchWindow = DefaultMatchWindow
	}
	if o.PinnedThreshold <= 0 {
		o.PinnedThreshold = DefaultPinnedThreshold
	}
	if o.PresenceRefresh <= 0 {
		o.PresenceRefresh = DefaultPresenceRefresh
	}
	if o.HousekeepingInterval <= 0 {
		o.HousekeepingInterval = DefaultHousekeepingInterval
	}
	if o.Now == nil {
		o.Now = time.Now
	}
}

// Engine is a sync session for one user.
type Engine struct {
	transport Transport
	directory Directory
	identity  Identity
	opts      Options
	logger    *log.Logger
	metrics   *Metrics

	active     Conversation
	groupTopic string
	lastRoster time.Time
	started    bool

	reconciler *Reconciler
	presence   *Presence
	scroll     *ScrollTracker
	sender     *SendCoordinator

	actions chan func()

	noticeHandlers     []func(Notice)
	scrollHandlers     []func()
	changeHandlers     []func()
	membershipHandlers []func(MembershipChange)
}

// New creates an engine with no active conversation. directory may be nil
// for hosts that keep no metadata cache.
func New(transport Transport, directory Directory, identity Identity, opts Options) *Engine {
	opts.applyDefaults()
	e := &Engine{
		transport: transport,
		directory: directory,
		identity:  identity,
		opts:      opts,
		logger:    opts.Logger,
		metrics:   opts.Metrics,
		presence:  NewPresence(),
		actions:   make(chan func(), 64),
	}
	e.reconciler = NewReconciler(identity, opts.MatchWindow, e.messageAppended)
	e.scroll = NewScrollTracker(opts.PinnedThreshold, e.requestScroll)
	e.sender = NewSendCoordinator(transport, e.reconciler, identity)
	e.sender.now = opts.Now
	return e
}

// SetLogger sets a logger for engine events
func (e *Engine) SetLogger(logger *log.Logger) {
	e.logger = logger
}

// logf logs a message if a logger is set
func (e *Engine) logf(format string, args ...interface{}) {
	if e.logger != nil {
		e.logger.Printf(format, args...)
	}
}

// OnNotice registers a handler for user-visible failures.
func (e *Engine) OnNotice(fn func(Notice)) {
	e.noticeHandlers = append(e.noticeHandlers, fn)
}

// OnScrollToLatest registers a handler called when the view should scroll to
// the newest message.
func (e *Engine) OnScrollToLatest(fn func()) {
	e.scrollHandlers = append(e.scrollHandlers, fn)
}

// OnChange registers a handler called after any visible state changes.
func (e *Engine) OnChange(fn func()) {
	e.changeHandlers = append(e.changeHandlers, fn)
}

// OnMembershipChange registers a handler for join/leave events on the
// active conversation, typically used to refetch the roster.
func (e *Engine) OnMembershipChange(fn func(MembershipChange)) {
	e.membershipHandlers = append(e.membershipHandlers, fn)
}

func (e *Engine) notify(n Notice) {
	e.logf("Notice: %v", n)
	for _, fn := range e.noticeHandlers {
		fn(n)
	}
}

func (e *Engine) requestScroll() {
	for _, fn := range e.scrollHandlers {
		fn()
	}
}

func (e *Engine) changed() {
	e.metrics.SetUnread(e.scroll.Unread())
	for _, fn := range e.changeHandlers {
		fn()
	}
}

// messageAppended is the reconciler's hook into the scroll tracker.
func (e *Engine) messageAppended(m Message, authoredByLocal bool) {
	e.scroll.OnMessageAppended(authoredByLocal || m.IsSystem())
	if e.scroll.Pinned() {
		e.requestScroll()
	}
}

// Start subscribes the user's private queues.
func (e *Engine) Start() error {
	if !e.transport.IsConnected() {
		return ErrNotConnected
	}
	for _, dest := range []string{
		protocol.UserQueue(e.identity.Username),
		protocol.PrivateMessagesQueue(e.identity.Username),
	} {
		if err := e.transport.Subscribe(dest); err != nil {
			return fmt.Errorf("subscribe %s: %w", dest, err)
		}
	}
	e.started = true
	e.logf("Engine started for %s", e.identity.Username)
	return nil
}

// SwitchConversation makes conv active, discarding all state for the
// previous one. An empty id leaves no conversation active.
func (e *Engine) SwitchConversation(conv Conversation) {
	e.reconciler.Reset()
	e.presence.Reset()
	e.scroll.Reset()
	e.lastRoster = time.Time{}

	if e.groupTopic != "" {
		if err := e.transport.Unsubscribe(e.groupTopic); err != nil {
			e.logf("Unsubscribe %s failed: %v", e.groupTopic, err)
		}
		e.groupTopic = ""
	}

	e.active = conv
	e.presence.SetRoster(conv.ParticipantIDs)
	if conv.ID != "" {
		e.logf("Switched to conversation %s (group=%v)", conv.ID, conv.IsGroup)
		e.announce()
	}
	e.changed()
}

// UpdateConversation refreshes metadata for the active conversation, such as
// the record fetched after switching by id or a roster refetched after a
// membership change. Other conversations are ignored. A conversation first
// learned to be a group here gets its topic and roster request.
func (e *Engine) UpdateConversation(conv Conversation) {
	if conv.ID == "" || conv.ID != e.active.ID {
		return
	}
	e.active = conv
	e.presence.SetRoster(conv.ParticipantIDs)
	if conv.IsGroup && e.groupTopic == "" {
		e.announceGroup()
	}
	e.changed()
}

// announce tells the server the user is looking at the active conversation.
func (e *Engine) announce() {
	conv := e.active
	if !e.transport.IsConnected() {
		e.logf("Not connected; join for %s deferred until resync", conv.ID)
		return
	}
	if err := e.transport.Publish(protocol.DestJoinConversation, []byte(conv.ID)); err != nil {
		e.notify(Notice{Kind: NoticeJoinFailed, ConversationID: conv.ID, Err: err})
	}
	e.announceGroup()
}

// announceGroup subscribes the group topic once and asks for the roster.
func (e *Engine) announceGroup() {
	conv := e.active
	if !conv.IsGroup || !e.transport.IsConnected() {
		return
	}
	if e.groupTopic == "" {
		topic := protocol.GroupTopic(conv.ID)
		if err := e.transport.Subscribe(topic); err != nil {
			e.notify(Notice{Kind: NoticeSubscribeFailed, ConversationID: conv.ID, Err: err})
		} else {
			e.groupTopic = topic
		}
	}
	e.requestRoster(e.opts.Now())
}

func (e *Engine) requestRoster(now time.Time) {
	if err := e.transport.Publish(protocol.DestRequestOnlineUsers, []byte(e.active.ID)); err != nil {
		e.logf("Online users request for %s failed: %v", e.active.ID, err)
		return
	}
	e.lastRoster = now
}

// Resync re-announces the active conversation after a reconnect.
func (e *Engine) Resync() {
	if e.active.ID == "" {
		return
	}
	e.logf("Resyncing conversation %s", e.active.ID)
	e.announce()
}

// HandleFrame reacts to one inbound MESSAGE frame.
func (e *Engine) HandleFrame(f *protocol.Frame) {
	if f == nil {
		return
	}
	if convID, ok := protocol.IsGroupTopic(f.Destination()); ok {
		// Group topics only confirm the join.
		e.metrics.RecordFrame(categoryIgnored)
		e.logf("Group topic frame for %s ignored", convID)
		return
	}
	e.HandleRaw(string(f.Body))
}

// HandleRaw classifies a frame body and applies it.
func (e *Engine) HandleRaw(raw string) {
	ev := Classify(raw, e.active.ID)
	e.metrics.RecordFrame(ev.category())

	switch ev := ev.(type) {
	case Malformed:
		e.logf("Dropping malformed frame: %v (%s)", ev.Err, preview(ev.Raw))

	case PresenceSnapshot:
		if e.active.ID == "" {
			return
		}
		e.presence.OnSnapshot(ev.OnlineUserIDs, e.opts.Now())
		e.changed()

	case MembershipChange:
		if e.directory != nil {
			e.directory.Invalidate(ev.ConversationID)
		}
		for _, fn := range e.membershipHandlers {
			fn(ev)
		}

	case ChatMessage:
		e.applyChat(ev.Message)
	}
}

func (e *Engine) applyChat(m Message) {
	if e.directory != nil {
		e.directory.InvalidateList()
	}
	if e.active.ID == "" || m.ConversationID != e.active.ID {
		return
	}
	if e.directory != nil {
		e.directory.Invalidate(m.ConversationID)
	}

	o := e.reconciler.OnConfirmed(m)
	e.metrics.RecordReconcile(o)
	if o.Ambiguous {
		e.logf("Ambiguous match for message %s: %d tentative candidates, took index %d", m.ID, o.Candidates, o.Index)
	}
	e.changed()
}

// LoadHistory replaces the visible list with server history for
// conversationID. Unconfirmed tentative messages stay at the end. Returns
// false when conversationID is no longer active.
func (e *Engine) LoadHistory(conversationID string, history []Message) bool {
	if conversationID == "" || conversationID != e.active.ID {
		e.logf("Discarding history for inactive conversation %s", conversationID)
		return false
	}
	e.reconciler.ReplaceHistory(history)
	e.scroll.JumpToLatest()
	e.changed()
	return true
}

// Send optimistically appends content and publishes it.
func (e *Engine) Send(content string) (string, error) {
	id, err := e.sender.Send(e.active, content)
	if err != nil {
		if id == "" {
			e.metrics.RecordSend("rejected")
		} else {
			e.metrics.RecordSend("publish_failed")
		}
		e.notify(Notice{Kind: NoticeSendFailed, ConversationID: e.active.ID, Err: err})
	} else {
		e.metrics.RecordSend("ok")
	}
	if id != "" {
		e.scroll.JumpToLatest()
		e.changed()
	}
	return id, err
}

// ObserveViewport feeds the viewport's distance from the bottom.
func (e *Engine) ObserveViewport(distanceFromBottomPx float64) {
	before := e.scroll.State()
	e.scroll.OnViewportObservation(distanceFromBottomPx)
	if e.scroll.State() != before {
		e.changed()
	}
}

// JumpToLatest pins the view and clears the unread count.
func (e *Engine) JumpToLatest() {
	e.scroll.JumpToLatest()
	e.changed()
}

// Tick runs housekeeping. It only re-requests presence for group
// conversations; it never changes visible state.
func (e *Engine) Tick(now time.Time) {
	if !e.active.IsGroup || e.active.ID == "" || !e.transport.IsConnected() {
		return
	}
	if now.Sub(e.lastRoster) >= e.opts.PresenceRefresh {
		e.requestRoster(now)
	}
}

// LeaveGroup removes the local user from the active group. On failure the
// engine state is unchanged and a notice is raised. It blocks on the
// directory; hosts with their own event loop use BeginLeave and FinishLeave
// around an asynchronous RemoveMember instead.
func (e *Engine) LeaveGroup(ctx context.Context) error {
	conv, err := e.BeginLeave()
	if err != nil {
		return err
	}
	if e.directory == nil {
		return e.FinishLeave(conv.ID, fmt.Errorf("no directory"))
	}
	return e.FinishLeave(conv.ID, e.directory.RemoveMember(ctx, conv.ID, e.identity.UserID))
}

// BeginLeave checks that the active conversation may be left and returns it.
// A refusal raises a notice.
func (e *Engine) BeginLeave() (Conversation, error) {
	conv := e.active
	var err error
	switch {
	case conv.ID == "":
		err = ErrNoConversation
	case !conv.IsGroup:
		err = ErrNotGroup
	case len(conv.ParticipantIDs) < minLeaveGroupSize:
		err = ErrGroupTooSmall
	}
	if err != nil {
		e.notify(Notice{Kind: NoticeLeaveFailed, ConversationID: conv.ID, Err: err})
		return conv, err
	}
	return conv, nil
}

// FinishLeave applies the outcome of removing the local user from
// conversationID. A failure raises a notice and changes nothing. A success
// for a conversation that is no longer active only drops cached metadata.
func (e *Engine) FinishLeave(conversationID string, removeErr error) error {
	if removeErr != nil {
		err := fmt.Errorf("leave group: %w", removeErr)
		e.notify(Notice{Kind: NoticeLeaveFailed, ConversationID: conversationID, Err: err})
		return err
	}
	if e.directory != nil {
		e.directory.Invalidate(conversationID)
		e.directory.InvalidateList()
	}
	e.logf("Left group %s", conversationID)
	if conversationID == e.active.ID {
		e.SwitchConversation(Conversation{})
	}
	return nil
}

// Do queues fn to run on the Run goroutine. It blocks until fn is queued or
// ctx is done.
func (e *Engine) Do(ctx context.Context, fn func()) error {
	select {
	case e.actions <- fn:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run drives the engine from the transport, a housekeeping ticker and queued
// actions until ctx is done. Each reaction finishes before the next starts.
func (e *Engine) Run(ctx context.Context) error {
	ticker := time.NewTicker(e.opts.HousekeepingInterval)
	defer ticker.Stop()

	incoming := e.transport.Incoming()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case f, ok := <-incoming:
			if !ok {
				e.logf("Transport incoming channel closed")
				incoming = nil
				continue
			}
			e.HandleFrame(f)
		case fn := <-e.actions:
			fn()
		case now := <-ticker.C:
			e.Tick(now)
		}
	}
}

// Messages returns the visible list in insertion order.
func (e *Engine) Messages() []Message { return e.reconciler.Messages() }

// Online returns online users on the active conversation's roster.
func (e *Engine) Online() []string { return e.presence.CurrentOnline() }

func (e *Engine) IsOnline(userID string) bool { return e.presence.IsOnline(userID) }

func (e *Engine) Scroll() ScrollState { return e.scroll.State() }

func (e *Engine) UnreadLabel() string { return e.scroll.UnreadLabel() }

func (e *Engine) ActiveConversation() Conversation { return e.active }

func (e *Engine) Identity() Identity { return e.identity }

// Started reports whether Start subscribed the private queues.
func (e *Engine) Started() bool { return e.started }
