package engine

import (
	"time"
)

// DefaultMatchWindow is how close a confirmation's send time must be to a
// tentative message's for the content heuristic to pair them.
const DefaultMatchWindow = 5 * time.Second

// MatchKind says how a confirmed message was merged.
type MatchKind int

const (
	MatchAppend MatchKind = iota
	MatchID
	MatchCorrelation
	MatchHeuristic
)

func (k MatchKind) String() string {
	switch k {
	case MatchID:
		return "id"
	case MatchCorrelation:
		return "correlation"
	case MatchHeuristic:
		return "heuristic"
	default:
		return "append"
	}
}

// Outcome describes the effect of OnConfirmed.
type Outcome struct {
	Kind  MatchKind
	Index int
	// Candidates is the number of tentative entries the heuristic found in
	// the window. More than one means the pick was a guess.
	Candidates int
	Ambiguous  bool
	// Signalled is true when the merge counted as a new visible message.
	Signalled bool
}

// AppendFunc is told about every message that becomes newly visible.
type AppendFunc func(m Message, authoredByLocal bool)

// Reconciler owns the ordered message list of the active conversation.
// Entries stay in insertion order; they are never re-sorted by timestamp.
type Reconciler struct {
	identity Identity
	window   time.Duration
	onAppend AppendFunc

	messages []Message
	index    map[string]int
}

// NewReconciler creates an empty list for the given local identity.
func NewReconciler(identity Identity, window time.Duration, onAppend AppendFunc) *Reconciler {
	if window <= 0 {
		window = DefaultMatchWindow
	}
	return &Reconciler{
		identity: identity,
		window:   window,
		onAppend: onAppend,
		index:    make(map[string]int),
	}
}

// Messages returns a copy of the visible list.
func (r *Reconciler) Messages() []Message {
	out := make([]Message, len(r.messages))
	copy(out, r.messages)
	return out
}

func (r *Reconciler) Len() int { return len(r.messages) }

// HasID reports whether an entry with this id is in the list.
func (r *Reconciler) HasID(id string) bool {
	_, ok := r.index[id]
	return ok
}

// Pending returns the still-unconfirmed tentative entries in list order.
func (r *Reconciler) Pending() []Message {
	var out []Message
	for _, m := range r.messages {
		if m.IsTentative() {
			out = append(out, m)
		}
	}
	return out
}

// Reset discards every entry.
func (r *Reconciler) Reset() {
	r.messages = nil
	r.index = make(map[string]int)
}

// OnTentativeCreated appends a locally-authored message.
func (r *Reconciler) OnTentativeCreated(m Message) {
	r.append(m)
	r.signal(m)
}

// OnConfirmed merges a server-confirmed message.
//
// An entry with the same id is replaced in place. Otherwise a tentative entry
// carrying the same correlation token is replaced. When the confirmation has
// no token at all, the oldest tentative entry with equal content (or equal
// image) sent strictly within the window is replaced. Anything else is
// appended.
func (r *Reconciler) OnConfirmed(m Message) Outcome {
	if m.ID != "" {
		if i, ok := r.index[m.ID]; ok {
			r.messages[i] = m
			return Outcome{Kind: MatchID, Index: i}
		}
	}

	if m.ClientMessageID != "" {
		for i, existing := range r.messages {
			if existing.IsTentative() && existing.ClientMessageID == m.ClientMessageID {
				return r.replace(i, m, MatchCorrelation, 1)
			}
		}
	} else {
		first, candidates := -1, 0
		for i, existing := range r.messages {
			if r.heuristicMatch(existing, m) {
				if first < 0 {
					first = i
				}
				candidates++
			}
		}
		if first >= 0 {
			return r.replace(first, m, MatchHeuristic, candidates)
		}
	}

	r.append(m)
	r.signal(m)
	return Outcome{Kind: MatchAppend, Index: len(r.messages) - 1, Signalled: true}
}

// ReplaceHistory swaps the list for server history, deduplicated by id.
// Confirmed entries the history does not contain, such as live messages that
// arrived while it was being fetched, follow it in their original order.
// Tentative entries that no history entry accounts for are kept at the end.
func (r *Reconciler) ReplaceHistory(history []Message) {
	previous := r.messages
	r.Reset()

	for _, m := range history {
		if m.ID != "" {
			if i, ok := r.index[m.ID]; ok {
				r.messages[i] = m
				continue
			}
		}
		r.append(m)
	}

	for _, m := range previous {
		if m.IsTentative() || r.inHistory(m, history) {
			continue
		}
		r.append(m)
	}

	for _, t := range previous {
		if t.IsTentative() && !r.accountedFor(t, history) {
			r.append(t)
		}
	}
}

// inHistory reports whether confirmed entry m is part of history: by id, or
// for id-less entries by sender, content and send time.
func (r *Reconciler) inHistory(m Message, history []Message) bool {
	if m.ID != "" {
		return r.HasID(m.ID)
	}
	for _, h := range history {
		if h.ID == "" && sameSender(h, m) && h.Content == m.Content && h.SentAt.Equal(m.SentAt) {
			return true
		}
	}
	return false
}

func (r *Reconciler) accountedFor(t Message, history []Message) bool {
	for _, h := range history {
		if h.ClientMessageID != "" {
			if h.ClientMessageID == t.ClientMessageID {
				return true
			}
			continue
		}
		if r.heuristicMatch(t, h) {
			return true
		}
	}
	return false
}

// heuristicMatch reports whether tentative entry t may be the local copy of
// confirmed message c.
func (r *Reconciler) heuristicMatch(t, c Message) bool {
	if !t.IsTentative() {
		return false
	}
	sameContent := c.Content != "" && t.Content == c.Content
	sameImage := c.Image != "" && t.Image == c.Image
	if !sameContent && !sameImage {
		return false
	}
	if t.SentAt.IsZero() || c.SentAt.IsZero() {
		return false
	}
	d := c.SentAt.Sub(t.SentAt)
	if d < 0 {
		d = -d
	}
	return d < r.window
}

func (r *Reconciler) replace(i int, m Message, kind MatchKind, candidates int) Outcome {
	previous := r.messages[i]
	delete(r.index, previous.ID)
	r.messages[i] = m
	if m.ID != "" {
		r.index[m.ID] = i
	}

	o := Outcome{Kind: kind, Index: i, Candidates: candidates, Ambiguous: candidates > 1}
	if !sameSender(previous, m) {
		r.signal(m)
		o.Signalled = true
	}
	return o
}

func (r *Reconciler) append(m Message) {
	r.messages = append(r.messages, m)
	if m.ID != "" {
		r.index[m.ID] = len(r.messages) - 1
	}
}

func (r *Reconciler) signal(m Message) {
	if r.onAppend != nil {
		r.onAppend(m, r.identity.Authored(m))
	}
}

func sameSender(a, b Message) bool {
	if a.SenderID != "" && b.SenderID != "" {
		return a.SenderID == b.SenderID
	}
	return a.SenderUsername == b.SenderUsername
}
