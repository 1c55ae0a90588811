package engine

import (
	"math"
	"strconv"
)

const (
	// DefaultPinnedThreshold is the distance from the bottom, in pixels,
	// under which the viewport counts as pinned.
	DefaultPinnedThreshold = 100.0

	// UnreadLabelCap is the largest count the unread label shows exactly.
	UnreadLabelCap = 99
)

// ScrollTracker tracks whether the viewport is pinned to the newest message
// and counts arrivals from other users while it is not.
type ScrollTracker struct {
	threshold float64
	pinned    bool
	unread    int
	onJump    func()
}

// NewScrollTracker starts pinned with nothing unread. onJump, if set, is
// called whenever the presentation layer should scroll to the latest message.
func NewScrollTracker(threshold float64, onJump func()) *ScrollTracker {
	if threshold <= 0 {
		threshold = DefaultPinnedThreshold
	}
	return &ScrollTracker{threshold: threshold, pinned: true, onJump: onJump}
}

// OnViewportObservation records the viewport's distance from the bottom.
// Being pinned always clears the unread count.
func (s *ScrollTracker) OnViewportObservation(distanceFromBottomPx float64) {
	if math.IsNaN(distanceFromBottomPx) {
		return
	}
	s.pinned = distanceFromBottomPx < s.threshold
	if s.pinned {
		s.unread = 0
	}
}

// OnMessageAppended counts a newly visible message. It returns true when the
// unread count went up.
func (s *ScrollTracker) OnMessageAppended(authoredByLocal bool) bool {
	if s.pinned || authoredByLocal {
		return false
	}
	s.unread++
	return true
}

// JumpToLatest pins the viewport, clears unread and asks for a scroll.
func (s *ScrollTracker) JumpToLatest() {
	s.pinned = true
	s.unread = 0
	if s.onJump != nil {
		s.onJump()
	}
}

func (s *ScrollTracker) State() ScrollState {
	return ScrollState{PinnedToBottom: s.pinned, UnreadCount: s.unread}
}

func (s *ScrollTracker) Pinned() bool { return s.pinned }

func (s *ScrollTracker) Unread() int { return s.unread }

// UnreadLabel renders the count for a badge: empty for zero, "99+" above the
// cap. The count itself is unbounded.
func (s *ScrollTracker) UnreadLabel() string {
	return UnreadLabel(s.unread)
}

func UnreadLabel(n int) string {
	switch {
	case n <= 0:
		return ""
	case n > UnreadLabelCap:
		return strconv.Itoa(UnreadLabelCap) + "+"
	default:
		return strconv.Itoa(n)
	}
}

// Reset returns to the initial pinned state without requesting a scroll.
func (s *ScrollTracker) Reset() {
	s.pinned = true
	s.unread = 0
}
