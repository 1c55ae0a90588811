package engine

import "time"

// Presence holds the latest online snapshot for the active conversation.
// Snapshots replace the set wholesale; reads filter it to the roster.
type Presence struct {
	roster    map[string]struct{}
	online    map[string]struct{}
	updatedAt time.Time
}

func NewPresence() *Presence {
	return &Presence{
		roster: make(map[string]struct{}),
		online: make(map[string]struct{}),
	}
}

// SetRoster sets the participant ids used to filter CurrentOnline.
func (p *Presence) SetRoster(ids []string) {
	p.roster = make(map[string]struct{}, len(ids))
	for _, id := range ids {
		p.roster[id] = struct{}{}
	}
}

// OnSnapshot replaces the online set.
func (p *Presence) OnSnapshot(ids []string, at time.Time) {
	p.online = make(map[string]struct{}, len(ids))
	for _, id := range ids {
		p.online[id] = struct{}{}
	}
	p.updatedAt = at
}

// CurrentOnline returns the online participants of the active conversation,
// sorted.
func (p *Presence) CurrentOnline() []string {
	visible := make(map[string]struct{}, len(p.online))
	for id := range p.online {
		if _, ok := p.roster[id]; ok {
			visible[id] = struct{}{}
		}
	}
	return sortedKeys(visible)
}

func (p *Presence) IsOnline(userID string) bool {
	_, inRoster := p.roster[userID]
	_, online := p.online[userID]
	return inRoster && online
}

// UpdatedAt is when the last snapshot arrived, zero if none has.
func (p *Presence) UpdatedAt() time.Time { return p.updatedAt }

// Reset clears both the roster and the online set.
func (p *Presence) Reset() {
	p.roster = make(map[string]struct{})
	p.online = make(map[string]struct{})
	p.updatedAt = time.Time{}
}
