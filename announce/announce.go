// Package announce tracks the info-hashes this node keeps announcing itself
// as a peer for, re-announcing them to the network on a timer.
// Adapted from announces.c, replacing its prepend-only linked list with a
// map keyed by target id; DueForAnnounce and All return entries in no
// particular order.
package announce

import (
	"sync"
	"time"

	"kadnode/identifier"
)

// RefreshInterval is how often a live announcement is re-announced to the
// network (announces.c's ANNOUNCES_INTERVAL).
const RefreshInterval = 20 * time.Minute

// Forever marks an announcement with no expiry, the Go analogue of
// announces.c's lifetime == LONG_MAX.
var Forever = time.Time{}

// entry is one tracked announcement.
type entry struct {
	id       identifier.ID
	port     int
	refresh  time.Time // next time this id is due to be re-announced
	lifetime time.Time // zero value (Forever) means never expires
}

func (e *entry) infinite() bool { return e.lifetime.Equal(Forever) }

// Manager holds the set of info-hashes this node announces itself for.
type Manager struct {
	mu      sync.Mutex
	entries map[identifier.ID]*entry
}

// New creates an empty announcement manager.
func New() *Manager {
	return &Manager{entries: make(map[identifier.ID]*entry)}
}

// Add registers id/port for announcement, due immediately. If id is already
// tracked, its lifetime is extended to the later of the two deadlines and an
// immediate re-announce is scheduled; lifetime == Forever always wins.
func (m *Manager) Add(id identifier.ID, port int, lifetime time.Time, now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if e, ok := m.entries[id]; ok {
		e.refresh = now
		if e.infinite() {
			return
		}
		if lifetime.Equal(Forever) || lifetime.After(e.lifetime) {
			e.lifetime = lifetime
		}
		return
	}

	m.entries[id] = &entry{
		id:       id,
		port:     port,
		refresh:  now,
		lifetime: lifetime,
	}
}

// Remove stops tracking id.
func (m *Manager) Remove(id identifier.ID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, id)
}

// Due is a single announcement that needs to go out now.
type Due struct {
	ID   identifier.ID
	Port int
}

// DueForAnnounce returns every entry whose refresh deadline has passed,
// advancing their next-refresh time by RefreshInterval. hasCandidates is
// consulted before an entry is consumed: if it reports false (the routing
// table has nothing to seed a search from yet), the entry is left due so it
// is retried on the next tick instead of losing its refresh slot for a full
// RefreshInterval.
func (m *Manager) DueForAnnounce(now time.Time, hasCandidates func() bool) []Due {
	m.mu.Lock()
	defer m.mu.Unlock()

	var due []Due
	for _, e := range m.entries {
		if e.refresh.After(now) {
			continue
		}
		if !hasCandidates() {
			continue
		}
		due = append(due, Due{ID: e.id, Port: e.port})
		e.refresh = now.Add(RefreshInterval)
	}
	return due
}

// Expire drops every entry whose lifetime has passed.
func (m *Manager) Expire(now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, e := range m.entries {
		if e.infinite() {
			continue
		}
		if e.lifetime.Before(now) {
			delete(m.entries, id)
		}
	}
}

// Count returns how many info-hashes are currently tracked.
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

// Status describes one tracked announcement for the control protocol's
// "announcements" command.
type Status struct {
	ID        identifier.ID
	Port      int
	RefreshIn time.Duration
	Infinite  bool
	ExpireIn  time.Duration
}

// All returns a snapshot of every tracked announcement, relative to now.
func (m *Manager) All(now time.Time) []Status {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Status, 0, len(m.entries))
	for _, e := range m.entries {
		s := Status{ID: e.id, Port: e.port, RefreshIn: e.refresh.Sub(now), Infinite: e.infinite()}
		if !s.Infinite {
			s.ExpireIn = e.lifetime.Sub(now)
		}
		out = append(out, s)
	}
	return out
}
