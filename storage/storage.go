// Package storage holds peer contacts received via announce_peer, keyed by
// info-hash, bounded by an LRU over info-hashes and a cap on peers per hash.
// It is adapted from the teacher's peer.PeerStore, generalized so the cache
// size and per-hash cap are configuration values instead of compile-time
// constants.
package storage

import (
	"container/ring"
	"sync"

	"github.com/golang/groupcache/lru"

	"kadnode/identifier"
)

// Store holds announced peer contacts for info-hashes this node has heard
// about, independent of any search this node itself is running.
type Store struct {
	mu            sync.Mutex
	hashes        *lru.Cache
	maxHashes     int
	maxPeersPerID int
}

// New creates a Store bounded by maxHashes distinct info-hashes and
// maxPeersPerID contacts per info-hash.
func New(maxHashes, maxPeersPerID int) *Store {
	return &Store{
		hashes:        lru.New(maxHashes),
		maxHashes:     maxHashes,
		maxPeersPerID: maxPeersPerID,
	}
}

// contactSet is the per-info-hash peer set: a dedupe map plus a ring used to
// rotate which subset of peers gets handed out across repeated lookups.
type contactSet struct {
	set  map[string]bool // true while the contact is believed alive
	ring *ring.Ring
}

func (c *contactSet) put(contact string) bool {
	if c.set[contact] {
		return false
	}
	c.set[contact] = true
	r := &ring.Ring{Value: contact}
	if c.ring == nil {
		c.ring = r
	} else {
		c.ring.Link(r)
	}
	return true
}

func (c *contactSet) dropDead() string {
	if c.ring == nil {
		return ""
	}
	r := c.ring
	for i := 0; i < c.ring.Len(); i++ {
		dead := r.Next()
		if v := dead.Value.(string); !c.set[v] {
			if dead == r {
				c.ring = nil
			} else {
				if dead == c.ring {
					c.ring = r
				}
				r.Unlink(1)
			}
			delete(c.set, v)
			return v
		}
		r = dead
	}
	return ""
}

func (c *contactSet) kill(contact string) {
	if _, ok := c.set[contact]; ok {
		c.set[contact] = false
	}
}

// evictOldest drops the least-recently-inserted contact to make room for a
// new one, used once dropDead finds nothing already dead to make way for.
// put always links new contacts in right after the ring anchor, so the
// anchor itself is always the oldest surviving entry; the new anchor after
// eviction is the previous entry (the next-oldest), keeping FIFO order for
// any further evictions.
func (c *contactSet) evictOldest() string {
	if c.ring == nil {
		return ""
	}
	old := c.ring
	v := old.Value.(string)
	if old.Next() == old {
		c.ring = nil
	} else {
		prev := old.Prev()
		c.ring = prev
		prev.Unlink(1)
	}
	delete(c.set, v)
	return v
}

// next returns up to max distinct contacts, walking the ring from the most
// recently inserted contact towards the oldest. The ring's anchor is not
// moved, so repeated calls return the same contacts in the same order.
func (c *contactSet) next(max int) []string {
	if c.ring == nil {
		return nil
	}
	if max > len(c.set) {
		max = len(c.set)
	}
	seen := make(map[string]bool, max)
	out := make([]string, 0, max)
	r := c.ring
	for i := 0; i < c.ring.Len() && len(out) < max; i++ {
		r = r.Move(1)
		v := r.Value.(string)
		if seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	return out
}

func (c *contactSet) size() int { return len(c.set) }

// Add records that contact announced itself for infoHash. It returns false
// only if the contact was already known; at the per-hash cap, room is made
// by dropping a contact already marked dead, falling back to evicting the
// oldest surviving contact.
func (s *Store) Add(infoHash identifier.ID, contact string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := string(infoHash[:])
	var set *contactSet
	if v, ok := s.hashes.Get(key); ok {
		set, _ = v.(*contactSet)
	}
	if set == nil {
		set = &contactSet{set: make(map[string]bool)}
		s.hashes.Add(key, set)
	}
	if set.size() >= s.maxPeersPerID {
		if _, already := set.set[contact]; already {
			return false
		}
		if set.dropDead() == "" {
			set.evictOldest()
		}
	}
	return set.put(contact)
}

// Peers returns up to max contacts known for infoHash.
func (s *Store) Peers(infoHash identifier.ID, max int) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.hashes.Get(string(infoHash[:]))
	if !ok {
		return nil
	}
	set := v.(*contactSet)
	return set.next(max)
}

// Count returns how many contacts are known for infoHash.
func (s *Store) Count(infoHash identifier.ID) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.hashes.Get(string(infoHash[:]))
	if !ok {
		return 0
	}
	return v.(*contactSet).size()
}

// Len returns the number of distinct info-hashes currently cached.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hashes.Len()
}
