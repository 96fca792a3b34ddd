// Package lookup implements the iterative node/get_peers lookup: starting
// from the routing table's closest known contacts, it queries up to alpha
// candidates concurrently per round, folding newly discovered contacts into
// the candidate list until no closer node remains or the search expires.
//
// The original C implementation delegates this entirely to jech/dht.c, a
// library not present in original_source/; the algorithm here follows the
// standard iterative-lookup shape described in the specification (§4.4) and
// is wired with the same concurrency primitives the teacher's own
// dependency set was extended with (golang.org/x/sync).
package lookup

import (
	"context"
	"net"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"kadnode/identifier"
	"kadnode/results"
	"kadnode/wire"
)

// KSearch is the number of closest candidates a search keeps track of
// (larger than the routing table's own K so a lookup can route around a few
// dead ends without restarting).
const KSearch = 14

// Alpha is the number of candidates queried concurrently per round.
const Alpha = 3

// Expiry is how long a search is kept after it started before being
// dropped, whether or not it is still making progress.
const Expiry = 62 * time.Minute

// Transport is the network-facing dependency a lookup drives. It is
// implemented by the transport/reactor layer; the lookup engine never opens
// a socket itself.
type Transport interface {
	FindNode(ctx context.Context, addr net.UDPAddr, target identifier.ID) ([]wire.Contact, error)
	GetPeers(ctx context.Context, addr net.UDPAddr, target identifier.ID) (token string, nodes []wire.Contact, peers []wire.Contact, err error)
	AnnouncePeer(ctx context.Context, addr net.UDPAddr, target identifier.ID, port int, token string) error
}

type candidateState int

const (
	pending candidateState = iota
	queried
	replied
	failed
)

type candidate struct {
	wire.Contact
	state candidateState
	token string
}

// Search tracks one in-flight or completed lookup for a target id.
type Search struct {
	mu         sync.Mutex
	target     identifier.ID
	getPeers   bool
	candidates []*candidate
	seen       map[identifier.ID]bool
	started    time.Time
	lastActive time.Time
	done       bool
}

func newSearch(target identifier.ID, getPeers bool, seed []wire.Contact, now time.Time) *Search {
	s := &Search{
		target:     target,
		getPeers:   getPeers,
		seen:       make(map[identifier.ID]bool),
		started:    now,
		lastActive: now,
	}
	s.offer(seed)
	return s
}

// offer folds newly seen contacts into the candidate list, keeping only the
// KSearch closest to target.
func (s *Search) offer(contacts []wire.Contact) {
	for _, c := range contacts {
		if c.ID == identifier.Zero || s.seen[c.ID] {
			continue
		}
		s.seen[c.ID] = true
		s.candidates = append(s.candidates, &candidate{Contact: c})
	}
	cs := s.candidates
	for i := 1; i < len(cs); i++ {
		j := i
		for j > 0 && identifier.Less(cs[j].ID, cs[j-1].ID, s.target) {
			cs[j], cs[j-1] = cs[j-1], cs[j]
			j--
		}
	}
	if len(cs) > KSearch {
		s.candidates = cs[:KSearch]
	}
}

func (s *Search) nextBatch(n int) []*candidate {
	var batch []*candidate
	for _, c := range s.candidates {
		if c.state == pending {
			batch = append(batch, c)
			if len(batch) == n {
				break
			}
		}
	}
	return batch
}

func (s *Search) expired(now time.Time) bool {
	return now.Sub(s.started) > Expiry
}

// Candidates returns a snapshot of the search's current best-known contacts,
// closest-to-target first, regardless of whether each has replied yet. Used
// to render "current results" immediately after starting a search, without
// waiting on any network round to complete.
func (s *Search) Candidates() []wire.Contact {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]wire.Contact, len(s.candidates))
	for i, c := range s.candidates {
		out[i] = c.Contact
	}
	return out
}

// Engine owns the set of in-flight searches and drives their rounds.
type Engine struct {
	mu       sync.Mutex
	searches map[identifier.ID]*Search
	t        Transport
	store    *results.Store
}

// New creates a lookup engine. store may be nil if this engine only ever
// drives find_node searches (no get_peers results to record).
func New(t Transport, store *results.Store) *Engine {
	return &Engine{
		searches: make(map[identifier.ID]*Search),
		t:        t,
		store:    store,
	}
}

// Start begins (or attaches to the existing) search for target, seeded from
// the routing table's closest known contacts. The returned bool reports
// whether a new search was created (false means an unexpired search for
// target was already in flight and is being reused).
func (e *Engine) Start(target identifier.ID, getPeers bool, seed []wire.Contact, now time.Time) (*Search, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if s, ok := e.searches[target]; ok && !s.expired(now) {
		return s, false
	}
	s := newSearch(target, getPeers, seed, now)
	e.searches[target] = s
	return s, true
}

// Step runs one round of alpha-bounded concurrent queries against the
// search's best pending candidates, folding in whatever they return. It
// returns true if the round made progress (any candidate replied).
func (e *Engine) Step(ctx context.Context, s *Search) (bool, error) {
	s.mu.Lock()
	batch := s.nextBatch(Alpha)
	s.mu.Unlock()
	if len(batch) == 0 {
		return false, nil
	}

	sem := semaphore.NewWeighted(Alpha)
	g, gctx := errgroup.WithContext(ctx)
	var progressed bool
	var mu sync.Mutex

	for _, c := range batch {
		c := c
		if err := sem.Acquire(gctx, 1); err != nil {
			break
		}
		s.mu.Lock()
		c.state = queried
		s.mu.Unlock()

		g.Go(func() error {
			defer sem.Release(1)
			var nodes, peers []wire.Contact
			var token string
			var err error
			if s.getPeers {
				token, nodes, peers, err = e.t.GetPeers(gctx, c.Contact.Addr(), s.target)
			} else {
				nodes, err = e.t.FindNode(gctx, c.Contact.Addr(), s.target)
			}
			s.mu.Lock()
			if err != nil {
				c.state = failed
			} else {
				c.state = replied
				c.token = token
				s.offer(nodes)
				s.lastActive = time.Now()
			}
			s.mu.Unlock()
			if err == nil {
				mu.Lock()
				progressed = true
				mu.Unlock()
				if s.getPeers && e.store != nil {
					for _, p := range peers {
						e.store.Add(s.target, results.Result{IP: p.IP, Port: p.Port})
					}
				}
			}
			return nil
		})
	}
	_ = g.Wait()
	return progressed, nil
}

// Announce sends announce_peer to every candidate that replied to a
// get_peers round and handed back a token, in parallel.
func (e *Engine) Announce(ctx context.Context, s *Search, port int) error {
	s.mu.Lock()
	var targets []*candidate
	for _, c := range s.candidates {
		if c.state == replied && c.token != "" {
			targets = append(targets, c)
		}
	}
	s.mu.Unlock()

	g, gctx := errgroup.WithContext(ctx)
	for _, c := range targets {
		c := c
		g.Go(func() error {
			return e.t.AnnouncePeer(gctx, c.Contact.Addr(), s.target, port, c.token)
		})
	}
	return g.Wait()
}

// Expire drops searches started more than Expiry ago, clearing their
// collected results along with them.
func (e *Engine) Expire(now time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for id, s := range e.searches {
		if s.expired(now) {
			delete(e.searches, id)
			if e.store != nil {
				e.store.Clear(id)
			}
		}
	}
}

// Get returns the search tracked for target, if any.
func (e *Engine) Get(target identifier.ID) (*Search, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	s, ok := e.searches[target]
	return s, ok
}
