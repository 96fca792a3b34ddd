// Package results accumulates get_peers lookup results per target id,
// capped at MAX_RESULTS_PER_SEARCH and deduped by exact (ip, length, port),
// firing an external hook on every novel insertion. It is adapted from
// results.c, which the Design Notes identify as the authoritative source
// for this behavior over the older, smaller searches.c store.
package results

import (
	"context"
	"fmt"
	"net"
	"os/exec"
	"sync"
	"time"

	"github.com/sony/gobreaker"

	"kadnode/identifier"
	"kadnode/logger"
)

// MaxResultsPerSearch bounds the total (v4+v6) results kept per target id.
const MaxResultsPerSearch = 500

// Result is one collected peer contact for a search target.
type Result struct {
	IP   net.IP
	Port uint16
}

func (r Result) length() int {
	if r.IP.To4() != nil {
		return 4
	}
	return 16
}

func (r Result) key() string {
	ip := r.IP.To4()
	if ip == nil {
		ip = r.IP.To16()
	}
	return fmt.Sprintf("%s:%d", ip, r.Port)
}

type search struct {
	results     []Result
	seen        map[string]bool
	numResults4 int
	numResults6 int
}

// Hook is invoked, in its own goroutine, whenever a previously unseen result
// is recorded. Errors are logged and otherwise swallowed: a failing hook
// must never affect lookup correctness.
type Hook func(ctx context.Context, target identifier.ID, r Result) error

// ExecHook builds a Hook that runs an external program, mirroring the
// teacher's system()-based on_new_search_result, but via os/exec instead of
// a shell "&" background job.
func ExecHook(path string) Hook {
	return func(ctx context.Context, target identifier.ID, r Result) error {
		cmd := exec.CommandContext(ctx, path, target.String(), fmt.Sprintf("%s:%d", r.IP, r.Port))
		return cmd.Run()
	}
}

// Store holds, per search target, the set of distinct results collected so
// far.
type Store struct {
	mu      sync.Mutex
	byID    map[identifier.ID]*search
	hook    Hook
	breaker *gobreaker.CircuitBreaker
	log     logger.DebugLogger
}

// New creates an empty result store. hook may be nil to disable the
// external-notification side effect entirely.
func New(hook Hook, log logger.DebugLogger) *Store {
	s := &Store{
		byID: make(map[identifier.ID]*search),
		hook: hook,
		log:  log,
	}
	// A hook that starts failing (missing binary, bad permissions) trips
	// the breaker so every lookup doesn't pay the cost of a doomed exec
	// call; it resets itself after a cooldown.
	s.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "results-hook",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	})
	return s
}

// Add records a single result for target, invoking the hook if it is new.
// It returns false once the target's result cap has been reached.
func (s *Store) Add(target identifier.ID, r Result) bool {
	s.mu.Lock()
	sr, ok := s.byID[target]
	if !ok {
		sr = &search{seen: make(map[string]bool)}
		s.byID[target] = sr
	}
	if len(sr.results) >= MaxResultsPerSearch {
		s.mu.Unlock()
		return false
	}
	key := r.key()
	if sr.seen[key] {
		s.mu.Unlock()
		return true
	}
	sr.seen[key] = true
	sr.results = append(sr.results, r)
	if r.length() == 4 {
		sr.numResults4++
	} else {
		sr.numResults6++
	}
	s.mu.Unlock()

	s.fireHook(target, r)
	return true
}

func (s *Store) fireHook(target identifier.ID, r Result) {
	if s.hook == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_, err := s.breaker.Execute(func() (interface{}, error) {
			return nil, s.hook(ctx, target, r)
		})
		if err != nil && s.log != nil {
			s.log.Errorf("results: hook for %s failed: %v", target, err)
		}
	}()
}

// All returns every result collected so far for target.
func (s *Store) All(target identifier.ID) []Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	sr, ok := s.byID[target]
	if !ok {
		return nil
	}
	out := make([]Result, len(sr.results))
	copy(out, sr.results)
	return out
}

// Count returns (v4, v6) result counts for target.
func (s *Store) Count(target identifier.ID) (v4, v6 int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sr, ok := s.byID[target]
	if !ok {
		return 0, 0
	}
	return sr.numResults4, sr.numResults6
}

// Clear discards every result for target, called once its search expires.
func (s *Store) Clear(target identifier.ID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.byID, target)
}
