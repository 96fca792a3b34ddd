// Package routing implements the Kademlia routing table: an ordered list of
// k-buckets per address family, each capped at K live nodes plus one
// replacement candidate, splitting only along the local ID's path.
//
// This replaces the teacher's nTree binary trie (routingTable/routing.go),
// whose own comments describe deliberately avoiding bucket semantics; the
// specification calls for real buckets with capacity, splitting and
// replacement-candidate behavior, so the trie could not be kept as-is.
package routing

import (
	"net"
	"sync"
	"time"

	"kadnode/identifier"
)

// Table is the routing table for both address families of one local node.
type Table struct {
	mu      sync.Mutex
	localID identifier.ID
	v4      *family
	v6      *family
}

// New creates a routing table seeded with a single catch-all bucket per
// family.
func New(localID identifier.ID, now time.Time) *Table {
	return &Table{
		localID: localID,
		v4:      newFamily(localID, now),
		v6:      newFamily(localID, now),
	}
}

func (t *Table) familyFor(ip net.IP) *family {
	if ip.To4() != nil {
		return t.v4
	}
	return t.v6
}

// Insert adds or refreshes a node, returning true if it now occupies a
// bucket slot.
func (t *Table) Insert(node *Node, now time.Time) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.familyFor(node.Addr.IP).insert(node, now)
}

// GetOrCreateNode returns the existing node at id/addr if present, otherwise
// builds and inserts a fresh one.
func (t *Table) GetOrCreateNode(id identifier.ID, addr net.UDPAddr, now time.Time) *Node {
	t.mu.Lock()
	defer t.mu.Unlock()
	f := t.familyFor(addr.IP)
	if n := f.get(id); n != nil {
		return n
	}
	n := &Node{ID: id, Addr: addr}
	f.insert(n, now)
	return n
}

// HostPortToNode looks a node up by its transport endpoint rather than id,
// mirroring the teacher's server.go lookup path for incoming replies whose
// sender id was not yet confirmed.
func (t *Table) HostPortToNode(addr net.UDPAddr) *Node {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.familyFor(addr.IP).byAddress(addr.String())
}

// Kill removes a node from the table, promoting its bucket's replacement
// candidate if any is waiting.
func (t *Table) Kill(id identifier.ID, v6 bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if v6 {
		t.v6.remove(id)
	} else {
		t.v4.remove(id)
	}
}

// Closest returns up to k nodes from the given family ordered by ascending
// distance to target.
func (t *Table) Closest(target identifier.ID, k int, v6 bool) []*Node {
	t.mu.Lock()
	defer t.mu.Unlock()
	if v6 {
		return t.v6.closest(target, k)
	}
	return t.v4.closest(target, k)
}

// Cleanup walks both families and returns the nodes that should be pinged
// now (questionable nodes not yet pinged within the liveness window, per
// §4.2's housekeeping tick). It does not change any node's state.
func (t *Table) Cleanup(now time.Time) []*Node {
	t.mu.Lock()
	defer t.mu.Unlock()
	var due []*Node
	for _, f := range []*family{t.v4, t.v6} {
		for _, n := range f.all() {
			if n.Bad() {
				continue
			}
			if n.Questionable(now) && now.Sub(n.LastPinged) > LivenessWindow {
				due = append(due, n)
			}
		}
	}
	return due
}

// RefreshTarget names a stale bucket's range, as an id within that range to
// seed a find_node at, tagged with which family's bucket list it came from.
type RefreshTarget struct {
	ID identifier.ID
	V6 bool
}

// StaleBucketTargets returns one in-range id per stale bucket across both
// families, suitable for seeding a refresh lookup (§4.2).
func (t *Table) StaleBucketTargets(now time.Time) []RefreshTarget {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []RefreshTarget
	for _, fam := range []struct {
		f  *family
		v6 bool
	}{{t.v4, false}, {t.v6, true}} {
		for _, b := range fam.f.staleBuckets(now) {
			// Keep the bucket's prefix bits and randomize the rest, so each
			// refresh looks up a different id inside the bucket's range.
			id, err := identifier.Random()
			if err != nil {
				id = b.prefix
			}
			for i := 0; i < b.bits; i++ {
				mask := byte(0x80) >> uint(i%8)
				id[i/8] &^= mask
				if b.prefix.Bit(i) == 1 {
					id[i/8] |= mask
				}
			}
			out = append(out, RefreshTarget{ID: id, V6: fam.v6})
		}
	}
	return out
}

// Count returns the number of nodes held per family, v4 then v6.
func (t *Table) Count() (v4, v6 int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.v4.count(), t.v6.count()
}

// All returns every node across both families, v4 then v6.
func (t *Table) All() []*Node {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := append([]*Node{}, t.v4.all()...)
	return append(out, t.v6.all()...)
}

// BucketCount returns the number of buckets per family, for the control
// protocol's "buckets" command.
func (t *Table) BucketCount() (v4, v6 int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.v4.buckets), len(t.v6.buckets)
}
