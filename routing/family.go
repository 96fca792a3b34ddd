package routing

import (
	"time"

	"kadnode/identifier"
)

// family holds the ordered bucket list for one address family (IPv4 or
// IPv6), per the teacher's split of remoteNode handling by AddressFamily.
// Buckets are kept ordered by prefix so indexFor can do a linear scan; the
// table never has more than a few dozen buckets in practice, so this stays
// cheap compared to a balanced tree.
type family struct {
	localID identifier.ID
	buckets []*bucket
	byAddr  map[string]*Node
}

func newFamily(localID identifier.ID, now time.Time) *family {
	return &family{
		localID: localID,
		buckets: []*bucket{newBucket(identifier.Zero, 0, now)},
		byAddr:  make(map[string]*Node),
	}
}

func (f *family) indexFor(id identifier.ID) int {
	for i, b := range f.buckets {
		if b.covers(id) {
			return i
		}
	}
	return len(f.buckets) - 1
}

func (f *family) homeIndex() int {
	return f.indexFor(f.localID)
}

// splittable reports whether bucket idx is allowed to split: either it is
// the bucket containing the local ID, or it sits within two positions of it
// in list order (§4.2: "... or is within two buckets of it").
func (f *family) splittable(idx int) bool {
	home := f.homeIndex()
	d := idx - home
	if d < 0 {
		d = -d
	}
	return d <= 2
}

// insert adds or refreshes node in the routing table. It returns true if the
// node now occupies a bucket slot (possibly replacing a bad node or after a
// split), and false if the bucket was full and the node was only kept as a
// replacement candidate.
func (f *family) insert(node *Node, now time.Time) bool {
	for {
		idx := f.indexFor(node.ID)
		b := f.buckets[idx]

		if i := b.indexOf(node.ID); i >= 0 {
			b.nodes[i] = node
			f.byAddr[node.Addr.String()] = node
			return true
		}

		if len(b.nodes) < K {
			b.nodes = append(b.nodes, node)
			b.lastChanged = now
			f.byAddr[node.Addr.String()] = node
			return true
		}

		if i := b.indexOfWorst(); i >= 0 {
			delete(f.byAddr, b.nodes[i].Addr.String())
			b.nodes[i] = node
			b.lastChanged = now
			f.byAddr[node.Addr.String()] = node
			return true
		}

		if f.splittable(idx) {
			low, high := b.split(now)
			f.buckets = append(f.buckets[:idx], append([]*bucket{low, high}, f.buckets[idx+1:]...)...)
			continue
		}

		b.replacement = node
		return false
	}
}

// remove deletes node by id from whichever bucket holds it, promoting the
// bucket's replacement candidate if one is waiting.
func (f *family) remove(id identifier.ID) {
	idx := f.indexFor(id)
	b := f.buckets[idx]
	i := b.indexOf(id)
	if i < 0 {
		return
	}
	delete(f.byAddr, b.nodes[i].Addr.String())
	if b.replacement != nil {
		b.nodes[i] = b.replacement
		b.replacement = nil
		f.byAddr[b.nodes[i].Addr.String()] = b.nodes[i]
	} else {
		b.nodes = append(b.nodes[:i], b.nodes[i+1:]...)
	}
}

func (f *family) get(id identifier.ID) *Node {
	idx := f.indexFor(id)
	b := f.buckets[idx]
	if i := b.indexOf(id); i >= 0 {
		return b.nodes[i]
	}
	return nil
}

func (f *family) byAddress(addr string) *Node {
	return f.byAddr[addr]
}

// closest returns up to k nodes ordered by ascending XOR distance to target,
// collecting every node of the family and sorting them (§4.3).
func (f *family) closest(target identifier.ID, k int) []*Node {
	all := make([]*Node, 0, k*2)
	for _, b := range f.buckets {
		all = append(all, b.nodes...)
	}
	// simple insertion sort by distance; routing tables stay small (a few
	// hundred nodes at most), so this beats pulling in a sort.Slice closure
	// allocation per call.
	for i := 1; i < len(all); i++ {
		j := i
		for j > 0 && identifier.Less(all[j].ID, all[j-1].ID, target) {
			all[j], all[j-1] = all[j-1], all[j]
			j--
		}
	}
	if len(all) > k {
		all = all[:k]
	}
	return all
}

// all returns every node currently held across all buckets.
func (f *family) all() []*Node {
	var out []*Node
	for _, b := range f.buckets {
		out = append(out, b.nodes...)
	}
	return out
}

// staleBuckets returns buckets due for a refresh lookup.
func (f *family) staleBuckets(now time.Time) []*bucket {
	var out []*bucket
	for _, b := range f.buckets {
		if b.stale(now) {
			out = append(out, b)
		}
	}
	return out
}

func (f *family) count() int {
	n := 0
	for _, b := range f.buckets {
		n += len(b.nodes)
	}
	return n
}
