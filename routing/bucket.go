package routing

import (
	"time"

	"kadnode/identifier"
)

// K is the bucket capacity (§1 Glossary, §4.2).
const K = 8

// RefreshInterval is how often a bucket that hasn't changed is due for a
// refresh lookup (§4.2).
const RefreshInterval = 10 * time.Minute

// bucket covers the ID range of nodes whose top bits bits positions match
// prefix. Nodes beyond bits are "don't care"; prefix always has those bits
// zeroed.
type bucket struct {
	prefix      identifier.ID
	bits        int
	nodes       []*Node
	replacement *Node
	lastChanged time.Time
}

func newBucket(prefix identifier.ID, bits int, now time.Time) *bucket {
	return &bucket{prefix: prefix, bits: bits, lastChanged: now}
}

// covers reports whether id falls within this bucket's range.
func (b *bucket) covers(id identifier.ID) bool {
	return b.bits == 0 || identifier.CommonPrefixLen(id, b.prefix) >= b.bits
}

func (b *bucket) indexOf(id identifier.ID) int {
	for i, n := range b.nodes {
		if n.ID == id {
			return i
		}
	}
	return -1
}

// indexOfWorst returns the index of the first bad node in the bucket, or -1.
func (b *bucket) indexOfWorst() int {
	for i, n := range b.nodes {
		if n.Bad() {
			return i
		}
	}
	return -1
}

func (b *bucket) stale(now time.Time) bool {
	return now.Sub(b.lastChanged) >= RefreshInterval
}

// split divides b into two children at the next bit position, redistributing
// its nodes and replacement candidate between them.
func (b *bucket) split(now time.Time) (low, high *bucket) {
	lowPrefix := b.prefix
	highPrefix := b.prefix
	highPrefix = setBit(highPrefix, b.bits)

	low = newBucket(lowPrefix, b.bits+1, now)
	high = newBucket(highPrefix, b.bits+1, now)

	all := append([]*Node{}, b.nodes...)
	if b.replacement != nil {
		all = append(all, b.replacement)
	}
	for _, n := range all {
		dst := low
		if !low.covers(n.ID) {
			dst = high
		}
		if len(dst.nodes) < K {
			dst.nodes = append(dst.nodes, n)
		} else if dst.replacement == nil {
			dst.replacement = n
		}
	}
	return low, high
}

// setBit returns id with bit position i (0 = most significant) set to 1.
func setBit(id identifier.ID, i int) identifier.ID {
	byteIdx := i / 8
	bitIdx := uint(7 - i%8)
	id[byteIdx] |= 1 << bitIdx
	return id
}
