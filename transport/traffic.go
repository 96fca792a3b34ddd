package transport

import (
	"sync"
	"time"
)

// BucketWidth is the width of a single traffic-counting bucket: one second,
// matching the original daemon's time_now-indexed counters.
const BucketWidth = time.Second

// bucketCount is how many buckets are kept. The original daemon indexes by
// time_now % TRAFFIC_DURATION_SECONDS (8), giving an 8-second rolling
// window; this implementation keeps that window but, unlike the original,
// credits each direction to its own counter instead of swapping them.
const bucketCount = 8

// Counters tracks bytes sent and received in a ring of fixed-width time
// buckets, so a control-protocol client can ask "how much traffic in the
// last N seconds" without the core keeping a running log.
type Counters struct {
	mu      sync.Mutex
	in      [bucketCount]uint64
	out     [bucketCount]uint64
	idx     int
	lastTs  time.Time
	started time.Time
}

// NewCounters creates a zeroed counter ring anchored at now.
func NewCounters(now time.Time) *Counters {
	return &Counters{lastTs: now, started: now}
}

// advance rotates the ring forward to now, zeroing any buckets skipped over.
func (c *Counters) advance(now time.Time) {
	elapsed := now.Sub(c.lastTs)
	if elapsed < BucketWidth {
		return
	}
	steps := int(elapsed / BucketWidth)
	if steps > bucketCount {
		steps = bucketCount
	}
	for i := 0; i < steps; i++ {
		c.idx = (c.idx + 1) % bucketCount
		c.in[c.idx] = 0
		c.out[c.idx] = 0
	}
	c.lastTs = now
}

// AddIn records n received bytes at time now.
func (c *Counters) AddIn(n int, now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.advance(now)
	c.in[c.idx] += uint64(n)
}

// AddOut records n sent bytes at time now.
func (c *Counters) AddOut(n int, now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.advance(now)
	c.out[c.idx] += uint64(n)
}

// Totals returns the in/out byte counts summed over the retained window.
func (c *Counters) Totals(now time.Time) (in, out uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.advance(now)
	for i := range c.in {
		in += c.in[i]
		out += c.out[i]
	}
	return in, out
}
