// Package reactor drives the node's single-threaded event loop: packets
// arriving on the transport, a 1-second maintenance tick, and a shutdown
// signal are all handled from one goroutine so no two handlers ever run
// concurrently, matching the original daemon's select()-based design.
package reactor

import (
	"context"
	"time"

	"github.com/yasserelgammal/rate-limiter/limiter"
	"github.com/yasserelgammal/rate-limiter/store"

	"kadnode/logger"
	"kadnode/transport"
)

// Tick is the maintenance-timer period (node housekeeping: bucket refresh,
// announcement refresh/expiry, search expiry).
const Tick = 1 * time.Second

// ClientRateLimit and ClientBurst bound how many packets per second a
// single source address may have processed, so one noisy or hostile peer
// cannot starve the single-threaded loop.
const (
	ClientRateLimit = 20
	ClientBurst     = 40
)

// Handler processes one received packet. It must never block: the reactor
// is single-threaded and a stalled handler stalls the entire node.
type Handler func(p transport.Packet)

// Reactor owns the event loop. It is not safe to call Run from more than
// one goroutine.
type Reactor struct {
	t       *transport.Transport
	log     logger.DebugLogger
	throttle *limiter.TokenBucket
	onPacket Handler
	onTick   func(now time.Time)
}

// New creates a reactor over an already-open transport.
func New(t *transport.Transport, onPacket Handler, onTick func(now time.Time), log logger.DebugLogger) (*Reactor, error) {
	tb, err := limiter.NewTokenBucket(
		limiter.Config{
			Rate:     ClientRateLimit,
			Duration: time.Second,
			Burst:    ClientBurst,
		},
		store.NewMemoryStore(time.Minute),
	)
	if err != nil {
		return nil, err
	}
	return &Reactor{
		t:        t,
		log:      log,
		throttle: tb,
		onPacket: onPacket,
		onTick:   onTick,
	}, nil
}

// Run blocks, servicing incoming packets and the maintenance tick until ctx
// is canceled.
func (r *Reactor) Run(ctx context.Context) {
	ticker := time.NewTicker(Tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case pkt := <-r.t.Incoming:
			r.handle(pkt)
		case now := <-ticker.C:
			r.onTick(now)
		}
	}
}

func (r *Reactor) handle(pkt transport.Packet) {
	defer r.t.Release(pkt)
	if !r.throttle.Allow(pkt.Addr.IP.String()) {
		if r.log != nil {
			r.log.Debugf("reactor: dropping packet from %s, rate limit exceeded", pkt.Addr.IP)
		}
		return
	}
	r.onPacket(pkt)
}
