package kadnode

import (
	"context"
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"kadnode/identifier"
	"kadnode/logger"
	"kadnode/lookup"
)

// startNode brings up a Node on an ephemeral loopback port, wired to shut
// down when the test finishes, and returns it along with its bound port.
func startNode(t *testing.T) (*Node, int) {
	t.Helper()
	cfg := NewConfig()
	cfg.Port = 0
	cfg.EnableV4 = true
	cfg.EnableV6 = false
	cfg.ControlSocketPath = ""

	n, err := New(cfg, &logger.NullLogger{})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	go n.Run(ctx)
	t.Cleanup(cancel)

	readyCtx, readyCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer readyCancel()
	port, err := n.LocalPort(readyCtx)
	require.NoError(t, err)
	return n, port
}

// TestColdStartSingleBootstrap reproduces spec.md's end-to-end scenario 1:
// injecting a single bootstrap contact enters it into the routing table,
// already marked as replied once its own pong arrives.
func TestColdStartSingleBootstrap(t *testing.T) {
	a, _ := startNode(t)
	b, bPort := startNode(t)

	addr := fmt.Sprintf("127.0.0.1:%d", bPort)
	out, err := a.Peer(addr)
	require.NoError(t, err)
	require.Contains(t, out, "pong")

	v4, _ := a.table.Count()
	require.Equal(t, 1, v4)

	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	require.NoError(t, err)
	node := a.table.HostPortToNode(*udpAddr)
	require.NotNil(t, node)
	require.Equal(t, b.ID, node.ID)
	require.False(t, node.LastReply.IsZero())
}

// TestLookupDiscoversContactsIntoRoutingTable chains scenario 1 one hop
// further: A bootstraps through C, which already knows B; A's find_node
// search through C should fold B into A's own routing table as a
// not-yet-replied contact, matching "the 3 returned contacts ... marked as
// not-yet-replied until their own pings arrive."
func TestLookupDiscoversContactsIntoRoutingTable(t *testing.T) {
	a, _ := startNode(t)
	b, bPort := startNode(t)
	c, cPort := startNode(t)

	// C learns about B first, so it has something to hand back.
	_, err := c.Peer(fmt.Sprintf("127.0.0.1:%d", bPort))
	require.NoError(t, err)

	// A bootstraps through C.
	_, err = a.Peer(fmt.Sprintf("127.0.0.1:%d", cPort))
	require.NoError(t, err)

	// Drive a single lookup round directly (the equivalent of one reactor
	// tick's worth of querying) rather than the full Lookup command, which
	// would keep stepping until B itself answers too.
	seed := a.table.Closest(b.ID, lookup.KSearch, false)
	search, _ := a.lookups.Start(b.ID, false, toContacts(seed), time.Now())
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	progressed, err := a.lookups.Step(ctx, search)
	require.NoError(t, err)
	require.True(t, progressed)

	v4, _ := a.table.Count()
	require.Equal(t, 2, v4)

	bAddr := net.UDPAddr{IP: net.ParseIP("127.0.0.1").To4(), Port: bPort}
	bNode := a.table.HostPortToNode(bAddr)
	require.NotNil(t, bNode)
	require.Equal(t, b.ID, bNode.ID)
	require.True(t, bNode.LastReply.IsZero(), "B was only discovered via C's find_node reply, not pinged directly yet")
}

// TestLookupReturnsImmediatelyWithCurrentCandidates exercises spec.md §4.8's
// `lookup <id>` contract: it starts (or attaches to) a search and renders
// whatever the routing table already knows about target, without blocking
// on any network round-trip.
func TestLookupReturnsImmediatelyWithCurrentCandidates(t *testing.T) {
	a, _ := startNode(t)
	b, bPort := startNode(t)

	_, err := a.Peer(fmt.Sprintf("127.0.0.1:%d", bPort))
	require.NoError(t, err)

	start := time.Now()
	out, err := a.Lookup(b.ID)
	require.NoError(t, err)
	require.Less(t, time.Since(start), time.Second, "Lookup must return immediately, not drive network rounds inline")
	require.Contains(t, out, b.ID.String())

	_, ok := a.lookups.Get(b.ID)
	require.True(t, ok, "Lookup should have started a search that keeps running in the background")
}

// TestLookupFailsWithoutRoutingCandidates confirms Lookup reports failure
// rather than silently starting an unseeded search.
func TestLookupFailsWithoutRoutingCandidates(t *testing.T) {
	a, _ := startNode(t)
	target, err := identifier.Random()
	require.NoError(t, err)

	_, err = a.Lookup(target)
	require.Error(t, err)
}

// TestSearchStartReportsThreeWayOutcome covers spec.md §4.8's `search <id>`
// contract: a brand new search reports "Search started", an already
// in-flight one reports "Search in progress", and a search with nothing to
// seed it from reports failure.
func TestSearchStartReportsThreeWayOutcome(t *testing.T) {
	a, _ := startNode(t)
	b, bPort := startNode(t)

	target, err := identifier.Random()
	require.NoError(t, err)
	require.Equal(t, "Failed to start search: routing table has no candidates", a.SearchStart(target))

	_, err = a.Peer(fmt.Sprintf("127.0.0.1:%d", bPort))
	require.NoError(t, err)

	require.Equal(t, "Search started", a.SearchStart(b.ID))
	require.Equal(t, "Search in progress", a.SearchStart(b.ID))
}
