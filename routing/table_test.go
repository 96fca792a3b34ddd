package routing

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"kadnode/identifier"
)

func mustID(t *testing.T, hex string) identifier.ID {
	t.Helper()
	id, err := identifier.FromHex(hex)
	require.NoError(t, err)
	return id
}

func TestInsertAndGet(t *testing.T) {
	local := mustID(t, "000000000000000000000000000000000000000a")
	now := time.Unix(0, 0)
	tbl := New(local, now)

	id := mustID(t, "ffffffffffffffffffffffffffffffffffffffff")
	addr := net.UDPAddr{IP: net.ParseIP("1.2.3.4"), Port: 6881}
	node := &Node{ID: id, Addr: addr}

	require.True(t, tbl.Insert(node, now))
	require.Equal(t, node, tbl.GetOrCreateNode(id, addr, now))
	require.Equal(t, node, tbl.HostPortToNode(addr))
}

func TestBucketSplitsOnOvercapacityNearLocalID(t *testing.T) {
	local := mustID(t, "000000000000000000000000000000000000000a")
	now := time.Unix(0, 0)
	tbl := New(local, now)

	// First K nodes share the local id's top bit (0) and fill the sole
	// bucket; the K+1th flips the top bit, forcing exactly one split so it
	// can land in the new sibling bucket.
	for i := 0; i < K; i++ {
		raw := make([]byte, identifier.Len)
		raw[identifier.Len-1] = byte(i + 1)
		id, err := identifier.FromBytes(raw)
		require.NoError(t, err)
		addr := net.UDPAddr{IP: net.ParseIP("10.0.0.1"), Port: 6000 + i}
		tbl.Insert(&Node{ID: id, Addr: addr}, now)
	}
	raw := make([]byte, identifier.Len)
	raw[0] = 0x80
	overflow, err := identifier.FromBytes(raw)
	require.NoError(t, err)
	tbl.Insert(&Node{ID: overflow, Addr: net.UDPAddr{IP: net.ParseIP("10.0.0.1"), Port: 7000}}, now)

	v4, _ := tbl.BucketCount()
	require.Greater(t, v4, 1, "bucket containing local id should have split")
}

func TestClosestOrdersByDistance(t *testing.T) {
	local := mustID(t, "000000000000000000000000000000000000000a")
	now := time.Unix(0, 0)
	tbl := New(local, now)

	target := mustID(t, "ffffffffffffffffffffffffffffffffffffffff")
	near := mustID(t, "fffffffffffffffffffffffffffffffffffffffe")
	far := mustID(t, "000000000000000000000000000000000000ffff")

	tbl.Insert(&Node{ID: far, Addr: net.UDPAddr{IP: net.ParseIP("10.0.0.1"), Port: 1}}, now)
	tbl.Insert(&Node{ID: near, Addr: net.UDPAddr{IP: net.ParseIP("10.0.0.2"), Port: 2}}, now)

	closest := tbl.Closest(target, 2, false)
	require.Len(t, closest, 2)
	require.Equal(t, near, closest[0].ID)
}

func TestCleanupFindsQuestionableNodes(t *testing.T) {
	local := mustID(t, "000000000000000000000000000000000000000a")
	start := time.Unix(0, 0)
	tbl := New(local, start)

	id := mustID(t, "111111111111111111111111111111111111111a")
	addr := net.UDPAddr{IP: net.ParseIP("10.0.0.9"), Port: 9}
	node := &Node{ID: id, Addr: addr, LastReply: start}
	tbl.Insert(node, start)

	later := start.Add(LivenessWindow * 2)
	due := tbl.Cleanup(later)
	require.Len(t, due, 1)
	require.Equal(t, id, due[0].ID)
}

func TestKillRemovesNode(t *testing.T) {
	local := mustID(t, "000000000000000000000000000000000000000a")
	now := time.Unix(0, 0)
	tbl := New(local, now)

	id := mustID(t, "111111111111111111111111111111111111111a")
	addr := net.UDPAddr{IP: net.ParseIP("10.0.0.9"), Port: 9}
	tbl.Insert(&Node{ID: id, Addr: addr}, now)

	tbl.Kill(id, false)
	require.Nil(t, tbl.HostPortToNode(addr))
}

func TestStaleBucketTargetsReportsFamilyAndRange(t *testing.T) {
	local := mustID(t, "000000000000000000000000000000000000000a")
	start := time.Unix(0, 0)
	tbl := New(local, start)

	require.Empty(t, tbl.StaleBucketTargets(start))

	stale := start.Add(RefreshInterval + time.Second)
	targets := tbl.StaleBucketTargets(stale)
	require.Len(t, targets, 2)
	var sawV4, sawV6 bool
	for _, tgt := range targets {
		if tgt.V6 {
			sawV6 = true
		} else {
			sawV4 = true
		}
	}
	require.True(t, sawV4)
	require.True(t, sawV6)
}
