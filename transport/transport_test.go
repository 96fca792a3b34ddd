package transport

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSendAndReceiveRoundTrip(t *testing.T) {
	server, err := Open(0, true, false, time.Now())
	require.NoError(t, err)
	defer server.Close()

	client, err := Open(0, true, false, time.Now())
	require.NoError(t, err)
	defer client.Close()

	serverAddr := net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: server.v4.LocalAddr().(*net.UDPAddr).Port}
	require.NoError(t, client.Send([]byte("ping"), serverAddr))

	select {
	case pkt := <-server.Incoming:
		require.Equal(t, "ping", string(pkt.Data))
		server.Release(pkt)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for packet")
	}
}

func TestCountersTrackBothDirections(t *testing.T) {
	now := time.Now()
	c := NewCounters(now)
	c.AddIn(10, now)
	c.AddOut(3, now)

	in, out := c.Totals(now)
	require.EqualValues(t, 10, in)
	require.EqualValues(t, 3, out)
}

func TestCountersAdvanceDropsOldBuckets(t *testing.T) {
	now := time.Now()
	c := NewCounters(now)
	c.AddIn(5, now)

	later := now.Add(BucketWidth * (bucketCount + 1))
	in, _ := c.Totals(later)
	require.EqualValues(t, 0, in)
}
