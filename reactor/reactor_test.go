package reactor

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"kadnode/transport"
)

func TestReactorDispatchesPacketsAndTicks(t *testing.T) {
	tr, err := transport.Open(0, true, false, time.Now())
	require.NoError(t, err)
	defer tr.Close()

	received := make(chan string, 1)
	ticked := make(chan time.Time, 1)

	r, err := New(tr, func(p transport.Packet) {
		received <- string(p.Data)
	}, func(now time.Time) {
		select {
		case ticked <- now:
		default:
		}
	}, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go r.Run(ctx)

	addr := net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: tr.LocalPort()}
	client, err := net.DialUDP("udp4", nil, &addr)
	require.NoError(t, err)
	defer client.Close()
	_, err = client.Write([]byte("hello"))
	require.NoError(t, err)

	select {
	case msg := <-received:
		require.Equal(t, "hello", msg)
	case <-time.After(2 * time.Second):
		t.Fatal("packet not dispatched")
	}

	select {
	case <-ticked:
	case <-time.After(2 * time.Second):
		t.Fatal("tick not observed")
	}
}
