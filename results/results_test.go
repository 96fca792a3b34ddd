package results

import (
	"context"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"kadnode/identifier"
)

func TestAddDedupesByIPLengthPort(t *testing.T) {
	s := New(nil, nil)
	target, _ := identifier.FromHex("aabbccddeeff00112233445566778899aabbccdd")

	r := Result{IP: net.ParseIP("1.2.3.4"), Port: 6881}
	require.True(t, s.Add(target, r))
	require.True(t, s.Add(target, r))

	v4, v6 := s.Count(target)
	require.Equal(t, 1, v4)
	require.Equal(t, 0, v6)
}

func TestAddRespectsCap(t *testing.T) {
	s := New(nil, nil)
	target, _ := identifier.FromHex("aabbccddeeff00112233445566778899aabbccdd")

	for i := 0; i < MaxResultsPerSearch; i++ {
		ip := net.IPv4(1, 2, byte(i/256), byte(i%256))
		require.True(t, s.Add(target, Result{IP: ip, Port: 1}))
	}
	overflow := Result{IP: net.ParseIP("9.9.9.9"), Port: 1}
	require.False(t, s.Add(target, overflow))
}

func TestHookFiresOnNovelResult(t *testing.T) {
	var calls int32
	hook := func(ctx context.Context, target identifier.ID, r Result) error {
		atomic.AddInt32(&calls, 1)
		return nil
	}
	s := New(hook, nil)
	target, _ := identifier.FromHex("aabbccddeeff00112233445566778899aabbccdd")

	r := Result{IP: net.ParseIP("1.2.3.4"), Port: 6881}
	s.Add(target, r)
	s.Add(target, r) // duplicate, must not refire

	require.Eventually(t, func() bool {
		return atomic.LoadInt32(&calls) == 1
	}, time.Second, 10*time.Millisecond)
}

func TestClearRemovesResults(t *testing.T) {
	s := New(nil, nil)
	target, _ := identifier.FromHex("aabbccddeeff00112233445566778899aabbccdd")
	s.Add(target, Result{IP: net.ParseIP("1.2.3.4"), Port: 1})
	s.Clear(target)
	require.Nil(t, s.All(target))
}
