package storage

import (
	"testing"

	"github.com/stretchr/testify/require"

	"kadnode/identifier"
)

func TestAddAndPeers(t *testing.T) {
	s := New(16, 8)
	ih, _ := identifier.FromHex("aabbccddeeff00112233445566778899aabbccdd")

	require.True(t, s.Add(ih, "1.2.3.4:6881"))
	require.False(t, s.Add(ih, "1.2.3.4:6881"), "duplicate contact should not be re-added")
	require.Equal(t, 1, s.Count(ih))

	peers := s.Peers(ih, 8)
	require.Equal(t, []string{"1.2.3.4:6881"}, peers)
}

func TestPerHashCapEvictsOldestWhenNothingIsDead(t *testing.T) {
	s := New(16, 2)
	ih, _ := identifier.FromHex("aabbccddeeff00112233445566778899aabbccdd")

	require.True(t, s.Add(ih, "1.1.1.1:1"))
	require.True(t, s.Add(ih, "2.2.2.2:2"))
	// At cap; nothing is dead, so the oldest contact (1.1.1.1:1) is evicted
	// to make room for the new one.
	require.True(t, s.Add(ih, "3.3.3.3:3"))
	require.Equal(t, 2, s.Count(ih))

	peers := s.Peers(ih, 8)
	require.ElementsMatch(t, []string{"2.2.2.2:2", "3.3.3.3:3"}, peers)
}

func TestLenTracksDistinctHashes(t *testing.T) {
	s := New(16, 8)
	a, _ := identifier.FromHex("aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa")
	b, _ := identifier.FromHex("bbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb")

	s.Add(a, "1.1.1.1:1")
	s.Add(b, "2.2.2.2:2")
	require.Equal(t, 2, s.Len())
}
