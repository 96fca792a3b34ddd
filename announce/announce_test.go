package announce

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"kadnode/identifier"
)

func alwaysCandidates() bool { return true }

func TestAddIsDueImmediately(t *testing.T) {
	m := New()
	id, _ := identifier.FromHex("aabbccddeeff00112233445566778899aabbccdd")
	now := time.Unix(1000, 0)

	m.Add(id, 6881, now.Add(time.Hour), now)
	due := m.DueForAnnounce(now, alwaysCandidates)
	require.Len(t, due, 1)
	require.Equal(t, 6881, due[0].Port)

	// Immediately after, it should not be due again until RefreshInterval passes.
	require.Empty(t, m.DueForAnnounce(now, alwaysCandidates))
}

func TestDueForAnnounceWaitsForRoutingCandidates(t *testing.T) {
	m := New()
	id, _ := identifier.FromHex("aabbccddeeff00112233445566778899aabbccdd")
	now := time.Unix(1000, 0)

	m.Add(id, 6881, now.Add(time.Hour), now)

	// No routing candidates yet: the entry stays due instead of losing its
	// refresh slot for a full RefreshInterval.
	require.Empty(t, m.DueForAnnounce(now, func() bool { return false }))
	due := m.DueForAnnounce(now, alwaysCandidates)
	require.Len(t, due, 1)
}

func TestAddRefreshesToLongerLifetime(t *testing.T) {
	m := New()
	id, _ := identifier.FromHex("aabbccddeeff00112233445566778899aabbccdd")
	now := time.Unix(1000, 0)

	m.Add(id, 6881, now.Add(time.Hour), now)
	m.Add(id, 6881, now.Add(2*time.Hour), now)

	all := m.All(now)
	require.Len(t, all, 1)
	require.InDelta(t, (2 * time.Hour).Seconds(), all[0].ExpireIn.Seconds(), 1)
}

func TestInfiniteLifetimeNeverExpires(t *testing.T) {
	m := New()
	id, _ := identifier.FromHex("aabbccddeeff00112233445566778899aabbccdd")
	now := time.Unix(1000, 0)

	m.Add(id, 6881, Forever, now)
	m.Expire(now.Add(100*365*24*time.Hour))
	require.Equal(t, 1, m.Count())
}

func TestExpireDropsPastLifetime(t *testing.T) {
	m := New()
	id, _ := identifier.FromHex("aabbccddeeff00112233445566778899aabbccdd")
	now := time.Unix(1000, 0)

	m.Add(id, 6881, now.Add(time.Minute), now)
	m.Expire(now.Add(time.Hour))
	require.Equal(t, 0, m.Count())
}
