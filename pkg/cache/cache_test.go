package cache_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crave-labs/cravecore-go/pkg/adapter"
	"github.com/crave-labs/cravecore-go/pkg/cache"
)

func newCache(hot, warm int64) *cache.TieredCache {
	return cache.New(cache.Config{
		HotCapacityBytes:  hot,
		WarmCapacityBytes: warm,
	}, nil)
}

func payload(n int) []byte {
	return make([]byte, n)
}

func TestPlaceAndAcquire(t *testing.T) {
	c := newCache(100, 100)

	require.NoError(t, c.Place("a", adapter.TierWarm, payload(40)))
	assert.Equal(t, adapter.TierWarm, c.ResidentTier("a"))

	h, err := c.Acquire("a")
	require.NoError(t, err)
	assert.Equal(t, "a", h.AdapterID)
	assert.Equal(t, adapter.TierWarm, h.Tier)
	assert.Len(t, h.Payload, 40)
	h.Release()
}

func TestAcquireMiss(t *testing.T) {
	c := newCache(100, 100)

	_, err := c.Acquire("ghost")
	assert.ErrorIs(t, err, cache.ErrNotResident)
}

func TestTierCapacityInvariant(t *testing.T) {
	c := newCache(100, 100)

	require.NoError(t, c.Place("a", adapter.TierWarm, payload(60)))
	require.NoError(t, c.Place("b", adapter.TierWarm, payload(60)))

	used, capacity := c.Usage(adapter.TierWarm)
	assert.LessOrEqual(t, used, capacity)

	// The first entry was evicted to make room.
	assert.Equal(t, adapter.TierNone, c.ResidentTier("a"))
	assert.Equal(t, adapter.TierWarm, c.ResidentTier("b"))
}

func TestPlaceOversizedPayload(t *testing.T) {
	c := newCache(100, 100)

	err := c.Place("huge", adapter.TierWarm, payload(101))
	assert.ErrorIs(t, err, cache.ErrCapacityExceeded)
}

func TestPinnedNeverEvicted(t *testing.T) {
	c := newCache(100, 100)

	require.NoError(t, c.Place("pinned", adapter.TierWarm, payload(80)))
	h, err := c.Acquire("pinned")
	require.NoError(t, err)

	// The only possible victim is pinned, so the placement must fail
	// rather than evict it.
	err = c.Place("b", adapter.TierWarm, payload(80))
	assert.ErrorIs(t, err, cache.ErrCapacityExceeded)
	assert.Equal(t, adapter.TierWarm, c.ResidentTier("pinned"))

	h.Release()
	require.NoError(t, c.Place("b", adapter.TierWarm, payload(80)))
	assert.Equal(t, adapter.TierNone, c.ResidentTier("pinned"))
}

func TestPlaceIdempotentRefresh(t *testing.T) {
	c := newCache(100, 100)

	require.NoError(t, c.Place("a", adapter.TierWarm, payload(40)))
	require.NoError(t, c.Place("a", adapter.TierWarm, payload(40)))

	used, _ := c.Usage(adapter.TierWarm)
	assert.Equal(t, int64(40), used)
}

func TestEvictionPrefersLowestScore(t *testing.T) {
	c := newCache(100, 100)

	now := time.Now()
	c.SetNow(func() time.Time { return now })

	require.NoError(t, c.Place("stale", adapter.TierWarm, payload(40)))
	require.NoError(t, c.Place("fresh", adapter.TierWarm, payload(40)))

	// Same recency; give fresh a higher decayed frequency so stale scores
	// lower and is selected first.
	c.RecordUsage("fresh", 5.0)

	require.NoError(t, c.Place("new", adapter.TierWarm, payload(40)))

	assert.Equal(t, adapter.TierNone, c.ResidentTier("stale"))
	assert.Equal(t, adapter.TierWarm, c.ResidentTier("fresh"))
	assert.Equal(t, adapter.TierWarm, c.ResidentTier("new"))
}

func TestPromoteCopyThenDelete(t *testing.T) {
	c := newCache(100, 100)

	require.NoError(t, c.Place("a", adapter.TierWarm, payload(40)))
	require.NoError(t, c.Promote("a", adapter.TierHot))

	assert.Equal(t, adapter.TierHot, c.ResidentTier("a"))

	warmUsed, _ := c.Usage(adapter.TierWarm)
	hotUsed, _ := c.Usage(adapter.TierHot)
	assert.Equal(t, int64(0), warmUsed)
	assert.Equal(t, int64(40), hotUsed)
}

func TestPromotePinnedDefersSourceRemoval(t *testing.T) {
	c := newCache(100, 100)

	require.NoError(t, c.Place("a", adapter.TierWarm, payload(40)))
	h, err := c.Acquire("a")
	require.NoError(t, err)

	require.NoError(t, c.Promote("a", adapter.TierHot))

	// Both copies exist while the warm copy is pinned; reads keep working
	// through the old handle.
	warmUsed, _ := c.Usage(adapter.TierWarm)
	assert.Equal(t, int64(40), warmUsed)

	h.Release()
	warmUsed, _ = c.Usage(adapter.TierWarm)
	assert.Equal(t, int64(0), warmUsed)
	assert.Equal(t, adapter.TierHot, c.ResidentTier("a"))
}

func TestPromoteNotResident(t *testing.T) {
	c := newCache(100, 100)

	err := c.Promote("ghost", adapter.TierHot)
	assert.ErrorIs(t, err, cache.ErrNotResident)
}

func TestDemoteToWarm(t *testing.T) {
	c := newCache(100, 100)

	require.NoError(t, c.Place("a", adapter.TierHot, payload(40)))
	require.NoError(t, c.Demote("a", adapter.TierWarm))

	assert.Equal(t, adapter.TierWarm, c.ResidentTier("a"))
}

func TestDemoteToColdDropsInMemoryCopies(t *testing.T) {
	c := newCache(100, 100)

	require.NoError(t, c.Place("a", adapter.TierHot, payload(40)))
	require.NoError(t, c.Demote("a", adapter.TierCold))

	assert.Equal(t, adapter.TierNone, c.ResidentTier("a"))
}

func TestSingleEvictionOnHotPressure(t *testing.T) {
	c := newCache(100, 100)

	now := time.Now()
	c.SetNow(func() time.Time { return now })

	require.NoError(t, c.Place("a", adapter.TierHot, payload(40)))
	require.NoError(t, c.Place("b", adapter.TierHot, payload(40)))

	// 20 bytes free; one eviction is enough for a 40-byte insert and the
	// other resident must survive.
	require.NoError(t, c.Place("c", adapter.TierHot, payload(40)))

	resident := 0
	for _, id := range []string{"a", "b"} {
		if c.ResidentTier(id) == adapter.TierHot {
			resident++
		}
	}
	assert.Equal(t, 1, resident)
	assert.Equal(t, adapter.TierHot, c.ResidentTier("c"))
}

func TestReleaseIdempotent(t *testing.T) {
	c := newCache(100, 100)

	require.NoError(t, c.Place("a", adapter.TierWarm, payload(40)))
	h, err := c.Acquire("a")
	require.NoError(t, err)

	h.Release()
	h.Release()

	// The reference count did not go negative: a second acquire and a
	// pinned-eviction check still behave.
	h2, err := c.Acquire("a")
	require.NoError(t, err)
	err = c.Place("b", adapter.TierWarm, payload(80))
	assert.ErrorIs(t, err, cache.ErrCapacityExceeded)
	h2.Release()
}

func TestDrainingFreezesEviction(t *testing.T) {
	c := newCache(100, 100)

	require.NoError(t, c.Place("a", adapter.TierWarm, payload(80)))
	c.SetDraining(true)

	err := c.Place("b", adapter.TierWarm, payload(80))
	assert.ErrorIs(t, err, cache.ErrCapacityExceeded)
	assert.Equal(t, adapter.TierWarm, c.ResidentTier("a"))
}
