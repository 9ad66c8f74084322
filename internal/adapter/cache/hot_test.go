package cache

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/claudette-ai/claudette/internal/core/domain"
)

func entryOf(fp string, size int64, age time.Duration) *domain.CacheEntry {
	now := time.Now()
	return &domain.CacheEntry{
		Fingerprint: fp,
		Response:    domain.Response{Content: fp},
		CreatedAt:   now.Add(-age),
		ExpiresAt:   now.Add(time.Hour),
		LastAccess:  now.Add(-age),
		Size:        size,
	}
}

func TestHotTier_GetSet(t *testing.T) {
	tier := newHotTier(1 << 20)
	tier.set(entryOf("fp1", 100, 0))

	got, ok := tier.get("fp1", time.Now())
	require.True(t, ok)
	assert.Equal(t, "fp1", got.Response.Content)
	assert.Equal(t, int64(1), got.HitCount)

	_, ok = tier.get("missing", time.Now())
	assert.False(t, ok)
}

func TestHotTier_ExpiredEntriesPurgedLazily(t *testing.T) {
	tier := newHotTier(1 << 20)
	e := entryOf("fp1", 100, 0)
	e.ExpiresAt = time.Now().Add(-time.Minute)
	tier.set(e)

	_, ok := tier.get("fp1", time.Now())
	assert.False(t, ok)

	entries, _ := tier.stats()
	assert.Zero(t, entries)
}

func TestHotTier_ReplaceKeepsAccounting(t *testing.T) {
	tier := newHotTier(1 << 20)
	tier.set(entryOf("fp1", 100, 0))
	tier.set(entryOf("fp1", 300, 0))

	entries, bytes := tier.stats()
	assert.Equal(t, int64(1), entries)
	assert.Equal(t, int64(300), bytes)
}

func TestHotTier_MediumPressureEvictsToBand(t *testing.T) {
	tier := newHotTier(1000)
	for i := 0; i < 8; i++ {
		tier.set(entryOf(fmt.Sprintf("fp%d", i), 100, time.Duration(i)*time.Hour))
	}

	_, bytes := tier.stats()
	assert.LessOrEqual(t, bytes, int64(750), "eviction must bring the tier below the 75%% band")
	assert.Greater(t, bytes, int64(0))
}

func TestHotTier_CriticalPressureClears(t *testing.T) {
	tier := newHotTier(1000)
	tier.set(entryOf("a", 480, 0))
	tier.set(entryOf("b", 480, 0))

	entries, _ := tier.stats()
	assert.Zero(t, entries, "above 95%% the tier clears entirely")
}

func TestEvictionScore_Ordering(t *testing.T) {
	now := time.Now()

	popular := &hotEntry{entry: domain.CacheEntry{Size: 100}}
	popular.hits.Store(50)
	popular.lastAccess.Store(now.UnixNano())

	stale := &hotEntry{entry: domain.CacheEntry{Size: 100}}
	stale.hits.Store(50)
	stale.lastAccess.Store(now.Add(-24 * time.Hour).UnixNano())

	big := &hotEntry{entry: domain.CacheEntry{Size: 1 << 20}}
	big.hits.Store(50)
	big.lastAccess.Store(now.UnixNano())

	assert.Greater(t, evictionScore(popular, now), evictionScore(stale, now),
		"staleness lowers the score")
	assert.Greater(t, evictionScore(popular, now), evictionScore(big, now),
		"size lowers the score")
}

func TestEvictionScore_RecencyCapped(t *testing.T) {
	now := time.Now()

	week := &hotEntry{entry: domain.CacheEntry{Size: 100}}
	week.lastAccess.Store(now.Add(-168 * time.Hour).UnixNano())

	month := &hotEntry{entry: domain.CacheEntry{Size: 100}}
	month.lastAccess.Store(now.Add(-720 * time.Hour).UnixNano())

	assert.InDelta(t, evictionScore(week, now), evictionScore(month, now), 1e-9,
		"staleness beyond one week contributes no further penalty")
}

func TestHotTier_EvictsLowestScoredFirst(t *testing.T) {
	tier := newHotTier(1000)

	// A popular fresh entry and cold old ones.
	hot := entryOf("hot", 100, 0)
	hot.HitCount = 100
	tier.set(hot)
	for i := 0; i < 7; i++ {
		tier.set(entryOf(fmt.Sprintf("cold%d", i), 100, 48*time.Hour))
	}

	_, ok := tier.get("hot", time.Now())
	assert.True(t, ok, "the popular entry must survive the sweep")
}
