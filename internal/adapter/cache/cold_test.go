package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/claudette-ai/claudette/internal/core/domain"
	"github.com/claudette-ai/claudette/internal/logger"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(t.TempDir(), logger.Discard())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestSQLiteStore_RoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	now := time.Now().Truncate(time.Second)
	entry := &domain.CacheEntry{
		Fingerprint: "fp1",
		Response: domain.Response{
			Content:     "answer",
			BackendUsed: "openai",
			CostEUR:     0.001234,
		},
		CreatedAt:  now,
		ExpiresAt:  now.Add(time.Hour),
		LastAccess: now,
		HitCount:   3,
		Size:       64,
	}
	require.NoError(t, store.Put(ctx, entry))

	got, err := store.Get(ctx, "fp1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "answer", got.Response.Content)
	assert.Equal(t, "openai", got.Response.BackendUsed)
	assert.Equal(t, int64(3), got.HitCount)
	assert.True(t, got.ExpiresAt.Equal(now.Add(time.Hour)))
}

func TestSQLiteStore_MissReturnsNil(t *testing.T) {
	store := newTestStore(t)

	got, err := store.Get(context.Background(), "absent")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestSQLiteStore_UpsertReplaces(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Now()

	first := &domain.CacheEntry{
		Fingerprint: "fp1",
		Response:    domain.Response{Content: "v1"},
		CreatedAt:   now, ExpiresAt: now.Add(time.Hour), Size: 2,
	}
	require.NoError(t, store.Put(ctx, first))

	second := *first
	second.Response.Content = "v2"
	second.HitCount = 9
	require.NoError(t, store.Put(ctx, &second))

	got, err := store.Get(ctx, "fp1")
	require.NoError(t, err)
	assert.Equal(t, "v2", got.Response.Content)
	assert.Equal(t, int64(9), got.HitCount)
}

func TestSQLiteStore_CompactRemovesExpired(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Now()

	expired := &domain.CacheEntry{
		Fingerprint: "old",
		Response:    domain.Response{Content: "x"},
		CreatedAt:   now.Add(-2 * time.Hour), ExpiresAt: now.Add(-time.Hour), Size: 1,
	}
	live := &domain.CacheEntry{
		Fingerprint: "new",
		Response:    domain.Response{Content: "y"},
		CreatedAt:   now, ExpiresAt: now.Add(time.Hour), Size: 1,
	}
	require.NoError(t, store.Put(ctx, expired))
	require.NoError(t, store.Put(ctx, live))

	removed, err := store.Compact(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)

	got, err := store.Get(ctx, "new")
	require.NoError(t, err)
	assert.NotNil(t, got)
}

func TestSQLiteStore_Delete(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Now()

	entry := &domain.CacheEntry{
		Fingerprint: "fp1",
		Response:    domain.Response{Content: "x"},
		CreatedAt:   now, ExpiresAt: now.Add(time.Hour), Size: 1,
	}
	require.NoError(t, store.Put(ctx, entry))
	require.NoError(t, store.Delete(ctx, "fp1"))

	got, err := store.Get(ctx, "fp1")
	require.NoError(t, err)
	assert.Nil(t, got)
}
