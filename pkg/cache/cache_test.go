package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type entry struct {
	Key   string `json:"key"`
	Price string `json:"price"`
}

func TestMemoryCache_RoundTripsStructs(t *testing.T) {
	ctx := context.Background()
	mc := NewMemoryCache(WithMemoryCleanup(0))
	t.Cleanup(func() { _ = mc.Close() })

	require.NoError(t, mc.Set(ctx, "snapshot:BTCAUD", entry{Key: "BTCAUD", Price: "101000.5"}, time.Minute))

	var got entry
	require.NoError(t, mc.Get(ctx, "snapshot:BTCAUD", &got))
	assert.Equal(t, entry{Key: "BTCAUD", Price: "101000.5"}, got)

	typed, err := MGetTyped[entry](ctx, mc, "snapshot:BTCAUD", "snapshot:ETHAUD")
	require.NoError(t, err)
	assert.Len(t, typed, 1)
	assert.Equal(t, "BTCAUD", typed["snapshot:BTCAUD"].Key)
}

func TestMemoryCache_Expiry(t *testing.T) {
	ctx := context.Background()
	now := time.Unix(1_700_000_000, 0)
	mc := NewMemoryCache(WithMemoryCleanup(0))
	mc.now = func() time.Time { return now }

	require.NoError(t, mc.Set(ctx, "k", "v", time.Second))
	ok, err := mc.Exists(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)

	now = now.Add(2 * time.Second)
	var s string
	assert.ErrorIs(t, mc.Get(ctx, "k", &s), ErrCacheMiss)
	assert.Zero(t, mc.Len())
}

func TestMemoryCache_EvictsLeastRecentlyUsed(t *testing.T) {
	ctx := context.Background()
	now := time.Unix(1_700_000_000, 0)
	mc := NewMemoryCache(WithMemoryCleanup(0), WithMemoryMaxSize(2))
	mc.now = func() time.Time { return now }

	_ = mc.Set(ctx, "a", "1", 0)
	now = now.Add(time.Second)
	_ = mc.Set(ctx, "b", "2", 0)
	now = now.Add(time.Second)
	var s string
	require.NoError(t, mc.Get(ctx, "a", &s))
	now = now.Add(time.Second)
	_ = mc.Set(ctx, "c", "3", 0)

	assert.ErrorIs(t, mc.Get(ctx, "b", &s), ErrCacheMiss)
	assert.NoError(t, mc.Get(ctx, "a", &s))
	assert.NoError(t, mc.Get(ctx, "c", &s))
}

func TestLayeredCache_ReadsThroughAndWritesThrough(t *testing.T) {
	ctx := context.Background()
	remote := NewMemoryCache(WithMemoryCleanup(0))
	lc := NewLayeredCache(remote)
	t.Cleanup(func() { _ = lc.Close() })

	require.NoError(t, remote.Set(ctx, "only-remote", entry{Key: "ETHAUD"}, time.Minute))
	var got entry
	require.NoError(t, lc.Get(ctx, "only-remote", &got))
	assert.Equal(t, "ETHAUD", got.Key)
	assert.Equal(t, 1, lc.memCache.Len(), "remote hit is kept in L1")

	require.NoError(t, lc.Set(ctx, "both", entry{Key: "BTCAUD"}, time.Minute))
	ok, err := remote.Exists(ctx, "both")
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, lc.Delete(ctx, "both"))
	assert.ErrorIs(t, lc.Get(ctx, "both", &got), ErrCacheMiss)
}
