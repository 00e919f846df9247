package cache

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFrameKey(t *testing.T) {
	k := FrameKey{ReplayID: "abc", Tick: 640, Size: 800, Names: true, Grenades: true, FocusID: "p1"}
	assert.Equal(t, "minimap:abc:640:800:101::p1", k.String())

	other := k
	other.HoverID = "p2"
	assert.NotEqual(t, k.String(), other.String())
}

func TestFrameKeyEscapesSeparators(t *testing.T) {
	a := FrameKey{ReplayID: "r", HoverID: "x:y", FocusID: ""}
	b := FrameKey{ReplayID: "r", HoverID: "x", FocusID: "y"}
	c := FrameKey{ReplayID: "r", HoverID: "x", FocusID: ":y"}
	assert.NotEqual(t, a.String(), b.String())
	assert.NotEqual(t, a.String(), c.String())
	assert.Equal(t, "minimap:r:0:0:000:x%3Ay:", a.String())
}

func TestReplayPatternEscapesGlob(t *testing.T) {
	assert.Equal(t, "minimap:abc:*", ReplayPattern("abc"))
	assert.Equal(t, "minimap:a%2Ab%3F%5B%5D:*", ReplayPattern("a*b?[]"))
}

func TestMemoryFrameCacheGetSet(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryFrameCache(nil)

	_, err := c.Get(ctx, "missing")
	assert.True(t, IsCacheMiss(err))

	require.NoError(t, c.Set(ctx, "k", []byte("png"), 0))
	val, err := c.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("png"), val)

	require.NoError(t, c.Delete(ctx, "k"))
	_, err = c.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrCacheMiss)

	assert.ErrorIs(t, c.Set(ctx, "", nil, 0), ErrInvalidKey)
}

func TestMemoryFrameCacheExpiry(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryFrameCache(&CacheConfig{DefaultTTL: time.Minute})
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }

	require.NoError(t, c.Set(ctx, "k", []byte{1}, 0))
	now = now.Add(59 * time.Second)
	_, err := c.Get(ctx, "k")
	require.NoError(t, err)

	now = now.Add(time.Second)
	_, err = c.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrCacheMiss)
}

func TestMemoryFrameCacheEviction(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryFrameCache(&CacheConfig{MaxEntries: 2})

	require.NoError(t, c.Set(ctx, "a", []byte{1}, 0))
	require.NoError(t, c.Set(ctx, "b", []byte{2}, 0))
	_, err := c.Get(ctx, "a") // a становится самым свежим
	require.NoError(t, err)
	require.NoError(t, c.Set(ctx, "c", []byte{3}, 0))

	_, err = c.Get(ctx, "b")
	assert.ErrorIs(t, err, ErrCacheMiss)
	_, err = c.Get(ctx, "a")
	assert.NoError(t, err)
	assert.Equal(t, int64(2), c.GetMetrics().TotalKeys)
}

func TestMemoryFrameCacheInvalidateReplay(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryFrameCache(nil)

	for tick := 0; tick < 3; tick++ {
		require.NoError(t, c.Set(ctx, FrameKey{ReplayID: "r1", Tick: tick, Size: 800}.String(), []byte{1}, 0))
	}
	require.NoError(t, c.Set(ctx, FrameKey{ReplayID: "r10", Size: 800}.String(), []byte{1}, 0))

	removed, err := c.InvalidateReplay(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, 3, removed)

	_, err = c.Get(ctx, FrameKey{ReplayID: "r10", Size: 800}.String())
	assert.NoError(t, err, "кадры повтора с общим префиксом id не затронуты")
}

func TestMemoryFrameCacheInvalidateReplayWithColon(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryFrameCache(nil)

	require.NoError(t, c.Set(ctx, FrameKey{ReplayID: "a", Tick: 1}.String(), []byte{1}, 0))
	require.NoError(t, c.Set(ctx, FrameKey{ReplayID: "a:1", Tick: 2}.String(), []byte{1}, 0))

	removed, err := c.InvalidateReplay(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, 1, removed)
	assert.Equal(t, int64(1), c.GetMetrics().TotalKeys)
}

func TestMemoryFrameCacheMetrics(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryFrameCache(nil)
	require.NoError(t, c.Set(ctx, "k", []byte{1}, 0))

	_, _ = c.Get(ctx, "k")
	_, _ = c.Get(ctx, "k")
	_, _ = c.Get(ctx, "x")

	m := c.GetMetrics()
	assert.Equal(t, int64(3), m.TotalRequests)
	assert.Equal(t, int64(2), m.CacheHits)
	assert.Equal(t, int64(1), m.CacheMisses)
	assert.InDelta(t, 0.666, m.HitRatio, 0.01)
}

// TestRedisFrameCache требует запущенный Redis (REPLAY_TEST_REDIS=localhost:6379)
func TestRedisFrameCache(t *testing.T) {
	addr := os.Getenv("REPLAY_TEST_REDIS")
	if addr == "" {
		t.Skip("REPLAY_TEST_REDIS не задан")
	}

	ctx := context.Background()
	c, err := NewRedisFrameCache(&CacheConfig{RedisURL: addr, RedisDB: 15})
	require.NoError(t, err)
	defer c.Close()

	key := FrameKey{ReplayID: "redis-test", Tick: 1, Size: 400}.String()
	require.NoError(t, c.Set(ctx, key, []byte("png"), time.Minute))

	val, err := c.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, []byte("png"), val)

	removed, err := c.InvalidateReplay(ctx, "redis-test")
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	_, err = c.Get(ctx, key)
	assert.True(t, IsCacheMiss(err))
}
