package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestCache_SetGetExpiry(t *testing.T) {
	c := NewCache(CacheConfig{DefaultTTL: 20 * time.Millisecond, CleanupInterval: time.Hour})
	c.Set("a", 1, 0)

	v, ok := c.Get("a")
	require.True(t, ok)
	require.Equal(t, 1, v)

	time.Sleep(30 * time.Millisecond)
	_, ok = c.Get("a")
	require.False(t, ok)
}

func TestCache_InvalidateVersionClearsAll(t *testing.T) {
	c := NewCache(DefaultConfig())
	c.Set("a", 1, time.Minute)
	c.InvalidateVersion()
	_, ok := c.Get("a")
	require.False(t, ok)
}

func TestCache_InvalidatePatternPrefix(t *testing.T) {
	c := NewCache(DefaultConfig())
	c.Set("warm:1", "x", time.Minute)
	c.Set("cold:1", "y", time.Minute)
	c.InvalidatePattern("warm:")

	_, ok := c.Get("warm:1")
	require.False(t, ok)
	_, ok = c.Get("cold:1")
	require.True(t, ok)
}

func TestTTLCache_PrefixIsolatesKeys(t *testing.T) {
	ctx := context.Background()
	c := NewTTLCache(time.Minute)
	c.Set(ctx, "rec-1", "content")

	v, ok := c.Get(ctx, "rec-1")
	require.True(t, ok)
	require.Equal(t, "content", v)

	c.Delete(ctx, "rec-1")
	_, ok = c.Get(ctx, "rec-1")
	require.False(t, ok)
}
