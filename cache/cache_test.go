package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCache(t *testing.T) *Cache {
	t.Helper()
	c := New()
	t.Cleanup(c.Stop)
	return c
}

func TestCacheSetGet(t *testing.T) {
	c := newTestCache(t)

	c.Set("key", "value", time.Minute)
	got, ok := c.Get("key")
	require.True(t, ok)
	assert.Equal(t, "value", got)

	_, ok = c.Get("absent")
	assert.False(t, ok)
}

func TestCacheExpiry(t *testing.T) {
	c := newTestCache(t)

	c.Set("key", "value", 10*time.Millisecond)
	_, ok := c.Get("key")
	require.True(t, ok)

	time.Sleep(20 * time.Millisecond)
	_, ok = c.Get("key")
	assert.False(t, ok, "Expired entries must not be returned")
	assert.Equal(t, 0, c.Len(), "Expired entries are removed on access")
}

func TestCacheOverwrite(t *testing.T) {
	c := newTestCache(t)

	c.Set("key", 1, time.Minute)
	c.Set("key", 2, time.Minute)
	got, ok := c.Get("key")
	require.True(t, ok)
	assert.Equal(t, 2, got)
	assert.Equal(t, 1, c.Len())
}

func TestCacheDelete(t *testing.T) {
	c := newTestCache(t)

	c.Set("key", "value", time.Minute)
	c.Delete("key")
	_, ok := c.Get("key")
	assert.False(t, ok)

	// Deleting an absent key is a no-op
	c.Delete("absent")
}

func TestCacheDefaultTTL(t *testing.T) {
	c := newTestCache(t)

	c.Set("key", "value", 0)
	_, ok := c.Get("key")
	assert.True(t, ok, "A non-positive TTL falls back to the default")
}

func TestKeyConventions(t *testing.T) {
	assert.Equal(t, "coding-statistics:7", StatisticsKey(7))
	assert.Equal(t, "coding_incomplete_variables:7", IncompleteVariablesKey(7))
	assert.Equal(t, "unit-def:7:u1", UnitDefKey(7, "u1"))
	assert.Equal(t, "coding-scheme:7:scheme-1", SchemeKey(7, "scheme-1"))

	// Keys are scoped per workspace
	assert.NotEqual(t, SchemeKey(1, "s"), SchemeKey(2, "s"))
}
