// Package cache provides the time-bounded in-memory cache used for
// coding-scheme documents, unit definition files and derived statistics.
//
// The cache is an explicit component: construct one per process and pass
// it by reference to consumers. Values are derived data, so concurrent
// requests redundantly populating the same key is acceptable — last
// write wins on the TTL-stamped entry.
package cache

import (
	"fmt"
	"sync"
	"time"
)

// DefaultTTL is used when Set is called with a non-positive TTL.
const DefaultTTL = 10 * time.Minute

type entry struct {
	value     interface{}
	expiresAt time.Time
}

// Cache is a mutex-guarded TTL cache keyed by string.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]entry
	janitor *time.Ticker
	done    chan struct{}
}

// New creates a cache and starts a janitor goroutine that sweeps
// expired entries once per minute. Call Stop when done.
func New() *Cache {
	c := &Cache{
		entries: make(map[string]entry),
		janitor: time.NewTicker(time.Minute),
		done:    make(chan struct{}),
	}
	go c.sweepLoop()
	return c
}

// Get returns the cached value for key, or nil and false if the key is
// absent or expired. Expired entries are removed on access.
func (c *Cache) Get(key string) (interface{}, bool) {
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()

	if !ok {
		return nil, false
	}
	if time.Now().After(e.expiresAt) {
		c.mu.Lock()
		// Re-check under the write lock: another goroutine may have
		// refreshed the entry in the meantime
		if cur, ok := c.entries[key]; ok && time.Now().After(cur.expiresAt) {
			delete(c.entries, key)
		}
		c.mu.Unlock()
		return nil, false
	}
	return e.value, true
}

// Set stores value under key for the given TTL.
func (c *Cache) Set(key string, value interface{}, ttl time.Duration) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	c.mu.Lock()
	c.entries[key] = entry{value: value, expiresAt: time.Now().Add(ttl)}
	c.mu.Unlock()
}

// Delete removes key from the cache. Deleting an absent key is a no-op.
func (c *Cache) Delete(key string) {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
}

// Len returns the number of entries currently held, including entries
// that have expired but not yet been swept.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Stop shuts down the janitor goroutine.
func (c *Cache) Stop() {
	c.janitor.Stop()
	close(c.done)
}

func (c *Cache) sweepLoop() {
	for {
		select {
		case <-c.done:
			return
		case <-c.janitor.C:
			now := time.Now()
			c.mu.Lock()
			for key, e := range c.entries {
				if now.After(e.expiresAt) {
					delete(c.entries, key)
				}
			}
			c.mu.Unlock()
		}
	}
}

// Key conventions shared by the coding and batch packages.

// StatisticsKey is the cache key for aggregate coding statistics of a workspace.
func StatisticsKey(workspaceID int64) string {
	return fmt.Sprintf("coding-statistics:%d", workspaceID)
}

// IncompleteVariablesKey is the cache key for the incomplete-variable
// listing of a workspace.
func IncompleteVariablesKey(workspaceID int64) string {
	return fmt.Sprintf("coding_incomplete_variables:%d", workspaceID)
}

// UnitDefKey is the cache key for a unit test-definition file.
func UnitDefKey(workspaceID int64, unitName string) string {
	return fmt.Sprintf("unit-def:%d:%s", workspaceID, unitName)
}

// SchemeKey is the cache key for a coding-scheme document.
func SchemeKey(workspaceID int64, ref string) string {
	return fmt.Sprintf("coding-scheme:%d:%s", workspaceID, ref)
}
