// ABOUTME: Thread-safe TTL cache for group membership lookups.
// ABOUTME: Keeps fan-out from hammering the user directory on bursty sends.

package directory

import (
	"sync"
	"time"
)

// cacheEntry stores a membership set and when it was fetched.
type cacheEntry struct {
	ids       []string
	fetchedAt time.Time
}

// membershipCache is a small TTL cache keyed by lookup ("role:X" or "all").
// The key space is bounded by the number of roles, so there is no size cap;
// a background goroutine drops expired entries.
type membershipCache struct {
	mu      sync.RWMutex
	entries map[string]*cacheEntry
	ttl     time.Duration
	done    chan struct{}
	closed  bool
}

// newMembershipCache creates a cache with the given TTL and starts the
// background cleanup goroutine.
func newMembershipCache(ttl time.Duration) *membershipCache {
	c := &membershipCache{
		entries: make(map[string]*cacheEntry),
		ttl:     ttl,
		done:    make(chan struct{}),
	}
	go c.cleanup()
	return c
}

// get returns the cached ids for a key if present and not expired.
func (c *membershipCache) get(key string) ([]string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, ok := c.entries[key]
	if !ok || time.Since(entry.fetchedAt) >= c.ttl {
		return nil, false
	}
	return entry.ids, true
}

// put stores a membership set under the key, replacing any previous entry.
func (c *membershipCache) put(key string, ids []string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[key] = &cacheEntry{
		ids:       ids,
		fetchedAt: time.Now(),
	}
}

// cleanup runs in a background goroutine, periodically removing expired entries.
func (c *membershipCache) cleanup() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.runCleanup()
		case <-c.done:
			return
		}
	}
}

// runCleanup removes all expired entries from the cache.
func (c *membershipCache) runCleanup() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	for key, entry := range c.entries {
		if now.Sub(entry.fetchedAt) >= c.ttl {
			delete(c.entries, key)
		}
	}
}

// Close stops the background cleanup goroutine. It is safe to call multiple times.
func (c *membershipCache) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.closed {
		close(c.done)
		c.closed = true
	}
}
