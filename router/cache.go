package router

import (
	"sync"
	"time"
)

// ttlCache is a capacity-bounded, TTL-expiring set, used for both the
// envelope-id dedup cache and the ack anti-replay cache (spec §4.2).
// Eviction is idempotent: calling Cleanup repeatedly, or never, never
// changes the observable membership of an unexpired key.
type ttlCache struct {
	mu      sync.Mutex
	entries map[string]time.Time
	ttl     time.Duration
	maxSize int
}

func newTTLCache(ttl time.Duration, maxSize int) *ttlCache {
	return &ttlCache{
		entries: make(map[string]time.Time),
		ttl:     ttl,
		maxSize: maxSize,
	}
}

// CheckAndMark reports whether key was already present (and unexpired)
// at now, and if not, marks it seen. It is the single entry point used
// by the router so "check" and "mark" can never race against each
// other across goroutines.
func (c *ttlCache) CheckAndMark(key string, now time.Time) (alreadySeen bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if expiresAt, ok := c.entries[key]; ok {
		if now.Before(expiresAt) {
			return true
		}
		delete(c.entries, key)
	}

	if len(c.entries) >= c.maxSize {
		c.evictExpiredLocked(now)
	}
	if len(c.entries) >= c.maxSize {
		c.evictOldestLocked()
	}

	c.entries[key] = now.Add(c.ttl)
	return false
}

// Cleanup removes every expired entry. Safe to call on a timer; it is a
// no-op if nothing has expired.
func (c *ttlCache) Cleanup(now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.evictExpiredLocked(now)
}

// Len reports the current number of tracked (possibly expired) entries.
func (c *ttlCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *ttlCache) evictExpiredLocked(now time.Time) {
	for k, expiresAt := range c.entries {
		if !now.Before(expiresAt) {
			delete(c.entries, k)
		}
	}
}

// evictOldestLocked drops a single arbitrary entry when the cache is at
// capacity and nothing has expired yet, to make room for a new one. Map
// iteration order is randomized by the runtime, which is an acceptable
// substitute for true LRU at this bound.
func (c *ttlCache) evictOldestLocked() {
	for k := range c.entries {
		delete(c.entries, k)
		return
	}
}
