// Package memory implements the result cache as a TTL map.
package memory

import (
	"sync"
	"time"

	"github.com/JakeFAU/scrape-queue/internal/lookup"
	"github.com/JakeFAU/scrape-queue/internal/metrics"
)

type entry struct {
	result   lookup.Result
	storedAt time.Time
}

// Cache maps normalized request keys to completed results.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]entry
	ttl     time.Duration
	clock   lookup.Clock
}

// New builds a cache whose entries expire ttl after being stored.
func New(ttl time.Duration, clock lookup.Clock) *Cache {
	return &Cache{
		entries: make(map[string]entry),
		ttl:     ttl,
		clock:   clock,
	}
}

// Lookup returns a copy of the cached result. Expired entries are misses.
func (c *Cache) Lookup(key string) (lookup.Result, bool) {
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()
	if ok && c.expired(e, c.clock.Now()) {
		ok = false
	}
	metrics.ObserveCacheLookup(ok)
	if !ok {
		return lookup.Result{}, false
	}
	return e.result.Clone(), true
}

// Store records result for key, replacing any previous entry.
func (c *Cache) Store(key string, result lookup.Result) {
	c.mu.Lock()
	c.entries[key] = entry{result: result.Clone(), storedAt: c.clock.Now()}
	c.mu.Unlock()
}

// Sweep drops expired entries and returns how many were removed.
func (c *Cache) Sweep(now time.Time) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	removed := 0
	for key, e := range c.entries {
		if c.expired(e, now) {
			delete(c.entries, key)
			removed++
		}
	}
	return removed
}

// Len returns the number of entries, expired or not.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

func (c *Cache) expired(e entry, now time.Time) bool {
	return c.ttl > 0 && now.Sub(e.storedAt) > c.ttl
}
