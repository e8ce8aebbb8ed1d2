package cache

import (
	"sync"
	"time"

	"github.com/yegors/inbound-tracker/pkg/logger"
)

// DefaultTTL is how long a provider response stays fresh
const DefaultTTL = 300 * time.Second

// entry is a cached value and the time it was stored
type entry[V any] struct {
	insertedAt time.Time
	value      V
}

// Cache is a thread-safe key/value store whose entries expire after a fixed TTL.
// Expired entries are treated as absent and removed on the next read or Purge.
type Cache[V any] struct {
	entries map[string]entry[V]
	ttl     time.Duration
	now     func() time.Time
	logger  *logger.Logger
	mu      sync.RWMutex
}

// New creates a cache whose entries live for ttl
func New[V any](ttl time.Duration, log *logger.Logger) *Cache[V] {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Cache[V]{
		entries: make(map[string]entry[V]),
		ttl:     ttl,
		now:     time.Now,
		logger:  log.Named("response-cache"),
	}
}

// Get returns the value for key if present and not expired
func (c *Cache[V]) Get(key string) (V, bool) {
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()

	var zero V
	if !ok {
		return zero, false
	}

	if c.now().Sub(e.insertedAt) < c.ttl {
		return e.value, true
	}

	c.mu.Lock()
	// Another writer may have refreshed the key since we looked
	if cur, ok := c.entries[key]; ok && c.now().Sub(cur.insertedAt) >= c.ttl {
		delete(c.entries, key)
		c.logger.Debug("Cache entry expired", logger.String("key", key))
	}
	c.mu.Unlock()

	return zero, false
}

// Set stores value under key, replacing any previous value
func (c *Cache[V]) Set(key string, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[key] = entry[V]{insertedAt: c.now(), value: value}
}

// Purge drops all expired entries and returns how many were removed
func (c *Cache[V]) Purge() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	removed := 0
	for key, e := range c.entries {
		if now.Sub(e.insertedAt) >= c.ttl {
			delete(c.entries, key)
			removed++
		}
	}

	if removed > 0 {
		c.logger.Debug("Purged expired cache entries",
			logger.Int("removed", removed),
			logger.Int("remaining", len(c.entries)))
	}
	return removed
}

// Len returns the number of stored entries, expired or not
func (c *Cache[V]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// GetStats returns cache statistics
func (c *Cache[V]) GetStats() map[string]interface{} {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return map[string]interface{}{
		"entries":     len(c.entries),
		"ttl_seconds": int(c.ttl.Seconds()),
	}
}

// SetClock replaces the time source used for expiry
func (c *Cache[V]) SetClock(now func() time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = now
}
