package secrets

import (
	"context"
	"sync"
	"time"
)

// Cache wraps a Source with refresh-on-first-use caching. A TTL of zero
// means the value is held for the process lifetime, so a rotated secret
// requires a restart; a positive TTL bounds staleness instead.
type Cache struct {
	src Source
	ttl time.Duration
	now func() time.Time

	mu        sync.Mutex
	value     string
	fetchedAt time.Time
	valid     bool
}

// NewCache creates a cache over src with the given TTL.
func NewCache(src Source, ttl time.Duration) *Cache {
	return &Cache{
		src: src,
		ttl: ttl,
		now: time.Now,
	}
}

// Get returns the cached value, fetching from the source only on first use
// or after the TTL has elapsed.
func (c *Cache) Get(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.valid && (c.ttl == 0 || c.now().Sub(c.fetchedAt) < c.ttl) {
		return c.value, nil
	}

	value, err := c.src.Fetch(ctx)
	if err != nil {
		// Serve the stale value when a refresh fails but an earlier
		// fetch succeeded; availability over freshness.
		if c.valid {
			return c.value, nil
		}
		return "", err
	}

	c.value = value
	c.fetchedAt = c.now()
	c.valid = true
	return value, nil
}

// Invalidate drops the cached value so the next Get fetches fresh.
func (c *Cache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.valid = false
}
