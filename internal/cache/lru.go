// Package cache provides caching implementations for Heron.
package cache

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// LRUCache is a thread-safe LRU cache with TTL support.
// Used as the standalone cache and as L1 in two-phase caching.
type LRUCache struct {
	maxSize int
	items   *expirable.LRU[string, cacheEntry]
}

type cacheEntry struct {
	value     []byte
	expiresAt time.Time
}

// NewLRUCache creates a new LRU cache with the specified max size. maxTTL bounds
// the lifetime of every entry regardless of the TTL passed to Set.
func NewLRUCache(maxSize int, maxTTL time.Duration) *LRUCache {
	if maxSize <= 0 {
		maxSize = 10000
	}
	if maxTTL <= 0 {
		maxTTL = 5 * time.Minute
	}
	return &LRUCache{
		maxSize: maxSize,
		items:   expirable.NewLRU[string, cacheEntry](maxSize, nil, maxTTL),
	}
}

// Get retrieves a value from cache. Returns nil, nil on a miss.
func (c *LRUCache) Get(ctx context.Context, key string) ([]byte, error) {
	entry, ok := c.items.Get(key)
	if !ok {
		return nil, nil
	}
	if time.Now().After(entry.expiresAt) {
		c.items.Remove(key)
		return nil, nil
	}
	return entry.value, nil
}

// Set stores a value in cache with TTL.
func (c *LRUCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	c.items.Add(key, cacheEntry{value: value, expiresAt: time.Now().Add(ttl)})
	return nil
}

// Delete removes a value from cache.
func (c *LRUCache) Delete(ctx context.Context, key string) error {
	c.items.Remove(key)
	return nil
}

// Ping checks cache health.
func (c *LRUCache) Ping(ctx context.Context) error {
	return nil
}

// Close cleans up the cache.
func (c *LRUCache) Close() error {
	c.items.Purge()
	return nil
}

// Stats returns cache statistics.
func (c *LRUCache) Stats() (size int, capacity int) {
	return c.items.Len(), c.maxSize
}
