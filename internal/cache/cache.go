// Package cache provides a generic in-memory cache with per-entry TTL.
package cache

import (
	"context"
	"sync"
	"time"
)

// entry is a stored value with its expiry deadline.
type entry[V any] struct {
	value     V
	expiresAt time.Time
}

// Cache is a thread-safe in-memory key/value cache with per-entry TTL.
// Expired entries are reaped by a background janitor.
type Cache[K comparable, V any] struct {
	mu      sync.RWMutex
	entries map[K]entry[V]

	janitorInterval time.Duration
	done            chan struct{}
	closeOnce       sync.Once
}

// New creates a cache whose janitor sweeps expired entries at the given interval.
func New[K comparable, V any](janitorInterval time.Duration) *Cache[K, V] {
	c := &Cache[K, V]{
		entries:         make(map[K]entry[V]),
		janitorInterval: janitorInterval,
		done:            make(chan struct{}),
	}

	go c.janitor()

	return c
}

// Get returns the value for key if present and not expired.
func (c *Cache[K, V]) Get(_ context.Context, key K) (V, bool) {
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()

	if !ok || time.Now().After(e.expiresAt) {
		var zero V
		return zero, false
	}
	return e.value, true
}

// Set stores value under key for the given TTL, replacing any previous entry.
func (c *Cache[K, V]) Set(_ context.Context, key K, value V, ttl time.Duration) {
	c.mu.Lock()
	c.entries[key] = entry[V]{
		value:     value,
		expiresAt: time.Now().Add(ttl),
	}
	c.mu.Unlock()
}

// Delete removes the entry for key if present.
func (c *Cache[K, V]) Delete(_ context.Context, key K) {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
}

// Len returns the number of stored entries, including not-yet-reaped expired ones.
func (c *Cache[K, V]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Close stops the janitor. The cache remains usable but stops reaping.
func (c *Cache[K, V]) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
	})
}

func (c *Cache[K, V]) janitor() {
	ticker := time.NewTicker(c.janitorInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case now := <-ticker.C:
			c.mu.Lock()
			for k, e := range c.entries {
				if now.After(e.expiresAt) {
					delete(c.entries, k)
				}
			}
			c.mu.Unlock()
		}
	}
}
