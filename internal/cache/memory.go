// Package cache implements the fetched-page content cache with TTL and
// lazy expiry. Entries are checked for staleness at read time; no
// background sweep is required.
package cache

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/openlexbr/douflow/internal/pipeline"
)

// Memory is an in-process pipeline.ContentCache. Reads for different
// keys never block each other; same-key Put races resolve
// last-writer-wins.
type Memory struct {
	mu      sync.RWMutex
	entries map[pipeline.PageKey]pipeline.CacheEntry
	clock   pipeline.Clock

	hits   atomic.Int64
	misses atomic.Int64
}

// NewMemory creates an empty in-memory cache.
func NewMemory(clock pipeline.Clock) *Memory {
	return &Memory{
		entries: make(map[pipeline.PageKey]pipeline.CacheEntry),
		clock:   clock,
	}
}

// Get returns the live entry for key, or a miss if absent or expired.
func (c *Memory) Get(key pipeline.PageKey) (pipeline.CacheEntry, bool) {
	c.mu.RLock()
	entry, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok || entry.Expired(c.clock.Now()) {
		c.misses.Add(1)
		return pipeline.CacheEntry{}, false
	}
	c.hits.Add(1)
	return entry, true
}

// Put stores content under key. The bytes are copied so a later caller
// mutation cannot corrupt the stored entry.
func (c *Memory) Put(key pipeline.PageKey, content []byte, ttl time.Duration) {
	entry := pipeline.CacheEntry{
		Key:       key,
		Content:   append([]byte(nil), content...),
		FetchedAt: c.clock.Now(),
		TTL:       ttl,
	}
	c.mu.Lock()
	c.entries[key] = entry
	c.mu.Unlock()
}

// Invalidate removes the entry for key.
func (c *Memory) Invalidate(key pipeline.PageKey) {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
}

// Stats reports hit/miss counters since construction.
func (c *Memory) Stats() (hits, misses int64) {
	return c.hits.Load(), c.misses.Load()
}
