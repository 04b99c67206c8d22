package cache

import (
	"fmt"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"
)

// MemoryTileCache is the in-process hot tier in front of the disk
// cache. It is entry-count bounded; byte usage is tracked for stats
// reporting only.
type MemoryTileCache struct {
	entries   *lru.Cache[string, []byte]
	sizeBytes int64
	hits      int64
	misses    int64
}

// DefaultMemoryEntries bounds the hot tier to roughly 50 MB of PNG
// tiles at typical sizes.
const DefaultMemoryEntries = 2048

// NewMemoryTileCache creates the hot tier with the given entry cap
func NewMemoryTileCache(maxEntries int) (*MemoryTileCache, error) {
	if maxEntries <= 0 {
		maxEntries = DefaultMemoryEntries
	}

	c := &MemoryTileCache{}
	inner, err := lru.NewWithEvict[string, []byte](maxEntries, func(key string, data []byte) {
		atomic.AddInt64(&c.sizeBytes, -int64(len(data)))
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create memory cache: %w", err)
	}
	c.entries = inner

	return c, nil
}

// Get retrieves a tile from the hot tier
func (c *MemoryTileCache) Get(key string) ([]byte, bool) {
	data, found := c.entries.Get(key)
	if found {
		atomic.AddInt64(&c.hits, 1)
	} else {
		atomic.AddInt64(&c.misses, 1)
	}
	return data, found
}

// Set stores a tile in the hot tier, displacing the least recently
// used entry when full.
func (c *MemoryTileCache) Set(key string, data []byte) {
	// Updates do not fire the evict callback, so settle the old size
	// here before replacing.
	if previous, found := c.entries.Peek(key); found {
		atomic.AddInt64(&c.sizeBytes, -int64(len(previous)))
	}
	c.entries.Add(key, data)
	atomic.AddInt64(&c.sizeBytes, int64(len(data)))
}

// Len returns the number of cached tiles
func (c *MemoryTileCache) Len() int {
	return c.entries.Len()
}

// Stats returns hot tier statistics
func (c *MemoryTileCache) Stats() (entries int, sizeBytes int64, hits int64, misses int64) {
	return c.entries.Len(),
		atomic.LoadInt64(&c.sizeBytes),
		atomic.LoadInt64(&c.hits),
		atomic.LoadInt64(&c.misses)
}

// Purge removes all cached tiles
func (c *MemoryTileCache) Purge() {
	c.entries.Purge()
}
