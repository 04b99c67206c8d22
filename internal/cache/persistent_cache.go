package cache

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// PersistentTileCache provides disk-based caching with OGC ZXY structure.
// The cache persists across restarts and is shared by the tile proxy and
// the export workers.
type PersistentTileCache struct {
	baseDir   string
	maxSize   int64 // Maximum cache size in bytes
	currSize  int64 // Current cache size (atomic)
	ttl       time.Duration
	mu        sync.RWMutex
	metadata  map[string]*TileMetadata // Persistent metadata index
	dirty     int32                    // Nonzero when metadata needs flushing
	evictChan chan struct{}
	stopChan  chan struct{}
	stopOnce  sync.Once
}

// TileMetadata stores information about a cached tile
type TileMetadata struct {
	Key        string    `json:"key"`
	Provider   string    `json:"provider"` // "titiler" or "basemap"
	Layer      string    `json:"layer"`    // item+band label or basemap source name
	Z          int       `json:"z"`
	X          int       `json:"x"`
	Y          int       `json:"y"`
	Size       int64     `json:"size"`
	AccessTime time.Time `json:"accessTime"`
	CreateTime time.Time `json:"createTime"`
}

// NewPersistentTileCache creates a new persistent tile cache.
// Cache structure: baseDir/{provider}/{layer}/{z}/{x}/{y}.png
// Metadata index: baseDir/cache_index.json
func NewPersistentTileCache(baseDir string, maxSizeMB int, ttlDays int) (*PersistentTileCache, error) {
	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}

	cache := &PersistentTileCache{
		baseDir:   baseDir,
		maxSize:   int64(maxSizeMB) * 1024 * 1024,
		ttl:       time.Duration(ttlDays) * 24 * time.Hour,
		metadata:  make(map[string]*TileMetadata),
		evictChan: make(chan struct{}, 1),
		stopChan:  make(chan struct{}),
	}

	// Load metadata index from disk, rebuilding from the tile tree when
	// the index is missing or corrupt
	if err := cache.loadMetadata(); err != nil {
		if err := cache.rebuildMetadata(); err != nil {
			return nil, fmt.Errorf("failed to initialize cache: %w", err)
		}
	}

	go cache.maintenanceWorker()

	return cache, nil
}

// Get retrieves a tile from cache.
// Key format: "{provider}:{layer}:{z}:{x}:{y}"
func (c *PersistentTileCache) Get(key string) ([]byte, bool) {
	c.mu.RLock()
	meta, exists := c.metadata[key]
	c.mu.RUnlock()

	if !exists {
		return nil, false
	}

	// Check if tile has expired
	if c.ttl > 0 && time.Since(meta.CreateTime) > c.ttl {
		c.evictTile(key, meta)
		return nil, false
	}

	data, err := os.ReadFile(c.buildFilePath(meta))
	if err != nil {
		// File missing - remove from metadata
		c.evictTile(key, meta)
		return nil, false
	}

	c.mu.Lock()
	meta.AccessTime = time.Now()
	c.mu.Unlock()
	atomic.StoreInt32(&c.dirty, 1)

	return data, true
}

// Set stores a tile in cache using the layered ZXY structure
func (c *PersistentTileCache) Set(provider, layer string, z, x, y int, data []byte) error {
	key := BuildKey(provider, layer, z, x, y)
	size := int64(len(data))

	now := time.Now()
	meta := &TileMetadata{
		Key:        key,
		Provider:   provider,
		Layer:      sanitizeLayer(layer),
		Z:          z,
		X:          x,
		Y:          y,
		Size:       size,
		AccessTime: now,
		CreateTime: now,
	}

	filePath := c.buildFilePath(meta)
	if err := os.MkdirAll(filepath.Dir(filePath), 0755); err != nil {
		return fmt.Errorf("failed to create cache directory: %w", err)
	}
	if err := os.WriteFile(filePath, data, 0644); err != nil {
		return fmt.Errorf("failed to write cache file: %w", err)
	}

	c.mu.Lock()
	if oldMeta, exists := c.metadata[key]; exists {
		atomic.AddInt64(&c.currSize, -oldMeta.Size)
		oldPath := c.buildFilePath(oldMeta)
		if oldPath != filePath {
			os.Remove(oldPath)
		}
	}
	c.metadata[key] = meta
	c.mu.Unlock()

	atomic.AddInt64(&c.currSize, size)
	atomic.StoreInt32(&c.dirty, 1)

	// Trigger eviction if needed
	if atomic.LoadInt64(&c.currSize) > c.maxSize {
		select {
		case c.evictChan <- struct{}{}:
		default:
		}
	}

	return nil
}

// BuildKey creates a cache key from tile coordinates
func BuildKey(provider, layer string, z, x, y int) string {
	return fmt.Sprintf("%s:%s:%d:%d:%d", provider, sanitizeLayer(layer), z, x, y)
}

// sanitizeLayer keeps layer labels filesystem-safe
func sanitizeLayer(layer string) string {
	if layer == "" {
		return "default"
	}
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '-', r == '_', r == '.':
			return r
		default:
			return '-'
		}
	}, layer)
}

// buildFilePath creates the layered ZXY file path for a tile:
// {baseDir}/{provider}/{layer}/{z}/{x}/{y}.png
func (c *PersistentTileCache) buildFilePath(meta *TileMetadata) string {
	return filepath.Join(c.baseDir, meta.Provider, meta.Layer,
		strconv.Itoa(meta.Z), strconv.Itoa(meta.X),
		fmt.Sprintf("%d.png", meta.Y))
}

// evictTile removes a tile from cache
func (c *PersistentTileCache) evictTile(key string, meta *TileMetadata) {
	c.mu.Lock()
	defer c.mu.Unlock()

	os.Remove(c.buildFilePath(meta))
	delete(c.metadata, key)
	atomic.AddInt64(&c.currSize, -meta.Size)
	atomic.StoreInt32(&c.dirty, 1)
}

// maintenanceWorker runs periodic cache maintenance until Close
func (c *PersistentTileCache) maintenanceWorker() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-c.evictChan:
			c.evictOldTiles()
		case <-ticker.C:
			c.evictExpiredTiles()
			c.flushMetadata()
		case <-c.stopChan:
			return
		}
	}
}

// evictOldTiles removes least recently used tiles when cache is full
func (c *PersistentTileCache) evictOldTiles() {
	c.mu.Lock()
	defer c.mu.Unlock()

	currSize := atomic.LoadInt64(&c.currSize)
	if currSize <= c.maxSize {
		return
	}

	// Target size: 80% of max to avoid thrashing
	targetSize := c.maxSize * 8 / 10

	entries := make([]*TileMetadata, 0, len(c.metadata))
	for _, meta := range c.metadata {
		entries = append(entries, meta)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].AccessTime.Before(entries[j].AccessTime)
	})

	// Evict oldest until under target size
	for _, meta := range entries {
		if currSize <= targetSize {
			break
		}

		os.Remove(c.buildFilePath(meta))
		delete(c.metadata, meta.Key)
		atomic.AddInt64(&c.currSize, -meta.Size)
		currSize -= meta.Size
	}

	atomic.StoreInt32(&c.dirty, 1)
	c.saveMetadataLocked()
}

// evictExpiredTiles removes tiles that exceed TTL
func (c *PersistentTileCache) evictExpiredTiles() {
	if c.ttl <= 0 {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	evicted := 0

	for key, meta := range c.metadata {
		if now.Sub(meta.CreateTime) > c.ttl {
			os.Remove(c.buildFilePath(meta))
			delete(c.metadata, key)
			atomic.AddInt64(&c.currSize, -meta.Size)
			evicted++
		}
	}

	if evicted > 0 {
		atomic.StoreInt32(&c.dirty, 1)
		c.saveMetadataLocked()
	}
}

// flushMetadata persists the index when it has changed since the last
// flush
func (c *PersistentTileCache) flushMetadata() {
	if !atomic.CompareAndSwapInt32(&c.dirty, 1, 0) {
		return
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	c.saveMetadataLocked()
}

// loadMetadata loads the metadata index from disk
func (c *PersistentTileCache) loadMetadata() error {
	metaPath := filepath.Join(c.baseDir, "cache_index.json")

	data, err := os.ReadFile(metaPath)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("metadata file not found")
		}
		return fmt.Errorf("failed to read metadata: %w", err)
	}

	var metadata map[string]*TileMetadata
	if err := json.Unmarshal(data, &metadata); err != nil {
		return fmt.Errorf("failed to parse metadata: %w", err)
	}

	c.metadata = metadata

	var totalSize int64
	for _, meta := range metadata {
		totalSize += meta.Size
	}
	atomic.StoreInt64(&c.currSize, totalSize)

	return nil
}

// saveMetadataLocked saves the metadata index to disk. Callers must
// hold at least a read lock.
func (c *PersistentTileCache) saveMetadataLocked() error {
	metaPath := filepath.Join(c.baseDir, "cache_index.json")

	data, err := json.MarshalIndent(c.metadata, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}

	// Write to temp file first, then rename (atomic operation)
	tempPath := metaPath + ".tmp"
	if err := os.WriteFile(tempPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write metadata: %w", err)
	}
	if err := os.Rename(tempPath, metaPath); err != nil {
		return fmt.Errorf("failed to rename metadata file: %w", err)
	}

	return nil
}

// rebuildMetadata rebuilds the metadata index by scanning the cache tree
func (c *PersistentTileCache) rebuildMetadata() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.metadata = make(map[string]*TileMetadata)
	var totalSize int64

	err := filepath.Walk(c.baseDir, func(path string, info os.FileInfo, err error) error {
		if err != nil || info.IsDir() || filepath.Ext(path) != ".png" {
			return nil
		}

		// Parse path: {baseDir}/{provider}/{layer}/{z}/{x}/{y}.png
		relPath, _ := filepath.Rel(c.baseDir, path)
		parts := strings.Split(relPath, string(os.PathSeparator))
		if len(parts) != 5 {
			return nil
		}

		z, errZ := strconv.Atoi(parts[2])
		x, errX := strconv.Atoi(parts[3])
		y, errY := strconv.Atoi(strings.TrimSuffix(parts[4], ".png"))
		if errZ != nil || errX != nil || errY != nil {
			return nil
		}

		meta := &TileMetadata{
			Key:        BuildKey(parts[0], parts[1], z, x, y),
			Provider:   parts[0],
			Layer:      parts[1],
			Z:          z,
			X:          x,
			Y:          y,
			Size:       info.Size(),
			AccessTime: info.ModTime(),
			CreateTime: info.ModTime(),
		}

		c.metadata[meta.Key] = meta
		totalSize += info.Size()

		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to scan cache directory: %w", err)
	}

	atomic.StoreInt64(&c.currSize, totalSize)

	return c.saveMetadataLocked()
}

// Stats returns cache statistics
func (c *PersistentTileCache) Stats() (entries int, sizeBytes int64, maxBytes int64) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.metadata), atomic.LoadInt64(&c.currSize), c.maxSize
}

// Clear removes all cached tiles
func (c *PersistentTileCache) Clear() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, meta := range c.metadata {
		os.Remove(c.buildFilePath(meta))
	}

	c.metadata = make(map[string]*TileMetadata)
	atomic.StoreInt64(&c.currSize, 0)

	return c.saveMetadataLocked()
}

// GetCachePath returns the base directory of the cache
func (c *PersistentTileCache) GetCachePath() string {
	return c.baseDir
}

// Close stops background maintenance and flushes the index
func (c *PersistentTileCache) Close() {
	c.stopOnce.Do(func() {
		close(c.stopChan)
		c.flushMetadata()
	})
}
