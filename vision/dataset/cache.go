package dataset

import (
	"container/list"
	"fmt"
	"sync"

	"github.com/dustin/go-humanize"

	"github.com/satlab/multitask/vision/preprocessing"
)

// TileCache keeps decoded tiles in memory with LRU eviction. One cache can
// be shared by several datasets; it is safe for concurrent use.
type TileCache struct {
	mu      sync.Mutex
	cache   map[string]*preprocessing.Tile
	lru     *list.List
	lruMap  map[string]*list.Element
	maxSize int
	bytes   int64
	hits    int64
	misses  int64
}

// NewTileCache creates a cache holding at most maxSize tiles. A
// non-positive maxSize disables caching.
func NewTileCache(maxSize int) *TileCache {
	return &TileCache{
		cache:   make(map[string]*preprocessing.Tile),
		lru:     list.New(),
		lruMap:  make(map[string]*list.Element),
		maxSize: maxSize,
	}
}

// Get retrieves a tile. Callers must not modify it.
func (c *TileCache) Get(key string) (*preprocessing.Tile, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if tile, exists := c.cache[key]; exists {
		c.lru.MoveToFront(c.lruMap[key])
		c.hits++
		return tile, true
	}
	c.misses++
	return nil, false
}

// Put adds a tile to the cache
func (c *TileCache) Put(key string, tile *preprocessing.Tile) {
	if c.maxSize <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, exists := c.lruMap[key]; exists {
		c.lru.MoveToFront(elem)
		return
	}

	c.lruMap[key] = c.lru.PushFront(key)
	c.cache[key] = tile
	c.bytes += int64(len(tile.Data)) * 4

	for c.lru.Len() > c.maxSize {
		c.removeElement(c.lru.Back())
	}
}

// removeElement removes an element from the cache
func (c *TileCache) removeElement(elem *list.Element) {
	key := elem.Value.(string)
	c.bytes -= int64(len(c.cache[key].Data)) * 4
	c.lru.Remove(elem)
	delete(c.lruMap, key)
	delete(c.cache, key)
}

// Stats returns cache statistics
func (c *TileCache) Stats() CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()

	stats := CacheStats{
		Size:    c.lru.Len(),
		MaxSize: c.maxSize,
		Bytes:   c.bytes,
		Hits:    c.hits,
		Misses:  c.misses,
	}
	if total := c.hits + c.misses; total > 0 {
		stats.HitRate = float64(c.hits) / float64(total) * 100
	}
	return stats
}

// Clear drops every tile; statistics stay cumulative
func (c *TileCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.cache = make(map[string]*preprocessing.Tile)
	c.lru = list.New()
	c.lruMap = make(map[string]*list.Element)
	c.bytes = 0
}

// CacheStats holds cache statistics
type CacheStats struct {
	Size    int
	MaxSize int
	Bytes   int64
	Hits    int64
	Misses  int64
	HitRate float64
}

// String returns a string representation of cache stats
func (cs CacheStats) String() string {
	return fmt.Sprintf("Cache: %d/%d tiles (%s), Hits: %d, Misses: %d, Hit Rate: %.1f%%",
		cs.Size, cs.MaxSize, humanize.Bytes(uint64(cs.Bytes)), cs.Hits, cs.Misses, cs.HitRate)
}
