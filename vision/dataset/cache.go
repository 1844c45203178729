package dataset

import (
	"container/list"
	"fmt"
	"image"
	"sync"
)

// ImageCache keeps the most recently decoded images of a folder dataset so
// that later epochs skip the file read and decode. Transforms run on every
// access and never modify the cached image.
type ImageCache struct {
	mu      sync.Mutex
	images  map[string]*list.Element
	lru     *list.List
	maxSize int

	hits   int64
	misses int64
}

type cacheEntry struct {
	key string
	img *image.RGBA
}

// NewImageCache holds up to maxSize images.
func NewImageCache(maxSize int) *ImageCache {
	return &ImageCache{
		images:  make(map[string]*list.Element),
		lru:     list.New(),
		maxSize: maxSize,
	}
}

// Get returns the image cached under key.
func (c *ImageCache) Get(key string) (*image.RGBA, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.images[key]; ok {
		c.lru.MoveToFront(elem)
		c.hits++
		return elem.Value.(*cacheEntry).img, true
	}
	c.misses++
	return nil, false
}

// Put stores img under key, evicting the least recently used image when full.
func (c *ImageCache) Put(key string, img *image.RGBA) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.maxSize <= 0 {
		return
	}
	if elem, ok := c.images[key]; ok {
		c.lru.MoveToFront(elem)
		return
	}
	c.images[key] = c.lru.PushFront(&cacheEntry{key: key, img: img})
	for c.lru.Len() > c.maxSize {
		oldest := c.lru.Back()
		c.lru.Remove(oldest)
		delete(c.images, oldest.Value.(*cacheEntry).key)
	}
}

// Stats returns a snapshot of the cache counters.
func (c *ImageCache) Stats() CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := CacheStats{Size: c.lru.Len(), MaxSize: c.maxSize, Hits: c.hits, Misses: c.misses}
	if total := c.hits + c.misses; total > 0 {
		s.HitRate = float64(c.hits) / float64(total) * 100
	}
	return s
}

// CacheStats holds cache statistics.
type CacheStats struct {
	Size    int
	MaxSize int
	Hits    int64
	Misses  int64
	HitRate float64
}

func (cs CacheStats) String() string {
	return fmt.Sprintf("Cache: %d/%d images, Hits: %d, Misses: %d, Hit Rate: %.1f%%",
		cs.Size, cs.MaxSize, cs.Hits, cs.Misses, cs.HitRate)
}
