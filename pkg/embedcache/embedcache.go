// Package embedcache is a bounded LRU cache of text embeddings.
package embedcache

import (
	"context"
	"fmt"
	"sync"

	"github.com/hashicorp/golang-lru/v2/simplelru"
	"github.com/migadu/soradb/pkg/metrics"
	"golang.org/x/sync/singleflight"
	"lukechampine.com/blake3"
)

const (
	// DefaultMaxSize bounds the cache when no size is given.
	DefaultMaxSize = 10000

	metricsLabel = "embedding"
	bytesPerDim  = 4
)

// key is the BLAKE3 digest of the embedded text.
type key [32]byte

func keyOf(text string) key {
	return blake3.Sum256([]byte(text))
}

// Stats is a snapshot of the cache counters.
type Stats struct {
	Hits             int64   `json:"hits"`
	Misses           int64   `json:"misses"`
	TotalRequests    int64   `json:"total_requests"`
	HitRate          string  `json:"hit_rate"`
	CacheSize        int     `json:"cache_size"`
	MaxSize          int     `json:"max_size"`
	MemoryEstimateMB float64 `json:"memory_estimate_mb"`
}

// EmbeddingCache maps text to its embedding vector, evicting the least
// recently used entry when full. Get and Put are serialized by one mutex, so
// an eviction is never observed half done.
type EmbeddingCache struct {
	mu       sync.Mutex
	lru      *simplelru.LRU[key, []float32]
	maxSize  int
	dims     int64 // float32 values currently stored
	clearing bool

	hits   int64
	misses int64

	sfGroup singleflight.Group
}

// New creates a cache holding at most maxSize vectors.
func New(maxSize int) *EmbeddingCache {
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}
	c := &EmbeddingCache{maxSize: maxSize}

	lru, err := simplelru.NewLRU[key, []float32](maxSize, c.onEvict)
	if err != nil {
		// NewLRU only fails for a non-positive size.
		panic(fmt.Sprintf("embedcache: %v", err))
	}
	c.lru = lru
	return c
}

// onEvict runs under c.mu for evictions, removals and purges.
func (c *EmbeddingCache) onEvict(_ key, vector []float32) {
	c.dims -= int64(len(vector))
	if !c.clearing {
		metrics.CacheEvictionsTotal.WithLabelValues(metricsLabel).Inc()
	}
}

// Get returns the vector cached for text and marks it most recently used.
func (c *EmbeddingCache) Get(text string) ([]float32, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	vector, ok := c.lru.Get(keyOf(text))
	if !ok {
		c.misses++
		metrics.CacheMissesTotal.WithLabelValues(metricsLabel).Inc()
		return nil, false
	}
	c.hits++
	metrics.CacheHitsTotal.WithLabelValues(metricsLabel).Inc()
	return vector, true
}

// Put stores vector for text. A new key on a full cache evicts the least
// recently used entry; an existing key is updated and refreshed without
// evicting anything.
func (c *EmbeddingCache) Put(text string, vector []float32) {
	k := keyOf(text)

	c.mu.Lock()
	defer c.mu.Unlock()

	if old, ok := c.lru.Peek(k); ok {
		c.dims -= int64(len(old))
	}
	c.lru.Add(k, vector)
	c.dims += int64(len(vector))
	metrics.CacheEntries.WithLabelValues(metricsLabel).Set(float64(c.lru.Len()))
}

// GetOrCompute returns the cached vector for text, or calls compute once for
// all concurrent callers missing the same text and caches its result.
func (c *EmbeddingCache) GetOrCompute(ctx context.Context, text string, compute func(context.Context, string) ([]float32, error)) ([]float32, error) {
	if vector, ok := c.Get(text); ok {
		return vector, nil
	}

	k := keyOf(text)
	v, err, _ := c.sfGroup.Do(string(k[:]), func() (any, error) {
		vector, err := compute(ctx, text)
		if err != nil {
			return nil, err
		}
		c.Put(text, vector)
		return vector, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]float32), nil
}

// Len returns the number of cached vectors.
func (c *EmbeddingCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}

// Stats returns the current counters.
func (c *EmbeddingCache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	total := c.hits + c.misses
	return Stats{
		Hits:             c.hits,
		Misses:           c.misses,
		TotalRequests:    total,
		HitRate:          HitRate(c.hits, total),
		CacheSize:        c.lru.Len(),
		MaxSize:          c.maxSize,
		MemoryEstimateMB: float64(c.dims*bytesPerDim) / (1024 * 1024),
	}
}

// Clear drops every entry. Hit and miss counters are kept.
func (c *EmbeddingCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.clearing = true
	c.lru.Purge()
	c.clearing = false
	c.dims = 0
	metrics.CacheEntries.WithLabelValues(metricsLabel).Set(0)
}

// ResetStats zeroes the hit and miss counters.
func (c *EmbeddingCache) ResetStats() {
	c.mu.Lock()
	c.hits = 0
	c.misses = 0
	c.mu.Unlock()
}

// HitRate formats hits/total as a percentage with one decimal.
func HitRate(hits, total int64) string {
	if total == 0 {
		return "0.0%"
	}
	return fmt.Sprintf("%.1f%%", float64(hits)*100/float64(total))
}
