// Package searchcache caches ordered search results for a limited time.
//
// Entries are keyed by (query, top_k, scope). Collaborators that change the
// data behind a scope must call InvalidateProject for that scope.
package searchcache

import (
	"sync"
	"time"

	"github.com/juju/clock"
	"github.com/migadu/soradb/logger"
	"github.com/migadu/soradb/pkg/embedcache"
	"github.com/migadu/soradb/pkg/metrics"
)

// NoScope is the scope of entries that do not belong to a project.
const NoScope = ""

// Key identifies a cached result list. Two keys differing in any field are
// distinct entries.
type Key struct {
	Query string
	TopK  int
	Scope string
}

type entry[T any] struct {
	results    []T
	insertedAt time.Time
}

// Stats is a snapshot of the cache counters. TotalRequests counts hits, cold
// misses and expirations; HitRate is hits over that total.
type Stats struct {
	Hits          int64   `json:"hits"`
	Misses        int64   `json:"misses"`
	Expirations   int64   `json:"expirations"`
	TotalRequests int64   `json:"total_requests"`
	HitRate       string  `json:"hit_rate"`
	CacheSize     int     `json:"cache_size"`
	TTLSeconds    float64 `json:"ttl_seconds"`
}

// Option configures a Cache.
type Option func(*options)

type options struct {
	clock clock.Clock
	name  string
}

// WithClock sets the time source.
func WithClock(clk clock.Clock) Option {
	return func(o *options) { o.clock = clk }
}

// WithName sets the name used in metrics and logs.
func WithName(name string) Option {
	return func(o *options) { o.name = name }
}

// Cache is a TTL cache of result lists. It is safe for concurrent use.
type Cache[T any] struct {
	ttl   time.Duration
	clock clock.Clock
	name  string

	mu      sync.Mutex
	entries map[Key]entry[T]

	hits        int64
	misses      int64
	expirations int64

	lifeMu         sync.Mutex
	started        bool
	stopped        bool
	stopCleanup    chan struct{}
	cleanupStopped chan struct{}
}

// New creates a cache whose entries are valid for ttl after insertion.
func New[T any](ttl time.Duration, opts ...Option) *Cache[T] {
	o := options{clock: clock.WallClock, name: "search"}
	for _, opt := range opts {
		opt(&o)
	}
	return &Cache[T]{
		ttl:     ttl,
		clock:   o.clock,
		name:    o.name,
		entries: make(map[Key]entry[T]),
	}
}

// Put stores results under (query, topK, scope), replacing any previous entry.
func (c *Cache[T]) Put(query string, topK int, scope string, results []T) {
	now := c.clock.Now()

	c.mu.Lock()
	c.entries[Key{Query: query, TopK: topK, Scope: scope}] = entry[T]{results: results, insertedAt: now}
	size := len(c.entries)
	c.mu.Unlock()

	metrics.CacheEntries.WithLabelValues(c.name).Set(float64(size))
}

// Get returns the cached results. An entry whose age reached the TTL is
// deleted and counted as an expiration. The returned slice is shared with
// the cache and must not be modified.
func (c *Cache[T]) Get(query string, topK int, scope string) ([]T, bool) {
	k := Key{Query: query, TopK: topK, Scope: scope}

	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[k]
	if !ok {
		c.misses++
		metrics.CacheMissesTotal.WithLabelValues(c.name).Inc()
		return nil, false
	}
	if c.expired(e, c.clock.Now()) {
		delete(c.entries, k)
		c.expirations++
		metrics.CacheExpirationsTotal.WithLabelValues(c.name).Inc()
		metrics.CacheEntries.WithLabelValues(c.name).Set(float64(len(c.entries)))
		return nil, false
	}
	c.hits++
	metrics.CacheHitsTotal.WithLabelValues(c.name).Inc()
	return e.results, true
}

func (c *Cache[T]) expired(e entry[T], now time.Time) bool {
	return now.Sub(e.insertedAt) >= c.ttl
}

// removeWhere deletes every entry matching fn and returns how many it removed.
func (c *Cache[T]) removeWhere(kind string, fn func(Key) bool) int {
	c.mu.Lock()
	removed := 0
	for k := range c.entries {
		if fn(k) {
			delete(c.entries, k)
			removed++
		}
	}
	size := len(c.entries)
	c.mu.Unlock()

	if removed > 0 {
		metrics.CacheInvalidationsTotal.WithLabelValues(c.name, kind).Add(float64(removed))
		metrics.CacheEntries.WithLabelValues(c.name).Set(float64(size))
	}
	return removed
}

// InvalidateQuery removes every entry for query, whatever its top_k or scope.
func (c *Cache[T]) InvalidateQuery(query string) int {
	return c.removeWhere("query", func(k Key) bool { return k.Query == query })
}

// InvalidateQueryTopK removes the entries for query and topK in every scope.
func (c *Cache[T]) InvalidateQueryTopK(query string, topK int) int {
	return c.removeWhere("query", func(k Key) bool { return k.Query == query && k.TopK == topK })
}

// InvalidateKey removes the single entry for (query, topK, scope).
func (c *Cache[T]) InvalidateKey(query string, topK int, scope string) int {
	want := Key{Query: query, TopK: topK, Scope: scope}
	return c.removeWhere("key", func(k Key) bool { return k == want })
}

// InvalidateProject removes every entry belonging to scope.
func (c *Cache[T]) InvalidateProject(scope string) int {
	removed := c.removeWhere("project", func(k Key) bool { return k.Scope == scope })
	if removed > 0 {
		logger.Debug("Search cache: project invalidated", "cache", c.name, "scope", scope, "removed", removed)
	}
	return removed
}

// CleanupExpired removes every entry whose TTL has elapsed.
func (c *Cache[T]) CleanupExpired() int {
	now := c.clock.Now()

	c.mu.Lock()
	removed := 0
	for k, e := range c.entries {
		if c.expired(e, now) {
			delete(c.entries, k)
			removed++
		}
	}
	size := len(c.entries)
	c.mu.Unlock()

	if removed > 0 {
		metrics.CacheExpirationsTotal.WithLabelValues(c.name).Add(float64(removed))
	}
	metrics.CacheEntries.WithLabelValues(c.name).Set(float64(size))
	return removed
}

// StartCleanup sweeps expired entries every interval until Stop is called.
// Only the first call starts a sweeper; calls after Stop do nothing.
func (c *Cache[T]) StartCleanup(interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}

	c.lifeMu.Lock()
	defer c.lifeMu.Unlock()
	if c.started || c.stopped {
		return
	}
	c.started = true
	c.stopCleanup = make(chan struct{})
	c.cleanupStopped = make(chan struct{})

	stop, done := c.stopCleanup, c.cleanupStopped
	go func() {
		defer close(done)
		for {
			select {
			case <-stop:
				return
			case <-c.clock.After(interval):
				if n := c.CleanupExpired(); n > 0 {
					logger.Debug("Search cache: removed expired entries", "cache", c.name, "removed", n)
				}
			}
		}
	}()
	logger.Info("Search cache: cleanup started", "cache", c.name, "ttl", c.ttl, "interval", interval)
}

// Stop stops the cleanup goroutine and waits for it to exit. It is safe to
// call more than once and without StartCleanup.
func (c *Cache[T]) Stop() {
	c.lifeMu.Lock()
	defer c.lifeMu.Unlock()
	if c.stopped {
		return
	}
	c.stopped = true
	if c.started {
		close(c.stopCleanup)
		<-c.cleanupStopped
	}
}

// Len returns the number of stored entries, expired or not.
func (c *Cache[T]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Stats returns the current counters.
func (c *Cache[T]) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	total := c.hits + c.misses + c.expirations
	return Stats{
		Hits:          c.hits,
		Misses:        c.misses,
		Expirations:   c.expirations,
		TotalRequests: total,
		HitRate:       embedcache.HitRate(c.hits, total),
		CacheSize:     len(c.entries),
		TTLSeconds:    c.ttl.Seconds(),
	}
}

// Clear drops every entry. Counters are kept.
func (c *Cache[T]) Clear() {
	c.mu.Lock()
	c.entries = make(map[Key]entry[T])
	c.mu.Unlock()
	metrics.CacheEntries.WithLabelValues(c.name).Set(0)
}

// ResetStats zeroes the counters.
func (c *Cache[T]) ResetStats() {
	c.mu.Lock()
	c.hits, c.misses, c.expirations = 0, 0, 0
	c.mu.Unlock()
}
