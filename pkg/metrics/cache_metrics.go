package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Semantic cache metrics. The cache label is "embedding" or the name given
// to a search result cache.
var (
	CacheHitsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "soradb_cache_hits_total",
			Help: "Total number of cache hits.",
		},
		[]string{"cache"},
	)
	CacheMissesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "soradb_cache_misses_total",
			Help: "Total number of cold cache misses.",
		},
		[]string{"cache"},
	)
	CacheExpirationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "soradb_cache_expirations_total",
			Help: "Total number of entries found expired on lookup or removed by the sweeper.",
		},
		[]string{"cache"},
	)
	CacheEvictionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "soradb_cache_evictions_total",
			Help: "Total number of entries evicted to respect the size bound.",
		},
		[]string{"cache"},
	)
	CacheInvalidationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "soradb_cache_invalidations_total",
			Help: "Total number of entries removed by explicit invalidation.",
		},
		[]string{"cache", "kind"}, // kind: "query", "project", "key"
	)
	CacheEntries = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "soradb_cache_entries",
			Help: "Current number of cache entries.",
		},
		[]string{"cache"},
	)
)

// Profiler metrics
var (
	ProfiledOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "soradb_profiled_operation_duration_seconds",
			Help:    "Duration of operations recorded by the query profiler.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)
	ProfiledOperationSlowTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "soradb_profiled_operation_slow_total",
			Help: "Total number of profiled operations at or above the slow threshold.",
		},
		[]string{"operation"},
	)
	ProfiledOperationErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "soradb_profiled_operation_errors_total",
			Help: "Total number of profiled operations that failed.",
		},
		[]string{"operation"},
	)
)
