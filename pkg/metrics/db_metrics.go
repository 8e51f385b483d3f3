package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Database connection pool metrics
var (
	DBPoolTotalConns = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "soradb_pool_total_conns",
			Help: "Total number of open connections in the pool.",
		},
		[]string{"pool", "role"}, // role: "primary", "replica"
	)
	DBPoolIdleConns = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "soradb_pool_idle_conns",
			Help: "Number of idle (checked in) connections in the pool.",
		},
		[]string{"pool", "role"},
	)
	DBPoolInUseConns = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "soradb_pool_in_use_conns",
			Help: "Number of sessions currently checked out.",
		},
		[]string{"pool", "role"},
	)
	DBPoolOverflowConns = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "soradb_pool_overflow_conns",
			Help: "Number of checked out sessions beyond the persistent pool size.",
		},
		[]string{"pool", "role"},
	)

	DBPoolAcquireDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "soradb_pool_acquire_duration_seconds",
			Help:    "Time spent waiting for a pool slot and a connection.",
			Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 30},
		},
		[]string{"pool", "role"},
	)
	DBConnectionAcquireTimeout = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "soradb_pool_acquire_timeout_total",
			Help: "Total number of pool slot waits that hit the acquire timeout.",
		},
		[]string{"pool", "role"},
	)
	DBConnectionAcquireErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "soradb_pool_acquire_errors_total",
			Help: "Total number of failed session acquisitions.",
		},
		[]string{"pool", "role"},
	)
)

// Statement metrics
var (
	DBQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "soradb_query_duration_seconds",
			Help:    "Duration of statements executed through pooled sessions.",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"pool", "role"},
	)
	DBQueriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "soradb_queries_total",
			Help: "Total number of statements executed through pooled sessions.",
		},
		[]string{"pool", "role", "status"}, // status: "success", "failure"
	)
	DBSlowQueriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "soradb_slow_queries_total",
			Help: "Total number of statements at or above the slow query threshold.",
		},
		[]string{"pool", "role"},
	)
)

// Routing metrics
var (
	DBRoutedSessionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "soradb_routed_sessions_total",
			Help: "Total number of sessions handed out by the router, by requested and served role.",
		},
		[]string{"requested", "served"},
	)
	DBReplicaFallbacksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "soradb_replica_fallbacks_total",
			Help: "Total number of replica acquisitions that fell back to the primary.",
		},
		[]string{"replica"},
	)
	DBCircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "soradb_replica_breaker_state",
			Help: "State of the replica circuit breaker (0=closed, 1=half_open, 2=open).",
		},
		[]string{"replica"},
	)
	DBPoolHealthy = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "soradb_pool_healthy",
			Help: "Result of the last health check of a pool (1=healthy, 0=unhealthy).",
		},
		[]string{"pool"},
	)
)
