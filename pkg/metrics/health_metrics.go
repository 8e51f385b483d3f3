package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Health check metrics
var (
	ComponentHealthChecks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "soradb_health_checks_total",
			Help: "Total number of health checks performed, by resulting status.",
		},
		[]string{"component", "status"},
	)
	ComponentHealthStatus = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "soradb_component_health_status",
			Help: "Health of a component (0=unreachable, 1=unhealthy, 2=degraded, 3=healthy).",
		},
		[]string{"component"},
	)
	ComponentHealthCheckDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "soradb_health_check_duration_seconds",
			Help:    "Duration of component health checks.",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 10},
		},
		[]string{"component"},
	)
)
