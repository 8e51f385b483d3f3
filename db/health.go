package db

type ComponentStatus string

const (
	StatusHealthy   ComponentStatus = "healthy"
	StatusDegraded  ComponentStatus = "degraded"
	StatusUnhealthy ComponentStatus = "unhealthy"
)

// PoolHealth is the result of probing one pool.
type PoolHealth struct {
	Status     ComponentStatus `json:"status"`
	LatencyMS  float64         `json:"latency_ms,omitempty"`
	PoolStatus *PoolStatus     `json:"pool_status,omitempty"`
	Error      string          `json:"error,omitempty"`
}

// Healthy reports whether the probe succeeded.
func (h PoolHealth) Healthy() bool {
	return h.Status == StatusHealthy
}
