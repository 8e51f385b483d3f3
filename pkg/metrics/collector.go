package metrics

import (
	"context"
	"time"

	"github.com/migadu/soradb/logger"
)

// PoolSnapshot is the point-in-time state of one connection pool.
type PoolSnapshot struct {
	Name     string
	Role     string
	InUse    int
	Idle     int
	Total    int
	Overflow int
}

// PoolStatsProvider is implemented by anything that owns connection pools.
type PoolStatsProvider interface {
	PoolSnapshots() []PoolSnapshot
}

// Collector periodically copies pool statistics into the pool gauges.
type Collector struct {
	provider PoolStatsProvider
	interval time.Duration
	stopCh   chan struct{}
}

// NewCollector creates a new pool metrics collector
func NewCollector(provider PoolStatsProvider, interval time.Duration) *Collector {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	return &Collector{
		provider: provider,
		interval: interval,
		stopCh:   make(chan struct{}),
	}
}

// Start begins collecting until ctx is done or Stop is called.
func (c *Collector) Start(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(c.interval)
		defer ticker.Stop()

		c.Collect()
		for {
			select {
			case <-ctx.Done():
				return
			case <-c.stopCh:
				return
			case <-ticker.C:
				c.Collect()
			}
		}
	}()
	logger.Info("Metrics: pool stats collector started", "interval", c.interval)
}

// Stop stops the collector. It must be called at most once.
func (c *Collector) Stop() {
	close(c.stopCh)
}

// Collect performs a single collection pass.
func (c *Collector) Collect() {
	for _, s := range c.provider.PoolSnapshots() {
		DBPoolTotalConns.WithLabelValues(s.Name, s.Role).Set(float64(s.Total))
		DBPoolIdleConns.WithLabelValues(s.Name, s.Role).Set(float64(s.Idle))
		DBPoolInUseConns.WithLabelValues(s.Name, s.Role).Set(float64(s.InUse))
		DBPoolOverflowConns.WithLabelValues(s.Name, s.Role).Set(float64(s.Overflow))
	}
}
