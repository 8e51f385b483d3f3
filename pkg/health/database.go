package health

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/migadu/soradb/db"
	"github.com/migadu/soradb/pkg/circuitbreaker"
)

// RegisterRouterChecks registers the primary as a critical check and every
// replica as a non-critical one, so a lost replica degrades the system but
// never makes it unhealthy.
func RegisterRouterChecks(hm *HealthMonitor, router *db.Router, interval time.Duration) {
	for _, pool := range router.Pools() {
		hm.RegisterCheck(&HealthCheck{
			Name:     "database." + pool.Name(),
			Interval: interval,
			Timeout:  pool.Options().HealthTimeout,
			Critical: pool.Role() == db.RolePrimary,
			Check:    poolCheck(router, pool),
		})
	}
}

func poolCheck(router *db.Router, pool *db.ConnectionPool) func(context.Context) error {
	return func(ctx context.Context) error {
		if state, ok := router.BreakerState(pool.Name()); ok && state == circuitbreaker.StateOpen {
			return fmt.Errorf("%s: %w", pool.Name(), circuitbreaker.ErrCircuitBreakerOpen)
		}
		h := pool.Health(ctx)
		if !h.Healthy() {
			return errors.New(h.Error)
		}
		return nil
	}
}
