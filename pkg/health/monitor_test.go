package health

import (
	"context"
	"errors"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/migadu/soradb/db"
	"github.com/migadu/soradb/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func staticCheck(name string, critical bool, err *atomic.Value) *HealthCheck {
	return &HealthCheck{
		Name:     name,
		Critical: critical,
		Interval: time.Hour,
		Check: func(context.Context) error {
			if v := err.Load(); v != nil {
				return v.(error)
			}
			return nil
		},
	}
}

func TestOverallStatus(t *testing.T) {
	hm := NewHealthMonitor()
	var critErr, optErr atomic.Value
	hm.RegisterCheck(staticCheck("critical", true, &critErr))
	hm.RegisterCheck(staticCheck("optional", false, &optErr))

	hm.CheckNow(context.Background())
	assert.Equal(t, StatusHealthy, hm.GetOverallStatus())

	optErr.Store(errors.New("replica down"))
	hm.CheckNow(context.Background())
	status, ok := hm.GetCheckStatus("optional")
	require.True(t, ok)
	assert.Equal(t, StatusUnhealthy, status)
	assert.Equal(t, StatusDegraded, hm.GetOverallStatus())

	critErr.Store(errors.New("primary down"))
	hm.CheckNow(context.Background())
	assert.Equal(t, StatusDegraded, mustStatus(t, hm, "critical"), "one failure in three checks")
	hm.CheckNow(context.Background())
	assert.Equal(t, StatusUnhealthy, mustStatus(t, hm, "critical"))
	assert.Equal(t, StatusUnhealthy, hm.GetOverallStatus())
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.ComponentHealthStatus.WithLabelValues("critical")))

	_, ok = hm.GetCheckStatus("missing")
	assert.False(t, ok)
}

func mustStatus(t *testing.T, hm *HealthMonitor, name string) ComponentStatus {
	t.Helper()
	s, ok := hm.GetCheckStatus(name)
	require.True(t, ok)
	return s
}

func TestPanickingCheckIsUnhealthy(t *testing.T) {
	hm := NewHealthMonitor()
	hm.RegisterCheck(&HealthCheck{
		Name:     "panicky",
		Critical: true,
		Check:    func(context.Context) error { panic("kaboom") },
	})

	hm.CheckNow(context.Background())
	ov := hm.Overview()
	require.Len(t, ov.Checks, 1)
	assert.Equal(t, StatusUnhealthy, ov.Checks[0].Status)
	assert.Contains(t, ov.Checks[0].LastError, "kaboom")
	assert.Equal(t, StatusUnhealthy, ov.OverallStatus)
}

func TestStatusCallbacks(t *testing.T) {
	hm := NewHealthMonitor()
	var errv atomic.Value
	hm.RegisterCheck(staticCheck("svc", false, &errv))

	changes := make(chan ComponentStatus, 4)
	hm.AddStatusCallback(func(_ string, s ComponentStatus) { changes <- s })

	hm.CheckNow(context.Background())
	assert.Equal(t, StatusHealthy, <-changes)

	errv.Store(errors.New("down"))
	hm.CheckNow(context.Background())
	assert.Equal(t, StatusUnhealthy, <-changes)
}

func TestStartRunsChecksOnTicker(t *testing.T) {
	hm := NewHealthMonitor()
	var calls atomic.Int32
	hm.RegisterCheck(&HealthCheck{
		Name:     "ticking",
		Interval: 10 * time.Millisecond,
		Check: func(context.Context) error {
			calls.Add(1)
			return nil
		},
	})

	hm.Start(context.Background())
	assert.Eventually(t, func() bool { return calls.Load() >= 2 }, time.Second, 5*time.Millisecond)
	hm.Stop()

	n := calls.Load()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, n, calls.Load(), "no checks after Stop")
}

func TestRouterChecks(t *testing.T) {
	dir := t.TempDir()
	router, err := db.NewRouter(
		"sqlite://"+filepath.Join(dir, "primary.db"),
		[]string{"sqlite://" + filepath.Join(dir, "replica.db")},
		db.RouterOptions{},
	)
	require.NoError(t, err)
	defer router.Close()

	hm := NewHealthMonitor()
	RegisterRouterChecks(hm, router, time.Minute)
	hm.CheckNow(context.Background())
	assert.Equal(t, StatusHealthy, hm.GetOverallStatus())

	require.NoError(t, router.Pools()[1].Close())
	hm.CheckNow(context.Background())
	assert.Equal(t, StatusUnhealthy, mustStatus(t, hm, "database.replica_0"))
	assert.Equal(t, StatusDegraded, hm.GetOverallStatus(), "replica loss only degrades")

	require.NoError(t, router.Primary().Close())
	hm.CheckNow(context.Background())
	hm.CheckNow(context.Background())
	assert.Equal(t, StatusUnhealthy, hm.GetOverallStatus())
}
