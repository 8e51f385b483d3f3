package health

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/migadu/soradb/logger"
	"github.com/migadu/soradb/pkg/metrics"
)

type ComponentStatus string

const (
	StatusHealthy     ComponentStatus = "healthy"
	StatusDegraded    ComponentStatus = "degraded"
	StatusUnhealthy   ComponentStatus = "unhealthy"
	StatusUnreachable ComponentStatus = "unreachable"
)

type HealthCheck struct {
	Name     string
	Check    func(ctx context.Context) error
	Interval time.Duration
	Timeout  time.Duration
	Critical bool // If true, failure affects overall system health

	// Fields below are protected by mu
	mu         sync.RWMutex
	lastCheck  time.Time
	lastError  error
	status     ComponentStatus
	checkCount int
	failCount  int
}

// CheckReport is the exported state of one check.
type CheckReport struct {
	Name       string          `json:"name"`
	Status     ComponentStatus `json:"status"`
	Critical   bool            `json:"critical"`
	LastCheck  time.Time       `json:"last_check,omitempty"`
	LastError  string          `json:"last_error,omitempty"`
	CheckCount int             `json:"check_count"`
	FailCount  int             `json:"fail_count"`
}

// Overview summarizes every registered check.
type Overview struct {
	OverallStatus ComponentStatus `json:"overall_status"`
	Checks        []CheckReport   `json:"checks"`
}

type HealthMonitor struct {
	checks          map[string]*HealthCheck
	mu              sync.RWMutex
	overallStatus   ComponentStatus
	ctx             context.Context
	cancel          context.CancelFunc
	wg              sync.WaitGroup
	statusCallbacks []func(name string, status ComponentStatus)
}

func NewHealthMonitor() *HealthMonitor {
	return &HealthMonitor{
		checks:        make(map[string]*HealthCheck),
		overallStatus: StatusHealthy,
		ctx:           context.Background(),
	}
}

func (hm *HealthMonitor) RegisterCheck(check *HealthCheck) {
	if check.Interval == 0 {
		check.Interval = 30 * time.Second
	}
	if check.Timeout == 0 {
		check.Timeout = 10 * time.Second
	}
	check.status = StatusHealthy

	hm.mu.Lock()
	hm.checks[check.Name] = check
	hm.mu.Unlock()
}

func (hm *HealthMonitor) AddStatusCallback(callback func(name string, status ComponentStatus)) {
	hm.mu.Lock()
	hm.statusCallbacks = append(hm.statusCallbacks, callback)
	hm.mu.Unlock()
}

// Start runs every registered check on its own ticker until ctx is done or
// Stop is called.
func (hm *HealthMonitor) Start(ctx context.Context) {
	hm.mu.Lock()
	hm.ctx, hm.cancel = context.WithCancel(ctx)
	checks := make([]*HealthCheck, 0, len(hm.checks))
	for _, check := range hm.checks {
		checks = append(checks, check)
	}
	hm.mu.Unlock()

	for _, check := range checks {
		hm.wg.Add(1)
		go hm.runHealthCheck(check)
	}
}

// Stop cancels the check loops and waits for them to exit.
func (hm *HealthMonitor) Stop() {
	hm.mu.RLock()
	cancel := hm.cancel
	hm.mu.RUnlock()
	if cancel != nil {
		cancel()
	}
	hm.wg.Wait()
}

// CheckNow runs every registered check once and waits for the results.
func (hm *HealthMonitor) CheckNow(ctx context.Context) {
	hm.mu.RLock()
	checks := make([]*HealthCheck, 0, len(hm.checks))
	for _, check := range hm.checks {
		checks = append(checks, check)
	}
	hm.mu.RUnlock()

	var wg sync.WaitGroup
	for _, check := range checks {
		check := check
		wg.Add(1)
		go func() {
			defer wg.Done()
			hm.performCheck(ctx, check)
		}()
	}
	wg.Wait()
}

func (hm *HealthMonitor) runHealthCheck(check *HealthCheck) {
	defer hm.wg.Done()
	ticker := time.NewTicker(check.Interval)
	defer ticker.Stop()

	hm.mu.RLock()
	ctx := hm.ctx
	hm.mu.RUnlock()

	logger.Info("Health: monitoring started", "check", check.Name, "interval", check.Interval)

	// The first check waits for the first tick so startup can finish.
	for {
		select {
		case <-ctx.Done():
			logger.Info("Health: monitoring stopped", "check", check.Name)
			return
		case <-ticker.C:
			hm.performCheck(ctx, check)
		}
	}
}

func (hm *HealthMonitor) performCheck(parent context.Context, check *HealthCheck) {
	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("panic: %v", r)
			logger.Error("Health: panic during check", "check", check.Name, "error", err)

			check.mu.Lock()
			check.checkCount++
			check.failCount++
			check.lastCheck = time.Now()
			check.status = StatusUnhealthy
			check.lastError = err
			check.mu.Unlock()

			metrics.ComponentHealthStatus.WithLabelValues(check.Name).Set(statusValue(StatusUnhealthy))
			hm.notifyStatusChange(check.Name, StatusUnhealthy)
			hm.updateOverallStatus()
		}
	}()

	ctx, cancel := context.WithTimeout(parent, check.Timeout)
	defer cancel()

	startTime := time.Now()
	err := check.Check(ctx)
	metrics.ComponentHealthCheckDuration.WithLabelValues(check.Name).Observe(time.Since(startTime).Seconds())

	check.mu.Lock()
	check.checkCount++
	check.lastCheck = time.Now()
	previousStatus := check.status
	isFirstCheck := check.checkCount == 1

	if err != nil {
		check.failCount++
		check.lastError = err

		// A check failing at least half the time is unhealthy. Occasional
		// failures only degrade it.
		failureRate := float64(check.failCount) / float64(check.checkCount)
		if failureRate >= 0.5 {
			check.status = StatusUnhealthy
		} else {
			check.status = StatusDegraded
		}
		logger.Warn("Health: check failed", "check", check.Name, "error", err,
			"status", check.status, "failure_rate", fmt.Sprintf("%.2f", failureRate))
	} else {
		check.lastError = nil
		check.status = StatusHealthy
	}
	currentStatus := check.status
	check.mu.Unlock()

	metrics.ComponentHealthChecks.WithLabelValues(check.Name, string(currentStatus)).Inc()
	metrics.ComponentHealthStatus.WithLabelValues(check.Name).Set(statusValue(currentStatus))

	if previousStatus != currentStatus || isFirstCheck {
		if isFirstCheck {
			logger.Info("Health: check initialized", "check", check.Name, "status", currentStatus)
		} else {
			logger.Info("Health: check status changed", "check", check.Name, "from", previousStatus, "to", currentStatus)
		}
		hm.notifyStatusChange(check.Name, currentStatus)
	}

	hm.updateOverallStatus()
}

func statusValue(s ComponentStatus) float64 {
	switch s {
	case StatusHealthy:
		return 3
	case StatusDegraded:
		return 2
	case StatusUnhealthy:
		return 1
	default:
		return 0
	}
}

func (hm *HealthMonitor) notifyStatusChange(name string, status ComponentStatus) {
	hm.mu.RLock()
	callbacks := make([]func(string, ComponentStatus), len(hm.statusCallbacks))
	copy(callbacks, hm.statusCallbacks)
	hm.mu.RUnlock()

	for _, callback := range callbacks {
		go callback(name, status)
	}
}

// updateOverallStatus derives the system status: a failing critical check
// makes it unhealthy, any other failing or degraded check makes it degraded.
func (hm *HealthMonitor) updateOverallStatus() {
	hm.mu.Lock()
	defer hm.mu.Unlock()

	var criticalUnhealthy, anyDegraded bool
	for _, check := range hm.checks {
		check.mu.RLock()
		status := check.status
		critical := check.Critical
		check.mu.RUnlock()

		switch status {
		case StatusUnhealthy, StatusUnreachable:
			if critical {
				criticalUnhealthy = true
			} else {
				anyDegraded = true
			}
		case StatusDegraded:
			anyDegraded = true
		}
	}

	previousStatus := hm.overallStatus
	switch {
	case criticalUnhealthy:
		hm.overallStatus = StatusUnhealthy
	case anyDegraded:
		hm.overallStatus = StatusDegraded
	default:
		hm.overallStatus = StatusHealthy
	}

	if previousStatus != hm.overallStatus {
		logger.Info("Health: overall status changed", "from", previousStatus, "to", hm.overallStatus)
	}
}

func (hm *HealthMonitor) GetOverallStatus() ComponentStatus {
	hm.mu.RLock()
	defer hm.mu.RUnlock()
	return hm.overallStatus
}

func (hm *HealthMonitor) GetCheckStatus(name string) (ComponentStatus, bool) {
	hm.mu.RLock()
	check, exists := hm.checks[name]
	hm.mu.RUnlock()

	if !exists {
		return StatusUnreachable, false
	}

	check.mu.RLock()
	defer check.mu.RUnlock()
	return check.status, true
}

// Overview returns every check sorted by name.
func (hm *HealthMonitor) Overview() Overview {
	hm.mu.RLock()
	overall := hm.overallStatus
	checks := make([]*HealthCheck, 0, len(hm.checks))
	for _, check := range hm.checks {
		checks = append(checks, check)
	}
	hm.mu.RUnlock()

	reports := make([]CheckReport, 0, len(checks))
	for _, check := range checks {
		check.mu.RLock()
		r := CheckReport{
			Name:       check.Name,
			Status:     check.status,
			Critical:   check.Critical,
			LastCheck:  check.lastCheck,
			CheckCount: check.checkCount,
			FailCount:  check.failCount,
		}
		if check.lastError != nil {
			r.LastError = check.lastError.Error()
		}
		check.mu.RUnlock()
		reports = append(reports, r)
	}
	sort.Slice(reports, func(i, j int) bool { return reports[i].Name < reports[j].Name })
	return Overview{OverallStatus: overall, Checks: reports}
}
