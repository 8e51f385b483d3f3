// Package profiler records per-operation latency statistics.
//
// Operations are wrapped once and then called as usual:
//
//	p := profiler.New(100 * time.Millisecond)
//	search := p.Wrap("search.semantic", func(ctx context.Context) error {
//		return runSearch(ctx)
//	})
//	err := search(ctx)
//
// Call sites that cannot be wrapped report durations with ManualTrack.
package profiler

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/migadu/soradb/pkg/metrics"
)

// unsetMin is the minimum duration of an operation that has never run.
const unsetMin = time.Duration(math.MaxInt64)

// QueryStats accumulates executions of one named operation.
type QueryStats struct {
	Name       string
	Count      int64
	TotalTime  time.Duration
	MinTime    time.Duration
	MaxTime    time.Duration
	SlowCount  int64
	ErrorCount int64
}

func newQueryStats(name string) *QueryStats {
	return &QueryStats{Name: name, MinTime: unsetMin}
}

// AvgTime returns the mean duration, or 0 if the operation never ran.
func (s *QueryStats) AvgTime() time.Duration {
	if s.Count == 0 {
		return 0
	}
	return s.TotalTime / time.Duration(s.Count)
}

// SlowPercentage returns the share of slow executions in percent.
func (s *QueryStats) SlowPercentage() float64 {
	if s.Count == 0 {
		return 0
	}
	return float64(s.SlowCount) / float64(s.Count) * 100
}

func (s *QueryStats) addExecution(d time.Duration, isSlow, isError bool) {
	s.Count++
	s.TotalTime += d
	if d < s.MinTime {
		s.MinTime = d
	}
	if d > s.MaxTime {
		s.MaxTime = d
	}
	if isSlow {
		s.SlowCount++
	}
	if isError {
		s.ErrorCount++
	}
}

// Snapshot is a copy of QueryStats with the derived values filled in.
type Snapshot struct {
	Name           string        `json:"name"`
	Count          int64         `json:"count"`
	TotalTime      time.Duration `json:"total_time_ns"`
	MinTime        time.Duration `json:"min_time_ns"`
	MaxTime        time.Duration `json:"max_time_ns"`
	AvgTime        time.Duration `json:"avg_time_ns"`
	SlowCount      int64         `json:"slow_count"`
	ErrorCount     int64         `json:"error_count"`
	SlowPercentage float64       `json:"slow_percentage"`
}

func (s *QueryStats) snapshot() Snapshot {
	return Snapshot{
		Name:           s.Name,
		Count:          s.Count,
		TotalTime:      s.TotalTime,
		MinTime:        s.MinTime,
		MaxTime:        s.MaxTime,
		AvgTime:        s.AvgTime(),
		SlowCount:      s.SlowCount,
		ErrorCount:     s.ErrorCount,
		SlowPercentage: s.SlowPercentage(),
	}
}

// QueryProfiler keeps QueryStats per operation name. It is safe for
// concurrent use.
type QueryProfiler struct {
	threshold time.Duration

	mu    sync.Mutex
	stats map[string]*QueryStats
}

// New creates a profiler that classifies executions taking at least
// threshold as slow.
func New(threshold time.Duration) *QueryProfiler {
	return &QueryProfiler{
		threshold: threshold,
		stats:     make(map[string]*QueryStats),
	}
}

// Threshold returns the slow operation threshold.
func (p *QueryProfiler) Threshold() time.Duration {
	return p.threshold
}

func (p *QueryProfiler) record(name string, d time.Duration, isSlow, isError bool) {
	p.mu.Lock()
	s, ok := p.stats[name]
	if !ok {
		s = newQueryStats(name)
		p.stats[name] = s
	}
	s.addExecution(d, isSlow, isError)
	p.mu.Unlock()

	metrics.ProfiledOperationDuration.WithLabelValues(name).Observe(d.Seconds())
	if isSlow {
		metrics.ProfiledOperationSlowTotal.WithLabelValues(name).Inc()
	}
	if isError {
		metrics.ProfiledOperationErrorsTotal.WithLabelValues(name).Inc()
	}
}

// observe runs fn and records it. A panic is recorded as an error and then
// propagated unchanged.
func (p *QueryProfiler) observe(name string, fn func() error) (err error) {
	start := time.Now()
	failed := true
	defer func() {
		d := time.Since(start)
		p.record(name, d, d >= p.threshold, failed)
	}()

	err = fn()
	failed = err != nil
	return err
}

// Wrap returns fn instrumented under name. The returned error is exactly the
// one fn returned.
func (p *QueryProfiler) Wrap(name string, fn func(context.Context) error) func(context.Context) error {
	return func(ctx context.Context) error {
		return p.observe(name, func() error { return fn(ctx) })
	}
}

// WrapAsync returns fn instrumented under name and started on its own
// goroutine. The result is delivered on the returned channel, which is
// buffered so the goroutine never blocks on an abandoned caller. A panic in
// fn is recorded and re-raised on that goroutine.
func (p *QueryProfiler) WrapAsync(name string, fn func(context.Context) error) func(context.Context) <-chan error {
	wrapped := p.Wrap(name, fn)
	return func(ctx context.Context) <-chan error {
		done := make(chan error, 1)
		go func() {
			done <- wrapped(ctx)
		}()
		return done
	}
}

// Profile instruments a value-returning operation.
func Profile[T any](p *QueryProfiler, name string, fn func(context.Context) (T, error)) func(context.Context) (T, error) {
	return func(ctx context.Context) (T, error) {
		var result T
		err := p.observe(name, func() error {
			var err error
			result, err = fn(ctx)
			return err
		})
		return result, err
	}
}

// ManualTrack records an execution measured by the caller. It is never
// counted as an error.
func (p *QueryProfiler) ManualTrack(name string, d time.Duration, isSlow bool) {
	p.record(name, d, isSlow, false)
}

// Stats returns a snapshot of every operation.
func (p *QueryProfiler) Stats() map[string]Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make(map[string]Snapshot, len(p.stats))
	for name, s := range p.stats {
		out[name] = s.snapshot()
	}
	return out
}

// Get returns the snapshot of a single operation.
func (p *QueryProfiler) Get(name string) (Snapshot, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	s, ok := p.stats[name]
	if !ok {
		return Snapshot{}, false
	}
	return s.snapshot(), true
}

// SlowQueries returns operations with at least minSlowCount slow executions,
// most slow executions first.
func (p *QueryProfiler) SlowQueries(minSlowCount int64) []Snapshot {
	p.mu.Lock()
	var out []Snapshot
	for _, s := range p.stats {
		if s.SlowCount >= minSlowCount {
			out = append(out, s.snapshot())
		}
	}
	p.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].SlowCount != out[j].SlowCount {
			return out[i].SlowCount > out[j].SlowCount
		}
		return out[i].Name < out[j].Name
	})
	return out
}

// SlowestQueries returns up to limit operations ordered by average duration,
// slowest first.
func (p *QueryProfiler) SlowestQueries(limit int) []Snapshot {
	if limit <= 0 {
		return nil
	}

	p.mu.Lock()
	out := make([]Snapshot, 0, len(p.stats))
	for _, s := range p.stats {
		out = append(out, s.snapshot())
	}
	p.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].AvgTime != out[j].AvgTime {
			return out[i].AvgTime > out[j].AvgTime
		}
		return out[i].Name < out[j].Name
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

// Reset clears the statistics of one operation. It reports whether the
// operation was known.
func (p *QueryProfiler) Reset(name string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.stats[name]; !ok {
		return false
	}
	delete(p.stats, name)
	return true
}

// ResetAll clears every operation.
func (p *QueryProfiler) ResetAll() {
	p.mu.Lock()
	p.stats = make(map[string]*QueryStats)
	p.mu.Unlock()
}

func (s Snapshot) String() string {
	return fmt.Sprintf("%s: count=%d avg=%s max=%s slow=%d errors=%d",
		s.Name, s.Count, s.AvgTime, s.MaxTime, s.SlowCount, s.ErrorCount)
}
