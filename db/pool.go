package db

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/migadu/soradb/helpers"
	"github.com/migadu/soradb/logger"
	"github.com/migadu/soradb/pkg/metrics"
	"github.com/migadu/soradb/pkg/profiler"
	"golang.org/x/sync/semaphore"
)

const (
	DefaultPoolSize           = 20
	DefaultMaxOverflow        = 10
	DefaultPoolRecycle        = time.Hour
	DefaultSlowQueryThreshold = 100 * time.Millisecond
	DefaultAcquireTimeout     = 30 * time.Second
	DefaultHealthTimeout      = 5 * time.Second
)

// PoolOptions configures a ConnectionPool. Zero values take the defaults
// above, except MaxOverflow and AcquireTimeout which use NoOverflow and
// NoAcquireTimeout to request zero explicitly.
type PoolOptions struct {
	Name               string
	Role               Role
	PoolSize           int
	MaxOverflow        int
	PoolRecycle        time.Duration
	SlowQueryThreshold time.Duration
	AcquireTimeout     time.Duration
	HealthTimeout      time.Duration
	LogQueries         bool
	Profiler           *profiler.QueryProfiler
}

const (
	// NoOverflow disables overflow connections.
	NoOverflow = -1
	// NoAcquireTimeout makes slot waits bounded by the caller's context only.
	NoAcquireTimeout time.Duration = -1
)

func (o PoolOptions) withDefaults() PoolOptions {
	if o.Role == 0 {
		o.Role = RolePrimary
	}
	if o.Name == "" {
		o.Name = o.Role.String()
	}
	if o.PoolSize <= 0 {
		o.PoolSize = DefaultPoolSize
	}
	switch {
	case o.MaxOverflow == 0:
		o.MaxOverflow = DefaultMaxOverflow
	case o.MaxOverflow < 0:
		o.MaxOverflow = 0
	}
	if o.PoolRecycle <= 0 {
		o.PoolRecycle = DefaultPoolRecycle
	}
	if o.SlowQueryThreshold <= 0 {
		o.SlowQueryThreshold = DefaultSlowQueryThreshold
	}
	switch {
	case o.AcquireTimeout == 0:
		o.AcquireTimeout = DefaultAcquireTimeout
	case o.AcquireTimeout < 0:
		o.AcquireTimeout = 0
	}
	if o.HealthTimeout <= 0 {
		o.HealthTimeout = DefaultHealthTimeout
	}
	return o
}

// PoolStatus is a point-in-time view of a pool.
type PoolStatus struct {
	Size               int     `json:"size"`
	CheckedIn          int     `json:"checked_in"`
	CheckedOut         int     `json:"checked_out"`
	Overflow           int     `json:"overflow"`
	Total              int     `json:"total"`
	UtilizationPercent float64 `json:"utilization_percent"`
	SlowQueryCount     int64   `json:"slow_query_count"`
}

// ConnectionPool bounds concurrent sessions against one database. At most
// PoolSize+MaxOverflow sessions are checked out at a time; further callers
// wait for a free slot.
type ConnectionPool struct {
	name    string
	url     string
	opts    PoolOptions
	backend backend
	slots   *semaphore.Weighted

	checkedOut  atomic.Int64
	slowQueries atomic.Int64

	closeOnce sync.Once
	closed    atomic.Bool
	closeErr  error
}

// NewConnectionPool validates rawURL and builds a pool for it. No connection
// is opened until the first session is requested.
func NewConnectionPool(rawURL string, opts PoolOptions) (*ConnectionPool, error) {
	opts = opts.withDefaults()
	maxOpen := opts.PoolSize + opts.MaxOverflow

	b, err := openBackend(rawURL, backendConfig{
		pool:        opts.Name,
		maxOpen:     maxOpen,
		maxIdle:     opts.PoolSize,
		maxLifetime: opts.PoolRecycle,
		logQueries:  opts.LogQueries,
	})
	if err != nil {
		return nil, err
	}

	logger.Info("DB: pool created",
		"pool", opts.Name,
		"role", opts.Role,
		"url", helpers.MaskDatabaseURL(rawURL),
		"pool_size", opts.PoolSize,
		"max_overflow", opts.MaxOverflow,
		"recycle", opts.PoolRecycle)

	return &ConnectionPool{
		name:    opts.Name,
		url:     rawURL,
		opts:    opts,
		backend: b,
		slots:   semaphore.NewWeighted(int64(maxOpen)),
	}, nil
}

// OpenPool builds a pool, runs fn with it and closes it on every exit path.
func OpenPool(ctx context.Context, rawURL string, opts PoolOptions, fn func(context.Context, *ConnectionPool) error) (err error) {
	pool, err := NewConnectionPool(rawURL, opts)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := pool.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()
	return fn(ctx, pool)
}

func (p *ConnectionPool) Name() string { return p.name }

func (p *ConnectionPool) Role() Role { return p.opts.Role }

// Options returns the effective options after defaults were applied.
func (p *ConnectionPool) Options() PoolOptions { return p.opts }

func (p *ConnectionPool) maxSessions() int {
	return p.opts.PoolSize + p.opts.MaxOverflow
}

// acquire reserves a slot and checks out a connection. Every failure is an
// *AcquireError.
func (p *ConnectionPool) acquire(ctx context.Context) (*session, error) {
	if p.closed.Load() {
		return nil, &AcquireError{Pool: p.name, Err: ErrPoolClosed}
	}
	role := p.opts.Role.String()
	start := time.Now()

	waitCtx := ctx
	if p.opts.AcquireTimeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, p.opts.AcquireTimeout)
		defer cancel()
	}

	if err := p.slots.Acquire(waitCtx, 1); err != nil {
		metrics.DBConnectionAcquireErrors.WithLabelValues(p.name, role).Inc()
		if ctx.Err() == nil && errors.Is(err, context.DeadlineExceeded) {
			metrics.DBConnectionAcquireTimeout.WithLabelValues(p.name, role).Inc()
			logger.Warn("DB: timed out waiting for pool slot", "pool", p.name, "timeout", p.opts.AcquireTimeout)
			return nil, &AcquireError{Pool: p.name, Err: ErrAcquireTimeout}
		}
		return nil, &AcquireError{Pool: p.name, Err: err}
	}

	if p.closed.Load() {
		p.slots.Release(1)
		return nil, &AcquireError{Pool: p.name, Err: ErrPoolClosed}
	}

	c, err := p.backend.acquire(waitCtx)
	if err != nil {
		p.slots.Release(1)
		metrics.DBConnectionAcquireErrors.WithLabelValues(p.name, role).Inc()
		return nil, &AcquireError{Pool: p.name, Err: err}
	}

	p.checkedOut.Add(1)
	metrics.DBPoolAcquireDuration.WithLabelValues(p.name, role).Observe(time.Since(start).Seconds())
	return &session{pool: p, conn: c}, nil
}

func (p *ConnectionPool) release(s *session) {
	if !s.released.CompareAndSwap(false, true) {
		return
	}
	s.conn.release()
	p.checkedOut.Add(-1)
	p.slots.Release(1)
}

// WithSession checks out a session, runs fn with it and returns the session to
// the pool when fn returns or panics. If no session can be obtained fn is not
// called and an *AcquireError is returned.
func (p *ConnectionPool) WithSession(ctx context.Context, fn func(context.Context, Session) error) error {
	s, err := p.acquire(ctx)
	if err != nil {
		return err
	}
	defer p.release(s)
	return fn(ctx, s)
}

// Status returns the current pool counters.
func (p *ConnectionPool) Status() PoolStatus {
	out := int(p.checkedOut.Load())
	st := p.backend.stats()

	overflow := out - p.opts.PoolSize
	if overflow < 0 {
		overflow = 0
	}
	util := 0.0
	if limit := p.maxSessions(); limit > 0 {
		util = math.Round(float64(out)/float64(limit)*1000) / 10
	}
	return PoolStatus{
		Size:               p.opts.PoolSize,
		CheckedIn:          st.idle,
		CheckedOut:         out,
		Overflow:           overflow,
		Total:              st.open,
		UtilizationPercent: util,
		SlowQueryCount:     p.slowQueries.Load(),
	}
}

// TestConnection runs a trivial statement and reports whether it succeeded
// within the health timeout.
func (p *ConnectionPool) TestConnection(ctx context.Context) bool {
	return p.Health(ctx).Status == StatusHealthy
}

// Health probes the database. It never returns an error; failures are
// reported in the result.
func (p *ConnectionPool) Health(ctx context.Context) (h PoolHealth) {
	defer func() {
		if r := recover(); r != nil {
			h = PoolHealth{Status: StatusUnhealthy, Error: fmt.Sprint(r)}
		}
		if h.Status == StatusHealthy {
			metrics.DBPoolHealthy.WithLabelValues(p.name).Set(1)
		} else {
			metrics.DBPoolHealthy.WithLabelValues(p.name).Set(0)
		}
	}()

	if p.closed.Load() {
		return PoolHealth{Status: StatusUnhealthy, Error: ErrPoolClosed.Error()}
	}

	ctx, cancel := context.WithTimeout(ctx, p.opts.HealthTimeout)
	defer cancel()

	start := time.Now()
	if err := p.backend.ping(ctx); err != nil {
		return PoolHealth{Status: StatusUnhealthy, Error: err.Error()}
	}
	latency := time.Since(start)
	status := p.Status()
	return PoolHealth{
		Status:     StatusHealthy,
		LatencyMS:  math.Round(float64(latency.Microseconds())/10) / 100,
		PoolStatus: &status,
	}
}

// Close closes the pool. New acquisitions fail with ErrPoolClosed. It is safe
// to call more than once; later calls return the first call's result.
func (p *ConnectionPool) Close() error {
	p.closeOnce.Do(func() {
		p.closed.Store(true)
		p.closeErr = p.backend.close()
		logger.Info("DB: pool closed", "pool", p.name)
	})
	return p.closeErr
}

func (p *ConnectionPool) snapshot() metrics.PoolSnapshot {
	s := p.Status()
	return metrics.PoolSnapshot{
		Name:     p.name,
		Role:     p.opts.Role.String(),
		InUse:    s.CheckedOut,
		Idle:     s.CheckedIn,
		Total:    s.Total,
		Overflow: s.Overflow,
	}
}

// PoolSnapshots implements metrics.PoolStatsProvider.
func (p *ConnectionPool) PoolSnapshots() []metrics.PoolSnapshot {
	return []metrics.PoolSnapshot{p.snapshot()}
}
