package db

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/migadu/soradb/logger"
	"github.com/migadu/soradb/pkg/metrics"
)

// Session is a connection checked out of a pool for the duration of one
// WithSession callback. It must not be retained after the callback returns.
type Session interface {
	Exec(ctx context.Context, sql string, args ...any) (int64, error)
	Query(ctx context.Context, sql string, args ...any) (Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) Row
	// Role is the role of the pool that served the session.
	Role() Role
	// PoolName is the name of the pool that served the session.
	PoolName() string
}

type session struct {
	pool     *ConnectionPool
	conn     conn
	released atomic.Bool
}

func (s *session) Role() Role       { return s.pool.opts.Role }
func (s *session) PoolName() string { return s.pool.name }

func (s *session) Exec(ctx context.Context, sql string, args ...any) (int64, error) {
	start := time.Now()
	n, err := s.conn.exec(ctx, sql, args...)
	s.observe(sql, start, err)
	return n, err
}

func (s *session) Query(ctx context.Context, sql string, args ...any) (Rows, error) {
	start := time.Now()
	rows, err := s.conn.query(ctx, sql, args...)
	s.observe(sql, start, err)
	return rows, err
}

func (s *session) QueryRow(ctx context.Context, sql string, args ...any) Row {
	start := time.Now()
	row := s.conn.queryRow(ctx, sql, args...)
	s.observe(sql, start, nil)
	return row
}

// observe records statement timing. Statements at or above the slow query
// threshold are counted and logged.
func (s *session) observe(sql string, start time.Time, err error) {
	p := s.pool
	d := time.Since(start)
	role := p.opts.Role.String()

	metrics.DBQueryDuration.WithLabelValues(p.name, role).Observe(d.Seconds())
	if err != nil {
		metrics.DBQueriesTotal.WithLabelValues(p.name, role, "failure").Inc()
	} else {
		metrics.DBQueriesTotal.WithLabelValues(p.name, role, "success").Inc()
	}

	slow := d >= p.opts.SlowQueryThreshold
	if slow {
		p.slowQueries.Add(1)
		metrics.DBSlowQueriesTotal.WithLabelValues(p.name, role).Inc()
		logger.Warn("DB: slow query",
			"pool", p.name,
			"duration_ms", d.Milliseconds(),
			"threshold_ms", p.opts.SlowQueryThreshold.Milliseconds(),
			"sql", truncateSQL(sql))
	}
	if p.opts.Profiler != nil {
		p.opts.Profiler.ManualTrack(p.name+".query", d, slow)
	}
}
