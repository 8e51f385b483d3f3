package db

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/migadu/soradb/helpers"

	_ "modernc.org/sqlite"
)

// Rows is the result of a multi-row query. It must be closed.
type Rows interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
	Close()
}

// Row is the result of a single-row query.
type Row interface {
	Scan(dest ...any) error
}

// backend is a driver-level connection pool.
type backend interface {
	acquire(ctx context.Context) (conn, error)
	ping(ctx context.Context) error
	stats() backendStats
	close() error
}

// conn is one connection checked out of a backend.
type conn interface {
	exec(ctx context.Context, sql string, args ...any) (int64, error)
	query(ctx context.Context, sql string, args ...any) (Rows, error)
	queryRow(ctx context.Context, sql string, args ...any) Row
	release()
}

type backendStats struct {
	open int
	idle int
}

type backendConfig struct {
	pool        string
	maxOpen     int
	maxIdle     int
	maxLifetime time.Duration
	logQueries  bool
}

type openFunc func(rawURL string, cfg backendConfig) (backend, error)

// drivers maps URL schemes to backend constructors.
var drivers = map[string]openFunc{
	"postgres":   openPostgres,
	"postgresql": openPostgres,
	"sqlite":     openSQLite,
	"sqlite3":    openSQLite,
}

func openBackend(rawURL string, cfg backendConfig) (backend, error) {
	if strings.TrimSpace(rawURL) == "" {
		return nil, &ConfigError{Err: ErrEmptyURL}
	}
	scheme := helpers.DatabaseScheme(rawURL)
	open, ok := drivers[scheme]
	if !ok {
		return nil, &ConfigError{URL: rawURL, Err: fmt.Errorf("%w: %q", ErrUnsupportedScheme, scheme)}
	}
	return open(rawURL, cfg)
}

// PostgreSQL via pgxpool

type pgxBackend struct {
	pool *pgxpool.Pool
}

func openPostgres(rawURL string, cfg backendConfig) (backend, error) {
	pcfg, err := pgxpool.ParseConfig(rawURL)
	if err != nil {
		return nil, &ConfigError{URL: rawURL, Err: err}
	}
	pcfg.MaxConns = int32(cfg.maxOpen)
	pcfg.MinConns = 0
	if cfg.maxLifetime > 0 {
		pcfg.MaxConnLifetime = cfg.maxLifetime
	}
	if cfg.logQueries {
		pcfg.ConnConfig.Tracer = &queryTracer{pool: cfg.pool}
	}

	// With MinConns at zero pgxpool does not connect until the first acquire.
	pool, err := pgxpool.NewWithConfig(context.Background(), pcfg)
	if err != nil {
		return nil, &ConfigError{URL: rawURL, Err: err}
	}
	return &pgxBackend{pool: pool}, nil
}

func (b *pgxBackend) acquire(ctx context.Context) (conn, error) {
	c, err := b.pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	return pgxConn{c: c}, nil
}

func (b *pgxBackend) ping(ctx context.Context) error {
	_, err := b.pool.Exec(ctx, "SELECT 1")
	return err
}

func (b *pgxBackend) stats() backendStats {
	s := b.pool.Stat()
	return backendStats{open: int(s.TotalConns()), idle: int(s.IdleConns())}
}

func (b *pgxBackend) close() error {
	b.pool.Close()
	return nil
}

type pgxConn struct {
	c *pgxpool.Conn
}

func (c pgxConn) exec(ctx context.Context, sql string, args ...any) (int64, error) {
	tag, err := c.c.Exec(ctx, sql, args...)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (c pgxConn) query(ctx context.Context, sql string, args ...any) (Rows, error) {
	return c.c.Query(ctx, sql, args...)
}

func (c pgxConn) queryRow(ctx context.Context, sql string, args ...any) Row {
	return c.c.QueryRow(ctx, sql, args...)
}

func (c pgxConn) release() { c.c.Release() }

// SQLite via database/sql and modernc.org/sqlite

type sqlBackend struct {
	db *sql.DB
}

func openSQLite(rawURL string, cfg backendConfig) (backend, error) {
	dsn := rawURL[strings.Index(rawURL, "://")+3:]
	if dsn == "" {
		return nil, &ConfigError{URL: rawURL, Err: ErrEmptyURL}
	}
	// sql.Open validates arguments only.
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, &ConfigError{URL: rawURL, Err: err}
	}
	sqlDB.SetMaxOpenConns(cfg.maxOpen)
	sqlDB.SetMaxIdleConns(cfg.maxIdle)
	if cfg.maxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(cfg.maxLifetime)
	}
	return &sqlBackend{db: sqlDB}, nil
}

func (b *sqlBackend) acquire(ctx context.Context) (conn, error) {
	c, err := b.db.Conn(ctx)
	if err != nil {
		return nil, err
	}
	return sqlConn{c: c}, nil
}

func (b *sqlBackend) ping(ctx context.Context) error {
	_, err := b.db.ExecContext(ctx, "SELECT 1")
	return err
}

func (b *sqlBackend) stats() backendStats {
	s := b.db.Stats()
	return backendStats{open: s.OpenConnections, idle: s.Idle}
}

func (b *sqlBackend) close() error {
	return b.db.Close()
}

type sqlConn struct {
	c *sql.Conn
}

func (c sqlConn) exec(ctx context.Context, query string, args ...any) (int64, error) {
	res, err := c.c.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	return rowsAffected(res)
}

func rowsAffected(res sql.Result) (int64, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return n, nil
}

func (c sqlConn) query(ctx context.Context, query string, args ...any) (Rows, error) {
	rows, err := c.c.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return sqlRows{rows: rows}, nil
}

func (c sqlConn) queryRow(ctx context.Context, query string, args ...any) Row {
	return c.c.QueryRowContext(ctx, query, args...)
}

func (c sqlConn) release() { _ = c.c.Close() }

type sqlRows struct {
	rows *sql.Rows
}

func (r sqlRows) Next() bool             { return r.rows.Next() }
func (r sqlRows) Scan(dest ...any) error { return r.rows.Scan(dest...) }
func (r sqlRows) Err() error             { return r.rows.Err() }
func (r sqlRows) Close()                 { _ = r.rows.Close() }
