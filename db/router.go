package db

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/migadu/soradb/logger"
	"github.com/migadu/soradb/pkg/circuitbreaker"
	"github.com/migadu/soradb/pkg/metrics"
	"golang.org/x/sync/errgroup"
)

// RouterOptions configures a Router.
type RouterOptions struct {
	// Pool is applied to every pool. Name and Role are set by the router.
	Pool PoolOptions
	// ReadPreference is used when neither the call nor the context names a
	// role. Defaults to RoleReplica.
	ReadPreference Role
	// Breaker configures the per-replica circuit breakers. Nil uses
	// circuitbreaker.DefaultSettings.
	Breaker *circuitbreaker.Settings
}

type replica struct {
	pool    *ConnectionPool
	breaker *circuitbreaker.CircuitBreaker
}

// Router hands out sessions from a primary pool or one of several replica
// pools. Replicas are chosen round-robin; a replica that cannot provide a
// session is skipped in favour of the primary for that call.
type Router struct {
	primary        *ConnectionPool
	replicas       []*replica
	readPreference Role
	next           atomic.Uint64
}

// RouterStatus aggregates the status of every pool.
type RouterStatus struct {
	ReadPreference string                `json:"read_preference"`
	Primary        PoolStatus            `json:"primary"`
	Replicas       map[string]PoolStatus `json:"replicas"`
}

func replicaName(i int) string { return fmt.Sprintf("replica_%d", i) }

// NewRouter builds one pool for the primary and one per replica URL. If any
// pool cannot be built the ones already built are closed.
func NewRouter(primaryURL string, replicaURLs []string, opts RouterOptions) (*Router, error) {
	if primaryURL == "" {
		return nil, &ConfigError{Err: ErrEmptyPrimaryURL}
	}
	for i, u := range replicaURLs {
		if u == "" {
			return nil, &ConfigError{Err: fmt.Errorf("replica %d: %w", i, ErrEmptyReplicaURL)}
		}
	}

	readPref := opts.ReadPreference
	if readPref == 0 {
		readPref = RoleReplica
	}

	primaryOpts := opts.Pool
	primaryOpts.Name = "primary"
	primaryOpts.Role = RolePrimary
	primary, err := NewConnectionPool(primaryURL, primaryOpts)
	if err != nil {
		return nil, err
	}

	r := &Router{primary: primary, readPreference: readPref}
	for i, u := range replicaURLs {
		replicaOpts := opts.Pool
		replicaOpts.Name = replicaName(i)
		replicaOpts.Role = RoleReplica
		pool, err := NewConnectionPool(u, replicaOpts)
		if err != nil {
			_ = r.Close()
			return nil, err
		}
		r.replicas = append(r.replicas, &replica{
			pool:    pool,
			breaker: circuitbreaker.NewCircuitBreaker(breakerSettings(opts.Breaker, replicaOpts.Name)),
		})
	}

	logger.Info("DB: router created", "replicas", len(r.replicas), "read_preference", readPref)
	return r, nil
}

func breakerSettings(base *circuitbreaker.Settings, name string) circuitbreaker.Settings {
	var st circuitbreaker.Settings
	if base != nil {
		st = *base
	} else {
		st = circuitbreaker.DefaultSettings(name)
	}
	st.Name = name

	userChange := st.OnStateChange
	st.OnStateChange = func(name string, from, to circuitbreaker.State) {
		metrics.DBCircuitBreakerState.WithLabelValues(name).Set(float64(to))
		if userChange != nil {
			userChange(name, from, to)
		}
	}
	if st.IsSuccessful == nil {
		// A caller giving up is not the replica's fault.
		st.IsSuccessful = func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		}
	}
	metrics.DBCircuitBreakerState.WithLabelValues(name).Set(float64(circuitbreaker.StateClosed))
	return st
}

// Primary returns the primary pool.
func (r *Router) Primary() *ConnectionPool { return r.primary }

// ReplicaCount returns the number of configured replicas.
func (r *Router) ReplicaCount() int { return len(r.replicas) }

// ReadPreference returns the role used when none is requested.
func (r *Router) ReadPreference() Role { return r.readPreference }

// selectReplica returns the next replica in round-robin order.
func (r *Router) selectReplica() (*replica, error) {
	n := uint64(len(r.replicas))
	if n == 0 {
		return nil, ErrNoReplicas
	}
	i := r.next.Add(1) - 1
	return r.replicas[i%n], nil
}

func (r *Router) resolve(ctx context.Context) Role {
	if role, ok := RoleFromContext(ctx); ok {
		return role
	}
	return r.readPreference
}

// acquire obtains a session for role. Replica acquisition failures, including
// an open breaker, fall back to the primary for this call only.
func (r *Router) acquire(ctx context.Context, role Role) (*session, error) {
	if role != RoleReplica || len(r.replicas) == 0 {
		s, err := r.primary.acquire(ctx)
		if err == nil {
			metrics.DBRoutedSessionsTotal.WithLabelValues(role.String(), RolePrimary.String()).Inc()
		}
		return s, err
	}

	rep, err := r.selectReplica()
	if err != nil {
		return nil, err
	}
	s, err := circuitbreaker.Execute(rep.breaker, func() (*session, error) {
		return rep.pool.acquire(ctx)
	})
	if err == nil {
		metrics.DBRoutedSessionsTotal.WithLabelValues(RoleReplica.String(), RoleReplica.String()).Inc()
		return s, nil
	}

	logger.Warn("DB: replica unavailable, falling back to primary", "replica", rep.pool.name, "error", err)
	metrics.DBReplicaFallbacksTotal.WithLabelValues(rep.pool.name).Inc()

	s, err = r.primary.acquire(ctx)
	if err != nil {
		return nil, err
	}
	metrics.DBRoutedSessionsTotal.WithLabelValues(RoleReplica.String(), RolePrimary.String()).Inc()
	return s, nil
}

func (r *Router) run(ctx context.Context, role Role, fn func(context.Context, Session) error) error {
	s, err := r.acquire(ctx, role)
	if err != nil {
		return err
	}
	defer s.pool.release(s)
	return fn(ctx, s)
}

// WithSession runs fn with a session for the role requested on ctx, or the
// read preference when none is. fn runs at most once.
func (r *Router) WithSession(ctx context.Context, fn func(context.Context, Session) error) error {
	return r.run(ctx, r.resolve(ctx), fn)
}

// WithRoleSession runs fn with a session for role, overriding the context.
func (r *Router) WithRoleSession(ctx context.Context, role Role, fn func(context.Context, Session) error) error {
	return r.run(ctx, role, fn)
}

// PrimaryHealth probes the primary.
func (r *Router) PrimaryHealth(ctx context.Context) PoolHealth {
	return r.primary.Health(ctx)
}

// ReplicaStatus probes every replica concurrently and keys the results by
// replica index ("0", "1", ...). A probe that panics is reported as unhealthy.
func (r *Router) ReplicaStatus(ctx context.Context) map[string]PoolHealth {
	var (
		mu  sync.Mutex
		out = make(map[string]PoolHealth, len(r.replicas))
		g   errgroup.Group
	)
	for i, rep := range r.replicas {
		i, rep := i, rep
		g.Go(func() error {
			h := probe(ctx, rep.pool)
			mu.Lock()
			out[strconv.Itoa(i)] = h
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return out
}

func probe(ctx context.Context, p *ConnectionPool) (h PoolHealth) {
	defer func() {
		if rec := recover(); rec != nil {
			h = PoolHealth{Status: StatusUnhealthy, Error: fmt.Sprint(rec)}
		}
	}()
	return p.Health(ctx)
}

// BreakerState returns the circuit breaker state of the named replica.
func (r *Router) BreakerState(name string) (circuitbreaker.State, bool) {
	for _, rep := range r.replicas {
		if rep.pool.name == name {
			return rep.breaker.State(), true
		}
	}
	return circuitbreaker.StateClosed, false
}

// Status returns the status of every pool.
func (r *Router) Status() RouterStatus {
	st := RouterStatus{
		ReadPreference: r.readPreference.String(),
		Primary:        r.primary.Status(),
		Replicas:       make(map[string]PoolStatus, len(r.replicas)),
	}
	for _, rep := range r.replicas {
		st.Replicas[rep.pool.name] = rep.pool.Status()
	}
	return st
}

// Pools returns the primary followed by the replicas.
func (r *Router) Pools() []*ConnectionPool {
	pools := []*ConnectionPool{r.primary}
	for _, rep := range r.replicas {
		pools = append(pools, rep.pool)
	}
	return pools
}

// PoolSnapshots implements metrics.PoolStatsProvider.
func (r *Router) PoolSnapshots() []metrics.PoolSnapshot {
	var out []metrics.PoolSnapshot
	for _, p := range r.Pools() {
		out = append(out, p.snapshot())
	}
	return out
}

// Close closes every pool and returns their errors joined.
func (r *Router) Close() error {
	var errs []error
	for _, p := range r.Pools() {
		if err := p.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", p.name, err))
		}
	}
	return errors.Join(errs...)
}
