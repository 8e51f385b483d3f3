// Package persistence builds the database access services from configuration
// and hands them to the rest of the process.
package persistence

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/migadu/soradb/config"
	"github.com/migadu/soradb/db"
	"github.com/migadu/soradb/logger"
	"github.com/migadu/soradb/pkg/circuitbreaker"
	"github.com/migadu/soradb/pkg/embedcache"
	"github.com/migadu/soradb/pkg/profiler"
	"github.com/migadu/soradb/pkg/searchcache"
)

// SearchResult is one ranked hit stored in the search result cache.
type SearchResult struct {
	ID       string         `json:"id"`
	Score    float64        `json:"score"`
	Content  string         `json:"content,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Services holds the process-wide database access services.
type Services struct {
	Router        *db.Router
	Profiler      *profiler.QueryProfiler
	Embeddings    *embedcache.EmbeddingCache
	SearchResults *searchcache.Cache[SearchResult]

	closed atomic.Bool
}

// New builds every service from cfg. No database connection is opened.
func New(ctx context.Context, cfg config.Config) (*Services, error) {
	routerOpts, err := RouterOptions(cfg.Database)
	if err != nil {
		return nil, err
	}

	slow, err := cfg.Database.GetSlowQueryThreshold()
	if err != nil {
		return nil, fmt.Errorf("invalid slow_query_threshold: %w", err)
	}
	prof := profiler.New(slow)
	routerOpts.Pool.Profiler = prof

	ttl, err := cfg.Cache.GetSearchTTL()
	if err != nil {
		return nil, fmt.Errorf("invalid search_ttl: %w", err)
	}

	router, err := db.NewRouter(cfg.Database.PrimaryURL, cfg.Database.ReplicaURLs, routerOpts)
	if err != nil {
		return nil, err
	}

	s := &Services{
		Router:        router,
		Profiler:      prof,
		Embeddings:    embedcache.New(cfg.Cache.GetEmbeddingMaxSize()),
		SearchResults: searchcache.New[SearchResult](ttl),
	}
	logger.InfoContext(ctx, "Persistence: services initialized",
		"replicas", router.ReplicaCount(),
		"read_preference", router.ReadPreference(),
		"embedding_max_size", cfg.Cache.GetEmbeddingMaxSize(),
		"search_ttl", ttl)
	return s, nil
}

// RouterOptions translates the database configuration into router options.
func RouterOptions(cfg config.DatabaseConfig) (db.RouterOptions, error) {
	var opts db.RouterOptions

	readPref, err := db.ParseRole(cfg.GetReadPreference())
	if err != nil {
		return opts, fmt.Errorf("invalid read_preference: %w", err)
	}
	recycle, err := cfg.GetPoolRecycle()
	if err != nil {
		return opts, fmt.Errorf("invalid pool_recycle: %w", err)
	}
	slow, err := cfg.GetSlowQueryThreshold()
	if err != nil {
		return opts, fmt.Errorf("invalid slow_query_threshold: %w", err)
	}
	acquire, err := cfg.GetAcquireTimeout()
	if err != nil {
		return opts, fmt.Errorf("invalid acquire_timeout: %w", err)
	}
	if acquire == 0 {
		acquire = db.NoAcquireTimeout
	}
	healthTimeout, err := cfg.GetHealthTimeout()
	if err != nil {
		return opts, fmt.Errorf("invalid health_timeout: %w", err)
	}
	breakerTimeout, err := cfg.GetBreakerTimeout()
	if err != nil {
		return opts, fmt.Errorf("invalid breaker_timeout: %w", err)
	}
	overflow := cfg.GetMaxOverflow()
	if overflow == 0 {
		overflow = db.NoOverflow
	}

	breaker := circuitbreaker.DefaultSettings("")
	breaker.ReadyToTrip = circuitbreaker.ConsecutiveFailures(uint32(cfg.GetBreakerFailures()))
	breaker.Timeout = breakerTimeout

	opts = db.RouterOptions{
		Pool: db.PoolOptions{
			PoolSize:           cfg.GetPoolSize(),
			MaxOverflow:        overflow,
			PoolRecycle:        recycle,
			SlowQueryThreshold: slow,
			AcquireTimeout:     acquire,
			HealthTimeout:      healthTimeout,
			LogQueries:         cfg.LogQueries,
		},
		ReadPreference: readPref,
		Breaker:        &breaker,
	}
	return opts, nil
}

// Close stops the search cache sweeper and closes every pool. It is safe to
// call more than once.
func (s *Services) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	s.SearchResults.Stop()
	if err := s.Router.Close(); err != nil {
		return fmt.Errorf("close router: %w", err)
	}
	return nil
}

// ErrNotInitialized is returned by Provider before Set is called.
var ErrNotInitialized = errors.New("persistence services not initialized")

// Provider is the process-wide holder of the services. Collaborators receive
// a *Provider and resolve the services lazily, so they can be built before
// the database layer is configured.
type Provider struct {
	services atomic.Pointer[Services]
}

// Set installs s and returns the previously installed services, if any.
func (p *Provider) Set(s *Services) *Services {
	return p.services.Swap(s)
}

// Services returns the installed services.
func (p *Provider) Services() (*Services, error) {
	s := p.services.Load()
	if s == nil {
		return nil, ErrNotInitialized
	}
	return s, nil
}

func (p *Provider) Router() (*db.Router, error) {
	s, err := p.Services()
	if err != nil {
		return nil, err
	}
	return s.Router, nil
}

func (p *Provider) Profiler() (*profiler.QueryProfiler, error) {
	s, err := p.Services()
	if err != nil {
		return nil, err
	}
	return s.Profiler, nil
}

func (p *Provider) Embeddings() (*embedcache.EmbeddingCache, error) {
	s, err := p.Services()
	if err != nil {
		return nil, err
	}
	return s.Embeddings, nil
}

func (p *Provider) SearchResults() (*searchcache.Cache[SearchResult], error) {
	s, err := p.Services()
	if err != nil {
		return nil, err
	}
	return s.SearchResults, nil
}
