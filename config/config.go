package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/migadu/soradb/helpers"
)

// Environment variables that override the database endpoints from the file.
const (
	EnvPrimaryURL  = "SORADB_PRIMARY_URL"
	EnvReplicaURLs = "SORADB_REPLICA_URLS"
)

var (
	ErrMissingPrimaryURL = errors.New("database.primary_url is required")
	ErrEmptyReplicaURL   = errors.New("database.replica_urls must not contain empty entries")
)

// LoggingConfig holds the logger configuration.
type LoggingConfig struct {
	Output string `toml:"output"` // Log output: "stderr", "stdout", "syslog", or file path
	Format string `toml:"format"` // Log format: "json" or "console"
	Level  string `toml:"level"`  // Log level: "debug", "info", "warn", "error"
}

// DatabaseConfig holds the primary/replica endpoints and the pool settings
// shared by every pool created for them.
type DatabaseConfig struct {
	PrimaryURL         string   `toml:"primary_url"`          // Writable endpoint (required)
	ReplicaURLs        []string `toml:"replica_urls"`         // Read-only endpoints, round-robin order
	ReadPreference     string   `toml:"read_preference"`      // "replica" (default) or "primary"
	PoolSize           int      `toml:"pool_size"`            // Persistent connections per pool (default: 20)
	MaxOverflow        int      `toml:"max_overflow"`         // Extra connections allowed under load (default: 10)
	PoolRecycle        string   `toml:"pool_recycle"`         // Connection lifetime before it is discarded (default: "1h")
	SlowQueryThreshold string   `toml:"slow_query_threshold"` // Statements at or above this are slow (default: "100ms")
	AcquireTimeout     string   `toml:"acquire_timeout"`      // Max wait for a pool slot, "0" disables (default: "30s")
	HealthTimeout      string   `toml:"health_timeout"`       // Timeout of the health round-trip (default: "5s")
	LogQueries         bool     `toml:"log_queries"`          // Log every statement at debug level

	// Replica circuit breaker
	BreakerFailures int    `toml:"breaker_failures"` // Consecutive acquisition failures that open a replica breaker (default: 5)
	BreakerTimeout  string `toml:"breaker_timeout"`  // How long an open replica breaker stays open (default: "30s")
}

// GetPoolSize returns the configured pool size or the default.
func (d *DatabaseConfig) GetPoolSize() int {
	if d.PoolSize <= 0 {
		return 20
	}
	return d.PoolSize
}

// GetMaxOverflow returns the configured overflow. Zero or a negative value
// disables overflow; the default of 10 comes from NewDefaultConfig.
func (d *DatabaseConfig) GetMaxOverflow() int {
	if d.MaxOverflow < 0 {
		return 0
	}
	return d.MaxOverflow
}

// GetPoolRecycle parses the connection recycle period.
func (d *DatabaseConfig) GetPoolRecycle() (time.Duration, error) {
	if d.PoolRecycle == "" {
		return time.Hour, nil
	}
	return helpers.ParseDuration(d.PoolRecycle)
}

// GetSlowQueryThreshold parses the slow statement threshold.
func (d *DatabaseConfig) GetSlowQueryThreshold() (time.Duration, error) {
	if d.SlowQueryThreshold == "" {
		return 100 * time.Millisecond, nil
	}
	return helpers.ParseDuration(d.SlowQueryThreshold)
}

// GetAcquireTimeout parses the pool slot wait timeout. "0" means wait until
// the caller's context is done.
func (d *DatabaseConfig) GetAcquireTimeout() (time.Duration, error) {
	if d.AcquireTimeout == "" {
		return 30 * time.Second, nil
	}
	if d.AcquireTimeout == "0" {
		return 0, nil
	}
	return helpers.ParseDuration(d.AcquireTimeout)
}

// GetHealthTimeout parses the health check timeout.
func (d *DatabaseConfig) GetHealthTimeout() (time.Duration, error) {
	if d.HealthTimeout == "" {
		return 5 * time.Second, nil
	}
	return helpers.ParseDuration(d.HealthTimeout)
}

// GetBreakerFailures returns the replica breaker trip threshold.
func (d *DatabaseConfig) GetBreakerFailures() int {
	if d.BreakerFailures <= 0 {
		return 5
	}
	return d.BreakerFailures
}

// GetBreakerTimeout parses how long a tripped replica stays out of rotation.
func (d *DatabaseConfig) GetBreakerTimeout() (time.Duration, error) {
	if d.BreakerTimeout == "" {
		return 30 * time.Second, nil
	}
	return helpers.ParseDuration(d.BreakerTimeout)
}

// GetReadPreference returns the normalized read preference.
func (d *DatabaseConfig) GetReadPreference() string {
	if d.ReadPreference == "" {
		return "replica"
	}
	return strings.ToLower(d.ReadPreference)
}

// CacheConfig holds the semantic-level cache settings.
type CacheConfig struct {
	EmbeddingMaxSize      int    `toml:"embedding_max_size"`      // Max cached embeddings (default: 10000)
	SearchTTL             string `toml:"search_ttl"`              // Search result lifetime (default: "5m")
	SearchCleanupInterval string `toml:"search_cleanup_interval"` // Expired entry sweep period (default: "1m")
}

// GetEmbeddingMaxSize returns the embedding cache bound.
func (c *CacheConfig) GetEmbeddingMaxSize() int {
	if c.EmbeddingMaxSize <= 0 {
		return 10000
	}
	return c.EmbeddingMaxSize
}

// GetSearchTTL parses the search result TTL.
func (c *CacheConfig) GetSearchTTL() (time.Duration, error) {
	if c.SearchTTL == "" {
		return 5 * time.Minute, nil
	}
	return helpers.ParseDuration(c.SearchTTL)
}

// GetSearchCleanupInterval parses the sweep period of the search cache.
func (c *CacheConfig) GetSearchCleanupInterval() (time.Duration, error) {
	if c.SearchCleanupInterval == "" {
		return time.Minute, nil
	}
	return helpers.ParseDuration(c.SearchCleanupInterval)
}

// MetricsConfig controls the periodic pool statistics collector.
type MetricsConfig struct {
	Enabled         bool   `toml:"enabled"`
	PoolStatsPeriod string `toml:"pool_stats_period"` // default: "15s"
}

// GetPoolStatsPeriod parses the collection period.
func (m *MetricsConfig) GetPoolStatsPeriod() (time.Duration, error) {
	if m.PoolStatsPeriod == "" {
		return 15 * time.Second, nil
	}
	return helpers.ParseDuration(m.PoolStatsPeriod)
}

// AdminAPIConfig holds the HTTP admin API settings.
type AdminAPIConfig struct {
	Start        bool     `toml:"start"`
	Addr         string   `toml:"addr"`
	APIKey       string   `toml:"api_key"`
	AllowedHosts []string `toml:"allowed_hosts"`
	TLS          bool     `toml:"tls"`
	TLSCertFile  string   `toml:"tls_cert_file"`
	TLSKeyFile   string   `toml:"tls_key_file"`
}

// HealthConfig controls the background health monitor.
type HealthConfig struct {
	Enabled  bool   `toml:"enabled"`
	Interval string `toml:"interval"` // default: "30s"
}

// GetInterval parses the health check interval.
func (h *HealthConfig) GetInterval() (time.Duration, error) {
	if h.Interval == "" {
		return 30 * time.Second, nil
	}
	return helpers.ParseDuration(h.Interval)
}

// Config holds all configuration for the application.
type Config struct {
	Logging  LoggingConfig  `toml:"logging"`
	Database DatabaseConfig `toml:"database"`
	Cache    CacheConfig    `toml:"cache"`
	Metrics  MetricsConfig  `toml:"metrics"`
	AdminAPI AdminAPIConfig `toml:"admin_api"`
	Health   HealthConfig   `toml:"health"`
}

// NewDefaultConfig creates a Config struct with default values.
func NewDefaultConfig() Config {
	return Config{
		Logging: LoggingConfig{
			Output: "stderr",
			Format: "console",
			Level:  "info",
		},
		Database: DatabaseConfig{
			ReadPreference:     "replica",
			PoolSize:           20,
			MaxOverflow:        10,
			PoolRecycle:        "1h",
			SlowQueryThreshold: "100ms",
			AcquireTimeout:     "30s",
			HealthTimeout:      "5s",
		},
		Cache: CacheConfig{
			EmbeddingMaxSize:      10000,
			SearchTTL:             "5m",
			SearchCleanupInterval: "1m",
		},
		Metrics: MetricsConfig{
			Enabled:         true,
			PoolStatsPeriod: "15s",
		},
		AdminAPI: AdminAPIConfig{
			Addr: "127.0.0.1:8090",
		},
		Health: HealthConfig{
			Enabled:  true,
			Interval: "30s",
		},
	}
}

// Validate checks the settings that cannot be defaulted.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Database.PrimaryURL) == "" {
		return ErrMissingPrimaryURL
	}
	for i, u := range c.Database.ReplicaURLs {
		if strings.TrimSpace(u) == "" {
			return fmt.Errorf("%w (index %d)", ErrEmptyReplicaURL, i)
		}
	}
	switch c.Database.GetReadPreference() {
	case "primary", "replica":
	default:
		return fmt.Errorf("invalid database.read_preference %q: must be \"primary\" or \"replica\"", c.Database.ReadPreference)
	}

	durations := map[string]func() (time.Duration, error){
		"database.pool_recycle":         c.Database.GetPoolRecycle,
		"database.slow_query_threshold": c.Database.GetSlowQueryThreshold,
		"database.acquire_timeout":      c.Database.GetAcquireTimeout,
		"database.health_timeout":       c.Database.GetHealthTimeout,
		"database.breaker_timeout":      c.Database.GetBreakerTimeout,
		"cache.search_ttl":              c.Cache.GetSearchTTL,
		"cache.search_cleanup_interval": c.Cache.GetSearchCleanupInterval,
		"metrics.pool_stats_period":     c.Metrics.GetPoolStatsPeriod,
		"health.interval":               c.Health.GetInterval,
	}
	for key, parse := range durations {
		if _, err := parse(); err != nil {
			return fmt.Errorf("invalid %s: %w", key, err)
		}
	}

	if c.AdminAPI.Start && c.AdminAPI.APIKey == "" {
		return fmt.Errorf("admin_api.api_key is required when admin_api.start is true")
	}
	return nil
}

// ApplyEnvironment overrides the database endpoints from the environment.
func (c *Config) ApplyEnvironment() {
	if v := strings.TrimSpace(os.Getenv(EnvPrimaryURL)); v != "" {
		c.Database.PrimaryURL = v
	}
	if v, ok := os.LookupEnv(EnvReplicaURLs); ok {
		c.Database.ReplicaURLs = nil
		for _, u := range strings.Split(v, ",") {
			if u = strings.TrimSpace(u); u != "" {
				c.Database.ReplicaURLs = append(c.Database.ReplicaURLs, u)
			}
		}
	}
}

// LoadConfigFromFile loads configuration from a TOML file and trims whitespace
// from all string fields. Unknown keys are logged and ignored.
func LoadConfigFromFile(configPath string, cfg *Config) error {
	content, err := os.ReadFile(configPath)
	if err != nil {
		return err
	}

	metadata, err := toml.Decode(string(content), cfg)
	if err != nil {
		return enhanceConfigError(err)
	}

	if len(metadata.Undecoded()) > 0 {
		log.Printf("WARNING: Configuration file '%s' contains unknown keys that will be ignored:", configPath)
		for _, key := range metadata.Undecoded() {
			log.Printf("WARNING:   - %s", key)
		}
	}

	trimStringFields(reflect.ValueOf(cfg).Elem())
	return nil
}

// enhanceConfigError adds a hint to common TOML mistakes.
func enhanceConfigError(err error) error {
	errMsg := err.Error()

	if strings.Contains(errMsg, "replica_urls") {
		return fmt.Errorf("%w\n\nHINT: database.replica_urls must be an array of strings, e.g.\n"+
			"  replica_urls = [\"postgres://reader@replica1/app\", \"postgres://reader@replica2/app\"]", err)
	}

	if strings.Contains(errMsg, "has already been defined") {
		return fmt.Errorf("%w\n\nHINT: You have a duplicate configuration key in your TOML file.\n"+
			"Please remove or comment out the duplicate entry.", err)
	}

	if strings.Contains(errMsg, "expected") || strings.Contains(errMsg, "invalid") {
		return fmt.Errorf("%w\n\nHINT: There is a syntax error in your TOML configuration file.\n"+
			"Please check:\n"+
			"  - All strings are properly quoted\n"+
			"  - All brackets and braces are balanced\n"+
			"  - Section headers use [section] format\n"+
			"  - Boolean values are 'true' or 'false'", err)
	}

	return err
}

// trimStringFields recursively trims whitespace from all string fields.
func trimStringFields(v reflect.Value) {
	if !v.IsValid() || !v.CanSet() {
		return
	}

	switch v.Kind() {
	case reflect.String:
		v.SetString(strings.TrimSpace(v.String()))
	case reflect.Slice:
		for i := 0; i < v.Len(); i++ {
			elem := v.Index(i)
			if elem.Kind() == reflect.String {
				elem.SetString(strings.TrimSpace(elem.String()))
			} else {
				trimStringFields(elem)
			}
		}
	case reflect.Struct:
		for i := 0; i < v.NumField(); i++ {
			if field := v.Field(i); field.CanSet() {
				trimStringFields(field)
			}
		}
	case reflect.Ptr:
		if !v.IsNil() {
			trimStringFields(v.Elem())
		}
	}
}
