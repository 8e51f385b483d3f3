package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/migadu/soradb/config"
	"github.com/migadu/soradb/helpers"
	"github.com/migadu/soradb/logger"
	"github.com/migadu/soradb/persistence"
	"github.com/migadu/soradb/pkg/errors"
	"github.com/migadu/soradb/pkg/health"
	"github.com/migadu/soradb/pkg/metrics"
	"github.com/migadu/soradb/pkg/retry"
	"github.com/migadu/soradb/server/httpapi"
)

// Version information, injected at build time.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

const defaultConfigPath = "config.toml"

func main() {
	os.Exit(run())
}

func run() int {
	errorHandler := errors.NewErrorHandler()
	cfg := config.NewDefaultConfig()

	showVersion := flag.Bool("version", false, "Show version information and exit")
	flag.BoolVar(showVersion, "v", false, "Show version information and exit")
	configPath := flag.String("config", defaultConfigPath, "Path to TOML configuration file")
	flag.Parse()

	if *showVersion {
		fmt.Printf("soradb version %s (commit: %s, built at: %s)\n", version, commit, date)
		return errors.ExitOK
	}

	if !loadAndValidateConfig(*configPath, &cfg, errorHandler) {
		return errorHandler.ExitCode()
	}

	logFile, err := logger.Initialize(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "SORADB: Warning initializing logger: %v\n", err)
	}
	if logFile != nil {
		defer func(f *os.File) {
			if err := f.Close(); err != nil {
				fmt.Fprintf(os.Stderr, "SORADB: Error closing log file %s: %v\n", f.Name(), err)
			}
		}(logFile)
	}

	logger.Info("SoraDB starting", "version", version, "commit", commit, "built", date)
	logger.Info("Database endpoints",
		"primary", helpers.MaskDatabaseURL(cfg.Database.PrimaryURL),
		"replicas", len(cfg.Database.ReplicaURLs),
		"read_preference", cfg.Database.GetReadPreference())

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	services, err := persistence.New(ctx, cfg)
	if err != nil {
		errorHandler.FatalError("initialize database services", err)
		return errorHandler.ExitCode()
	}
	defer func() {
		if err := services.Close(); err != nil {
			logger.Error("Error closing database services", "error", err)
		}
	}()

	var provider persistence.Provider
	provider.Set(services)

	waitForPrimary(ctx, services)

	cleanupInterval, _ := cfg.Cache.GetSearchCleanupInterval()
	services.SearchResults.StartCleanup(cleanupInterval)

	if cfg.Metrics.Enabled {
		period, _ := cfg.Metrics.GetPoolStatsPeriod()
		collector := metrics.NewCollector(services.Router, period)
		collector.Start(ctx)
		defer collector.Stop()
	}

	var monitor *health.HealthMonitor
	if cfg.Health.Enabled {
		interval, _ := cfg.Health.GetInterval()
		monitor = health.NewHealthMonitor()
		health.RegisterRouterChecks(monitor, services.Router, interval)
		monitor.Start(ctx)
		defer monitor.Stop()
	}

	errChan := make(chan error, 1)
	if cfg.AdminAPI.Start {
		go httpapi.Start(ctx, &provider, httpapi.ServerOptions{
			Addr:         cfg.AdminAPI.Addr,
			APIKey:       cfg.AdminAPI.APIKey,
			AllowedHosts: cfg.AdminAPI.AllowedHosts,
			Monitor:      monitor,
			TLS:          cfg.AdminAPI.TLS,
			TLSCertFile:  cfg.AdminAPI.TLSCertFile,
			TLSKeyFile:   cfg.AdminAPI.TLSKeyFile,
		}, errChan)
	}

	select {
	case <-ctx.Done():
		errorHandler.Shutdown(ctx)
		return errors.ExitOK
	case err := <-errChan:
		errorHandler.FatalError("admin API", err)
		return errorHandler.ExitCode()
	}
}

// waitForPrimary probes the primary with backoff. An unreachable primary is
// logged, not fatal: sessions are attempted on demand.
func waitForPrimary(ctx context.Context, services *persistence.Services) {
	backoff := retry.DefaultBackoffConfig()
	backoff.MaxRetries = 3
	err := retry.WithRetry(ctx, func() error {
		if h := services.Router.PrimaryHealth(ctx); !h.Healthy() {
			return fmt.Errorf("primary unhealthy: %s", h.Error)
		}
		return nil
	}, backoff)
	if err != nil {
		logger.Warn("Primary database is not reachable yet; sessions will be attempted on demand", "error", err)
		return
	}
	logger.Info("Primary database reachable")
}

// loadAndValidateConfig loads the configuration file, applies environment
// overrides and validates the result. A missing default file is not an error.
func loadAndValidateConfig(configPath string, cfg *config.Config, errorHandler *errors.ErrorHandler) bool {
	if err := config.LoadConfigFromFile(configPath, cfg); err != nil {
		if !os.IsNotExist(err) || configPath != defaultConfigPath {
			errorHandler.ConfigError(configPath, err)
			return false
		}
		logger.Warn("Default configuration file not found, using application defaults", "path", configPath)
	} else {
		logger.Info("Loaded configuration", "path", configPath)
	}

	cfg.ApplyEnvironment()
	if err := cfg.Validate(); err != nil {
		errorHandler.ValidationError("configuration", err)
		return false
	}
	return true
}
