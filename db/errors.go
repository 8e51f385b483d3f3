package db

import (
	"errors"
	"fmt"

	"github.com/migadu/soradb/helpers"
)

// Sentinel errors for pool and router operations
var (
	// ErrEmptyURL indicates that a pool was configured without a database URL
	ErrEmptyURL = errors.New("database URL is empty")

	// ErrUnsupportedScheme indicates that no driver is registered for the URL scheme
	ErrUnsupportedScheme = errors.New("unsupported database URL scheme")

	// ErrEmptyPrimaryURL indicates that the router was configured without a primary
	ErrEmptyPrimaryURL = errors.New("primary database URL is required")

	// ErrEmptyReplicaURL indicates that a replica entry was an empty string
	ErrEmptyReplicaURL = errors.New("replica database URL must not be empty")

	// ErrAcquireTimeout indicates that no pool slot became free within the acquire timeout
	ErrAcquireTimeout = errors.New("timed out waiting for a pool connection")

	// ErrPoolClosed indicates that the pool was closed before the acquisition
	ErrPoolClosed = errors.New("connection pool is closed")

	// ErrNoReplicas indicates that a replica was requested from a router without replicas
	ErrNoReplicas = errors.New("no read replicas configured")
)

// ConfigError reports an invalid pool or router configuration. It is returned
// at construction time, before any connection is attempted.
type ConfigError struct {
	URL string
	Err error
}

func (e *ConfigError) Error() string {
	if e.URL == "" {
		return fmt.Sprintf("invalid database configuration: %v", e.Err)
	}
	return fmt.Sprintf("invalid database configuration for %s: %v", helpers.MaskDatabaseURL(e.URL), e.Err)
}

func (e *ConfigError) Unwrap() error { return e.Err }

// AcquireError wraps every failure to obtain a session from a pool.
type AcquireError struct {
	Pool string
	Err  error
}

func (e *AcquireError) Error() string {
	return fmt.Sprintf("acquire connection from pool %s: %v", e.Pool, e.Err)
}

func (e *AcquireError) Unwrap() error { return e.Err }

// IsAcquireError reports whether err is a session acquisition failure.
func IsAcquireError(err error) bool {
	var ae *AcquireError
	return errors.As(err, &ae)
}
