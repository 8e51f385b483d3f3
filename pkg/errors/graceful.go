// Package errors reports fatal startup and runtime failures of the daemon and
// maps them to process exit codes.
package errors

import (
	"context"
	"fmt"
	"os"

	"github.com/migadu/soradb/logger"
)

// Exit codes
const (
	ExitOK     = 0
	ExitFatal  = 1
	ExitConfig = 2
)

type GracefulError struct {
	Operation string
	Err       error
}

func (g *GracefulError) Error() string {
	return fmt.Sprintf("operation '%s' failed: %v", g.Operation, g.Err)
}

func (g *GracefulError) Unwrap() error {
	return g.Err
}

func NewGracefulError(operation string, err error) *GracefulError {
	return &GracefulError{
		Operation: operation,
		Err:       err,
	}
}

// ErrorHandler records the first fatal condition. Later reports are logged
// but do not change the exit code.
type ErrorHandler struct {
	exitChannel chan int
}

func NewErrorHandler() *ErrorHandler {
	return &ErrorHandler{exitChannel: make(chan int, 1)}
}

func (eh *ErrorHandler) report(code int) {
	select {
	case eh.exitChannel <- code:
	default:
	}
}

func (eh *ErrorHandler) FatalError(operation string, err error) {
	logger.Error("FATAL", "error", NewGracefulError(operation, err))
	eh.report(ExitFatal)
}

func (eh *ErrorHandler) ConfigError(configPath string, err error) {
	if os.IsNotExist(err) {
		logger.Error("Configuration file not found", "path", configPath, "error", err)
	} else {
		logger.Error("Failed to load configuration file", "path", configPath, "error", err)
	}
	eh.report(ExitConfig)
}

func (eh *ErrorHandler) ValidationError(field string, err error) {
	logger.Error("Invalid configuration", "field", field, "error", err)
	eh.report(ExitConfig)
}

// ExitCode returns the recorded exit code, or ExitOK when nothing failed.
func (eh *ErrorHandler) ExitCode() int {
	select {
	case code := <-eh.exitChannel:
		return code
	default:
		return ExitOK
	}
}

func (eh *ErrorHandler) Shutdown(ctx context.Context) {
	select {
	case <-ctx.Done():
		logger.Info("Graceful shutdown initiated")
	default:
		logger.Warn("Unexpected shutdown")
	}
}
