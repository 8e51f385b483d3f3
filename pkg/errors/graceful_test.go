package errors

import (
	stderrors "errors"
	"fmt"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGracefulErrorUnwraps(t *testing.T) {
	base := stderrors.New("dial tcp: refused")
	err := fmt.Errorf("startup: %w", NewGracefulError("open primary", base))
	assert.ErrorIs(t, err, base)
	assert.Contains(t, err.Error(), "operation 'open primary' failed")
}

func TestExitCodes(t *testing.T) {
	eh := NewErrorHandler()
	assert.Equal(t, ExitOK, eh.ExitCode())

	eh = NewErrorHandler()
	eh.ConfigError("missing.toml", os.ErrNotExist)
	eh.FatalError("later", stderrors.New("ignored for exit code"))
	assert.Equal(t, ExitConfig, eh.ExitCode())

	eh = NewErrorHandler()
	eh.FatalError("serve", stderrors.New("boom"))
	assert.Equal(t, ExitFatal, eh.ExitCode())

	eh = NewErrorHandler()
	eh.ValidationError("database.primary_url", stderrors.New("required"))
	assert.Equal(t, ExitConfig, eh.ExitCode())
}
