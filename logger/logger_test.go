package logger

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/migadu/soradb/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLogLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, parseLogLevel("debug"))
	assert.Equal(t, slog.LevelWarn, parseLogLevel("warning"))
	assert.Equal(t, slog.LevelError, parseLogLevel("error"))
	assert.Equal(t, slog.LevelInfo, parseLogLevel(""))
	assert.Equal(t, slog.LevelInfo, parseLogLevel("verbose"))
}

func TestInitializeFileOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "soradb.log")
	f, err := Initialize(config.LoggingConfig{Output: path, Format: "json", Level: "info"})
	require.NoError(t, err)
	require.NotNil(t, f)
	defer f.Close()

	Info("pool created", "pool", "primary")
	Debug("hidden at info level")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"pool":"primary"`)
	assert.NotContains(t, string(data), "hidden at info level")
}
