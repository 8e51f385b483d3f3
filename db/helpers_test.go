package db

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func sqliteURL(t *testing.T, name string) string {
	t.Helper()
	return "sqlite://" + filepath.Join(t.TempDir(), name+".db")
}

func newTestPool(t *testing.T, opts PoolOptions) *ConnectionPool {
	t.Helper()
	pool, err := NewConnectionPool(sqliteURL(t, "pool"), opts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = pool.Close() })
	return pool
}
