package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/migadu/soradb/config"
	"github.com/migadu/soradb/persistence"
	"github.com/migadu/soradb/pkg/health"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testAPIKey = "test-key"

func newTestServer(t *testing.T, replicas int) (http.Handler, *persistence.Services) {
	t.Helper()
	dir := t.TempDir()
	cfg := config.NewDefaultConfig()
	cfg.Database.PrimaryURL = "sqlite://" + filepath.Join(dir, "primary.db")
	for i := 0; i < replicas; i++ {
		cfg.Database.ReplicaURLs = append(cfg.Database.ReplicaURLs,
			"sqlite://"+filepath.Join(dir, "replica"+string(rune('a'+i))+".db"))
	}

	svc, err := persistence.New(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = svc.Close() })

	var provider persistence.Provider
	provider.Set(svc)

	srv, err := New(&provider, ServerOptions{APIKey: testAPIKey, Monitor: health.NewHealthMonitor()})
	require.NoError(t, err)
	return srv.Handler(), svc
}

func do(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Authorization", "Bearer "+testAPIKey)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v))
	return v
}

func TestNewValidation(t *testing.T) {
	var p persistence.Provider
	_, err := New(&p, ServerOptions{})
	assert.Error(t, err)
	_, err = New(nil, ServerOptions{APIKey: "k"})
	assert.Error(t, err)
	_, err = New(&p, ServerOptions{APIKey: "k", TLS: true})
	assert.Error(t, err)
}

func TestAuthMiddleware(t *testing.T) {
	h, _ := newTestServer(t, 0)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/pool/status", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req.Header.Set("Authorization", "Bearer wrong")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code, "metrics need no credentials")
}

func TestAllowedHosts(t *testing.T) {
	var p persistence.Provider
	srv, err := New(&p, ServerOptions{APIKey: testAPIKey, AllowedHosts: []string{"10.0.0.0/8"}})
	require.NoError(t, err)
	h := srv.Handler()

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	req.RemoteAddr = "192.168.1.5:4000"
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	req.RemoteAddr = "10.1.2.3:4000"
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestServicesNotInitialized(t *testing.T) {
	var p persistence.Provider
	srv, err := New(&p, ServerOptions{APIKey: testAPIKey})
	require.NoError(t, err)

	rec := do(t, srv.Handler(), http.MethodGet, "/api/v1/health", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestHealth(t *testing.T) {
	h, svc := newTestServer(t, 2)

	rec := do(t, h, http.MethodGet, "/api/v1/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[HealthResponse](t, rec)
	assert.Equal(t, "healthy", string(resp.Status))
	assert.Len(t, resp.Replicas, 2)
	assert.NotNil(t, resp.Monitor)

	require.NoError(t, svc.Router.Pools()[2].Close())
	rec = do(t, h, http.MethodGet, "/api/v1/health", nil)
	require.Equal(t, http.StatusOK, rec.Code, "replica loss never fails the report")
	resp = decode[HealthResponse](t, rec)
	assert.Equal(t, "degraded", string(resp.Status))
	assert.Equal(t, "unhealthy", string(resp.Replicas["1"].Status))
	assert.Equal(t, "healthy", string(resp.Replicas["0"].Status))

	require.NoError(t, svc.Router.Primary().Close())
	rec = do(t, h, http.MethodGet, "/api/v1/health", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestPoolStatus(t *testing.T) {
	h, _ := newTestServer(t, 1)
	rec := do(t, h, http.MethodGet, "/api/v1/pool/status", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		ReadPreference string                    `json:"read_preference"`
		Primary        map[string]any            `json:"primary"`
		Replicas       map[string]map[string]any `json:"replicas"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "replica", resp.ReadPreference)
	assert.Equal(t, 20.0, resp.Primary["size"])
	assert.Contains(t, resp.Replicas, "replica_0")
}

func TestProfilerEndpoints(t *testing.T) {
	h, svc := newTestServer(t, 0)
	svc.Profiler.ManualTrack("search.semantic", 300*time.Millisecond, true)
	svc.Profiler.ManualTrack("search.semantic", 10*time.Millisecond, false)
	svc.Profiler.ManualTrack("cache.lookup", time.Millisecond, false)

	rec := do(t, h, http.MethodGet, "/api/v1/profiler/stats", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	stats := decode[map[string]map[string]any](t, rec)
	assert.Len(t, stats, 2)
	assert.Equal(t, 2.0, stats["search.semantic"]["count"])

	rec = do(t, h, http.MethodGet, "/api/v1/profiler/slow?min_count=1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	slow := decode[[]map[string]any](t, rec)
	require.Len(t, slow, 1)
	assert.Equal(t, "search.semantic", slow[0]["name"])

	rec = do(t, h, http.MethodGet, "/api/v1/profiler/slowest?limit=1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]map[string]any](t, rec), 1)

	rec = do(t, h, http.MethodGet, "/api/v1/profiler/slowest?limit=zero", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, http.MethodDelete, "/api/v1/profiler/stats/cache.lookup", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = do(t, h, http.MethodDelete, "/api/v1/profiler/stats/cache.lookup", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, h, http.MethodDelete, "/api/v1/profiler/stats", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Empty(t, svc.Profiler.Stats())
}

func TestCacheEndpoints(t *testing.T) {
	h, svc := newTestServer(t, 0)
	results := []persistence.SearchResult{{ID: "doc-1", Score: 0.93}}
	svc.SearchResults.Put("auth flow", 10, "proj-a", results)
	svc.SearchResults.Put("auth flow", 10, "proj-b", results)
	svc.SearchResults.Put("auth flow", 5, "proj-a", results)
	svc.SearchResults.Put("billing", 10, "proj-a", results)
	svc.Embeddings.Put("auth flow", []float32{0.1, 0.2})

	rec := do(t, h, http.MethodGet, "/api/v1/cache/stats", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	stats := decode[CacheStatsResponse](t, rec)
	assert.Equal(t, 4, stats.SearchResults.CacheSize)
	assert.Equal(t, 1, stats.Embeddings.CacheSize)

	topK, scope := 10, "proj-b"
	rec = do(t, h, http.MethodPost, "/api/v1/cache/search/invalidate", SearchInvalidateRequest{Query: "auth flow", TopK: &topK, Scope: &scope})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, decode[InvalidateResponse](t, rec).Removed)

	rec = do(t, h, http.MethodPost, "/api/v1/cache/search/invalidate", SearchInvalidateRequest{Query: "auth flow", TopK: &topK})
	assert.Equal(t, 1, decode[InvalidateResponse](t, rec).Removed)

	rec = do(t, h, http.MethodPost, "/api/v1/cache/search/invalidate", SearchInvalidateRequest{Query: "auth flow"})
	assert.Equal(t, 1, decode[InvalidateResponse](t, rec).Removed)

	rec = do(t, h, http.MethodPost, "/api/v1/cache/search/invalidate", SearchInvalidateRequest{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, http.MethodPost, "/api/v1/cache/search/invalidate-project", ProjectInvalidateRequest{Scope: "proj-a"})
	assert.Equal(t, 1, decode[InvalidateResponse](t, rec).Removed)

	rec = do(t, h, http.MethodPost, "/api/v1/cache/clear", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, 0, svc.Embeddings.Len())
	assert.Equal(t, 0, svc.SearchResults.Len())
}
