package httpapi

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/migadu/soradb/db"
	"github.com/migadu/soradb/pkg/embedcache"
	"github.com/migadu/soradb/pkg/health"
	"github.com/migadu/soradb/pkg/searchcache"
)

// Request/Response types

type HealthResponse struct {
	Status   db.ComponentStatus       `json:"status"`
	Primary  db.PoolHealth            `json:"primary"`
	Replicas map[string]db.PoolHealth `json:"replicas"`
	Monitor  *health.Overview         `json:"monitor,omitempty"`
}

type CacheStatsResponse struct {
	Embeddings    embedcache.Stats  `json:"embeddings"`
	SearchResults searchcache.Stats `json:"search_results"`
}

type SearchInvalidateRequest struct {
	Query string  `json:"query"`
	TopK  *int    `json:"top_k,omitempty"`
	Scope *string `json:"scope,omitempty"`
}

type ProjectInvalidateRequest struct {
	Scope string `json:"scope"`
}

type InvalidateResponse struct {
	Removed int `json:"removed"`
}

// handleHealth reports primary and replica health. Only an unhealthy primary
// makes the response fail; replica problems degrade it.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	svc := s.servicesOrError(w)
	if svc == nil {
		return
	}
	ctx := r.Context()

	resp := HealthResponse{
		Status:   db.StatusHealthy,
		Primary:  svc.Router.PrimaryHealth(ctx),
		Replicas: svc.Router.ReplicaStatus(ctx),
	}
	for _, h := range resp.Replicas {
		if !h.Healthy() {
			resp.Status = db.StatusDegraded
		}
	}
	if s.monitor != nil {
		ov := s.monitor.Overview()
		resp.Monitor = &ov
	}

	status := http.StatusOK
	if !resp.Primary.Healthy() {
		resp.Status = db.StatusUnhealthy
		status = http.StatusServiceUnavailable
	}
	s.writeJSON(w, status, resp)
}

func (s *Server) handlePoolStatus(w http.ResponseWriter, r *http.Request) {
	svc := s.servicesOrError(w)
	if svc == nil {
		return
	}
	s.writeJSON(w, http.StatusOK, svc.Router.Status())
}

func (s *Server) handleProfilerStats(w http.ResponseWriter, r *http.Request) {
	svc := s.servicesOrError(w)
	if svc == nil {
		return
	}
	s.writeJSON(w, http.StatusOK, svc.Profiler.Stats())
}

func (s *Server) handleProfilerSlow(w http.ResponseWriter, r *http.Request) {
	svc := s.servicesOrError(w)
	if svc == nil {
		return
	}
	minCount := int64(1)
	if v := r.URL.Query().Get("min_count"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil || n < 0 {
			s.writeError(w, http.StatusBadRequest, "min_count must be a non-negative integer")
			return
		}
		minCount = n
	}
	s.writeJSON(w, http.StatusOK, svc.Profiler.SlowQueries(minCount))
}

func (s *Server) handleProfilerSlowest(w http.ResponseWriter, r *http.Request) {
	svc := s.servicesOrError(w)
	if svc == nil {
		return
	}
	limit := 10
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			s.writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}
	s.writeJSON(w, http.StatusOK, svc.Profiler.SlowestQueries(limit))
}

func (s *Server) handleProfilerReset(w http.ResponseWriter, r *http.Request) {
	svc := s.servicesOrError(w)
	if svc == nil {
		return
	}
	name, ok := mux.Vars(r)["name"]
	if !ok {
		svc.Profiler.ResetAll()
		w.WriteHeader(http.StatusNoContent)
		return
	}
	if !svc.Profiler.Reset(name) {
		s.writeError(w, http.StatusNotFound, "Operation not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleCacheStats(w http.ResponseWriter, r *http.Request) {
	svc := s.servicesOrError(w)
	if svc == nil {
		return
	}
	s.writeJSON(w, http.StatusOK, CacheStatsResponse{
		Embeddings:    svc.Embeddings.Stats(),
		SearchResults: svc.SearchResults.Stats(),
	})
}

// handleSearchInvalidate removes search results for a query. With top_k the
// removal is narrowed to that result size in every scope; with both top_k and
// scope only the exact entry is removed. A scope without top_k is ignored.
func (s *Server) handleSearchInvalidate(w http.ResponseWriter, r *http.Request) {
	svc := s.servicesOrError(w)
	if svc == nil {
		return
	}
	var req SearchInvalidateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}
	if req.Query == "" {
		s.writeError(w, http.StatusBadRequest, "query is required")
		return
	}

	var removed int
	switch {
	case req.TopK != nil && req.Scope != nil:
		removed = svc.SearchResults.InvalidateKey(req.Query, *req.TopK, *req.Scope)
	case req.TopK != nil:
		removed = svc.SearchResults.InvalidateQueryTopK(req.Query, *req.TopK)
	default:
		removed = svc.SearchResults.InvalidateQuery(req.Query)
	}
	s.writeJSON(w, http.StatusOK, InvalidateResponse{Removed: removed})
}

func (s *Server) handleSearchInvalidateProject(w http.ResponseWriter, r *http.Request) {
	svc := s.servicesOrError(w)
	if svc == nil {
		return
	}
	var req ProjectInvalidateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}
	s.writeJSON(w, http.StatusOK, InvalidateResponse{Removed: svc.SearchResults.InvalidateProject(req.Scope)})
}

func (s *Server) handleCacheClear(w http.ResponseWriter, r *http.Request) {
	svc := s.servicesOrError(w)
	if svc == nil {
		return
	}
	svc.Embeddings.Clear()
	svc.SearchResults.Clear()
	w.WriteHeader(http.StatusNoContent)
}
