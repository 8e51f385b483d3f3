package httpapi

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/migadu/soradb/logger"
	"github.com/migadu/soradb/persistence"
	"github.com/migadu/soradb/pkg/health"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Server represents the HTTP admin API server
type Server struct {
	addr         string
	apiKey       string
	allowedHosts []string
	services     *persistence.Provider
	monitor      *health.HealthMonitor
	server       *http.Server
	tls          bool
	tlsCertFile  string
	tlsKeyFile   string
}

// ServerOptions holds configuration options for the HTTP admin API server
type ServerOptions struct {
	Addr         string
	APIKey       string
	AllowedHosts []string
	Monitor      *health.HealthMonitor
	TLS          bool
	TLSCertFile  string
	TLSKeyFile   string
}

// New creates a new HTTP admin API server
func New(services *persistence.Provider, options ServerOptions) (*Server, error) {
	if options.APIKey == "" {
		return nil, fmt.Errorf("API key is required for HTTP API server")
	}
	if services == nil {
		return nil, fmt.Errorf("services provider is required for HTTP API server")
	}

	if options.TLS {
		if options.TLSCertFile == "" || options.TLSKeyFile == "" {
			return nil, fmt.Errorf("TLS certificate and key files are required when TLS is enabled")
		}
	}

	return &Server{
		addr:         options.Addr,
		apiKey:       options.APIKey,
		allowedHosts: options.AllowedHosts,
		services:     services,
		monitor:      options.Monitor,
		tls:          options.TLS,
		tlsCertFile:  options.TLSCertFile,
		tlsKeyFile:   options.TLSKeyFile,
	}, nil
}

// Start starts the HTTP admin API server and blocks until ctx is done or the
// server fails. Failures are sent on errChan.
func Start(ctx context.Context, services *persistence.Provider, options ServerOptions, errChan chan error) {
	server, err := New(services, options)
	if err != nil {
		errChan <- fmt.Errorf("failed to create HTTP API server: %w", err)
		return
	}

	protocol := "HTTP"
	if options.TLS {
		protocol = "HTTPS"
	}
	logger.Info("HTTP API: starting server", "protocol", protocol, "addr", options.Addr)
	if err := server.start(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) && ctx.Err() == nil {
		errChan <- fmt.Errorf("HTTP API server failed: %w", err)
	}
}

func (s *Server) start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		logger.Info("HTTP API: shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			logger.Error("HTTP API: error shutting down server", "error", err)
		}
	}()

	if s.tls {
		return s.server.ListenAndServeTLS(s.tlsCertFile, s.tlsKeyFile)
	}
	return s.server.ListenAndServe()
}

// Handler returns the fully routed handler.
func (s *Server) Handler() http.Handler {
	return s.setupRoutes()
}

func (s *Server) setupRoutes() *mux.Router {
	router := mux.NewRouter()

	router.Use(s.loggingMiddleware)
	router.Use(s.allowedHostsMiddleware)

	// Scraped by Prometheus without credentials.
	router.Handle("/metrics", promhttp.Handler()).Methods("GET")

	v1 := router.PathPrefix("/api/v1").Subrouter()
	v1.Use(s.authMiddleware)

	v1.HandleFunc("/health", s.handleHealth).Methods("GET")
	v1.HandleFunc("/pool/status", s.handlePoolStatus).Methods("GET")

	v1.HandleFunc("/profiler/stats", s.handleProfilerStats).Methods("GET")
	v1.HandleFunc("/profiler/stats", s.handleProfilerReset).Methods("DELETE")
	v1.HandleFunc("/profiler/stats/{name}", s.handleProfilerReset).Methods("DELETE")
	v1.HandleFunc("/profiler/slow", s.handleProfilerSlow).Methods("GET")
	v1.HandleFunc("/profiler/slowest", s.handleProfilerSlowest).Methods("GET")

	v1.HandleFunc("/cache/stats", s.handleCacheStats).Methods("GET")
	v1.HandleFunc("/cache/search/invalidate", s.handleSearchInvalidate).Methods("POST")
	v1.HandleFunc("/cache/search/invalidate-project", s.handleSearchInvalidateProject).Methods("POST")
	v1.HandleFunc("/cache/clear", s.handleCacheClear).Methods("POST")

	return router
}

// Middleware functions

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		logger.Debug("HTTP API: request", "method", r.Method, "path", r.URL.Path,
			"remote", r.RemoteAddr, "duration", time.Since(start))
	})
}

func (s *Server) allowedHostsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if len(s.allowedHosts) == 0 {
			next.ServeHTTP(w, r)
			return
		}

		clientIP := getClientIP(r)

		allowed := false
		for _, allowedHost := range s.allowedHosts {
			if allowedHost == clientIP {
				allowed = true
				break
			}
			if strings.Contains(allowedHost, "/") {
				if _, cidr, err := net.ParseCIDR(allowedHost); err == nil {
					if ip := net.ParseIP(clientIP); ip != nil && cidr.Contains(ip) {
						allowed = true
						break
					}
				}
			}
		}

		if !allowed {
			s.writeError(w, http.StatusForbidden, "Host not allowed")
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			s.writeError(w, http.StatusUnauthorized, "Authorization header required")
			return
		}

		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
			s.writeError(w, http.StatusUnauthorized, "Authorization header must be 'Bearer <token>'")
			return
		}

		if subtle.ConstantTimeCompare([]byte(parts[1]), []byte(s.apiKey)) != 1 {
			s.writeError(w, http.StatusForbidden, "Invalid API key")
			return
		}

		next.ServeHTTP(w, r)
	})
}

// Utility functions

func getClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		ips := strings.Split(xff, ",")
		return strings.TrimSpace(ips[0])
	}

	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}

	host, _, _ := net.SplitHostPort(r.RemoteAddr)
	return host
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Error("HTTP API: error encoding JSON response", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}

// servicesOrError writes 503 and returns nil until the services are installed.
func (s *Server) servicesOrError(w http.ResponseWriter) *persistence.Services {
	svc, err := s.services.Services()
	if err != nil {
		s.writeError(w, http.StatusServiceUnavailable, "Database services not initialized")
		return nil
	}
	return svc
}
