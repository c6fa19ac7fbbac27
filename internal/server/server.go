// Package server exposes the dashboard, report builder and report
// downloads over a JSON HTTP API.
package server

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"github.com/wesm/botsview/internal/config"
	"github.com/wesm/botsview/internal/dashboard"
	"github.com/wesm/botsview/internal/export"
	"github.com/wesm/botsview/internal/metrics"
	"github.com/wesm/botsview/internal/report"
)

// VersionInfo holds build-time version metadata.
type VersionInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildDate string `json:"build_date"`
}

// Downloads opens generated report artifacts by reference.
type Downloads interface {
	Open(ref string) (*export.Download, error)
}

// Dependencies are the components the API serves.
type Dependencies struct {
	Dashboard *dashboard.Dashboard
	Builder   *report.Builder
	History   *report.History
	Downloads Downloads
	Metrics   *metrics.Metrics
}

// Server is the HTTP API server.
type Server struct {
	mu      sync.RWMutex
	cfg     config.Config
	deps    Dependencies
	router  *chi.Mux
	logger  zerolog.Logger
	httpSrv *http.Server
	version VersionInfo

	// handlerDelay is injected before each timeout-wrapped
	// handler. Tests only.
	handlerDelay time.Duration
}

// Option configures a Server.
type Option func(*Server)

// WithVersion sets the build-time version metadata.
func WithVersion(v VersionInfo) Option {
	return func(s *Server) { s.version = v }
}

// New creates a Server with every route registered.
func New(
	cfg config.Config, logger zerolog.Logger, deps Dependencies,
	opts ...Option,
) *Server {
	s := &Server{
		cfg:    cfg,
		deps:   deps,
		logger: logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	r := chi.NewRouter()
	r.Use(requestLogger(&s.logger))
	r.Use(middleware.Recoverer)
	r.Use(corsMiddleware)

	r.Route("/api/v1", func(r chi.Router) {
		r.Method(http.MethodGet, "/filters", s.withTimeout(s.handleGetFilters))
		r.Method(http.MethodPatch, "/filters", s.withTimeout(s.handlePatchFilters))
		r.Method(http.MethodGet, "/dashboard", s.withTimeout(s.handleGetDashboard))
		r.Method(http.MethodPost, "/dashboard/refresh", s.withTimeout(s.handleRefresh))
		r.Method(http.MethodGet, "/kpis/{id}/info", s.withTimeout(s.handleKPIInfo))
		r.Method(http.MethodGet, "/sessions/{id}", s.withTimeout(s.handleGetSession))

		r.Method(http.MethodGet, "/reports/builder", s.withTimeout(s.handleGetBuilder))
		r.Method(http.MethodPatch, "/reports/builder", s.withTimeout(s.handlePatchBuilder))
		r.Method(http.MethodPost, "/reports/builder/sections", s.withTimeout(s.handleToggleSection))
		r.Method(http.MethodPost, "/reports/builder/reset", s.withTimeout(s.handleResetBuilder))
		r.Method(http.MethodGet, "/reports/preview", s.withTimeout(s.handlePreview))
		r.Method(http.MethodPost, "/reports/generate", s.withTimeout(s.handleGenerate))
		r.Method(http.MethodGet, "/reports/history", s.withTimeout(s.handleHistory))
		// Downloads stream and bypass the timeout handler.
		r.Get("/reports/downloads/{ref}", s.handleDownload)

		r.Method(http.MethodGet, "/version", s.withTimeout(s.handleGetVersion))
	})

	if s.deps.Metrics != nil {
		r.Handle("/metrics", s.deps.Metrics.Handler())
	}

	r.NotFound(func(w http.ResponseWriter, req *http.Request) {
		writeError(w, req, http.StatusNotFound, "not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, req *http.Request) {
		writeError(w, req, http.StatusMethodNotAllowed, "method not allowed")
	})
	s.router = r
}

func (s *Server) handleGetVersion(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, s.version)
}

// Handler returns the http.Handler with middleware applied.
func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe starts the HTTP server.
func (s *Server) ListenAndServe() error {
	addr := net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port))
	srv := &http.Server{
		Addr:        addr,
		Handler:     s.Handler(),
		ReadTimeout: 10 * time.Second,
		IdleTimeout: 120 * time.Second,
	}
	s.mu.Lock()
	s.httpSrv = srv
	s.mu.Unlock()
	s.logger.Info().Str("addr", addr).Msg("starting server")
	return srv.ListenAndServe()
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.RLock()
	srv := s.httpSrv
	s.mu.RUnlock()
	if srv == nil {
		return nil
	}
	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down server: %w", err)
	}
	return nil
}

// FindAvailablePort finds an available port starting from the
// given port, binding to the specified host.
func FindAvailablePort(host string, start int) int {
	for port := start; port < start+100; port++ {
		addr := net.JoinHostPort(host, strconv.Itoa(port))
		ln, err := net.Listen("tcp", addr)
		if err == nil {
			ln.Close()
			return port
		}
	}
	return start
}
