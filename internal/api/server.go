// Package api serves the finding store and the coordinator's scan and
// suppression requests over HTTP, plus Prometheus metrics.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/chris-regnier/quell/internal/cache"
	"github.com/chris-regnier/quell/internal/coordinator"
	"github.com/chris-regnier/quell/internal/finding"
	"github.com/chris-regnier/quell/internal/findings"
	"github.com/chris-regnier/quell/internal/metrics"
)

// Backend is the part of the coordinator the API drives.
type Backend interface {
	Store() *findings.Store
	Root() string
	ScanFile(ctx context.Context, path string) (*finding.ScanRun, error)
	ScanWorkspace(ctx context.Context) (*finding.ScanRun, error)
	Suppress(ctx context.Context, req coordinator.SuppressRequest) (*coordinator.SuppressResponse, error)
	Unsuppress(ctx context.Context, req coordinator.SuppressRequest) (*coordinator.SuppressResponse, error)
}

var _ Backend = (*coordinator.Coordinator)(nil)

// Server routes HTTP requests to a Backend.
type Server struct {
	backend   Backend
	collector *metrics.Collector
	registry  *prometheus.Registry
	logger    *slog.Logger
	version   string
	router    chi.Router

	cacheStore *cache.LocalCache
	cacheToken string
}

// Option configures a Server
type Option func(*Server)

// WithCollector exports the scan statistics of c on /metrics and /stats.
func WithCollector(c *metrics.Collector) Option {
	return func(s *Server) { s.collector = c }
}

func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.logger = l }
}

func WithVersion(v string) Option {
	return func(s *Server) { s.version = v }
}

// NewServer builds the router. Metrics are registered on a private
// registry.
func NewServer(backend Backend, opts ...Option) *Server {
	s := &Server{
		backend:  backend,
		registry: prometheus.NewRegistry(),
		logger:   slog.Default(),
		version:  "dev",
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.collector == nil {
		s.collector = metrics.NewCollector()
	}
	s.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		metrics.NewPromCollector(s.collector, backend.Store().Count),
	)
	s.router = s.routes()
	return s
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.CleanPath)
	r.Use(chimw.StripSlashes)
	r.Use(s.logRequests)
	r.Use(chimw.Recoverer)

	r.Get("/healthz", s.handleHealth)
	r.Get("/findings", s.handleFindings)
	r.Get("/count", s.handleCount)
	r.Get("/stats", s.handleStats)
	r.Post("/scan", s.handleScan)
	r.Post("/suppress", s.handleSuppress)
	r.Post("/unsuppress", s.handleUnsuppress)
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))
	if s.cacheStore != nil {
		r.Route("/api/cache", s.cacheRoutes)
	}
	return r
}

// Handler returns the HTTP handler
func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe serves on addr until ctx is done, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is done.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("api listening", "addr", ln.Addr().String())
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutting down api: %w", err)
		}
		return nil
	}
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start),
			"request_id", chimw.GetReqID(r.Context()))
	})
}
