// Package api exposes the optimizer over HTTP: /v1/optimize runs the
// pipeline, /v1/chat additionally forwards to an LLM provider, plus health,
// metrics, and a service banner.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/allaspectsdev/tokenpress/internal/config"
	"github.com/allaspectsdev/tokenpress/internal/dashboard"
	"github.com/allaspectsdev/tokenpress/internal/metrics"
	"github.com/allaspectsdev/tokenpress/internal/pipeline"
	"github.com/allaspectsdev/tokenpress/internal/provider"
	"github.com/allaspectsdev/tokenpress/internal/semantic"
	"github.com/allaspectsdev/tokenpress/internal/tracing"
	"github.com/allaspectsdev/tokenpress/internal/vectorstore"
)

// Deps are the wired subsystems the server serves. Dashboard, Embedder, and
// Vectors may be nil when the corresponding feature is off.
type Deps struct {
	Config    *config.Config
	Optimizer *pipeline.Optimizer
	Collector *metrics.Collector
	Providers *provider.Registry
	Dashboard *dashboard.Client
	Embedder  *semantic.Embedder
	Vectors   *vectorstore.Store

	// CacheBackend names the active result cache backend ("redis",
	// "sqlite", "memory") or is empty when caching is disabled.
	CacheBackend string
}

// Server binds the chi router to the configured address with graceful
// shutdown support.
type Server struct {
	deps    Deps
	router  chi.Router
	httpSrv *http.Server
}

// NewServer builds the router and HTTP server. Zero-value timeouts leave
// the corresponding http.Server field at its default.
func NewServer(deps Deps, addr string, readTimeout, writeTimeout, idleTimeout time.Duration) *Server {
	s := &Server{deps: deps}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	if deps.Config.Tracing.Enabled {
		r.Use(tracing.HTTPMiddleware)
	}

	auth := authMiddleware(deps.Config.APIKey, deps.Dashboard, deps.Config.Dashboard.ValidateKeys)

	r.Group(func(r chi.Router) {
		r.Use(auth)
		r.With(metricsMiddleware(deps.Collector, "optimize")).
			Post("/v1/optimize", s.handleOptimize)
		r.With(metricsMiddleware(deps.Collector, "chat")).
			Post("/v1/chat", s.handleChat)
	})

	r.Get("/v1/health", s.handleHealth)
	r.Get("/v1/metrics", metrics.PrometheusHandler(deps.Collector))
	r.Get("/", s.handleBanner)

	s.router = r
	s.httpSrv = &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
		IdleTimeout:  idleTimeout,
	}
	return s
}

// Router returns the underlying chi.Router, useful for tests.
func (s *Server) Router() chi.Router {
	return s.router
}

// Start blocks serving HTTP until Shutdown or a fatal error.
func (s *Server) Start() error {
	return s.httpSrv.ListenAndServe()
}

// Shutdown gracefully stops the server, waiting for in-flight requests
// within the context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpSrv.Shutdown(ctx)
}
