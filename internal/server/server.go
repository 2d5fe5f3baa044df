// Package server exposes the query engine over HTTP: one query endpoint, a
// catalog listing, an on-demand schema check, health, and metrics.
package server

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/ferdnandolima/llm-sql-skeleton/internal/config"
	"github.com/ferdnandolima/llm-sql-skeleton/internal/engine"
	"github.com/ferdnandolima/llm-sql-skeleton/internal/logging"
	"github.com/ferdnandolima/llm-sql-skeleton/internal/middleware"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// Tenant is the per-tenant store handle the HTTP surface needs for health
// checks and on-demand schema checks. The engine holds its own executors.
type Tenant struct {
	DB *sql.DB
	// Schema is the metadata schema checked by /v1/schema/check. Empty skips
	// the tenant.
	Schema string
}

// Server owns the HTTP listener and its routes.
type Server struct {
	cfg     config.ServerConfig
	obs     config.ObservabilityConfig
	engine  *engine.Engine
	tenants map[string]Tenant
	logger  *logging.Logger

	srv *http.Server
}

// New builds the server. tenants maps tenant names to their primary store
// handles; it may be nil in tests that never touch health or schema routes.
func New(cfg config.ServerConfig, obs config.ObservabilityConfig, eng *engine.Engine, tenants map[string]Tenant, logger *logging.Logger) *Server {
	s := &Server{
		cfg:     cfg,
		obs:     obs,
		engine:  eng,
		tenants: tenants,
		logger:  logger,
	}
	s.srv = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      s.Handler(),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
	return s
}

// Handler assembles the full route tree with logging, and tracing when
// enabled. Exposed for httptest.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/query", s.handleQuery)
	mux.HandleFunc("/v1/intents", s.handleIntents)
	mux.HandleFunc("/v1/schema/check", s.handleSchemaCheck)
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.Handle("/metrics", promhttp.Handler())

	var handler http.Handler = mux
	handler = middleware.LoggingMiddleware(s.logger)(handler)

	if s.obs.MetricsEnabled || s.obs.TracingEnabled {
		handler = otelhttp.NewHandler(handler, "http.server",
			otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
				return rootSpanName(r)
			}),
			otelhttp.WithMessageEvents(otelhttp.ReadEvents, otelhttp.WriteEvents),
		)
	}

	return handler
}

func rootSpanName(r *http.Request) string {
	if r == nil {
		return "HTTP /*"
	}
	method := strings.TrimSpace(r.Method)
	if method == "" {
		method = "HTTP"
	}
	return method + " " + normalizeSpanRoute(r.URL.Path)
}

func normalizeSpanRoute(rawPath string) string {
	switch rawPath {
	case "/v1/query", "/v1/intents", "/v1/schema/check", "/healthz", "/metrics":
		return rawPath
	default:
		return "/*"
	}
}

// Start launches the listener and returns a channel carrying its terminal
// error, if any.
func (s *Server) Start() <-chan error {
	serverErrors := make(chan error, 1)
	go func() {
		s.logger.Info("server starting",
			slog.String("address", s.srv.Addr),
			slog.String("query_endpoint", "/v1/query"),
			slog.String("health_endpoint", "/healthz"),
			slog.String("metrics_endpoint", "/metrics"),
		)
		if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErrors <- fmt.Errorf("server failed: %w", err)
		}
	}()
	return serverErrors
}

// Shutdown drains in-flight requests until ctx expires.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
