// Package http serves the public status view, health probes and metrics.
package http

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/vigilis/sentinel/internal/config"
	"github.com/vigilis/sentinel/internal/infra/http/handler"
	"github.com/vigilis/sentinel/internal/infra/http/middleware"
	"github.com/vigilis/sentinel/pkg/logger"
)

// Handlers are the endpoints mounted by the server. Metrics may be nil.
type Handlers struct {
	Status  *handler.StatusHandler
	Health  *handler.HealthHandler
	Metrics http.Handler
}

// Server is the status HTTP server.
type Server struct {
	httpServer   *http.Server
	router       Router
	config       *config.ServerConfig
	logger       *logger.Logger
	cleanupFuncs []func()
}

// NewServer builds the server with its middleware stack and routes.
func NewServer(cfg *config.Config, h Handlers, log *logger.Logger) *Server {
	log = log.With("component", "http_server")
	s := &Server{
		router: NewChiRouter(),
		config: &cfg.Server,
		logger: log,
	}

	rateLimitMw, rateLimitStop := middleware.RateLimitWithStop(middleware.RateLimitConfig{
		RequestsPerSec: cfg.Server.RateLimitRPS,
		Burst:          cfg.Server.RateLimitBurst,
	}, log)
	s.cleanupFuncs = append(s.cleanupFuncs, rateLimitStop)

	// Order matters: recovery first, metrics see the final status code.
	s.router.Use(
		middleware.Recovery(log, cfg.IsProduction()),
		middleware.RequestID(),
		middleware.Metrics(),
		middleware.Logger(log, middleware.DefaultLoggerConfig()),
		middleware.SecurityHeaders(middleware.SecurityHeadersConfig{HSTSEnabled: cfg.IsProduction()}),
		rateLimitMw,
		middleware.Timeout(cfg.Server.RequestTimeout),
	)

	RegisterRoutes(s.router, h)

	s.httpServer = &http.Server{
		Addr:              cfg.Server.Addr(),
		Handler:           s.router.Handler(),
		ReadTimeout:       cfg.Server.ReadTimeout,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       time.Minute,
	}
	return s
}

// RegisterRoutes mounts every endpoint on r.
func RegisterRoutes(r Router, h Handlers) {
	r.NotFound(handler.NotFound)
	r.MethodNotAllowed(handler.MethodNotAllowed)

	if h.Health != nil {
		r.GET("/health", h.Health.Health)
		r.GET("/ready", h.Health.Ready)
	}
	if h.Metrics != nil {
		r.Handle("/metrics", h.Metrics)
	}
	if h.Status != nil {
		r.Group("/api/v1", func(api Router) {
			api.GET("/status", h.Status.Status)
			api.GET("/status/summary", h.Status.Summary)
		})
	}
}

// Router returns the router.
func (s *Server) Router() Router {
	return s.router
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start listens and serves until Shutdown.
func (s *Server) Start() error {
	s.logger.Info("starting HTTP server", "addr", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("failed to start server: %w", err)
	}
	return nil
}

// Serve serves on an existing listener until Shutdown.
func (s *Server) Serve(ln net.Listener) error {
	s.logger.Info("starting HTTP server", "addr", ln.Addr().String())
	if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("failed to serve: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")
	for _, cleanup := range s.cleanupFuncs {
		cleanup()
	}
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown server: %w", err)
	}
	s.logger.Info("HTTP server stopped")
	return nil
}
