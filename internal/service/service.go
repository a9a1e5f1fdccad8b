// Package service is the shared HTTP host for the downstream services
// (users, inventory, orders). Each service mounts its handlers on a common
// gin engine that carries request IDs, logging, metrics, and health checks.
// The gateway terminates client auth; these servers trust the identity
// headers it injects.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/openmarkets/tradegate/internal/config"
	"github.com/openmarkets/tradegate/internal/health"
	"github.com/openmarkets/tradegate/internal/httperr"
	"github.com/openmarkets/tradegate/internal/idgen"
	"github.com/openmarkets/tradegate/internal/logging"
	"github.com/openmarkets/tradegate/internal/metrics"
	"github.com/openmarkets/tradegate/internal/traces"
	"github.com/openmarkets/tradegate/internal/validation"
)

// Server hosts one downstream service.
type Server struct {
	name    string
	cfg     *config.Config
	router  *gin.Engine
	httpSrv *http.Server
	logger  *slog.Logger
	healthz *health.Registry

	shutdownTraces func(context.Context) error
	closers        []func() error

	ready   atomic.Bool
	healthy atomic.Bool
}

// Option configures the server.
type Option func(*Server)

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) { s.logger = logger }
}

// New creates a service host named name.
func New(name string, cfg *config.Config, opts ...Option) *Server {
	s := &Server{
		name:    name,
		cfg:     cfg,
		logger:  logging.New(cfg.LogLevel, "json"),
		healthz: health.NewRegistry(),
	}
	for _, opt := range opts {
		opt(s)
	}

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	s.router = gin.New()
	s.setupMiddleware()

	s.router.GET("/health", s.healthHandler)
	s.router.GET("/health/live", s.livenessHandler)
	s.router.GET("/health/ready", s.readinessHandler)
	s.router.GET("/metrics", metrics.Handler())

	s.healthy.Store(true)
	return s
}

// Health is the registry services register their dependencies on.
func (s *Server) Health() *health.Registry { return s.healthz }

// Logger returns the server's logger.
func (s *Server) Logger() *slog.Logger { return s.logger }

// API returns the /api/v1 route group.
func (s *Server) API() *gin.RouterGroup { return s.router.Group("/api/v1") }

// Internal returns the /internal/v1 route group, for service-to-service
// endpoints that must never be exposed through the gateway.
func (s *Server) Internal() *gin.RouterGroup { return s.router.Group("/internal/v1") }

// Router exposes the gin engine for tests.
func (s *Server) Router() http.Handler { return s.router }

// OnShutdown registers a closer invoked after the listener drains.
func (s *Server) OnShutdown(fn func() error) {
	s.closers = append(s.closers, fn)
}

func (s *Server) setupMiddleware() {
	s.router.Use(gin.CustomRecovery(func(c *gin.Context, recovered interface{}) {
		logging.L(c.Request.Context()).Error("panic recovered",
			"error", recovered,
			"path", c.Request.URL.Path,
		)
		httperr.Internal().Abort(c)
	}))

	s.router.Use(s.requestIDMiddleware())
	s.router.Use(s.loggingMiddleware())
	s.router.Use(metrics.Middleware())
	s.router.Use(validation.RequestSizeMiddleware(validation.MaxRequestSize))
}

// requestIDMiddleware propagates the gateway's request ID, or mints one for
// direct calls.
func (s *Server) requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = idgen.Hex(8)
		}

		ctx := logging.WithRequestID(c.Request.Context(), requestID)
		ctx = logging.WithLogger(ctx, s.logger)
		c.Request = c.Request.WithContext(ctx)

		c.Header("X-Request-ID", requestID)
		c.Next()
	}
}

func (s *Server) loggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		latency := time.Since(start)
		status := c.Writer.Status()
		logger := logging.L(c.Request.Context())

		switch {
		case status >= 500:
			logger.Error("request completed",
				"method", c.Request.Method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
			)
		case status >= 400:
			logger.Warn("request completed",
				"method", c.Request.Method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
			)
		default:
			logger.Info("request completed",
				"method", c.Request.Method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
			)
		}
	}
}

func (s *Server) healthHandler(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	healthy, statuses := s.healthz.CheckAll(ctx)

	status := http.StatusOK
	if !healthy || !s.healthy.Load() {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, gin.H{
		"healthy":    healthy && s.healthy.Load(),
		"service":    s.name,
		"subsystems": statuses,
	})
}

func (s *Server) livenessHandler(c *gin.Context) {
	if !s.healthy.Load() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"alive": false})
		return
	}
	c.JSON(http.StatusOK, gin.H{"alive": true})
}

func (s *Server) readinessHandler(c *gin.Context) {
	if !s.ready.Load() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"ready": false})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ready": true})
}

// Run starts the service and blocks until SIGINT/SIGTERM, then drains.
func (s *Server) Run() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shutdownTraces, err := traces.Init(ctx, "tradegate-"+s.name, s.cfg.OTLPEndpoint, s.logger)
	if err != nil {
		return fmt.Errorf("tracing: %w", err)
	}
	s.shutdownTraces = shutdownTraces

	s.httpSrv = &http.Server{
		Addr:              ":" + s.cfg.Port,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("service listening", "service", s.name, "port", s.cfg.Port, "env", s.cfg.Env)
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()
	s.ready.Store(true)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-quit:
		s.logger.Info("shutting down", "service", s.name, "signal", sig.String())
	}

	s.ready.Store(false)
	s.healthy.Store(false)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()

	if err := s.httpSrv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	if s.shutdownTraces != nil {
		if err := s.shutdownTraces(shutdownCtx); err != nil {
			s.logger.Warn("trace shutdown failed", "error", err)
		}
	}
	for _, closer := range s.closers {
		if err := closer(); err != nil {
			s.logger.Warn("closer failed", "error", err)
		}
	}
	s.logger.Info("service stopped", "service", s.name)
	return nil
}
