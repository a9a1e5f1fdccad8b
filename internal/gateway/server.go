// Package gateway implements the platform's edge: one process that
// authenticates, rate-limits, and routes every client request to the user,
// inventory, and order services.
package gateway

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

	"github.com/openmarkets/tradegate/internal/circuitbreaker"
	"github.com/openmarkets/tradegate/internal/config"
	"github.com/openmarkets/tradegate/internal/coordstore"
	"github.com/openmarkets/tradegate/internal/health"
	"github.com/openmarkets/tradegate/internal/httperr"
	"github.com/openmarkets/tradegate/internal/idgen"
	"github.com/openmarkets/tradegate/internal/ipblock"
	"github.com/openmarkets/tradegate/internal/logging"
	"github.com/openmarkets/tradegate/internal/metrics"
	"github.com/openmarkets/tradegate/internal/proxy"
	"github.com/openmarkets/tradegate/internal/ratelimit"
	"github.com/openmarkets/tradegate/internal/routes"
	"github.com/openmarkets/tradegate/internal/security"
	"github.com/openmarkets/tradegate/internal/token"
	"github.com/openmarkets/tradegate/internal/traces"
	"github.com/openmarkets/tradegate/internal/validation"
)

// Server is the API gateway.
type Server struct {
	cfg      *config.Config
	store    coordstore.Store
	verifier *token.Verifier
	limiter  *ratelimit.Limiter
	ipGuard  *ipblock.Guard
	breaker  *circuitbreaker.Breaker
	fwd      *proxy.Forwarder
	table    *routes.Table
	healthz  *health.Registry

	router  *gin.Engine
	httpSrv *http.Server
	logger  *slog.Logger

	shutdownTraces func(context.Context) error

	ready   atomic.Bool
	healthy atomic.Bool
}

// Option configures the server.
type Option func(*Server)

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) { s.logger = logger }
}

// WithStore injects a coordination store (for testing).
func WithStore(store coordstore.Store) Option {
	return func(s *Server) { s.store = store }
}

// WithRouteTable overrides the default route table.
func WithRouteTable(table *routes.Table) Option {
	return func(s *Server) { s.table = table }
}

// New creates a gateway server.
func New(cfg *config.Config, opts ...Option) (*Server, error) {
	s := &Server{
		cfg:     cfg,
		logger:  logging.New(cfg.LogLevel, "json"),
		table:   routes.DefaultTable(),
		healthz: health.NewRegistry(),
	}
	for _, opt := range opts {
		opt(s)
	}

	if s.store == nil {
		if cfg.RedisURL != "" {
			store, err := coordstore.NewRedisStore(cfg.RedisURL)
			if err != nil {
				return nil, fmt.Errorf("coordination store: %w", err)
			}
			s.store = store
			s.logger.Info("using redis coordination store")
		} else {
			s.store = coordstore.NewMemoryStore()
			s.logger.Info("using in-memory coordination store (single instance only)")
		}
	}

	s.verifier = token.NewVerifier(cfg.TokenSigningKey, s.store)
	s.ipGuard = ipblock.New(s.store, cfg.BlockThreshold, cfg.BlockTTL)
	s.limiter = ratelimit.New(s.store,
		ratelimit.Budget{Limit: cfg.GatewayRateLimit, Window: cfg.RateWindow},
		map[string]ratelimit.Budget{
			routes.ClassAuth:  {Limit: cfg.AuthRateLimit, Window: cfg.RateWindow},
			routes.ClassOrder: {Limit: cfg.OrderRateLimit, Window: cfg.RateWindow},
		})

	s.breaker = circuitbreaker.New(circuitbreaker.Settings{
		Threshold:     cfg.BreakerThreshold,
		FailureWindow: cfg.BreakerFailureWindow,
		Cooldown:      cfg.BreakerCooldown,
		Probes:        cfg.BreakerProbes,
	})
	s.breaker.OnTransition(func(downstream string, from, to circuitbreaker.State) {
		s.logger.Warn("circuit breaker transition",
			"downstream", downstream, "from", from.String(), "to", to.String())
	})

	fwd, err := proxy.New(map[string]string{
		routes.DownstreamUser:      cfg.UserServiceURL,
		routes.DownstreamInventory: cfg.InventoryServiceURL,
		routes.DownstreamOrder:     cfg.OrderServiceURL,
	}, s.breaker, s.store)
	if err != nil {
		return nil, err
	}
	s.fwd = fwd

	s.healthz.Register("coordstore", health.PingChecker("coordstore", s.store.Ping))

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	s.router = gin.New()
	s.setupMiddleware()
	s.setupRoutes()

	s.healthy.Store(true)
	return s, nil
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
	s.router.Use(security.HeadersMiddleware())
	s.router.Use(security.CORSMiddleware(s.cfg.AllowedOrigins))
	s.router.Use(validation.RequestSizeMiddleware(validation.MaxRequestSize))

	// The block guard runs before routing so blocked addresses cannot reach
	// any path.
	s.router.Use(s.ipGuard.Middleware())
}

func (s *Server) setupRoutes() {
	s.router.GET("/health", s.healthHandler)
	s.router.GET("/health/live", s.livenessHandler)
	s.router.GET("/health/ready", s.readinessHandler)
	s.router.GET("/metrics", metrics.Handler())

	if s.cfg.AdminSecret != "" {
		ops := s.router.Group("/ops", s.adminAuth())
		ops.DELETE("/ip-blocks/:addr", s.clearIPBlockHandler)
		ops.GET("/breakers", s.breakersHandler)
	}

	// Everything else goes through the table.
	s.router.NoRoute(s.handleAPI)
}

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
				"client_ip", c.ClientIP(),
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

	breakers := make(map[string]string)
	for name, state := range s.breaker.Snapshot() {
		breakers[name] = state.String()
	}

	status := http.StatusOK
	if !healthy || !s.healthy.Load() {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, gin.H{
		"healthy":    healthy && s.healthy.Load(),
		"subsystems": statuses,
		"breakers":   breakers,
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

// Router exposes the gin engine for tests.
func (s *Server) Router() http.Handler { return s.router }

// Run starts the gateway and blocks until SIGINT/SIGTERM, then drains.
func (s *Server) Run() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shutdownTraces, err := traces.Init(ctx, "tradegate-gateway", s.cfg.OTLPEndpoint, s.logger)
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
		s.logger.Info("gateway listening", "port", s.cfg.Port, "env", s.cfg.Env)
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
		s.logger.Info("shutting down", "signal", sig.String())
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
	if err := s.store.Close(); err != nil {
		s.logger.Warn("coordination store close failed", "error", err)
	}
	s.logger.Info("gateway stopped")
	return nil
}
