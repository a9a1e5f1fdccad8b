// Tradegate user service - accounts, authentication, and the balance ledger.
package main

import (
	"context"
	"os"
	"time"

	"github.com/openmarkets/tradegate/internal/config"
	"github.com/openmarkets/tradegate/internal/coordstore"
	"github.com/openmarkets/tradegate/internal/db"
	"github.com/openmarkets/tradegate/internal/health"
	"github.com/openmarkets/tradegate/internal/ledger"
	"github.com/openmarkets/tradegate/internal/locks"
	"github.com/openmarkets/tradegate/internal/logging"
	"github.com/openmarkets/tradegate/internal/metrics"
	"github.com/openmarkets/tradegate/internal/service"
	"github.com/openmarkets/tradegate/internal/token"
	"github.com/openmarkets/tradegate/internal/users"
)

func main() {
	logger := logging.New("info", "text")

	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	srv := service.New("userd", cfg, service.WithLogger(logger))

	// Coordination store: shared with the gateway so token revocations and
	// user locks are visible platform-wide.
	var store coordstore.Store
	if cfg.RedisURL != "" {
		store, err = coordstore.NewRedisStore(cfg.RedisURL)
		if err != nil {
			logger.Error("failed to connect to redis", "error", err)
			os.Exit(1)
		}
		logger.Info("using redis coordination store")
	} else {
		store = coordstore.NewMemoryStore()
		logger.Info("using in-memory coordination store (single instance only)")
	}
	srv.Health().Register("coordstore", health.PingChecker("coordstore", store.Ping))
	srv.OnShutdown(store.Close)

	var userStore users.Store
	var ledgerStore ledger.Store
	if cfg.DatabaseURL != "" {
		pool, err := db.Open(cfg.DatabaseURL)
		if err != nil {
			logger.Error("failed to open database", "error", err)
			os.Exit(1)
		}
		logger.Info("using PostgreSQL storage", "url", db.MaskDSN(cfg.DatabaseURL))
		userStore = users.NewPostgresStore(pool)
		ledgerStore = ledger.NewPostgresStore(pool)
		srv.Health().Register("postgres", health.PingChecker("postgres", pool.PingContext))
		srv.OnShutdown(pool.Close)
		metrics.StartDBStatsCollector(context.Background(), pool, 15*time.Second)
	} else {
		userStore = users.NewMemoryStore()
		ledgerStore = ledger.NewMemoryStore()
		logger.Info("using in-memory storage")
	}

	lockMgr := locks.NewManager(store)
	issuer := token.NewIssuer(cfg.TokenSigningKey, cfg.TokenTTL)
	verifier := token.NewVerifier(cfg.TokenSigningKey, store)

	userSvc := users.NewService(userStore, issuer, verifier)
	ledgerSvc := ledger.NewService(ledgerStore, lockMgr, cfg.LockTTL, cfg.LockWaitMax)

	api := srv.API()
	users.NewHandler(userSvc, logger).RegisterRoutes(api)
	ledgerHandler := ledger.NewHandler(ledgerSvc, logger)
	ledgerHandler.RegisterRoutes(api)
	ledgerHandler.RegisterInternalRoutes(srv.Internal())

	if err := srv.Run(); err != nil {
		logger.Error("service error", "error", err)
		os.Exit(1)
	}
}
