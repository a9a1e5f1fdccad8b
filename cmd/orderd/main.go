// Tradegate order service - order commits against the catalog and ledger.
package main

import (
	"context"
	"os"
	"time"

	"github.com/shopspring/decimal"

	"github.com/openmarkets/tradegate/internal/config"
	"github.com/openmarkets/tradegate/internal/coordstore"
	"github.com/openmarkets/tradegate/internal/db"
	"github.com/openmarkets/tradegate/internal/health"
	"github.com/openmarkets/tradegate/internal/locks"
	"github.com/openmarkets/tradegate/internal/logging"
	"github.com/openmarkets/tradegate/internal/metrics"
	"github.com/openmarkets/tradegate/internal/orders"
	"github.com/openmarkets/tradegate/internal/service"
)

func main() {
	logger := logging.New("info", "text")

	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	ceiling, err := decimal.NewFromString(cfg.OrderTotalCeiling)
	if err != nil {
		logger.Error("invalid ORDER_TOTAL_CEILING", "value", cfg.OrderTotalCeiling, "error", err)
		os.Exit(1)
	}

	srv := service.New("orderd", cfg, service.WithLogger(logger))

	// The coordination store must be the same one userd uses: order commits
	// take the per-user lock that deposits and withdrawals contend on.
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
		logger.Warn("using in-memory coordination store; cross-service locks will not hold")
	}
	srv.Health().Register("coordstore", health.PingChecker("coordstore", store.Ping))
	srv.OnShutdown(store.Close)

	var orderStore orders.Store
	if cfg.DatabaseURL != "" {
		pool, err := db.Open(cfg.DatabaseURL)
		if err != nil {
			logger.Error("failed to open database", "error", err)
			os.Exit(1)
		}
		logger.Info("using PostgreSQL storage", "url", db.MaskDSN(cfg.DatabaseURL))
		orderStore = orders.NewPostgresStore(pool)
		srv.Health().Register("postgres", health.PingChecker("postgres", pool.PingContext))
		srv.OnShutdown(pool.Close)
		metrics.StartDBStatsCollector(context.Background(), pool, 15*time.Second)
	} else {
		orderStore = orders.NewMemoryStore()
		logger.Info("using in-memory storage")
	}

	ledgerClient := orders.NewHTTPLedgerClient(cfg.UserServiceURL)
	catalogClient := orders.NewHTTPCatalogClient(cfg.InventoryServiceURL)
	lockMgr := locks.NewManager(store)

	svc := orders.NewService(orderStore, ledgerClient, catalogClient, lockMgr,
		cfg.LockTTL, cfg.LockWaitMax, ceiling)
	orders.NewHandler(svc, logger).RegisterRoutes(srv.API())

	if err := srv.Run(); err != nil {
		logger.Error("service error", "error", err)
		os.Exit(1)
	}
}
