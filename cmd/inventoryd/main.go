// Tradegate inventory service - the tradable asset catalog.
package main

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/shopspring/decimal"

	"github.com/openmarkets/tradegate/internal/config"
	"github.com/openmarkets/tradegate/internal/db"
	"github.com/openmarkets/tradegate/internal/health"
	"github.com/openmarkets/tradegate/internal/inventory"
	"github.com/openmarkets/tradegate/internal/logging"
	"github.com/openmarkets/tradegate/internal/metrics"
	"github.com/openmarkets/tradegate/internal/service"
)

func main() {
	logger := logging.New("info", "text")

	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	srv := service.New("inventoryd", cfg, service.WithLogger(logger))

	var store inventory.Store
	if cfg.DatabaseURL != "" {
		pool, err := db.Open(cfg.DatabaseURL)
		if err != nil {
			logger.Error("failed to open database", "error", err)
			os.Exit(1)
		}
		logger.Info("using PostgreSQL storage", "url", db.MaskDSN(cfg.DatabaseURL))
		store = inventory.NewPostgresStore(pool)
		srv.Health().Register("postgres", health.PingChecker("postgres", pool.PingContext))
		srv.OnShutdown(pool.Close)
		metrics.StartDBStatsCollector(context.Background(), pool, 15*time.Second)
	} else {
		mem := inventory.NewMemoryStore()
		seed(mem, logger)
		store = mem
		logger.Info("using in-memory storage with seed catalog")
	}

	svc := inventory.NewService(store)
	inventory.NewHandler(svc, logger).RegisterRoutes(srv.API())

	if err := srv.Run(); err != nil {
		logger.Error("service error", "error", err)
		os.Exit(1)
	}
}

// seed fills the in-memory catalog so a dev stack has something to trade.
func seed(store *inventory.MemoryStore, logger *slog.Logger) {
	assets := []inventory.Asset{
		{ID: "btc", Symbol: "BTC", Name: "Bitcoin", Category: "crypto", Price: decimal.RequireFromString("65000"), Tradable: true},
		{ID: "eth", Symbol: "ETH", Name: "Ethereum", Category: "crypto", Price: decimal.RequireFromString("3200"), Tradable: true},
		{ID: "aapl", Symbol: "AAPL", Name: "Apple Inc.", Category: "equity", Price: decimal.RequireFromString("225.50"), Tradable: true},
		{ID: "tsla", Symbol: "TSLA", Name: "Tesla Inc.", Category: "equity", Price: decimal.RequireFromString("248.75"), Tradable: true},
		{ID: "gold", Symbol: "XAU", Name: "Gold (oz)", Category: "commodity", Price: decimal.RequireFromString("2510"), Tradable: false},
	}
	ctx := context.Background()
	for _, a := range assets {
		if err := store.Upsert(ctx, &a); err == nil {
			logger.Info("seeded asset", "id", a.ID)
		}
	}
}
