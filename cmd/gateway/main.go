// Tradegate API gateway - the platform edge.
package main

import (
	"os"

	"github.com/openmarkets/tradegate/internal/config"
	"github.com/openmarkets/tradegate/internal/gateway"
	"github.com/openmarkets/tradegate/internal/logging"
)

// Build info - set by ldflags
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	logger := logging.New("info", "text")

	logger.Info("starting tradegate gateway",
		"version", Version,
		"commit", Commit,
		"build_time", BuildTime,
	)

	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger.Info("configuration loaded",
		"env", cfg.Env,
		"user_service", cfg.UserServiceURL,
		"inventory_service", cfg.InventoryServiceURL,
		"order_service", cfg.OrderServiceURL,
	)

	srv, err := gateway.New(cfg, gateway.WithLogger(logger))
	if err != nil {
		logger.Error("failed to create gateway", "error", err)
		os.Exit(1)
	}

	if err := srv.Run(); err != nil {
		logger.Error("gateway error", "error", err)
		os.Exit(1)
	}
}
