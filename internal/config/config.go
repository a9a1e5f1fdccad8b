// Package config handles application configuration from environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the gateway and services.
type Config struct {
	// Server settings
	Port     string
	Env      string // "development", "staging", "production"
	LogLevel string

	// Storage
	DatabaseURL string // PostgreSQL connection string (optional, uses in-memory if not set)
	RedisURL    string // Coordination store (optional, uses in-memory if not set)

	// Token signing
	TokenSigningKey string
	TokenTTL        time.Duration

	// Downstream service URLs (gateway only)
	UserServiceURL      string
	InventoryServiceURL string
	OrderServiceURL     string

	// Rate limiting
	GatewayRateLimit int           // default class, requests per window
	AuthRateLimit    int           // auth class (login/register)
	OrderRateLimit   int           // order mutation class
	RateWindow       time.Duration // fixed window length

	// IP blocking
	BlockThreshold int           // failed logins before block
	BlockTTL       time.Duration // block + failure-counter TTL

	// Circuit breakers
	BreakerThreshold      int           // consecutive failures to trip
	BreakerFailureWindow  time.Duration // window the failures must fall in
	BreakerCooldown       time.Duration // open duration before probing
	BreakerProbes         int           // probes allowed while half-open

	// Distributed locks
	LockTTL     time.Duration
	LockWaitMax time.Duration

	// Order limits
	OrderTotalCeiling string // max order total, decimal string

	// CORS
	AllowedOrigins []string

	// Observability
	OTLPEndpoint string

	// Operator API
	AdminSecret string
}

// Defaults.
const (
	DefaultPort             = "8080"
	DefaultEnv              = "development"
	DefaultLogLevel         = "info"
	DefaultGatewayRateLimit = 10000
	DefaultAuthRateLimit    = 30
	DefaultOrderRateLimit   = 120
	DefaultBlockThreshold   = 5
	DefaultBreakerThreshold = 5
	DefaultBreakerProbes    = 3
	DefaultOrderCeiling     = "1000000"
)

// Load reads configuration from environment variables.
// It loads a .env file if present (for local development).
func Load() (*Config, error) {
	_ = godotenv.Load()

	env := getEnv("ENV", DefaultEnv)

	// Block TTL: 24h in production, 5m in development unless overridden.
	defaultBlockTTL := 24 * time.Hour
	if env == "development" {
		defaultBlockTTL = 5 * time.Minute
	}

	cfg := &Config{
		Port:     getEnv("PORT", DefaultPort),
		Env:      env,
		LogLevel: getEnv("LOG_LEVEL", DefaultLogLevel),

		DatabaseURL: os.Getenv("DATABASE_URL"),
		RedisURL:    os.Getenv("REDIS_URL"),

		TokenSigningKey: os.Getenv("TOKEN_SIGNING_KEY"),
		TokenTTL:        getEnvDuration("TOKEN_TTL", 24*time.Hour),

		UserServiceURL:      getEnv("USER_SERVICE_URL", "http://localhost:8081"),
		InventoryServiceURL: getEnv("INVENTORY_SERVICE_URL", "http://localhost:8082"),
		OrderServiceURL:     getEnv("ORDER_SERVICE_URL", "http://localhost:8083"),

		GatewayRateLimit: getEnvInt("GATEWAY_RATE_LIMIT", DefaultGatewayRateLimit),
		AuthRateLimit:    getEnvInt("AUTH_RATE_LIMIT", DefaultAuthRateLimit),
		OrderRateLimit:   getEnvInt("ORDER_RATE_LIMIT", DefaultOrderRateLimit),
		RateWindow:       getEnvDuration("RATE_WINDOW", time.Minute),

		BlockThreshold: getEnvInt("IP_BLOCK_THRESHOLD", DefaultBlockThreshold),
		BlockTTL:       getEnvDuration("IP_BLOCK_TTL", defaultBlockTTL),

		BreakerThreshold:     getEnvInt("BREAKER_THRESHOLD", DefaultBreakerThreshold),
		BreakerFailureWindow: getEnvDuration("BREAKER_FAILURE_WINDOW", time.Minute),
		BreakerCooldown:      getEnvDuration("BREAKER_COOLDOWN", 60*time.Second),
		BreakerProbes:        getEnvInt("BREAKER_PROBES", DefaultBreakerProbes),

		LockTTL:     getEnvDuration("LOCK_TTL", 30*time.Second),
		LockWaitMax: getEnvDuration("LOCK_WAIT_MAX", 5*time.Second),

		OrderTotalCeiling: getEnv("ORDER_TOTAL_CEILING", DefaultOrderCeiling),

		AllowedOrigins: splitList(os.Getenv("CORS_ALLOWED_ORIGINS")),

		OTLPEndpoint: os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		AdminSecret:  os.Getenv("ADMIN_SECRET"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that required configuration is present and sane.
func (c *Config) Validate() error {
	if c.TokenSigningKey == "" {
		return fmt.Errorf("TOKEN_SIGNING_KEY is required")
	}
	if len(c.TokenSigningKey) < 32 {
		return fmt.Errorf("TOKEN_SIGNING_KEY must be at least 32 bytes")
	}
	if c.GatewayRateLimit <= 0 {
		return fmt.Errorf("GATEWAY_RATE_LIMIT must be positive")
	}
	if c.BlockThreshold <= 0 {
		return fmt.Errorf("IP_BLOCK_THRESHOLD must be positive")
	}
	if c.LockTTL <= 0 || c.LockWaitMax <= 0 {
		return fmt.Errorf("LOCK_TTL and LOCK_WAIT_MAX must be positive")
	}
	for name, u := range map[string]string{
		"USER_SERVICE_URL":      c.UserServiceURL,
		"INVENTORY_SERVICE_URL": c.InventoryServiceURL,
		"ORDER_SERVICE_URL":     c.OrderServiceURL,
	} {
		if !strings.HasPrefix(u, "http://") && !strings.HasPrefix(u, "https://") {
			return fmt.Errorf("%s must be an http(s) URL", name)
		}
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// IsProduction returns true if running in production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func splitList(value string) []string {
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
