// Package metrics provides Prometheus instrumentation for the platform.
package metrics

import (
	"context"
	"database/sql"
	"runtime"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tradegate",
			Name:      "http_requests_total",
			Help:      "Total HTTP requests by method, path pattern, and status code.",
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestDuration observes request latency by method and path.
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "tradegate",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// ProxyUpstreamDuration observes downstream call latency per service.
	ProxyUpstreamDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "tradegate",
			Name:      "proxy_upstream_duration_seconds",
			Help:      "Latency of proxied downstream calls per service.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"downstream"},
	)

	// ProxyErrorsTotal counts proxy-level failures per service and kind.
	ProxyErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tradegate",
			Name:      "proxy_errors_total",
			Help:      "Proxy failures by downstream and kind (timeout, connect, upstream_5xx).",
		},
		[]string{"downstream", "kind"},
	)

	// ProxyCacheTotal counts response-cache hits and misses.
	ProxyCacheTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tradegate",
			Name:      "proxy_cache_total",
			Help:      "Response cache lookups by result (hit, miss).",
		},
		[]string{"result"},
	)

	// RateLimitRejectionsTotal counts 429s by rate class.
	RateLimitRejectionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tradegate",
			Name:      "ratelimit_rejections_total",
			Help:      "Requests rejected by the rate limiter, per class.",
		},
		[]string{"class"},
	)

	// IPBlocksTotal counts addresses blocked by the login guard.
	IPBlocksTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "tradegate",
		Name:      "ip_blocks_total",
		Help:      "Source addresses blocked after repeated login failures.",
	})

	// IPBlockedRequestsTotal counts requests short-circuited by a block.
	IPBlockedRequestsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "tradegate",
		Name:      "ip_blocked_requests_total",
		Help:      "Requests rejected because the source address is blocked.",
	})

	// LockWaitDuration observes distributed lock acquisition waits.
	LockWaitDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "tradegate",
		Name:      "lock_wait_duration_seconds",
		Help:      "Time spent waiting to acquire a distributed lock.",
		Buckets:   []float64{.001, .005, .01, .05, .1, .25, .5, 1, 2.5, 5},
	})

	// LockTimeoutsTotal counts lock waits exhausted before acquisition.
	LockTimeoutsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "tradegate",
		Name:      "lock_timeouts_total",
		Help:      "Lock acquisitions abandoned after wait_max.",
	})

	// LedgerTransactionsTotal counts ledger writes by kind and status.
	LedgerTransactionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tradegate",
			Name:      "ledger_transactions_total",
			Help:      "Ledger transactions by kind and final status.",
		},
		[]string{"kind", "status"},
	)

	// OrdersTotal counts order commits by side and final status.
	OrdersTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tradegate",
			Name:      "orders_total",
			Help:      "Orders committed by side and final status.",
		},
		[]string{"side", "status"},
	)

	// DB pool gauges, sampled by StartDBStatsCollector.
	DBOpenConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "tradegate", Name: "db_open_connections",
		Help: "Number of open database connections.",
	})
	DBIdleConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "tradegate", Name: "db_idle_connections",
		Help: "Number of idle database connections.",
	})
	DBInUseConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "tradegate", Name: "db_in_use_connections",
		Help: "Number of in-use database connections.",
	})
	GoroutineCount = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "tradegate", Name: "goroutines",
		Help: "Current number of goroutines.",
	})
)

func init() {
	prometheus.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		ProxyUpstreamDuration,
		ProxyErrorsTotal,
		ProxyCacheTotal,
		RateLimitRejectionsTotal,
		IPBlocksTotal,
		IPBlockedRequestsTotal,
		LockWaitDuration,
		LockTimeoutsTotal,
		LedgerTransactionsTotal,
		OrdersTotal,
		DBOpenConnections,
		DBIdleConnections,
		DBInUseConnections,
		GoroutineCount,
	)
}

// StartDBStatsCollector periodically samples sql.DBStats and runtime
// goroutine count into Prometheus gauges. Call in a goroutine; exits when
// ctx is done.
func StartDBStatsCollector(ctx context.Context, db *sql.DB, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stats := db.Stats()
			DBOpenConnections.Set(float64(stats.OpenConnections))
			DBIdleConnections.Set(float64(stats.Idle))
			DBInUseConnections.Set(float64(stats.InUse))
			GoroutineCount.Set(float64(runtime.NumGoroutine()))
		}
	}
}

// Middleware returns a gin middleware that records request metrics.
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		timer := prometheus.NewTimer(HTTPRequestDuration.WithLabelValues(
			c.Request.Method,
			c.FullPath(), // route pattern, not raw path (avoids cardinality explosion)
		))

		c.Next()

		timer.ObserveDuration()
		HTTPRequestsTotal.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			statusBucket(c.Writer.Status()),
		).Inc()
	}
}

// Handler returns the Prometheus metrics HTTP handler for /metrics.
func Handler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}

// statusBucket groups HTTP status codes into buckets (2xx, 3xx, 4xx, 5xx).
func statusBucket(code int) string {
	switch {
	case code < 200:
		return "1xx"
	case code < 300:
		return "2xx"
	case code < 400:
		return "3xx"
	case code < 500:
		return "4xx"
	default:
		return "5xx"
	}
}
