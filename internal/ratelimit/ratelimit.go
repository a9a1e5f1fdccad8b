// Package ratelimit implements fixed-window request limiting on top of the
// coordination store. Budgets are per rate class; the counting key combines
// the class with the caller's subject (authenticated) or source address
// (anonymous), so windows never bleed across callers or classes.
package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/openmarkets/tradegate/internal/coordstore"
	"github.com/openmarkets/tradegate/internal/logging"
	"github.com/openmarkets/tradegate/internal/metrics"
)

// Budget is one class's allowance per window.
type Budget struct {
	Limit  int
	Window time.Duration
}

// Result is the outcome of a limiter check. Limit, Remaining, and Reset are
// surfaced as X-RateLimit-* headers on every response, allowed or not.
type Result struct {
	Allowed   bool
	Limit     int
	Remaining int
	// Reset is the remaining window duration, rounded up to whole seconds.
	Reset time.Duration
}

// Limiter checks request budgets against the coordination store.
type Limiter struct {
	store   coordstore.Store
	budgets map[string]Budget
	def     Budget
}

// New creates a limiter. def applies to classes without an explicit budget.
func New(store coordstore.Store, def Budget, budgets map[string]Budget) *Limiter {
	return &Limiter{store: store, budgets: budgets, def: def}
}

// Budget returns the budget for class.
func (l *Limiter) Budget(class string) Budget {
	if b, ok := l.budgets[class]; ok {
		return b
	}
	return l.def
}

// Allow counts one request for (class, actor) and reports whether it fits the
// window. A store error fails open: the request is admitted and the error is
// returned so the caller can log it.
func (l *Limiter) Allow(ctx context.Context, class, actor string) (Result, error) {
	b := l.Budget(class)
	key := fmt.Sprintf("%s%s:%s", coordstore.PrefixRateLimit, class, actor)

	count, remaining, err := l.store.IncrWindow(ctx, key, b.Window)
	if err != nil {
		return Result{Allowed: true, Limit: b.Limit, Remaining: b.Limit, Reset: b.Window}, err
	}

	res := Result{
		Allowed:   count <= int64(b.Limit),
		Limit:     b.Limit,
		Remaining: b.Limit - int(count),
		Reset:     remaining,
	}
	if res.Remaining < 0 {
		res.Remaining = 0
	}
	if !res.Allowed {
		metrics.RateLimitRejectionsTotal.WithLabelValues(class).Inc()
	}
	return res, nil
}

// ApplyHeaders writes the X-RateLimit-* headers for res onto the response.
func ApplyHeaders(c *gin.Context, res Result) {
	c.Header("X-RateLimit-Limit", strconv.Itoa(res.Limit))
	c.Header("X-RateLimit-Remaining", strconv.Itoa(res.Remaining))
	c.Header("X-RateLimit-Reset", strconv.FormatInt(resetSeconds(res.Reset), 10))
}

// resetSeconds rounds the remaining window up to whole seconds, never below 1
// for a live window.
func resetSeconds(d time.Duration) int64 {
	if d <= 0 {
		return 0
	}
	s := int64((d + time.Second - 1) / time.Second)
	if s < 1 {
		s = 1
	}
	return s
}

// Actor derives the counting identity for a request: the verified subject
// when present, otherwise the client address.
func Actor(c *gin.Context, subject string) string {
	if subject != "" {
		return "sub:" + subject
	}
	return "ip:" + c.ClientIP()
}

// LogFailOpen records a store error that caused a fail-open admission.
func LogFailOpen(ctx context.Context, class string, err error) {
	logging.L(ctx).Warn("rate limiter store unavailable, admitting request",
		"class", class, "error", err)
}
