// Package ipblock guards the platform against credential stuffing: repeated
// login failures from one source address place the address on a temporary
// denylist, and every request from a listed address is rejected before
// routing.
package ipblock

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/openmarkets/tradegate/internal/coordstore"
	"github.com/openmarkets/tradegate/internal/httperr"
	"github.com/openmarkets/tradegate/internal/logging"
	"github.com/openmarkets/tradegate/internal/metrics"
)

// Guard tracks login failures per source address and blocks offenders.
type Guard struct {
	store     coordstore.Store
	threshold int
	blockTTL  time.Duration
}

// New creates a guard. threshold is the failure count that triggers a block;
// blockTTL bounds both the failure-counting window and the block itself.
func New(store coordstore.Store, threshold int, blockTTL time.Duration) *Guard {
	return &Guard{store: store, threshold: threshold, blockTTL: blockTTL}
}

// Blocked reports whether addr is currently blocked. A store error fails
// open: blocking is protection, not a correctness guarantee.
func (g *Guard) Blocked(ctx context.Context, addr string) bool {
	ok, err := g.store.Exists(ctx, coordstore.PrefixIPBlock+addr)
	if err != nil {
		logging.L(ctx).Warn("ip block lookup failed, admitting request",
			"addr", addr, "error", err)
		return false
	}
	return ok
}

// RecordFailure counts one login failure for addr. When the count inside the
// window reaches the threshold, the address is blocked for blockTTL.
func (g *Guard) RecordFailure(ctx context.Context, addr string) {
	count, _, err := g.store.IncrWindow(ctx, coordstore.PrefixLoginFail+addr, g.blockTTL)
	if err != nil {
		logging.L(ctx).Warn("login failure count failed", "addr", addr, "error", err)
		return
	}
	if count < int64(g.threshold) {
		return
	}
	if err := g.store.Set(ctx, coordstore.PrefixIPBlock+addr, "1", g.blockTTL); err != nil {
		logging.L(ctx).Warn("ip block write failed", "addr", addr, "error", err)
		return
	}
	metrics.IPBlocksTotal.Inc()
	logging.L(ctx).Warn("source address blocked after repeated login failures",
		"addr", addr, "failures", count, "ttl", g.blockTTL)
}

// Clear lifts the block and the failure count for addr. Admin operation.
func (g *Guard) Clear(ctx context.Context, addr string) error {
	return g.store.Delete(ctx,
		coordstore.PrefixIPBlock+addr,
		coordstore.PrefixLoginFail+addr,
	)
}

// Middleware rejects requests from blocked addresses. Runs before routing so
// a blocked caller cannot reach any path, known or unknown.
func (g *Guard) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		addr := c.ClientIP()
		if g.Blocked(c.Request.Context(), addr) {
			metrics.IPBlockedRequestsTotal.Inc()
			httperr.IPBlocked("Source address is temporarily blocked").Abort(c)
			return
		}
		c.Next()
	}
}
