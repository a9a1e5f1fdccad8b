package gateway

import (
	"crypto/subtle"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/openmarkets/tradegate/internal/httperr"
	"github.com/openmarkets/tradegate/internal/logging"
)

// Operator endpoints. Registered only when ADMIN_SECRET is configured.

func (s *Server) adminAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		secret := c.GetHeader("X-Admin-Secret")
		if subtle.ConstantTimeCompare([]byte(secret), []byte(s.cfg.AdminSecret)) != 1 {
			httperr.Forbidden("operator credentials required").Abort(c)
			return
		}
		c.Next()
	}
}

// clearIPBlockHandler lifts a block and resets the failure counter. Both keys
// go together so the next failure starts a fresh count.
func (s *Server) clearIPBlockHandler(c *gin.Context) {
	addr := c.Param("addr")
	if err := s.ipGuard.Clear(c.Request.Context(), addr); err != nil {
		logging.L(c.Request.Context()).Error("clearing ip block", "addr", addr, "error", err)
		httperr.Internal().Abort(c)
		return
	}
	logging.L(c.Request.Context()).Info("ip block cleared", "addr", addr)
	c.JSON(http.StatusOK, gin.H{"cleared": addr})
}

// breakersHandler reports per-downstream circuit state.
func (s *Server) breakersHandler(c *gin.Context) {
	states := make(map[string]string)
	for name, state := range s.breaker.Snapshot() {
		states[name] = state.String()
	}
	c.JSON(http.StatusOK, gin.H{"breakers": states})
}
