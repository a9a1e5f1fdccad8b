// Package identity reads the caller identity that the gateway injects on
// proxied requests. Downstream services trust these headers because the
// gateway strips them from client traffic before forwarding.
package identity

import (
	"github.com/gin-gonic/gin"

	"github.com/openmarkets/tradegate/internal/httperr"
)

// Headers set by the gateway.
const (
	HeaderSubject = "X-User-Subject"
	HeaderRole    = "X-User-Role"
)

// Subject returns the verified caller subject, or "" for anonymous traffic.
func Subject(c *gin.Context) string {
	return c.GetHeader(HeaderSubject)
}

// Role returns the verified caller role, or "" for anonymous traffic.
func Role(c *gin.Context) string {
	return c.GetHeader(HeaderRole)
}

// Required aborts with 401 when no subject header is present. Used on
// service routes that must only be reachable through the gateway's
// authenticated paths.
func Required() gin.HandlerFunc {
	return func(c *gin.Context) {
		if Subject(c) == "" {
			httperr.AuthMissing("Missing caller identity").Abort(c)
			return
		}
		c.Next()
	}
}
