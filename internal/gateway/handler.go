package gateway

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/openmarkets/tradegate/internal/httperr"
	"github.com/openmarkets/tradegate/internal/proxy"
	"github.com/openmarkets/tradegate/internal/ratelimit"
	"github.com/openmarkets/tradegate/internal/routes"
	"github.com/openmarkets/tradegate/internal/token"
)

// handleAPI is the proxy pipeline for every non-local path: route lookup,
// authentication, authorization, rate limiting, then forwarding.
func (s *Server) handleAPI(c *gin.Context) {
	match := s.table.Lookup(c.Request.Method, c.Request.URL.Path)
	if match == nil {
		httperr.NotFound("no such route").Abort(c)
		return
	}
	route := match.Route

	id, ok := s.authenticate(c, match)
	if !ok {
		return
	}

	class := route.RateClass
	if class == "" {
		class = routes.ClassDefault
	}
	actor := ratelimit.Actor(c, id.Subject)
	res, err := s.limiter.Allow(c.Request.Context(), class, actor)
	if err != nil {
		ratelimit.LogFailOpen(c.Request.Context(), class, err)
	}
	ratelimit.ApplyHeaders(c, res)
	if !res.Allowed {
		httperr.RateLimited("request budget exhausted, retry after reset").Abort(c)
		return
	}

	s.fwd.Forward(c, match, proxy.Identity{Subject: id.Subject, Role: string(id.Role)})

	// A rejected login counts against the source address.
	if route.LoginPath && c.Writer.Status() == http.StatusUnauthorized {
		s.ipGuard.RecordFailure(c.Request.Context(), c.ClientIP())
	}
}

// authenticate verifies the bearer token when the route demands it and
// enforces role and ownership rules. The returned identity is zero for
// anonymous access. ok=false means a response has been written.
func (s *Server) authenticate(c *gin.Context, match *routes.Match) (token.Identity, bool) {
	route := match.Route
	bearer := bearerToken(c)

	if !route.AuthRequired {
		// Public route. A valid token still attributes the request to its
		// subject for rate limiting; a bad one is ignored.
		if bearer != "" {
			if id, err := s.verifier.Verify(c.Request.Context(), bearer); err == nil {
				return *id, true
			}
		}
		return token.Identity{}, true
	}

	if bearer == "" {
		httperr.AuthMissing("authorization header required").Abort(c)
		return token.Identity{}, false
	}

	id, err := s.verifier.Verify(c.Request.Context(), bearer)
	if err != nil {
		switch {
		case errors.Is(err, token.ErrExpired):
			httperr.AuthExpired("token expired").Abort(c)
		case errors.Is(err, token.ErrRevoked):
			httperr.AuthRevoked("token revoked").Abort(c)
		default:
			httperr.AuthInvalid("token invalid").Abort(c)
		}
		return token.Identity{}, false
	}

	if !route.AllowsRole(id.Role) {
		httperr.Forbidden("insufficient role").Abort(c)
		return token.Identity{}, false
	}

	if route.OwnerParam != "" {
		owner := match.Params[route.OwnerParam]
		if owner != id.Subject && !id.Role.AtLeast(token.RoleAdmin) {
			httperr.Forbidden("resource belongs to another subject").Abort(c)
			return token.Identity{}, false
		}
	}

	return *id, true
}

func bearerToken(c *gin.Context) string {
	h := c.GetHeader("Authorization")
	if h == "" {
		return ""
	}
	parts := strings.SplitN(h, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
