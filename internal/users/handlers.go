package users

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/openmarkets/tradegate/internal/httperr"
	"github.com/openmarkets/tradegate/internal/identity"
	"github.com/openmarkets/tradegate/internal/validation"
)

// Handler provides the user service's auth endpoints.
type Handler struct {
	svc    *Service
	logger *slog.Logger
}

// NewHandler creates an auth handler.
func NewHandler(svc *Service, logger *slog.Logger) *Handler {
	return &Handler{svc: svc, logger: logger}
}

// RegisterRoutes mounts the auth routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/auth/register", h.Register)
	r.POST("/auth/login", h.Login)
	r.POST("/auth/logout", h.Logout)
	r.GET("/auth/me", identity.Required(), h.Me)
}

type registerRequest struct {
	Subject  string `json:"subject"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Register handles POST /auth/register.
func (h *Handler) Register(c *gin.Context) {
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httperr.Validation("Malformed request body", nil).Abort(c)
		return
	}
	if errs := validation.Validate(
		validation.Required("subject", req.Subject),
		validation.ValidSubject("subject", req.Subject),
		validation.Required("email", req.Email),
		validation.MaxLength("email", req.Email, 255),
		validation.Required("password", req.Password),
		validation.MinLength("password", req.Password, 8),
		validation.MaxLength("password", req.Password, 72), // bcrypt input cap
	); len(errs) > 0 {
		httperr.Validation("Invalid request", errs).Abort(c)
		return
	}

	u, err := h.svc.Register(c.Request.Context(), req.Subject, req.Email, req.Password)
	if err != nil {
		if errors.Is(err, ErrSubjectTaken) {
			httperr.Conflict("Subject is already registered").Abort(c)
			return
		}
		h.logger.Error("registration failed", "error", err)
		httperr.Internal().Abort(c)
		return
	}
	c.JSON(http.StatusCreated, u)
}

type loginRequest struct {
	Subject  string `json:"subject"`
	Password string `json:"password"`
}

// Login handles POST /auth/login. Bad credentials return 401; the gateway
// counts those per source address.
func (h *Handler) Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httperr.Validation("Malformed request body", nil).Abort(c)
		return
	}
	if errs := validation.Validate(
		validation.Required("subject", req.Subject),
		validation.Required("password", req.Password),
	); len(errs) > 0 {
		httperr.Validation("Invalid request", errs).Abort(c)
		return
	}

	bearer, u, expiresAt, err := h.svc.Login(c.Request.Context(), req.Subject, req.Password)
	if err != nil {
		if errors.Is(err, ErrInvalidCredentials) {
			httperr.AuthInvalid("Invalid subject or password").Abort(c)
			return
		}
		h.logger.Error("login failed", "error", err)
		httperr.Internal().Abort(c)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"token":      bearer,
		"expires_at": expiresAt,
		"user":       u,
	})
}

// Logout handles POST /auth/logout. The bearer token to revoke travels in
// the Authorization header, forwarded as-is by the gateway.
func (h *Handler) Logout(c *gin.Context) {
	bearer := bearerFrom(c.GetHeader("Authorization"))
	if bearer == "" {
		httperr.AuthMissing("Missing bearer token").Abort(c)
		return
	}
	if err := h.svc.Logout(c.Request.Context(), bearer); err != nil {
		h.logger.Error("logout failed", "error", err)
		httperr.Internal().Abort(c)
		return
	}
	c.JSON(http.StatusOK, gin.H{"revoked": true})
}

// Me handles GET /auth/me.
func (h *Handler) Me(c *gin.Context) {
	u, err := h.svc.Get(c.Request.Context(), identity.Subject(c))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			httperr.NotFound("Account does not exist").Abort(c)
			return
		}
		h.logger.Error("account read failed", "error", err)
		httperr.Internal().Abort(c)
		return
	}
	c.JSON(http.StatusOK, u)
}

func bearerFrom(header string) string {
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return ""
	}
	return strings.TrimSpace(header[len(prefix):])
}
