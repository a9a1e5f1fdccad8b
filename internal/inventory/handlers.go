package inventory

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/openmarkets/tradegate/internal/httperr"
)

// Handler provides the inventory service's catalog endpoints.
type Handler struct {
	svc    *Service
	logger *slog.Logger
}

// NewHandler creates an inventory handler.
func NewHandler(svc *Service, logger *slog.Logger) *Handler {
	return &Handler{svc: svc, logger: logger}
}

// RegisterRoutes mounts the catalog routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/inventory/assets", h.List)
	r.GET("/inventory/assets/:id", h.Get)
}

// List handles GET /inventory/assets with an optional category filter.
func (h *Handler) List(c *gin.Context) {
	assets, err := h.svc.List(c.Request.Context(), c.Query("category"))
	if err != nil {
		h.logger.Error("asset list failed", "error", err)
		httperr.Internal().Abort(c)
		return
	}
	if assets == nil {
		assets = []*Asset{}
	}
	c.JSON(http.StatusOK, gin.H{"assets": assets})
}

// Get handles GET /inventory/assets/:id.
func (h *Handler) Get(c *gin.Context) {
	a, err := h.svc.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			httperr.NotFound("Asset does not exist").Abort(c)
			return
		}
		h.logger.Error("asset read failed", "error", err)
		httperr.Internal().Abort(c)
		return
	}
	c.JSON(http.StatusOK, a)
}
