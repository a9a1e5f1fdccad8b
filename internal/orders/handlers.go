package orders

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"github.com/openmarkets/tradegate/internal/httperr"
	"github.com/openmarkets/tradegate/internal/identity"
	"github.com/openmarkets/tradegate/internal/locks"
	"github.com/openmarkets/tradegate/internal/token"
	"github.com/openmarkets/tradegate/internal/validation"
)

// Handler provides the order service's endpoints.
type Handler struct {
	svc    *Service
	logger *slog.Logger
}

// NewHandler creates an order handler.
func NewHandler(svc *Service, logger *slog.Logger) *Handler {
	return &Handler{svc: svc, logger: logger}
}

// RegisterRoutes mounts the order routes. All of them require a
// gateway-verified identity.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.Use(identity.Required())
	r.POST("/orders", h.Commit)
	r.GET("/orders", h.List)
	r.GET("/orders/:id", h.Get)
	r.GET("/portfolio/:subject", h.Portfolio)
}

type commitRequest struct {
	AssetID  string `json:"asset_id"`
	Side     string `json:"side"`
	Quantity string `json:"quantity"`
}

// Commit handles POST /orders.
func (h *Handler) Commit(c *gin.Context) {
	var req commitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httperr.Validation("Malformed request body", nil).Abort(c)
		return
	}
	if errs := validation.Validate(
		validation.Required("asset_id", req.AssetID),
		validation.Required("side", req.Side),
		validation.OneOf("side", req.Side, SideBuy, SideSell),
		validation.Required("quantity", req.Quantity),
		validation.PositiveDecimal("quantity", req.Quantity),
	); len(errs) > 0 {
		httperr.Validation("Invalid request", errs).Abort(c)
		return
	}

	qty, _ := decimal.NewFromString(req.Quantity)
	order, err := h.svc.Commit(c.Request.Context(), CommitRequest{
		Subject:  identity.Subject(c),
		AssetID:  req.AssetID,
		Side:     req.Side,
		Quantity: qty,
	})
	if err != nil {
		h.writeCommitError(c, err)
		return
	}
	c.JSON(http.StatusCreated, order)
}

func (h *Handler) writeCommitError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ErrAssetNotFound):
		httperr.Validation("Unknown asset", []httperr.FieldError{
			{Field: "asset_id", Message: "does not exist"},
		}).Abort(c)
	case errors.Is(err, ErrAssetNotTradable):
		httperr.Validation("Asset is not tradable", []httperr.FieldError{
			{Field: "asset_id", Message: "is not tradable"},
		}).Abort(c)
	case errors.Is(err, ErrTotalTooLarge):
		httperr.Validation("Order total exceeds the per-order ceiling", []httperr.FieldError{
			{Field: "quantity", Message: "makes the order total too large"},
		}).Abort(c)
	case errors.Is(err, ErrInsufficientFunds):
		httperr.InsufficientFunds("Balance does not cover the order total").Abort(c)
	case errors.Is(err, ErrInsufficientQty):
		httperr.Validation("Holdings do not cover the requested quantity", []httperr.FieldError{
			{Field: "quantity", Message: "exceeds current holdings"},
		}).Abort(c)
	case errors.Is(err, locks.ErrTimeout):
		httperr.LockContention("Account is busy, retry shortly").Abort(c)
	default:
		h.logger.Error("order commit failed", "error", err)
		httperr.Internal().Abort(c)
	}
}

// List handles GET /orders.
func (h *Handler) List(c *gin.Context) {
	limit := 50
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > 200 {
			httperr.Validation("Invalid query parameter", []httperr.FieldError{
				{Field: "limit", Message: "must be an integer between 1 and 200", Value: raw},
			}).Abort(c)
			return
		}
		limit = n
	}

	orders, err := h.svc.List(c.Request.Context(), identity.Subject(c), limit)
	if err != nil {
		h.logger.Error("order list failed", "error", err)
		httperr.Internal().Abort(c)
		return
	}
	if orders == nil {
		orders = []*Order{}
	}
	c.JSON(http.StatusOK, gin.H{"orders": orders})
}

// Get handles GET /orders/:id.
func (h *Handler) Get(c *gin.Context) {
	order, err := h.svc.Get(c.Request.Context(), identity.Subject(c), c.Param("id"))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			httperr.NotFound("Order does not exist").Abort(c)
			return
		}
		h.logger.Error("order read failed", "error", err)
		httperr.Internal().Abort(c)
		return
	}
	c.JSON(http.StatusOK, order)
}

// Portfolio handles GET /portfolio/:subject. The gateway enforces that only
// the owner or an admin reaches this route; the service re-checks anyway.
func (h *Handler) Portfolio(c *gin.Context) {
	subject := c.Param("subject")
	caller := identity.Subject(c)
	if caller != subject && !token.Role(identity.Role(c)).AtLeast(token.RoleAdmin) {
		httperr.Forbidden("Portfolio belongs to another account").Abort(c)
		return
	}

	holdings, err := h.svc.Portfolio(c.Request.Context(), subject)
	if err != nil {
		h.logger.Error("portfolio read failed", "error", err)
		httperr.Internal().Abort(c)
		return
	}
	if holdings == nil {
		holdings = []*Holding{}
	}
	c.JSON(http.StatusOK, gin.H{"subject": subject, "holdings": holdings})
}
