package ledger

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"github.com/openmarkets/tradegate/internal/httperr"
	"github.com/openmarkets/tradegate/internal/identity"
	"github.com/openmarkets/tradegate/internal/locks"
	"github.com/openmarkets/tradegate/internal/pagination"
	"github.com/openmarkets/tradegate/internal/validation"
)

// Handler provides the user service's balance endpoints.
type Handler struct {
	svc    *Service
	logger *slog.Logger
}

// NewHandler creates a ledger handler.
func NewHandler(svc *Service, logger *slog.Logger) *Handler {
	return &Handler{svc: svc, logger: logger}
}

// RegisterRoutes mounts the client-facing balance routes. All of them
// require a gateway-verified identity.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/balance", identity.Required(), h.GetBalance)
	r.POST("/balance/deposit", identity.Required(), h.Deposit)
	r.POST("/balance/withdraw", identity.Required(), h.Withdraw)
	r.GET("/balance/transactions", identity.Required(), h.ListTransactions)
}

// RegisterInternalRoutes mounts the service-to-service ledger routes used by
// the order service while it holds the subject lock.
func (h *Handler) RegisterInternalRoutes(r *gin.RouterGroup) {
	r.POST("/ledger/debit", h.OrderDebit)
	r.POST("/ledger/credit", h.OrderCredit)
}

// GetBalance handles GET /balance.
func (h *Handler) GetBalance(c *gin.Context) {
	acct, err := h.svc.Balance(c.Request.Context(), identity.Subject(c))
	if err != nil {
		h.logger.Error("balance read failed", "error", err)
		httperr.Internal().Abort(c)
		return
	}
	c.JSON(http.StatusOK, acct)
}

type moveRequest struct {
	Amount    string `json:"amount"`
	Reference string `json:"reference"`
}

// Deposit handles POST /balance/deposit.
func (h *Handler) Deposit(c *gin.Context) {
	h.move(c, h.svc.Deposit)
}

// Withdraw handles POST /balance/withdraw.
func (h *Handler) Withdraw(c *gin.Context) {
	h.move(c, h.svc.Withdraw)
}

func (h *Handler) move(c *gin.Context, op func(ctx context.Context, subject string, amount decimal.Decimal, reference string) (*Transaction, error)) {
	var req moveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httperr.Validation("Malformed request body", nil).Abort(c)
		return
	}
	if errs := validation.Validate(
		validation.Required("amount", req.Amount),
		validation.PositiveDecimal("amount", req.Amount),
		validation.MaxLength("reference", req.Reference, 255),
	); len(errs) > 0 {
		httperr.Validation("Invalid request", errs).Abort(c)
		return
	}

	amount, _ := decimal.NewFromString(req.Amount)
	txn, err := op(c.Request.Context(), identity.Subject(c), amount, req.Reference)
	if err != nil {
		h.writeMoveError(c, err)
		return
	}
	c.JSON(http.StatusCreated, txn)
}

// ListTransactions handles GET /balance/transactions with cursor pagination.
func (h *Handler) ListTransactions(c *gin.Context) {
	subject := identity.Subject(c)

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

	cursor, err := pagination.Decode(c.Query("cursor"))
	if err != nil {
		httperr.Validation("Invalid query parameter", []httperr.FieldError{
			{Field: "cursor", Message: "is not a valid cursor"},
		}).Abort(c)
		return
	}
	var before time.Time
	var beforeID string
	if cursor != nil {
		before, beforeID = cursor.CreatedAt, cursor.ID
	}

	txns, err := h.svc.Transactions(c.Request.Context(), subject, limit+1, before, beforeID)
	if err != nil {
		h.logger.Error("transaction list failed", "error", err)
		httperr.Internal().Abort(c)
		return
	}

	page, next, more := pagination.ComputePage(txns, limit, func(t *Transaction) (time.Time, string) {
		return t.CreatedAt, t.ID
	})
	if page == nil {
		page = []*Transaction{}
	}
	c.JSON(http.StatusOK, gin.H{
		"transactions": page,
		"next_cursor":  next,
		"has_more":     more,
	})
}

type internalMoveRequest struct {
	Subject string `json:"subject"`
	Amount  string `json:"amount"`
	OrderID string `json:"order_id"`
}

// OrderDebit handles POST /internal/v1/ledger/debit.
func (h *Handler) OrderDebit(c *gin.Context) {
	h.internalMove(c, h.svc.OrderDebit)
}

// OrderCredit handles POST /internal/v1/ledger/credit.
func (h *Handler) OrderCredit(c *gin.Context) {
	h.internalMove(c, h.svc.OrderCredit)
}

func (h *Handler) internalMove(c *gin.Context, op func(ctx context.Context, subject string, amount decimal.Decimal, orderID string) (*Transaction, error)) {
	var req internalMoveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httperr.Validation("Malformed request body", nil).Abort(c)
		return
	}
	if errs := validation.Validate(
		validation.Required("subject", req.Subject),
		validation.Required("amount", req.Amount),
		validation.PositiveDecimal("amount", req.Amount),
		validation.Required("order_id", req.OrderID),
	); len(errs) > 0 {
		httperr.Validation("Invalid request", errs).Abort(c)
		return
	}

	amount, _ := decimal.NewFromString(req.Amount)
	txn, err := op(c.Request.Context(), req.Subject, amount, req.OrderID)
	if err != nil {
		h.writeMoveError(c, err)
		return
	}
	c.JSON(http.StatusOK, txn)
}

func (h *Handler) writeMoveError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ErrInsufficientFunds):
		httperr.InsufficientFunds("Balance does not cover the requested amount").Abort(c)
	case errors.Is(err, ErrInvalidAmount):
		httperr.Validation("Amount must be greater than zero", nil).Abort(c)
	case errors.Is(err, locks.ErrTimeout):
		httperr.LockContention("Account is busy, retry shortly").Abort(c)
	default:
		h.logger.Error("ledger operation failed", "error", err)
		httperr.Internal().Abort(c)
	}
}
