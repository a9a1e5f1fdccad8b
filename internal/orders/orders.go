// Package orders implements order commit for the trading platform.
//
// An order touches two services' state: the user's cash balance (user
// service) and their holdings (here). Commit serializes all balance-touching
// work per subject with the distributed lock "user:<subject>", then performs
// the debit or credit through the user service's internal ledger endpoints
// while holding the lock. A failure after the debit is compensated with a
// matching credit, and the order row records the failure.
package orders

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/openmarkets/tradegate/internal/idgen"
	"github.com/openmarkets/tradegate/internal/locks"
	"github.com/openmarkets/tradegate/internal/logging"
	"github.com/openmarkets/tradegate/internal/metrics"
	"github.com/openmarkets/tradegate/internal/traces"
)

var (
	ErrAssetNotFound     = errors.New("orders: asset not found")
	ErrAssetNotTradable  = errors.New("orders: asset not tradable")
	ErrInsufficientFunds = errors.New("orders: insufficient funds")
	ErrInsufficientQty   = errors.New("orders: insufficient holdings")
	ErrTotalTooLarge     = errors.New("orders: total exceeds ceiling")
	ErrNotFound          = errors.New("orders: order not found")
)

// Order sides.
const (
	SideBuy  = "buy"
	SideSell = "sell"
)

// Order statuses.
const (
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// Order is one committed (or failed) trade.
type Order struct {
	ID        string          `json:"id"`
	Subject   string          `json:"subject"`
	AssetID   string          `json:"asset_id"`
	Side      string          `json:"side"`
	Quantity  decimal.Decimal `json:"quantity"`
	Price     decimal.Decimal `json:"price"`
	Total     decimal.Decimal `json:"total"`
	Status    string          `json:"status"`
	Reason    string          `json:"reason,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

// Holding is a subject's position in one asset.
type Holding struct {
	Subject   string          `json:"subject"`
	AssetID   string          `json:"asset_id"`
	Quantity  decimal.Decimal `json:"quantity"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// Store persists orders and holdings.
type Store interface {
	CreateOrder(ctx context.Context, o *Order) error
	GetOrder(ctx context.Context, subject, id string) (*Order, error)
	ListOrders(ctx context.Context, subject string, limit int) ([]*Order, error)

	GetHolding(ctx context.Context, subject, assetID string) (*Holding, error)
	// AdjustHolding adds delta to the subject's position, creating it if
	// needed. Returns ErrInsufficientQty without side effects when the
	// position would go negative.
	AdjustHolding(ctx context.Context, subject, assetID string, delta decimal.Decimal) (*Holding, error)
	ListHoldings(ctx context.Context, subject string) ([]*Holding, error)
}

// LedgerClient moves cash through the user service's internal endpoints.
// Both calls are made while the subject lock is held.
type LedgerClient interface {
	Debit(ctx context.Context, subject string, amount decimal.Decimal, orderID string) error
	Credit(ctx context.Context, subject string, amount decimal.Decimal, orderID string) error
}

// CatalogAsset is the slice of an inventory asset that order commit needs.
type CatalogAsset struct {
	ID       string          `json:"id"`
	Price    decimal.Decimal `json:"price"`
	Tradable bool            `json:"tradable"`
}

// CatalogClient reads assets from the inventory service.
type CatalogClient interface {
	GetAsset(ctx context.Context, id string) (*CatalogAsset, error)
}

// CommitRequest is a validated order submission.
type CommitRequest struct {
	Subject  string
	AssetID  string
	Side     string
	Quantity decimal.Decimal
}

// Service commits orders.
type Service struct {
	store    Store
	ledger   LedgerClient
	catalog  CatalogClient
	locks    *locks.Manager
	lockTTL  time.Duration
	lockWait time.Duration
	ceiling  decimal.Decimal // zero disables the check
}

// NewService creates an order service. ceiling caps a single order's total;
// zero disables the cap.
func NewService(store Store, ledger LedgerClient, catalog CatalogClient, lm *locks.Manager,
	lockTTL, lockWait time.Duration, ceiling decimal.Decimal) *Service {
	return &Service{
		store: store, ledger: ledger, catalog: catalog, locks: lm,
		lockTTL: lockTTL, lockWait: lockWait, ceiling: ceiling,
	}
}

// Commit validates, locks, and executes an order. Business failures
// (insufficient funds or holdings) are recorded as failed orders and
// returned with the order row; infrastructure failures return only an error.
func (s *Service) Commit(ctx context.Context, req CommitRequest) (*Order, error) {
	ctx, span := traces.StartSpan(ctx, "orders.commit",
		traces.Subject(req.Subject), traces.AssetID(req.AssetID))
	defer span.End()

	asset, err := s.catalog.GetAsset(ctx, req.AssetID)
	if err != nil {
		return nil, err
	}
	if !asset.Tradable {
		return nil, ErrAssetNotTradable
	}

	total := asset.Price.Mul(req.Quantity)
	if !s.ceiling.IsZero() && total.GreaterThan(s.ceiling) {
		return nil, ErrTotalTooLarge
	}

	order := &Order{
		ID:       idgen.WithPrefix("ord_"),
		Subject:  req.Subject,
		AssetID:  req.AssetID,
		Side:     req.Side,
		Quantity: req.Quantity,
		Price:    asset.Price,
		Total:    total,
	}

	lock, err := s.locks.Acquire(ctx, "user:"+req.Subject, s.lockTTL, s.lockWait)
	if err != nil {
		return nil, err
	}
	defer lock.Release(ctx)

	switch req.Side {
	case SideBuy:
		err = s.commitBuy(ctx, order)
	case SideSell:
		err = s.commitSell(ctx, order)
	default:
		return nil, fmt.Errorf("orders: unknown side %q", req.Side)
	}

	if err != nil && order.Status == "" {
		// Infrastructure failure before any state changed.
		return nil, err
	}
	metrics.OrdersTotal.WithLabelValues(order.Side, order.Status).Inc()
	return order, err
}

// commitBuy debits cash, then records the position and the order. A failure
// after the debit credits the cash back and records the order as failed.
func (s *Service) commitBuy(ctx context.Context, o *Order) error {
	if err := s.ledger.Debit(ctx, o.Subject, o.Total, o.ID); err != nil {
		if errors.Is(err, ErrInsufficientFunds) {
			s.recordFailed(ctx, o, "insufficient funds")
			return ErrInsufficientFunds
		}
		return err
	}

	if _, err := s.store.AdjustHolding(ctx, o.Subject, o.AssetID, o.Quantity); err != nil {
		s.compensate(ctx, o)
		s.recordFailed(ctx, o, "holding update failed")
		return err
	}

	o.Status = StatusCompleted
	if err := s.store.CreateOrder(ctx, o); err != nil {
		// Holdings and cash moved but the order row is gone; undo both.
		if _, herr := s.store.AdjustHolding(ctx, o.Subject, o.AssetID, o.Quantity.Neg()); herr != nil {
			logging.L(ctx).Error("holding rollback failed", "order", o.ID, "error", herr)
		}
		s.compensate(ctx, o)
		return err
	}
	return nil
}

// commitSell releases the position first, then credits the proceeds. A
// credit failure restores the position and records the order as failed.
func (s *Service) commitSell(ctx context.Context, o *Order) error {
	if _, err := s.store.AdjustHolding(ctx, o.Subject, o.AssetID, o.Quantity.Neg()); err != nil {
		if errors.Is(err, ErrInsufficientQty) {
			s.recordFailed(ctx, o, "insufficient holdings")
			return ErrInsufficientQty
		}
		return err
	}

	if err := s.ledger.Credit(ctx, o.Subject, o.Total, o.ID); err != nil {
		if _, herr := s.store.AdjustHolding(ctx, o.Subject, o.AssetID, o.Quantity); herr != nil {
			logging.L(ctx).Error("holding rollback failed", "order", o.ID, "error", herr)
		}
		s.recordFailed(ctx, o, "credit failed")
		return err
	}

	o.Status = StatusCompleted
	if err := s.store.CreateOrder(ctx, o); err != nil {
		logging.L(ctx).Error("order record failed after completed sell", "order", o.ID, "error", err)
		return err
	}
	return nil
}

// compensate credits back a buy debit.
func (s *Service) compensate(ctx context.Context, o *Order) {
	if err := s.ledger.Credit(ctx, o.Subject, o.Total, o.ID); err != nil {
		logging.L(ctx).Error("compensating credit failed, balance needs reconciliation",
			"order", o.ID, "subject", o.Subject, "amount", o.Total.String(), "error", err)
	}
}

// recordFailed writes the failed order row. Best effort: the commit outcome
// is already decided.
func (s *Service) recordFailed(ctx context.Context, o *Order, reason string) {
	o.Status = StatusFailed
	o.Reason = reason
	if err := s.store.CreateOrder(ctx, o); err != nil {
		logging.L(ctx).Error("failed-order record failed", "order", o.ID, "error", err)
	}
}

// Get returns one of the subject's orders.
func (s *Service) Get(ctx context.Context, subject, id string) (*Order, error) {
	return s.store.GetOrder(ctx, subject, id)
}

// List returns the subject's orders, newest first.
func (s *Service) List(ctx context.Context, subject string, limit int) ([]*Order, error) {
	if limit <= 0 {
		limit = 50
	}
	return s.store.ListOrders(ctx, subject, limit)
}

// Portfolio returns the subject's holdings.
func (s *Service) Portfolio(ctx context.Context, subject string) ([]*Holding, error) {
	return s.store.ListHoldings(ctx, subject)
}
