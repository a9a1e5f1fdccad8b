// Package inventory serves the tradable asset catalog. The catalog is
// read-mostly: the gateway caches list and detail responses, and the order
// service reads asset prices at commit time.
package inventory

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// ErrNotFound is returned for unknown asset IDs.
var ErrNotFound = errors.New("inventory: asset not found")

// Asset is one tradable instrument.
type Asset struct {
	ID        string          `json:"id"`
	Symbol    string          `json:"symbol"`
	Name      string          `json:"name"`
	Category  string          `json:"category"`
	Price     decimal.Decimal `json:"price"`
	Tradable  bool            `json:"tradable"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// Store persists the asset catalog.
type Store interface {
	List(ctx context.Context, category string) ([]*Asset, error)
	Get(ctx context.Context, id string) (*Asset, error)
	Upsert(ctx context.Context, a *Asset) error
}

// Service wraps the catalog store.
type Service struct {
	store Store
}

// NewService creates an inventory service.
func NewService(store Store) *Service {
	return &Service{store: store}
}

// List returns assets, optionally filtered by category.
func (s *Service) List(ctx context.Context, category string) ([]*Asset, error) {
	return s.store.List(ctx, category)
}

// Get returns one asset by ID.
func (s *Service) Get(ctx context.Context, id string) (*Asset, error) {
	return s.store.Get(ctx, id)
}

// Upsert creates or replaces an asset. Admin operation.
func (s *Service) Upsert(ctx context.Context, a *Asset) error {
	a.UpdatedAt = time.Now()
	return s.store.Upsert(ctx, a)
}
