package orders

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// MemoryStore implements Store in memory.
type MemoryStore struct {
	mu       sync.RWMutex
	orders   []*Order
	holdings map[string]*Holding // key: subject + "/" + assetID
}

// NewMemoryStore creates an empty in-memory order store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{holdings: make(map[string]*Holding)}
}

func (m *MemoryStore) CreateOrder(_ context.Context, o *Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *o
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now()
		o.CreatedAt = cp.CreatedAt
	}
	m.orders = append(m.orders, &cp)
	return nil
}

func (m *MemoryStore) GetOrder(_ context.Context, subject, id string) (*Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, o := range m.orders {
		if o.ID == id && o.Subject == subject {
			cp := *o
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (m *MemoryStore) ListOrders(_ context.Context, subject string, limit int) ([]*Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*Order
	for _, o := range m.orders {
		if o.Subject == subject {
			cp := *o
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryStore) GetHolding(_ context.Context, subject, assetID string) (*Holding, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	h, ok := m.holdings[subject+"/"+assetID]
	if !ok {
		return &Holding{Subject: subject, AssetID: assetID, Quantity: decimal.Zero, UpdatedAt: time.Now()}, nil
	}
	cp := *h
	return &cp, nil
}

func (m *MemoryStore) AdjustHolding(_ context.Context, subject, assetID string, delta decimal.Decimal) (*Holding, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := subject + "/" + assetID
	h, ok := m.holdings[key]
	if !ok {
		h = &Holding{Subject: subject, AssetID: assetID, Quantity: decimal.Zero}
		m.holdings[key] = h
	}
	next := h.Quantity.Add(delta)
	if next.IsNegative() {
		return nil, ErrInsufficientQty
	}
	h.Quantity = next
	h.UpdatedAt = time.Now()
	cp := *h
	return &cp, nil
}

func (m *MemoryStore) ListHoldings(_ context.Context, subject string) ([]*Holding, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*Holding
	for _, h := range m.holdings {
		if h.Subject == subject && !h.Quantity.IsZero() {
			cp := *h
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AssetID < out[j].AssetID })
	return out, nil
}
