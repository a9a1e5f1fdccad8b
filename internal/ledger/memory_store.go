package ledger

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/openmarkets/tradegate/internal/idgen"
)

// MemoryStore implements Store in memory. Used in tests and single-process
// deployments.
type MemoryStore struct {
	mu       sync.RWMutex
	accounts map[string]*Account
	txns     []*Transaction
}

// NewMemoryStore creates an empty in-memory ledger store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{accounts: make(map[string]*Account)}
}

// GetAccount returns the subject's account. Unknown subjects read as a zero
// balance rather than an error; accounts exist implicitly.
func (m *MemoryStore) GetAccount(_ context.Context, subject string) (*Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if acct, ok := m.accounts[subject]; ok {
		cp := *acct
		return &cp, nil
	}
	return &Account{Subject: subject, Available: decimal.Zero, UpdatedAt: time.Now()}, nil
}

func (m *MemoryStore) Credit(_ context.Context, subject string, amount decimal.Decimal, kind, reference string) (*Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	acct := m.account(subject)
	acct.Available = acct.Available.Add(amount)
	acct.UpdatedAt = time.Now()
	return m.record(subject, amount, kind, reference), nil
}

func (m *MemoryStore) Debit(_ context.Context, subject string, amount decimal.Decimal, kind, reference string) (*Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	acct := m.account(subject)
	if acct.Available.LessThan(amount) {
		return nil, ErrInsufficientFunds
	}
	acct.Available = acct.Available.Sub(amount)
	acct.UpdatedAt = time.Now()
	return m.record(subject, amount, kind, reference), nil
}

func (m *MemoryStore) ListTransactions(_ context.Context, subject string, limit int, before time.Time, beforeID string) ([]*Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*Transaction
	for _, t := range m.txns {
		if t.Subject != subject {
			continue
		}
		if !before.IsZero() {
			if t.CreatedAt.After(before) || (t.CreatedAt.Equal(before) && t.ID >= beforeID) {
				continue
			}
		}
		cp := *t
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// account returns the live account for subject, creating it if needed.
// Caller must hold m.mu.
func (m *MemoryStore) account(subject string) *Account {
	acct, ok := m.accounts[subject]
	if !ok {
		acct = &Account{Subject: subject, Available: decimal.Zero, UpdatedAt: time.Now()}
		m.accounts[subject] = acct
	}
	return acct
}

// record appends a completed transaction. Caller must hold m.mu.
func (m *MemoryStore) record(subject string, amount decimal.Decimal, kind, reference string) *Transaction {
	txn := &Transaction{
		ID:        idgen.WithPrefix("txn_"),
		Subject:   subject,
		Kind:      kind,
		Amount:    amount,
		Reference: reference,
		Status:    StatusCompleted,
		CreatedAt: time.Now(),
	}
	m.txns = append(m.txns, txn)
	cp := *txn
	return &cp
}
