// Package ledger tracks user cash balances.
//
// Every balance change is written as a transaction row alongside the balance
// update; the two always commit together. Mutations on one subject are
// serialized by the distributed lock "user:<subject>", taken either here
// (direct deposits and withdrawals) or by the order service, which holds the
// lock across a multi-step commit and calls the internal debit and credit
// endpoints underneath it.
package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/openmarkets/tradegate/internal/locks"
	"github.com/openmarkets/tradegate/internal/metrics"
)

var (
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrInvalidAmount     = errors.New("invalid amount")
	ErrAccountNotFound   = errors.New("account not found")
)

// Transaction kinds.
const (
	KindDeposit     = "deposit"
	KindWithdraw    = "withdraw"
	KindOrderDebit  = "order_debit"
	KindOrderCredit = "order_credit"
)

// Transaction statuses.
const (
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// Account is a subject's cash balance.
type Account struct {
	Subject   string          `json:"subject"`
	Available decimal.Decimal `json:"available"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// Transaction is one balance movement.
type Transaction struct {
	ID        string          `json:"id"`
	Subject   string          `json:"subject"`
	Kind      string          `json:"kind"`
	Amount    decimal.Decimal `json:"amount"`
	Reference string          `json:"reference,omitempty"`
	Status    string          `json:"status"`
	CreatedAt time.Time       `json:"created_at"`
}

// Store persists accounts and transactions. Credit and Debit must apply the
// balance change and insert the transaction row atomically; Debit returns
// ErrInsufficientFunds without side effects when the balance cannot cover
// the amount.
type Store interface {
	GetAccount(ctx context.Context, subject string) (*Account, error)
	Credit(ctx context.Context, subject string, amount decimal.Decimal, kind, reference string) (*Transaction, error)
	Debit(ctx context.Context, subject string, amount decimal.Decimal, kind, reference string) (*Transaction, error)
	// ListTransactions returns up to limit transactions for subject, newest
	// first, older than the (createdAt, id) cursor when given.
	ListTransactions(ctx context.Context, subject string, limit int, before time.Time, beforeID string) ([]*Transaction, error)
}

// Service wraps a Store with per-subject distributed locking.
type Service struct {
	store    Store
	locks    *locks.Manager
	lockTTL  time.Duration
	lockWait time.Duration
}

// NewService creates a ledger service. lockTTL and lockWait bound the
// distributed lock taken for direct deposits and withdrawals.
func NewService(store Store, lm *locks.Manager, lockTTL, lockWait time.Duration) *Service {
	return &Service{store: store, locks: lm, lockTTL: lockTTL, lockWait: lockWait}
}

// Balance returns the subject's account. Unknown subjects read as zero.
func (s *Service) Balance(ctx context.Context, subject string) (*Account, error) {
	return s.store.GetAccount(ctx, subject)
}

// Deposit credits the subject's balance under the subject lock.
func (s *Service) Deposit(ctx context.Context, subject string, amount decimal.Decimal, reference string) (*Transaction, error) {
	if !amount.IsPositive() {
		return nil, ErrInvalidAmount
	}
	lock, err := s.locks.Acquire(ctx, "user:"+subject, s.lockTTL, s.lockWait)
	if err != nil {
		return nil, err
	}
	defer lock.Release(ctx)

	txn, err := s.store.Credit(ctx, subject, amount, KindDeposit, reference)
	recordOutcome(KindDeposit, err)
	return txn, err
}

// Withdraw debits the subject's balance under the subject lock.
func (s *Service) Withdraw(ctx context.Context, subject string, amount decimal.Decimal, reference string) (*Transaction, error) {
	if !amount.IsPositive() {
		return nil, ErrInvalidAmount
	}
	lock, err := s.locks.Acquire(ctx, "user:"+subject, s.lockTTL, s.lockWait)
	if err != nil {
		return nil, err
	}
	defer lock.Release(ctx)

	txn, err := s.store.Debit(ctx, subject, amount, KindWithdraw, reference)
	recordOutcome(KindWithdraw, err)
	return txn, err
}

// OrderDebit debits for an order commit. The caller already holds the
// subject lock; no lock is taken here.
func (s *Service) OrderDebit(ctx context.Context, subject string, amount decimal.Decimal, orderID string) (*Transaction, error) {
	if !amount.IsPositive() {
		return nil, ErrInvalidAmount
	}
	txn, err := s.store.Debit(ctx, subject, amount, KindOrderDebit, orderID)
	recordOutcome(KindOrderDebit, err)
	return txn, err
}

// OrderCredit credits for an order commit. The caller already holds the
// subject lock.
func (s *Service) OrderCredit(ctx context.Context, subject string, amount decimal.Decimal, orderID string) (*Transaction, error) {
	if !amount.IsPositive() {
		return nil, ErrInvalidAmount
	}
	txn, err := s.store.Credit(ctx, subject, amount, KindOrderCredit, orderID)
	recordOutcome(KindOrderCredit, err)
	return txn, err
}

// Transactions lists the subject's transactions, newest first.
func (s *Service) Transactions(ctx context.Context, subject string, limit int, before time.Time, beforeID string) ([]*Transaction, error) {
	if limit <= 0 {
		limit = 50
	}
	return s.store.ListTransactions(ctx, subject, limit, before, beforeID)
}

func recordOutcome(kind string, err error) {
	status := StatusCompleted
	if err != nil {
		status = StatusFailed
	}
	metrics.LedgerTransactionsTotal.WithLabelValues(kind, status).Inc()
}
