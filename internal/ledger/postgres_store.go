package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/openmarkets/tradegate/internal/idgen"
)

// PostgresStore implements Store with PostgreSQL. Balance columns are
// NUMERIC(20,8); the CHECK constraint on available >= 0 backstops overdraft
// even if a caller skips the balance check.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a PostgreSQL-backed ledger store. Schema is
// managed by the migrations directory.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (p *PostgresStore) GetAccount(ctx context.Context, subject string) (*Account, error) {
	acct := &Account{Subject: subject}
	var available string

	err := p.db.QueryRowContext(ctx, `
		SELECT available, updated_at FROM accounts WHERE subject = $1
	`, subject).Scan(&available, &acct.UpdatedAt)
	if err == sql.ErrNoRows {
		return &Account{Subject: subject, Available: decimal.Zero, UpdatedAt: time.Now()}, nil
	}
	if err != nil {
		return nil, err
	}

	acct.Available, err = decimal.NewFromString(available)
	if err != nil {
		return nil, fmt.Errorf("corrupt balance for %s: %w", subject, err)
	}
	return acct, nil
}

func (p *PostgresStore) Credit(ctx context.Context, subject string, amount decimal.Decimal, kind, reference string) (*Transaction, error) {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO accounts (subject, available, updated_at)
		VALUES ($1, $2::NUMERIC(20,8), NOW())
		ON CONFLICT (subject) DO UPDATE SET
			available  = accounts.available + $2::NUMERIC(20,8),
			updated_at = NOW()
	`, subject, amount.String())
	if err != nil {
		return nil, fmt.Errorf("update balance: %w", err)
	}

	txn, err := insertTransaction(ctx, tx, subject, amount, kind, reference)
	if err != nil {
		return nil, err
	}
	return txn, tx.Commit()
}

func (p *PostgresStore) Debit(ctx context.Context, subject string, amount decimal.Decimal, kind, reference string) (*Transaction, error) {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		UPDATE accounts SET
			available  = available - $2::NUMERIC(20,8),
			updated_at = NOW()
		WHERE subject = $1 AND available >= $2::NUMERIC(20,8)
	`, subject, amount.String())
	if err != nil {
		return nil, fmt.Errorf("update balance: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, ErrInsufficientFunds
	}

	txn, err := insertTransaction(ctx, tx, subject, amount, kind, reference)
	if err != nil {
		return nil, err
	}
	return txn, tx.Commit()
}

func (p *PostgresStore) ListTransactions(ctx context.Context, subject string, limit int, before time.Time, beforeID string) ([]*Transaction, error) {
	query := `
		SELECT id, subject, kind, amount, COALESCE(reference, ''), status, created_at
		FROM transactions
		WHERE subject = $1`
	args := []any{subject}

	if !before.IsZero() {
		query += ` AND (created_at, id) < ($2, $3)`
		args = append(args, before, beforeID)
	}
	query += fmt.Sprintf(` ORDER BY created_at DESC, id DESC LIMIT %d`, limit)

	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Transaction
	for rows.Next() {
		txn := &Transaction{}
		var amount string
		if err := rows.Scan(&txn.ID, &txn.Subject, &txn.Kind, &amount, &txn.Reference, &txn.Status, &txn.CreatedAt); err != nil {
			return nil, err
		}
		txn.Amount, err = decimal.NewFromString(amount)
		if err != nil {
			return nil, fmt.Errorf("corrupt amount in %s: %w", txn.ID, err)
		}
		out = append(out, txn)
	}
	return out, rows.Err()
}

func insertTransaction(ctx context.Context, tx *sql.Tx, subject string, amount decimal.Decimal, kind, reference string) (*Transaction, error) {
	txn := &Transaction{
		ID:        idgen.WithPrefix("txn_"),
		Subject:   subject,
		Kind:      kind,
		Amount:    amount,
		Reference: reference,
		Status:    StatusCompleted,
	}
	err := tx.QueryRowContext(ctx, `
		INSERT INTO transactions (id, subject, kind, amount, reference, status, created_at)
		VALUES ($1, $2, $3, $4::NUMERIC(20,8), NULLIF($5, ''), $6, NOW())
		RETURNING created_at
	`, txn.ID, subject, kind, amount.String(), reference, txn.Status).Scan(&txn.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("record transaction: %w", err)
	}
	return txn, nil
}
