package orders

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/shopspring/decimal"
)

// PostgresStore persists orders and holdings in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a PostgreSQL-backed order store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (p *PostgresStore) CreateOrder(ctx context.Context, o *Order) error {
	return p.db.QueryRowContext(ctx, `
		INSERT INTO orders (id, subject, asset_id, side, quantity, price, total, status, reason, created_at)
		VALUES ($1, $2, $3, $4, $5::NUMERIC(20,8), $6::NUMERIC(20,8), $7::NUMERIC(20,8), $8, NULLIF($9, ''), NOW())
		RETURNING created_at
	`, o.ID, o.Subject, o.AssetID, o.Side,
		o.Quantity.String(), o.Price.String(), o.Total.String(),
		o.Status, o.Reason).Scan(&o.CreatedAt)
}

func (p *PostgresStore) GetOrder(ctx context.Context, subject, id string) (*Order, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT id, subject, asset_id, side, quantity, price, total, status, COALESCE(reason, ''), created_at
		FROM orders WHERE id = $1 AND subject = $2
	`, id, subject)
	o, err := scanOrder(row.Scan)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return o, err
}

func (p *PostgresStore) ListOrders(ctx context.Context, subject string, limit int) ([]*Order, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, subject, asset_id, side, quantity, price, total, status, COALESCE(reason, ''), created_at
		FROM orders WHERE subject = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2
	`, subject, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Order
	for rows.Next() {
		o, err := scanOrder(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

func (p *PostgresStore) GetHolding(ctx context.Context, subject, assetID string) (*Holding, error) {
	h := &Holding{Subject: subject, AssetID: assetID}
	var qty string

	err := p.db.QueryRowContext(ctx, `
		SELECT quantity, updated_at FROM holdings WHERE subject = $1 AND asset_id = $2
	`, subject, assetID).Scan(&qty, &h.UpdatedAt)
	if err == sql.ErrNoRows {
		h.Quantity = decimal.Zero
		return h, nil
	}
	if err != nil {
		return nil, err
	}
	h.Quantity, err = decimal.NewFromString(qty)
	if err != nil {
		return nil, fmt.Errorf("corrupt quantity for %s/%s: %w", subject, assetID, err)
	}
	return h, nil
}

func (p *PostgresStore) AdjustHolding(ctx context.Context, subject, assetID string, delta decimal.Decimal) (*Holding, error) {
	h := &Holding{Subject: subject, AssetID: assetID}
	var qty string

	// The quantity >= 0 condition (and the table's CHECK constraint) make a
	// negative position impossible even under concurrent writers.
	err := p.db.QueryRowContext(ctx, `
		INSERT INTO holdings (subject, asset_id, quantity, updated_at)
		VALUES ($1, $2, $3::NUMERIC(20,8), NOW())
		ON CONFLICT (subject, asset_id) DO UPDATE SET
			quantity   = holdings.quantity + $3::NUMERIC(20,8),
			updated_at = NOW()
		WHERE holdings.quantity + $3::NUMERIC(20,8) >= 0
		RETURNING quantity, updated_at
	`, subject, assetID, delta.String()).Scan(&qty, &h.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrInsufficientQty
	}
	if err != nil {
		if delta.IsNegative() {
			// A CHECK violation on insert means no existing row to sell from.
			return nil, ErrInsufficientQty
		}
		return nil, err
	}
	h.Quantity, err = decimal.NewFromString(qty)
	if err != nil {
		return nil, fmt.Errorf("corrupt quantity for %s/%s: %w", subject, assetID, err)
	}
	return h, nil
}

func (p *PostgresStore) ListHoldings(ctx context.Context, subject string) ([]*Holding, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT subject, asset_id, quantity, updated_at
		FROM holdings WHERE subject = $1 AND quantity > 0
		ORDER BY asset_id
	`, subject)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Holding
	for rows.Next() {
		h := &Holding{}
		var qty string
		if err := rows.Scan(&h.Subject, &h.AssetID, &qty, &h.UpdatedAt); err != nil {
			return nil, err
		}
		h.Quantity, err = decimal.NewFromString(qty)
		if err != nil {
			return nil, fmt.Errorf("corrupt quantity for %s/%s: %w", h.Subject, h.AssetID, err)
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

func scanOrder(scan func(...any) error) (*Order, error) {
	o := &Order{}
	var qty, price, total string
	if err := scan(&o.ID, &o.Subject, &o.AssetID, &o.Side, &qty, &price, &total, &o.Status, &o.Reason, &o.CreatedAt); err != nil {
		return nil, err
	}
	var err error
	if o.Quantity, err = decimal.NewFromString(qty); err != nil {
		return nil, fmt.Errorf("corrupt quantity in %s: %w", o.ID, err)
	}
	if o.Price, err = decimal.NewFromString(price); err != nil {
		return nil, fmt.Errorf("corrupt price in %s: %w", o.ID, err)
	}
	if o.Total, err = decimal.NewFromString(total); err != nil {
		return nil, fmt.Errorf("corrupt total in %s: %w", o.ID, err)
	}
	return o, nil
}
