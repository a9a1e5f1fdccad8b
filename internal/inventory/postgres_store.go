package inventory

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/shopspring/decimal"
)

// PostgresStore persists the asset catalog in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a PostgreSQL-backed catalog store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (p *PostgresStore) List(ctx context.Context, category string) ([]*Asset, error) {
	query := `
		SELECT id, symbol, name, category, price, tradable, updated_at
		FROM assets`
	args := []any{}
	if category != "" {
		query += ` WHERE category = $1`
		args = append(args, category)
	}
	query += ` ORDER BY id`

	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Asset
	for rows.Next() {
		a, err := scanAsset(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (p *PostgresStore) Get(ctx context.Context, id string) (*Asset, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT id, symbol, name, category, price, tradable, updated_at
		FROM assets WHERE id = $1
	`, id)
	a, err := scanAsset(row.Scan)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return a, err
}

func (p *PostgresStore) Upsert(ctx context.Context, a *Asset) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO assets (id, symbol, name, category, price, tradable, updated_at)
		VALUES ($1, $2, $3, $4, $5::NUMERIC(20,8), $6, $7)
		ON CONFLICT (id) DO UPDATE SET
			symbol     = EXCLUDED.symbol,
			name       = EXCLUDED.name,
			category   = EXCLUDED.category,
			price      = EXCLUDED.price,
			tradable   = EXCLUDED.tradable,
			updated_at = EXCLUDED.updated_at
	`, a.ID, a.Symbol, a.Name, a.Category, a.Price.String(), a.Tradable, a.UpdatedAt)
	return err
}

func scanAsset(scan func(...any) error) (*Asset, error) {
	a := &Asset{}
	var price string
	if err := scan(&a.ID, &a.Symbol, &a.Name, &a.Category, &price, &a.Tradable, &a.UpdatedAt); err != nil {
		return nil, err
	}
	var err error
	a.Price, err = decimal.NewFromString(price)
	if err != nil {
		return nil, fmt.Errorf("corrupt price for %s: %w", a.ID, err)
	}
	return a, nil
}
