package users

import (
	"context"
	"database/sql"

	"github.com/lib/pq"

	"github.com/openmarkets/tradegate/internal/token"
)

// PostgresStore persists users in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a PostgreSQL-backed user store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (p *PostgresStore) Create(ctx context.Context, u *User) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO users (subject, email, password_hash, role, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, u.Subject, u.Email, u.PasswordHash, string(u.Role), u.CreatedAt)
	if pgErr, ok := err.(*pq.Error); ok && pgErr.Code == "23505" {
		return ErrSubjectTaken
	}
	return err
}

func (p *PostgresStore) GetBySubject(ctx context.Context, subject string) (*User, error) {
	u := &User{}
	var role string

	err := p.db.QueryRowContext(ctx, `
		SELECT subject, email, password_hash, role, created_at
		FROM users WHERE subject = $1
	`, subject).Scan(&u.Subject, &u.Email, &u.PasswordHash, &role, &u.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	u.Role = token.Role(role)
	return u, nil
}
