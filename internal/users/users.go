// Package users implements account registration and authentication for the
// user service. Passwords are stored as bcrypt hashes; successful logins
// issue signed bearer tokens, and logout places the token's fingerprint on
// the shared denylist for its remaining lifetime.
package users

import (
	"context"
	"errors"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/openmarkets/tradegate/internal/token"
)

var (
	ErrSubjectTaken       = errors.New("users: subject already registered")
	ErrInvalidCredentials = errors.New("users: invalid credentials")
	ErrNotFound           = errors.New("users: not found")
)

// User is a registered account.
type User struct {
	Subject      string     `json:"subject"`
	Email        string     `json:"email"`
	PasswordHash string     `json:"-"`
	Role         token.Role `json:"role"`
	CreatedAt    time.Time  `json:"created_at"`
}

// Store persists user accounts.
type Store interface {
	Create(ctx context.Context, u *User) error
	GetBySubject(ctx context.Context, subject string) (*User, error)
}

// Service handles registration and credential checks.
type Service struct {
	store    Store
	issuer   *token.Issuer
	verifier *token.Verifier
}

// NewService creates a user service.
func NewService(store Store, issuer *token.Issuer, verifier *token.Verifier) *Service {
	return &Service{store: store, issuer: issuer, verifier: verifier}
}

// Register creates an account with the customer role.
func (s *Service) Register(ctx context.Context, subject, email, password string) (*User, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}
	u := &User{
		Subject:      subject,
		Email:        email,
		PasswordHash: string(hash),
		Role:         token.RoleCustomer,
		CreatedAt:    time.Now(),
	}
	if err := s.store.Create(ctx, u); err != nil {
		return nil, err
	}
	return u, nil
}

// Login verifies credentials and issues a bearer token. Unknown subjects and
// wrong passwords return the same error so callers cannot probe for
// registered accounts.
func (s *Service) Login(ctx context.Context, subject, password string) (string, *User, time.Time, error) {
	u, err := s.store.GetBySubject(ctx, subject)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return "", nil, time.Time{}, ErrInvalidCredentials
		}
		return "", nil, time.Time{}, err
	}
	if bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)) != nil {
		return "", nil, time.Time{}, ErrInvalidCredentials
	}

	bearer, expiresAt, err := s.issuer.Issue(u.Subject, u.Role)
	if err != nil {
		return "", nil, time.Time{}, err
	}
	return bearer, u, expiresAt, nil
}

// Logout revokes the bearer token by denylisting its fingerprint until the
// token would have expired anyway.
func (s *Service) Logout(ctx context.Context, bearer string) error {
	id, err := s.verifier.Verify(ctx, bearer)
	if err != nil {
		// Expired or malformed tokens need no revocation.
		if errors.Is(err, token.ErrExpired) || errors.Is(err, token.ErrRevoked) {
			return nil
		}
		return err
	}
	ttl := time.Until(id.ExpiresAt)
	if ttl <= 0 {
		return nil
	}
	return s.verifier.Denylist(ctx, token.Fingerprint(bearer), ttl)
}

// Get returns the account for subject.
func (s *Service) Get(ctx context.Context, subject string) (*User, error) {
	return s.store.GetBySubject(ctx, subject)
}
