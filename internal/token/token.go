// Package token issues and verifies the signed bearer tokens that carry
// identity through the gateway. Verification is local (HMAC signature and
// claim checks) except for a single denylist lookup in the coordination
// store, which makes logout effective before token expiry.
package token

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/openmarkets/tradegate/internal/coordstore"
)

// Role is the coarse authorization level embedded in a token.
type Role string

const (
	RolePublic   Role = "public"
	RoleCustomer Role = "customer"
	RoleVIP      Role = "vip"
	RoleAdmin    Role = "admin"
)

// rank orders roles for AtLeast comparisons.
func (r Role) rank() int {
	switch r {
	case RolePublic:
		return 0
	case RoleCustomer:
		return 1
	case RoleVIP:
		return 2
	case RoleAdmin:
		return 3
	default:
		return -1
	}
}

// Valid reports whether r is a known role.
func (r Role) Valid() bool { return r.rank() >= 0 }

// AtLeast reports whether r grants at least the privileges of min.
func (r Role) AtLeast(min Role) bool { return r.rank() >= min.rank() }

// Verification errors. The gateway maps each to a distinct error code.
var (
	ErrMalformed    = errors.New("token: malformed")
	ErrBadSignature = errors.New("token: bad signature")
	ErrExpired      = errors.New("token: expired")
	ErrRevoked      = errors.New("token: revoked")
)

// clockSkew is the tolerated clock drift between issuer and verifier.
const clockSkew = 30 * time.Second

// Identity is the authenticated principal extracted from a bearer token.
type Identity struct {
	Subject     string
	Role        Role
	IssuedAt    time.Time
	ExpiresAt   time.Time
	Fingerprint string // sha256 of the raw bearer string
}

// claims is the JWT claim set we sign.
type claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// Fingerprint hashes a raw bearer string for denylist storage. The raw
// token never touches the store.
func Fingerprint(bearer string) string {
	h := sha256.Sum256([]byte(bearer))
	return hex.EncodeToString(h[:])
}

// Issuer signs tokens on login.
type Issuer struct {
	key []byte
	ttl time.Duration
}

// NewIssuer creates an issuer with the given HMAC key and token lifetime.
func NewIssuer(signingKey string, ttl time.Duration) *Issuer {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Issuer{key: []byte(signingKey), ttl: ttl}
}

// Issue signs a token for subject with the given role. Returns the compact
// token string and its expiry.
func (i *Issuer) Issue(subject string, role Role) (string, time.Time, error) {
	now := time.Now()
	expiresAt := now.Add(i.ttl)

	t := jwt.NewWithClaims(jwt.SigningMethodHS256, claims{
		Role: string(role),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	})

	signed, err := t.SignedString(i.key)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return signed, expiresAt, nil
}

// Verifier parses and verifies bearer tokens.
type Verifier struct {
	key   []byte
	store coordstore.Store
}

// NewVerifier creates a verifier. store may be nil, in which case the
// denylist check is skipped (tokens are only revocable with a store).
func NewVerifier(signingKey string, store coordstore.Store) *Verifier {
	return &Verifier{key: []byte(signingKey), store: store}
}

// Verify parses bearer, checks its signature and expiry, and consults the
// denylist. Returns the identity or one of the package's sentinel errors.
func (v *Verifier) Verify(ctx context.Context, bearer string) (*Identity, error) {
	var cl claims
	t, err := jwt.ParseWithClaims(bearer, &cl, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return v.key, nil
	}, jwt.WithLeeway(clockSkew), jwt.WithValidMethods([]string{"HS256"}))

	switch {
	case err == nil && t.Valid:
		// fall through to claim checks
	case errors.Is(err, jwt.ErrTokenExpired):
		return nil, ErrExpired
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return nil, ErrBadSignature
	default:
		return nil, ErrMalformed
	}

	role := Role(cl.Role)
	if cl.Subject == "" || !role.Valid() {
		return nil, ErrMalformed
	}

	id := &Identity{
		Subject:     cl.Subject,
		Role:        role,
		Fingerprint: Fingerprint(bearer),
	}
	if cl.IssuedAt != nil {
		id.IssuedAt = cl.IssuedAt.Time
	}
	if cl.ExpiresAt != nil {
		id.ExpiresAt = cl.ExpiresAt.Time
	}

	if v.store != nil {
		revoked, err := v.store.Exists(ctx, coordstore.PrefixDenylist+id.Fingerprint)
		if err != nil {
			return nil, fmt.Errorf("denylist lookup: %w", err)
		}
		if revoked {
			return nil, ErrRevoked
		}
	}

	return id, nil
}

// Denylist records a token fingerprint so that Verify rejects it until ttl
// elapses. ttl should cover the token's remaining lifetime.
func (v *Verifier) Denylist(ctx context.Context, fingerprint string, ttl time.Duration) error {
	if v.store == nil {
		return errors.New("token: no coordination store configured")
	}
	if ttl <= 0 {
		return nil // already expired, nothing to revoke
	}
	return v.store.Set(ctx, coordstore.PrefixDenylist+fingerprint, "1", ttl)
}
