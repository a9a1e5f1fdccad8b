package users

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/openmarkets/tradegate/internal/coordstore"
	"github.com/openmarkets/tradegate/internal/token"
)

const signingKey = "test-signing-key-needs-32-bytes!"

func newService(t *testing.T) (*Service, *token.Verifier) {
	t.Helper()
	store := coordstore.NewMemoryStore()
	verifier := token.NewVerifier(signingKey, store)
	svc := NewService(NewMemoryStore(), token.NewIssuer(signingKey, time.Hour), verifier)
	return svc, verifier
}

func TestService_RegisterAndLogin(t *testing.T) {
	svc, verifier := newService(t)
	ctx := context.Background()

	u, err := svc.Register(ctx, "alice", "alice@example.com", "correct horse")
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if u.Role != token.RoleCustomer {
		t.Fatalf("role = %s, new accounts start as customer", u.Role)
	}
	if u.PasswordHash == "correct horse" {
		t.Fatal("password must not be stored in clear")
	}

	bearer, u2, expiresAt, err := svc.Login(ctx, "alice", "correct horse")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if u2.Subject != "alice" || bearer == "" {
		t.Fatalf("login result = %q, %+v", bearer, u2)
	}
	if !expiresAt.After(time.Now()) {
		t.Fatalf("expiresAt = %v", expiresAt)
	}

	id, err := verifier.Verify(ctx, bearer)
	if err != nil {
		t.Fatalf("issued token does not verify: %v", err)
	}
	if id.Subject != "alice" || id.Role != token.RoleCustomer {
		t.Fatalf("identity = %+v", id)
	}
}

func TestService_DuplicateSubject(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	svc.Register(ctx, "alice", "a@example.com", "password-1")
	_, err := svc.Register(ctx, "alice", "b@example.com", "password-2")
	if !errors.Is(err, ErrSubjectTaken) {
		t.Fatalf("err = %v, want ErrSubjectTaken", err)
	}
}

func TestService_LoginRejectsBadCredentials(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	svc.Register(ctx, "alice", "a@example.com", "right-password")

	if _, _, _, err := svc.Login(ctx, "alice", "wrong-password"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("wrong password: err = %v", err)
	}
	// Unknown subjects are indistinguishable from wrong passwords.
	if _, _, _, err := svc.Login(ctx, "nobody", "whatever"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("unknown subject: err = %v", err)
	}
}

func TestService_LogoutRevokesToken(t *testing.T) {
	svc, verifier := newService(t)
	ctx := context.Background()

	svc.Register(ctx, "alice", "a@example.com", "some-password")
	bearer, _, _, err := svc.Login(ctx, "alice", "some-password")
	if err != nil {
		t.Fatalf("login: %v", err)
	}

	if err := svc.Logout(ctx, bearer); err != nil {
		t.Fatalf("logout: %v", err)
	}
	if _, err := verifier.Verify(ctx, bearer); !errors.Is(err, token.ErrRevoked) {
		t.Fatalf("err = %v, want ErrRevoked", err)
	}

	// Revoking again is a no-op.
	if err := svc.Logout(ctx, bearer); err != nil {
		t.Fatalf("repeat logout: %v", err)
	}
}
