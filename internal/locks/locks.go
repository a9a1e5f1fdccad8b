// Package locks provides named distributed locks on the coordination store.
// A lock is a SetNX key holding a random owner token; release and heartbeat
// compare the token first, so a lock that expired and was re-acquired by
// another process can never be released or extended by the old holder.
package locks

import (
	"context"
	"errors"
	"time"

	"github.com/openmarkets/tradegate/internal/coordstore"
	"github.com/openmarkets/tradegate/internal/idgen"
	"github.com/openmarkets/tradegate/internal/logging"
	"github.com/openmarkets/tradegate/internal/metrics"
	"github.com/openmarkets/tradegate/internal/retry"
)

// ErrTimeout is returned when the wait budget is exhausted before the lock
// could be acquired.
var ErrTimeout = errors.New("locks: wait budget exhausted")

// errHeld signals one failed acquisition attempt inside the retry loop.
var errHeld = errors.New("locks: held")

// Lock is a held distributed lock.
type Lock struct {
	mgr   *Manager
	name  string
	owner string
	ttl   time.Duration
}

// Name returns the lock's name (without the store prefix).
func (l *Lock) Name() string { return l.name }

// Release drops the lock if this holder still owns it. Losing the lock to
// expiry before release is not an error: the next holder's compare token
// protects it.
func (l *Lock) Release(ctx context.Context) {
	ok, err := l.mgr.store.CompareAndDelete(ctx, coordstore.PrefixLock+l.name, l.owner)
	if err != nil {
		logging.L(ctx).Warn("lock release failed", "lock", l.name, "error", err)
		return
	}
	if !ok {
		logging.L(ctx).Warn("lock already lost at release", "lock", l.name)
	}
}

// Heartbeat extends the lock's expiry to its original TTL. Returns false if
// the lock has been lost.
func (l *Lock) Heartbeat(ctx context.Context) (bool, error) {
	return l.mgr.store.CompareAndExpire(ctx, coordstore.PrefixLock+l.name, l.owner, l.ttl)
}

// Manager acquires named locks against the coordination store.
type Manager struct {
	store coordstore.Store
}

// NewManager creates a lock manager.
func NewManager(store coordstore.Store) *Manager {
	return &Manager{store: store}
}

// Acquire takes the named lock, retrying with capped backoff for up to
// waitMax. The lock expires after ttl unless heartbeated. Returns ErrTimeout
// when the wait budget runs out; a store error during the final attempt is
// returned as-is.
func (m *Manager) Acquire(ctx context.Context, name string, ttl, waitMax time.Duration) (*Lock, error) {
	owner := idgen.Hex(16)
	key := coordstore.PrefixLock + name
	start := time.Now()
	deadline := start.Add(waitMax)

	err := retry.DoUntil(ctx, deadline, 10*time.Millisecond, 250*time.Millisecond, func() error {
		ok, err := m.store.SetNX(ctx, key, owner, ttl)
		if err != nil {
			return retry.Permanent(err)
		}
		if !ok {
			return errHeld
		}
		return nil
	})

	metrics.LockWaitDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		if errors.Is(err, errHeld) || errors.Is(err, context.DeadlineExceeded) {
			metrics.LockTimeoutsTotal.Inc()
			return nil, ErrTimeout
		}
		return nil, err
	}
	return &Lock{mgr: m, name: name, owner: owner, ttl: ttl}, nil
}

// TryAcquire attempts the lock once without waiting.
func (m *Manager) TryAcquire(ctx context.Context, name string, ttl time.Duration) (*Lock, error) {
	owner := idgen.Hex(16)
	ok, err := m.store.SetNX(ctx, coordstore.PrefixLock+name, owner, ttl)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrTimeout
	}
	return &Lock{mgr: m, name: name, owner: owner, ttl: ttl}, nil
}
