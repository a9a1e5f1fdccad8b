// Package coordstore provides a typed client for the shared coordination
// store: atomic window counters, set-with-TTL, compare-and-set primitives,
// and the key namespace used by rate limiting, IP blocking, distributed
// locks, the token denylist, and the response cache.
//
// Two implementations exist: RedisStore for deployments and MemoryStore for
// single-process use and tests. Both honor the same atomicity contracts.
package coordstore

import (
	"context"
	"errors"
	"time"
)

// Well-known key prefixes. All coordination state lives under one of these.
const (
	PrefixLoginFail = "login_fail:"
	PrefixIPBlock   = "ip_block:"
	PrefixRateLimit = "ratelimit:"
	PrefixLock      = "lock:"
	PrefixDenylist  = "denylist:"
	PrefixCache     = "cache:"
)

// ErrNotFound is returned by Get when the key does not exist or has expired.
var ErrNotFound = errors.New("coordstore: key not found")

// Store is the coordination store contract.
//
// IncrWindow is the only compound primitive: the increment and the
// TTL-on-create must happen in a single atomic round trip, and the TTL is
// set only by the increment that creates the key. Without that guarantee a
// busy key's window would be pushed forward forever.
type Store interface {
	// IncrWindow atomically increments key, setting expiry ttl only if this
	// increment created the key. Returns the new count and the remaining
	// window duration.
	IncrWindow(ctx context.Context, key string, ttl time.Duration) (count int64, remaining time.Duration, err error)

	// SetNX sets key to value with expiry ttl only if the key is absent.
	// Returns true if the key was set.
	SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error)

	// Set unconditionally sets key to value with expiry ttl (0 = no expiry).
	Set(ctx context.Context, key, value string, ttl time.Duration) error

	// Get returns the value for key, or ErrNotFound.
	Get(ctx context.Context, key string) (string, error)

	// Exists reports whether key is present and unexpired.
	Exists(ctx context.Context, key string) (bool, error)

	// Delete removes the given keys. Missing keys are not an error.
	Delete(ctx context.Context, keys ...string) error

	// CompareAndDelete deletes key only if its current value equals value.
	// Returns true if the key was deleted.
	CompareAndDelete(ctx context.Context, key, value string) (bool, error)

	// CompareAndExpire resets the expiry of key to ttl only if its current
	// value equals value. Returns true if the expiry was extended.
	CompareAndExpire(ctx context.Context, key, value string, ttl time.Duration) (bool, error)

	// Ping verifies connectivity to the backing store.
	Ping(ctx context.Context) error

	// Close releases client resources.
	Close() error
}
