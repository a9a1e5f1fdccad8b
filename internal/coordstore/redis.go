package coordstore

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// Lua scripts keep the compound operations single-round-trip and atomic.
var (
	// incrWindowScript increments the key and attaches the window TTL only
	// on the creating increment. Returns {count, remaining_ms}.
	incrWindowScript = redis.NewScript(`
local c = redis.call("INCR", KEYS[1])
if c == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
local ttl = redis.call("PTTL", KEYS[1])
return {c, ttl}
`)

	// compareAndDeleteScript deletes the key only if it still holds the
	// caller's value. The owner check and delete must be one step or a lock
	// that expired mid-release could delete another owner's lock.
	compareAndDeleteScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`)

	// compareAndExpireScript extends the expiry only while still owned.
	compareAndExpireScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)
)

// RedisStore implements Store on a Redis client.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore creates a Store backed by the Redis instance at url
// (e.g. "redis://localhost:6379/0").
func NewRedisStore(url string) (*RedisStore, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	return &RedisStore{client: redis.NewClient(opts)}, nil
}

// NewRedisStoreFromClient wraps an existing client (used in tests).
func NewRedisStoreFromClient(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func (s *RedisStore) IncrWindow(ctx context.Context, key string, ttl time.Duration) (int64, time.Duration, error) {
	res, err := incrWindowScript.Run(ctx, s.client, []string{key}, ttl.Milliseconds()).Slice()
	if err != nil {
		return 0, 0, err
	}
	count, _ := res[0].(int64)
	remainingMs, _ := res[1].(int64)
	if remainingMs < 0 {
		remainingMs = ttl.Milliseconds()
	}
	return count, time.Duration(remainingMs) * time.Millisecond, nil
}

func (s *RedisStore) SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	return s.client.SetNX(ctx, key, value, ttl).Result()
}

func (s *RedisStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	return s.client.Set(ctx, key, value, ttl).Err()
}

func (s *RedisStore) Get(ctx context.Context, key string) (string, error) {
	val, err := s.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrNotFound
	}
	return val, err
}

func (s *RedisStore) Exists(ctx context.Context, key string) (bool, error) {
	n, err := s.client.Exists(ctx, key).Result()
	return n > 0, err
}

func (s *RedisStore) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return s.client.Del(ctx, keys...).Err()
}

func (s *RedisStore) CompareAndDelete(ctx context.Context, key, value string) (bool, error) {
	n, err := compareAndDeleteScript.Run(ctx, s.client, []string{key}, value).Int64()
	return n > 0, err
}

func (s *RedisStore) CompareAndExpire(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	n, err := compareAndExpireScript.Run(ctx, s.client, []string{key}, value, ttl.Milliseconds()).Int64()
	return n > 0, err
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
