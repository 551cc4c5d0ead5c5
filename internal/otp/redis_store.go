package otp

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "otp:v1:"

// expiryGrace keeps an entry in Redis slightly past its logical expiry so the
// expiry decision is always made against the caller's clock.
const expiryGrace = 30 * time.Second

// consumeScript checks and consumes a challenge in one step.
// KEYS[1] challenge key; ARGV[1] code hash; ARGV[2] now (unix ms); ARGV[3] max attempts.
// Returns 0 missing/expired, 1 mismatch, 2 verified.
var consumeScript = redis.NewScript(`
local h = redis.call('HGET', KEYS[1], 'hash')
if not h then
  return 0
end
local exp = tonumber(redis.call('HGET', KEYS[1], 'exp'))
if tonumber(ARGV[2]) > exp then
  redis.call('DEL', KEYS[1])
  return 0
end
if h ~= ARGV[1] then
  local n = redis.call('HINCRBY', KEYS[1], 'attempts', 1)
  local max = tonumber(ARGV[3])
  if max > 0 and n >= max then
    redis.call('DEL', KEYS[1])
  end
  return 1
end
redis.call('DEL', KEYS[1])
return 2
`)

// RedisStore keeps challenges in Redis hashes with a TTL.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore creates a Redis-backed challenge store.
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func (s *RedisStore) key(identityID string) string {
	return keyPrefix + identityID
}

// Put atomically replaces the challenge for identityID.
func (s *RedisStore) Put(ctx context.Context, identityID string, ch Challenge, ttl time.Duration) error {
	if ttl <= 0 {
		return fmt.Errorf("otp: ttl must be positive")
	}
	key := s.key(identityID)
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, key)
		pipe.HSet(ctx, key, "hash", ch.CodeHash, "exp", ch.ExpiresAt.UnixMilli(), "attempts", 0)
		pipe.PExpire(ctx, key, ttl+expiryGrace)
		return nil
	})
	if err != nil {
		return fmt.Errorf("otp: store challenge: %w", err)
	}
	return nil
}

// Consume runs the check-and-delete script.
func (s *RedisStore) Consume(ctx context.Context, identityID, codeHash string, now time.Time, maxAttempts int) (Result, error) {
	n, err := consumeScript.Run(ctx, s.client, []string{s.key(identityID)}, codeHash, now.UnixMilli(), maxAttempts).Int()
	if err != nil {
		return ResultMissing, fmt.Errorf("otp: consume challenge: %w", err)
	}
	switch n {
	case 2:
		return ResultVerified, nil
	case 1:
		return ResultMismatch, nil
	default:
		return ResultMissing, nil
	}
}
