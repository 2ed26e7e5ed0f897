package otpstore

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/kustom-api/internal/domain"
	"github.com/redis/go-redis/v9"
)

// Timestamps are taken from the Redis server clock so every API instance
// agrees on a record's age.
const luaNow = `
local t = redis.call('TIME')
local now = tonumber(t[1]) * 1000 + math.floor(tonumber(t[2]) / 1000)
`

var putScript = redis.NewScript(luaNow + `
redis.call('DEL', KEYS[1])
redis.call('HSET', KEYS[1], 'code', ARGV[1], 'issued_at', now, 'attempts', 0)
redis.call('PEXPIRE', KEYS[1], ARGV[2])
return now
`)

var consumeScript = redis.NewScript(luaNow + `
local rec = redis.call('HMGET', KEYS[1], 'code', 'issued_at')
if not rec[1] then
  return {'not_found', 0}
end
if now - tonumber(rec[2]) > tonumber(ARGV[2]) then
  redis.call('DEL', KEYS[1])
  return {'expired', 0}
end
if rec[1] == ARGV[1] then
  redis.call('DEL', KEYS[1])
  return {'ok', 0}
end
local attempts = redis.call('HINCRBY', KEYS[1], 'attempts', 1)
local max = tonumber(ARGV[3])
if max <= 0 then
  return {'invalid', -1}
end
if attempts >= max then
  redis.call('DEL', KEYS[1])
  return {'exhausted', 0}
end
return {'invalid', max - attempts}
`)

var remainingScript = redis.NewScript(luaNow + `
local issued = redis.call('HGET', KEYS[1], 'issued_at')
if not issued then
  return 0
end
local left = tonumber(ARGV[1]) - (now - tonumber(issued))
if left <= 0 then
  return 0
end
return math.floor(left / 1000)
`)

// RedisStore keeps OTP records in Redis hashes so several API instances can
// share pending challenges. Each operation runs as one Lua script, which makes
// consume atomic across instances.
type RedisStore struct {
	client      *redis.Client
	prefix      string
	expiry      time.Duration
	maxAttempts int
}

func NewRedisStore(client *redis.Client, expiry time.Duration, maxAttempts int) *RedisStore {
	return &RedisStore{
		client:      client,
		prefix:      "otp:",
		expiry:      expiry,
		maxAttempts: maxAttempts,
	}
}

func (s *RedisStore) key(phone domain.PhoneNumber) string {
	return s.prefix + phone.String()
}

func (s *RedisStore) Put(ctx context.Context, phone domain.PhoneNumber, code string) error {
	// Keys outlive the expiry window so TryConsume can still report
	// "expired" rather than "not found" shortly after.
	ttl := 2 * s.expiry
	if err := putScript.Run(ctx, s.client, []string{s.key(phone)}, code, ttl.Milliseconds()).Err(); err != nil {
		return fmt.Errorf("otpstore.Put: %w", err)
	}
	return nil
}

func (s *RedisStore) TryConsume(ctx context.Context, phone domain.PhoneNumber, code string) (domain.ConsumeResult, error) {
	res, err := consumeScript.Run(ctx, s.client, []string{s.key(phone)},
		strings.TrimSpace(code), s.expiry.Milliseconds(), s.maxAttempts).Slice()
	if err != nil {
		return domain.ConsumeResult{}, fmt.Errorf("otpstore.TryConsume: %w", err)
	}
	if len(res) != 2 {
		return domain.ConsumeResult{}, fmt.Errorf("otpstore.TryConsume: unexpected script reply %v", res)
	}
	outcome, _ := res[0].(string)
	left, _ := res[1].(int64)

	out := domain.ConsumeResult{Outcome: domain.ConsumeOutcome(outcome)}
	if out.Outcome == domain.ConsumeInvalid {
		out.AttemptsLeft = int(left)
	}
	return out, nil
}

func (s *RedisStore) RemainingSeconds(ctx context.Context, phone domain.PhoneNumber) (int, error) {
	n, err := remainingScript.Run(ctx, s.client, []string{s.key(phone)}, s.expiry.Milliseconds()).Int()
	if err != nil {
		return 0, fmt.Errorf("otpstore.RemainingSeconds: %w", err)
	}
	return n, nil
}

func (s *RedisStore) Delete(ctx context.Context, phone domain.PhoneNumber) error {
	if err := s.client.Del(ctx, s.key(phone)).Err(); err != nil {
		return fmt.Errorf("otpstore.Delete: %w", err)
	}
	return nil
}

// SweepExpired is a no-op: Redis evicts keys through their TTL.
func (s *RedisStore) SweepExpired(context.Context) error { return nil }
