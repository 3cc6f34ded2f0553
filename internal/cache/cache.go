// Package cache wraps Redis as the typed KV/cache store (C1): TTL'd
// blobs, atomic counters with lazy-TTL, and set-membership helpers.
// Adapted from the teacher's queue.CacheClient, generalized with the
// Lua atomic-increment script osprey's RedisCache uses for velocity and
// rate-limit counters.
package cache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

// Store is the C1 contract every consumer (velocity, idempotency,
// rate limiter) depends on, so tests can substitute an in-memory fake.
type Store interface {
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	Get(ctx context.Context, key string, dest interface{}) error
	Delete(ctx context.Context, keys ...string) error
	Exists(ctx context.Context, key string) (bool, error)
	SetNX(ctx context.Context, key string, value interface{}, ttl time.Duration) (bool, error)
	IncrWithTTL(ctx context.Context, key string, ttl time.Duration) (int64, error)
	IncrDecimalWithTTL(ctx context.Context, key string, delta decimal.Decimal, ttl time.Duration) (decimal.Decimal, error)
	Ping(ctx context.Context) error
}

// ErrNotFound is returned by Get on a cache miss.
var ErrNotFound = redis.Nil

// RedisStore is the production Store.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore dials Redis and verifies connectivity.
func NewRedisStore(url string) (*RedisStore, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	client := redis.NewClient(opt)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, err
	}

	log.Info().Msg("cache store connected")
	return &RedisStore{client: client}, nil
}

func (s *RedisStore) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, key, data, ttl).Err()
}

func (s *RedisStore) Get(ctx context.Context, key string, dest interface{}) error {
	data, err := s.client.Get(ctx, key).Bytes()
	if err != nil {
		return err
	}
	return json.Unmarshal(data, dest)
}

func (s *RedisStore) Delete(ctx context.Context, keys ...string) error {
	return s.client.Del(ctx, keys...).Err()
}

func (s *RedisStore) Exists(ctx context.Context, key string) (bool, error) {
	n, err := s.client.Exists(ctx, key).Result()
	return n > 0, err
}

func (s *RedisStore) SetNX(ctx context.Context, key string, value interface{}, ttl time.Duration) (bool, error) {
	data, err := json.Marshal(value)
	if err != nil {
		return false, err
	}
	return s.client.SetNX(ctx, key, data, ttl).Result()
}

// incrScript atomically increments a counter and sets its TTL only on
// the first increment after a rollover, giving lazy-TTL window
// semantics without a separate EXPIRE round trip.
var incrScript = redis.NewScript(`
	local current = redis.call('INCR', KEYS[1])
	if current == 1 then
		redis.call('PEXPIRE', KEYS[1], ARGV[1])
	end
	return current
`)

// IncrWithTTL increments key and arms its TTL only when the counter was
// just created, so a key never loses its remaining TTL on re-increment.
func (s *RedisStore) IncrWithTTL(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	return incrScript.Run(ctx, s.client, []string{key}, ttl.Milliseconds()).Int64()
}

// incrDecimalScript mirrors incrScript for a running decimal sum: the
// value is stored as a string and updated in a single round trip so two
// concurrent bumps of the same key can't clobber each other's increment.
var incrDecimalScript = redis.NewScript(`
	local existed = redis.call('EXISTS', KEYS[1])
	local current = tonumber(redis.call('GET', KEYS[1]) or '0')
	local updated = current + tonumber(ARGV[1])
	redis.call('SET', KEYS[1], tostring(updated), 'KEEPTTL')
	if existed == 0 then
		redis.call('PEXPIRE', KEYS[1], ARGV[2])
	end
	return tostring(updated)
`)

// IncrDecimalWithTTL atomically adds delta to the running sum at key,
// arming the TTL only when the key was just created. Values are stored
// as Lua-float strings, which is precise enough for the velocity
// tracker's anomaly-detection sums but is not ledger-grade arithmetic.
func (s *RedisStore) IncrDecimalWithTTL(ctx context.Context, key string, delta decimal.Decimal, ttl time.Duration) (decimal.Decimal, error) {
	result, err := incrDecimalScript.Run(ctx, s.client, []string{key}, delta.String(), ttl.Milliseconds()).Text()
	if err != nil {
		return decimal.Decimal{}, err
	}
	return decimal.NewFromString(result)
}

// PushCapped prepends value onto a Redis list and trims it to maxLen,
// used by the audit/analytics trail to keep a bounded recent-events
// window without a separate cleanup job.
func (s *RedisStore) PushCapped(ctx context.Context, key string, value interface{}, maxLen int64) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	if err := s.client.LPush(ctx, key, data).Err(); err != nil {
		return err
	}
	return s.client.LTrim(ctx, key, 0, maxLen-1).Err()
}

func (s *RedisStore) Close() error { return s.client.Close() }

func (s *RedisStore) Ping(ctx context.Context) error { return s.client.Ping(ctx).Err() }
