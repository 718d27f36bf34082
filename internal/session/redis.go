package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultRedisPrefix is the key namespace of session values. The blob cache must use a
// prefix that does not match it (cache.DefaultRedisPrefix).
const DefaultRedisPrefix = "gtg:session"

// decrIfPositive: KEYS[1] counter, ARGV[1] initial, ARGV[2] ttl in ms.
var decrIfPositive = redis.NewScript(`
local cur = tonumber(ARGV[1])
local raw = redis.call('GET', KEYS[1])
if raw then cur = tonumber(raw) or 0 end
if cur <= 0 then return {0, cur} end
cur = cur - 1
redis.call('SET', KEYS[1], tostring(cur), 'PX', ARGV[2])
return {1, cur}
`)

// incrIfBelow: KEYS[1] counter, ARGV[1] limit, ARGV[2] ttl in ms.
var incrIfBelow = redis.NewScript(`
local cur = 0
local raw = redis.call('GET', KEYS[1])
if raw then cur = tonumber(raw) or 0 end
if cur >= tonumber(ARGV[1]) then return {0, cur} end
cur = cur + 1
redis.call('SET', KEYS[1], tostring(cur), 'PX', ARGV[2])
return {1, cur}
`)

// RedisStore keeps session values in Redis so several gateway replicas share counters.
// Zero-ttl values expire after IdleTTL, which bounds the session lifetime.
type RedisStore struct {
	client  *redis.Client
	prefix  string
	idleTTL time.Duration
}

type RedisConfig struct {
	Prefix  string // default: DefaultRedisPrefix
	IdleTTL time.Duration
}

func NewRedisStore(client *redis.Client, cfg RedisConfig) *RedisStore {
	if cfg.Prefix == "" {
		cfg.Prefix = DefaultRedisPrefix
	}
	if cfg.IdleTTL <= 0 {
		cfg.IdleTTL = DefaultIdleTTL
	}
	return &RedisStore{client: client, prefix: cfg.Prefix, idleTTL: cfg.IdleTTL}
}

func (s *RedisStore) key(k string) string {
	return s.prefix + ":" + k
}

func (s *RedisStore) ttl(d time.Duration) time.Duration {
	if d <= 0 {
		return s.idleTTL
	}
	return d
}

func (s *RedisStore) Get(ctx context.Context, key string) (string, bool, error) {
	v, err := s.client.Get(ctx, s.key(key)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("redis session get failed: %w", err)
	}
	return v, true, nil
}

func (s *RedisStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if err := s.client.Set(ctx, s.key(key), value, s.ttl(ttl)).Err(); err != nil {
		return fmt.Errorf("redis session set failed: %w", err)
	}
	return nil
}

func (s *RedisStore) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.key(key)).Err(); err != nil {
		return fmt.Errorf("redis session del failed: %w", err)
	}
	return nil
}

func (s *RedisStore) SetIfAbsent(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	ok, err := s.client.SetNX(ctx, s.key(key), value, s.ttl(ttl)).Result()
	if err != nil {
		return false, fmt.Errorf("redis session setnx failed: %w", err)
	}
	return ok, nil
}

func (s *RedisStore) DecrIfPositive(ctx context.Context, key string, initial int, ttl time.Duration) (int, bool, error) {
	res, err := decrIfPositive.Run(ctx, s.client, []string{s.key(key)}, initial, s.ttl(ttl).Milliseconds()).Int64Slice()
	if err != nil {
		return 0, false, fmt.Errorf("redis session decr failed: %w", err)
	}
	return counterResult(res)
}

func (s *RedisStore) IncrIfBelow(ctx context.Context, key string, limit int, ttl time.Duration) (int, bool, error) {
	res, err := incrIfBelow.Run(ctx, s.client, []string{s.key(key)}, limit, s.ttl(ttl).Milliseconds()).Int64Slice()
	if err != nil {
		return 0, false, fmt.Errorf("redis session incr failed: %w", err)
	}
	return counterResult(res)
}

func counterResult(res []int64) (int, bool, error) {
	if len(res) != 2 {
		return 0, false, fmt.Errorf("redis session counter: unexpected reply %v", res)
	}
	return int(res[1]), res[0] == 1, nil
}

// Ping checks the Redis connection.
func (s *RedisStore) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis session ping failed: %w", err)
	}
	return nil
}
