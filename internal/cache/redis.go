package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"
)

// DefaultRedisPrefix namespaces blob cache keys. It must not be a prefix of any other
// namespace sharing the Redis database (session.DefaultRedisPrefix is "gtg:session").
const DefaultRedisPrefix = "gtg:blob"

// RedisStore implements Store using Redis. Entries are JSON documents; Redis' own expiry is
// set to the entry TTL so abandoned keys do not accumulate.
type RedisStore struct {
	client *redis.Client
	prefix string
}

type RedisConfig struct {
	Prefix string // default: DefaultRedisPrefix
}

// NewRedisStore creates a Redis-backed store.
func NewRedisStore(client *redis.Client, config RedisConfig) *RedisStore {
	if config.Prefix == "" {
		config.Prefix = DefaultRedisPrefix
	}
	return &RedisStore{
		client: client,
		prefix: config.Prefix,
	}
}

// key builds the final Redis key with prefix.
func (s *RedisStore) key(k string) string {
	return s.prefix + ":" + k
}

// Get retrieves an entry. On Redis error it returns (Entry{}, false, err) so the caller can
// log and treat it as a miss. A value that is not a cache entry (no key, no TTL) is a miss
// too, so the sweep never deletes what some other writer stored under the prefix.
func (s *RedisStore) Get(ctx context.Context, key string) (Entry, bool, error) {
	if err := ctx.Err(); err != nil {
		return Entry{}, false, fmt.Errorf("context error: %w", err)
	}

	raw, err := s.client.Get(ctx, s.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, fmt.Errorf("redis get failed: %w", err)
	}

	var e Entry
	if err := json.Unmarshal(raw, &e); err != nil {
		return Entry{}, false, fmt.Errorf("redis entry corrupt: %w", err)
	}
	if e.Key != key || e.TTL <= 0 {
		return Entry{}, false, nil
	}
	return e, true, nil
}

func (s *RedisStore) Set(ctx context.Context, e Entry) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("context error: %w", err)
	}

	raw, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("redis entry encode: %w", err)
	}

	expiration := e.TTL
	if expiration < 0 {
		expiration = 0
	}
	if err := s.client.Set(ctx, s.key(e.Key), raw, expiration).Err(); err != nil {
		return fmt.Errorf("redis set failed: %w", err)
	}
	return nil
}

func (s *RedisStore) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("context error: %w", err)
	}
	if err := s.client.Del(ctx, s.key(key)).Err(); err != nil {
		return fmt.Errorf("redis del failed: %w", err)
	}
	return nil
}

// Keys walks the prefix with SCAN.
func (s *RedisStore) Keys(ctx context.Context) ([]string, error) {
	match := s.key("*")
	var keys []string
	iter := s.client.Scan(ctx, 0, match, 100).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, strings.TrimPrefix(iter.Val(), s.prefix+":"))
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("redis scan failed: %w", err)
	}
	return keys, nil
}

// Ping checks if the Redis connection is healthy. Served by /healthz.
func (s *RedisStore) Ping(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("context error: %w", err)
	}
	return s.client.Ping(ctx).Err()
}
