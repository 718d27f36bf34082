package cache

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
	BackendSQLite = "sqlite"
)

type Config struct {
	Backend    string
	Prefix     string
	SQLitePath string
}

// NewStore builds the configured backend wrapped in the logging decorator.
// redisClient is only used for the redis backend.
func NewStore(ctx context.Context, cfg Config, redisClient *redis.Client) (Store, error) {
	switch cfg.Backend {
	case BackendRedis:
		if redisClient == nil {
			return nil, fmt.Errorf("cache: redis backend requires a client")
		}
		return NewLoggingStore(NewRedisStore(redisClient, RedisConfig{Prefix: cfg.Prefix}), BackendRedis), nil
	case BackendSQLite:
		path := cfg.SQLitePath
		if path == "" {
			path = "gtg-cache.sqlite3"
		}
		db, err := OpenSQLite(path)
		if err != nil {
			return nil, err
		}
		s, err := NewSQLiteStore(ctx, db)
		if err != nil {
			_ = db.Close()
			return nil, err
		}
		return NewLoggingStore(s, BackendSQLite), nil
	case BackendMemory, "":
		return NewLoggingStore(NewMemoryStore(), BackendMemory), nil
	default:
		return nil, fmt.Errorf("cache: unknown backend %q", cfg.Backend)
	}
}
