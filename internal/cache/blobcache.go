package cache

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"gtg-gateway/internal/clock"
	"gtg-gateway/pkg/logging/logging"
)

const ContentTypeJSON = "application/json"

// BlobCache applies TTL semantics on top of a Store. It never returns errors: backend failures
// are logged and reported as a miss or a false result.
type BlobCache struct {
	store  Store
	clock  clock.Clock
	logger *zap.Logger
}

func NewBlobCache(store Store, clk clock.Clock, logger *zap.Logger) *BlobCache {
	return &BlobCache{
		store:  store,
		clock:  clock.Or(clk),
		logger: logging.OrNop(logger).Named("blobcache"),
	}
}

// Put stores p under key for ttl, overwriting any previous entry.
func (c *BlobCache) Put(ctx context.Context, key string, p Payload, ttl time.Duration) bool {
	if ttl <= 0 {
		return false
	}
	e := Entry{
		Key:      key,
		StoredAt: c.clock.Now(),
		TTL:      ttl,
		Payload:  p,
	}
	if err := c.store.Set(ctx, e); err != nil {
		c.logger.Warn("blob_cache_put_failed", zap.String("cache_key", key), zap.Error(err))
		return false
	}
	return true
}

// Get returns the payload for key. Entries older than their TTL are deleted and reported absent.
func (c *BlobCache) Get(ctx context.Context, key string) (Payload, bool) {
	e, ok, err := c.store.Get(ctx, key)
	if err != nil {
		c.logger.Warn("blob_cache_get_failed", zap.String("cache_key", key), zap.Error(err))
		return Payload{}, false
	}
	if !ok {
		return Payload{}, false
	}
	if e.Expired(c.clock.Now()) {
		if err := c.store.Delete(ctx, key); err != nil {
			c.logger.Warn("blob_cache_evict_failed", zap.String("cache_key", key), zap.Error(err))
		}
		return Payload{}, false
	}
	return e.Payload, true
}

func (c *BlobCache) Delete(ctx context.Context, key string) bool {
	if err := c.store.Delete(ctx, key); err != nil {
		c.logger.Warn("blob_cache_delete_failed", zap.String("cache_key", key), zap.Error(err))
		return false
	}
	return true
}

// Ping reports whether the backend is reachable.
func (c *BlobCache) Ping(ctx context.Context) error {
	if p, ok := c.store.(interface{ Ping(context.Context) error }); ok {
		return p.Ping(ctx)
	}
	return nil
}

// SweepExpired deletes every expired entry and returns how many were removed. It reads the
// whole store, so the gateway runs it once at startup.
func (c *BlobCache) SweepExpired(ctx context.Context) int {
	keys, err := c.store.Keys(ctx)
	if err != nil {
		c.logger.Warn("blob_cache_sweep_failed", zap.Error(err))
		return 0
	}

	now := c.clock.Now()
	removed := 0
	for _, key := range keys {
		if ctx.Err() != nil {
			break
		}
		e, ok, err := c.store.Get(ctx, key)
		if err != nil || !ok || !e.Expired(now) {
			continue
		}
		if err := c.store.Delete(ctx, key); err != nil {
			c.logger.Warn("blob_cache_evict_failed", zap.String("cache_key", key), zap.Error(err))
			continue
		}
		removed++
	}

	c.logger.Debug("blob_cache_sweep", zap.Int("scanned", len(keys)), zap.Int("removed", removed))
	return removed
}

// PutJSON stores v encoded as JSON.
func (c *BlobCache) PutJSON(ctx context.Context, key string, v any, ttl time.Duration) bool {
	data, err := json.Marshal(v)
	if err != nil {
		c.logger.Warn("blob_cache_encode_failed", zap.String("cache_key", key), zap.Error(err))
		return false
	}
	return c.Put(ctx, key, Payload{ContentType: ContentTypeJSON, Data: data}, ttl)
}

// GetJSON decodes the JSON payload under key into v. A payload that does not decode is a miss.
func (c *BlobCache) GetJSON(ctx context.Context, key string, v any) bool {
	p, ok := c.Get(ctx, key)
	if !ok {
		return false
	}
	if err := json.Unmarshal(p.Data, v); err != nil {
		c.logger.Warn("blob_cache_decode_failed", zap.String("cache_key", key), zap.Error(err))
		return false
	}
	return true
}
