package cache

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"gtg-gateway/internal/metrics"
	"gtg-gateway/pkg/logging/logging"
)

// LoggingStore wraps a Store with logging + metrics.
type LoggingStore struct {
	inner   Store
	backend string
}

// NewLoggingStore returns a store that logs and records metrics for every operation.
func NewLoggingStore(inner Store, backend string) Store {
	return &LoggingStore{inner: inner, backend: backend}
}

func (s *LoggingStore) Get(ctx context.Context, key string) (Entry, bool, error) {
	start := time.Now()
	e, ok, err := s.inner.Get(ctx, key)

	result := "miss"
	if err != nil {
		result = "error"
	} else if ok {
		result = "hit"
	}
	metrics.BlobCacheRequestsTotal.WithLabelValues("get", result).Inc()

	fields := s.fields(key, start, zap.String("cache_result", result))
	if err != nil {
		logging.L(ctx).Error("blob_cache_get", append(fields, zap.Error(err))...)
	} else {
		logging.L(ctx).Debug("blob_cache_get", fields...)
	}
	return e, ok, err
}

func (s *LoggingStore) Set(ctx context.Context, e Entry) error {
	start := time.Now()
	err := s.inner.Set(ctx, e)
	s.record(ctx, "set", e.Key, start, err,
		zap.Duration("ttl", e.TTL),
		zap.Int("bytes", len(e.Payload.Data)),
		zap.String("content_type", e.Payload.ContentType),
	)
	return err
}

func (s *LoggingStore) Delete(ctx context.Context, key string) error {
	start := time.Now()
	err := s.inner.Delete(ctx, key)
	s.record(ctx, "delete", key, start, err)
	return err
}

func (s *LoggingStore) Keys(ctx context.Context) ([]string, error) {
	start := time.Now()
	keys, err := s.inner.Keys(ctx)
	s.record(ctx, "keys", "*", start, err, zap.Int("count", len(keys)))
	return keys, err
}

// Ping checks the wrapped backend when it has a connection to check.
func (s *LoggingStore) Ping(ctx context.Context) error {
	p, ok := s.inner.(interface{ Ping(context.Context) error })
	if !ok {
		return nil
	}
	start := time.Now()
	err := p.Ping(ctx)
	s.record(ctx, "ping", "", start, err)
	return err
}

// Close releases the wrapped backend when it holds resources.
func (s *LoggingStore) Close() error {
	if closer, ok := s.inner.(interface{ Close() error }); ok {
		return closer.Close()
	}
	return nil
}

func (s *LoggingStore) record(ctx context.Context, op, key string, start time.Time, err error, extra ...zap.Field) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	metrics.BlobCacheRequestsTotal.WithLabelValues(op, result).Inc()

	fields := append(s.fields(key, start), extra...)
	if err != nil {
		logging.L(ctx).Error("blob_cache_"+op, append(fields, zap.Error(err))...)
		return
	}
	logging.L(ctx).Debug("blob_cache_"+op, fields...)
}

func (s *LoggingStore) fields(key string, start time.Time, extra ...zap.Field) []zap.Field {
	fields := []zap.Field{
		zap.String("cache_backend", s.backend),
		zap.String("cache_key", key),
		zap.String("namespace", namespaceOf(key)),
		zap.Float64("latency_ms", float64(time.Since(start).Microseconds())/1000.0),
	}
	return append(fields, extra...)
}

// namespaceOf returns the key prefix before the first ':' (photoBlob, places, weather).
func namespaceOf(key string) string {
	if i := strings.IndexByte(key, ':'); i > 0 {
		return key[:i]
	}
	return ""
}
