package cache

import (
	"context"
	"sort"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"gtg-gateway/internal/clock"
)

func newRedisCache(t *testing.T, prefix string) (*BlobCache, *RedisStore, *miniredis.Miniredis, *clock.Manual) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	store := NewRedisStore(client, RedisConfig{Prefix: prefix})
	clk := clock.NewManual(time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC))
	return NewBlobCache(NewLoggingStore(store, BackendRedis), clk, zaptest.NewLogger(t)), store, mr, clk
}

func TestRedisStore_RoundTrip(t *testing.T) {
	c, _, mr, _ := newRedisCache(t, "")
	ctx := context.Background()

	p := Payload{ContentType: "image/jpeg", Data: []byte{0xff, 0xd8, 0x01}}
	require.True(t, c.Put(ctx, PhotoBlobKey("ref-1"), p, time.Hour))
	assert.True(t, mr.Exists("gtg:blob:"+PhotoBlobKey("ref-1")))
	assert.Equal(t, time.Hour, mr.TTL("gtg:blob:"+PhotoBlobKey("ref-1")))

	got, ok := c.Get(ctx, PhotoBlobKey("ref-1"))
	require.True(t, ok)
	assert.Equal(t, p, got)

	require.True(t, c.Delete(ctx, PhotoBlobKey("ref-1")))
	_, ok = c.Get(ctx, PhotoBlobKey("ref-1"))
	assert.False(t, ok)

	require.NoError(t, c.Ping(ctx))
}

func TestRedisStore_KeysStayInsidePrefix(t *testing.T) {
	c, store, mr, _ := newRedisCache(t, DefaultRedisPrefix)
	ctx := context.Background()

	require.True(t, c.Put(ctx, PhotoBlobKey("a"), Payload{ContentType: "image/png", Data: []byte{1}}, time.Hour))
	require.True(t, c.Put(ctx, PlaceTextKey("tikal"), Payload{ContentType: ContentTypeJSON, Data: []byte(`[]`)}, time.Hour))
	require.NoError(t, mr.Set("gtg:blobs:other", "x"))
	require.NoError(t, mr.Set("gtg:session:alice:photoSessionBudget", "19"))

	keys, err := store.Keys(ctx)
	require.NoError(t, err)
	sort.Strings(keys)
	assert.Equal(t, []string{PhotoBlobKey("a"), PlaceTextKey("tikal")}, keys)
}

// Values another writer put under the scanned prefix are never evicted, even when the
// prefix is broad enough to reach them.
func TestRedisStore_SweepLeavesForeignKeys(t *testing.T) {
	c, store, mr, clk := newRedisCache(t, "gtg")
	ctx := context.Background()

	hostKey := "gtg:session:alice:hostFailures:maps.example.test"
	require.NoError(t, mr.Set(hostKey, `{"failures":1,"cooldown_until":"2025-03-01T09:00:10Z"}`))
	require.NoError(t, mr.Set("gtg:session:alice:photoSessionBudget", "19"))

	require.True(t, c.Put(ctx, PhotoBlobKey("old"), Payload{ContentType: "image/png", Data: []byte{1}}, time.Hour))
	clk.Advance(2 * time.Hour)

	_, ok, err := store.Get(ctx, "session:alice:hostFailures:maps.example.test")
	require.NoError(t, err)
	assert.False(t, ok, "a value that is not a cache entry reads as a miss")

	assert.Equal(t, 1, c.SweepExpired(ctx))
	assert.False(t, mr.Exists("gtg:"+PhotoBlobKey("old")))
	assert.True(t, mr.Exists(hostKey))
	assert.True(t, mr.Exists("gtg:session:alice:photoSessionBudget"))
}
