package cache

import (
	"context"
	"path/filepath"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"gtg-gateway/internal/clock"
)

func TestSQLiteStore(t *testing.T) {
	ctx := context.Background()

	db, err := OpenSQLite(filepath.Join(t.TempDir(), "cache.sqlite3"))
	require.NoError(t, err)
	store, err := NewSQLiteStore(ctx, db)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	clk := clock.NewManual(time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC))
	c := NewBlobCache(NewLoggingStore(store, BackendSQLite), clk, zaptest.NewLogger(t))

	require.True(t, c.Put(ctx, PhotoBlobKey("a"), Payload{ContentType: "image/png", Data: []byte{1, 2, 3}}, time.Hour))
	require.True(t, c.Put(ctx, PlaceTextKey("tikal"), Payload{ContentType: ContentTypeJSON, Data: []byte(`[]`)}, time.Minute))

	got, ok := c.Get(ctx, PhotoBlobKey("a"))
	require.True(t, ok)
	assert.Equal(t, "image/png", got.ContentType)
	assert.Equal(t, []byte{1, 2, 3}, got.Data)

	keys, err := store.Keys(ctx)
	require.NoError(t, err)
	sort.Strings(keys)
	assert.Equal(t, []string{"photoBlob:a", "places:text:tikal"}, keys)

	clk.Advance(2 * time.Minute)
	assert.Equal(t, 1, c.SweepExpired(ctx))

	_, ok = c.Get(ctx, PlaceTextKey("tikal"))
	assert.False(t, ok)
	_, ok = c.Get(ctx, PhotoBlobKey("a"))
	assert.True(t, ok)

	require.NoError(t, store.Clear(ctx))
	_, ok = c.Get(ctx, PhotoBlobKey("a"))
	assert.False(t, ok)
}
