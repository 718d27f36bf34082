package httpserver

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"gtg-gateway/internal/cache"
)

func healthz(t *testing.T, r http.Handler) (int, string) {
	t.Helper()
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	return rec.Code, rec.Body.String()
}

func TestHealthzWithoutChecks(t *testing.T) {
	r := chi.NewRouter()
	SetupRouter(r, zaptest.NewLogger(t), Handlers{}, 0)

	code, body := healthz(t, r)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ok", body)
}

func TestHealthzPingsRedisCache(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	store, err := cache.NewStore(context.Background(), cache.Config{Backend: cache.BackendRedis}, client)
	require.NoError(t, err)
	blobs := cache.NewBlobCache(store, nil, zaptest.NewLogger(t))

	r := chi.NewRouter()
	SetupRouter(r, zaptest.NewLogger(t), Handlers{Health: blobs.Ping}, 0)

	code, _ := healthz(t, r)
	assert.Equal(t, http.StatusOK, code)

	mr.Close()
	code, body := healthz(t, r)
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, "unavailable", body)
}
