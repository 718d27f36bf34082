package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("GTG_CONFIG", "")
	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, defaultConfig(), cfg)
}

func TestLoadConfigYAMLThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gtg.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
port: "9090"
cache_backend: sqlite
photo_session_budget: 12
session_idle_ttl: 10m
places_api_key: from-file
`), 0o600))

	t.Setenv("GTG_CONFIG", path)
	t.Setenv("PLACES_API_KEY", "from-env")
	t.Setenv("PHOTO_PAGE_AUTO_LIMIT", "3")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, "sqlite", cfg.CacheBackend)
	assert.Equal(t, 12, cfg.SessionBudget)
	assert.Equal(t, 3, cfg.PageAutoLimit)
	assert.Equal(t, 10*time.Minute, cfg.SessionIdleTTL)
	assert.Equal(t, "from-env", cfg.PlacesAPIKey)
}

func TestLoadConfigRejectsBadValues(t *testing.T) {
	t.Setenv("GTG_CONFIG", "")
	t.Setenv("PHOTO_SESSION_BUDGET", "lots")
	_, err := LoadConfig()
	require.Error(t, err)
}
