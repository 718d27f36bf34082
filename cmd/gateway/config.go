package main

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Port           string        `yaml:"port"`
	CacheBackend   string        `yaml:"cache_backend"`   // memory, redis or sqlite
	SessionBackend string        `yaml:"session_backend"` // memory or redis
	RedisAddr      string        `yaml:"redis_addr"`
	SQLitePath     string        `yaml:"sqlite_path"`
	PlacesBaseURL  string        `yaml:"places_base_url"`
	PlacesAPIKey   string        `yaml:"places_api_key"`
	OpenMeteoURL   string        `yaml:"open_meteo_base_url"`
	SessionBudget  int           `yaml:"photo_session_budget"`
	PageAutoLimit  int           `yaml:"photo_page_auto_limit"`
	SessionIdleTTL time.Duration `yaml:"session_idle_ttl"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

func defaultConfig() Config {
	return Config{
		Port:           "8080",
		CacheBackend:   "memory",
		SessionBackend: "memory",
		RedisAddr:      "127.0.0.1:6379",
		SQLitePath:     "gtg-cache.sqlite3",
		SessionBudget:  20,
		PageAutoLimit:  6,
		SessionIdleTTL: 30 * time.Minute,
		RequestTimeout: 45 * time.Second,
	}
}

// LoadConfig starts from the defaults, applies the YAML file named by GTG_CONFIG if set, then
// lets environment variables override individual values.
func LoadConfig() (Config, error) {
	cfg := defaultConfig()

	if path := os.Getenv("GTG_CONFIG"); path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	cfg.Port = getenv("PORT", cfg.Port)
	cfg.CacheBackend = getenv("CACHE_BACKEND", cfg.CacheBackend)
	cfg.SessionBackend = getenv("SESSION_BACKEND", cfg.SessionBackend)
	cfg.RedisAddr = getenv("REDIS_ADDR", cfg.RedisAddr)
	cfg.SQLitePath = getenv("SQLITE_PATH", cfg.SQLitePath)
	cfg.PlacesBaseURL = getenv("PLACES_BASE_URL", cfg.PlacesBaseURL)
	cfg.PlacesAPIKey = getenv("PLACES_API_KEY", cfg.PlacesAPIKey)
	cfg.OpenMeteoURL = getenv("OPEN_METEO_BASE_URL", cfg.OpenMeteoURL)

	var err error
	if cfg.SessionBudget, err = getenvInt("PHOTO_SESSION_BUDGET", cfg.SessionBudget); err != nil {
		return Config{}, err
	}
	if cfg.PageAutoLimit, err = getenvInt("PHOTO_PAGE_AUTO_LIMIT", cfg.PageAutoLimit); err != nil {
		return Config{}, err
	}
	if cfg.SessionIdleTTL, err = getenvDuration("SESSION_IDLE_TTL", cfg.SessionIdleTTL); err != nil {
		return Config{}, err
	}
	if cfg.RequestTimeout, err = getenvDuration("REQUEST_TIMEOUT", cfg.RequestTimeout); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// getenv returns the value of the environment variable key or def if not set.
func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}

func getenvDuration(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}
