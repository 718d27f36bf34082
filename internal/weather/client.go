// Package weather fetches daily forecasts from Open-Meteo.
package weather

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"gtg-gateway/internal/cache"
	"gtg-gateway/internal/clock"
	"gtg-gateway/internal/retry"
	"gtg-gateway/pkg/logging/logging"
)

const (
	DefaultBaseURL = "https://api.open-meteo.com"

	forecastPath = "/v1/forecast"
	dailyFields  = "temperature_2m_max,temperature_2m_min,weathercode"
	maxBodySize  = 1024 * 1024
)

type Config struct {
	BaseURL     string        // default: https://api.open-meteo.com
	Timeout     time.Duration // default: 10s
	MaxRetries  int           // default: 2
	BaseBackoff time.Duration // default: 300ms
	TTL         time.Duration // forecast cache lifetime, default: 1h

	HTTPClient *http.Client
}

func (c Config) WithDefaults() Config {
	c.BaseURL = strings.TrimRight(c.BaseURL, "/")
	if c.BaseURL == "" {
		c.BaseURL = DefaultBaseURL
	}
	if c.Timeout <= 0 {
		c.Timeout = 10 * time.Second
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 2
	}
	if c.BaseBackoff <= 0 {
		c.BaseBackoff = 300 * time.Millisecond
	}
	if c.TTL <= 0 {
		c.TTL = cache.WeatherTTL
	}
	return c
}

// Daily holds the parallel arrays of the forecast's daily block.
type Daily struct {
	Time           []string   `json:"time"`
	TemperatureMax []*float64 `json:"temperature_2m_max"`
	TemperatureMin []*float64 `json:"temperature_2m_min"`
	WeatherCode    []*int     `json:"weathercode"`
}

// Forecast is the subset of the Open-Meteo response the site uses.
type Forecast struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Timezone  string  `json:"timezone"`
	Daily     *Daily  `json:"daily"`
}

// StatusError is a non-2xx response from Open-Meteo.
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("weather: upstream returned %d", e.Code)
}

type Client struct {
	cfg        Config
	httpClient *http.Client
	cache      *cache.BlobCache
	clock      clock.Clock
	logger     *zap.Logger
}

// NewClient creates a forecast client. blobs may be nil, in which case nothing is cached.
func NewClient(cfg Config, blobs *cache.BlobCache, clk clock.Clock, logger *zap.Logger) (*Client, error) {
	cfg = cfg.WithDefaults()
	if u, err := url.Parse(cfg.BaseURL); err != nil || u.Host == "" {
		return nil, fmt.Errorf("weather: BaseURL %q is not an absolute URL", cfg.BaseURL)
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &Client{
		cfg:        cfg,
		httpClient: httpClient,
		cache:      blobs,
		clock:      clock.Or(clk),
		logger:     logging.OrNop(logger).Named("weather"),
	}, nil
}

// ForecastURL builds the daily forecast request for a coordinate.
func ForecastURL(baseURL string, lat, lon float64) string {
	q := url.Values{}
	q.Set("latitude", strconv.FormatFloat(lat, 'f', -1, 64))
	q.Set("longitude", strconv.FormatFloat(lon, 'f', -1, 64))
	q.Set("daily", dailyFields)
	q.Set("timezone", "auto")
	return strings.TrimRight(baseURL, "/") + forecastPath + "?" + q.Encode()
}

// FetchDaily returns the daily forecast for a coordinate, from the cache when a forecast for
// the same rounded coordinate is still fresh.
func (c *Client) FetchDaily(ctx context.Context, lat, lon float64) (Forecast, error) {
	if lat < -90 || lat > 90 || lon < -180 || lon > 180 {
		return Forecast{}, fmt.Errorf("weather: coordinate %v,%v out of range", lat, lon)
	}

	key := cache.WeatherKey(lat, lon)
	var f Forecast
	if c.cache != nil && c.cache.GetJSON(ctx, key, &f) {
		return f, nil
	}

	if err := c.getJSON(ctx, ForecastURL(c.cfg.BaseURL, lat, lon), &f); err != nil {
		return Forecast{}, err
	}
	if c.cache != nil {
		c.cache.PutJSON(ctx, key, f, c.cfg.TTL)
	}
	return f, nil
}

func (c *Client) getJSON(parentCtx context.Context, rawURL string, out any) error {
	ctx, cancel := context.WithTimeout(parentCtx, c.cfg.Timeout)
	defer cancel()

	var lastErr error
	for attempt := 0; attempt <= c.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			wait := retry.Backoff(c.cfg.BaseBackoff, attempt-1, c.cfg.BaseBackoff)
			if err := clock.Sleep(ctx, c.clock, wait); err != nil {
				return err
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
		if err != nil {
			return fmt.Errorf("weather: build HTTP request: %w", err)
		}
		resp, err := c.httpClient.Do(req)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return err
			}
			if !retry.IsTransientNetError(err) {
				return fmt.Errorf("weather: request failed: %w", err)
			}
			lastErr = err
			continue
		}

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			defer resp.Body.Close()
			if err := json.NewDecoder(io.LimitReader(resp.Body, maxBodySize)).Decode(out); err != nil {
				return fmt.Errorf("weather: decode upstream response: %w", err)
			}
			return nil
		}

		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64*1024))
		resp.Body.Close()
		se := &StatusError{Code: resp.StatusCode}
		if !retry.ShouldRetryStatus(resp.StatusCode) {
			return se
		}
		lastErr = se
		c.logger.Debug("weather_upstream_retry", zap.Int("status", resp.StatusCode), zap.Int("attempt", attempt+1))
	}
	return fmt.Errorf("weather: giving up after %d attempts: %w", c.cfg.MaxRetries+1, lastErr)
}
