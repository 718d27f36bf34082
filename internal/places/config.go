package places

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"gtg-gateway/internal/cache"
	"gtg-gateway/internal/clock"
	"gtg-gateway/pkg/logging/logging"
)

const DefaultBaseURL = "https://maps.googleapis.com"

type Config struct {
	// required fields
	APIKey string

	BaseURL string // default: https://maps.googleapis.com

	Timeout  time.Duration // per-request timeout (default: 15s)
	MaxWidth int           // photo width requested from the photo endpoint (default: 800)

	// RequestsPerSecond limits outbound calls across all sessions (default: 5, burst of the same size).
	RequestsPerSecond float64

	// Retries for the JSON endpoints. Photo fetches are retried by the photo queue instead.
	MaxRetries  int           // default: 2
	BaseBackoff time.Duration // default: 200ms

	MaxIdleConns        int // default: 100
	MaxIdleConnsPerHost int // default: 100

	// Custom HTTP client (for testing or special configs)
	HTTPClient *http.Client
}

// Validate checks required fields only.
func (c *Config) Validate() error {
	if c.APIKey == "" {
		return errors.New("APIKey is required")
	}
	u, err := url.Parse(c.BaseURL)
	if err != nil || u.Host == "" {
		return fmt.Errorf("BaseURL %q is not an absolute URL", c.BaseURL)
	}
	return nil
}

// WithDefaults returns a copy of Config with defaults applied.
func (c *Config) WithDefaults() Config {
	cfg := *c

	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.MaxWidth <= 0 {
		cfg.MaxWidth = 800
	}
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = 5
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 2
	}
	if cfg.BaseBackoff <= 0 {
		cfg.BaseBackoff = 200 * time.Millisecond
	}
	if cfg.MaxIdleConns <= 0 {
		cfg.MaxIdleConns = 100
	}
	if cfg.MaxIdleConnsPerHost <= 0 {
		cfg.MaxIdleConnsPerHost = 100
	}
	return cfg
}

// Client talks to the Places web service. It is safe for concurrent use and is shared by
// every session.
type Client struct {
	cfg        Config
	host       string
	httpClient *http.Client
	cache      *cache.BlobCache
	limiter    *rate.Limiter
	group      singleflight.Group
	clock      clock.Clock
	logger     *zap.Logger
}

// NewClient creates a places client. blobs may be nil, in which case nothing is cached.
func NewClient(cfg Config, blobs *cache.BlobCache, clk clock.Clock, logger *zap.Logger) (*Client, error) {
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("places: invalid config: %w", err)
	}

	u, _ := url.Parse(cfg.BaseURL)

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{
			Transport: defaultTransport(cfg),
		}
	}

	burst := int(cfg.RequestsPerSecond)
	if burst < 1 {
		burst = 1
	}

	return &Client{
		cfg:        cfg,
		host:       u.Host,
		httpClient: httpClient,
		cache:      blobs,
		limiter:    rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst),
		clock:      clock.Or(clk),
		logger:     logging.OrNop(logger).Named("places"),
	}, nil
}

func defaultTransport(cfg Config) *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:        cfg.MaxIdleConns,
		MaxIdleConnsPerHost: cfg.MaxIdleConnsPerHost,
		IdleConnTimeout:     90 * time.Second,

		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
}

// Host is the remote host photo fetches are charged against for cooldown purposes.
func (c *Client) Host() string { return c.host }

// Close releases idle connections.
func (c *Client) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}
