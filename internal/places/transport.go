package places

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"gtg-gateway/internal/clock"
	"gtg-gateway/internal/retry"
)

const (
	maxJSONSize  = 4 * 1024 * 1024
	maxPhotoSize = 10 * 1024 * 1024
)

// StatusError is a non-2xx response from the web service.
type StatusError struct {
	Code       int
	Host       string
	RetryAfter time.Duration
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("places: upstream %s returned %d", e.Host, e.Code)
}

// APIError is a 200 response whose body reports a failure status such as OVER_QUERY_LIMIT.
type APIError struct {
	Status  string
	Message string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return "places: api status " + e.Status
	}
	return fmt.Sprintf("places: api status %s: %s", e.Status, e.Message)
}

// RetryAfterOf returns the Retry-After hint carried by err, if any.
func RetryAfterOf(err error) time.Duration {
	var se *StatusError
	if errors.As(err, &se) {
		return se.RetryAfter
	}
	return 0
}

// HostOf returns the host that answered with the failure carried by err, if any.
func HostOf(err error) string {
	var se *StatusError
	if errors.As(err, &se) {
		return se.Host
	}
	return ""
}

// get issues one rate-limited GET with the per-request timeout applied by the caller.
func (c *Client) get(ctx context.Context, rawURL string) (*http.Response, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("places: build HTTP request: %w", err)
	}
	return c.httpClient.Do(req)
}

// getJSON fetches rawURL and decodes a 2xx body into out, retrying transient network errors,
// 429 and 5xx up to MaxRetries times.
func (c *Client) getJSON(parentCtx context.Context, rawURL string, out any) error {
	ctx, cancel := context.WithTimeout(parentCtx, c.cfg.Timeout)
	defer cancel()

	var lastErr error
	maxAttempts := c.cfg.MaxRetries + 1

	for attempt := 0; attempt < maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		start := c.clock.Now()
		resp, err := c.get(ctx, rawURL)

		status := 0
		if resp != nil {
			status = resp.StatusCode
		}
		c.logger.Debug("places upstream request",
			zap.Int("attempt", attempt+1),
			zap.Int("max_attempts", maxAttempts),
			zap.Int("status", status),
			zap.Duration("duration", c.clock.Now().Sub(start)),
			zap.Error(err),
		)

		wait := time.Duration(0)
		switch {
		case err != nil:
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return err
			}
			if !retry.IsTransientNetError(err) {
				return fmt.Errorf("places: request failed: %w", err)
			}
			lastErr = err
		case status >= 200 && status < 300:
			defer resp.Body.Close()
			if err := json.NewDecoder(io.LimitReader(resp.Body, maxJSONSize)).Decode(out); err != nil {
				return fmt.Errorf("places: decode upstream response: %w", err)
			}
			return nil
		default:
			se := &StatusError{
				Code:       status,
				Host:       c.host,
				RetryAfter: retry.ParseRetryAfter(resp.Header, c.clock.Now()),
			}
			_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64*1024))
			resp.Body.Close()
			if !retry.ShouldRetryStatus(status) {
				return se
			}
			lastErr = se
			wait = se.RetryAfter
		}

		if attempt == maxAttempts-1 {
			break
		}
		if wait <= 0 {
			wait = retry.Backoff(c.cfg.BaseBackoff, attempt, c.cfg.BaseBackoff)
		}
		c.logger.Debug("backing off before retry",
			zap.Duration("backoff", wait),
			zap.Int("next_attempt", attempt+2),
		)
		if err := clock.Sleep(ctx, c.clock, wait); err != nil {
			return err
		}
	}

	return fmt.Errorf("places: giving up after %d attempts: %w", maxAttempts, lastErr)
}
