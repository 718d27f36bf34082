// Package retry holds the backoff arithmetic and failure classification shared by the
// image loader, the photo-reference queue and the places client.
package retry

import (
	"errors"
	"math"
	"math/rand/v2"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// maxExponent caps 2^n so large attempt counts cannot overflow a Duration.
const maxExponent = 20

// Exponential returns base * 2^exp, capped at limit when limit > 0.
func Exponential(base time.Duration, exp int, limit time.Duration) time.Duration {
	if base <= 0 {
		return 0
	}
	if exp < 0 {
		exp = 0
	}
	if exp > maxExponent {
		exp = maxExponent
	}
	d := time.Duration(float64(base) * math.Pow(2, float64(exp)))
	if limit > 0 && d > limit {
		d = limit
	}
	return d
}

// [0, span)
func Jitter(span time.Duration) time.Duration {
	if span <= 0 {
		return 0
	}
	return time.Duration(rand.Int64N(int64(span)))
}

// Backoff is base * 2^exp plus up to jitter of random slack.
//
// Example progression (base=500ms, jitter=500ms):
// exp 0: 500-1000ms
// exp 1: 1000-1500ms
// exp 2: 2000-2500ms
func Backoff(base time.Duration, exp int, jitter time.Duration) time.Duration {
	return Exponential(base, exp, 0) + Jitter(jitter)
}

// Cooldown is the host cooldown window after failures consecutive failures:
// min(limit, base * 2^(failures-1)).
func Cooldown(base, limit time.Duration, failures int) time.Duration {
	if failures < 1 {
		return 0
	}
	return Exponential(base, failures-1, limit)
}

// ShouldRetryStatus reports whether an HTTP status is worth another attempt.
func ShouldRetryStatus(status int) bool {
	switch {
	case status == 0:
		return true
	case status == http.StatusTooManyRequests:
		return true
	case status == http.StatusRequestTimeout:
		return true
	case status >= 500 && status <= 599:
		return true
	default:
		return false
	}
}

// errors a retry may fix
func IsTransientNetError(err error) bool {
	if err == nil {
		return false
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return dnsErr.IsTimeout || dnsErr.IsTemporary
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		if opErr.Op == "dial" || opErr.Op == "read" || opErr.Op == "write" {
			return true
		}
	}

	// wrapped errors sometimes only survive as text
	errStr := strings.ToLower(err.Error())
	for _, pattern := range []string{
		"connection refused",
		"connection reset",
		"broken pipe",
		"no such host",
		"temporary failure",
	} {
		if strings.Contains(errStr, pattern) {
			return true
		}
	}
	return false
}

// maxRetryAfter caps how long a Retry-After header may push a host into cooldown.
const maxRetryAfter = 5 * time.Minute

// ParseRetryAfter extracts the delay from a Retry-After header (seconds or HTTP date).
// Returns 0 if the header is missing or invalid.
func ParseRetryAfter(h http.Header, now time.Time) time.Duration {
	if h == nil {
		return 0
	}
	v := strings.TrimSpace(h.Get("Retry-After"))
	if v == "" {
		return 0
	}

	if seconds, err := strconv.Atoi(v); err == nil {
		if seconds <= 0 {
			return 0
		}
		d := time.Duration(seconds) * time.Second
		if d > maxRetryAfter {
			d = maxRetryAfter
		}
		return d
	}

	if t, err := http.ParseTime(v); err == nil {
		d := t.Sub(now)
		if d <= 0 {
			return 0
		}
		if d > maxRetryAfter {
			d = maxRetryAfter
		}
		return d
	}
	return 0
}
