package places

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"gtg-gateway/internal/cache"
	"gtg-gateway/internal/retry"
)

const photoPath = "/maps/api/place/photo"

// PhotoURL builds the photo endpoint URL for ref. An empty key leaves the key parameter out,
// which is how URLs handed to clients are built.
func PhotoURL(baseURL, ref string, maxWidth int, key string) string {
	q := url.Values{}
	q.Set("maxwidth", strconv.Itoa(maxWidth))
	q.Set("photoreference", ref)
	if key != "" {
		q.Set("key", key)
	}
	return strings.TrimRight(baseURL, "/") + photoPath + "?" + q.Encode()
}

// ReferenceFromURL extracts the photo reference from a photo endpoint URL. It returns false
// for every other URL, which marks it as an ordinary image.
func ReferenceFromURL(raw string) (string, bool) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", false
	}
	ref := u.Query().Get("photoreference")
	if ref == "" || !strings.HasSuffix(u.Path, photoPath) {
		return "", false
	}
	return ref, true
}

// PhotoURL builds a keyless photo URL against this client's base URL.
func (c *Client) PhotoURL(ref string) string {
	return PhotoURL(c.cfg.BaseURL, ref, c.cfg.MaxWidth, "")
}

// FetchPhoto exchanges a photo reference for image bytes. It makes exactly one attempt; any
// non-2xx status is a *StatusError naming the host that sent it, after redirects.
func (c *Client) FetchPhoto(parentCtx context.Context, ref string) (cache.Payload, error) {
	ctx, cancel := context.WithTimeout(parentCtx, c.cfg.Timeout)
	defer cancel()

	resp, err := c.get(ctx, PhotoURL(c.cfg.BaseURL, ref, c.cfg.MaxWidth, c.cfg.APIKey))
	if err != nil {
		return cache.Payload{}, fmt.Errorf("places: photo request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64*1024))
		host := c.host
		if resp.Request != nil && resp.Request.URL != nil {
			host = resp.Request.URL.Host
		}
		se := &StatusError{
			Code:       resp.StatusCode,
			Host:       host,
			RetryAfter: retry.ParseRetryAfter(resp.Header, c.clock.Now()),
		}
		c.logger.Warn("photo_fetch_status",
			zap.String("photo_ref", ref),
			zap.String("host", host),
			zap.Int("status", resp.StatusCode),
			zap.Duration("retry_after", se.RetryAfter),
		)
		return cache.Payload{}, se
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxPhotoSize+1))
	if err != nil {
		return cache.Payload{}, fmt.Errorf("places: read photo body: %w", err)
	}
	if len(data) > maxPhotoSize {
		return cache.Payload{}, fmt.Errorf("places: photo larger than %d bytes", maxPhotoSize)
	}
	if len(data) == 0 {
		return cache.Payload{}, fmt.Errorf("places: empty photo body")
	}

	ct := resp.Header.Get("Content-Type")
	if !strings.HasPrefix(ct, "image/") {
		ct = http.DetectContentType(data)
	}
	if !strings.HasPrefix(ct, "image/") {
		return cache.Payload{}, fmt.Errorf("places: photo endpoint returned %q", ct)
	}
	return cache.Payload{ContentType: ct, Data: data}, nil
}
