package imageloader

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"gtg-gateway/internal/cache"
)

const maxImageSize = 10 * 1024 * 1024

// Fetcher loads the bytes behind an ordinary image URL.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (cache.Payload, error)
}

// HTTPFetcher fetches images with a plain GET. Any non-2xx status is a failure.
type HTTPFetcher struct {
	Client  *http.Client
	Timeout time.Duration
}

func (f HTTPFetcher) Fetch(parentCtx context.Context, url string) (cache.Payload, error) {
	client := f.Client
	if client == nil {
		client = http.DefaultClient
	}
	ctx := parentCtx
	if f.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(parentCtx, f.Timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return cache.Payload{}, fmt.Errorf("imageloader: build request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return cache.Payload{}, fmt.Errorf("imageloader: get %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return cache.Payload{}, fmt.Errorf("imageloader: get %s: status %d", url, resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxImageSize+1))
	if err != nil {
		return cache.Payload{}, fmt.Errorf("imageloader: read %s: %w", url, err)
	}
	if len(data) > maxImageSize {
		return cache.Payload{}, fmt.Errorf("imageloader: %s larger than %d bytes", url, maxImageSize)
	}

	ct := resp.Header.Get("Content-Type")
	if !strings.HasPrefix(ct, "image/") {
		ct = http.DetectContentType(data)
	}
	return cache.Payload{ContentType: ct, Data: data}, nil
}
