package places

import (
	"context"
	"fmt"
	"net/url"

	"go.uber.org/zap"

	"gtg-gateway/internal/cache"
)

const (
	textSearchPath = "/maps/api/place/textsearch/json"
	detailsPath    = "/maps/api/place/details/json"

	detailFields = "place_id,name,geometry,types,business_status,formatted_address,photos,opening_hours"

	// MaxResults caps every aggregated list.
	MaxResults = 100
	// maxSeedCached caps how many places of one text search are kept in the cache.
	maxSeedCached = 50
)

// TextSearch runs a text query and returns the places that have at least one photo.
// Results are cached under places:text:<query> and concurrent identical queries share one call.
func (c *Client) TextSearch(ctx context.Context, query string) ([]Place, error) {
	key := cache.PlaceTextKey(query)

	var cached []Place
	if c.cache != nil && c.cache.GetJSON(ctx, key, &cached) && len(cached) > 0 {
		return cached, nil
	}

	v, err, shared := c.group.Do(key, func() (any, error) {
		q := url.Values{}
		q.Set("query", query)
		q.Set("key", c.cfg.APIKey)

		var resp textSearchResponse
		if err := c.getJSON(ctx, c.cfg.BaseURL+textSearchPath+"?"+q.Encode(), &resp); err != nil {
			return nil, err
		}
		if resp.Status != "OK" && resp.Status != "ZERO_RESULTS" {
			return nil, &APIError{Status: resp.Status, Message: resp.ErrorMessage}
		}

		out := make([]Place, 0, len(resp.Results))
		for _, r := range resp.Results {
			p := c.normalize(r)
			if !p.HasPhoto() {
				continue
			}
			out = append(out, p)
		}

		if c.cache != nil && len(out) > 0 {
			c.cache.PutJSON(ctx, key, out[:min(len(out), maxSeedCached)], cache.PlaceTextTTL)
		}
		return out, nil
	})
	if err != nil {
		return nil, fmt.Errorf("places: text search %q: %w", query, err)
	}

	c.logger.Debug("text_search",
		zap.String("query", query),
		zap.Int("count", len(v.([]Place))),
		zap.Bool("shared", shared),
	)
	return v.([]Place), nil
}

// Details fetches one place by id, cached under places:detail:<id> for a day.
func (c *Client) Details(ctx context.Context, placeID string) (Place, error) {
	key := cache.PlaceDetailKey(placeID)

	var cached Place
	if c.cache != nil && c.cache.GetJSON(ctx, key, &cached) {
		return cached, nil
	}

	v, err, _ := c.group.Do(key, func() (any, error) {
		q := url.Values{}
		q.Set("place_id", placeID)
		q.Set("fields", detailFields)
		q.Set("key", c.cfg.APIKey)

		var resp detailsResponse
		if err := c.getJSON(ctx, c.cfg.BaseURL+detailsPath+"?"+q.Encode(), &resp); err != nil {
			return Place{}, err
		}
		if resp.Status != "OK" {
			return Place{}, &APIError{Status: resp.Status, Message: resp.ErrorMessage}
		}

		p := c.normalize(resp.Result)
		if c.cache != nil {
			c.cache.PutJSON(ctx, key, p, cache.PlaceDetailTTL)
		}
		return p, nil
	})
	if err != nil {
		return Place{}, fmt.Errorf("places: details %q: %w", placeID, err)
	}
	return v.(Place), nil
}

// SearchMany runs each seed query in turn and merges the results, de-duplicated by place id,
// until limit places are collected. A failing seed is logged and skipped; an error is returned
// only when nothing could be collected and at least one seed failed.
func (c *Client) SearchMany(ctx context.Context, seeds []string, limit int) ([]Place, error) {
	if limit <= 0 || limit > MaxResults {
		limit = MaxResults
	}

	all := make([]Place, 0, limit)
	seen := make(map[string]struct{})
	var lastErr error

	for _, seed := range seeds {
		if err := ctx.Err(); err != nil {
			return all, err
		}
		results, err := c.TextSearch(ctx, seed)
		if err != nil {
			c.logger.Warn("text_search_seed_failed", zap.String("query", seed), zap.Error(err))
			lastErr = err
			continue
		}
		for _, p := range results {
			if _, dup := seen[p.PlaceID]; dup {
				continue
			}
			seen[p.PlaceID] = struct{}{}
			all = append(all, p)
			if len(all) >= limit {
				return all, nil
			}
		}
	}

	if len(all) == 0 && lastErr != nil {
		return nil, lastErr
	}
	return all, nil
}
