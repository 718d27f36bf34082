// Package cache implements the blob cache: a TTL key/value store for photo blobs and
// JSON API results, backed by memory, Redis or SQLite.
package cache

import (
	"context"
	"time"
)

// Payload is a cached value: raw bytes plus a declared content type, so the same cache can
// hold an image blob or a JSON document.
type Payload struct {
	ContentType string `json:"type"`
	Data        []byte `json:"data"`
}

// Entry is one stored record.
type Entry struct {
	Key      string        `json:"key"`
	StoredAt time.Time     `json:"stored_at"`
	TTL      time.Duration `json:"ttl"`
	Payload  Payload       `json:"payload"`
}

// Expired reports whether the entry is logically absent at now.
func (e Entry) Expired(now time.Time) bool {
	return now.Sub(e.StoredAt) > e.TTL
}

// Store is implemented by the storage backends. Backends persist entries as given and do not
// apply TTL semantics themselves; BlobCache does.
type Store interface {
	// Get returns (entry, true, nil) when the key exists and (Entry{}, false, nil) on a clean miss.
	Get(ctx context.Context, key string) (Entry, bool, error)
	// Set overwrites any existing entry for e.Key.
	Set(ctx context.Context, e Entry) error
	Delete(ctx context.Context, key string) error
	// Keys lists every stored key, in no particular order.
	Keys(ctx context.Context) ([]string, error)
}
