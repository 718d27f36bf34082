// Package session provides the session-scoped key/value storage behind failure counters,
// host cooldowns and fetch budgets. Contents live as long as the browsing session.
package session

import (
	"context"
	"time"
)

// Store is a string key/value store. A ttl of zero means "for the rest of the session".
//
// The counter operations are atomic against every other caller of the same backend,
// including other processes sharing a Redis store. Values that do not parse as integers
// count as 0.
type Store interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Delete(ctx context.Context, key string) error

	// SetIfAbsent sets key only when it has no value. It reports whether it wrote.
	SetIfAbsent(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
	// DecrIfPositive decrements key when its value is above zero. A missing key starts
	// at initial. It returns the value after the call and whether it decremented.
	DecrIfPositive(ctx context.Context, key string, initial int, ttl time.Duration) (int, bool, error)
	// IncrIfBelow increments key when its value is below limit. A missing key starts at 0.
	IncrIfBelow(ctx context.Context, key string, limit int, ttl time.Duration) (int, bool, error)
}

// Scoped prefixes every key with "<scope>:" so several sessions can share one backend.
type Scoped struct {
	inner Store
	scope string
}

func NewScoped(inner Store, scope string) *Scoped {
	return &Scoped{inner: inner, scope: scope}
}

func (s *Scoped) key(k string) string { return s.scope + ":" + k }

func (s *Scoped) Get(ctx context.Context, key string) (string, bool, error) {
	return s.inner.Get(ctx, s.key(key))
}

func (s *Scoped) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	return s.inner.Set(ctx, s.key(key), value, ttl)
}

func (s *Scoped) Delete(ctx context.Context, key string) error {
	return s.inner.Delete(ctx, s.key(key))
}

func (s *Scoped) SetIfAbsent(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	return s.inner.SetIfAbsent(ctx, s.key(key), value, ttl)
}

func (s *Scoped) DecrIfPositive(ctx context.Context, key string, initial int, ttl time.Duration) (int, bool, error) {
	return s.inner.DecrIfPositive(ctx, s.key(key), initial, ttl)
}

func (s *Scoped) IncrIfBelow(ctx context.Context, key string, limit int, ttl time.Duration) (int, bool, error) {
	return s.inner.IncrIfBelow(ctx, s.key(key), limit, ttl)
}
