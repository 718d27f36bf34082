package session

import (
	"context"
	"strconv"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

const DefaultIdleTTL = 12 * time.Hour

// MemoryStore keeps session values in process memory. Zero-ttl values expire after the
// idle TTL, like RedisStore.
type MemoryStore struct {
	items   *gocache.Cache
	idleTTL time.Duration

	// counters serializes the read-modify-write operations; plain Set takes it too so a
	// counter update never interleaves with an overwrite.
	counters sync.Mutex
}

// NewMemoryStore returns a store with DefaultIdleTTL.
func NewMemoryStore() *MemoryStore {
	return NewMemoryStoreTTL(DefaultIdleTTL)
}

// NewMemoryStoreTTL returns a store whose zero-ttl values expire after idle.
func NewMemoryStoreTTL(idle time.Duration) *MemoryStore {
	if idle <= 0 {
		idle = DefaultIdleTTL
	}
	cleanup := idle / 2
	if cleanup > 10*time.Minute {
		cleanup = 10 * time.Minute
	}
	return &MemoryStore{
		items:   gocache.New(idle, cleanup),
		idleTTL: idle,
	}
}

func (s *MemoryStore) ttl(d time.Duration) time.Duration {
	if d <= 0 {
		return s.idleTTL
	}
	return d
}

func (s *MemoryStore) Get(_ context.Context, key string) (string, bool, error) {
	v, ok := s.items.Get(key)
	if !ok {
		return "", false, nil
	}
	str, _ := v.(string)
	return str, true, nil
}

func (s *MemoryStore) Set(_ context.Context, key, value string, ttl time.Duration) error {
	s.counters.Lock()
	s.items.Set(key, value, s.ttl(ttl))
	s.counters.Unlock()
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, key string) error {
	s.items.Delete(key)
	return nil
}

func (s *MemoryStore) SetIfAbsent(_ context.Context, key, value string, ttl time.Duration) (bool, error) {
	s.counters.Lock()
	defer s.counters.Unlock()
	return s.items.Add(key, value, s.ttl(ttl)) == nil, nil
}

func (s *MemoryStore) DecrIfPositive(_ context.Context, key string, initial int, ttl time.Duration) (int, bool, error) {
	s.counters.Lock()
	defer s.counters.Unlock()

	cur := s.intValue(key, initial)
	if cur <= 0 {
		return cur, false, nil
	}
	s.items.Set(key, strconv.Itoa(cur-1), s.ttl(ttl))
	return cur - 1, true, nil
}

func (s *MemoryStore) IncrIfBelow(_ context.Context, key string, limit int, ttl time.Duration) (int, bool, error) {
	s.counters.Lock()
	defer s.counters.Unlock()

	cur := s.intValue(key, 0)
	if cur >= limit {
		return cur, false, nil
	}
	s.items.Set(key, strconv.Itoa(cur+1), s.ttl(ttl))
	return cur + 1, true, nil
}

// intValue must be called with counters held.
func (s *MemoryStore) intValue(key string, def int) int {
	v, ok := s.items.Get(key)
	if !ok {
		return def
	}
	str, _ := v.(string)
	n, err := strconv.Atoi(str)
	if err != nil {
		return 0
	}
	return n
}

// Flush drops every value, ending the session.
func (s *MemoryStore) Flush() {
	s.items.Flush()
}
