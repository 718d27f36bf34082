package cache

import (
	"context"
	"sync"
)

// MemoryStore keeps entries in a map. Used in development and tests.
type MemoryStore struct {
	mu    sync.RWMutex
	items map[string]Entry
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{items: make(map[string]Entry)}
}

func (s *MemoryStore) Get(_ context.Context, key string) (Entry, bool, error) {
	s.mu.RLock()
	e, ok := s.items[key]
	s.mu.RUnlock()
	if !ok {
		return Entry{}, false, nil
	}
	e.Payload.Data = cloneBytes(e.Payload.Data)
	return e, true, nil
}

func (s *MemoryStore) Set(_ context.Context, e Entry) error {
	// copy to decouple from caller's buffer
	e.Payload.Data = cloneBytes(e.Payload.Data)

	s.mu.Lock()
	s.items[e.Key] = e
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	delete(s.items, key)
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Keys(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]string, 0, len(s.items))
	for k := range s.items {
		keys = append(keys, k)
	}
	return keys, nil
}

// Len returns the number of stored entries, expired or not.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items)
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
