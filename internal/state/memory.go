package state

import (
	"context"
	"strings"
	"sync"
	"time"
)

// MemoryStore is a single-process Store. It is suitable for tests and
// single-worker deployments; multi-process deployments need the Redis
// store.
type MemoryStore struct {
	mu       sync.Mutex
	values   map[string][]byte
	counters map[string]*windowCounter
	now      func() time.Time
}

type windowCounter struct {
	count   int64
	expires time.Time
}

// MemoryOption customizes a MemoryStore.
type MemoryOption func(*MemoryStore)

// WithClock overrides the time source, letting tests roll windows forward.
func WithClock(now func() time.Time) MemoryOption {
	return func(s *MemoryStore) { s.now = now }
}

// NewMemoryStore builds an empty in-process store.
func NewMemoryStore(opts ...MemoryOption) *MemoryStore {
	s := &MemoryStore{
		values:   make(map[string][]byte),
		counters: make(map[string]*windowCounter),
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Get returns the stored value for key.
func (s *MemoryStore) Get(_ context.Context, key string) ([]byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	val, ok := s.values[key]
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), val...), true, nil
}

// Update applies fn under the store lock.
func (s *MemoryStore) Update(_ context.Context, key string, fn UpdateFunc) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, found := s.values[key]
	next, err := fn(append([]byte(nil), cur...), found)
	if err != nil {
		return nil, err
	}
	s.values[key] = next
	return append([]byte(nil), next...), nil
}

// Keys lists keys with the given prefix.
func (s *MemoryStore) Keys(_ context.Context, prefix string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var keys []string
	for k := range s.values {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	return keys, nil
}

// IncrWindow increments the counter for key, resetting it once expired.
func (s *MemoryStore) IncrWindow(_ context.Context, key string, ttl time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	c, ok := s.counters[key]
	if !ok || now.After(c.expires) {
		c = &windowCounter{expires: now.Add(ttl)}
		s.counters[key] = c
	}
	c.count++
	return c.count, nil
}
