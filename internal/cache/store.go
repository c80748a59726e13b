// Package cache provides a small in-memory keyed store with optional expiry.
package cache

import (
	"strings"
	"sync"
	"time"
)

// Store is a concurrency-safe map of values with an optional time to live.
// A zero TTL keeps entries until they are invalidated.
type Store[V any] struct {
	mu      sync.RWMutex
	entries map[string]entry[V]
	ttl     time.Duration
	now     func() time.Time
}

type entry[V any] struct {
	value    V
	storedAt time.Time
}

type Option func(*options)

type options struct {
	ttl time.Duration
	now func() time.Time
}

// WithTTL expires entries ttl after they were stored.
func WithTTL(ttl time.Duration) Option {
	return func(o *options) { o.ttl = ttl }
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

func New[V any](opts ...Option) *Store[V] {
	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	return &Store[V]{
		entries: make(map[string]entry[V]),
		ttl:     o.ttl,
		now:     o.now,
	}
}

// Get returns the value stored under key. Expired entries are reported as
// missing and removed.
func (s *Store[V]) Get(key string) (V, bool) {
	s.mu.RLock()
	e, ok := s.entries[key]
	s.mu.RUnlock()

	var zero V
	if !ok {
		return zero, false
	}
	if s.expired(e) {
		s.mu.Lock()
		if current, ok := s.entries[key]; ok && s.expired(current) {
			delete(s.entries, key)
		}
		s.mu.Unlock()
		return zero, false
	}
	return e.value, true
}

// Set replaces the value stored under key.
func (s *Store[V]) Set(key string, value V) {
	s.mu.Lock()
	s.entries[key] = entry[V]{value: value, storedAt: s.now()}
	s.mu.Unlock()
}

func (s *Store[V]) Invalidate(key string) {
	s.mu.Lock()
	delete(s.entries, key)
	s.mu.Unlock()
}

// InvalidatePrefix drops every key starting with prefix and returns how many
// entries were removed.
func (s *Store[V]) InvalidatePrefix(prefix string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for key := range s.entries {
		if strings.HasPrefix(key, prefix) {
			delete(s.entries, key)
			removed++
		}
	}
	return removed
}

// Purge removes expired entries.
func (s *Store[V]) Purge() int {
	if s.ttl <= 0 {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for key, e := range s.entries {
		if s.expired(e) {
			delete(s.entries, key)
			removed++
		}
	}
	return removed
}

// Len counts stored entries, including ones that expired but were not yet
// purged.
func (s *Store[V]) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

func (s *Store[V]) expired(e entry[V]) bool {
	return s.ttl > 0 && s.now().Sub(e.storedAt) >= s.ttl
}
