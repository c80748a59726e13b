package cache

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func TestStore_GetSetInvalidate(t *testing.T) {
	s := New[string]()

	_, ok := s.Get("missing")
	assert.False(t, ok)

	s.Set("a", "one")
	got, ok := s.Get("a")
	require.True(t, ok)
	assert.Equal(t, "one", got)

	s.Set("a", "two")
	got, _ = s.Get("a")
	assert.Equal(t, "two", got)

	s.Invalidate("a")
	_, ok = s.Get("a")
	assert.False(t, ok)
	assert.Equal(t, 0, s.Len())
}

func TestStore_PointerIdentity(t *testing.T) {
	type snapshot struct{ ID string }
	s := New[*snapshot]()
	stored := &snapshot{ID: "x"}
	s.Set("k", stored)

	got, ok := s.Get("k")
	require.True(t, ok)
	assert.Same(t, stored, got)
}

func TestStore_InvalidatePrefix(t *testing.T) {
	s := New[int]()
	s.Set("sess-1:homepage-overview", 1)
	s.Set("sess-1:other", 2)
	s.Set("sess-2:homepage-overview", 3)

	removed := s.InvalidatePrefix("sess-1:")
	assert.Equal(t, 2, removed)
	assert.Equal(t, 1, s.Len())

	_, ok := s.Get("sess-2:homepage-overview")
	assert.True(t, ok)
}

func TestStore_TTL(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	s := New[string](WithTTL(time.Minute), WithClock(clock.Now))

	s.Set("k", "v")
	clock.Advance(59 * time.Second)
	_, ok := s.Get("k")
	assert.True(t, ok)

	clock.Advance(time.Second)
	_, ok = s.Get("k")
	assert.False(t, ok)
	assert.Equal(t, 0, s.Len(), "expired entry is dropped on read")
}

func TestStore_Purge(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	s := New[int](WithTTL(time.Minute), WithClock(clock.Now))

	s.Set("old", 1)
	clock.Advance(2 * time.Minute)
	s.Set("new", 2)

	assert.Equal(t, 1, s.Purge())
	assert.Equal(t, 1, s.Len())

	assert.Equal(t, 0, New[int]().Purge())
}

func TestStore_Concurrent(t *testing.T) {
	s := New[int]()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			key := fmt.Sprintf("s%d:k", i%5)
			s.Set(key, i)
			_, _ = s.Get(key)
			if i%10 == 0 {
				s.InvalidatePrefix("s0:")
			}
		}(i)
	}
	wg.Wait()
	assert.LessOrEqual(t, s.Len(), 5)
}
