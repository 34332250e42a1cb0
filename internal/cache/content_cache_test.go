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

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(d)
}

func TestHash(t *testing.T) {
	a := Hash([]byte("%PDF-1.7 register map"))
	b := Hash([]byte("%PDF-1.7 register map"))
	c := Hash([]byte("%PDF-1.7 register maP"))

	assert.Len(t, a, 64)
	assert.Regexp(t, "^[0-9a-f]{64}$", a)
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.Equal(t, "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855", Hash(nil))
}

func TestContentCache_EvictsOldestInsertion(t *testing.T) {
	c := New[int](Options{MaxEntries: 3})

	for i := 0; i < 4; i++ {
		c.Set(fmt.Sprintf("k%d", i), i)
	}

	assert.Equal(t, 3, c.Len())
	assert.False(t, c.Has("k0"))
	for i := 1; i < 4; i++ {
		v, ok := c.Get(fmt.Sprintf("k%d", i))
		require.True(t, ok)
		assert.Equal(t, i, v)
	}
	assert.Equal(t, int64(1), c.Stats().Evictions)
}

func TestContentCache_ReadsDoNotRefreshOrder(t *testing.T) {
	c := New[string](Options{MaxEntries: 2})
	c.Set("a", "1")
	c.Set("b", "2")

	_, ok := c.Get("a")
	require.True(t, ok)

	c.Set("c", "3")

	assert.False(t, c.Has("a"), "insertion order, not access order, decides eviction")
	assert.True(t, c.Has("b"))
	assert.True(t, c.Has("c"))
}

func TestContentCache_ResetKeyIsFreshInsertion(t *testing.T) {
	c := New[string](Options{MaxEntries: 2})
	c.Set("a", "1")
	c.Set("b", "2")
	c.Set("a", "1b")
	c.Set("c", "3")

	assert.Equal(t, 2, c.Len())
	assert.False(t, c.Has("b"))
	v, ok := c.Get("a")
	require.True(t, ok)
	assert.Equal(t, "1b", v)
}

func TestContentCache_TTLExpiry(t *testing.T) {
	clock := newFakeClock()
	c := New[string](Options{TTL: 30 * time.Minute, Now: clock.Now})

	c.Set("doc", "result")
	clock.Advance(29 * time.Minute)
	_, ok := c.Get("doc")
	assert.True(t, ok)

	clock.Advance(2 * time.Minute)
	_, ok = c.Get("doc")
	assert.False(t, ok)
	assert.Equal(t, 0, c.Len(), "expired entry is removed on read")
	assert.Equal(t, int64(1), c.Stats().Expired)
}

func TestContentCache_HasAndTake(t *testing.T) {
	clock := newFakeClock()
	c := New[int](Options{TTL: time.Minute, Now: clock.Now})

	c.Set("x", 7)
	assert.True(t, c.Has("x"))

	v, ok := c.Take("x")
	require.True(t, ok)
	assert.Equal(t, 7, v)
	assert.False(t, c.Has("x"))

	c.Set("y", 1)
	clock.Advance(2 * time.Minute)
	_, ok = c.Take("y")
	assert.False(t, ok)
}

func TestContentCache_ClearAndDelete(t *testing.T) {
	c := New[int](Options{})
	c.Set("a", 1)
	c.Set("b", 2)
	c.Delete("a")
	assert.False(t, c.Has("a"))
	assert.Equal(t, 1, c.Len())

	c.Clear()
	assert.Equal(t, 0, c.Len())
	assert.False(t, c.Has("b"))
}

func TestContentCache_Defaults(t *testing.T) {
	c := New[int](Options{TTL: -1, MaxEntries: 0})
	stats := c.Stats()
	assert.Equal(t, DefaultMaxEntries, stats.MaxEntries)
	assert.Equal(t, int64(DefaultTTL/time.Second), stats.TTLSeconds)
}

func TestContentCache_ConcurrentAccessStaysBounded(t *testing.T) {
	c := New[int](Options{MaxEntries: 10})

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				key := fmt.Sprintf("w%d-%d", w, i)
				c.Set(key, i)
				c.Get(key)
				assert.LessOrEqual(t, c.Len(), 10)
			}
		}(w)
	}
	wg.Wait()

	assert.Equal(t, 10, c.Len())
}
