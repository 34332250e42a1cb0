package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/spherical/register-extractor/internal/cache"
)

type window struct {
	count   int64
	resetAt time.Time
}

// MemoryStore keeps fixed-window counters in process memory.
type MemoryStore struct {
	mu        sync.Mutex
	windows   map[string]*window
	now       func() time.Time
	lastSweep time.Time
}

// NewMemoryStore creates a store. A nil clock uses time.Now.
func NewMemoryStore(now func() time.Time) *MemoryStore {
	if now == nil {
		now = time.Now
	}
	return &MemoryStore{
		windows:   make(map[string]*window),
		now:       now,
		lastSweep: now(),
	}
}

// Increment implements Store.
func (s *MemoryStore) Increment(_ context.Context, key string, length time.Duration) (int64, time.Duration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if now.Sub(s.lastSweep) >= length {
		s.sweep(now)
	}

	w, ok := s.windows[key]
	if !ok || !now.Before(w.resetAt) {
		w = &window{resetAt: now.Add(length)}
		s.windows[key] = w
	}
	w.count++

	return w.count, w.resetAt.Sub(now), nil
}

// Len returns the number of tracked keys.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.windows)
}

func (s *MemoryStore) sweep(now time.Time) {
	for k, w := range s.windows {
		if !now.Before(w.resetAt) {
			delete(s.windows, k)
		}
	}
	s.lastSweep = now
}

// RedisStore shares counters across instances through Redis.
type RedisStore struct {
	client *cache.RedisClient
}

// NewRedisStore creates a Redis-backed store
func NewRedisStore(client *cache.RedisClient) *RedisStore {
	return &RedisStore{client: client}
}

// Increment implements Store.
func (s *RedisStore) Increment(ctx context.Context, key string, length time.Duration) (int64, time.Duration, error) {
	return s.client.IncrWindow(ctx, "rl:"+key, length)
}
