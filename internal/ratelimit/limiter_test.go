package ratelimit

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
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

func defaultLimits() TierLimits {
	return TierLimits{Window: 15 * time.Minute, PDF: 10, File: 30, Document: 200, General: 100}
}

func newTestLimiter(clock *fakeClock) *Limiter {
	return NewLimiter(NewMemoryStore(clock.Now), BuildTiers(defaultLimits()), nil)
}

func TestBuildTiers_StrictnessOrdering(t *testing.T) {
	tiers := BuildTiers(defaultLimits())
	assert.Less(t, tiers[TierPDF].Limit, tiers[TierFile].Limit)
	assert.Less(t, tiers[TierFile].Limit, tiers[TierDocument].Limit)
	assert.Equal(t, 100, tiers[TierGeneral].Limit)
}

func TestLimiter_SameVolumeRejectsStricterTierFirst(t *testing.T) {
	clock := &fakeClock{now: time.Unix(0, 0)}
	l := newTestLimiter(clock)
	ctx := context.Background()

	firstRejection := map[string]int{}
	for i := 1; i <= 250; i++ {
		for _, tier := range []string{TierPDF, TierFile, TierDocument} {
			d, err := l.Allow(ctx, tier, "10.0.0.1")
			require.NoError(t, err)
			if !d.Allowed && firstRejection[tier] == 0 {
				firstRejection[tier] = i
			}
		}
	}

	assert.Equal(t, 11, firstRejection[TierPDF])
	assert.Equal(t, 31, firstRejection[TierFile])
	assert.Equal(t, 201, firstRejection[TierDocument])
}

func TestLimiter_WindowResets(t *testing.T) {
	clock := &fakeClock{now: time.Unix(0, 0)}
	l := newTestLimiter(clock)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		d, err := l.Allow(ctx, TierPDF, "ip")
		require.NoError(t, err)
		assert.True(t, d.Allowed)
		assert.Equal(t, 9-i, d.Remaining)
	}
	d, _ := l.Allow(ctx, TierPDF, "ip")
	assert.False(t, d.Allowed)
	assert.Equal(t, 0, d.Remaining)

	clock.Advance(15 * time.Minute)
	d, _ = l.Allow(ctx, TierPDF, "ip")
	assert.True(t, d.Allowed)
	assert.Equal(t, 9, d.Remaining)
}

func TestLimiter_KeysAreIndependent(t *testing.T) {
	clock := &fakeClock{now: time.Unix(0, 0)}
	l := newTestLimiter(clock)
	ctx := context.Background()

	for i := 0; i < 11; i++ {
		_, _ = l.Allow(ctx, TierPDF, "a")
	}
	d, _ := l.Allow(ctx, TierPDF, "b")
	assert.True(t, d.Allowed)
	d, _ = l.Allow(ctx, TierFile, "a")
	assert.True(t, d.Allowed, "tiers count separately")
}

func TestLimiter_UnknownTier(t *testing.T) {
	l := newTestLimiter(&fakeClock{})
	_, err := l.Allow(context.Background(), "bogus", "ip")
	assert.Error(t, err)
}

func TestMemoryStore_SweepsExpiredWindows(t *testing.T) {
	clock := &fakeClock{now: time.Unix(0, 0)}
	s := NewMemoryStore(clock.Now)
	ctx := context.Background()

	_, _, _ = s.Increment(ctx, "a", time.Minute)
	_, _, _ = s.Increment(ctx, "b", time.Minute)
	assert.Equal(t, 2, s.Len())

	clock.Advance(2 * time.Minute)
	_, _, _ = s.Increment(ctx, "c", time.Minute)
	assert.Equal(t, 1, s.Len())
}

func TestMiddleware_Returns429WithHeaders(t *testing.T) {
	clock := &fakeClock{now: time.Unix(0, 0)}
	l := NewLimiter(NewMemoryStore(clock.Now), BuildTiers(TierLimits{
		Window: time.Minute, PDF: 2, File: 30, Document: 200, General: 100,
	}), nil)

	handler := l.Middleware(TierPDF)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	call := func() *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/api/pdf/extract", nil)
		req.RemoteAddr = "192.0.2.7:5555"
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec
	}

	first := call()
	assert.Equal(t, http.StatusOK, first.Code)
	assert.Equal(t, "2", first.Header().Get("ratelimit-limit"))
	assert.Equal(t, "1", first.Header().Get("ratelimit-remaining"))

	second := call()
	assert.Equal(t, http.StatusOK, second.Code)
	assert.Equal(t, "0", second.Header().Get("ratelimit-remaining"))

	third := call()
	assert.Equal(t, http.StatusTooManyRequests, third.Code)
	assert.Equal(t, "2", third.Header().Get("ratelimit-limit"))
	assert.Equal(t, "0", third.Header().Get("ratelimit-remaining"))
	assert.Equal(t, "60", third.Header().Get("Retry-After"))

	var body map[string]any
	require.NoError(t, json.Unmarshal(third.Body.Bytes(), &body))
	assert.Equal(t, false, body["success"])
	assert.Contains(t, body["message"], "Too many PDF extraction requests")
}

type failingStore struct{}

func (failingStore) Increment(context.Context, string, time.Duration) (int64, time.Duration, error) {
	return 0, 0, errors.New("connection refused")
}

func TestMiddleware_FailsOpenOnStoreError(t *testing.T) {
	l := NewLimiter(failingStore{}, BuildTiers(defaultLimits()), nil)
	handler := l.Middleware(TierPDF)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusNoContent, rec.Code)
}
