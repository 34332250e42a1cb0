// Package ratelimit enforces per-client request limits in fixed windows,
// with stricter tiers for more expensive routes.
package ratelimit

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/spherical/register-extractor/internal/observability"
)

// Tier names.
const (
	TierPDF      = "pdf"
	TierFile     = "file"
	TierDocument = "document"
	TierGeneral  = "general"
)

// Tier is one named limit.
type Tier struct {
	Name    string
	Limit   int
	Window  time.Duration
	Message string
}

// TierLimits are the configured request counts per window.
type TierLimits struct {
	Window   time.Duration
	PDF      int
	File     int
	Document int
	General  int
}

// BuildTiers expands limits into the four named tiers.
func BuildTiers(l TierLimits) map[string]Tier {
	return map[string]Tier{
		TierPDF: {
			Name: TierPDF, Limit: l.PDF, Window: l.Window,
			Message: "Too many PDF extraction requests, please try again later.",
		},
		TierFile: {
			Name: TierFile, Limit: l.File, Window: l.Window,
			Message: "Too many file parsing requests, please try again later.",
		},
		TierDocument: {
			Name: TierDocument, Limit: l.Document, Window: l.Window,
			Message: "Too many document requests, please try again later.",
		},
		TierGeneral: {
			Name: TierGeneral, Limit: l.General, Window: l.Window,
			Message: "Too many requests from this IP, please try again later.",
		},
	}
}

// Store counts hits per key within a window.
type Store interface {
	// Increment records a hit and returns the count so far in the current
	// window and the time until that window resets.
	Increment(ctx context.Context, key string, window time.Duration) (int64, time.Duration, error)
}

// Decision is the outcome of one Allow call.
type Decision struct {
	Allowed   bool
	Limit     int
	Remaining int
	Reset     time.Duration
}

// ResetSeconds rounds the reset interval up to whole seconds.
func (d Decision) ResetSeconds() int {
	return int(math.Ceil(d.Reset.Seconds()))
}

// Limiter applies tiers against a shared Store
type Limiter struct {
	store  Store
	tiers  map[string]Tier
	logger *observability.Logger
}

// NewLimiter creates a limiter over the given store and tiers.
func NewLimiter(store Store, tiers map[string]Tier, logger *observability.Logger) *Limiter {
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &Limiter{
		store:  store,
		tiers:  tiers,
		logger: logger.WithComponent("ratelimit"),
	}
}

// Tier returns the named tier.
func (l *Limiter) Tier(name string) (Tier, bool) {
	t, ok := l.tiers[name]
	return t, ok
}

// Allow records a hit for key under tier and reports whether it is within the limit.
func (l *Limiter) Allow(ctx context.Context, tierName, key string) (Decision, error) {
	tier, ok := l.tiers[tierName]
	if !ok {
		return Decision{}, fmt.Errorf("unknown rate limit tier %q", tierName)
	}

	count, reset, err := l.store.Increment(ctx, tier.Name+":"+key, tier.Window)
	if err != nil {
		return Decision{Allowed: true, Limit: tier.Limit, Remaining: tier.Limit}, fmt.Errorf("rate limit store: %w", err)
	}

	remaining := tier.Limit - int(count)
	if remaining < 0 {
		remaining = 0
	}

	return Decision{
		Allowed:   count <= int64(tier.Limit),
		Limit:     tier.Limit,
		Remaining: remaining,
		Reset:     reset,
	}, nil
}
