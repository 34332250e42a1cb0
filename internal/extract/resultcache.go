package extract

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/spherical/register-extractor/internal/cache"
	"github.com/spherical/register-extractor/internal/domain"
	"github.com/spherical/register-extractor/internal/observability"
)

const resultKeyPrefix = "result:"

// ResultCache memoizes finished extraction results by content hash. The
// in-process ContentCache is authoritative; Redis, when configured, lets
// instances share results.
type ResultCache struct {
	local  *cache.ContentCache[*domain.ExtractionResult]
	remote *cache.RedisClient
	ttl    time.Duration
	logger *observability.Logger
}

// NewResultCache creates a result cache. remote may be nil.
func NewResultCache(local *cache.ContentCache[*domain.ExtractionResult], remote *cache.RedisClient, ttl time.Duration, logger *observability.Logger) *ResultCache {
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &ResultCache{
		local:  local,
		remote: remote,
		ttl:    ttl,
		logger: logger.WithComponent("result_cache"),
	}
}

// Lookup returns the cached result for a content hash.
func (c *ResultCache) Lookup(ctx context.Context, key string) (*domain.ExtractionResult, bool) {
	if res, ok := c.local.Get(key); ok {
		return res, true
	}
	if c.remote == nil {
		return nil, false
	}

	data, err := c.remote.Get(ctx, resultKeyPrefix+key)
	if err != nil {
		if !errors.Is(err, cache.ErrCacheMiss) {
			c.logger.Warn().Err(err).Msg("Remote result cache read failed")
		}
		return nil, false
	}

	var res domain.ExtractionResult
	if err := json.Unmarshal(data, &res); err != nil {
		c.logger.Warn().Err(err).Msg("Discarding undecodable remote cache entry")
		return nil, false
	}
	c.local.Set(key, &res)
	return &res, true
}

// Store records a finished result. The remote write is best effort and does
// not hold up the caller.
func (c *ResultCache) Store(key string, res *domain.ExtractionResult) {
	c.local.Set(key, res)
	if c.remote == nil {
		return
	}

	data, err := json.Marshal(res)
	if err != nil {
		c.logger.Warn().Err(err).Msg("Failed to encode result for remote cache")
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := c.remote.Set(ctx, resultKeyPrefix+key, data, c.ttl); err != nil {
			c.logger.Warn().Err(err).Msg("Remote result cache write failed")
		}
	}()
}

// Has reports whether a result is cached locally.
func (c *ResultCache) Has(key string) bool {
	return c.local.Has(key)
}

// Stats reports local cache statistics.
func (c *ResultCache) Stats() cache.Stats {
	return c.local.Stats()
}

// Clear empties both tiers.
func (c *ResultCache) Clear(ctx context.Context) error {
	c.local.Clear()
	if c.remote == nil {
		return nil
	}
	removed, err := c.remote.Purge(ctx, resultKeyPrefix)
	if err != nil {
		return err
	}
	c.logger.Debug().Int("removed", removed).Msg("Shared result cache purged")
	return nil
}
