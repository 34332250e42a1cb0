// Package app assembles the extraction components from configuration. The
// HTTP server and the CLI share it.
package app

import (
	"context"
	"errors"
	"net/http"
	"os"

	"github.com/spherical/register-extractor/internal/api"
	"github.com/spherical/register-extractor/internal/cache"
	"github.com/spherical/register-extractor/internal/config"
	"github.com/spherical/register-extractor/internal/domain"
	"github.com/spherical/register-extractor/internal/extract"
	"github.com/spherical/register-extractor/internal/llm"
	"github.com/spherical/register-extractor/internal/observability"
	"github.com/spherical/register-extractor/internal/pdf"
	"github.com/spherical/register-extractor/internal/ratelimit"
)

// Options adjust how the App is built.
type Options struct {
	// AnalyzeOnly skips the deep-extraction provider, so no API key is needed.
	AnalyzeOnly bool
	// Completer replaces the configured provider.
	Completer llm.Completer
}

// App holds the wired components.
type App struct {
	Config       *config.Config
	Logger       *observability.Logger
	Analyzer     *extract.Analyzer
	Orchestrator *extract.Orchestrator // nil when built AnalyzeOnly
	Validator    *pdf.Validator
	Limiter      *ratelimit.Limiter // nil when rate limiting is disabled
	Uploads      *api.UploadRegistry

	redis   *cache.RedisClient
	closers []func() error
}

// NewLogger builds the process logger from configuration.
func NewLogger(cfg *config.Config) *observability.Logger {
	return observability.NewLogger(observability.LogConfig{
		Level:       cfg.Observability.LogLevel,
		Format:      cfg.Observability.LogFormat,
		Output:      os.Stderr,
		ServiceName: cfg.Observability.ServiceName,
	})
}

// New wires every component. Call Close when done.
func New(ctx context.Context, cfg *config.Config, logger *observability.Logger, opts Options) (*App, error) {
	if logger == nil {
		logger = NewLogger(cfg)
	}

	a := &App{
		Config:    cfg,
		Logger:    logger,
		Validator: pdf.NewValidator(cfg.Server.MaxUploadBytes),
		Uploads:   api.NewUploadRegistry(cfg.Uploads.TTL, cfg.Uploads.MaxPending),
	}

	if err := a.connectRedis(ctx); err != nil {
		return nil, err
	}

	source := pdf.NewTextSource()
	a.Analyzer = extract.NewAnalyzer(source, 0, logger)

	if cfg.RateLimit.Enabled {
		a.Limiter = a.buildLimiter()
	}

	if opts.AnalyzeOnly {
		return a, nil
	}

	completer := opts.Completer
	if completer == nil {
		c, closer, err := newCompleter(ctx, cfg.LLM, logger)
		if err != nil {
			a.Close()
			return nil, err
		}
		completer = c
		if closer != nil {
			a.closers = append(a.closers, closer)
		}
	}

	extractor, err := llm.NewExtractor(completer, llm.ExtractorOptions{
		RequestsPerSecond: cfg.LLM.RequestsPerSecond,
		Burst:             cfg.LLM.Burst,
		WithImages:        cfg.Extraction.RenderImages,
		Logger:            logger,
	})
	if err != nil {
		a.Close()
		return nil, err
	}

	var renderer domain.PageRenderer
	if cfg.Extraction.RenderImages {
		renderer = pdf.NewFitzRenderer(cfg.Extraction.ImageDPI, 0)
	}

	results := extract.NewResultCache(
		cache.New[*domain.ExtractionResult](cache.Options{
			TTL:        cfg.Cache.TTL(),
			MaxEntries: cfg.Cache.MaxEntries,
		}),
		a.redisForCache(),
		cfg.Cache.TTL(),
		logger,
	)

	a.Orchestrator = extract.NewOrchestrator(extract.Dependencies{
		Source:    source,
		Renderer:  renderer,
		Extractor: extractor,
		Analyzer:  a.Analyzer,
		Results:   results,
	}, extract.Options{
		BatchSize:       cfg.Extraction.BatchSize,
		BatchTimeout:    cfg.Extraction.BatchTimeout,
		ExpectedDensity: cfg.Extraction.ExpectedRegisterDensity,
		EventBuffer:     cfg.Extraction.EventBuffer,
		MaxPageNumber:   cfg.Extraction.MaxPageNumber,
	}, logger)

	logger.Info().
		Str("provider", completer.Name()).
		Int("batch_size", cfg.Extraction.BatchSize).
		Bool("render_images", cfg.Extraction.RenderImages).
		Bool("redis", a.redis != nil).
		Bool("rate_limit", a.Limiter != nil).
		Msg("Extraction pipeline ready")

	return a, nil
}

func (a *App) connectRedis(ctx context.Context) error {
	cfg := a.Config
	wantLimiter := cfg.RateLimit.Enabled && cfg.RateLimit.Store == "redis"
	if !cfg.Cache.RedisEnabled && !wantLimiter {
		return nil
	}

	client, err := cache.NewRedisClient(ctx, cache.RedisConfig{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
		PoolSize: cfg.Redis.PoolSize,
		Prefix:   cfg.Redis.Prefix,
	})
	if err != nil {
		if wantLimiter {
			return domain.ConfigError("rate limit store is redis but redis is unreachable", err)
		}
		a.Logger.Warn().Err(err).Str("addr", cfg.Redis.Addr).Msg("Redis unavailable, result cache stays in-process")
		return nil
	}

	a.redis = client
	a.closers = append(a.closers, client.Close)
	return nil
}

func (a *App) redisForCache() *cache.RedisClient {
	if !a.Config.Cache.RedisEnabled {
		return nil
	}
	return a.redis
}

func (a *App) buildLimiter() *ratelimit.Limiter {
	rl := a.Config.RateLimit
	var store ratelimit.Store = ratelimit.NewMemoryStore(nil)
	if rl.Store == "redis" && a.redis != nil {
		store = ratelimit.NewRedisStore(a.redis)
	}
	return ratelimit.NewLimiter(store, ratelimit.BuildTiers(ratelimit.TierLimits{
		Window:   rl.Window,
		PDF:      rl.PDF,
		File:     rl.File,
		Document: rl.Document,
		General:  rl.General,
	}), a.Logger)
}

func newCompleter(ctx context.Context, cfg config.LLMConfig, logger *observability.Logger) (llm.Completer, func() error, error) {
	switch cfg.Provider {
	case "gemini":
		g, err := llm.NewGeminiClient(ctx, cfg.APIKey, cfg.Model)
		if err != nil {
			return nil, nil, err
		}
		return g, g.Close, nil

	default:
		c, err := llm.NewClient(llm.ClientOptions{
			APIKey:  cfg.APIKey,
			Model:   cfg.Model,
			BaseURL: cfg.BaseURL,
			Retry: &llm.RetryConfig{
				MaxRetries:     cfg.MaxRetries,
				InitialBackoff: cfg.InitialBackoff,
				MaxBackoff:     cfg.MaxBackoff,
			},
			Logger: logger,
		})
		if err != nil {
			return nil, nil, err
		}
		return c, nil, nil
	}
}

// Handler builds the HTTP API.
func (a *App) Handler() http.Handler {
	return api.NewRouter(api.Dependencies{
		Orchestrator: a.Orchestrator,
		Analyzer:     a.Analyzer,
		Validator:    a.Validator,
		Uploads:      a.Uploads,
		Limiter:      a.Limiter,
		Ready:        a.Ready,
		Logger:       a.Logger,
	}, api.RouterConfig{
		RequestTimeout: a.Config.Server.RequestTimeout,
		MaxUploadBytes: a.Config.Server.MaxUploadBytes,
		AllowedOrigins: a.Config.Server.AllowedOrigins,
		ServiceName:    a.Config.Observability.ServiceName,
	})
}

// Ready reports whether shared dependencies are reachable.
func (a *App) Ready(ctx context.Context) error {
	if a.redis == nil {
		return nil
	}
	return a.redis.Ping(ctx)
}

// Close releases provider and Redis connections.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
