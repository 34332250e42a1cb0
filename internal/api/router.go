// Package api exposes the extraction pipeline over HTTP.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/spherical/register-extractor/internal/extract"
	"github.com/spherical/register-extractor/internal/observability"
	"github.com/spherical/register-extractor/internal/pdf"
	"github.com/spherical/register-extractor/internal/ratelimit"
)

// Dependencies are the services behind the routes. Limiter and Ready may be nil.
type Dependencies struct {
	Orchestrator *extract.Orchestrator
	Analyzer     *extract.Analyzer
	Validator    *pdf.Validator
	Uploads      *UploadRegistry
	Limiter      *ratelimit.Limiter
	Ready        func(ctx context.Context) error
	Logger       *observability.Logger
}

// RouterConfig holds HTTP-level settings.
type RouterConfig struct {
	RequestTimeout time.Duration
	MaxUploadBytes int64
	AllowedOrigins []string
	Heartbeat      time.Duration
	ServiceName    string
}

// NewRouter creates the API router with all routes configured.
func NewRouter(deps Dependencies, cfg RouterConfig) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = observability.NopLogger()
	}
	if cfg.Heartbeat <= 0 {
		cfg.Heartbeat = 15 * time.Second
	}
	if cfg.ServiceName == "" {
		cfg.ServiceName = "register-extractor"
	}
	if len(cfg.AllowedOrigins) == 0 {
		cfg.AllowedOrigins = []string{"*"}
	}

	h := &Handler{
		orch:        deps.Orchestrator,
		analyzer:    deps.Analyzer,
		validator:   deps.Validator,
		uploads:     deps.Uploads,
		ready:       deps.Ready,
		maxUpload:   cfg.MaxUploadBytes,
		heartbeat:   cfg.Heartbeat,
		serviceName: cfg.ServiceName,
		logger:      logger.WithComponent("api"),
	}

	r := chi.NewRouter()

	// Global middleware
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(RequestLogger(logger))
	r.Use(chimiddleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: cfg.AllowedOrigins,
		AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-Id"},
		ExposedHeaders: []string{"RateLimit-Limit", "RateLimit-Remaining", "RateLimit-Reset", "Retry-After"},
		MaxAge:         300,
	}))

	r.Get("/health", h.Health)
	r.Get("/ready", h.Ready)

	limit := tierMiddleware(deps.Limiter)

	r.Route("/api", func(r chi.Router) {
		r.Use(limit(ratelimit.TierGeneral))

		// Streaming routes stay open for the whole run, so no request timeout.
		r.With(limit(ratelimit.TierPDF)).Post("/pdf/extract", h.Extract)
		r.With(limit(ratelimit.TierDocument)).Get("/pdf/uploads/{id}/events", h.UploadEvents)

		r.Group(func(r chi.Router) {
			if cfg.RequestTimeout > 0 {
				r.Use(chimiddleware.Timeout(cfg.RequestTimeout))
			}

			r.With(limit(ratelimit.TierFile)).Post("/pdf/analyze", h.Analyze)
			r.With(limit(ratelimit.TierPDF)).Post("/pdf/uploads", h.CreateUpload)
			r.With(limit(ratelimit.TierDocument)).Delete("/pdf/uploads/{id}", h.CancelUpload)

			r.Route("/cache", func(r chi.Router) {
				r.Use(limit(ratelimit.TierDocument))
				r.Get("/stats", h.CacheStats)
				r.Delete("/", h.ClearCache)
			})
		})
	})

	return r
}

func tierMiddleware(l *ratelimit.Limiter) func(tier string) func(http.Handler) http.Handler {
	return func(tier string) func(http.Handler) http.Handler {
		if l == nil {
			return func(next http.Handler) http.Handler { return next }
		}
		return l.Middleware(tier)
	}
}
