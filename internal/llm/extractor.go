package llm

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/time/rate"

	"github.com/spherical/register-extractor/internal/domain"
	"github.com/spherical/register-extractor/internal/observability"
)

// Extractor is the deep-extraction dependency: it prompts a model with one
// batch of pages and validates what comes back.
type Extractor struct {
	completer  Completer
	validator  *ResponseValidator
	limiter    *rate.Limiter
	withImages bool
	logger     *observability.Logger
}

// ExtractorOptions configures an Extractor.
type ExtractorOptions struct {
	RequestsPerSecond float64 // <= 0 disables throttling
	Burst             int
	WithImages        bool
	Logger            *observability.Logger
}

// NewExtractor wraps a completer with throttling and response validation.
func NewExtractor(completer Completer, opts ExtractorOptions) (*Extractor, error) {
	validator, err := NewResponseValidator()
	if err != nil {
		return nil, domain.ConfigError("failed to build response validator", err)
	}

	limit := rate.Inf
	if opts.RequestsPerSecond > 0 {
		limit = rate.Limit(opts.RequestsPerSecond)
	}
	burst := opts.Burst
	if burst < 1 {
		burst = 1
	}
	if opts.Logger == nil {
		opts.Logger = observability.NopLogger()
	}

	return &Extractor{
		completer:  completer,
		validator:  validator,
		limiter:    rate.NewLimiter(limit, burst),
		withImages: opts.WithImages,
		logger:     opts.Logger.WithComponent("deep_extractor"),
	}, nil
}

// WantsImages reports whether page images are sent to the model.
func (e *Extractor) WantsImages() bool {
	return e.withImages
}

// ExtractBatch implements domain.DeepExtractor.
func (e *Extractor) ExtractBatch(ctx context.Context, req *domain.BatchRequest) (*domain.BatchResult, error) {
	if err := e.limiter.Wait(ctx); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, domain.RateLimitError(fmt.Sprintf("outbound throttle: %v", err))
	}

	start := time.Now()
	prompt := BuildPrompt(req, e.withImages)

	e.logger.Debug().
		Str("backend", e.completer.Name()).
		Int("batch", req.Batch.Index+1).
		Ints("pages", req.Batch.PageNumbers).
		Int("prompt_chars", len(prompt.User)).
		Int("images", len(prompt.Images)).
		Msg("Sending batch to model")

	raw, err := e.completer.Complete(ctx, prompt)
	if err != nil {
		return nil, err
	}

	parsed, err := e.validator.Parse(raw)
	if err != nil {
		e.logger.Warn().
			Int("batch", req.Batch.Index+1).
			Int("response_chars", len(raw)).
			Err(err).
			Msg("Model response rejected")
		return nil, err
	}

	if parsed.Rejected > 0 {
		e.logger.Warn().
			Int("batch", req.Batch.Index+1).
			Int("rejected", parsed.Rejected).
			Str("first_issue", parsed.Issues[0]).
			Msg("Dropped malformed register records")
	}

	return &domain.BatchResult{
		Registers:  parsed.Registers,
		Confidence: parsed.Confidence,
		Rejected:   parsed.Rejected,
		Duration:   time.Since(start),
	}, nil
}
