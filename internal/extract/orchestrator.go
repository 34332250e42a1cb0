// Package extract drives documents through scoring, batch planning, deep
// extraction and merging, reporting progress on a stream.
package extract

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/spherical/register-extractor/internal/cache"
	"github.com/spherical/register-extractor/internal/domain"
	"github.com/spherical/register-extractor/internal/merge"
	"github.com/spherical/register-extractor/internal/observability"
	"github.com/spherical/register-extractor/internal/planner"
	"github.com/spherical/register-extractor/internal/scoring"
	"github.com/spherical/register-extractor/internal/stream"
)

const sourceFormat = "pdf"

// Progress milestones
const (
	percentStart     = 10
	percentScored    = 20
	percentBatchBase = 25
	percentBatchSpan = 65
	percentMerging   = 95
)

// Request is one extraction run as submitted by a caller.
type Request struct {
	Filename     string
	Data         []byte
	PageRanges   []string                // caller page-range expressions
	Existing     []domain.ModbusRegister // non-nil for re-extraction
	FullDocument bool                    // ignore page ranges, select by score
}

// Options tunes the orchestrator.
type Options struct {
	BatchSize       int
	BatchTimeout    time.Duration
	ExpectedDensity float64
	EventBuffer     int
	MaxPageNumber   int
}

// Dependencies are the orchestrator's collaborators. Renderer and Results may be nil.
type Dependencies struct {
	Source    domain.PageSource
	Renderer  domain.PageRenderer
	Extractor domain.DeepExtractor
	Analyzer  *Analyzer
	Results   *ResultCache
}

// imageConsumer is implemented by extractors that can use page images
type imageConsumer interface {
	WantsImages() bool
}

// Orchestrator runs extraction pipelines.
type Orchestrator struct {
	deps    Dependencies
	opts    Options
	planner *planner.BatchPlanner
	logger  *observability.Logger
}

// NewOrchestrator creates an orchestrator.
func NewOrchestrator(deps Dependencies, opts Options, logger *observability.Logger) *Orchestrator {
	if logger == nil {
		logger = observability.NopLogger()
	}
	if opts.BatchTimeout <= 0 {
		opts.BatchTimeout = 2 * time.Minute
	}
	if opts.EventBuffer < 1 {
		opts.EventBuffer = 32
	}
	if opts.MaxPageNumber <= 0 {
		opts.MaxPageNumber = planner.DefaultMaxPage
	}
	if deps.Analyzer == nil {
		deps.Analyzer = NewAnalyzer(deps.Source, 0, logger)
	}
	return &Orchestrator{
		deps:    deps,
		opts:    opts,
		planner: planner.NewBatchPlanner(opts.BatchSize),
		logger:  logger.WithComponent("orchestrator"),
	}
}

// Results exposes the result cache, which may be nil.
func (o *Orchestrator) Results() *ResultCache {
	return o.deps.Results
}

// Validate checks a request at the boundary, before any pipeline work. It
// returns the parsed page selection, nil when selection is by score.
func (o *Orchestrator) Validate(req Request) (*planner.PageSelection, error) {
	if req.Filename == "" {
		return nil, domain.ValidationError("filename is required", nil)
	}
	if len(req.Data) == 0 {
		return nil, domain.ValidationError("no file uploaded", nil)
	}
	if err := domain.ValidateRegisters(req.Existing); err != nil {
		return nil, err
	}
	if req.FullDocument || !hasRanges(req.PageRanges) {
		return nil, nil
	}

	sel, err := planner.ParsePageRanges(o.opts.MaxPageNumber, req.PageRanges...)
	if err != nil {
		return nil, err
	}
	return &sel, nil
}

func hasRanges(exprs []string) bool {
	for _, e := range exprs {
		for _, r := range e {
			if r != ' ' && r != '\t' && r != '\n' {
				return true
			}
		}
	}
	return false
}

// Start validates the request and launches its pipeline. Validation errors
// are returned here and never reach the stream.
func (o *Orchestrator) Start(ctx context.Context, req Request) (*Run, error) {
	sel, err := o.Validate(req)
	if err != nil {
		return nil, err
	}

	id := uuid.New().String()
	run := &Run{
		ID:     id,
		stream: stream.New(ctx, o.opts.EventBuffer, o.logger.WithRun(id)),
		state:  StateIdle,
		done:   make(chan struct{}),
		logger: o.logger.WithRun(id),
	}

	go o.execute(run, req, sel)
	return run, nil
}

func (o *Orchestrator) cacheable(req Request, sel *planner.PageSelection) bool {
	return o.deps.Results != nil && sel == nil && req.Existing == nil
}

func (o *Orchestrator) execute(run *Run, req Request, sel *planner.PageSelection) {
	defer close(run.done)
	defer run.stream.Close()

	ctx := run.stream.Context()
	started := time.Now()
	key := cache.Hash(req.Data)
	log := run.logger.WithDocument(req.Filename, key)

	if o.cacheable(req, sel) {
		if cached, ok := o.deps.Results.Lookup(ctx, key); ok {
			o.deliverCached(run, cached)
			log.Info().Msg("Served extraction from cache")
			return
		}
	}

	result, err := o.pipeline(ctx, run, req, sel, started)
	if err != nil {
		if ctx.Err() != nil || errors.Is(err, context.Canceled) {
			run.finish(StateCancelled, nil, domain.ErrCancelled)
			log.Info().Dur("elapsed", time.Since(started)).Msg("Extraction cancelled")
			return
		}

		if !run.stream.Terminate(domain.NewErrorEvent(domain.UserMessage(err)), nil) {
			run.finish(StateCancelled, nil, domain.ErrCancelled)
			return
		}
		run.finish(StateError, nil, err)
		log.Error().Err(err).Dur("elapsed", time.Since(started)).Msg("Extraction failed")
		return
	}

	var commit func()
	if o.cacheable(req, sel) {
		commit = func() { o.deps.Results.Store(key, result) }
	}

	if !run.stream.Terminate(domain.NewComplete(result), commit) {
		run.finish(StateCancelled, nil, domain.ErrCancelled)
		log.Info().Msg("Extraction cancelled before delivery")
		return
	}
	run.finish(StateComplete, result, nil)

	log.Info().
		Int("registers", len(result.Registers)).
		Int("pages_analyzed", result.ExtractionMetadata.PagesAnalyzed).
		Str("confidence", string(result.ExtractionMetadata.ConfidenceLevel)).
		Int64("processing_ms", result.ExtractionMetadata.ProcessingTimeMs).
		Msg("Extraction complete")
}

func (o *Orchestrator) deliverCached(run *Run, cached *domain.ExtractionResult) {
	res := *cached
	res.ExtractionMetadata.FromCache = true

	run.stream.Progress(domain.NewProgress(100, domain.StageCache, "Using cached extraction result"))
	if !run.stream.Terminate(domain.NewComplete(&res), nil) {
		run.finish(StateCancelled, nil, domain.ErrCancelled)
		return
	}
	run.finish(StateComplete, &res, nil)
}

func (o *Orchestrator) pipeline(ctx context.Context, run *Run, req Request, sel *planner.PageSelection, started time.Time) (*domain.ExtractionResult, error) {
	if err := run.transition(StateScoring); err != nil {
		return nil, err
	}
	run.stream.Progress(domain.NewProgress(percentStart, domain.StageExtracting, "Extracting text from PDF"))

	doc, err := o.deps.Source.Open(ctx, req.Data)
	if err != nil {
		return nil, err
	}
	defer doc.Close()

	scan, err := o.deps.Analyzer.Scan(ctx, doc)
	if err != nil {
		return nil, err
	}
	totalPages := len(scan.Pages)
	highRelevance := scoring.CountHighRelevance(scan.Pages, nil)

	run.stream.Progress(domain.NewProgress(percentScored, domain.StageScoring,
		fmt.Sprintf("Scored %d pages, %d high relevance", totalPages, highRelevance)))

	if err := run.transition(StateBatching); err != nil {
		return nil, err
	}
	plan, err := o.planner.Plan(scan.Pages, sel)
	if err != nil {
		return nil, err
	}
	if len(plan.Batches) == 0 {
		return nil, domain.ValidationError("no pages selected for extraction", nil)
	}

	run.logger.Info().
		Str("mode", string(plan.Mode)).
		Int("batches", len(plan.Batches)).
		Str("pages", planner.FormatRanges(plan.Pages)).
		Bool("fallback", plan.FallbackUsed).
		Msg("Batch plan ready")

	rendered := o.openRenderer(run, req.Data)
	if rendered != nil {
		defer rendered.Close()
	}

	dedup := merge.NewDeduplicator()
	rejected := 0
	processed := 0
	n := len(plan.Batches)

	for i, batch := range plan.Batches {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := run.enterBatch(i); err != nil {
			return nil, err
		}

		run.stream.Progress(o.batchProgress(i, n, domain.StageAnalyzing,
			fmt.Sprintf("Analyzing pages %s (batch %d of %d)", planner.FormatRanges(batch.PageNumbers), i+1, n),
			len(plan.Pages), processed))

		breq := o.buildBatchRequest(req.Filename, batch, n, scan, rendered)
		res, err := o.callBatch(ctx, breq)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, domain.ExternalError(fmt.Sprintf("batch %d of %d failed", i+1, n), err)
		}

		dedup.Add(res.Registers)
		rejected += res.Rejected
		processed += len(batch.PageNumbers)
		run.logger.Debug().
			Batch(i, n).
			Int("registers", len(res.Registers)).
			Int("rejected", res.Rejected).
			Dur("elapsed", res.Duration).
			Msg("Batch complete")

		run.stream.Progress(o.batchProgress(i+1, n, domain.StageParsing,
			fmt.Sprintf("Found %d registers in batch %d of %d", len(res.Registers), i+1, n),
			len(plan.Pages), processed))
	}

	if err := run.transition(StateMerging); err != nil {
		return nil, err
	}
	run.stream.Progress(domain.NewProgress(percentMerging, domain.StageMerging, "Merging results"))

	found := dedup.Registers()
	result := &domain.ExtractionResult{
		Registers:    found,
		SourceFormat: sourceFormat,
		Filename:     req.Filename,
	}

	if req.Existing != nil {
		merged, added := merge.Merge(req.Existing, found)
		result.Registers = merged
		result.ExtractionMetadata.NewRegisters = &added
		if added > 0 {
			result.Message = fmt.Sprintf("Found %d additional registers", added)
		} else {
			result.Message = "No new unique registers found"
		}
	}
	if result.Registers == nil {
		result.Registers = []domain.ModbusRegister{}
	}

	analyzedHigh := scoring.CountHighRelevance(scan.Pages, plan.Pages)
	meta := &result.ExtractionMetadata
	meta.TotalPages = totalPages
	meta.PagesAnalyzed = len(plan.Pages)
	meta.RegistersFound = len(found)
	meta.HighRelevancePages = analyzedHigh
	meta.BatchSummary = plan.Summary()
	meta.RejectedRecords = rejected
	meta.ConfidenceLevel = AssessConfidence(ConfidenceInput{
		PagesAnalyzed:      len(plan.Pages),
		HighRelevancePages: analyzedHigh,
		RegistersFound:     len(found),
		FallbackUsed:       plan.FallbackUsed,
		ExpectedDensity:    o.opts.ExpectedDensity,
	})
	meta.ProcessingTimeMs = time.Since(started).Milliseconds()

	return result, nil
}

func (o *Orchestrator) batchProgress(step, total int, stage domain.Stage, msg string, totalPages, processed int) domain.ProgressEvent {
	ev := domain.NewProgress(percentBatchBase+percentBatchSpan*step/total, stage, msg)
	current := step + 1
	if stage == domain.StageParsing {
		current = step
	}
	ev.Counters = &domain.BatchCounters{
		TotalBatches:   total,
		CurrentBatch:   current,
		TotalPages:     totalPages,
		PagesProcessed: processed,
	}
	return ev
}

func (o *Orchestrator) openRenderer(run *Run, data []byte) domain.RenderedDocument {
	if o.deps.Renderer == nil {
		return nil
	}
	if ic, ok := o.deps.Extractor.(imageConsumer); ok && !ic.WantsImages() {
		return nil
	}
	rendered, err := o.deps.Renderer.Open(data)
	if err != nil {
		run.logger.Warn().Err(err).Msg("Page rendering unavailable, continuing with text only")
		return nil
	}
	return rendered
}

func (o *Orchestrator) buildBatchRequest(filename string, batch domain.Batch, total int, scan *DocumentScan, rendered domain.RenderedDocument) *domain.BatchRequest {
	req := &domain.BatchRequest{
		Filename:     filename,
		Batch:        batch,
		TotalBatches: total,
		TotalPages:   len(scan.Pages),
		Hints:        scan.Hints,
	}
	for _, p := range batch.PageNumbers {
		f := scan.Features[p-1]
		meta := scan.Pages[p-1]
		pc := domain.PageContent{
			PageNum:       p,
			Lines:         f.Lines,
			Tables:        f.Tables,
			SectionTitle:  meta.SectionTitle,
			HighRelevance: scoring.IsHighRelevance(meta),
		}
		if rendered != nil {
			img, err := rendered.Render(p)
			if err == nil {
				pc.Image = img
			} else {
				o.logger.Debug().Int("page", p).Err(err).Msg("Page render failed")
			}
		}
		req.Pages = append(req.Pages, pc)
	}
	return req
}

type batchOutcome struct {
	res *domain.BatchResult
	err error
}

// callBatch runs one extraction call under the per-batch timeout. The call
// is abandoned, not awaited, when the run is cancelled.
func (o *Orchestrator) callBatch(ctx context.Context, req *domain.BatchRequest) (*domain.BatchResult, error) {
	bctx, cancel := context.WithTimeout(ctx, o.opts.BatchTimeout)
	defer cancel()

	resultCh := make(chan batchOutcome, 1)
	go func() {
		res, err := o.deps.Extractor.ExtractBatch(bctx, req)
		resultCh <- batchOutcome{res: res, err: err}
	}()

	select {
	case out := <-resultCh:
		if out.err != nil {
			if ctx.Err() == nil && errors.Is(bctx.Err(), context.DeadlineExceeded) {
				return nil, domain.ExternalError(fmt.Sprintf("extraction timed out after %s", o.opts.BatchTimeout), out.err)
			}
			return nil, out.err
		}
		if out.res == nil {
			return nil, domain.ExternalError("extraction returned no result", nil)
		}
		return out.res, nil

	case <-bctx.Done():
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return nil, domain.ExternalError(fmt.Sprintf("extraction timed out after %s", o.opts.BatchTimeout), bctx.Err())
	}
}

// Run is one in-flight extraction.
type Run struct {
	ID     string
	stream *stream.Stream
	logger *observability.Logger
	done   chan struct{}

	mu         sync.Mutex
	state      State
	batchIndex int
	result     *domain.ExtractionResult
	err        error
}

// Events is the run's ordered progress stream. It closes after the terminal
// event, or without one if the run was cancelled.
func (r *Run) Events() <-chan domain.ProgressEvent {
	return r.stream.Events()
}

// Cancel aborts the run. It reports false if the run had already committed
// to its terminal event.
func (r *Run) Cancel() bool {
	if !r.stream.Cancel() {
		return false
	}
	r.logger.Info().Str("state", string(r.State())).Msg("Cancellation requested")
	return true
}

// State returns the current lifecycle state.
func (r *Run) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// BatchIndex returns the zero-based batch being extracted.
func (r *Run) BatchIndex() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.batchIndex
}

// Done is closed once the pipeline goroutine has exited.
func (r *Run) Done() <-chan struct{} {
	return r.done
}

// Wait blocks until the run ends. A cancelled run returns domain.ErrCancelled.
func (r *Run) Wait() (*domain.ExtractionResult, error) {
	<-r.done
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.result, r.err
}

// transition is the single entry point for state changes.
func (r *Run) transition(to State) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.transitionLocked(to)
}

func (r *Run) transitionLocked(to State) error {
	if !canTransition(r.state, to) {
		return &ErrInvalidTransition{From: r.state, To: to}
	}
	r.logger.Debug().Str("from", string(r.state)).Str("to", string(to)).Msg("State transition")
	r.state = to
	return nil
}

func (r *Run) enterBatch(i int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.transitionLocked(StateExtracting); err != nil {
		return err
	}
	r.batchIndex = i
	return nil
}

func (r *Run) finish(state State, result *domain.ExtractionResult, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != state {
		if terr := r.transitionLocked(state); terr != nil {
			r.logger.Warn().Err(terr).Msg("Forcing terminal state")
			r.state = state
		}
	}
	r.result = result
	r.err = err
}
