package extract

import (
	"context"
	"runtime"

	"golang.org/x/sync/errgroup"

	"github.com/spherical/register-extractor/internal/domain"
	"github.com/spherical/register-extractor/internal/observability"
	"github.com/spherical/register-extractor/internal/planner"
	"github.com/spherical/register-extractor/internal/scoring"
)

// DocumentScan is the scored view of every page of one document.
type DocumentScan struct {
	Pages    []domain.PageMetadata // index i is page i+1
	Features []domain.PageFeatures // index i is page i+1
	Hints    []domain.ExtractionHint
	Failed   int // pages whose features could not be read
}

// Analyzer scores every page of a document
type Analyzer struct {
	source  domain.PageSource
	workers int
	logger  *observability.Logger
}

// NewAnalyzer creates an analyzer. workers below 1 uses GOMAXPROCS.
func NewAnalyzer(source domain.PageSource, workers int, logger *observability.Logger) *Analyzer {
	if workers < 1 {
		workers = runtime.GOMAXPROCS(0)
	}
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &Analyzer{
		source:  source,
		workers: workers,
		logger:  logger.WithComponent("analyzer"),
	}
}

// Analyze scores a document without deep extraction.
func (a *Analyzer) Analyze(ctx context.Context, filename string, data []byte) (*domain.DocumentAnalysis, error) {
	doc, err := a.source.Open(ctx, data)
	if err != nil {
		return nil, err
	}
	defer doc.Close()

	scan, err := a.Scan(ctx, doc)
	if err != nil {
		return nil, err
	}

	suggested := scoring.Suggested(scan.Pages)
	analysis := &domain.DocumentAnalysis{
		TotalPages:     len(scan.Pages),
		SuggestedPages: suggested,
		Hints:          scan.Hints,
		SuggestedRange: planner.FormatRanges(scoring.SuggestedPageNumbers(scan.Pages)),
	}

	a.logger.Info().
		Str("filename", filename).
		Int("total_pages", analysis.TotalPages).
		Int("suggested_pages", len(suggested)).
		Int("hints", len(scan.Hints)).
		Int("unreadable_pages", scan.Failed).
		Msg("Document analyzed")

	return analysis, nil
}

// Scan extracts features from and scores every page. Pages are processed in
// parallel, but results are stored by page number so the output order is
// fixed. A page that fails to read scores zero; only cancellation fails Scan.
func (a *Analyzer) Scan(ctx context.Context, doc domain.Document) (*DocumentScan, error) {
	n := doc.NumPages()
	scan := &DocumentScan{
		Pages:    make([]domain.PageMetadata, n),
		Features: make([]domain.PageFeatures, n),
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.workers)

	for i := 0; i < n; i++ {
		pageNum := i + 1
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			f := doc.Features(gctx, pageNum)
			f.PageNum = pageNum
			scan.Features[pageNum-1] = f
			scan.Pages[pageNum-1] = scoring.Score(f)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	perPage := make([][]domain.ExtractionHint, 0, n)
	for _, f := range scan.Features {
		if f.Err != nil {
			scan.Failed++
			a.logger.Debug().Int("page", f.PageNum).Err(f.Err).Msg("Page unreadable, scored zero")
			continue
		}
		perPage = append(perPage, scoring.ExtractHints(f.Text()))
	}
	scan.Hints = scoring.MergeHints(perPage...)

	return scan, nil
}
