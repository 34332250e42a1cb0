package planner

import (
	"fmt"

	"github.com/spherical/register-extractor/internal/domain"
	"github.com/spherical/register-extractor/internal/scoring"
)

// Plan is the ordered batch schedule for one run.
type Plan struct {
	Mode         domain.SelectionMode
	Pages        []int
	Batches      []domain.Batch
	BatchSize    int
	FallbackUsed bool
}

// Summary describes the plan for result metadata.
func (p Plan) Summary() *domain.BatchSummary {
	return &domain.BatchSummary{
		TotalBatches:  len(p.Batches),
		BatchSize:     p.BatchSize,
		SelectionMode: p.Mode,
		PageRanges:    FormatRanges(p.Pages),
		FallbackUsed:  p.FallbackUsed,
	}
}

// BatchPlanner selects pages and groups them into fixed-size batches
type BatchPlanner struct {
	batchSize int
}

// NewBatchPlanner creates a planner. batchSize below 1 is treated as 1.
func NewBatchPlanner(batchSize int) *BatchPlanner {
	if batchSize < 1 {
		batchSize = 1
	}
	return &BatchPlanner{batchSize: batchSize}
}

// BatchSize returns the configured batch size.
func (b *BatchPlanner) BatchSize() int {
	return b.batchSize
}

// Plan builds the batch schedule. With a selection, only hinted pages that
// exist in the document are used. Without one, suggested pages are used,
// falling back to the whole document when none qualify.
func (b *BatchPlanner) Plan(pages []domain.PageMetadata, selection *PageSelection) (Plan, error) {
	total := len(pages)

	if selection != nil {
		var selected []int
		for _, p := range selection.Pages {
			if p <= total {
				selected = append(selected, p)
			}
		}
		if len(selected) == 0 {
			return Plan{}, domain.ValidationError(
				fmt.Sprintf("page range %s is outside the document (%d pages)", selection.String(), total), nil)
		}
		return b.build(domain.SelectionHints, selected, false), nil
	}

	if suggested := scoring.SuggestedPageNumbers(pages); len(suggested) > 0 {
		return b.build(domain.SelectionScored, suggested, false), nil
	}

	if total == 0 {
		return Plan{}, domain.ValidationError("document has no pages to extract", nil)
	}

	all := make([]int, total)
	for i := range all {
		all[i] = i + 1
	}
	return b.build(domain.SelectionFallback, all, true), nil
}

func (b *BatchPlanner) build(mode domain.SelectionMode, pages []int, fallback bool) Plan {
	plan := Plan{
		Mode:         mode,
		Pages:        pages,
		BatchSize:    b.batchSize,
		FallbackUsed: fallback,
	}
	for start := 0; start < len(pages); start += b.batchSize {
		end := start + b.batchSize
		if end > len(pages) {
			end = len(pages)
		}
		batchPages := make([]int, end-start)
		copy(batchPages, pages[start:end])
		plan.Batches = append(plan.Batches, domain.Batch{
			Index:       len(plan.Batches),
			PageNumbers: batchPages,
		})
	}
	return plan
}
