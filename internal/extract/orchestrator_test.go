package extract

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spherical/register-extractor/internal/cache"
	"github.com/spherical/register-extractor/internal/domain"
)

var pdfBytes = []byte("%PDF-1.7 fake document")

func TestRun_SuccessStreamsOrderedProgressAndOneTerminal(t *testing.T) {
	h := newHarness(t, document(12, 3, 4, 5, 6, 7, 8), onePerPage, Options{})

	run, err := h.orch.Start(context.Background(), Request{Filename: "genset.pdf", Data: pdfBytes})
	require.NoError(t, err)

	events := collect(t, run)
	require.NotEmpty(t, events)

	var percents []int
	for _, ev := range events {
		if ev.Type == domain.EventProgress {
			percents = append(percents, ev.Progress)
		}
	}
	assert.Equal(t, []int{10, 20, 25, 57, 57, 90, 95}, percents)

	term := terminals(events)
	require.Len(t, term, 1)
	last := events[len(events)-1]
	require.Equal(t, domain.EventComplete, last.Type)

	analyzing := events[2]
	assert.Equal(t, domain.StageAnalyzing, analyzing.Stage)
	require.NotNil(t, analyzing.Counters)
	assert.Equal(t, domain.BatchCounters{TotalBatches: 2, CurrentBatch: 1, TotalPages: 6, PagesProcessed: 0}, *analyzing.Counters)
	parsedLast := events[5]
	assert.Equal(t, domain.StageParsing, parsedLast.Stage)
	assert.Equal(t, domain.BatchCounters{TotalBatches: 2, CurrentBatch: 2, TotalPages: 6, PagesProcessed: 6}, *parsedLast.Counters)

	res := last.Result
	assert.Equal(t, "genset.pdf", res.Filename)
	assert.Equal(t, "pdf", res.SourceFormat)
	assert.Len(t, res.Registers, 6)
	assert.Equal(t, uint32(40003), res.Registers[0].Address)

	meta := res.ExtractionMetadata
	assert.Equal(t, 12, meta.TotalPages)
	assert.Equal(t, 6, meta.PagesAnalyzed)
	assert.Equal(t, 6, meta.RegistersFound)
	assert.Equal(t, 6, meta.HighRelevancePages)
	assert.Equal(t, domain.ConfidenceMedium, meta.ConfidenceLevel)
	require.NotNil(t, meta.BatchSummary)
	assert.Equal(t, 2, meta.BatchSummary.TotalBatches)
	assert.Equal(t, domain.SelectionScored, meta.BatchSummary.SelectionMode)
	assert.Equal(t, "3-8", meta.BatchSummary.PageRanges)
	assert.Nil(t, meta.NewRegisters)

	calls := h.extractor.Calls()
	require.Len(t, calls, 2)
	assert.Equal(t, []int{3, 4, 5, 6, 7}, calls[0].Batch.PageNumbers)
	assert.Equal(t, []int{8}, calls[1].Batch.PageNumbers)
	assert.True(t, calls[0].Pages[0].HighRelevance)
	assert.NotEmpty(t, calls[0].Hints)

	got, err := run.Wait()
	require.NoError(t, err)
	assert.Equal(t, res, got)
	assert.Equal(t, StateComplete, run.State())
	assert.True(t, h.results.Has(cache.Hash(pdfBytes)))
	assert.EqualValues(t, 1, h.source.closed.Load())
}

func TestRun_BatchErrorFailsFast(t *testing.T) {
	calls := 0
	fn := func(ctx context.Context, req *domain.BatchRequest) (*domain.BatchResult, error) {
		calls++
		if calls == 2 {
			return nil, domain.APIError("API returned status 502", nil)
		}
		return onePerPage(ctx, req)
	}
	h := newHarness(t, document(10, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10), fn, Options{})

	run, err := h.orch.Start(context.Background(), Request{Filename: "a.pdf", Data: pdfBytes})
	require.NoError(t, err)

	events := collect(t, run)
	term := terminals(events)
	require.Len(t, term, 1)
	assert.Equal(t, domain.EventError, term[0].Type)
	assert.Equal(t, "batch 2 of 2 failed: API returned status 502", term[0].Message)
	assert.Equal(t, term[0], events[len(events)-1])

	_, err = run.Wait()
	assert.True(t, domain.IsType(err, domain.ErrorTypeExternal))
	assert.Equal(t, StateError, run.State())
	assert.False(t, h.results.Has(cache.Hash(pdfBytes)), "failed runs are not cached")
}

func TestRun_CancelDuringExtraction(t *testing.T) {
	started := make(chan struct{})
	h := newHarness(t, document(6, 1, 2), blockUntilCancelled(started), Options{})

	run, err := h.orch.Start(context.Background(), Request{Filename: "a.pdf", Data: pdfBytes})
	require.NoError(t, err)

	select {
	case <-started:
	case <-time.After(2 * time.Second):
		require.FailNow(t, "extraction never started")
	}
	assert.Equal(t, StateExtracting, run.State())
	assert.Equal(t, 0, run.BatchIndex())
	require.True(t, run.Cancel())

	events := collect(t, run)
	assert.Empty(t, terminals(events))

	_, err = run.Wait()
	assert.ErrorIs(t, err, domain.ErrCancelled)
	assert.Equal(t, StateCancelled, run.State())
	assert.False(t, h.results.Has(cache.Hash(pdfBytes)))
	assert.False(t, run.Cancel(), "second cancel is a no-op")
}

func TestRun_ParentContextCancelled(t *testing.T) {
	started := make(chan struct{})
	h := newHarness(t, document(3, 1), blockUntilCancelled(started), Options{})

	ctx, cancel := context.WithCancel(context.Background())
	run, err := h.orch.Start(ctx, Request{Filename: "a.pdf", Data: pdfBytes})
	require.NoError(t, err)

	<-started
	cancel()

	assert.Empty(t, terminals(collect(t, run)))
	_, err = run.Wait()
	assert.ErrorIs(t, err, domain.ErrCancelled)
	assert.False(t, run.Cancel(), "an ended run cannot be cancelled")
	assert.False(t, h.results.Has(cache.Hash(pdfBytes)))
}

func TestRun_CacheHitShortCircuits(t *testing.T) {
	h := newHarness(t, document(4, 2), onePerPage, Options{})

	first, err := h.orch.Start(context.Background(), Request{Filename: "a.pdf", Data: pdfBytes})
	require.NoError(t, err)
	collect(t, first)
	require.Len(t, h.extractor.Calls(), 1)

	second, err := h.orch.Start(context.Background(), Request{Filename: "a.pdf", Data: pdfBytes})
	require.NoError(t, err)
	events := collect(t, second)

	require.Len(t, events, 2)
	assert.Equal(t, 100, events[0].Progress)
	assert.Equal(t, domain.StageCache, events[0].Stage)
	require.Equal(t, domain.EventComplete, events[1].Type)
	assert.True(t, events[1].Result.ExtractionMetadata.FromCache)
	assert.Len(t, h.extractor.Calls(), 1, "cache hit must not call the extractor")

	stored, _ := h.results.Lookup(context.Background(), cache.Hash(pdfBytes))
	assert.False(t, stored.ExtractionMetadata.FromCache, "cached entry is not mutated")
}

func TestRun_PageRangesSelectPagesAndBypassCache(t *testing.T) {
	h := newHarness(t, document(10, 8), onePerPage, Options{BatchSize: 2})

	run, err := h.orch.Start(context.Background(), Request{
		Filename:   "a.pdf",
		Data:       pdfBytes,
		PageRanges: []string{"2-3; 5"},
	})
	require.NoError(t, err)

	events := collect(t, run)
	last := events[len(events)-1]
	require.Equal(t, domain.EventComplete, last.Type)

	summary := last.Result.ExtractionMetadata.BatchSummary
	assert.Equal(t, domain.SelectionHints, summary.SelectionMode)
	assert.Equal(t, "2-3,5", summary.PageRanges)

	calls := h.extractor.Calls()
	require.Len(t, calls, 2)
	assert.Equal(t, []int{2, 3}, calls[0].Batch.PageNumbers)
	assert.Equal(t, []int{5}, calls[1].Batch.PageNumbers)
	assert.False(t, h.results.Has(cache.Hash(pdfBytes)))
}

func TestRun_FullDocumentIgnoresRanges(t *testing.T) {
	h := newHarness(t, document(6, 4), onePerPage, Options{})

	run, err := h.orch.Start(context.Background(), Request{
		Filename:     "a.pdf",
		Data:         pdfBytes,
		PageRanges:   []string{"not a range"},
		FullDocument: true,
	})
	require.NoError(t, err)

	events := collect(t, run)
	summary := events[len(events)-1].Result.ExtractionMetadata.BatchSummary
	assert.Equal(t, domain.SelectionScored, summary.SelectionMode)
	assert.Equal(t, "4", summary.PageRanges)
}

func TestRun_FallbackToWholeDocument(t *testing.T) {
	h := newHarness(t, document(3), onePerPage, Options{})

	run, err := h.orch.Start(context.Background(), Request{Filename: "a.pdf", Data: pdfBytes})
	require.NoError(t, err)

	events := collect(t, run)
	meta := events[len(events)-1].Result.ExtractionMetadata
	assert.True(t, meta.BatchSummary.FallbackUsed)
	assert.Equal(t, domain.SelectionFallback, meta.BatchSummary.SelectionMode)
	assert.Equal(t, 3, meta.PagesAnalyzed)
	assert.Equal(t, domain.ConfidenceLow, meta.ConfidenceLevel)
}

func TestRun_ReextractionMergesAgainstExisting(t *testing.T) {
	h := newHarness(t, document(6, 2, 3), onePerPage, Options{})

	existing := []domain.ModbusRegister{
		{Address: 40002, Name: "Mine", Datatype: domain.DatatypeInt16},
		{Address: 30001, Name: "Other"},
	}
	run, err := h.orch.Start(context.Background(), Request{
		Filename:   "a.pdf",
		Data:       pdfBytes,
		PageRanges: []string{"2-3"},
		Existing:   existing,
	})
	require.NoError(t, err)

	events := collect(t, run)
	res := events[len(events)-1].Result
	require.NotNil(t, res)

	require.Len(t, res.Registers, 3)
	assert.Equal(t, "Mine", res.Registers[0].Name, "existing wins")
	assert.Equal(t, uint32(30001), res.Registers[1].Address)
	assert.Equal(t, uint32(40003), res.Registers[2].Address)
	require.NotNil(t, res.ExtractionMetadata.NewRegisters)
	assert.Equal(t, 1, *res.ExtractionMetadata.NewRegisters)
	assert.Equal(t, "Found 1 additional registers", res.Message)
	assert.False(t, h.results.Has(cache.Hash(pdfBytes)))
}

func TestRun_ReextractionNothingNew(t *testing.T) {
	h := newHarness(t, document(3, 2), onePerPage, Options{})

	run, err := h.orch.Start(context.Background(), Request{
		Filename: "a.pdf",
		Data:     pdfBytes,
		Existing: []domain.ModbusRegister{{Address: 40002, Name: "Known"}},
	})
	require.NoError(t, err)

	events := collect(t, run)
	res := events[len(events)-1].Result
	assert.Equal(t, "No new unique registers found", res.Message)
	assert.Equal(t, 0, *res.ExtractionMetadata.NewRegisters)
}

func TestRun_BatchTimeoutIsExternalError(t *testing.T) {
	started := make(chan struct{})
	h := newHarness(t, document(2, 1), blockUntilCancelled(started), Options{BatchTimeout: 30 * time.Millisecond})

	run, err := h.orch.Start(context.Background(), Request{Filename: "a.pdf", Data: pdfBytes})
	require.NoError(t, err)

	term := terminals(collect(t, run))
	require.Len(t, term, 1)
	assert.Equal(t, domain.EventError, term[0].Type)
	assert.True(t, strings.HasPrefix(term[0].Message, "batch 1 of 1 failed: extraction timed out after 30ms"), term[0].Message)
}

func TestRun_UnreadablePDF(t *testing.T) {
	h := newHarness(t, nil, onePerPage, Options{})
	h.source.openErr = domain.ConversionError("Failed to open PDF", errBoom)

	run, err := h.orch.Start(context.Background(), Request{Filename: "a.pdf", Data: pdfBytes})
	require.NoError(t, err)

	term := terminals(collect(t, run))
	require.Len(t, term, 1)
	assert.Equal(t, "Failed to open PDF: boom", term[0].Message)
	assert.Empty(t, h.extractor.Calls())
}

func TestRun_RangeOutsideDocument(t *testing.T) {
	h := newHarness(t, document(12), onePerPage, Options{})

	run, err := h.orch.Start(context.Background(), Request{Filename: "a.pdf", Data: pdfBytes, PageRanges: []string{"50-60"}})
	require.NoError(t, err)

	term := terminals(collect(t, run))
	require.Len(t, term, 1)
	assert.Contains(t, term[0].Message, "outside the document (12 pages)")
}

func TestStart_RejectsInvalidRequestsUpFront(t *testing.T) {
	h := newHarness(t, document(3, 1), onePerPage, Options{})

	tests := []struct {
		name string
		req  Request
		want string
	}{
		{"reversed range", Request{Filename: "a.pdf", Data: pdfBytes, PageRanges: []string{"5-3"}}, `"5-3"`},
		{"garbage range", Request{Filename: "a.pdf", Data: pdfBytes, PageRanges: []string{"abc"}}, `"abc"`},
		{"no data", Request{Filename: "a.pdf"}, "no file uploaded"},
		{"no filename", Request{Data: pdfBytes}, "filename is required"},
		{"existing without address", Request{Filename: "a.pdf", Data: pdfBytes, Existing: []domain.ModbusRegister{{Name: "NoAddr"}}}, "register at index 0"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			run, err := h.orch.Start(context.Background(), tt.req)
			require.Error(t, err)
			assert.Nil(t, run)
			assert.True(t, domain.IsType(err, domain.ErrorTypeValidation))
			assert.Contains(t, err.Error(), tt.want)
			assert.NotContains(t, domain.UserMessage(err), "[validation]")
		})
	}
	assert.Zero(t, h.source.opened.Load())
}

func TestStateTransitions(t *testing.T) {
	assert.True(t, canTransition(StateIdle, StateScoring))
	assert.True(t, canTransition(StateIdle, StateComplete))
	assert.True(t, canTransition(StateExtracting, StateExtracting))
	assert.True(t, canTransition(StateExtracting, StateCancelled))
	assert.False(t, canTransition(StateScoring, StateMerging))
	assert.False(t, canTransition(StateComplete, StateError))
	assert.False(t, canTransition(StateCancelled, StateScoring))
	assert.True(t, StateError.Terminal())
	assert.False(t, StateMerging.Terminal())
}
