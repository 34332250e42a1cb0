package extract

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/spherical/register-extractor/internal/cache"
	"github.com/spherical/register-extractor/internal/domain"
)

func registerFeatures(page int) domain.PageFeatures {
	return domain.PageFeatures{
		PageNum: page,
		Lines: []string{
			"APPENDIX B MODBUS REGISTER MAP",
			"Holding registers are read with function code FC03.",
			"Zero-based addressing: add 40000 to the address for the register number.",
		},
		Tables: []domain.Table{{Rows: [][]string{
			{"Address", "Name", "Data Type", "R/W"},
			{fmt.Sprint(40000 + page), "Value", "UINT16", "R"},
			{fmt.Sprint(40100 + page), "Status", "UINT16", "R"},
			{fmt.Sprint(40200 + page), "Alarm", "UINT16", "R"},
		}}},
	}
}

func proseFeatures(page int) domain.PageFeatures {
	return domain.PageFeatures{
		PageNum: page,
		Lines:   []string{"Safety instructions", "Only qualified personnel may install this device."},
	}
}

// document builds n pages; pages listed in registerPages carry a register table.
func document(n int, registerPages ...int) []domain.PageFeatures {
	isReg := map[int]bool{}
	for _, p := range registerPages {
		isReg[p] = true
	}
	pages := make([]domain.PageFeatures, n)
	for i := range pages {
		if isReg[i+1] {
			pages[i] = registerFeatures(i + 1)
		} else {
			pages[i] = proseFeatures(i + 1)
		}
	}
	return pages
}

type fakeSource struct {
	pages   []domain.PageFeatures
	openErr error
	opened  atomic.Int32
	closed  atomic.Int32
}

func (s *fakeSource) Open(ctx context.Context, _ []byte) (domain.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.openErr != nil {
		return nil, s.openErr
	}
	s.opened.Add(1)
	return &fakeDoc{src: s}, nil
}

type fakeDoc struct {
	src *fakeSource
}

func (d *fakeDoc) NumPages() int { return len(d.src.pages) }

func (d *fakeDoc) Features(_ context.Context, pageNum int) domain.PageFeatures {
	return d.src.pages[pageNum-1]
}

func (d *fakeDoc) Close() error {
	d.src.closed.Add(1)
	return nil
}

type extractFunc func(ctx context.Context, req *domain.BatchRequest) (*domain.BatchResult, error)

type fakeExtractor struct {
	mu    sync.Mutex
	calls []*domain.BatchRequest
	fn    extractFunc
}

func (f *fakeExtractor) ExtractBatch(ctx context.Context, req *domain.BatchRequest) (*domain.BatchResult, error) {
	f.mu.Lock()
	f.calls = append(f.calls, req)
	f.mu.Unlock()
	return f.fn(ctx, req)
}

func (f *fakeExtractor) Calls() []*domain.BatchRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*domain.BatchRequest, len(f.calls))
	copy(out, f.calls)
	return out
}

// onePerPage returns one register per page, addressed 40000+page.
func onePerPage(_ context.Context, req *domain.BatchRequest) (*domain.BatchResult, error) {
	res := &domain.BatchResult{}
	for _, p := range req.Batch.PageNumbers {
		res.Registers = append(res.Registers, domain.ModbusRegister{
			Address:  uint32(40000 + p),
			Name:     fmt.Sprintf("Register %d", p),
			Datatype: domain.DatatypeUint16,
		})
	}
	return res, nil
}

func blockUntilCancelled(started chan<- struct{}) extractFunc {
	var once sync.Once
	return func(ctx context.Context, _ *domain.BatchRequest) (*domain.BatchResult, error) {
		once.Do(func() { close(started) })
		<-ctx.Done()
		return nil, ctx.Err()
	}
}

type harness struct {
	source    *fakeSource
	extractor *fakeExtractor
	results   *ResultCache
	orch      *Orchestrator
}

func newHarness(t *testing.T, pages []domain.PageFeatures, fn extractFunc, opts Options) *harness {
	t.Helper()
	if opts.BatchSize == 0 {
		opts.BatchSize = 5
	}
	src := &fakeSource{pages: pages}
	ex := &fakeExtractor{fn: fn}
	results := NewResultCache(cache.New[*domain.ExtractionResult](cache.Options{}), nil, time.Minute, nil)
	orch := NewOrchestrator(Dependencies{
		Source:    src,
		Extractor: ex,
		Analyzer:  NewAnalyzer(src, 4, nil),
		Results:   results,
	}, opts, nil)
	return &harness{source: src, extractor: ex, results: results, orch: orch}
}

func collect(t *testing.T, run *Run) []domain.ProgressEvent {
	t.Helper()
	var events []domain.ProgressEvent
	timeout := time.After(5 * time.Second)
	for {
		select {
		case ev, ok := <-run.Events():
			if !ok {
				return events
			}
			events = append(events, ev)
		case <-timeout:
			require.FailNow(t, "run did not close its stream")
		}
	}
}

func terminals(events []domain.ProgressEvent) []domain.ProgressEvent {
	var out []domain.ProgressEvent
	for _, ev := range events {
		if ev.IsTerminal() {
			out = append(out, ev)
		}
	}
	return out
}

var errBoom = errors.New("boom")
