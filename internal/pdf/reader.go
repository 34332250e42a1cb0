package pdf

import (
	"bytes"
	"context"
	"fmt"
	"sync"

	"github.com/ledongthuc/pdf"

	"github.com/spherical/register-extractor/internal/domain"
)

// TextSource reads per-page text layout with ledongthuc/pdf.
type TextSource struct{}

// NewTextSource creates a new text source
func NewTextSource() *TextSource {
	return &TextSource{}
}

// Open parses data as a PDF.
func (s *TextSource) Open(ctx context.Context, data []byte) (domain.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	reader, err := openReader(data)
	if err != nil {
		return nil, domain.ConversionError("Failed to open PDF", err)
	}

	n := reader.NumPage()
	if n == 0 {
		return nil, domain.ValidationError("PDF has no pages", nil)
	}

	return &textDocument{reader: reader, pages: n}, nil
}

// openReader guards against panics from malformed cross-reference tables.
func openReader(data []byte) (reader *pdf.Reader, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("malformed PDF: %v", r)
		}
	}()
	return pdf.NewReader(bytes.NewReader(data), int64(len(data)))
}

type textDocument struct {
	mu     sync.Mutex // the parser shares decode state across pages
	reader *pdf.Reader
	pages  int
}

func (d *textDocument) NumPages() int {
	return d.pages
}

// Features extracts lines and tables for a 1-based page number. Any failure,
// including a panic inside the parser, yields empty features with Err set.
func (d *textDocument) Features(ctx context.Context, pageNum int) (features domain.PageFeatures) {
	features.PageNum = pageNum

	if err := ctx.Err(); err != nil {
		features.Err = err
		return features
	}

	defer func() {
		if r := recover(); r != nil {
			features = domain.PageFeatures{
				PageNum: pageNum,
				Err:     fmt.Errorf("page %d: %v", pageNum, r),
			}
		}
	}()

	d.mu.Lock()
	defer d.mu.Unlock()

	page := d.reader.Page(pageNum)
	if page.V.IsNull() {
		features.Err = fmt.Errorf("page %d has no content", pageNum)
		return features
	}

	rows, err := page.GetTextByRow()
	if err != nil {
		features.Err = fmt.Errorf("page %d: %w", pageNum, err)
		return features
	}

	converted := make([]textRow, 0, len(rows))
	for _, row := range rows {
		tr := textRow{Y: float64(row.Position)}
		for _, t := range row.Content {
			tr.Runs = append(tr.Runs, textRun{X: t.X, W: t.W, FontSize: t.FontSize, S: t.S})
		}
		converted = append(converted, tr)
	}

	return buildFeatures(pageNum, converted)
}

func (d *textDocument) Close() error {
	return nil
}
