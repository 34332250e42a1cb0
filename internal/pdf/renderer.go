package pdf

import (
	"bytes"
	"fmt"
	"image/jpeg"
	"sync"

	"github.com/gen2brain/go-fitz"

	"github.com/spherical/register-extractor/internal/domain"
)

const (
	defaultDPI     = 150.0
	defaultQuality = 85
)

// FitzRenderer rasterizes pages to JPEG using MuPDF via go-fitz
type FitzRenderer struct {
	dpi     float64
	quality int
}

// NewFitzRenderer creates a renderer. Zero values select the defaults.
func NewFitzRenderer(dpi float64, quality int) *FitzRenderer {
	if dpi <= 0 {
		dpi = defaultDPI
	}
	if quality < 1 || quality > 100 {
		quality = defaultQuality
	}
	return &FitzRenderer{dpi: dpi, quality: quality}
}

// Open loads the document from memory. The caller must Close it.
func (r *FitzRenderer) Open(data []byte) (domain.RenderedDocument, error) {
	doc, err := fitz.NewFromMemory(data)
	if err != nil {
		return nil, domain.ConversionError("Failed to open PDF for rendering", err)
	}
	return &fitzDocument{doc: doc, dpi: r.dpi, quality: r.quality}, nil
}

type fitzDocument struct {
	mu      sync.Mutex
	doc     *fitz.Document
	dpi     float64
	quality int
}

// Render encodes a 1-based page as JPEG.
func (d *fitzDocument) Render(pageNum int) ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.doc == nil {
		return nil, domain.ConversionError("document already closed", nil)
	}
	if pageNum < 1 || pageNum > d.doc.NumPage() {
		return nil, domain.ValidationError(fmt.Sprintf("page %d out of range", pageNum), nil)
	}

	img, err := d.doc.ImageDPI(pageNum-1, d.dpi)
	if err != nil {
		return nil, domain.ConversionError(fmt.Sprintf("Failed to render page %d", pageNum), err)
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: d.quality}); err != nil {
		return nil, domain.ConversionError(fmt.Sprintf("Failed to encode page %d as JPG", pageNum), err)
	}
	return buf.Bytes(), nil
}

// Close releases the MuPDF handle. Safe to call twice.
func (d *fitzDocument) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.doc == nil {
		return nil
	}
	err := d.doc.Close()
	d.doc = nil
	return err
}
