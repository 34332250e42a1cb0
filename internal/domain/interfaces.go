package domain

import "context"

// PageSource opens a PDF for per-page feature extraction
type PageSource interface {
	Open(ctx context.Context, data []byte) (Document, error)
}

// Document is an open PDF. Features never fails the whole document; a bad page
// comes back with Err set.
type Document interface {
	NumPages() int
	Features(ctx context.Context, pageNum int) PageFeatures
	Close() error
}

// PageRenderer rasterizes pages for vision-capable extraction backends
type PageRenderer interface {
	Open(data []byte) (RenderedDocument, error)
}

// RenderedDocument renders individual pages of an open PDF to JPEG
type RenderedDocument interface {
	Render(pageNum int) ([]byte, error)
	Close() error
}

// DeepExtractor turns a batch of pages into candidate registers
type DeepExtractor interface {
	ExtractBatch(ctx context.Context, req *BatchRequest) (*BatchResult, error)
}
