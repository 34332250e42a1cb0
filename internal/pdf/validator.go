package pdf

import (
	"bytes"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spherical/register-extractor/internal/domain"
)

var pdfMagic = []byte("%PDF-")

// Validator checks uploads before any pipeline work starts
type Validator struct {
	maxBytes int64
}

// NewValidator creates a validator with the given size limit
func NewValidator(maxBytes int64) *Validator {
	return &Validator{maxBytes: maxBytes}
}

// ValidateUpload rejects missing, oversized or non-PDF uploads.
func (v *Validator) ValidateUpload(filename string, data []byte) error {
	if strings.TrimSpace(filename) == "" {
		return domain.ValidationError("file name cannot be empty", nil)
	}

	ext := strings.ToLower(filepath.Ext(filename))
	if ext != ".pdf" {
		return domain.ValidationError(fmt.Sprintf("only PDF files are allowed (got %q)", ext), nil)
	}

	if len(data) == 0 {
		return domain.ValidationError("no file uploaded", nil)
	}

	if v.maxBytes > 0 && int64(len(data)) > v.maxBytes {
		return domain.ValidationError(fmt.Sprintf("file exceeds the %d MB limit", v.maxBytes>>20), nil)
	}

	// Some producers prepend junk before the header; the format allows it within the first 1KB.
	head := data
	if len(head) > 1024 {
		head = head[:1024]
	}
	if !bytes.Contains(head, pdfMagic) {
		return domain.ValidationError("file is not a valid PDF", nil)
	}

	return nil
}
