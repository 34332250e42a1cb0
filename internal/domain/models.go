package domain

import (
	"fmt"
	"strings"
	"time"
)

// Table is a block of aligned rows detected on a page. The first row is treated as the header.
type Table struct {
	Rows [][]string `json:"rows"`
}

// Header returns the first row, or nil for an empty table.
func (t Table) Header() []string {
	if len(t.Rows) == 0 {
		return nil
	}
	return t.Rows[0]
}

// PageFeatures holds the lightweight per-page signals used for scoring
type PageFeatures struct {
	PageNum int
	Lines   []string
	Tables  []Table
	Err     error // set when the page could not be read
}

// Text joins the page lines.
func (f PageFeatures) Text() string {
	return strings.Join(f.Lines, "\n")
}

// PageMetadata is the scored view of a single page
type PageMetadata struct {
	PageNum      int     `json:"pageNum"`
	Score        float64 `json:"score"`
	HasTable     bool    `json:"hasTable"`
	SectionTitle string  `json:"sectionTitle,omitempty"`
}

// HintType classifies document-level extraction hints
type HintType string

const (
	HintAddressPattern HintType = "address_pattern"
	HintAddressRange   HintType = "address_range"
	HintBaseAddress    HintType = "base_address"
	HintByteOrder      HintType = "byte_order"
	HintWordOrder      HintType = "word_order"
	HintDataType       HintType = "data_type"
)

// ExtractionHint is a document-level signal passed to the extraction dependency and the caller
type ExtractionHint struct {
	Type    HintType `json:"type"`
	Context string   `json:"context"`
}

// Datatype is the canonical register data type
type Datatype string

const (
	DatatypeInt16   Datatype = "INT16"
	DatatypeUint16  Datatype = "UINT16"
	DatatypeInt32   Datatype = "INT32"
	DatatypeUint32  Datatype = "UINT32"
	DatatypeFloat32 Datatype = "FLOAT32"
	DatatypeFloat64 Datatype = "FLOAT64"
	DatatypeString  Datatype = "STRING"
	DatatypeBool    Datatype = "BOOL"
	DatatypeCoil    Datatype = "COIL"
	DatatypeUnknown Datatype = "UNKNOWN"
)

// Datatypes lists every canonical datatype.
var Datatypes = []Datatype{
	DatatypeInt16, DatatypeUint16, DatatypeInt32, DatatypeUint32,
	DatatypeFloat32, DatatypeFloat64, DatatypeString, DatatypeBool,
	DatatypeCoil, DatatypeUnknown,
}

// ModbusRegister is one addressable data point. Address is its identity.
type ModbusRegister struct {
	Address     uint32   `json:"address"`
	Name        string   `json:"name"`
	Datatype    Datatype `json:"datatype"`
	Description string   `json:"description"`
	Writable    bool     `json:"writable"`
}

// ValidateRegisters checks caller-supplied registers and normalises their
// datatypes in place. The error names the index of the first bad entry.
func ValidateRegisters(regs []ModbusRegister) error {
	for i := range regs {
		r := &regs[i]
		if r.Address < 1 {
			return ValidationError(fmt.Sprintf("register at index %d: address must be at least 1", i), nil)
		}
		if strings.TrimSpace(r.Name) == "" {
			return ValidationError(fmt.Sprintf("register at index %d: name is required", i), nil)
		}
		r.Datatype = NormalizeDatatype(string(r.Datatype))
	}
	return nil
}

// ConfidenceLevel summarises how trustworthy a run's results are
type ConfidenceLevel string

const (
	ConfidenceLow    ConfidenceLevel = "low"
	ConfidenceMedium ConfidenceLevel = "medium"
	ConfidenceHigh   ConfidenceLevel = "high"
)

// SelectionMode records how pages were chosen for a run
type SelectionMode string

const (
	SelectionHints    SelectionMode = "hints"
	SelectionScored   SelectionMode = "scored"
	SelectionFallback SelectionMode = "full_document_fallback"
)

// Batch is a group of pages submitted together to the extraction dependency
type Batch struct {
	Index       int   `json:"index"`
	PageNumbers []int `json:"pageNumbers"`
}

// BatchSummary describes the batch plan of a finished run
type BatchSummary struct {
	TotalBatches  int           `json:"totalBatches"`
	BatchSize     int           `json:"batchSize"`
	SelectionMode SelectionMode `json:"selectionMode"`
	PageRanges    string        `json:"pageRanges"`
	FallbackUsed  bool          `json:"fallbackUsed"`
}

// ExtractionMetadata is derived once per run and never mutated afterwards
type ExtractionMetadata struct {
	TotalPages         int             `json:"totalPages"`
	PagesAnalyzed      int             `json:"pagesAnalyzed"`
	RegistersFound     int             `json:"registersFound"`
	ProcessingTimeMs   int64           `json:"processingTimeMs"`
	ConfidenceLevel    ConfidenceLevel `json:"confidenceLevel"`
	HighRelevancePages int             `json:"highRelevancePages"`
	BatchSummary       *BatchSummary   `json:"batchSummary,omitempty"`
	NewRegisters       *int            `json:"newRegisters,omitempty"`
	RejectedRecords    int             `json:"rejectedRecords,omitempty"`
	FromCache          bool            `json:"fromCache,omitempty"`
}

// ExtractionResult is the payload of the terminal complete event
type ExtractionResult struct {
	Registers          []ModbusRegister   `json:"registers"`
	SourceFormat       string             `json:"sourceFormat"`
	Filename           string             `json:"filename"`
	ExtractionMetadata ExtractionMetadata `json:"extractionMetadata"`
	Message            string             `json:"message,omitempty"`
}

// DocumentAnalysis is returned by the analysis-only path
type DocumentAnalysis struct {
	TotalPages     int              `json:"totalPages"`
	SuggestedPages []PageMetadata   `json:"suggestedPages"`
	Hints          []ExtractionHint `json:"hints"`
	SuggestedRange string           `json:"suggestedRange,omitempty"`
}

// PageContent is what the extraction dependency sees for one page
type PageContent struct {
	PageNum       int
	Lines         []string
	Tables        []Table
	SectionTitle  string
	HighRelevance bool
	Image         []byte // JPEG, optional
}

// BatchRequest is one call to the extraction dependency
type BatchRequest struct {
	Filename     string
	Batch        Batch
	TotalBatches int
	TotalPages   int
	Pages        []PageContent
	Hints        []ExtractionHint
}

// BatchResult is the validated response for one batch
type BatchResult struct {
	Registers  []ModbusRegister
	Confidence float64
	Rejected   int
	Duration   time.Duration
}
