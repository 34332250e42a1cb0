// Package extractor is the public entry point for extracting Modbus register
// maps from PDF manuals.
package extractor

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spherical/register-extractor/internal/app"
	"github.com/spherical/register-extractor/internal/config"
	"github.com/spherical/register-extractor/internal/domain"
	"github.com/spherical/register-extractor/internal/extract"
)

// Re-export result types for the public API
type (
	Register      = domain.ModbusRegister
	Datatype      = domain.Datatype
	Result        = domain.ExtractionResult
	Metadata      = domain.ExtractionMetadata
	Analysis      = domain.DocumentAnalysis
	PageMetadata  = domain.PageMetadata
	Hint          = domain.ExtractionHint
	ProgressEvent = domain.ProgressEvent
	EventType     = domain.EventType
	Run           = extract.Run
)

// Event type constants
const (
	EventProgress = domain.EventProgress
	EventComplete = domain.EventComplete
	EventError    = domain.EventError
)

// Options configure a Client.
type Options struct {
	ConfigPath  string // optional YAML file
	LogLevel    string // overrides the configured level when set
	AnalyzeOnly bool   // no extraction provider, so no API key is needed
}

// ExtractOptions narrow or extend one extraction.
type ExtractOptions struct {
	PageRanges   []string   // e.g. "54-70", "3,7,9"
	Existing     []Register // previous results for re-extraction
	FullDocument bool
}

// Client is the main entry point for the register extractor library
type Client struct {
	app *app.App
}

// NewClient creates a client from the default configuration sources.
func NewClient(ctx context.Context) (*Client, error) {
	return NewClientWithOptions(ctx, Options{})
}

// NewClientWithOptions creates a client with custom options.
func NewClientWithOptions(ctx context.Context, opts Options) (*Client, error) {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return nil, domain.ConfigError("failed to load configuration", err)
	}
	if opts.LogLevel != "" {
		cfg.Observability.LogLevel = opts.LogLevel
	}
	// Library callers share no server, so request throttling does not apply.
	cfg.RateLimit.Enabled = false

	a, err := app.New(ctx, cfg, nil, app.Options{AnalyzeOnly: opts.AnalyzeOnly})
	if err != nil {
		return nil, err
	}
	return &Client{app: a}, nil
}

// Analyze scores a PDF's pages without deep extraction.
func (c *Client) Analyze(ctx context.Context, pdfPath string) (*Analysis, error) {
	name, data, err := c.readDocument(pdfPath)
	if err != nil {
		return nil, err
	}
	return c.app.Analyzer.Analyze(ctx, name, data)
}

// Extract starts an extraction run. Consume Run.Events until it closes, or
// call Run.Wait for the result alone.
func (c *Client) Extract(ctx context.Context, pdfPath string, opts ExtractOptions) (*Run, error) {
	if c.app.Orchestrator == nil {
		return nil, domain.ConfigError("client was created for analysis only", nil)
	}

	name, data, err := c.readDocument(pdfPath)
	if err != nil {
		return nil, err
	}

	return c.app.Orchestrator.Start(ctx, extract.Request{
		Filename:     name,
		Data:         data,
		PageRanges:   opts.PageRanges,
		Existing:     opts.Existing,
		FullDocument: opts.FullDocument,
	})
}

// Close releases provider and cache connections.
func (c *Client) Close() error {
	return c.app.Close()
}

func (c *Client) readDocument(pdfPath string) (string, []byte, error) {
	data, err := os.ReadFile(pdfPath)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil, domain.ValidationError("PDF file not found", err)
		}
		return "", nil, domain.IOError("failed to read PDF", err)
	}

	name := filepath.Base(pdfPath)
	if err := c.app.Validator.ValidateUpload(name, data); err != nil {
		return "", nil, err
	}
	return name, data, nil
}

// LoadRegisters reads a JSON array of registers, or a previous result
// document carrying a "registers" field.
func LoadRegisters(path string) ([]Register, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, domain.IOError("failed to read registers file", err)
	}

	var regs []Register
	if err := json.Unmarshal(data, &regs); err != nil {
		var res Result
		if err := json.Unmarshal(data, &res); err != nil {
			return nil, domain.ValidationError(fmt.Sprintf("%s is not a register list or result document", filepath.Base(path)), err)
		}
		regs = res.Registers
	}
	if regs == nil {
		return []Register{}, nil
	}
	if err := domain.ValidateRegisters(regs); err != nil {
		return nil, domain.ValidationError(filepath.Base(path), err)
	}
	return regs, nil
}
