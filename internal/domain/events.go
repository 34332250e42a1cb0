package domain

import (
	"encoding/json"
	"time"
)

// EventType represents the type of stream event
type EventType string

const (
	EventProgress EventType = "progress"
	EventComplete EventType = "complete"
	EventError    EventType = "error"
)

// Stage names reported on progress events
type Stage string

const (
	StageExtracting Stage = "extracting"
	StageScoring    Stage = "scoring"
	StageAnalyzing  Stage = "analyzing"
	StageParsing    Stage = "parsing"
	StageMerging    Stage = "merging"
	StageCache      Stage = "cache"
)

// BatchCounters are the running counters attached to batch progress
type BatchCounters struct {
	TotalBatches   int
	CurrentBatch   int // 1-based
	TotalPages     int
	PagesProcessed int
}

// ProgressEvent is one event of a run's stream. Exactly one of the terminal
// types ends a run; progress events precede it.
type ProgressEvent struct {
	Type      EventType
	Progress  int
	Message   string
	Stage     Stage
	Counters  *BatchCounters
	Result    *ExtractionResult
	Timestamp time.Time
}

// IsTerminal reports whether the event ends the stream.
func (e ProgressEvent) IsTerminal() bool {
	return e.Type == EventComplete || e.Type == EventError
}

// NewProgress builds a progress event.
func NewProgress(percent int, stage Stage, message string) ProgressEvent {
	return ProgressEvent{
		Type:      EventProgress,
		Progress:  percent,
		Stage:     stage,
		Message:   message,
		Timestamp: time.Now(),
	}
}

// NewComplete builds the successful terminal event.
func NewComplete(result *ExtractionResult) ProgressEvent {
	return ProgressEvent{Type: EventComplete, Result: result, Timestamp: time.Now()}
}

// NewErrorEvent builds the failed terminal event.
func NewErrorEvent(message string) ProgressEvent {
	return ProgressEvent{Type: EventError, Message: message, Timestamp: time.Now()}
}

type progressFrame struct {
	Type           EventType `json:"type"`
	Progress       int       `json:"progress"`
	Message        string    `json:"message"`
	Stage          Stage     `json:"stage"`
	TotalBatches   *int      `json:"totalBatches,omitempty"`
	CurrentBatch   *int      `json:"currentBatch,omitempty"`
	TotalPages     *int      `json:"totalPages,omitempty"`
	PagesProcessed *int      `json:"pagesProcessed,omitempty"`
}

type completeFrame struct {
	Type   EventType         `json:"type"`
	Result *ExtractionResult `json:"result"`
}

type errorFrame struct {
	Type    EventType `json:"type"`
	Message string    `json:"message"`
}

// MarshalJSON renders the wire shape for the event type.
func (e ProgressEvent) MarshalJSON() ([]byte, error) {
	switch e.Type {
	case EventComplete:
		return json.Marshal(completeFrame{Type: e.Type, Result: e.Result})
	case EventError:
		return json.Marshal(errorFrame{Type: e.Type, Message: e.Message})
	default:
		f := progressFrame{
			Type:     EventProgress,
			Progress: e.Progress,
			Message:  e.Message,
			Stage:    e.Stage,
		}
		if c := e.Counters; c != nil {
			f.TotalBatches = &c.TotalBatches
			f.CurrentBatch = &c.CurrentBatch
			f.TotalPages = &c.TotalPages
			f.PagesProcessed = &c.PagesProcessed
		}
		return json.Marshal(f)
	}
}

// UnmarshalJSON parses any of the wire shapes back into an event.
func (e *ProgressEvent) UnmarshalJSON(data []byte) error {
	var raw struct {
		Type           EventType         `json:"type"`
		Progress       int               `json:"progress"`
		Message        string            `json:"message"`
		Stage          Stage             `json:"stage"`
		TotalBatches   *int              `json:"totalBatches"`
		CurrentBatch   *int              `json:"currentBatch"`
		TotalPages     *int              `json:"totalPages"`
		PagesProcessed *int              `json:"pagesProcessed"`
		Result         *ExtractionResult `json:"result"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*e = ProgressEvent{
		Type:     raw.Type,
		Progress: raw.Progress,
		Message:  raw.Message,
		Stage:    raw.Stage,
		Result:   raw.Result,
	}
	if raw.TotalBatches != nil || raw.CurrentBatch != nil {
		c := &BatchCounters{}
		if raw.TotalBatches != nil {
			c.TotalBatches = *raw.TotalBatches
		}
		if raw.CurrentBatch != nil {
			c.CurrentBatch = *raw.CurrentBatch
		}
		if raw.TotalPages != nil {
			c.TotalPages = *raw.TotalPages
		}
		if raw.PagesProcessed != nil {
			c.PagesProcessed = *raw.PagesProcessed
		}
		e.Counters = c
	}
	return nil
}
