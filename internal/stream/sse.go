package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/spherical/register-extractor/internal/domain"
)

// EventWriter puts one event on the wire.
type EventWriter interface {
	WriteEvent(ev domain.ProgressEvent) error
}

// Heartbeater keeps an idle connection alive.
type Heartbeater interface {
	Heartbeat() error
}

func setStreamHeaders(w http.ResponseWriter) {
	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
}

// ChunkedWriter streams events in the response body of the request that
// started the run, one "data: <json>" frame per event.
type ChunkedWriter struct {
	w  http.ResponseWriter
	rc *http.ResponseController
}

// NewChunkedWriter sets the streaming headers and writes the status line.
func NewChunkedWriter(w http.ResponseWriter) *ChunkedWriter {
	setStreamHeaders(w)
	w.WriteHeader(http.StatusOK)
	return &ChunkedWriter{w: w, rc: http.NewResponseController(w)}
}

// WriteEvent implements EventWriter.
func (c *ChunkedWriter) WriteEvent(ev domain.ProgressEvent) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	if _, err := fmt.Fprintf(c.w, "data: %s\n\n", payload); err != nil {
		return err
	}
	return c.rc.Flush()
}

// PushWriter serves the subscribe side of upload-then-subscribe as a named,
// numbered event stream.
type PushWriter struct {
	w   http.ResponseWriter
	rc  *http.ResponseController
	seq int
}

// NewPushWriter sets the streaming headers and writes the status line.
func NewPushWriter(w http.ResponseWriter) *PushWriter {
	setStreamHeaders(w)
	w.WriteHeader(http.StatusOK)
	return &PushWriter{w: w, rc: http.NewResponseController(w)}
}

// WriteEvent implements EventWriter.
func (p *PushWriter) WriteEvent(ev domain.ProgressEvent) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	p.seq++
	if _, err := fmt.Fprintf(p.w, "id: %d\nevent: %s\ndata: %s\n\n", p.seq, ev.Type, payload); err != nil {
		return err
	}
	return p.rc.Flush()
}

// Heartbeat implements Heartbeater with an SSE comment line.
func (p *PushWriter) Heartbeat() error {
	if _, err := fmt.Fprint(p.w, ": ping\n\n"); err != nil {
		return err
	}
	return p.rc.Flush()
}

// Pump copies events to w in order until the channel closes. It returns the
// terminal event if one was delivered, nil if the run ended without one.
// A done ctx (the client went away) or a write failure stops pumping early.
func Pump(ctx context.Context, events <-chan domain.ProgressEvent, w EventWriter, heartbeat time.Duration) (*domain.ProgressEvent, error) {
	var tick <-chan time.Time
	hb, canBeat := w.(Heartbeater)
	if canBeat && heartbeat > 0 {
		ticker := time.NewTicker(heartbeat)
		defer ticker.Stop()
		tick = ticker.C
	}

	var terminal *domain.ProgressEvent
	for {
		select {
		case <-ctx.Done():
			return terminal, ctx.Err()

		case <-tick:
			if err := hb.Heartbeat(); err != nil {
				return terminal, err
			}

		case ev, ok := <-events:
			if !ok {
				return terminal, nil
			}
			if err := w.WriteEvent(ev); err != nil {
				return terminal, err
			}
			if ev.IsTerminal() {
				e := ev
				terminal = &e
			}
		}
	}
}
