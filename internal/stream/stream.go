// Package stream carries a run's progress events from the pipeline to one
// consumer, and adapts them to the HTTP wire formats.
package stream

import (
	"context"
	"sync"

	"github.com/spherical/register-extractor/internal/domain"
	"github.com/spherical/register-extractor/internal/observability"
)

// Stream is a bounded, single-producer single-consumer event channel.
//
// Progress events may be dropped oldest-first when the consumer falls
// behind; the terminal event is never dropped. Percentages never go
// backwards. Cancelling before the terminal event closes the channel with
// no terminal event at all.
type Stream struct {
	ch     chan domain.ProgressEvent
	ctx    context.Context
	cancel context.CancelFunc
	logger *observability.Logger

	mu          sync.Mutex
	lastPercent int
	finished    bool
	abandoned   bool
	cancelled   bool
	closed      bool
	dropped     int
}

// New creates a stream bound to a run context derived from parent.
// buffer is the number of progress events held for a slow consumer.
func New(parent context.Context, buffer int, logger *observability.Logger) *Stream {
	if buffer < 1 {
		buffer = 1
	}
	if logger == nil {
		logger = observability.NopLogger()
	}
	ctx, cancel := context.WithCancel(parent)
	return &Stream{
		ch:     make(chan domain.ProgressEvent, buffer),
		ctx:    ctx,
		cancel: cancel,
		logger: logger,
	}
}

// Context is the run context. It is done once the stream is cancelled or the
// parent goes away.
func (s *Stream) Context() context.Context {
	return s.ctx
}

// Events returns the consumer side of the stream
func (s *Stream) Events() <-chan domain.ProgressEvent {
	return s.ch
}

// Progress publishes a progress event. It reports false once the stream is
// finished or cancelled.
func (s *Stream) Progress(ev domain.ProgressEvent) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.finished || s.cancelled || s.ctx.Err() != nil {
		return false
	}

	if ev.Progress < s.lastPercent {
		ev.Progress = s.lastPercent
	}
	if ev.Progress > 100 {
		ev.Progress = 100
	}
	s.lastPercent = ev.Progress

	for {
		select {
		case s.ch <- ev:
			return true
		default:
		}

		// Buffer full: make room by discarding the oldest queued progress.
		select {
		case old := <-s.ch:
			s.dropped++
			s.logger.Warn().
				Int("dropped_progress", old.Progress).
				Str("stage", string(old.Stage)).
				Msg("Consumer is slow, dropped progress event")
		default:
		}
	}
}

// Terminate delivers the single terminal event. commit, when non-nil, runs
// after the stream is marked finished and before delivery, so it never runs
// for a cancelled stream or one whose consumer is already gone. A commit is
// not undone if the consumer leaves while delivery is pending. Terminate
// reports false when nothing reached the consumer; the stream counts as
// finished either way unless it was cancelled.
func (s *Stream) Terminate(ev domain.ProgressEvent, commit func()) bool {
	s.mu.Lock()
	if s.finished || s.cancelled {
		s.mu.Unlock()
		return false
	}
	s.finished = true
	if s.ctx.Err() != nil {
		s.abandoned = true
		s.mu.Unlock()
		s.abandon(ev)
		return false
	}
	if commit != nil {
		commit()
	}
	s.mu.Unlock()

	// Blocks until the consumer takes it; only a vanished consumer stops it.
	select {
	case s.ch <- ev:
		return true
	case <-s.ctx.Done():
		s.mu.Lock()
		s.abandoned = true
		s.mu.Unlock()
		s.abandon(ev)
		return false
	}
}

func (s *Stream) abandon(ev domain.ProgressEvent) {
	s.logger.Warn().
		Str("type", string(ev.Type)).
		Msg("Consumer went away before the terminal event was delivered")
}

// Abandoned reports whether the terminal event was given up on because the
// consumer left.
func (s *Stream) Abandoned() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.abandoned
}

// Cancel aborts the run unless its terminal event has already been
// committed. It reports whether the cancellation took effect.
func (s *Stream) Cancel() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.finished || s.cancelled {
		return false
	}
	s.cancelled = true
	s.cancel()
	return true
}

// Cancelled reports whether Cancel took effect.
func (s *Stream) Cancelled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancelled
}

// Close ends the stream. Only the producer may call it, once it has sent
// its last event.
func (s *Stream) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	s.closed = true
	close(s.ch)
	s.cancel()
}

// LastPercent returns the highest percentage published so far.
func (s *Stream) LastPercent() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastPercent
}

// Dropped returns how many progress events were discarded.
func (s *Stream) Dropped() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped
}
