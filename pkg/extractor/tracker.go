package extractor

import (
	"fmt"
	"sync"

	"github.com/spherical/register-extractor/internal/domain"
)

// Phase is the caller-side view of an extraction.
type Phase string

const (
	PhaseIdle       Phase = "idle"
	PhaseUploading  Phase = "uploading"
	PhaseExtracting Phase = "extracting"
	PhaseComplete   Phase = "complete"
	PhaseError      Phase = "error"
)

type actionKind int

const (
	actionBegin actionKind = iota
	actionUploaded
	actionEvent
	actionFail
	actionCancel
)

// Action is an input to Tracker.Dispatch. Build one with the helpers below.
type Action struct {
	kind  actionKind
	event ProgressEvent
	err   error
}

// BeginUpload starts a new extraction. Allowed from idle, complete and error.
func BeginUpload() Action { return Action{kind: actionBegin} }

// Uploaded marks the document as accepted by the server.
func Uploaded() Action { return Action{kind: actionUploaded} }

// Observe feeds one stream event.
func Observe(ev ProgressEvent) Action { return Action{kind: actionEvent, event: ev} }

// Fail records a transport or client-side failure outside the stream.
func Fail(err error) Action { return Action{kind: actionFail, err: err} }

// CancelAction abandons whatever is in flight and returns to idle.
func CancelAction() Action { return Action{kind: actionCancel} }

// Snapshot is the tracker's state after an action.
type Snapshot struct {
	Phase    Phase
	Progress int
	Stage    domain.Stage
	Message  string
	Counters *domain.BatchCounters
	Result   *Result
	Error    string
}

// ErrUnexpectedAction is returned when an action does not apply to the current phase.
type ErrUnexpectedAction struct {
	Phase  Phase
	Action string
}

func (e *ErrUnexpectedAction) Error() string {
	return fmt.Sprintf("unexpected %s while %s", e.Action, e.Phase)
}

// Tracker reduces stream events into a single snapshot. All mutation goes
// through Dispatch; OnChange observers see every accepted snapshot in order.
type Tracker struct {
	mu       sync.Mutex
	snap     Snapshot
	onChange func(Snapshot)
}

// NewTracker creates an idle tracker. onChange may be nil.
func NewTracker(onChange func(Snapshot)) *Tracker {
	return &Tracker{snap: Snapshot{Phase: PhaseIdle}, onChange: onChange}
}

// Snapshot returns the current state.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.snap
}

// Dispatch applies an action. Rejected actions leave the state untouched.
func (t *Tracker) Dispatch(a Action) (Snapshot, error) {
	t.mu.Lock()
	next, err := reduce(t.snap, a)
	if err != nil {
		cur := t.snap
		t.mu.Unlock()
		return cur, err
	}
	t.snap = next
	notify := t.onChange
	t.mu.Unlock()

	if notify != nil {
		notify(next)
	}
	return next, nil
}

func reduce(s Snapshot, a Action) (Snapshot, error) {
	switch a.kind {
	case actionCancel:
		return Snapshot{Phase: PhaseIdle}, nil

	case actionBegin:
		switch s.Phase {
		case PhaseIdle, PhaseComplete, PhaseError:
			return Snapshot{Phase: PhaseUploading}, nil
		}
		return s, &ErrUnexpectedAction{Phase: s.Phase, Action: "upload"}

	case actionUploaded:
		if s.Phase != PhaseUploading {
			return s, &ErrUnexpectedAction{Phase: s.Phase, Action: "upload acknowledgement"}
		}
		s.Phase = PhaseExtracting
		return s, nil

	case actionFail:
		if s.Phase != PhaseUploading && s.Phase != PhaseExtracting {
			return s, &ErrUnexpectedAction{Phase: s.Phase, Action: "failure"}
		}
		msg := "extraction failed"
		if a.err != nil {
			msg = domain.UserMessage(a.err)
		}
		return Snapshot{Phase: PhaseError, Progress: s.Progress, Error: msg}, nil

	case actionEvent:
		// A single-request stream skips the explicit acknowledgement.
		if s.Phase != PhaseUploading && s.Phase != PhaseExtracting {
			return s, &ErrUnexpectedAction{Phase: s.Phase, Action: string(a.event.Type) + " event"}
		}
		return applyEvent(s, a.event), nil
	}
	return s, fmt.Errorf("unknown action %d", a.kind)
}

func applyEvent(s Snapshot, ev ProgressEvent) Snapshot {
	switch ev.Type {
	case domain.EventComplete:
		return Snapshot{Phase: PhaseComplete, Progress: 100, Message: s.Message, Result: ev.Result}
	case domain.EventError:
		return Snapshot{Phase: PhaseError, Progress: s.Progress, Error: ev.Message}
	}

	s.Phase = PhaseExtracting
	if ev.Progress > s.Progress {
		s.Progress = ev.Progress
	}
	s.Stage = ev.Stage
	s.Message = ev.Message
	if ev.Counters != nil {
		c := *ev.Counters
		s.Counters = &c
	}
	return s
}
