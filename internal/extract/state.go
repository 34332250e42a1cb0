package extract

import "fmt"

// State is a run's position in the extraction lifecycle
type State string

const (
	StateIdle       State = "idle"
	StateScoring    State = "scoring"
	StateBatching   State = "batching"
	StateExtracting State = "extracting"
	StateMerging    State = "merging"
	StateComplete   State = "complete"
	StateError      State = "error"
	StateCancelled  State = "cancelled"
)

// Terminal reports whether no further transitions are possible.
func (s State) Terminal() bool {
	return s == StateComplete || s == StateError || s == StateCancelled
}

var transitions = map[State][]State{
	StateIdle:       {StateScoring, StateComplete, StateError, StateCancelled}, // Complete: cache hit
	StateScoring:    {StateBatching, StateError, StateCancelled},
	StateBatching:   {StateExtracting, StateError, StateCancelled},
	StateExtracting: {StateExtracting, StateMerging, StateError, StateCancelled},
	StateMerging:    {StateComplete, StateError, StateCancelled},
}

func canTransition(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// ErrInvalidTransition is returned for a transition the lifecycle does not allow.
type ErrInvalidTransition struct {
	From, To State
}

func (e *ErrInvalidTransition) Error() string {
	return fmt.Sprintf("invalid state transition %s -> %s", e.From, e.To)
}
