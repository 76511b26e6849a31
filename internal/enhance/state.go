package enhance

import "errors"

// Stage names a step of the pipeline in logs, metrics and errors.
type Stage string

const (
	StageValidate Stage = "validate"
	StageFilter   Stage = "filter"
	StageAdjust   Stage = "adjust"
)

// State is the position of a run in the enhancement state machine.
type State string

const (
	// StateValidated means the input exists and its sample rate is known.
	StateValidated State = "VALIDATED"
	// StateFiltered means the external filter produced a usable output.
	StateFiltered State = "FILTERED"
	// StateFilterFallback means filtering failed and the pre-filter artifact was kept.
	StateFilterFallback State = "FILTER_FALLBACK"
	// StateAdjusted means gain, trim and pad were applied to a new file.
	StateAdjusted State = "ADJUSTED"
	// StateAdjustFallback means the pre-adjustment artifact was copied verbatim.
	StateAdjustFallback State = "ADJUST_FALLBACK"
	// StateFailed means no result could be produced.
	StateFailed State = "FAILED"

	// statePending is the state of a run before validation.
	statePending State = "PENDING"
)

// ErrInvalidTransition is returned when an invalid state transition is attempted.
var ErrInvalidTransition = errors.New("invalid state transition")

// validTransitions defines which state transitions are allowed.
var validTransitions = map[State][]State{
	statePending:        {StateValidated, StateFailed},
	StateValidated:      {StateFiltered, StateFilterFallback, StateAdjusted, StateAdjustFallback, StateFailed},
	StateFiltered:       {StateAdjusted, StateAdjustFallback, StateFailed},
	StateFilterFallback: {StateAdjusted, StateAdjustFallback, StateFailed},
	StateAdjusted:       {},
	StateAdjustFallback: {},
	StateFailed:         {},
}

// canTransition checks if a transition from one state to another is valid.
func canTransition(from, to State) bool {
	allowed, ok := validTransitions[from]
	if !ok {
		return false
	}
	for _, s := range allowed {
		if s == to {
			return true
		}
	}
	return false
}

// IsTerminal returns true if no further transitions are possible from s.
func (s State) IsTerminal() bool {
	return s == StateAdjusted || s == StateAdjustFallback || s == StateFailed
}

// Succeeded returns true for the terminal states that carry a result.
func (s State) Succeeded() bool {
	return s == StateAdjusted || s == StateAdjustFallback
}
