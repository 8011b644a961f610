package core

import (
	"fmt"
	"time"
)

// State is a pipeline controller state.
type State string

const (
	StateIdle             State = "idle"
	StateInitialAlignment State = "initial_alignment"
	StateSelecting        State = "selecting"
	StateConsulting       State = "consulting"
	StateReconciling      State = "reconciling"
	StateRefined          State = "refined"
	StateReAligning       State = "realigning"
	StateDone             State = "done"
	StateFailed           State = "failed"
)

var transitions = map[State][]State{
	StateIdle:             {StateInitialAlignment, StateSelecting},
	StateInitialAlignment: {StateSelecting, StateDone},
	StateSelecting:        {StateConsulting},
	StateConsulting:       {StateReconciling},
	StateReconciling:      {StateRefined},
	StateRefined:          {StateReAligning, StateDone},
	StateReAligning:       {StateDone},
}

func (s State) Terminal() bool {
	return s == StateDone || s == StateFailed
}

// CanTransition reports whether from -> to is allowed. Failed is reachable
// from every non-terminal state.
func CanTransition(from, to State) bool {
	if from.Terminal() {
		return false
	}
	if to == StateFailed {
		return true
	}
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Transition is one entry of a session's state history.
type Transition struct {
	From State     `json:"from"`
	To   State     `json:"to"`
	At   time.Time `json:"at"`
}

type InvalidTransitionError struct {
	From State
	To   State
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid pipeline transition %s -> %s", e.From, e.To)
}
