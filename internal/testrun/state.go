// SPDX-License-Identifier: MPL-2.0

package testrun

import (
	"errors"
	"fmt"
	"slices"
)

const (
	StatePending         State = "pending"
	StateRunning         State = "running"
	StateFailedRetryable State = "failed-retryable"
	StatePassed          State = "passed"
	StateFailedFinal     State = "failed"
	StateTimedOut        State = "timed-out"
	// StateXFailed is an expected failure that failed.
	StateXFailed State = "xfailed"
	// StateXPassed is an expected failure that passed outside strict mode.
	StateXPassed State = "xpassed"
	// StateXPassedStrict is an expected failure that passed in strict mode.
	// It fails the run.
	StateXPassedStrict State = "xpassed-strict"
)

var (
	// ErrInvalidState is returned when a State value is not defined.
	ErrInvalidState = errors.New("invalid test state")
	// ErrIllegalTransition is returned when the state machine is asked to
	// move along an edge it does not have.
	ErrIllegalTransition = errors.New("illegal test state transition")

	transitions = map[State][]State{
		StatePending: {StateRunning},
		StateRunning: {
			StatePassed, StateFailedRetryable, StateFailedFinal, StateTimedOut,
			StateXFailed, StateXPassed, StateXPassedStrict,
		},
		StateFailedRetryable: {StateRunning},
	}
)

type (
	// State is the lifecycle state of one test.
	State string

	// InvalidStateError wraps ErrInvalidState.
	InvalidStateError struct {
		Value State
	}

	// TransitionError wraps ErrIllegalTransition.
	TransitionError struct {
		From, To State
	}
)

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("invalid test state %q", e.Value)
}

func (e *InvalidStateError) Unwrap() error { return ErrInvalidState }

func (e *TransitionError) Error() string {
	return fmt.Sprintf("%v: %s -> %s", ErrIllegalTransition, e.From, e.To)
}

func (e *TransitionError) Unwrap() error { return ErrIllegalTransition }

// IsValid returns whether the State is one of the defined states.
func (s State) IsValid() (bool, []error) {
	switch s {
	case StatePending, StateRunning, StateFailedRetryable, StatePassed, StateFailedFinal,
		StateTimedOut, StateXFailed, StateXPassed, StateXPassedStrict:
		return true, nil
	default:
		return false, []error{&InvalidStateError{Value: s}}
	}
}

// String returns the string representation of the State.
func (s State) String() string { return string(s) }

// Terminal reports whether no further transition leaves s.
func (s State) Terminal() bool {
	_, ok := transitions[s]
	return !ok
}

// Failed reports whether s fails the run.
func (s State) Failed() bool {
	return s == StateFailedFinal || s == StateTimedOut || s == StateXPassedStrict
}

// CanTransition reports whether the state machine has an edge s -> to.
func (s State) CanTransition(to State) bool {
	return slices.Contains(transitions[s], to)
}

// machine tracks one test's state and counts Running transitions.
type machine struct {
	state   State
	history []State
	runs    int
	maxRuns int
}

func newMachine(retries int) *machine {
	return &machine{state: StatePending, history: []State{StatePending}, maxRuns: retries + 1}
}

func (m *machine) to(next State) error {
	if !m.state.CanTransition(next) {
		return &TransitionError{From: m.state, To: next}
	}
	if next == StateRunning {
		if m.runs == m.maxRuns {
			return &TransitionError{From: m.state, To: next}
		}
		m.runs++
	}
	m.state = next
	m.history = append(m.history, next)
	return nil
}

// canRetry reports whether another Running transition is allowed.
func (m *machine) canRetry() bool { return m.runs < m.maxRuns }

// attemptOutcome is how one attempt ended.
type attemptOutcome int

const (
	outcomePassed attemptOutcome = iota
	outcomeFailed
	outcomeTimedOut
)

// settle picks the state after an attempt. Expected failures are never
// retried; timeouts are retried and never absorbed by xfail.
func (m *machine) settle(outcome attemptOutcome, xfail, strict bool) State {
	switch {
	case outcome == outcomePassed && xfail && strict:
		return StateXPassedStrict
	case outcome == outcomePassed && xfail:
		return StateXPassed
	case outcome == outcomePassed:
		return StatePassed
	case outcome == outcomeFailed && xfail:
		return StateXFailed
	case m.canRetry():
		return StateFailedRetryable
	case outcome == outcomeTimedOut:
		return StateTimedOut
	default:
		return StateFailedFinal
	}
}
