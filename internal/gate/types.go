// SPDX-License-Identifier: MPL-2.0

package gate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/wheelhouse-dev/wheelhouse/internal/runtime"
)

const (
	KindStyle    Kind = "style"
	KindDocument Kind = "document"
	KindDocs     Kind = "docs"

	StatusPassed Status = "passed"
	StatusFailed Status = "failed"

	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

// ErrInvalidKind is returned when a Kind value is not one of the defined kinds.
var ErrInvalidKind = errors.New("invalid gate unit kind")

type (
	// Kind groups units: "wheelhouse lint" runs style and document units,
	// "wheelhouse docs" runs the docs unit.
	Kind string

	// InvalidKindError wraps ErrInvalidKind.
	InvalidKindError struct {
		Value Kind
	}

	// Status is the outcome of one unit.
	Status string

	// Severity ranks a finding. Only errors fail a unit.
	Severity string

	// Finding is one problem reported by a unit.
	Finding struct {
		Line     int      `json:"line,omitempty"`
		Severity Severity `json:"severity"`
		Message  string   `json:"message"`
	}

	// UnitResult is the outcome of one unit.
	UnitResult struct {
		Name     string        `json:"name"`
		Kind     Kind          `json:"kind"`
		Status   Status        `json:"status"`
		ExitCode int           `json:"exit_code"`
		Duration time.Duration `json:"duration"`
		Findings []Finding     `json:"findings,omitempty"`
		// Warnings counts non-fatal warnings (docs builds).
		Warnings int    `json:"warnings,omitempty"`
		Output   string `json:"output,omitempty"`
	}

	// Request is the execution context shared by all units.
	Request struct {
		// Dir is the project root; relative paths resolve against it.
		Dir string
		// Env is the complete environment of unit commands.
		Env map[string]string
	}

	// Unit is one independent pass/fail check.
	Unit interface {
		Name() string
		Kind() Kind
		Run(ctx context.Context, req Request) UnitResult
	}

	// CommandRunner executes one command string. *runtime.Shell satisfies it.
	CommandRunner interface {
		Run(ctx context.Context, c runtime.Command) *runtime.Result
	}
)

func (e *InvalidKindError) Error() string {
	return fmt.Sprintf("invalid gate unit kind %q (valid: style, document, docs)", e.Value)
}

func (e *InvalidKindError) Unwrap() error { return ErrInvalidKind }

// IsValid returns whether the Kind is one of the defined kinds.
func (k Kind) IsValid() (bool, []error) {
	switch k {
	case KindStyle, KindDocument, KindDocs:
		return true, nil
	default:
		return false, []error{&InvalidKindError{Value: k}}
	}
}

// String returns the string representation of the Kind.
func (k Kind) String() string { return string(k) }

// Failed reports whether the unit failed.
func (r UnitResult) Failed() bool { return r.Status == StatusFailed }

// Errors counts findings with error severity.
func (r UnitResult) Errors() int {
	n := 0
	for _, f := range r.Findings {
		if f.Severity == SeverityError {
			n++
		}
	}
	return n
}
