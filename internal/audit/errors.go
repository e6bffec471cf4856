// SPDX-License-Identifier: MPL-2.0

package audit

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrDependencyResolution is the sentinel wrapped by DependencyResolutionError.
	ErrDependencyResolution = errors.New("unresolved native dependency")
	// ErrConflict is the sentinel wrapped by ConflictError.
	ErrConflict = errors.New("conflicting native dependency")
	// ErrValidation is returned when a repaired wheel would not load on a
	// clean host.
	ErrValidation = errors.New("clean-host validation failed")
	// ErrAuditFailed is the sentinel wrapped by AuditError.
	ErrAuditFailed = errors.New("audit failed")
	// ErrNotBinary is returned by an Inspector for files that are not
	// native binaries.
	ErrNotBinary = errors.New("not a native binary")
	// ErrUnknownPolicy is returned for a policy name with no definition.
	ErrUnknownPolicy = errors.New("unknown platform policy")
)

type (
	// DependencyResolutionError names a library that could not be found.
	DependencyResolutionError struct {
		Library  string
		NeededBy string
	}

	// ConflictError names two files that cannot coexist in one wheel.
	ConflictError struct {
		Library string
		First   string
		Second  string
		Reason  string
	}

	// ValidationError reports why a repaired wheel failed validation.
	ValidationError struct {
		Validator string
		Err       error
	}

	// AuditError lists the wheels that failed.
	AuditError struct {
		Failed []string
	}
)

func (e *DependencyResolutionError) Error() string {
	return fmt.Sprintf("cannot resolve %s (needed by %s)", e.Library, e.NeededBy)
}

// Unwrap returns ErrDependencyResolution.
func (e *DependencyResolutionError) Unwrap() error { return ErrDependencyResolution }

func (e *ConflictError) Error() string {
	return fmt.Sprintf("conflict on %s between %s and %s: %s", e.Library, e.First, e.Second, e.Reason)
}

// Unwrap returns ErrConflict.
func (e *ConflictError) Unwrap() error { return ErrConflict }

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s validator: %v", e.Validator, e.Err)
}

// Unwrap returns ErrValidation and the cause.
func (e *ValidationError) Unwrap() []error { return []error{ErrValidation, e.Err} }

func (e *AuditError) Error() string {
	return fmt.Sprintf("%d wheel(s) failed the audit: %s", len(e.Failed), strings.Join(e.Failed, ", "))
}

// Unwrap returns ErrAuditFailed.
func (e *AuditError) Unwrap() error { return ErrAuditFailed }
