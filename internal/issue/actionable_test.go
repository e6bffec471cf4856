// SPDX-License-Identifier: MPL-2.0

package issue

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestActionableError_Error(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		err      *ActionableError
		expected string
	}{
		{
			name:     "operation only",
			err:      &ActionableError{Operation: "load matrix"},
			expected: "failed to load matrix",
		},
		{
			name:     "operation with resource",
			err:      &ActionableError{Operation: "load matrix", Resource: "./wheelhouse.cue"},
			expected: "failed to load matrix: ./wheelhouse.cue",
		},
		{
			name: "full context",
			err: &ActionableError{
				Operation: "audit wheel",
				Resource:  "dist/core-1.0-cp311-cp311-linux_x86_64.whl",
				Cause:     errors.New("libssl.so.3 not found"),
			},
			expected: "failed to audit wheel: dist/core-1.0-cp311-cp311-linux_x86_64.whl: libssl.so.3 not found",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			if got := tt.err.Error(); got != tt.expected {
				t.Errorf("Error() = %q, want %q", got, tt.expected)
			}
		})
	}
}

func TestActionableError_ErrorsIsAndAs(t *testing.T) {
	t.Parallel()

	cause := errors.New("specific error")
	wrapped := fmt.Errorf("outer: %w", &ActionableError{Operation: "test", Cause: cause})

	if !errors.Is(wrapped, cause) {
		t.Error("errors.Is should find the wrapped cause")
	}
	var ae *ActionableError
	if !errors.As(wrapped, &ae) || ae.Operation != "test" {
		t.Errorf("errors.As = %v", ae)
	}
	if (&ActionableError{Operation: "x"}).Unwrap() != nil {
		t.Error("Unwrap() should return nil when no cause")
	}
}

func TestActionableError_Format(t *testing.T) {
	t.Parallel()

	root := errors.New("permission denied")
	err := NewErrorContext().
		WithOperation("provision environment").
		WithResource("py3").
		WithSuggestions("Check the work directory permissions", "Re-run with --recreate").
		Wrap(fmt.Errorf("create venv: %w", root)).
		Build()

	plain := err.Format(false)
	for _, want := range []string{
		"failed to provision environment: py3: create venv: permission denied",
		"• Check the work directory permissions",
		"• Re-run with --recreate",
	} {
		if !strings.Contains(plain, want) {
			t.Errorf("Format(false) missing %q:\n%s", want, plain)
		}
	}
	if strings.Contains(plain, "Error chain:") {
		t.Error("Format(false) should not include the error chain")
	}

	verbose := err.Format(true)
	if !strings.Contains(verbose, "Error chain:") || !strings.Contains(verbose, "2. permission denied") {
		t.Errorf("Format(true) missing error chain:\n%s", verbose)
	}
}

func TestErrorContext_Build(t *testing.T) {
	t.Parallel()

	if NewErrorContext().WithResource("x").Build() != nil {
		t.Error("Build() without operation should return nil")
	}
	if err := NewErrorContext().BuildError(); err != nil {
		t.Errorf("BuildError() without operation = %v, want untyped nil", err)
	}

	ae := NewErrorContext().WithOperation("run").WithIssue(CommandFailedId).Build()
	if ae.Issue != CommandFailedId {
		t.Errorf("Issue = %d, want %d", ae.Issue, CommandFailedId)
	}
	if ae.HasSuggestions() {
		t.Error("HasSuggestions() = true, want false")
	}
}

func TestWrapHelpers(t *testing.T) {
	t.Parallel()

	if WrapWithOperation(nil, "x") != nil || WrapWithContext(nil, "x", "y") != nil {
		t.Error("wrapping nil should return nil")
	}
	err := WrapWithContext(errors.New("boom"), "build wheel", "dist")
	if err.Error() != "failed to build wheel: dist: boom" {
		t.Errorf("Error() = %q", err.Error())
	}
	if NewActionableError("x").Operation != "x" {
		t.Error("NewActionableError did not set operation")
	}
}

func TestIssueOf(t *testing.T) {
	t.Parallel()

	err := fmt.Errorf("run: %w", NewErrorContext().
		WithOperation("select environments").
		WithIssue(UnknownEnvironmentId).
		Build())
	if got := IssueOf(err); got == nil || got.Id() != UnknownEnvironmentId {
		t.Errorf("IssueOf() = %v, want UnknownEnvironmentId", got)
	}
	if IssueOf(errors.New("plain")) != nil {
		t.Error("IssueOf(plain) should be nil")
	}
	if IssueOf(NewActionableError("no issue")) != nil {
		t.Error("IssueOf without linked issue should be nil")
	}
}
