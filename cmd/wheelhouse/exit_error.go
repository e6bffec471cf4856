// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"fmt"

	"github.com/wheelhouse-dev/wheelhouse/internal/runtime"
)

// ExitError signals a non-zero exit code without forcing os.Exit in RunE handlers.
type ExitError struct {
	Code runtime.ExitCode
	Err  error
}

// Error returns the error message for ExitError.
func (e *ExitError) Error() string {
	if e.Err != nil {
		return e.Err.Error()
	}
	return fmt.Sprintf("exit status %d", e.Code)
}

// Unwrap returns the underlying error, if any.
func (e *ExitError) Unwrap() error {
	return e.Err
}

// exitWith turns a non-zero status into an ExitError.
func exitWith(code int) error {
	if code == 0 {
		return nil
	}
	return &ExitError{Code: runtime.ExitCode(code).Failure()}
}
