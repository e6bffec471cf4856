// SPDX-License-Identifier: MPL-2.0

package runtime

import "time"

// Result is the outcome of running one command.
type Result struct {
	ExitCode ExitCode
	Duration time.Duration
	// Error is set when the command could not run to completion: a parse
	// error, a failed process start or cancellation. A non-zero ExitCode
	// alone is not an error.
	Error error
}

// Success reports whether the command ran and exited 0.
func (r *Result) Success() bool {
	return r.Error == nil && r.ExitCode.IsSuccess()
}

// NewErrorResult returns a failed Result carrying err.
func NewErrorResult(code ExitCode, err error) *Result {
	return &Result{ExitCode: code, Error: err}
}
