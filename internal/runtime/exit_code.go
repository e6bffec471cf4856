// SPDX-License-Identifier: MPL-2.0

package runtime

import (
	"errors"
	"fmt"
	"strconv"
)

// ErrInvalidExitCode is returned when an ExitCode is outside 0-255.
var ErrInvalidExitCode = errors.New("invalid exit code")

type (
	// ExitCode is a process exit status.
	ExitCode int

	// InvalidExitCodeError wraps ErrInvalidExitCode.
	InvalidExitCodeError struct {
		Value ExitCode
	}

	// ExitStatusError lets a builtin report a specific exit status.
	ExitStatusError struct {
		Code ExitCode
		Err  error
	}
)

func (e *InvalidExitCodeError) Error() string {
	return fmt.Sprintf("invalid exit code %d (must be in range 0-255)", e.Value)
}

func (e *InvalidExitCodeError) Unwrap() error { return ErrInvalidExitCode }

// IsValid returns whether the code is a representable exit status.
func (c ExitCode) IsValid() (bool, []error) {
	if c < 0 || c > 255 {
		return false, []error{&InvalidExitCodeError{Value: c}}
	}
	return true, nil
}

// IsSuccess returns true for exit code 0.
func (c ExitCode) IsSuccess() bool { return c == 0 }

// Failure clamps a failing status into 1..255 so it can be propagated as a
// process exit code without turning into success.
func (c ExitCode) Failure() ExitCode {
	switch {
	case c == 0, c < 0:
		return 1
	case c > 255:
		return 255
	default:
		return c
	}
}

func (c ExitCode) String() string { return strconv.Itoa(int(c)) }

func (e *ExitStatusError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("exit status %d: %v", e.Code, e.Err)
	}
	return fmt.Sprintf("exit status %d", e.Code)
}

func (e *ExitStatusError) Unwrap() error { return e.Err }
