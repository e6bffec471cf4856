// SPDX-License-Identifier: MPL-2.0

package matrixfile

import (
	"errors"
	"fmt"
	"regexp"
	"time"
)

const (
	// PolicyRequired aborts the environment on the first failing command and
	// fails the run.
	PolicyRequired Policy = "required"
	// PolicyBestEffort runs every command and reports failures as warnings.
	PolicyBestEffort Policy = "best-effort"

	// InstallPackage installs the freshly built wheel from the dist directory.
	InstallPackage InstallMode = "package"
	// InstallDevelop installs the project root in editable mode.
	InstallDevelop InstallMode = "develop"
	// InstallSkip leaves the project uninstalled.
	InstallSkip InstallMode = "skip"

	// SelectAll selects every runnable environment in declaration order.
	SelectAll EnvName = "ALL"
)

var (
	// ErrInvalidEnvName is returned when an EnvName does not match the naming rule.
	ErrInvalidEnvName = errors.New("invalid environment name")
	// ErrInvalidPolicy is returned when a Policy value is not one of the defined policies.
	ErrInvalidPolicy = errors.New("invalid policy")
	// ErrInvalidInstallMode is returned when an InstallMode value is not one of the defined modes.
	ErrInvalidInstallMode = errors.New("invalid install mode")
	// ErrInvalidDuration is returned when a Duration cannot be parsed or is negative.
	ErrInvalidDuration = errors.New("invalid duration")

	envNamePattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.-]*$`)
)

type (
	// EnvName identifies an environment in the matrix.
	EnvName string

	// InvalidEnvNameError is returned when an EnvName is malformed.
	// It wraps ErrInvalidEnvName for errors.Is() compatibility.
	InvalidEnvNameError struct {
		Value EnvName
	}

	// Policy controls how command failures inside an environment are treated.
	Policy string

	// InvalidPolicyError wraps ErrInvalidPolicy.
	InvalidPolicyError struct {
		Value Policy
	}

	// InstallMode is the isolation flag: how the project itself is installed
	// into a provisioned environment.
	InstallMode string

	// InvalidInstallModeError wraps ErrInvalidInstallMode.
	InvalidInstallModeError struct {
		Value InstallMode
	}

	// Duration is a time.Duration written as a Go duration string ("1s",
	// "2m30s") in both CUE and TOML matrix files.
	Duration time.Duration

	// InvalidDurationError wraps ErrInvalidDuration.
	InvalidDurationError struct {
		Value string
		Err   error
	}
)

func (e *InvalidEnvNameError) Error() string {
	return fmt.Sprintf("invalid environment name %q (must match %s)", e.Value, envNamePattern)
}

func (e *InvalidEnvNameError) Unwrap() error { return ErrInvalidEnvName }

// IsValid returns whether the name matches the environment naming rule.
func (n EnvName) IsValid() (bool, []error) {
	if envNamePattern.MatchString(string(n)) {
		return true, nil
	}
	return false, []error{&InvalidEnvNameError{Value: n}}
}

// String returns the string representation of the EnvName.
func (n EnvName) String() string { return string(n) }

func (e *InvalidPolicyError) Error() string {
	return fmt.Sprintf("invalid policy %q (valid: required, best-effort)", e.Value)
}

func (e *InvalidPolicyError) Unwrap() error { return ErrInvalidPolicy }

// IsValid returns whether the Policy is one of the defined policies.
func (p Policy) IsValid() (bool, []error) {
	switch p {
	case PolicyRequired, PolicyBestEffort:
		return true, nil
	default:
		return false, []error{&InvalidPolicyError{Value: p}}
	}
}

// String returns the string representation of the Policy.
func (p Policy) String() string { return string(p) }

func (e *InvalidInstallModeError) Error() string {
	return fmt.Sprintf("invalid install mode %q (valid: package, develop, skip)", e.Value)
}

func (e *InvalidInstallModeError) Unwrap() error { return ErrInvalidInstallMode }

// IsValid returns whether the InstallMode is one of the defined modes.
func (m InstallMode) IsValid() (bool, []error) {
	switch m {
	case InstallPackage, InstallDevelop, InstallSkip:
		return true, nil
	default:
		return false, []error{&InvalidInstallModeError{Value: m}}
	}
}

// String returns the string representation of the InstallMode.
func (m InstallMode) String() string { return string(m) }

func (e *InvalidDurationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("invalid duration %q: %v", e.Value, e.Err)
	}
	return fmt.Sprintf("invalid duration %q: must not be negative", e.Value)
}

func (e *InvalidDurationError) Unwrap() error { return ErrInvalidDuration }

// UnmarshalText parses a Go duration string.
func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return &InvalidDurationError{Value: string(text), Err: err}
	}
	if parsed < 0 {
		return &InvalidDurationError{Value: string(text)}
	}
	*d = Duration(parsed)
	return nil
}

// MarshalText renders the duration in Go syntax.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }
