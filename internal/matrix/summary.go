// SPDX-License-Identifier: MPL-2.0

package matrix

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/wheelhouse-dev/wheelhouse/internal/audit"
	"github.com/wheelhouse-dev/wheelhouse/internal/gate"
	"github.com/wheelhouse-dev/wheelhouse/internal/provision"
	"github.com/wheelhouse-dev/wheelhouse/internal/testrun"
	"github.com/wheelhouse-dev/wheelhouse/pkg/matrixfile"
)

// SummaryFileName is the run summary inside the work directory.
const SummaryFileName = "last-run.json"

const (
	// StatusPassed environments ran every command successfully.
	StatusPassed EnvStatus = "passed"
	// StatusFailed is a required environment that failed.
	StatusFailed EnvStatus = "failed"
	// StatusWarned is a best-effort environment with failures.
	StatusWarned EnvStatus = "warned"
	// StatusSkipped environments never ran because an earlier required
	// environment failed or the run was canceled.
	StatusSkipped EnvStatus = "skipped"
)

// ErrInvalidEnvStatus is the sentinel wrapped by InvalidEnvStatusError.
var ErrInvalidEnvStatus = errors.New("invalid environment status")

type (
	// EnvStatus is the outcome of one environment.
	EnvStatus string

	// InvalidEnvStatusError wraps ErrInvalidEnvStatus.
	InvalidEnvStatusError struct {
		Value EnvStatus
	}

	// Summary is the persisted record of one run.
	Summary struct {
		RunID     string               `json:"run_id"`
		Matrix    string               `json:"matrix"`
		Started   time.Time            `json:"started"`
		Duration  time.Duration        `json:"duration"`
		Selection []matrixfile.EnvName `json:"selection"`
		PosArgs   []string             `json:"posargs,omitempty"`
		Build     *BuildResult         `json:"build,omitempty"`
		Envs      []EnvResult          `json:"envs"`
		ExitCode  int                  `json:"exit_code"`
		Canceled  bool                 `json:"canceled,omitempty"`
	}

	// BuildResult records the artifact build of a run.
	BuildResult struct {
		Artifacts []provision.Artifact `json:"artifacts,omitempty"`
		Duration  time.Duration        `json:"duration"`
		Error     string               `json:"error,omitempty"`
	}

	// EnvResult records one environment.
	EnvResult struct {
		Name     matrixfile.EnvName     `json:"name"`
		Status   EnvStatus              `json:"status"`
		Policy   matrixfile.Policy      `json:"policy"`
		Install  matrixfile.InstallMode `json:"install"`
		Duration time.Duration          `json:"duration"`
		// Reused is set when the provisioned environment came from cache.
		Reused bool `json:"reused,omitempty"`
		// FailedCommand is the index of the first failing command.
		FailedCommand *int `json:"failed_command,omitempty"`
		ExitCode      int  `json:"exit_code"`
		// Step names where a failure outside the commands happened:
		// "build" or "provision".
		Step     string          `json:"step,omitempty"`
		Error    string          `json:"error,omitempty"`
		Commands []CommandResult `json:"commands,omitempty"`
		Tests    []TestRecord    `json:"tests,omitempty"`
		Audits   []*audit.Report `json:"audits,omitempty"`
		Gates    []*gate.Report  `json:"gates,omitempty"`
	}

	// CommandResult is one command of a sequence.
	CommandResult struct {
		Index    int           `json:"index"`
		Command  string        `json:"command"`
		ExitCode int           `json:"exit_code"`
		Duration time.Duration `json:"duration"`
		Error    string        `json:"error,omitempty"`
	}

	// TestRecord points at a test report collected during the run.
	TestRecord struct {
		Report  string          `json:"report"`
		Summary testrun.Summary `json:"summary"`
		Failed  bool            `json:"failed"`
	}
)

// Error implements the error interface.
func (e *InvalidEnvStatusError) Error() string {
	return fmt.Sprintf("invalid environment status %q", e.Value)
}

// Unwrap returns ErrInvalidEnvStatus.
func (e *InvalidEnvStatusError) Unwrap() error { return ErrInvalidEnvStatus }

// IsValid reports whether s is a known status.
func (s EnvStatus) IsValid() (bool, []error) {
	switch s {
	case StatusPassed, StatusFailed, StatusWarned, StatusSkipped:
		return true, nil
	default:
		return false, []error{&InvalidEnvStatusError{Value: s}}
	}
}

func (s EnvStatus) String() string { return string(s) }

// Failed reports whether a required environment failed.
func (s *Summary) Failed() bool { return s.ExitCode != 0 }

// Count returns how many environments ended in status.
func (s *Summary) Count(status EnvStatus) int {
	n := 0
	for _, e := range s.Envs {
		if e.Status == status {
			n++
		}
	}
	return n
}

// SummaryPath returns where the summary of m's runs is kept.
func SummaryPath(m *matrixfile.Matrix) string {
	return filepath.Join(m.AbsWorkDir(), SummaryFileName)
}

// WriteSummary stores s at path, replacing the previous run.
func WriteSummary(path string, s *Summary) error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal run summary: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create %s: %w", filepath.Dir(path), err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("write run summary: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("write run summary: %w", err)
	}
	return nil
}

// ReadSummary loads a summary written by WriteSummary.
func ReadSummary(path string) (*Summary, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read run summary: %w", err)
	}
	var s Summary
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parse run summary %s: %w", path, err)
	}
	return &s, nil
}
