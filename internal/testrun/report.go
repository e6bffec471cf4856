// SPDX-License-Identifier: MPL-2.0

package testrun

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// ReportFileName is the default report name inside an environment's tmp dir.
const ReportFileName = "test-report.json"

type (
	// Attempt is one Running transition of a test.
	Attempt struct {
		Number   int           `json:"number"`
		ExitCode int           `json:"exit_code"`
		Duration time.Duration `json:"duration"`
		TimedOut bool          `json:"timed_out,omitempty"`
	}

	// TestResult is the final record of one test.
	TestResult struct {
		Path     string        `json:"path"`
		State    State         `json:"state"`
		Attempts []Attempt     `json:"attempts"`
		Duration time.Duration `json:"duration"`
		// Reason is the xfail reason, when the test is expected to fail.
		Reason string `json:"reason,omitempty"`
		// Output is the tail of the last attempt's output for tests that
		// did not pass.
		Output string `json:"output,omitempty"`
		// History lists every state the test went through.
		History []State `json:"history"`
	}

	// Summary counts terminal states.
	Summary struct {
		Total         int `json:"total"`
		Passed        int `json:"passed"`
		Failed        int `json:"failed"`
		TimedOut      int `json:"timed_out"`
		XFailed       int `json:"xfailed"`
		XPassed       int `json:"xpassed"`
		XPassedStrict int `json:"xpassed_strict"`
		// Retried lists tests that needed more than one attempt.
		Retried []string `json:"retried"`
		// TimeoutViolations lists tests with at least one timed-out attempt.
		TimeoutViolations []string `json:"timeout_violations"`
	}

	// Report is the JSON document a test run produces.
	Report struct {
		Root     string        `json:"root"`
		Pattern  string        `json:"pattern"`
		Started  time.Time     `json:"started"`
		Duration time.Duration `json:"duration"`
		Workers  int           `json:"workers"`
		Retries  int           `json:"retries"`
		Timeout  time.Duration `json:"timeout"`
		Strict   bool          `json:"strict_xfail"`
		Tests    []TestResult  `json:"tests"`
		Summary  Summary       `json:"summary"`
	}
)

// Failed reports whether any test ended in a failing state.
func (r *Report) Failed() bool {
	for _, t := range r.Tests {
		if t.State.Failed() {
			return true
		}
	}
	return false
}

// ExitCode is 1 when the run failed, 0 otherwise.
func (r *Report) ExitCode() int {
	if r.Failed() {
		return 1
	}
	return 0
}

func summarize(tests []TestResult) Summary {
	s := Summary{Total: len(tests), Retried: []string{}, TimeoutViolations: []string{}}
	for _, t := range tests {
		switch t.State {
		case StatePassed:
			s.Passed++
		case StateFailedFinal:
			s.Failed++
		case StateTimedOut:
			s.TimedOut++
		case StateXFailed:
			s.XFailed++
		case StateXPassed:
			s.XPassed++
		case StateXPassedStrict:
			s.XPassedStrict++
		}
		if len(t.Attempts) > 1 {
			s.Retried = append(s.Retried, t.Path)
		}
		for _, a := range t.Attempts {
			if a.TimedOut {
				s.TimeoutViolations = append(s.TimeoutViolations, t.Path)
				break
			}
		}
	}
	return s
}

// WriteReport writes r as indented JSON, creating parent directories.
func WriteReport(path string, r *Report) error {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("encode test report: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create report directory: %w", err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("write test report: %w", err)
	}
	return nil
}

// ReadReport loads a report written by WriteReport.
func ReadReport(path string) (*Report, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var r Report
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return &r, nil
}
