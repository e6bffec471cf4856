// SPDX-License-Identifier: MPL-2.0

package provision

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/wheelhouse-dev/wheelhouse/internal/runtime"
	"github.com/wheelhouse-dev/wheelhouse/pkg/matrixfile"
)

// ErrProvisionFailed is the sentinel wrapped by StepError.
var ErrProvisionFailed = errors.New("provisioning failed")

type (
	// Provisioner prepares the isolated environment of one named env.
	// Implementations cache environments by fingerprint so unchanged
	// environments are reused across runs.
	Provisioner interface {
		Provision(ctx context.Context, req Request) (*Result, error)
	}

	// CommandRunner executes one command string. *runtime.Shell satisfies it.
	CommandRunner interface {
		Run(ctx context.Context, c runtime.Command) *runtime.Result
	}

	// Request describes the environment to provision.
	Request struct {
		// Name is the environment name, used in messages.
		Name string
		// Dir is the environment's directory (<work_dir>/<env>).
		Dir string
		// Root is the project root, used for develop installs and to resolve
		// requirement files.
		Root string
		// Deps is the resolved dependency set.
		Deps    []string
		Install matrixfile.InstallMode
		// Wheels are installed in package mode.
		Wheels []string
		// Env is the environment pip runs with.
		Env map[string]string
	}

	// Result describes a provisioned environment.
	Result struct {
		VirtualEnv  string
		BinDir      string
		Python      string
		Fingerprint string
		// Reused is true when a cached environment was kept.
		Reused bool
	}

	// StepError reports a provisioning step that exited non-zero or could
	// not run.
	StepError struct {
		Env      string
		Step     string
		ExitCode runtime.ExitCode
		Err      error
	}
)

// Error implements the error interface.
func (e *StepError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("provision %s: %s: %v", e.Env, e.Step, e.Err)
	}
	return fmt.Sprintf("provision %s: %s exited with status %d", e.Env, e.Step, e.ExitCode)
}

// Unwrap returns ErrProvisionFailed and the underlying cause.
func (e *StepError) Unwrap() []error {
	if e.Err != nil {
		return []error{ErrProvisionFailed, e.Err}
	}
	return []error{ErrProvisionFailed}
}

// runStep executes args as one command in dir with env.
func runStep(ctx context.Context, r CommandRunner, env map[string]string, dir, envName, step string, stdout, stderr io.Writer, args ...string) error {
	script, err := ShellJoin(args...)
	if err != nil {
		return &StepError{Env: envName, Step: step, ExitCode: 1, Err: err}
	}
	res := r.Run(ctx, runtime.Command{
		Script: script,
		Name:   envName + ":" + step,
		Dir:    dir,
		Env:    env,
		Stdout: stdout,
		Stderr: stderr,
	})
	if res.Error != nil {
		return &StepError{Env: envName, Step: step, ExitCode: res.ExitCode, Err: res.Error}
	}
	if !res.ExitCode.IsSuccess() {
		return &StepError{Env: envName, Step: step, ExitCode: res.ExitCode}
	}
	return nil
}
