// SPDX-License-Identifier: MPL-2.0

package matrix

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	goruntime "runtime"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/wheelhouse-dev/wheelhouse/internal/audit"
	"github.com/wheelhouse-dev/wheelhouse/internal/gate"
	"github.com/wheelhouse-dev/wheelhouse/internal/provision"
	"github.com/wheelhouse-dev/wheelhouse/internal/runtime"
	"github.com/wheelhouse-dev/wheelhouse/internal/testrun"
	"github.com/wheelhouse-dev/wheelhouse/pkg/matrixfile"
)

type (
	// CommandRunner executes one command string. *runtime.Shell satisfies it.
	CommandRunner interface {
		Run(ctx context.Context, c runtime.Command) *runtime.Result
	}

	// ArtifactBuilder produces the wheels package environments install.
	// *provision.Builder satisfies it.
	ArtifactBuilder interface {
		Build(ctx context.Context, req provision.BuildRequest) ([]provision.Artifact, error)
	}

	// Controller runs matrix environments. It also records the reports the
	// in-process stages produce while one of its environments is running.
	Controller struct {
		matrix      *matrixfile.Matrix
		host        map[string]string
		runner      CommandRunner
		provisioner provision.Provisioner
		builder     ArtifactBuilder
		stdout      io.Writer
		stderr      io.Writer
		keepGoing   bool
		now         func() time.Time
		goos        string

		mu      sync.Mutex
		current *EnvResult
	}

	// Option configures a Controller.
	Option func(*Controller)

	// buildState carries the artifact build across environments of a run.
	buildState struct {
		done      bool
		err       error
		artifacts []provision.Artifact
	}
)

// WithBuilder replaces the default builder, which runs the build commands
// through the controller's runner.
func WithBuilder(b ArtifactBuilder) Option {
	return func(c *Controller) { c.builder = b }
}

// WithOutput sets where command output goes.
func WithOutput(stdout, stderr io.Writer) Option {
	return func(c *Controller) { c.stdout, c.stderr = stdout, stderr }
}

// WithKeepGoing continues with the next environment after a required one
// fails. The run still fails.
func WithKeepGoing(keepGoing bool) Option {
	return func(c *Controller) { c.keepGoing = keepGoing }
}

// WithNow sets the clock used for timestamps and durations.
func WithNow(now func() time.Time) Option {
	return func(c *Controller) { c.now = now }
}

// New creates a Controller for m. host is the snapshot of the invoking
// environment; it is the only source of forwarded variables.
func New(m *matrixfile.Matrix, host map[string]string, runner CommandRunner, prov provision.Provisioner, opts ...Option) *Controller {
	c := &Controller{
		matrix:      m,
		host:        host,
		runner:      runner,
		provisioner: prov,
		stdout:      io.Discard,
		stderr:      io.Discard,
		now:         time.Now,
		goos:        goruntime.GOOS,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.builder == nil {
		c.builder = provision.NewBuilder(runner, c.stdout, c.stderr)
	}
	return c
}

// Run executes the selected environments in order and writes the run
// summary. The returned error covers failures to run at all (a bad plan, a
// locked work directory, cancellation); environment failures are reported
// through Summary.ExitCode.
func (c *Controller) Run(ctx context.Context, selection []matrixfile.EnvName, posargs []string) (*Summary, error) {
	plan, err := c.Plan(selection, posargs)
	if err != nil {
		return nil, err
	}

	lock, err := runtime.AcquireDirLock(c.matrix.AbsWorkDir())
	if err != nil {
		return nil, err
	}
	defer lock.Release()

	start := c.now()
	summary := &Summary{
		RunID:     uuid.NewString(),
		Matrix:    c.matrix.Path,
		Started:   start.UTC(),
		Selection: selection,
		PosArgs:   posargs,
	}
	slog.Info("run started", "run_id", summary.RunID, "envs", len(plan.Envs))

	var (
		build   buildState
		aborted bool
		runErr  error
	)
	for _, env := range plan.Envs {
		if aborted || ctx.Err() != nil {
			summary.Envs = append(summary.Envs, skipped(env))
			continue
		}

		if env.Install == matrixfile.InstallPackage && !build.done {
			summary.Build = c.build(ctx, plan, &build)
		}

		res := c.runEnv(ctx, env, &build)
		summary.Envs = append(summary.Envs, res)
		c.logEnv(res)

		if ctx.Err() != nil {
			runErr = ctx.Err()
			summary.Canceled = true
			continue
		}
		if res.Status == StatusFailed && !c.keepGoing {
			aborted = true
		}
	}

	summary.Duration = c.now().Sub(start)
	summary.ExitCode = exitCode(summary.Envs)
	if summary.Canceled && summary.ExitCode == 0 {
		summary.ExitCode = 130
	}
	if err := WriteSummary(SummaryPath(c.matrix), summary); err != nil {
		runErr = errors.Join(runErr, err)
	}
	return summary, runErr
}

// build runs the artifact builder once per run.
func (c *Controller) build(ctx context.Context, plan *Plan, st *buildState) *BuildResult {
	st.done = true
	start := c.now()

	env, err := runtime.BuildEnv(runtime.EnvSpec{
		Host:    c.host,
		Allow:   c.buildAllowlist(),
		Name:    "build",
		DistDir: c.matrix.AbsDistDir(),
		RootDir: c.matrix.Root,
	})
	if err == nil {
		st.artifacts, err = c.builder.Build(ctx, provision.BuildRequest{
			Commands: plan.Build,
			Dir:      c.matrix.Root,
			DistDir:  c.matrix.AbsDistDir(),
			Env:      env,
		})
	}
	st.err = err

	res := &BuildResult{Artifacts: st.artifacts, Duration: c.now().Sub(start)}
	if err != nil {
		res.Error = err.Error()
		slog.Error("artifact build failed", "error", err)
	} else {
		slog.Info("artifacts built", "count", len(st.artifacts))
	}
	return res
}

// runEnv provisions one environment and runs its command sequence.
func (c *Controller) runEnv(ctx context.Context, env EnvPlan, build *buildState) EnvResult {
	start := c.now()
	res := EnvResult{Name: env.Name, Policy: env.Policy, Install: env.Install}

	c.setCurrent(&res)
	defer c.setCurrent(nil)

	fail := func(step string, code runtime.ExitCode, err error) EnvResult {
		res.Step = step
		res.ExitCode = int(code.Failure())
		res.Error = err.Error()
		res.Status = failureStatus(env.Policy)
		res.Duration = c.now().Sub(start)
		return res
	}

	if env.Install == matrixfile.InstallPackage && build.err != nil {
		return fail("build", buildExitCode(build.err), build.err)
	}

	r := env.resolved
	tmpDir := c.matrix.EnvTmpDir(env.Name)
	if err := resetDir(tmpDir); err != nil {
		return fail("provision", 1, err)
	}

	spec := runtime.EnvSpec{
		Host:        c.host,
		Allow:       r.PassEnv,
		Name:        string(env.Name),
		TmpDir:      tmpDir,
		DistDir:     c.matrix.AbsDistDir(),
		RootDir:     c.matrix.Root,
		EnvFiles:    r.EnvFiles,
		EnvFileBase: c.matrix.Root,
		SetEnv:      r.SetEnv,
	}
	provEnv, err := runtime.BuildEnv(spec)
	if err != nil {
		return fail("provision", 1, err)
	}

	var wheels []string
	if env.Install == matrixfile.InstallPackage {
		if wheels, err = c.packageWheels(build.artifacts); err != nil {
			return fail("provision", 1, err)
		}
	}

	prov, err := c.provisioner.Provision(ctx, provision.Request{
		Name:    string(env.Name),
		Dir:     env.Dir,
		Root:    c.matrix.Root,
		Deps:    env.Deps,
		Install: env.Install,
		Wheels:  wheels,
		Env:     provEnv,
	})
	if err != nil {
		return fail("provision", provisionExitCode(err), err)
	}
	res.Reused = prov.Reused

	spec.BinDir = prov.BinDir
	spec.VirtualEnv = prov.VirtualEnv
	cmdEnv, err := runtime.BuildEnv(spec)
	if err != nil {
		return fail("provision", 1, err)
	}
	commands, err := env.expand(cmdEnv)
	if err != nil {
		return fail("provision", 1, err)
	}

	res.Status = StatusPassed
	for i, command := range commands {
		slog.Debug("running command", "env", env.Name, "index", i, "command", command)
		out := c.runner.Run(ctx, runtime.Command{
			Script: command,
			Name:   fmt.Sprintf("%s[%d]", env.Name, i),
			Dir:    env.WorkDir,
			Env:    cmdEnv,
			Stdout: c.stdout,
			Stderr: c.stderr,
		})
		cr := CommandResult{Index: i, Command: command, ExitCode: int(out.ExitCode), Duration: out.Duration}
		if out.Error != nil {
			cr.Error = out.Error.Error()
		}
		res.Commands = append(res.Commands, cr)
		if out.Success() {
			continue
		}

		if res.FailedCommand == nil {
			res.FailedCommand = &i
			res.ExitCode = int(out.ExitCode.Failure())
			res.Status = failureStatus(env.Policy)
		}
		if ctx.Err() != nil || env.Policy == matrixfile.PolicyRequired {
			break
		}
		slog.Warn("best-effort command failed", "env", env.Name, "index", i, "exit_code", out.ExitCode)
	}
	res.Duration = c.now().Sub(start)
	return res
}

// packageWheels returns the wheels built this run as they are now in the
// artifact directory. An audit stage of an earlier environment may have
// replaced a wheel with its repaired copy under a new name.
func (c *Controller) packageWheels(built []provision.Artifact) ([]string, error) {
	current, err := provision.ScanArtifacts(c.matrix.AbsDistDir())
	if err != nil {
		return nil, err
	}
	type release struct{ dist, version string }
	want := make(map[release]bool, len(built))
	for _, a := range built {
		want[release{a.Filename.Distribution, a.Filename.Version}] = true
	}
	var wheels []string
	for _, a := range current {
		if want[release{a.Filename.Distribution, a.Filename.Version}] {
			wheels = append(wheels, a.Path)
		}
	}
	if len(wheels) == 0 {
		return nil, fmt.Errorf("%s: %w", c.matrix.AbsDistDir(), provision.ErrNoWheel)
	}
	return wheels, nil
}

func (c *Controller) logEnv(res EnvResult) {
	attrs := []any{"env", res.Name, "status", res.Status, "duration", res.Duration.Round(time.Millisecond)}
	switch res.Status {
	case StatusPassed:
		slog.Info("environment passed", attrs...)
	case StatusWarned:
		slog.Warn("best-effort environment failed", append(attrs, "exit_code", res.ExitCode)...)
	default:
		slog.Error("environment failed", append(attrs, "exit_code", res.ExitCode, "step", res.Step)...)
	}
}

func (c *Controller) setCurrent(res *EnvResult) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.current = res
}

// record applies fn to the running environment's result, if any.
func (c *Controller) record(fn func(*EnvResult)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current != nil {
		fn(c.current)
	}
}

// RecordTest collects a test report written during the current environment.
func (c *Controller) RecordTest(path string, rep *testrun.Report) {
	c.record(func(r *EnvResult) {
		r.Tests = append(r.Tests, TestRecord{Report: path, Summary: rep.Summary, Failed: rep.Failed()})
	})
}

// RecordAudit collects audit results.
func (c *Controller) RecordAudit(reports []*audit.Report) {
	c.record(func(r *EnvResult) { r.Audits = append(r.Audits, reports...) })
}

// RecordGate collects a lint/doc gate report.
func (c *Controller) RecordGate(rep *gate.Report) {
	c.record(func(r *EnvResult) { r.Gates = append(r.Gates, rep) })
}

func skipped(env EnvPlan) EnvResult {
	return EnvResult{Name: env.Name, Status: StatusSkipped, Policy: env.Policy, Install: env.Install}
}

func failureStatus(p matrixfile.Policy) EnvStatus {
	if p == matrixfile.PolicyBestEffort {
		return StatusWarned
	}
	return StatusFailed
}

// exitCode is the first failing required environment's status.
func exitCode(envs []EnvResult) int {
	for _, e := range envs {
		if e.Status == StatusFailed {
			return int(runtime.ExitCode(e.ExitCode).Failure())
		}
	}
	return 0
}

func buildExitCode(err error) runtime.ExitCode {
	var be *provision.BuildError
	if errors.As(err, &be) {
		return be.ExitCode
	}
	return 1
}

func provisionExitCode(err error) runtime.ExitCode {
	var se *provision.StepError
	if errors.As(err, &se) {
		return se.ExitCode
	}
	return 1
}

// resetDir leaves dir existing and empty.
func resetDir(dir string) error {
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("empty %s: %w", dir, err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create %s: %w", dir, err)
	}
	return nil
}
