// SPDX-License-Identifier: MPL-2.0

package testrun

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	goruntime "runtime"
	"slices"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"mvdan.cc/sh/v3/syntax"

	"github.com/wheelhouse-dev/wheelhouse/internal/runtime"
)

const (
	// FilePlaceholder is replaced by the shell-quoted test path.
	FilePlaceholder = "{file}"

	// maxOutput bounds the output kept per test.
	maxOutput = 64 << 10
)

// ErrNotDiscovered is returned when a requested file is not a test under
// the discovery pattern.
var ErrNotDiscovered = errors.New("file is not matched by the test pattern")

type (
	// Clock abstracts the retry delay so tests can drive it.
	Clock interface {
		Now() time.Time
		After(d time.Duration) <-chan time.Time
	}

	// CommandRunner executes one command string. *runtime.Shell satisfies it.
	CommandRunner interface {
		Run(ctx context.Context, c runtime.Command) *runtime.Result
	}

	// Config controls discovery and execution.
	Config struct {
		// Pattern selects test files relative to the root.
		Pattern string
		// Command is the per-test template; FilePlaceholder is substituted.
		Command string
		// Workers bounds concurrency; zero means runtime.NumCPU.
		Workers int
		// Retries is the number of extra attempts after a failure.
		Retries    int
		RetryDelay time.Duration
		// Timeout is the per-attempt wall-clock limit; zero disables it.
		Timeout     time.Duration
		StrictXFail bool
		XFail       []XFail
	}

	// Request is one invocation of the orchestrator.
	Request struct {
		// Root is where discovery starts.
		Root string
		// Dir is the working directory of test commands; defaults to Root.
		// The path substituted for {file} is relative to Dir.
		Dir string
		// Env is the complete execution context environment.
		Env map[string]string
		// Files restricts the run to these discovered tests.
		Files []string
	}

	// Orchestrator runs tests across a bounded worker pool.
	Orchestrator struct {
		runner   CommandRunner
		config   Config
		clock    Clock
		observer func(TestResult)
		mu       sync.Mutex
	}

	// Option configures an Orchestrator.
	Option func(*Orchestrator)

	systemClock struct{}
)

func (systemClock) Now() time.Time                         { return time.Now() }
func (systemClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

// WithClock replaces the clock used for retry delays and test durations.
func WithClock(c Clock) Option {
	return func(o *Orchestrator) { o.clock = c }
}

// WithObserver registers fn to be called once per finished test. Calls are
// serialized.
func WithObserver(fn func(TestResult)) Option {
	return func(o *Orchestrator) { o.observer = fn }
}

// New creates an Orchestrator.
func New(runner CommandRunner, cfg Config, opts ...Option) *Orchestrator {
	o := &Orchestrator{runner: runner, config: cfg, clock: systemClock{}}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

func (c Config) workers() int {
	if c.Workers > 0 {
		return c.Workers
	}
	return goruntime.NumCPU()
}

// Run discovers and executes the tests of req. The returned report is
// complete unless ctx was cancelled, in which case the partial report holds
// only the tests that started and is returned with the context error.
func (o *Orchestrator) Run(ctx context.Context, req Request) (*Report, error) {
	if o.config.Retries < 0 {
		return nil, fmt.Errorf("retries must not be negative (got %d)", o.config.Retries)
	}
	if err := validateXFail(o.config.XFail); err != nil {
		return nil, err
	}
	files, err := o.selectFiles(req)
	if err != nil {
		return nil, err
	}
	if req.Dir == "" {
		req.Dir = req.Root
	}

	report := &Report{
		Root:    req.Root,
		Pattern: o.config.Pattern,
		Started: o.clock.Now(),
		Workers: o.config.workers(),
		Retries: o.config.Retries,
		Timeout: o.config.Timeout,
		Strict:  o.config.StrictXFail,
		Tests:   make([]TestResult, len(files)),
	}
	if len(files) == 0 {
		slog.Warn("no tests discovered", "root", req.Root, "pattern", o.config.Pattern)
	}

	var g errgroup.Group
	g.SetLimit(report.Workers)
	for i, file := range files {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			res, err := o.runTest(ctx, req, file)
			report.Tests[i] = res
			if err == nil {
				o.notify(res)
			}
			return err
		})
	}
	err = g.Wait()
	report.Tests = slices.DeleteFunc(report.Tests, func(r TestResult) bool { return r.Path == "" })

	report.Duration = o.clock.Now().Sub(report.Started)
	report.Summary = summarize(report.Tests)
	return report, err
}

func (o *Orchestrator) selectFiles(req Request) ([]string, error) {
	discovered, err := Discover(req.Root, o.config.Pattern)
	if err != nil {
		return nil, err
	}
	if len(req.Files) == 0 {
		return discovered, nil
	}
	var selected []string
	for _, f := range req.Files {
		f = strings.TrimPrefix(f, "./")
		if !slices.Contains(discovered, f) {
			return nil, fmt.Errorf("%s: %w %q", f, ErrNotDiscovered, o.config.Pattern)
		}
		if !slices.Contains(selected, f) {
			selected = append(selected, f)
		}
	}
	slices.Sort(selected)
	return selected, nil
}

func (o *Orchestrator) notify(res TestResult) {
	if o.observer == nil {
		return
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	o.observer(res)
}

// runTest drives one test through its state machine. Only cancellation of
// ctx is returned as an error; everything else ends in a terminal state.
func (o *Orchestrator) runTest(ctx context.Context, req Request, file string) (TestResult, error) {
	m := newMachine(o.config.Retries)
	xf, expectFail := matchXFail(o.config.XFail, file)
	res := TestResult{Path: file, Reason: xf.Reason}
	start := o.clock.Now()
	finish := func() TestResult {
		res.State = m.state
		res.History = m.history
		res.Duration = o.clock.Now().Sub(start)
		return res
	}

	script, err := expandCommand(o.config.Command, commandPath(req, file))
	if err != nil {
		_ = m.to(StateRunning)
		_ = m.to(StateFailedFinal)
		res.Output = err.Error()
		return finish(), nil
	}

	for {
		if err := m.to(StateRunning); err != nil {
			return finish(), err
		}
		out := &tailBuffer{max: maxOutput}
		attempt, outcome := o.attempt(ctx, req, file, script, out)
		attempt.Number = m.runs
		res.Attempts = append(res.Attempts, attempt)
		if ctx.Err() != nil {
			return finish(), ctx.Err()
		}

		next := m.settle(outcome, expectFail, o.config.StrictXFail)
		if err := m.to(next); err != nil {
			return finish(), err
		}
		res.Output = ""
		if next != StatePassed && next != StateXFailed {
			res.Output = out.String()
		}
		if next != StateFailedRetryable {
			slog.Debug("test finished", "test", file, "state", next, "attempts", len(res.Attempts))
			return finish(), nil
		}

		slog.Warn("test failed, retrying", "test", file, "attempt", attempt.Number,
			"exit_code", attempt.ExitCode, "timed_out", attempt.TimedOut, "delay", o.config.RetryDelay)
		if o.config.RetryDelay > 0 {
			select {
			case <-o.clock.After(o.config.RetryDelay):
			case <-ctx.Done():
				return finish(), ctx.Err()
			}
		}
	}
}

// attempt runs the test command once under the per-test timeout.
func (o *Orchestrator) attempt(ctx context.Context, req Request, file, script string, out *tailBuffer) (Attempt, attemptOutcome) {
	attemptCtx, cancel := ctx, context.CancelFunc(func() {})
	if o.config.Timeout > 0 {
		attemptCtx, cancel = context.WithTimeout(ctx, o.config.Timeout)
	}
	defer cancel()

	result := o.runner.Run(attemptCtx, runtime.Command{
		Script: script,
		Name:   file,
		Dir:    req.Dir,
		Env:    req.Env,
		Stdout: out,
		Stderr: out,
	})

	a := Attempt{ExitCode: int(result.ExitCode), Duration: result.Duration}
	switch {
	case ctx.Err() == nil && errors.Is(attemptCtx.Err(), context.DeadlineExceeded):
		a.TimedOut = true
		fmt.Fprintf(out, "\nwheelhouse: test exceeded timeout of %s and was killed\n", o.config.Timeout)
		return a, outcomeTimedOut
	case result.Success():
		return a, outcomePassed
	default:
		if result.Error != nil {
			fmt.Fprintf(out, "\nwheelhouse: %v\n", result.Error)
		}
		return a, outcomeFailed
	}
}

// expandCommand substitutes the quoted test path into the command
// template, appending it when the template has no placeholder.
// commandPath rewrites a discovered path, relative to req.Root, so that it
// resolves from req.Dir.
func commandPath(req Request, file string) string {
	if filepath.Clean(req.Dir) == filepath.Clean(req.Root) {
		return file
	}
	abs := filepath.Join(req.Root, filepath.FromSlash(file))
	rel, err := filepath.Rel(req.Dir, abs)
	if err != nil {
		return abs
	}
	return filepath.ToSlash(rel)
}

func expandCommand(template, file string) (string, error) {
	quoted, err := syntax.Quote(file, syntax.LangPOSIX)
	if err != nil {
		return "", fmt.Errorf("quote %s: %w", file, err)
	}
	if !strings.Contains(template, FilePlaceholder) {
		return template + " " + quoted, nil
	}
	return strings.ReplaceAll(template, FilePlaceholder, quoted), nil
}

// tailBuffer keeps the last max bytes written to it.
type tailBuffer struct {
	mu        sync.Mutex
	buf       []byte
	max       int
	truncated bool
}

func (b *tailBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.buf = append(b.buf, p...)
	if over := len(b.buf) - b.max; over > 0 {
		b.buf = slices.Delete(b.buf, 0, over)
		b.truncated = true
	}
	return len(p), nil
}

func (b *tailBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.truncated {
		return "...\n" + string(b.buf)
	}
	return string(b.buf)
}
