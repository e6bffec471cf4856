// SPDX-License-Identifier: MPL-2.0

package stages

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"time"

	"github.com/wheelhouse-dev/wheelhouse/internal/runtime"
	"github.com/wheelhouse-dev/wheelhouse/internal/testrun"
)

// Test discovers and runs the project's tests across a worker pool and
// writes a JSON report, by default to $WHEELHOUSE_ENV_TMP_DIR.
//
//	wheelhouse test [flags] [test files...]
func (s *Stages) Test(ctx context.Context, inv runtime.Invocation) error {
	t := s.Matrix.Test
	workers := t.Workers
	if workers == 0 {
		workers = s.Settings.Workers
	}

	fs := newFlagSet(StageTest, inv.Stderr)
	pattern := fs.String("pattern", t.Pattern, "glob selecting test files under the root")
	command := fs.String("command", t.Command, "per-test command; "+testrun.FilePlaceholder+" is the test file")
	numWorkers := fs.IntP("workers", "n", workers, "concurrent tests (0: one per CPU)")
	retries := fs.Int("retries", t.Retries, "extra attempts for a failing test")
	retryDelay := fs.Duration("retry-delay", t.RetryDelay.Std(), "pause before a retry")
	timeout := fs.Duration("timeout", t.Timeout.Std(), "per-attempt time limit (0: none)")
	strict := fs.Bool("strict-xfail", t.StrictXFail, "fail the run when an expected failure passes")
	reportPath := fs.String("report", "", "report file (default $WHEELHOUSE_ENV_TMP_DIR/"+testrun.ReportFileName+")")
	root := fs.String("root", "", "discovery root (default: project root)")
	if ok, err := parseFlags(fs, inv.Args); !ok {
		return err
	}

	xfail := make([]testrun.XFail, len(t.XFail))
	for i, x := range t.XFail {
		xfail[i] = testrun.XFail{Pattern: x.Pattern, Reason: x.Reason}
	}

	var opts []testrun.Option
	if s.Clock != nil {
		opts = append(opts, testrun.WithClock(s.Clock))
	}
	opts = append(opts, testrun.WithObserver(func(res testrun.TestResult) { printTest(inv.Stdout, res) }))

	orch := testrun.New(s.testRunner(), testrun.Config{
		Pattern:     *pattern,
		Command:     *command,
		Workers:     *numWorkers,
		Retries:     *retries,
		RetryDelay:  *retryDelay,
		Timeout:     *timeout,
		StrictXFail: *strict,
		XFail:       xfail,
	}, opts...)

	discoveryRoot := resolvePath(inv.Dir, firstNonEmpty(*root, s.rootDir(inv)))
	rep, runErr := orch.Run(ctx, testrun.Request{
		Root:  discoveryRoot,
		Dir:   inv.Dir,
		Env:   inv.Env,
		Files: fs.Args(),
	})
	if rep == nil {
		return runErr
	}

	path := resolvePath(inv.Dir, *reportPath)
	if path == "" {
		path = s.defaultReportPath(inv)
	}
	if err := testrun.WriteReport(path, rep); err != nil {
		return err
	}
	if s.Recorder != nil {
		s.Recorder.RecordTest(path, rep)
	}
	printSummary(inv.Stdout, rep, path)

	if runErr != nil {
		return runErr
	}
	if rep.Failed() {
		return failed(rep.ExitCode())
	}
	return nil
}

func (s *Stages) defaultReportPath(inv runtime.Invocation) string {
	if tmp := inv.Env[runtime.EnvTmpDir]; tmp != "" {
		return filepath.Join(tmp, testrun.ReportFileName)
	}
	return filepath.Join(s.Matrix.AbsWorkDir(), testrun.ReportFileName)
}

func printTest(w io.Writer, res testrun.TestResult) {
	w = orDiscard(w)
	fmt.Fprintf(w, "%-15s %s (%s", res.State, res.Path, res.Duration.Round(time.Millisecond))
	if n := len(res.Attempts); n > 1 {
		fmt.Fprintf(w, ", %d attempts", n)
	}
	fmt.Fprintln(w, ")")
	if res.State.Failed() && res.Output != "" {
		fmt.Fprintln(w, res.Output)
	}
}

func printSummary(w io.Writer, rep *testrun.Report, path string) {
	w = orDiscard(w)
	sum := rep.Summary
	fmt.Fprintf(w, "%d tests: %d passed, %d failed, %d timed out, %d xfailed, %d xpassed, %d xpassed (strict)\n",
		sum.Total, sum.Passed, sum.Failed, sum.TimedOut, sum.XFailed, sum.XPassed, sum.XPassedStrict)
	if len(sum.Retried) > 0 {
		fmt.Fprintf(w, "retried: %v\n", sum.Retried)
	}
	fmt.Fprintf(w, "report: %s\n", path)
}
