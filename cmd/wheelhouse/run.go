// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/wheelhouse-dev/wheelhouse/internal/matrix"
	"github.com/wheelhouse-dev/wheelhouse/internal/runtime"
	"github.com/wheelhouse-dev/wheelhouse/internal/watch"
	"github.com/wheelhouse-dev/wheelhouse/pkg/matrixfile"
)

// exitInterrupted is the status of a run stopped by a signal.
const exitInterrupted = 130

type runFlagValues struct {
	envs      []string
	keepGoing bool
	recreate  bool
	dryRun    bool
	watch     bool
	tty       bool
	json      bool
}

func newRunCommand(app *App, flags *rootFlagValues) *cobra.Command {
	rf := &runFlagValues{}
	cmd := &cobra.Command{
		Use:   "run [-e ENV[,ENV...]] [-- POSARGS...]",
		Short: "Run environments of the matrix",
		Long: `Run the selected environments in order. Each environment is provisioned
in isolation, then its commands run with only the forwarded variables of
the invoking shell visible.

Without -e the matrix envlist is used. Arguments after "--" replace the
{posargs} placeholder.`,
		Example: `  wheelhouse run
  wheelhouse run -e py311,py312 --keep-going
  wheelhouse run -e py312 -- tests/test_codec.py -x
  wheelhouse run --dry-run`,
		RunE: func(cmd *cobra.Command, args []string) error {
			names := rf.envs
			var posargs []string
			if dash := cmd.ArgsLenAtDash(); dash >= 0 {
				names = append(names, args[:dash]...)
				posargs = args[dash:]
			} else {
				names = append(names, args...)
			}
			return app.fail(runEnvironments(cmd.Context(), app, flags, rf, names, posargs))
		},
	}

	cmd.Flags().StringSliceVarP(&rf.envs, "env", "e", nil, "environments to run (comma separated, ALL for every environment)")
	cmd.Flags().BoolVar(&rf.keepGoing, "keep-going", false, "continue with the next environment after a required one fails")
	cmd.Flags().BoolVar(&rf.recreate, "recreate", false, "rebuild environments even when their fingerprint matches")
	cmd.Flags().BoolVar(&rf.dryRun, "dry-run", false, "print the resolved plan without provisioning or running anything")
	cmd.Flags().BoolVar(&rf.watch, "watch", false, "re-run when files under the project root change")
	cmd.Flags().BoolVar(&rf.tty, "tty", false, "run test processes on a pseudo-terminal")
	cmd.Flags().BoolVar(&rf.json, "json", false, "with --dry-run, print the plan as JSON")
	cmd.MarkFlagsMutuallyExclusive("dry-run", "watch")
	return cmd
}

func runEnvironments(ctx context.Context, app *App, flags *rootFlagValues, rf *runFlagValues, names, posargs []string) error {
	sess, err := app.newSession(ctx, flags, sessionOptions{requireMatrix: true, tty: rf.tty})
	if err != nil {
		return err
	}
	selection, err := sess.matrix.Select(names)
	if err != nil {
		return err
	}

	if rf.dryRun {
		ctrl := sess.controller(app.stdout, app.stderr, rf.keepGoing, rf.recreate)
		plan, err := ctrl.Plan(selection, posargs)
		if err != nil {
			return err
		}
		if rf.json {
			enc := json.NewEncoder(app.stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(plan)
		}
		renderPlan(app.stdout, plan)
		return nil
	}

	if rf.watch {
		return watchEnvironments(ctx, app, sess, rf, selection, posargs)
	}
	return runOnce(ctx, app, sess, rf, selection, posargs)
}

func runOnce(ctx context.Context, app *App, sess *session, rf *runFlagValues, selection []matrixfile.EnvName, posargs []string) error {
	ctrl := sess.controller(app.stdout, app.stderr, rf.keepGoing, rf.recreate)
	sum, err := ctrl.Run(ctx, selection, posargs)
	if sum != nil {
		printRunSummary(app.stdout, sum)
	}
	switch {
	case err != nil && sum != nil && sum.Canceled:
		code := runtime.ExitCode(sum.ExitCode)
		if code == 0 {
			code = exitInterrupted
		}
		return &ExitError{Code: code, Err: err}
	case err != nil:
		return err
	}
	return exitWith(sum.ExitCode)
}

// watchEnvironments runs the selection once, then again after every
// debounced batch of changes under the project root until ctx ends.
func watchEnvironments(ctx context.Context, app *App, sess *session, rf *runFlagValues, selection []matrixfile.EnvName, posargs []string) error {
	once := func(ctx context.Context) {
		if err := runOnce(ctx, app, sess, rf, selection, posargs); err != nil {
			var exitErr *ExitError
			if !errors.As(err, &exitErr) || exitErr.Err != nil {
				fmt.Fprintf(app.stderr, "%s %v\n", WarningStyle.Render("!"), err)
			}
		}
	}

	m := sess.matrix
	cfg := watch.Config{
		Root:   m.Root,
		Ignore: watchIgnores(m),
		OnChange: func(ctx context.Context, changed []string) error {
			fmt.Fprintf(app.stdout, "\n%s %d change(s): %s\n", CmdStyle.Render("→"), len(changed), strings.Join(changed, ", "))
			once(ctx)
			fmt.Fprintf(app.stdout, "\n%s Watching for changes...\n", CmdStyle.Render("→"))
			return nil
		},
	}
	w, err := watch.New(cfg)
	if err != nil {
		return fmt.Errorf("start watcher: %w", err)
	}

	once(ctx)
	fmt.Fprintf(app.stdout, "\n%s Watching for changes (Ctrl+C to stop)...\n", CmdStyle.Render("→"))
	return w.Run(ctx)
}

// watchIgnores keeps the pipeline's own output from triggering runs.
func watchIgnores(m *matrixfile.Matrix) []string {
	var ignores []string
	for _, dir := range []string{m.AbsWorkDir(), m.AbsDistDir()} {
		rel, err := filepath.Rel(m.Root, dir)
		if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
			continue
		}
		rel = filepath.ToSlash(rel)
		ignores = append(ignores, rel+"/**")
	}
	return ignores
}

func renderPlan(w io.Writer, plan *matrix.Plan) {
	fmt.Fprintf(w, "%s %s\n", TitleStyle.Render("Plan for"), plan.Matrix)
	if len(plan.Build) > 0 {
		fmt.Fprintf(w, "\n%s\n", CmdStyle.Render("build"))
		for i, c := range plan.Build {
			fmt.Fprintf(w, "  [%d] %s\n", i, c)
		}
		if len(plan.BuildForwarded) > 0 {
			fmt.Fprintf(w, "  %s %s\n", SubtitleStyle.Render("forwarded:"), strings.Join(plan.BuildForwarded, " "))
		}
	}
	for _, env := range plan.Envs {
		fmt.Fprintf(w, "\n%s %s\n", CmdStyle.Render(string(env.Name)),
			SubtitleStyle.Render(fmt.Sprintf("(%s, install=%s)", env.Policy, env.Install)))
		if env.Description != "" {
			fmt.Fprintf(w, "  %s\n", env.Description)
		}
		if len(env.Deps) > 0 {
			fmt.Fprintf(w, "  %s %s\n", SubtitleStyle.Render("deps:"), strings.Join(env.Deps, " "))
		}
		if len(env.Forwarded) > 0 {
			fmt.Fprintf(w, "  %s %s\n", SubtitleStyle.Render("forwarded:"), strings.Join(env.Forwarded, " "))
		}
		if len(env.SetEnv) > 0 {
			fmt.Fprintf(w, "  %s %s\n", SubtitleStyle.Render("set:"), strings.Join(env.SetEnv, " "))
		}
		fmt.Fprintf(w, "  %s %s\n", SubtitleStyle.Render("cwd:"), env.WorkDir)
		for i, c := range env.Commands {
			fmt.Fprintf(w, "  [%d] %s\n", i, c)
		}
	}
}

func printRunSummary(w io.Writer, sum *matrix.Summary) {
	fmt.Fprintln(w)
	for _, env := range sum.Envs {
		line := fmt.Sprintf("%-12s %s", env.Name, env.Duration.Round(time.Millisecond))
		switch env.Status {
		case matrix.StatusPassed:
			fmt.Fprintf(w, "%s %s\n", SuccessStyle.Render("✔"), line)
		case matrix.StatusWarned:
			fmt.Fprintf(w, "%s %s %s\n", WarningStyle.Render("⚠"), line, WarningStyle.Render("(best-effort failure)"))
		case matrix.StatusSkipped:
			fmt.Fprintf(w, "%s %s\n", VerboseStyle.Render("–"), VerboseStyle.Render(string(env.Name)+" skipped"))
		default:
			fmt.Fprintf(w, "%s %s %s\n", ErrorStyle.Render("✘"), line, ErrorStyle.Render(failureDetail(env)))
		}
	}
	if sum.Failed() {
		fmt.Fprintf(w, "\n%s exit status %d\n", ErrorStyle.Render("FAILED"), sum.ExitCode)
		return
	}
	fmt.Fprintf(w, "\n%s\n", SuccessStyle.Render("OK"))
}

func failureDetail(env matrix.EnvResult) string {
	switch {
	case env.Step != "":
		return env.Step + " failed"
	case env.FailedCommand != nil:
		return fmt.Sprintf("command %d exited %d", *env.FailedCommand, env.ExitCode)
	}
	return ""
}
