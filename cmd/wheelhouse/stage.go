// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"github.com/wheelhouse-dev/wheelhouse/internal/runtime"
	"github.com/wheelhouse-dev/wheelhouse/internal/stages"
)

var stageShort = map[string]string{
	stages.StageBuild: "Build the native wheel into the dist directory",
	stages.StageTest:  "Run the test suite in parallel with retries and timeouts",
	stages.StageAudit: "Audit native dependencies and repair wheels for a portable platform tag",
	stages.StageLint:  "Run style checks and validate documents",
	stages.StageDocs:  "Build the documentation",
}

// newStageCommands exposes every stage as a top-level command. Flags are
// parsed by the stage itself, exactly as when a matrix command calls it, so
// "wheelhouse test -h" prints the stage's own usage.
func newStageCommands(app *App, flags *rootFlagValues) []*cobra.Command {
	names := stages.Names()
	cmds := make([]*cobra.Command, 0, len(names))
	for _, name := range names {
		cmds = append(cmds, &cobra.Command{
			Use:                name + " [flags] [args]",
			Short:              stageShort[name],
			DisableFlagParsing: true,
			RunE: func(cmd *cobra.Command, args []string) error {
				return app.fail(runStage(cmd.Context(), app, flags, name, args))
			},
		})
	}
	return cmds
}

// runStage calls one stage outside a run. The stage sees the invoking
// shell's environment as an explicit snapshot and writes to the app's
// streams.
func runStage(ctx context.Context, app *App, flags *rootFlagValues, name string, args []string) error {
	before := *flags
	args = stripPersistentFlags(args, flags)
	if flags.configPath != before.configPath {
		app.cfg = app.loadConfig(ctx, flags)
	}
	if flags.verbose && !app.verbose {
		app.verbose = true
		slog.SetDefault(newLogger(app.stderr, app.cfg.Log.Level, true))
	}

	sess, err := app.newSession(ctx, flags, sessionOptions{})
	if err != nil {
		return err
	}
	fn, ok := sess.registry.Lookup(name)
	if !ok {
		return fmt.Errorf("unknown stage %q", name)
	}

	err = fn(ctx, runtime.Invocation{
		Args:   args,
		Dir:    sess.dir,
		Env:    sess.host,
		Stdin:  app.stdin,
		Stdout: app.stdout,
		Stderr: app.stderr,
	})
	var status *runtime.ExitStatusError
	switch {
	case err == nil:
		return nil
	case errors.As(err, &status):
		if status.Code == 0 {
			return nil
		}
		return &ExitError{Code: status.Code.Failure(), Err: status.Err}
	default:
		return &ExitError{Code: 1, Err: err}
	}
}

// stripPersistentFlags pulls the root's persistent flags out of args, since
// flag parsing is disabled for stage commands.
func stripPersistentFlags(args []string, flags *rootFlagValues) []string {
	out := make([]string, 0, len(args))
	for i := 0; i < len(args); i++ {
		a := args[i]
		switch {
		case a == "--":
			return append(out, args[i:]...)
		case a == "-v" || a == "--verbose":
			flags.verbose = true
		case (a == "-f" || a == "--file" || a == "--config") && i+1 < len(args):
			if a == "--config" {
				flags.configPath = args[i+1]
			} else {
				flags.matrixPath = args[i+1]
			}
			i++
		case strings.HasPrefix(a, "--file="):
			flags.matrixPath = strings.TrimPrefix(a, "--file=")
		case strings.HasPrefix(a, "--config="):
			flags.configPath = strings.TrimPrefix(a, "--config=")
		default:
			out = append(out, a)
		}
	}
	return out
}
