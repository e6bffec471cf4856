// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/charmbracelet/fang"
	"github.com/spf13/cobra"
)

var (
	// Version is the semantic version (set via -ldflags).
	Version = "dev"
	// Commit is the git commit hash (set via -ldflags).
	Commit = "unknown"
	// BuildDate is the build timestamp (set via -ldflags).
	BuildDate = "unknown"
)

// getVersionString returns a formatted version string for display.
func getVersionString() string {
	if Version == "dev" {
		return "dev (built from source)"
	}
	return fmt.Sprintf("%s (commit: %s, built: %s)", Version, Commit, BuildDate)
}

// NewRootCommand builds the full command tree around app.
func NewRootCommand(app *App) *cobra.Command {
	flags := &rootFlagValues{}

	root := &cobra.Command{
		Use:   "wheelhouse",
		Short: "Build, test, audit and publish Python wheels across an environment matrix",
		Long: TitleStyle.Render("wheelhouse") + SubtitleStyle.Render(" - packaging and validation pipeline for native Python wheels") + `

wheelhouse reads a matrix of named environments from wheelhouse.cue (or the
[tool.wheelhouse] table of pyproject.toml), provisions each one in isolation
and runs its command sequence. Commands may call the built-in stages:

  wheelhouse build   build the native wheel into the dist directory
  wheelhouse test    run the test suite in parallel with retries
  wheelhouse audit   check and repair the wheel's native dependencies
  wheelhouse lint    run style checks and validate documents
  wheelhouse docs    build the documentation

` + SubtitleStyle.Render("Examples:") + `
  wheelhouse run                  Run the default environment set
  wheelhouse run -e py312,lint    Run selected environments
  wheelhouse run -- -k slow       Pass {posargs} to the commands
  wheelhouse list -a              Show every environment
  wheelhouse report               Show the last run`,
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, _ []string) {
			app.cfg = app.loadConfig(cmd.Context(), flags)
			app.verbose = flags.verbose || app.cfg.UI.Verbose
			slog.SetDefault(newLogger(app.stderr, app.cfg.Log.Level, app.verbose))
		},
	}
	root.SetIn(app.stdin)
	root.SetOut(app.stdout)
	root.SetErr(app.stderr)

	root.PersistentFlags().StringVar(&flags.configPath, "config", "", "config file (default is $HOME/.config/wheelhouse/config.cue)")
	root.PersistentFlags().StringVarP(&flags.matrixPath, "file", "f", "", "matrix file (default: wheelhouse.cue or pyproject.toml in the current directory)")
	root.PersistentFlags().BoolVarP(&flags.verbose, "verbose", "v", false, "enable verbose output")

	root.AddCommand(
		newRunCommand(app, flags),
		newListCommand(app, flags),
		newReportCommand(app, flags),
		newPublishCommand(app, flags),
		newConfigCommand(app, flags),
		newInitCommand(app),
	)
	for _, c := range newStageCommands(app, flags) {
		root.AddCommand(c)
	}
	return root
}

// Execute runs the command tree. It is called by main.main.
func Execute() {
	app := NewApp(Dependencies{})
	root := NewRootCommand(app)
	if err := fang.Execute(
		context.Background(),
		root,
		fang.WithVersion(getVersionString()),
		fang.WithNotifySignal(os.Interrupt),
	); err != nil {
		var exitErr *ExitError
		if errors.As(err, &exitErr) {
			os.Exit(int(exitErr.Code))
		}
		os.Exit(1)
	}
}

// fail renders the issue catalog entry of err before handing it to fang.
func (a *App) fail(err error) error {
	if err == nil {
		return nil
	}
	renderIssue(a.stderr, err, a.glamourStyle())
	return err
}
