// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/wheelhouse-dev/wheelhouse/internal/config"
	"github.com/wheelhouse-dev/wheelhouse/internal/issue"
	"github.com/wheelhouse-dev/wheelhouse/internal/matrix"
	"github.com/wheelhouse-dev/wheelhouse/internal/provision"
	"github.com/wheelhouse-dev/wheelhouse/internal/runtime"
	"github.com/wheelhouse-dev/wheelhouse/internal/stages"
	"github.com/wheelhouse-dev/wheelhouse/pkg/matrixfile"
)

type (
	// App wires CLI services and shared dependencies. It is the composition
	// root for the CLI layer.
	App struct {
		Config config.Provider

		stdin   io.Reader
		stdout  io.Writer
		stderr  io.Writer
		environ func() []string
		getwd   func() (string, error)

		// Set by the root command before any handler runs.
		cfg     *config.Config
		verbose bool
	}

	// Dependencies defines the injection points for building an App. Nil
	// fields are replaced with production defaults by NewApp.
	Dependencies struct {
		Config  config.Provider
		Stdin   io.Reader
		Stdout  io.Writer
		Stderr  io.Writer
		Environ func() []string
		Getwd   func() (string, error)
	}

	// rootFlagValues holds the persistent flags.
	rootFlagValues struct {
		configPath string
		matrixPath string
		verbose    bool
	}

	// session is the state one invocation works with: the matrix, the host
	// environment snapshot and a shell whose builtins are the stages.
	session struct {
		cfg      *config.Config
		matrix   *matrixfile.Matrix
		host     map[string]string
		dir      string
		registry *runtime.Registry
		shell    *runtime.Shell
		stages   *stages.Stages
	}

	sessionOptions struct {
		// requireMatrix fails when no matrix file is found instead of
		// falling back to the built-in defaults.
		requireMatrix bool
		tty           bool
	}
)

// NewApp creates an App with defaults for omitted dependencies.
func NewApp(deps Dependencies) *App {
	if deps.Config == nil {
		deps.Config = config.NewProvider()
	}
	if deps.Stdin == nil {
		deps.Stdin = os.Stdin
	}
	if deps.Stdout == nil {
		deps.Stdout = os.Stdout
	}
	if deps.Stderr == nil {
		deps.Stderr = os.Stderr
	}
	if deps.Environ == nil {
		deps.Environ = os.Environ
	}
	if deps.Getwd == nil {
		deps.Getwd = os.Getwd
	}
	return &App{
		Config:  deps.Config,
		stdin:   deps.Stdin,
		stdout:  deps.Stdout,
		stderr:  deps.Stderr,
		environ: deps.Environ,
		getwd:   deps.Getwd,
	}
}

// loadConfig reads the user configuration. A broken file is reported and
// the defaults are used so the pipeline stays usable.
func (a *App) loadConfig(ctx context.Context, flags *rootFlagValues) *config.Config {
	cfg, err := a.Config.Load(ctx, config.LoadOptions{ConfigFilePath: flags.configPath})
	if err != nil {
		wrapped := issue.NewErrorContext().
			WithOperation("load configuration").
			WithResource(flags.configPath).
			WithSuggestion("Run 'wheelhouse config show' to see the effective values").
			WithIssue(issue.ConfigLoadFailedId).
			Wrap(err).
			Build()
		fmt.Fprintln(a.stderr, WarningStyle.Render("Warning: ")+formatErrorForDisplay(wrapped, flags.verbose))
		return config.DefaultConfig()
	}
	return cfg
}

// glamourStyle picks the issue rendering style from the color scheme.
func (a *App) glamourStyle() string {
	if a.cfg != nil && a.cfg.UI.ColorScheme == config.ColorSchemeLight {
		return "light"
	}
	return "dark"
}

// host snapshots the invoking environment once per session.
func (a *App) host() map[string]string {
	return runtime.SliceToEnv(a.environ())
}

// loadMatrix finds and loads the matrix. Without a matrix file, stages still
// work on the defaults overlaid with the user configuration.
func (a *App) loadMatrix(flags *rootFlagValues, cfg *config.Config, requireFile bool) (*matrixfile.Matrix, string, error) {
	wd, err := a.getwd()
	if err != nil {
		return nil, "", fmt.Errorf("determine working directory: %w", err)
	}

	path := flags.matrixPath
	if path == "" {
		path, err = matrixfile.Find(wd)
		if err != nil {
			if !requireFile && errors.Is(err, matrixfile.ErrMatrixNotFound) {
				slog.Debug("no matrix file, using defaults", "dir", wd)
				return defaultMatrix(cfg, wd), wd, nil
			}
			return nil, wd, issue.NewErrorContext().
				WithOperation("find matrix file").
				WithResource(wd).
				WithSuggestions(
					"Create one with 'wheelhouse init'",
					"Point at an existing file with --file",
				).
				WithIssue(issue.MatrixNotFoundId).
				Wrap(err).
				Build()
		}
	} else if !filepath.IsAbs(path) {
		path = filepath.Join(wd, path)
	}

	m, err := matrixfile.Load(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, wd, issue.NewErrorContext().
				WithOperation("load matrix file").
				WithResource(path).
				WithIssue(issue.MatrixNotFoundId).
				Wrap(err).
				Build()
		}
		return nil, wd, issue.NewErrorContext().
			WithOperation("load matrix file").
			WithResource(path).
			WithSuggestion("Run 'wheelhouse list' after fixing the reported fields").
			WithIssue(issue.MatrixParseErrorId).
			Wrap(err).
			Build()
	}
	return m, wd, nil
}

// defaultMatrix is the matrix used when the project has no matrix file.
// User configuration fills the values a matrix would otherwise declare.
func defaultMatrix(cfg *config.Config, root string) *matrixfile.Matrix {
	m := matrixfile.Default()
	m.Root = root
	if cfg == nil {
		return m
	}
	if cfg.Python != "" {
		m.Python = cfg.Python
	}
	m.Test.Workers = cfg.Test.Workers
	m.Test.Retries = cfg.Test.Retries
	if cfg.Test.RetryDelay > 0 {
		m.Test.RetryDelay = matrixfile.Duration(cfg.Test.RetryDelay)
	}
	if cfg.Test.Timeout > 0 {
		m.Test.Timeout = matrixfile.Duration(cfg.Test.Timeout)
	}
	m.Test.StrictXFail = cfg.Test.StrictXFail
	if cfg.Audit.Policy != "" {
		m.Audit.Policy = cfg.Audit.Policy
	}
	return m
}

// newSession loads everything a pipeline invocation needs and registers
// the stages as shell builtins.
func (a *App) newSession(ctx context.Context, flags *rootFlagValues, opts sessionOptions) (*session, error) {
	cfg := a.cfg
	if cfg == nil {
		cfg = a.loadConfig(ctx, flags)
	}
	m, wd, err := a.loadMatrix(flags, cfg, opts.requireMatrix)
	if err != nil {
		return nil, err
	}

	reg := runtime.NewRegistry()
	shell := &runtime.Shell{Builtins: reg}
	st := &stages.Stages{
		Matrix:   m,
		Settings: stages.SettingsFromConfig(cfg),
		Runner:   shell,
		// A timed-out test is killed at once so a run stays within
		// (retries+1)*timeout + retries*delay.
		TestRunner: &runtime.Shell{Builtins: reg, TTY: opts.tty || cfg.Test.TTY, KillTimeout: -1},
	}
	st.Register(reg)

	return &session{
		cfg:      cfg,
		matrix:   m,
		host:     a.host(),
		dir:      wd,
		registry: reg,
		shell:    shell,
		stages:   st,
	}, nil
}

// controller builds the environment matrix controller of s. Stage results
// produced inside the run are recorded into its summary.
func (s *session) controller(stdout, stderr io.Writer, keepGoing, recreate bool) *matrix.Controller {
	provCfg := provision.DefaultConfig()
	provCfg.Apply(
		provision.WithPython(firstNonEmpty(s.matrix.Python, s.cfg.Python)),
		provision.WithRecreate(recreate),
		provision.WithOutput(stdout, stderr),
	)
	prov := provision.NewVenvProvisioner(s.shell, provCfg)

	ctrl := matrix.New(s.matrix, s.host, s.shell, prov,
		matrix.WithOutput(stdout, stderr),
		matrix.WithKeepGoing(keepGoing),
	)
	s.stages.Recorder = ctrl
	return ctrl
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
