// SPDX-License-Identifier: MPL-2.0

package stages

import (
	"context"
	"errors"
	"io"
	"path/filepath"

	"github.com/spf13/pflag"

	"github.com/wheelhouse-dev/wheelhouse/internal/audit"
	"github.com/wheelhouse-dev/wheelhouse/internal/config"
	"github.com/wheelhouse-dev/wheelhouse/internal/gate"
	"github.com/wheelhouse-dev/wheelhouse/internal/runtime"
	"github.com/wheelhouse-dev/wheelhouse/internal/testrun"
	"github.com/wheelhouse-dev/wheelhouse/pkg/matrixfile"
)

// Stage names as registered with the shell.
const (
	StageTest  = "test"
	StageAudit = "audit"
	StageLint  = "lint"
	StageDocs  = "docs"
	StageBuild = "build"
)

type (
	// CommandRunner executes one command string. *runtime.Shell satisfies it.
	CommandRunner interface {
		Run(ctx context.Context, c runtime.Command) *runtime.Result
	}

	// Recorder collects stage results for the run summary.
	// *matrix.Controller satisfies it.
	Recorder interface {
		RecordTest(path string, rep *testrun.Report)
		RecordAudit(reports []*audit.Report)
		RecordGate(rep *gate.Report)
	}

	// Settings are the user configuration values stages fall back to when
	// the matrix leaves them unset.
	Settings struct {
		Workers        int
		Validator      config.ValidatorKind
		CleanHostImage string
		LibraryPath    []string
	}

	// Stages binds the stage implementations to one matrix.
	Stages struct {
		Matrix   *matrixfile.Matrix
		Settings Settings
		// Runner executes lint, docs and build commands.
		Runner CommandRunner
		// TestRunner executes test commands; defaults to Runner. A
		// pseudo-terminal shell or one without a kill grace goes here.
		TestRunner CommandRunner
		// Recorder is optional.
		Recorder Recorder
		// Clock drives test retry delays; nil uses the system clock.
		Clock testrun.Clock
	}
)

// SettingsFromConfig extracts the stage settings of cfg.
func SettingsFromConfig(cfg *config.Config) Settings {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	return Settings{
		Workers:        cfg.Test.Workers,
		Validator:      cfg.Audit.Validator,
		CleanHostImage: cfg.Audit.CleanHostImage,
		LibraryPath:    cfg.Audit.LibraryPath,
	}
}

// Register adds every stage to reg.
func (s *Stages) Register(reg *runtime.Registry) {
	reg.Register(StageTest, s.Test)
	reg.Register(StageAudit, s.Audit)
	reg.Register(StageLint, s.Lint)
	reg.Register(StageDocs, s.Docs)
	reg.Register(StageBuild, s.Build)
}

// Names lists the stages in pipeline order.
func Names() []string {
	return []string{StageBuild, StageTest, StageAudit, StageLint, StageDocs}
}

func newFlagSet(stage string, stderr io.Writer) *pflag.FlagSet {
	fs := pflag.NewFlagSet(runtime.BuiltinProgram+" "+stage, pflag.ContinueOnError)
	if stderr == nil {
		stderr = io.Discard
	}
	fs.SetOutput(stderr)
	fs.SortFlags = false
	return fs
}

// parseFlags turns a help request into a successful exit and a usage error
// into status 2.
func parseFlags(fs *pflag.FlagSet, args []string) (bool, error) {
	err := fs.Parse(args)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, pflag.ErrHelp):
		return false, nil
	default:
		return false, &runtime.ExitStatusError{Code: 2, Err: err}
	}
}

// rootDir is the project root of inv: the controller exports it, and a
// stage called outside a run uses the matrix root.
func (s *Stages) rootDir(inv runtime.Invocation) string {
	if root := inv.Env[runtime.EnvRootDir]; root != "" {
		return root
	}
	if s.Matrix != nil && s.Matrix.Root != "" {
		return s.Matrix.Root
	}
	return inv.Dir
}

// distDir is the artifact directory of inv.
func (s *Stages) distDir(inv runtime.Invocation) string {
	if dist := inv.Env[runtime.EnvDistDir]; dist != "" {
		return dist
	}
	return s.Matrix.AbsDistDir()
}

func (s *Stages) testRunner() CommandRunner {
	if s.TestRunner != nil {
		return s.TestRunner
	}
	return s.Runner
}

func resolvePath(dir, p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(dir, p)
}

func failed(code int) error {
	return &runtime.ExitStatusError{Code: runtime.ExitCode(code).Failure()}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
