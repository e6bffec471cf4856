// SPDX-License-Identifier: MPL-2.0

package provision

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	goruntime "runtime"
	"strings"
	"time"

	"mvdan.cc/sh/v3/expand"
	"mvdan.cc/sh/v3/interp"

	"github.com/wheelhouse-dev/wheelhouse/internal/runtime"
	"github.com/wheelhouse-dev/wheelhouse/pkg/matrixfile"
)

// ErrNoWheel is returned when a package-mode environment has nothing to
// install.
var ErrNoWheel = errors.New("no wheel available for package install")

// Compile-time interface check
var _ Provisioner = (*VenvProvisioner)(nil)

// VenvProvisioner creates one virtual environment per named env under
// <env dir>/venv using "python -m venv", installs the dependency set with
// pip and installs the project according to the install mode.
//
// The environment is cached by Fingerprint. Package installs are repeated on
// every provision since the wheel is rebuilt each run.
type VenvProvisioner struct {
	runner CommandRunner
	config *Config
	goos   string
}

// NewVenvProvisioner creates a new VenvProvisioner.
func NewVenvProvisioner(runner CommandRunner, cfg *Config) *VenvProvisioner {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	return &VenvProvisioner{runner: runner, config: cfg, goos: goruntime.GOOS}
}

// Config returns the provisioner's configuration.
func (p *VenvProvisioner) Config() *Config {
	return p.config
}

// Provision creates or reuses the environment described by req.
func (p *VenvProvisioner) Provision(ctx context.Context, req Request) (*Result, error) {
	if req.Install == matrixfile.InstallPackage && len(req.Wheels) == 0 {
		return nil, fmt.Errorf("provision %s: %w", req.Name, ErrNoWheel)
	}

	venv := filepath.Join(req.Dir, "venv")
	binDir := runtime.VenvBinDir(venv, p.goos)
	python := filepath.Join(binDir, pythonExe(p.goos))

	base, err := p.baseInterpreter(req, binDir)
	if err != nil {
		return nil, &StepError{Env: req.Name, Step: "interpreter", ExitCode: 127, Err: err}
	}
	fp, err := Fingerprint(base, req.Deps, req.Install, req.Root)
	if err != nil {
		return nil, &StepError{Env: req.Name, Step: "fingerprint", ExitCode: 1, Err: err}
	}

	res := &Result{VirtualEnv: venv, BinDir: binDir, Python: python, Fingerprint: fp}

	st, err := ReadState(req.Dir)
	if err != nil {
		return nil, fmt.Errorf("read provision state: %w", err)
	}
	if !p.config.Recreate && st != nil && st.Fingerprint == fp && fileExists(python) {
		slog.Debug("reusing provisioned environment", "env", req.Name, "fingerprint", fp[:12])
		res.Reused = true
	} else {
		if err := p.create(ctx, req, base, venv, python); err != nil {
			return nil, err
		}
		state := &State{Fingerprint: fp, Python: base, Deps: req.Deps, Install: req.Install, CreatedAt: time.Now().UTC()}
		if err := WriteState(req.Dir, state); err != nil {
			return nil, fmt.Errorf("write provision state: %w", err)
		}
	}

	if req.Install == matrixfile.InstallPackage {
		if err := p.installWheels(ctx, req, python); err != nil {
			return nil, err
		}
	}
	return res, nil
}

func (p *VenvProvisioner) create(ctx context.Context, req Request, base, venv, python string) error {
	slog.Info("provisioning environment", "env", req.Name, "deps", len(req.Deps), "install", req.Install)

	_ = os.Remove(filepath.Join(req.Dir, StateFileName))
	if err := os.RemoveAll(venv); err != nil {
		return fmt.Errorf("remove stale environment: %w", err)
	}
	if err := os.MkdirAll(req.Dir, 0o755); err != nil {
		return fmt.Errorf("create environment directory: %w", err)
	}

	if err := p.step(ctx, req, "venv", base, "-m", "venv", venv); err != nil {
		return err
	}
	if len(req.Deps) > 0 {
		args := append([]string{python, "-m", "pip", "install"}, pipArgs(req.Deps)...)
		if err := p.step(ctx, req, "deps", args...); err != nil {
			return err
		}
	}
	if req.Install == matrixfile.InstallDevelop {
		if err := p.step(ctx, req, "develop", python, "-m", "pip", "install", "-e", req.Root); err != nil {
			return err
		}
	}
	return nil
}

// installWheels replaces the installed project with the freshly built wheels
// and then lets pip resolve their runtime requirements.
func (p *VenvProvisioner) installWheels(ctx context.Context, req Request, python string) error {
	args := append([]string{python, "-m", "pip", "install", "--force-reinstall", "--no-deps"}, req.Wheels...)
	if err := p.step(ctx, req, "package", args...); err != nil {
		return err
	}
	args = append([]string{python, "-m", "pip", "install"}, req.Wheels...)
	return p.step(ctx, req, "package-deps", args...)
}

func (p *VenvProvisioner) step(ctx context.Context, req Request, name string, args ...string) error {
	return runStep(ctx, p.runner, req.Env, req.Root, req.Name, name, p.config.Stdout, p.config.Stderr, args...)
}

// baseInterpreter resolves the configured interpreter on the execution PATH
// with the environment's own bin dir removed, so an existing venv never
// fingerprints itself.
func (p *VenvProvisioner) baseInterpreter(req Request, binDir string) (string, error) {
	if filepath.IsAbs(p.config.Python) {
		return p.config.Python, nil
	}

	var dirs []string
	for _, dir := range filepath.SplitList(req.Env["PATH"]) {
		if filepath.Clean(dir) != filepath.Clean(binDir) {
			dirs = append(dirs, dir)
		}
	}
	env := expand.ListEnviron("PATH=" + strings.Join(dirs, string(os.PathListSeparator)))
	return interp.LookPathDir(req.Root, env, p.config.Python)
}

func pythonExe(goos string) string {
	if goos == "windows" {
		return "python.exe"
	}
	return "python"
}

func fileExists(p string) bool {
	_, err := os.Stat(p)
	return err == nil
}
