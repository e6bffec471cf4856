// SPDX-License-Identifier: MPL-2.0

package provision

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/wheelhouse-dev/wheelhouse/internal/runtime"
	"github.com/wheelhouse-dev/wheelhouse/pkg/wheel"
)

var (
	// ErrBuildFailed is the sentinel wrapped by BuildError.
	ErrBuildFailed = errors.New("artifact build failed")
	// ErrNoArtifacts is returned when the build commands succeed but leave
	// no new wheel in the artifact directory.
	ErrNoArtifacts = errors.New("build produced no wheel")
)

type (
	// Artifact is a wheel in the artifact directory.
	Artifact struct {
		Path     string         `json:"path"`
		Name     string         `json:"name"`
		Filename wheel.Filename `json:"-"`
		SHA256   string         `json:"sha256"`
		Size     int64          `json:"size"`
	}

	// Builder runs the build commands that produce wheels.
	Builder struct {
		runner CommandRunner
		stdout io.Writer
		stderr io.Writer
	}

	// BuildRequest is one build invocation. Commands have their
	// placeholders substituted already.
	BuildRequest struct {
		Commands []string
		Dir      string
		DistDir  string
		Env      map[string]string
	}

	// BuildError reports the failing build command.
	BuildError struct {
		Index    int
		Command  string
		ExitCode runtime.ExitCode
		Err      error
	}
)

// Error implements the error interface.
func (e *BuildError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("build command %d (%s): %v", e.Index, e.Command, e.Err)
	}
	return fmt.Sprintf("build command %d (%s) exited with status %d", e.Index, e.Command, e.ExitCode)
}

// Unwrap returns ErrBuildFailed and the underlying cause.
func (e *BuildError) Unwrap() []error {
	if e.Err != nil {
		return []error{ErrBuildFailed, e.Err}
	}
	return []error{ErrBuildFailed}
}

// NewBuilder creates a Builder that writes command output to stdout and
// stderr.
func NewBuilder(runner CommandRunner, stdout, stderr io.Writer) *Builder {
	return &Builder{runner: runner, stdout: stdout, stderr: stderr}
}

// Build runs the build commands in order and returns the wheels they
// created or rewrote in the artifact directory.
func (b *Builder) Build(ctx context.Context, req BuildRequest) ([]Artifact, error) {
	if err := os.MkdirAll(req.DistDir, 0o755); err != nil {
		return nil, fmt.Errorf("create artifact directory: %w", err)
	}
	before, err := snapshot(req.DistDir)
	if err != nil {
		return nil, err
	}

	for i, command := range req.Commands {
		slog.Info("building artifact", "index", i, "command", command)
		res := b.runner.Run(ctx, runtime.Command{
			Script: command,
			Name:   fmt.Sprintf("build[%d]", i),
			Dir:    req.Dir,
			Env:    req.Env,
			Stdout: b.stdout,
			Stderr: b.stderr,
		})
		if res.Error != nil || !res.ExitCode.IsSuccess() {
			return nil, &BuildError{Index: i, Command: command, ExitCode: res.ExitCode, Err: res.Error}
		}
	}

	all, err := ScanArtifacts(req.DistDir)
	if err != nil {
		return nil, err
	}
	var built []Artifact
	for _, a := range all {
		info, statErr := os.Stat(a.Path)
		if statErr != nil {
			continue
		}
		if prev, ok := before[a.Name]; ok && prev.Equal(info.ModTime()) {
			continue
		}
		built = append(built, a)
	}
	if len(built) == 0 {
		return nil, fmt.Errorf("%s: %w", req.DistDir, ErrNoArtifacts)
	}
	return built, nil
}

// ScanArtifacts lists the wheels in dir, sorted by name. Files with a
// malformed wheel name are skipped with a warning.
func ScanArtifacts(dir string) ([]Artifact, error) {
	names, err := doublestar.Glob(os.DirFS(dir), "*"+wheel.Ext, doublestar.WithFilesOnly())
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", dir, err)
	}

	artifacts := make([]Artifact, 0, len(names))
	for _, name := range names {
		fn, err := wheel.ParseFilename(name)
		if err != nil {
			slog.Warn("ignoring file in artifact directory", "file", name, "error", err)
			continue
		}
		p := filepath.Join(dir, name)
		sum, err := CalculateFileHash(p)
		if err != nil {
			return nil, fmt.Errorf("hash %s: %w", name, err)
		}
		info, err := os.Stat(p)
		if err != nil {
			return nil, err
		}
		artifacts = append(artifacts, Artifact{Path: p, Name: name, Filename: fn, SHA256: sum, Size: info.Size()})
	}
	return artifacts, nil
}

// snapshot maps each wheel name in dir to its modification time.
func snapshot(dir string) (map[string]time.Time, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", dir, err)
	}
	out := make(map[string]time.Time, len(entries))
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != wheel.Ext {
			continue
		}
		info, err := e.Info()
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out[e.Name()] = info.ModTime()
	}
	return out, nil
}
