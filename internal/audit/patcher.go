// SPDX-License-Identifier: MPL-2.0

package audit

import (
	"context"
	"fmt"
	"maps"
	"os/exec"
	"slices"
	"strings"
)

type (
	// Patcher rewrites the dynamic-linking metadata of a native binary.
	Patcher interface {
		// SetSoname sets DT_SONAME or the LC_ID_DYLIB install name.
		SetSoname(ctx context.Context, path, name string) error
		// ReplaceNeeded rewrites references, old name to new name.
		ReplaceNeeded(ctx context.Context, path string, replacements map[string]string) error
		// SetRPath makes rpath the binary's run path.
		SetRPath(ctx context.Context, path, rpath string) error
	}

	// ExecCommandFunc creates commands; tests substitute it.
	ExecCommandFunc func(ctx context.Context, name string, args ...string) *exec.Cmd

	// cliTool runs a patching program and folds its output into errors.
	cliTool struct {
		binary      string
		execCommand ExecCommandFunc
	}

	// PatchELF patches ELF files with patchelf.
	PatchELF struct{ cliTool }

	// InstallNameTool patches Mach-O files with install_name_tool.
	InstallNameTool struct{ cliTool }

	// PatcherOption configures a CLI patcher.
	PatcherOption func(*cliTool)
)

// Compile-time interface checks
var (
	_ Patcher = (*PatchELF)(nil)
	_ Patcher = (*InstallNameTool)(nil)
)

// WithExecCommand overrides how commands are created.
func WithExecCommand(fn ExecCommandFunc) PatcherOption {
	return func(t *cliTool) { t.execCommand = fn }
}

// WithBinary overrides the program path.
func WithBinary(path string) PatcherOption {
	return func(t *cliTool) { t.binary = path }
}

// NewPatchELF creates a patchelf-backed Patcher.
func NewPatchELF(opts ...PatcherOption) *PatchELF {
	return &PatchELF{newCLITool("patchelf", opts)}
}

// NewInstallNameTool creates an install_name_tool-backed Patcher.
func NewInstallNameTool(opts ...PatcherOption) *InstallNameTool {
	return &InstallNameTool{newCLITool("install_name_tool", opts)}
}

func newCLITool(binary string, opts []PatcherOption) cliTool {
	t := cliTool{binary: binary, execCommand: exec.CommandContext}
	for _, opt := range opts {
		opt(&t)
	}
	return t
}

func (t *cliTool) run(ctx context.Context, args ...string) error {
	cmd := t.execCommand(ctx, t.binary, args...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("%s %s: %w: %s", t.binary, strings.Join(args, " "), err, strings.TrimSpace(string(out)))
	}
	return nil
}

// SetSoname implements Patcher.
func (p *PatchELF) SetSoname(ctx context.Context, path, name string) error {
	return p.run(ctx, "--set-soname", name, path)
}

// ReplaceNeeded implements Patcher. All replacements go into one call.
func (p *PatchELF) ReplaceNeeded(ctx context.Context, path string, replacements map[string]string) error {
	if len(replacements) == 0 {
		return nil
	}
	var args []string
	for _, old := range slices.Sorted(maps.Keys(replacements)) {
		args = append(args, "--replace-needed", old, replacements[old])
	}
	return p.run(ctx, append(args, path)...)
}

// SetRPath implements Patcher.
func (p *PatchELF) SetRPath(ctx context.Context, path, rpath string) error {
	return p.run(ctx, "--set-rpath", rpath, path)
}

// SetSoname implements Patcher.
func (p *InstallNameTool) SetSoname(ctx context.Context, path, name string) error {
	return p.run(ctx, "-id", name, path)
}

// ReplaceNeeded implements Patcher.
func (p *InstallNameTool) ReplaceNeeded(ctx context.Context, path string, replacements map[string]string) error {
	if len(replacements) == 0 {
		return nil
	}
	var args []string
	for _, old := range slices.Sorted(maps.Keys(replacements)) {
		args = append(args, "-change", old, replacements[old])
	}
	return p.run(ctx, append(args, path)...)
}

// SetRPath implements Patcher. An rpath that is already present is not an
// error.
func (p *InstallNameTool) SetRPath(ctx context.Context, path, rpath string) error {
	err := p.run(ctx, "-add_rpath", rpath, path)
	if err != nil && strings.Contains(err.Error(), "would duplicate path") {
		return nil
	}
	return err
}
