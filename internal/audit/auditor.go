// SPDX-License-Identifier: MPL-2.0

package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	goruntime "runtime"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/wheelhouse-dev/wheelhouse/internal/provision"
	"github.com/wheelhouse-dev/wheelhouse/pkg/wheel"
)

// DiagnosticsExt is appended to a wheel's path for its failure report.
const DiagnosticsExt = ".audit.json"

// Status is the outcome of auditing one wheel.
type Status string

const (
	// StatusPure wheels carry no native code.
	StatusPure Status = "pure"
	// StatusUnchanged wheels were already portable.
	StatusUnchanged Status = "unchanged"
	// StatusRepaired wheels were rewritten.
	StatusRepaired Status = "repaired"
	// StatusFailed wheels were left untouched and got a diagnostics file.
	StatusFailed Status = "failed"
)

// nativePatterns select candidate native components inside a wheel.
var nativePatterns = []string{"**/*.so", "**/*.so.*", "**/*.dylib"}

type (
	// Report describes the audit of one wheel. Failed reports are written
	// next to the wheel as <wheel>.audit.json.
	Report struct {
		Wheel        string        `json:"wheel"`
		Output       string        `json:"output,omitempty"`
		Status       Status        `json:"status"`
		Policy       string        `json:"policy"`
		Components   []string      `json:"components,omitempty"`
		Dependencies []*Dependency `json:"dependencies,omitempty"`
		Bundled      []Bundled     `json:"bundled,omitempty"`
		Errors       []ErrorEntry  `json:"errors,omitempty"`
	}

	// ErrorEntry is the serialized form of an audit error.
	ErrorEntry struct {
		Kind     string `json:"kind"`
		Message  string `json:"message"`
		Library  string `json:"library,omitempty"`
		NeededBy string `json:"needed_by,omitempty"`
		First    string `json:"first,omitempty"`
		Second   string `json:"second,omitempty"`
	}

	// Auditor repairs and validates wheels against one platform policy.
	Auditor struct {
		policy     *Policy
		inspector  Inspector
		patchers   map[Format]Patcher
		searchPath []string
		validators []Validator
	}

	// Option configures an Auditor.
	Option func(*Auditor)
)

// WithInspector replaces the binary inspector.
func WithInspector(i Inspector) Option {
	return func(a *Auditor) { a.inspector = i }
}

// WithPatcher sets the patcher for one binary format.
func WithPatcher(format Format, p Patcher) Option {
	return func(a *Auditor) { a.patchers[format] = p }
}

// WithSearchPath sets the directories searched for libraries not found
// through a binary's own run paths.
func WithSearchPath(dirs []string) Option {
	return func(a *Auditor) { a.searchPath = dirs }
}

// WithValidator adds a validator run after the static one.
func WithValidator(v Validator) Option {
	return func(a *Auditor) { a.validators = append(a.validators, v) }
}

// New creates an Auditor for policy.
func New(policy *Policy, opts ...Option) *Auditor {
	a := &Auditor{
		policy:    policy,
		inspector: AutoInspector{},
		patchers: map[Format]Patcher{
			FormatELF:   NewPatchELF(),
			FormatMachO: NewInstallNameTool(),
		},
	}
	for _, opt := range opts {
		opt(a)
	}
	a.validators = append([]Validator{&StaticValidator{Inspector: a.inspector, Policy: policy}}, a.validators...)
	return a
}

// DefaultSearchPath is the library search path of the current platform,
// led by extra and the loader path variable of env.
func DefaultSearchPath(extra []string, env map[string]string) []string {
	dirs := append([]string{}, extra...)
	if goruntime.GOOS == "darwin" {
		dirs = append(dirs, filepath.SplitList(env["DYLD_LIBRARY_PATH"])...)
		return append(dirs, "/usr/local/lib", "/opt/homebrew/lib")
	}
	dirs = append(dirs, filepath.SplitList(env["LD_LIBRARY_PATH"])...)
	return append(dirs,
		"/lib", "/lib64", "/usr/lib", "/usr/lib64", "/usr/local/lib",
		"/lib/x86_64-linux-gnu", "/usr/lib/x86_64-linux-gnu",
		"/lib/aarch64-linux-gnu", "/usr/lib/aarch64-linux-gnu",
	)
}

// AuditDir audits every wheel in dir. Each wheel is handled independently;
// the returned error lists the failed ones.
func (a *Auditor) AuditDir(ctx context.Context, dir string) ([]*Report, error) {
	artifacts, err := provision.ScanArtifacts(dir)
	if err != nil {
		return nil, err
	}

	var (
		reports []*Report
		failed  []string
	)
	for _, art := range artifacts {
		if err := ctx.Err(); err != nil {
			return reports, err
		}
		rep, err := a.AuditFile(ctx, art.Path)
		reports = append(reports, rep)
		if err != nil {
			slog.Error("audit failed", "wheel", art.Name, "error", err)
			failed = append(failed, art.Name)
		}
	}
	if len(failed) > 0 {
		return reports, &AuditError{Failed: failed}
	}
	return reports, nil
}

// AuditFile audits one wheel. On success the repaired wheel replaces the
// original; on failure a diagnostics file is written and the wheel is left
// untouched. The report is returned in both cases.
func (a *Auditor) AuditFile(ctx context.Context, wheelPath string) (*Report, error) {
	rep := &Report{Wheel: filepath.Base(wheelPath), Policy: a.policy.Name}
	err := a.audit(ctx, wheelPath, rep)
	diagPath := wheelPath + DiagnosticsExt
	if err == nil {
		_ = os.Remove(diagPath)
		return rep, nil
	}

	rep.Status = StatusFailed
	rep.Errors = append(rep.Errors, errorEntry(err))
	if writeErr := writeDiagnostics(diagPath, rep); writeErr != nil {
		return rep, errors.Join(err, writeErr)
	}
	return rep, err
}

func (a *Auditor) audit(ctx context.Context, wheelPath string, rep *Report) error {
	fn, err := wheel.ParseFilename(wheelPath)
	if err != nil {
		return err
	}
	if fn.IsPure() {
		rep.Status = StatusPure
		rep.Output = wheelPath
		return nil
	}

	tmp, err := os.MkdirTemp("", "wheelhouse-audit-*")
	if err != nil {
		return err
	}
	defer func() { _ = os.RemoveAll(tmp) }()

	root := filepath.Join(tmp, "payload")
	files, err := wheel.Unpack(wheelPath, root)
	if err != nil {
		return err
	}
	components, err := a.nativeComponents(root, files)
	if err != nil {
		return err
	}
	rep.Components = components

	r := &Resolver{Inspector: a.inspector, Policy: a.policy, SearchPath: a.searchPath}
	g, err := r.Resolve(root, components)
	if g != nil {
		rep.Dependencies = g.Deps
	}
	if err != nil {
		return err
	}

	bundled, err := a.bundle(ctx, g, filepath.Join(root, fn.LibsDir()))
	if err != nil {
		return err
	}
	rep.Bundled = bundled

	retagged := a.retag(fn)
	changed := len(bundled) > 0 || retagged != fn

	out := wheelPath
	final := filepath.Join(filepath.Dir(wheelPath), retagged.String())
	if changed {
		md, err := wheel.ReadMetadata(root, fn.DistInfoDir())
		if err != nil {
			return err
		}
		md.SetTags(retagged.Tags())
		if err := md.Write(root, fn.DistInfoDir()); err != nil {
			return err
		}
		out = filepath.Join(tmp, retagged.String())
		if err := wheel.Pack(root, out, fn.DistInfoDir()); err != nil {
			return err
		}
	}

	in := ValidationInput{Root: root, Wheel: out, Filename: retagged, Components: components}
	for _, v := range a.validators {
		if err := v.Validate(ctx, in); err != nil {
			return &ValidationError{Validator: v.Name(), Err: err}
		}
	}

	if !changed {
		rep.Status = StatusUnchanged
		rep.Output = wheelPath
		return nil
	}
	if err := moveFile(out, final); err != nil {
		return err
	}
	if final != wheelPath {
		if err := os.Remove(wheelPath); err != nil {
			return fmt.Errorf("remove original wheel: %w", err)
		}
	}
	rep.Status = StatusRepaired
	rep.Output = final
	slog.Info("repaired wheel", "wheel", rep.Wheel, "output", filepath.Base(final), "bundled", len(bundled))
	return nil
}

// retag applies the policy tag to every bare platform tag of fn.
func (a *Auditor) retag(fn wheel.Filename) wheel.Filename {
	platforms := fn.Platforms()
	for i, p := range platforms {
		platforms[i], _ = a.policy.Retag(p)
	}
	return fn.WithPlatform(strings.Join(platforms, "."))
}

// nativeComponents returns the wheel files that are native binaries.
func (a *Auditor) nativeComponents(root string, files []string) ([]string, error) {
	var out []string
	for _, f := range files {
		if !matchesAny(f) {
			continue
		}
		if _, err := a.inspector.Inspect(filepath.Join(root, filepath.FromSlash(f))); err != nil {
			if errors.Is(err, ErrNotBinary) {
				continue
			}
			return nil, err
		}
		out = append(out, f)
	}
	return out, nil
}

func matchesAny(name string) bool {
	for _, pattern := range nativePatterns {
		if ok, _ := doublestar.Match(pattern, name); ok {
			return true
		}
	}
	return false
}

// moveFile renames src to dst, copying when they are on different
// filesystems.
func moveFile(src, dst string) error {
	if err := os.Rename(src, dst); err == nil {
		return nil
	}
	tmp := dst + ".tmp"
	if err := provision.CopyFile(src, tmp); err != nil {
		return err
	}
	return os.Rename(tmp, dst)
}

func errorEntry(err error) ErrorEntry {
	entry := ErrorEntry{Kind: "error", Message: err.Error()}
	var (
		resolveErr  *DependencyResolutionError
		conflictErr *ConflictError
		validateErr *ValidationError
	)
	switch {
	case errors.As(err, &resolveErr):
		entry.Kind = "unresolved"
		entry.Library = resolveErr.Library
		entry.NeededBy = resolveErr.NeededBy
	case errors.As(err, &conflictErr):
		entry.Kind = "conflict"
		entry.Library = conflictErr.Library
		entry.First = conflictErr.First
		entry.Second = conflictErr.Second
	case errors.As(err, &validateErr):
		entry.Kind = "validation"
	}
	return entry
}

func writeDiagnostics(p string, rep *Report) error {
	data, err := json.MarshalIndent(rep, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(p, append(data, '\n'), 0o644)
}

// ReadDiagnostics loads a diagnostics file.
func ReadDiagnostics(p string) (*Report, error) {
	data, err := os.ReadFile(p)
	if err != nil {
		return nil, err
	}
	var rep Report
	if err := json.Unmarshal(data, &rep); err != nil {
		return nil, fmt.Errorf("parse %s: %w", p, err)
	}
	return &rep, nil
}
