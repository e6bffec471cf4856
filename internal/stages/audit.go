// SPDX-License-Identifier: MPL-2.0

package stages

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/wheelhouse-dev/wheelhouse/internal/audit"
	"github.com/wheelhouse-dev/wheelhouse/internal/config"
	"github.com/wheelhouse-dev/wheelhouse/internal/runtime"
	"github.com/wheelhouse-dev/wheelhouse/pkg/wheel"
)

// ErrNoImage is returned when the container validator has no image to run.
var ErrNoImage = errors.New("container validator needs a clean-host image")

// Audit repairs the wheels in the artifact directory (or the given wheels
// and directories) against a platform policy.
//
//	wheelhouse audit [flags] [dir|wheel...]
func (s *Stages) Audit(ctx context.Context, inv runtime.Invocation) error {
	a := s.Matrix.Audit
	validator := s.Settings.Validator
	if validator == "" {
		validator = config.ValidatorStatic
	}

	fs := newFlagSet(StageAudit, inv.Stderr)
	policyName := fs.String("policy", a.Policy, "platform policy ("+fmt.Sprint(audit.PolicyNames())+")")
	kind := fs.String("validator", string(validator), "repaired-wheel validator: static or container")
	image := fs.String("image", firstNonEmpty(a.CleanHostImage, s.Settings.CleanHostImage), "clean-host image for the container validator")
	module := fs.String("import", a.ImportCheck, "module imported by the container validator")
	libPath := fs.StringArray("library-path", nil, "extra library search directory (repeatable)")
	if ok, err := parseFlags(fs, inv.Args); !ok {
		return err
	}

	auditor, err := s.newAuditor(inv, *policyName, config.ValidatorKind(*kind), *image, *module, *libPath)
	if err != nil {
		return &runtime.ExitStatusError{Code: 2, Err: err}
	}

	targets := fs.Args()
	if len(targets) == 0 {
		targets = []string{s.distDir(inv)}
	}

	var (
		reports []*audit.Report
		errs    []error
	)
	for _, target := range targets {
		target = resolvePath(inv.Dir, target)
		reps, err := auditTarget(ctx, auditor, target)
		reports = append(reports, reps...)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			errs = append(errs, err)
		}
	}

	if s.Recorder != nil {
		s.Recorder.RecordAudit(reports)
	}
	printAudit(inv.Stdout, reports)
	if len(reports) == 0 && len(errs) == 0 {
		fmt.Fprintln(orDiscard(inv.Stdout), "no wheels to audit")
	}

	if len(errs) > 0 {
		return &runtime.ExitStatusError{Code: 1, Err: errors.Join(errs...)}
	}
	return nil
}

func (s *Stages) newAuditor(inv runtime.Invocation, policyName string, kind config.ValidatorKind, image, module string, extra []string) (*audit.Auditor, error) {
	if ok, errs := kind.IsValid(); !ok {
		return nil, errors.Join(errs...)
	}
	policy, err := audit.LoadPolicy(policyName)
	if err != nil {
		return nil, err
	}

	var dirs []string
	for _, d := range extra {
		dirs = append(dirs, resolvePath(inv.Dir, d))
	}
	for _, d := range s.Matrix.Audit.LibraryPath {
		dirs = append(dirs, resolvePath(s.Matrix.Root, d))
	}
	dirs = append(dirs, s.Settings.LibraryPath...)

	opts := []audit.Option{audit.WithSearchPath(audit.DefaultSearchPath(dirs, inv.Env))}
	if kind == config.ValidatorContainer {
		if image == "" {
			return nil, ErrNoImage
		}
		opts = append(opts, audit.WithValidator(&audit.ContainerValidator{Image: image, Module: module, Python: "python3"}))
	}
	return audit.New(policy, opts...), nil
}

// auditTarget audits one wheel file or every wheel in a directory.
func auditTarget(ctx context.Context, a *audit.Auditor, target string) ([]*audit.Report, error) {
	info, err := os.Stat(target)
	if err != nil {
		return nil, err
	}
	if info.IsDir() {
		return a.AuditDir(ctx, target)
	}
	if filepath.Ext(target) != wheel.Ext {
		return nil, fmt.Errorf("%s: not a wheel", target)
	}
	rep, err := a.AuditFile(ctx, target)
	return []*audit.Report{rep}, err
}

func printAudit(w io.Writer, reports []*audit.Report) {
	w = orDiscard(w)
	for _, rep := range reports {
		switch rep.Status {
		case audit.StatusRepaired:
			fmt.Fprintf(w, "%-10s %s -> %s (%d bundled)\n", rep.Status, rep.Wheel, rep.Output, len(rep.Bundled))
		case audit.StatusFailed:
			fmt.Fprintf(w, "%-10s %s (diagnostics: %s%s)\n", rep.Status, rep.Wheel, rep.Wheel, audit.DiagnosticsExt)
			for _, e := range rep.Errors {
				fmt.Fprintf(w, "    %s: %s\n", e.Kind, e.Message)
			}
		default:
			fmt.Fprintf(w, "%-10s %s\n", rep.Status, rep.Wheel)
		}
	}
}

func orDiscard(w io.Writer) io.Writer {
	if w == nil {
		return io.Discard
	}
	return w
}
