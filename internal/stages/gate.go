// SPDX-License-Identifier: MPL-2.0

package stages

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/wheelhouse-dev/wheelhouse/internal/gate"
	"github.com/wheelhouse-dev/wheelhouse/internal/runtime"
)

// Lint runs one style unit per source root and the document unit.
//
//	wheelhouse lint [--root DIR]... [--command CMD] [--document FILE]
func (s *Stages) Lint(ctx context.Context, inv runtime.Invocation) error {
	l := s.Matrix.Lint
	fs := newFlagSet(StageLint, inv.Stderr)
	roots := fs.StringArray("root", l.Roots, "source root, one style unit each (repeatable)")
	command := fs.String("command", l.Command, "lint command; "+gate.RootPlaceholder+" is the source root")
	document := fs.String("document", l.Document, "structured-text document to validate (empty: skip)")
	if ok, err := parseFlags(fs, inv.Args); !ok {
		return err
	}

	cfg := gate.Config{Roots: *roots, Command: *command, Document: *document}
	return s.runGate(ctx, inv, gate.Units(cfg, s.Runner, gate.KindStyle, gate.KindDocument))
}

// Docs builds the documentation and counts warnings.
//
//	wheelhouse docs [--command CMD] [--strict]
func (s *Stages) Docs(ctx context.Context, inv runtime.Invocation) error {
	l := s.Matrix.Lint
	fs := newFlagSet(StageDocs, inv.Stderr)
	command := fs.String("command", l.DocsCommand, "documentation build command")
	strict := fs.Bool("strict", l.DocsStrict, "fail on warnings")
	if ok, err := parseFlags(fs, inv.Args); !ok {
		return err
	}
	if *command == "" {
		return &runtime.ExitStatusError{Code: 2, Err: fmt.Errorf("no docs command configured (lint.docs_command)")}
	}

	cfg := gate.Config{DocsCommand: *command, DocsStrict: *strict}
	return s.runGate(ctx, inv, gate.Units(cfg, s.Runner, gate.KindDocs))
}

func (s *Stages) runGate(ctx context.Context, inv runtime.Invocation, units []gate.Unit) error {
	rep := gate.New(units...).Run(ctx, gate.Request{Dir: s.rootDir(inv), Env: inv.Env})
	if s.Recorder != nil {
		s.Recorder.RecordGate(rep)
	}
	printGate(inv.Stdout, rep)

	if err := ctx.Err(); err != nil {
		return err
	}
	if rep.Failed() {
		return failed(rep.ExitCode())
	}
	return nil
}

func printGate(w io.Writer, rep *gate.Report) {
	w = orDiscard(w)
	for _, u := range rep.Units {
		fmt.Fprintf(w, "%-7s %s (%s)", u.Status, u.Name, u.Duration.Round(time.Millisecond))
		if u.Warnings > 0 {
			fmt.Fprintf(w, ", %d warnings", u.Warnings)
		}
		fmt.Fprintln(w)
		for _, f := range u.Findings {
			if f.Line > 0 {
				fmt.Fprintf(w, "    %d: %s: %s\n", f.Line, f.Severity, f.Message)
			} else {
				fmt.Fprintf(w, "    %s: %s\n", f.Severity, f.Message)
			}
		}
		if u.Failed() && u.Output != "" {
			fmt.Fprintln(w, u.Output)
		}
	}
}
