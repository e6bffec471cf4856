// SPDX-License-Identifier: MPL-2.0

package gate

import (
	"context"
	"log/slog"
	"slices"
	"time"

	"golang.org/x/sync/errgroup"
)

type (
	// Config selects and parameterizes the units.
	Config struct {
		// Roots get one style unit each.
		Roots []string
		// Command is the lint template; RootPlaceholder is substituted.
		Command string
		// Document is validated by the document unit; empty disables it.
		Document string
		// DocsCommand builds documentation; empty disables the docs unit.
		DocsCommand string
		DocsStrict  bool
	}

	// Gate runs a set of independent units.
	Gate struct {
		units []Unit
	}

	// Report collects every unit's result in unit order.
	Report struct {
		Units    []UnitResult  `json:"units"`
		Duration time.Duration `json:"duration"`
	}
)

// Units builds the configured units of the given kinds, all kinds when
// none are given.
func Units(cfg Config, runner CommandRunner, kinds ...Kind) []Unit {
	want := func(k Kind) bool { return len(kinds) == 0 || slices.Contains(kinds, k) }

	var units []Unit
	if want(KindStyle) {
		for _, root := range cfg.Roots {
			units = append(units, &StyleUnit{Root: root, Command: cfg.Command, Runner: runner})
		}
	}
	if want(KindDocument) && cfg.Document != "" {
		units = append(units, &DocumentUnit{Path: cfg.Document})
	}
	if want(KindDocs) && cfg.DocsCommand != "" {
		units = append(units, &DocsUnit{Command: cfg.DocsCommand, Strict: cfg.DocsStrict, Runner: runner})
	}
	return units
}

// New creates a Gate over units.
func New(units ...Unit) *Gate {
	return &Gate{units: units}
}

// Run executes every unit in parallel and waits for all of them. A failing
// unit never stops its siblings.
func (g *Gate) Run(ctx context.Context, req Request) *Report {
	start := time.Now()
	results := make([]UnitResult, len(g.units))

	var eg errgroup.Group
	for i, u := range g.units {
		eg.Go(func() error {
			slog.Debug("gate unit started", "unit", u.Name())
			results[i] = u.Run(ctx, req)
			slog.Debug("gate unit finished", "unit", u.Name(), "status", results[i].Status)
			return nil
		})
	}
	_ = eg.Wait() // units report failures through their results

	return &Report{Units: results, Duration: time.Since(start)}
}

// Failed reports whether any unit failed.
func (r *Report) Failed() bool {
	return slices.ContainsFunc(r.Units, UnitResult.Failed)
}

// ExitCode is the first failing unit's exit status, clamped to 1..255, or
// 0 when every unit passed.
func (r *Report) ExitCode() int {
	for _, u := range r.Units {
		if u.Failed() {
			return min(max(u.ExitCode, 1), 255)
		}
	}
	return 0
}
