// SPDX-License-Identifier: MPL-2.0

package gate

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"testing"

	"github.com/wheelhouse-dev/wheelhouse/internal/runtime"
)

// fakeRunner answers by script: the output to print and the exit code.
type fakeRunner struct {
	mu      sync.Mutex
	scripts []string
	results map[string]struct {
		out  string
		code runtime.ExitCode
	}
}

func (f *fakeRunner) Run(_ context.Context, c runtime.Command) *runtime.Result {
	f.mu.Lock()
	f.scripts = append(f.scripts, c.Script)
	r := f.results[c.Script]
	f.mu.Unlock()
	fmt.Fprint(c.Stdout, r.out)
	return &runtime.Result{ExitCode: r.code}
}

func (f *fakeRunner) on(script, out string, code runtime.ExitCode) {
	if f.results == nil {
		f.results = map[string]struct {
			out  string
			code runtime.ExitCode
		}{}
	}
	f.results[script] = struct {
		out  string
		code runtime.ExitCode
	}{out, code}
}

func TestUnits(t *testing.T) {
	t.Parallel()

	cfg := Config{
		Roots:       []string{"src", "tests"},
		Command:     "ruff check {root}",
		Document:    "README.md",
		DocsCommand: "pdoc core",
	}
	names := func(units []Unit) []string {
		var out []string
		for _, u := range units {
			out = append(out, u.Name())
		}
		return out
	}

	if got := names(Units(cfg, &fakeRunner{})); !slices.Equal(got, []string{"style src", "style tests", "document README.md", "docs"}) {
		t.Errorf("Units(all) = %v", got)
	}
	if got := names(Units(cfg, &fakeRunner{}, KindStyle, KindDocument)); len(got) != 3 {
		t.Errorf("Units(lint) = %v", got)
	}
	cfg.DocsCommand = ""
	if got := names(Units(cfg, &fakeRunner{}, KindDocs)); len(got) != 0 {
		t.Errorf("Units(docs) without a command = %v", got)
	}
}

func TestGate_RunsEveryUnit(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "README.md"), []byte("# ok\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	runner := &fakeRunner{}
	runner.on("ruff check src", "src/core/__init__.py:1:1: F401 unused import\n", 1)
	runner.on("ruff check tests", "All checks passed!\n", 0)

	cfg := Config{Roots: []string{"src", "tests"}, Command: "ruff check {root}", Document: "README.md"}
	report := New(Units(cfg, runner)...).Run(context.Background(), Request{Dir: dir})

	if len(report.Units) != 3 {
		t.Fatalf("Units = %+v", report.Units)
	}
	if !report.Units[0].Failed() || report.Units[1].Failed() || report.Units[2].Failed() {
		t.Errorf("statuses = %s %s %s", report.Units[0].Status, report.Units[1].Status, report.Units[2].Status)
	}
	if report.Units[0].Output == "" {
		t.Error("failing style unit should keep its output")
	}
	if !report.Failed() || report.ExitCode() != 1 {
		t.Errorf("Failed() = %v, ExitCode() = %d", report.Failed(), report.ExitCode())
	}
}

func TestStyleUnit_QuotesRoot(t *testing.T) {
	t.Parallel()

	runner := &fakeRunner{}
	(&StyleUnit{Root: "my src", Command: "ruff check {root} --quiet", Runner: runner}).Run(context.Background(), Request{})
	(&StyleUnit{Root: "tests", Command: "flake8", Runner: runner}).Run(context.Background(), Request{})

	want := []string{"ruff check 'my src' --quiet", "flake8 tests"}
	if !slices.Equal(runner.scripts, want) {
		t.Errorf("scripts = %q, want %q", runner.scripts, want)
	}
}

func TestDocsUnit_Warnings(t *testing.T) {
	t.Parallel()

	output := "Building docs\nWARNING: missing docstring in core.encode\ncore/api.py:3: warning: bad reference\nDone\n"
	for _, strict := range []bool{false, true} {
		t.Run(fmt.Sprintf("strict=%v", strict), func(t *testing.T) {
			t.Parallel()

			runner := &fakeRunner{}
			runner.on("make docs", output, 0)
			res := (&DocsUnit{Command: "make docs", Strict: strict, Runner: runner}).Run(context.Background(), Request{})

			if res.Warnings != 2 {
				t.Errorf("Warnings = %d, want 2", res.Warnings)
			}
			if res.Failed() != strict {
				t.Errorf("Failed() = %v, want %v", res.Failed(), strict)
			}
		})
	}

	runner := &fakeRunner{}
	runner.on("make docs", "error\n", 2)
	res := (&DocsUnit{Command: "make docs", Runner: runner}).Run(context.Background(), Request{})
	if !res.Failed() || res.ExitCode != 2 {
		t.Errorf("build failure = %+v", res)
	}
}

func TestKind_IsValid(t *testing.T) {
	t.Parallel()

	if ok, _ := KindDocs.IsValid(); !ok {
		t.Error("docs should be valid")
	}
	ok, errs := Kind("format").IsValid()
	if ok || !errors.Is(errs[0], ErrInvalidKind) {
		t.Errorf("IsValid(format) = %v, %v", ok, errs)
	}
}
