// SPDX-License-Identifier: MPL-2.0

package matrix

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/wheelhouse-dev/wheelhouse/internal/gate"
	"github.com/wheelhouse-dev/wheelhouse/internal/provision"
	"github.com/wheelhouse-dev/wheelhouse/internal/runtime"
	"github.com/wheelhouse-dev/wheelhouse/internal/testrun"
	"github.com/wheelhouse-dev/wheelhouse/pkg/matrixfile"
)

const coreWheel = "core-1.0-cp312-cp312-linux_x86_64.whl"

type (
	// fakeRunner treats "exit N" as a command exiting N and everything
	// else as success. hook runs before the command is judged.
	fakeRunner struct {
		mu    sync.Mutex
		calls []runtime.Command
		hook  func(ctx context.Context, c runtime.Command)
	}

	fakeProvisioner struct {
		mu       sync.Mutex
		requests []provision.Request
		fail     map[string]error
	}

	fakeBuilder struct {
		mu       sync.Mutex
		requests []provision.BuildRequest
		err      error
	}
)

func (r *fakeRunner) Run(ctx context.Context, c runtime.Command) *runtime.Result {
	r.mu.Lock()
	r.calls = append(r.calls, c)
	hook := r.hook
	r.mu.Unlock()

	if hook != nil {
		hook(ctx, c)
	}
	if err := ctx.Err(); err != nil {
		return &runtime.Result{ExitCode: 1, Error: err}
	}
	if code, ok := strings.CutPrefix(c.Script, "exit "); ok {
		n, _ := strconv.Atoi(code)
		return &runtime.Result{ExitCode: runtime.ExitCode(n)}
	}
	return &runtime.Result{}
}

func (r *fakeRunner) scripts() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.calls))
	for i, c := range r.calls {
		out[i] = c.Script
	}
	return out
}

func (r *fakeRunner) envOf(name string) map[string]string {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.calls {
		if strings.HasPrefix(c.Name, name+"[") {
			return c.Env
		}
	}
	return nil
}

func (p *fakeProvisioner) Provision(_ context.Context, req provision.Request) (*provision.Result, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.requests = append(p.requests, req)
	if err := p.fail[req.Name]; err != nil {
		return nil, err
	}
	venv := filepath.Join(req.Dir, "venv")
	return &provision.Result{VirtualEnv: venv, BinDir: runtime.VenvBinDir(venv, "linux")}, nil
}

func (p *fakeProvisioner) request(name string) (provision.Request, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, r := range p.requests {
		if r.Name == name {
			return r, true
		}
	}
	return provision.Request{}, false
}

func (b *fakeBuilder) Build(_ context.Context, req provision.BuildRequest) ([]provision.Artifact, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.requests = append(b.requests, req)
	if b.err != nil {
		return nil, b.err
	}
	if err := os.MkdirAll(req.DistDir, 0o755); err != nil {
		return nil, err
	}
	if err := os.WriteFile(filepath.Join(req.DistDir, coreWheel), []byte("wheel"), 0o644); err != nil {
		return nil, err
	}
	return provision.ScanArtifacts(req.DistDir)
}

func (b *fakeBuilder) calls() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.requests)
}

func testMatrix(t *testing.T, cue string) *matrixfile.Matrix {
	t.Helper()
	dir := t.TempDir()
	p := filepath.Join(dir, "wheelhouse.cue")
	if err := os.WriteFile(p, []byte(cue), 0o644); err != nil {
		t.Fatalf("write matrix: %v", err)
	}
	m, err := matrixfile.Load(p)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	return m
}

type harness struct {
	matrix  *matrixfile.Matrix
	runner  *fakeRunner
	prov    *fakeProvisioner
	builder *fakeBuilder
	ctrl    *Controller
}

func newHarness(t *testing.T, cue string, host map[string]string, opts ...Option) *harness {
	t.Helper()
	h := &harness{
		matrix:  testMatrix(t, cue),
		runner:  &fakeRunner{},
		prov:    &fakeProvisioner{},
		builder: &fakeBuilder{},
	}
	if host == nil {
		host = map[string]string{"PATH": "/usr/bin"}
	}
	opts = append([]Option{WithBuilder(h.builder)}, opts...)
	h.ctrl = New(h.matrix, host, h.runner, h.prov, opts...)
	return h
}

func names(ns ...string) []matrixfile.EnvName {
	out := make([]matrixfile.EnvName, len(ns))
	for i, n := range ns {
		out[i] = matrixfile.EnvName(n)
	}
	return out
}

const twoEnvs = `
envs: {
	a: {install: "skip", commands: ["echo one", "exit 3", "echo never"]}
	b: {install: "skip", commands: ["echo b"]}
}
`

func TestRun_RequiredFailureStopsRun(t *testing.T) {
	t.Parallel()

	h := newHarness(t, twoEnvs, nil)
	summary, err := h.ctrl.Run(t.Context(), names("a", "b"), nil)
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}

	if got := h.runner.scripts(); !slices.Equal(got, []string{"echo one", "exit 3"}) {
		t.Errorf("commands run = %q", got)
	}
	a, b := summary.Envs[0], summary.Envs[1]
	if a.Status != StatusFailed || a.FailedCommand == nil || *a.FailedCommand != 1 || a.ExitCode != 3 {
		t.Errorf("env a = %+v", a)
	}
	if b.Status != StatusSkipped {
		t.Errorf("env b status = %s, want skipped", b.Status)
	}
	if summary.ExitCode != 3 || !summary.Failed() {
		t.Errorf("ExitCode = %d, want 3", summary.ExitCode)
	}

	stored, err := ReadSummary(SummaryPath(h.matrix))
	if err != nil {
		t.Fatalf("ReadSummary() error: %v", err)
	}
	if stored.RunID != summary.RunID || stored.RunID == "" {
		t.Errorf("stored run id = %q, want %q", stored.RunID, summary.RunID)
	}
	if len(stored.Envs) != 2 || stored.Envs[0].Commands[1].ExitCode != 3 {
		t.Errorf("stored envs = %+v", stored.Envs)
	}
}

func TestRun_KeepGoing(t *testing.T) {
	t.Parallel()

	h := newHarness(t, twoEnvs, nil, WithKeepGoing(true))
	summary, err := h.ctrl.Run(t.Context(), names("a", "b"), nil)
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if summary.Envs[1].Status != StatusPassed {
		t.Errorf("env b status = %s, want passed", summary.Envs[1].Status)
	}
	if summary.ExitCode != 3 {
		t.Errorf("ExitCode = %d, want 3: keep-going still fails the run", summary.ExitCode)
	}
}

func TestRun_BestEffortRunsEverything(t *testing.T) {
	t.Parallel()

	h := newHarness(t, `
envs: lint: {install: "skip", policy: "best-effort", commands: ["exit 1", "exit 2", "echo last"]}
`, nil)
	summary, err := h.ctrl.Run(t.Context(), names("lint"), nil)
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if got := len(h.runner.scripts()); got != 3 {
		t.Errorf("ran %d commands, want 3", got)
	}
	env := summary.Envs[0]
	if env.Status != StatusWarned || *env.FailedCommand != 0 || env.ExitCode != 1 {
		t.Errorf("env = %+v", env)
	}
	if summary.ExitCode != 0 || summary.Count(StatusWarned) != 1 {
		t.Errorf("summary exit = %d, warned = %d", summary.ExitCode, summary.Count(StatusWarned))
	}
}

func TestRun_FirstFailingRequiredExitCode(t *testing.T) {
	t.Parallel()

	h := newHarness(t, `
envs: {
	a: {install: "skip", policy: "best-effort", commands: ["exit 9"]}
	b: {install: "skip", commands: ["exit 300"]}
	c: {install: "skip", commands: ["exit 4"]}
}
`, nil, WithKeepGoing(true))
	summary, err := h.ctrl.Run(t.Context(), names("a", "b", "c"), nil)
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if summary.ExitCode != 255 {
		t.Errorf("ExitCode = %d, want 255 (b's status clamped)", summary.ExitCode)
	}
}

func TestRun_ExecutionContextIsolation(t *testing.T) {
	t.Parallel()

	host := map[string]string{
		"PATH":        "/usr/bin",
		"CI":          "1",
		"SECRET":      "hunter2",
		"SCCACHE_DIR": "/cache",
		"HOME":        "/home/dev",
	}
	h := newHarness(t, `
pass_env: ["CI"]
envs: {
	a: {install: "skip", pass_env: ["SCCACHE_*"], set_env: {ONLY_A: "yes"}, commands: ["echo a"]}
	b: {install: "skip", commands: ["echo b"]}
}
`, host)
	if _, err := h.ctrl.Run(t.Context(), names("a", "b"), nil); err != nil {
		t.Fatalf("Run() error: %v", err)
	}

	a := h.runner.envOf("a")
	bin := filepath.Join(h.matrix.EnvDir("a"), "venv", "bin")
	checks := map[string]string{
		"CI":                  "1",
		"SCCACHE_DIR":         "/cache",
		"ONLY_A":              "yes",
		"PATH":                bin + string(os.PathListSeparator) + "/usr/bin",
		runtime.EnvVirtualEnv: filepath.Join(h.matrix.EnvDir("a"), "venv"),
		runtime.EnvName:       "a",
		runtime.EnvTmpDir:     h.matrix.EnvTmpDir("a"),
		runtime.EnvDistDir:    h.matrix.AbsDistDir(),
	}
	for k, want := range checks {
		if a[k] != want {
			t.Errorf("env a %s = %q, want %q", k, a[k], want)
		}
	}
	for _, k := range []string{"SECRET", "HOME"} {
		if _, ok := a[k]; ok {
			t.Errorf("env a sees non-allowlisted %s", k)
		}
	}

	b := h.runner.envOf("b")
	for _, k := range []string{"ONLY_A", "SCCACHE_DIR"} {
		if _, ok := b[k]; ok {
			t.Errorf("env b sees env a's %s", k)
		}
	}
	if b["CI"] != "1" {
		t.Errorf("env b CI = %q, want matrix-wide forward", b["CI"])
	}
}

func TestRun_EnvPlaceholderReadsBuiltContext(t *testing.T) {
	t.Parallel()

	h := newHarness(t, `
envs: {
	a: {
		install: "skip"
		env_files: ["vars.env"]
		set_env: {MODE: "fast"}
		commands: ["echo {env:FROM_FILE:unset} {env:MODE} {env:WHEELHOUSE_ENV_NAME:none}"]
	}
}
`, nil)
	if err := os.WriteFile(filepath.Join(h.matrix.Root, "vars.env"), []byte("FROM_FILE=dotenv\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	plan, err := h.ctrl.Plan(names("a"), nil)
	if err != nil {
		t.Fatalf("Plan() error: %v", err)
	}
	if want := []string{"echo unset fast none"}; !slices.Equal(plan.Envs[0].Commands, want) {
		t.Errorf("plan commands = %q, want %q", plan.Envs[0].Commands, want)
	}

	if _, err := h.ctrl.Run(t.Context(), names("a"), nil); err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if want := []string{"echo dotenv fast a"}; !slices.Equal(h.runner.scripts(), want) {
		t.Errorf("ran %q, want %q", h.runner.scripts(), want)
	}
}

func TestRun_EmptiesEnvTmpDir(t *testing.T) {
	t.Parallel()

	h := newHarness(t, `envs: a: {install: "skip", commands: ["echo"]}`, nil)
	stale := filepath.Join(h.matrix.EnvTmpDir("a"), "stale.txt")
	if err := os.MkdirAll(filepath.Dir(stale), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(stale, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	if _, err := h.ctrl.Run(t.Context(), names("a"), nil); err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if _, err := os.Stat(stale); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("stale file survived: %v", err)
	}
	if info, err := os.Stat(h.matrix.EnvTmpDir("a")); err != nil || !info.IsDir() {
		t.Errorf("tmp dir missing after run: %v", err)
	}
}

func TestRun_BuildsOnceBeforeFirstPackageEnv(t *testing.T) {
	t.Parallel()

	host := map[string]string{"PATH": "/usr/bin", "CARGO_BUILD_TARGET": "x86_64-unknown-linux-gnu", "SECRET": "s"}
	h := newHarness(t, `
build: pass_env: ["CARGO_*"]
envs: {
	lint: {install: "skip", commands: ["echo lint"]}
	one:  {commands: ["echo one"]}
	two:  {commands: ["echo two"]}
}
`, host)
	summary, err := h.ctrl.Run(t.Context(), names("lint", "one", "two"), nil)
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if h.builder.calls() != 1 {
		t.Fatalf("builder ran %d times, want 1", h.builder.calls())
	}

	req := h.builder.requests[0]
	if req.Env["CARGO_BUILD_TARGET"] == "" {
		t.Error("build did not receive allowlisted CARGO_BUILD_TARGET")
	}
	if _, ok := req.Env["SECRET"]; ok {
		t.Error("build received SECRET")
	}
	if want := "python -m pip wheel --no-deps -w " + h.matrix.AbsDistDir() + " " + h.matrix.Root; !slices.Equal(req.Commands, []string{want}) {
		t.Errorf("build commands = %q, want %q", req.Commands, want)
	}

	lint, _ := h.prov.request("lint")
	if len(lint.Wheels) != 0 {
		t.Errorf("skip env got wheels %q", lint.Wheels)
	}
	for _, name := range []string{"one", "two"} {
		r, ok := h.prov.request(name)
		if !ok || len(r.Wheels) != 1 || filepath.Base(r.Wheels[0]) != coreWheel {
			t.Errorf("%s wheels = %q", name, r.Wheels)
		}
	}
	if summary.Build == nil || len(summary.Build.Artifacts) != 1 {
		t.Errorf("summary build = %+v", summary.Build)
	}
}

func TestRun_PackageEnvSeesRepairedWheel(t *testing.T) {
	t.Parallel()

	h := newHarness(t, `
envs: {
	audit: {commands: ["repair"]}
	smoke: {commands: ["echo smoke"]}
}
`, nil)
	repaired := "core-1.0-cp312-cp312-manylinux_2_28_x86_64.whl"
	h.runner.hook = func(_ context.Context, c runtime.Command) {
		if c.Script != "repair" {
			return
		}
		dist := h.matrix.AbsDistDir()
		if err := os.Rename(filepath.Join(dist, coreWheel), filepath.Join(dist, repaired)); err != nil {
			t.Errorf("rename: %v", err)
		}
		if err := os.WriteFile(filepath.Join(dist, "other-2.0-py3-none-any.whl"), []byte("x"), 0o644); err != nil {
			t.Errorf("write: %v", err)
		}
	}

	if _, err := h.ctrl.Run(t.Context(), names("audit", "smoke"), nil); err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	r, _ := h.prov.request("smoke")
	if len(r.Wheels) != 1 || filepath.Base(r.Wheels[0]) != repaired {
		t.Errorf("smoke wheels = %q, want only %s", r.Wheels, repaired)
	}
}

func TestRun_BuildFailureFailsPackageEnvs(t *testing.T) {
	t.Parallel()

	h := newHarness(t, `envs: {a: {commands: ["echo a"]}, b: {commands: ["echo b"]}}`, nil, WithKeepGoing(true))
	h.builder.err = &provision.BuildError{Index: 0, Command: "maturin build", ExitCode: 2}

	summary, err := h.ctrl.Run(t.Context(), names("a", "b"), nil)
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if h.builder.calls() != 1 {
		t.Errorf("builder ran %d times, want 1", h.builder.calls())
	}
	for _, env := range summary.Envs {
		if env.Status != StatusFailed || env.Step != "build" || env.ExitCode != 2 {
			t.Errorf("env %s = %+v", env.Name, env)
		}
	}
	if len(h.prov.requests) != 0 || len(h.runner.scripts()) != 0 {
		t.Error("package envs provisioned or ran after a failed build")
	}
	if summary.Build.Error == "" {
		t.Error("summary build error not recorded")
	}
}

func TestRun_ProvisionFailure(t *testing.T) {
	t.Parallel()

	h := newHarness(t, twoEnvs, nil)
	h.prov.fail = map[string]error{"a": &provision.StepError{Env: "a", Step: "pip install", ExitCode: 7}}

	summary, err := h.ctrl.Run(t.Context(), names("a", "b"), nil)
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	a := summary.Envs[0]
	if a.Status != StatusFailed || a.Step != "provision" || a.ExitCode != 7 {
		t.Errorf("env a = %+v", a)
	}
	if len(h.runner.scripts()) != 0 {
		t.Error("commands ran after provisioning failed")
	}
	if summary.ExitCode != 7 {
		t.Errorf("ExitCode = %d, want 7", summary.ExitCode)
	}
}

func TestRun_UnknownPlaceholderRunsNothing(t *testing.T) {
	t.Parallel()

	h := newHarness(t, `
envs: {
	a: {install: "skip", commands: ["echo ok"]}
	b: {install: "skip", commands: ["echo ok", "echo {nope}"]}
}
`, nil)
	_, err := h.ctrl.Run(t.Context(), names("a", "b"), nil)

	var pe *UnknownPlaceholderError
	if !errors.As(err, &pe) {
		t.Fatalf("Run() error = %v, want UnknownPlaceholderError", err)
	}
	if pe.Env != "b" || pe.Index != 1 || pe.Name != "nope" {
		t.Errorf("placeholder error = %+v", pe)
	}
	if len(h.runner.scripts()) != 0 || len(h.prov.requests) != 0 {
		t.Error("work started despite an invalid plan")
	}
}

func TestPlan(t *testing.T) {
	t.Parallel()

	host := map[string]string{"PATH": "/usr/bin", "CI": "1", "TOKEN": "t"}
	h := newHarness(t, `
pass_env: ["CI"]
envs: {
	base: {abstract: true, deps: ["pytest"]}
	py3: {
		inherit: ["base"]
		deps: ["hypothesis"]
		set_env: {MODE: "fast"}
		change_dir: "tests"
		commands: ["pytest {posargs:-q} --basetemp {envtmpdir}"]
	}
}
`, host)

	plan, err := h.ctrl.Plan(names("py3"), []string{"-k", "a b"})
	if err != nil {
		t.Fatalf("Plan() error: %v", err)
	}
	env := plan.Envs[0]
	if !slices.Equal(env.Deps, []string{"pytest", "hypothesis"}) {
		t.Errorf("deps = %q", env.Deps)
	}
	want := "pytest -k 'a b' --basetemp " + h.matrix.EnvTmpDir("py3")
	if !slices.Equal(env.Commands, []string{want}) {
		t.Errorf("commands = %q, want %q", env.Commands, want)
	}
	if !slices.Equal(env.Forwarded, []string{"CI"}) {
		t.Errorf("forwarded = %q", env.Forwarded)
	}
	if !slices.Equal(env.SetEnv, []string{"MODE"}) {
		t.Errorf("set_env keys = %q", env.SetEnv)
	}
	if env.WorkDir != filepath.Join(h.matrix.Root, "tests") {
		t.Errorf("work dir = %q", env.WorkDir)
	}
	if len(plan.Build) != 1 {
		t.Errorf("plan build = %q, want the default build command", plan.Build)
	}
	if _, err := os.Stat(h.matrix.AbsWorkDir()); !errors.Is(err, os.ErrNotExist) {
		t.Error("Plan touched the work directory")
	}
}

func TestRun_LockedWorkDir(t *testing.T) {
	t.Parallel()

	h := newHarness(t, twoEnvs, nil)
	lock, err := runtime.AcquireDirLock(h.matrix.AbsWorkDir())
	if err != nil {
		t.Fatalf("AcquireDirLock() error: %v", err)
	}
	defer lock.Release()

	if _, err := h.ctrl.Run(t.Context(), names("a"), nil); !errors.Is(err, runtime.ErrDirLocked) {
		t.Errorf("Run() error = %v, want ErrDirLocked", err)
	}
}

func TestRun_RecordsStageReports(t *testing.T) {
	t.Parallel()

	h := newHarness(t, `envs: a: {install: "skip", commands: ["wheelhouse test", "wheelhouse lint"]}`, nil)
	h.runner.hook = func(_ context.Context, c runtime.Command) {
		switch c.Script {
		case "wheelhouse test":
			h.ctrl.RecordTest("/tmp/report.json", &testrun.Report{Summary: testrun.Summary{Total: 2, Passed: 2}})
		case "wheelhouse lint":
			h.ctrl.RecordGate(&gate.Report{Units: []gate.UnitResult{{Name: "style src", Status: gate.StatusPassed}}})
		}
	}
	h.ctrl.RecordGate(&gate.Report{}) // outside any environment: dropped

	summary, err := h.ctrl.Run(t.Context(), names("a"), nil)
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	env := summary.Envs[0]
	if len(env.Tests) != 1 || env.Tests[0].Summary.Passed != 2 || env.Tests[0].Failed {
		t.Errorf("tests = %+v", env.Tests)
	}
	if len(env.Gates) != 1 || env.Gates[0].Units[0].Name != "style src" {
		t.Errorf("gates = %+v", env.Gates)
	}
}

func TestRun_Cancellation(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(t.Context())
	defer cancel()

	h := newHarness(t, twoEnvs, nil)
	h.runner.hook = func(context.Context, runtime.Command) { cancel() }

	summary, err := h.ctrl.Run(ctx, names("a", "b"), nil)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Run() error = %v, want context.Canceled", err)
	}
	if !summary.Canceled || summary.Envs[1].Status != StatusSkipped {
		t.Errorf("summary = %+v", summary)
	}
	if got := h.runner.scripts(); len(got) != 1 {
		t.Errorf("commands run after cancel: %q", got)
	}
	if summary.ExitCode == 0 {
		t.Error("canceled run reported success")
	}
}

func TestEnvStatus_IsValid(t *testing.T) {
	t.Parallel()

	for _, s := range []EnvStatus{StatusPassed, StatusFailed, StatusWarned, StatusSkipped} {
		if ok, errs := s.IsValid(); !ok {
			t.Errorf("%s.IsValid() = %v", s, errs)
		}
	}
	if ok, errs := EnvStatus("exploded").IsValid(); ok || !errors.Is(errs[0], ErrInvalidEnvStatus) {
		t.Errorf("IsValid(exploded) = %v, %v", ok, errs)
	}
}
