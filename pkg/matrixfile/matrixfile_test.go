// SPDX-License-Identifier: MPL-2.0

package matrixfile

import (
	"errors"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/wheelhouse-dev/wheelhouse/internal/dag"
)

const sampleCUE = `
envlist: ["py3", "auditwheels"]
pass_env: ["CI", "SCCACHE_*"]
envs: {
	base: {
		abstract: true
		deps: ["pytest", "pytest-timeout"]
		set_env: {PYTHONDONTWRITEBYTECODE: "1"}
	}
	py3: {
		inherit: ["base"]
		deps: ["pytest-rerunfailures", "pytest"]
		commands: ["wheelhouse test {posargs}"]
		install: "develop"
	}
	auditwheels: {
		inherit: ["base"]
		deps: ["auditwheel"]
		pass_env: ["CARGO_BUILD_TARGET"]
		commands: ["wheelhouse audit {distdir}"]
		set_env: {PYTHONDONTWRITEBYTECODE: "0"}
	}
	lint: {
		deps: ["ruff"]
		commands: ["wheelhouse lint"]
		policy: "best-effort"
		install: "skip"
	}
}
`

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return p
}

func TestLoad_CUE(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	m, err := Load(writeFile(t, dir, CUEFileName, sampleCUE))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if m.Root != dir {
		t.Errorf("Root = %q, want %q", m.Root, dir)
	}
	if got := m.AbsDistDir(); got != filepath.Join(dir, "dist") {
		t.Errorf("AbsDistDir() = %q", got)
	}
	if m.Test.Timeout.Std() != DefaultTestTimeout || m.Test.RetryDelay.Std() != time.Second {
		t.Errorf("test durations = %v/%v, want schema defaults", m.Test.Timeout, m.Test.RetryDelay)
	}
	if !m.Test.StrictXFail {
		t.Error("StrictXFail default should be true")
	}
	want := []EnvName{"base", "py3", "auditwheels", "lint"}
	if got := m.Names(); !slices.Equal(got, want) {
		t.Errorf("Names() = %v, want %v", got, want)
	}
	if got := m.Runnable(); !slices.Equal(got, want[1:]) {
		t.Errorf("Runnable() = %v, want %v", got, want[1:])
	}
	if m.Envs["py3"].Policy != PolicyRequired || m.Envs["auditwheels"].Install != InstallPackage {
		t.Errorf("env defaults not applied: %+v", m.Envs["auditwheels"])
	}
	if m.Envs["lint"].Policy != PolicyBestEffort {
		t.Errorf("lint policy = %q", m.Envs["lint"].Policy)
	}
}

func TestLoad_SchemaErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		content string
		wantSub string
	}{
		{"bad policy", `envs: a: policy: "sometimes"`, "policy"},
		{"bad env name", `envs: "-x": {}`, "-x"},
		{"unknown field", `envs: a: colour: "red"`, "colour"},
		{"negative retries", `test: retries: -1`, "retries"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			_, err := Load(writeFile(t, t.TempDir(), CUEFileName, tt.content))
			if err == nil {
				t.Fatal("Load() expected error")
			}
			if !strings.Contains(err.Error(), tt.wantSub) {
				t.Errorf("error %q does not mention %q", err, tt.wantSub)
			}
		})
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		content string
		wantSub []string
	}{
		{
			name:    "unknown inherit target",
			content: `envs: a: inherit: ["ghost"]`,
			wantSub: []string{`envs.a.inherit[0]`, `unknown environment "ghost"`},
		},
		{
			name:    "self inherit",
			content: `envs: a: inherit: ["a"]`,
			wantSub: []string{"cannot inherit from itself"},
		},
		{
			name: "inheritance cycle",
			content: `envs: {
				a: inherit: ["b"]
				b: inherit: ["a"]
			}`,
			wantSub: []string{"dependency cycle detected"},
		},
		{
			name: "envlist names abstract env",
			content: `envlist: ["base"]
			envs: base: abstract: true`,
			wantSub: []string{"abstract"},
		},
		{
			name:    "envlist names unknown env",
			content: `envlist: ["nope"]`,
			wantSub: []string{`unknown environment "nope"`},
		},
		{
			name:    "invalid pass_env pattern",
			content: `pass_env: ["CI["]`,
			wantSub: []string{"invalid pattern"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			_, err := Load(writeFile(t, t.TempDir(), CUEFileName, tt.content))
			var verrs ValidationErrors
			if !errors.As(err, &verrs) {
				t.Fatalf("Load() error = %v, want ValidationErrors", err)
			}
			for _, sub := range tt.wantSub {
				if !strings.Contains(err.Error(), sub) {
					t.Errorf("error %q does not mention %q", err, sub)
				}
			}
		})
	}
}

func TestResolveDeps(t *testing.T) {
	t.Parallel()

	m, err := Parse([]byte(sampleCUE), "wheelhouse.cue")
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	deps, err := m.ResolveDeps("py3")
	if err != nil {
		t.Fatalf("ResolveDeps() error = %v", err)
	}
	want := []string{"pytest", "pytest-timeout", "pytest-rerunfailures"}
	if !slices.Equal(deps, want) {
		t.Errorf("ResolveDeps(py3) = %v, want %v", deps, want)
	}

	// Adding a dependency to the shared base reaches every inheriting env once.
	m.Envs["base"].Deps = append(m.Envs["base"].Deps, "hypothesis", "pytest")
	for _, name := range []EnvName{"py3", "auditwheels"} {
		deps, err := m.ResolveDeps(name)
		if err != nil {
			t.Fatalf("ResolveDeps(%s) error = %v", name, err)
		}
		count := 0
		for _, d := range deps {
			if d == "hypothesis" {
				count++
			}
		}
		if count != 1 {
			t.Errorf("ResolveDeps(%s) = %v, want hypothesis exactly once", name, deps)
		}
		if slices.Index(deps, "hypothesis") < slices.Index(deps, "pytest-timeout") {
			t.Errorf("ResolveDeps(%s) = %v, inherited deps should keep base order", name, deps)
		}
	}
}

func TestResolveDeps_DiamondAndCycle(t *testing.T) {
	t.Parallel()

	m := Default()
	m.Envs = map[EnvName]*Environment{
		"core":  {Deps: []string{"cffi"}},
		"left":  {Inherit: []EnvName{"core"}, Deps: []string{"pytest"}},
		"right": {Inherit: []EnvName{"core"}, Deps: []string{"cffi", "mypy"}},
		"top":   {Inherit: []EnvName{"left", "right"}, Deps: []string{"tox"}},
	}
	m.normalize()

	deps, err := m.ResolveDeps("top")
	if err != nil {
		t.Fatalf("ResolveDeps() error = %v", err)
	}
	if want := []string{"cffi", "pytest", "mypy", "tox"}; !slices.Equal(deps, want) {
		t.Errorf("ResolveDeps(top) = %v, want %v", deps, want)
	}

	m.Envs["core"].Inherit = []EnvName{"top"}
	_, err = m.ResolveDeps("left")
	var cycleErr *dag.CycleError
	if !errors.As(err, &cycleErr) {
		t.Fatalf("ResolveDeps() error = %v, want *dag.CycleError", err)
	}
	if cycleErr.Cycle[0] != cycleErr.Cycle[len(cycleErr.Cycle)-1] {
		t.Errorf("cycle path %v is not closed", cycleErr.Cycle)
	}
}

func TestResolve(t *testing.T) {
	t.Parallel()

	m, err := Parse([]byte(sampleCUE), "wheelhouse.cue")
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	r, err := m.Resolve("auditwheels")
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if got := r.SetEnv["PYTHONDONTWRITEBYTECODE"]; got != "0" {
		t.Errorf("child set_env should override base, got %q", got)
	}
	if want := (Allowlist{"CI", "SCCACHE_*", "CARGO_BUILD_TARGET"}); !slices.Equal(r.PassEnv, want) {
		t.Errorf("PassEnv = %v, want %v", r.PassEnv, want)
	}
	if !slices.Equal(r.Commands, []string{"wheelhouse audit {distdir}"}) {
		t.Errorf("Commands = %v; commands must not be inherited", r.Commands)
	}

	_, err = m.Resolve("missing")
	if !errors.Is(err, ErrUnknownEnv) {
		t.Errorf("Resolve(missing) error = %v, want ErrUnknownEnv", err)
	}
}

func TestSelect(t *testing.T) {
	t.Parallel()

	m, err := Parse([]byte(sampleCUE), "wheelhouse.cue")
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	tests := []struct {
		name    string
		input   []string
		want    []EnvName
		wantErr error
	}{
		{"default envlist", nil, []EnvName{"py3", "auditwheels"}, nil},
		{"comma separated", []string{"lint,py3"}, []EnvName{"lint", "py3"}, nil},
		{"duplicates dropped", []string{"py3", "py3,lint"}, []EnvName{"py3", "lint"}, nil},
		{"all", []string{"ALL"}, []EnvName{"py3", "auditwheels", "lint"}, nil},
		{"unknown", []string{"py3,nope"}, nil, ErrUnknownEnv},
		{"abstract", []string{"base"}, nil, ErrAbstractEnv},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got, err := m.Select(tt.input)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("Select() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Select() error = %v", err)
			}
			if !slices.Equal(got, tt.want) {
				t.Errorf("Select() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestAllowlist(t *testing.T) {
	t.Parallel()

	a := Allowlist{"CI", "SCCACHE_*", "CARGO_BUILD_TARGET"}
	host := map[string]string{
		"CI":                 "true",
		"SCCACHE_DIR":        "/cache",
		"SCCACHE_CACHE_SIZE": "2G",
		"HOME":               "/root",
		"AWS_SECRET":         "hunter2",
		"CIRCLECI":           "1",
	}

	got := a.Keys(host)
	want := []string{"CI", "SCCACHE_CACHE_SIZE", "SCCACHE_DIR"}
	if !slices.Equal(got, want) {
		t.Errorf("Keys() = %v, want %v", got, want)
	}
	if a.Allows("HOME") {
		t.Error("HOME must not be forwarded")
	}
}

func TestParsePyproject(t *testing.T) {
	t.Parallel()

	const pyproject = `
[project]
name = "deltachat"

[tool.wheelhouse]
envlist = ["py3"]
pass_env = ["CI"]

[tool.wheelhouse.test]
retries = 2
retry_delay = "250ms"
xfail = [{ pattern = "tests/test_flaky.py", reason = "upstream" }]

[tool.wheelhouse.envs.zeta]
commands = ["true"]
policy = "best-effort"

[tool.wheelhouse.envs.py3]
deps = ["pytest"]
commands = ["wheelhouse test"]
`
	dir := t.TempDir()
	path := writeFile(t, dir, PyprojectFileName, pyproject)

	found, err := Find(dir)
	if err != nil || found != path {
		t.Fatalf("Find() = %q, %v; want %q", found, err, path)
	}

	m, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if m.Test.Retries != 2 || m.Test.RetryDelay.Std() != 250*time.Millisecond {
		t.Errorf("test config = %+v", m.Test)
	}
	if m.Test.Command != DefaultTestCommand || !m.Test.StrictXFail {
		t.Errorf("defaults not applied: %+v", m.Test)
	}
	if got := m.Names(); !slices.Equal(got, []EnvName{"zeta", "py3"}) {
		t.Errorf("Names() = %v, want declaration order", got)
	}
	if m.Envs["py3"].Policy != PolicyRequired || m.Envs["zeta"].Policy != PolicyBestEffort {
		t.Errorf("policies = %q/%q", m.Envs["py3"].Policy, m.Envs["zeta"].Policy)
	}
	if !slices.Equal(m.Lint.Roots, []string{"src", "tests"}) {
		t.Errorf("Lint.Roots = %v", m.Lint.Roots)
	}
}

func TestFind(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeFile(t, dir, PyprojectFileName, "[project]\nname = \"x\"\n")
	if _, err := Find(dir); !errors.Is(err, ErrMatrixNotFound) {
		t.Fatalf("Find() error = %v, want ErrMatrixNotFound", err)
	}

	cuePath := writeFile(t, dir, CUEFileName, "envs: {}")
	if got, err := Find(dir); err != nil || got != cuePath {
		t.Fatalf("Find() = %q, %v; want %q", got, err, cuePath)
	}
}

func TestDuration(t *testing.T) {
	t.Parallel()

	var d Duration
	if err := d.UnmarshalText([]byte("-1s")); !errors.Is(err, ErrInvalidDuration) {
		t.Errorf("negative duration error = %v", err)
	}
	if err := d.UnmarshalText([]byte("soon")); !errors.Is(err, ErrInvalidDuration) {
		t.Errorf("garbage duration error = %v", err)
	}
	if err := d.UnmarshalText([]byte("90s")); err != nil || d.Std() != 90*time.Second {
		t.Errorf("UnmarshalText(90s) = %v, %v", d, err)
	}
	text, _ := d.MarshalText()
	if string(text) != "1m30s" {
		t.Errorf("MarshalText() = %q", text)
	}
}
