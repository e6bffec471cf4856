// SPDX-License-Identifier: MPL-2.0

package matrixfile

import (
	"path/filepath"
	"slices"
	"time"
)

const (
	// DefaultBuildCommand builds the project wheel into the dist directory.
	DefaultBuildCommand = "python -m pip wheel --no-deps -w {distdir} {rootdir}"
	// DefaultTestPattern selects test files relative to the project root.
	DefaultTestPattern = "tests/**/test_*.py"
	// DefaultTestCommand runs a single test file.
	DefaultTestCommand = "python -m pytest -q {file}"
	// DefaultLintCommand checks one source root.
	DefaultLintCommand = "ruff check {root}"
	// DefaultAuditPolicy is the platform policy used when none is configured.
	DefaultAuditPolicy = "manylinux_2_28"

	DefaultTestTimeout = 300 * time.Second
	DefaultRetryDelay  = time.Second
)

type (
	// Matrix is a loaded matrix file.
	Matrix struct {
		// EnvList is the default ordered selection.
		EnvList []EnvName `json:"envlist" toml:"envlist"`
		// PassEnv is the matrix-wide forwarded variable allowlist.
		PassEnv []string `json:"pass_env" toml:"pass_env"`
		// DistDir is the artifact directory shared by the builder and auditor.
		DistDir string `json:"dist_dir" toml:"dist_dir"`
		// WorkDir holds provisioned environments and run state.
		WorkDir string `json:"work_dir" toml:"work_dir"`
		// Python is the interpreter used to create environments.
		Python string `json:"python" toml:"python"`

		Build Build `json:"build" toml:"build"`
		Test  Test  `json:"test" toml:"test"`
		Audit Audit `json:"audit" toml:"audit"`
		Lint  Lint  `json:"lint" toml:"lint"`

		Envs map[EnvName]*Environment `json:"envs" toml:"envs"`

		// Root is the directory containing the matrix file.
		Root string `json:"-" toml:"-"`
		// Path is the matrix file itself.
		Path string `json:"-" toml:"-"`

		// order keeps the declaration order of Envs.
		order []EnvName
	}

	// Environment is one named entry of the matrix, as declared.
	Environment struct {
		Description string            `json:"description,omitempty" toml:"description"`
		Deps        []string          `json:"deps" toml:"deps"`
		Inherit     []EnvName         `json:"inherit" toml:"inherit"`
		Commands    []string          `json:"commands" toml:"commands"`
		PassEnv     []string          `json:"pass_env" toml:"pass_env"`
		SetEnv      map[string]string `json:"set_env" toml:"set_env"`
		EnvFiles    []string          `json:"env_files" toml:"env_files"`
		Install     InstallMode       `json:"install" toml:"install"`
		Policy      Policy            `json:"policy" toml:"policy"`
		ChangeDir   string            `json:"change_dir,omitempty" toml:"change_dir"`
		Abstract    bool              `json:"abstract" toml:"abstract"`
	}

	// Build configures the Artifact Builder.
	Build struct {
		Commands []string `json:"commands" toml:"commands"`
		PassEnv  []string `json:"pass_env" toml:"pass_env"`
	}

	// Test configures the Test Orchestrator.
	Test struct {
		Pattern     string   `json:"pattern" toml:"pattern"`
		Command     string   `json:"command" toml:"command"`
		Workers     int      `json:"workers" toml:"workers"`
		Retries     int      `json:"retries" toml:"retries"`
		RetryDelay  Duration `json:"retry_delay" toml:"retry_delay"`
		Timeout     Duration `json:"timeout" toml:"timeout"`
		StrictXFail bool     `json:"strict_xfail" toml:"strict_xfail"`
		XFail       []XFail  `json:"xfail" toml:"xfail"`
	}

	// XFail marks tests matching Pattern as expected to fail.
	XFail struct {
		Pattern string `json:"pattern" toml:"pattern"`
		Reason  string `json:"reason,omitempty" toml:"reason"`
	}

	// Audit configures the Portability Auditor.
	Audit struct {
		Policy         string   `json:"policy" toml:"policy"`
		LibraryPath    []string `json:"library_path" toml:"library_path"`
		CleanHostImage string   `json:"clean_host_image,omitempty" toml:"clean_host_image"`
		ImportCheck    string   `json:"import_check,omitempty" toml:"import_check"`
	}

	// Lint configures the Lint/Doc Gate.
	Lint struct {
		Roots       []string `json:"roots" toml:"roots"`
		Command     string   `json:"command" toml:"command"`
		Document    string   `json:"document" toml:"document"`
		DocsCommand string   `json:"docs_command,omitempty" toml:"docs_command"`
		DocsStrict  bool     `json:"docs_strict" toml:"docs_strict"`
	}
)

// Names returns the environment names in declaration order.
func (m *Matrix) Names() []EnvName {
	if len(m.order) == len(m.Envs) {
		return slices.Clone(m.order)
	}
	names := make([]EnvName, 0, len(m.Envs))
	for name := range m.Envs {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Runnable returns the non-abstract environment names in declaration order.
func (m *Matrix) Runnable() []EnvName {
	var names []EnvName
	for _, name := range m.Names() {
		if !m.Envs[name].Abstract {
			names = append(names, name)
		}
	}
	return names
}

// InDefaultSet reports whether name is part of the envlist.
func (m *Matrix) InDefaultSet(name EnvName) bool {
	return slices.Contains(m.EnvList, name)
}

// AbsDistDir returns DistDir resolved against Root.
func (m *Matrix) AbsDistDir() string { return m.abs(m.DistDir) }

// AbsWorkDir returns WorkDir resolved against Root.
func (m *Matrix) AbsWorkDir() string { return m.abs(m.WorkDir) }

// EnvDir returns the per-environment state directory.
func (m *Matrix) EnvDir(name EnvName) string {
	return filepath.Join(m.AbsWorkDir(), string(name))
}

// EnvTmpDir returns the per-run isolated working directory of an environment.
func (m *Matrix) EnvTmpDir(name EnvName) string {
	return filepath.Join(m.EnvDir(name), "tmp")
}

func (m *Matrix) abs(p string) string {
	if filepath.IsAbs(p) {
		return filepath.Clean(p)
	}
	return filepath.Join(m.Root, p)
}

// Default returns a Matrix holding the schema defaults. The TOML loader
// decodes on top of it; the CUE loader gets the same values from the schema.
func Default() *Matrix {
	return &Matrix{
		DistDir: "dist",
		WorkDir: ".wheelhouse",
		Python:  "python3",
		Build: Build{
			Commands: []string{DefaultBuildCommand},
		},
		Test: Test{
			Pattern:     DefaultTestPattern,
			Command:     DefaultTestCommand,
			RetryDelay:  Duration(DefaultRetryDelay),
			Timeout:     Duration(DefaultTestTimeout),
			StrictXFail: true,
		},
		Audit: Audit{Policy: DefaultAuditPolicy},
		Lint: Lint{
			Roots:    []string{"src", "tests"},
			Command:  DefaultLintCommand,
			Document: "README.md",
		},
		Envs: map[EnvName]*Environment{},
	}
}

// normalize fills per-environment defaults that TOML cannot express.
func (m *Matrix) normalize() {
	if m.Envs == nil {
		m.Envs = map[EnvName]*Environment{}
	}
	for name, env := range m.Envs {
		if env == nil {
			env = &Environment{}
			m.Envs[name] = env
		}
		if env.Install == "" {
			env.Install = InstallPackage
		}
		if env.Policy == "" {
			env.Policy = PolicyRequired
		}
		if env.SetEnv == nil {
			env.SetEnv = map[string]string{}
		}
	}
}
