// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/wheelhouse-dev/wheelhouse/internal/config"
)

type staticConfig struct {
	cfg *config.Config
	err error
}

func (s staticConfig) Load(context.Context, config.LoadOptions) (*config.Config, error) {
	if s.err != nil {
		return nil, s.err
	}
	if s.cfg != nil {
		return s.cfg, nil
	}
	return config.DefaultConfig(), nil
}

type result struct {
	stdout string
	stderr string
	err    error
}

// execute runs the command tree in dir with env as the host environment.
func execute(t *testing.T, dir string, env []string, provider config.Provider, args ...string) result {
	t.Helper()
	if provider == nil {
		provider = staticConfig{}
	}
	var stdout, stderr bytes.Buffer
	app := NewApp(Dependencies{
		Config:  provider,
		Stdin:   strings.NewReader(""),
		Stdout:  &stdout,
		Stderr:  &stderr,
		Environ: func() []string { return env },
		Getwd:   func() (string, error) { return dir, nil },
	})
	root := NewRootCommand(app)
	root.SetArgs(args)
	err := root.ExecuteContext(t.Context())
	return result{stdout: stdout.String(), stderr: stderr.String(), err: err}
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return p
}

const testMatrix = `
envlist: ["py312", "lint"]
pass_env: ["CI"]
envs: {
	base: {
		abstract: true
		deps: ["pytest"]
	}
	py312: {
		description: "unit tests"
		inherit: ["base"]
		pass_env: ["TOKEN_*"]
		commands: ["wheelhouse test {posargs:-q}", "echo {envname}"]
	}
	lint: {
		install: "skip"
		policy: "best-effort"
		commands: ["wheelhouse lint"]
	}
	extra: {
		install: "skip"
		commands: ["echo {nope}"]
	}
}
`
