// SPDX-License-Identifier: MPL-2.0

package matrix

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"mvdan.cc/sh/v3/syntax"

	"github.com/wheelhouse-dev/wheelhouse/internal/runtime"
	"github.com/wheelhouse-dev/wheelhouse/pkg/matrixfile"
)

// Placeholder names understood by Substitution.
const (
	PosArgs   = "posargs"
	EnvTmpDir = "envtmpdir"
	EnvDir    = "envdir"
	DistDir   = "distdir"
	RootDir   = "rootdir"
	EnvName   = "envname"
	EnvBinDir = "envbindir"
	EnvPython = "envpython"
	// EnvLookup reads a variable of the execution context: {env:KEY} or
	// {env:KEY:default}.
	EnvLookup = "env"
)

// deferred placeholders belong to the stages and are left in place.
var deferred = map[string]bool{
	"file": true, // wheelhouse test --command
	"root": true, // wheelhouse lint --command
}

// ErrUnknownPlaceholder is the sentinel wrapped by UnknownPlaceholderError.
var ErrUnknownPlaceholder = errors.New("unknown placeholder")

type (
	// Substitution holds the values placeholders expand to.
	Substitution struct {
		// Values maps placeholder names to their expansion. Names missing
		// here are unknown.
		Values map[string]string
		// PosArgs are shell-quoted into {posargs}.
		PosArgs []string
		// Env serves {env:KEY}.
		Env map[string]string
	}

	// UnknownPlaceholderError names a placeholder that has no value.
	UnknownPlaceholderError struct {
		Env   matrixfile.EnvName
		Index int
		Name  string
	}
)

// Error implements the error interface.
func (e *UnknownPlaceholderError) Error() string {
	if e.Env == "" {
		return fmt.Sprintf("command %d: unknown placeholder {%s}", e.Index, e.Name)
	}
	return fmt.Sprintf("%s: command %d: unknown placeholder {%s}", e.Env, e.Index, e.Name)
}

// Unwrap returns ErrUnknownPlaceholder.
func (e *UnknownPlaceholderError) Unwrap() error { return ErrUnknownPlaceholder }

// envValues are the placeholders of one environment.
func envValues(m *matrixfile.Matrix, name matrixfile.EnvName, goos string) map[string]string {
	envDir := m.EnvDir(name)
	binDir := runtime.VenvBinDir(filepath.Join(envDir, "venv"), goos)
	python := "python"
	if goos == "windows" {
		python = "python.exe"
	}
	return map[string]string{
		EnvTmpDir: m.EnvTmpDir(name),
		EnvDir:    envDir,
		DistDir:   m.AbsDistDir(),
		RootDir:   m.Root,
		EnvName:   string(name),
		EnvBinDir: binDir,
		EnvPython: filepath.Join(binDir, python),
	}
}

// ForBuild is the substitution of build commands: only {distdir},
// {rootdir} and {env:KEY} are available.
func ForBuild(distDir, rootDir string, env map[string]string) Substitution {
	return Substitution{Values: map[string]string{DistDir: distDir, RootDir: rootDir}, Env: env}
}

// Apply expands every placeholder in command. "{{" and "}}" produce
// literal braces, "${...}" is shell syntax and passes through, and braces
// that do not enclose a placeholder name (brace groups, "{}", "{a,b}")
// are kept as written.
func (s Substitution) Apply(command string) (string, error) {
	var b strings.Builder
	for i := 0; i < len(command); {
		c := command[i]
		switch {
		case strings.HasPrefix(command[i:], "{{"):
			b.WriteByte('{')
			i += 2
		case strings.HasPrefix(command[i:], "}}"):
			b.WriteByte('}')
			i += 2
		case c == '$' && strings.HasPrefix(command[i+1:], "{"):
			end := matchingBrace(command, i+1)
			b.WriteString(command[i:end])
			i = end
		case c == '{':
			end := strings.IndexByte(command[i:], '}')
			if end < 0 {
				b.WriteString(command[i:])
				return b.String(), nil
			}
			body := command[i+1 : i+end]
			name, arg, hasArg := strings.Cut(body, ":")
			if !isPlaceholderName(name) || deferred[name] && !hasArg {
				b.WriteByte(c)
				i++
				continue
			}
			value, err := s.expand(name, arg, hasArg)
			if err != nil {
				return "", err
			}
			b.WriteString(value)
			i += end + 1
		default:
			b.WriteByte(c)
			i++
		}
	}
	return b.String(), nil
}

func (s Substitution) expand(name, arg string, hasArg bool) (string, error) {
	switch name {
	case PosArgs:
		if len(s.PosArgs) == 0 {
			return arg, nil
		}
		return quoteArgs(s.PosArgs)
	case EnvLookup:
		key, def, _ := strings.Cut(arg, ":")
		if key == "" {
			return "", &UnknownPlaceholderError{Name: EnvLookup}
		}
		if v, ok := s.Env[key]; ok {
			return v, nil
		}
		return def, nil
	}
	if value, ok := s.Values[name]; ok && !hasArg {
		return value, nil
	}
	return "", &UnknownPlaceholderError{Name: name}
}

// quoteArgs joins args as separate shell words.
func quoteArgs(args []string) (string, error) {
	quoted := make([]string, len(args))
	for i, a := range args {
		q, err := syntax.Quote(a, syntax.LangBash)
		if err != nil {
			return "", fmt.Errorf("quote positional argument %d: %w", i, err)
		}
		quoted[i] = q
	}
	return strings.Join(quoted, " "), nil
}

func isPlaceholderName(s string) bool {
	if s == "" || s[0] < 'a' || s[0] > 'z' {
		return false
	}
	for i := 1; i < len(s); i++ {
		c := s[i]
		if (c < 'a' || c > 'z') && c != '_' && (c < '0' || c > '9') {
			return false
		}
	}
	return true
}

// matchingBrace returns the index just past the brace closing the one at
// open, or len(s) when it is unbalanced.
func matchingBrace(s string, open int) int {
	depth := 0
	for i := open; i < len(s); i++ {
		switch s[i] {
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return i + 1
			}
		}
	}
	return len(s)
}
