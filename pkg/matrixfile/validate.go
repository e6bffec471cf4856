// SPDX-License-Identifier: MPL-2.0

package matrixfile

import (
	"errors"
	"fmt"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/wheelhouse-dev/wheelhouse/internal/dag"
)

type (
	// ValidationError is a single semantic problem in a matrix file.
	ValidationError struct {
		// Field locates the problem (e.g. "envs.py3.inherit[0]").
		Field   string
		Message string
	}

	// ValidationErrors collects every problem found in one validation pass.
	ValidationErrors []ValidationError
)

func (e ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (v ValidationErrors) Error() string {
	if len(v) == 1 {
		return v[0].Error()
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "matrix validation failed with %d errors:", len(v))
	for _, e := range v {
		sb.WriteString("\n  - ")
		sb.WriteString(e.Error())
	}
	return sb.String()
}

// Validate runs the semantic checks the schema cannot express: inherit
// targets exist, inheritance is acyclic, the envlist names runnable
// environments and every glob pattern compiles.
func (m *Matrix) Validate() error {
	var errs ValidationErrors
	add := func(field, format string, args ...any) {
		errs = append(errs, ValidationError{Field: field, Message: fmt.Sprintf(format, args...)})
	}

	for _, p := range m.PassEnv {
		if !doublestar.ValidatePattern(p) {
			add("pass_env", "invalid pattern %q", p)
		}
	}
	for _, p := range m.Build.PassEnv {
		if !doublestar.ValidatePattern(p) {
			add("build.pass_env", "invalid pattern %q", p)
		}
	}
	if !doublestar.ValidatePattern(m.Test.Pattern) {
		add("test.pattern", "invalid pattern %q", m.Test.Pattern)
	}
	for i, xf := range m.Test.XFail {
		if !doublestar.ValidatePattern(xf.Pattern) {
			add(fmt.Sprintf("test.xfail[%d]", i), "invalid pattern %q", xf.Pattern)
		}
	}
	if m.Test.Workers < 0 {
		add("test.workers", "must not be negative")
	}
	if m.Test.Retries < 0 {
		add("test.retries", "must not be negative")
	}

	for _, name := range m.Names() {
		env := m.Envs[name]
		field := "envs." + string(name)
		if ok, nameErrs := name.IsValid(); !ok {
			for _, err := range nameErrs {
				add(field, "%v", err)
			}
		}
		if ok, policyErrs := env.Policy.IsValid(); !ok {
			add(field+".policy", "%v", errors.Join(policyErrs...))
		}
		if ok, installErrs := env.Install.IsValid(); !ok {
			add(field+".install", "%v", errors.Join(installErrs...))
		}
		for i, parent := range env.Inherit {
			switch {
			case parent == name:
				add(fmt.Sprintf("%s.inherit[%d]", field, i), "environment cannot inherit from itself")
			case m.Envs[parent] == nil:
				add(fmt.Sprintf("%s.inherit[%d]", field, i), "unknown environment %q", parent)
			}
		}
		for _, p := range env.PassEnv {
			if !doublestar.ValidatePattern(p) {
				add(field+".pass_env", "invalid pattern %q", p)
			}
		}
		for i, f := range env.EnvFiles {
			if strings.TrimSuffix(strings.TrimSpace(f), "?") == "" {
				add(fmt.Sprintf("%s.env_files[%d]", field, i), "empty path")
			}
		}
	}

	if err := m.checkInheritanceCycles(); err != nil {
		add("envs", "%v", err)
	}

	seen := make(map[EnvName]bool, len(m.EnvList))
	for i, name := range m.EnvList {
		field := fmt.Sprintf("envlist[%d]", i)
		env := m.Envs[name]
		switch {
		case env == nil:
			add(field, "unknown environment %q", name)
		case env.Abstract:
			add(field, "environment %q is abstract and cannot run", name)
		case seen[name]:
			add(field, "environment %q listed twice", name)
		}
		seen[name] = true
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

func (m *Matrix) checkInheritanceCycles() error {
	g := dag.New()
	for _, name := range m.Names() {
		g.AddNode(string(name))
		for _, parent := range m.Envs[name].Inherit {
			if m.Envs[parent] != nil && parent != name {
				g.AddEdge(string(parent), string(name))
			}
		}
	}
	_, err := g.TopologicalSort()
	return err
}
