// SPDX-License-Identifier: MPL-2.0

package matrixfile

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/wheelhouse-dev/wheelhouse/internal/dag"
)

var (
	// ErrUnknownEnv is returned when a selection names an environment that
	// does not exist in the matrix.
	ErrUnknownEnv = errors.New("unknown environment")
	// ErrAbstractEnv is returned when a selection names an abstract environment.
	ErrAbstractEnv = errors.New("abstract environment")
)

type (
	// UnknownEnvError names the missing environment and what is available.
	UnknownEnvError struct {
		Name  EnvName
		Known []EnvName
	}

	// AbstractEnvError is returned when an abstract base set is selected.
	AbstractEnvError struct {
		Name EnvName
	}

	// Resolved is an environment with its inheritance flattened. It is what
	// the controller provisions and runs.
	Resolved struct {
		Name        EnvName
		Description string
		// Deps is the ordered union of inherited and own dependencies.
		Deps      []string
		Commands  []string
		PassEnv   Allowlist
		SetEnv    map[string]string
		EnvFiles  []string
		Install   InstallMode
		Policy    Policy
		ChangeDir string
	}
)

func (e *UnknownEnvError) Error() string {
	known := make([]string, len(e.Known))
	for i, n := range e.Known {
		known[i] = string(n)
	}
	return fmt.Sprintf("unknown environment %q (available: %s)", e.Name, strings.Join(known, ", "))
}

func (e *UnknownEnvError) Unwrap() error { return ErrUnknownEnv }

func (e *AbstractEnvError) Error() string {
	return fmt.Sprintf("environment %q is abstract and cannot be run", e.Name)
}

func (e *AbstractEnvError) Unwrap() error { return ErrAbstractEnv }

// ResolveDeps returns the env's dependency set: the dependencies of every
// inherited environment (depth-first, in declared order) followed by its own,
// each entry appearing once.
func (m *Matrix) ResolveDeps(name EnvName) ([]string, error) {
	chain, err := m.inheritanceChain(name)
	if err != nil {
		return nil, err
	}
	var deps []string
	seen := make(map[string]bool)
	for _, n := range chain {
		for _, dep := range m.Envs[n].Deps {
			dep = strings.TrimSpace(dep)
			if dep == "" || seen[dep] {
				continue
			}
			seen[dep] = true
			deps = append(deps, dep)
		}
	}
	return deps, nil
}

// Resolve flattens name and its inherited environments. Commands are not
// inherited; set_env and env_files are, with the child taking precedence.
func (m *Matrix) Resolve(name EnvName) (*Resolved, error) {
	env := m.Envs[name]
	if env == nil {
		return nil, &UnknownEnvError{Name: name, Known: m.Runnable()}
	}
	chain, err := m.inheritanceChain(name)
	if err != nil {
		return nil, err
	}
	deps, err := m.ResolveDeps(name)
	if err != nil {
		return nil, err
	}

	r := &Resolved{
		Name:        name,
		Description: env.Description,
		Deps:        deps,
		Commands:    slices.Clone(env.Commands),
		PassEnv:     Allowlist(nil).Union(m.PassEnv...),
		SetEnv:      make(map[string]string),
		Install:     env.Install,
		Policy:      env.Policy,
		ChangeDir:   env.ChangeDir,
	}
	for _, n := range chain {
		e := m.Envs[n]
		r.PassEnv = r.PassEnv.Union(e.PassEnv...)
		maps.Copy(r.SetEnv, e.SetEnv)
		for _, f := range e.EnvFiles {
			if !slices.Contains(r.EnvFiles, f) {
				r.EnvFiles = append(r.EnvFiles, f)
			}
		}
	}
	return r, nil
}

// inheritanceChain returns name's ancestors in resolution order followed by
// name itself: depth-first over inherit lists, parents before children,
// each environment once.
func (m *Matrix) inheritanceChain(name EnvName) ([]EnvName, error) {
	if m.Envs[name] == nil {
		return nil, &UnknownEnvError{Name: name, Known: m.Runnable()}
	}

	var (
		chain    []EnvName
		done     = make(map[EnvName]bool)
		visiting = make(map[EnvName]bool)
		path     []string
	)
	var visit func(EnvName) error
	visit = func(n EnvName) error {
		if done[n] {
			return nil
		}
		if visiting[n] {
			start := slices.Index(path, string(n))
			return &dag.CycleError{Cycle: append(slices.Clone(path[start:]), string(n))}
		}
		env := m.Envs[n]
		if env == nil {
			return &UnknownEnvError{Name: n, Known: m.Names()}
		}
		visiting[n] = true
		path = append(path, string(n))
		for _, parent := range env.Inherit {
			if err := visit(parent); err != nil {
				return err
			}
		}
		path = path[:len(path)-1]
		visiting[n] = false
		done[n] = true
		chain = append(chain, n)
		return nil
	}
	if err := visit(name); err != nil {
		return nil, err
	}
	return chain, nil
}

// Select turns a caller selection into an ordered list of runnable
// environments. Each entry may hold comma-separated names; "ALL" selects
// every runnable environment. No selection means the envlist, or every
// runnable environment when the envlist is empty. Duplicates are dropped.
func (m *Matrix) Select(names []string) ([]EnvName, error) {
	var requested []EnvName
	for _, entry := range names {
		for part := range strings.SplitSeq(entry, ",") {
			if part = strings.TrimSpace(part); part != "" {
				requested = append(requested, EnvName(part))
			}
		}
	}

	if len(requested) == 0 {
		if len(m.EnvList) > 0 {
			return slices.Clone(m.EnvList), nil
		}
		return m.Runnable(), nil
	}

	var selected []EnvName
	for _, name := range requested {
		if name == SelectAll {
			for _, n := range m.Runnable() {
				if !slices.Contains(selected, n) {
					selected = append(selected, n)
				}
			}
			continue
		}
		env := m.Envs[name]
		if env == nil {
			return nil, &UnknownEnvError{Name: name, Known: m.Runnable()}
		}
		if env.Abstract {
			return nil, &AbstractEnvError{Name: name}
		}
		if !slices.Contains(selected, name) {
			selected = append(selected, name)
		}
	}
	return selected, nil
}
