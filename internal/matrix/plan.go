// SPDX-License-Identifier: MPL-2.0

package matrix

import (
	"errors"
	"maps"
	"path/filepath"
	"slices"

	"github.com/wheelhouse-dev/wheelhouse/pkg/matrixfile"
)

type (
	// Plan is a run resolved ahead of execution: every selected
	// environment flattened, every command substituted.
	Plan struct {
		Matrix string    `json:"matrix"`
		Envs   []EnvPlan `json:"envs"`
		// Build holds the substituted build commands; empty when no
		// selected environment installs the built package.
		Build []string `json:"build,omitempty"`
		// BuildForwarded lists the host keys the builder receives.
		BuildForwarded []string `json:"build_forwarded,omitempty"`
	}

	// EnvPlan is one environment of a Plan.
	EnvPlan struct {
		Name        matrixfile.EnvName     `json:"name"`
		Description string                 `json:"description,omitempty"`
		Policy      matrixfile.Policy      `json:"policy"`
		Install     matrixfile.InstallMode `json:"install"`
		Deps        []string               `json:"deps"`
		Commands    []string               `json:"commands"`
		// Forwarded lists the host keys that cross into the context.
		Forwarded []string `json:"forwarded"`
		// SetEnv lists the keys set statically.
		SetEnv   []string `json:"set_env,omitempty"`
		EnvFiles []string `json:"env_files,omitempty"`
		Dir      string   `json:"dir"`
		// WorkDir is where the commands run.
		WorkDir string `json:"work_dir"`

		resolved *matrixfile.Resolved
		sub      Substitution
	}
)

// Plan resolves selection without touching the file system. Unknown
// placeholders in any selected environment fail the whole plan, so a run
// never starts with a command it cannot expand. {env:KEY} previews read
// the forwarded host variables and set_env; execution expands the
// commands again against the built context, dotenv files included.
func (c *Controller) Plan(selection []matrixfile.EnvName, posargs []string) (*Plan, error) {
	m := c.matrix
	plan := &Plan{Matrix: m.Path}

	var errs []error
	needsBuild := false
	for _, name := range selection {
		r, err := m.Resolve(name)
		if err != nil {
			return nil, err
		}
		visible := r.PassEnv.Filter(c.host)
		maps.Copy(visible, r.SetEnv)
		sub := Substitution{
			Values:  envValues(m, name, c.goos),
			PosArgs: posargs,
			Env:     visible,
		}
		commands := make([]string, len(r.Commands))
		for i, command := range r.Commands {
			expanded, err := sub.Apply(command)
			if err != nil {
				errs = append(errs, placeholderError(err, name, i))
				continue
			}
			commands[i] = expanded
		}

		workDir := m.Root
		if r.ChangeDir != "" {
			workDir = filepath.Join(m.Root, r.ChangeDir)
		}
		plan.Envs = append(plan.Envs, EnvPlan{
			Name:        name,
			Description: r.Description,
			Policy:      r.Policy,
			Install:     r.Install,
			Deps:        r.Deps,
			Commands:    commands,
			Forwarded:   r.PassEnv.Keys(c.host),
			SetEnv:      slices.Sorted(maps.Keys(r.SetEnv)),
			EnvFiles:    r.EnvFiles,
			Dir:         m.EnvDir(name),
			WorkDir:     workDir,
			resolved:    r,
			sub:         sub,
		})
		needsBuild = needsBuild || r.Install == matrixfile.InstallPackage
	}

	if needsBuild {
		sub := ForBuild(m.AbsDistDir(), m.Root, c.buildAllowlist().Filter(c.host))
		for i, command := range m.Build.Commands {
			expanded, err := sub.Apply(command)
			if err != nil {
				errs = append(errs, placeholderError(err, "build", i))
				continue
			}
			plan.Build = append(plan.Build, expanded)
		}
		plan.BuildForwarded = c.buildAllowlist().Keys(c.host)
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return plan, nil
}

// expand substitutes the environment's commands with {env:KEY} reading
// env, the execution context built for it.
func (e EnvPlan) expand(env map[string]string) ([]string, error) {
	if e.resolved == nil {
		return e.Commands, nil
	}
	sub := e.sub
	sub.Env = env
	commands := make([]string, len(e.resolved.Commands))
	for i, command := range e.resolved.Commands {
		expanded, err := sub.Apply(command)
		if err != nil {
			return nil, placeholderError(err, e.Name, i)
		}
		commands[i] = expanded
	}
	return commands, nil
}

// buildAllowlist is the matrix-wide allowlist plus the build's own.
func (c *Controller) buildAllowlist() matrixfile.Allowlist {
	return matrixfile.Allowlist(nil).Union(c.matrix.PassEnv...).Union(c.matrix.Build.PassEnv...)
}

func placeholderError(err error, env matrixfile.EnvName, index int) error {
	var pe *UnknownPlaceholderError
	if errors.As(err, &pe) {
		pe.Env = env
		pe.Index = index
		return pe
	}
	return err
}
