// SPDX-License-Identifier: MPL-2.0

package stages

import (
	"context"
	"errors"
	"fmt"

	"github.com/wheelhouse-dev/wheelhouse/internal/matrix"
	"github.com/wheelhouse-dev/wheelhouse/internal/provision"
	"github.com/wheelhouse-dev/wheelhouse/internal/runtime"
)

// Build runs the matrix build commands and lists the wheels they produced.
// The controller builds once per run on its own; this stage is for
// environments that need a rebuild, such as a cross-compilation target.
//
//	wheelhouse build [--dist-dir DIR] [command...]
func (s *Stages) Build(ctx context.Context, inv runtime.Invocation) error {
	fs := newFlagSet(StageBuild, inv.Stderr)
	dist := fs.String("dist-dir", "", "artifact directory (default $WHEELHOUSE_DIST_DIR)")
	if ok, err := parseFlags(fs, inv.Args); !ok {
		return err
	}

	distDir := resolvePath(inv.Dir, firstNonEmpty(*dist, s.distDir(inv)))
	root := s.rootDir(inv)
	templates := fs.Args()
	if len(templates) == 0 {
		templates = s.Matrix.Build.Commands
	}

	sub := matrix.ForBuild(distDir, root, inv.Env)
	commands := make([]string, len(templates))
	for i, t := range templates {
		c, err := sub.Apply(t)
		if err != nil {
			var pe *matrix.UnknownPlaceholderError
			if errors.As(err, &pe) {
				pe.Env, pe.Index = StageBuild, i
			}
			return &runtime.ExitStatusError{Code: 2, Err: err}
		}
		commands[i] = c
	}

	b := provision.NewBuilder(s.Runner, orDiscard(inv.Stdout), orDiscard(inv.Stderr))
	artifacts, err := b.Build(ctx, provision.BuildRequest{Commands: commands, Dir: root, DistDir: distDir, Env: inv.Env})
	if err != nil {
		var be *provision.BuildError
		if errors.As(err, &be) {
			return &runtime.ExitStatusError{Code: be.ExitCode.Failure(), Err: err}
		}
		return err
	}
	for _, a := range artifacts {
		fmt.Fprintf(orDiscard(inv.Stdout), "built %s (%d bytes, sha256 %s)\n", a.Name, a.Size, a.SHA256[:12])
	}
	return nil
}
