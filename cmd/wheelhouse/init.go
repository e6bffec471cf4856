// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/wheelhouse-dev/wheelhouse/pkg/matrixfile"
)

const starterMatrix = `// wheelhouse matrix. Schema: wheelhouse config schema --matrix

envlist: ["py312", "audit", "lint"]
pass_env: ["CI", "SCCACHE_*"]

envs: {
	base: {
		abstract: true
		deps: ["pytest", "pytest-timeout"]
		set_env: PYTHONDONTWRITEBYTECODE: "1"
	}
	py312: {
		description: "Test suite against the built wheel"
		inherit: ["base"]
		commands: ["wheelhouse test {posargs}"]
	}
	audit: {
		description: "Check and repair native dependencies"
		install: "skip"
		commands: ["wheelhouse audit {distdir}"]
	}
	lint: {
		description: "Style checks and README validation"
		deps: ["ruff"]
		install: "skip"
		policy: "best-effort"
		commands: ["wheelhouse lint"]
	}
}
`

func newInitCommand(app *App) *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init [DIR]",
		Short: "Create a starter " + matrixfile.CUEFileName,
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, err := app.getwd()
			if err != nil {
				return err
			}
			if len(args) == 1 {
				if filepath.IsAbs(args[0]) {
					dir = args[0]
				} else {
					dir = filepath.Join(dir, args[0])
				}
			}
			path := filepath.Join(dir, matrixfile.CUEFileName)
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists; use --force to overwrite", path)
			}
			if err := validateStarter(path); err != nil {
				return fmt.Errorf("starter matrix does not validate: %w", err)
			}
			if err := os.WriteFile(path, []byte(starterMatrix), 0o644); err != nil {
				return fmt.Errorf("write %s: %w", path, err)
			}

			fmt.Fprintf(app.stdout, "%s Created %s\n\n", SuccessStyle.Render("✓"), path)
			fmt.Fprintln(app.stdout, SubtitleStyle.Render("Next steps:"))
			fmt.Fprintln(app.stdout, "  1. Adjust the environments and dependencies")
			fmt.Fprintln(app.stdout, "  2. Run 'wheelhouse list' to check the matrix")
			fmt.Fprintln(app.stdout, "  3. Run 'wheelhouse run'")
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing matrix file")
	return cmd
}

func validateStarter(path string) error {
	m, err := matrixfile.Parse([]byte(starterMatrix), path)
	if err != nil {
		return err
	}
	return m.Validate()
}
