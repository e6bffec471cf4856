// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newListCommand(app *App, flags *rootFlagValues) *cobra.Command {
	var all bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List the environments of the matrix",
		Long: `List the environments of the matrix in declaration order. Environments of
the default set are marked with '*'. Abstract base environments are shown
with -a.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			m, _, err := app.loadMatrix(flags, app.cfg, true)
			if err != nil {
				return app.fail(err)
			}

			fmt.Fprintln(app.stdout, TitleStyle.Render("Environments")+" "+SubtitleStyle.Render("("+m.Path+")"))
			for _, name := range m.Names() {
				env := m.Envs[name]
				if env.Abstract && !all {
					continue
				}
				mark := " "
				if m.InDefaultSet(name) {
					mark = SuccessStyle.Render("*")
				}
				label := fmt.Sprintf("%-16s", name)
				switch {
				case env.Abstract:
					label = VerboseStyle.Render(label)
				default:
					label = CmdStyle.Render(label)
				}
				desc := env.Description
				if env.Abstract {
					desc = VerboseStyle.Render("(abstract) ") + desc
				}
				fmt.Fprintf(app.stdout, "%s %s %s\n", mark, label, desc)
			}
			return nil
		},
	}
	cmd.Flags().BoolVarP(&all, "all", "a", false, "include abstract base environments")
	return cmd
}
