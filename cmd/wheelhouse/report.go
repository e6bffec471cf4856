// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/wheelhouse-dev/wheelhouse/internal/config"
	"github.com/wheelhouse-dev/wheelhouse/internal/matrix"
	"github.com/wheelhouse-dev/wheelhouse/internal/report"
)

func newReportCommand(app *App, flags *rootFlagValues) *cobra.Command {
	var (
		asJSON bool
		width  int
	)
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Show the summary of the last run",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			m, _, err := app.loadMatrix(flags, app.cfg, false)
			if err != nil {
				return app.fail(err)
			}
			sum, err := matrix.ReadSummary(matrix.SummaryPath(m))
			if err != nil {
				return app.fail(fmt.Errorf("%w (run 'wheelhouse run' first)", err))
			}

			if asJSON {
				return report.WriteJSON(app.stdout, sum)
			}
			out, err := report.Render(sum, report.Options{Style: reportStyle(app.cfg), Width: width})
			if err != nil {
				return err
			}
			fmt.Fprint(app.stdout, out)
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the raw summary as JSON")
	cmd.Flags().IntVar(&width, "width", 100, "wrap text at this width (0 disables wrapping)")
	return cmd
}

// reportStyle maps the configured color scheme to a glamour style; auto
// lets glamour detect the terminal background.
func reportStyle(cfg *config.Config) string {
	if cfg == nil {
		return ""
	}
	switch cfg.UI.ColorScheme {
	case config.ColorSchemeDark:
		return "dark"
	case config.ColorSchemeLight:
		return "light"
	}
	return ""
}
