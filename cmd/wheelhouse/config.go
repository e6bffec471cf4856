// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/wheelhouse-dev/wheelhouse/internal/config"
	"github.com/wheelhouse-dev/wheelhouse/pkg/matrixfile"
)

// newConfigCommand creates the `wheelhouse config` command tree.
func newConfigCommand(app *App, flags *rootFlagValues) *cobra.Command {
	cfgCmd := &cobra.Command{
		Use:   "config",
		Short: "Manage wheelhouse configuration",
		Long: `Manage the user configuration.

Configuration is stored in:
  - Linux: ~/.config/wheelhouse/config.cue
  - macOS: ~/Library/Application Support/wheelhouse/config.cue
  - Windows: %APPDATA%\wheelhouse\config.cue`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Help()
		},
	}

	cfgCmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show the effective configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, path, err := config.LoadWithPath(cmd.Context(), config.LoadOptions{ConfigFilePath: flags.configPath})
			if err != nil {
				return app.fail(err)
			}
			showConfig(app.stdout, cfg, path)
			return nil
		},
	})

	var matrixSchema bool
	schemaCmd := &cobra.Command{
		Use:   "schema",
		Short: "Print the CUE schema of the config file or, with --matrix, of wheelhouse.cue",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if matrixSchema {
				_, err := app.stdout.Write(matrixfile.Schema())
				return err
			}
			_, err := io.WriteString(app.stdout, config.Schema())
			return err
		},
	}
	schemaCmd.Flags().BoolVar(&matrixSchema, "matrix", false, "print the matrix file schema")
	cfgCmd.AddCommand(schemaCmd)

	cfgCmd.AddCommand(&cobra.Command{
		Use:   "init",
		Short: "Create the default configuration file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			path, err := config.CreateDefaultConfig("")
			if err != nil {
				return app.fail(fmt.Errorf("create config: %w", err))
			}
			fmt.Fprintf(app.stdout, "%s Configuration at %s\n", SuccessStyle.Render("✓"), path)
			return nil
		},
	})

	cfgCmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Show the configuration directory",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			dir, err := config.ConfigDir()
			if err != nil {
				return err
			}
			fmt.Fprintln(app.stdout, dir)
			return nil
		},
	})

	return cfgCmd
}

func showConfig(w io.Writer, cfg *config.Config, path string) {
	key := CmdStyle.Render
	val := SuccessStyle.Render

	fmt.Fprintln(w, TitleStyle.Render("Current Configuration"))
	fmt.Fprintln(w)
	if path != "" {
		fmt.Fprintf(w, "%s: %s\n", key("Config file"), path)
	} else {
		fmt.Fprintf(w, "%s: %s\n", key("Config file"), SubtitleStyle.Render("(using defaults)"))
	}
	fmt.Fprintln(w)

	fmt.Fprintf(w, "%s: %s\n", key("log.level"), val(string(cfg.Log.Level)))
	fmt.Fprintf(w, "%s: %s\n", key("python"), val(cfg.Python))
	fmt.Fprintf(w, "%s: %s\n", key("ui.color_scheme"), val(string(cfg.UI.ColorScheme)))
	fmt.Fprintf(w, "%s: %s\n", key("ui.verbose"), val(fmt.Sprint(cfg.UI.Verbose)))

	fmt.Fprintln(w)
	fmt.Fprintf(w, "%s:\n", key("test"))
	fmt.Fprintf(w, "  workers: %s\n", val(workersLabel(cfg.Test.Workers)))
	fmt.Fprintf(w, "  retries: %s\n", val(fmt.Sprint(cfg.Test.Retries)))
	fmt.Fprintf(w, "  retry_delay: %s\n", val(cfg.Test.RetryDelay.String()))
	fmt.Fprintf(w, "  timeout: %s\n", val(cfg.Test.Timeout.String()))
	fmt.Fprintf(w, "  strict_xfail: %s\n", val(fmt.Sprint(cfg.Test.StrictXFail)))
	fmt.Fprintf(w, "  tty: %s\n", val(fmt.Sprint(cfg.Test.TTY)))

	fmt.Fprintln(w)
	fmt.Fprintf(w, "%s:\n", key("audit"))
	fmt.Fprintf(w, "  policy: %s\n", val(cfg.Audit.Policy))
	fmt.Fprintf(w, "  validator: %s\n", val(string(cfg.Audit.Validator)))
	if cfg.Audit.CleanHostImage != "" {
		fmt.Fprintf(w, "  clean_host_image: %s\n", val(cfg.Audit.CleanHostImage))
	}
	if len(cfg.Audit.LibraryPath) > 0 {
		fmt.Fprintf(w, "  library_path: %s\n", val(strings.Join(cfg.Audit.LibraryPath, ":")))
	}

	fmt.Fprintln(w)
	fmt.Fprintf(w, "%s:\n", key("publish"))
	if cfg.Publish.Endpoint == "" {
		fmt.Fprintf(w, "  %s\n", SubtitleStyle.Render("(not configured)"))
		return
	}
	fmt.Fprintf(w, "  endpoint: %s\n", val(cfg.Publish.Endpoint))
	fmt.Fprintf(w, "  bucket: %s\n", val(cfg.Publish.Bucket))
	if cfg.Publish.Prefix != "" {
		fmt.Fprintf(w, "  prefix: %s\n", val(cfg.Publish.Prefix))
	}
	fmt.Fprintf(w, "  secure: %s\n", val(fmt.Sprint(cfg.Publish.Secure)))
	fmt.Fprintf(w, "  credentials: %s, %s\n", val(cfg.Publish.AccessKeyEnv), val(cfg.Publish.SecretKeyEnv))
}

func workersLabel(n int) string {
	if n == 0 {
		return "0 (one per CPU)"
	}
	return fmt.Sprint(n)
}
