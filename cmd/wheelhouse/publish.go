// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/wheelhouse-dev/wheelhouse/internal/audit"
	"github.com/wheelhouse-dev/wheelhouse/internal/config"
	"github.com/wheelhouse-dev/wheelhouse/internal/issue"
	"github.com/wheelhouse-dev/wheelhouse/internal/matrix"
	"github.com/wheelhouse-dev/wheelhouse/internal/publish"
	"github.com/wheelhouse-dev/wheelhouse/pkg/matrixfile"
)

type publishFlagValues struct {
	endpoint string
	bucket   string
	prefix   string
	check    bool
}

// storeFactory opens the object store for a validated config; tests swap it.
var storeFactory = func(cfg publish.Config) (publish.ObjectStore, error) {
	return publish.NewClient(cfg)
}

func newPublishCommand(app *App, flags *rootFlagValues) *cobra.Command {
	pf := &publishFlagValues{}
	cmd := &cobra.Command{
		Use:   "publish [DIR]",
		Short: "Upload audited wheels to an S3-compatible bucket",
		Long: `Upload every wheel in DIR (default: the matrix dist directory) to the
configured bucket. The whole set is refused when any wheel still carries a
bare linux_* platform tag or has a failed audit next to it.

Credentials are read only from the two variables named by
publish.access_key_env and publish.secret_key_env.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.fail(publishWheels(cmd.Context(), app, flags, pf, args))
		},
	}
	cmd.Flags().StringVar(&pf.endpoint, "endpoint", "", "override publish.endpoint (host:port, no scheme)")
	cmd.Flags().StringVar(&pf.bucket, "bucket", "", "override publish.bucket")
	cmd.Flags().StringVar(&pf.prefix, "prefix", "", "override publish.prefix")
	cmd.Flags().BoolVar(&pf.check, "check", false, "only check that the wheels may be published")
	return cmd
}

func publishWheels(ctx context.Context, app *App, flags *rootFlagValues, pf *publishFlagValues, args []string) error {
	m, wd, err := app.loadMatrix(flags, app.cfg, false)
	if err != nil {
		return err
	}
	dir := m.AbsDistDir()
	if len(args) == 1 {
		dir = args[0]
		if !filepath.IsAbs(dir) {
			dir = filepath.Join(wd, dir)
		}
	}

	if pf.check {
		artifacts, err := publish.Check(dir)
		if err != nil {
			return err
		}
		for _, a := range artifacts {
			fmt.Fprintf(app.stdout, "%s %s\n", SuccessStyle.Render("✓"), a.Name)
		}
		return nil
	}

	pc := app.cfg.Publish
	if pf.endpoint != "" {
		pc.Endpoint = pf.endpoint
	}
	if pf.bucket != "" {
		pc.Bucket = pf.bucket
	}
	if pf.prefix != "" {
		pc.Prefix = pf.prefix
	}
	cfg := publish.ConfigFrom(pc, credentials(pc, app.host()))
	if err := cfg.Validate(); err != nil {
		return issue.NewErrorContext().
			WithOperation("configure publishing").
			WithSuggestions(
				"Set publish.endpoint and publish.bucket in the config file",
				fmt.Sprintf("Export %s and %s", publish.CredentialKeys(pc)[0], publish.CredentialKeys(pc)[1]),
			).
			Wrap(err).
			Build()
	}

	store, err := storeFactory(cfg)
	if err != nil {
		return err
	}
	pub := publish.New(store, cfg,
		publish.WithLogger(slog.Default()),
		publish.WithAuditReports(lastAuditReports(m)),
	)
	uploaded, err := pub.Publish(ctx, dir)
	for _, u := range uploaded {
		fmt.Fprintf(app.stdout, "%s %s -> s3://%s/%s\n", SuccessStyle.Render("✓"), u.Name, cfg.Bucket, u.Key)
	}
	return err
}

// credentials forwards exactly the two configured credential variables.
func credentials(pc config.PublishConfig, host map[string]string) map[string]string {
	return matrixfile.Allowlist(publish.CredentialKeys(pc)).Filter(host)
}

// lastAuditReports returns the audit reports of the last run, if any.
func lastAuditReports(m *matrixfile.Matrix) []*audit.Report {
	sum, err := matrix.ReadSummary(matrix.SummaryPath(m))
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			slog.Warn("ignoring unreadable run summary", "error", err)
		}
		return nil
	}
	var reports []*audit.Report
	for _, env := range sum.Envs {
		reports = append(reports, env.Audits...)
	}
	return reports
}
