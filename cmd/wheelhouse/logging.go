// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"io"
	"log/slog"

	"github.com/charmbracelet/log"

	"github.com/wheelhouse-dev/wheelhouse/internal/config"
)

// newLogger builds the slog logger used by every package. charmbracelet/log
// is the handler; --verbose forces debug output.
func newLogger(w io.Writer, level config.LogLevel, verbose bool) *slog.Logger {
	lvl, err := log.ParseLevel(string(level))
	if err != nil {
		lvl = log.InfoLevel
	}
	if verbose {
		lvl = log.DebugLevel
	}
	handler := log.NewWithOptions(w, log.Options{
		Level:           lvl,
		Prefix:          "wheelhouse",
		ReportTimestamp: verbose,
	})
	return slog.New(handler)
}
