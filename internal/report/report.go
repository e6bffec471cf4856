// SPDX-License-Identifier: MPL-2.0

package report

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/glamour"

	"github.com/wheelhouse-dev/wheelhouse/internal/matrix"
)

type (
	// Options controls terminal rendering.
	Options struct {
		// Style is a glamour standard style ("dark", "light", "notty", ...).
		// Empty picks one from the terminal background.
		Style string
		// Width wraps text; 0 disables wrapping.
		Width int
	}
)

var statusIcon = map[matrix.EnvStatus]string{
	matrix.StatusPassed:  "✔",
	matrix.StatusFailed:  "✘",
	matrix.StatusWarned:  "⚠",
	matrix.StatusSkipped: "–",
}

// Render renders s as styled Markdown for a terminal.
func Render(s *matrix.Summary, opts Options) (string, error) {
	var rendererOpts []glamour.TermRendererOption
	if opts.Style != "" {
		rendererOpts = append(rendererOpts, glamour.WithStandardStyle(opts.Style))
	} else {
		rendererOpts = append(rendererOpts, glamour.WithAutoStyle())
	}
	if opts.Width > 0 {
		rendererOpts = append(rendererOpts, glamour.WithWordWrap(opts.Width))
	}

	renderer, err := glamour.NewTermRenderer(rendererOpts...)
	if err != nil {
		return "", fmt.Errorf("create markdown renderer: %w", err)
	}
	return renderer.Render(Markdown(s))
}

// WriteJSON writes s as indented JSON.
func WriteJSON(w io.Writer, s *matrix.Summary) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(s)
}

// Markdown lays out s as a Markdown document.
func Markdown(s *matrix.Summary) string {
	var b strings.Builder

	result := "passed"
	switch {
	case s.Canceled:
		result = "canceled"
	case s.Failed():
		result = fmt.Sprintf("failed (exit %d)", s.ExitCode)
	}
	fmt.Fprintf(&b, "# Run %s\n\n", shortID(s.RunID))
	fmt.Fprintf(&b, "**%s** in %s, started %s\n\n", result, round(s.Duration), s.Started.Format(time.RFC3339))
	if s.Matrix != "" {
		fmt.Fprintf(&b, "Matrix: `%s`\n\n", s.Matrix)
	}

	if s.Build != nil {
		b.WriteString("## Build\n\n")
		if s.Build.Error != "" {
			fmt.Fprintf(&b, "Failed after %s: %s\n\n", round(s.Build.Duration), s.Build.Error)
		} else {
			for _, a := range s.Build.Artifacts {
				fmt.Fprintf(&b, "- `%s` (%d bytes)\n", a.Name, a.Size)
			}
			b.WriteString("\n")
		}
	}

	b.WriteString("## Environments\n\n")
	b.WriteString("| | Environment | Policy | Status | Duration | Detail |\n")
	b.WriteString("|---|---|---|---|---|---|\n")
	for _, e := range s.Envs {
		fmt.Fprintf(&b, "| %s | %s | %s | %s | %s | %s |\n",
			statusIcon[e.Status], e.Name, e.Policy, e.Status, round(e.Duration), cell(detail(e)))
	}
	fmt.Fprintf(&b, "\n%d passed, %d failed, %d warned, %d skipped\n",
		s.Count(matrix.StatusPassed), s.Count(matrix.StatusFailed),
		s.Count(matrix.StatusWarned), s.Count(matrix.StatusSkipped))

	for _, e := range s.Envs {
		writeStages(&b, e)
	}
	return b.String()
}

func writeStages(b *strings.Builder, e matrix.EnvResult) {
	if len(e.Tests) == 0 && len(e.Audits) == 0 && len(e.Gates) == 0 {
		return
	}
	fmt.Fprintf(b, "\n## %s\n\n", e.Name)

	for _, t := range e.Tests {
		sum := t.Summary
		fmt.Fprintf(b, "- tests: %d total, %d passed, %d failed, %d timed out, %d xfailed",
			sum.Total, sum.Passed, sum.Failed, sum.TimedOut, sum.XFailed)
		if sum.XPassedStrict > 0 {
			fmt.Fprintf(b, ", %d strict xpass", sum.XPassedStrict)
		}
		b.WriteString("\n")
		if len(sum.Retried) > 0 {
			fmt.Fprintf(b, "  - retried: %s\n", codeList(sum.Retried))
		}
		if len(sum.TimeoutViolations) > 0 {
			fmt.Fprintf(b, "  - timeouts: %s\n", codeList(sum.TimeoutViolations))
		}
	}
	for _, a := range e.Audits {
		fmt.Fprintf(b, "- audit `%s`: %s", a.Wheel, a.Status)
		if len(a.Bundled) > 0 {
			fmt.Fprintf(b, ", %d libraries bundled", len(a.Bundled))
		}
		b.WriteString("\n")
		for _, ae := range a.Errors {
			fmt.Fprintf(b, "  - %s: %s\n", ae.Kind, ae.Message)
		}
	}
	for _, g := range e.Gates {
		for _, u := range g.Units {
			fmt.Fprintf(b, "- %s `%s`: %s", u.Kind, u.Name, u.Status)
			if len(u.Findings) > 0 {
				fmt.Fprintf(b, ", %d findings", len(u.Findings))
			}
			if u.Warnings > 0 {
				fmt.Fprintf(b, ", %d warnings", u.Warnings)
			}
			b.WriteString("\n")
		}
	}
}

func detail(e matrix.EnvResult) string {
	switch {
	case e.Step != "":
		return fmt.Sprintf("%s failed: %s", e.Step, e.Error)
	case e.FailedCommand != nil:
		cmd := ""
		if *e.FailedCommand < len(e.Commands) {
			cmd = e.Commands[*e.FailedCommand].Command
		}
		return fmt.Sprintf("command %d exited %d: `%s`", *e.FailedCommand, e.ExitCode, cmd)
	case e.Reused:
		return "reused environment"
	}
	return ""
}

// cell keeps a value from breaking the table row.
func cell(s string) string {
	s = strings.ReplaceAll(s, "\n", " ")
	return strings.ReplaceAll(s, "|", `\|`)
}

func codeList(items []string) string {
	quoted := make([]string, len(items))
	for i, it := range items {
		quoted[i] = "`" + it + "`"
	}
	return strings.Join(quoted, ", ")
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func round(d time.Duration) time.Duration {
	return d.Round(time.Millisecond)
}
