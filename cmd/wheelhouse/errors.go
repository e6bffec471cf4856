// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/wheelhouse-dev/wheelhouse/internal/audit"
	"github.com/wheelhouse-dev/wheelhouse/internal/dag"
	"github.com/wheelhouse-dev/wheelhouse/internal/issue"
	"github.com/wheelhouse-dev/wheelhouse/internal/matrix"
	"github.com/wheelhouse-dev/wheelhouse/internal/provision"
	"github.com/wheelhouse-dev/wheelhouse/internal/publish"
	"github.com/wheelhouse-dev/wheelhouse/internal/runtime"
	"github.com/wheelhouse-dev/wheelhouse/pkg/matrixfile"
)

// classifyError maps a failure to its issue catalog entry; 0 means none fits.
func classifyError(err error) issue.Id {
	if is := issue.IssueOf(err); is != nil {
		return is.Id()
	}

	var cycle *dag.CycleError
	var stepErr *provision.StepError
	var buildErr *provision.BuildError
	switch {
	case errors.Is(err, matrixfile.ErrMatrixNotFound), errors.Is(err, matrixfile.ErrNoWheelhouseTable):
		return issue.MatrixNotFoundId
	case errors.Is(err, matrixfile.ErrUnknownEnv), errors.Is(err, matrixfile.ErrAbstractEnv):
		return issue.UnknownEnvironmentId
	case errors.As(err, &cycle):
		return issue.InheritanceCycleId
	case errors.Is(err, runtime.ErrDirLocked):
		return issue.WorkDirLockedId
	case errors.Is(err, matrix.ErrUnknownPlaceholder):
		return issue.UnknownPlaceholderId
	case errors.As(err, &stepErr):
		return issue.ProvisionFailedId
	case errors.As(err, &buildErr):
		return issue.BuildFailedId
	case errors.Is(err, audit.ErrDependencyResolution):
		return issue.UnresolvedLibraryId
	case errors.Is(err, audit.ErrConflict):
		return issue.LibraryConflictId
	case errors.Is(err, publish.ErrRejected):
		return issue.PublishRejectedId
	}
	return 0
}

// formatErrorForDisplay prefers the ActionableError layout with suggestions.
func formatErrorForDisplay(err error, verbose bool) string {
	var ae *issue.ActionableError
	if errors.As(err, &ae) {
		return ae.Format(verbose)
	}
	return err.Error()
}

// renderIssue prints the issue catalog entry that explains err, if any.
// The error message itself is printed by fang when RunE returns.
func renderIssue(w io.Writer, err error, style string) {
	id := classifyError(err)
	if id == 0 {
		return
	}
	entry := issue.Get(id)
	if entry == nil {
		return
	}
	rendered, renderErr := entry.Render(style)
	if renderErr != nil {
		slog.Warn("failed to render issue catalog entry", "issue", id, "error", renderErr)
		return
	}
	fmt.Fprint(w, rendered)
}
