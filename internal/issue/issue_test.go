// SPDX-License-Identifier: MPL-2.0

package issue

import (
	"strings"
	"testing"
)

func TestValues_OrderedAndComplete(t *testing.T) {
	t.Parallel()

	values := Values()
	if len(values) != int(UnknownPlaceholderId) {
		t.Fatalf("len(Values()) = %d, want %d", len(values), UnknownPlaceholderId)
	}
	for i, issue := range values {
		if issue.Id() != Id(i+1) {
			t.Errorf("Values()[%d].Id() = %d, want %d", i, issue.Id(), i+1)
		}
		if strings.TrimSpace(string(issue.MarkdownMsg())) == "" {
			t.Errorf("issue %d has empty message", issue.Id())
		}
	}
}

func TestGet(t *testing.T) {
	t.Parallel()

	if Get(MatrixNotFoundId) == nil {
		t.Error("Get(MatrixNotFoundId) returned nil")
	}
	if Get(Id(0)) != nil || Get(Id(9999)) != nil {
		t.Error("Get should return nil for unknown ids")
	}
}

func TestIssue_LinksAreCloned(t *testing.T) {
	t.Parallel()

	i := &Issue{id: 1, docLinks: []HttpLink{"https://example.com/a"}}
	links := i.DocLinks()
	links[0] = "changed"
	if i.DocLinks()[0] != "https://example.com/a" {
		t.Error("DocLinks() should return a clone")
	}
}

// Tests below replace the package-level renderer and must not run in parallel.

func TestIssue_Render(t *testing.T) {
	originalRender := render
	defer func() { render = originalRender }()

	render = func(in string, _ string) (string, error) {
		return in, nil
	}

	for _, issue := range Values() {
		rendered, err := issue.Render("")
		if err != nil {
			t.Errorf("issue %d failed to render: %v", issue.Id(), err)
		}
		if rendered == "" {
			t.Errorf("issue %d rendered to empty string", issue.Id())
		}
	}

	withLinks := &Issue{
		id:       99,
		mdMsg:    "# Title",
		docLinks: []HttpLink{"https://docs.example.com"},
		extLinks: []HttpLink{"https://peps.python.org/pep-0600/"},
	}
	rendered, err := withLinks.Render("")
	if err != nil {
		t.Fatalf("Render() error = %v", err)
	}
	for _, want := range []string{"## See also", "https://docs.example.com", "pep-0600"} {
		if !strings.Contains(rendered, want) {
			t.Errorf("Render() missing %q:\n%s", want, rendered)
		}
	}
}

func TestIssue_RenderWithGlamour(t *testing.T) {
	rendered, err := Get(WorkDirLockedId).Render("notty")
	if err != nil {
		t.Fatalf("Render() error = %v", err)
	}
	if !strings.Contains(rendered, "work directory") {
		t.Errorf("rendered output missing content:\n%s", rendered)
	}
}
