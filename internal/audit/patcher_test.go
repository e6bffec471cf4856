// SPDX-License-Identifier: MPL-2.0

package audit

import (
	"context"
	"os/exec"
	"slices"
	"strings"
	"sync"
	"testing"
)

type captured struct {
	mu   sync.Mutex
	args [][]string
}

func (c *captured) execCommand(ctx context.Context, name string, args ...string) *exec.Cmd {
	c.mu.Lock()
	c.args = append(c.args, append([]string{name}, args...))
	c.mu.Unlock()
	return exec.CommandContext(ctx, "true")
}

func TestPatchELF_Args(t *testing.T) {
	t.Parallel()

	if _, err := exec.LookPath("true"); err != nil {
		t.Skip("true not available")
	}
	c := &captured{}
	p := NewPatchELF(WithExecCommand(c.execCommand))
	ctx := context.Background()

	if err := p.SetSoname(ctx, "/w/libfoo-1.so.1", "libfoo-1.so.1"); err != nil {
		t.Fatal(err)
	}
	if err := p.ReplaceNeeded(ctx, "/w/ext.so", map[string]string{"libz.so.1": "libz-2.so.1", "libfoo.so.1": "libfoo-1.so.1"}); err != nil {
		t.Fatal(err)
	}
	if err := p.ReplaceNeeded(ctx, "/w/ext.so", nil); err != nil {
		t.Fatal(err)
	}
	if err := p.SetRPath(ctx, "/w/ext.so", "$ORIGIN/../core.libs"); err != nil {
		t.Fatal(err)
	}

	want := [][]string{
		{"patchelf", "--set-soname", "libfoo-1.so.1", "/w/libfoo-1.so.1"},
		{"patchelf", "--replace-needed", "libfoo.so.1", "libfoo-1.so.1", "--replace-needed", "libz.so.1", "libz-2.so.1", "/w/ext.so"},
		{"patchelf", "--set-rpath", "$ORIGIN/../core.libs", "/w/ext.so"},
	}
	if len(c.args) != len(want) {
		t.Fatalf("calls = %v", c.args)
	}
	for i := range want {
		if !slices.Equal(c.args[i], want[i]) {
			t.Errorf("call %d = %v, want %v", i, c.args[i], want[i])
		}
	}
}

func TestInstallNameTool_Args(t *testing.T) {
	t.Parallel()

	if _, err := exec.LookPath("true"); err != nil {
		t.Skip("true not available")
	}
	c := &captured{}
	p := NewInstallNameTool(WithExecCommand(c.execCommand), WithBinary("/usr/bin/install_name_tool"))
	ctx := context.Background()

	_ = p.SetSoname(ctx, "/w/libssl.dylib", "@rpath/libssl-1.3.dylib")
	_ = p.ReplaceNeeded(ctx, "/w/ext.so", map[string]string{"/opt/homebrew/lib/libssl.3.dylib": "@rpath/libssl-1.3.dylib"})
	_ = p.SetRPath(ctx, "/w/ext.so", "@loader_path/../core.libs")

	got := make([]string, 0, len(c.args))
	for _, a := range c.args {
		got = append(got, strings.Join(a, " "))
	}
	want := []string{
		"/usr/bin/install_name_tool -id @rpath/libssl-1.3.dylib /w/libssl.dylib",
		"/usr/bin/install_name_tool -change /opt/homebrew/lib/libssl.3.dylib @rpath/libssl-1.3.dylib /w/ext.so",
		"/usr/bin/install_name_tool -add_rpath @loader_path/../core.libs /w/ext.so",
	}
	if !slices.Equal(got, want) {
		t.Errorf("calls = %q, want %q", got, want)
	}
}

func TestCLITool_ErrorIncludesOutput(t *testing.T) {
	t.Parallel()

	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
	p := NewPatchELF(WithExecCommand(func(ctx context.Context, _ string, _ ...string) *exec.Cmd {
		return exec.CommandContext(ctx, "sh", "-c", "echo 'cannot find section' >&2; exit 1")
	}))
	err := p.SetRPath(context.Background(), "/w/ext.so", "$ORIGIN")
	if err == nil || !strings.Contains(err.Error(), "cannot find section") {
		t.Errorf("SetRPath() error = %v", err)
	}
}
