// SPDX-License-Identifier: MPL-2.0

package testutil

import (
	"os"
	"path/filepath"
	"testing"
)

func TestMustWriteFile(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	p := MustWriteFile(t, dir, "dist/nested/core.whl", "data")
	if p != filepath.Join(dir, "dist", "nested", "core.whl") {
		t.Errorf("path = %q", p)
	}
	got, err := os.ReadFile(p)
	if err != nil || string(got) != "data" {
		t.Errorf("content = %q (%v)", got, err)
	}
}

func TestContainerParallelism(t *testing.T) {
	t.Setenv(ContainerParallelEnv, "5")
	if got := containerParallelism(); got != 5 {
		t.Errorf("containerParallelism() = %d, want 5", got)
	}
	t.Setenv(ContainerParallelEnv, "zero")
	if got := containerParallelism(); got < 1 || got > 2 {
		t.Errorf("containerParallelism() fallback = %d", got)
	}
}
