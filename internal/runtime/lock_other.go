// SPDX-License-Identifier: MPL-2.0

//go:build !(linux || darwin || freebsd)

package runtime

import (
	"fmt"
	"log/slog"
	"os"
)

// AcquireDirLock is a no-op where flock is unavailable; concurrent runs
// against one work directory are then the caller's responsibility.
func AcquireDirLock(dir string) (*DirLock, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create %s: %w", dir, err)
	}
	slog.Debug("work directory locking unavailable on this platform", "dir", dir)
	return &DirLock{}, nil
}

// Release is a no-op.
func (l *DirLock) Release() {}
