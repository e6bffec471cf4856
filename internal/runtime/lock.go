// SPDX-License-Identifier: MPL-2.0

package runtime

import (
	"errors"
	"fmt"
	"os"
)

const lockFileName = ".lock"

// ErrDirLocked is returned when another run holds the work directory.
var ErrDirLocked = errors.New("work directory is locked by another run")

type (
	// DirLock serializes runs against one work directory.
	DirLock struct {
		file *os.File
	}

	// DirLockedError names the locked directory.
	DirLockedError struct {
		Dir string
	}
)

func (e *DirLockedError) Error() string {
	return fmt.Sprintf("%s: %v", e.Dir, ErrDirLocked)
}

func (e *DirLockedError) Unwrap() error { return ErrDirLocked }
