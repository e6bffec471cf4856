// SPDX-License-Identifier: MPL-2.0

package testrun

import (
	"errors"
	"fmt"
	"os"
	"slices"

	"github.com/bmatcuk/doublestar/v4"
)

// ErrBadPattern is returned for a malformed discovery or xfail pattern.
var ErrBadPattern = errors.New("invalid test pattern")

type (
	// XFail marks tests matching Pattern as expected to fail.
	XFail struct {
		Pattern string `json:"pattern"`
		Reason  string `json:"reason,omitempty"`
	}

	// BadPatternError names the offending pattern.
	BadPatternError struct {
		Pattern string
	}
)

func (e *BadPatternError) Error() string {
	return fmt.Sprintf("%v: %q", ErrBadPattern, e.Pattern)
}

func (e *BadPatternError) Unwrap() error { return ErrBadPattern }

// Discover returns the files under root matching pattern as sorted
// slash-separated relative paths.
func Discover(root, pattern string) ([]string, error) {
	if !doublestar.ValidatePattern(pattern) {
		return nil, &BadPatternError{Pattern: pattern}
	}
	if _, err := os.Stat(root); err != nil {
		return nil, fmt.Errorf("test root: %w", err)
	}
	files, err := doublestar.Glob(os.DirFS(root), pattern, doublestar.WithFilesOnly())
	if err != nil {
		return nil, fmt.Errorf("discover %s in %s: %w", pattern, root, err)
	}
	slices.Sort(files)
	return files, nil
}

// matchXFail returns the first entry whose pattern matches path.
func matchXFail(entries []XFail, path string) (XFail, bool) {
	for _, x := range entries {
		if ok, _ := doublestar.Match(x.Pattern, path); ok {
			return x, true
		}
	}
	return XFail{}, false
}

// validateXFail rejects malformed xfail patterns before anything runs.
func validateXFail(entries []XFail) error {
	for _, x := range entries {
		if !doublestar.ValidatePattern(x.Pattern) {
			return &BadPatternError{Pattern: x.Pattern}
		}
	}
	return nil
}
