// SPDX-License-Identifier: MPL-2.0

package wheel

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

// Ext is the file extension of a wheel archive.
const Ext = ".whl"

// ErrInvalidFilename is the sentinel error wrapped by InvalidFilenameError.
var ErrInvalidFilename = errors.New("invalid wheel filename")

type (
	// Filename is the parsed form of
	// {distribution}-{version}(-{build})?-{python}-{abi}-{platform}.whl.
	Filename struct {
		Distribution string
		Version      string
		Build        string
		PythonTag    string
		ABITag       string
		PlatformTag  string
	}

	// InvalidFilenameError is returned by ParseFilename.
	InvalidFilenameError struct {
		Name   string
		Reason string
	}
)

// Error implements the error interface.
func (e *InvalidFilenameError) Error() string {
	return fmt.Sprintf("invalid wheel filename %q: %s", e.Name, e.Reason)
}

// Unwrap returns ErrInvalidFilename.
func (e *InvalidFilenameError) Unwrap() error { return ErrInvalidFilename }

// ParseFilename parses the base name of a wheel path.
func ParseFilename(name string) (Filename, error) {
	base := filepath.Base(name)
	if !strings.HasSuffix(base, Ext) {
		return Filename{}, &InvalidFilenameError{Name: base, Reason: "missing .whl extension"}
	}

	parts := strings.Split(strings.TrimSuffix(base, Ext), "-")
	var f Filename
	switch len(parts) {
	case 5:
		f = Filename{parts[0], parts[1], "", parts[2], parts[3], parts[4]}
	case 6:
		f = Filename{parts[0], parts[1], parts[2], parts[3], parts[4], parts[5]}
	default:
		return Filename{}, &InvalidFilenameError{Name: base, Reason: fmt.Sprintf("expected 5 or 6 dash-separated fields, got %d", len(parts))}
	}

	for _, field := range []string{f.Distribution, f.Version, f.PythonTag, f.ABITag, f.PlatformTag} {
		if field == "" {
			return Filename{}, &InvalidFilenameError{Name: base, Reason: "empty field"}
		}
	}
	if len(parts) == 6 && (f.Build == "" || f.Build[0] < '0' || f.Build[0] > '9') {
		return Filename{}, &InvalidFilenameError{Name: base, Reason: "build tag must start with a digit"}
	}

	return f, nil
}

// String renders the canonical file name.
func (f Filename) String() string {
	fields := []string{f.Distribution, f.Version}
	if f.Build != "" {
		fields = append(fields, f.Build)
	}
	fields = append(fields, f.PythonTag, f.ABITag, f.PlatformTag)
	return strings.Join(fields, "-") + Ext
}

// Platforms splits a compressed platform tag set ("a.b") into its members.
func (f Filename) Platforms() []string {
	return strings.Split(f.PlatformTag, ".")
}

// Tags expands the compressed tag sets into every python-abi-platform triple,
// in the form used by the WHEEL metadata "Tag" header.
func (f Filename) Tags() []string {
	var tags []string
	for _, py := range strings.Split(f.PythonTag, ".") {
		for _, abi := range strings.Split(f.ABITag, ".") {
			for _, plat := range f.Platforms() {
				tags = append(tags, py+"-"+abi+"-"+plat)
			}
		}
	}
	return tags
}

// WithPlatform returns a copy of f carrying a different platform tag.
func (f Filename) WithPlatform(tag string) Filename {
	f.PlatformTag = tag
	return f
}

// IsPure reports whether the wheel declares no platform dependency.
func (f Filename) IsPure() bool {
	return f.PlatformTag == "any"
}

// DistInfoDir is the name of the wheel's metadata directory.
func (f Filename) DistInfoDir() string {
	return f.Distribution + "-" + f.Version + ".dist-info"
}

// LibsDir is the directory that receives bundled shared libraries.
func (f Filename) LibsDir() string {
	return f.Distribution + ".libs"
}
