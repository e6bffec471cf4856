// SPDX-License-Identifier: MPL-2.0

package audit

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
)

// Format identifies a native binary format.
type Format string

const (
	FormatELF   Format = "elf"
	FormatMachO Format = "macho"
)

type (
	// Binary is what the auditor needs to know about one native file.
	Binary struct {
		Path   string `json:"path"`
		Format Format `json:"format"`
		// Machine is the architecture name, e.g. "x86_64".
		Machine string `json:"machine"`
		// Bits is the ELF class or Mach-O word size: 32 or 64.
		Bits int `json:"bits"`
		// Soname is DT_SONAME or the LC_ID_DYLIB install name.
		Soname string   `json:"soname,omitempty"`
		Needed []string `json:"needed,omitempty"`
		// RPaths holds DT_RPATH and DT_RUNPATH entries, or LC_RPATH.
		RPaths []string `json:"rpaths,omitempty"`
	}

	// Inspector reads a native binary. Files that are not native binaries
	// return an error wrapping ErrNotBinary.
	Inspector interface {
		Inspect(path string) (*Binary, error)
	}

	// AutoInspector dispatches on the file's magic number.
	AutoInspector struct{}
)

var (
	elfMagic   = []byte{0x7f, 'E', 'L', 'F'}
	machoMagic = [][]byte{
		{0xfe, 0xed, 0xfa, 0xce}, {0xce, 0xfa, 0xed, 0xfe},
		{0xfe, 0xed, 0xfa, 0xcf}, {0xcf, 0xfa, 0xed, 0xfe},
		{0xca, 0xfe, 0xba, 0xbe},
	}
)

// Compile-time interface check
var _ Inspector = AutoInspector{}

// Inspect implements Inspector.
func (AutoInspector) Inspect(path string) (*Binary, error) {
	format, err := DetectFormat(path)
	if err != nil {
		return nil, err
	}
	switch format {
	case FormatELF:
		return inspectELF(path)
	case FormatMachO:
		return inspectMachO(path)
	default:
		return nil, fmt.Errorf("%s: %w", path, ErrNotBinary)
	}
}

// DetectFormat reads the magic number of path. Unknown files yield "".
func DetectFormat(path string) (Format, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer func() { _ = f.Close() }() // Read-only file; close error non-critical

	magic := make([]byte, 4)
	if _, err := io.ReadFull(f, magic); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return "", nil
		}
		return "", err
	}

	if bytes.Equal(magic, elfMagic) {
		return FormatELF, nil
	}
	for _, m := range machoMagic {
		if bytes.Equal(magic, m) {
			return FormatMachO, nil
		}
	}
	return "", nil
}

// reference is how a binary of format f names a bundled library.
func (f Format) reference(name string) string {
	if f == FormatMachO {
		return "@rpath/" + name
	}
	return name
}

// originRPath is the format's RPATH pointing at rel from the binary's own
// directory.
func (f Format) originRPath(rel string) string {
	origin := "$ORIGIN"
	if f == FormatMachO {
		origin = "@loader_path"
	}
	if rel == "" || rel == "." {
		return origin
	}
	return origin + "/" + rel
}
