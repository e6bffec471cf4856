// SPDX-License-Identifier: MPL-2.0

package audit

import (
	"bytes"
	"debug/macho"
	"fmt"
)

// loadCmdIDDylib is LC_ID_DYLIB, which debug/macho leaves unparsed.
const loadCmdIDDylib = 0xd

var machoCPUs = map[macho.Cpu]string{
	macho.CpuAmd64: "x86_64",
	macho.Cpu386:   "i386",
	macho.CpuArm64: "arm64",
	macho.CpuArm:   "arm",
}

func inspectMachO(path string) (*Binary, error) {
	f, closeFn, err := openMachO(path)
	if err != nil {
		return nil, fmt.Errorf("%s: %w: %v", path, ErrNotBinary, err)
	}
	defer closeFn()

	b := &Binary{Path: path, Format: FormatMachO, Machine: f.Cpu.String(), Bits: 32}
	if name, ok := machoCPUs[f.Cpu]; ok {
		b.Machine = name
	}
	if f.Magic == macho.Magic64 {
		b.Bits = 64
	}

	if b.Needed, err = f.ImportedLibraries(); err != nil {
		return nil, fmt.Errorf("%s: read load commands: %w", path, err)
	}
	for _, l := range f.Loads {
		switch l := l.(type) {
		case *macho.Rpath:
			b.RPaths = append(b.RPaths, l.Path)
		case macho.LoadBytes:
			if len(l) >= 12 && f.ByteOrder.Uint32(l[0:4]) == loadCmdIDDylib {
				off := f.ByteOrder.Uint32(l[8:12])
				if int(off) < len(l) {
					name := l[off:]
					if i := bytes.IndexByte(name, 0); i >= 0 {
						name = name[:i]
					}
					b.Soname = string(name)
				}
			}
		}
	}
	return b, nil
}

// openMachO opens a thin file, or the first slice of a universal binary.
func openMachO(path string) (*macho.File, func(), error) {
	if f, err := macho.Open(path); err == nil {
		return f, func() { _ = f.Close() }, nil
	}
	fat, err := macho.OpenFat(path)
	if err != nil {
		return nil, nil, err
	}
	if len(fat.Arches) == 0 {
		_ = fat.Close()
		return nil, nil, fmt.Errorf("empty universal binary")
	}
	return fat.Arches[0].File, func() { _ = fat.Close() }, nil
}
