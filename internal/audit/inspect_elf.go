// SPDX-License-Identifier: MPL-2.0

package audit

import (
	"debug/elf"
	"fmt"
	"strings"
)

var elfMachines = map[elf.Machine]string{
	elf.EM_X86_64:  "x86_64",
	elf.EM_386:     "i686",
	elf.EM_AARCH64: "aarch64",
	elf.EM_ARM:     "armv7l",
	elf.EM_PPC64:   "ppc64le",
	elf.EM_S390:    "s390x",
	elf.EM_RISCV:   "riscv64",
}

func inspectELF(path string) (*Binary, error) {
	f, err := elf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%s: %w: %v", path, ErrNotBinary, err)
	}
	defer func() { _ = f.Close() }() // Read-only file; close error non-critical

	b := &Binary{Path: path, Format: FormatELF, Machine: f.Machine.String(), Bits: 64}
	if name, ok := elfMachines[f.Machine]; ok {
		b.Machine = name
	}
	if f.Class == elf.ELFCLASS32 {
		b.Bits = 32
	}

	// Static executables have no dynamic section.
	if f.Section(".dynamic") == nil {
		return b, nil
	}

	if b.Needed, err = f.DynString(elf.DT_NEEDED); err != nil {
		return nil, fmt.Errorf("%s: read DT_NEEDED: %w", path, err)
	}
	if sonames, err := f.DynString(elf.DT_SONAME); err == nil && len(sonames) > 0 {
		b.Soname = sonames[0]
	}
	for _, tag := range []elf.DynTag{elf.DT_RPATH, elf.DT_RUNPATH} {
		values, err := f.DynString(tag)
		if err != nil {
			continue
		}
		for _, v := range values {
			for _, p := range strings.Split(v, ":") {
				if p != "" {
					b.RPaths = append(b.RPaths, p)
				}
			}
		}
	}
	return b, nil
}
