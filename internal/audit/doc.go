// SPDX-License-Identifier: MPL-2.0

// Package audit makes built wheels portable. For every wheel in the
// artifact directory it walks the native dependency graph of the compiled
// components, classifies each library against a platform policy, bundles
// the libraries a clean host would not provide, retags the wheel and
// validates the result before it replaces the original.
//
// Binary inspection and patching sit behind the Inspector and Patcher
// interfaces; the default implementations read ELF and Mach-O with
// debug/elf and debug/macho and patch with patchelf and install_name_tool.
package audit
