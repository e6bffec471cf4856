// SPDX-License-Identifier: MPL-2.0

// Package wheel reads and writes binary wheel archives: file-name tags, the
// .dist-info WHEEL metadata and the RECORD manifest.
//
// An unpacked wheel is a plain directory. Callers mutate it on disk and then
// Pack it into a new archive; Pack regenerates RECORD from the directory
// contents, so the manifest always matches the payload.
package wheel
