// SPDX-License-Identifier: MPL-2.0

// Package publish uploads audited wheels to an S3-compatible bucket.
//
// Publishing is all or nothing up front: every wheel is checked before the
// first upload, and a wheel that still carries a bare linux_* platform tag
// or has an audit diagnostics file next to it rejects the whole set.
package publish
