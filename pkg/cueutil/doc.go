// SPDX-License-Identifier: MPL-2.0

// Package cueutil holds the CUE parsing flow shared by the matrix file, the
// user configuration and the audit policy table:
//
//  1. compile the embedded schema
//  2. compile the user document and unify it with a schema definition
//  3. validate and decode into a Go value
//
// Errors carry JSON-path style locations ("envs.py3.commands[1]") so that a
// broken matrix file points at the offending field.
package cueutil
