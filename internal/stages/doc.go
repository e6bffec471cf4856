// SPDX-License-Identifier: MPL-2.0

// Package stages implements the pipeline stages a command sequence can call
// in-process as "wheelhouse <stage> ...": test, audit, lint, docs and build.
//
// Each stage sees only the execution context of the command that invoked
// it. Stage flags default to the matrix settings, which in turn override
// the user configuration.
package stages
