// SPDX-License-Identifier: MPL-2.0

// Package matrix runs a selection of matrix environments in order.
//
// For each environment the controller provisions an isolated interpreter,
// builds the execution context from an explicit host snapshot and the
// environment's allowlist, substitutes placeholders and runs the command
// sequence through the embedded shell. Required environments stop the run
// on their first failing command; best-effort environments only warn.
// Every run is summarized in <work_dir>/last-run.json.
package matrix
