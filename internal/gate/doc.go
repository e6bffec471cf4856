// SPDX-License-Identifier: MPL-2.0

// Package gate implements the lint and documentation gate: independent
// pass/fail units that check source style, validate a structured-text
// document and optionally build documentation.
//
// Units share no data and run in parallel. The gate fails when any unit
// fails.
package gate
