// SPDX-License-Identifier: MPL-2.0

// Package matrixfile loads and validates the environment matrix: the named
// environments, their dependency sets, command sequences and forwarded
// variable allowlists, plus the builder, test, audit and lint settings shared
// by the pipeline stages.
//
// A matrix is declared either in wheelhouse.cue, validated against the
// embedded #Matrix schema, or in the [tool.wheelhouse] table of
// pyproject.toml. Both forms decode into the same Matrix value.
package matrixfile
