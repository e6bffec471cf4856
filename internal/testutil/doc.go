// SPDX-License-Identifier: MPL-2.0

// Package testutil holds helpers shared by the package tests: a fake clock
// for retry delays, file fixtures that fail the test on error, and the gate
// for tests that need a container provider.
package testutil
