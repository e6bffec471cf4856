// SPDX-License-Identifier: MPL-2.0

// Package issue provides actionable errors and a catalog of Markdown
// guidance for the failures users hit most: missing matrix files, broken
// inheritance, failed provisioning, unportable wheels and the like.
package issue
