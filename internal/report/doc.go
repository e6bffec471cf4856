// SPDX-License-Identifier: MPL-2.0

// Package report turns a persisted run summary into Markdown or JSON.
package report
