// SPDX-License-Identifier: MPL-2.0

// Package config handles user configuration using Viper with CUE as the file
// format.
//
// Configuration is loaded from ~/.config/wheelhouse/config.cue (XDG on Linux,
// ~/Library/Application Support/wheelhouse/config.cue on macOS,
// %APPDATA%\wheelhouse\config.cue on Windows) and validated against the
// embedded #Config schema. It holds per-user settings: log level, worker
// counts, audit validator choice and publishing credentials. Per-project
// settings live in the matrix file.
package config
