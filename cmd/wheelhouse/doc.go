// SPDX-License-Identifier: MPL-2.0

// Package cmd contains the wheelhouse command tree.
//
// Handlers receive an *App, the composition root holding the config
// provider, output streams and the host environment snapshot. Nothing below
// this package reads os.Environ: the snapshot taken here is passed down as
// an explicit map.
package cmd
