// SPDX-License-Identifier: MPL-2.0

// Package runtime executes command sequences inside an environment's
// execution context.
//
// Commands are POSIX shell strings interpreted by the embedded mvdan/sh
// interpreter with an explicit environment; the host environment is never
// read here. External programs run in their own process group so that
// cancellation (a test timeout, Ctrl-C) terminates the whole tree. Commands
// of the form "wheelhouse <stage> ..." are dispatched to in-process
// builtins registered on a Registry.
package runtime
