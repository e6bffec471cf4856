// SPDX-License-Identifier: MPL-2.0

// Package provision creates the isolated Python environments that command
// sequences run in, and builds the wheels those environments install.
//
// The main entry point is the Provisioner interface, implemented by
// VenvProvisioner:
//
//	p := provision.NewVenvProvisioner(shell, cfg)
//	res, err := p.Provision(ctx, provision.Request{Name: "py3", Dir: envDir, Deps: deps})
//	// res.BinDir is prepended to PATH in the execution context
//
// Provisioned environments are cached by a fingerprint of the interpreter,
// the dependency set and the install mode. An unchanged fingerprint reuses
// the existing environment.
package provision
