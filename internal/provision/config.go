// SPDX-License-Identifier: MPL-2.0

package provision

import "io"

type (
	// Config holds configuration for environment provisioning.
	Config struct {
		// Python is the base interpreter used to create environments.
		Python string

		// Recreate bypasses the fingerprint cache and rebuilds every
		// environment from scratch.
		Recreate bool

		// Stdout and Stderr receive the output of venv and pip.
		Stdout io.Writer
		Stderr io.Writer
	}

	// Option is a functional option for configuring a Config.
	Option func(*Config)
)

// DefaultConfig returns a Config with default values.
func DefaultConfig() *Config {
	return &Config{
		Python: "python3",
		Stdout: io.Discard,
		Stderr: io.Discard,
	}
}

// WithPython returns an Option that sets the base interpreter.
func WithPython(python string) Option {
	return func(c *Config) {
		if python != "" {
			c.Python = python
		}
	}
}

// WithRecreate returns an Option that sets Recreate on the config.
func WithRecreate(recreate bool) Option {
	return func(c *Config) {
		c.Recreate = recreate
	}
}

// WithOutput returns an Option that routes tool output.
func WithOutput(stdout, stderr io.Writer) Option {
	return func(c *Config) {
		c.Stdout = stdout
		c.Stderr = stderr
	}
}

// Apply applies the given options to the config.
func (c *Config) Apply(opts ...Option) {
	for _, opt := range opts {
		opt(c)
	}
}
