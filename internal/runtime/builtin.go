// SPDX-License-Identifier: MPL-2.0

package runtime

import (
	"context"
	"fmt"
	"io"
	"slices"
	"sync"
)

type (
	// Invocation is what a builtin sees: its arguments and the execution
	// context of the command that invoked it.
	Invocation struct {
		// Args excludes the program and stage names.
		Args   []string
		Dir    string
		Env    map[string]string
		Stdin  io.Reader
		Stdout io.Writer
		Stderr io.Writer
	}

	// BuiltinFunc implements a pipeline stage callable from a command
	// sequence. Returning *ExitStatusError selects the exit status; any other
	// error is printed and reported as status 1.
	BuiltinFunc func(ctx context.Context, inv Invocation) error

	// Registry maps stage names to builtins.
	Registry struct {
		mu       sync.RWMutex
		builtins map[string]BuiltinFunc
	}
)

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{builtins: make(map[string]BuiltinFunc)}
}

// Register adds a builtin. Empty or duplicate names panic.
func (r *Registry) Register(name string, fn BuiltinFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if name == "" {
		panic("runtime: cannot register builtin with empty name")
	}
	if _, exists := r.builtins[name]; exists {
		panic(fmt.Sprintf("runtime: builtin %q already registered", name))
	}
	r.builtins[name] = fn
}

// Lookup returns the builtin registered under name.
func (r *Registry) Lookup(name string) (BuiltinFunc, bool) {
	if r == nil {
		return nil, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	fn, ok := r.builtins[name]
	return fn, ok
}

// Names returns the registered names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.builtins))
	for name := range r.builtins {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}
