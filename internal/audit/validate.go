// SPDX-License-Identifier: MPL-2.0

package audit

import (
	"context"
	"fmt"

	"github.com/wheelhouse-dev/wheelhouse/pkg/wheel"
)

type (
	// Validator simulates loading a repaired wheel on a clean host.
	Validator interface {
		Name() string
		Validate(ctx context.Context, in ValidationInput) error
	}

	// ValidationInput is the repaired wheel, packed and unpacked.
	ValidationInput struct {
		// Root is the unpacked payload.
		Root string
		// Wheel is the packed archive.
		Wheel      string
		Filename   wheel.Filename
		Components []string
	}

	// StaticValidator re-inspects the payload and resolves every reference
	// using only the payload itself and the policy allowlist.
	StaticValidator struct {
		Inspector Inspector
		Policy    *Policy
	}
)

// Compile-time interface check
var _ Validator = (*StaticValidator)(nil)

// Name implements Validator.
func (v *StaticValidator) Name() string { return "static" }

// Validate implements Validator.
func (v *StaticValidator) Validate(_ context.Context, in ValidationInput) error {
	r := &Resolver{Inspector: v.Inspector, Policy: v.Policy}
	g, err := r.Resolve(in.Root, in.Components)
	if err != nil {
		return err
	}
	for _, dep := range g.Deps {
		if dep.Class == ClassBundled {
			return fmt.Errorf("%s resolves outside the wheel to %s", dep.Name, dep.Path)
		}
	}
	return nil
}
