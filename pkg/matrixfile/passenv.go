// SPDX-License-Identifier: MPL-2.0

package matrixfile

import (
	"maps"
	"slices"

	"github.com/bmatcuk/doublestar/v4"
)

// Allowlist is a set of forwarded-variable patterns. A pattern is a literal
// key or a glob such as SCCACHE_*, matched against the whole key.
type Allowlist []string

// Allows reports whether key may cross into an execution context.
func (a Allowlist) Allows(key string) bool {
	for _, pattern := range a {
		if pattern == key {
			return true
		}
		if ok, err := doublestar.Match(pattern, key); err == nil && ok {
			return true
		}
	}
	return false
}

// Filter returns the subset of host whose keys are allowed.
func (a Allowlist) Filter(host map[string]string) map[string]string {
	out := make(map[string]string)
	for key, value := range host {
		if a.Allows(key) {
			out[key] = value
		}
	}
	return out
}

// Keys returns the sorted host keys the allowlist forwards.
func (a Allowlist) Keys(host map[string]string) []string {
	return slices.Sorted(maps.Keys(a.Filter(host)))
}

// Union appends patterns not already present, keeping order.
func (a Allowlist) Union(patterns ...string) Allowlist {
	out := slices.Clone(a)
	for _, p := range patterns {
		if !slices.Contains(out, p) {
			out = append(out, p)
		}
	}
	return out
}
