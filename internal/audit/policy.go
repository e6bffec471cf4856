// SPDX-License-Identifier: MPL-2.0

package audit

import (
	_ "embed"
	"fmt"
	"maps"
	"path"
	"slices"
	"strings"
	"sync"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/wheelhouse-dev/wheelhouse/pkg/cueutil"
)

const (
	// OSLinux marks ELF policies.
	OSLinux = "linux"
	// OSDarwin marks Mach-O policies.
	OSDarwin = "darwin"
)

var (
	//go:embed policy_schema.cue
	policySchema []byte

	//go:embed policies.cue
	policyData []byte

	loadPolicies = sync.OnceValues(func() (map[string]Policy, error) {
		res, err := cueutil.ParseAndDecode[map[string]Policy](policySchema, policyData, "#Policies", cueutil.WithFilename("policies.cue"))
		if err != nil {
			return nil, err
		}
		return *res.Value, nil
	})
)

// Policy lists the libraries a clean host of one platform provides.
type Policy struct {
	Name      string   `json:"-"`
	OS        string   `json:"os"`
	Tag       string   `json:"tag"`
	Libraries []string `json:"libraries"`
	Prefixes  []string `json:"prefixes"`
}

// LoadPolicy returns the embedded policy called name.
func LoadPolicy(name string) (*Policy, error) {
	all, err := loadPolicies()
	if err != nil {
		return nil, fmt.Errorf("internal error: embedded policies: %w", err)
	}
	p, ok := all[name]
	if !ok {
		return nil, fmt.Errorf("%w %q (available: %s)", ErrUnknownPolicy, name, strings.Join(PolicyNames(), ", "))
	}
	p.Name = name
	return &p, nil
}

// PolicyNames lists the embedded policies, sorted.
func PolicyNames() []string {
	all, err := loadPolicies()
	if err != nil {
		return nil
	}
	return slices.Sorted(maps.Keys(all))
}

// Allows reports whether a library reference is provided by the host.
// Install names with a directory are matched against Prefixes, bare
// sonames against Libraries.
func (p *Policy) Allows(ref string) bool {
	if strings.Contains(ref, "/") && !strings.HasPrefix(ref, "@") {
		for _, prefix := range p.Prefixes {
			if strings.HasPrefix(ref, prefix) {
				return true
			}
		}
		return false
	}

	name := path.Base(ref)
	for _, pattern := range p.Libraries {
		if ok, _ := doublestar.Match(pattern, name); ok {
			return true
		}
	}
	return false
}

// Retag maps a bare platform tag to the policy tag: with tag
// "manylinux_2_28", linux_x86_64 becomes manylinux_2_28_x86_64. Other tags
// are returned unchanged with false.
func (p *Policy) Retag(platform string) (string, bool) {
	if p.Tag == "" || p.OS != OSLinux {
		return platform, false
	}
	arch, ok := strings.CutPrefix(platform, "linux_")
	if !ok {
		return platform, false
	}
	return p.Tag + "_" + arch, true
}
