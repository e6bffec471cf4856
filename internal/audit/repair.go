// SPDX-License-Identifier: MPL-2.0

package audit

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/wheelhouse-dev/wheelhouse/internal/provision"
)

// Bundled records one library copied into the wheel.
type Bundled struct {
	Name      string `json:"name"`
	Source    string `json:"source"`
	BundledAs string `json:"bundled_as"`
}

// HashedName inserts the first eight hex digits of a content hash after
// the library stem: libfoo.so.1 becomes libfoo-<hash8>.so.1.
func HashedName(name, sum string) string {
	if len(sum) > 8 {
		sum = sum[:8]
	}
	stem, rest, found := strings.Cut(name, ".")
	if !found {
		return name + "-" + sum
	}
	return stem + "-" + sum + "." + rest
}

// bundle copies every bundled-required library of g into libsDir and
// rewrites the references of the wheel's binaries and of the copies
// themselves.
func (a *Auditor) bundle(ctx context.Context, g *Graph, libsDir string) ([]Bundled, error) {
	var required []*Dependency
	for _, dep := range g.Deps {
		if dep.Class == ClassBundled {
			required = append(required, dep)
		}
	}
	if len(required) == 0 {
		return nil, nil
	}
	if err := os.MkdirAll(libsDir, 0o755); err != nil {
		return nil, fmt.Errorf("create %s: %w", libsDir, err)
	}

	// renames maps a library file name to its bundled file name.
	renames := make(map[string]string, len(required))
	var (
		bundled []Bundled
		copies  []*Binary
	)
	for _, dep := range required {
		sum, err := provision.CalculateFileHash(dep.Path)
		if err != nil {
			return nil, fmt.Errorf("hash %s: %w", dep.Path, err)
		}
		newName := HashedName(dep.Name, sum)
		dst := filepath.Join(libsDir, newName)
		if err := provision.CopyFile(dep.Path, dst); err != nil {
			return nil, fmt.Errorf("bundle %s: %w", dep.Name, err)
		}
		if err := os.Chmod(dst, 0o755); err != nil {
			return nil, err
		}

		src := g.Binary(dep.Path)
		patcher, err := a.patcher(src.Format)
		if err != nil {
			return nil, err
		}
		if err := patcher.SetSoname(ctx, dst, src.Format.reference(newName)); err != nil {
			return nil, err
		}
		if err := patcher.SetRPath(ctx, dst, src.Format.originRPath("")); err != nil {
			return nil, err
		}

		renames[dep.Name] = newName
		c := *src
		c.Path = dst
		copies = append(copies, &c)
		bundled = append(bundled, Bundled{Name: dep.Name, Source: dep.Path, BundledAs: newName})
	}

	targets := append(append([]*Binary{}, g.Components...), copies...)
	for _, bin := range targets {
		replacements := make(map[string]string)
		for _, ref := range bin.Needed {
			if newName, ok := renames[filepath.Base(ref)]; ok {
				replacements[ref] = bin.Format.reference(newName)
			}
		}
		if len(replacements) == 0 {
			continue
		}

		patcher, err := a.patcher(bin.Format)
		if err != nil {
			return nil, err
		}
		if err := patcher.ReplaceNeeded(ctx, bin.Path, replacements); err != nil {
			return nil, err
		}
		if filepath.Dir(bin.Path) == libsDir {
			continue
		}
		rel, err := filepath.Rel(filepath.Dir(bin.Path), libsDir)
		if err != nil {
			return nil, err
		}
		if err := patcher.SetRPath(ctx, bin.Path, mergeRPath(bin, bin.Format.originRPath(filepath.ToSlash(rel)))); err != nil {
			return nil, err
		}
	}
	return bundled, nil
}

func (a *Auditor) patcher(format Format) (Patcher, error) {
	p, ok := a.patchers[format]
	if !ok {
		return nil, fmt.Errorf("no patcher for %q binaries", format)
	}
	return p, nil
}

// mergeRPath puts rpath first and keeps the binary's existing
// origin-relative entries. Absolute entries point into the build machine
// and are dropped. Mach-O run paths are additive, so only rpath is
// returned for them.
func mergeRPath(bin *Binary, rpath string) string {
	if bin.Format == FormatMachO {
		return rpath
	}
	entries := []string{rpath}
	for _, rp := range bin.RPaths {
		if rp != rpath && (strings.HasPrefix(rp, "$ORIGIN") || strings.HasPrefix(rp, "${ORIGIN}")) {
			entries = append(entries, rp)
		}
	}
	return strings.Join(entries, ":")
}
