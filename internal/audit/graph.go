// SPDX-License-Identifier: MPL-2.0

package audit

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/wheelhouse-dev/wheelhouse/internal/provision"
)

// Class is the classification of one dependency edge target.
type Class string

const (
	// ClassSystem libraries are on the policy allowlist.
	ClassSystem Class = "system"
	// ClassInWheel libraries already travel inside the wheel.
	ClassInWheel Class = "in-wheel"
	// ClassBundled libraries live outside the wheel and must be bundled.
	ClassBundled Class = "bundled-required"
)

type (
	// Dependency is one library of the graph, keyed by its file name.
	Dependency struct {
		Name string `json:"name"`
		// Ref is the reference as first written in a load command.
		Ref      string   `json:"ref"`
		Path     string   `json:"path,omitempty"`
		Class    Class    `json:"class"`
		NeededBy []string `json:"needed_by"`
	}

	// Graph is the resolved dependency graph of a wheel's native
	// components.
	Graph struct {
		Root       string
		Components []*Binary
		Deps       []*Dependency

		byName   map[string]*Dependency
		binaries map[string]*Binary
	}

	// Resolver walks dependency graphs.
	Resolver struct {
		Inspector  Inspector
		Policy     *Policy
		SearchPath []string
	}
)

// Dep returns the dependency with the given file name.
func (g *Graph) Dep(name string) *Dependency {
	return g.byName[name]
}

// Binary returns the inspected form of a resolved path.
func (g *Graph) Binary(path string) *Binary {
	return g.binaries[path]
}

// Resolve inspects the components (wheel-relative, slash separated) under
// root and follows their references recursively. Allowlisted libraries
// end the walk. The first unresolvable reference or conflict is returned
// as an error together with the partial graph.
func (r *Resolver) Resolve(root string, components []string) (*Graph, error) {
	g := &Graph{
		Root:     root,
		byName:   make(map[string]*Dependency),
		binaries: make(map[string]*Binary),
	}
	for _, c := range components {
		bin, err := r.Inspector.Inspect(filepath.Join(root, filepath.FromSlash(c)))
		if err != nil {
			return g, err
		}
		g.Components = append(g.Components, bin)
		g.binaries[bin.Path] = bin
	}

	for i, bin := range g.Components {
		if err := r.walk(g, bin, components[i]); err != nil {
			return g, err
		}
	}
	return g, nil
}

func (r *Resolver) walk(g *Graph, bin *Binary, label string) error {
	for _, ref := range bin.Needed {
		name := filepath.Base(ref)

		if r.Policy.Allows(ref) {
			r.record(g, name, ref, "", ClassSystem, label)
			continue
		}

		p, ok := r.locate(bin, ref)
		if !ok {
			return &DependencyResolutionError{Library: ref, NeededBy: label}
		}

		if existing := g.byName[name]; existing != nil {
			if existing.Path != p {
				if err := sameContent(name, existing.Path, p); err != nil {
					return err
				}
			}
			existing.NeededBy = appendUnique(existing.NeededBy, label)
			continue
		}

		dep, ok := g.binaries[p]
		if !ok {
			var err error
			if dep, err = r.Inspector.Inspect(p); err != nil {
				return fmt.Errorf("inspect %s: %w", p, err)
			}
			g.binaries[p] = dep
		}
		if dep.Machine != bin.Machine || dep.Bits != bin.Bits {
			return &ConflictError{
				Library: name,
				First:   label,
				Second:  p,
				Reason:  fmt.Sprintf("%s/%d-bit library loaded by %s/%d-bit binary", dep.Machine, dep.Bits, bin.Machine, bin.Bits),
			}
		}

		class := ClassBundled
		childLabel := name
		if rel, inside := within(g.Root, p); inside {
			class = ClassInWheel
			childLabel = rel
		}
		r.record(g, name, ref, p, class, label)
		if err := r.walk(g, dep, childLabel); err != nil {
			return err
		}
	}
	return nil
}

func (r *Resolver) record(g *Graph, name, ref, p string, class Class, neededBy string) {
	if dep, ok := g.byName[name]; ok {
		dep.NeededBy = appendUnique(dep.NeededBy, neededBy)
		return
	}
	dep := &Dependency{Name: name, Ref: ref, Path: p, Class: class, NeededBy: []string{neededBy}}
	g.byName[name] = dep
	g.Deps = append(g.Deps, dep)
}

// locate finds the file a reference resolves to, trying the loader's run
// paths before the search path.
func (r *Resolver) locate(bin *Binary, ref string) (string, bool) {
	loaderDir := filepath.Dir(bin.Path)

	switch {
	case strings.HasPrefix(ref, "@rpath/"):
		rest := strings.TrimPrefix(ref, "@rpath/")
		for _, rp := range bin.RPaths {
			if p := filepath.Join(expandOrigin(rp, loaderDir), rest); isFile(p) {
				return p, true
			}
		}
		return "", false
	case strings.HasPrefix(ref, "@loader_path/"), strings.HasPrefix(ref, "@executable_path/"):
		_, rest, _ := strings.Cut(ref, "/")
		p := filepath.Join(loaderDir, rest)
		return p, isFile(p)
	case filepath.IsAbs(ref):
		return ref, isFile(ref)
	}

	for _, rp := range bin.RPaths {
		if p := filepath.Join(expandOrigin(rp, loaderDir), ref); isFile(p) {
			return p, true
		}
	}
	for _, dir := range r.SearchPath {
		if p := filepath.Join(dir, ref); isFile(p) {
			return p, true
		}
	}
	return "", false
}

// expandOrigin substitutes the loader directory for $ORIGIN and
// @loader_path.
func expandOrigin(rpath, loaderDir string) string {
	for _, token := range []string{"${ORIGIN}", "$ORIGIN", "@loader_path", "@executable_path"} {
		rpath = strings.ReplaceAll(rpath, token, loaderDir)
	}
	return rpath
}

// within reports whether p is inside root and returns the slash-separated
// relative path.
func within(root, p string) (string, bool) {
	rel, err := filepath.Rel(root, p)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", false
	}
	return filepath.ToSlash(rel), true
}

func sameContent(name, first, second string) error {
	a, errA := provision.CalculateFileHash(first)
	b, errB := provision.CalculateFileHash(second)
	if errA == nil && errB == nil && a == b {
		return nil
	}
	return &ConflictError{Library: name, First: first, Second: second, Reason: "same soname provided by two different files"}
}

func isFile(p string) bool {
	info, err := os.Stat(p)
	return err == nil && !info.IsDir()
}

func appendUnique(list []string, s string) []string {
	for _, v := range list {
		if v == s {
			return list
		}
	}
	return append(list, s)
}
