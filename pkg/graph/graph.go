// Package graph implements ModuleGraph: the combined application and
// platform module set, transitive platform closure, and deterministic
// emission ordering (spec.md §4.6).
package graph

import (
	"fmt"
	"sort"

	"github.com/sirupsen/logrus"

	"github.com/openshift-psap/runtime-linker/pkg/api/v1alpha1"
)

// DuplicateModule is fatal: add was called twice for the same module
// name.
type DuplicateModule struct {
	Name string
}

func (e *DuplicateModule) Error() string {
	return fmt.Sprintf("duplicate module %s", e.Name)
}

// Graph is arena-backed (spec.md §9's "arena plus integer-indexed
// maps" redesign direction) rather than a graph of back-referencing
// pointers: a single slice of ModuleRefs plus a name index.
type Graph struct {
	arena []*v1alpha1.ModuleRef
	index map[string]int

	// platformBase names the platform-base module, ordered first by
	// Ordered (spec.md §4.6).
	platformBase string

	Log *logrus.Entry
}

// New builds an empty Graph. platformBase names the module that must
// sort first in Ordered.
func New(platformBase string) *Graph {
	return &Graph{
		index:        make(map[string]int),
		platformBase: platformBase,
		Log:          logrus.New().WithField("component", "graph"),
	}
}

// Add inserts ref by name in constant time, failing with
// DuplicateModule if the name is already present.
func (g *Graph) Add(ref *v1alpha1.ModuleRef) error {
	if _, ok := g.index[ref.Name]; ok {
		return &DuplicateModule{Name: ref.Name}
	}
	g.index[ref.Name] = len(g.arena)
	g.arena = append(g.arena, ref)
	return nil
}

// Get returns the module named name, if present.
func (g *Graph) Get(name string) (*v1alpha1.ModuleRef, bool) {
	i, ok := g.index[name]
	if !ok {
		return nil, false
	}
	return g.arena[i], true
}

// ExporterOf returns the name of the module that exports pkg, if any.
// Satisfies depanalyzer.ExportIndex.
func (g *Graph) ExporterOf(pkg string) (string, bool) {
	for _, ref := range g.arena {
		for _, p := range ref.Descriptor.ExportedPackages(ref.Automatic) {
			if p == pkg {
				return ref.Name, true
			}
		}
	}
	return "", false
}

// CloseOverPlatform computes the transitive closure of requires
// within the platform module subgraph only, starting from seeds (the
// application's direct platform dependencies). Self-loops are
// ignored; a requires target with no corresponding module emits a
// warning but does not abort.
func (g *Graph) CloseOverPlatform(seeds []string) []string {
	visited := make(map[string]bool)
	var queue []string
	for _, s := range seeds {
		if !visited[s] {
			visited[s] = true
			queue = append(queue, s)
		}
	}

	for len(queue) > 0 {
		name := queue[0]
		queue = queue[1:]

		ref, ok := g.Get(name)
		if !ok {
			g.Log.Warnf("platform closure: no module named %s", name)
			continue
		}
		for _, req := range ref.Descriptor.Requires {
			if req.Target == name {
				continue
			}
			if visited[req.Target] {
				continue
			}
			visited[req.Target] = true
			queue = append(queue, req.Target)
		}
	}

	out := make([]string, 0, len(visited))
	for name := range visited {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Ordered returns every module in a total, deterministic order: the
// platform-base module first, then the remaining modules sorted by
// name with ties (there are none, names are unique) broken
// lexicographically.
func (g *Graph) Ordered() []*v1alpha1.ModuleRef {
	rest := make([]*v1alpha1.ModuleRef, 0, len(g.arena))
	var base *v1alpha1.ModuleRef
	for _, ref := range g.arena {
		if ref.Name == g.platformBase {
			base = ref
			continue
		}
		rest = append(rest, ref)
	}
	sort.Slice(rest, func(i, j int) bool { return rest[i].Name < rest[j].Name })

	out := make([]*v1alpha1.ModuleRef, 0, len(g.arena))
	if base != nil {
		out = append(out, base)
	}
	out = append(out, rest...)
	return out
}

// Len reports the number of modules currently in the graph.
func (g *Graph) Len() int { return len(g.arena) }
