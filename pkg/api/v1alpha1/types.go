// Package v1alpha1 holds the data model shared by every phase of the
// linker: discovered module references, parsed descriptors, and the
// artifact entries that make up a module's contents on disk.
package v1alpha1

import "sort"

// ArtifactKind identifies how a module's bytes are laid out on disk.
type ArtifactKind string

const (
	KindDir      ArtifactKind = "dir"
	KindJar      ArtifactKind = "jar"
	KindPackaged ArtifactKind = "packaged"
)

// EntryKind classifies a single entry inside an artifact so the linker
// can order emission (non-class-or-resource first) and apply
// kind-specific policy such as --strip-debug.
type EntryKind string

const (
	EntryClassOrResource EntryKind = "class-or-resource"
	EntryConfig          EntryKind = "config"
	EntryNativeLib       EntryKind = "native-lib"
	EntryNativeCmd       EntryKind = "native-cmd"
	EntryHeader          EntryKind = "header"
	EntryLegal           EntryKind = "legal"
	EntryMan             EntryKind = "man"
)

// Modifier is a descriptor- or requires-level access flag.
type Modifier string

const (
	ModOpen       Modifier = "open"
	ModAutomatic  Modifier = "automatic"
	ModSynthetic  Modifier = "synthetic"
	ModMandated   Modifier = "mandated"
	ModTransitive Modifier = "transitive"
	ModStatic     Modifier = "static-phase"
)

// Requires is one dependency edge from a module to a named target.
type Requires struct {
	Target          string
	Transitive      bool
	Static          bool
	CompiledVersion string
}

// PackageClause is the shared shape of an exports or opens clause: a
// source package, optionally qualified to a set of target modules
// (empty Targets means unqualified / visible to all readers).
type PackageClause struct {
	Source  string
	Targets []string
}

// Provides is a service interface mapped to its ordered provider
// implementation class names.
type Provides struct {
	Service   string
	Providers []string
}

// Descriptor is immutable parsed module metadata. Rewrites always
// produce a new Descriptor value rather than mutating one in place.
type Descriptor struct {
	Name      string
	Version   string
	Modifiers map[Modifier]bool
	MainClass string
	Packages  []string
	Requires  []Requires
	Exports   []PackageClause
	Opens     []PackageClause
	Uses      []string
	Provides  []Provides

	// TargetPlatform is only set when the descriptor carries a
	// ModuleTarget attribute (spec.md §4.2).
	TargetPlatform string
}

// HasModifier reports whether m is present on the descriptor.
func (d *Descriptor) HasModifier(m Modifier) bool {
	if d == nil || d.Modifiers == nil {
		return false
	}
	return d.Modifiers[m]
}

// Clone returns a deep copy so rewrite steps can build a new
// Descriptor without aliasing the original's slices/maps.
func (d *Descriptor) Clone() *Descriptor {
	if d == nil {
		return nil
	}
	out := &Descriptor{
		Name:           d.Name,
		Version:        d.Version,
		MainClass:      d.MainClass,
		TargetPlatform: d.TargetPlatform,
	}
	if d.Modifiers != nil {
		out.Modifiers = make(map[Modifier]bool, len(d.Modifiers))
		for k, v := range d.Modifiers {
			out.Modifiers[k] = v
		}
	}
	out.Packages = append(out.Packages, d.Packages...)
	out.Requires = append(out.Requires, d.Requires...)
	out.Exports = clonePackageClauses(d.Exports)
	out.Opens = clonePackageClauses(d.Opens)
	out.Uses = append(out.Uses, d.Uses...)
	for _, p := range d.Provides {
		np := Provides{Service: p.Service}
		np.Providers = append(np.Providers, p.Providers...)
		out.Provides = append(out.Provides, np)
	}
	return out
}

func clonePackageClauses(in []PackageClause) []PackageClause {
	if in == nil {
		return nil
	}
	out := make([]PackageClause, len(in))
	for i, c := range in {
		nc := PackageClause{Source: c.Source}
		nc.Targets = append(nc.Targets, c.Targets...)
		out[i] = nc
	}
	return out
}

// ExportedPackages returns the set of packages a descriptor makes
// visible: its declared exports when present, else every package it
// owns (the "effective exports" rule spec.md §4.5 defines for
// automatic modules).
func (d *Descriptor) ExportedPackages(automatic bool) []string {
	if automatic || len(d.Exports) == 0 {
		out := append([]string(nil), d.Packages...)
		sort.Strings(out)
		return out
	}
	out := make([]string, 0, len(d.Exports))
	for _, e := range d.Exports {
		out = append(out, e.Source)
	}
	sort.Strings(out)
	return out
}

// ModuleRef is a discovered module artifact. Its Descriptor field is
// swapped exactly once, atomically, at the end of the rewrite pass
// (see Lifecycle, spec.md §3); nothing else mutates a ModuleRef
// concurrently with graph construction.
type ModuleRef struct {
	Name                  string
	Version               string
	Location              string
	Kind                  ArtifactKind
	Automatic             bool
	Descriptor            *Descriptor
	OriginDescriptorBytes []byte

	// ExtraRequires accumulates dependency names discovered by
	// DependencyAnalyzer/ConflictResolver that DescriptorRewriter must
	// fold into the rewritten descriptor's requires set.
	ExtraRequires []string

	// OverlayEntries holds entries a later phase (DescriptorRewriter,
	// IndexAugmenter, PatchOverlay) wants substituted for a
	// same-named original at emission time, keyed by pool name.
	OverlayEntries map[string][]byte
}

// SetDescriptor performs the single atomic swap the Lifecycle
// invariant in spec.md §3 allows.
func (m *ModuleRef) SetDescriptor(d *Descriptor) {
	m.Descriptor = d
}

// AddOverlay registers (or replaces) an overlay entry by pool name.
func (m *ModuleRef) AddOverlay(poolName string, content []byte) {
	if m.OverlayEntries == nil {
		m.OverlayEntries = make(map[string][]byte)
	}
	m.OverlayEntries[poolName] = content
}

// Entry is a single bytes-producing item inside a module artifact.
type Entry struct {
	Name string
	Kind EntryKind
	Size int64
	Open func() (ReadCloser, error)
}

// PoolName is the entry's name as it should appear in the image's
// content pool: for packaged-module artifacts a leading "classes/" is
// stripped (spec.md §4.1); for every other kind it is Name unchanged.
func (e Entry) PoolName(kind ArtifactKind) string {
	if kind == KindPackaged {
		const prefix = "classes/"
		if len(e.Name) > len(prefix) && e.Name[:len(prefix)] == prefix {
			return e.Name[len(prefix):]
		}
	}
	return e.Name
}

// ReadCloser is the minimal byte-stream contract Entry.Open returns;
// declared locally so this package does not need to import io just
// for this one type alias at call sites that only care about
// Read/Close.
type ReadCloser interface {
	Read(p []byte) (n int, err error)
	Close() error
}
