// Package artifactio presents directory, jar, and packaged-module
// artifacts behind one Artifact interface (ArtifactReader, spec.md
// §4.1). Entry iteration is read-only; writeAs rewrites an artifact as
// a jar with overlay substitutions and skip-list omissions applied.
package artifactio

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"

	"github.com/openshift-psap/runtime-linker/pkg/api/v1alpha1"
)

// ArtifactOpenError wraps an I/O fault encountered opening an
// artifact.
type ArtifactOpenError struct {
	Path   string
	Reason error
}

func (e *ArtifactOpenError) Error() string {
	return fmt.Sprintf("opening artifact %s: %v", e.Path, e.Reason)
}

func (e *ArtifactOpenError) Unwrap() error { return e.Reason }

// DescriptorMissing is returned when a descriptor is requested from a
// non-automatic artifact that carries none.
type DescriptorMissing struct {
	Path string
}

func (e *DescriptorMissing) Error() string {
	return fmt.Sprintf("no module descriptor present in %s", e.Path)
}

// Artifact presents one module's bytes for scanning, rewriting, and
// emission.
type Artifact interface {
	// Name derives the module name from the manifest
	// Automatic-Module-Name attribute or, failing that, file-name
	// heuristics. Empty string means neither source yielded a name.
	Name() (string, error)

	// Entries returns the artifact's contents in source iteration
	// order. The sequence is finite and may be requested more than
	// once (restartable).
	Entries() ([]v1alpha1.Entry, error)

	// Open acquires any underlying handles Entries()/WriteAs() need.
	Open() error

	// Close releases handles acquired by Open, on every exit path.
	Close() error

	// WriteAs rewrites the artifact as a jar at target, substituting
	// overlayEntries (keyed by pool name) for same-named originals
	// and omitting skipNames.
	WriteAs(target string, overlayEntries map[string][]byte, skipNames map[string]bool) error

	// Kind reports which of the three artifact dialects this value
	// implements.
	Kind() v1alpha1.ArtifactKind
}

// Open dispatches to the concrete Artifact implementation for path,
// inferring kind from the filesystem shape: a directory is a dir
// artifact, a regular file is a jar (or, when packaged is true, a
// packaged-module file).
func Open(fs afero.Fs, path string, packaged bool) (Artifact, error) {
	info, err := fs.Stat(path)
	if err != nil {
		return nil, &ArtifactOpenError{Path: path, Reason: err}
	}
	if info.IsDir() {
		return newDirArtifact(fs, path), nil
	}
	kind := v1alpha1.KindJar
	if packaged {
		kind = v1alpha1.KindPackaged
	}
	return newJarArtifact(fs, path, kind), nil
}

// classifyEntry applies the simple, stable heuristics spec.md §3 uses
// to bucket an entry: compiled class files and resources are the
// common case; everything else is classified by well-known directory
// or suffix conventions.
func classifyEntry(name string) v1alpha1.EntryKind {
	base := filepath.Base(name)
	switch {
	case strings.HasPrefix(name, "META-INF/native/"), strings.Contains(name, "/lib/"), strings.HasSuffix(base, ".so"), strings.HasSuffix(base, ".dll"), strings.HasSuffix(base, ".dylib"):
		return v1alpha1.EntryNativeLib
	case strings.HasPrefix(name, "bin/"), strings.HasPrefix(name, "usr/bin/"):
		return v1alpha1.EntryNativeCmd
	case strings.HasPrefix(name, "include/"), strings.HasSuffix(base, ".h"):
		return v1alpha1.EntryHeader
	case strings.HasPrefix(name, "legal/"), strings.HasPrefix(name, "META-INF/LICENSE"), strings.HasPrefix(base, "LICENSE"), strings.HasPrefix(base, "NOTICE"):
		return v1alpha1.EntryLegal
	case strings.HasPrefix(name, "man/"):
		return v1alpha1.EntryMan
	case strings.HasSuffix(name, ".properties"), strings.HasSuffix(name, ".xml"), strings.HasSuffix(name, ".yaml"), strings.HasSuffix(name, ".yml"):
		return v1alpha1.EntryConfig
	default:
		return v1alpha1.EntryClassOrResource
	}
}

// normalizeEntryName converts a platform path into the forward-slash
// normalized internal path spec.md §3 requires for Artifact.Entry.name.
func normalizeEntryName(name string) string {
	return strings.ReplaceAll(filepath.ToSlash(name), "\\", "/")
}
