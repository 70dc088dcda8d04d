// Package scanner implements ModuleScanner: directory discovery,
// automatic-module name rescue, and version-dedup (spec.md §4.3).
package scanner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"golang.org/x/sync/errgroup"

	"github.com/openshift-psap/runtime-linker/pkg/api/v1alpha1"
	"github.com/openshift-psap/runtime-linker/pkg/artifactio"
	"github.com/openshift-psap/runtime-linker/pkg/config"
	"github.com/openshift-psap/runtime-linker/pkg/descriptor"
)

const maxScanWorkers = 8

// Scanner discovers modules in a directory.
type Scanner struct {
	FS     afero.Fs
	Config *config.Config
	Log    *logrus.Entry

	// Packaged marks every artifact in the scanned directory as a
	// packaged-module file (classes/ prefix stripping) rather than a
	// plain jar.
	Packaged bool
}

// New builds a Scanner with sane defaults.
func New(fs afero.Fs, cfg *config.Config) *Scanner {
	if cfg == nil {
		cfg = config.Default()
	}
	log := logrus.New().WithField("component", "scanner")
	return &Scanner{FS: fs, Config: cfg, Log: log}
}

type scanResult struct {
	ref  *v1alpha1.ModuleRef
	path string
	err  error
}

// Scan iterates every artifact directly inside directory, deriving a
// ModuleRef for each. When strict is true, a discovery failure that is
// not a descriptor-derivation problem aborts the whole scan.
func (s *Scanner) Scan(ctx context.Context, directory string, strict bool) (map[string]*v1alpha1.ModuleRef, error) {
	entries, err := afero.ReadDir(s.FS, directory)
	if err != nil {
		return nil, fmt.Errorf("listing %s: %w", directory, err)
	}

	var paths []string
	for _, e := range entries {
		paths = append(paths, filepath.Join(directory, e.Name()))
	}

	results := make([]scanResult, len(paths))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxScanWorkers)
	for i, p := range paths {
		i, p := i, p
		g.Go(func() error {
			select {
			case <-gctx.Done():
				return gctx.Err()
			default:
			}
			ref, err := s.scanOne(p)
			results[i] = scanResult{ref: ref, path: p, err: err}
			if err != nil && strict && !isDescriptorDerivationProblem(err) {
				return err
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("scanning %s: %w", directory, err)
	}

	// Merge deterministically: sort by path before assembling the
	// name-keyed map so concurrent scan order never affects which
	// duplicate survives the dedup policy (spec.md §8 property 5).
	sort.Slice(results, func(i, j int) bool { return results[i].path < results[j].path })

	byName := make(map[string][]*v1alpha1.ModuleRef)
	for _, r := range results {
		if r.err != nil {
			s.Log.WithError(r.err).Warnf("skipping %s", r.path)
			continue
		}
		if r.ref == nil {
			continue
		}
		byName[r.ref.Name] = append(byName[r.ref.Name], r.ref)
	}

	out := make(map[string]*v1alpha1.ModuleRef, len(byName))
	names := make([]string, 0, len(byName))
	for n := range byName {
		names = append(names, n)
	}
	sort.Strings(names)
	for _, name := range names {
		refs := byName[name]
		winner := s.dedup(name, refs)
		out[name] = winner
	}
	return out, nil
}

func isDescriptorDerivationProblem(err error) bool {
	return strings.Contains(err.Error(), "unable to derive module descriptor")
}

// ScanFile derives a single ModuleRef for one artifact path, for the
// CLI's app-artifact argument (spec.md §6), which names one file
// rather than a directory to list.
func (s *Scanner) ScanFile(path string) (*v1alpha1.ModuleRef, error) {
	return s.scanOne(path)
}

func (s *Scanner) scanOne(path string) (*v1alpha1.ModuleRef, error) {
	art, err := artifactio.Open(s.FS, path, s.Packaged)
	if err != nil {
		return nil, err
	}
	if err := art.Open(); err != nil {
		return nil, err
	}
	defer art.Close()

	name, err := art.Name()
	if err != nil {
		rescued, rerr := s.rescue(path, err)
		if rerr != nil {
			return nil, rerr
		}
		if rescued == nil {
			return nil, err
		}
		return rescued, nil
	}

	return s.buildRef(art, name, path)
}

func (s *Scanner) buildRef(art artifactio.Artifact, name, path string) (*v1alpha1.ModuleRef, error) {
	entries, err := art.Entries()
	if err != nil {
		return nil, err
	}

	desc, origin, automatic, err := extractDescriptor(entries, name)
	if err != nil {
		return nil, err
	}

	if excluded := s.Config.ExcludedPackages(name); len(excluded) > 0 {
		desc.Packages = removeAll(desc.Packages, excluded)
	}

	return &v1alpha1.ModuleRef{
		Name:                  name,
		Version:               desc.Version,
		Location:              path,
		Kind:                  art.Kind(),
		Automatic:             automatic,
		Descriptor:            desc,
		OriginDescriptorBytes: origin,
	}, nil
}

func removeAll(pkgs []string, excluded []string) []string {
	drop := make(map[string]bool, len(excluded))
	for _, e := range excluded {
		drop[e] = true
	}
	out := pkgs[:0:0]
	for _, p := range pkgs {
		if !drop[p] {
			out = append(out, p)
		}
	}
	return out
}

// extractDescriptor looks for a compiled module-info among entries.
// When absent, the artifact is treated as automatic: its name and
// package set are inferred from the class files it contains.
func extractDescriptor(entries []v1alpha1.Entry, name string) (desc *v1alpha1.Descriptor, origin []byte, automatic bool, err error) {
	for _, e := range entries {
		base := e.Name
		if strings.HasSuffix(base, "module-info.class") {
			rc, oerr := e.Open()
			if oerr != nil {
				return nil, nil, false, fmt.Errorf("opening module-info: %w", oerr)
			}
			data, rerr := readAll(rc)
			rc.Close()
			if rerr != nil {
				return nil, nil, false, rerr
			}
			d, derr := descriptor.Decode(data)
			if derr != nil {
				return nil, nil, false, derr
			}
			return d, data, false, nil
		}
	}

	pkgSet := make(map[string]struct{})
	for _, e := range entries {
		if !strings.HasSuffix(e.Name, ".class") || strings.HasSuffix(e.Name, "module-info.class") {
			continue
		}
		pkg := packageOf(e.Name)
		if pkg != "" {
			pkgSet[pkg] = struct{}{}
		}
	}
	pkgs := make([]string, 0, len(pkgSet))
	for p := range pkgSet {
		pkgs = append(pkgs, p)
	}
	sort.Strings(pkgs)

	return &v1alpha1.Descriptor{
		Name:      name,
		Modifiers: map[v1alpha1.Modifier]bool{v1alpha1.ModAutomatic: true},
		Packages:  pkgs,
	}, nil, true, nil
}

func packageOf(entryName string) string {
	idx := strings.LastIndex(entryName, "/")
	if idx < 0 {
		return ""
	}
	return strings.ReplaceAll(entryName[:idx], "/", ".")
}

func readAll(rc v1alpha1.ReadCloser) ([]byte, error) {
	var buf []byte
	chunk := make([]byte, 32*1024)
	for {
		n, err := rc.Read(chunk)
		if n > 0 {
			buf = append(buf, chunk[:n]...)
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return buf, nil
			}
			return buf, err
		}
	}
}

// rescue implements spec.md §4.3 step 2: on an "unable to derive
// module descriptor" failure, consult the name-rescue table by
// file-name prefix; on a hit, merge or create a manifest carrying
// Automatic-Module-Name, write the modified jar to a sibling temp
// file, delete the original, rename the temp file into place, and
// retry extraction against the now-rescued file in place (no
// re-walking of the directory mid-scan, per spec.md §9).
func (s *Scanner) rescue(path string, cause error) (*v1alpha1.ModuleRef, error) {
	if !isDescriptorDerivationProblem(cause) {
		return nil, cause
	}

	base := filepath.Base(path)
	stem := strings.TrimSuffix(base, filepath.Ext(base))
	var entry *config.RescueEntry
	for prefix, e := range s.Config.RescueTable {
		if strings.HasPrefix(stem, prefix) {
			e := e
			entry = &e
			break
		}
	}
	if entry == nil {
		return nil, fmt.Errorf("%w (no rescue-table entry for %s)", cause, base)
	}

	if err := s.rewriteManifestInPlace(path, entry.AutomaticModuleName); err != nil {
		return nil, fmt.Errorf("rescuing %s: %w", path, err)
	}

	art, err := artifactio.Open(s.FS, path, s.Packaged)
	if err != nil {
		return nil, err
	}
	if err := art.Open(); err != nil {
		return nil, err
	}
	defer art.Close()

	name, err := art.Name()
	if err != nil {
		return nil, fmt.Errorf("rescue table named %s but manifest rewrite did not stick: %w", entry.AutomaticModuleName, err)
	}

	ref, err := s.buildRef(art, name, path)
	if err != nil {
		return nil, err
	}
	if ref.Descriptor.Version == "" && entry.CanonicalVersion != "" {
		ref.Version = entry.CanonicalVersion
		ref.Descriptor.Version = entry.CanonicalVersion
	}
	return ref, nil
}

var rescueMu sync.Mutex

func (s *Scanner) rewriteManifestInPlace(path, automaticModuleName string) error {
	// Serialize rescue writes: spec.md §5 names the rescue workflow as
	// the one mutation of input artifacts, and it is the only place
	// this package touches a shared path concurrently with its own
	// worker-pool fanout.
	rescueMu.Lock()
	defer rescueMu.Unlock()

	changed, err := artifactio.RescueManifest(s.FS, path, artifactio.AutomaticModuleNameAttr, automaticModuleName, uuid.NewString())
	if err != nil {
		return err
	}
	if !changed {
		s.Log.Debugf("manifest rescue for %s was a no-op: attribute already present", path)
	}
	return nil
}

// dedup applies spec.md §4.3's deduplication policy to every ModuleRef
// discovered under the same module name, emitting a warning naming
// the discarded duplicates.
func (s *Scanner) dedup(name string, refs []*v1alpha1.ModuleRef) *v1alpha1.ModuleRef {
	if len(refs) == 1 {
		return refs[0]
	}

	sorted := append([]*v1alpha1.ModuleRef(nil), refs...)
	sort.Slice(sorted, func(i, j int) bool {
		return rankLess(sorted[i], sorted[j])
	})
	winner := sorted[0]

	var discarded []string
	for _, r := range sorted[1:] {
		discarded = append(discarded, r.Location)
	}
	s.Log.Warnf("duplicate module %q: keeping %s, discarding %v", name, winner.Location, discarded)
	return winner
}

// rankLess reports whether a should be preferred over b under the
// jakarta-over-javax, non-"-api"-over-"-api", lexicographic
// tiebreak policy of spec.md §4.3.
func rankLess(a, b *v1alpha1.ModuleRef) bool {
	aJakarta := strings.HasPrefix(a.Name, "jakarta")
	bJakarta := strings.HasPrefix(b.Name, "jakarta")
	if aJakarta != bJakarta {
		return aJakarta
	}
	aJavax := strings.HasPrefix(a.Name, "javax")
	bJavax := strings.HasPrefix(b.Name, "javax")
	if aJavax != bJavax {
		return aJavax
	}
	aAPI := strings.Contains(filepath.Base(a.Location), "-api")
	bAPI := strings.Contains(filepath.Base(b.Location), "-api")
	if aAPI != bAPI {
		return !aAPI
	}
	return a.Location < b.Location
}
