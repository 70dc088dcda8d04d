// Package linker implements the Linker orchestrator: it runs every
// phase of spec.md §4.9 in strict order and hands the result to an
// image-builder collaborator.
package linker

import (
	"bytes"
	"context"
	"fmt"
	"sort"

	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"

	"github.com/openshift-psap/runtime-linker/pkg/api/v1alpha1"
	"github.com/openshift-psap/runtime-linker/pkg/artifactio"
	"github.com/openshift-psap/runtime-linker/pkg/config"
	"github.com/openshift-psap/runtime-linker/pkg/depanalyzer"
	"github.com/openshift-psap/runtime-linker/pkg/graph"
	"github.com/openshift-psap/runtime-linker/pkg/imagebuilder"
	"github.com/openshift-psap/runtime-linker/pkg/index"
	"github.com/openshift-psap/runtime-linker/pkg/linkctx"
	"github.com/openshift-psap/runtime-linker/pkg/patch"
	"github.com/openshift-psap/runtime-linker/pkg/resolver"
	"github.com/openshift-psap/runtime-linker/pkg/rewriter"
	"github.com/openshift-psap/runtime-linker/pkg/scanner"
)

// LinkError wraps the originating cause of a fatal, non-locally
// recoverable failure at any phase (spec.md §4.9/§7).
type LinkError struct {
	Phase string
	Cause error
}

func (e *LinkError) Error() string {
	return fmt.Sprintf("link failed during %s: %v", e.Phase, e.Cause)
}

func (e *LinkError) Unwrap() error { return e.Cause }

// Options configures one Link invocation.
type Options struct {
	AppArtifact  string
	LibsDir      string
	PlatformDir  string
	PatchesDir   string
	StripDebug   bool
	CDS          bool
	MultiRelease string
}

// Linker orchestrates every phase.
type Linker struct {
	FS      afero.Fs
	Config  *config.Config
	Builder imagebuilder.Builder
	Index   index.IndexBuilder
	Log     *logrus.Entry

	// Analyzer runs DependencyAnalyzer. Exposed so tests can substitute
	// a fake procio.Runner instead of invoking a real jdeps binary.
	Analyzer *depanalyzer.Analyzer

	Context *linkctx.Store
}

// New builds a Linker with sane defaults. indexBuilder may be nil when
// the application never triggers framework detection.
func New(fs afero.Fs, cfg *config.Config, builder imagebuilder.Builder, indexBuilder index.IndexBuilder) *Linker {
	if cfg == nil {
		cfg = config.Default()
	}
	return &Linker{
		FS:       fs,
		Config:   cfg,
		Builder:  builder,
		Index:    indexBuilder,
		Log:      logrus.New().WithField("component", "linker"),
		Analyzer: depanalyzer.New(cfg),
		Context:  linkctx.New(),
	}
}

// Link runs the full pipeline and returns the built image's path.
func (l *Linker) Link(ctx context.Context, opts Options) (string, error) {
	// Step 1: scan the application artifact + application libs directory.
	appModules, appArtifactModule, err := l.scanApp(ctx, opts)
	if err != nil {
		return "", &LinkError{Phase: "scan-application", Cause: err}
	}

	// Step 2: scan platform directory.
	platformScanner := scanner.New(l.FS, l.Config)
	platformModules, err := platformScanner.Scan(ctx, opts.PlatformDir, true)
	if err != nil {
		return "", &LinkError{Phase: "scan-platform", Cause: err}
	}

	// Step 3: build export index over app refs; run ConflictResolver.
	res := resolver.New()
	platformExportIndex := buildExportIndex(platformModules)
	resolved, err := res.Resolve(appModules, platformExportIndex)
	if err != nil {
		return "", &LinkError{Phase: "conflict-resolution", Cause: err}
	}

	archivesByPackage := make(map[string]string)
	for name, ref := range resolved.Survivors {
		for _, pkg := range ref.Descriptor.ExportedPackages(ref.Automatic) {
			archivesByPackage[pkg] = name
		}
	}

	// Step 4: publish metadata into ContextStore.
	mainModule := appArtifactModule
	if sub, ok := resolved.Substitutions[mainModule]; ok {
		mainModule = sub
	}
	usesFramework := false
	if l.Index != nil {
		names := make([]string, 0, len(resolved.Survivors))
		for n := range resolved.Survivors {
			names = append(names, n)
		}
		usesFramework = index.New(l.Index, l.Config).UsesFramework(names)
	}
	l.Context.Seal(mainModule, archivesByPackage, nil, usesFramework, false)

	// Step 5: invoke DependencyAnalyzer for every app module.
	g := graph.New(platformBaseName(l.Config))
	for _, ref := range platformModules {
		if err := g.Add(ref); err != nil {
			return "", &LinkError{Phase: "build-platform-graph", Cause: err}
		}
	}

	extraRequiresByModule := make(map[string][]string)
	names := sortedNames(resolved.Survivors)
	for _, name := range names {
		ref := resolved.Survivors[name]
		deps, err := l.Analyzer.Analyze(ctx, ref, g, opts.MultiRelease)
		if err != nil {
			return "", &LinkError{Phase: fmt.Sprintf("dependency-analysis(%s)", name), Cause: err}
		}
		deps = append(deps, resolved.ExtraRequires[name]...)
		extraRequiresByModule[name] = deps
	}

	// Step 6: union of all app modules' platform-named dependencies.
	var directPlatformDeps []string
	for _, name := range names {
		for _, dep := range extraRequiresByModule[name] {
			if _, ok := platformModules[dep]; ok {
				directPlatformDeps = append(directPlatformDeps, dep)
			}
		}
	}

	// Step 7: transitive platform closure.
	allPlatformDeps := g.CloseOverPlatform(directPlatformDeps)

	// Step 8: run DescriptorRewriter on every app module. An automatic
	// main module is left to step 9, so every module's descriptor is
	// swapped exactly once.
	rw := rewriter.New()
	main, mainIsAutomatic := resolved.Survivors[mainModule]
	mainIsAutomatic = mainIsAutomatic && main.Automatic
	for _, name := range names {
		ref := resolved.Survivors[name]
		if mainIsAutomatic && name == mainModule {
			continue
		}
		if err := rw.Rewrite(ref, extraRequiresByModule[name], resolved.Substitutions); err != nil {
			return "", &LinkError{Phase: fmt.Sprintf("rewrite(%s)", name), Cause: err}
		}
	}

	// Step 9: if the main app module is automatic, rewrite it with its
	// own discovered dependencies plus every other app module as
	// extra-requires.
	if mainIsAutomatic {
		combined := append([]string(nil), extraRequiresByModule[mainModule]...)
		for _, name := range names {
			if name != mainModule {
				combined = append(combined, name)
			}
		}
		if err := rw.Rewrite(main, combined, resolved.Substitutions); err != nil {
			return "", &LinkError{Phase: "rewrite-main-extra-requires", Cause: err}
		}
	}

	// Step 10: run IndexAugmenter, but only when the application is
	// known to use the dependency-injection framework (spec.md §4.8).
	if l.Index != nil && usesFramework {
		augmenter := index.New(l.Index, l.Config)
		for _, name := range names {
			ref := resolved.Survivors[name]
			entries, err := l.entriesForRef(ref, ref.Kind == v1alpha1.KindPackaged)
			if err != nil {
				return "", &LinkError{Phase: fmt.Sprintf("index-entries(%s)", name), Cause: err}
			}
			if _, err := augmenter.Augment(ref, entries); err != nil {
				return "", &LinkError{Phase: fmt.Sprintf("index(%s)", name), Cause: err}
			}
		}
	}

	// Load patches.
	var patches *patch.Overlay
	if opts.PatchesDir != "" {
		patches = patch.New()
		if err := patches.Load(l.FS, opts.PatchesDir); err != nil {
			return "", &LinkError{Phase: "load-patches", Cause: err}
		}
	}

	// Step 11: emit entries for the platform closure and the app
	// modules in Ordered(): the platform-base module first, then all
	// the others sorted by name.
	emitGraph := graph.New(platformBaseName(l.Config))
	for _, platName := range allPlatformDeps {
		ref, ok := platformModules[platName]
		if !ok {
			continue
		}
		if err := emitGraph.Add(ref); err != nil {
			return "", &LinkError{Phase: "build-emit-graph", Cause: err}
		}
	}
	for _, name := range names {
		if err := emitGraph.Add(resolved.Survivors[name]); err != nil {
			return "", &LinkError{Phase: "build-emit-graph", Cause: err}
		}
	}

	for _, ref := range emitGraph.Ordered() {
		if err := l.emit(ref, patches, opts.StripDebug); err != nil {
			return "", &LinkError{Phase: fmt.Sprintf("emit(%s)", ref.Name), Cause: err}
		}
	}

	path, err := l.Builder.Build(ctx)
	if err != nil {
		return "", &LinkError{Phase: "build-image", Cause: err}
	}
	return path, nil
}

func (l *Linker) scanApp(ctx context.Context, opts Options) (map[string]*v1alpha1.ModuleRef, string, error) {
	s := scanner.New(l.FS, l.Config)

	appRef, err := s.ScanFile(opts.AppArtifact)
	if err != nil {
		return nil, "", err
	}
	appModules := map[string]*v1alpha1.ModuleRef{appRef.Name: appRef}

	if opts.LibsDir != "" {
		libModules, err := s.Scan(ctx, opts.LibsDir, true)
		if err != nil {
			return nil, "", err
		}
		for name, ref := range libModules {
			appModules[name] = ref
		}
	}
	return appModules, appRef.Name, nil
}

func (l *Linker) entriesForRef(ref *v1alpha1.ModuleRef, packaged bool) ([]v1alpha1.Entry, error) {
	art, err := artifactio.Open(l.FS, ref.Location, packaged)
	if err != nil {
		return nil, err
	}
	if err := art.Open(); err != nil {
		return nil, err
	}
	defer art.Close()
	return art.Entries()
}

// emit partitions ref's entries by kind (non-class-or-resource first),
// overlays patches and the rewriter's overlay entries, and pushes them
// to the image builder. When stripDebug is set, header and man entries
// are dropped rather than emitted (spec.md §6's --strip-debug flag).
func (l *Linker) emit(ref *v1alpha1.ModuleRef, patches *patch.Overlay, stripDebug bool) error {
	entries, err := l.entriesForRef(ref, ref.Kind == v1alpha1.KindPackaged)
	if err != nil {
		return err
	}

	var nonClass, class []v1alpha1.Entry
	for _, e := range entries {
		if stripDebug && (e.Kind == v1alpha1.EntryHeader || e.Kind == v1alpha1.EntryMan) {
			continue
		}
		if e.Kind == v1alpha1.EntryClassOrResource {
			class = append(class, e)
		} else {
			nonClass = append(nonClass, e)
		}
	}

	var patchEntries map[string][]byte
	if patches != nil {
		patchEntries = patches.EntriesFor(ref.Name)
	}

	emitOne := func(e v1alpha1.Entry) error {
		poolName := e.PoolName(ref.Kind)
		if data, ok := patchEntries[poolName]; ok {
			return l.Builder.AddEntry(ref.Name, poolName, e.Kind, newByteReader(data), int64(len(data)))
		}
		if data, ok := ref.OverlayEntries[poolName]; ok {
			return l.Builder.AddEntry(ref.Name, poolName, e.Kind, newByteReader(data), int64(len(data)))
		}
		rc, err := e.Open()
		if err != nil {
			return fmt.Errorf("opening entry %s in %s: %w", e.Name, ref.Name, err)
		}
		defer rc.Close()
		return l.Builder.AddEntry(ref.Name, poolName, e.Kind, rc, e.Size)
	}

	for _, e := range nonClass {
		if err := emitOne(e); err != nil {
			return err
		}
	}
	for _, e := range class {
		if err := emitOne(e); err != nil {
			return err
		}
	}

	// Overlay entries with no matching original (new module-info,
	// sentinel files, synthesized indexes) are emitted last.
	emitted := make(map[string]bool, len(nonClass)+len(class))
	for _, e := range nonClass {
		emitted[e.PoolName(ref.Kind)] = true
	}
	for _, e := range class {
		emitted[e.PoolName(ref.Kind)] = true
	}
	var extraNames []string
	for poolName := range ref.OverlayEntries {
		if !emitted[poolName] {
			extraNames = append(extraNames, poolName)
		}
	}
	sort.Strings(extraNames)
	for _, poolName := range extraNames {
		data := ref.OverlayEntries[poolName]
		if err := l.Builder.AddEntry(ref.Name, poolName, v1alpha1.EntryConfig, newByteReader(data), int64(len(data))); err != nil {
			return err
		}
	}
	return nil
}

func buildExportIndex(modules map[string]*v1alpha1.ModuleRef) func(pkg string) (string, bool) {
	return func(pkg string) (string, bool) {
		for name, ref := range modules {
			for _, p := range ref.Descriptor.ExportedPackages(ref.Automatic) {
				if p == pkg {
					return name, true
				}
			}
		}
		return "", false
	}
}

func platformBaseName(cfg *config.Config) string {
	return "java.base"
}

// newByteReader wraps an overlay/patch byte slice as the io.Reader
// imagebuilder.Builder.AddEntry expects.
func newByteReader(data []byte) *bytes.Reader {
	return bytes.NewReader(data)
}

func sortedNames(m map[string]*v1alpha1.ModuleRef) []string {
	out := make([]string, 0, len(m))
	for n := range m {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}
