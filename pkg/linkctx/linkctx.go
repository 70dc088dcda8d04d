// Package linkctx implements ContextStore: a single-writer/many-reader
// holder of computed link metadata (archive-by-package index,
// application-module name, preload class list) consumed by
// cooperating plugins during entry emission (spec.md §4.10).
//
// This resolves spec.md §9's "process-wide singleton ApplicationContext"
// redesign flag: Store is a plain value constructed and owned by
// Linker, threaded explicitly into emission rather than reached for
// through package-level global state.
package linkctx

import (
	"fmt"
	"sync"
)

// Store holds immutable link context once Seal is called. Concurrent
// readers are safe; a second Seal panics.
type Store struct {
	mu     sync.RWMutex
	sealed bool

	applicationModule string
	archivesByPackage  map[string]string
	preloadClassList   []string
	usesFramework      bool
	usesContainer      bool
}

// New builds an empty, unsealed Store.
func New() *Store {
	return &Store{}
}

// Seal publishes the given context. It must be called exactly once, by
// Linker, before any reader consults the Store; a second call panics
// (the single-writer invariant spec.md §4.10/§5 requires).
func (s *Store) Seal(applicationModule string, archivesByPackage map[string]string, preloadClassList []string, usesFramework, usesContainer bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sealed {
		panic("linkctx: Store sealed twice")
	}
	s.applicationModule = applicationModule
	s.archivesByPackage = archivesByPackage
	s.preloadClassList = preloadClassList
	s.usesFramework = usesFramework
	s.usesContainer = usesContainer
	s.sealed = true
}

func (s *Store) mustBeSealed() {
	if !s.sealed {
		panic("linkctx: Store read before Seal")
	}
}

// ApplicationModule returns the application's main module name.
func (s *Store) ApplicationModule() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	s.mustBeSealed()
	return s.applicationModule
}

// ArchiveForPackage returns the module name that owns pkg in the
// archives-by-package index, if any.
func (s *Store) ArchiveForPackage(pkg string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	s.mustBeSealed()
	name, ok := s.archivesByPackage[pkg]
	return name, ok
}

// PreloadClassList returns the ordered preload class list.
func (s *Store) PreloadClassList() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	s.mustBeSealed()
	out := make([]string, len(s.preloadClassList))
	copy(out, s.preloadClassList)
	return out
}

// UsesFramework reports whether the application was detected as using
// the dependency-injection framework (spec.md §4.8).
func (s *Store) UsesFramework() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	s.mustBeSealed()
	return s.usesFramework
}

// UsesContainer reports whether the application was detected as
// running inside the container runtime preload path.
func (s *Store) UsesContainer() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	s.mustBeSealed()
	return s.usesContainer
}

// String renders a short debug summary.
func (s *Store) String() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.sealed {
		return "linkctx.Store{unsealed}"
	}
	return fmt.Sprintf("linkctx.Store{app=%s, archives=%d, preload=%d}", s.applicationModule, len(s.archivesByPackage), len(s.preloadClassList))
}
