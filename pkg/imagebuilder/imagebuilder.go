// Package imagebuilder declares the ImageBuilder interface the linker
// core produces into (spec.md §6) and provides an in-memory test
// double for exercising pkg/linker without a real image-assembly
// tool, which is out of this module's scope (spec.md §1).
package imagebuilder

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/openshift-psap/runtime-linker/pkg/api/v1alpha1"
)

// Builder is the core's consumer-side contract: it streams entries in
// as they are produced during emission, then is asked once to finalize
// the image.
type Builder interface {
	AddEntry(moduleName, poolName string, kind v1alpha1.EntryKind, r io.Reader, size int64) error
	Build(ctx context.Context) (string, error)
}

// memEntry is one recorded AddEntry call.
type memEntry struct {
	ModuleName string
	PoolName   string
	Kind       v1alpha1.EntryKind
	Content    []byte
}

// MemBuilder is an in-memory Builder test double: AddEntry buffers
// every entry's bytes, Build returns a synthetic path and leaves
// everything queryable for assertions.
type MemBuilder struct {
	mu      sync.Mutex
	entries []memEntry
	built   bool
	path    string
}

// NewMem builds an empty MemBuilder.
func NewMem() *MemBuilder {
	return &MemBuilder{}
}

// AddEntry records the entry's content and metadata.
func (m *MemBuilder) AddEntry(moduleName, poolName string, kind v1alpha1.EntryKind, r io.Reader, size int64) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("reading entry %s/%s: %w", moduleName, poolName, err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, memEntry{ModuleName: moduleName, PoolName: poolName, Kind: kind, Content: data})
	return nil
}

// Build finalizes the in-memory image and returns a synthetic path.
func (m *MemBuilder) Build(ctx context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.built = true
	m.path = fmt.Sprintf("mem-image://%d-entries", len(m.entries))
	return m.path, nil
}

// Entries returns every recorded entry for a module, in the order they
// were added.
func (m *MemBuilder) Entries(moduleName string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for _, e := range m.entries {
		if e.ModuleName == moduleName {
			out = append(out, e.PoolName)
		}
	}
	return out
}

// EntryContent returns the bytes recorded for moduleName/poolName, if
// present.
func (m *MemBuilder) EntryContent(moduleName, poolName string) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.entries {
		if e.ModuleName == moduleName && e.PoolName == poolName {
			return e.Content, true
		}
	}
	return nil, false
}

// ModuleOrder returns the distinct module names in first-seen order,
// useful for asserting the emission order the Linker produced.
func (m *MemBuilder) ModuleOrder() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	seen := make(map[string]bool)
	var out []string
	for _, e := range m.entries {
		if !seen[e.ModuleName] {
			seen[e.ModuleName] = true
			out = append(out, e.ModuleName)
		}
	}
	return out
}

// Built reports whether Build has been called, and the path it
// returned.
func (m *MemBuilder) Built() (bool, string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.built, m.path
}
