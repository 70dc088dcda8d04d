package imagebuilder

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
	"github.com/spf13/afero"

	"github.com/openshift-psap/runtime-linker/pkg/api/v1alpha1"
)

// FSBuilder is the minimal filesystem-backed Builder the CLI wires for
// --out: it stages every entry under a sibling temp directory and
// renames it into place on Build, so a failed run never leaves a
// partial image directory behind (spec.md §7). The on-disk layout
// itself (a directory tree named <moduleName>/<poolName>) is
// deliberately plain rather than the real platform-specific
// image-assembly format, which spec.md §1 places out of this module's
// scope.
type FSBuilder struct {
	FS     afero.Fs
	OutDir string

	mu     sync.Mutex
	tmpDir string
}

// NewFS builds an FSBuilder writing into outDir once Build succeeds.
func NewFS(fs afero.Fs, outDir string) *FSBuilder {
	return &FSBuilder{FS: fs, OutDir: outDir}
}

// AddEntry stages one entry's content under the builder's temp
// staging directory, creating the staging directory on first use.
func (b *FSBuilder) AddEntry(moduleName, poolName string, kind v1alpha1.EntryKind, r io.Reader, size int64) error {
	b.mu.Lock()
	tmpDir := b.tmpDir
	if tmpDir == "" {
		tmpDir = b.OutDir + ".tmp-" + uuid.NewString()
		b.tmpDir = tmpDir
	}
	b.mu.Unlock()

	target := filepath.Join(tmpDir, moduleName, poolName)
	if err := b.FS.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return fmt.Errorf("staging %s/%s: %w", moduleName, poolName, err)
	}
	f, err := b.FS.Create(target)
	if err != nil {
		return fmt.Errorf("staging %s/%s: %w", moduleName, poolName, err)
	}
	defer f.Close()
	if _, err := io.Copy(f, r); err != nil {
		return fmt.Errorf("staging %s/%s: %w", moduleName, poolName, err)
	}
	return nil
}

// Build renames the staging directory into OutDir, replacing any
// previous contents, and returns OutDir.
func (b *FSBuilder) Build(ctx context.Context) (string, error) {
	b.mu.Lock()
	tmpDir := b.tmpDir
	b.mu.Unlock()

	if tmpDir == "" {
		// No entries were ever staged; still produce an empty image
		// rather than erroring, consistent with MemBuilder's behavior
		// on a run with zero entries.
		if err := b.FS.MkdirAll(b.OutDir, 0o755); err != nil {
			return "", err
		}
		return b.OutDir, nil
	}

	if exists, _ := afero.DirExists(b.FS, b.OutDir); exists {
		if err := b.FS.RemoveAll(b.OutDir); err != nil {
			return "", fmt.Errorf("replacing previous image at %s: %w", b.OutDir, err)
		}
	}
	if err := b.FS.Rename(tmpDir, b.OutDir); err != nil {
		return "", fmt.Errorf("finalizing image at %s: %w", b.OutDir, err)
	}
	return b.OutDir, nil
}
