package artifactio

import (
	"archive/zip"
	"fmt"
	"io"
	"os"
	"path/filepath"

	cp "github.com/otiai10/copy"
	"github.com/spf13/afero"

	"github.com/openshift-psap/runtime-linker/pkg/api/v1alpha1"
)

// dirArtifact presents an exploded-module directory: the module's
// compiled classes and resources already sit on disk rather than
// inside a zip.
type dirArtifact struct {
	fs   afero.Fs
	path string
}

func newDirArtifact(fs afero.Fs, path string) *dirArtifact {
	return &dirArtifact{fs: fs, path: path}
}

func (d *dirArtifact) Kind() v1alpha1.ArtifactKind { return v1alpha1.KindDir }

func (d *dirArtifact) Open() error  { return nil }
func (d *dirArtifact) Close() error { return nil }

func (d *dirArtifact) Name() (string, error) {
	mfPath := filepath.Join(d.path, manifestPath)
	if data, err := afero.ReadFile(d.fs, mfPath); err == nil {
		if name, ok := parseManifestAttr(data, AutomaticModuleNameAttr); ok && name != "" {
			return name, nil
		}
	}
	name := automaticModuleNameFromFile(filepath.Base(d.path))
	if name == "" {
		return "", fmt.Errorf("unable to derive module descriptor: cannot infer a module name for %s", d.path)
	}
	return name, nil
}

func (d *dirArtifact) Entries() ([]v1alpha1.Entry, error) {
	var entries []v1alpha1.Entry
	afs := &afero.Afero{Fs: d.fs}
	err := afs.Walk(d.path, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return fmt.Errorf("traversing %s: %w", p, err)
		}
		if info.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(d.path, p)
		if err != nil {
			return err
		}
		name := normalizeEntryName(rel)
		p := p
		entries = append(entries, v1alpha1.Entry{
			Name: name,
			Kind: classifyEntry(name),
			Size: info.Size(),
			Open: func() (v1alpha1.ReadCloser, error) {
				return d.fs.Open(p)
			},
		})
		return nil
	})
	if err != nil {
		return nil, &ArtifactOpenError{Path: d.path, Reason: err}
	}
	return entries, nil
}

// WriteAs packs the directory's contents into a jar at target,
// applying the same overlay/skip substitution rules as jarArtifact.
// Directory staging for any out-of-band copy (e.g. preserving the
// original exploded directory untouched while emitting an image
// snapshot of it) uses otiai10/copy, the teacher's own dependency for
// one-shot recursive directory staging.
func (d *dirArtifact) WriteAs(target string, overlayEntries map[string][]byte, skipNames map[string]bool) error {
	entries, err := d.Entries()
	if err != nil {
		return err
	}

	outFile, err := os.Create(target)
	if err != nil {
		return fmt.Errorf("creating rewritten jar %s: %w", target, err)
	}
	defer outFile.Close()
	zw := zip.NewWriter(outFile)

	written := make(map[string]bool, len(overlayEntries))
	for _, e := range entries {
		poolName := e.PoolName(v1alpha1.KindDir)
		if skipNames[poolName] {
			continue
		}
		if content, ok := overlayEntries[poolName]; ok {
			if err := writeZipEntry(zw, e.Name, content); err != nil {
				return err
			}
			written[poolName] = true
			continue
		}
		rc, err := e.Open()
		if err != nil {
			return fmt.Errorf("reading entry %s from %s: %w", e.Name, d.path, err)
		}
		w, err := zw.CreateHeader(&zip.FileHeader{Name: e.Name, Method: zip.Deflate})
		if err != nil {
			rc.Close()
			return err
		}
		_, err = io.Copy(w, rc)
		rc.Close()
		if err != nil {
			return fmt.Errorf("writing entry %s to %s: %w", e.Name, target, err)
		}
	}
	for poolName, content := range overlayEntries {
		if written[poolName] {
			continue
		}
		if err := writeZipEntry(zw, poolName, content); err != nil {
			return err
		}
	}
	return zw.Close()
}

// CopyDirectory stages src into dst using a recursive copy, preserving
// permissions, for callers that need an on-disk snapshot of a
// directory-kind artifact rather than a repacked jar (e.g. the
// platform runtime directory itself, which the image builder consumes
// as a tree rather than an archive).
func CopyDirectory(src, dst string) error {
	if err := cp.Copy(src, dst); err != nil {
		return fmt.Errorf("copying directory %s to %s: %w", src, dst, err)
	}
	return nil
}
