package artifactio

import (
	"archive/zip"
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"

	"github.com/spf13/afero"

	"github.com/openshift-psap/runtime-linker/pkg/api/v1alpha1"
)

// jarArtifact presents a plain jar or a packaged-module file. Both
// reading and rewriting use the standard archive/zip package (see
// DESIGN.md).
type jarArtifact struct {
	fs   afero.Fs
	path string
	kind v1alpha1.ArtifactKind

	file *os.File // not set: Open reads the whole jar into data
	zr   *zip.Reader
	data []byte
}

func newJarArtifact(fs afero.Fs, path string, kind v1alpha1.ArtifactKind) *jarArtifact {
	return &jarArtifact{fs: fs, path: path, kind: kind}
}

func (j *jarArtifact) Kind() v1alpha1.ArtifactKind { return j.kind }

func (j *jarArtifact) Open() error {
	f, err := j.fs.Open(j.path)
	if err != nil {
		return &ArtifactOpenError{Path: j.path, Reason: err}
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return &ArtifactOpenError{Path: j.path, Reason: err}
	}
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return &ArtifactOpenError{Path: j.path, Reason: err}
	}
	j.data = data
	j.zr = zr
	return nil
}

func (j *jarArtifact) Close() error {
	j.zr = nil
	j.data = nil
	return nil
}

func (j *jarArtifact) manifestBytes() ([]byte, bool) {
	if j.zr == nil {
		return nil, false
	}
	for _, f := range j.zr.File {
		if f.Name == manifestPath {
			rc, err := f.Open()
			if err != nil {
				return nil, false
			}
			defer rc.Close()
			b, err := io.ReadAll(rc)
			if err != nil {
				return nil, false
			}
			return b, true
		}
	}
	return nil, false
}

func (j *jarArtifact) Name() (string, error) {
	if mf, ok := j.manifestBytes(); ok {
		if name, ok := parseManifestAttr(mf, AutomaticModuleNameAttr); ok && name != "" {
			return name, nil
		}
	}
	name := automaticModuleNameFromFile(filepath.Base(j.path))
	if name == "" {
		return "", fmt.Errorf("unable to derive module descriptor: cannot infer a module name for %s", j.path)
	}
	return name, nil
}

func (j *jarArtifact) Entries() ([]v1alpha1.Entry, error) {
	if j.zr == nil {
		if err := j.Open(); err != nil {
			return nil, err
		}
	}
	entries := make([]v1alpha1.Entry, 0, len(j.zr.File))
	for _, f := range j.zr.File {
		if f.FileInfo().IsDir() {
			continue
		}
		f := f
		name := normalizeEntryName(f.Name)
		entries = append(entries, v1alpha1.Entry{
			Name: name,
			Kind: classifyEntry(name),
			Size: int64(f.UncompressedSize64),
			Open: func() (v1alpha1.ReadCloser, error) {
				return f.Open()
			},
		})
	}
	return entries, nil
}

// WriteAs streams the original jar's entries into a new zip at
// target, substituting overlayEntries (keyed by pool name) for
// same-named originals and skipping skipNames. Deterministic order
// (spec.md §8 property 5) falls directly out of iterating the
// original zip's own entry order, which archive/zip preserves.
func (j *jarArtifact) WriteAs(target string, overlayEntries map[string][]byte, skipNames map[string]bool) error {
	if j.zr == nil {
		if err := j.Open(); err != nil {
			return err
		}
	}

	outFile, err := os.Create(target)
	if err != nil {
		return fmt.Errorf("creating rewritten jar %s: %w", target, err)
	}
	defer outFile.Close()
	zw := zip.NewWriter(outFile)

	written := make(map[string]bool, len(overlayEntries))

	for _, f := range j.zr.File {
		if f.FileInfo().IsDir() {
			continue
		}
		poolName := v1alpha1.Entry{Name: normalizeEntryName(f.Name)}.PoolName(j.kind)
		if skipNames[poolName] || skipNames[f.Name] {
			continue
		}
		if content, ok := overlayEntries[poolName]; ok {
			if err := writeZipEntry(zw, f.Name, content); err != nil {
				return err
			}
			written[poolName] = true
			continue
		}
		if err := copyZipEntry(zw, f); err != nil {
			return fmt.Errorf("writing entry %s to %s: %w", f.Name, target, err)
		}
	}

	// Any overlay entries with no matching original (e.g. a brand new
	// module-info.class or the automatic-module sentinel) are
	// appended, sorted by pool name.
	var extraNames []string
	for poolName := range overlayEntries {
		if !written[poolName] {
			extraNames = append(extraNames, poolName)
		}
	}
	sort.Strings(extraNames)
	for _, poolName := range extraNames {
		content := overlayEntries[poolName]
		entryName := poolName
		if j.kind == v1alpha1.KindPackaged {
			entryName = "classes/" + poolName
		}
		if err := writeZipEntry(zw, entryName, content); err != nil {
			return err
		}
	}

	if err := zw.Close(); err != nil {
		return fmt.Errorf("finalizing rewritten jar %s: %w", target, err)
	}
	return nil
}

func copyZipEntry(zw *zip.Writer, f *zip.File) error {
	rc, err := f.Open()
	if err != nil {
		return err
	}
	defer rc.Close()
	w, err := zw.CreateHeader(&zip.FileHeader{Name: f.Name, Method: f.Method})
	if err != nil {
		return err
	}
	_, err = io.Copy(w, rc)
	return err
}

func writeZipEntry(zw *zip.Writer, name string, content []byte) error {
	w, err := zw.CreateHeader(&zip.FileHeader{Name: name, Method: zip.Deflate})
	if err != nil {
		return err
	}
	_, err = w.Write(content)
	return err
}
