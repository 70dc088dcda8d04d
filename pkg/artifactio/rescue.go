package artifactio

import (
	"archive/zip"
	"bytes"
	"fmt"
	"io"

	"github.com/spf13/afero"
)

// RescueManifest implements the atomic half of the name-rescue
// workflow (spec.md §4.3 step 2, §5, §9): it merges or creates a
// manifest carrying attr=value inside the jar at path, writes the
// result to a sibling temp file, deletes the original, and renames
// the temp file into place. tempSuffix disambiguates concurrent
// rescues of different jars sharing a directory.
//
// Returns changed=false without touching the file when attr is
// already present with a non-empty value (spec.md §8 property 6:
// manifest-rescue idempotence).
func RescueManifest(fs afero.Fs, path, attr, value, tempSuffix string) (changed bool, err error) {
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		return false, fmt.Errorf("reading %s for rescue: %w", path, err)
	}

	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return false, fmt.Errorf("opening %s as zip for rescue: %w", path, err)
	}

	var existingManifest []byte
	hasManifest := false
	for _, f := range zr.File {
		if f.Name == manifestPath {
			hasManifest = true
			rc, err := f.Open()
			if err != nil {
				return false, fmt.Errorf("reading manifest in %s: %w", path, err)
			}
			existingManifest, err = io.ReadAll(rc)
			rc.Close()
			if err != nil {
				return false, err
			}
		}
	}

	if hasManifest {
		if v, ok := parseManifestAttr(existingManifest, attr); ok && v != "" {
			return false, nil
		}
	}

	newManifest := setManifestAttr(existingManifest, attr, value)

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	wroteManifest := false
	for _, f := range zr.File {
		if f.FileInfo().IsDir() {
			continue
		}
		if f.Name == manifestPath {
			if err := writeZipEntry(zw, manifestPath, newManifest); err != nil {
				return false, err
			}
			wroteManifest = true
			continue
		}
		if err := copyZipEntry(zw, f); err != nil {
			return false, fmt.Errorf("copying entry %s during rescue of %s: %w", f.Name, path, err)
		}
	}
	if !wroteManifest {
		if err := writeZipEntry(zw, manifestPath, newManifest); err != nil {
			return false, err
		}
	}
	if err := zw.Close(); err != nil {
		return false, fmt.Errorf("finalizing rescued jar for %s: %w", path, err)
	}

	tmp := path + ".rescue-" + tempSuffix + ".tmp"
	if err := afero.WriteFile(fs, tmp, buf.Bytes(), 0o644); err != nil {
		return false, fmt.Errorf("writing rescued jar %s: %w", tmp, err)
	}
	if err := fs.Remove(path); err != nil {
		_ = fs.Remove(tmp)
		return false, fmt.Errorf("removing original %s during rescue: %w", path, err)
	}
	if err := fs.Rename(tmp, path); err != nil {
		return false, fmt.Errorf("renaming rescued jar into place at %s: %w", path, err)
	}
	return true, nil
}
