package artifactio

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/mholt/archiver/v3"
)

// EnsureExtracted stages path for scanning: platform runtime
// directories and dependency-library directories are sometimes
// shipped as a compressed archive (a jdk tarball, a patches.zip) by
// the host environment rather than as an already-unpacked directory.
// When path names a recognized archive file, it is unpacked once into
// a sibling staging directory with mholt/archiver/v3 (the teacher's
// own declared archive dependency) and the staging path is returned;
// an already-unpacked directory is returned unchanged.
func EnsureExtracted(path, stagingRoot string) (string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return "", fmt.Errorf("staging %s: %w", path, err)
	}
	if info.IsDir() {
		return path, nil
	}

	if _, err := archiver.ByExtension(path); err != nil {
		// Not a recognized archive extension: treat as a single
		// packaged-module file, staged as-is.
		return path, nil
	}

	dest := filepath.Join(stagingRoot, stageDirName(path))
	if err := os.MkdirAll(dest, 0o755); err != nil {
		return "", fmt.Errorf("creating staging directory %s: %w", dest, err)
	}
	if err := archiver.Unarchive(path, dest); err != nil {
		return "", fmt.Errorf("unpacking %s into %s: %w", path, dest, err)
	}
	return dest, nil
}

func stageDirName(archivePath string) string {
	base := filepath.Base(archivePath)
	return "stage-" + base
}
