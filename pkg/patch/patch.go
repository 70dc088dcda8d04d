// Package patch implements PatchOverlay: loading an override directory
// and overlaying its entries on top of any module at entry-emit time
// (spec.md §4.11).
package patch

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/joelanford/ignore"
	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"

	"github.com/openshift-psap/runtime-linker/pkg/api/v1alpha1"
	"github.com/openshift-psap/runtime-linker/pkg/artifactio"
)

const patternFile = ".runtime-linker-patch-match"
const patchSuffix = "-patch.jar"

// UnsupportedPatchFormat is returned for any file in the patches
// directory whose name does not follow the <moduleName>-patch.jar
// naming scheme.
type UnsupportedPatchFormat struct {
	Name string
}

func (e *UnsupportedPatchFormat) Error() string {
	return fmt.Sprintf("unsupported patch file: %s (expected <moduleName>%s)", e.Name, patchSuffix)
}

// Overlay holds every loaded patch jar's entries, indexed first by the
// module it patches and then by pool name.
type Overlay struct {
	Log *logrus.Entry

	byModule map[string]map[string][]byte
}

// New builds an empty Overlay.
func New() *Overlay {
	return &Overlay{
		Log:      logrus.New().WithField("component", "patch"),
		byModule: make(map[string]map[string][]byte),
	}
}

// Load scans patchesDir for <moduleName>-patch.jar files, matching
// candidates with github.com/joelanford/ignore's gitignore-style
// matcher (the teacher's own direct dependency, declared for
// config-include filtering and never imported by any surviving
// teacher source) repurposed as a positive glob matcher over the
// directory listing, and indexes every patch jar's entries by pool
// name.
func (o *Overlay) Load(fs afero.Fs, patchesDir string) error {
	entries, err := afero.ReadDir(fs, patchesDir)
	if err != nil {
		return fmt.Errorf("listing patches directory %s: %w", patchesDir, err)
	}

	scoped := afero.NewBasePathFs(fs, patchesDir)
	if err := afero.WriteFile(scoped, patternFile, []byte("*"+patchSuffix+"\n"), 0o644); err != nil {
		return fmt.Errorf("staging patch matcher in %s: %w", patchesDir, err)
	}
	defer scoped.Remove(patternFile)

	matcher, err := ignore.NewMatcher(afero.NewIOFS(scoped), patternFile)
	if err != nil {
		return fmt.Errorf("building patch matcher for %s: %w", patchesDir, err)
	}

	for _, e := range entries {
		if e.IsDir() || e.Name() == patternFile {
			continue
		}
		if !matcher.Match(e.Name(), false) {
			return &UnsupportedPatchFormat{Name: e.Name()}
		}

		moduleName := strings.TrimSuffix(e.Name(), patchSuffix)
		path := patchesDir + "/" + e.Name()

		art, err := artifactio.Open(fs, path, false)
		if err != nil {
			return fmt.Errorf("opening patch jar %s: %w", path, err)
		}
		if err := art.Open(); err != nil {
			return fmt.Errorf("opening patch jar %s: %w", path, err)
		}
		patchEntries, err := art.Entries()
		art.Close()
		if err != nil {
			return fmt.Errorf("reading patch jar %s: %w", path, err)
		}

		byPool := o.byModule[moduleName]
		if byPool == nil {
			byPool = make(map[string][]byte)
			o.byModule[moduleName] = byPool
		}
		for _, pe := range patchEntries {
			rc, err := pe.Open()
			if err != nil {
				return fmt.Errorf("reading patch entry %s in %s: %w", pe.Name, path, err)
			}
			data, err := readAll(rc)
			rc.Close()
			if err != nil {
				return fmt.Errorf("reading patch entry %s in %s: %w", pe.Name, path, err)
			}
			byPool[pe.Name] = data
		}
		o.Log.Debugf("loaded patch %s for module %s (%d entries)", path, moduleName, len(patchEntries))
	}
	return nil
}

// EntriesFor returns the patch entries staged for moduleName, if any
// were loaded.
func (o *Overlay) EntriesFor(moduleName string) map[string][]byte {
	return o.byModule[moduleName]
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
