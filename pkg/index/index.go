// Package index implements IndexAugmenter: for bean-archive-style
// application modules, it ensures a content index entry exists,
// synthesizing one via the IndexBuilder collaborator when absent
// (spec.md §4.8).
package index

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/hashicorp/go-multierror"
	"github.com/opencontainers/go-digest"
	"github.com/sirupsen/logrus"

	"github.com/openshift-psap/runtime-linker/pkg/api/v1alpha1"
	"github.com/openshift-psap/runtime-linker/pkg/config"
)

const (
	beansXML  = "META-INF/beans.xml"
	indexPath = "META-INF/jandex.idx"
)

// IndexBuilder is the collaborator the core consumes to synthesize a
// content index (spec.md §6). Handle is opaque to this package.
type IndexBuilder interface {
	BeginIndex() (Handle, error)
	Index(h Handle, classBytes []byte) error
	CompleteIndex(h Handle) ([]byte, error)
	ReadIndex(data []byte) (Handle, error)
}

// Handle is an opaque in-progress or completed index handle.
type Handle interface{}

// Augmenter runs IndexAugmenter over application modules.
type Augmenter struct {
	Builder IndexBuilder
	Config  *config.Config
	Log     *logrus.Entry
}

// New builds an Augmenter with sane defaults.
func New(builder IndexBuilder, cfg *config.Config) *Augmenter {
	if cfg == nil {
		cfg = config.Default()
	}
	return &Augmenter{
		Builder: builder,
		Config:  cfg,
		Log:     logrus.New().WithField("component", "index"),
	}
}

// UsesFramework reports whether the application module set triggers
// framework detection: a module whose name starts with one configured
// prefix, and a second module starting with the other (spec.md §4.8).
func (a *Augmenter) UsesFramework(names []string) bool {
	prefixes := a.Config.FrameworkPrefixes
	if prefixes[0] == "" || prefixes[1] == "" {
		return false
	}
	var sawFirst, sawSecond bool
	for _, n := range names {
		if strings.HasPrefix(n, prefixes[0]) {
			sawFirst = true
		}
		if strings.HasPrefix(n, prefixes[1]) {
			sawSecond = true
		}
	}
	return sawFirst && sawSecond
}

// Augment inspects ref's entries for a bean archive and, if one is
// present without a valid index, synthesizes one and stages it as an
// overlay entry. Returns the content digest of the index when one is
// (re)used or built, for ContextStore's archives-by-package index.
func (a *Augmenter) Augment(ref *v1alpha1.ModuleRef, entries []v1alpha1.Entry) (digest.Digest, error) {
	var beans, existingIndex *v1alpha1.Entry
	for i := range entries {
		switch entries[i].Name {
		case beansXML:
			beans = &entries[i]
		case indexPath:
			existingIndex = &entries[i]
		}
	}
	if beans == nil {
		return "", nil
	}

	if existingIndex != nil {
		rc, err := existingIndex.Open()
		if err != nil {
			return "", fmt.Errorf("reading existing index for %s: %w", ref.Name, err)
		}
		defer rc.Close()
		data, err := readAll(rc)
		if err != nil {
			return "", err
		}
		if _, err := a.Builder.ReadIndex(data); err == nil {
			return digest.FromBytes(data), nil
		}
		a.Log.Warnf("module %s: existing index at %s is invalid, rebuilding", ref.Name, indexPath)
	}

	handle, err := a.Builder.BeginIndex()
	if err != nil {
		return "", fmt.Errorf("beginning index for %s: %w", ref.Name, err)
	}

	var buildErrs *multierror.Error
	for _, e := range entries {
		if e.Kind != v1alpha1.EntryClassOrResource || !strings.HasSuffix(e.Name, ".class") || strings.HasSuffix(e.Name, "module-info.class") {
			continue
		}
		rc, err := e.Open()
		if err != nil {
			buildErrs = multierror.Append(buildErrs, fmt.Errorf("opening %s: %w", e.Name, err))
			continue
		}
		data, err := readAll(rc)
		rc.Close()
		if err != nil {
			buildErrs = multierror.Append(buildErrs, fmt.Errorf("reading %s: %w", e.Name, err))
			continue
		}
		if err := a.Builder.Index(handle, data); err != nil {
			buildErrs = multierror.Append(buildErrs, fmt.Errorf("indexing %s: %w", e.Name, err))
			a.Log.WithError(err).Warnf("module %s: failed to index %s, continuing", ref.Name, e.Name)
		}
	}
	if buildErrs != nil && buildErrs.Len() > 0 {
		a.Log.Warnf("module %s: %d class(es) failed indexing", ref.Name, buildErrs.Len())
	}

	indexBytes, err := a.Builder.CompleteIndex(handle)
	if err != nil {
		return "", fmt.Errorf("completing index for %s: %w", ref.Name, err)
	}

	ref.AddOverlay(indexPath, indexBytes)
	return digest.FromBytes(indexBytes), nil
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
