package index

import (
	"bytes"
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/openshift-psap/runtime-linker/pkg/api/v1alpha1"
	"github.com/openshift-psap/runtime-linker/pkg/config"
)

type fakeHandle struct {
	classes [][]byte
}

type fakeBuilder struct {
	failOn      string
	readIndexOK bool
}

func (b *fakeBuilder) BeginIndex() (Handle, error) {
	return &fakeHandle{}, nil
}

func (b *fakeBuilder) Index(h Handle, classBytes []byte) error {
	fh := h.(*fakeHandle)
	if b.failOn != "" && bytes.Contains(classBytes, []byte(b.failOn)) {
		return errors.New("bad class file")
	}
	fh.classes = append(fh.classes, classBytes)
	return nil
}

func (b *fakeBuilder) CompleteIndex(h Handle) ([]byte, error) {
	fh := h.(*fakeHandle)
	return bytes.Join(fh.classes, []byte("|")), nil
}

func (b *fakeBuilder) ReadIndex(data []byte) (Handle, error) {
	if b.readIndexOK {
		return &fakeHandle{}, nil
	}
	return nil, errors.New("invalid index")
}

func readCloser(content string) func() (v1alpha1.ReadCloser, error) {
	return func() (v1alpha1.ReadCloser, error) {
		return io.NopCloser(bytes.NewBufferString(content)), nil
	}
}

func TestUsesFrameworkRequiresBothPrefixes(t *testing.T) {
	a := New(&fakeBuilder{}, config.Default())
	require.True(t, a.UsesFramework([]string{"jakarta.enterprise.cdi", "jakarta.inject.api"}))
	require.False(t, a.UsesFramework([]string{"jakarta.enterprise.cdi"}))
}

func TestAugmentSkipsModulesWithoutBeansXML(t *testing.T) {
	a := New(&fakeBuilder{}, config.Default())
	ref := &v1alpha1.ModuleRef{Name: "plain"}
	d, err := a.Augment(ref, nil)
	require.NoError(t, err)
	require.Empty(t, d)
	require.Empty(t, ref.OverlayEntries)
}

func TestAugmentBuildsIndexWhenAbsent(t *testing.T) {
	a := New(&fakeBuilder{}, config.Default())
	ref := &v1alpha1.ModuleRef{Name: "beans.mod"}
	entries := []v1alpha1.Entry{
		{Name: beansXML, Kind: v1alpha1.EntryConfig, Open: readCloser("")},
		{Name: "com/acme/Widget.class", Kind: v1alpha1.EntryClassOrResource, Open: readCloser("classbytes")},
	}
	d, err := a.Augment(ref, entries)
	require.NoError(t, err)
	require.NotEmpty(t, d)
	require.Contains(t, ref.OverlayEntries, indexPath)
}

func TestAugmentLeavesValidExistingIndexAlone(t *testing.T) {
	a := New(&fakeBuilder{readIndexOK: true}, config.Default())
	ref := &v1alpha1.ModuleRef{Name: "beans.mod"}
	entries := []v1alpha1.Entry{
		{Name: beansXML, Kind: v1alpha1.EntryConfig, Open: readCloser("")},
		{Name: indexPath, Kind: v1alpha1.EntryConfig, Open: readCloser("existing-index")},
	}
	d, err := a.Augment(ref, entries)
	require.NoError(t, err)
	require.NotEmpty(t, d)
	require.Empty(t, ref.OverlayEntries)
}

func TestAugmentContinuesPastPerClassFailures(t *testing.T) {
	a := New(&fakeBuilder{failOn: "bad"}, config.Default())
	ref := &v1alpha1.ModuleRef{Name: "beans.mod"}
	entries := []v1alpha1.Entry{
		{Name: beansXML, Kind: v1alpha1.EntryConfig, Open: readCloser("")},
		{Name: "com/acme/Good.class", Kind: v1alpha1.EntryClassOrResource, Open: readCloser("good")},
		{Name: "com/acme/Bad.class", Kind: v1alpha1.EntryClassOrResource, Open: readCloser("bad")},
	}
	d, err := a.Augment(ref, entries)
	require.NoError(t, err)
	require.NotEmpty(t, d)
}
