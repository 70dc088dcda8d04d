package imagebuilder

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/openshift-psap/runtime-linker/pkg/api/v1alpha1"
)

func TestMemBuilderRecordsEntriesAndBuild(t *testing.T) {
	m := NewMem()
	require.NoError(t, m.AddEntry("app.main", "com/acme/Main.class", v1alpha1.EntryClassOrResource, strings.NewReader("bytes"), 5))
	require.NoError(t, m.AddEntry("java.base", "META-INF/MANIFEST.MF", v1alpha1.EntryConfig, strings.NewReader("mf"), 2))

	require.Equal(t, []string{"app.main", "java.base"}, m.ModuleOrder())
	require.Equal(t, []string{"com/acme/Main.class"}, m.Entries("app.main"))

	content, ok := m.EntryContent("app.main", "com/acme/Main.class")
	require.True(t, ok)
	require.Equal(t, []byte("bytes"), content)

	built, _ := m.Built()
	require.False(t, built)

	path, err := m.Build(context.Background())
	require.NoError(t, err)
	require.NotEmpty(t, path)

	built, gotPath := m.Built()
	require.True(t, built)
	require.Equal(t, path, gotPath)
}
