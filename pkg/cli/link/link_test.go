package link

import (
	"archive/zip"
	"bytes"
	"context"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"

	"github.com/openshift-psap/runtime-linker/pkg/api/v1alpha1"
	"github.com/openshift-psap/runtime-linker/pkg/descriptor"
)

func writeJar(t *testing.T, fs afero.Fs, path string, files map[string][]byte) {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, content := range files {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write(content)
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	require.NoError(t, afero.WriteFile(fs, path, buf.Bytes(), 0o644))
}

// TestRunLinksStrictAppWithoutExternalTools exercises the CLI's Run
// entry point with a strict (module-info-bearing) application module,
// which never shells out to the bytecode-dep analyzer, so the whole
// pipeline runs against a fully in-memory filesystem.
func TestRunLinksStrictAppWithoutExternalTools(t *testing.T) {
	fs := afero.NewMemMapFs()

	appDesc := &v1alpha1.Descriptor{
		Name:     "app",
		Requires: []v1alpha1.Requires{{Target: "java.base"}},
	}
	appBlob, err := descriptor.Encode(appDesc)
	require.NoError(t, err)
	writeJar(t, fs, "/app/app.jar", map[string][]byte{
		"module-info.class":  appBlob,
		"com/acme/App.class": []byte("stub"),
	})

	require.NoError(t, afero.WriteFile(fs, "/jdk/java.base/placeholder", []byte("base"), 0o644))

	err = Run(context.Background(), fs, "/app/app.jar", Options{
		JDK: "/jdk",
		Out: "/out/image",
	})
	require.NoError(t, err)

	data, err := afero.ReadFile(fs, "/out/image/app/module-info.class")
	require.NoError(t, err)
	require.NotEmpty(t, data)

	entries, err := afero.ReadDir(fs, "/out")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, "image", entries[0].Name())
}
