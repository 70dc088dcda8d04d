package scanner

import (
	"archive/zip"
	"bytes"
	"context"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"

	"github.com/openshift-psap/runtime-linker/pkg/config"
)

func writeJar(t *testing.T, fs afero.Fs, path string, files map[string]string) {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, content := range files {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	require.NoError(t, afero.WriteFile(fs, path, buf.Bytes(), 0o644))
}

func TestScanDiscoversAutomaticModule(t *testing.T) {
	fs := afero.NewMemMapFs()
	writeJar(t, fs, "/libs/foo-bar-1.0.0.jar", map[string]string{
		"foo/Bar.class": "stub",
	})

	s := New(fs, config.Default())
	out, err := s.Scan(context.Background(), "/libs", true)
	require.NoError(t, err)
	require.Contains(t, out, "foo.bar")
	require.True(t, out["foo.bar"].Automatic)
}

func TestScanRescuesUnnamableJar(t *testing.T) {
	fs := afero.NewMemMapFs()
	writeJar(t, fs, "/libs/###.jar", map[string]string{
		"javax/interceptor/InvocationContext.class": "stub",
	})

	cfg := config.Default()
	cfg.RescueTable["###"] = config.RescueEntry{
		AutomaticModuleName: "jakarta.interceptor.api",
		CanonicalVersion:    "1.2.0",
	}

	s := New(fs, cfg)
	out, err := s.Scan(context.Background(), "/libs", true)
	require.NoError(t, err)
	require.Contains(t, out, "jakarta.interceptor.api")
	require.Equal(t, "1.2.0", out["jakarta.interceptor.api"].Version)
}

func TestScanRescueIsIdempotent(t *testing.T) {
	fs := afero.NewMemMapFs()
	path := "/libs/###.jar"
	writeJar(t, fs, path, map[string]string{
		"javax/annotation/Generated.class": "stub",
	})

	cfg := config.Default()
	cfg.RescueTable["###"] = config.RescueEntry{
		AutomaticModuleName: "jakarta.annotation.api",
		CanonicalVersion:    "1.3.0",
	}

	s := New(fs, cfg)
	_, err := s.Scan(context.Background(), "/libs", true)
	require.NoError(t, err)

	before, err := afero.ReadFile(fs, path)
	require.NoError(t, err)

	out, err := s.Scan(context.Background(), "/libs", true)
	require.NoError(t, err)
	require.Contains(t, out, "jakarta.annotation.api")

	after, err := afero.ReadFile(fs, path)
	require.NoError(t, err)
	require.Equal(t, before, after)
}

func TestScanDedupPrefersNonAPIFilename(t *testing.T) {
	fs := afero.NewMemMapFs()
	writeJar(t, fs, "/libs/widget-impl-2.0.0.jar", map[string]string{
		"META-INF/MANIFEST.MF":     "Manifest-Version: 1.0\r\nAutomatic-Module-Name: widget\r\n",
		"widget/impl/Widget.class": "stub",
	})
	writeJar(t, fs, "/libs/widget-api-1.0.0.jar", map[string]string{
		"META-INF/MANIFEST.MF": "Manifest-Version: 1.0\r\nAutomatic-Module-Name: widget\r\n",
		"widget/Widget.class":  "stub",
	})

	s := New(fs, config.Default())
	out, err := s.Scan(context.Background(), "/libs", true)
	require.NoError(t, err)
	require.Contains(t, out, "widget")
	require.Equal(t, "/libs/widget-impl-2.0.0.jar", out["widget"].Location)
}

func TestScanDedupTiebreaksLexicographically(t *testing.T) {
	fs := afero.NewMemMapFs()
	writeJar(t, fs, "/libs/b-widget.jar", map[string]string{
		"META-INF/MANIFEST.MF": "Manifest-Version: 1.0\r\nAutomatic-Module-Name: widget\r\n",
		"widget/B.class":       "stub",
	})
	writeJar(t, fs, "/libs/a-widget.jar", map[string]string{
		"META-INF/MANIFEST.MF": "Manifest-Version: 1.0\r\nAutomatic-Module-Name: widget\r\n",
		"widget/A.class":       "stub",
	})

	s := New(fs, config.Default())
	out, err := s.Scan(context.Background(), "/libs", true)
	require.NoError(t, err)
	require.Contains(t, out, "widget")
	require.Equal(t, "/libs/a-widget.jar", out["widget"].Location)
}

func TestScanStrictModeFailsOnUnrelatedError(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/libs/not-a-jar.jar", []byte("not a zip"), 0o644))

	s := New(fs, config.Default())
	_, err := s.Scan(context.Background(), "/libs", true)
	require.Error(t, err)
}
