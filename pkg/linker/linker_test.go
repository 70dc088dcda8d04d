package linker

import (
	"archive/zip"
	"bytes"
	"context"
	"os/exec"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"

	"github.com/openshift-psap/runtime-linker/internal/procio"
	"github.com/openshift-psap/runtime-linker/pkg/api/v1alpha1"
	"github.com/openshift-psap/runtime-linker/pkg/config"
	"github.com/openshift-psap/runtime-linker/pkg/descriptor"
	"github.com/openshift-psap/runtime-linker/pkg/imagebuilder"
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

func writeDirModule(t *testing.T, fs afero.Fs, dir string, files map[string]string) {
	t.Helper()
	for name, content := range files {
		require.NoError(t, afero.WriteFile(fs, dir+"/"+name, []byte(content), 0o644))
	}
}

func fakeJdeps(stdout string) *procio.Runner {
	return &procio.Runner{
		Command: func(ctx context.Context, name string, args ...string) *exec.Cmd {
			return exec.CommandContext(ctx, "/bin/echo", "-n", stdout)
		},
	}
}

func TestLinkAutomaticMainWithAutomaticDepsAndPlatformClosure(t *testing.T) {
	fs := afero.NewMemMapFs()

	writeJar(t, fs, "/app/app.jar", map[string]string{
		"META-INF/MANIFEST.MF": "Manifest-Version: 1.0\r\nAutomatic-Module-Name: app\r\n",
		"com/acme/Main.class":  "stub",
	})
	writeJar(t, fs, "/libs/helper.jar", map[string]string{
		"META-INF/MANIFEST.MF":         "Manifest-Version: 1.0\r\nAutomatic-Module-Name: helper\r\n",
		"com/acme/helper/Helper.class": "stub",
	})

	writeDirModule(t, fs, "/jdk/java.base", map[string]string{
		"placeholder": "base",
	})
	loggingDesc := &v1alpha1.Descriptor{
		Name:     "java.logging",
		Requires: []v1alpha1.Requires{{Target: "java.base"}},
		Exports:  []v1alpha1.PackageClause{{Source: "java.util.logging"}},
		Packages: []string{"java.util.logging"},
	}
	loggingBlob, err := descriptor.Encode(loggingDesc)
	require.NoError(t, err)
	writeDirModule(t, fs, "/jdk/java.logging", map[string]string{
		"module-info.class":              string(loggingBlob),
		"java/util/logging/Logger.class": "stub",
	})

	builder := imagebuilder.NewMem()
	lk := New(fs, config.Default(), builder, nil)
	lk.Analyzer.Runner = fakeJdeps("app -> java.util.logging java.logging\n")

	path, err := lk.Link(context.Background(), Options{
		AppArtifact: "/app/app.jar",
		LibsDir:     "/libs",
		PlatformDir: "/jdk",
	})
	require.NoError(t, err)
	require.NotEmpty(t, path)

	order := builder.ModuleOrder()
	require.Equal(t, []string{"java.base", "app", "helper", "java.logging"}, order)

	appModInfo, ok := builder.EntryContent("app", "module-info.class")
	require.True(t, ok)
	appDesc, err := descriptor.Decode(appModInfo)
	require.NoError(t, err)
	var targets []string
	for _, r := range appDesc.Requires {
		targets = append(targets, r.Target)
	}
	require.Contains(t, targets, "helper")
	require.Contains(t, targets, "java.logging")
}

func TestLinkStripDebugDropsHeaderEntries(t *testing.T) {
	fs := afero.NewMemMapFs()
	writeJar(t, fs, "/app/app.jar", map[string]string{
		"META-INF/MANIFEST.MF": "Manifest-Version: 1.0\r\nAutomatic-Module-Name: app\r\n",
		"com/acme/Main.class":  "stub",
		"include/foo.h":        "header",
	})
	writeDirModule(t, fs, "/jdk/java.base", map[string]string{"placeholder": "base"})

	builder := imagebuilder.NewMem()
	lk := New(fs, config.Default(), builder, nil)
	lk.Analyzer.Runner = fakeJdeps("")

	_, err := lk.Link(context.Background(), Options{
		AppArtifact: "/app/app.jar",
		PlatformDir: "/jdk",
		StripDebug:  true,
	})
	require.NoError(t, err)
	require.NotContains(t, builder.Entries("app"), "include/foo.h")
}

func TestLinkKeepsHeaderEntriesWithoutStripDebug(t *testing.T) {
	fs := afero.NewMemMapFs()
	writeJar(t, fs, "/app/app.jar", map[string]string{
		"META-INF/MANIFEST.MF": "Manifest-Version: 1.0\r\nAutomatic-Module-Name: app\r\n",
		"com/acme/Main.class":  "stub",
		"include/foo.h":        "header",
	})
	writeDirModule(t, fs, "/jdk/java.base", map[string]string{"placeholder": "base"})

	builder := imagebuilder.NewMem()
	lk := New(fs, config.Default(), builder, nil)
	lk.Analyzer.Runner = fakeJdeps("")

	_, err := lk.Link(context.Background(), Options{
		AppArtifact: "/app/app.jar",
		PlatformDir: "/jdk",
	})
	require.NoError(t, err)
	require.Contains(t, builder.Entries("app"), "include/foo.h")
}

func TestLinkScanErrorIsWrappedAsLinkError(t *testing.T) {
	fs := afero.NewMemMapFs()
	writeDirModule(t, fs, "/jdk/java.base", map[string]string{"placeholder": "base"})

	builder := imagebuilder.NewMem()
	lk := New(fs, config.Default(), builder, nil)

	_, err := lk.Link(context.Background(), Options{
		AppArtifact: "/app/does-not-exist.jar",
		PlatformDir: "/jdk",
	})
	require.Error(t, err)
	var target *LinkError
	require.ErrorAs(t, err, &target)
	require.Equal(t, "scan-application", target.Phase)
}
