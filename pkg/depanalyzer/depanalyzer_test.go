package depanalyzer

import (
	"context"
	"os/exec"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/openshift-psap/runtime-linker/internal/procio"
	"github.com/openshift-psap/runtime-linker/pkg/api/v1alpha1"
	"github.com/openshift-psap/runtime-linker/pkg/config"
)

type fakeExportIndex map[string]string

func (f fakeExportIndex) ExporterOf(pkg string) (string, bool) {
	m, ok := f[pkg]
	return m, ok
}

func fakeRunner(stdout string) *procio.Runner {
	return &procio.Runner{
		Command: func(ctx context.Context, name string, args ...string) *exec.Cmd {
			return exec.CommandContext(ctx, "/bin/echo", "-n", stdout)
		},
	}
}

func TestAnalyzeNonAutomaticUsesDescriptorRequires(t *testing.T) {
	a := New(config.Default())
	ref := &v1alpha1.ModuleRef{
		Name:      "strict.mod",
		Automatic: false,
		Descriptor: &v1alpha1.Descriptor{
			Requires: []v1alpha1.Requires{{Target: "java.base"}, {Target: "other.mod"}},
		},
	}
	deps, err := a.Analyze(context.Background(), ref, nil, "")
	require.NoError(t, err)
	require.Equal(t, []string{"java.base", "other.mod"}, deps)
}

func TestAnalyzeParsesNotFoundViaExportIndex(t *testing.T) {
	out := "  com.acme.widget -> com.acme.consumer not found\n"
	a := New(config.Default())
	a.Runner = fakeRunner(out)
	ref := &v1alpha1.ModuleRef{Name: "widget", Location: "/libs/widget.jar", Automatic: true}
	idx := fakeExportIndex{"com.acme.consumer": "consumer.mod"}

	deps, err := a.Analyze(context.Background(), ref, idx, "")
	require.NoError(t, err)
	require.Equal(t, []string{"consumer.mod"}, deps)
}

func TestAnalyzeParsesInternalQualifier(t *testing.T) {
	out := "  com.acme.widget -> com.acme.plumbing (internal.plumbing)\n"
	a := New(config.Default())
	a.Runner = fakeRunner(out)
	ref := &v1alpha1.ModuleRef{Name: "widget", Location: "/libs/widget.jar", Automatic: true}

	deps, err := a.Analyze(context.Background(), ref, nil, "")
	require.NoError(t, err)
	require.Equal(t, []string{"internal.plumbing"}, deps)
}

func TestAnalyzeParsesDirectProviderToken(t *testing.T) {
	out := "  com.acme.widget -> com.other.pkg other.module\n"
	a := New(config.Default())
	a.Runner = fakeRunner(out)
	ref := &v1alpha1.ModuleRef{Name: "widget", Location: "/libs/widget.jar", Automatic: true}

	deps, err := a.Analyze(context.Background(), ref, nil, "")
	require.NoError(t, err)
	require.Equal(t, []string{"other.module"}, deps)
}

func TestAnalyzeSkipsDynamicPackages(t *testing.T) {
	out := "  com.acme.widget -> org.slf4j.impl some.module\n"
	a := New(config.Default())
	a.Runner = fakeRunner(out)
	ref := &v1alpha1.ModuleRef{Name: "widget", Location: "/libs/widget.jar", Automatic: true}

	deps, err := a.Analyze(context.Background(), ref, nil, "")
	require.NoError(t, err)
	require.Empty(t, deps)
}

func TestAnalyzeSkipsSelfReference(t *testing.T) {
	out := "  com.acme.widget -> com.acme.widget.internal widget.jar\n"
	a := New(config.Default())
	a.Runner = fakeRunner(out)
	ref := &v1alpha1.ModuleRef{Name: "widget", Location: "/libs/widget.jar", Automatic: true}

	deps, err := a.Analyze(context.Background(), ref, nil, "")
	require.NoError(t, err)
	require.Empty(t, deps)
}
