package preload

import (
	"context"
	"os/exec"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/openshift-psap/runtime-linker/internal/procio"
)

func TestRecordClassesRunsDumpFlagAndParsesList(t *testing.T) {
	d := New("/opt/runtime/bin/java")
	d.Runner = &procio.Runner{
		Command: func(ctx context.Context, name string, args ...string) *exec.Cmd {
			return exec.CommandContext(ctx, "/bin/true")
		},
	}
	d.ReadFile = func(path string) ([]byte, error) {
		require.Equal(t, "/tmp/classes.lst", path)
		return []byte("com.acme.Main\ncom.acme.Widget\n\n"), nil
	}

	classes, err := d.RecordClasses(context.Background(), "/tmp/classes.lst")
	require.NoError(t, err)
	require.Equal(t, []string{"com.acme.Main", "com.acme.Widget"}, classes)
}

func TestCompileArchiveRunsDumpArchiveFlags(t *testing.T) {
	var gotArgs []string
	d := New("/opt/runtime/bin/java")
	d.Runner = &procio.Runner{
		Command: func(ctx context.Context, name string, args ...string) *exec.Cmd {
			gotArgs = args
			return exec.CommandContext(ctx, "/bin/true")
		},
	}

	err := d.CompileArchive(context.Background(), "/tmp/app.jsa", "/tmp/classes.lst")
	require.NoError(t, err)
	require.Contains(t, gotArgs, "-XX:SharedArchiveFile=/tmp/app.jsa")
	require.Contains(t, gotArgs, "-XX:SharedClassListFile=/tmp/classes.lst")
}
