package graph

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/openshift-psap/runtime-linker/pkg/api/v1alpha1"
)

func ref(name string, requires ...string) *v1alpha1.ModuleRef {
	var reqs []v1alpha1.Requires
	for _, r := range requires {
		reqs = append(reqs, v1alpha1.Requires{Target: r})
	}
	return &v1alpha1.ModuleRef{
		Name:       name,
		Descriptor: &v1alpha1.Descriptor{Name: name, Requires: reqs},
	}
}

func TestAddRejectsDuplicate(t *testing.T) {
	g := New("java.base")
	require.NoError(t, g.Add(ref("java.base")))
	err := g.Add(ref("java.base"))
	require.Error(t, err)
	var dup *DuplicateModule
	require.ErrorAs(t, err, &dup)
}

func TestOrderedPutsPlatformBaseFirst(t *testing.T) {
	g := New("java.base")
	require.NoError(t, g.Add(ref("zeta")))
	require.NoError(t, g.Add(ref("java.base")))
	require.NoError(t, g.Add(ref("alpha")))

	ordered := g.Ordered()
	require.Len(t, ordered, 3)
	require.Equal(t, "java.base", ordered[0].Name)
	require.Equal(t, "alpha", ordered[1].Name)
	require.Equal(t, "zeta", ordered[2].Name)
}

func TestCloseOverPlatformTraversesRequires(t *testing.T) {
	g := New("java.base")
	require.NoError(t, g.Add(ref("java.base")))
	require.NoError(t, g.Add(ref("java.logging", "java.base")))
	require.NoError(t, g.Add(ref("java.sql", "java.logging", "java.base")))
	require.NoError(t, g.Add(ref("java.unrelated")))

	closure := g.CloseOverPlatform([]string{"java.sql"})
	require.ElementsMatch(t, []string{"java.sql", "java.logging", "java.base"}, closure)
}

func TestCloseOverPlatformWarnsOnMissingTargetWithoutAborting(t *testing.T) {
	g := New("java.base")
	require.NoError(t, g.Add(ref("java.base")))
	require.NoError(t, g.Add(ref("java.sql", "java.missing")))

	closure := g.CloseOverPlatform([]string{"java.sql"})
	require.Contains(t, closure, "java.sql")
	require.Contains(t, closure, "java.missing")
}

func TestCloseOverPlatformIgnoresSelfLoops(t *testing.T) {
	g := New("java.base")
	require.NoError(t, g.Add(ref("java.base", "java.base")))

	closure := g.CloseOverPlatform([]string{"java.base"})
	require.Equal(t, []string{"java.base"}, closure)
}
