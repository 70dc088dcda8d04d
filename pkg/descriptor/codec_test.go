package descriptor

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/require"

	"github.com/openshift-psap/runtime-linker/pkg/api/v1alpha1"
)

// requiresOrder lets the comparisons below ignore Requires order:
// Encode canonicalizes requires by Target for a stable wire blob, so a
// sample built in declaration order decodes back sorted.
var requiresOrder = cmpopts.SortSlices(func(a, b v1alpha1.Requires) bool { return a.Target < b.Target })

func sampleStrict() *v1alpha1.Descriptor {
	return &v1alpha1.Descriptor{
		Name:      "com.acme.widget",
		Version:   "1.2.3",
		Modifiers: map[v1alpha1.Modifier]bool{v1alpha1.ModOpen: true},
		MainClass: "com.acme.widget.Main",
		Packages:  []string{"com.acme.widget", "com.acme.widget.internal"},
		Requires: []v1alpha1.Requires{
			{Target: "java.base", Transitive: false},
			{Target: "com.acme.util", Transitive: true, CompiledVersion: "2.0.0"},
		},
		Exports: []v1alpha1.PackageClause{
			{Source: "com.acme.widget"},
		},
		Opens: []v1alpha1.PackageClause{
			{Source: "com.acme.widget.internal", Targets: []string{"com.acme.tests"}},
		},
		Uses: []string{"com.acme.widget.Plugin"},
		Provides: []v1alpha1.Provides{
			{Service: "com.acme.widget.Plugin", Providers: []string{"com.acme.widget.internal.DefaultPlugin"}},
		},
	}
}

func TestRoundTripStrict(t *testing.T) {
	d := sampleStrict()
	blob, err := Encode(d)
	require.NoError(t, err)
	got, err := Decode(blob)
	require.NoError(t, err)
	if diff := cmp.Diff(d, got, requiresOrder); diff != "" {
		t.Fatalf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestAutomaticModifierFlattened(t *testing.T) {
	d := sampleStrict()
	d.Modifiers[v1alpha1.ModAutomatic] = true

	blob, err := Encode(d)
	require.NoError(t, err)
	got, err := Decode(blob)
	require.NoError(t, err)

	want := d.Clone()
	delete(want.Modifiers, v1alpha1.ModAutomatic)

	if diff := cmp.Diff(want, got, requiresOrder); diff != "" {
		t.Fatalf("automatic flattening mismatch (-want +got):\n%s", diff)
	}
}

func TestEncodeRejectsEmptyName(t *testing.T) {
	d := sampleStrict()
	d.Name = ""
	_, err := Encode(d)
	require.Error(t, err)
	var encErr *DescriptorEncodeError
	require.ErrorAs(t, err, &encErr)
}

func TestEncodeRejectsEmptyRequiresTarget(t *testing.T) {
	d := sampleStrict()
	d.Requires = append(d.Requires, v1alpha1.Requires{Target: ""})
	_, err := Encode(d)
	require.Error(t, err)
}

func TestDecodeRejectsBadMagic(t *testing.T) {
	_, err := Decode([]byte("not-a-descriptor-blob"))
	require.Error(t, err)
	var decErr *DescriptorDecodeError
	require.ErrorAs(t, err, &decErr)
}

func TestModulePackagesOmittedWhenRedundant(t *testing.T) {
	d := &v1alpha1.Descriptor{
		Name:      "com.acme.widget",
		Modifiers: map[v1alpha1.Modifier]bool{},
		Packages:  []string{"com.acme.widget"},
		Exports:   []v1alpha1.PackageClause{{Source: "com.acme.widget"}},
	}
	blob, err := Encode(d)
	require.NoError(t, err)
	got, err := Decode(blob)
	require.NoError(t, err)
	require.Equal(t, []string{"com.acme.widget"}, got.Packages)
}
