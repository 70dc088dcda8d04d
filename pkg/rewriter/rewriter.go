// Package rewriter implements DescriptorRewriter: it produces a new
// descriptor for each application module applying substitutions,
// added requires, openness, and export policy, and stages the
// resulting module-info blob as an overlay entry (spec.md §4.7).
package rewriter

import (
	"sort"

	"github.com/sirupsen/logrus"

	"github.com/openshift-psap/runtime-linker/pkg/api/v1alpha1"
	"github.com/openshift-psap/runtime-linker/pkg/descriptor"
)

const automaticSentinel = "META-INF/an.automatic.module"

// Rewriter runs DescriptorRewriter over a single application module at
// a time.
type Rewriter struct {
	Log *logrus.Entry
}

// New builds a Rewriter with sane defaults.
func New() *Rewriter {
	return &Rewriter{Log: logrus.New().WithField("component", "rewriter")}
}

// Rewrite produces ref's rewritten descriptor and stages it (plus, for
// automatic modules, the an.automatic.module sentinel) as overlay
// entries on ref. extraRequires are dependency names discovered by
// DependencyAnalyzer/ConflictResolver; substitutions maps a module
// name to its conflict-resolution replacement.
func (r *Rewriter) Rewrite(ref *v1alpha1.ModuleRef, extraRequires []string, substitutions map[string]string) error {
	d := ref.Descriptor.Clone()

	if ref.Automatic {
		if d.Modifiers == nil {
			d.Modifiers = make(map[v1alpha1.Modifier]bool)
		}
		d.Modifiers[v1alpha1.ModOpen] = true
		delete(d.Modifiers, v1alpha1.ModAutomatic)

		d.Exports = nil
		for _, pkg := range d.Packages {
			d.Exports = append(d.Exports, v1alpha1.PackageClause{Source: pkg})
		}
		d.Opens = nil

		d.Requires = nil
		for _, dep := range extraRequires {
			d.Requires = append(d.Requires, v1alpha1.Requires{Target: dep})
		}
	} else if !d.HasModifier(v1alpha1.ModOpen) {
		if d.Modifiers == nil {
			d.Modifiers = make(map[v1alpha1.Modifier]bool)
		}
		d.Modifiers[v1alpha1.ModOpen] = true
	}

	// Step 3: apply substitutions to every requires.target; a requires
	// that substitutes to the module's own name is dropped.
	var rewritten []v1alpha1.Requires
	for _, req := range d.Requires {
		target := req.Target
		if sub, ok := substitutions[target]; ok {
			target = sub
		}
		if target == ref.Name {
			r.Log.Debugf("module %s: dropping self-referential requires (substituted from %s)", ref.Name, req.Target)
			continue
		}
		req.Target = target
		rewritten = append(rewritten, req)
	}
	d.Requires = rewritten

	// Step 4: append extraRequires not already present and not
	// colliding with the module's own name, when not already folded in
	// by the automatic-module branch above.
	if !ref.Automatic {
		present := make(map[string]bool, len(d.Requires))
		for _, req := range d.Requires {
			present[req.Target] = true
		}
		for _, dep := range extraRequires {
			target := dep
			if sub, ok := substitutions[target]; ok {
				target = sub
			}
			if target == ref.Name || present[target] {
				continue
			}
			present[target] = true
			d.Requires = append(d.Requires, v1alpha1.Requires{Target: target})
		}
	}

	sort.Slice(d.Requires, func(i, j int) bool { return d.Requires[i].Target < d.Requires[j].Target })

	// Step 5 (mainClass, provides, uses, version) is satisfied by
	// Clone() having already copied them unchanged.

	blob, err := descriptor.Encode(d)
	if err != nil {
		return err
	}

	ref.SetDescriptor(d)

	poolName := "module-info.class"
	if ref.Kind == v1alpha1.KindPackaged {
		poolName = "classes/module-info.class"
	}
	ref.AddOverlay(poolName, blob)

	if ref.Automatic {
		ref.AddOverlay(automaticSentinel, nil)
	}

	return nil
}
