// Package resolver implements ConflictResolver: detecting packages
// exported by more than one module, picking a winner by priority, and
// building the substitution map the rest of the link pipeline consults
// (spec.md §4.5).
package resolver

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"
	"k8s.io/apimachinery/pkg/util/sets"

	"github.com/openshift-psap/runtime-linker/pkg/api/v1alpha1"
)

// UnresolvedServiceExport is fatal: a surviving module's provides
// clause names a service interface whose package no module exports.
type UnresolvedServiceExport struct {
	Module  string
	Service string
}

func (e *UnresolvedServiceExport) Error() string {
	return fmt.Sprintf("module %s provides service %s but no module exports its package", e.Module, e.Service)
}

// Result is ConflictResolver's output: the surviving application
// modules (losers removed), the substitution map every loser's name
// maps to its winner's, and the per-module extra requires contributed
// by resolving provides/service exports.
type Result struct {
	Survivors     map[string]*v1alpha1.ModuleRef
	Substitutions map[string]string
	ExtraRequires map[string][]string
}

// Resolver runs ConflictResolver over a set of application ModuleRefs.
type Resolver struct {
	Log *logrus.Entry
}

// New builds a Resolver with sane defaults.
func New() *Resolver {
	return &Resolver{Log: logrus.New().WithField("component", "resolver")}
}

// Resolve detects export conflicts across appModules, removes losing
// modules, and resolves every surviving module's provides clauses into
// extra requires. platformExportIndex resolves a package name to the
// exporting platform module name, consulted only when no surviving
// application module exports the service's package.
func (r *Resolver) Resolve(appModules map[string]*v1alpha1.ModuleRef, platformExportIndex func(pkg string) (string, bool)) (*Result, error) {
	exporters := make(map[string]sets.String)
	for name, ref := range appModules {
		for _, pkg := range ref.Descriptor.ExportedPackages(ref.Automatic) {
			if exporters[pkg] == nil {
				exporters[pkg] = sets.NewString()
			}
			exporters[pkg].Insert(name)
		}
	}

	substitutions := make(map[string]string)
	losers := sets.NewString()

	pkgs := make([]string, 0, len(exporters))
	for pkg := range exporters {
		pkgs = append(pkgs, pkg)
	}
	sort.Strings(pkgs)

	for _, pkg := range pkgs {
		names := exporters[pkg]
		if names.Len() <= 1 {
			continue
		}
		winner := pickWinner(names.List(), appModules)
		for _, name := range names.List() {
			if name == winner {
				continue
			}
			substitutions[name] = winner
			losers.Insert(name)
			r.Log.Warnf("package %s exported by both %s and %s: keeping %s", pkg, name, winner, winner)
		}
	}

	survivors := make(map[string]*v1alpha1.ModuleRef, len(appModules))
	for name, ref := range appModules {
		if losers.Has(name) {
			continue
		}
		survivors[name] = ref
	}

	exportIndex := func(pkg string) (string, bool) {
		for name, ref := range survivors {
			for _, p := range ref.Descriptor.ExportedPackages(ref.Automatic) {
				if p == pkg {
					return name, true
				}
			}
		}
		if platformExportIndex != nil {
			return platformExportIndex(pkg)
		}
		return "", false
	}

	extraRequires := make(map[string][]string)
	names := make([]string, 0, len(survivors))
	for n := range survivors {
		names = append(names, n)
	}
	sort.Strings(names)

	for _, name := range names {
		ref := survivors[name]
		for _, p := range ref.Descriptor.Provides {
			servicePkg := packageOf(p.Service)
			module, ok := exportIndex(servicePkg)
			if !ok {
				return nil, &UnresolvedServiceExport{Module: name, Service: p.Service}
			}
			if sub, ok := substitutions[module]; ok {
				module = sub
			}
			extraRequires[name] = append(extraRequires[name], module)
		}
	}

	return &Result{
		Survivors:     survivors,
		Substitutions: substitutions,
		ExtraRequires: extraRequires,
	}, nil
}

// pickWinner applies spec.md §4.5's priority order: jakarta, else
// javax, else java, else the first non-automatic module. When more
// than one candidate is non-automatic, a module whose archive name
// does not carry the conventional "-api" infix is preferred (an
// impl archive beats its own api archive); ties beyond that fall back
// to sorted, deterministic order.
func pickWinner(candidates []string, modules map[string]*v1alpha1.ModuleRef) string {
	sorted := append([]string(nil), candidates...)
	sort.Strings(sorted)

	if m := firstWithPrefix(sorted, "jakarta"); m != "" {
		return m
	}
	if m := firstWithPrefix(sorted, "javax"); m != "" {
		return m
	}
	if m := firstWithPrefix(sorted, "java"); m != "" {
		return m
	}

	var nonAutomatic []string
	for _, name := range sorted {
		if ref, ok := modules[name]; ok && !ref.Automatic {
			nonAutomatic = append(nonAutomatic, name)
		}
	}
	switch len(nonAutomatic) {
	case 0:
		return sorted[0]
	case 1:
		return nonAutomatic[0]
	default:
		return pickByArchiveName(nonAutomatic, modules)
	}
}

// pickByArchiveName prefers the candidate whose archive file name does
// not contain "-api", mirroring ModuleScanner's own dedup tiebreak
// (pkg/scanner's rankLess) for the same naming convention.
func pickByArchiveName(candidates []string, modules map[string]*v1alpha1.ModuleRef) string {
	sorted := append([]string(nil), candidates...)
	sort.Strings(sorted)
	for _, name := range sorted {
		ref := modules[name]
		if !strings.Contains(filepath.Base(ref.Location), "-api") {
			return name
		}
	}
	return sorted[0]
}

func firstWithPrefix(names []string, prefix string) string {
	for _, n := range names {
		if strings.HasPrefix(n, prefix) {
			return n
		}
	}
	return ""
}

func packageOf(serviceInterface string) string {
	idx := strings.LastIndex(serviceInterface, ".")
	if idx < 0 {
		return serviceInterface
	}
	return serviceInterface[:idx]
}
