// Package depanalyzer implements DependencyAnalyzer: for an automatic
// module, it invokes the external bytecode-dep tool and interprets its
// output into a dependency set (spec.md §4.4).
package depanalyzer

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/openshift-psap/runtime-linker/internal/procio"
	"github.com/openshift-psap/runtime-linker/pkg/api/v1alpha1"
	"github.com/openshift-psap/runtime-linker/pkg/config"
)

// ExportIndex is the subset of ModuleGraph's exportIndex this package
// consults when a dependency line reads "not found": the package that
// analysis tool failed to resolve itself might still be resolvable
// against the combined graph built so far.
type ExportIndex interface {
	ExporterOf(pkg string) (string, bool)
}

// Analyzer invokes the bytecode-dep tool (jdeps-style) for automatic
// modules and parses its output per spec.md §4.4.
type Analyzer struct {
	Runner *procio.Runner
	Config *config.Config
	Log    *logrus.Entry

	// ToolName is the subprocess to invoke. Defaults to "jdeps".
	ToolName string
}

// New builds an Analyzer with sane defaults.
func New(cfg *config.Config) *Analyzer {
	if cfg == nil {
		cfg = config.Default()
	}
	return &Analyzer{
		Runner:   &procio.Runner{},
		Config:   cfg,
		Log:      logrus.New().WithField("component", "depanalyzer"),
		ToolName: "jdeps",
	}
}

// Analyze derives ref's dependency set. Non-automatic modules yield
// descriptor.requires mapped to target names directly, with no
// subprocess invoked. Automatic modules are run through the external
// tool, with multiReleaseFeature passed as --multi-release when
// non-empty.
func (a *Analyzer) Analyze(ctx context.Context, ref *v1alpha1.ModuleRef, index ExportIndex, multiReleaseFeature string) ([]string, error) {
	if !ref.Automatic {
		out := make([]string, 0, len(ref.Descriptor.Requires))
		for _, r := range ref.Descriptor.Requires {
			out = append(out, r.Target)
		}
		return out, nil
	}

	args := []string{}
	if multiReleaseFeature != "" {
		args = append(args, "--multi-release", multiReleaseFeature)
	}
	args = append(args, ref.Location)

	res, err := a.Runner.Run(ctx, a.ToolName, args...)
	if err != nil {
		return nil, fmt.Errorf("running %s against %s: %w", a.ToolName, ref.Location, err)
	}

	return a.parse(res.Stdout, ref, index), nil
}

// parse interprets the tool's textual output per spec.md §4.4.
// Unrecognized line shapes are logged and skipped rather than treated
// as fatal.
func (a *Analyzer) parse(stdout []byte, ref *v1alpha1.ModuleRef, index ExportIndex) []string {
	selfName := filepath.Base(ref.Location)

	seen := make(map[string]bool)
	var deps []string
	add := func(dep string) {
		if dep == "" || dep == ref.Name || dep == selfName {
			return
		}
		if seen[dep] {
			return
		}
		seen[dep] = true
		deps = append(deps, dep)
	}

	scanner := bufio.NewScanner(bytes.NewReader(stdout))
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.Contains(line, "->") {
			continue
		}
		_, rhs, _ := strings.Cut(line, "->")
		rhs = strings.TrimSpace(rhs)
		pkg, providerInfo, ok := strings.Cut(rhs, " ")
		if !ok {
			a.Log.WithField("line", line).Debug("dependency line with no provider info, skipping")
			continue
		}
		pkg = strings.TrimSpace(pkg)
		providerInfo = strings.TrimSpace(providerInfo)

		if a.Config.IsDynamicPackage(pkg) {
			continue
		}

		switch {
		case providerInfo == "not found":
			if index == nil {
				a.Log.WithField("package", pkg).Warn("package not found and no export index available")
				continue
			}
			if module, ok := index.ExporterOf(pkg); ok {
				add(module)
			} else {
				a.Log.WithField("package", pkg).Warn("package not found in any known module")
			}
		case strings.Contains(providerInfo, "("):
			inner := extractParenToken(providerInfo)
			if inner != "" {
				add(inner)
			}
		default:
			fields := strings.Fields(providerInfo)
			if len(fields) == 1 {
				add(fields[0])
			} else {
				a.Log.WithField("line", line).Debug("unrecognized provider-info shape, skipping")
			}
		}
	}
	return deps
}

// extractParenToken returns the inner text of the first "(...)" group
// in s, if it is a single whitespace-free token; otherwise "".
func extractParenToken(s string) string {
	open := strings.Index(s, "(")
	closeIdx := strings.Index(s, ")")
	if open < 0 || closeIdx <= open {
		return ""
	}
	inner := strings.TrimSpace(s[open+1 : closeIdx])
	if inner == "" || strings.ContainsAny(inner, " \t") {
		return ""
	}
	return inner
}
