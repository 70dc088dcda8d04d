// Package config loads the small set of static tables the linker core
// needs but cannot derive from the artifacts themselves: the
// name-rescue table (spec.md §4.3), the dynamic-packages set
// consulted by DependencyAnalyzer (spec.md §4.4), and the
// framework-detection prefixes IndexAugmenter uses (spec.md §4.8).
package config

import (
	"fmt"
	"io"

	"gopkg.in/yaml.v2"
)

// RescueEntry is a name-rescue table hit: the automatic-module name
// and canonical version to stamp onto a jar whose own manifest has no
// Automatic-Module-Name attribute.
type RescueEntry struct {
	AutomaticModuleName string `yaml:"automaticModuleName"`
	CanonicalVersion    string `yaml:"canonicalVersion"`
}

// Config is the full static table set, keyed the way each consumer
// looks things up: RescueTable by file-name prefix, DynamicPackages as
// a membership set, FrameworkPrefixes as the two configured prefixes
// IndexAugmenter's detection rule (spec.md §4.8) requires.
type Config struct {
	RescueTable      map[string]RescueEntry `yaml:"rescueTable"`
	DynamicPackages  []string               `yaml:"dynamicPackages"`
	FrameworkPrefixes [2]string             `yaml:"-"`

	// FrameworkPrefixesRaw is the YAML-facing form; exactly two
	// entries are required (spec.md §4.8: "a module whose name starts
	// with a configured prefix, and a second module starting with
	// another configured prefix").
	FrameworkPrefixesRaw []string `yaml:"frameworkPrefixes"`

	// ExcludedPackagesByModule preserves the "excluded packages by
	// module" hack spec.md §9 says must survive verbatim: a package
	// name to strip from one specific library's package set because
	// it is not a legal package name for a strict module (e.g. a
	// library shipping a top-level package literally named "enum").
	ExcludedPackagesByModule map[string][]string `yaml:"excludedPackagesByModule"`
}

// Load parses a YAML config document.
func Load(r io.Reader) (*Config, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("reading linker config: %w", err)
	}
	var c Config
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("parsing linker config: %w", err)
	}
	if len(c.FrameworkPrefixesRaw) > 0 {
		if len(c.FrameworkPrefixesRaw) != 2 {
			return nil, fmt.Errorf("parsing linker config: frameworkPrefixes needs exactly two entries, got %d", len(c.FrameworkPrefixesRaw))
		}
		copy(c.FrameworkPrefixes[:], c.FrameworkPrefixesRaw)
	}
	return &c, nil
}

// IsDynamicPackage reports whether pkg belongs to the configured
// dynamic-packages set (e.g. SLF4J binding packages) that
// DependencyAnalyzer must skip per spec.md §4.4.
func (c *Config) IsDynamicPackage(pkg string) bool {
	for _, p := range c.DynamicPackages {
		if p == pkg {
			return true
		}
	}
	return false
}

// ExcludedPackages returns the packages that must be stripped from
// moduleName's package set, if any.
func (c *Config) ExcludedPackages(moduleName string) []string {
	return c.ExcludedPackagesByModule[moduleName]
}

// Default returns the built-in table used when no override config
// path is supplied. It is deliberately small: a name-rescue entry for
// the classic jboss-interceptors spec jar used in spec.md's S5
// scenario, the SLF4J binding packages dynamic-packages set, and the
// jakarta/CDI framework-prefix pair IndexAugmenter's detection rule
// needs.
func Default() *Config {
	return &Config{
		RescueTable: map[string]RescueEntry{
			"jboss-interceptors-api_1.2_spec": {
				AutomaticModuleName: "jakarta.interceptor.api",
				CanonicalVersion:    "1.2.0",
			},
			"jboss-annotations-api_1.3_spec": {
				AutomaticModuleName: "jakarta.annotation.api",
				CanonicalVersion:    "1.3.0",
			},
		},
		DynamicPackages: []string{
			"org.slf4j.impl",
		},
		FrameworkPrefixes:    [2]string{"jakarta.enterprise", "jakarta.inject"},
		FrameworkPrefixesRaw: []string{"jakarta.enterprise", "jakarta.inject"},
		ExcludedPackagesByModule: map[string][]string{
			"jakarta.activation": {"enum"},
		},
	}
}
