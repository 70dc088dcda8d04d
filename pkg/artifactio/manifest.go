package artifactio

import (
	"bufio"
	"bytes"
	"fmt"
	"regexp"
	"strings"
)

// AutomaticModuleNameAttr is the manifest attribute key ModuleScanner
// and ArtifactReader derive an automatic module's name from.
const AutomaticModuleNameAttr = "Automatic-Module-Name"

const manifestPath = "META-INF/MANIFEST.MF"

// parseManifestAttr reads a Java-style manifest (colon-separated,
// continuation lines starting with a single space, grounded on the
// header-folding rules quay-claircore's java/jar package implements
// for the same file) and returns the named attribute's value.
func parseManifestAttr(data []byte, attr string) (string, bool) {
	lines := unfoldManifest(data)
	prefix := attr + ":"
	for _, line := range lines {
		if strings.HasPrefix(line, prefix) {
			return strings.TrimSpace(strings.TrimPrefix(line, prefix)), true
		}
	}
	return "", false
}

// unfoldManifest joins manifest continuation lines (a line beginning
// with a single space continues the previous one) back into whole
// logical lines.
func unfoldManifest(data []byte) []string {
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	var lines []string
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, " ") && len(lines) > 0 {
			lines[len(lines)-1] += strings.TrimPrefix(line, " ")
			continue
		}
		if line == "" {
			continue
		}
		lines = append(lines, line)
	}
	return lines
}

// setManifestAttr merges attr=value into an existing manifest (data
// may be nil, meaning "create one"), returning the new manifest
// bytes. Used by the rescue workflow (spec.md §4.3 step 2).
func setManifestAttr(data []byte, attr, value string) []byte {
	lines := unfoldManifest(data)
	found := false
	for i, line := range lines {
		if strings.HasPrefix(line, attr+":") {
			lines[i] = fmt.Sprintf("%s: %s", attr, value)
			found = true
			break
		}
	}
	if !found {
		if len(lines) == 0 {
			lines = append(lines, "Manifest-Version: 1.0")
		}
		lines = append(lines, fmt.Sprintf("%s: %s", attr, value))
	}
	var buf bytes.Buffer
	for _, l := range lines {
		buf.WriteString(foldManifestLine(l))
		buf.WriteString("\r\n")
	}
	buf.WriteString("\r\n")
	return buf.Bytes()
}

// foldManifestLine wraps a logical manifest line at 72 bytes using
// the standard continuation convention, matching real jar manifests
// closely enough for round-trip rewriting (we never need to
// byte-for-byte match a JVM-produced manifest, only to produce one a
// conforming parser reads back correctly).
func foldManifestLine(line string) string {
	const max = 72
	if len(line) <= max {
		return line
	}
	var b strings.Builder
	b.WriteString(line[:max])
	rest := line[max:]
	for len(rest) > 0 {
		b.WriteString("\r\n ")
		n := max - 1
		if n > len(rest) {
			n = len(rest)
		}
		b.WriteString(rest[:n])
		rest = rest[n:]
	}
	return b.String()
}

// automaticModuleNameFromFile derives a best-effort module name from a
// jar's file name when no manifest attribute is present, following
// the de-facto automatic-module naming rule: strip a trailing version
// suffix and extension, replace non-alphanumeric runs with dots.
var versionSuffix = regexp.MustCompile(`-(\d+(\.\d+)*([.\-][A-Za-z0-9]+)*)$`)
var nonAlnumRun = regexp.MustCompile(`[^A-Za-z0-9]+`)

func automaticModuleNameFromFile(base string) string {
	name := strings.TrimSuffix(base, ".jar")
	name = versionSuffix.ReplaceAllString(name, "")
	name = nonAlnumRun.ReplaceAllString(name, ".")
	name = strings.Trim(name, ".")
	return name
}
