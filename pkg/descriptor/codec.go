// Package descriptor implements DescriptorCodec: encoding and
// decoding of the compiled module-info blob (spec.md §4.2).
//
// There is no third-party library anywhere in the teacher repo or the
// rest of the retrieval pack for encoding a bespoke compiled-metadata
// binary format, so this component is built directly on
// encoding/binary and bytes.Buffer rather than an ecosystem
// dependency — see DESIGN.md for the standard-library justification
// the project's grounding rules require for any such component.
package descriptor

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"sort"
	"strings"

	"github.com/blang/semver/v4"

	"github.com/openshift-psap/runtime-linker/pkg/api/v1alpha1"
)

// Access flag values, as spec.md §4.2 defines them.
const (
	flagOpen       uint16 = 0x0020
	flagSynthetic  uint16 = 0x1000
	flagMandated   uint16 = 0x8000
	flagTransitive uint16 = 0x0020 // on requires
	flagStatic     uint16 = 0x0040 // on requires
)

const magic = "MDSC"
const wireVersion byte = 1

// DescriptorDecodeError wraps a format fault encountered while
// decoding a blob.
type DescriptorDecodeError struct {
	Reason string
}

func (e *DescriptorDecodeError) Error() string {
	return fmt.Sprintf("descriptor decode error: %s", e.Reason)
}

// DescriptorEncodeError wraps a fault encountered while encoding a
// Descriptor, e.g. an empty required name.
type DescriptorEncodeError struct {
	Reason string
}

func (e *DescriptorEncodeError) Error() string {
	return fmt.Sprintf("descriptor encode error: %s", e.Reason)
}

func toWireName(name string) string {
	return strings.ReplaceAll(name, ".", "/")
}

func fromWireName(name string) string {
	return strings.ReplaceAll(name, "/", ".")
}

// Encode produces the binary module-info blob for d. The automatic
// modifier, if present, is intentionally dropped from the emitted
// flags: strict resolvers reject an explicit automatic marker, so a
// rewritten once-automatic module encodes no flag at all (its
// automatic origin lives only in ModuleRef.Automatic).
func Encode(d *v1alpha1.Descriptor) ([]byte, error) {
	if d.Name == "" {
		return nil, &DescriptorEncodeError{Reason: "module name is empty"}
	}
	for _, r := range d.Requires {
		if r.Target == "" {
			return nil, &DescriptorEncodeError{Reason: "requires target is empty"}
		}
	}

	var buf bytes.Buffer
	buf.WriteString(magic)
	buf.WriteByte(wireVersion)

	writeString(&buf, toWireName(d.Name))

	hasVersion := d.Version != ""
	writeBool(&buf, hasVersion)
	if hasVersion {
		if _, err := semver.ParseTolerant(d.Version); err != nil {
			// Non-semver version tokens ("unknown", vendor-specific
			// strings) are still legal per spec.md §3; the parse is a
			// sanity check only, and the version string is written
			// unchanged either way.
		}
		writeString(&buf, d.Version)
	}

	var flags uint16
	if d.HasModifier(v1alpha1.ModOpen) {
		flags |= flagOpen
	}
	if d.HasModifier(v1alpha1.ModSynthetic) {
		flags |= flagSynthetic
	}
	if d.HasModifier(v1alpha1.ModMandated) {
		flags |= flagMandated
	}
	binary.Write(&buf, binary.BigEndian, flags) //nolint:errcheck

	hasMain := d.MainClass != ""
	writeBool(&buf, hasMain)
	if hasMain {
		writeString(&buf, toWireName(d.MainClass))
	}

	hasTarget := d.TargetPlatform != ""
	writeBool(&buf, hasTarget)
	if hasTarget {
		writeString(&buf, d.TargetPlatform)
	}

	derived := derivedPackages(d)
	emitPackages := len(d.Packages) > len(derived)
	writeBool(&buf, emitPackages)
	if emitPackages {
		pkgs := append([]string(nil), d.Packages...)
		sort.Strings(pkgs)
		writeUint32(&buf, uint32(len(pkgs)))
		for _, p := range pkgs {
			writeString(&buf, toWireName(p))
		}
	}

	requires := append([]v1alpha1.Requires(nil), d.Requires...)
	sort.Slice(requires, func(i, j int) bool { return requires[i].Target < requires[j].Target })
	writeUint32(&buf, uint32(len(requires)))
	for _, r := range requires {
		writeString(&buf, toWireName(r.Target))
		var rflags uint16
		if r.Transitive {
			rflags |= flagTransitive
		}
		if r.Static {
			rflags |= flagStatic
		}
		binary.Write(&buf, binary.BigEndian, rflags) //nolint:errcheck
		hasCV := r.CompiledVersion != ""
		writeBool(&buf, hasCV)
		if hasCV {
			writeString(&buf, r.CompiledVersion)
		}
	}

	writeClauses(&buf, d.Exports)
	writeClauses(&buf, d.Opens)

	uses := append([]string(nil), d.Uses...)
	sort.Strings(uses)
	writeUint32(&buf, uint32(len(uses)))
	for _, u := range uses {
		writeString(&buf, toWireName(u))
	}

	provides := append([]v1alpha1.Provides(nil), d.Provides...)
	sort.Slice(provides, func(i, j int) bool { return provides[i].Service < provides[j].Service })
	writeUint32(&buf, uint32(len(provides)))
	for _, p := range provides {
		writeString(&buf, toWireName(p.Service))
		writeUint32(&buf, uint32(len(p.Providers)))
		for _, pr := range p.Providers {
			writeString(&buf, toWireName(pr))
		}
	}

	return buf.Bytes(), nil
}

// derivedPackages returns the package set ModulePackages would be
// redundant with: distinct(exports.source ∪ opens.source).
func derivedPackages(d *v1alpha1.Descriptor) []string {
	set := make(map[string]struct{})
	for _, e := range d.Exports {
		set[e.Source] = struct{}{}
	}
	for _, o := range d.Opens {
		set[o.Source] = struct{}{}
	}
	out := make([]string, 0, len(set))
	for p := range set {
		out = append(out, p)
	}
	return out
}

func writeClauses(buf *bytes.Buffer, clauses []v1alpha1.PackageClause) {
	cs := append([]v1alpha1.PackageClause(nil), clauses...)
	sort.Slice(cs, func(i, j int) bool { return cs[i].Source < cs[j].Source })
	writeUint32(buf, uint32(len(cs)))
	for _, c := range cs {
		writeString(buf, toWireName(c.Source))
		targets := append([]string(nil), c.Targets...)
		sort.Strings(targets)
		writeUint32(buf, uint32(len(targets)))
		for _, t := range targets {
			writeString(buf, toWireName(t))
		}
	}
}

// Decode parses a binary module-info blob.
func Decode(blob []byte) (*v1alpha1.Descriptor, error) {
	r := bytes.NewReader(blob)
	if r.Len() < len(magic)+1 {
		return nil, &DescriptorDecodeError{Reason: "blob too short"}
	}
	got := make([]byte, len(magic))
	if _, err := r.Read(got); err != nil || string(got) != magic {
		return nil, &DescriptorDecodeError{Reason: "bad magic"}
	}
	ver, err := r.ReadByte()
	if err != nil || ver != wireVersion {
		return nil, &DescriptorDecodeError{Reason: "unsupported wire version"}
	}

	d := &v1alpha1.Descriptor{Modifiers: map[v1alpha1.Modifier]bool{}}

	name, err := readString(r)
	if err != nil {
		return nil, err
	}
	d.Name = fromWireName(name)

	hasVersion, err := readBool(r)
	if err != nil {
		return nil, err
	}
	if hasVersion {
		d.Version, err = readString(r)
		if err != nil {
			return nil, err
		}
	}

	var flags uint16
	if err := binary.Read(r, binary.BigEndian, &flags); err != nil {
		return nil, &DescriptorDecodeError{Reason: "truncated flags"}
	}
	if flags&flagOpen != 0 {
		d.Modifiers[v1alpha1.ModOpen] = true
	}
	if flags&flagSynthetic != 0 {
		d.Modifiers[v1alpha1.ModSynthetic] = true
	}
	if flags&flagMandated != 0 {
		d.Modifiers[v1alpha1.ModMandated] = true
	}

	hasMain, err := readBool(r)
	if err != nil {
		return nil, err
	}
	if hasMain {
		mc, err := readString(r)
		if err != nil {
			return nil, err
		}
		d.MainClass = fromWireName(mc)
	}

	hasTarget, err := readBool(r)
	if err != nil {
		return nil, err
	}
	if hasTarget {
		d.TargetPlatform, err = readString(r)
		if err != nil {
			return nil, err
		}
	}

	hasPackages, err := readBool(r)
	if err != nil {
		return nil, err
	}
	var explicitPackages []string
	if hasPackages {
		n, err := readUint32(r)
		if err != nil {
			return nil, err
		}
		explicitPackages = make([]string, n)
		for i := range explicitPackages {
			p, err := readString(r)
			if err != nil {
				return nil, err
			}
			explicitPackages[i] = fromWireName(p)
		}
	}

	nreq, err := readUint32(r)
	if err != nil {
		return nil, err
	}
	for i := uint32(0); i < nreq; i++ {
		target, err := readString(r)
		if err != nil {
			return nil, err
		}
		var rflags uint16
		if err := binary.Read(r, binary.BigEndian, &rflags); err != nil {
			return nil, &DescriptorDecodeError{Reason: "truncated requires flags"}
		}
		hasCV, err := readBool(r)
		if err != nil {
			return nil, err
		}
		var cv string
		if hasCV {
			cv, err = readString(r)
			if err != nil {
				return nil, err
			}
		}
		d.Requires = append(d.Requires, v1alpha1.Requires{
			Target:          fromWireName(target),
			Transitive:      rflags&flagTransitive != 0,
			Static:          rflags&flagStatic != 0,
			CompiledVersion: cv,
		})
	}

	exports, err := readClauses(r)
	if err != nil {
		return nil, err
	}
	d.Exports = exports

	opens, err := readClauses(r)
	if err != nil {
		return nil, err
	}
	d.Opens = opens

	nuses, err := readUint32(r)
	if err != nil {
		return nil, err
	}
	for i := uint32(0); i < nuses; i++ {
		u, err := readString(r)
		if err != nil {
			return nil, err
		}
		d.Uses = append(d.Uses, fromWireName(u))
	}

	nprov, err := readUint32(r)
	if err != nil {
		return nil, err
	}
	for i := uint32(0); i < nprov; i++ {
		svc, err := readString(r)
		if err != nil {
			return nil, err
		}
		np, err := readUint32(r)
		if err != nil {
			return nil, err
		}
		providers := make([]string, np)
		for j := range providers {
			p, err := readString(r)
			if err != nil {
				return nil, err
			}
			providers[j] = fromWireName(p)
		}
		d.Provides = append(d.Provides, v1alpha1.Provides{Service: fromWireName(svc), Providers: providers})
	}

	if explicitPackages != nil {
		d.Packages = explicitPackages
	} else {
		d.Packages = derivedPackages(d)
	}
	sort.Strings(d.Packages)

	return d, nil
}

func readClauses(r *bytes.Reader) ([]v1alpha1.PackageClause, error) {
	n, err := readUint32(r)
	if err != nil {
		return nil, err
	}
	var out []v1alpha1.PackageClause
	for i := uint32(0); i < n; i++ {
		src, err := readString(r)
		if err != nil {
			return nil, err
		}
		nt, err := readUint32(r)
		if err != nil {
			return nil, err
		}
		var targets []string
		if nt > 0 {
			targets = make([]string, nt)
		}
		for j := range targets {
			t, err := readString(r)
			if err != nil {
				return nil, err
			}
			targets[j] = fromWireName(t)
		}
		out = append(out, v1alpha1.PackageClause{Source: fromWireName(src), Targets: targets})
	}
	return out, nil
}

func writeBool(buf *bytes.Buffer, b bool) {
	if b {
		buf.WriteByte(1)
	} else {
		buf.WriteByte(0)
	}
}

func readBool(r *bytes.Reader) (bool, error) {
	b, err := r.ReadByte()
	if err != nil {
		return false, &DescriptorDecodeError{Reason: "truncated bool"}
	}
	return b != 0, nil
}

func writeUint32(buf *bytes.Buffer, v uint32) {
	binary.Write(buf, binary.BigEndian, v) //nolint:errcheck
}

func readUint32(r *bytes.Reader) (uint32, error) {
	var v uint32
	if err := binary.Read(r, binary.BigEndian, &v); err != nil {
		return 0, &DescriptorDecodeError{Reason: "truncated uint32"}
	}
	return v, nil
}

func writeString(buf *bytes.Buffer, s string) {
	b := []byte(s)
	writeUint32(buf, uint32(len(b)))
	buf.Write(b)
}

func readString(r *bytes.Reader) (string, error) {
	n, err := readUint32(r)
	if err != nil {
		return "", err
	}
	b := make([]byte, n)
	if n > 0 {
		if _, err := r.Read(b); err != nil {
			return "", &DescriptorDecodeError{Reason: "truncated string"}
		}
	}
	return string(b), nil
}
