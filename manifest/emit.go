package manifest

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// ToText emits the manifest as canonical IPS text, in the fixed kind order
// attributes, directories, files, dependencies, licenses, links, users,
// groups, drivers, legacies, preserving insertion order within each kind.
// ParseString(ToText(m)) reproduces m's action content (spec.md §4.3
// round-trip requirement, tested by property #5 in §8).
func (m *Manifest) ToText() string {
	var b strings.Builder
	for _, a := range m.Attributes {
		b.WriteString("set name=")
		b.WriteString(quoteValue(a.Key))
		for _, v := range a.Values {
			b.WriteString(" value=")
			b.WriteString(quoteValue(v))
		}
		writeProps(&b, a.Properties)
		b.WriteString("\n")
	}
	for _, d := range m.Directories {
		b.WriteString("dir")
		writeField(&b, "path", d.Path)
		writeField(&b, "owner", d.Owner)
		writeField(&b, "group", d.Group)
		writeField(&b, "mode", d.Mode)
		writeFacets(&b, d.Facets)
		writePropsMulti(&b, d.Properties)
		b.WriteString("\n")
	}
	for _, f := range m.Files {
		b.WriteString("file")
		if f.Digest != nil {
			b.WriteString(" ")
			b.WriteString(f.Digest.Hex)
		}
		writeField(&b, "path", f.Path)
		writeField(&b, "owner", f.Owner)
		writeField(&b, "group", f.Group)
		writeField(&b, "mode", f.Mode)
		if f.Preserve {
			writeField(&b, "preserve", "true")
		}
		writeField(&b, "overlay", f.Overlay)
		writeField(&b, "pkg.csize", f.CSize)
		writeField(&b, "pkg.size", f.Size)
		for _, ch := range f.ContentHashes {
			writeField(&b, "pkg.content-hash", ch.String())
		}
		writeFacets(&b, f.Facets)
		writePropsMulti(&b, f.Properties)
		b.WriteString("\n")
	}
	for _, dep := range m.Dependencies {
		b.WriteString("depend")
		writeField(&b, "fmri", dep.Fmri)
		writeField(&b, "type", dep.Type)
		writeField(&b, "predicate", dep.Predicate)
		for _, o := range dep.Optional {
			writeField(&b, "optional", o)
		}
		writeFacets(&b, dep.Facets)
		writePropsMulti(&b, dep.Properties)
		b.WriteString("\n")
	}
	for _, l := range m.Licenses {
		b.WriteString("license")
		if l.PayloadHex != "" {
			b.WriteString(" ")
			b.WriteString(l.PayloadHex)
		}
		writeField(&b, "path", l.Path)
		writeField(&b, "license", l.LicenseKey)
		writePropsMulti(&b, l.Properties)
		b.WriteString("\n")
	}
	for _, l := range m.Links {
		b.WriteString("link")
		writeField(&b, "path", l.Path)
		writeField(&b, "target", l.Target)
		writeField(&b, "type", l.Type)
		writeFacets(&b, l.Facets)
		writePropsMulti(&b, l.Properties)
		b.WriteString("\n")
	}
	for _, kind := range []struct {
		name  string
		items []Generic
	}{
		{"user", m.Users}, {"group", m.Groups}, {"driver", m.Drivers}, {"legacy", m.Legacies},
	} {
		for _, g := range kind.items {
			b.WriteString(kind.name)
			writePropsMulti(&b, g.Properties)
			b.WriteString("\n")
		}
	}
	return b.String()
}

func writeField(b *strings.Builder, key, value string) {
	if value == "" {
		return
	}
	b.WriteString(" ")
	b.WriteString(key)
	b.WriteString("=")
	b.WriteString(quoteValue(value))
}

func writeFacets(b *strings.Builder, facets map[string]string) {
	keys := make([]string, 0, len(facets))
	for k := range facets {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		writeField(b, k, facets[k])
	}
}

func writeProps(b *strings.Builder, props map[string]string) {
	keys := make([]string, 0, len(props))
	for k := range props {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		writeField(b, k, props[k])
	}
}

func writePropsMulti(b *strings.Builder, props map[string][]string) {
	keys := make([]string, 0, len(props))
	for k := range props {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		for _, v := range props[k] {
			writeField(b, k, v)
		}
	}
}

// quoteValue wraps value in double quotes when it contains whitespace or
// is otherwise ambiguous as a bareword, matching spec.md §4.3's accepted
// bareword/double/single-quoted value forms.
func quoteValue(value string) string {
	if value == "" {
		return `""`
	}
	needsQuote := strings.ContainsAny(value, " \t\"'")
	if !needsQuote {
		if _, err := strconv.Unquote(`"` + value + `"`); err != nil {
			needsQuote = true
		}
	}
	if !needsQuote {
		return value
	}
	return fmt.Sprintf("%q", value)
}
