package manifest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/OpenFlowLabs/ipstoolkit/digest"
	"github.com/OpenFlowLabs/ipstoolkit/ipserr"
	"github.com/OpenFlowLabs/ipstoolkit/ipslog"
)

// Strict controls whether ParseString fails hard on unknown action kinds
// and malformed lines (strict builder path, spec.md §4.3 "Failure modes")
// or skips them with a warning (permissive, for an untrusted corpus such
// as a receiver or catalog scan).
type ParseOptions struct {
	Strict bool
}

// ParseString parses a manifest in either its JSON form or its IPS text
// form. The heuristic (spec.md §9 Open Questions, resolved here) is: the
// first non-whitespace byte is '{' selects JSON; anything else is parsed
// as IPS text.
func ParseString(text string, opts ParseOptions) (*Manifest, error) {
	trimmed := strings.TrimLeft(text, " \t\r\n")
	if strings.HasPrefix(trimmed, "{") {
		return parseJSON(trimmed)
	}
	return parseText(text, opts)
}

func parseJSON(text string) (*Manifest, error) {
	var m Manifest
	dec := json.NewDecoder(bytes.NewReader([]byte(text)))
	if err := dec.Decode(&m); err != nil {
		return nil, ipserr.New(ipserr.ErrJSONDecode, "decoding manifest JSON", err)
	}
	return &m, nil
}

// ToJSON serializes the manifest to its JSON form.
func (m *Manifest) ToJSON() ([]byte, error) {
	b, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return nil, ipserr.New(ipserr.ErrJSONEncode, "encoding manifest JSON", err)
	}
	return b, nil
}

func parseText(text string, opts ParseOptions) (*Manifest, error) {
	m := New()
	for lineNo, line := range joinContinuations(text) {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if err := parseLine(m, line, opts); err != nil {
			if opts.Strict {
				return nil, fmt.Errorf("line %d: %w", lineNo+1, err)
			}
			ipslog.GetLogger(context.Background()).Warnf("manifest line %d skipped: %v", lineNo+1, err)
			continue
		}
	}
	return m, nil
}

// joinContinuations splits text into logical lines, joining any line ending
// in a backslash with the following physical line (spec.md §4.3
// "Backslash-newline sequences continue a logical line").
func joinContinuations(text string) []string {
	physical := strings.Split(text, "\n")
	var logical []string
	var cur strings.Builder
	inCont := false
	for _, p := range physical {
		p = strings.TrimRight(p, "\r")
		if strings.HasSuffix(p, "\\") {
			cur.WriteString(strings.TrimSuffix(p, "\\"))
			cur.WriteString(" ")
			inCont = true
			continue
		}
		if inCont {
			cur.WriteString(p)
			logical = append(logical, cur.String())
			cur.Reset()
			inCont = false
		} else {
			logical = append(logical, p)
		}
	}
	if inCont {
		logical = append(logical, cur.String())
	}
	return logical
}

func parseLine(m *Manifest, line string, opts ParseOptions) error {
	fields := tokenizeFields(line)
	if len(fields) == 0 {
		return nil
	}
	kind := fields[0]
	rest := fields[1:]

	switch kind {
	case "set":
		return parseAttr(m, rest)
	case "dir":
		return parseDir(m, rest)
	case "file":
		return parseFile(m, rest)
	case "link":
		return parseLink(m, rest)
	case "depend":
		return parseDepend(m, rest)
	case "license":
		return parseLicense(m, rest)
	case "user", "group", "driver", "legacy":
		return parseGeneric(m, kind, rest)
	default:
		return ipserr.New(ipserr.ErrUnsupportedAction, fmt.Sprintf("unknown action kind %q", kind), nil)
	}
}

// tokenizeFields splits a manifest line into whitespace-separated fields,
// treating a matching pair of double or single quotes as part of a single
// field (so a quoted value may contain spaces and the other quote type
// nested inside it, per spec.md §4.3 "Unicode is permitted inside quoted
// values").
func tokenizeFields(s string) []string {
	var fields []string
	i, n := 0, len(s)
	for i < n {
		for i < n && isSpace(s[i]) {
			i++
		}
		if i >= n {
			break
		}
		start := i
		for i < n && !isSpace(s[i]) {
			if s[i] == '"' || s[i] == '\'' {
				q := s[i]
				i++
				for i < n && s[i] != q {
					i++
				}
				if i < n {
					i++
				}
			} else {
				i++
			}
		}
		fields = append(fields, s[start:i])
	}
	return fields
}

func isSpace(b byte) bool { return b == ' ' || b == '\t' }

// splitKV splits a "key=value" field, stripping matching surrounding
// quotes from value. ok is false for a bareword field with no '='.
func splitKV(field string) (key, value string, ok bool) {
	idx := strings.Index(field, "=")
	if idx < 0 {
		return "", field, false
	}
	key = field[:idx]
	value = stripQuotes(field[idx+1:])
	return key, value, true
}

func stripQuotes(s string) string {
	if len(s) >= 2 {
		if (s[0] == '"' && s[len(s)-1] == '"') || (s[0] == '\'' && s[len(s)-1] == '\'') {
			return s[1 : len(s)-1]
		}
	}
	return s
}

func parseAttr(m *Manifest, fields []string) error {
	a := Attr{Properties: map[string]string{}}
	for _, f := range fields {
		k, v, ok := splitKV(f)
		if !ok {
			continue
		}
		switch k {
		case "name":
			a.Key = v
		case "value":
			a.Values = append(a.Values, v)
		default:
			a.Properties[k] = v
		}
	}
	if a.Key == "" {
		return ipserr.New(ipserr.ErrManifestParse, "set action missing name=", nil)
	}
	if len(a.Properties) == 0 {
		a.Properties = nil
	}
	m.Attributes = append(m.Attributes, a)
	return nil
}

func parseDir(m *Manifest, fields []string) error {
	d := Dir{Facets: map[string]string{}, Properties: map[string][]string{}}
	for _, f := range fields {
		k, v, ok := splitKV(f)
		if !ok {
			continue
		}
		switch {
		case k == "path":
			d.Path = v
		case k == "owner":
			d.Owner = v
		case k == "group":
			d.Group = v
		case k == "mode":
			d.Mode = v
		case strings.HasPrefix(k, "facet."):
			d.Facets[k] = v
		default:
			d.Properties[k] = append(d.Properties[k], v)
		}
	}
	if d.Path == "" {
		return ipserr.New(ipserr.ErrManifestParse, "dir action missing path=", nil)
	}
	if len(d.Facets) == 0 {
		d.Facets = nil
	}
	if len(d.Properties) == 0 {
		d.Properties = nil
	}
	m.Directories = append(m.Directories, d)
	return nil
}

func parseFile(m *Manifest, fields []string) error {
	f := File{Facets: map[string]string{}, Properties: map[string][]string{}}
	for i, field := range fields {
		k, v, ok := splitKV(field)
		if !ok {
			// The leading unnamed token, when present and hex, is the
			// primary payload digest (spec.md §4.3).
			if i == 0 {
				d, err := digest.ParseString(v)
				if err == nil {
					f.Digest = &d
				}
			}
			continue
		}
		switch {
		case k == "path":
			f.Path = v
		case k == "owner":
			f.Owner = v
		case k == "group":
			f.Group = v
		case k == "mode":
			f.Mode = v
		case k == "preserve":
			f.Preserve = v == "true"
		case k == "overlay":
			f.Overlay = v
		case k == "pkg.csize":
			f.CSize = v
		case k == "pkg.size":
			f.Size = v
		case k == "pkg.content-hash":
			d, err := digest.ParseString(v)
			if err == nil {
				f.ContentHashes = append(f.ContentHashes, d)
			}
		case strings.HasPrefix(k, "facet."):
			f.Facets[k] = v
		default:
			f.Properties[k] = append(f.Properties[k], v)
		}
	}
	if f.Path == "" {
		return ipserr.New(ipserr.ErrManifestParse, "file action missing path=", nil)
	}
	if len(f.Facets) == 0 {
		f.Facets = nil
	}
	if len(f.Properties) == 0 {
		f.Properties = nil
	}
	m.Files = append(m.Files, f)
	return nil
}

func parseLink(m *Manifest, fields []string) error {
	l := Link{Facets: map[string]string{}, Properties: map[string][]string{}}
	for _, field := range fields {
		k, v, ok := splitKV(field)
		if !ok {
			continue
		}
		switch {
		case k == "path":
			l.Path = v
		case k == "target":
			l.Target = v
		case k == "type":
			l.Type = v
		case strings.HasPrefix(k, "facet."):
			l.Facets[k] = v
		default:
			l.Properties[k] = append(l.Properties[k], v)
		}
	}
	if l.Path == "" || l.Target == "" {
		return ipserr.New(ipserr.ErrManifestParse, "link action requires path= and target=", nil)
	}
	if len(l.Facets) == 0 {
		l.Facets = nil
	}
	if len(l.Properties) == 0 {
		l.Properties = nil
	}
	m.Links = append(m.Links, l)
	return nil
}

func parseDepend(m *Manifest, fields []string) error {
	d := Dependency{Facets: map[string]string{}, Properties: map[string][]string{}}
	for _, field := range fields {
		k, v, ok := splitKV(field)
		if !ok {
			continue
		}
		switch {
		case k == "fmri":
			d.Fmri = v
		case k == "type":
			d.Type = v
		case k == "predicate":
			d.Predicate = v
		case k == "optional":
			d.Optional = append(d.Optional, v)
		case strings.HasPrefix(k, "facet."):
			d.Facets[k] = v
		default:
			d.Properties[k] = append(d.Properties[k], v)
		}
	}
	if d.Type == "" {
		return ipserr.New(ipserr.ErrManifestParse, "depend action missing type=", nil)
	}
	if len(d.Facets) == 0 {
		d.Facets = nil
	}
	if len(d.Properties) == 0 {
		d.Properties = nil
	}
	m.Dependencies = append(m.Dependencies, d)
	return nil
}

func parseLicense(m *Manifest, fields []string) error {
	l := License{Properties: map[string][]string{}}
	for i, field := range fields {
		k, v, ok := splitKV(field)
		if !ok {
			if i == 0 {
				l.PayloadHex = v
			}
			continue
		}
		switch k {
		case "path":
			l.Path = v
		case "license":
			l.LicenseKey = v
		default:
			l.Properties[k] = append(l.Properties[k], v)
		}
	}
	if len(l.Properties) == 0 {
		l.Properties = nil
	}
	m.Licenses = append(m.Licenses, l)
	return nil
}

func parseGeneric(m *Manifest, kind string, fields []string) error {
	g := Generic{Kind: kind, Properties: map[string][]string{}}
	for _, field := range fields {
		k, v, ok := splitKV(field)
		if !ok {
			k = "_"
			v = field
		}
		g.Properties[k] = append(g.Properties[k], v)
	}
	switch kind {
	case "user":
		m.Users = append(m.Users, g)
	case "group":
		m.Groups = append(m.Groups, g)
	case "driver":
		m.Drivers = append(m.Drivers, g)
	case "legacy":
		m.Legacies = append(m.Legacies, g)
	}
	return nil
}
