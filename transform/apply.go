package transform

import (
	"strings"

	"github.com/OpenFlowLabs/ipstoolkit/manifest"
)

// Apply runs rules over m in order, mutating it in place (spec.md §4.4).
// emit rules are collected and merged only after the full scan completes,
// to avoid a rule observing - and re-matching - an action emitted by an
// earlier rule in the same pass.
func Apply(m *manifest.Manifest, rules []*Rule) error {
	for _, r := range rules {
		if err := r.Compile(); err != nil {
			return err
		}
	}

	var toEmit []string
	for _, r := range rules {
		if r.Op == OpEmit {
			toEmit = append(toEmit, r.EmitAction)
			continue
		}
		switch r.Target {
		case TargetAttr:
			applyOnAttrs(m, r)
		case TargetDir:
			applyOnDirs(m, r)
		case TargetFile:
			applyOnFiles(m, r)
		case TargetLink:
			applyOnLinks(m, r)
		case TargetDependency:
			applyOnDependencies(m, r)
		case TargetLicense:
			applyOnLicenses(m, r)
		}
	}

	for _, frag := range toEmit {
		emitted, err := manifest.ParseString(strings.TrimSpace(frag), manifest.ParseOptions{Strict: true})
		if err != nil {
			return err
		}
		m.Merge(emitted)
	}
	return nil
}

func matches(r *Rule, candidates ...string) bool {
	re := r.regexp()
	if re == nil {
		return true
	}
	for _, c := range candidates {
		if re.MatchString(c) {
			return true
		}
	}
	return false
}

func applyOnAttrs(m *manifest.Manifest, r *Rule) {
	var kept []manifest.Attr
	for _, a := range m.Attributes {
		matched := false
		switch r.MatchType {
		case MatchKey:
			matched = matches(r, a.Key)
		case MatchValue:
			matched = matches(r, a.Values...)
		case MatchAny:
			matched = matches(r, append([]string{a.Key}, a.Values...)...)
		default:
			matched = matches(r, a.Key)
		}
		if !matched {
			kept = append(kept, a)
			continue
		}
		switch r.Op {
		case OpDrop:
			continue // action removed
		case OpAdd:
			a.Values = append(a.Values, r.Value)
		case OpDefault:
			if len(a.Values) == 0 {
				a.Values = []string{r.Value}
			}
		case OpSet:
			a.Values = []string{r.Value}
		case OpDelete:
			a.Values = filterOutMatching(r, a.Values)
		case OpEdit:
			a.Values = editAll(r, a.Values)
		}
		kept = append(kept, a)
	}
	m.Attributes = kept
}

func applyOnDirs(m *manifest.Manifest, r *Rule) {
	var kept []manifest.Dir
	for _, d := range m.Directories {
		matched := matchesPathOrFacet(r, d.Path, d.Facets)
		if !matched {
			kept = append(kept, d)
			continue
		}
		switch r.Op {
		case OpDrop:
			continue
		case OpSet:
			if r.MatchType == MatchPath {
				d.Path = r.Value
			} else {
				d.Facets = applyFacetOp(d.Facets, r)
			}
		case OpAdd, OpDefault:
			d.Facets = applyFacetOp(d.Facets, r)
		case OpDelete:
			if d.Facets != nil {
				delete(d.Facets, r.Attribute)
			}
		case OpEdit:
			if r.MatchType == MatchPath {
				d.Path = edit(r, d.Path)
			}
		}
		kept = append(kept, d)
	}
	m.Directories = kept
}

func applyOnFiles(m *manifest.Manifest, r *Rule) {
	var kept []manifest.File
	for _, f := range m.Files {
		matched := matchesPathOrFacet(r, f.Path, f.Facets)
		if !matched {
			kept = append(kept, f)
			continue
		}
		switch r.Op {
		case OpDrop:
			continue
		case OpSet:
			if r.MatchType == MatchPath {
				f.Path = r.Value
			} else {
				f.Facets = applyFacetOp(f.Facets, r)
			}
		case OpAdd, OpDefault:
			f.Facets = applyFacetOp(f.Facets, r)
		case OpDelete:
			if f.Facets != nil {
				delete(f.Facets, r.Attribute)
			}
		case OpEdit:
			if r.MatchType == MatchPath {
				f.Path = edit(r, f.Path)
			}
		}
		kept = append(kept, f)
	}
	m.Files = kept
}

func applyOnLinks(m *manifest.Manifest, r *Rule) {
	var kept []manifest.Link
	for _, l := range m.Links {
		matched := matchesPathOrFacet(r, l.Path, l.Facets)
		if !matched {
			kept = append(kept, l)
			continue
		}
		switch r.Op {
		case OpDrop:
			continue
		case OpSet:
			if r.MatchType == MatchPath {
				l.Path = r.Value
			} else {
				l.Facets = applyFacetOp(l.Facets, r)
			}
		case OpEdit:
			if r.MatchType == MatchPath {
				l.Path = edit(r, l.Path)
			} else {
				l.Target = edit(r, l.Target)
			}
		}
		kept = append(kept, l)
	}
	m.Links = kept
}

func applyOnDependencies(m *manifest.Manifest, r *Rule) {
	var kept []manifest.Dependency
	for _, d := range m.Dependencies {
		matched := false
		switch r.MatchType {
		case MatchKey:
			matched = matches(r, d.Type)
		case MatchValue:
			matched = matches(r, d.Fmri)
		case MatchFacet:
			matched = matchesFacetMap(r, d.Facets)
		default:
			matched = matches(r, d.Fmri, d.Type)
		}
		if !matched {
			kept = append(kept, d)
			continue
		}
		switch r.Op {
		case OpDrop:
			continue
		case OpSet:
			d.Fmri = r.Value
		case OpEdit:
			d.Fmri = edit(r, d.Fmri)
		case OpAdd, OpDefault:
			d.Facets = applyFacetOp(d.Facets, r)
		case OpDelete:
			if d.Facets != nil {
				delete(d.Facets, r.Attribute)
			}
		}
		kept = append(kept, d)
	}
	m.Dependencies = kept
}

func applyOnLicenses(m *manifest.Manifest, r *Rule) {
	var kept []manifest.License
	for _, l := range m.Licenses {
		matched := matches(r, l.Path, l.LicenseKey)
		if !matched {
			kept = append(kept, l)
			continue
		}
		if r.Op == OpDrop {
			continue
		}
		if r.Op == OpSet {
			l.LicenseKey = r.Value
		}
		kept = append(kept, l)
	}
	m.Licenses = kept
}

func matchesPathOrFacet(r *Rule, path string, facets map[string]string) bool {
	switch r.MatchType {
	case MatchPath:
		return matches(r, path)
	case MatchFacet:
		return matchesFacetMap(r, facets)
	case MatchAny:
		vals := []string{path}
		for _, v := range facets {
			vals = append(vals, v)
		}
		return matches(r, vals...)
	default:
		return matches(r, path)
	}
}

func matchesFacetMap(r *Rule, facets map[string]string) bool {
	if r.Attribute != "" {
		v, ok := facets[r.Attribute]
		return ok && matches(r, v)
	}
	for _, v := range facets {
		if matches(r, v) {
			return true
		}
	}
	return len(facets) == 0 && r.regexp() == nil
}

// applyFacetOp implements the facet.* upsert/default/add semantics shared
// by dir/file/link/dependency targets (spec.md §4.4 "apply_facet_op").
func applyFacetOp(facets map[string]string, r *Rule) map[string]string {
	if facets == nil {
		facets = map[string]string{}
	}
	key := r.Attribute
	if key == "" {
		return facets
	}
	switch r.Op {
	case OpDefault:
		if _, ok := facets[key]; !ok {
			facets[key] = r.Value
		}
	default: // add, set
		facets[key] = r.Value
	}
	return facets
}

func filterOutMatching(r *Rule, values []string) []string {
	var out []string
	for _, v := range values {
		if !matches(r, v) {
			out = append(out, v)
		}
	}
	return out
}

func editAll(r *Rule, values []string) []string {
	out := make([]string, len(values))
	for i, v := range values {
		out[i] = edit(r, v)
	}
	return out
}

// edit applies the rule's regex-replace to s, rewriting Perl/Rust-style
// "\N" backreferences in r.Value to Go's "${N}" form first (spec.md §4.4
// op edit, tested by property #10 in §8).
func edit(r *Rule, s string) string {
	re := r.regexp()
	if re == nil {
		return s
	}
	return re.ReplaceAllString(s, mapBackrefs(r.Value))
}
