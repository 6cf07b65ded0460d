package manifest

// Manifest is a mapping from action-kind to an ordered sequence of actions
// (spec.md §3). Insertion order within each kind is preserved; cross-kind
// ordering during execution is dictated by the executor (C9), not here.
type Manifest struct {
	Attributes   []Attr       `json:"attributes,omitempty"`
	Directories  []Dir        `json:"directories,omitempty"`
	Files        []File       `json:"files,omitempty"`
	Dependencies []Dependency `json:"dependencies,omitempty"`
	Licenses     []License    `json:"licenses,omitempty"`
	Links        []Link       `json:"links,omitempty"`
	Users        []Generic    `json:"users,omitempty"`
	Groups       []Generic    `json:"groups,omitempty"`
	Drivers      []Generic    `json:"drivers,omitempty"`
	Legacies     []Generic    `json:"legacies,omitempty"`
}

// New returns an empty Manifest.
func New() *Manifest {
	return &Manifest{}
}

// Attr returns the first attribute with the given key, and whether it was
// found.
func (m *Manifest) Attr(key string) (Attr, bool) {
	for _, a := range m.Attributes {
		if a.Key == key {
			return a, true
		}
	}
	return Attr{}, false
}

// AttrValue returns the first value of the first attribute with the given
// key, or "" if absent.
func (m *Manifest) AttrValue(key string) string {
	a, ok := m.Attr(key)
	if !ok || len(a.Values) == 0 {
		return ""
	}
	return a.Values[0]
}

// SetAttr replaces (or adds) the attribute with the given key.
func (m *Manifest) SetAttr(key string, values ...string) {
	for i := range m.Attributes {
		if m.Attributes[i].Key == key {
			m.Attributes[i].Values = values
			return
		}
	}
	m.Attributes = append(m.Attributes, Attr{Key: key, Values: values})
}

// Fmri returns the pkg.fmri attribute value, the canonical FMRI string for
// this manifest (spec.md §4.6 "the FMRI attribute always written").
func (m *Manifest) Fmri() string {
	return m.AttrValue("pkg.fmri")
}

// IsObsolete reports whether the manifest carries pkg.obsolete=true
// (spec.md §4.6 partitioning rule).
func (m *Manifest) IsObsolete() bool {
	return m.AttrValue("pkg.obsolete") == "true"
}

// Clone returns a deep-enough copy for transformer/builder mutation: new
// top-level slices, so appends to one manifest never alias another's
// backing array. Nested maps (facets, properties) are shared, so an
// in-place map change, such as a transform facet add/set/delete, is
// visible through both manifests.
func (m *Manifest) Clone() *Manifest {
	c := &Manifest{
		Attributes:   append([]Attr(nil), m.Attributes...),
		Directories:  append([]Dir(nil), m.Directories...),
		Files:        append([]File(nil), m.Files...),
		Dependencies: append([]Dependency(nil), m.Dependencies...),
		Licenses:     append([]License(nil), m.Licenses...),
		Links:        append([]Link(nil), m.Links...),
		Users:        append([]Generic(nil), m.Users...),
		Groups:       append([]Generic(nil), m.Groups...),
		Drivers:      append([]Generic(nil), m.Drivers...),
		Legacies:     append([]Generic(nil), m.Legacies...),
	}
	return c
}

// Merge additively extends m with src's actions: file actions whose path is
// not already in m are appended (spec.md §4.5.2 update_manifest); other
// action kinds extend too.
func (m *Manifest) Merge(src *Manifest) {
	m.Attributes = append(m.Attributes, src.Attributes...)
	m.Directories = append(m.Directories, src.Directories...)
	present := make(map[string]bool, len(m.Files))
	for _, f := range m.Files {
		present[f.Path] = true
	}
	for _, f := range src.Files {
		if !present[f.Path] {
			m.Files = append(m.Files, f)
			present[f.Path] = true
		}
	}
	m.Dependencies = append(m.Dependencies, src.Dependencies...)
	m.Licenses = append(m.Licenses, src.Licenses...)
	m.Links = append(m.Links, src.Links...)
	m.Users = append(m.Users, src.Users...)
	m.Groups = append(m.Groups, src.Groups...)
	m.Drivers = append(m.Drivers, src.Drivers...)
	m.Legacies = append(m.Legacies, src.Legacies...)
}
