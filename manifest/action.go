// Package manifest implements the IPS manifest/action data model: typed
// action variants (spec.md §3), a line-oriented text parser and emitter,
// and JSON (de)serialization (spec.md §4.3), following the teacher's
// registration-by-identifier idiom in manifest/schema2 - here applied to
// action kinds instead of OCI media types.
package manifest

import "github.com/OpenFlowLabs/ipstoolkit/digest"

// Attr is a "set" action: named metadata with one or more values.
type Attr struct {
	Key        string            `json:"key"`
	Values     []string          `json:"values"`
	Properties map[string]string `json:"properties,omitempty"`
}

// Dir is a directory action.
type Dir struct {
	Path       string              `json:"path"`
	Owner      string              `json:"owner,omitempty"`
	Group      string              `json:"group,omitempty"`
	Mode       string              `json:"mode,omitempty"`
	Facets     map[string]string   `json:"facets,omitempty"`
	Properties map[string][]string `json:"properties,omitempty"`
}

// File is a file action. Digest is the primary (uncompressed) payload
// digest, present when the action carries a payload - spec.md §4.3 notes
// the leading unnamed hex token is optional.
type File struct {
	Digest        *digest.Digest      `json:"digest,omitempty"`
	Path          string              `json:"path"`
	Owner         string              `json:"owner,omitempty"`
	Group         string              `json:"group,omitempty"`
	Mode          string              `json:"mode,omitempty"`
	Preserve      bool                `json:"preserve,omitempty"`
	Overlay       string              `json:"overlay,omitempty"`
	ContentHashes []digest.Digest     `json:"contentHashes,omitempty"`
	CSize         string              `json:"csize,omitempty"`
	Size          string              `json:"size,omitempty"`
	Facets        map[string]string   `json:"facets,omitempty"`
	Properties    map[string][]string `json:"properties,omitempty"`
}

// Link is a link action: symlink by default, hardlink when Type == "hard".
type Link struct {
	Path       string              `json:"path"`
	Target     string              `json:"target"`
	Type       string              `json:"type,omitempty"`
	Facets     map[string]string   `json:"facets,omitempty"`
	Properties map[string][]string `json:"properties,omitempty"`
}

// Dependency is a "depend" action.
type Dependency struct {
	Fmri      string              `json:"fmri,omitempty"`
	Type      string              `json:"type"`
	Predicate string              `json:"predicate,omitempty"`
	Optional  []string            `json:"optional,omitempty"`
	Facets    map[string]string   `json:"facets,omitempty"`
	Properties map[string][]string `json:"properties,omitempty"`
}

// License is a "license" action: PayloadHex identifies the license text as
// a payload digest (spec.md §4.3: "license <payload-hex> ...").
type License struct {
	PayloadHex string              `json:"payloadHex"`
	Path       string              `json:"path,omitempty"`
	LicenseKey string              `json:"license,omitempty"`
	Properties map[string][]string `json:"properties,omitempty"`
}

// Generic covers the less-central action variants (user, group, driver,
// legacy) as a flat key=value bag, per spec.md §3 "Less-central
// variants". Kind records the original action keyword.
type Generic struct {
	Kind       string              `json:"kind"`
	Properties map[string][]string `json:"properties,omitempty"`
}
