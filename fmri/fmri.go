// Package fmri parses, compares, and renders IPS Fault Management Resource
// Identifiers: hierarchical package names of the form
// pkg://publisher/stem@version.
package fmri

import (
	"fmt"
	"strings"

	"github.com/OpenFlowLabs/ipstoolkit/ipserr"
)

// Fmri is a parsed, normalized package identifier.
type Fmri struct {
	Publisher string // optional
	Stem      string // slash-separated segments, never empty
	Version   *Version
}

// Parse accepts the four textual forms named in spec.md §3:
// "pkg://publisher/stem@version", "pkg:/stem@version", "stem@version",
// or bare "stem".
func Parse(s string) (*Fmri, error) {
	rest := s

	if strings.HasPrefix(rest, "pkg://") {
		rest = rest[len("pkg://"):]
	} else if strings.HasPrefix(rest, "pkg:/") {
		rest = rest[len("pkg:/"):]
	} else if strings.HasPrefix(rest, "pkg:") {
		rest = rest[len("pkg:"):]
	}

	var publisher string
	if strings.HasPrefix(s, "pkg://") {
		// publisher/stem@version - split publisher from the rest on first "/"
		idx := strings.Index(rest, "/")
		if idx < 0 {
			return nil, ipserr.New(ipserr.ErrManifestParse, fmt.Sprintf("fmri %q: missing stem after publisher", s), nil)
		}
		publisher = rest[:idx]
		rest = rest[idx+1:]
	}

	var stem, versionStr string
	if idx := strings.Index(rest, "@"); idx >= 0 {
		stem = rest[:idx]
		versionStr = rest[idx+1:]
	} else {
		stem = rest
	}

	if stem == "" {
		return nil, ipserr.New(ipserr.ErrManifestParse, fmt.Sprintf("fmri %q: empty stem", s), nil)
	}
	for _, seg := range strings.Split(stem, "/") {
		if seg == "" {
			return nil, ipserr.New(ipserr.ErrManifestParse, fmt.Sprintf("fmri %q: empty stem segment", s), nil)
		}
	}

	f := &Fmri{Publisher: publisher, Stem: stem}
	if versionStr != "" {
		v, err := ParseVersion(versionStr)
		if err != nil {
			return nil, err
		}
		f.Version = v
	}
	return f, nil
}

// String renders the canonical textual form.
func (f *Fmri) String() string {
	var b strings.Builder
	b.WriteString("pkg:/")
	if f.Publisher != "" {
		b.WriteString("/")
		b.WriteString(f.Publisher)
		b.WriteString("/")
	}
	b.WriteString(f.Stem)
	if f.Version != nil {
		b.WriteString("@")
		b.WriteString(f.Version.String())
	}
	return b.String()
}

// Equal reports field-wise equality (spec.md §3 "equality is field-wise").
func (f *Fmri) Equal(other *Fmri) bool {
	if f == nil || other == nil {
		return f == other
	}
	if f.Publisher != other.Publisher || f.Stem != other.Stem {
		return false
	}
	if (f.Version == nil) != (other.Version == nil) {
		return false
	}
	if f.Version == nil {
		return true
	}
	return f.Version.Equal(other.Version)
}

// Compare orders FMRIs by release, then timestamp (spec.md §3), returning a
// positive value when a is newer than b. Two FMRIs with no version sort
// equal.
func Compare(a, b *Fmri) int {
	switch {
	case a.Version == nil && b.Version == nil:
		return 0
	case a.Version == nil:
		return -1
	case b.Version == nil:
		return 1
	default:
		return CompareVersions(a.Version, b.Version)
	}
}
