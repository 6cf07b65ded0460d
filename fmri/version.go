package fmri

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/OpenFlowLabs/ipstoolkit/ipserr"
)

// Version is a structured IPS version: release[,release-token][-build][:timestamp]
// (spec.md §3, §6 ABNF). Release is kept verbatim (including any comma) so
// composite-release matching semantics (§4.8.2) can inspect it.
type Version struct {
	Release   string // dotted decimal, may contain a comma for composite releases
	Build     string // optional
	Branch    string // optional
	Timestamp string // optional, basic ISO 8601 YYYYMMDDThhmmssZ
}

// ParseVersion parses the version grammar from spec.md §6:
//
//	version = release [ "," release-token ] [ "-" build ] [ ":" timestamp ]
//	release = digit *( "." digit )
//	timestamp = 8DIGIT "T" 6DIGIT "Z"
func ParseVersion(s string) (*Version, error) {
	if s == "" {
		return nil, ipserr.New(ipserr.ErrManifestParse, "empty version string", nil)
	}

	v := &Version{}
	rest := s

	if idx := strings.Index(rest, ":"); idx >= 0 {
		v.Timestamp = rest[idx+1:]
		rest = rest[:idx]
		if !isValidTimestamp(v.Timestamp) {
			return nil, ipserr.New(ipserr.ErrManifestParse, fmt.Sprintf("version %q: malformed timestamp", s), nil)
		}
	}

	// A branch suffix is conventionally embedded as "-build" in the IPS
	// wire grammar; the build component itself may contain a branch
	// separated further by nothing in the ABNF given, so we treat
	// everything after "-" as build, and a separate "branch=" is never
	// present in the textual grammar - branch is carried out of band by
	// callers (solver §4.8 ReleaseAndBranch), which set Branch directly. This keeps the
	// parser faithful to the ABNF in spec.md §6 exactly as written.
	if idx := strings.Index(rest, "-"); idx >= 0 {
		v.Build = rest[idx+1:]
		rest = rest[:idx]
	}

	v.Release = rest
	if !isValidRelease(v.Release) {
		return nil, ipserr.New(ipserr.ErrManifestParse, fmt.Sprintf("version %q: malformed release %q", s, v.Release), nil)
	}

	return v, nil
}

func isValidRelease(r string) bool {
	if r == "" {
		return false
	}
	for _, tok := range strings.Split(r, ",") {
		if tok == "" {
			return false
		}
		for _, seg := range strings.Split(tok, ".") {
			if seg == "" {
				return false
			}
			for _, c := range seg {
				if c < '0' || c > '9' {
					return false
				}
			}
		}
	}
	return true
}

func isValidTimestamp(ts string) bool {
	if len(ts) != 16 {
		return false
	}
	if ts[8] != 'T' || ts[15] != 'Z' {
		return false
	}
	for i, c := range ts {
		if i == 8 || i == 15 {
			continue
		}
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

// String renders the version's canonical textual form.
func (v *Version) String() string {
	var b strings.Builder
	b.WriteString(v.Release)
	if v.Build != "" {
		b.WriteString("-")
		b.WriteString(v.Build)
	}
	if v.Timestamp != "" {
		b.WriteString(":")
		b.WriteString(v.Timestamp)
	}
	return b.String()
}

// Equal compares every field verbatim.
func (v *Version) Equal(other *Version) bool {
	if v == nil || other == nil {
		return v == other
	}
	return v.Release == other.Release && v.Build == other.Build &&
		v.Branch == other.Branch && v.Timestamp == other.Timestamp
}

// ReleaseToSemver yields a comparable tuple for the release component,
// right-padding missing dotted-decimal components with zero (spec.md §4.1).
// A composite release ("a,b") is reduced to its first comma-separated token
// for ordering purposes; full composite matching semantics live in the
// solver (§4.8.2), which inspects Release directly rather than through this
// tuple.
func ReleaseToSemver(release string) []int {
	first := release
	if idx := strings.Index(release, ","); idx >= 0 {
		first = release[:idx]
	}
	parts := strings.Split(first, ".")
	n := len(parts)
	if n < 3 {
		n = 3
	}
	out := make([]int, n)
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil {
			n = 0
		}
		out[i] = n
	}
	return out
}

// CompareVersions compares by release (semver-padded, ties on lexicographic
// release string), then timestamp - see spec.md §3 and §4.8.4. The result
// is positive when a is newer than b, negative when older, zero when equal.
func CompareVersions(a, b *Version) int {
	if c := compareSemver(ReleaseToSemver(a.Release), ReleaseToSemver(b.Release)); c != 0 {
		return c
	}
	if a.Release != b.Release {
		if a.Release > b.Release {
			return 1
		}
		return -1
	}
	if a.Timestamp == b.Timestamp {
		return 0
	}
	if a.Timestamp > b.Timestamp {
		return 1
	}
	return -1
}

func compareSemver(a, b []int) int {
	n := len(a)
	if len(b) > n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		var av, bv int
		if i < len(a) {
			av = a[i]
		}
		if i < len(b) {
			bv = b[i]
		}
		if av != bv {
			if av > bv {
				return 1
			}
			return -1
		}
	}
	return 0
}
