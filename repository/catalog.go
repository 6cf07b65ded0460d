package repository

import (
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/OpenFlowLabs/ipstoolkit/ipserr"
	"github.com/OpenFlowLabs/ipstoolkit/manifest"
)

// catalogBaseVersion is one array entry under a stem in catalog.base.C
// (spec.md §4.5.3, §6).
type catalogBaseVersion struct {
	Version       string   `json:"version"`
	Actions       []string `json:"actions,omitempty"`
	SignatureSHA1 string   `json:"signature-sha1,omitempty"`
}

// catalogUpdateOp is one entry in an update.<ts>.C log (spec.md §6).
type catalogUpdateOp struct {
	Op           string                     `json:"op"`
	Publisher    string                     `json:"publisher"`
	Fmri         string                     `json:"fmri"`
	CatalogParts map[string]json.RawMessage `json:"catalog_parts,omitempty"`
	SignatureSHA1 string                    `json:"signature-sha1,omitempty"`
}

// Rebuild regenerates publisher's catalog parts from its pkg/ manifest tree
// (spec.md §4.5.3). Parts are rewritten wholesale; catalog.attrs is written
// last so readers that consult it first never observe a part whose
// signature it doesn't yet carry.
func (r *Repository) Rebuild(pub string) error {
	if !r.HasPublisher(pub) {
		return ipserr.New(ipserr.ErrPublisherNotFound, pub, nil)
	}

	pkgs, err := r.ListPackages(pub, "")
	if err != nil {
		return err
	}

	base := map[string][]catalogBaseVersion{}
	dependency := map[string]map[string][]string{}
	summary := map[string]map[string][]string{}
	versionCount := 0

	for _, pi := range pkgs {
		m, err := r.FetchManifest(pub, pi.Stem+"@"+pi.Version)
		if err != nil {
			continue
		}
		versionCount++

		text := m.ToText()
		sig := sha1Hex([]byte(text))
		base[pi.Stem] = append(base[pi.Stem], catalogBaseVersion{Version: pi.Version, SignatureSHA1: sig})

		depLines := dependActionLines(m)
		if len(depLines) > 0 {
			if dependency[pi.Stem] == nil {
				dependency[pi.Stem] = map[string][]string{}
			}
			dependency[pi.Stem][pi.Version] = depLines
		}

		sumLines := summaryActionLines(m)
		if summary[pi.Stem] == nil {
			summary[pi.Stem] = map[string][]string{}
		}
		summary[pi.Stem][pi.Version] = sumLines
	}

	for _, versions := range base {
		sort.Slice(versions, func(i, j int) bool { return versions[i].Version < versions[j].Version })
	}

	baseDoc := map[string]map[string][]catalogBaseVersion{pub: base}
	baseBytes, err := json.MarshalIndent(baseDoc, "", "  ")
	if err != nil {
		return ipserr.New(ipserr.ErrJSONEncode, "encoding catalog.base.C", err)
	}
	depBytes, err := json.MarshalIndent(map[string]map[string]map[string][]string{pub: dependency}, "", "  ")
	if err != nil {
		return ipserr.New(ipserr.ErrJSONEncode, "encoding catalog.dependency.C", err)
	}
	sumBytes, err := json.MarshalIndent(map[string]map[string]map[string][]string{pub: summary}, "", "  ")
	if err != nil {
		return ipserr.New(ipserr.ErrJSONEncode, "encoding catalog.summary.C", err)
	}

	if err := atomicWrite(r.paths.catalogBase(pub), baseBytes, 0o644); err != nil {
		return err
	}
	if err := atomicWrite(r.paths.catalogDependency(pub), depBytes, 0o644); err != nil {
		return err
	}
	if err := atomicWrite(r.paths.catalogSummary(pub), sumBytes, 0o644); err != nil {
		return err
	}

	attrs := CatalogAttrs{
		Created:             catalogCreatedTime(r.paths.catalogAttrs(pub)),
		LastModified:        time.Now().UTC(),
		PackageCount:        len(base),
		PackageVersionCount: versionCount,
		Version:             1,
		Parts: map[string]CatalogPart{
			"catalog.base.C":       {LastModified: time.Now().UTC(), SignatureSHA1: sha1Hex(baseBytes)},
			"catalog.dependency.C": {LastModified: time.Now().UTC(), SignatureSHA1: sha1Hex(depBytes)},
			"catalog.summary.C":    {LastModified: time.Now().UTC(), SignatureSHA1: sha1Hex(sumBytes)},
		},
	}
	attrBytes, err := json.MarshalIndent(attrs, "", "  ")
	if err != nil {
		return ipserr.New(ipserr.ErrJSONEncode, "encoding catalog.attrs", err)
	}
	return atomicWrite(r.paths.catalogAttrs(pub), attrBytes, 0o644)
}

// catalogCreatedTime preserves the original creation time across rebuilds,
// if catalog.attrs already exists.
func catalogCreatedTime(path string) time.Time {
	data, err := os.ReadFile(path)
	if err != nil {
		return time.Now().UTC()
	}
	var existing CatalogAttrs
	if err := json.Unmarshal(data, &existing); err != nil || existing.Created.IsZero() {
		return time.Now().UTC()
	}
	return existing.Created
}

func sha1Hex(data []byte) string {
	sum := sha1.Sum(data)
	return hex.EncodeToString(sum[:])
}

// dependActionLines renders each depend action as an IPS text line, per
// spec.md §4.5.3 "catalog.dependency.C — the depend actions per version".
func dependActionLines(m *manifest.Manifest) []string {
	var lines []string
	for _, d := range m.Dependencies {
		var b strings.Builder
		fmt.Fprintf(&b, "depend fmri=%s type=%s", d.Fmri, d.Type)
		if d.Predicate != "" {
			fmt.Fprintf(&b, " predicate=%s", d.Predicate)
		}
		for _, opt := range d.Optional {
			fmt.Fprintf(&b, " optional=%s", opt)
		}
		lines = append(lines, b.String())
	}
	return lines
}

// summaryActionLines renders non-variant/non-facet set actions, per
// spec.md §4.5.3 "catalog.summary.C — the non-variant/non-facet set
// actions per version".
func summaryActionLines(m *manifest.Manifest) []string {
	var lines []string
	for _, a := range m.Attributes {
		if strings.HasPrefix(a.Key, "variant.") || strings.HasPrefix(a.Key, "facet.") {
			continue
		}
		lines = append(lines, fmt.Sprintf("set name=%s value=%s", a.Key, strings.Join(a.Values, " ")))
	}
	return lines
}
