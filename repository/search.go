package repository

import (
	"encoding/json"
	"os"
	"sort"
	"strings"

	"github.com/OpenFlowLabs/ipstoolkit/ipserr"
)

// searchIndexDoc is the on-disk form of index/<pub>/search.json (spec.md
// §4.5.4).
type searchIndexDoc struct {
	Terms    map[string][]string `json:"terms"`
	Packages map[string]string   `json:"packages"`
	Updated  int64               `json:"updated"`
}

// BuildSearchIndex writes index/<pub>/search.json covering stem,
// publisher, version, every file/dir/link path, and every dependency FMRI,
// all lowercased (spec.md §4.5.4).
func (r *Repository) BuildSearchIndex(pub string) error {
	if !r.HasPublisher(pub) {
		return ipserr.New(ipserr.ErrPublisherNotFound, pub, nil)
	}
	pkgs, err := r.ListPackages(pub, "")
	if err != nil {
		return err
	}

	doc := searchIndexDoc{Terms: map[string][]string{}, Packages: map[string]string{}}
	add := func(term, fmriStr string) {
		term = strings.ToLower(term)
		if term == "" {
			return
		}
		for _, existing := range doc.Terms[term] {
			if existing == fmriStr {
				return
			}
		}
		doc.Terms[term] = append(doc.Terms[term], fmriStr)
	}

	for _, pi := range pkgs {
		fmriStr := pi.Stem + "@" + pi.Version
		doc.Packages[fmriStr] = pi.Stem
		add(pi.Stem, fmriStr)
		add(pi.Publisher, fmriStr)
		add(pi.Version, fmriStr)

		m, err := r.FetchManifest(pub, fmriStr)
		if err != nil {
			continue
		}
		for _, d := range m.Directories {
			add(d.Path, fmriStr)
		}
		for _, f := range m.Files {
			add(f.Path, fmriStr)
		}
		for _, l := range m.Links {
			add(l.Path, fmriStr)
		}
		for _, dep := range m.Dependencies {
			add(dep.Fmri, fmriStr)
		}
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return ipserr.New(ipserr.ErrJSONEncode, "encoding search.json", err)
	}
	return atomicWrite(r.paths.searchIndex(pub), data, 0o644)
}

// Search splits query on whitespace into lowercase terms and intersects
// their term-sets; falls back to a substring match against stem when no
// index exists for pub (spec.md §4.5.4).
func (r *Repository) Search(query, pub string, limit int) ([]PackageInfo, error) {
	terms := strings.Fields(strings.ToLower(query))
	if len(terms) == 0 {
		return nil, nil
	}

	pubs := r.config.Publishers
	if pub != "" {
		pubs = []string{pub}
	}

	var results []PackageInfo
	for _, p := range pubs {
		data, err := os.ReadFile(r.paths.searchIndex(p))
		if err != nil {
			subset, err := r.searchFallback(p, terms)
			if err != nil {
				continue
			}
			results = append(results, subset...)
			continue
		}
		var doc searchIndexDoc
		if err := json.Unmarshal(data, &doc); err != nil {
			continue
		}

		matched := map[string]bool{}
		for i, term := range terms {
			set := doc.Terms[term]
			if i == 0 {
				for _, f := range set {
					matched[f] = true
				}
				continue
			}
			next := map[string]bool{}
			for _, f := range set {
				if matched[f] {
					next[f] = true
				}
			}
			matched = next
		}

		for fmriStr := range matched {
			stem, version := splitFmriStemVersion(fmriStr)
			results = append(results, PackageInfo{Publisher: p, Stem: stem, Version: version})
		}
	}

	sort.Slice(results, func(i, j int) bool {
		fi := results[i].Stem + "@" + results[i].Version
		fj := results[j].Stem + "@" + results[j].Version
		return fi < fj
	})
	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

func (r *Repository) searchFallback(pub string, terms []string) ([]PackageInfo, error) {
	pkgs, err := r.ListPackages(pub, "")
	if err != nil {
		return nil, err
	}
	var out []PackageInfo
	for _, pi := range pkgs {
		stem := strings.ToLower(pi.Stem)
		allMatch := true
		for _, t := range terms {
			if !strings.Contains(stem, t) {
				allMatch = false
				break
			}
		}
		if allMatch {
			out = append(out, pi)
		}
	}
	return out, nil
}

func splitFmriStemVersion(fmriStr string) (stem, version string) {
	stem, version, ok := strings.Cut(fmriStr, "@")
	if !ok {
		return fmriStr, ""
	}
	return stem, version
}
