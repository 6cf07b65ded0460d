package solver

import (
	"fmt"

	"github.com/OpenFlowLabs/ipstoolkit/fmri"
	"github.com/OpenFlowLabs/ipstoolkit/image"
)

// AdviceEntry describes one unresolved leaf in the dependency graph walked
// from a root constraint (spec.md §4.8.6): the path taken to reach it, the
// constraint that no candidate could satisfy, the incorporation lock in
// effect (if any), and the versions that were actually available.
type AdviceEntry struct {
	Path              []string
	Stem              string
	FailingConstraint string
	LockedRelease     string
	AvailableVersions []string
}

// Advise walks the dependency graph from each root constraint and reports
// every unresolved leaf it finds, in terms a user can act on directly -
// never a raw solver clause identifier, per spec.md §4.8.6.
func Advise(img *image.Image, roots []Constraint, imagePublisherOrder []string, defaultPublisher string) ([]AdviceEntry, error) {
	var entries []AdviceEntry
	visited := map[string]bool{}
	for _, c := range roots {
		prefs := c.PreferredPublishers
		if len(prefs) == 0 {
			prefs = buildPublisherPreference("", imagePublisherOrder, defaultPublisher)
		}
		found, err := adviseWalk(img, c.Stem, versionSetFor(c.VersionReq, c.Branch), prefs, nil, visited, imagePublisherOrder, defaultPublisher)
		if err != nil {
			return nil, err
		}
		entries = append(entries, found...)
	}
	return entries, nil
}

func adviseWalk(img *image.Image, stem string, vs versionSet, preferredPublishers []string, path []string, visited map[string]bool, imagePublisherOrder []string, defaultPublisher string) ([]AdviceEntry, error) {
	catalogEntries, err := img.CandidatesForStem(stem)
	if err != nil {
		return nil, err
	}

	lockedVersion, isLocked, err := img.Incorporation(stem)
	if err != nil {
		return nil, err
	}

	candidates := catalogEntries
	effectiveVS := vs
	if isLocked {
		locked := filterLocked(catalogEntries, lockedVersion)
		if len(locked) > 0 {
			candidates = locked
			effectiveVS = versionSet{kind: vsAny}
		}
	}

	var filtered []image.CatalogEntry
	for _, e := range candidates {
		if matchesVersionSet(e.Fmri, effectiveVS) {
			filtered = append(filtered, e)
		}
	}

	if len(filtered) == 0 {
		lockedRelease := ""
		if isLocked {
			lockedRelease = lockedVersion
		}
		return []AdviceEntry{{
			Path:              append([]string(nil), path...),
			Stem:              stem,
			FailingConstraint: describeVersionSet(vs),
			LockedRelease:     lockedRelease,
			AvailableVersions: availableVersions(catalogEntries),
		}}, nil
	}

	if visited[stem] {
		return nil, nil
	}
	visited[stem] = true

	sortCandidates(filtered, preferredPublishers)
	pick := filtered[0]
	branch := ""
	if pick.Fmri.Version != nil {
		branch = pick.Fmri.Version.Branch
	}

	var out []AdviceEntry
	childPath := append(append([]string(nil), path...), stem)
	for _, dep := range pick.Manifest.Dependencies {
		if dep.Type != "require" {
			continue
		}
		depFmri, err := fmri.Parse(dep.Fmri)
		if err != nil {
			continue
		}
		release := ""
		if depFmri.Version != nil {
			release = depFmri.Version.Release
		}
		childPrefs := buildPublisherPreference(pick.Fmri.Publisher, imagePublisherOrder, defaultPublisher)
		found, err := adviseWalk(img, depFmri.Stem, versionSetFor(release, branch), childPrefs, childPath, visited, imagePublisherOrder, defaultPublisher)
		if err != nil {
			return nil, err
		}
		out = append(out, found...)
	}
	return out, nil
}

func describeVersionSet(vs versionSet) string {
	switch vs.kind {
	case vsAny:
		return "any"
	case vsReleaseEq:
		return fmt.Sprintf("release=%s", vs.release)
	case vsBranchEq:
		return fmt.Sprintf("branch=%s", vs.branch)
	case vsReleaseAndBranch:
		return fmt.Sprintf("release=%s, branch=%s", vs.release, vs.branch)
	default:
		return "unknown"
	}
}

func availableVersions(entries []image.CatalogEntry) []string {
	var out []string
	for _, e := range entries {
		if e.Fmri.Version != nil {
			out = append(out, e.Fmri.Version.String())
		}
	}
	return out
}
