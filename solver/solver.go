// Package solver resolves top-level package Constraints into an InstallPlan
// (spec.md §4.8), following the selection and dependency-expansion rules of
// the original Rust implementation's resolvo-backed DependencyProvider
// (original_source/libips/src/solver/mod.rs) without porting resolvo
// itself: spec.md §4.8 and §9 fully specify the required behavior in terms
// a memoized worklist can implement directly, and no CDCL solver of
// resolvo's kind exists anywhere in the retrieved example pack.
package solver

import (
	"fmt"
	"strings"

	"github.com/OpenFlowLabs/ipstoolkit/fmri"
	"github.com/OpenFlowLabs/ipstoolkit/image"
	"github.com/OpenFlowLabs/ipstoolkit/ipserr"
	"github.com/OpenFlowLabs/ipstoolkit/manifest"
	"github.com/OpenFlowLabs/ipstoolkit/repository"
)

// Constraint is a top-level resolution request (spec.md §4.8).
type Constraint struct {
	Stem                string
	VersionReq          string // release component only; "" means unconstrained
	PreferredPublishers []string
	Branch              string // "" means unconstrained
}

func (c Constraint) String() string {
	s := c.Stem
	if c.VersionReq != "" {
		s += "@" + c.VersionReq
	}
	if c.Branch != "" {
		s += "-" + c.Branch
	}
	return s
}

type versionSetKind int

const (
	vsAny versionSetKind = iota
	vsReleaseEq
	vsBranchEq
	vsReleaseAndBranch
)

type versionSet struct {
	kind    versionSetKind
	release string
	branch  string
}

func versionSetFor(release, branch string) versionSet {
	switch {
	case release != "" && branch != "":
		return versionSet{kind: vsReleaseAndBranch, release: release, branch: branch}
	case release != "":
		return versionSet{kind: vsReleaseEq, release: release}
	case branch != "":
		return versionSet{kind: vsBranchEq, branch: branch}
	default:
		return versionSet{kind: vsAny}
	}
}

// releaseSatisfies implements spec.md §4.8.2's matching rule: exact match;
// a single-token requirement additionally matches any comma-separated
// segment of a composite candidate release (e.g. "5.11" matches "20,5.11").
func releaseSatisfies(req, cand string) bool {
	if req == cand {
		return true
	}
	if strings.Contains(req, ",") {
		return false
	}
	for _, seg := range strings.Split(cand, ",") {
		if strings.TrimSpace(seg) == req {
			return true
		}
	}
	return false
}

// matchesVersionSet evaluates one candidate FMRI against a version set,
// including the "release-token may match a candidate's branch token"
// compatibility concession spec.md §4.8.2 names for legacy expressions.
func matchesVersionSet(f *fmri.Fmri, vs versionSet) bool {
	switch vs.kind {
	case vsAny:
		return true
	case vsReleaseEq:
		if f.Version == nil {
			return false
		}
		return releaseSatisfies(vs.release, f.Version.Release) || f.Version.Branch == vs.release
	case vsBranchEq:
		if f.Version == nil {
			return false
		}
		return f.Version.Branch == vs.branch
	case vsReleaseAndBranch:
		if f.Version == nil {
			return false
		}
		okRel := releaseSatisfies(vs.release, f.Version.Release) || f.Version.Branch == vs.release
		okBranch := f.Version.Branch == vs.branch
		return okRel && okBranch
	default:
		return false
	}
}

// compareReleaseDesc orders two FMRIs by release descending: semver-padded
// comparison first, falling back to lexicographic release-string comparison
// on a tie (spec.md §4.8.4 rule 1). A version beats no version.
func compareReleaseDesc(a, b *fmri.Fmri) int {
	switch {
	case a.Version != nil && b.Version != nil:
		as, bs := fmri.ReleaseToSemver(a.Version.Release), fmri.ReleaseToSemver(b.Version.Release)
		if c := compareSemverDesc(as, bs); c != 0 {
			return c
		}
		if a.Version.Release != b.Version.Release {
			if a.Version.Release > b.Version.Release {
				return -1
			}
			return 1
		}
		return 0
	case a.Version != nil:
		return -1
	case b.Version != nil:
		return 1
	default:
		return 0
	}
}

func compareSemverDesc(a, b []int) int {
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
				return -1
			}
			return 1
		}
	}
	return 0
}

// versionOrderDesc extends compareReleaseDesc with a timestamp-descending
// tiebreak (spec.md §4.8.4 rule 3).
func versionOrderDesc(a, b *fmri.Fmri) int {
	if c := compareReleaseDesc(a, b); c != 0 {
		return c
	}
	if a.Version == nil || b.Version == nil {
		return 0
	}
	ta, tb := a.Version.Timestamp, b.Version.Timestamp
	if ta == tb {
		return 0
	}
	if ta > tb {
		return -1
	}
	return 1
}

// buildPublisherPreference orders publishers: the dependant's publisher
// first (when resolving a dependency), then the image's configured
// publisher order, then the default publisher, each added at most once
// (spec.md §4.8.4 rule 2).
func buildPublisherPreference(parentPub string, imagePublisherOrder []string, defaultPublisher string) []string {
	var order []string
	seen := map[string]bool{}
	add := func(p string) {
		if p == "" || seen[p] {
			return
		}
		seen[p] = true
		order = append(order, p)
	}
	add(parentPub)
	for _, p := range imagePublisherOrder {
		add(p)
	}
	add(defaultPublisher)
	return order
}

// sortCandidates orders candidates per spec.md §4.8.4: release descending,
// then publisher preference, then timestamp descending.
func sortCandidates(entries []image.CatalogEntry, publisherOrder []string) {
	indexOf := func(pub string) int {
		for i, p := range publisherOrder {
			if p == pub {
				return i
			}
		}
		return len(publisherOrder) + 1
	}
	insertionSort(entries, func(a, b image.CatalogEntry) bool {
		if c := compareReleaseDesc(a.Fmri, b.Fmri); c != 0 {
			return c < 0
		}
		ia, ib := indexOf(a.Fmri.Publisher), indexOf(b.Fmri.Publisher)
		if ia != ib {
			return ia < ib
		}
		return versionOrderDesc(a.Fmri, b.Fmri) < 0
	})
}

// insertionSort is a small stable sort so ties preserve catalog-scan order,
// matching the teacher-free but well-understood idiom of not reaching for
// sort.Slice's unstable algorithm when result order must be deterministic
// across runs for identical inputs.
func insertionSort(entries []image.CatalogEntry, less func(a, b image.CatalogEntry) bool) {
	for i := 1; i < len(entries); i++ {
		for j := i; j > 0 && less(entries[j], entries[j-1]); j-- {
			entries[j], entries[j-1] = entries[j-1], entries[j]
		}
	}
}

// ProblemKind distinguishes the two structured solver failure categories
// spec.md §4.8.6 names.
type ProblemKind int

const (
	ProblemNoCandidates ProblemKind = iota
	ProblemUnsolvable
)

// Failure is the structured diagnostic carried as an *ipserr.Error's Cause,
// recoverable via errors.As so callers never need to parse error strings
// (spec.md §4.8.6: "never raw solver clause identifiers").
type Failure struct {
	Kind    ProblemKind
	Stem    string
	Release string
	Branch  string
	Roots   []Constraint
}

func (f *Failure) Error() string {
	switch f.Kind {
	case ProblemNoCandidates:
		req := f.Stem
		if f.Release != "" {
			req += "@" + f.Release
		}
		return fmt.Sprintf("no candidates for %q", req)
	default:
		return "no install plan satisfies the given constraints"
	}
}

// ResolvedPkg is one chosen package in an InstallPlan.
type ResolvedPkg struct {
	Fmri     *fmri.Fmri
	Manifest *manifest.Manifest
}

// InstallPlan is the solver's output (spec.md §4.8.7).
type InstallPlan struct {
	Add     []ResolvedPkg
	Remove  []ResolvedPkg
	Update  [][2]ResolvedPkg
	Reasons []string
}

type pendingReq struct {
	stem                string
	vs                  versionSet
	preferredPublishers []string
}

type chosen struct {
	fmri     *fmri.Fmri
	manifest *manifest.Manifest
	locked   bool
}

// Resolve builds an InstallPlan from constraints against img's catalog,
// optionally preferring repo's on-disk manifests when assembling the plan
// (spec.md §4.8.7). repo may be nil, in which case only the catalog
// snapshot is used.
func Resolve(repo *repository.Repository, img *image.Image, constraints []Constraint, imagePublisherOrder []string, defaultPublisher string) (*InstallPlan, error) {
	for _, c := range constraints {
		entries, err := img.CandidatesForStem(c.Stem)
		if err != nil {
			return nil, err
		}
		if len(entries) == 0 {
			return nil, noCandidatesErr(c.Stem, c.VersionReq, c.Branch, constraints)
		}
	}

	selected := map[string]chosen{}
	var queue []pendingReq
	for _, c := range constraints {
		prefs := c.PreferredPublishers
		if len(prefs) == 0 {
			prefs = buildPublisherPreference("", imagePublisherOrder, defaultPublisher)
		}
		queue = append(queue, pendingReq{stem: c.Stem, vs: versionSetFor(c.VersionReq, c.Branch), preferredPublishers: prefs})
	}

	var reasons []string
	for len(queue) > 0 {
		req := queue[0]
		queue = queue[1:]

		if prev, ok := selected[req.stem]; ok {
			// Memoized: spec.md §4.8.5's worklist revisits a stem at most
			// once. An incorporation lock ignores incoming constraints
			// entirely, so only an unlocked prior selection is re-checked.
			if !prev.locked && !matchesVersionSet(prev.fmri, req.vs) {
				return nil, unsolvableErr(constraints)
			}
			continue
		}

		entries, err := img.CandidatesForStem(req.stem)
		if err != nil {
			return nil, err
		}
		if len(entries) == 0 {
			// A dependency stem absent from the catalog entirely is
			// skipped, not a failure - mirrors the original's
			// get_dependencies, which only builds requirements for
			// stems already present in its catalog index.
			continue
		}

		lockedVersion, isLocked, err := img.Incorporation(req.stem)
		if err != nil {
			return nil, err
		}

		candidates := entries
		effectiveVS := req.vs
		if isLocked {
			locked := filterLocked(entries, lockedVersion)
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
			return nil, unsolvableErr(constraints)
		}

		sortCandidates(filtered, req.preferredPublishers)
		pick := filtered[0]

		selected[req.stem] = chosen{fmri: pick.Fmri, manifest: pick.Manifest, locked: isLocked}
		reasons = append(reasons, fmt.Sprintf("selected %s via solver", pick.Fmri.String()))

		branch := ""
		if pick.Fmri.Version != nil {
			branch = pick.Fmri.Version.Branch
		}
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
			queue = append(queue, pendingReq{
				stem:                depFmri.Stem,
				vs:                  versionSetFor(release, branch),
				preferredPublishers: buildPublisherPreference(pick.Fmri.Publisher, imagePublisherOrder, defaultPublisher),
			})
		}
	}

	plan := &InstallPlan{Reasons: reasons}
	for _, c := range orderedStems(constraints, selected) {
		sel := selected[c]
		m, err := resolveManifest(repo, img, sel)
		if err != nil {
			return nil, err
		}
		plan.Add = append(plan.Add, ResolvedPkg{Fmri: sel.fmri, Manifest: m})
	}
	return plan, nil
}

// orderedStems returns every selected stem, roots first in constraint
// order, then any transitively-pulled-in dependency stems.
func orderedStems(constraints []Constraint, selected map[string]chosen) []string {
	seen := map[string]bool{}
	var out []string
	for _, c := range constraints {
		if _, ok := selected[c.Stem]; ok && !seen[c.Stem] {
			seen[c.Stem] = true
			out = append(out, c.Stem)
		}
	}
	for stem := range selected {
		if !seen[stem] {
			seen[stem] = true
			out = append(out, stem)
		}
	}
	return out
}

// filterLocked restricts candidates to the pinned release/branch/build (and
// timestamp, if the lock specifies one), per spec.md §4.8.3. It falls back
// to a verbatim version-string match if the lock can't be parsed.
func filterLocked(entries []image.CatalogEntry, lockedVersion string) []image.CatalogEntry {
	lockVer, err := fmri.ParseVersion(lockedVersion)
	if err != nil {
		var out []image.CatalogEntry
		for _, e := range entries {
			if e.Fmri.Version != nil && e.Fmri.Version.String() == lockedVersion {
				out = append(out, e)
			}
		}
		return out
	}
	var out []image.CatalogEntry
	for _, e := range entries {
		v := e.Fmri.Version
		if v == nil || v.Release != lockVer.Release || v.Branch != lockVer.Branch || v.Build != lockVer.Build {
			continue
		}
		if lockVer.Timestamp != "" && v.Timestamp != lockVer.Timestamp {
			continue
		}
		out = append(out, e)
	}
	return out
}

// resolveManifest assembles the final manifest for a chosen package,
// preferring the repository manifest, then the catalog-cached snapshot
// already carried on sel, then a direct image-catalog re-read, in that
// order (spec.md §4.8.7).
func resolveManifest(repo *repository.Repository, img *image.Image, sel chosen) (*manifest.Manifest, error) {
	if repo != nil {
		fmriStr := sel.fmri.Stem + "@" + sel.fmri.Version.String()
		if m, err := repo.FetchManifest(sel.fmri.Publisher, fmriStr); err == nil {
			return m, nil
		}
	}
	if sel.manifest != nil {
		return sel.manifest, nil
	}
	m, err := img.GetManifest(sel.fmri.Publisher, sel.fmri.Stem, sel.fmri.Version.String())
	if err != nil {
		return nil, ipserr.New(ipserr.ErrNotFound, "no manifest available for "+sel.fmri.String(), err)
	}
	return m, nil
}

func noCandidatesErr(stem, release, branch string, roots []Constraint) error {
	return ipserr.New(ipserr.ErrSolverNoCandidates, fmt.Sprintf("no candidate versions for %q", stem), &Failure{
		Kind: ProblemNoCandidates, Stem: stem, Release: release, Branch: branch, Roots: append([]Constraint(nil), roots...),
	})
}

func unsolvableErr(roots []Constraint) error {
	return ipserr.New(ipserr.ErrSolverUnsolvable, "constraints conflict", &Failure{
		Kind: ProblemUnsolvable, Roots: append([]Constraint(nil), roots...),
	})
}
