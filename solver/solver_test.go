package solver

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/OpenFlowLabs/ipstoolkit/fmri"
	"github.com/OpenFlowLabs/ipstoolkit/image"
	"github.com/OpenFlowLabs/ipstoolkit/ipserr"
	"github.com/OpenFlowLabs/ipstoolkit/manifest"
	"github.com/OpenFlowLabs/ipstoolkit/repository"
)

func mustVersion(t *testing.T, s string) *fmri.Version {
	t.Helper()
	v, err := fmri.ParseVersion(s)
	if err != nil {
		t.Fatal(err)
	}
	return v
}

func TestMatchesVersionSetCompositeRelease(t *testing.T) {
	f := &fmri.Fmri{Stem: "app/foo", Version: mustVersion(t, "20,5.11-0")}
	if !matchesVersionSet(f, versionSetFor("5.11", "")) {
		t.Fatalf("expected single-token requirement to match comma-separated candidate segment")
	}
	if matchesVersionSet(f, versionSetFor("20,5.12", "")) {
		t.Fatalf("multi-token requirement must require exact equality")
	}
}

func TestMatchesVersionSetReleaseTokenMatchesBranch(t *testing.T) {
	v := mustVersion(t, "1.0-0")
	v.Branch = "5.11"
	f := &fmri.Fmri{Stem: "app/foo", Version: v}
	if !matchesVersionSet(f, versionSetFor("5.11", "")) {
		t.Fatalf("expected release token to match candidate's branch token as a compatibility concession")
	}
}

func TestCompareReleaseDescNewestFirst(t *testing.T) {
	a := &fmri.Fmri{Version: mustVersion(t, "2.0")}
	b := &fmri.Fmri{Version: mustVersion(t, "1.0")}
	if compareReleaseDesc(a, b) >= 0 {
		t.Fatalf("expected 2.0 to sort before 1.0")
	}
	if compareReleaseDesc(b, a) <= 0 {
		t.Fatalf("expected 1.0 to sort after 2.0")
	}
}

func TestVersionOrderDescTimestampTiebreak(t *testing.T) {
	older := &fmri.Fmri{Version: mustVersion(t, "1.0:20250101T000000Z")}
	newer := &fmri.Fmri{Version: mustVersion(t, "1.0:20260101T000000Z")}
	if versionOrderDesc(newer, older) >= 0 {
		t.Fatalf("expected newer timestamp to sort first on an equal release")
	}
}

func TestBuildPublisherPreferenceParentFirst(t *testing.T) {
	order := buildPublisherPreference("parent.com", []string{"image-a.com", "parent.com", "image-b.com"}, "default.com")
	want := []string{"parent.com", "image-a.com", "image-b.com", "default.com"}
	if len(order) != len(want) {
		t.Fatalf("expected %v, got %v", want, order)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, order)
		}
	}
}

func TestSortCandidatesAppliesFullOrder(t *testing.T) {
	entries := []image.CatalogEntry{
		{Fmri: &fmri.Fmri{Publisher: "b.com", Version: mustVersion(t, "1.0:20250101T000000Z")}},
		{Fmri: &fmri.Fmri{Publisher: "a.com", Version: mustVersion(t, "1.0:20250101T000000Z")}},
		{Fmri: &fmri.Fmri{Publisher: "a.com", Version: mustVersion(t, "2.0:20250101T000000Z")}},
	}
	sortCandidates(entries, []string{"a.com", "b.com"})
	if entries[0].Fmri.Version.Release != "2.0" {
		t.Fatalf("expected release 2.0 first, got %+v", entries)
	}
	if entries[1].Fmri.Publisher != "a.com" {
		t.Fatalf("expected a.com preferred over b.com on an equal release, got %+v", entries)
	}
}

func TestFilterLockedRestrictsToMatchingReleaseBranchBuild(t *testing.T) {
	entries := []image.CatalogEntry{
		{Fmri: &fmri.Fmri{Version: mustVersion(t, "1.0-0")}},
		{Fmri: &fmri.Fmri{Version: mustVersion(t, "2.0-0")}},
	}
	got := filterLocked(entries, "1.0-0")
	if len(got) != 1 || got[0].Fmri.Version.Release != "1.0" {
		t.Fatalf("expected only the 1.0 candidate, got %+v", got)
	}
}

type solverFixture struct {
	ctx  context.Context
	repo *repository.Repository
	img  *image.Image
	pub  string
}

func newSolverFixture(t *testing.T) *solverFixture {
	t.Helper()
	ctx := context.Background()
	root := t.TempDir()
	repo, err := repository.Create(ctx, root)
	if err != nil {
		t.Fatal(err)
	}
	if err := repo.AddPublisher(ctx, "example.com"); err != nil {
		t.Fatal(err)
	}
	img, err := image.Open(ctx, filepath.Join(root, "catalog.db"))
	if err != nil {
		t.Fatal(err)
	}
	return &solverFixture{ctx: ctx, repo: repo, img: img, pub: "example.com"}
}

func (f *solverFixture) publish(t *testing.T, fmriStr string, obsolete bool, deps []manifest.Dependency) {
	t.Helper()
	tx, err := f.repo.BeginTransaction(f.ctx, f.pub)
	if err != nil {
		t.Fatal(err)
	}
	m := manifest.New()
	m.SetAttr("pkg.fmri", fmriStr)
	if obsolete {
		m.SetAttr("pkg.obsolete", "true")
	}
	m.Dependencies = deps
	tx.UpdateManifest(m)
	if err := tx.Commit(f.ctx); err != nil {
		t.Fatal(err)
	}
}

func (f *solverFixture) rebuild(t *testing.T) {
	t.Helper()
	if err := f.img.BuildCatalog(f.ctx, f.repo, []string{f.pub}); err != nil {
		t.Fatal(err)
	}
}

func TestResolveSelectsNewestReleaseThenTimestamp(t *testing.T) {
	f := newSolverFixture(t)
	f.publish(t, "app/foo@1.0,5.11-0:20250101T000000Z", false, nil)
	f.publish(t, "app/foo@1.0,5.11-0:20260101T000000Z", false, nil)
	f.publish(t, "app/foo@2.0,5.11-0:20250101T000000Z", false, nil)
	f.rebuild(t)

	plan, err := Resolve(f.repo, f.img, []Constraint{{Stem: "app/foo"}}, []string{f.pub}, f.pub)
	if err != nil {
		t.Fatal(err)
	}
	if len(plan.Add) != 1 || plan.Add[0].Fmri.Version.Release != "2.0,5.11" {
		t.Fatalf("expected newest release 2.0,5.11 to be selected, got %+v", plan.Add)
	}
}

func TestResolveIgnoresObsoleteCandidates(t *testing.T) {
	f := newSolverFixture(t)
	f.publish(t, "app/foo@1.0,5.11-0:20250101T000000Z", false, nil)
	f.publish(t, "app/foo@2.0,5.11-0:20250101T000000Z", true, nil)
	f.rebuild(t)

	plan, err := Resolve(f.repo, f.img, []Constraint{{Stem: "app/foo"}}, []string{f.pub}, f.pub)
	if err != nil {
		t.Fatal(err)
	}
	if len(plan.Add) != 1 || plan.Add[0].Fmri.Version.Release != "1.0,5.11" {
		t.Fatalf("expected the obsolete 2.0 candidate to be excluded, got %+v", plan.Add)
	}
}

func TestResolveNoCandidatesError(t *testing.T) {
	f := newSolverFixture(t)
	f.rebuild(t)

	_, err := Resolve(f.repo, f.img, []Constraint{{Stem: "app/missing"}}, []string{f.pub}, f.pub)
	if err == nil {
		t.Fatal("expected an error for a stem with zero candidates")
	}
	var ipsErr *ipserr.Error
	if e, ok := err.(*ipserr.Error); ok {
		ipsErr = e
	} else {
		t.Fatalf("expected *ipserr.Error, got %T", err)
	}
	fail, ok := ipsErr.Cause.(*Failure)
	if !ok {
		t.Fatalf("expected *Failure cause, got %T", ipsErr.Cause)
	}
	if fail.Kind != ProblemNoCandidates || fail.Stem != "app/missing" {
		t.Fatalf("expected NoCandidates for app/missing, got %+v", fail)
	}
}

func TestResolveDependencyExpansionRequireOnly(t *testing.T) {
	f := newSolverFixture(t)
	f.publish(t, "lib/bar@1.0,5.11-0:20250101T000000Z", false, nil)
	f.publish(t, "lib/baz@1.0,5.11-0:20250101T000000Z", false, nil)
	f.publish(t, "app/foo@1.0,5.11-0:20250101T000000Z", false, []manifest.Dependency{
		{Fmri: "lib/bar@1.0,5.11-0", Type: "require"},
		{Fmri: "lib/baz@1.0,5.11-0", Type: "require-any"},
	})
	f.rebuild(t)

	plan, err := Resolve(f.repo, f.img, []Constraint{{Stem: "app/foo"}}, []string{f.pub}, f.pub)
	if err != nil {
		t.Fatal(err)
	}
	stems := map[string]bool{}
	for _, p := range plan.Add {
		stems[p.Fmri.Stem] = true
	}
	if !stems["app/foo"] || !stems["lib/bar"] {
		t.Fatalf("expected app/foo and its require dependency lib/bar in the plan, got %+v", plan.Add)
	}
	if stems["lib/baz"] {
		t.Fatalf("expected require-any dependency to NOT be expanded by the solver, got %+v", plan.Add)
	}
}

func TestResolveIncorporationLockRestrictsCandidates(t *testing.T) {
	f := newSolverFixture(t)
	f.publish(t, "app/foo@1.0,5.11-0:20250101T000000Z", false, nil)
	f.publish(t, "app/foo@2.0,5.11-0:20250101T000000Z", false, nil)
	f.rebuild(t)
	if err := f.img.Incorporate("app/foo", "1.0,5.11-0"); err != nil {
		t.Fatal(err)
	}

	plan, err := Resolve(f.repo, f.img, []Constraint{{Stem: "app/foo", VersionReq: "2.0"}}, []string{f.pub}, f.pub)
	if err != nil {
		t.Fatal(err)
	}
	if len(plan.Add) != 1 || plan.Add[0].Fmri.Version.Release != "1.0,5.11" {
		t.Fatalf("expected the incorporation lock to override the incoming 2.0 constraint, got %+v", plan.Add)
	}
}

func TestResolveIncorporationLockIgnoredIfNoMatch(t *testing.T) {
	f := newSolverFixture(t)
	f.publish(t, "app/foo@1.0,5.11-0:20250101T000000Z", false, nil)
	f.rebuild(t)
	if err := f.img.Incorporate("app/foo", "9.9,5.11-0"); err != nil {
		t.Fatal(err)
	}

	plan, err := Resolve(f.repo, f.img, []Constraint{{Stem: "app/foo"}}, []string{f.pub}, f.pub)
	if err != nil {
		t.Fatal(err)
	}
	if len(plan.Add) != 1 || plan.Add[0].Fmri.Version.Release != "1.0,5.11" {
		t.Fatalf("expected an unmatched lock to fall back to the unrestricted candidate set, got %+v", plan.Add)
	}
}

func TestResolveTwoNodeCycleResolvesOnce(t *testing.T) {
	f := newSolverFixture(t)
	f.publish(t, "app/a@1.0,5.11-0:20250101T000000Z", false, []manifest.Dependency{
		{Fmri: "app/b@1.0,5.11-0", Type: "require"},
	})
	f.publish(t, "app/b@1.0,5.11-0:20250101T000000Z", false, []manifest.Dependency{
		{Fmri: "app/a@1.0,5.11-0", Type: "require"},
	})
	f.rebuild(t)

	plan, err := Resolve(f.repo, f.img, []Constraint{{Stem: "app/a"}}, []string{f.pub}, f.pub)
	if err != nil {
		t.Fatal(err)
	}
	counts := map[string]int{}
	for _, p := range plan.Add {
		counts[p.Fmri.Stem]++
	}
	if counts["app/a"] != 1 || counts["app/b"] != 1 {
		t.Fatalf("expected each stem resolved exactly once despite the cycle, got %+v", counts)
	}
}

func TestAdviseReportsFailingLeafWithAvailableVersions(t *testing.T) {
	f := newSolverFixture(t)
	f.publish(t, "app/foo@1.0,5.11-0", false, nil)
	f.rebuild(t)

	entries, err := Advise(f.img, []Constraint{{Stem: "app/foo", VersionReq: "9.9"}}, []string{f.pub}, f.pub)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].Stem != "app/foo" {
		t.Fatalf("expected one failing leaf for app/foo, got %+v", entries)
	}
	if entries[0].FailingConstraint != "release=9.9" {
		t.Fatalf("expected failing constraint release=9.9, got %q", entries[0].FailingConstraint)
	}
	if len(entries[0].AvailableVersions) != 1 || entries[0].AvailableVersions[0] != "1.0,5.11-0" {
		t.Fatalf("expected available versions to list 1.0,5.11-0, got %v", entries[0].AvailableVersions)
	}
}
