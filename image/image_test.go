package image

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/OpenFlowLabs/ipstoolkit/manifest"
	"github.com/OpenFlowLabs/ipstoolkit/repository"
)

func TestBuildCatalogPartitionsObsolete(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	repo, err := repository.Create(ctx, root)
	if err != nil {
		t.Fatal(err)
	}
	if err := repo.AddPublisher(ctx, "example.com"); err != nil {
		t.Fatal(err)
	}

	publish := func(fmriStr string, obsolete bool) {
		tx, err := repo.BeginTransaction(ctx, "example.com")
		if err != nil {
			t.Fatal(err)
		}
		m := manifest.New()
		m.SetAttr("pkg.fmri", fmriStr)
		if obsolete {
			m.SetAttr("pkg.obsolete", "true")
		}
		tx.UpdateManifest(m)
		if err := tx.Commit(ctx); err != nil {
			t.Fatal(err)
		}
	}
	publish("app/foo@1.0,5.11-0:20260101T000000Z", false)
	publish("app/bar@1.0,5.11-0:20260101T000000Z", true)

	img, err := Open(ctx, filepath.Join(root, "catalog.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer img.Close()

	if err := img.BuildCatalog(ctx, repo, []string{"example.com"}); err != nil {
		t.Fatalf("BuildCatalog: %v", err)
	}

	pkgs, err := img.QueryPackages("")
	if err != nil {
		t.Fatal(err)
	}
	if len(pkgs) != 1 || pkgs[0].Stem != "app/foo" {
		t.Fatalf("expected only app/foo in catalog, got %+v", pkgs)
	}

	obsolete, err := img.IsObsoleted("example.com/app/bar@1.0,5.11-0:20260101T000000Z")
	if err != nil {
		t.Fatal(err)
	}
	if !obsolete {
		t.Fatalf("expected app/bar to be marked obsoleted")
	}

	candidates, err := img.CandidatesForStem("app/foo")
	if err != nil {
		t.Fatal(err)
	}
	if len(candidates) != 1 || candidates[0].Fmri.Publisher != "example.com" {
		t.Fatalf("expected one app/foo candidate from example.com, got %+v", candidates)
	}
}

func TestInstalledAndIncorporateTables(t *testing.T) {
	ctx := context.Background()
	img, err := Open(ctx, filepath.Join(t.TempDir(), "catalog.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer img.Close()

	m := manifest.New()
	m.SetAttr("pkg.fmri", "app/foo@1.0")
	if err := img.AddInstalled("app/foo@1.0", m); err != nil {
		t.Fatal(err)
	}
	installed, err := img.IsInstalled("app/foo@1.0")
	if err != nil {
		t.Fatal(err)
	}
	if !installed {
		t.Fatalf("expected app/foo@1.0 to be installed")
	}

	if err := img.Incorporate("app/foo", "1.0"); err != nil {
		t.Fatal(err)
	}
	version, ok, err := img.Incorporation("app/foo")
	if err != nil {
		t.Fatal(err)
	}
	if !ok || version != "1.0" {
		t.Fatalf("expected incorporation app/foo=1.0, got %q ok=%v", version, ok)
	}

	if err := img.RemoveInstalled("app/foo@1.0"); err != nil {
		t.Fatal(err)
	}
	installed, err = img.IsInstalled("app/foo@1.0")
	if err != nil {
		t.Fatal(err)
	}
	if installed {
		t.Fatalf("expected app/foo@1.0 to no longer be installed")
	}
}
