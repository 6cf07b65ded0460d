package repository

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/OpenFlowLabs/ipstoolkit/digest"
	"github.com/OpenFlowLabs/ipstoolkit/manifest"
)

func TestCreateAndOpenRoundTrip(t *testing.T) {
	root := t.TempDir()
	ctx := context.Background()

	r, err := Create(ctx, root)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := r.AddPublisher(ctx, "example.com"); err != nil {
		t.Fatalf("AddPublisher: %v", err)
	}

	r2, err := Open(ctx, root)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if !r2.HasPublisher("example.com") {
		t.Fatalf("expected reopened repository to have publisher example.com")
	}
	if r2.DefaultPublisher() != "example.com" {
		t.Fatalf("expected default publisher example.com, got %q", r2.DefaultPublisher())
	}
}

func TestOpenImportsLegacyPkg5Repository(t *testing.T) {
	root := t.TempDir()
	ini := "[publisher]\nprefix=old.pub\n\n[publishers]\nlist=old.pub,other.pub\n\n[repository]\nversion=4\n"
	if err := os.WriteFile(filepath.Join(root, "pkg5.repository"), []byte(ini), 0o644); err != nil {
		t.Fatal(err)
	}

	r, err := Open(context.Background(), root)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if !r.HasPublisher("old.pub") || !r.HasPublisher("other.pub") {
		t.Fatalf("expected both publishers imported, got %v", r.Publishers())
	}
	if r.DefaultPublisher() != "old.pub" {
		t.Fatalf("expected default publisher old.pub, got %q", r.DefaultPublisher())
	}
}

func TestTransactionCommitStoresContentAddressedPayloadOnce(t *testing.T) {
	root := t.TempDir()
	ctx := context.Background()
	r, err := Create(ctx, root)
	if err != nil {
		t.Fatal(err)
	}

	src := filepath.Join(t.TempDir(), "payload.txt")
	if err := os.WriteFile(src, []byte("hello world"), 0o644); err != nil {
		t.Fatal(err)
	}

	publish := func() {
		tx, err := r.BeginTransaction(ctx, "example.com")
		if err != nil {
			t.Fatal(err)
		}
		m := manifest.New()
		m.SetAttr("pkg.fmri", "pkg://example.com/app/foo@1.0,5.11-0:20260101T000000Z")
		tx.UpdateManifest(m)
		if _, err := tx.AddFile(manifest.File{Path: "usr/bin/foo"}, src, digest.Gzip); err != nil {
			t.Fatal(err)
		}
		if err := tx.Commit(ctx); err != nil {
			t.Fatal(err)
		}
	}
	publish()
	publish()

	pkgs, err := r.ListPackages("example.com", "")
	if err != nil {
		t.Fatal(err)
	}
	if len(pkgs) != 1 || pkgs[0].Stem != "app/foo" {
		t.Fatalf("expected one package app/foo, got %+v", pkgs)
	}

	fetched, err := r.FetchManifest("example.com", "app/foo@1.0,5.11-0:20260101T000000Z")
	if err != nil {
		t.Fatalf("FetchManifest: %v", err)
	}
	if len(fetched.Files) != 1 || fetched.Files[0].Path != "usr/bin/foo" {
		t.Fatalf("unexpected fetched manifest: %+v", fetched)
	}

	var fileCount int
	filepath.Walk(filepath.Join(root, "publisher", "example.com", "file"), func(path string, info os.FileInfo, err error) error {
		if err == nil && !info.IsDir() {
			fileCount++
		}
		return nil
	})
	if fileCount != 1 {
		t.Fatalf("expected exactly one stored payload file, got %d", fileCount)
	}
}

func TestRebuildAndSearch(t *testing.T) {
	root := t.TempDir()
	ctx := context.Background()
	r, err := Create(ctx, root)
	if err != nil {
		t.Fatal(err)
	}
	if err := r.AddPublisher(ctx, "example.com"); err != nil {
		t.Fatal(err)
	}

	tx, err := r.BeginTransaction(ctx, "example.com")
	if err != nil {
		t.Fatal(err)
	}
	m := manifest.New()
	m.SetAttr("pkg.fmri", "pkg://example.com/library/zlib@1.2,5.11-0:20260101T000000Z")
	m.Dependencies = append(m.Dependencies, manifest.Dependency{Fmri: "library/libc@1.0", Type: "require"})
	tx.UpdateManifest(m)
	if err := tx.Commit(ctx); err != nil {
		t.Fatal(err)
	}

	if err := r.Rebuild("example.com"); err != nil {
		t.Fatalf("Rebuild: %v", err)
	}
	if _, err := os.Stat(filepath.Join(root, "publisher", "example.com", "catalog", "catalog.attrs")); err != nil {
		t.Fatalf("expected catalog.attrs to exist: %v", err)
	}

	if err := r.BuildSearchIndex("example.com"); err != nil {
		t.Fatalf("BuildSearchIndex: %v", err)
	}

	results, err := r.Search("library/zlib", "example.com", 10)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 1 || results[0].Stem != "library/zlib" {
		t.Fatalf("expected library/zlib in search results, got %+v", results)
	}
}

func TestRemovePublisherDeletesTree(t *testing.T) {
	root := t.TempDir()
	ctx := context.Background()
	r, err := Create(ctx, root)
	if err != nil {
		t.Fatal(err)
	}
	if err := r.AddPublisher(ctx, "example.com"); err != nil {
		t.Fatal(err)
	}
	if err := r.RemovePublisher(ctx, "example.com"); err != nil {
		t.Fatalf("RemovePublisher: %v", err)
	}
	if r.HasPublisher("example.com") {
		t.Fatalf("expected publisher removed")
	}
	if _, err := os.Stat(filepath.Join(root, "publisher", "example.com")); !os.IsNotExist(err) {
		t.Fatalf("expected publisher directory removed, got err=%v", err)
	}
}
