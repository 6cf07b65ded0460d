package publish

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/OpenFlowLabs/ipstoolkit/manifest"
	"github.com/OpenFlowLabs/ipstoolkit/repository"
)

func newRepo(t *testing.T, pub string) *repository.Repository {
	t.Helper()
	r, err := repository.Create(context.Background(), t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	if pub != "" {
		if err := r.AddPublisher(context.Background(), pub); err != nil {
			t.Fatal(err)
		}
	}
	return r
}

func TestPublishPrototypeWalksAndCommits(t *testing.T) {
	repo := newRepo(t, "example.com")
	proto := t.TempDir()
	if err := os.MkdirAll(filepath.Join(proto, "usr", "bin"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(proto, "usr", "bin", "foo"), []byte("hello"), 0o644); err != nil {
		t.Fatal(err)
	}

	pc, err := Open(repo, "example.com", "")
	if err != nil {
		t.Fatal(err)
	}
	if err := pc.PublishPrototype(context.Background(), proto, "app/foo@1.0,5.11-0"); err != nil {
		t.Fatal(err)
	}

	m, err := repo.FetchManifest("example.com", "app/foo@1.0,5.11-0")
	if err != nil {
		t.Fatal(err)
	}
	if len(m.Files) != 1 || m.Files[0].Path != "usr/bin/foo" {
		t.Fatalf("unexpected files: %+v", m.Files)
	}
	if m.Fmri() != "app/foo@1.0,5.11-0" {
		t.Fatalf("unexpected pkg.fmri: %q", m.Fmri())
	}
}

func TestPublishPrototypeAppliesTransformRules(t *testing.T) {
	repo := newRepo(t, "example.com")
	proto := t.TempDir()
	if err := os.WriteFile(filepath.Join(proto, "foo"), []byte("hi"), 0o644); err != nil {
		t.Fatal(err)
	}

	rulesPath := filepath.Join(t.TempDir(), "rules")
	rule := `transform target=file match_type=path pattern=foo op=set value=renamed`
	if err := os.WriteFile(rulesPath, []byte(rule+"\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	pc, err := Open(repo, "example.com", rulesPath)
	if err != nil {
		t.Fatal(err)
	}
	if err := pc.PublishPrototype(context.Background(), proto, "app/bar@1.0,5.11-0"); err != nil {
		t.Fatal(err)
	}

	m, err := repo.FetchManifest("example.com", "app/bar@1.0,5.11-0")
	if err != nil {
		t.Fatal(err)
	}
	if len(m.Files) != 1 || m.Files[0].Path != "renamed" {
		t.Fatalf("expected path rewritten to renamed, got %+v", m.Files)
	}
}

func TestReceiveCopiesPackageBetweenRepositories(t *testing.T) {
	src := newRepo(t, "example.com")
	proto := t.TempDir()
	if err := os.WriteFile(filepath.Join(proto, "foo"), []byte("payload"), 0o644); err != nil {
		t.Fatal(err)
	}
	pc, err := Open(src, "example.com", "")
	if err != nil {
		t.Fatal(err)
	}
	if err := pc.PublishPrototype(context.Background(), proto, "app/foo@1.0,5.11-0"); err != nil {
		t.Fatal(err)
	}

	dst := newRepo(t, "")
	pr := &PackageReceiver{Source: src, Dest: dst, DefaultPublisher: "example.com"}

	rebuilt := map[string]bool{}
	if err := pr.Receive(context.Background(), []string{"app/foo@1.0,5.11-0"}, func(pub string) error {
		rebuilt[pub] = true
		return nil
	}); err != nil {
		t.Fatal(err)
	}

	if !dst.HasPublisher("example.com") {
		t.Fatal("expected destination to gain publisher example.com")
	}
	if !rebuilt["example.com"] {
		t.Fatal("expected rebuild callback for touched publisher")
	}
	m, err := dst.FetchManifest("example.com", "app/foo@1.0,5.11-0")
	if err != nil {
		t.Fatal(err)
	}
	if len(m.Files) != 1 || m.Files[0].Path != "foo" {
		t.Fatalf("unexpected copied files: %+v", m.Files)
	}
}

func TestReceiveResolvesVersionlessToNewest(t *testing.T) {
	src := newRepo(t, "example.com")
	pc, err := Open(src, "example.com", "")
	if err != nil {
		t.Fatal(err)
	}
	proto := t.TempDir()
	for _, v := range []string{"1.0,5.11-0", "2.0,5.11-0"} {
		if err := pc.PublishPrototype(context.Background(), proto, "app/foo@"+v); err != nil {
			t.Fatal(err)
		}
	}

	dst := newRepo(t, "")
	pr := &PackageReceiver{Source: src, Dest: dst, DefaultPublisher: "example.com"}
	if err := pr.Receive(context.Background(), []string{"app/foo"}, nil); err != nil {
		t.Fatal(err)
	}

	if _, err := dst.FetchManifest("example.com", "app/foo@2.0,5.11-0"); err != nil {
		t.Fatal(err)
	}
	if _, err := dst.FetchManifest("example.com", "app/foo@1.0,5.11-0"); err == nil {
		t.Fatal("expected only the newest version to have been received")
	}
}

func TestReceiveRecursiveEnqueuesDependencies(t *testing.T) {
	src := newRepo(t, "example.com")
	pc, err := Open(src, "example.com", "")
	if err != nil {
		t.Fatal(err)
	}
	protoDep := t.TempDir()
	if err := os.WriteFile(filepath.Join(protoDep, "libfoo"), []byte("lib"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := pc.PublishPrototype(context.Background(), protoDep, "lib/foo@1.0,5.11-0"); err != nil {
		t.Fatal(err)
	}

	protoMain := t.TempDir()
	if err := os.WriteFile(filepath.Join(protoMain, "bin"), []byte("bin"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := pc.PublishPrototype(context.Background(), protoMain, "app/main@1.0,5.11-0"); err != nil {
		t.Fatal(err)
	}

	m, err := src.FetchManifest("example.com", "app/main@1.0,5.11-0")
	if err != nil {
		t.Fatal(err)
	}
	m.Dependencies = append(m.Dependencies, manifest.Dependency{Fmri: "lib/foo@1.0,5.11-0", Type: "require"})

	tx, err := src.BeginTransaction(context.Background(), "example.com")
	if err != nil {
		t.Fatal(err)
	}
	tx.UpdateManifest(&manifest.Manifest{Attributes: []manifest.Attr{{Key: "pkg.fmri", Values: []string{"app/main@1.0,5.11-0"}}}, Dependencies: m.Dependencies})
	if err := tx.Commit(context.Background()); err != nil {
		t.Fatal(err)
	}

	dst := newRepo(t, "")
	pr := &PackageReceiver{Source: src, Dest: dst, DefaultPublisher: "example.com", Recursive: true}
	if err := pr.Receive(context.Background(), []string{"app/main@1.0,5.11-0"}, nil); err != nil {
		t.Fatal(err)
	}

	if _, err := dst.FetchManifest("example.com", "lib/foo@1.0,5.11-0"); err != nil {
		t.Fatalf("expected recursive dependency to have been received: %v", err)
	}
}
