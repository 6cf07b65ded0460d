package depgen

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/OpenFlowLabs/ipstoolkit/manifest"
	"github.com/OpenFlowLabs/ipstoolkit/repository"
)

func TestParseShebang(t *testing.T) {
	interp, ok := parseShebang([]byte("#!/usr/bin/python3.11\nprint('hi')\n"))
	if !ok || interp != "/usr/bin/python3.11" {
		t.Fatalf("expected /usr/bin/python3.11, got %q ok=%v", interp, ok)
	}
	if _, ok := parseShebang([]byte("no shebang here")); ok {
		t.Fatalf("expected no shebang detected")
	}
}

func TestNormalizeBinPath(t *testing.T) {
	if got := normalizeBinPath("/bin/sh"); got != "/usr/bin/sh" {
		t.Fatalf("expected /usr/bin/sh, got %q", got)
	}
	if got := normalizeBinPath("/usr/bin/sh"); got != "/usr/bin/sh" {
		t.Fatalf("expected unchanged, got %q", got)
	}
}

func TestIsExecutableMode(t *testing.T) {
	if !isExecutableMode("0755") {
		t.Fatalf("expected 0755 to be executable")
	}
	if isExecutableMode("0644") {
		t.Fatalf("expected 0644 to not be executable")
	}
	if !isExecutableMode("") {
		t.Fatalf("expected empty mode to default executable")
	}
}

func TestInsertDefaultRunpathSplicesToken(t *testing.T) {
	defaults := []string{"/lib", "/usr/lib"}
	provided := []string{"/opt/app/lib", PDDefaultRunpath, "/opt/app/vendor"}
	got, err := insertDefaultRunpath(defaults, provided)
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"/opt/app/lib", "/lib", "/usr/lib", "/opt/app/vendor"}
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, got)
		}
	}
}

func TestInsertDefaultRunpathRejectsMultipleTokens(t *testing.T) {
	_, err := insertDefaultRunpath([]string{"/lib"}, []string{PDDefaultRunpath, PDDefaultRunpath})
	if err == nil {
		t.Fatalf("expected error for duplicate PD_DEFAULT_RUNPATH token")
	}
}

func TestInferPythonVersionFromInstalledPath(t *testing.T) {
	maj, min, ok := inferPythonVersion("/usr/lib/python3.11/foo.py", "")
	if !ok || maj != 3 || min != 11 {
		t.Fatalf("expected 3.11, got %d.%d ok=%v", maj, min, ok)
	}
}

func TestCollectPythonImports(t *testing.T) {
	src := "import os\nfrom sys import path\nimport json.decoder\n"
	got := collectPythonImports(src)
	want := map[string]bool{"os": true, "sys": true, "json": true}
	if len(got) != len(want) {
		t.Fatalf("expected 3 imports, got %v", got)
	}
	for _, m := range got {
		if !want[m] {
			t.Fatalf("unexpected import %q in %v", m, got)
		}
	}
}

func TestResolveDependenciesSingleProviderIsRequire(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	repo, err := repository.Create(ctx, root)
	if err != nil {
		t.Fatal(err)
	}
	if err := repo.AddPublisher(ctx, "example.com"); err != nil {
		t.Fatal(err)
	}

	tx, err := repo.BeginTransaction(ctx, "example.com")
	if err != nil {
		t.Fatal(err)
	}
	m := manifest.New()
	m.SetAttr("pkg.fmri", "library/libfoo@1.0,5.11-0:20260101T000000Z")
	m.Files = append(m.Files, manifest.File{Path: "usr/lib/libfoo.so.1"})
	tx.UpdateManifest(m)
	if err := tx.Commit(ctx); err != nil {
		t.Fatal(err)
	}

	fileDeps := []FileDep{{
		Kind:          KindElf,
		BaseNames:     []string{"libfoo.so.1"},
		RunPaths:      []string{"/usr/lib"},
		InstalledPath: "/usr/bin/app",
	}}
	deps, err := ResolveDependencies(repo, "example.com", fileDeps)
	if err != nil {
		t.Fatal(err)
	}
	if len(deps) != 1 || deps[0].Type != "require" {
		t.Fatalf("expected one require dependency, got %+v", deps)
	}
}

func TestGenerateFileDependenciesBypassesMatchingPaths(t *testing.T) {
	proto := t.TempDir()
	if err := os.MkdirAll(filepath.Join(proto, "usr/bin"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(proto, "usr/bin/app"), []byte("#!/usr/bin/sh\n"), 0o755); err != nil {
		t.Fatal(err)
	}

	m := manifest.New()
	m.Files = append(m.Files, manifest.File{Path: "usr/bin/app", Mode: "0755"})

	deps, err := GenerateFileDependencies(m, GenerateOptions{BypassPatterns: []string{"^/usr/bin/app$"}, ProtoDir: proto})
	if err != nil {
		t.Fatal(err)
	}
	if len(deps) != 0 {
		t.Fatalf("expected bypass to suppress all deps, got %+v", deps)
	}
}

func TestGenerateFileDependenciesDetectsScriptShebang(t *testing.T) {
	proto := t.TempDir()
	if err := os.MkdirAll(filepath.Join(proto, "usr/bin"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(proto, "usr/bin/app"), []byte("#!/usr/bin/sh\necho hi\n"), 0o755); err != nil {
		t.Fatal(err)
	}

	m := manifest.New()
	m.Files = append(m.Files, manifest.File{Path: "usr/bin/app", Mode: "0755"})

	deps, err := GenerateFileDependencies(m, GenerateOptions{ProtoDir: proto})
	if err != nil {
		t.Fatal(err)
	}
	if len(deps) != 1 || deps[0].Kind != KindScript || deps[0].BaseNames[0] != "sh" {
		t.Fatalf("expected one script dependency on sh, got %+v", deps)
	}
}
