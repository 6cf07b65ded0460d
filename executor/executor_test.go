package executor

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/OpenFlowLabs/ipstoolkit/manifest"
)

func TestSafeJoinRejectsAbsolute(t *testing.T) {
	if _, err := SafeJoin("/image", "/etc/passwd"); err == nil {
		t.Fatal("expected error for absolute rel path")
	}
}

func TestSafeJoinRejectsEscape(t *testing.T) {
	if _, err := SafeJoin("/image", "../../etc/passwd"); err == nil {
		t.Fatal("expected error for traversal escaping image root")
	}
	if _, err := SafeJoin("/image", "a/../../b"); err == nil {
		t.Fatal("expected error for traversal that underflows mid-path")
	}
}

func TestSafeJoinOk(t *testing.T) {
	got, err := SafeJoin("/image", "usr/bin/foo")
	if err != nil {
		t.Fatal(err)
	}
	want := filepath.Join("/image", "usr", "bin", "foo")
	if got != want {
		t.Fatalf("got %s, want %s", got, want)
	}

	got, err = SafeJoin("/image", "a/b/../c")
	if err != nil {
		t.Fatal(err)
	}
	want = filepath.Join("/image", "a", "c")
	if got != want {
		t.Fatalf("got %s, want %s", got, want)
	}

	got, err = SafeJoin("/image", "")
	if err != nil {
		t.Fatal(err)
	}
	if got != "/image" {
		t.Fatalf("got %s, want /image", got)
	}
}

func TestParseMode(t *testing.T) {
	cases := []struct {
		mode string
		def  os.FileMode
		want os.FileMode
	}{
		{"", 0o755, 0o755},
		{"0", 0o755, 0o755},
		{"0755", 0o644, 0o755},
		{"644", 0o755, 0o644},
	}
	for _, c := range cases {
		if got := parseMode(c.mode, c.def); got != c.want {
			t.Fatalf("parseMode(%q, %v) = %v, want %v", c.mode, c.def, got, c.want)
		}
	}
}

func TestApplyActionPlanOrdersDirsFilesLinks(t *testing.T) {
	root := t.TempDir()
	plan := ActionPlan{
		Directories: []manifest.Dir{{Path: "usr/bin", Mode: "0755"}},
		Files:       []manifest.File{{Path: "usr/bin/foo", Mode: "0644"}},
		Links:       []manifest.Link{{Path: "usr/bin/foo-link", Target: "foo"}},
	}

	var phases []string
	opts := ApplyOptions{
		ProgressInterval: 1,
		Progress: func(evt ProgressEvent) {
			if evt.Kind == ProgressStartingPhase {
				phases = append(phases, evt.Phase)
			}
		},
	}

	if err := ApplyActionPlan(context.Background(), root, plan, opts); err != nil {
		t.Fatal(err)
	}

	want := []string{"directories", "files", "links"}
	if len(phases) != len(want) {
		t.Fatalf("got phases %v, want %v", phases, want)
	}
	for i := range want {
		if phases[i] != want[i] {
			t.Fatalf("got phases %v, want %v", phases, want)
		}
	}

	if fi, err := os.Stat(filepath.Join(root, "usr", "bin")); err != nil || !fi.IsDir() {
		t.Fatalf("expected directory to exist: %v", err)
	}
	if _, err := os.Stat(filepath.Join(root, "usr", "bin", "foo")); err != nil {
		t.Fatalf("expected file to exist: %v", err)
	}
	target, err := os.Readlink(filepath.Join(root, "usr", "bin", "foo-link"))
	if err != nil {
		t.Fatalf("expected symlink to exist: %v", err)
	}
	if target != "foo" {
		t.Fatalf("got link target %q, want foo", target)
	}
}

func TestApplyActionPlanDryRunTouchesNothing(t *testing.T) {
	root := t.TempDir()
	plan := ActionPlan{
		Directories: []manifest.Dir{{Path: "usr/bin"}},
		Files:       []manifest.File{{Path: "usr/bin/foo"}},
	}

	if err := ApplyActionPlan(context.Background(), root, plan, ApplyOptions{DryRun: true}); err != nil {
		t.Fatal(err)
	}

	if _, err := os.Stat(filepath.Join(root, "usr")); !os.IsNotExist(err) {
		t.Fatalf("expected dry run to create nothing, stat err = %v", err)
	}
}

func TestApplyActionPlanHardLink(t *testing.T) {
	root := t.TempDir()
	plan := ActionPlan{
		Files: []manifest.File{{Path: "usr/bin/foo"}},
		Links: []manifest.Link{{Path: "usr/bin/foo-hard", Target: "usr/bin/foo", Type: "hard"}},
	}

	if err := ApplyActionPlan(context.Background(), root, plan, ApplyOptions{}); err != nil {
		t.Fatal(err)
	}

	fi, err := os.Stat(filepath.Join(root, "usr", "bin", "foo-hard"))
	if err != nil {
		t.Fatalf("expected hard link target to exist: %v", err)
	}
	if fi.Mode()&os.ModeSymlink != 0 {
		t.Fatal("expected a hard link, got a symlink")
	}
}

func TestApplyActionPlanRejectsAbsoluteSymlinkTarget(t *testing.T) {
	root := t.TempDir()
	plan := ActionPlan{
		Links: []manifest.Link{{Path: "usr/bin/foo-link", Target: "/etc/passwd"}},
	}

	if err := ApplyActionPlan(context.Background(), root, plan, ApplyOptions{}); err == nil {
		t.Fatal("expected error for absolute symlink target")
	}
}

func TestBuildActionPlanMergesInOrder(t *testing.T) {
	m1 := &manifest.Manifest{
		Directories: []manifest.Dir{{Path: "a"}},
		Files:       []manifest.File{{Path: "a/f1"}},
	}
	m2 := &manifest.Manifest{
		Directories: []manifest.Dir{{Path: "b"}},
		Files:       []manifest.File{{Path: "b/f2"}},
	}

	plan := BuildActionPlan([]*manifest.Manifest{m1, m2})

	if len(plan.Directories) != 2 || plan.Directories[0].Path != "a" || plan.Directories[1].Path != "b" {
		t.Fatalf("unexpected directory order: %+v", plan.Directories)
	}
	if len(plan.Files) != 2 || plan.Files[0].Path != "a/f1" || plan.Files[1].Path != "b/f2" {
		t.Fatalf("unexpected file order: %+v", plan.Files)
	}
}
