// Package executor applies resolved manifests to an image root: directory
// creation, file materialization, and link creation, in that fixed order
// (spec.md §4.9), grounded on the original Rust implementation's
// actions/executors.rs (safe_join, apply_dir/apply_file/apply_link,
// apply_manifest's phase ordering and progress events).
package executor

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/OpenFlowLabs/ipstoolkit/ipserr"
	"github.com/OpenFlowLabs/ipstoolkit/ipslog"
	"github.com/OpenFlowLabs/ipstoolkit/manifest"
)

// SafeJoin resolves a manifest-relative path under imageRoot, rejecting
// absolute paths and any traversal that would escape imageRoot (spec.md
// §4.9's path-safety algorithm). An empty rel resolves to imageRoot itself.
func SafeJoin(imageRoot, rel string) (string, error) {
	if rel == "" {
		return imageRoot, nil
	}
	if filepath.IsAbs(rel) {
		return "", ipserr.New(ipserr.ErrAbsolutePathForbidden, rel, nil)
	}

	var stack []string
	for _, seg := range strings.Split(filepath.ToSlash(rel), "/") {
		switch seg {
		case "", ".":
			// empty segments (consecutive slashes) and "." are no-ops
		case "..":
			if len(stack) == 0 {
				return "", ipserr.New(ipserr.ErrPathTraversal, rel, nil)
			}
			stack = stack[:len(stack)-1]
		default:
			stack = append(stack, seg)
		}
	}

	out := imageRoot
	for _, seg := range stack {
		out = filepath.Join(out, seg)
	}
	return out, nil
}

// ProgressEvent is emitted by ApplyManifest/ApplyActionPlan when a callback
// is supplied (spec.md §4.9).
type ProgressEvent struct {
	Phase   string
	Current int
	Total   int
	Kind    ProgressKind
}

// ProgressKind distinguishes the three event shapes apply_manifest emits.
type ProgressKind int

const (
	ProgressStartingPhase ProgressKind = iota
	ProgressTick
	ProgressFinishedPhase
)

// ProgressCallback receives coarse-grained progress events during apply.
type ProgressCallback func(ProgressEvent)

// ApplyOptions controls ApplyManifest/ApplyActionPlan.
type ApplyOptions struct {
	DryRun   bool
	Progress ProgressCallback
	// ProgressInterval emits a Tick every N items per phase; 0 disables
	// periodic ticks (only StartingPhase/FinishedPhase fire).
	ProgressInterval int
}

func (o ApplyOptions) emit(evt ProgressEvent) {
	if o.Progress != nil {
		o.Progress(evt)
	}
}

// ActionPlan merges one or more manifests' filesystem-affecting actions
// into phase-ordered lists - Dir, then File, then Link, then Other -
// preserving each input manifest's insertion order within a phase (spec.md
// §4.9's ActionPlan merge rule). Other collects the less-central action
// kinds (user/group/driver/legacy), which apply_manifest does not execute.
type ActionPlan struct {
	Directories []manifest.Dir
	Files       []manifest.File
	Links       []manifest.Link
	Others      []manifest.Generic
}

// BuildActionPlan merges manifests (e.g. every package in a solver
// InstallPlan) into one ordered ActionPlan.
func BuildActionPlan(manifests []*manifest.Manifest) ActionPlan {
	var plan ActionPlan
	for _, m := range manifests {
		plan.Directories = append(plan.Directories, m.Directories...)
		plan.Files = append(plan.Files, m.Files...)
		plan.Links = append(plan.Links, m.Links...)
		plan.Others = append(plan.Others, m.Users...)
		plan.Others = append(plan.Others, m.Groups...)
		plan.Others = append(plan.Others, m.Drivers...)
		plan.Others = append(plan.Others, m.Legacies...)
	}
	return plan
}

// ApplyManifest is a convenience wrapper applying a single manifest's
// actions, equivalent to ApplyActionPlan(BuildActionPlan([m])).
func ApplyManifest(ctx context.Context, imageRoot string, m *manifest.Manifest, opts ApplyOptions) error {
	return ApplyActionPlan(ctx, imageRoot, BuildActionPlan([]*manifest.Manifest{m}), opts)
}

// ApplyActionPlan executes a merged ActionPlan against imageRoot, in the
// fixed Dir < File < Link order (spec.md §4.9). Other action kinds are
// left for future extension, matching the original's own scaffold.
func ApplyActionPlan(ctx context.Context, imageRoot string, plan ActionPlan, opts ApplyOptions) error {
	if err := applyPhase(ctx, "directories", len(plan.Directories), opts, func(i int) error {
		return applyDir(imageRoot, plan.Directories[i], opts)
	}); err != nil {
		return err
	}
	if err := applyPhase(ctx, "files", len(plan.Files), opts, func(i int) error {
		return applyFile(imageRoot, plan.Files[i], opts)
	}); err != nil {
		return err
	}
	if err := applyPhase(ctx, "links", len(plan.Links), opts, func(i int) error {
		return applyLink(imageRoot, plan.Links[i], opts)
	}); err != nil {
		return err
	}
	return nil
}

func applyPhase(ctx context.Context, phase string, total int, opts ApplyOptions, step func(i int) error) error {
	if total > 0 {
		opts.emit(ProgressEvent{Kind: ProgressStartingPhase, Phase: phase, Total: total})
	}
	for i := 0; i < total; i++ {
		if err := step(i); err != nil {
			return err
		}
		if opts.ProgressInterval > 0 && ((i+1)%opts.ProgressInterval == 0 || i+1 == total) {
			opts.emit(ProgressEvent{Kind: ProgressTick, Phase: phase, Current: i + 1, Total: total})
		}
	}
	if total > 0 {
		opts.emit(ProgressEvent{Kind: ProgressFinishedPhase, Phase: phase, Total: total})
		ipslog.GetLoggerWithField(ctx, "count", total).Debugf("applied %s phase", phase)
	}
	return nil
}

// parseMode accepts manifest mode strings like "0755" or "755", falling
// back to def when mode is empty or "0".
func parseMode(mode string, def os.FileMode) os.FileMode {
	if mode == "" || mode == "0" {
		return def
	}
	trimmed := strings.TrimLeft(mode, "0")
	if trimmed == "" {
		trimmed = "0"
	}
	n, err := strconv.ParseUint(trimmed, 8, 32)
	if err != nil {
		return def
	}
	return os.FileMode(n)
}

func applyDir(imageRoot string, d manifest.Dir, opts ApplyOptions) error {
	full, err := SafeJoin(imageRoot, d.Path)
	if err != nil {
		return err
	}
	if opts.DryRun {
		return nil
	}
	if err := os.MkdirAll(full, 0o755); err != nil {
		return ipserr.New(ipserr.ErrIO, "creating directory "+full, err)
	}
	if err := os.Chmod(full, parseMode(d.Mode, 0o755)); err != nil {
		return ipserr.New(ipserr.ErrIO, "setting mode on "+full, err)
	}
	return nil
}

func ensureParent(imageRoot, rel string, opts ApplyOptions) error {
	full, err := SafeJoin(imageRoot, rel)
	if err != nil {
		return err
	}
	if opts.DryRun {
		return nil
	}
	parent := filepath.Dir(full)
	if err := os.MkdirAll(parent, 0o755); err != nil {
		return ipserr.New(ipserr.ErrIO, "creating parent directory "+parent, err)
	}
	return nil
}

// applyFile materializes a file action. The payload body is not yet
// streamed from repository storage - an empty file is written as a
// scaffold, exactly as the original's apply_file does ("payload
// fetching/integration will follow later"); spec.md §9 names this as a
// known, intentional gap rather than something to "fix" here.
func applyFile(imageRoot string, f manifest.File, opts ApplyOptions) error {
	full, err := SafeJoin(imageRoot, f.Path)
	if err != nil {
		return err
	}
	if err := ensureParent(imageRoot, f.Path, opts); err != nil {
		return err
	}
	if opts.DryRun {
		return nil
	}
	if err := os.WriteFile(full, []byte{}, parseMode(f.Mode, 0o644)); err != nil {
		return ipserr.New(ipserr.ErrIO, "creating file "+full, err)
	}
	if err := os.Chmod(full, parseMode(f.Mode, 0o644)); err != nil {
		return ipserr.New(ipserr.ErrIO, "setting mode on "+full, err)
	}
	return nil
}

func applyLink(imageRoot string, l manifest.Link, opts ApplyOptions) error {
	linkPath, err := SafeJoin(imageRoot, l.Path)
	if err != nil {
		return err
	}
	if opts.DryRun {
		return nil
	}

	if strings.EqualFold(l.Type, "hard") || strings.EqualFold(l.Type, "hardlink") {
		targetFull, err := SafeJoin(imageRoot, l.Target)
		if err != nil {
			return err
		}
		if err := os.Link(targetFull, linkPath); err != nil {
			return ipserr.New(ipserr.ErrIO, "hard-linking "+linkPath, err)
		}
		return nil
	}

	if filepath.IsAbs(l.Target) {
		return ipserr.New(ipserr.ErrAbsolutePathForbidden, l.Target, nil)
	}
	if err := os.Symlink(l.Target, linkPath); err != nil {
		return ipserr.New(ipserr.ErrIO, "symlinking "+linkPath, err)
	}
	return nil
}
