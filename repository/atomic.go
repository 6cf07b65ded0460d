package repository

import (
	"os"
	"path/filepath"

	"github.com/OpenFlowLabs/ipstoolkit/ipserr"
)

// atomicWrite writes data to a ".tmp" sibling of dest, syncs it, and renames
// it into place - spec.md §4.5.1: "Writes are atomic: write to <dest>.tmp,
// fsync (recommended), rename to <dest>." Grounded on the teacher's
// blobwriter.go commit state machine (write, then move into its final
// content-addressed location).
func atomicWrite(dest string, data []byte, perm os.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return ipserr.New(ipserr.ErrIO, "creating parent directory for "+dest, err)
	}
	tmp := dest + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, perm)
	if err != nil {
		return ipserr.New(ipserr.ErrIO, "creating temp file "+tmp, err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmp)
		return ipserr.New(ipserr.ErrIO, "writing temp file "+tmp, err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return ipserr.New(ipserr.ErrIO, "syncing temp file "+tmp, err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return ipserr.New(ipserr.ErrIO, "closing temp file "+tmp, err)
	}
	if err := os.Rename(tmp, dest); err != nil {
		os.Remove(tmp)
		return ipserr.New(ipserr.ErrIO, "renaming "+tmp+" to "+dest, err)
	}
	return nil
}

// copyIfAbsent copies src to dest only if dest does not already exist,
// implementing the content-addressed dedup invariant (spec.md §8 property
// #3: "storing the same payload twice results in exactly one file on
// disk").
func copyIfAbsent(src, dest string) error {
	if _, err := os.Stat(dest); err == nil {
		return nil
	}
	data, err := os.ReadFile(src)
	if err != nil {
		return ipserr.New(ipserr.ErrIO, "reading "+src, err)
	}
	return atomicWrite(dest, data, 0o644)
}
