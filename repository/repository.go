// Package repository implements the IPS repository storage engine
// (spec.md §4.5): the on-disk content-addressed payload store, per-
// publisher catalog parts, atomic publish transactions, and search index.
// It is grounded on the teacher's registry/storage package (path mapping
// in paths.go, the blobwriter commit state machine in atomic.go) adapted
// from a pluggable remote-blob-store model to the spec's fixed local
// directory-tree model (see DESIGN.md for why no StorageDriver
// abstraction layer was built).
package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	ipsdigest "github.com/OpenFlowLabs/ipstoolkit/digest"
	"github.com/OpenFlowLabs/ipstoolkit/fmri"
	"github.com/OpenFlowLabs/ipstoolkit/ipserr"
	"github.com/OpenFlowLabs/ipstoolkit/ipslog"
	"github.com/OpenFlowLabs/ipstoolkit/manifest"
)

// Repository is an open handle onto a repository directory tree.
type Repository struct {
	paths  pathMapper
	config PkgRepositoryConfig
}

// Create initializes a new repository at root with pkg6.repository version
// CurrentRepositoryVersion (spec.md §4.5.5 "create").
func Create(ctx context.Context, root string) (*Repository, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, ipserr.New(ipserr.ErrIO, "creating repository root "+root, err)
	}
	cfg := PkgRepositoryConfig{Version: CurrentRepositoryVersion, Publishers: []string{}}
	r := &Repository{paths: pathMapper{root: root}, config: cfg}
	if err := r.writeConfig(); err != nil {
		return nil, err
	}
	ipslog.GetLogger(ctx).Infof("created repository at %s", root)
	return r, nil
}

// Open reads pkg6.repository (JSON), or imports pkg5.repository (INI) if
// present, per spec.md §4.5.5 "open".
func Open(ctx context.Context, root string) (*Repository, error) {
	p := pathMapper{root: root}

	if data, err := os.ReadFile(p.pkg6Repository()); err == nil {
		var cfg PkgRepositoryConfig
		if err := json.Unmarshal(data, &cfg); err != nil {
			return nil, ipserr.New(ipserr.ErrConfigRead, "parsing pkg6.repository", err)
		}
		if cfg.Version != CurrentRepositoryVersion {
			return nil, ipserr.New(ipserr.ErrUnsupportedRepoVersion, fmt.Sprintf("version %d", cfg.Version), nil)
		}
		return &Repository{paths: p, config: cfg}, nil
	}

	if data, err := os.ReadFile(p.pkg5Repository()); err == nil {
		cfg, err := parseLegacyConfig(data)
		if err != nil {
			return nil, err
		}
		r := &Repository{paths: p, config: *cfg}
		ipslog.GetLogger(ctx).Info("imported legacy pkg5.repository")
		return r, nil
	}

	return nil, ipserr.New(ipserr.ErrNotFound, "no pkg6.repository or pkg5.repository at "+root, nil)
}

func (r *Repository) writeConfig() error {
	data, err := json.MarshalIndent(r.config, "", "  ")
	if err != nil {
		return ipserr.New(ipserr.ErrJSONEncode, "encoding pkg6.repository", err)
	}
	return atomicWrite(r.paths.pkg6Repository(), data, 0o644)
}

// HasPublisher reports whether pub is configured.
func (r *Repository) HasPublisher(pub string) bool {
	for _, p := range r.config.Publishers {
		if p == pub {
			return true
		}
	}
	return false
}

// AddPublisher registers a new publisher and creates its directory tree.
func (r *Repository) AddPublisher(ctx context.Context, pub string) error {
	if r.HasPublisher(pub) {
		return ipserr.New(ipserr.ErrPublisherExists, pub, nil)
	}
	if err := os.MkdirAll(r.paths.pkgDir(pub), 0o755); err != nil {
		return ipserr.New(ipserr.ErrIO, "creating publisher tree for "+pub, err)
	}
	if err := os.MkdirAll(r.paths.catalogDir(pub), 0o755); err != nil {
		return ipserr.New(ipserr.ErrIO, "creating catalog dir for "+pub, err)
	}
	r.config.Publishers = append(r.config.Publishers, pub)
	if r.config.DefaultPublisher == "" {
		r.config.DefaultPublisher = pub
	}
	if err := r.writeConfig(); err != nil {
		return err
	}
	ipslog.GetLoggerWithField(ctx, "publisher", pub).Info("added publisher")
	return nil
}

// RemovePublisher deletes pub's catalog and pkg/ subtrees (spec.md §3
// "Lifecycle": "removal requires deletion of their catalog and pkg/
// subtrees").
func (r *Repository) RemovePublisher(ctx context.Context, pub string) error {
	if !r.HasPublisher(pub) {
		return ipserr.New(ipserr.ErrPublisherNotFound, pub, nil)
	}
	if err := os.RemoveAll(r.paths.publisherDir(pub)); err != nil {
		return ipserr.New(ipserr.ErrIO, "removing publisher tree for "+pub, err)
	}
	var kept []string
	for _, p := range r.config.Publishers {
		if p != pub {
			kept = append(kept, p)
		}
	}
	r.config.Publishers = kept
	if r.config.DefaultPublisher == pub {
		r.config.DefaultPublisher = ""
		if len(kept) > 0 {
			r.config.DefaultPublisher = kept[0]
		}
	}
	return r.writeConfig()
}

// SetDefaultPublisher assigns the repository's default publisher.
func (r *Repository) SetDefaultPublisher(pub string) error {
	if !r.HasPublisher(pub) {
		return ipserr.New(ipserr.ErrPublisherNotFound, pub, nil)
	}
	r.config.DefaultPublisher = pub
	return r.writeConfig()
}

// SetProperty sets a repository-wide property.
func (r *Repository) SetProperty(key, value string) error {
	if r.config.Properties == nil {
		r.config.Properties = map[string]string{}
	}
	r.config.Properties[key] = value
	return r.writeConfig()
}

// SetPublisherProperty sets a per-publisher property, stored under a
// "<pub>.<key>" namespaced key in the repository-wide properties map since
// pkg6.repository carries no separate per-publisher property bag.
func (r *Repository) SetPublisherProperty(pub, key, value string) error {
	if !r.HasPublisher(pub) {
		return ipserr.New(ipserr.ErrPublisherNotFound, pub, nil)
	}
	return r.SetProperty(pub+"."+key, value)
}

// DefaultPublisher returns the repository's configured default publisher.
func (r *Repository) DefaultPublisher() string { return r.config.DefaultPublisher }

// Publishers returns the configured publisher names.
func (r *Repository) Publishers() []string { return append([]string(nil), r.config.Publishers...) }

// Root returns the repository's root directory.
func (r *Repository) Root() string { return r.paths.root }

// GetInfo returns per-publisher summary records (spec.md §4.5.5).
func (r *Repository) GetInfo() ([]PublisherInfo, error) {
	var infos []PublisherInfo
	for _, pub := range r.config.Publishers {
		pkgs, err := r.ListPackages(pub, "")
		if err != nil {
			return nil, err
		}
		infos = append(infos, PublisherInfo{Name: pub, PackageCount: len(pkgs), Status: "online"})
	}
	return infos, nil
}

// ListPackages walks publisher manifests, optionally filtered by a regex
// pattern on stem, excluding obsoleted packages (spec.md §4.5.5).
func (r *Repository) ListPackages(pub, pattern string) ([]PackageInfo, error) {
	var re *regexp.Regexp
	if pattern != "" {
		var err error
		re, err = regexp.Compile(pattern)
		if err != nil {
			return nil, ipserr.New(ipserr.ErrRegexCompile, pattern, err)
		}
	}

	pubs := r.config.Publishers
	if pub != "" {
		pubs = []string{pub}
	}

	var out []PackageInfo
	for _, p := range pubs {
		entries, err := os.ReadDir(r.paths.pkgDir(p))
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, ipserr.New(ipserr.ErrIO, "listing pkg dir for "+p, err)
		}
		for _, stemEntry := range entries {
			if !stemEntry.IsDir() {
				continue
			}
			stem := decodeSegment(stemEntry.Name())
			if re != nil && !re.MatchString(stem) {
				continue
			}
			versions, err := os.ReadDir(filepath.Join(r.paths.pkgDir(p), stemEntry.Name()))
			if err != nil {
				continue
			}
			for _, v := range versions {
				if v.IsDir() || strings.HasSuffix(v.Name(), ".json") {
					continue
				}
				version := decodeSegment(v.Name())
				m, err := r.readManifestFile(filepath.Join(r.paths.pkgDir(p), stemEntry.Name(), v.Name()))
				obsolete := err == nil && m.IsObsolete()
				if obsolete {
					continue
				}
				out = append(out, PackageInfo{Publisher: p, Stem: stem, Version: version})
			}
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Stem != out[j].Stem {
			return out[i].Stem < out[j].Stem
		}
		return out[i].Version < out[j].Version
	})
	return out, nil
}

// ShowContents returns per-package action listings restricted to
// actionTypes (empty means all), for packages matching pattern.
func (r *Repository) ShowContents(pub, pattern string, actionTypes []string) (map[string]*manifest.Manifest, error) {
	pkgs, err := r.ListPackages(pub, pattern)
	if err != nil {
		return nil, err
	}
	want := map[string]bool{}
	for _, t := range actionTypes {
		want[t] = true
	}
	out := map[string]*manifest.Manifest{}
	for _, pi := range pkgs {
		m, err := r.FetchManifest(pi.Publisher, pi.Stem+"@"+pi.Version)
		if err != nil {
			continue
		}
		if len(want) == 0 {
			out[pi.Stem+"@"+pi.Version] = m
			continue
		}
		filtered := manifest.New()
		if want["dir"] {
			filtered.Directories = m.Directories
		}
		if want["file"] {
			filtered.Files = m.Files
		}
		if want["link"] {
			filtered.Links = m.Links
		}
		if want["depend"] {
			filtered.Dependencies = m.Dependencies
		}
		if want["license"] {
			filtered.Licenses = m.Licenses
		}
		if want["set"] {
			filtered.Attributes = m.Attributes
		}
		out[pi.Stem+"@"+pi.Version] = filtered
	}
	return out, nil
}

// Refresh regenerates catalog parts and the search index for pub, the
// combination spec.md §4.5.5 lists as the "refresh" writable op.
func (r *Repository) Refresh(pub string) error {
	if err := r.Rebuild(pub); err != nil {
		return err
	}
	return r.BuildSearchIndex(pub)
}

func (r *Repository) readManifestFile(path string) (*manifest.Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, ipserr.New(ipserr.ErrIO, "reading manifest "+path, err)
	}
	return manifest.ParseString(string(data), manifest.ParseOptions{})
}

// FetchManifest locates a package by publisher and FMRI string, preferring
// the publisher-scoped manifest path with one fallback layout,
// <root>/pkg/<stem>/<version> (spec.md §4.5.5); no other layout is tried.
func (r *Repository) FetchManifest(pub, fmriStr string) (*manifest.Manifest, error) {
	f, err := fmri.Parse(fmriStr)
	if err != nil {
		return nil, err
	}
	if f.Version == nil {
		return nil, ipserr.New(ipserr.ErrNotFound, "fetch_manifest requires a versioned fmri: "+fmriStr, nil)
	}
	if pub == "" {
		pub = r.config.DefaultPublisher
	}

	candidates := []string{
		r.paths.manifestPath(pub, f.Stem, f.Version.String()),
		filepath.Join(r.paths.root, "pkg", encodeSegment(f.Stem), encodeSegment(f.Version.String())),
	}
	for _, path := range candidates {
		if m, err := r.readManifestFile(path); err == nil {
			return m, nil
		}
	}
	return nil, ipserr.New(ipserr.ErrNotFound, "manifest for "+fmriStr, nil)
}

// FetchPayload locates a stored payload by its compressed digest, verifies
// the stored bytes actually hash to it, and atomically writes it to dest
// (spec.md §4.5.5: "verify computed digest matches requested; ... fails on
// digest mismatch or not-found").
func (r *Repository) FetchPayload(pub string, compressedDigest string, dest string) error {
	candidates := []string{r.paths.filePath(pub, compressedDigest), r.paths.legacyFilePath(compressedDigest)}
	for _, path := range candidates {
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		computed := ipsdigest.FromBytes(data, ipsdigest.SHA256, ipsdigest.SourceGzip)
		if computed.Hex != compressedDigest {
			return ipserr.New(ipserr.ErrDigestMismatch, fmt.Sprintf("payload %s: stored content hashes to %s", compressedDigest, computed.Hex), nil)
		}
		return atomicWrite(dest, data, 0o644)
	}
	return ipserr.New(ipserr.ErrNotFound, "payload "+compressedDigest, nil)
}
