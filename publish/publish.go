// Package publish implements the high-level build/publish and inter-repo
// copy façades (spec.md §4.10): PublisherClient walks a prototype directory
// into a manifest and commits it through a repository Transaction;
// PackageReceiver copies resolved packages from one repository to another.
package publish

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"

	ipsdigest "github.com/OpenFlowLabs/ipstoolkit/digest"
	"github.com/OpenFlowLabs/ipstoolkit/fmri"
	"github.com/OpenFlowLabs/ipstoolkit/ipserr"
	"github.com/OpenFlowLabs/ipstoolkit/ipslog"
	"github.com/OpenFlowLabs/ipstoolkit/manifest"
	"github.com/OpenFlowLabs/ipstoolkit/repository"
	"github.com/OpenFlowLabs/ipstoolkit/transform"
)

// PublisherClient builds a package from a prototype directory and commits
// it to a repository (spec.md §4.10's PublisherClient).
type PublisherClient struct {
	Repo      *repository.Repository
	Publisher string
	Rules     []*transform.Rule
	Algo      ipsdigest.CompressionAlgorithm
}

// Open returns a PublisherClient bound to repo/publisher. If rulesPath is
// non-empty, its transform rules (spec.md §4.4 grammar) are loaded and
// applied to every built manifest before commit.
func Open(repo *repository.Repository, publisher string, rulesPath string) (*PublisherClient, error) {
	pc := &PublisherClient{Repo: repo, Publisher: publisher, Algo: ipsdigest.Gzip}
	if rulesPath == "" {
		return pc, nil
	}
	text, err := os.ReadFile(rulesPath)
	if err != nil {
		return nil, ipserr.New(ipserr.ErrIO, "reading transform rules "+rulesPath, err)
	}
	rules, err := transform.ParseRules(string(text))
	if err != nil {
		return nil, err
	}
	pc.Rules = rules
	return pc, nil
}

// PublishPrototype walks protoDir, builds a File-only manifest with paths
// relative to protoDir, sets pkgFmri as the package's identity, applies
// any loaded transform rules, and commits through a Transaction. It does
// not rebuild the publisher's catalog or search index.
func (pc *PublisherClient) PublishPrototype(ctx context.Context, protoDir, pkgFmri string) error {
	if _, err := fmri.Parse(pkgFmri); err != nil {
		return err
	}

	m := manifest.New()
	m.SetAttr("pkg.fmri", pkgFmri)

	var relPaths []string
	walkErr := filepath.Walk(protoDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(protoDir, path)
		if err != nil {
			return err
		}
		relPaths = append(relPaths, rel)
		return nil
	})
	if walkErr != nil {
		return ipserr.New(ipserr.ErrIO, "walking prototype dir "+protoDir, walkErr)
	}
	sort.Strings(relPaths)

	tx, err := pc.Repo.BeginTransaction(ctx, pc.Publisher)
	if err != nil {
		return err
	}

	for _, rel := range relPaths {
		action := manifest.File{Path: filepath.ToSlash(rel), Mode: "0644"}
		if _, err := tx.AddFile(action, filepath.Join(protoDir, rel), pc.Algo); err != nil {
			tx.Discard()
			return err
		}
	}
	tx.UpdateManifest(m)

	if len(pc.Rules) > 0 {
		if err := transform.Apply(tx.Manifest(), pc.Rules); err != nil {
			tx.Discard()
			return err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return err
	}

	ipslog.GetLoggerWithField(ctx, "fmri", pkgFmri).Info("published package")
	return nil
}

// PackageReceiver copies resolved packages from a source repository into a
// destination repository (spec.md §4.10's PackageReceiver).
type PackageReceiver struct {
	Source           *repository.Repository
	Dest             *repository.Repository
	DefaultPublisher string
	Recursive        bool
}

// Receive drains a work queue seeded with fmris, resolving version-less
// FMRIs to the newest (string-compared) match in Source, copying each
// resolved package's manifest and payloads into Dest, optionally enqueueing
// dependencies, then rebuilding Dest's catalog once per touched publisher.
func (pr *PackageReceiver) Receive(ctx context.Context, fmris []string, rebuild func(pub string) error) error {
	queue := append([]string(nil), fmris...)
	queued := map[string]bool{}
	for _, f := range queue {
		queued[f] = true
	}
	processed := map[string]bool{}
	touched := map[string]bool{}

	for len(queue) > 0 {
		f := queue[0]
		queue = queue[1:]
		if processed[f] {
			continue
		}

		resolved, err := pr.resolveFmri(f)
		if err != nil {
			return err
		}
		if processed[resolved.String()] {
			continue
		}

		pub := resolved.Publisher
		if pub == "" {
			pub = pr.DefaultPublisher
		}

		text, m, err := pr.fetchManifest(pub, resolved.String())
		if err != nil {
			return err
		}

		if !pr.Dest.HasPublisher(pub) {
			if err := pr.Dest.AddPublisher(ctx, pub); err != nil {
				return err
			}
		}

		tx, err := pr.Dest.BeginTransaction(ctx, pub)
		if err != nil {
			return err
		}
		tx.SetPublisher(pub)
		tx.SetLegacyText(text)

		for _, fileAction := range m.Files {
			if fileAction.Digest == nil {
				continue
			}
			tmp, err := os.CreateTemp("", "ipsrecv-*")
			if err != nil {
				tx.Discard()
				return ipserr.New(ipserr.ErrIO, "creating temp payload file", err)
			}
			tmpPath := tmp.Name()
			tmp.Close()

			compressedHex := ""
			if len(fileAction.ContentHashes) > 0 {
				compressedHex = fileAction.ContentHashes[0].Hex
			}
			if compressedHex != "" {
				if err := pr.Source.FetchPayload(pub, compressedHex, tmpPath); err != nil {
					os.Remove(tmpPath)
					tx.Discard()
					return err
				}
			}

			if _, err := tx.AddFile(manifest.File{Path: fileAction.Path, Mode: fileAction.Mode}, tmpPath, ipsdigest.Gzip); err != nil {
				os.Remove(tmpPath)
				tx.Discard()
				return err
			}
			os.Remove(tmpPath)
		}
		tx.UpdateManifest(withoutFiles(m))

		if err := tx.Commit(ctx); err != nil {
			return err
		}
		touched[pub] = true
		processed[resolved.String()] = true
		ipslog.GetLoggerWithField(ctx, "fmri", resolved.String()).Info("received package")

		if pr.Recursive {
			for _, dep := range m.Dependencies {
				if dep.Type != "require" || dep.Fmri == "" {
					continue
				}
				if !queued[dep.Fmri] {
					queued[dep.Fmri] = true
					queue = append(queue, dep.Fmri)
				}
			}
		}
	}

	for pub := range touched {
		if rebuild != nil {
			if err := rebuild(pub); err != nil {
				return err
			}
		}
	}
	return nil
}

// resolveFmri resolves a version-less FMRI to the newest (string-compared)
// matching package in the source repository; a fully-versioned FMRI passes
// through unchanged.
func (pr *PackageReceiver) resolveFmri(f string) (*fmri.Fmri, error) {
	parsed, err := fmri.Parse(f)
	if err != nil {
		return nil, err
	}
	if parsed.Version != nil {
		return parsed, nil
	}

	pub := parsed.Publisher
	if pub == "" {
		pub = pr.DefaultPublisher
	}
	pkgs, err := pr.Source.ListPackages(pub, "^"+escapeRegex(parsed.Stem)+"$")
	if err != nil {
		return nil, err
	}
	if len(pkgs) == 0 {
		return nil, ipserr.New(ipserr.ErrNotFound, "no candidates for "+f, nil)
	}
	best := pkgs[0]
	for _, p := range pkgs[1:] {
		if (pub + "/" + p.Stem + "@" + p.Version) > (pub + "/" + best.Stem + "@" + best.Version) {
			best = p
		}
	}
	return fmri.Parse("pkg://" + best.Publisher + "/" + best.Stem + "@" + best.Version)
}

func (pr *PackageReceiver) fetchManifest(pub, fmriStr string) (string, *manifest.Manifest, error) {
	m, err := pr.Source.FetchManifest(pub, fmriStr)
	if err != nil {
		return "", nil, err
	}
	return m.ToText(), m, nil
}

func withoutFiles(m *manifest.Manifest) *manifest.Manifest {
	clone := m.Clone()
	clone.Files = nil
	return clone
}

func escapeRegex(s string) string {
	special := ".+*?()|[]{}^$\\"
	var b strings.Builder
	for _, r := range s {
		if strings.ContainsRune(special, r) {
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}
