// Package image implements the per-image catalog and obsolete index
// (spec.md §4.6): an embedded KV database tracking which package versions
// are known (catalog), installed, obsoleted, or incorporated (pinned) for
// one image. Grounded on spec.md §4.6's table semantics and the original
// Rust implementation's image/catalog.rs and image/installed.rs method
// signatures (init_db/build_catalog/query_packages/get_manifest/
// add_package/remove_package/is_installed), using go.etcd.io/bbolt in
// place of the original's redb.
package image

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/pierrec/lz4/v4"
	bolt "go.etcd.io/bbolt"

	"github.com/OpenFlowLabs/ipstoolkit/fmri"
	"github.com/OpenFlowLabs/ipstoolkit/ipserr"
	"github.com/OpenFlowLabs/ipstoolkit/ipslog"
	"github.com/OpenFlowLabs/ipstoolkit/manifest"
	"github.com/OpenFlowLabs/ipstoolkit/repository"
)

var (
	catalogBucket     = []byte("catalog")
	obsoletedBucket   = []byte("obsoleted")
	installedBucket   = []byte("installed")
	incorporateBucket = []byte("incorporate")
)

// lz4FrameMagic is the standard LZ4 frame header, used as the "readers
// must detect" compression marker spec.md §4.6 requires for catalog
// values.
var lz4FrameMagic = []byte{0x04, 0x22, 0x4D, 0x18}

// Image is an open handle onto one image's catalog database.
type Image struct {
	db   *bolt.DB
	path string
}

// Open creates (if absent) and opens the image database at path, ensuring
// all four tables exist.
func Open(ctx context.Context, path string) (*Image, error) {
	db, err := bolt.Open(path, 0o644, nil)
	if err != nil {
		return nil, ipserr.New(ipserr.ErrCatalogDatabase, "opening image database "+path, err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		for _, b := range [][]byte{catalogBucket, obsoletedBucket, installedBucket, incorporateBucket} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, ipserr.New(ipserr.ErrCatalogDatabase, "initializing image database tables", err)
	}
	ipslog.GetLogger(ctx).Debugf("opened image database at %s", path)
	return &Image{db: db, path: path}, nil
}

// Close releases the underlying database file.
func (img *Image) Close() error {
	return img.db.Close()
}

// catalogKey embeds the publisher ahead of stem@version. spec.md §4.6's
// literal schema reads "catalog : stem@version -> manifest-bytes", but the
// same paragraph also requires query results to carry a "publisher"
// decoration, and the original image/catalog.rs keys both its catalog and
// obsoleted tables on the full FMRI (with publisher) for exactly that
// reason - a bare stem@version key would silently collapse same-version
// packages offered by two different publishers. Publisher never contains
// "/", so splitting on the first "/" unambiguously recovers it even though
// stem itself is slash-separated.
func catalogKey(pub, stem, version string) string { return pub + "/" + stem + "@" + version }

func splitCatalogKey(key string) (pub, stem, version string) {
	pub, rest, ok := strings.Cut(key, "/")
	if !ok {
		return "", key, ""
	}
	stem, version, ok = strings.Cut(rest, "@")
	if !ok {
		return pub, rest, ""
	}
	return pub, stem, version
}

func encodeManifest(m *manifest.Manifest, compress bool) ([]byte, error) {
	data, err := m.ToJSON()
	if err != nil {
		return nil, err
	}
	if !compress {
		return data, nil
	}
	var buf bytes.Buffer
	w := lz4.NewWriter(&buf)
	if _, err := w.Write(data); err != nil {
		return nil, ipserr.New(ipserr.ErrCatalogDatabase, "lz4-compressing manifest", err)
	}
	if err := w.Close(); err != nil {
		return nil, ipserr.New(ipserr.ErrCatalogDatabase, "closing lz4 writer", err)
	}
	return buf.Bytes(), nil
}

func decodeManifest(data []byte) (*manifest.Manifest, error) {
	if len(data) >= 4 && bytes.Equal(data[:4], lz4FrameMagic) {
		r := lz4.NewReader(bytes.NewReader(data))
		var buf bytes.Buffer
		if _, err := buf.ReadFrom(r); err != nil {
			return nil, ipserr.New(ipserr.ErrCatalogDatabase, "lz4-decompressing manifest", err)
		}
		data = buf.Bytes()
	}
	return manifest.ParseString(string(data), manifest.ParseOptions{})
}

// BuildCatalog reads each publisher's available package versions from repo
// and partitions them into the catalog and obsoleted tables by the
// presence of pkg.obsolete=true (spec.md §4.6).
func (img *Image) BuildCatalog(ctx context.Context, repo *repository.Repository, publishers []string) error {
	type entry struct {
		pub      string
		stem     string
		version  string
		fmriStr  string
		m        *manifest.Manifest
		obsolete bool
	}

	var entries []entry
	for _, pub := range publishers {
		pkgs, err := repo.ListPackages(pub, "")
		if err != nil {
			return err
		}
		for _, pi := range pkgs {
			m, err := repo.FetchManifest(pub, pi.Stem+"@"+pi.Version)
			if err != nil {
				continue
			}
			entries = append(entries, entry{
				pub:      pub,
				stem:     pi.Stem,
				version:  pi.Version,
				fmriStr:  pub + "/" + pi.Stem + "@" + pi.Version,
				m:        m,
				obsolete: m.IsObsolete(),
			})
		}
	}

	err := img.db.Update(func(tx *bolt.Tx) error {
		catalog := tx.Bucket(catalogBucket)
		obsoleted := tx.Bucket(obsoletedBucket)
		for _, e := range entries {
			if e.obsolete {
				if err := obsoleted.Put([]byte(e.fmriStr), []byte{}); err != nil {
					return err
				}
				continue
			}
			data, err := encodeManifest(e.m, false)
			if err != nil {
				return err
			}
			if err := catalog.Put([]byte(catalogKey(e.pub, e.stem, e.version)), data); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return ipserr.New(ipserr.ErrCatalogDatabase, "building catalog", err)
	}
	ipslog.GetLoggerWithField(ctx, "count", len(entries)).Info("built image catalog")
	return nil
}

// QueryPackages lists catalog entries, optionally filtered by a stem
// substring, decorated with obsolete/publisher per spec.md §4.6.
func (img *Image) QueryPackages(pattern string) ([]repository.PackageInfo, error) {
	var out []repository.PackageInfo
	err := img.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(catalogBucket).Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			pub, stem, version := splitCatalogKey(string(k))
			if pattern != "" && !strings.Contains(stem, pattern) {
				continue
			}
			m, err := decodeManifest(v)
			if err != nil {
				return err
			}
			out = append(out, repository.PackageInfo{
				Publisher: pub,
				Stem:      stem,
				Version:   version,
				Obsolete:  m.IsObsolete(),
			})
		}
		return nil
	})
	if err != nil {
		return nil, ipserr.New(ipserr.ErrCatalogDatabase, "querying catalog", err)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Stem != out[j].Stem {
			return out[i].Stem < out[j].Stem
		}
		return out[i].Version < out[j].Version
	})
	return out, nil
}

// GetManifest returns the catalog manifest for stem@version published by pub.
func (img *Image) GetManifest(pub, stem, version string) (*manifest.Manifest, error) {
	var m *manifest.Manifest
	err := img.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(catalogBucket).Get([]byte(catalogKey(pub, stem, version)))
		if v == nil {
			return ipserr.New(ipserr.ErrNotFound, fmt.Sprintf("%s/%s@%s not in catalog", pub, stem, version), nil)
		}
		decoded, err := decodeManifest(v)
		if err != nil {
			return err
		}
		m = decoded
		return nil
	})
	return m, err
}

// CatalogEntry is one non-obsoleted candidate for a package stem, as seen
// by the solver's candidate-pool construction (spec.md §4.8.1).
type CatalogEntry struct {
	Fmri     *fmri.Fmri
	Manifest *manifest.Manifest
}

// CandidatesForStem scans the catalog table for every publisher's entry of
// stem, parsing the stem and version from each entry's catalog key into a
// full FMRI with the publisher the entry was filed under. Obsoleted versions are
// excluded by construction: BuildCatalog never puts them in this table.
func (img *Image) CandidatesForStem(stem string) ([]CatalogEntry, error) {
	var out []CatalogEntry
	err := img.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(catalogBucket).Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			pub, entryStem, version := splitCatalogKey(string(k))
			if entryStem != stem {
				continue
			}
			m, err := decodeManifest(v)
			if err != nil {
				return err
			}
			f, err := fmri.Parse(stem + "@" + version)
			if err != nil {
				return err
			}
			f.Publisher = pub
			out = append(out, CatalogEntry{Fmri: f, Manifest: m})
		}
		return nil
	})
	if err != nil {
		return nil, ipserr.New(ipserr.ErrCatalogDatabase, "querying candidates for "+stem, err)
	}
	return out, nil
}

// IsObsoleted reports whether fmriStr is present in the obsoleted table.
func (img *Image) IsObsoleted(fmriStr string) (bool, error) {
	var present bool
	err := img.db.View(func(tx *bolt.Tx) error {
		present = tx.Bucket(obsoletedBucket).Get([]byte(fmriStr)) != nil
		return nil
	})
	return present, err
}

// IsInstalled reports whether fmriStr is present in the installed table.
func (img *Image) IsInstalled(fmriStr string) (bool, error) {
	var present bool
	err := img.db.View(func(tx *bolt.Tx) error {
		present = tx.Bucket(installedBucket).Get([]byte(fmriStr)) != nil
		return nil
	})
	return present, err
}

// AddInstalled records fmriStr as installed with its manifest.
func (img *Image) AddInstalled(fmriStr string, m *manifest.Manifest) error {
	data, err := encodeManifest(m, false)
	if err != nil {
		return err
	}
	err = img.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(installedBucket).Put([]byte(fmriStr), data)
	})
	if err != nil {
		return ipserr.New(ipserr.ErrCatalogDatabase, "recording installed package "+fmriStr, err)
	}
	return nil
}

// RemoveInstalled deletes fmriStr from the installed table.
func (img *Image) RemoveInstalled(fmriStr string) error {
	err := img.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(installedBucket).Delete([]byte(fmriStr))
	})
	if err != nil {
		return ipserr.New(ipserr.ErrCatalogDatabase, "removing installed package "+fmriStr, err)
	}
	return nil
}

// ListInstalled returns every installed FMRI string.
func (img *Image) ListInstalled() ([]string, error) {
	var out []string
	err := img.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(installedBucket).Cursor()
		for k, _ := c.First(); k != nil; k, _ = c.Next() {
			out = append(out, string(k))
		}
		return nil
	})
	if err != nil {
		return nil, ipserr.New(ipserr.ErrCatalogDatabase, "listing installed packages", err)
	}
	sort.Strings(out)
	return out, nil
}

// Incorporate pins stem to version in the incorporate table.
func (img *Image) Incorporate(stem, version string) error {
	err := img.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(incorporateBucket).Put([]byte(stem), []byte(version))
	})
	if err != nil {
		return ipserr.New(ipserr.ErrCatalogDatabase, "incorporating "+stem, err)
	}
	return nil
}

// Incorporation returns stem's pinned version, if any.
func (img *Image) Incorporation(stem string) (string, bool, error) {
	var version string
	var ok bool
	err := img.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(incorporateBucket).Get([]byte(stem))
		if v != nil {
			version = string(v)
			ok = true
		}
		return nil
	})
	return version, ok, err
}
