// Package obsoleted implements the repository's obsoleted-package manager
// (spec.md §4.11): packages marked obsolete are retained - metadata and
// manifest text both - under `<repo>/obsoleted/<pub>/<stem>/<enc-ver>.*`,
// content-addressed so identical obsolete manifests are stored once, with
// an embedded go.etcd.io/bbolt index (shared choice with image/'s catalog)
// accelerating lookup/list/search over a filesystem-scan fallback.
package obsoleted

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/OpenFlowLabs/ipstoolkit/ipserr"
	"github.com/OpenFlowLabs/ipstoolkit/manifest"
	"github.com/OpenFlowLabs/ipstoolkit/repository"
)

const metadataVersion = 1

var (
	fmriIndexBucket = []byte("fmri_index")
	contentBucket   = []byte("content")
)

// Metadata describes one obsoleted package version (spec.md §4.11 store).
type Metadata struct {
	Fmri               string   `json:"fmri"`
	Status             string   `json:"status"`
	ObsolescenceDate   string   `json:"obsolescence_date"`
	DeprecationMessage string   `json:"deprecation_message,omitempty"`
	ObsoletedBy        []string `json:"obsoleted_by,omitempty"`
	MetadataVersion    int      `json:"metadata_version"`
	ContentHash        string   `json:"content_hash"`
}

type contentRecord struct {
	Metadata     Metadata `json:"metadata"`
	ManifestText string   `json:"manifest_text"`
}

// Store manages the obsoleted-package state for one repository.
type Store struct {
	root string
	db   *bolt.DB

	mu         sync.RWMutex
	dirty      bool
	lastAccess time.Time
}

// Open opens (creating if absent) the obsoleted-package index for repo.
func Open(repo *repository.Repository) (*Store, error) {
	root := filepath.Join(repo.Root(), "obsoleted")
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, ipserr.New(ipserr.ErrIO, "creating obsoleted dir", err)
	}
	db, err := bolt.Open(filepath.Join(root, "index.db"), 0o644, nil)
	if err != nil {
		return nil, ipserr.New(ipserr.ErrCatalogDatabase, "opening obsoleted index", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		for _, b := range [][]byte{fmriIndexBucket, contentBucket} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, ipserr.New(ipserr.ErrCatalogDatabase, "initializing obsoleted index tables", err)
	}
	return &Store{root: root, db: db, dirty: true}, nil
}

// Close releases the underlying index file.
func (s *Store) Close() error { return s.db.Close() }

func contentHash(manifestText string) string {
	sum := sha256.Sum256([]byte(manifestText))
	return fmt.Sprintf("sha256-%x", sum)
}

func fmriKey(pub, fmriStr string) string { return pub + "/" + fmriStr }

func (s *Store) pkgDir(pub, stem string) string {
	return filepath.Join(s.root, pub, repository.EncodeSegment(stem))
}

func (s *Store) jsonPath(pub, stem, version string) string {
	return filepath.Join(s.pkgDir(pub, stem), repository.EncodeSegment(version)+".json")
}

func (s *Store) manifestPath(pub, stem, version string) string {
	return filepath.Join(s.pkgDir(pub, stem), repository.EncodeSegment(version)+".manifest")
}

// Store records pub/fmriStr as obsolete, persisting both the manifest text
// and derived metadata to the filesystem and the embedded index
// (spec.md §4.11 store).
func (s *Store) Store(pub, fmriStr, manifestText string, obsoletedBy []string, deprecationMessage string) error {
	stem, version, err := splitFmri(fmriStr)
	if err != nil {
		return err
	}

	hash := contentHash(manifestText)
	meta := Metadata{
		Fmri:               fmriStr,
		Status:             "obsolete",
		ObsolescenceDate:   time.Now().UTC().Format(time.RFC3339),
		DeprecationMessage: deprecationMessage,
		ObsoletedBy:        obsoletedBy,
		MetadataVersion:    metadataVersion,
		ContentHash:        hash,
	}

	if err := os.MkdirAll(s.pkgDir(pub, stem), 0o755); err != nil {
		return ipserr.New(ipserr.ErrIO, "creating obsoleted package dir", err)
	}
	metaBytes, err := json.Marshal(meta)
	if err != nil {
		return ipserr.New(ipserr.ErrJSONEncode, "encoding obsoleted metadata", err)
	}
	if err := os.WriteFile(s.jsonPath(pub, stem, version), metaBytes, 0o644); err != nil {
		return ipserr.New(ipserr.ErrIO, "writing obsoleted metadata", err)
	}
	if err := os.WriteFile(s.manifestPath(pub, stem, version), []byte(manifestText), 0o644); err != nil {
		return ipserr.New(ipserr.ErrIO, "writing obsoleted manifest", err)
	}

	if err := s.withIndex(func(tx *bolt.Tx) error {
		rec := contentRecord{Metadata: meta, ManifestText: manifestText}
		recBytes, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		if err := tx.Bucket(contentBucket).Put([]byte(hash), recBytes); err != nil {
			return err
		}
		return tx.Bucket(fmriIndexBucket).Put([]byte(fmriKey(pub, fmriStr)), []byte(hash))
	}); err != nil {
		s.markDirty()
	}
	return nil
}

// IsObsoleted reports whether pub/fmriStr is recorded as obsolete.
func (s *Store) IsObsoleted(pub, fmriStr string) (bool, error) {
	if err := s.ensureFresh(); err != nil {
		return false, err
	}
	hash, err := s.lookupHash(pub, fmriStr)
	if err != nil {
		return false, err
	}
	return hash != "", nil
}

// GetMetadata returns the stored metadata for pub/fmriStr.
func (s *Store) GetMetadata(pub, fmriStr string) (*Metadata, error) {
	rec, err := s.getRecord(pub, fmriStr)
	if err != nil {
		return nil, err
	}
	meta := rec.Metadata
	return &meta, nil
}

// GetManifest parses and returns the stored manifest text for pub/fmriStr.
func (s *Store) GetManifest(pub, fmriStr string) (*manifest.Manifest, error) {
	rec, err := s.getRecord(pub, fmriStr)
	if err != nil {
		return nil, err
	}
	return manifest.ParseString(rec.ManifestText, manifest.ParseOptions{})
}

// Remove deletes pub/fmriStr's obsoleted record from both the filesystem
// and the index.
func (s *Store) Remove(pub, fmriStr string) error {
	stem, version, err := splitFmri(fmriStr)
	if err != nil {
		return err
	}
	if err := os.Remove(s.jsonPath(pub, stem, version)); err != nil && !os.IsNotExist(err) {
		return ipserr.New(ipserr.ErrIO, "removing obsoleted metadata", err)
	}
	if err := os.Remove(s.manifestPath(pub, stem, version)); err != nil && !os.IsNotExist(err) {
		return ipserr.New(ipserr.ErrIO, "removing obsoleted manifest", err)
	}
	if err := s.withIndex(func(tx *bolt.Tx) error {
		return tx.Bucket(fmriIndexBucket).Delete([]byte(fmriKey(pub, fmriStr)))
	}); err != nil {
		s.markDirty()
	}
	return nil
}

// GetAndRemove atomically retrieves and removes pub/fmriStr's record.
func (s *Store) GetAndRemove(pub, fmriStr string) (*Metadata, *manifest.Manifest, error) {
	meta, err := s.GetMetadata(pub, fmriStr)
	if err != nil {
		return nil, nil, err
	}
	m, err := s.GetManifest(pub, fmriStr)
	if err != nil {
		return nil, nil, err
	}
	if err := s.Remove(pub, fmriStr); err != nil {
		return nil, nil, err
	}
	return meta, m, nil
}

// ListPaginated returns a stable slice of pub's obsoleted metadata, sorted
// by (stem, version), page-indexed from 0.
func (s *Store) ListPaginated(pub string, page, pageSize int) ([]Metadata, error) {
	all, err := s.listAll(pub)
	if err != nil {
		return nil, err
	}
	start := page * pageSize
	if start >= len(all) {
		return nil, nil
	}
	end := start + pageSize
	if end > len(all) {
		end = len(all)
	}
	return all[start:end], nil
}

// Search matches pub's obsoleted metadata against pattern, treated as a
// regex; a pattern consisting only of digits and dots is matched literally
// (dots are not wildcards) against the version component only (spec.md
// §4.11 search).
func (s *Store) Search(pub, pattern string) ([]Metadata, error) {
	all, err := s.listAll(pub)
	if err != nil {
		return nil, err
	}
	versionOnly := isVersionPattern(pattern)
	if versionOnly {
		pattern = regexp.QuoteMeta(pattern)
	}

	re, err := regexp.Compile(pattern)
	useRegex := err == nil
	var out []Metadata
	for _, m := range all {
		_, stem, version := splitFmriKeyFields(m.Fmri)
		target := stem + "@" + version
		if versionOnly {
			target = version
		}
		var matched bool
		if useRegex {
			matched = re.MatchString(target)
		} else {
			matched = strings.Contains(target, pattern)
		}
		if matched {
			out = append(out, m)
		}
	}
	return out, nil
}

// ExportBundle is the JSON envelope produced by Export and consumed by
// Import (spec.md §4.11 export/import).
type ExportBundle struct {
	Version    int            `json:"version"`
	ExportDate string         `json:"export_date"`
	Packages   []ExportRecord `json:"packages"`
}

// ExportRecord is one obsoleted package within an ExportBundle.
type ExportRecord struct {
	Publisher string   `json:"publisher"`
	Fmri      string   `json:"fmri"`
	Metadata  Metadata `json:"metadata"`
	Manifest  string   `json:"manifest"`
}

// Export builds a bundle of pub's obsoleted packages, optionally filtered
// by pattern (Search semantics); empty pattern exports everything.
func (s *Store) Export(pub, pattern string) (*ExportBundle, error) {
	var metas []Metadata
	var err error
	if pattern == "" {
		metas, err = s.listAll(pub)
	} else {
		metas, err = s.Search(pub, pattern)
	}
	if err != nil {
		return nil, err
	}

	bundle := &ExportBundle{Version: metadataVersion, ExportDate: time.Now().UTC().Format(time.RFC3339)}
	for _, meta := range metas {
		rec, err := s.recordByHash(meta.ContentHash)
		if err != nil {
			return nil, err
		}
		bundle.Packages = append(bundle.Packages, ExportRecord{
			Publisher: pub,
			Fmri:      meta.Fmri,
			Metadata:  meta,
			Manifest:  rec.ManifestText,
		})
	}
	return bundle, nil
}

// Import replays an ExportBundle's packages into the store. When
// overridePub is non-empty every record is stored under it instead of its
// own Publisher field.
func (s *Store) Import(bundle *ExportBundle, overridePub string) error {
	for _, rec := range bundle.Packages {
		pub := rec.Publisher
		if overridePub != "" {
			pub = overridePub
		}
		if err := s.Store(pub, rec.Fmri, rec.Manifest, rec.Metadata.ObsoletedBy, rec.Metadata.DeprecationMessage); err != nil {
			return err
		}
	}
	return nil
}

// BatchProcess applies fn to fmris in chunks of batchSize (a batchSize <=
// 0 means "all at once"), per spec.md §4.11 batch_process.
func (s *Store) BatchProcess(fmris []string, batchSize int, fn func(fmriStr string) error) error {
	if batchSize <= 0 {
		batchSize = len(fmris)
	}
	for start := 0; start < len(fmris); start += batchSize {
		end := start + batchSize
		if end > len(fmris) {
			end = len(fmris)
		}
		for _, f := range fmris[start:end] {
			if err := fn(f); err != nil {
				return err
			}
		}
	}
	return nil
}

func (s *Store) listAll(pub string) ([]Metadata, error) {
	if err := s.ensureFresh(); err != nil {
		return nil, err
	}
	prefix := pub + "/"
	var out []Metadata
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(fmriIndexBucket).Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			if !strings.HasPrefix(string(k), prefix) {
				continue
			}
			rec, err := s.decodeRecord(tx, v)
			if err != nil {
				return err
			}
			out = append(out, rec.Metadata)
		}
		return nil
	})
	if err != nil {
		return nil, ipserr.New(ipserr.ErrCatalogDatabase, "listing obsoleted packages for "+pub, err)
	}
	sort.Slice(out, func(i, j int) bool {
		_, stemI, verI := splitFmriKeyFields(out[i].Fmri)
		_, stemJ, verJ := splitFmriKeyFields(out[j].Fmri)
		if stemI != stemJ {
			return stemI < stemJ
		}
		return verI < verJ
	})
	return out, nil
}

func (s *Store) lookupHash(pub, fmriStr string) (string, error) {
	var hash string
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(fmriIndexBucket).Get([]byte(fmriKey(pub, fmriStr)))
		if v != nil {
			hash = string(v)
		}
		return nil
	})
	if err != nil {
		return "", ipserr.New(ipserr.ErrCatalogDatabase, "looking up "+fmriStr, err)
	}
	return hash, nil
}

func (s *Store) getRecord(pub, fmriStr string) (*contentRecord, error) {
	if err := s.ensureFresh(); err != nil {
		return nil, err
	}
	hash, err := s.lookupHash(pub, fmriStr)
	if err != nil {
		return nil, err
	}
	if hash == "" {
		return nil, ipserr.New(ipserr.ErrNotFound, "obsoleted record for "+fmriStr, nil)
	}
	return s.recordByHash(hash)
}

func (s *Store) recordByHash(hash string) (*contentRecord, error) {
	var rec *contentRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(contentBucket).Get([]byte(hash))
		if v == nil {
			return nil
		}
		decoded, err := decodeContentRecord(v)
		if err != nil {
			return err
		}
		rec = decoded
		return nil
	})
	if err != nil {
		return nil, ipserr.New(ipserr.ErrCatalogDatabase, "reading content record "+hash, err)
	}
	if rec == nil {
		return nil, ipserr.New(ipserr.ErrNotFound, "content record "+hash, nil)
	}
	return rec, nil
}

func (s *Store) decodeRecord(tx *bolt.Tx, hash []byte) (*contentRecord, error) {
	v := tx.Bucket(contentBucket).Get(hash)
	if v == nil {
		return nil, ipserr.New(ipserr.ErrNotFound, "content record "+string(hash), nil)
	}
	return decodeContentRecord(v)
}

func decodeContentRecord(data []byte) (*contentRecord, error) {
	var rec contentRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, ipserr.New(ipserr.ErrJSONDecode, "decoding obsoleted content record", err)
	}
	return &rec, nil
}

// withIndex runs fn in a write transaction, tracking last-write time on
// success.
func (s *Store) withIndex(fn func(tx *bolt.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	err := s.db.Update(fn)
	if err == nil {
		s.lastAccess = time.Now()
	}
	return err
}

func (s *Store) markDirty() {
	s.mu.Lock()
	s.dirty = true
	s.mu.Unlock()
}

// ensureFresh rebuilds the index from the filesystem if a prior write
// couldn't acquire it (spec.md §4.11 "index staleness": "If the index
// cannot be acquired for write, a full rebuild is scheduled on next
// access").
func (s *Store) ensureFresh() error {
	s.mu.Lock()
	dirty := s.dirty
	s.mu.Unlock()
	if !dirty {
		return nil
	}
	if err := s.rebuildIndex(); err != nil {
		return err
	}
	s.mu.Lock()
	s.dirty = false
	s.lastAccess = time.Now()
	s.mu.Unlock()
	return nil
}

// rebuildIndex rescans the obsoleted/ tree on disk and repopulates the
// embedded index from scratch.
func (s *Store) rebuildIndex() error {
	pubDirs, err := os.ReadDir(s.root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return ipserr.New(ipserr.ErrIO, "scanning obsoleted root", err)
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		fb := tx.Bucket(fmriIndexBucket)
		cb := tx.Bucket(contentBucket)
		for _, pubEntry := range pubDirs {
			if !pubEntry.IsDir() {
				continue
			}
			pub := pubEntry.Name()
			stemDirs, err := os.ReadDir(filepath.Join(s.root, pub))
			if err != nil {
				continue
			}
			for _, stemEntry := range stemDirs {
				if !stemEntry.IsDir() {
					continue
				}
				stem := repository.DecodeSegment(stemEntry.Name())
				versionFiles, err := os.ReadDir(filepath.Join(s.root, pub, stemEntry.Name()))
				if err != nil {
					continue
				}
				for _, vf := range versionFiles {
					if !strings.HasSuffix(vf.Name(), ".json") {
						continue
					}
					version := repository.DecodeSegment(strings.TrimSuffix(vf.Name(), ".json"))
					metaBytes, err := os.ReadFile(filepath.Join(s.root, pub, stemEntry.Name(), vf.Name()))
					if err != nil {
						continue
					}
					var meta Metadata
					if err := json.Unmarshal(metaBytes, &meta); err != nil {
						continue
					}
					manifestBytes, err := os.ReadFile(s.manifestPath(pub, stem, version))
					if err != nil {
						continue
					}
					rec := contentRecord{Metadata: meta, ManifestText: string(manifestBytes)}
					recBytes, err := json.Marshal(rec)
					if err != nil {
						continue
					}
					if err := cb.Put([]byte(meta.ContentHash), recBytes); err != nil {
						return err
					}
					if err := fb.Put([]byte(fmriKey(pub, meta.Fmri)), []byte(meta.ContentHash)); err != nil {
						return err
					}
				}
			}
		}
		return nil
	})
}

func splitFmri(fmriStr string) (stem, version string, err error) {
	idx := strings.Index(fmriStr, "@")
	if idx < 0 {
		return "", "", ipserr.New(ipserr.ErrManifestParse, "fmri missing version: "+fmriStr, nil)
	}
	return fmriStr[:idx], fmriStr[idx+1:], nil
}

// splitFmriKeyFields is a tolerant variant of splitFmri used for sort/search
// keys, never failing on a malformed fmri.
func splitFmriKeyFields(fmriStr string) (publisher, stem, version string) {
	stem, version, err := splitFmri(fmriStr)
	if err != nil {
		return "", fmriStr, ""
	}
	return "", stem, version
}

func isVersionPattern(pattern string) bool {
	if pattern == "" {
		return false
	}
	for _, r := range pattern {
		if !(r >= '0' && r <= '9') && r != '.' {
			return false
		}
	}
	return true
}
