package repository

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/pierrec/lz4/v4"

	ipsdigest "github.com/OpenFlowLabs/ipstoolkit/digest"
	"github.com/OpenFlowLabs/ipstoolkit/fmri"
	"github.com/OpenFlowLabs/ipstoolkit/ipserr"
	"github.com/OpenFlowLabs/ipstoolkit/ipslog"
	"github.com/OpenFlowLabs/ipstoolkit/manifest"
)

// pendingFile records one payload staged for copy-on-commit (spec.md
// §4.5.2 step 4: "Record the pair (scratch_path, compressed_hash)").
type pendingFile struct {
	scratchPath    string
	compressedHash string
}

// Transaction is a scratch directory staging one publish operation,
// committed atomically (spec.md §4.5.2).
type Transaction struct {
	repo       *Repository
	id         string
	publisher  string
	manifest   *manifest.Manifest
	pending    []pendingFile
	legacyText string
}

// BeginTransaction allocates a unique, timestamp-derived transaction ID and
// scratch directory.
func (r *Repository) BeginTransaction(ctx context.Context, publisher string) (*Transaction, error) {
	id := fmt.Sprintf("%d", time.Now().UnixNano())
	tx := &Transaction{repo: r, id: id, publisher: publisher, manifest: manifest.New()}
	if err := os.MkdirAll(r.paths.transDir(id), 0o755); err != nil {
		return nil, ipserr.New(ipserr.ErrIO, "creating transaction scratch dir", err)
	}
	ipslog.GetLoggerWithField(ctx, "tx", id).Debug("began transaction")
	return tx, nil
}

// ID returns the transaction's scratch directory identifier.
func (tx *Transaction) ID() string { return tx.id }

// SetPublisher overrides the transaction's target publisher.
func (tx *Transaction) SetPublisher(pub string) { tx.publisher = pub }

// Manifest returns the transaction's in-progress manifest, for callers that
// need to apply further transforms (e.g. transform rules) before Commit.
func (tx *Transaction) Manifest() *manifest.Manifest { return tx.manifest }

// AddFile stages srcPath's content as the payload for action, compressing
// it with algo and recording both the uncompressed (primary) and
// compressed (additional) digests (spec.md §4.5.2 steps 1-5).
func (tx *Transaction) AddFile(action manifest.File, srcPath string, algo ipsdigest.CompressionAlgorithm) (manifest.File, error) {
	raw, err := os.ReadFile(srcPath)
	if err != nil {
		return action, ipserr.New(ipserr.ErrIO, "reading payload source "+srcPath, err)
	}

	primary := ipsdigest.FromBytes(raw, ipsdigest.SHA256, ipsdigest.SourceFile)

	compressed, err := compress(raw, algo)
	if err != nil {
		return action, err
	}
	compressedDigest := ipsdigest.FromBytes(compressed, ipsdigest.SHA256, ipsdigest.SourceGzip)

	scratchPath := filepath.Join(tx.repo.paths.transDir(tx.id), "temp_"+primary.Hex)
	if err := atomicWrite(scratchPath, compressed, 0o644); err != nil {
		return action, err
	}

	tx.pending = append(tx.pending, pendingFile{scratchPath: scratchPath, compressedHash: compressedDigest.Hex})

	action.Digest = &primary
	action.ContentHashes = append(action.ContentHashes, compressedDigest)
	action.CSize = strconv.Itoa(len(compressed))
	action.Size = strconv.Itoa(len(raw))
	tx.manifest.Files = append(tx.manifest.Files, action)
	return action, nil
}

func compress(raw []byte, algo ipsdigest.CompressionAlgorithm) ([]byte, error) {
	var buf bytes.Buffer
	switch algo {
	case ipsdigest.LZ4:
		w := lz4.NewWriter(&buf)
		if _, err := w.Write(raw); err != nil {
			return nil, ipserr.New(ipserr.ErrIO, "lz4 compressing payload", err)
		}
		if err := w.Close(); err != nil {
			return nil, ipserr.New(ipserr.ErrIO, "closing lz4 writer", err)
		}
	default:
		w := gzip.NewWriter(&buf)
		if _, err := w.Write(raw); err != nil {
			return nil, ipserr.New(ipserr.ErrIO, "gzip compressing payload", err)
		}
		if err := w.Close(); err != nil {
			return nil, ipserr.New(ipserr.ErrIO, "closing gzip writer", err)
		}
	}
	return buf.Bytes(), nil
}

// UpdateManifest merges additively: file actions present only in src are
// appended; other action kinds extend (spec.md §4.5.2 update_manifest).
func (tx *Transaction) UpdateManifest(src *manifest.Manifest) {
	tx.manifest.Merge(src)
}

// SetLegacyText preserves a caller-supplied manifest text verbatim as the
// committed pkg/<stem>/<ver> file, instead of the regenerated
// tx.manifest.ToText() form - used by receive (spec.md §4.10 step 3: "set
// the raw manifest text as the legacy stored form"), where the source
// repository's exact text must survive the copy alongside the JSON sidecar.
func (tx *Transaction) SetLegacyText(text string) { tx.legacyText = text }

// Discard removes the transaction's scratch directory without publishing
// anything - the spec.md §5 "janitor" case for a canceled transaction.
func (tx *Transaction) Discard() error {
	return os.RemoveAll(tx.repo.paths.transDir(tx.id))
}

// Commit resolves the target publisher, copies staged payloads and the
// manifest into place, and refreshes pub.p5i/pkg6.repository (spec.md
// §4.5.2 commit steps 1-6).
func (tx *Transaction) Commit(ctx context.Context) error {
	pub := tx.publisher
	if pub == "" {
		pub = tx.repo.config.DefaultPublisher
	}
	if pub == "" {
		return ipserr.New(ipserr.ErrPublisherNotFound, "no publisher specified and no repository default", nil)
	}
	if !tx.repo.HasPublisher(pub) {
		if err := tx.repo.AddPublisher(ctx, pub); err != nil {
			return err
		}
	}

	f := tx.manifest.Fmri()
	if f == "" {
		return ipserr.New(ipserr.ErrManifestParse, "transaction manifest missing pkg.fmri", nil)
	}
	parsedFmri, err := fmri.Parse(f)
	if err != nil {
		return err
	}
	if parsedFmri.Version == nil {
		return ipserr.New(ipserr.ErrManifestParse, "pkg.fmri must carry a version to publish: "+f, nil)
	}
	stem, version := parsedFmri.Stem, parsedFmri.Version.String()

	for _, pf := range tx.pending {
		dest := tx.repo.paths.filePath(pub, pf.compressedHash)
		if err := copyIfAbsent(pf.scratchPath, dest); err != nil {
			return err
		}
	}

	text := tx.legacyText
	if text == "" {
		text = tx.manifest.ToText()
	}
	if err := atomicWrite(tx.repo.paths.manifestPath(pub, stem, version), []byte(text), 0o644); err != nil {
		return err
	}
	jsonBytes, err := tx.manifest.ToJSON()
	if err != nil {
		return err
	}
	if err := atomicWrite(tx.repo.paths.manifestJSONSidecar(pub, stem, version), jsonBytes, 0o644); err != nil {
		return err
	}

	if _, err := os.Stat(tx.repo.paths.pubP5I(pub)); os.IsNotExist(err) {
		p5i := fmt.Sprintf(`{"publisher":%q,"packages":[]}`, pub)
		if err := atomicWrite(tx.repo.paths.pubP5I(pub), []byte(p5i), 0o644); err != nil {
			return err
		}
	}

	if err := tx.repo.writeConfig(); err != nil {
		return err
	}

	if err := os.RemoveAll(tx.repo.paths.transDir(tx.id)); err != nil {
		return ipserr.New(ipserr.ErrIO, "cleaning up transaction scratch dir", err)
	}

	ipslog.GetLoggerWithFields(ctx, map[string]interface{}{"fmri": f, "publisher": pub}).Info("committed transaction")
	return nil
}

