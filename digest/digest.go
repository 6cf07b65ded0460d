// Package digest provides the toolkit's Digest and Payload types (spec.md
// §3 Digest/Payload, §4.2), built on opencontainers/go-digest the same way
// the teacher's manifest/schema2 package computes manifest digests
// (digest.FromBytes), rather than porting the teacher's own legacy
// tarsum-based digest/ package (which exists only for Docker v1
// compatibility).
package digest

import (
	"fmt"
	"io"
	"strings"

	ocidigest "github.com/opencontainers/go-digest"

	"github.com/OpenFlowLabs/ipstoolkit/ipserr"
)

// Algorithm names a supported hash algorithm.
type Algorithm string

const (
	SHA1   Algorithm = "sha1"
	SHA256 Algorithm = "sha256"
	// SHA512t256 is a 256-bit truncation of SHA-512, named per spec.md §3.
	SHA512t256 Algorithm = "sha512t256"
)

func (a Algorithm) ocid() ocidigest.Algorithm {
	switch a {
	case SHA1:
		return ocidigest.SHA1
	case SHA512t256:
		return ocidigest.SHA512_256
	default:
		return ocidigest.SHA256
	}
}

// Source indicates which artifact was hashed (spec.md §3).
type Source string

const (
	SourceFile         Source = "file"       // uncompressed file content
	SourceGzip         Source = "gzip"       // gzip-compressed stream
	SourceElf          Source = "elf"        // ELF image
	SourceUnsignedElf  Source = "unsignedelf"
	SourcePrimary      Source = "primary"    // the primary payload identifier
)

// Digest identifies a piece of content by algorithm, hex digest, and source.
type Digest struct {
	Algorithm Algorithm
	Hex       string
	Source    Source
}

// FromBytes computes a Digest over b.
func FromBytes(b []byte, algo Algorithm, source Source) Digest {
	d := algo.ocid().FromBytes(b)
	return Digest{Algorithm: algo, Hex: d.Encoded(), Source: source}
}

// FromReader computes a Digest by streaming r, avoiding a full buffer copy
// for large payloads.
func FromReader(r io.Reader, algo Algorithm, source Source) (Digest, error) {
	d, err := algo.ocid().FromReader(r)
	if err != nil {
		return Digest{}, ipserr.New(ipserr.ErrIO, "hashing stream", err)
	}
	return Digest{Algorithm: algo, Hex: d.Encoded(), Source: source}, nil
}

// ParseString accepts the two forms named in spec.md §4.2: raw hex
// (defaulting algorithm to SHA-1, source=primary) and "source:algorithm:hex".
func ParseString(s string) (Digest, error) {
	if strings.Count(s, ":") == 2 {
		parts := strings.SplitN(s, ":", 3)
		return Digest{Source: Source(parts[0]), Algorithm: Algorithm(parts[1]), Hex: parts[2]}, nil
	}
	if isHex(s) {
		return Digest{Algorithm: SHA1, Hex: s, Source: SourcePrimary}, nil
	}
	return Digest{}, ipserr.New(ipserr.ErrDigestParse, fmt.Sprintf("malformed digest %q", s), nil)
}

func isHex(s string) bool {
	if s == "" {
		return false
	}
	for _, c := range s {
		if !((c >= '0' && c <= '9') || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F')) {
			return false
		}
	}
	return true
}

// String renders "source:algorithm:hex".
func (d Digest) String() string {
	return fmt.Sprintf("%s:%s:%s", d.Source, d.Algorithm, d.Hex)
}

// Equal compares algorithm and hex (source is metadata, not identity).
func (d Digest) Equal(other Digest) bool {
	return d.Algorithm == other.Algorithm && d.Hex == other.Hex
}

// CompressionAlgorithm mirrors config.CompressionAlgorithm for payloads
// that don't want to import the config package.
type CompressionAlgorithm string

const (
	Gzip CompressionAlgorithm = "gzip"
	LZ4  CompressionAlgorithm = "lz4"
)

// Payload is a content-addressed file's identifying metadata (spec.md §3).
// Invariant: Primary is the digest of the uncompressed content; at least
// one entry in Additional is the digest of the stored (compressed) content.
type Payload struct {
	Primary     Digest
	Additional  []Digest
	Compression CompressionAlgorithm
}
