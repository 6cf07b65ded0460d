// Package config provides the toolkit's ambient YAML configuration,
// following the teacher's configuration.Configuration pattern: a versioned
// struct with yaml tags, parsed from an io.Reader.
package config

import (
	"fmt"
	"io"

	"github.com/OpenFlowLabs/ipstoolkit/ipserr"
	"gopkg.in/yaml.v2"
)

// Version is the configuration schema version. As with the teacher's own
// Configuration.Version, yaml field names avoid "_" so they round-trip
// cleanly through environment-variable overrides.
type Version string

const CurrentVersion Version = "1"

// CompressionAlgorithm selects the default payload compression for newly
// published files (spec.md §3 Payload, §4.5.2).
type CompressionAlgorithm string

const (
	CompressionGzip CompressionAlgorithm = "gzip"
	CompressionLZ4  CompressionAlgorithm = "lz4"
)

// PublisherOrigin names a publisher and the repository origin an image
// should sync its catalog from.
type PublisherOrigin struct {
	Name   string `yaml:"name"`
	Origin string `yaml:"origin"`
}

// Log controls the ambient logrus logger (see package ipslog).
type Log struct {
	Level     string `yaml:"level,omitempty"`
	Formatter string `yaml:"formatter,omitempty"`
}

// Configuration is the top-level, versioned toolkit configuration.
type Configuration struct {
	Version Version `yaml:"version"`

	Log Log `yaml:"log,omitempty"`

	// ImageRoot is the filesystem root of the image an executor or solver
	// operates against.
	ImageRoot string `yaml:"imageroot,omitempty"`

	// DefaultCompression selects Gzip or LZ4 for newly published payloads.
	DefaultCompression CompressionAlgorithm `yaml:"defaultcompression,omitempty"`

	// Publishers lists the configured publisher origins for an image.
	Publishers []PublisherOrigin `yaml:"publishers,omitempty"`

	// DefaultPublisher names the publisher used when an operation does not
	// specify one (spec.md §4.5.2 commit step 1).
	DefaultPublisher string `yaml:"defaultpublisher,omitempty"`
}

// Parse reads and validates a Configuration from rd.
func Parse(rd io.Reader) (*Configuration, error) {
	buf, err := io.ReadAll(rd)
	if err != nil {
		return nil, ipserr.New(ipserr.ErrConfigRead, "reading configuration", err)
	}

	var c Configuration
	if err := yaml.Unmarshal(buf, &c); err != nil {
		return nil, ipserr.New(ipserr.ErrConfigRead, "parsing configuration yaml", err)
	}

	if c.Version == "" {
		c.Version = CurrentVersion
	}
	if c.DefaultCompression == "" {
		c.DefaultCompression = CompressionGzip
	}

	switch c.DefaultCompression {
	case CompressionGzip, CompressionLZ4:
	default:
		return nil, ipserr.New(ipserr.ErrConfigRead,
			fmt.Sprintf("unknown defaultcompression %q", c.DefaultCompression), nil)
	}

	return &c, nil
}
