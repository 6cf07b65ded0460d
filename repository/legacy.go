package repository

import (
	"bufio"
	"bytes"
	"strconv"
	"strings"

	"github.com/OpenFlowLabs/ipstoolkit/ipserr"
)

// parseLegacyConfig reads a pkg5.repository INI file (spec.md §3 "a
// repository may carry a legacy pkg5.repository instead; opening such a
// repository imports its configuration read-only") into the same
// PkgRepositoryConfig shape Open() returns for pkg6.repository, so callers
// never need to know which format was on disk.
//
// Recognized sections:
//
//	[publisher]   prefix=<name>
//	[publishers]  list=<comma-separated names>
//	[repository]  version=<int>
//	[CONFIGURATION] version=<int>
func parseLegacyConfig(data []byte) (*PkgRepositoryConfig, error) {
	cfg := &PkgRepositoryConfig{Version: CurrentRepositoryVersion, Properties: map[string]string{}}

	var section string
	var publisherList []string
	var defaultPublisher string

	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, ";") {
			continue
		}
		if strings.HasPrefix(line, "[") && strings.HasSuffix(line, "]") {
			section = strings.ToLower(strings.TrimSuffix(strings.TrimPrefix(line, "["), "]"))
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.ToLower(strings.TrimSpace(key))
		value = strings.TrimSpace(value)

		switch section {
		case "publisher":
			if key == "prefix" {
				defaultPublisher = value
			}
		case "publishers":
			if key == "list" {
				for _, p := range strings.Split(value, ",") {
					p = strings.TrimSpace(p)
					if p != "" {
						publisherList = append(publisherList, p)
					}
				}
			}
		case "repository", "configuration":
			if key == "version" {
				if v, err := strconv.Atoi(value); err == nil {
					cfg.Version = v
				}
			} else {
				cfg.Properties[key] = value
			}
		default:
			cfg.Properties[section+"."+key] = value
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, ipserr.New(ipserr.ErrIO, "scanning pkg5.repository", err)
	}

	if defaultPublisher != "" && !containsString(publisherList, defaultPublisher) {
		publisherList = append(publisherList, defaultPublisher)
	}
	cfg.Publishers = publisherList
	cfg.DefaultPublisher = defaultPublisher
	return cfg, nil
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
