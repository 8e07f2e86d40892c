// Package config parses the plain-text "key = value" configuration
// documents TACT uses for build and CDN configuration: small, line-based,
// no nesting, values are either a single token or a space-separated list.
package config

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// Raw is a parsed "key = value" document, values split on whitespace.
type Raw map[string][]string

// Parse reads a rough key/value document: one "key = value..." per line,
// blank lines and "#"-prefixed comments ignored.
func Parse(r io.Reader) (Raw, error) {
	raw := make(Raw)
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	line := 0
	for sc.Scan() {
		line++
		text := strings.TrimSpace(sc.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		eq := strings.Index(text, "=")
		if eq < 0 {
			return nil, fmt.Errorf("config: line %d: missing '=': %q", line, text)
		}
		key := strings.TrimSpace(text[:eq])
		value := strings.TrimSpace(text[eq+1:])
		raw[key] = strings.Fields(value)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("config: scan: %w", err)
	}
	return raw, nil
}

func (r Raw) one(key string) (string, bool) {
	v, ok := r[key]
	if !ok || len(v) == 0 {
		return "", false
	}
	return v[0], true
}

// EncodedPair is a "decoded encoded" hash/size pair: almost every content
// field in build/CDN config names both the content-key form and the
// encoding-key form of the same artifact.
type EncodedPair struct {
	Decoded HashSize
	Encoded HashSize
}

// HashSize is a hex key paired with an optional decimal byte size, as in
// "<hash> <size>" or just "<hash>".
type HashSize struct {
	Hash string
	Size uint64
	HasSize bool
}

func parseHashSize(tok string, sizeTok string) (HashSize, error) {
	hs := HashSize{Hash: tok}
	if sizeTok != "" {
		n, err := strconv.ParseUint(sizeTok, 10, 64)
		if err != nil {
			return hs, fmt.Errorf("config: bad size %q: %w", sizeTok, err)
		}
		hs.Size = n
		hs.HasSize = true
	}
	return hs, nil
}

func parseEncodedPair(fields []string) (EncodedPair, error) {
	var p EncodedPair
	if len(fields) == 0 {
		return p, fmt.Errorf("config: empty encoded-pair field")
	}
	// "<decoded-hash> <encoded-hash> [decoded-size encoded-size]"
	switch len(fields) {
	case 1:
		p.Decoded = HashSize{Hash: fields[0]}
		p.Encoded = p.Decoded
	case 2:
		p.Decoded = HashSize{Hash: fields[0]}
		p.Encoded = HashSize{Hash: fields[1]}
	case 4:
		var err error
		p.Decoded, err = parseHashSize(fields[0], fields[2])
		if err != nil {
			return p, err
		}
		p.Encoded, err = parseHashSize(fields[1], fields[3])
		if err != nil {
			return p, err
		}
	default:
		return p, fmt.Errorf("config: unexpected encoded-pair field count %d", len(fields))
	}
	return p, nil
}

// BuildConfig is the parsed set of fields from a build configuration
// document: the root/install/download/size/encoding content references
// plus free-form build metadata.
type BuildConfig struct {
	Root       *EncodedPair
	Install    *EncodedPair
	Download   *EncodedPair
	Size       *EncodedPair
	Encoding   *EncodedPair

	BuildName       string
	BuildUID        string
	BuildProduct    string
	BuildPlaybuildInstaller string
}

// ParseBuildConfig parses a build configuration document.
func ParseBuildConfig(r io.Reader) (*BuildConfig, error) {
	raw, err := Parse(r)
	if err != nil {
		return nil, err
	}
	bc := &BuildConfig{}
	bc.Root, err = optionalPair(raw, "root")
	if err != nil {
		return nil, err
	}
	bc.Install, err = optionalPair(raw, "install")
	if err != nil {
		return nil, err
	}
	bc.Download, err = optionalPair(raw, "download")
	if err != nil {
		return nil, err
	}
	bc.Size, err = optionalPair(raw, "size")
	if err != nil {
		return nil, err
	}
	bc.Encoding, err = optionalPair(raw, "encoding")
	if err != nil {
		return nil, err
	}
	bc.BuildName, _ = raw.one("build-name")
	bc.BuildUID, _ = raw.one("build-uid")
	bc.BuildProduct, _ = raw.one("build-product")
	bc.BuildPlaybuildInstaller, _ = raw.one("build-playbuild-installer")
	return bc, nil
}

func optionalPair(raw Raw, key string) (*EncodedPair, error) {
	fields, ok := raw[key]
	if !ok {
		return nil, nil
	}
	p, err := parseEncodedPair(fields)
	if err != nil {
		return nil, fmt.Errorf("config: field %q: %w", key, err)
	}
	return &p, nil
}

// CDNConfig is the parsed set of fields from a CDN configuration document:
// the archive list and auxiliary indexes a client needs to plan fetches.
type CDNConfig struct {
	Archives         []string
	ArchivesIndexSize []uint64
	ArchiveGroup     string
	FileIndex        string
	FileIndexSize    uint64
	PatchArchives    []string
	PatchArchivesIndexSize []uint64
	Builds           []string
}

// ParseCDNConfig parses a CDN configuration document.
func ParseCDNConfig(r io.Reader) (*CDNConfig, error) {
	raw, err := Parse(r)
	if err != nil {
		return nil, err
	}
	cc := &CDNConfig{}
	cc.Archives = raw["archives"]
	cc.ArchiveGroup, _ = raw.one("archive-group")
	cc.FileIndex, _ = raw.one("file-index")
	cc.Builds = raw["builds"]
	cc.PatchArchives = raw["patch-archives"]

	if sizes, ok := raw["archives-index-size"]; ok {
		cc.ArchivesIndexSize, err = parseUintList(sizes)
		if err != nil {
			return nil, fmt.Errorf("config: archives-index-size: %w", err)
		}
	}
	if sizes, ok := raw["patch-archives-index-size"]; ok {
		cc.PatchArchivesIndexSize, err = parseUintList(sizes)
		if err != nil {
			return nil, fmt.Errorf("config: patch-archives-index-size: %w", err)
		}
	}
	if s, ok := raw.one("file-index-size"); ok {
		n, err := strconv.ParseUint(s, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("config: file-index-size: %w", err)
		}
		cc.FileIndexSize = n
	}
	return cc, nil
}

func parseUintList(fields []string) ([]uint64, error) {
	out := make([]uint64, len(fields))
	for i, f := range fields {
		n, err := strconv.ParseUint(f, 10, 64)
		if err != nil {
			return nil, err
		}
		out[i] = n
	}
	return out, nil
}
