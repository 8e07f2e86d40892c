// Package install implements the Install manifest: the list of files a
// client needs on first install, each one tagged (platform, locale,
// feature) with tag membership stored as a per-tag bitmap over the file
// list.
package install

import (
	"fmt"

	"github.com/steed-rs/ngdp/internal/binreader"
	"github.com/steed-rs/ngdp/internal/ckey"
)

const magic = "IN"

// TagType distinguishes what kind of selector a Tag represents (platform,
// locale, architecture, ...). The concrete values are assigned by Blizzard
// and opaque to this package; it only threads them through.
type TagType uint16

// Tag names a bitmap selecting a subset of Files by index.
type Tag struct {
	Name string
	Type TagType
	Bits []bool
}

// File is one installable file.
type File struct {
	Name string
	Key  ckey.EncodingKey
	Size uint32
}

// Manifest is a fully parsed Install manifest.
type Manifest struct {
	Version uint8
	Tags    []Tag
	Files   []File
}

// Parse decodes an Install manifest from its raw bytes.
func Parse(data []byte) (*Manifest, error) {
	r := binreader.New(data)
	m, err := r.Take(2)
	if err != nil {
		return nil, fmt.Errorf("install: read magic: %w", err)
	}
	if string(m) != magic {
		return nil, fmt.Errorf("install: bad magic %q", m)
	}
	version, err := r.Uint8()
	if err != nil {
		return nil, err
	}
	hashSize, err := r.Uint8()
	if err != nil {
		return nil, err
	}
	numTags, err := r.Uint16BE()
	if err != nil {
		return nil, err
	}
	numEntries, err := r.Uint32BE()
	if err != nil {
		return nil, err
	}

	bitmapBytes := (int(numEntries) + 7) / 8
	tags := make([]Tag, numTags)
	for i := range tags {
		name, err := r.StringZero()
		if err != nil {
			return nil, fmt.Errorf("install: tag %d name: %w", i, err)
		}
		tagType, err := r.Uint16BE()
		if err != nil {
			return nil, err
		}
		raw, err := r.Take(bitmapBytes)
		if err != nil {
			return nil, fmt.Errorf("install: tag %d bitmap: %w", i, err)
		}
		bits := make([]bool, numEntries)
		for j := 0; j < int(numEntries); j++ {
			bits[j] = raw[j/8]&(0x80>>(uint(j)%8)) != 0
		}
		tags[i] = Tag{Name: name, Type: TagType(tagType), Bits: bits}
	}

	files := make([]File, numEntries)
	for i := range files {
		name, err := r.StringZero()
		if err != nil {
			return nil, fmt.Errorf("install: file %d name: %w", i, err)
		}
		key, err := r.Take(int(hashSize))
		if err != nil {
			return nil, fmt.Errorf("install: file %d key: %w", i, err)
		}
		size, err := r.Uint32BE()
		if err != nil {
			return nil, err
		}
		var f File
		f.Name = name
		copy(f.Key[:], key)
		f.Size = size
		files[i] = f
	}

	return &Manifest{Version: version, Tags: tags, Files: files}, nil
}

// FilesWithTags returns the files selected by every named tag (set
// intersection across tags; a file must be a member of ALL of them).
func (m *Manifest) FilesWithTags(tagNames ...string) []File {
	if len(tagNames) == 0 {
		return m.Files
	}
	var selected []Tag
	for _, name := range tagNames {
		for _, t := range m.Tags {
			if t.Name == name {
				selected = append(selected, t)
				break
			}
		}
	}
	if len(selected) != len(tagNames) {
		return nil
	}
	var out []File
	for i, f := range m.Files {
		ok := true
		for _, t := range selected {
			if i >= len(t.Bits) || !t.Bits[i] {
				ok = false
				break
			}
		}
		if ok {
			out = append(out, f)
		}
	}
	return out
}
