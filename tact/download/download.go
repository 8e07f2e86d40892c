// Package download implements the Download manifest: the prioritized list
// of encoding keys a client should fetch after the initial install set,
// tagged the same way as the Install manifest and selected by the same
// set-intersection algebra.
package download

import (
	"fmt"

	"github.com/steed-rs/ngdp/internal/binreader"
	"github.com/steed-rs/ngdp/internal/ckey"
)

const magic = "DL"

// TagType mirrors install.TagType: opaque selector category assigned by
// Blizzard.
type TagType uint16

// Tag names a bitmap selecting a subset of Entries by index.
type Tag struct {
	Name string
	Type TagType
	Bits []bool
}

// EntryFlags marks per-entry delivery hints (e.g. "high priority",
// "plugin").
type EntryFlags uint8

// Entry is one downloadable encoding key.
type Entry struct {
	Key             ckey.EncodingKey
	FileSize        uint64
	DownloadPriority int8
	Checksum        uint32
	Flags           EntryFlags
}

// Manifest is a fully parsed Download manifest.
type Manifest struct {
	Version      uint8
	BasePriority int8
	Tags         []Tag
	Entries      []Entry
}

// Parse decodes a Download manifest from its raw bytes.
func Parse(data []byte) (*Manifest, error) {
	r := binreader.New(data)
	m, err := r.Take(2)
	if err != nil {
		return nil, fmt.Errorf("download: read magic: %w", err)
	}
	if string(m) != magic {
		return nil, fmt.Errorf("download: bad magic %q", m)
	}
	version, err := r.Uint8()
	if err != nil {
		return nil, err
	}
	hashSize, err := r.Uint8()
	if err != nil {
		return nil, err
	}
	numEntries, err := r.Uint32BE()
	if err != nil {
		return nil, err
	}
	numTags, err := r.Uint16BE()
	if err != nil {
		return nil, err
	}

	numFlagBytes := 1
	if version >= 2 {
		v, err := r.Uint8()
		if err != nil {
			return nil, err
		}
		numFlagBytes = int(v)
	}

	basePriority := int8(0)
	if version >= 3 {
		bp, err := r.Uint8()
		if err != nil {
			return nil, err
		}
		basePriority = int8(bp)
		if _, err := r.Take(3); err != nil { // reserved
			return nil, err
		}
	}

	entries := make([]Entry, numEntries)
	for i := range entries {
		key, err := r.Take(int(hashSize))
		if err != nil {
			return nil, fmt.Errorf("download: entry %d key: %w", i, err)
		}
		fileSize, err := r.UintBE(5)
		if err != nil {
			return nil, err
		}
		priority, err := r.Uint8()
		if err != nil {
			return nil, err
		}
		var e Entry
		copy(e.Key[:], key)
		e.FileSize = fileSize
		e.DownloadPriority = int8(priority)
		if version >= 2 {
			checksumBytes, err := r.Take(4)
			if err != nil {
				return nil, err
			}
			for _, b := range checksumBytes {
				e.Checksum = e.Checksum<<8 | uint32(b)
			}
			if numFlagBytes > 0 {
				flagBytes, err := r.Take(numFlagBytes)
				if err != nil {
					return nil, err
				}
				e.Flags = EntryFlags(flagBytes[0])
			}
		}
		entries[i] = e
	}

	bitmapBytes := (int(numEntries) + 7) / 8
	tags := make([]Tag, numTags)
	for i := range tags {
		name, err := r.StringZero()
		if err != nil {
			return nil, fmt.Errorf("download: tag %d name: %w", i, err)
		}
		tagType, err := r.Uint16BE()
		if err != nil {
			return nil, err
		}
		raw, err := r.Take(bitmapBytes)
		if err != nil {
			return nil, fmt.Errorf("download: tag %d bitmap: %w", i, err)
		}
		bits := make([]bool, numEntries)
		for j := 0; j < int(numEntries); j++ {
			bits[j] = raw[j/8]&(0x80>>(uint(j)%8)) != 0
		}
		tags[i] = Tag{Name: name, Type: TagType(tagType), Bits: bits}
	}

	return &Manifest{Version: version, BasePriority: basePriority, Tags: tags, Entries: entries}, nil
}

// EntriesWithTags returns the entries selected by every named tag (set
// intersection: an entry must belong to ALL of them).
func (m *Manifest) EntriesWithTags(tagNames ...string) []Entry {
	if len(tagNames) == 0 {
		return m.Entries
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
	var out []Entry
	for i, e := range m.Entries {
		ok := true
		for _, t := range selected {
			if i >= len(t.Bits) || !t.Bits[i] {
				ok = false
				break
			}
		}
		if ok {
			out = append(out, e)
		}
	}
	return out
}
