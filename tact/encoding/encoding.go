// Package encoding implements the Encoding table: the paged catalog
// mapping a content key to the one or more encoding keys it was archived
// under, and an encoding key to the index of the ESpec string that
// describes how it was BLTE-encoded.
package encoding

import (
	"bytes"
	"crypto/md5"
	"fmt"
	"sort"

	"github.com/steed-rs/ngdp/internal/binreader"
	"github.com/steed-rs/ngdp/internal/ckey"
)

const (
	magicByte0 = 'E'
	magicByte1 = 'N'
)

// PageHeader prefixes each page with the first key it contains (for the
// page-index binary search) and an MD5 checksum of the page's raw bytes.
type PageHeader struct {
	FirstKey [ckey.Size]byte
	PageMD5  [16]byte
}

// CEKeyEntry is one content-key page record: a content key, the decoded
// file size, and the encoding key(s) it was archived as (normally one;
// more than one means the same content exists re-encoded under different
// ESpecs, e.g. after a content key's encoding was upgraded).
type CEKeyEntry struct {
	FileSize uint64
	CKey     ckey.ContentKey
	EKeys    []ckey.EncodingKey
}

// EKeySpecEntry is one encoding-key page record: an encoding key, the
// index into Especs describing how it's BLTE-encoded, and its encoded
// size on disk.
type EKeySpecEntry struct {
	EKey       ckey.EncodingKey
	EspecIndex uint32
	FileSize   uint64
}

// Encoding is a fully parsed Encoding table.
type Encoding struct {
	HashSizeCKey uint8
	HashSizeEKey uint8
	Especs       []string

	CKeyPageHeaders []PageHeader
	CKeyPages       [][]CEKeyEntry

	EKeyPageHeaders []PageHeader
	EKeyPages       [][]EKeySpecEntry
}

// Parse decodes a complete Encoding table from its raw bytes.
func Parse(data []byte) (*Encoding, error) {
	r := binreader.New(data)

	magic, err := r.Take(2)
	if err != nil {
		return nil, fmt.Errorf("encoding: read magic: %w", err)
	}
	if magic[0] != magicByte0 || magic[1] != magicByte1 {
		return nil, fmt.Errorf("encoding: bad magic %q", magic)
	}
	version, err := r.Uint8()
	if err != nil {
		return nil, err
	}
	if version != 1 {
		return nil, fmt.Errorf("encoding: unsupported version %d", version)
	}
	hashSizeCKey, err := r.Uint8()
	if err != nil {
		return nil, err
	}
	hashSizeEKey, err := r.Uint8()
	if err != nil {
		return nil, err
	}
	ckeyPageSizeKB, err := r.Uint16BE()
	if err != nil {
		return nil, err
	}
	ekeyPageSizeKB, err := r.Uint16BE()
	if err != nil {
		return nil, err
	}
	ckeyPageCount, err := r.Uint32BE()
	if err != nil {
		return nil, err
	}
	ekeyPageCount, err := r.Uint32BE()
	if err != nil {
		return nil, err
	}
	if _, err := r.Uint8(); err != nil { // unk, always 0
		return nil, err
	}
	especBlockSize, err := r.Uint32BE()
	if err != nil {
		return nil, err
	}

	especBlock, err := r.Take(int(especBlockSize))
	if err != nil {
		return nil, fmt.Errorf("encoding: read espec block: %w", err)
	}
	especs := splitNulTerminated(especBlock)

	e := &Encoding{HashSizeCKey: hashSizeCKey, HashSizeEKey: hashSizeEKey, Especs: especs}

	e.CKeyPageHeaders, err = readPageHeaders(r, int(ckeyPageCount))
	if err != nil {
		return nil, fmt.Errorf("encoding: ckey page headers: %w", err)
	}
	e.CKeyPages = make([][]CEKeyEntry, ckeyPageCount)
	for i := 0; i < int(ckeyPageCount); i++ {
		page, err := r.Take(int(ckeyPageSizeKB) * 1024)
		if err != nil {
			return nil, fmt.Errorf("encoding: ckey page %d: %w", i, err)
		}
		if sum := md5.Sum(page); sum != e.CKeyPageHeaders[i].PageMD5 {
			return nil, fmt.Errorf("encoding: ckey page %d md5 mismatch", i)
		}
		entries, err := parseCEKeyPage(page, int(hashSizeEKey))
		if err != nil {
			return nil, fmt.Errorf("encoding: ckey page %d entries: %w", i, err)
		}
		e.CKeyPages[i] = entries
	}

	e.EKeyPageHeaders, err = readPageHeaders(r, int(ekeyPageCount))
	if err != nil {
		return nil, fmt.Errorf("encoding: ekey page headers: %w", err)
	}
	e.EKeyPages = make([][]EKeySpecEntry, ekeyPageCount)
	for i := 0; i < int(ekeyPageCount); i++ {
		page, err := r.Take(int(ekeyPageSizeKB) * 1024)
		if err != nil {
			return nil, fmt.Errorf("encoding: ekey page %d: %w", i, err)
		}
		if sum := md5.Sum(page); sum != e.EKeyPageHeaders[i].PageMD5 {
			return nil, fmt.Errorf("encoding: ekey page %d md5 mismatch", i)
		}
		entries, err := parseEKeySpecPage(page)
		if err != nil {
			return nil, fmt.Errorf("encoding: ekey page %d entries: %w", i, err)
		}
		e.EKeyPages[i] = entries
	}

	return e, nil
}

func readPageHeaders(r *binreader.Reader, count int) ([]PageHeader, error) {
	return binreader.Repeat(r, count, func(r *binreader.Reader) (PageHeader, error) {
		var ph PageHeader
		key, err := r.Take(ckey.Size)
		if err != nil {
			return ph, err
		}
		copy(ph.FirstKey[:], key)
		sum, err := r.Take(16)
		if err != nil {
			return ph, err
		}
		copy(ph.PageMD5[:], sum)
		return ph, nil
	})
}

func parseCEKeyPage(page []byte, hashSizeEKey int) ([]CEKeyEntry, error) {
	r := binreader.New(page)
	var entries []CEKeyEntry
	for r.Remaining() > 0 {
		peeked, err := r.Peek(1)
		if err != nil || peeked[0] == 0 {
			break
		}
		keyCount, err := r.Uint8()
		if err != nil {
			return nil, err
		}
		fileSize, err := r.UintBE(5)
		if err != nil {
			return nil, err
		}
		ck, err := r.Take(ckey.Size)
		if err != nil {
			return nil, err
		}
		var entry CEKeyEntry
		entry.FileSize = fileSize
		copy(entry.CKey[:], ck)
		entry.EKeys = make([]ckey.EncodingKey, keyCount)
		for i := 0; i < int(keyCount); i++ {
			ek, err := r.Take(hashSizeEKey)
			if err != nil {
				return nil, err
			}
			copy(entry.EKeys[i][:], ek)
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

func parseEKeySpecPage(page []byte) ([]EKeySpecEntry, error) {
	r := binreader.New(page)
	var entries []EKeySpecEntry
	for r.Remaining() >= ckey.Size+4+5 {
		peeked, err := r.Peek(1)
		if err != nil || peeked[0] == 0 {
			break
		}
		ek, err := r.Take(ckey.Size)
		if err != nil {
			return nil, err
		}
		especIndex, err := r.Uint32BE()
		if err != nil {
			return nil, err
		}
		fileSize, err := r.UintBE(5)
		if err != nil {
			return nil, err
		}
		var entry EKeySpecEntry
		copy(entry.EKey[:], ek)
		entry.EspecIndex = especIndex
		entry.FileSize = fileSize
		entries = append(entries, entry)
	}
	return entries, nil
}

func splitNulTerminated(b []byte) []string {
	var out []string
	start := 0
	for i, c := range b {
		if c == 0 {
			if i > start {
				out = append(out, string(b[start:i]))
			}
			start = i + 1
		}
	}
	return out
}

// LookupByCKey returns the encoding keys a content key was archived under,
// via a page-header scan followed by a linear in-page scan (pages are a
// few KiB, so this is cheap relative to the archive fetch it precedes).
func (e *Encoding) LookupByCKey(ck ckey.ContentKey) ([]ckey.EncodingKey, error) {
	pageIdx := findPage(e.CKeyPageHeaders, ck[:])
	if pageIdx < 0 {
		return nil, fmt.Errorf("encoding: ckey %s before first page", ck)
	}
	for _, entry := range e.CKeyPages[pageIdx] {
		if entry.CKey == ck {
			return entry.EKeys, nil
		}
	}
	return nil, fmt.Errorf("encoding: ckey %s not found", ck)
}

// LookupEspec returns the ESpec string describing how ek was BLTE-encoded.
func (e *Encoding) LookupEspec(ek ckey.EncodingKey) (string, error) {
	pageIdx := findPage(e.EKeyPageHeaders, ek[:])
	if pageIdx < 0 {
		return "", fmt.Errorf("encoding: ekey %s before first page", ek)
	}
	for _, entry := range e.EKeyPages[pageIdx] {
		if entry.EKey == ek {
			if int(entry.EspecIndex) >= len(e.Especs) {
				return "", fmt.Errorf("encoding: ekey %s espec index %d out of range", ek, entry.EspecIndex)
			}
			return e.Especs[entry.EspecIndex], nil
		}
	}
	return "", fmt.Errorf("encoding: ekey %s not found", ek)
}

// findPage returns the index of the last page whose FirstKey is <= key, or
// -1 if key sorts before every page's first key.
func findPage(headers []PageHeader, key []byte) int {
	idx := sort.Search(len(headers), func(i int) bool {
		return bytes.Compare(headers[i].FirstKey[:], key) > 0
	})
	return idx - 1
}
