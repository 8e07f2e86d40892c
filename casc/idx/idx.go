// Package idx implements the CASC archive index: 16 sharded bucket files
// (conventionally named "<build>.idx" with a bucket+version suffix) that
// map an encoding key's 9-byte short form to the (archive file, offset,
// size) triple where its BLTE-encoded bytes live.
package idx

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/steed-rs/ngdp/internal/bitpack"
	"github.com/steed-rs/ngdp/internal/ckey"
	"github.com/steed-rs/ngdp/internal/lookup3"
)

const (
	// NumBuckets is the fixed number of idx shards a CASC install uses.
	NumBuckets = 16

	headerFieldsSize = 16
	entryShortKeySize = ckey.ShortSize
)

// Bucket returns the bucket index (0-15) an encoding key's entry is filed
// under: an XOR fold of its 9-byte short key, then the low/high nibbles
// XORed together.
func Bucket(short [ckey.ShortSize]byte) uint8 {
	var i byte
	for _, b := range short {
		i ^= b
	}
	return (i & 0xF) ^ (i >> 4)
}

// CrossBucket returns the bucket that holds the redundant cross-reference
// copy of an entry filed in bucket b.
func CrossBucket(b uint8) uint8 {
	return (b + 1) % NumBuckets
}

// Header is the fixed-size preamble of one idx bucket file.
type Header struct {
	Version           uint16
	Bucket            uint8
	ExtraBytes        uint8
	EntrySizeBytes    uint8
	EntryOffsetBytes  uint8
	EntryKeyBytes     uint8
	ArchiveTotalSize  uint64
	EntriesBlockSize  uint64
}

// Entry is one (short key -> location) mapping.
type Entry struct {
	Key          [ckey.ShortSize]byte
	ArchiveIndex uint16
	Offset       uint32
	Size         uint32
}

// File is a single parsed idx bucket file: its header and entries, sorted
// by Key the way the format requires for binary search.
type File struct {
	Header  Header
	Entries []Entry
}

// Parse decodes one idx bucket file from its raw bytes, verifying both the
// header hash and the entries-block hash.
func Parse(data []byte) (*File, error) {
	if len(data) < 8 {
		return nil, fmt.Errorf("idx: truncated file, %d bytes", len(data))
	}
	headerHashSize := binary.LittleEndian.Uint32(data[0:4])
	headerHash := binary.LittleEndian.Uint32(data[4:8])
	if int(headerHashSize) != headerFieldsSize {
		return nil, fmt.Errorf("idx: unexpected header_hash_size %d", headerHashSize)
	}
	if len(data) < 8+int(headerHashSize) {
		return nil, fmt.Errorf("idx: truncated header fields")
	}
	headerFields := data[8 : 8+headerHashSize]
	if got := lookup3.Hashlittle(headerFields, 0); got != headerHash {
		return nil, fmt.Errorf("idx: header hash mismatch: got %08x want %08x", got, headerHash)
	}

	h := Header{
		Version:          binary.LittleEndian.Uint16(headerFields[0:2]),
		Bucket:           headerFields[2],
		ExtraBytes:       headerFields[3],
		EntrySizeBytes:   headerFields[4],
		EntryOffsetBytes: headerFields[5],
		EntryKeyBytes:    headerFields[6],
	}
	h.ArchiveTotalSize = uint64(binary.LittleEndian.Uint64(paddedTo8(headerFields[8:16])))
	h.EntriesBlockSize = binary.LittleEndian.Uint64(data[8+headerHashSize : 8+headerHashSize+8])

	if h.EntryKeyBytes != entryShortKeySize {
		return nil, fmt.Errorf("idx: unsupported entry key width %d", h.EntryKeyBytes)
	}

	entriesStart := align8(8 + int(headerHashSize) + 8)
	entryWidth := int(h.EntryKeyBytes) + int(h.EntryOffsetBytes) + int(h.EntrySizeBytes)
	if entryWidth == 0 {
		return nil, fmt.Errorf("idx: zero entry width")
	}
	if int(h.EntriesBlockSize)%entryWidth != 0 {
		return nil, fmt.Errorf("idx: entries block size %d not a multiple of entry width %d", h.EntriesBlockSize, entryWidth)
	}
	entriesEnd := entriesStart + int(h.EntriesBlockSize)
	if entriesEnd+4 > len(data) {
		return nil, fmt.Errorf("idx: truncated entries block")
	}
	entriesBlock := data[entriesStart:entriesEnd]
	entriesHash := binary.LittleEndian.Uint32(data[entriesEnd : entriesEnd+4])
	if got := chainedEntriesHash(entriesBlock, entryWidth); got != entriesHash {
		return nil, fmt.Errorf("idx: entries hash mismatch: got %08x want %08x", got, entriesHash)
	}

	count := len(entriesBlock) / entryWidth
	entries := make([]Entry, count)
	for i := 0; i < count; i++ {
		e := entriesBlock[i*entryWidth : (i+1)*entryWidth]
		var ent Entry
		copy(ent.Key[:], e[:h.EntryKeyBytes])
		off := e[h.EntryKeyBytes:]
		ent.ArchiveIndex, ent.Offset = bitpack.Get10_30BE(padTo(off[:h.EntryOffsetBytes], 5))
		ent.Size = uint32(bitpack.Uint40LE(padTo(off[h.EntryOffsetBytes:h.EntryOffsetBytes+h.EntrySizeBytes], 5)))
		entries[i] = ent
	}

	return &File{Header: h, Entries: entries}, nil
}

// Lookup performs a linear scan for an entry matching short. Buckets are
// typically small enough that a full binary-search implementation isn't
// worth the complexity; callers with large buckets should build their own
// index over Entries.
func (f *File) Lookup(short [ckey.ShortSize]byte) (Entry, bool) {
	for _, e := range f.Entries {
		if e.Key == short {
			return e, true
		}
	}
	return Entry{}, false
}

// Write serializes a File back to its on-disk byte representation,
// recomputing both hashes.
func Write(f *File) ([]byte, error) {
	if f.Header.EntryKeyBytes == 0 {
		f.Header.EntryKeyBytes = entryShortKeySize
	}
	if f.Header.EntryOffsetBytes == 0 {
		f.Header.EntryOffsetBytes = 5
	}
	if f.Header.EntrySizeBytes == 0 {
		f.Header.EntrySizeBytes = 4
	}

	entryWidth := int(f.Header.EntryKeyBytes) + int(f.Header.EntryOffsetBytes) + int(f.Header.EntrySizeBytes)
	var entriesBlock bytes.Buffer
	for _, e := range f.Entries {
		entriesBlock.Write(e.Key[:])
		var offBuf [5]byte
		bitpack.Put10_30BE(offBuf[:], e.ArchiveIndex, e.Offset)
		entriesBlock.Write(offBuf[:f.Header.EntryOffsetBytes])
		var sizeBuf [8]byte
		binary.LittleEndian.PutUint64(sizeBuf[:], uint64(e.Size))
		entriesBlock.Write(sizeBuf[:f.Header.EntrySizeBytes])
	}
	if entriesBlock.Len()%entryWidth != 0 {
		return nil, fmt.Errorf("idx: internal error: entries block misaligned")
	}
	f.Header.EntriesBlockSize = uint64(entriesBlock.Len())

	headerFields := make([]byte, headerFieldsSize)
	binary.LittleEndian.PutUint16(headerFields[0:2], f.Header.Version)
	headerFields[2] = f.Header.Bucket
	headerFields[3] = f.Header.ExtraBytes
	headerFields[4] = f.Header.EntrySizeBytes
	headerFields[5] = f.Header.EntryOffsetBytes
	headerFields[6] = f.Header.EntryKeyBytes
	var totalSizeBuf [8]byte
	binary.LittleEndian.PutUint64(totalSizeBuf[:], f.Header.ArchiveTotalSize)
	copy(headerFields[8:16], totalSizeBuf[:])

	var out bytes.Buffer
	var sizeField [4]byte
	binary.LittleEndian.PutUint32(sizeField[:], headerFieldsSize)
	out.Write(sizeField[:])
	var hashField [4]byte
	binary.LittleEndian.PutUint32(hashField[:], lookup3.Hashlittle(headerFields, 0))
	out.Write(hashField[:])
	out.Write(headerFields)

	var blockSizeField [8]byte
	binary.LittleEndian.PutUint64(blockSizeField[:], f.Header.EntriesBlockSize)
	out.Write(blockSizeField[:])

	for out.Len()%8 != 0 {
		out.WriteByte(0)
	}
	out.Write(entriesBlock.Bytes())

	var entriesHashField [4]byte
	binary.LittleEndian.PutUint32(entriesHashField[:], chainedEntriesHash(entriesBlock.Bytes(), entryWidth))
	out.Write(entriesHashField[:])

	return out.Bytes(), nil
}

// chainedEntriesHash computes entries_hash: lookup3 chained over each
// fixed-width entry in order, the running (pc,pb) pair carried from one
// entry into the next rather than hashed over the whole block at once.
func chainedEntriesHash(entriesBlock []byte, entryWidth int) uint32 {
	var pc, pb uint32
	for off := 0; off+entryWidth <= len(entriesBlock); off += entryWidth {
		pc, pb = lookup3.Hashlittle2(entriesBlock[off:off+entryWidth], pc, pb)
	}
	return pc
}

func align8(n int) int {
	if n%8 == 0 {
		return n
	}
	return n + (8 - n%8)
}

func paddedTo8(b []byte) []byte {
	return padTo(b, 8)
}

func padTo(b []byte, n int) []byte {
	if len(b) >= n {
		return b[:n]
	}
	out := make([]byte, n)
	copy(out, b)
	return out
}
