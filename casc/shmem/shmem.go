// Package shmem implements the CASC free-space ledger: the "shmem" (shared
// memory) file that tracks, per data.NNN archive, which byte ranges are
// unused and the current version stamp of each idx bucket. The installer
// consults it before writing new content and updates it as part of every
// commit.
package shmem

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"sort"

	"github.com/steed-rs/ngdp/internal/bitpack"
)

// NumBuckets mirrors idx.NumBuckets; duplicated here to avoid a dependency
// cycle, since idx has no need to know about shmem.
const NumBuckets = 16

// MaxDataSize is the per-archive capacity cap: a freshly allocated or
// currently-missing data.NNN file is treated as having this many bytes
// available rather than whatever stale count its slot last recorded.
const MaxDataSize = 0x3FFFFFFF

// DefaultDataPath is the path prefix real clients stamp into the primary
// header block.
const DefaultDataPath = `Global\../Data/data`

const (
	dataPathSize   = 0x100
	numUnusedSlots = 1090

	block3PaddingSize = 20140

	// Fixed values real builds stamp into the primary header block: the
	// on-disk byte size of that block (next_block) and the self-describing
	// BlockEntry that follows it.
	primaryNextBlock      = 336
	primaryBlockEntrySize = 10936
	primaryBlockEntryOff  = 336

	// unused_byte_counts/positions array length, next_block for block 1.
	freeSpaceNextBlock = numUnusedSlots
)

const (
	blockTagEnd     = 0
	blockTagFree    = 1
	blockTagPadding = 3
	blockTagPrimary = 4
	blockTagPrimary2 = 5
)

// UnusedSlot is one free byte range inside a single data.NNN archive, as
// stored in a block-1 (unused_byte_counts/positions) slot pair.
// DataFileMissing marks a slot whose archive hasn't been created yet (or
// was deleted): its remaining capacity is MaxDataSize minus whatever was
// already handed out, not the literal stored Count.
type UnusedSlot struct {
	DataFileMissing bool
	DataNumber      uint16
	Count           uint32
	Offset          uint32
}

// Shmem is the parsed free-space ledger: the data directory path stamped
// into the primary block, the per-bucket idx version stamps, and the list
// of reclaimable byte ranges across all archives.
type Shmem struct {
	DataPath      string
	IndexVersions [NumBuckets]uint32
	Unused        []UnusedSlot
}

// New returns an empty ledger with every bucket at version 0 and the
// default data path.
func New() *Shmem {
	return &Shmem{DataPath: DefaultDataPath}
}

// Parse decodes a shmem file: a sequence of u32-tagged blocks (0, 1, 3, 4,
// 5) with no overall header, ending at a tag-0 terminator block.
func Parse(data []byte) (*Shmem, error) {
	s := New()
	r := bytes.NewReader(data)
	sawPrimary := false

	for r.Len() > 0 {
		tag, err := readUint32(r)
		if err != nil {
			return nil, fmt.Errorf("shmem: read block tag: %w", err)
		}
		switch tag {
		case blockTagEnd:
			if _, err := readUint32(r); err != nil {
				return nil, fmt.Errorf("shmem: read terminator next_block: %w", err)
			}
			return s, nil
		case blockTagFree:
			if err := parseFreeBlock(r, s); err != nil {
				return nil, err
			}
		case blockTagPadding:
			if _, err := io.CopyN(io.Discard, r, block3PaddingSize); err != nil {
				return nil, fmt.Errorf("shmem: read padding block: %w", err)
			}
		case blockTagPrimary, blockTagPrimary2:
			if err := parsePrimaryBlock(r, s); err != nil {
				return nil, err
			}
			sawPrimary = true
		default:
			return nil, fmt.Errorf("shmem: unknown block tag %d", tag)
		}
	}
	if !sawPrimary {
		return nil, fmt.Errorf("shmem: missing primary header block")
	}
	return s, nil
}

func parsePrimaryBlock(r *bytes.Reader, s *Shmem) error {
	if _, err := readUint32(r); err != nil { // next_block
		return fmt.Errorf("shmem: read primary next_block: %w", err)
	}
	pathBuf := make([]byte, dataPathSize)
	if _, err := io.ReadFull(r, pathBuf); err != nil {
		return fmt.Errorf("shmem: read data_path: %w", err)
	}
	s.DataPath = nulTerminated(pathBuf)

	if _, err := readUint32(r); err != nil { // BlockEntry.size (self-describing, fixed)
		return fmt.Errorf("shmem: read block entry size: %w", err)
	}
	if _, err := readUint32(r); err != nil { // BlockEntry.offset
		return fmt.Errorf("shmem: read block entry offset: %w", err)
	}

	for i := range s.IndexVersions {
		v, err := readUint32(r)
		if err != nil {
			return fmt.Errorf("shmem: read index version %d: %w", i, err)
		}
		s.IndexVersions[i] = v
	}
	return nil
}

func parseFreeBlock(r *bytes.Reader, s *Shmem) error {
	if _, err := readUint32(r); err != nil { // next_block
		return fmt.Errorf("shmem: read free block next_block: %w", err)
	}
	if _, err := io.CopyN(io.Discard, r, 24); err != nil {
		return fmt.Errorf("shmem: read free block padding: %w", err)
	}

	var counts, positions [numUnusedSlots][5]byte
	for i := range counts {
		if _, err := io.ReadFull(r, counts[i][:]); err != nil {
			return fmt.Errorf("shmem: read unused_byte_counts[%d]: %w", i, err)
		}
	}
	for i := range positions {
		if _, err := io.ReadFull(r, positions[i][:]); err != nil {
			return fmt.Errorf("shmem: read unused_byte_positions[%d]: %w", i, err)
		}
	}
	if _, err := io.CopyN(io.Discard, r, 4); err != nil {
		return fmt.Errorf("shmem: read free block trailing padding: %w", err)
	}

	s.Unused = s.Unused[:0]
	for i := 0; i < numUnusedSlots; i++ {
		missing, count := bitpack.Get10_30BE(counts[i][:])
		dataNumber, offset := bitpack.Get10_30BE(positions[i][:])
		if missing == 0 && count == 0 && dataNumber == 0 && offset == 0 {
			continue
		}
		s.Unused = append(s.Unused, UnusedSlot{
			DataFileMissing: missing != 0,
			DataNumber:      dataNumber,
			Count:           count,
			Offset:          offset,
		})
	}
	return nil
}

// Write serializes the ledger back to its on-disk form: a primary header
// block, one free-space block, and a terminator. len(s.Unused) must not
// exceed the fixed 1090-slot table a free-space block can hold.
func Write(s *Shmem) ([]byte, error) {
	if len(s.Unused) > numUnusedSlots {
		return nil, fmt.Errorf("shmem: %d unused slots exceeds the %d-slot table", len(s.Unused), numUnusedSlots)
	}

	var out bytes.Buffer

	dataPath := s.DataPath
	if dataPath == "" {
		dataPath = DefaultDataPath
	}
	writeUint32(&out, blockTagPrimary)
	writeUint32(&out, primaryNextBlock)
	pathBuf := make([]byte, dataPathSize)
	copy(pathBuf, dataPath)
	out.Write(pathBuf)
	writeUint32(&out, primaryBlockEntrySize)
	writeUint32(&out, primaryBlockEntryOff)
	for _, v := range s.IndexVersions {
		writeUint32(&out, v)
	}

	writeUint32(&out, blockTagFree)
	writeUint32(&out, freeSpaceNextBlock)
	out.Write(make([]byte, 24))
	for i := 0; i < numUnusedSlots; i++ {
		var buf [5]byte
		if i < len(s.Unused) {
			missing := uint16(0)
			if s.Unused[i].DataFileMissing {
				missing = 1
			}
			bitpack.Put10_30BE(buf[:], missing, s.Unused[i].Count)
		}
		out.Write(buf[:])
	}
	for i := 0; i < numUnusedSlots; i++ {
		var buf [5]byte
		if i < len(s.Unused) {
			bitpack.Put10_30BE(buf[:], s.Unused[i].DataNumber, s.Unused[i].Offset)
		}
		out.Write(buf[:])
	}
	out.Write(make([]byte, 4))

	writeUint32(&out, blockTagEnd)
	writeUint32(&out, 0)

	return out.Bytes(), nil
}

func readUint32(r *bytes.Reader) (uint32, error) {
	var v uint32
	err := binary.Read(r, binary.LittleEndian, &v)
	return v, err
}

func writeUint32(out *bytes.Buffer, v uint32) {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], v)
	out.Write(buf[:])
}

func nulTerminated(buf []byte) string {
	if i := bytes.IndexByte(buf, 0); i >= 0 {
		return string(buf[:i])
	}
	return string(buf)
}

// ReserveBytes scans Unused for the first slot with either enough Count or
// a set DataFileMissing flag (treated as MaxDataSize of headroom), carves
// size bytes off its front, and returns where to write. If no slot
// qualifies, it allocates at the end of newArchive/newArchiveSize (the
// caller's next data.NNN), which the caller is expected to grow.
func (s *Shmem) ReserveBytes(size uint64, newArchive uint32, newArchiveSize uint64) (archiveNumber uint32, offset uint64) {
	for i := range s.Unused {
		u := &s.Unused[i]
		if !u.DataFileMissing && uint64(u.Count) < size {
			continue
		}
		archiveNumber = uint32(u.DataNumber)
		offset = uint64(u.Offset)

		var newCount uint64
		if u.DataFileMissing {
			newCount = uint64(MaxDataSize) - size
		} else {
			newCount = uint64(u.Count) - size
		}
		u.Offset += uint32(size)
		u.DataFileMissing = false
		if newCount == 0 {
			s.Unused = append(s.Unused[:i], s.Unused[i+1:]...)
		} else {
			u.Count = uint32(newCount)
		}
		return archiveNumber, offset
	}
	return newArchive, newArchiveSize
}

// AddUnused records size bytes at offset in dataNumber as reclaimable,
// merging with an adjacent existing slot when possible to keep the free
// list from fragmenting indefinitely.
func (s *Shmem) AddUnused(dataNumber uint32, offset, size uint64) {
	for i := range s.Unused {
		u := &s.Unused[i]
		if u.DataFileMissing || uint32(u.DataNumber) != dataNumber {
			continue
		}
		if uint64(u.Offset)+uint64(u.Count) == offset {
			u.Count += uint32(size)
			return
		}
		if offset+size == uint64(u.Offset) {
			u.Offset = uint32(offset)
			u.Count += uint32(size)
			return
		}
	}
	s.Unused = append(s.Unused, UnusedSlot{DataNumber: uint16(dataNumber), Offset: uint32(offset), Count: uint32(size)})
}

// UsedRange is one byte range an idx entry claims within a data.NNN
// archive, the input to RebuildUnusedFromIndex.
type UsedRange struct {
	DataNumber uint32
	Offset     uint64
	Size       uint64
}

// RebuildUnusedFromIndex recomputes the free-space ledger from scratch
// given the used ranges actually present in the archive indexes and the
// known total size of each archive. Any gap between used ranges, or
// between the last used range and the archive's end, becomes a free
// slot. Archive numbers with no recorded size at all (up to 0xFF) are
// filled with a data_file_missing placeholder, matching the recovery
// behavior the installer relies on after a crash between an idx write and
// the matching shmem update.
func RebuildUnusedFromIndex(archiveSizes map[uint32]uint64, used []UsedRange) *Shmem {
	byArchive := make(map[uint32][]UsedRange)
	for _, u := range used {
		byArchive[u.DataNumber] = append(byArchive[u.DataNumber], u)
	}

	s := New()
	for archive, size := range archiveSizes {
		ranges := byArchive[archive]
		sort.Slice(ranges, func(i, j int) bool { return ranges[i].Offset < ranges[j].Offset })

		var cursor uint64
		for _, r := range ranges {
			if r.Offset > cursor {
				s.Unused = append(s.Unused, UnusedSlot{DataNumber: uint16(archive), Offset: uint32(cursor), Count: uint32(r.Offset - cursor)})
			}
			if end := r.Offset + r.Size; end > cursor {
				cursor = end
			}
		}
		if cursor < size {
			s.Unused = append(s.Unused, UnusedSlot{DataNumber: uint16(archive), Offset: uint32(cursor), Count: uint32(size - cursor)})
		}
	}
	for archive := uint32(0); archive <= 0xFF; archive++ {
		if _, ok := archiveSizes[archive]; !ok {
			s.Unused = append(s.Unused, UnusedSlot{DataNumber: uint16(archive), DataFileMissing: true})
		}
	}
	sort.Slice(s.Unused, func(i, j int) bool {
		if s.Unused[i].DataNumber != s.Unused[j].DataNumber {
			return s.Unused[i].DataNumber < s.Unused[j].DataNumber
		}
		return s.Unused[i].Offset < s.Unused[j].Offset
	})
	return s
}
