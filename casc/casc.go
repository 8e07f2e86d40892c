// Package casc ties together the archive index, the shmem free-space
// ledger, and the data.NNN archive files into the client-facing content
// store: given a content key, it resolves the encoding key, locates the
// BLTE bytes in an archive, and hands them to package blte for decoding.
package casc

import (
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/steed-rs/ngdp/blte"
	"github.com/steed-rs/ngdp/casc/idx"
	"github.com/steed-rs/ngdp/internal/ckey"
	"github.com/steed-rs/ngdp/internal/lookup3"
	"github.com/steed-rs/ngdp/tact/encoding"
	"github.com/steed-rs/ngdp/tact/keys"
)

// FileHeader is the small framing record written immediately before a
// file's BLTE bytes inside a data.NNN archive.
type FileHeader struct {
	Hash      ckey.EncodingKey // un-reversed ekey; stored on disk byte-reversed
	Size      uint32           // total size, header included
	ChecksumA uint32
	ChecksumB uint32
}

// FileHeaderSize is the fixed on-disk size of a FileHeader: 16-byte
// reversed ekey, 4-byte size, 2 reserved zero bytes, two 4-byte checksums.
const FileHeaderSize = 16 + 4 + 2 + 4 + 4

// table16C57A8 is the literal 16-entry permutation table checksum_b folds
// the encoded offset through.
var table16C57A8 = [16]uint32{
	0x049396b8, 0x72a82a9b, 0xee626cca, 0x9917754f,
	0x15de40b1, 0xf5a8a9b6, 0x421eac7e, 0xa9d55c9a,
	0x317fd40c, 0x04faf80d, 0x3d6be971, 0x52933cfd,
	0x27f64b7d, 0xc6f5c11b, 0xd5757e3a, 0x6c388745,
}

// Checksums computes (checksum_a, checksum_b) for a file header at the
// given archive position. checksum_a hashes the first 22 bytes (reversed
// ekey, size, 2 zero bytes); checksum_b additionally depends on where the
// header lives, since it folds in offset and archiveIndex.
func Checksums(hash ckey.EncodingKey, totalSize uint32, archiveIndex uint16, offset uint32) (a, b uint32) {
	rev := hash.Reversed()

	var buf [26]byte
	copy(buf[0:16], rev[:])
	binary.LittleEndian.PutUint32(buf[16:20], totalSize)
	// buf[20:22] stay zero.

	a = lookup3.Hashlittle(buf[0:22], 0x3D6BE971)
	binary.LittleEndian.PutUint32(buf[22:26], a)

	encodedOffset := offset + FileHeaderSize
	mixed := table16C57A8[encodedOffset&0x0F] ^ encodedOffset
	var encoded [4]byte
	binary.LittleEndian.PutUint32(encoded[:], mixed)

	adjOffset := (offset & 0x3FFFFFFF) | (uint32(archiveIndex&3) << 30)

	var acc [4]byte
	for i := 0; i < 26; i++ {
		acc[(uint32(i)+adjOffset)%4] ^= buf[i]
	}
	var bBytes [4]byte
	for j := uint32(0); j < 4; j++ {
		k := (j + 26 + adjOffset) % 4
		bBytes[j] = acc[k] ^ encoded[k]
	}
	b = binary.LittleEndian.Uint32(bBytes[:])
	return a, b
}

// ParseFileHeader decodes a FileHeader from the FileHeaderSize bytes
// immediately preceding a file's BLTE content in a data.NNN archive.
// archiveIndex and offset are the position the header was read from,
// needed to verify checksum_b.
func ParseFileHeader(data []byte, archiveIndex uint16, offset uint32) (FileHeader, error) {
	if len(data) < FileHeaderSize {
		return FileHeader{}, fmt.Errorf("casc: truncated file header, %d bytes", len(data))
	}
	var h FileHeader
	var rev ckey.EncodingKey
	copy(rev[:], data[0:16])
	h.Hash = rev.Reversed()
	h.Size = binary.LittleEndian.Uint32(data[16:20])
	h.ChecksumA = binary.LittleEndian.Uint32(data[22:26])
	h.ChecksumB = binary.LittleEndian.Uint32(data[26:30])

	wantA, wantB := Checksums(h.Hash, h.Size, archiveIndex, offset)
	if h.ChecksumA != wantA || h.ChecksumB != wantB {
		return h, fmt.Errorf("casc: file header checksum mismatch: got (%08x,%08x) want (%08x,%08x)",
			h.ChecksumA, h.ChecksumB, wantA, wantB)
	}
	return h, nil
}

// WriteFileHeader serializes a FileHeader for a file whose framed bytes
// will live at (archiveIndex, offset) in a data.NNN archive, computing
// its position-dependent checksums.
func WriteFileHeader(hash ckey.EncodingKey, totalSize uint32, archiveIndex uint16, offset uint32) []byte {
	a, b := Checksums(hash, totalSize, archiveIndex, offset)
	rev := hash.Reversed()
	out := make([]byte, FileHeaderSize)
	copy(out[0:16], rev[:])
	binary.LittleEndian.PutUint32(out[16:20], totalSize)
	binary.LittleEndian.PutUint32(out[22:26], a)
	binary.LittleEndian.PutUint32(out[26:30], b)
	return out
}

// Store is an open CASC install: its data directory, loaded archive
// indexes, encoding table, and decryption keys.
type Store struct {
	DataDir string
	Keys    *keys.TactKeys
	Enc     *encoding.Encoding

	mu      sync.RWMutex
	buckets [idx.NumBuckets]*idx.File
	archives map[uint16]*os.File
}

// Open loads every idx bucket file under dataDir/data and returns a
// Store ready for ReadByCKey. The encoding table and key ring are supplied
// by the caller (loaded separately, since their source differs: CDN fetch
// vs local key file).
func Open(dataDir string, enc *encoding.Encoding, tactKeys *keys.TactKeys) (*Store, error) {
	s := &Store{
		DataDir:  dataDir,
		Keys:     tactKeys,
		Enc:      enc,
		archives: make(map[uint16]*os.File),
	}
	for b := 0; b < idx.NumBuckets; b++ {
		path := filepath.Join(dataDir, "data", fmt.Sprintf("%02x.idx", b))
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, fmt.Errorf("casc: read bucket %02x: %w", b, err)
		}
		f, err := idx.Parse(data)
		if err != nil {
			return nil, fmt.Errorf("casc: parse bucket %02x: %w", b, err)
		}
		s.buckets[b] = f
	}
	return s, nil
}

// Close releases open archive file handles.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var firstErr error
	for _, f := range s.archives {
		if err := f.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (s *Store) archiveFile(archiveIndex uint16) (*os.File, error) {
	s.mu.RLock()
	f, ok := s.archives[archiveIndex]
	s.mu.RUnlock()
	if ok {
		return f, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if f, ok := s.archives[archiveIndex]; ok {
		return f, nil
	}
	path := filepath.Join(s.DataDir, "data", fmt.Sprintf("data.%03d", archiveIndex))
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("casc: open archive %d: %w", archiveIndex, err)
	}
	s.archives[archiveIndex] = f
	return f, nil
}

// ReadByEKey locates and fully decodes the file stored under ekey.
func (s *Store) ReadByEKey(ek ckey.EncodingKey) ([]byte, error) {
	short := ek.Short()
	bucket := idx.Bucket(short)

	s.mu.RLock()
	bf := s.buckets[bucket]
	s.mu.RUnlock()
	if bf == nil {
		return nil, fmt.Errorf("casc: bucket %d not loaded", bucket)
	}
	entry, ok := bf.Lookup(short)
	if !ok {
		return nil, fmt.Errorf("casc: ekey %s not found in bucket %d", ek, bucket)
	}

	f, err := s.archiveFile(entry.ArchiveIndex)
	if err != nil {
		return nil, err
	}

	raw := make([]byte, entry.Size)
	if _, err := f.ReadAt(raw, int64(entry.Offset)); err != nil {
		return nil, fmt.Errorf("casc: read archive %d at %d: %w", entry.ArchiveIndex, entry.Offset, err)
	}

	header, err := ParseFileHeader(raw, entry.ArchiveIndex, entry.Offset)
	if err != nil {
		return nil, err
	}
	if header.Hash != ek {
		return nil, fmt.Errorf("casc: file header ekey %s does not match requested %s", header.Hash, ek)
	}
	if header.Size > uint32(len(raw)) {
		return nil, fmt.Errorf("casc: archive entry shorter than header size %d", header.Size)
	}
	body := raw[FileHeaderSize:header.Size]

	return blte.Decode(body, blte.DecodeOptions{Keys: s.Keys})
}

// BucketEntries returns the idx entries loaded for bucket b, or nil if
// that bucket's idx file is absent. Intended for maintenance scans
// (verify, rebuild-unused) rather than ordinary lookups.
func (s *Store) BucketEntries(b uint8) []idx.Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if int(b) >= len(s.buckets) || s.buckets[b] == nil {
		return nil
	}
	return s.buckets[b].Entries
}

// ReadByEKeyShort decodes the file addressed by a bucket-scan entry's
// short key, without requiring the caller to already know the full
// encoding key (the archive's own FileHeader carries it). Used by
// maintenance scans that walk idx entries directly.
func (s *Store) ReadByEKeyShort(short [ckey.ShortSize]byte) ([]byte, error) {
	bucket := idx.Bucket(short)

	s.mu.RLock()
	bf := s.buckets[bucket]
	s.mu.RUnlock()
	if bf == nil {
		return nil, fmt.Errorf("casc: bucket %d not loaded", bucket)
	}
	entry, ok := bf.Lookup(short)
	if !ok {
		return nil, fmt.Errorf("casc: short key %x not found in bucket %d", short, bucket)
	}

	f, err := s.archiveFile(entry.ArchiveIndex)
	if err != nil {
		return nil, err
	}
	raw := make([]byte, entry.Size)
	if _, err := f.ReadAt(raw, int64(entry.Offset)); err != nil {
		return nil, fmt.Errorf("casc: read archive %d at %d: %w", entry.ArchiveIndex, entry.Offset, err)
	}

	header, err := ParseFileHeader(raw, entry.ArchiveIndex, entry.Offset)
	if err != nil {
		return nil, err
	}
	if header.Hash.Short() != short {
		return nil, fmt.Errorf("casc: file header ekey %s does not match bucket entry %x", header.Hash, short)
	}
	if header.Size > uint32(len(raw)) {
		return nil, fmt.Errorf("casc: archive entry shorter than header size %d", header.Size)
	}
	body := raw[FileHeaderSize:header.Size]

	return blte.Decode(body, blte.DecodeOptions{Keys: s.Keys})
}

// ReadByCKey resolves ckey to its encoding key(s) via the encoding table
// and reads the first available one.
func (s *Store) ReadByCKey(ck ckey.ContentKey) ([]byte, error) {
	ekeys, err := s.Enc.LookupByCKey(ck)
	if err != nil {
		return nil, fmt.Errorf("casc: resolve ckey %s: %w", ck, err)
	}
	if len(ekeys) == 0 {
		return nil, fmt.Errorf("casc: ckey %s has no encoding keys", ck)
	}
	return s.ReadByEKey(ekeys[0])
}
