// Package blte implements the BLTE chunked container format: the layer
// between a CASC archive's raw bytes and the content they decode to. A
// BLTE stream is either a single unframed chunk or a header listing one or
// more chunks, each independently compressed, encrypted, or nested.
package blte

import (
	"crypto/md5"
	"errors"
	"fmt"

	"github.com/steed-rs/ngdp/tact/keys"
)

// Magic is the 4-byte signature at the start of every BLTE stream.
var Magic = [4]byte{'B', 'L', 'T', 'E'}

// Mode is the tag byte that starts every chunk's payload.
type Mode byte

const (
	ModeRaw       Mode = 'N'
	ModeZlib      Mode = 'Z'
	ModeEncrypted Mode = 'E'
	ModeFrame     Mode = 'F'
)

// EncryptionType is the tag byte inside an 'E' chunk identifying the
// cipher. Only Salsa20 is implemented; ARC4 streams exist in the wild but
// are not produced by any client this package targets.
type EncryptionType byte

const (
	EncryptionSalsa20 EncryptionType = 'S'
	EncryptionARC4    EncryptionType = 'A'
)

// ChunkInfo describes one chunk's framing: its compressed size on disk, its
// decompressed size, and the MD5 checksum of its compressed bytes.
type ChunkInfo struct {
	CompressedSize   uint32
	DecompressedSize uint32
	Checksum         [16]byte
}

var (
	// ErrBadMagic is returned when the stream does not start with "BLTE".
	ErrBadMagic = errors.New("blte: bad magic")
	// ErrChunkChecksum is returned when a chunk's compressed bytes don't
	// match its declared MD5 checksum.
	ErrChunkChecksum = errors.New("blte: chunk checksum mismatch")
	// ErrUnknownKey is returned decoding an 'E' chunk whose key name isn't
	// present in the active TactKeys table. Per the client's own
	// behavior, the decoded output is zero-filled rather than treated as
	// fatal, so this error is informational unless the caller opts into
	// strict mode.
	ErrUnknownKey = errors.New("blte: unknown encryption key")
	// ErrUnsupportedEncryption is returned for encryption types other
	// than Salsa20.
	ErrUnsupportedEncryption = errors.New("blte: unsupported encryption type")
	// ErrLeftoverData is returned encoding/decoding when bytes remain
	// after all declared chunks have been consumed.
	ErrLeftoverData = errors.New("blte: leftover data after last chunk")
	// ErrChunkUnderflow is returned encoding when fixed-size chunks are
	// declared but the source data runs out before filling them.
	ErrChunkUnderflow = errors.New("blte: not enough data to fill declared chunks")
)

func verifyChecksum(data []byte, want [16]byte) error {
	got := md5.Sum(data)
	if got != want {
		return fmt.Errorf("%w: got %x want %x", ErrChunkChecksum, got, want)
	}
	return nil
}

// KeyRing resolves an 8-byte TACT key name to a 16-byte Salsa20 key,
// implemented by *keys.TactKeys.
type KeyRing interface {
	Lookup(name [8]byte) ([16]byte, bool)
}

var _ KeyRing = (*keys.TactKeys)(nil)
