// Package ckey implements the two 16-byte MD5-derived key spaces used
// throughout NGDP: content keys (CKEY) and encoding keys (EKEY). They share
// layout and behavior but are kept as distinct types so a CKEY can never be
// passed where an EKEY is expected, and vice versa.
package ckey

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
)

const Size = 16

// ShortSize is the length of the idx "short key" prefix.
const ShortSize = 9

// ContentKey identifies file content, independent of how it is encoded.
type ContentKey [Size]byte

// EncodingKey identifies one particular BLTE-encoded byte stream.
type EncodingKey [Size]byte

// SumContent computes the content key of data: MD5(data).
func SumContent(data []byte) ContentKey {
	return ContentKey(md5.Sum(data))
}

// SumEncoding computes the encoding key of an encoded (BLTE) byte stream: MD5(data).
func SumEncoding(data []byte) EncodingKey {
	return EncodingKey(md5.Sum(data))
}

// Short returns the first 9 bytes, the key used to index into CASC idx
// buckets.
func (k ContentKey) Short() [ShortSize]byte {
	var s [ShortSize]byte
	copy(s[:], k[:ShortSize])
	return s
}

// Short returns the first 9 bytes, the key used to index into CASC idx
// buckets.
func (k EncodingKey) Short() [ShortSize]byte {
	var s [ShortSize]byte
	copy(s[:], k[:ShortSize])
	return s
}

func (k ContentKey) IsZero() bool { return k == ContentKey{} }
func (k EncodingKey) IsZero() bool { return k == EncodingKey{} }

func (k ContentKey) String() string { return hex.EncodeToString(k[:]) }
func (k EncodingKey) String() string { return hex.EncodeToString(k[:]) }

// ParseContentKey decodes a lowercase or uppercase hex string into a
// ContentKey. The string must decode to exactly Size bytes.
func ParseContentKey(s string) (ContentKey, error) {
	var k ContentKey
	b, err := hex.DecodeString(s)
	if err != nil {
		return k, fmt.Errorf("ckey: parse content key %q: %w", s, err)
	}
	if len(b) != Size {
		return k, fmt.Errorf("ckey: content key %q has %d bytes, want %d", s, len(b), Size)
	}
	copy(k[:], b)
	return k, nil
}

// ParseEncodingKey decodes a lowercase or uppercase hex string into an
// EncodingKey. The string must decode to exactly Size bytes.
func ParseEncodingKey(s string) (EncodingKey, error) {
	var k EncodingKey
	b, err := hex.DecodeString(s)
	if err != nil {
		return k, fmt.Errorf("ckey: parse encoding key %q: %w", s, err)
	}
	if len(b) != Size {
		return k, fmt.Errorf("ckey: encoding key %q has %d bytes, want %d", s, len(b), Size)
	}
	copy(k[:], b)
	return k, nil
}

// ContentKeyFromSlice copies a Size-byte slice into a ContentKey.
func ContentKeyFromSlice(b []byte) (ContentKey, error) {
	var k ContentKey
	if len(b) != Size {
		return k, fmt.Errorf("ckey: content key slice has %d bytes, want %d", len(b), Size)
	}
	copy(k[:], b)
	return k, nil
}

// EncodingKeyFromSlice copies a Size-byte slice into an EncodingKey.
func EncodingKeyFromSlice(b []byte) (EncodingKey, error) {
	var k EncodingKey
	if len(b) != Size {
		return k, fmt.Errorf("ckey: encoding key slice has %d bytes, want %d", len(b), Size)
	}
	copy(k[:], b)
	return k, nil
}

// reversed returns a byte-reversed copy, used by on-disk layouts (notably
// the data.NNN file header) that store keys in reverse byte order relative
// to the hex form everyone reads.
func reversed(b [Size]byte) [Size]byte {
	var out [Size]byte
	for i := 0; i < Size; i++ {
		out[i] = b[Size-1-i]
	}
	return out
}

// Reversed returns k with its bytes in reverse order.
func (k ContentKey) Reversed() ContentKey { return ContentKey(reversed(k)) }

// Reversed returns k with its bytes in reverse order.
func (k EncodingKey) Reversed() EncodingKey { return EncodingKey(reversed(k)) }
