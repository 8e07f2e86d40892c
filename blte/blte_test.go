package blte

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/steed-rs/ngdp/espec"
	"github.com/steed-rs/ngdp/tact/keys"
)

func TestRoundTripRaw(t *testing.T) {
	data := []byte("hello, world! this is some test content.")
	encoded, err := Encode(data, espec.Raw{}, EncodeOptions{})
	require.NoError(t, err)

	decoded, err := Decode(encoded, DecodeOptions{})
	require.NoError(t, err)
	require.Equal(t, data, decoded)
}

func TestRoundTripZip(t *testing.T) {
	data := []byte("aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaabbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb")
	encoded, err := Encode(data, espec.Zip{Level: 9}, EncodeOptions{})
	require.NoError(t, err)
	require.Equal(t, byte('B'), encoded[0])

	decoded, err := Decode(encoded, DecodeOptions{})
	require.NoError(t, err)
	require.Equal(t, data, decoded)
}

func TestRoundTripZipMPQWindow(t *testing.T) {
	data := make([]byte, 2000)
	for i := range data {
		data[i] = byte(i % 251)
	}
	encoded, err := Encode(data, espec.Zip{Level: 9, MPQ: true}, EncodeOptions{})
	require.NoError(t, err)
	require.Equal(t, byte('B'), encoded[0])

	// The zlib payload starts right after the single-byte 'Z' mode tag.
	zlibBytes := encoded[len(Magic)+4+1:]
	require.Equal(t, byte(0x08), zlibBytes[0]&0x0F, "CM nibble must be 8 (deflate)")
	cinfo := zlibBytes[0] >> 4
	require.Equal(t, byte(11-8), cinfo, "2000-byte input picks MPQ window=11")
	require.Equal(t, uint16(0), (uint16(zlibBytes[0])*256+uint16(zlibBytes[1]))%31)

	decoded, err := Decode(encoded, DecodeOptions{})
	require.NoError(t, err)
	require.Equal(t, data, decoded)
}

func TestRoundTripChunked(t *testing.T) {
	data := make([]byte, 32)
	for i := range data {
		data[i] = byte(i)
	}
	spec := espec.Blocks{Size: espec.Chunked{Chunks: []espec.Chunk{
		{Size: 16, Count: 2, Inner: espec.Raw{}},
	}}}
	encoded, err := Encode(data, spec, EncodeOptions{})
	require.NoError(t, err)

	decoded, err := Decode(encoded, DecodeOptions{})
	require.NoError(t, err)
	require.Equal(t, data, decoded)
}

func TestRoundTripChunkedGreedy(t *testing.T) {
	data := make([]byte, 40)
	for i := range data {
		data[i] = byte(i * 3)
	}
	spec := espec.Blocks{Size: espec.ChunkedGreedy{
		Chunks: []espec.Chunk{{Size: 16, Count: 1, Inner: espec.Raw{}}},
		Inner:  espec.Zip{},
	}}
	encoded, err := Encode(data, spec, EncodeOptions{})
	require.NoError(t, err)

	decoded, err := Decode(encoded, DecodeOptions{})
	require.NoError(t, err)
	require.Equal(t, data, decoded)
}

func TestRoundTripEncrypted(t *testing.T) {
	data := []byte("top secret payload, encrypted with salsa20")
	tk := keys.New()
	name := [8]byte{1, 2, 3, 4, 5, 6, 7, 8}
	key := [16]byte{0: 0xAA, 15: 0xBB}
	tk.Add(name, key)

	spec := espec.Encrypted{KeyName: name, IV: [4]byte{9, 9, 9, 9}, Inner: espec.Raw{}}
	encoded, err := Encode(data, spec, EncodeOptions{Keys: tk})
	require.NoError(t, err)

	decoded, err := Decode(encoded, DecodeOptions{Keys: tk})
	require.NoError(t, err)
	require.Equal(t, data, decoded)
}

func TestDecodeUnknownKeyZeroFills(t *testing.T) {
	data := []byte("secret")
	tk := keys.New()
	name := [8]byte{1, 2, 3, 4, 5, 6, 7, 8}
	tk.Add(name, [16]byte{})

	spec := espec.Encrypted{KeyName: name, IV: [4]byte{1, 1, 1, 1}, Inner: espec.Raw{}}
	encoded, err := Encode(data, spec, EncodeOptions{Keys: tk})
	require.NoError(t, err)

	emptyKeys := keys.New()
	decoded, err := Decode(encoded, DecodeOptions{Keys: emptyKeys})
	require.NoError(t, err)
	require.Equal(t, make([]byte, len(data)), decoded)
}

func TestDecodeUnknownKeyStrictErrors(t *testing.T) {
	data := []byte("secret")
	tk := keys.New()
	name := [8]byte{1, 2, 3, 4, 5, 6, 7, 8}
	tk.Add(name, [16]byte{})

	spec := espec.Encrypted{KeyName: name, IV: [4]byte{1, 1, 1, 1}, Inner: espec.Raw{}}
	encoded, err := Encode(data, spec, EncodeOptions{Keys: tk})
	require.NoError(t, err)

	_, err = Decode(encoded, DecodeOptions{Keys: keys.New(), StrictKeys: true})
	require.ErrorIs(t, err, ErrUnknownKey)
}

func TestDecodeBadMagic(t *testing.T) {
	_, err := Decode([]byte("NOPE1234"), DecodeOptions{})
	require.ErrorIs(t, err, ErrBadMagic)
}

func TestDecodeChunkChecksumMismatch(t *testing.T) {
	data := []byte("checksum me please")
	spec := espec.Blocks{Size: espec.Chunked{Chunks: []espec.Chunk{
		{Size: uint32(len(data)), Count: 1, Inner: espec.Raw{}},
	}}}
	encoded, err := Encode(data, spec, EncodeOptions{})
	require.NoError(t, err)
	encoded[len(encoded)-1] ^= 0xFF

	_, err = Decode(encoded, DecodeOptions{})
	require.ErrorIs(t, err, ErrChunkChecksum)
}
