package blte

import (
	"bytes"
	"compress/flate"
	"crypto/md5"
	"encoding/binary"
	"fmt"

	"golang.org/x/crypto/salsa20/salsa"

	"github.com/steed-rs/ngdp/espec"
)

// EncodeOptions supplies key material for 'e' specs.
type EncodeOptions struct {
	Keys KeyRing
}

// Encode encodes data according to spec, producing a complete BLTE stream
// (magic, chunk table, and framed chunk payloads).
func Encode(data []byte, spec espec.Spec, opts EncodeOptions) ([]byte, error) {
	chunks, err := encodeSpec(data, spec, 0, opts)
	if err != nil {
		return nil, err
	}

	if len(chunks) == 1 && !chunks[0].framed {
		var out bytes.Buffer
		out.Write(Magic[:])
		var hdr [4]byte
		binary.BigEndian.PutUint32(hdr[:], 0)
		out.Write(hdr[:])
		out.Write(chunks[0].encoded)
		return out.Bytes(), nil
	}

	var out bytes.Buffer
	out.Write(Magic[:])
	headerSize := uint32(8 + 4 + len(chunks)*24)
	var hdr [4]byte
	binary.BigEndian.PutUint32(hdr[:], headerSize)
	out.Write(hdr[:])
	out.WriteByte(0x0F)
	out.WriteByte(byte(len(chunks) >> 16))
	out.WriteByte(byte(len(chunks) >> 8))
	out.WriteByte(byte(len(chunks)))
	for _, c := range chunks {
		var e [24]byte
		binary.BigEndian.PutUint32(e[0:4], uint32(len(c.encoded)))
		binary.BigEndian.PutUint32(e[4:8], uint32(c.decodedSize))
		sum := md5.Sum(c.encoded)
		copy(e[8:24], sum[:])
		out.Write(e[:])
	}
	for _, c := range chunks {
		out.Write(c.encoded)
	}
	return out.Bytes(), nil
}

type encodedChunk struct {
	encoded     []byte
	decodedSize int
	framed      bool
}

func encodeSpec(data []byte, spec espec.Spec, chunkIndex uint32, opts EncodeOptions) ([]encodedChunk, error) {
	switch s := spec.(type) {
	case espec.Raw:
		return []encodedChunk{{encoded: append([]byte{byte(ModeRaw)}, data...), decodedSize: len(data)}}, nil

	case espec.Zip:
		level := s.Level
		if level == 0 {
			level = flate.DefaultCompression
		}
		zipped, err := encodeZlibWindowed(data, level, s.WindowBits(len(data)))
		if err != nil {
			return nil, err
		}
		return []encodedChunk{{encoded: append([]byte{byte(ModeZlib)}, zipped...), decodedSize: len(data)}}, nil

	case espec.Encrypted:
		if opts.Keys == nil {
			return nil, fmt.Errorf("blte: encode encrypted chunk: %w", ErrUnknownKey)
		}
		key, ok := opts.Keys.Lookup(s.KeyName)
		if !ok {
			return nil, fmt.Errorf("blte: encode encrypted chunk: %w", ErrUnknownKey)
		}
		innerChunks, err := encodeSpec(data, s.Inner, chunkIndex, opts)
		if err != nil {
			return nil, err
		}
		if len(innerChunks) != 1 {
			return nil, fmt.Errorf("blte: encrypted inner spec must produce exactly one payload")
		}
		plain := innerChunks[0].encoded
		nonce := blockNonce(s.IV, chunkIndex)
		var key32 [32]byte
		copy(key32[:], key[:])
		cipher := make([]byte, len(plain))
		salsa.XORKeyStream(cipher, plain, &nonce, &key32)

		var payload bytes.Buffer
		payload.WriteByte(byte(ModeEncrypted))
		payload.WriteByte(8)
		payload.Write(s.KeyName[:])
		payload.WriteByte(4)
		payload.Write(s.IV[:])
		payload.WriteByte(byte(EncryptionSalsa20))
		payload.Write(cipher)
		return []encodedChunk{{encoded: payload.Bytes(), decodedSize: len(data)}}, nil

	case espec.Blocks:
		return encodeBlocks(data, s.Size, chunkIndex, opts)

	default:
		return nil, fmt.Errorf("blte: unsupported spec node %T", spec)
	}
}

func encodeBlocks(data []byte, size espec.BlockSize, startIndex uint32, opts EncodeOptions) ([]encodedChunk, error) {
	var out []encodedChunk
	idx := startIndex
	offset := 0

	emit := func(chunkData []byte, inner espec.Spec) error {
		cs, err := encodeSpec(chunkData, inner, idx, opts)
		if err != nil {
			return err
		}
		if len(cs) != 1 {
			return fmt.Errorf("blte: block inner spec must produce exactly one payload")
		}
		cs[0].framed = true
		out = append(out, cs[0])
		idx++
		return nil
	}

	switch s := size.(type) {
	case espec.Chunked:
		for _, c := range s.Chunks {
			count := c.Count
			if count == 0 {
				count = 1
			}
			for i := uint32(0); i < count; i++ {
				if offset+int(c.Size) > len(data) {
					return nil, ErrChunkUnderflow
				}
				if err := emit(data[offset:offset+int(c.Size)], c.Inner); err != nil {
					return nil, err
				}
				offset += int(c.Size)
			}
		}
		if offset != len(data) {
			return nil, ErrLeftoverData
		}
	case espec.ChunkedGreedy:
		for _, c := range s.Chunks {
			count := c.Count
			if count == 0 {
				count = 1
			}
			for i := uint32(0); i < count; i++ {
				if offset+int(c.Size) > len(data) {
					return nil, ErrChunkUnderflow
				}
				if err := emit(data[offset:offset+int(c.Size)], c.Inner); err != nil {
					return nil, err
				}
				offset += int(c.Size)
			}
		}
		if err := emit(data[offset:], s.Inner); err != nil {
			return nil, err
		}
	case espec.Greedy:
		if err := emit(data, s.Inner); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("blte: unsupported block size node %T", size)
	}
	return out, nil
}
