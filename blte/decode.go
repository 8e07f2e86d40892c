package blte

import (
	"bytes"
	"compress/zlib"
	"encoding/binary"
	"fmt"
	"io"

	"golang.org/x/crypto/salsa20/salsa"
)

// DecodeOptions tunes Decode's behavior for unknown keys and nested frames.
type DecodeOptions struct {
	// Keys resolves encryption key names. Nil disables decryption
	// entirely: every 'E' chunk decodes to ErrUnknownKey behavior
	// (zero-filled) regardless of whether the key would have been
	// found.
	Keys KeyRing
	// StrictKeys turns an unknown key name into a hard error instead of
	// zero-filling the chunk, matching an auditing tool's needs rather
	// than a game client's "skip what you can't decrypt" behavior.
	StrictKeys bool
}

// Decode parses and fully decodes a BLTE stream, recursively decoding any
// nested ('F' mode) frames, and returns the concatenated plaintext.
func Decode(data []byte, opts DecodeOptions) ([]byte, error) {
	if len(data) < 8 || !bytes.Equal(data[:4], Magic[:]) {
		return nil, ErrBadMagic
	}
	headerSize := binary.BigEndian.Uint32(data[4:8])

	var chunks []ChunkInfo
	var body []byte
	if headerSize == 0 {
		body = data[8:]
		chunks = []ChunkInfo{{CompressedSize: uint32(len(body)), DecompressedSize: uint32(len(body))}}
	} else {
		if len(data) < int(headerSize) {
			return nil, fmt.Errorf("blte: header_size %d exceeds stream length %d", headerSize, len(data))
		}
		header := data[8:headerSize]
		if len(header) < 4 {
			return nil, fmt.Errorf("blte: truncated chunk table header")
		}
		flags := header[0]
		if flags != 0x0F {
			return nil, fmt.Errorf("blte: unexpected chunk table flags 0x%02x", flags)
		}
		chunkCount := int(header[1])<<16 | int(header[2])<<8 | int(header[3])
		header = header[4:]
		if len(header) < chunkCount*24 {
			return nil, fmt.Errorf("blte: chunk table too short for %d chunks", chunkCount)
		}
		chunks = make([]ChunkInfo, chunkCount)
		for i := 0; i < chunkCount; i++ {
			e := header[i*24 : (i+1)*24]
			ci := ChunkInfo{
				CompressedSize:   binary.BigEndian.Uint32(e[0:4]),
				DecompressedSize: binary.BigEndian.Uint32(e[4:8]),
			}
			copy(ci.Checksum[:], e[8:24])
			chunks[i] = ci
		}
		body = data[headerSize:]
	}

	var out bytes.Buffer
	off := 0
	for i, ci := range chunks {
		if off+int(ci.CompressedSize) > len(body) {
			return nil, fmt.Errorf("blte: chunk %d compressed size %d exceeds remaining body %d", i, ci.CompressedSize, len(body)-off)
		}
		chunkData := body[off : off+int(ci.CompressedSize)]
		off += int(ci.CompressedSize)

		if headerSize != 0 {
			if err := verifyChecksum(chunkData, ci.Checksum); err != nil {
				return nil, fmt.Errorf("blte: chunk %d: %w", i, err)
			}
		}

		plain, err := decodeChunk(chunkData, uint32(i), int(ci.DecompressedSize), opts)
		if err != nil {
			return nil, fmt.Errorf("blte: chunk %d: %w", i, err)
		}
		out.Write(plain)
	}
	if off != len(body) {
		return nil, ErrLeftoverData
	}
	return out.Bytes(), nil
}

func decodeChunk(data []byte, index uint32, expectedSize int, opts DecodeOptions) ([]byte, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("empty chunk")
	}
	mode := Mode(data[0])
	payload := data[1:]
	switch mode {
	case ModeRaw:
		return payload, nil
	case ModeZlib:
		zr, err := zlib.NewReader(bytes.NewReader(payload))
		if err != nil {
			return nil, fmt.Errorf("zlib: %w", err)
		}
		defer zr.Close()
		out, err := io.ReadAll(zr)
		if err != nil {
			return nil, fmt.Errorf("zlib: %w", err)
		}
		return out, nil
	case ModeEncrypted:
		plainEncoded, err := decryptChunk(payload, index, opts)
		if err != nil {
			if !opts.StrictKeys && (err == ErrUnknownKey) {
				return make([]byte, expectedSize), nil
			}
			return nil, err
		}
		return decodeChunk(plainEncoded, index, expectedSize, opts)
	case ModeFrame:
		return Decode(payload, opts)
	default:
		return nil, fmt.Errorf("unknown chunk mode %q", byte(mode))
	}
}

func decryptChunk(payload []byte, index uint32, opts DecodeOptions) ([]byte, error) {
	if len(payload) < 1 {
		return nil, fmt.Errorf("truncated encrypted chunk")
	}
	keyNameLen := int(payload[0])
	payload = payload[1:]
	if len(payload) < keyNameLen {
		return nil, fmt.Errorf("truncated key name")
	}
	var keyName [8]byte
	if keyNameLen != 8 {
		return nil, fmt.Errorf("unexpected key name length %d", keyNameLen)
	}
	copy(keyName[:], payload[:keyNameLen])
	payload = payload[keyNameLen:]

	if len(payload) < 1 {
		return nil, fmt.Errorf("truncated iv length")
	}
	ivLen := int(payload[0])
	payload = payload[1:]
	if len(payload) < ivLen {
		return nil, fmt.Errorf("truncated iv")
	}
	var iv [4]byte
	copy(iv[:], payload[:ivLen])
	payload = payload[ivLen:]

	if len(payload) < 1 {
		return nil, fmt.Errorf("truncated encryption type")
	}
	encType := EncryptionType(payload[0])
	payload = payload[1:]

	if encType != EncryptionSalsa20 {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedEncryption, byte(encType))
	}

	if opts.Keys == nil {
		return nil, ErrUnknownKey
	}
	key, ok := opts.Keys.Lookup(keyName)
	if !ok {
		return nil, ErrUnknownKey
	}

	nonce := blockNonce(iv, index)
	out := make([]byte, len(payload))
	var key32 [32]byte
	copy(key32[:], key[:])
	salsa.XORKeyStream(out, payload, &nonce, &key32)
	return out, nil
}

// blockNonce builds the 8-byte Salsa20 nonce used by BLTE: the 4-byte IV
// followed by 4 zero bytes, XORed in its low bytes with the little-endian
// chunk index.
func blockNonce(iv [4]byte, index uint32) [8]byte {
	var nonce [8]byte
	copy(nonce[:4], iv[:])
	var idx [4]byte
	binary.LittleEndian.PutUint32(idx[:], index)
	for i := 0; i < 4; i++ {
		nonce[i] ^= idx[i]
	}
	return nonce
}
