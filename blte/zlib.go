package blte

import (
	"bytes"
	"compress/flate"
	"encoding/binary"
	"fmt"
	"hash/adler32"
)

// encodeZlibWindowed zlib-compresses data at the given level, writing a
// zlib header whose CINFO nibble reflects windowBits instead of stdlib
// zlib.Writer's fixed 32K window. compress/flate has no parameter that
// actually caps DEFLATE's match-distance search, so this only makes the
// advertised window honest; it does not retroactively shrink
// back-references a wider internal search already found.
func encodeZlibWindowed(data []byte, level, windowBits int) ([]byte, error) {
	if windowBits < 8 || windowBits > 15 {
		windowBits = 15
	}

	var out bytes.Buffer

	cinfo := byte(windowBits - 8)
	cmf := (cinfo << 4) | 0x08
	flg := zlibFLevel(level) << 6
	if rem := (int(cmf)*256 + int(flg)) % 31; rem != 0 {
		flg += byte(31 - rem)
	}
	out.WriteByte(cmf)
	out.WriteByte(flg)

	fw, err := flate.NewWriter(&out, level)
	if err != nil {
		return nil, fmt.Errorf("blte: flate writer: %w", err)
	}
	if _, err := fw.Write(data); err != nil {
		return nil, fmt.Errorf("blte: flate write: %w", err)
	}
	if err := fw.Close(); err != nil {
		return nil, fmt.Errorf("blte: flate close: %w", err)
	}

	var trailer [4]byte
	binary.BigEndian.PutUint32(trailer[:], adler32.Checksum(data))
	out.Write(trailer[:])

	return out.Bytes(), nil
}

// zlibFLevel maps a flate compression level to the zlib header's
// informational 2-bit FLEVEL field. Decoders don't act on it; it only
// hints at what produced the stream.
func zlibFLevel(level int) byte {
	switch level {
	case flate.NoCompression, flate.BestSpeed:
		return 0
	case flate.DefaultCompression:
		return 2
	case flate.BestCompression:
		return 3
	}
	switch {
	case level <= 2:
		return 0
	case level <= 6:
		return 1
	default:
		return 2
	}
}
