// Package bitpack packs and unpacks the odd-width integers the CASC wire
// formats use: little-endian uint24/uint40 and the big-endian 10-bit/30-bit
// split fields used by the archive index and shmem ledger.
package bitpack

import "encoding/binary"

// PutUint24LE writes the low 24 bits of v into buf (len(buf) >= 3).
func PutUint24LE(buf []byte, v uint32) {
	buf[0] = byte(v)
	buf[1] = byte(v >> 8)
	buf[2] = byte(v >> 16)
}

// Uint24LE reads a little-endian 24-bit integer from buf (len(buf) >= 3).
func Uint24LE(buf []byte) uint32 {
	_ = buf[2]
	return uint32(buf[0]) | uint32(buf[1])<<8 | uint32(buf[2])<<16
}

// PutUint40LE writes the low 40 bits of v into buf (len(buf) >= 5).
func PutUint40LE(buf []byte, v uint64) {
	var tmp [8]byte
	binary.LittleEndian.PutUint64(tmp[:], v)
	copy(buf[:5], tmp[:5])
}

// Uint40LE reads a little-endian 40-bit integer from buf (len(buf) >= 5).
func Uint40LE(buf []byte) uint64 {
	var tmp [8]byte
	copy(tmp[:5], buf[:5])
	return binary.LittleEndian.Uint64(tmp[:])
}

// Put10_30BE packs (hi a 10-bit field, lo a 30-bit field) into a 5-byte
// big-endian field: the archive index's packed (archive_index, offset).
func Put10_30BE(buf []byte, hi uint16, lo uint32) {
	v := (uint64(hi&0x3ff) << 30) | uint64(lo&0x3fffffff)
	buf[0] = byte(v >> 32)
	buf[1] = byte(v >> 24)
	buf[2] = byte(v >> 16)
	buf[3] = byte(v >> 8)
	buf[4] = byte(v)
}

// Get10_30BE unpacks a 5-byte big-endian (10-bit, 30-bit) field.
func Get10_30BE(buf []byte) (hi uint16, lo uint32) {
	v := uint64(buf[0])<<32 | uint64(buf[1])<<24 | uint64(buf[2])<<16 | uint64(buf[3])<<8 | uint64(buf[4])
	hi = uint16((v >> 30) & 0x3ff)
	lo = uint32(v & 0x3fffffff)
	return hi, lo
}
