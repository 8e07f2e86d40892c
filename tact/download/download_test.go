package download

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"
)

func buildManifest(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	buf.WriteString("DL")
	buf.WriteByte(1)  // version 1: no checksum/flags, no base priority
	buf.WriteByte(16) // hash size

	writeU32 := func(v uint32) {
		var b [4]byte
		binary.BigEndian.PutUint32(b[:], v)
		buf.Write(b[:])
	}
	writeU16 := func(v uint16) {
		var b [2]byte
		binary.BigEndian.PutUint16(b[:], v)
		buf.Write(b[:])
	}

	writeU32(2) // num entries
	writeU16(1) // num tags

	for i := 0; i < 2; i++ {
		var key [16]byte
		key[0] = byte(i + 1)
		buf.Write(key[:])
		var size [5]byte
		size[4] = byte(100 * (i + 1))
		buf.Write(size[:])
		buf.WriteByte(0) // priority
	}

	buf.WriteString("HighPriority")
	buf.WriteByte(0)
	writeU16(7)
	buf.WriteByte(0b10000000)

	return buf.Bytes()
}

func TestParseAndEntriesWithTags(t *testing.T) {
	m, err := Parse(buildManifest(t))
	require.NoError(t, err)
	require.Len(t, m.Entries, 2)

	sel := m.EntriesWithTags("HighPriority")
	require.Len(t, sel, 1)
	require.Equal(t, byte(1), sel[0].Key[0])
}

func TestEntriesNoTagsReturnsAll(t *testing.T) {
	m, err := Parse(buildManifest(t))
	require.NoError(t, err)
	require.Equal(t, m.Entries, m.EntriesWithTags())
}
