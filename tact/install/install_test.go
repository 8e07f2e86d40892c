package install

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"
)

func buildManifest(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	buf.WriteString("IN")
	buf.WriteByte(1) // version
	buf.WriteByte(16) // hash size

	writeU16 := func(v uint16) {
		var b [2]byte
		binary.BigEndian.PutUint16(b[:], v)
		buf.Write(b[:])
	}
	writeU32 := func(v uint32) {
		var b [4]byte
		binary.BigEndian.PutUint32(b[:], v)
		buf.Write(b[:])
	}

	writeU16(2)  // num tags
	writeU32(3)  // num entries

	// tag "Windows": files 0,2
	buf.WriteString("Windows")
	buf.WriteByte(0)
	writeU16(1)
	buf.WriteByte(0b10100000)

	// tag "enUS": files 1,2
	buf.WriteString("enUS")
	buf.WriteByte(0)
	writeU16(2)
	buf.WriteByte(0b01100000)

	for i, name := range []string{"a.txt", "b.txt", "c.txt"} {
		buf.WriteString(name)
		buf.WriteByte(0)
		var key [16]byte
		key[0] = byte(i + 1)
		buf.Write(key[:])
		writeU32(uint32(100 * (i + 1)))
	}
	return buf.Bytes()
}

func TestParseAndFilesWithTags(t *testing.T) {
	m, err := Parse(buildManifest(t))
	require.NoError(t, err)
	require.Len(t, m.Files, 3)

	win := m.FilesWithTags("Windows")
	require.Len(t, win, 2)
	require.Equal(t, "a.txt", win[0].Name)
	require.Equal(t, "c.txt", win[1].Name)

	both := m.FilesWithTags("Windows", "enUS")
	require.Len(t, both, 1)
	require.Equal(t, "c.txt", both[0].Name)
}

func TestFilesWithUnknownTag(t *testing.T) {
	m, err := Parse(buildManifest(t))
	require.NoError(t, err)
	require.Nil(t, m.FilesWithTags("nonexistent"))
}
