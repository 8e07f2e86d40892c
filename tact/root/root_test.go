package root

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/steed-rs/ngdp/internal/ckey"
)

func writeU32(buf *bytes.Buffer, v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	buf.Write(b[:])
}

func buildHeader(buf *bytes.Buffer, totalFileCount, namedFileCount uint32) {
	buf.WriteString("TSFM")
	writeU32(buf, totalFileCount)
	writeU32(buf, namedFileCount)
}

func buildBlock(buf *bytes.Buffer, contentFlags, localeFlags uint32, fileIDs []int64, ck ckey.ContentKey, includeNames bool) {
	deltas := make([]int64, len(fileIDs))
	prev := int64(-1)
	for i, id := range fileIDs {
		deltas[i] = id - prev - 1
		prev = id
	}
	writeU32(buf, uint32(len(fileIDs)))
	writeU32(buf, contentFlags)
	writeU32(buf, localeFlags)
	for _, d := range deltas {
		writeU32(buf, uint32(d))
	}
	for range fileIDs {
		buf.Write(ck[:])
		if includeNames {
			var b [8]byte
			binary.LittleEndian.PutUint64(b[:], 0xAABBCCDD)
			buf.Write(b[:])
		}
	}
}

func TestParseAndLookup(t *testing.T) {
	var buf bytes.Buffer
	buildHeader(&buf, 3, 3)
	ck := ckey.SumContent([]byte("root test content"))
	buildBlock(&buf, uint32(ContentFlagLoadOnWindows), uint32(LocaleAll), []int64{5, 6, 10}, ck, true)

	r, err := Parse(buf.Bytes())
	require.NoError(t, err)

	got, ok := r.LookupByFileDataID(6, ContentFlagLoadOnWindows, LocaleEnUS)
	require.True(t, ok)
	require.Equal(t, ck, got)

	_, ok = r.LookupByFileDataID(999, ContentFlagLoadOnWindows, LocaleEnUS)
	require.False(t, ok)
}

// When total_file_count == named_file_count the manifest claims every file
// is named, so a block's NO_NAME_HASH flag must not suppress name hashes.
func TestParseIgnoresNoNameHashWhenAllFilesNamed(t *testing.T) {
	var buf bytes.Buffer
	buildHeader(&buf, 2, 2)
	ck := ckey.SumContent([]byte("all named"))
	buildBlock(&buf, uint32(ContentFlagNoNames), uint32(LocaleAll), []int64{1, 2}, ck, true)

	r, err := Parse(buf.Bytes())
	require.NoError(t, err)
	require.Len(t, r.byNameHash, 1)
}

// When total_file_count != named_file_count the manifest admits unnamed
// files, so a block's NO_NAME_HASH flag takes effect and no name hash
// bytes are consumed for that block.
func TestParseHonorsNoNameHashWhenSomeFilesUnnamed(t *testing.T) {
	var buf bytes.Buffer
	buildHeader(&buf, 2, 0)
	ck := ckey.SumContent([]byte("unnamed"))
	buildBlock(&buf, uint32(ContentFlagNoNames), uint32(LocaleAll), []int64{1, 2}, ck, false)

	r, err := Parse(buf.Bytes())
	require.NoError(t, err)
	require.Empty(t, r.byNameHash)

	got, ok := r.LookupByFileDataID(2, ContentFlagNoNames, LocaleEnUS)
	require.True(t, ok)
	require.Equal(t, ck, got)
}

func TestLookupPathNormalization(t *testing.T) {
	a := LookupPath("World/Maps/Foo.adt")
	b := LookupPath(`WORLD\MAPS\FOO.ADT`)
	require.Equal(t, b, a)
}

func TestBadMagic(t *testing.T) {
	_, err := Parse([]byte("NOPE"))
	require.Error(t, err)
}
