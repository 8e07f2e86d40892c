package casc

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/steed-rs/ngdp/blte"
	"github.com/steed-rs/ngdp/casc/idx"
	"github.com/steed-rs/ngdp/espec"
	"github.com/steed-rs/ngdp/internal/ckey"
	"github.com/steed-rs/ngdp/tact/keys"
)

func TestFileHeaderRoundTrip(t *testing.T) {
	ek := ckey.SumEncoding([]byte("archive entry content"))
	data := WriteFileHeader(ek, 1234, 3, 4096)

	h, err := ParseFileHeader(data, 3, 4096)
	require.NoError(t, err)
	require.Equal(t, ek, h.Hash)
	require.Equal(t, uint32(1234), h.Size)
}

func TestFileHeaderEkeyStoredReversed(t *testing.T) {
	ek := ckey.SumEncoding([]byte("archive entry content"))
	data := WriteFileHeader(ek, 1234, 0, 0)

	rev := ek.Reversed()
	require.Equal(t, rev[:], data[0:16])
}

func TestParseFileHeaderRejectsCorruptChecksum(t *testing.T) {
	ek := ckey.SumEncoding([]byte("archive entry content"))
	data := WriteFileHeader(ek, 1234, 0, 0)
	data[22] ^= 0xFF

	_, err := ParseFileHeader(data, 0, 0)
	require.Error(t, err)
}

func TestParseFileHeaderRejectsWrongPosition(t *testing.T) {
	ek := ckey.SumEncoding([]byte("archive entry content"))
	data := WriteFileHeader(ek, 1234, 0, 0)

	_, err := ParseFileHeader(data, 1, 4096)
	require.Error(t, err)
}

func TestStoreReadByEKey(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "data"), 0o755))

	content := []byte("store round trip content")
	encoded, err := blte.Encode(content, espec.Raw{}, blte.EncodeOptions{})
	require.NoError(t, err)
	ek := ckey.SumEncoding(encoded)

	totalSize := uint32(FileHeaderSize + len(encoded))
	header := WriteFileHeader(ek, totalSize, 0, 0)
	frame := append(header, encoded...)

	archivePath := filepath.Join(dir, "data", "data.000")
	require.NoError(t, os.WriteFile(archivePath, frame, 0o644))

	short := ek.Short()
	bucket := idx.Bucket(short)
	bf := &idx.File{
		Header: idx.Header{Bucket: bucket},
		Entries: []idx.Entry{
			{Key: short, ArchiveIndex: 0, Offset: 0, Size: uint32(len(frame))},
		},
	}
	idxData, err := idx.Write(bf)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "data", idxFileName(bucket)), idxData, 0o644))

	store, err := Open(dir, nil, keys.New())
	require.NoError(t, err)
	defer store.Close()

	got, err := store.ReadByEKey(ek)
	require.NoError(t, err)
	require.Equal(t, content, got)

	got2, err := store.ReadByEKeyShort(short)
	require.NoError(t, err)
	require.Equal(t, content, got2)

	entries := store.BucketEntries(bucket)
	require.Len(t, entries, 1)
}

func idxFileName(b uint8) string {
	const hextable = "0123456789abcdef"
	return string([]byte{hextable[b>>4], hextable[b&0xF]}) + ".idx"
}
