package espec

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseRaw(t *testing.T) {
	s, err := Parse("n")
	require.NoError(t, err)
	require.Equal(t, Raw{}, s)
	require.Equal(t, "n", s.String())
}

func TestParseZip(t *testing.T) {
	s, err := Parse("z")
	require.NoError(t, err)
	require.Equal(t, Zip{}, s)
	require.Equal(t, "z", s.String())

	s, err = Parse("z=9")
	require.NoError(t, err)
	require.Equal(t, Zip{Level: 9}, s)
	require.Equal(t, "z=9", s.String())

	s, err = Parse("z=6,mpq")
	require.NoError(t, err)
	require.Equal(t, Zip{Level: 6, MPQ: true}, s)
	require.Equal(t, "z=6,mpq", s.String())

	s, err = Parse("z=9,window=11")
	require.NoError(t, err)
	require.Equal(t, Zip{Level: 9, Window: 11}, s)
	require.Equal(t, "z=9,window=11", s.String())
}

func TestMPQWindowBitsTable(t *testing.T) {
	cases := []struct {
		inputLen int
		want     int
	}{
		{512, 9},
		{513, 10},
		{1024, 10},
		{2000, 11},
		{2048, 11},
		{4096, 12},
		{8192, 13},
		{16384, 14},
		{16385, 15},
	}
	for _, c := range cases {
		z := Zip{MPQ: true}
		require.Equal(t, c.want, z.WindowBits(c.inputLen))
	}
}

func TestParseChunkedBlocks(t *testing.T) {
	s, err := Parse("b:{256K*4=z,1M=n}")
	require.NoError(t, err)
	blocks, ok := s.(Blocks)
	require.True(t, ok)
	chunked, ok := blocks.Size.(Chunked)
	require.True(t, ok)
	require.Len(t, chunked.Chunks, 2)
	require.Equal(t, uint32(256*1024), chunked.Chunks[0].Size)
	require.Equal(t, uint32(4), chunked.Chunks[0].Count)
	require.Equal(t, Zip{}, chunked.Chunks[0].Inner)
	require.Equal(t, uint32(1<<20), chunked.Chunks[1].Size)
	require.Equal(t, Raw{}, chunked.Chunks[1].Inner)
	require.Equal(t, "b:{256K*4={z},1M={n}}", s.String())
}

func TestParseChunkedGreedy(t *testing.T) {
	s, err := Parse("b:{256K=z,*=n}")
	require.NoError(t, err)
	blocks := s.(Blocks)
	cg, ok := blocks.Size.(ChunkedGreedy)
	require.True(t, ok)
	require.Len(t, cg.Chunks, 1)
	require.Equal(t, Raw{}, cg.Inner)
}

func TestParseGreedy(t *testing.T) {
	s, err := Parse("b:{*=z}")
	require.NoError(t, err)
	blocks := s.(Blocks)
	g, ok := blocks.Size.(Greedy)
	require.True(t, ok)
	require.Equal(t, Zip{}, g.Inner)
	require.Equal(t, "b:{*={z}}", s.String())
}

func TestParseEncrypted(t *testing.T) {
	s, err := Parse("e,0102030405060708,aabbccdd,{n}")
	require.NoError(t, err)
	e, ok := s.(Encrypted)
	require.True(t, ok)
	require.Equal(t, [8]byte{0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08}, e.KeyName)
	require.Equal(t, [4]byte{0xaa, 0xbb, 0xcc, 0xdd}, e.IV)
	require.Equal(t, Raw{}, e.Inner)
}

func TestParseTrailingGarbage(t *testing.T) {
	_, err := Parse("nx")
	require.Error(t, err)
}

func TestParseInvalidTag(t *testing.T) {
	_, err := Parse("q")
	require.Error(t, err)
}
