package config

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseBuildConfig(t *testing.T) {
	const text = `# comment
root = aaaa1111 bbbb2222
encoding = cccc3333 dddd4444 100 200
build-name = WOW-12345
build-uid = wow
`
	bc, err := ParseBuildConfig(strings.NewReader(text))
	require.NoError(t, err)
	require.Equal(t, "aaaa1111", bc.Root.Decoded.Hash)
	require.Equal(t, "bbbb2222", bc.Root.Encoded.Hash)
	require.Equal(t, "cccc3333", bc.Encoding.Decoded.Hash)
	require.Equal(t, uint64(100), bc.Encoding.Decoded.Size)
	require.Equal(t, uint64(200), bc.Encoding.Encoded.Size)
	require.Equal(t, "WOW-12345", bc.BuildName)
	require.Nil(t, bc.Install)
}

func TestParseCDNConfig(t *testing.T) {
	const text = `archives = aa11 bb22 cc33
archives-index-size = 100 200 300
file-index = ff00
file-index-size = 4096
`
	cc, err := ParseCDNConfig(strings.NewReader(text))
	require.NoError(t, err)
	require.Equal(t, []string{"aa11", "bb22", "cc33"}, cc.Archives)
	require.Equal(t, []uint64{100, 200, 300}, cc.ArchivesIndexSize)
	require.Equal(t, "ff00", cc.FileIndex)
	require.Equal(t, uint64(4096), cc.FileIndexSize)
}

func TestParseMissingEquals(t *testing.T) {
	_, err := Parse(strings.NewReader("not-a-kv-line"))
	require.Error(t, err)
}
