package keys

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadText(t *testing.T) {
	const text = `# comment
FA505078126ACB3E 0EBE36B5010DFD2E3C80417758B08D35

DA6AFB68346A6985 12E2EFA2F9F9F1E8F39E40C5D3284E64
`
	tk, err := LoadText(strings.NewReader(text))
	require.NoError(t, err)
	require.Equal(t, 2, tk.Len())

	name := [8]byte{0xFA, 0x50, 0x50, 0x78, 0x12, 0x6A, 0xCB, 0x3E}
	key, ok := tk.Lookup(name)
	require.True(t, ok)
	require.Equal(t, byte(0x0E), key[0])
}

func TestLoadTextMalformed(t *testing.T) {
	_, err := LoadText(strings.NewReader("not-hex 0EBE36B5010DFD2E3C80417758B08D35"))
	require.Error(t, err)
}

func TestLookupMissing(t *testing.T) {
	tk := New()
	_, ok := tk.Lookup([8]byte{})
	require.False(t, ok)
}
