package ckey

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSumContent(t *testing.T) {
	k := SumContent([]byte("hello world"))
	require.Equal(t, "5eb63bbbe01eeed093cb22bb8f5acdc3", k.String())
}

func TestParseRoundTrip(t *testing.T) {
	k, err := ParseContentKey("5eb63bbbe01eeed093cb22bb8f5acdc3")
	require.NoError(t, err)
	require.Equal(t, "5eb63bbbe01eeed093cb22bb8f5acdc3", k.String())
}

func TestParseWrongLength(t *testing.T) {
	_, err := ParseContentKey("deadbeef")
	require.Error(t, err)
}

func TestShort(t *testing.T) {
	k, err := ParseEncodingKey("0123456789abcdef0123456789abcdef")
	require.NoError(t, err)
	require.Equal(t, "0123456789abcdef01", hexShort(k.Short()))
}

func TestReversed(t *testing.T) {
	k, err := ParseContentKey("000102030405060708090a0b0c0d0e0f")
	require.NoError(t, err)
	rev, err := ParseContentKey("0f0e0d0c0b0a09080706050403020100")
	require.NoError(t, err)
	require.Equal(t, rev, k.Reversed())
	require.Equal(t, k, k.Reversed().Reversed())
}

func hexShort(b [ShortSize]byte) string {
	const hexdigits = "0123456789abcdef"
	out := make([]byte, 0, ShortSize*2)
	for _, c := range b {
		out = append(out, hexdigits[c>>4], hexdigits[c&0xf])
	}
	return string(out)
}
