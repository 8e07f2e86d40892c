package encoding

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/steed-rs/ngdp/internal/ckey"
)

func TestRoundTrip(t *testing.T) {
	ck1 := ckey.SumContent([]byte("file one"))
	ck2 := ckey.SumContent([]byte("file two"))
	ek1 := ckey.SumEncoding([]byte("encoded one"))
	ek2 := ckey.SumEncoding([]byte("encoded two"))

	especs := []string{"n", "z"}
	ceEntries := []CEKeyEntry{
		{FileSize: 100, CKey: ck1, EKeys: []ckey.EncodingKey{ek1}},
		{FileSize: 200, CKey: ck2, EKeys: []ckey.EncodingKey{ek2}},
	}
	ekEntries := []EKeySpecEntry{
		{EKey: ek1, EspecIndex: 0, FileSize: 90},
		{EKey: ek2, EspecIndex: 1, FileSize: 190},
	}
	// page lookup requires sorted order by key
	if string(ck2[:]) < string(ck1[:]) {
		ceEntries[0], ceEntries[1] = ceEntries[1], ceEntries[0]
	}
	if string(ek2[:]) < string(ek1[:]) {
		ekEntries[0], ekEntries[1] = ekEntries[1], ekEntries[0]
	}

	data, err := Build(especs, ceEntries, ekEntries)
	require.NoError(t, err)

	enc, err := Parse(data)
	require.NoError(t, err)
	require.Equal(t, especs, enc.Especs)

	gotEKeys, err := enc.LookupByCKey(ceEntries[0].CKey)
	require.NoError(t, err)
	require.Equal(t, ceEntries[0].EKeys, gotEKeys)

	espec, err := enc.LookupEspec(ekEntries[0].EKey)
	require.NoError(t, err)
	require.Equal(t, especs[ekEntries[0].EspecIndex], espec)
}

func TestLookupMissing(t *testing.T) {
	data, err := Build(nil, nil, nil)
	require.NoError(t, err)
	enc, err := Parse(data)
	require.NoError(t, err)

	_, err = enc.LookupByCKey(ckey.ContentKey{1, 2, 3})
	require.Error(t, err)
}
