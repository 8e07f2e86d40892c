package lookup3

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFixedVectors(t *testing.T) {
	cases := []struct {
		data   []byte
		pc, pb uint32
		wantPc uint32
		wantPb uint32
	}{
		{[]byte{}, 0, 0, 0xDEADBEEF, 0xDEADBEEF},
		{[]byte{}, 0, 0xDEADBEEF, 0xBD5B7DDE, 0xDEADBEEF},
		{[]byte("Four score and seven years ago"), 0, 0, 0x17770551, 0xCE7226E6},
		{[]byte("Four score and seven years ago"), 0, 1, 0xE3607CAE, 0xBD371DE4},
		{[]byte("Four score and seven years ago"), 1, 0, 0xCD628161, 0x6CBEA4B3},
	}
	for _, c := range cases {
		pc, pb := Hashlittle2(c.data, c.pc, c.pb)
		require.Equal(t, c.wantPc, pc)
		require.Equal(t, c.wantPb, pb)
	}
}
