package binreader

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestIntegers(t *testing.T) {
	r := New([]byte{0x00, 0x01, 0x02, 0x03, 0x04})
	v, err := r.Uint32BE()
	require.NoError(t, err)
	require.Equal(t, uint32(0x00010203), v)

	b, err := r.Byte()
	require.NoError(t, err)
	require.Equal(t, byte(0x04), b)
}

func TestUintLEWidth(t *testing.T) {
	r := New([]byte{0x11, 0x22, 0x33, 0x44, 0x55})
	v, err := r.UintLE(5)
	require.NoError(t, err)
	require.Equal(t, uint64(0x5544332211), v)
}

func TestUintBEWidth(t *testing.T) {
	r := New([]byte{0x11, 0x22, 0x33})
	v, err := r.UintBE(3)
	require.NoError(t, err)
	require.Equal(t, uint64(0x112233), v)
}

func TestStringZero(t *testing.T) {
	r := New([]byte("hello\x00world"))
	s, err := r.StringZero()
	require.NoError(t, err)
	require.Equal(t, "hello", s)
	rest, err := r.Take(5)
	require.NoError(t, err)
	require.Equal(t, "world", string(rest))
}

func TestStringZeroUnterminated(t *testing.T) {
	r := New([]byte("hello"))
	_, err := r.StringZero()
	require.Error(t, err)
}

func TestMarkRestore(t *testing.T) {
	r := New([]byte{1, 2, 3, 4})
	mark := r.Mark()
	_, err := r.Take(2)
	require.NoError(t, err)
	r.Restore(mark)
	require.Equal(t, 0, r.Pos())
}

func TestTakeOutOfRange(t *testing.T) {
	r := New([]byte{1, 2})
	_, err := r.Take(3)
	require.Error(t, err)
}

func TestRepeatAndCond(t *testing.T) {
	r := New([]byte{1, 2, 3, 0xFF})
	vals, err := Repeat(r, 3, func(r *Reader) (byte, error) { return r.Byte() })
	require.NoError(t, err)
	require.Equal(t, []byte{1, 2, 3}, vals)

	v, err := Cond(r, true, func(r *Reader) (byte, error) { return r.Byte() })
	require.NoError(t, err)
	require.Equal(t, byte(0xFF), v)

	z, err := Cond(r, false, func(r *Reader) (byte, error) { return r.Byte() })
	require.NoError(t, err)
	require.Equal(t, byte(0), z)
}

func TestMany0(t *testing.T) {
	r := New([]byte{1, 2, 3})
	vals := Many0(r, func(r *Reader) (byte, error) { return r.Byte() })
	require.Equal(t, []byte{1, 2, 3}, vals)
	require.Equal(t, 0, r.Remaining())
}
