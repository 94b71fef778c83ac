package binary

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFixedWidthRoundTrip(t *testing.T) {
	w := NewWriter()
	w.U8(0x42)
	w.U16(1234)
	w.U16LE(1234)
	w.U32(567890)
	w.U64(1 << 40)
	w.F64(3.5)
	w.String("hello world")

	r := NewReader(w.Bytes())
	u8, err := r.U8()
	require.NoError(t, err)
	require.Equal(t, uint8(0x42), u8)

	u16, err := r.U16()
	require.NoError(t, err)
	require.Equal(t, uint16(1234), u16)

	u16le, err := r.U16LE()
	require.NoError(t, err)
	require.Equal(t, uint16(1234), u16le)

	u32, err := r.U32()
	require.NoError(t, err)
	require.Equal(t, uint32(567890), u32)

	u64, err := r.U64()
	require.NoError(t, err)
	require.Equal(t, uint64(1<<40), u64)

	f64, err := r.F64()
	require.NoError(t, err)
	require.Equal(t, 3.5, f64)

	s, err := r.String()
	require.NoError(t, err)
	require.Equal(t, "hello world", s)
}

func TestVarintRoundTrip(t *testing.T) {
	cases := []uint32{0, 1, 127, 128, 300, 1 << 20, ^uint32(0)}
	for _, c := range cases {
		w := NewWriter()
		w.VarU32(c)
		r := NewReader(w.Bytes())
		got, err := r.VarU32()
		require.NoError(t, err)
		require.Equal(t, c, got)
	}
}

func TestVarU64RoundTrip(t *testing.T) {
	cases := []uint64{0, 1, 1 << 40, ^uint64(0)}
	for _, c := range cases {
		w := NewWriter()
		w.VarU64(c)
		r := NewReader(w.Bytes())
		got, err := r.VarU64()
		require.NoError(t, err)
		require.Equal(t, c, got)
	}
}

func TestBytes16LengthPrefix(t *testing.T) {
	w := NewWriter()
	w.Bytes16([]byte("payload"))
	r := NewReader(w.Bytes())
	got, err := r.Bytes16()
	require.NoError(t, err)
	require.Equal(t, []byte("payload"), got)
}

func TestTruncatedReadsError(t *testing.T) {
	r := NewReader([]byte{0x01})
	_, err := r.U32()
	require.ErrorIs(t, err, ErrTruncated)
}

func TestVarintTooLong(t *testing.T) {
	r := NewReader([]byte{0x80, 0x80, 0x80, 0x80, 0x80, 0x80})
	_, err := r.VarU32()
	require.ErrorIs(t, err, ErrVarintTooLong)
}
