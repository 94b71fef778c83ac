package value

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/skyline-net/skyline/pkg/wire/binary"
)

func roundTrip(t *testing.T, v Value) Value {
	t.Helper()
	w := binary.NewWriter()
	require.NoError(t, v.Encode(w))
	r := binary.NewReader(w.Bytes())
	got, err := Decode(r)
	require.NoError(t, err)
	require.Equal(t, 0, r.Len())
	return got
}

func TestScalarRoundTrip(t *testing.T) {
	require.Equal(t, String("hi"), roundTrip(t, String("hi")))
	require.Equal(t, Number(3.25), roundTrip(t, Number(3.25)))
	require.Equal(t, Integer(-7), roundTrip(t, Integer(-7)))
	require.Equal(t, Boolean(true), roundTrip(t, Boolean(true)))
	require.Equal(t, Null(), roundTrip(t, Null()))
	require.Equal(t, Date(1700000000), roundTrip(t, Date(1700000000)))
}

func TestListRoundTrip(t *testing.T) {
	v := List([]Value{String("a"), Integer(1), Boolean(false)})
	require.Equal(t, v, roundTrip(t, v))
}

func TestNestedListRoundTrip(t *testing.T) {
	v := List([]Value{List([]Value{Integer(1), Integer(2)}), String("tail")})
	require.Equal(t, v, roundTrip(t, v))
}

func TestMapRoundTripWithValidKeys(t *testing.T) {
	v := Map([]Value{String("k1"), Number(2)}, []Value{Integer(1), Boolean(true)})
	require.Equal(t, v, roundTrip(t, v))
}

func TestMapEncodeRejectsInvalidKey(t *testing.T) {
	v := Map([]Value{List([]Value{Integer(1)})}, []Value{Null()})
	w := binary.NewWriter()
	require.ErrorIs(t, v.Encode(w), ErrUnsupportedMapKey)
}

func TestMapDecodeRejectsInvalidKey(t *testing.T) {
	w := binary.NewWriter()
	w.U8(TagMap)
	w.VarU32(1)
	// key tag = TagList (invalid key)
	w.U8(TagList)
	w.VarU32(0)
	// value
	w.U8(TagNull)

	r := binary.NewReader(w.Bytes())
	_, err := Decode(r)
	require.ErrorIs(t, err, ErrUnsupportedMapKey)
}
