package codec

import (
	"bytes"
	"math"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppendTs(t *testing.T) {
	assert.Equal(t, []byte{0, 0, 0, 0, 0, 0, 0, 0, 247, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff}, AppendTs(EncodeBytes(nil), 0))
	assert.Equal(t, []byte{42, 0, 5, 0, 0, 0, 0, 0, 250, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xfe, 0xf5}, AppendTs(EncodeBytes([]byte{42, 0, 5}), 0x10a))
	// newer timestamps sort first
	assert.True(t, bytes.Compare(AppendTs(EncodeBytes([]byte("row")), 100), AppendTs(EncodeBytes([]byte("row")), 99)) < 0)

	prefix, ts, err := SplitTs(AppendTs(EncodeBytes([]byte("row")), 99))
	require.Nil(t, err)
	assert.Equal(t, uint64(99), ts)
	_, row, err := DecodeBytes(prefix)
	require.Nil(t, err)
	assert.Equal(t, []byte("row"), row)

	_, _, err = SplitTs([]byte{1, 2})
	assert.NotNil(t, err)
}

func TestBytesOrder(t *testing.T) {
	inputs := [][]byte{{}, {0}, {1, 2, 3}, {1, 2, 3, 0}, {1, 2, 3, 4, 5, 6, 7, 8}, {1, 2, 3, 4, 5, 6, 7, 8, 9}, {0xff}}
	var asc, desc [][]byte
	for _, in := range inputs {
		a := AppendBytes(nil, in)
		d := AppendBytesDesc(nil, in)
		asc = append(asc, a)
		desc = append(desc, d)

		left, out, err := DecodeBytes(a)
		require.Nil(t, err)
		assert.Len(t, left, 0)
		assert.Equal(t, in, out)
		left, out, err = DecodeBytesDesc(d)
		require.Nil(t, err)
		assert.Len(t, left, 0)
		assert.Equal(t, in, out)
	}
	for i := 1; i < len(inputs); i++ {
		assert.True(t, bytes.Compare(asc[i-1], asc[i]) < 0)
		assert.True(t, bytes.Compare(desc[i-1], desc[i]) > 0)
	}
}

func TestNumberOrder(t *testing.T) {
	ints := []int64{math.MinInt64, -100, -1, 0, 1, 100, math.MaxInt64}
	for i := 1; i < len(ints); i++ {
		assert.True(t, bytes.Compare(EncodeInt(nil, ints[i-1]), EncodeInt(nil, ints[i])) < 0)
		assert.True(t, bytes.Compare(EncodeIntDesc(nil, ints[i-1]), EncodeIntDesc(nil, ints[i])) > 0)
	}
	for _, v := range ints {
		_, out, err := DecodeIntDesc(EncodeIntDesc(nil, v))
		require.Nil(t, err)
		assert.Equal(t, v, out)
	}

	floats := []float64{math.Inf(-1), -3.5, -0.25, 0, 0.25, 3.5, math.Inf(1)}
	for i := 1; i < len(floats); i++ {
		assert.True(t, bytes.Compare(EncodeFloat(nil, floats[i-1]), EncodeFloat(nil, floats[i])) < 0)
		assert.True(t, bytes.Compare(EncodeFloat32(nil, float32(floats[i-1])), EncodeFloat32(nil, float32(floats[i]))) < 0)
	}
	for _, v := range floats {
		_, out, err := DecodeFloatDesc(EncodeFloatDesc(nil, v))
		require.Nil(t, err)
		assert.Equal(t, v, out)
		_, out32, err := DecodeFloat32(EncodeFloat32(nil, float32(v)))
		require.Nil(t, err)
		assert.Equal(t, float32(v), out32)
	}

	_, _, err := DecodeInt([]byte{1, 2})
	assert.NotNil(t, err)
}

func TestNullOrder(t *testing.T) {
	null := EncodeNull(nil, false)
	nullDesc := EncodeNull(nil, true)
	for _, field := range [][]byte{
		EncodeInt64Field(nil, math.MinInt64, false),
		EncodeStringField(nil, "", false),
		EncodeFloat64Field(nil, math.Inf(-1), false),
	} {
		assert.True(t, bytes.Compare(null, field) < 0)
	}
	for _, field := range [][]byte{
		EncodeInt64Field(nil, math.MinInt64, true),
		EncodeStringField(nil, "", true),
		EncodeFloat32Field(nil, float32(math.Inf(-1)), true),
	} {
		assert.True(t, bytes.Compare(nullDesc, field) > 0)
	}
}

func TestMultiField(t *testing.T) {
	enc := NewMultiFieldEncoder(32)
	enc.EncodeNextInt64(-7, false).
		EncodeNextString("hello", true).
		EncodeNextNull(false).
		EncodeNextFloat64(2.5, true).
		EncodeNextFloat32(1.5, false).
		EncodeNextBytes([]byte{0, 1, 2, 3, 4, 5, 6, 7, 8}, false).
		EncodeNextUint64(42, true)
	assert.Equal(t, 7, enc.NumFields())
	data := enc.Build()

	dec := NewMultiFieldDecoder(data)
	i, isNull, err := dec.DecodeNextInt64(false)
	require.Nil(t, err)
	assert.False(t, isNull)
	assert.Equal(t, int64(-7), i)

	s, _, err := dec.DecodeNextString(true)
	require.Nil(t, err)
	assert.Equal(t, "hello", s)

	assert.True(t, dec.NextIsNull())
	_, isNull, err = dec.DecodeNextFloat64(true)
	require.Nil(t, err)
	assert.True(t, isNull)

	f, _, err := dec.DecodeNextFloat64(true)
	require.Nil(t, err)
	assert.Equal(t, 2.5, f)

	require.Nil(t, dec.Skip())

	raw, err := dec.DecodeNextRaw()
	require.Nil(t, err)
	assert.Equal(t, EncodeBytesField(nil, []byte{0, 1, 2, 3, 4, 5, 6, 7, 8}, false), raw)

	u, _, err := dec.DecodeNextUint64(true)
	require.Nil(t, err)
	assert.Equal(t, uint64(42), u)
	assert.False(t, dec.Available())

	// a field cannot be read with the wrong type or order
	dec.Set(data)
	_, _, err = dec.DecodeNextInt64(true)
	assert.NotNil(t, err)
	_, _, err = dec.DecodeNextString(false)
	assert.NotNil(t, err)
}

func TestSetRawBytes(t *testing.T) {
	enc := NewMultiFieldEncoder(0)
	enc.SetRawBytes(EncodeInt64Field(nil, 5, false)).SetRawBytes(nil)
	dec := NewMultiFieldDecoder(enc.Build())
	v, _, err := dec.DecodeNextInt64(false)
	require.Nil(t, err)
	assert.Equal(t, int64(5), v)
	assert.True(t, dec.NextIsNull())
	enc.Reset()
	assert.Equal(t, 0, enc.NumFields())
	assert.Len(t, enc.Build(), 0)
}

func TestCompositeKeyOrder(t *testing.T) {
	type pair struct {
		a int64
		b string
	}
	pairs := []pair{{1, "b"}, {1, "a"}, {0, "z"}, {2, ""}, {1, "ab"}}
	keys := make([][]byte, len(pairs))
	for i, p := range pairs {
		keys[i] = NewMultiFieldEncoder(16).EncodeNextInt64(p.a, false).EncodeNextString(p.b, true).Build()
	}
	sort.Slice(keys, func(i, j int) bool { return bytes.Compare(keys[i], keys[j]) < 0 })
	var got []pair
	for _, k := range keys {
		dec := NewMultiFieldDecoder(k)
		a, _, err := dec.DecodeNextInt64(false)
		require.Nil(t, err)
		b, _, err := dec.DecodeNextString(true)
		require.Nil(t, err)
		got = append(got, pair{a, b})
	}
	assert.Equal(t, []pair{{0, "z"}, {1, "b"}, {1, "ab"}, {1, "a"}, {2, ""}}, got)
}
