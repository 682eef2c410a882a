package rowcodec

import (
	"bytes"
	"math"
	"testing"

	"github.com/pingcap-incubator/tinysi/kv/util/codec"
	. "github.com/pingcap/check"
)

func TestT(t *testing.T) {
	TestingT(t)
}

var _ = Suite(&testSuite{})

type testSuite struct{}

func checkDatums(c *C, got, expected []Datum) {
	c.Assert(got, HasLen, len(expected))
	for i := range expected {
		c.Assert(got[i].Equal(expected[i]), IsTrue, Commentf("column %d: got %v, expected %v", i, got[i], expected[i]))
	}
}

func (s *testSuite) TestRowCodec(c *C) {
	colIDs := []int64{3, 1, 2, 7, 5, 6}
	values := MakeDatums(int64(-300), "varchar", nil, 2.5, float32(-1.25), uint64(math.MaxUint64))

	var enc Encoder
	data, err := enc.Encode(colIDs, values, nil)
	c.Assert(err, IsNil)

	dec := NewDecoder(colIDs)
	got, err := dec.Decode(data, nil)
	c.Assert(err, IsNil)
	checkDatums(c, got, values)

	// absent columns and projections
	dec = NewDecoder([]int64{5, 100, 3})
	got, err = dec.Decode(data, got)
	c.Assert(err, IsNil)
	checkDatums(c, got, MakeDatums(float32(-1.25), nil, int64(-300)))

	// empty value decodes as all null
	got, err = dec.Decode(nil, nil)
	c.Assert(err, IsNil)
	checkDatums(c, got, MakeDatums(nil, nil, nil))
}

func (s *testSuite) TestLargeRow(c *C) {
	big := bytes.Repeat([]byte{'x'}, math.MaxUint16+10)
	colIDs := []int64{1, 300}
	values := MakeDatums(big, int64(1))
	var enc Encoder
	data, err := enc.Encode(colIDs, values, nil)
	c.Assert(err, IsNil)
	c.Assert(data[1], Equals, byte(1))
	got, err := NewDecoder(colIDs).Decode(data, nil)
	c.Assert(err, IsNil)
	checkDatums(c, got, values)
}

func (s *testSuite) TestIntWidths(c *C) {
	for _, v := range []int64{0, -1, 127, -128, 1000, -40000, math.MaxInt32 + 1, math.MinInt64} {
		c.Assert(decodeInt(encodeInt(v)), Equals, v)
	}
	for _, v := range []uint64{0, 255, 256, math.MaxUint32, math.MaxUint64} {
		c.Assert(decodeUint(encodeUint(v)), Equals, v)
	}
}

func (s *testSuite) TestMerge(c *C) {
	var enc Encoder
	base, err := enc.Encode([]int64{1, 2, 3}, MakeDatums(1, "a", 3.0), nil)
	c.Assert(err, IsNil)
	update, err := enc.Encode([]int64{2, 4}, MakeDatums(nil, "d"), nil)
	c.Assert(err, IsNil)
	merged, err := Merge(base, update)
	c.Assert(err, IsNil)
	got, err := NewDecoder([]int64{1, 2, 3, 4}).Decode(merged, nil)
	c.Assert(err, IsNil)
	checkDatums(c, got, MakeDatums(1, nil, 3.0, "d"))
}

func (s *testSuite) TestInvalidRow(c *C) {
	_, err := NewDecoder([]int64{1}).Decode([]byte{1, 2, 3, 4, 5, 6}, nil)
	c.Assert(err, NotNil)
	_, err = NewDecoder([]int64{1}).Decode([]byte{CodecVer, 0, 1}, nil)
	c.Assert(err, NotNil)
	var enc Encoder
	_, err = enc.Encode([]int64{1}, nil, nil)
	c.Assert(err, NotNil)
}

var roundTripKinds = []Kind{KindInt64, KindFloat64, KindFloat32, KindString}

func roundTripRows() [][]Datum {
	return [][]Datum{
		MakeDatums(int64(1), 1.5, float32(2.5), "one"),
		MakeDatums(int64(-9), nil, float32(-0.5), ""),
		MakeDatums(nil, math.Inf(1), nil, "three\x00"),
		MakeDatums(nil, nil, nil, nil),
	}
}

func (s *testSuite) TestKeyValueRoundTrip(c *C) {
	colIDs := []int64{1, 2, 3, 4}
	orders := [][]bool{
		nil,
		{true, true, true, true},
		{false, true, false, true},
	}
	for _, desc := range orders {
		spec := &KeySpec{Columns: []int{0, 1, 2, 3}, Desc: desc, Prefix: []byte("t1")}
		for _, t := range []KeyType{Bare, FixedPrefix} {
			strategy, err := NewKeyStrategy(t)
			c.Assert(err, IsNil)
			for _, row := range roundTripRows() {
				key := EncodeRowKey(strategy, row, spec)
				var enc Encoder
				value, err := enc.Encode(colIDs, row, nil)
				c.Assert(err, IsNil)

				fromKey := make([]Datum, 4)
				c.Assert(DecodeRowKey(strategy, key, fromKey, roundTripKinds, spec), IsNil)
				checkDatums(c, fromKey, row)

				fromValue, err := NewDecoder(colIDs).Decode(value, nil)
				c.Assert(err, IsNil)
				checkDatums(c, fromValue, row)
			}
		}
	}
}

func (s *testSuite) TestKeySortOrder(c *C) {
	strategy, err := NewKeyStrategy(Bare)
	c.Assert(err, IsNil)
	asc := &KeySpec{Columns: []int{0}}
	desc := &KeySpec{Columns: []int{0}, Desc: []bool{true}}
	rows := [][]Datum{MakeDatums(nil), MakeDatums(-5), MakeDatums(0), MakeDatums(12)}
	for i := 1; i < len(rows); i++ {
		c.Assert(bytes.Compare(EncodeRowKey(strategy, rows[i-1], asc), EncodeRowKey(strategy, rows[i], asc)), Equals, -1)
		// nulls sort last when descending
		if i > 1 {
			c.Assert(bytes.Compare(EncodeRowKey(strategy, rows[i-1], desc), EncodeRowKey(strategy, rows[i], desc)), Equals, 1)
		}
	}
	c.Assert(bytes.Compare(EncodeRowKey(strategy, rows[0], desc), EncodeRowKey(strategy, rows[1], desc)), Equals, 1)
}

func (s *testSuite) TestKeyStrategies(c *C) {
	spec := &KeySpec{Prefix: []byte("p"), Postfix: []byte("post"), Columns: []int{1, 0}}
	row := MakeDatums(7, "k")
	kinds := []Kind{KindInt64, KindString}
	expectedCounts := map[KeyType]int{
		Bare:                     2,
		FixedPrefix:              3,
		FixedPostfix:             3,
		UniquePostfix:            4,
		FixedPrefixAndPostfix:    4,
		FixedPrefixUniquePostfix: 5,
		PrefixOnly:               1,
		PrefixFixedPostfixOnly:   2,
		PrefixUniquePostfixOnly:  3,
		Salted:                   2,
	}
	withColumns := map[KeyType]bool{
		Bare:                     true,
		FixedPrefix:              true,
		FixedPostfix:             true,
		UniquePostfix:            true,
		FixedPrefixAndPostfix:    true,
		FixedPrefixUniquePostfix: true,
	}
	for t, count := range expectedCounts {
		strategy, err := NewKeyStrategy(t)
		c.Assert(err, IsNil)
		c.Assert(strategy.Type(), Equals, t)
		c.Assert(strategy.FieldCount(spec.Columns), Equals, count, Commentf("%v", t))

		key := EncodeRowKey(strategy, row, spec)
		// every strategy writes exactly FieldCount fields
		dec := codec.NewMultiFieldDecoder(key)
		fields := 0
		for dec.Available() {
			c.Assert(dec.Skip(), IsNil)
			fields++
		}
		c.Assert(fields, Equals, count, Commentf("%v", t))

		decoded := make([]Datum, 2)
		c.Assert(DecodeRowKey(strategy, key, decoded, kinds, spec), IsNil)
		if withColumns[t] {
			checkDatums(c, decoded, row)
		} else {
			checkDatums(c, decoded, MakeDatums(nil, nil))
		}
	}

	unique, _ := NewKeyStrategy(UniquePostfix)
	c.Assert(bytes.Equal(EncodeRowKey(unique, row, spec), EncodeRowKey(unique, row, spec)), IsFalse)

	_, err := NewKeyStrategy(KeyType(99))
	c.Assert(err, NotNil)
}
