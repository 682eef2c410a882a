package rowcodec

import (
	"encoding/binary"
	"math"
	"sort"

	"github.com/pingcap/errors"
)

// CodecVer is the first byte of every packed row.
const CodecVer = 128

// Value flags of not-null columns.
const (
	IntFlag     byte = 1
	UintFlag    byte = 2
	FloatFlag   byte = 3
	Float32Flag byte = 4
	BytesFlag   byte = 5
	StringFlag  byte = 6
)

var errInvalidCodecVer = errors.New("invalid codec version")

// Layout:
//  [CodecVer][large][numNotNull u16][numNull u16][valFlags...][colIDs...][offsets...][data...]
// colIDs are one byte each and offsets two bytes each, or four bytes each when the row is large. Not-null column
// ids come first, then null ones, each group sorted ascending. offsets[i] is the end of value i in data.
type row struct {
	large          bool
	numNotNullCols uint16
	numNullCols    uint16
	valFlags       []byte
	colIDs         []byte
	offsets        []uint16
	data           []byte

	colIDs32  []uint32
	offsets32 []uint32
}

func (r *row) setRowData(rowData []byte) error {
	if len(rowData) < 6 {
		return errors.New("row data too short")
	}
	if rowData[0] != CodecVer {
		return errInvalidCodecVer
	}
	r.large = rowData[1]&1 > 0
	r.numNotNullCols = binary.LittleEndian.Uint16(rowData[2:])
	r.numNullCols = binary.LittleEndian.Uint16(rowData[4:])
	cursor := 6
	notNull := int(r.numNotNullCols)
	total := notNull + int(r.numNullCols)
	idLen, offLen := 1, 2
	if r.large {
		idLen, offLen = 4, 4
	}
	if len(rowData) < cursor+notNull+total*idLen+notNull*offLen {
		return errors.New("row data too short")
	}
	r.valFlags = rowData[cursor : cursor+notNull]
	cursor += notNull
	if r.large {
		r.colIDs32 = bytesToU32Slice(rowData[cursor : cursor+total*4])
		cursor += total * 4
		r.offsets32 = bytesToU32Slice(rowData[cursor : cursor+notNull*4])
		cursor += notNull * 4
	} else {
		r.colIDs = rowData[cursor : cursor+total]
		cursor += total
		r.offsets = bytesToU16Slice(rowData[cursor : cursor+notNull*2])
		cursor += notNull * 2
	}
	r.data = rowData[cursor:]
	if notNull > 0 && int(r.offset(notNull-1)) > len(r.data) {
		return errors.New("row data too short")
	}
	return nil
}

func (r *row) offset(i int) uint32 {
	if r.large {
		return r.offsets32[i]
	}
	return uint32(r.offsets[i])
}

func (r *row) colID(i int) int64 {
	if r.large {
		return int64(r.colIDs32[i])
	}
	return int64(r.colIDs[i])
}

func (r *row) getData(i int) []byte {
	var start uint32
	if i > 0 {
		start = r.offset(i - 1)
	}
	return r.data[start:r.offset(i)]
}

// findColID returns the index of colID and whether the column is null. idx is -1 when the row has no such column.
func (r *row) findColID(colID int64) (idx int, isNull bool) {
	notNull := int(r.numNotNullCols)
	i := sort.Search(notNull, func(i int) bool { return r.colID(i) >= colID })
	if i < notNull && r.colID(i) == colID {
		return i, false
	}
	total := notNull + int(r.numNullCols)
	i = notNull + sort.Search(int(r.numNullCols), func(i int) bool { return r.colID(notNull+i) >= colID })
	if i < total && r.colID(i) == colID {
		return i, true
	}
	return -1, false
}

// Encoder packs column values into a row value.
type Encoder struct {
	row
	tempColIDs []int64
	values     []Datum
}

// Encode packs values, keyed by colIDs, into buf. Null datums are recorded as null columns.
func (enc *Encoder) Encode(colIDs []int64, values []Datum, buf []byte) ([]byte, error) {
	if len(colIDs) != len(values) {
		return nil, errors.Errorf("%d column ids for %d values", len(colIDs), len(values))
	}
	enc.reset()
	for i, colID := range colIDs {
		if colID < 0 || colID > math.MaxUint32 {
			return nil, errors.Errorf("invalid column id %d", colID)
		}
		if colID > 255 {
			enc.large = true
		}
		if values[i].IsNull() {
			enc.numNullCols++
		} else {
			enc.numNotNullCols++
		}
	}
	// not-null columns first, nulls after, both sorted by id
	enc.tempColIDs = append(enc.tempColIDs[:0], colIDs...)
	enc.values = append(enc.values[:0], values...)
	sort.Sort(enc)
	notNull := int(enc.numNotNullCols)
	for i := 0; i < notNull; i++ {
		d := enc.values[i]
		switch d.Kind() {
		case KindInt64:
			enc.valFlags = append(enc.valFlags, IntFlag)
			enc.data = append(enc.data, encodeInt(d.GetInt64())...)
		case KindUint64:
			enc.valFlags = append(enc.valFlags, UintFlag)
			enc.data = append(enc.data, encodeUint(d.GetUint64())...)
		case KindFloat64:
			enc.valFlags = append(enc.valFlags, FloatFlag)
			enc.data = appendUint64(enc.data, math.Float64bits(d.GetFloat64()))
		case KindFloat32:
			enc.valFlags = append(enc.valFlags, Float32Flag)
			enc.data = appendUint32(enc.data, math.Float32bits(d.GetFloat32()))
		case KindString:
			enc.valFlags = append(enc.valFlags, StringFlag)
			enc.data = append(enc.data, d.GetBytes()...)
		case KindBytes:
			enc.valFlags = append(enc.valFlags, BytesFlag)
			enc.data = append(enc.data, d.GetBytes()...)
		default:
			return nil, errors.Errorf("unsupported kind %v", d.Kind())
		}
		enc.offsets32 = append(enc.offsets32, uint32(len(enc.data)))
	}
	if len(enc.data) > math.MaxUint16 {
		enc.large = true
	}
	buf = append(buf, CodecVer)
	flag := byte(0)
	if enc.large {
		flag = 1
	}
	buf = append(buf, flag)
	buf = append(buf, byte(enc.numNotNullCols), byte(enc.numNotNullCols>>8))
	buf = append(buf, byte(enc.numNullCols), byte(enc.numNullCols>>8))
	buf = append(buf, enc.valFlags...)
	if enc.large {
		for _, colID := range enc.tempColIDs {
			buf = appendUint32LE(buf, uint32(colID))
		}
		for _, off := range enc.offsets32 {
			buf = appendUint32LE(buf, off)
		}
	} else {
		for _, colID := range enc.tempColIDs {
			buf = append(buf, byte(colID))
		}
		for _, off := range enc.offsets32 {
			buf = append(buf, byte(off), byte(off>>8))
		}
	}
	buf = append(buf, enc.data...)
	return buf, nil
}

func (enc *Encoder) reset() {
	enc.large = false
	enc.numNotNullCols = 0
	enc.numNullCols = 0
	enc.valFlags = enc.valFlags[:0]
	enc.data = enc.data[:0]
	enc.offsets32 = enc.offsets32[:0]
}

func (enc *Encoder) Less(i, j int) bool {
	ni, nj := enc.values[i].IsNull(), enc.values[j].IsNull()
	if ni != nj {
		return nj
	}
	return enc.tempColIDs[i] < enc.tempColIDs[j]
}

func (enc *Encoder) Len() int {
	return len(enc.tempColIDs)
}

func (enc *Encoder) Swap(i, j int) {
	enc.tempColIDs[i], enc.tempColIDs[j] = enc.tempColIDs[j], enc.tempColIDs[i]
	enc.values[i], enc.values[j] = enc.values[j], enc.values[i]
}

// Decoder reads the columns it was created with out of packed rows.
type Decoder struct {
	row
	colIDs []int64
}

func NewDecoder(colIDs []int64) *Decoder {
	return &Decoder{colIDs: colIDs}
}

// Decode returns one datum per decoder column. Columns missing from the row decode as null.
func (dec *Decoder) Decode(rowData []byte, out []Datum) ([]Datum, error) {
	out = out[:0]
	if len(rowData) == 0 {
		for range dec.colIDs {
			out = append(out, Datum{})
		}
		return out, nil
	}
	if err := dec.setRowData(rowData); err != nil {
		return nil, err
	}
	for _, colID := range dec.colIDs {
		idx, isNull := dec.findColID(colID)
		if idx < 0 || isNull {
			out = append(out, Datum{})
			continue
		}
		d, err := decodeValue(dec.valFlags[idx], dec.getData(idx))
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, nil
}

// DecodeAll returns every column stored in the row, nulls included.
func DecodeAll(rowData []byte) (colIDs []int64, values []Datum, err error) {
	if len(rowData) == 0 {
		return nil, nil, nil
	}
	var r row
	if err = r.setRowData(rowData); err != nil {
		return nil, nil, err
	}
	total := int(r.numNotNullCols) + int(r.numNullCols)
	for i := 0; i < total; i++ {
		colIDs = append(colIDs, r.colID(i))
		if i >= int(r.numNotNullCols) {
			values = append(values, Datum{})
			continue
		}
		d, err := decodeValue(r.valFlags[i], r.getData(i))
		if err != nil {
			return nil, nil, err
		}
		values = append(values, d)
	}
	return colIDs, values, nil
}

// Merge overlays the columns of update on base. Columns only in base are kept.
func Merge(base, update []byte) ([]byte, error) {
	baseIDs, baseVals, err := DecodeAll(base)
	if err != nil {
		return nil, err
	}
	updIDs, updVals, err := DecodeAll(update)
	if err != nil {
		return nil, err
	}
	pos := make(map[int64]int, len(baseIDs))
	for i, id := range baseIDs {
		pos[id] = i
	}
	for i, id := range updIDs {
		if p, ok := pos[id]; ok {
			baseVals[p] = updVals[i]
		} else {
			baseIDs = append(baseIDs, id)
			baseVals = append(baseVals, updVals[i])
		}
	}
	var enc Encoder
	return enc.Encode(baseIDs, baseVals, nil)
}

func decodeValue(flag byte, val []byte) (Datum, error) {
	switch flag {
	case IntFlag:
		return NewIntDatum(decodeInt(val)), nil
	case UintFlag:
		return NewUintDatum(decodeUint(val)), nil
	case FloatFlag:
		if len(val) != 8 {
			return Datum{}, errors.New("invalid float value")
		}
		return NewFloat64Datum(math.Float64frombits(binary.BigEndian.Uint64(val))), nil
	case Float32Flag:
		if len(val) != 4 {
			return Datum{}, errors.New("invalid float32 value")
		}
		return NewFloat32Datum(math.Float32frombits(binary.BigEndian.Uint32(val))), nil
	case StringFlag:
		return NewStringDatum(string(val)), nil
	case BytesFlag:
		return NewBytesDatum(append([]byte(nil), val...)), nil
	}
	return Datum{}, errors.Errorf("invalid value flag %d", flag)
}
