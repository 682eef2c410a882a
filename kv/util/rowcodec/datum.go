package rowcodec

import (
	"bytes"
	"fmt"
	"math"
	"strconv"

	"github.com/pingcap-incubator/tinysi/kv/util/codec"
	"github.com/pingcap/errors"
)

// Kind is the type of a Datum.
type Kind byte

const (
	KindNull Kind = iota
	KindInt64
	KindUint64
	KindFloat32
	KindFloat64
	KindString
	KindBytes
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindInt64:
		return "int64"
	case KindUint64:
		return "uint64"
	case KindFloat32:
		return "float32"
	case KindFloat64:
		return "float64"
	case KindString:
		return "string"
	case KindBytes:
		return "bytes"
	}
	return "unknown(" + strconv.Itoa(int(k)) + ")"
}

// Datum is one column value of a row.
type Datum struct {
	k Kind
	i int64
	f float64
	b []byte
}

func NewIntDatum(v int64) Datum { return Datum{k: KindInt64, i: v} }

func NewUintDatum(v uint64) Datum { return Datum{k: KindUint64, i: int64(v)} }

func NewFloat64Datum(v float64) Datum { return Datum{k: KindFloat64, f: v} }

func NewFloat32Datum(v float32) Datum { return Datum{k: KindFloat32, f: float64(v)} }

func NewStringDatum(v string) Datum { return Datum{k: KindString, b: []byte(v)} }

func NewBytesDatum(v []byte) Datum { return Datum{k: KindBytes, b: v} }

// MakeDatums converts Go values into datums. A nil argument becomes a null datum.
func MakeDatums(args ...interface{}) []Datum {
	datums := make([]Datum, len(args))
	for i, arg := range args {
		switch v := arg.(type) {
		case nil:
		case int:
			datums[i] = NewIntDatum(int64(v))
		case int64:
			datums[i] = NewIntDatum(v)
		case uint64:
			datums[i] = NewUintDatum(v)
		case float32:
			datums[i] = NewFloat32Datum(v)
		case float64:
			datums[i] = NewFloat64Datum(v)
		case string:
			datums[i] = NewStringDatum(v)
		case []byte:
			datums[i] = NewBytesDatum(v)
		case Datum:
			datums[i] = v
		default:
			panic(fmt.Sprintf("unsupported datum type %T", arg))
		}
	}
	return datums
}

func (d Datum) Kind() Kind { return d.k }

func (d Datum) IsNull() bool { return d.k == KindNull }

func (d Datum) GetInt64() int64 { return d.i }

func (d Datum) GetUint64() uint64 { return uint64(d.i) }

func (d Datum) GetFloat64() float64 { return d.f }

func (d Datum) GetFloat32() float32 { return float32(d.f) }

func (d Datum) GetString() string { return string(d.b) }

func (d Datum) GetBytes() []byte { return d.b }

// Equal reports whether both datums have the same kind and value.
func (d Datum) Equal(o Datum) bool {
	if d.k != o.k {
		return false
	}
	switch d.k {
	case KindNull:
		return true
	case KindInt64, KindUint64:
		return d.i == o.i
	case KindFloat32, KindFloat64:
		return d.f == o.f || (math.IsNaN(d.f) && math.IsNaN(o.f))
	default:
		return bytes.Equal(d.b, o.b)
	}
}

// Width is the number of bytes the value occupies in a packed row.
func (d Datum) Width() int {
	switch d.k {
	case KindNull:
		return 0
	case KindInt64:
		return len(encodeInt(d.i))
	case KindUint64:
		return len(encodeUint(uint64(d.i)))
	case KindFloat32:
		return 4
	case KindFloat64:
		return 8
	default:
		return len(d.b)
	}
}

// ToFloat64 returns the numeric value of d, ok is false for non numeric kinds.
func (d Datum) ToFloat64() (v float64, ok bool) {
	switch d.k {
	case KindInt64:
		return float64(d.i), true
	case KindUint64:
		return float64(uint64(d.i)), true
	case KindFloat32, KindFloat64:
		return d.f, true
	}
	return 0, false
}

func (d Datum) String() string {
	switch d.k {
	case KindNull:
		return "NULL"
	case KindInt64:
		return strconv.FormatInt(d.i, 10)
	case KindUint64:
		return strconv.FormatUint(uint64(d.i), 10)
	case KindFloat32:
		return strconv.FormatFloat(d.f, 'g', -1, 32)
	case KindFloat64:
		return strconv.FormatFloat(d.f, 'g', -1, 64)
	case KindString:
		return string(d.b)
	}
	return fmt.Sprintf("%x", d.b)
}

// EncodeKeyField appends d to enc as an order-preserving field.
func EncodeKeyField(enc *codec.MultiFieldEncoder, d Datum, desc bool) {
	switch d.k {
	case KindNull:
		enc.EncodeNextNull(desc)
	case KindInt64:
		enc.EncodeNextInt64(d.i, desc)
	case KindUint64:
		enc.EncodeNextUint64(uint64(d.i), desc)
	case KindFloat32:
		enc.EncodeNextFloat32(float32(d.f), desc)
	case KindFloat64:
		enc.EncodeNextFloat64(d.f, desc)
	case KindString:
		enc.EncodeNextString(string(d.b), desc)
	case KindBytes:
		enc.EncodeNextBytes(d.b, desc)
	}
}

// DecodeKeyField reads the next field of dec as a datum of kind k.
func DecodeKeyField(dec *codec.MultiFieldDecoder, k Kind, desc bool) (Datum, error) {
	var (
		d      Datum
		isNull bool
		err    error
	)
	switch k {
	case KindNull:
		return d, errors.Trace(dec.Skip())
	case KindInt64:
		var v int64
		v, isNull, err = dec.DecodeNextInt64(desc)
		d = NewIntDatum(v)
	case KindUint64:
		var v uint64
		v, isNull, err = dec.DecodeNextUint64(desc)
		d = NewUintDatum(v)
	case KindFloat32:
		var v float32
		v, isNull, err = dec.DecodeNextFloat32(desc)
		d = NewFloat32Datum(v)
	case KindFloat64:
		var v float64
		v, isNull, err = dec.DecodeNextFloat64(desc)
		d = NewFloat64Datum(v)
	case KindString:
		var v string
		v, isNull, err = dec.DecodeNextString(desc)
		d = NewStringDatum(v)
	case KindBytes:
		var v []byte
		v, isNull, err = dec.DecodeNextBytes(desc)
		d = NewBytesDatum(v)
	default:
		return d, errors.Errorf("unknown kind %v", k)
	}
	if err != nil {
		return Datum{}, err
	}
	if isNull {
		return Datum{}, nil
	}
	return d, nil
}
