package codec

import (
	"github.com/pingcap/errors"
)

// MultiFieldEncoder appends a sequence of order-preserving fields into one key.
type MultiFieldEncoder struct {
	buf    []byte
	fields int
}

// NewMultiFieldEncoder creates an encoder with room for the given number of bytes.
func NewMultiFieldEncoder(capacity int) *MultiFieldEncoder {
	return &MultiFieldEncoder{buf: make([]byte, 0, capacity)}
}

func (e *MultiFieldEncoder) EncodeNextNull(desc bool) *MultiFieldEncoder {
	e.buf = EncodeNull(e.buf, desc)
	e.fields++
	return e
}

func (e *MultiFieldEncoder) EncodeNextInt64(v int64, desc bool) *MultiFieldEncoder {
	e.buf = EncodeInt64Field(e.buf, v, desc)
	e.fields++
	return e
}

func (e *MultiFieldEncoder) EncodeNextUint64(v uint64, desc bool) *MultiFieldEncoder {
	e.buf = EncodeUint64Field(e.buf, v, desc)
	e.fields++
	return e
}

func (e *MultiFieldEncoder) EncodeNextFloat64(v float64, desc bool) *MultiFieldEncoder {
	e.buf = EncodeFloat64Field(e.buf, v, desc)
	e.fields++
	return e
}

func (e *MultiFieldEncoder) EncodeNextFloat32(v float32, desc bool) *MultiFieldEncoder {
	e.buf = EncodeFloat32Field(e.buf, v, desc)
	e.fields++
	return e
}

func (e *MultiFieldEncoder) EncodeNextBytes(v []byte, desc bool) *MultiFieldEncoder {
	e.buf = EncodeBytesField(e.buf, v, desc)
	e.fields++
	return e
}

func (e *MultiFieldEncoder) EncodeNextString(v string, desc bool) *MultiFieldEncoder {
	e.buf = EncodeStringField(e.buf, v, desc)
	e.fields++
	return e
}

// SetRawBytes appends a field that is already encoded. A nil field is written as an ascending null.
func (e *MultiFieldEncoder) SetRawBytes(field []byte) *MultiFieldEncoder {
	if field == nil {
		return e.EncodeNextNull(false)
	}
	e.buf = append(e.buf, field...)
	e.fields++
	return e
}

// NumFields returns how many fields have been appended since the last reset.
func (e *MultiFieldEncoder) NumFields() int {
	return e.fields
}

// Build returns a copy of the encoded fields.
func (e *MultiFieldEncoder) Build() []byte {
	out := make([]byte, len(e.buf))
	copy(out, e.buf)
	return out
}

func (e *MultiFieldEncoder) Reset() {
	e.buf = e.buf[:0]
	e.fields = 0
}

// MultiFieldDecoder reads fields written by MultiFieldEncoder one at a time.
type MultiFieldDecoder struct {
	data   []byte
	offset int
}

func NewMultiFieldDecoder(data []byte) *MultiFieldDecoder {
	return &MultiFieldDecoder{data: data}
}

// Set resets the decoder onto new data.
func (d *MultiFieldDecoder) Set(data []byte) {
	d.data = data
	d.offset = 0
}

// Available reports whether there are undecoded bytes left.
func (d *MultiFieldDecoder) Available() bool {
	return d.offset < len(d.data)
}

func (d *MultiFieldDecoder) Offset() int {
	return d.offset
}

func (d *MultiFieldDecoder) remain() []byte {
	return d.data[d.offset:]
}

func (d *MultiFieldDecoder) advance(left []byte) {
	d.offset = len(d.data) - len(left)
}

// NextIsNull reports whether the next field is null without consuming it.
func (d *MultiFieldDecoder) NextIsNull() bool {
	return IsNullField(d.remain())
}

// Skip moves past the next field.
func (d *MultiFieldDecoder) Skip() error {
	n, err := FieldLen(d.remain())
	if err != nil {
		return errors.Trace(err)
	}
	d.offset += n
	return nil
}

// DecodeNextRaw returns the raw encoded bytes of the next field.
func (d *MultiFieldDecoder) DecodeNextRaw() ([]byte, error) {
	start := d.offset
	if err := d.Skip(); err != nil {
		return nil, err
	}
	return d.data[start:d.offset], nil
}

// skipNull consumes a null field and reports whether it did.
func (d *MultiFieldDecoder) skipNull() bool {
	if d.NextIsNull() {
		d.offset++
		return true
	}
	return false
}

// DecodeNextInt64 decodes the next field. A null field decodes as zero with isNull set.
func (d *MultiFieldDecoder) DecodeNextInt64(desc bool) (v int64, isNull bool, err error) {
	if d.skipNull() {
		return 0, true, nil
	}
	left, v, err := DecodeInt64Field(d.remain(), desc)
	if err != nil {
		return 0, false, errors.Trace(err)
	}
	d.advance(left)
	return v, false, nil
}

func (d *MultiFieldDecoder) DecodeNextUint64(desc bool) (v uint64, isNull bool, err error) {
	if d.skipNull() {
		return 0, true, nil
	}
	left, v, err := DecodeUint64Field(d.remain(), desc)
	if err != nil {
		return 0, false, errors.Trace(err)
	}
	d.advance(left)
	return v, false, nil
}

func (d *MultiFieldDecoder) DecodeNextFloat64(desc bool) (v float64, isNull bool, err error) {
	if d.skipNull() {
		return 0, true, nil
	}
	left, v, err := DecodeFloat64Field(d.remain(), desc)
	if err != nil {
		return 0, false, errors.Trace(err)
	}
	d.advance(left)
	return v, false, nil
}

func (d *MultiFieldDecoder) DecodeNextFloat32(desc bool) (v float32, isNull bool, err error) {
	if d.skipNull() {
		return 0, true, nil
	}
	left, v, err := DecodeFloat32Field(d.remain(), desc)
	if err != nil {
		return 0, false, errors.Trace(err)
	}
	d.advance(left)
	return v, false, nil
}

func (d *MultiFieldDecoder) DecodeNextBytes(desc bool) (v []byte, isNull bool, err error) {
	if d.skipNull() {
		return nil, true, nil
	}
	left, v, err := DecodeBytesField(d.remain(), desc)
	if err != nil {
		return nil, false, errors.Trace(err)
	}
	d.advance(left)
	return v, false, nil
}

func (d *MultiFieldDecoder) DecodeNextString(desc bool) (v string, isNull bool, err error) {
	if d.skipNull() {
		return "", true, nil
	}
	left, v, err := DecodeStringField(d.remain(), desc)
	if err != nil {
		return "", false, errors.Trace(err)
	}
	d.advance(left)
	return v, false, nil
}
