package codec

import (
	"github.com/pingcap/errors"
)

// Field flags. A descending field has every byte inverted, flag included, so the descending flags live at
// the top of the byte range and never collide with the ascending ones.
const (
	NilFlag     byte = 0x00
	bytesFlag   byte = 0x01
	stringFlag  byte = 0x02
	intFlag     byte = 0x03
	uintFlag    byte = 0x04
	floatFlag   byte = 0x05
	float32Flag byte = 0x06
	maxAscFlag       = float32Flag
)

// ErrInvalidField is returned when a field flag is not recognised.
var ErrInvalidField = errors.New("invalid encoded field")

func appendFlagged(b []byte, desc bool, flag byte, enc func([]byte) []byte) []byte {
	n := len(b)
	b = append(b, flag)
	b = enc(b)
	if desc {
		reverseBytes(b[n:])
	}
	return b
}

// EncodeNull appends a null field. Null sorts before every value ascending and after every value descending.
func EncodeNull(b []byte, desc bool) []byte {
	if desc {
		return append(b, ^NilFlag)
	}
	return append(b, NilFlag)
}

// EncodeInt64Field appends a flag-prefixed int64.
func EncodeInt64Field(b []byte, v int64, desc bool) []byte {
	return appendFlagged(b, desc, intFlag, func(b []byte) []byte { return EncodeInt(b, v) })
}

// EncodeUint64Field appends a flag-prefixed uint64.
func EncodeUint64Field(b []byte, v uint64, desc bool) []byte {
	return appendFlagged(b, desc, uintFlag, func(b []byte) []byte { return EncodeUint(b, v) })
}

// EncodeFloat64Field appends a flag-prefixed float64.
func EncodeFloat64Field(b []byte, v float64, desc bool) []byte {
	return appendFlagged(b, desc, floatFlag, func(b []byte) []byte { return EncodeFloat(b, v) })
}

// EncodeFloat32Field appends a flag-prefixed float32.
func EncodeFloat32Field(b []byte, v float32, desc bool) []byte {
	return appendFlagged(b, desc, float32Flag, func(b []byte) []byte { return EncodeFloat32(b, v) })
}

// EncodeBytesField appends flag-prefixed memcomparable bytes.
func EncodeBytesField(b []byte, v []byte, desc bool) []byte {
	return appendFlagged(b, desc, bytesFlag, func(b []byte) []byte { return AppendBytes(b, v) })
}

// EncodeStringField appends a flag-prefixed string.
func EncodeStringField(b []byte, v string, desc bool) []byte {
	return appendFlagged(b, desc, stringFlag, func(b []byte) []byte { return AppendBytes(b, []byte(v)) })
}

// fieldFlag returns the ascending flag of the field starting at b and whether it is stored descending.
func fieldFlag(b []byte) (flag byte, desc bool, err error) {
	if len(b) == 0 {
		return 0, false, errors.New("insufficient bytes to decode value")
	}
	flag = b[0]
	if flag > maxAscFlag {
		flag, desc = ^flag, true
	}
	if flag > maxAscFlag {
		return 0, false, errors.Annotatef(ErrInvalidField, "flag %#x", b[0])
	}
	return flag, desc, nil
}

// FieldLen returns the number of bytes occupied by the encoded field at the head of b.
func FieldLen(b []byte) (int, error) {
	flag, desc, err := fieldFlag(b)
	if err != nil {
		return 0, err
	}
	var size int
	switch flag {
	case NilFlag:
		size = 0
	case intFlag, uintFlag, floatFlag:
		size = 8
	case float32Flag:
		size = 4
	case bytesFlag, stringFlag:
		size, err = bytesFieldLen(b[1:], desc)
		if err != nil {
			return 0, err
		}
	}
	if len(b) < 1+size {
		return 0, errors.New("insufficient bytes to decode value")
	}
	return 1 + size, nil
}

func bytesFieldLen(b []byte, desc bool) (int, error) {
	offset := 0
	for {
		if len(b) < offset+encGroupSize+1 {
			return 0, errors.New("insufficient bytes to decode value")
		}
		marker := b[offset+encGroupSize]
		if desc {
			marker = ^marker
		}
		offset += encGroupSize + 1
		if marker != encMarker {
			return offset, nil
		}
	}
}

func checkFlag(b []byte, want byte, desc bool) error {
	flag, fieldDesc, err := fieldFlag(b)
	if err != nil {
		return err
	}
	if flag != want || fieldDesc != desc {
		return errors.Annotatef(ErrInvalidField, "expect flag %#x desc %v, got %#x", want, desc, b[0])
	}
	return nil
}

// IsNullField reports whether the field at the head of b is null, in either order.
func IsNullField(b []byte) bool {
	return len(b) > 0 && (b[0] == NilFlag || b[0] == ^NilFlag)
}

// DecodeInt64Field decodes a field written by EncodeInt64Field.
func DecodeInt64Field(b []byte, desc bool) ([]byte, int64, error) {
	if err := checkFlag(b, intFlag, desc); err != nil {
		return nil, 0, err
	}
	if desc {
		return DecodeIntDesc(b[1:])
	}
	return DecodeInt(b[1:])
}

// DecodeUint64Field decodes a field written by EncodeUint64Field.
func DecodeUint64Field(b []byte, desc bool) ([]byte, uint64, error) {
	if err := checkFlag(b, uintFlag, desc); err != nil {
		return nil, 0, err
	}
	if desc {
		return DecodeUintDesc(b[1:])
	}
	return DecodeUint(b[1:])
}

// DecodeFloat64Field decodes a field written by EncodeFloat64Field.
func DecodeFloat64Field(b []byte, desc bool) ([]byte, float64, error) {
	if err := checkFlag(b, floatFlag, desc); err != nil {
		return nil, 0, err
	}
	if desc {
		return DecodeFloatDesc(b[1:])
	}
	return DecodeFloat(b[1:])
}

// DecodeFloat32Field decodes a field written by EncodeFloat32Field.
func DecodeFloat32Field(b []byte, desc bool) ([]byte, float32, error) {
	if err := checkFlag(b, float32Flag, desc); err != nil {
		return nil, 0, err
	}
	if desc {
		return DecodeFloat32Desc(b[1:])
	}
	return DecodeFloat32(b[1:])
}

// DecodeBytesField decodes a field written by EncodeBytesField.
func DecodeBytesField(b []byte, desc bool) ([]byte, []byte, error) {
	if err := checkFlag(b, bytesFlag, desc); err != nil {
		return nil, nil, err
	}
	return decodeBytes(b[1:], desc)
}

// DecodeStringField decodes a field written by EncodeStringField.
func DecodeStringField(b []byte, desc bool) ([]byte, string, error) {
	if err := checkFlag(b, stringFlag, desc); err != nil {
		return nil, "", err
	}
	left, data, err := decodeBytes(b[1:], desc)
	return left, string(data), err
}
