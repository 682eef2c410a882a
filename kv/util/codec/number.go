package codec

import (
	"encoding/binary"
	"math"

	"github.com/pingcap/errors"
)

const signMask32 uint32 = 0x80000000

// EncodeIntToCmpUint makes int v to comparable uint type.
func EncodeIntToCmpUint(v int64) uint64 {
	return uint64(v) ^ signMask
}

// DecodeCmpUintToInt decodes the u that encoded by EncodeIntToCmpUint.
func DecodeCmpUintToInt(u uint64) int64 {
	return int64(u ^ signMask)
}

// EncodeInt appends the encoded value to slice b and returns the appended slice.
// EncodeInt guarantees that the encoded value is in ascending order for comparison.
func EncodeInt(b []byte, v int64) []byte {
	var data [8]byte
	binary.BigEndian.PutUint64(data[:], EncodeIntToCmpUint(v))
	return append(b, data[:]...)
}

// EncodeIntDesc appends the encoded value to slice b and returns the appended slice.
// EncodeIntDesc guarantees that the encoded value is in descending order for comparison.
func EncodeIntDesc(b []byte, v int64) []byte {
	var data [8]byte
	binary.BigEndian.PutUint64(data[:], ^EncodeIntToCmpUint(v))
	return append(b, data[:]...)
}

// DecodeInt decodes value encoded by EncodeInt before.
// It returns the leftover un-decoded slice, decoded value if no error.
func DecodeInt(b []byte) ([]byte, int64, error) {
	if len(b) < 8 {
		return nil, 0, errors.New("insufficient bytes to decode value")
	}
	u := binary.BigEndian.Uint64(b[:8])
	return b[8:], DecodeCmpUintToInt(u), nil
}

// DecodeIntDesc decodes value encoded by EncodeIntDesc before.
func DecodeIntDesc(b []byte) ([]byte, int64, error) {
	if len(b) < 8 {
		return nil, 0, errors.New("insufficient bytes to decode value")
	}
	u := binary.BigEndian.Uint64(b[:8])
	return b[8:], DecodeCmpUintToInt(^u), nil
}

// EncodeUint appends the encoded value to slice b and returns the appended slice.
func EncodeUint(b []byte, v uint64) []byte {
	var data [8]byte
	binary.BigEndian.PutUint64(data[:], v)
	return append(b, data[:]...)
}

// EncodeUintDesc appends the encoded value to slice b in descending order.
func EncodeUintDesc(b []byte, v uint64) []byte {
	var data [8]byte
	binary.BigEndian.PutUint64(data[:], ^v)
	return append(b, data[:]...)
}

// DecodeUint decodes value encoded by EncodeUint before.
func DecodeUint(b []byte) ([]byte, uint64, error) {
	if len(b) < 8 {
		return nil, 0, errors.New("insufficient bytes to decode value")
	}
	return b[8:], binary.BigEndian.Uint64(b[:8]), nil
}

// DecodeUintDesc decodes value encoded by EncodeUintDesc before.
func DecodeUintDesc(b []byte) ([]byte, uint64, error) {
	if len(b) < 8 {
		return nil, 0, errors.New("insufficient bytes to decode value")
	}
	return b[8:], ^binary.BigEndian.Uint64(b[:8]), nil
}

func encodeFloatToCmpUint64(f float64) uint64 {
	u := math.Float64bits(f)
	if f >= 0 {
		u |= signMask
	} else {
		u = ^u
	}
	return u
}

func decodeCmpUintToFloat(u uint64) float64 {
	if u&signMask > 0 {
		u &= ^signMask
	} else {
		u = ^u
	}
	return math.Float64frombits(u)
}

// EncodeFloat encodes a float v into a byte slice which can be sorted lexicographically later.
// EncodeFloat guarantees that the encoded value is in ascending order for comparison.
func EncodeFloat(b []byte, v float64) []byte {
	return EncodeUint(b, encodeFloatToCmpUint64(v))
}

// DecodeFloat decodes a float from a byte slice generated with EncodeFloat before.
func DecodeFloat(b []byte) ([]byte, float64, error) {
	b, u, err := DecodeUint(b)
	return b, decodeCmpUintToFloat(u), errors.Trace(err)
}

// EncodeFloatDesc encodes a float v into a byte slice which can be sorted lexicographically later.
// EncodeFloatDesc guarantees that the encoded value is in descending order for comparison.
func EncodeFloatDesc(b []byte, v float64) []byte {
	return EncodeUintDesc(b, encodeFloatToCmpUint64(v))
}

// DecodeFloatDesc decodes a float from a byte slice generated with EncodeFloatDesc before.
func DecodeFloatDesc(b []byte) ([]byte, float64, error) {
	b, u, err := DecodeUintDesc(b)
	return b, decodeCmpUintToFloat(u), errors.Trace(err)
}

func encodeFloat32ToCmpUint32(f float32) uint32 {
	u := math.Float32bits(f)
	if f >= 0 {
		u |= signMask32
	} else {
		u = ^u
	}
	return u
}

func decodeCmpUintToFloat32(u uint32) float32 {
	if u&signMask32 > 0 {
		u &= ^signMask32
	} else {
		u = ^u
	}
	return math.Float32frombits(u)
}

// EncodeFloat32 encodes a single precision float in 4 bytes, ascending.
func EncodeFloat32(b []byte, v float32) []byte {
	var data [4]byte
	binary.BigEndian.PutUint32(data[:], encodeFloat32ToCmpUint32(v))
	return append(b, data[:]...)
}

// EncodeFloat32Desc encodes a single precision float in 4 bytes, descending.
func EncodeFloat32Desc(b []byte, v float32) []byte {
	var data [4]byte
	binary.BigEndian.PutUint32(data[:], ^encodeFloat32ToCmpUint32(v))
	return append(b, data[:]...)
}

// DecodeFloat32 decodes a float encoded by EncodeFloat32.
func DecodeFloat32(b []byte) ([]byte, float32, error) {
	if len(b) < 4 {
		return nil, 0, errors.New("insufficient bytes to decode value")
	}
	return b[4:], decodeCmpUintToFloat32(binary.BigEndian.Uint32(b[:4])), nil
}

// DecodeFloat32Desc decodes a float encoded by EncodeFloat32Desc.
func DecodeFloat32Desc(b []byte) ([]byte, float32, error) {
	if len(b) < 4 {
		return nil, 0, errors.New("insufficient bytes to decode value")
	}
	return b[4:], decodeCmpUintToFloat32(^binary.BigEndian.Uint32(b[:4])), nil
}
