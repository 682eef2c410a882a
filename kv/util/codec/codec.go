package codec

import (
	"encoding/binary"

	"github.com/pingcap/errors"
)

const (
	signMask uint64 = 0x8000000000000000

	encGroupSize = 8
	encMarker    = byte(0xFF)
	encPad       = byte(0x0)
)

var pads = make([]byte, encGroupSize)

// EncodeBytes guarantees the encoded value is in ascending order for comparison,
// encoding with the following rule:
//  [group1][marker1]...[groupN][markerN]
//  group is 8 bytes slice which is padding with 0.
//  marker is `0xFF - padding 0 count`
// For example:
//   [] -> [0, 0, 0, 0, 0, 0, 0, 0, 247]
//   [1, 2, 3] -> [1, 2, 3, 0, 0, 0, 0, 0, 250]
//   [1, 2, 3, 0] -> [1, 2, 3, 0, 0, 0, 0, 0, 251]
//   [1, 2, 3, 4, 5, 6, 7, 8] -> [1, 2, 3, 4, 5, 6, 7, 8, 255, 0, 0, 0, 0, 0, 0, 0, 0, 247]
// Refer: https://github.com/facebook/mysql-5.6/wiki/MyRocks-record-format#memcomparable-format
func EncodeBytes(data []byte) []byte {
	return AppendBytes(nil, data)
}

// AppendBytes appends the memcomparable form of data to b.
func AppendBytes(b []byte, data []byte) []byte {
	dLen := len(data)
	if b == nil {
		// make extra room for appending ts
		b = make([]byte, 0, (dLen/encGroupSize+1)*(encGroupSize+1)+8)
	}
	for idx := 0; idx <= dLen; idx += encGroupSize {
		remain := dLen - idx
		padCount := 0
		if remain >= encGroupSize {
			b = append(b, data[idx:idx+encGroupSize]...)
		} else {
			padCount = encGroupSize - remain
			b = append(b, data[idx:]...)
			b = append(b, pads[:padCount]...)
		}

		marker := encMarker - byte(padCount)
		b = append(b, marker)
	}
	return b
}

// AppendBytesDesc appends the memcomparable form of data to b with every byte inverted, so that the result sorts
// in descending order.
func AppendBytesDesc(b []byte, data []byte) []byte {
	n := len(b)
	b = AppendBytes(b, data)
	reverseBytes(b[n:])
	return b
}

// AppendTs appends the timestamp to encoded key, Note we invert the timestamp so that when sorted, they are in descending order.
func AppendTs(encodedKey []byte, ts uint64) []byte {
	newKey := append(encodedKey, make([]byte, 8)...)
	binary.BigEndian.PutUint64(newKey[len(newKey)-8:], ^ts)
	return newKey
}

// SplitTs splits a key ending with a timestamp appended by AppendTs.
func SplitTs(key []byte) ([]byte, uint64, error) {
	if len(key) < 8 {
		return nil, 0, errors.Errorf("key %q has no timestamp", key)
	}
	n := len(key) - 8
	return key[:n], ^binary.BigEndian.Uint64(key[n:]), nil
}

// DecodeBytes decodes bytes which is encoded by EncodeBytes before,
// returns the leftover bytes and decoded value if no error.
func DecodeBytes(b []byte) ([]byte, []byte, error) {
	return decodeBytes(b, false)
}

// DecodeBytesDesc decodes bytes which is encoded by AppendBytesDesc before.
func DecodeBytesDesc(b []byte) ([]byte, []byte, error) {
	return decodeBytes(b, true)
}

func decodeBytes(b []byte, desc bool) ([]byte, []byte, error) {
	data := make([]byte, 0, len(b))
	var group [encGroupSize + 1]byte
	for {
		if len(b) < encGroupSize+1 {
			return nil, nil, errors.New("insufficient bytes to decode value")
		}

		copy(group[:], b[:encGroupSize+1])
		if desc {
			reverseBytes(group[:])
		}
		marker := group[encGroupSize]

		padCount := encMarker - marker
		if padCount > encGroupSize {
			return nil, nil, errors.Errorf("invalid marker byte, group bytes %q", group[:])
		}

		realGroupSize := encGroupSize - padCount
		data = append(data, group[:realGroupSize]...)
		b = b[encGroupSize+1:]

		if padCount != 0 {
			// Check validity of padding bytes.
			for _, v := range group[realGroupSize:encGroupSize] {
				if v != encPad {
					return nil, nil, errors.Errorf("invalid padding byte, group bytes %q", group[:])
				}
			}
			break
		}
	}
	return b, data, nil
}

func reverseBytes(b []byte) {
	for i := range b {
		b[i] = ^b[i]
	}
}
