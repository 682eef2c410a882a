package rowcodec

import (
	"encoding/binary"
	"math"
)

func encodeInt(v int64) []byte {
	var buf []byte
	switch {
	case v >= math.MinInt8 && v <= math.MaxInt8:
		buf = []byte{byte(v)}
	case v >= math.MinInt16 && v <= math.MaxInt16:
		buf = make([]byte, 2)
		binary.LittleEndian.PutUint16(buf, uint16(v))
	case v >= math.MinInt32 && v <= math.MaxInt32:
		buf = make([]byte, 4)
		binary.LittleEndian.PutUint32(buf, uint32(v))
	default:
		buf = make([]byte, 8)
		binary.LittleEndian.PutUint64(buf, uint64(v))
	}
	return buf
}

func decodeInt(val []byte) int64 {
	switch len(val) {
	case 1:
		return int64(int8(val[0]))
	case 2:
		return int64(int16(binary.LittleEndian.Uint16(val)))
	case 4:
		return int64(int32(binary.LittleEndian.Uint32(val)))
	default:
		return int64(binary.LittleEndian.Uint64(val))
	}
}

func encodeUint(v uint64) []byte {
	var buf []byte
	switch {
	case v <= math.MaxUint8:
		buf = []byte{byte(v)}
	case v <= math.MaxUint16:
		buf = make([]byte, 2)
		binary.LittleEndian.PutUint16(buf, uint16(v))
	case v <= math.MaxUint32:
		buf = make([]byte, 4)
		binary.LittleEndian.PutUint32(buf, uint32(v))
	default:
		buf = make([]byte, 8)
		binary.LittleEndian.PutUint64(buf, v)
	}
	return buf
}

func decodeUint(val []byte) uint64 {
	switch len(val) {
	case 1:
		return uint64(val[0])
	case 2:
		return uint64(binary.LittleEndian.Uint16(val))
	case 4:
		return uint64(binary.LittleEndian.Uint32(val))
	default:
		return binary.LittleEndian.Uint64(val)
	}
}

func appendUint64(b []byte, v uint64) []byte {
	var data [8]byte
	binary.BigEndian.PutUint64(data[:], v)
	return append(b, data[:]...)
}

func appendUint32(b []byte, v uint32) []byte {
	var data [4]byte
	binary.BigEndian.PutUint32(data[:], v)
	return append(b, data[:]...)
}

func appendUint32LE(b []byte, v uint32) []byte {
	var data [4]byte
	binary.LittleEndian.PutUint32(data[:], v)
	return append(b, data[:]...)
}

func bytesToU16Slice(b []byte) []uint16 {
	s := make([]uint16, len(b)/2)
	for i := range s {
		s[i] = binary.LittleEndian.Uint16(b[i*2:])
	}
	return s
}

func bytesToU32Slice(b []byte) []uint32 {
	s := make([]uint32, len(b)/4)
	for i := range s {
		s[i] = binary.LittleEndian.Uint32(b[i*4:])
	}
	return s
}
