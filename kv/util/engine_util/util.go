package engine_util

import (
	"bytes"
)

// GetOrNil returns the value of key, or nil when it is absent.
func GetOrNil(e Engine, key []byte) ([]byte, error) {
	val, err := e.Get(key)
	if err == ErrNotFound {
		return nil, nil
	}
	return val, err
}

// DeleteRange removes every key in [startKey, endKey). An empty endKey means no upper bound.
func DeleteRange(e Engine, startKey, endKey []byte) error {
	batch := new(WriteBatch)
	it := e.NewIterator()
	for it.Seek(startKey); it.Valid(); it.Next() {
		key := it.Item().Key()
		if ExceedEndKey(key, endKey) {
			break
		}
		batch.Delete(SafeCopy(nil, key))
	}
	it.Close()
	return e.Write(batch)
}

func ExceedEndKey(current, endKey []byte) bool {
	if len(endKey) == 0 {
		return false
	}
	return bytes.Compare(current, endKey) >= 0
}

// SafeCopy does append(a[:0], src...).
func SafeCopy(a, src []byte) []byte {
	return append(a[:0], src...)
}
