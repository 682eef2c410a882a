package engine_util

type batchEntry struct {
	key   []byte
	value []byte
	// Empty values are legal, so deletes carry their own flag.
	delete bool
}

type WriteBatch struct {
	entries       []batchEntry
	size          int
	safePoint     int
	safePointSize int
}

func (wb *WriteBatch) Len() int {
	return len(wb.entries)
}

// Size is the number of key and value bytes in the batch.
func (wb *WriteBatch) Size() int {
	return wb.size
}

func (wb *WriteBatch) Set(key, val []byte) {
	wb.entries = append(wb.entries, batchEntry{key: key, value: val})
	wb.size += len(key) + len(val)
}

func (wb *WriteBatch) Delete(key []byte) {
	wb.entries = append(wb.entries, batchEntry{key: key, delete: true})
	wb.size += len(key)
}

func (wb *WriteBatch) SetSafePoint() {
	wb.safePoint = len(wb.entries)
	wb.safePointSize = wb.size
}

func (wb *WriteBatch) RollbackToSafePoint() {
	wb.entries = wb.entries[:wb.safePoint]
	wb.size = wb.safePointSize
}

// Iterate calls f on every entry in insertion order and stops at the first error.
func (wb *WriteBatch) Iterate(f func(key, value []byte, delete bool) error) error {
	for _, e := range wb.entries {
		if err := f(e.key, e.value, e.delete); err != nil {
			return err
		}
	}
	return nil
}

func (wb *WriteBatch) MustWriteTo(e Engine) {
	err := e.Write(wb)
	if err != nil {
		panic(err)
	}
}

func (wb *WriteBatch) Reset() {
	wb.entries = wb.entries[:0]
	wb.size = 0
	wb.safePoint = 0
	wb.safePointSize = 0
}
