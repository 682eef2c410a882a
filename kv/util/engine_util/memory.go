package engine_util

import (
	"bytes"
	"sync"

	"github.com/google/btree"
)

const (
	memBTreeDegree   = 32
	memIterBatchSize = 64
)

type memItem struct {
	key   []byte
	value []byte
}

func (it memItem) Less(than btree.Item) bool {
	return bytes.Compare(it.key, than.(memItem).key) < 0
}

func (it memItem) Key() []byte { return it.key }

func (it memItem) Value() ([]byte, error) { return it.value, nil }

// MemEngine is an engine backed by memory. Data is not written to disk. It is intended for testing and for the
// in-memory engine setting.
type MemEngine struct {
	mu   sync.RWMutex
	tree *btree.BTree
}

func NewMemEngine() *MemEngine {
	return &MemEngine{tree: btree.New(memBTreeDegree)}
}

func (e *MemEngine) Get(key []byte) ([]byte, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	item := e.tree.Get(memItem{key: key})
	if item == nil {
		return nil, ErrNotFound
	}
	return item.(memItem).value, nil
}

func (e *MemEngine) Write(wb *WriteBatch) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return wb.Iterate(func(key, value []byte, delete bool) error {
		if delete {
			e.tree.Delete(memItem{key: key})
		} else {
			e.tree.ReplaceOrInsert(memItem{key: SafeCopy(nil, key), value: SafeCopy(nil, value)})
		}
		return nil
	})
}

// NewIterator iterates a copy-on-write clone of the tree, so later writes are not observed.
func (e *MemEngine) NewIterator() DBIterator {
	e.mu.Lock()
	snap := e.tree.Clone()
	e.mu.Unlock()
	return &memIterator{tree: snap}
}

// Len returns the number of keys in the engine.
func (e *MemEngine) Len() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.tree.Len()
}

func (e *MemEngine) Close() error {
	return nil
}

// memIterator reads the tree in small batches since btree only offers callback traversal.
type memIterator struct {
	tree  *btree.BTree
	items []memItem
	pos   int
	done  bool
}

func (it *memIterator) fill(from []byte, skipFrom bool) {
	it.items = it.items[:0]
	it.pos = 0
	it.tree.AscendGreaterOrEqual(memItem{key: from}, func(i btree.Item) bool {
		item := i.(memItem)
		if skipFrom && bytes.Equal(item.key, from) {
			return true
		}
		it.items = append(it.items, item)
		return len(it.items) < memIterBatchSize
	})
	it.done = len(it.items) < memIterBatchSize
}

func (it *memIterator) Item() DBItem {
	return it.items[it.pos]
}

func (it *memIterator) Valid() bool {
	return it.pos < len(it.items)
}

func (it *memIterator) Next() {
	it.pos++
	if it.pos == len(it.items) && !it.done {
		it.fill(it.items[it.pos-1].key, true)
	}
}

func (it *memIterator) Seek(key []byte) {
	it.fill(key, false)
}

func (it *memIterator) Close() {}
