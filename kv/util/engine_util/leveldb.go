package engine_util

import (
	"github.com/pingcap/errors"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/iterator"
	"github.com/syndtr/goleveldb/leveldb/storage"
)

// LevelDBEngine stores keys in a goleveldb DB.
type LevelDBEngine struct {
	db *leveldb.DB
}

func OpenLevelDBEngine(path string) (*LevelDBEngine, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return &LevelDBEngine{db: db}, nil
}

// NewMemLevelDBEngine opens a leveldb engine backed by memory storage, for tests.
func NewMemLevelDBEngine() (*LevelDBEngine, error) {
	db, err := leveldb.Open(storage.NewMemStorage(), nil)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return &LevelDBEngine{db: db}, nil
}

func (e *LevelDBEngine) Get(key []byte) ([]byte, error) {
	val, err := e.db.Get(key, nil)
	if err == leveldb.ErrNotFound {
		return nil, ErrNotFound
	}
	return val, errors.WithStack(err)
}

func (e *LevelDBEngine) Write(wb *WriteBatch) error {
	if wb.Len() == 0 {
		return nil
	}
	batch := new(leveldb.Batch)
	err := wb.Iterate(func(key, value []byte, delete bool) error {
		if delete {
			batch.Delete(key)
		} else {
			batch.Put(key, value)
		}
		return nil
	})
	if err != nil {
		return err
	}
	return errors.WithStack(e.db.Write(batch, nil))
}

func (e *LevelDBEngine) NewIterator() DBIterator {
	return &levelDBIterator{iter: e.db.NewIterator(nil, nil)}
}

func (e *LevelDBEngine) Close() error {
	return e.db.Close()
}

type levelDBIterator struct {
	iter iterator.Iterator
}

func (it *levelDBIterator) Item() DBItem {
	return memItem{key: it.iter.Key(), value: it.iter.Value()}
}

func (it *levelDBIterator) Valid() bool { return it.iter.Valid() }

func (it *levelDBIterator) Next() { it.iter.Next() }

func (it *levelDBIterator) Seek(key []byte) { it.iter.Seek(key) }

func (it *levelDBIterator) Close() { it.iter.Release() }
