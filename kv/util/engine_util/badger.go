package engine_util

import (
	"github.com/coocood/badger"
	"github.com/pingcap-incubator/tinysi/kv/config"
	"github.com/pingcap/errors"
)

// BadgerEngine stores keys in a badger DB.
type BadgerEngine struct {
	db *badger.DB
}

func OpenBadgerEngine(path string, conf *config.Badger) (*BadgerEngine, error) {
	opts := badger.DefaultOptions
	opts.Dir = path
	opts.ValueDir = path
	opts.NumCompactors = conf.NumCompactors
	opts.ValueThreshold = conf.ValueThreshold
	opts.ValueLogFileSize = int64(conf.VlogFileSize)
	opts.MaxTableSize = int64(conf.MaxTableSize)
	opts.NumMemtables = conf.NumMemTables
	opts.NumLevelZeroTables = conf.NumL0Tables
	opts.NumLevelZeroTablesStall = conf.NumL0TablesStall
	opts.SyncWrites = conf.SyncWrites
	db, err := badger.Open(opts)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return &BadgerEngine{db: db}, nil
}

func NewBadgerEngine(db *badger.DB) *BadgerEngine {
	return &BadgerEngine{db: db}
}

func (e *BadgerEngine) Get(key []byte) (val []byte, err error) {
	err = e.db.View(func(txn *badger.Txn) error {
		item, err1 := txn.Get(key)
		if err1 != nil {
			return err1
		}
		v, err1 := item.Value()
		if err1 != nil {
			return err1
		}
		val = SafeCopy(nil, v)
		return nil
	})
	if err == badger.ErrKeyNotFound {
		return nil, ErrNotFound
	}
	return val, errors.WithStack(err)
}

func (e *BadgerEngine) Write(wb *WriteBatch) error {
	if wb.Len() == 0 {
		return nil
	}
	err := e.db.Update(func(txn *badger.Txn) error {
		return wb.Iterate(func(key, value []byte, delete bool) error {
			if delete {
				return txn.Delete(key)
			}
			return txn.SetEntry(&badger.Entry{Key: key, Value: value})
		})
	})
	return errors.WithStack(err)
}

func (e *BadgerEngine) NewIterator() DBIterator {
	txn := e.db.NewTransaction(false)
	return &badgerIterator{
		txn:  txn,
		iter: txn.NewIterator(badger.DefaultIteratorOptions),
	}
}

func (e *BadgerEngine) Close() error {
	return e.db.Close()
}

type badgerIterator struct {
	txn  *badger.Txn
	iter *badger.Iterator
}

func (it *badgerIterator) Item() DBItem {
	return badgerItem{it.iter.Item()}
}

func (it *badgerIterator) Valid() bool { return it.iter.Valid() }

func (it *badgerIterator) Next() { it.iter.Next() }

func (it *badgerIterator) Seek(key []byte) { it.iter.Seek(key) }

func (it *badgerIterator) Close() {
	it.iter.Close()
	it.txn.Discard()
}

type badgerItem struct {
	item *badger.Item
}

func (i badgerItem) Key() []byte { return i.item.Key() }

func (i badgerItem) Value() ([]byte, error) { return i.item.Value() }
