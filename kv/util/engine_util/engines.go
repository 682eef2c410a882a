package engine_util

import (
	"os"
	"path/filepath"

	"github.com/ngaut/log"
	"github.com/pingcap-incubator/tinysi/kv/config"
	"github.com/pingcap/errors"
)

// ErrNotFound is returned by Engine.Get when the key does not exist.
var ErrNotFound = errors.New("key not found")

// Engine is an ordered key/value store.
type Engine interface {
	// Get returns the value stored at key or ErrNotFound.
	Get(key []byte) ([]byte, error)
	// NewIterator returns an iterator over a consistent snapshot of the engine. It must be closed.
	NewIterator() DBIterator
	// Write applies the batch atomically.
	Write(wb *WriteBatch) error
	Close() error
}

type DBIterator interface {
	// Item returns pointer to the current key-value pair.
	Item() DBItem
	// Valid returns false when iteration is done.
	Valid() bool
	// Next would advance the iterator by one. Always check it.Valid() after a Next()
	// to ensure you have access to a valid it.Item().
	Next()
	// Seek would seek to the provided key if present. If absent, it would seek to the next smallest key
	// greater than provided.
	Seek([]byte)
	// Close the iterator
	Close()
}

// DBItem is one key/value pair of an iterator. Key and Value are only valid until the iterator moves.
type DBItem interface {
	Key() []byte
	Value() ([]byte, error)
}

// Engines keeps a reference to the engine opened for a store and the path it lives in.
type Engines struct {
	Kv     Engine
	KvPath string
}

func (en *Engines) Close() error {
	return en.Kv.Close()
}

func (en *Engines) Destroy() error {
	if err := en.Close(); err != nil {
		return err
	}
	if en.KvPath == "" {
		return nil
	}
	return os.RemoveAll(en.KvPath)
}

// CreateEngines opens the engine named by conf under conf.DBPath/subPath.
func CreateEngines(subPath string, conf *config.Config) (*Engines, error) {
	if conf.Engine == config.EngineMemory {
		return &Engines{Kv: NewMemEngine()}, nil
	}
	path := filepath.Join(conf.DBPath, subPath)
	if err := os.MkdirAll(path, os.ModePerm); err != nil {
		return nil, errors.WithStack(err)
	}
	var (
		kv  Engine
		err error
	)
	switch conf.Engine {
	case config.EngineBadger:
		kv, err = OpenBadgerEngine(path, &conf.Badger)
	case config.EngineLevelDB:
		kv, err = OpenLevelDBEngine(path)
	default:
		err = errors.Errorf("unknown engine %q", conf.Engine)
	}
	if err != nil {
		return nil, err
	}
	log.Infof("opened %s engine at %s", conf.Engine, path)
	return &Engines{Kv: kv, KvPath: path}, nil
}
