package engine_util

import (
	"io/ioutil"
	"os"
	"testing"

	"github.com/pingcap-incubator/tinysi/kv/config"
	"github.com/pingcap/errors"
	"github.com/stretchr/testify/require"
)

func testEngine(t *testing.T, e Engine) {
	batch := new(WriteBatch)
	batch.Set([]byte("a"), []byte("a1"))
	batch.Set([]byte("b"), []byte("b1"))
	batch.Set([]byte("c"), []byte{})
	batch.Set([]byte("d"), []byte("d1"))
	batch.Set([]byte("e"), []byte("e1"))
	batch.Delete([]byte("e"))
	err := e.Write(batch)
	require.Nil(t, err)

	_, err = e.Get([]byte("e"))
	require.Equal(t, ErrNotFound, err)

	// an empty value is a value, not a delete
	val, err := e.Get([]byte("c"))
	require.Nil(t, err)
	require.Len(t, val, 0)

	it := e.NewIterator()
	after := new(WriteBatch)
	after.Set([]byte("bb"), []byte("bb1"))
	require.Nil(t, e.Write(after))

	it.Seek([]byte("a"))
	var keys []string
	for ; it.Valid(); it.Next() {
		keys = append(keys, string(it.Item().Key()))
	}
	it.Close()
	require.Equal(t, []string{"a", "b", "c", "d"}, keys)

	it = e.NewIterator()
	it.Seek([]byte("ba"))
	require.True(t, it.Valid())
	require.Equal(t, []byte("bb"), it.Item().Key())
	v, err := it.Item().Value()
	require.Nil(t, err)
	require.Equal(t, []byte("bb1"), v)
	it.Close()

	require.Nil(t, DeleteRange(e, []byte("b"), []byte("d")))
	val, err = GetOrNil(e, []byte("bb"))
	require.Nil(t, err)
	require.Nil(t, val)
	val, err = GetOrNil(e, []byte("d"))
	require.Nil(t, err)
	require.Equal(t, []byte("d1"), val)
}

func TestMemEngine(t *testing.T) {
	testEngine(t, NewMemEngine())
}

func TestLevelDBEngine(t *testing.T) {
	e, err := NewMemLevelDBEngine()
	require.Nil(t, err)
	defer e.Close()
	testEngine(t, e)
}

func TestWriteBatchIterateError(t *testing.T) {
	batch := new(WriteBatch)
	batch.Set([]byte("a"), []byte("1"))
	batch.Delete([]byte("b"))
	batch.Set([]byte("c"), []byte("3"))
	stop := errors.New("stop")
	var keys []string
	err := batch.Iterate(func(key, value []byte, delete bool) error {
		keys = append(keys, string(key))
		if delete {
			return stop
		}
		return nil
	})
	require.Equal(t, stop, err)
	require.Equal(t, []string{"a", "b"}, keys)

	e, err := NewMemLevelDBEngine()
	require.Nil(t, err)
	defer e.Close()
	require.Nil(t, e.Write(batch))
	val, err := e.Get([]byte("c"))
	require.Nil(t, err)
	require.Equal(t, []byte("3"), val)
	_, err = e.Get([]byte("b"))
	require.Equal(t, ErrNotFound, err)
}

func TestBadgerEngine(t *testing.T) {
	dir, err := ioutil.TempDir("", "engine_util")
	require.Nil(t, err)
	defer os.RemoveAll(dir)
	conf := config.NewTestConfig()
	conf.Engine = config.EngineBadger
	conf.DBPath = dir
	engines, err := CreateEngines("kv", conf)
	require.Nil(t, err)
	defer engines.Close()
	testEngine(t, engines.Kv)
}

func TestMemIteratorBatches(t *testing.T) {
	e := NewMemEngine()
	batch := new(WriteBatch)
	for i := 0; i < memIterBatchSize*3+1; i++ {
		batch.Set([]byte{byte(i >> 8), byte(i)}, nil)
	}
	batch.MustWriteTo(e)
	it := e.NewIterator()
	defer it.Close()
	count := 0
	for it.Seek(nil); it.Valid(); it.Next() {
		require.Equal(t, []byte{byte(count >> 8), byte(count)}, it.Item().Key())
		count++
	}
	require.Equal(t, memIterBatchSize*3+1, count)
	require.Equal(t, count, e.Len())
}

func TestWriteBatchSafePoint(t *testing.T) {
	wb := new(WriteBatch)
	wb.Set([]byte("a"), []byte("1"))
	wb.SetSafePoint()
	wb.Set([]byte("b"), []byte("2"))
	wb.Delete([]byte("c"))
	require.Equal(t, 3, wb.Len())
	wb.RollbackToSafePoint()
	require.Equal(t, 1, wb.Len())
	require.Equal(t, 2, wb.Size())
}
