package config

import (
	"io/ioutil"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfigValid(t *testing.T) {
	assert.Nil(t, NewDefaultConfig().Validate())
	assert.Nil(t, NewTestConfig().Validate())
}

func TestValidate(t *testing.T) {
	c := NewTestConfig()
	c.Engine = "rocksdb"
	assert.NotNil(t, c.Validate())

	c = NewTestConfig()
	c.Txn.TableBuckets = 0
	assert.NotNil(t, c.Validate())

	c = NewTestConfig()
	c.Txn.KeepAliveTimeout = NewDuration(0)
	assert.NotNil(t, c.Validate())
}

func TestLoadFile(t *testing.T) {
	dir, err := ioutil.TempDir("", "config")
	require.Nil(t, err)
	defer os.RemoveAll(dir)

	path := filepath.Join(dir, "si.toml")
	data := `
log-level = "warn"
engine = "leveldb"

[txn]
keep-alive-timeout = "3s"
table-buckets = 8

[pipeline]
max-buffer-size = "1MiB"
`
	require.Nil(t, ioutil.WriteFile(path, []byte(data), 0644))

	c := NewDefaultConfig()
	require.Nil(t, c.LoadFile(path))
	assert.Equal(t, "warn", c.LogLevel)
	assert.Equal(t, EngineLevelDB, c.Engine)
	assert.Equal(t, 3*time.Second, c.Txn.KeepAliveTimeout.Duration)
	assert.Equal(t, 8, c.Txn.TableBuckets)
	assert.Equal(t, ByteSize(MB), c.Pipeline.MaxBufferSize)
	// untouched fields keep their defaults
	assert.Equal(t, 1024, c.Pipeline.MaxBufferEntries)

	assert.NotNil(t, NewDefaultConfig().LoadFile(filepath.Join(dir, "missing.toml")))
}

func TestByteSizeText(t *testing.T) {
	var b ByteSize
	require.Nil(t, b.UnmarshalText([]byte("64MiB")))
	assert.Equal(t, ByteSize(64*MB), b)
	assert.NotNil(t, b.UnmarshalText([]byte("lots")))
}
