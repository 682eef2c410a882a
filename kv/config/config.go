package config

import (
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/docker/go-units"
	"github.com/ngaut/log"
	"github.com/pingcap-incubator/tinysi/kv/util"
	"github.com/pingcap/errors"
)

const (
	EngineBadger  = "badger"
	EngineLevelDB = "leveldb"
	EngineMemory  = "memory"
)

type Config struct {
	LogLevel string `toml:"log-level"`
	// Directory to store the data in. Should exist and be writable.
	DBPath string `toml:"db-path"`
	// One of badger, leveldb or memory.
	Engine string `toml:"engine"`

	Badger   Badger   `toml:"badger"`
	Txn      Txn      `toml:"txn"`
	Pipeline Pipeline `toml:"pipeline"`
	Stats    Stats    `toml:"stats"`
}

type Badger struct {
	ValueThreshold   int      `toml:"value-threshold"` // If value size >= this threshold, only store value offsets in tree.
	MaxTableSize     ByteSize `toml:"max-table-size"`  // Each table is at most this size.
	NumMemTables     int      `toml:"num-mem-tables"`
	NumL0Tables      int      `toml:"num-L0-tables"`
	NumL0TablesStall int      `toml:"num-L0-tables-stall"`
	VlogFileSize     ByteSize `toml:"vlog-file-size"`
	SyncWrites       bool     `toml:"sync-writes"`
	NumCompactors    int      `toml:"num-compactors"`
}

type Txn struct {
	// An active transaction whose keep-alive is older than this is treated as rolled back.
	KeepAliveTimeout  Duration `toml:"keep-alive-timeout"`
	KeepAliveInterval Duration `toml:"keep-alive-interval"`
	// Number of terminal transaction records cached by the supplier.
	SupplierCacheSize int `toml:"supplier-cache-size"`
	ResolverQueueSize int `toml:"resolver-queue-size"`
	// Number of leading hash buckets of the transaction table.
	TableBuckets int `toml:"table-buckets"`
}

type Pipeline struct {
	MaxBufferEntries int      `toml:"max-buffer-entries"`
	MaxBufferSize    ByteSize `toml:"max-buffer-size"`
	// Admission tokens per second for one region, 0 disables admission control.
	AdmissionRate  float64 `toml:"admission-rate"`
	AdmissionBurst int64   `toml:"admission-burst"`
	FlushWorkers   int     `toml:"flush-workers"`
}

type Stats struct {
	TopK       int `toml:"top-k"`
	SampleSize int `toml:"sample-size"`
}

func (c *Config) Validate() error {
	switch c.Engine {
	case EngineBadger, EngineLevelDB, EngineMemory:
	default:
		return fmt.Errorf("unknown engine %q", c.Engine)
	}
	if c.Txn.KeepAliveTimeout.Duration <= 0 {
		return fmt.Errorf("keep-alive timeout must greater than 0")
	}
	if c.Txn.KeepAliveInterval.Duration >= c.Txn.KeepAliveTimeout.Duration {
		log.Warnf("keep-alive interval %v is not below the timeout %v, live transactions may be treated as timed out",
			c.Txn.KeepAliveInterval, c.Txn.KeepAliveTimeout)
	}
	if c.Txn.TableBuckets <= 0 || c.Txn.TableBuckets > 256 {
		return fmt.Errorf("table buckets must be in (0, 256]")
	}
	if c.Pipeline.MaxBufferEntries <= 0 {
		return fmt.Errorf("max buffer entries must greater than 0")
	}
	if c.Pipeline.FlushWorkers <= 0 {
		return fmt.Errorf("flush workers must greater than 0")
	}
	return nil
}

// LoadFile overrides the fields of c with the ones set in the TOML file at path.
func (c *Config) LoadFile(path string) error {
	if !util.FileExists(path) {
		return errors.Errorf("config file %s does not exist", path)
	}
	if _, err := toml.DecodeFile(path, c); err != nil {
		return errors.Annotatef(err, "load config %s", path)
	}
	return c.Validate()
}

const (
	KB uint64 = 1024
	MB uint64 = 1024 * 1024
)

func getLogLevel() (logLevel string) {
	logLevel = "info"
	if l := os.Getenv("LOG_LEVEL"); len(l) != 0 {
		logLevel = l
	}
	return
}

func NewDefaultConfig() *Config {
	return &Config{
		LogLevel: getLogLevel(),
		DBPath:   "/tmp/badger",
		Engine:   EngineBadger,
		Badger: Badger{
			ValueThreshold:   256,
			MaxTableSize:     ByteSize(64 * MB),
			NumMemTables:     3,
			NumL0Tables:      4,
			NumL0TablesStall: 8,
			VlogFileSize:     ByteSize(256 * MB),
			SyncWrites:       true,
			NumCompactors:    1,
		},
		Txn: Txn{
			KeepAliveTimeout:  NewDuration(15 * time.Second),
			KeepAliveInterval: NewDuration(5 * time.Second),
			SupplierCacheSize: 4096,
			ResolverQueueSize: 1024,
			TableBuckets:      16,
		},
		Pipeline: Pipeline{
			MaxBufferEntries: 1024,
			MaxBufferSize:    ByteSize(2 * MB),
			FlushWorkers:     4,
		},
		Stats: Stats{
			TopK:       10,
			SampleSize: 1024,
		},
	}
}

func NewTestConfig() *Config {
	c := NewDefaultConfig()
	c.Engine = EngineMemory
	c.Badger.SyncWrites = false
	c.Txn.KeepAliveTimeout = NewDuration(500 * time.Millisecond)
	c.Txn.KeepAliveInterval = NewDuration(50 * time.Millisecond)
	c.Txn.SupplierCacheSize = 128
	c.Txn.TableBuckets = 4
	c.Pipeline.MaxBufferEntries = 16
	c.Pipeline.MaxBufferSize = ByteSize(64 * KB)
	c.Pipeline.FlushWorkers = 2
	return c
}

// ByteSize is a size in bytes that reads and writes human readable forms like "64MiB".
type ByteSize uint64

func (b ByteSize) MarshalText() ([]byte, error) {
	return []byte(units.BytesSize(float64(b))), nil
}

func (b *ByteSize) UnmarshalText(text []byte) error {
	v, err := units.RAMInBytes(string(text))
	if err != nil {
		return errors.Trace(err)
	}
	*b = ByteSize(v)
	return nil
}

// Duration wraps time.Duration so it can be written as "15s" in TOML.
type Duration struct {
	time.Duration
}

func NewDuration(d time.Duration) Duration {
	return Duration{Duration: d}
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

func (d *Duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return errors.Trace(err)
}
