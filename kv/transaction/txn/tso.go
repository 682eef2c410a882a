package txn

import (
	"encoding/binary"
	"sync"
	"time"

	"github.com/ngaut/log"
	"github.com/pingcap-incubator/tinysi/kv/util/engine_util"
	"github.com/pingcap/errors"
)

const (
	physicalShiftBits = 18
	maxLogical        = int64(1 << physicalShiftBits)
	// tsoSaveInterval is how far ahead of the physical clock the saved high-water mark is kept.
	tsoSaveInterval = 3 * time.Second
	updateGuard     = time.Millisecond
)

// ComposeTS packs a millisecond physical time and a logical counter into one timestamp.
func ComposeTS(physical, logical int64) uint64 {
	return uint64((physical << physicalShiftBits) + logical)
}

// ParseTS splits a timestamp into its physical time and logical counter.
func ParseTS(ts uint64) (time.Time, uint64) {
	logical := ts & uint64(maxLogical-1)
	physical := int64(ts >> physicalShiftBits)
	return time.Unix(0, physical*int64(time.Millisecond)), logical
}

// TSO allocates strictly increasing timestamps used as transaction ids and commit timestamps. When an engine is
// given, a high-water mark is saved so that timestamps keep increasing across restarts.
type TSO struct {
	mu        sync.Mutex
	physical  time.Time
	logical   int64
	lastSaved time.Time

	engine engine_util.Engine
	key    []byte
}

// NewTSO creates an oracle. engine may be nil for a process local oracle.
func NewTSO(engine engine_util.Engine, key []byte) (*TSO, error) {
	t := &TSO{engine: engine, key: key}
	next := time.Now()
	if engine != nil {
		last, err := t.loadTimestamp()
		if err != nil {
			return nil, err
		}
		if next.Sub(last) < updateGuard {
			log.Errorf("system time may be incorrect, last %v next %v", last, next)
			next = last.Add(updateGuard)
		}
		if err := t.saveTimestamp(next.Add(tsoSaveInterval)); err != nil {
			return nil, err
		}
	}
	t.physical = next
	return t, nil
}

func (t *TSO) loadTimestamp() (time.Time, error) {
	data, err := engine_util.GetOrNil(t.engine, t.key)
	if err != nil {
		return time.Time{}, errors.Trace(err)
	}
	if len(data) == 0 {
		return time.Time{}, nil
	}
	if len(data) != 8 {
		return time.Time{}, errors.Errorf("invalid saved timestamp %q", data)
	}
	return time.Unix(0, int64(binary.BigEndian.Uint64(data))), nil
}

func (t *TSO) saveTimestamp(ts time.Time) error {
	data := make([]byte, 8)
	binary.BigEndian.PutUint64(data, uint64(ts.UnixNano()))
	wb := new(engine_util.WriteBatch)
	wb.Set(t.key, data)
	if err := t.engine.Write(wb); err != nil {
		return errors.Trace(err)
	}
	t.lastSaved = ts
	return nil
}

// updateLocked moves the physical time forward, saving a new high-water mark when the window is used up.
func (t *TSO) updateLocked() error {
	now := time.Now()
	next := now
	if now.Sub(t.physical) <= updateGuard {
		next = t.physical.Add(time.Millisecond)
	}
	if t.engine != nil && t.lastSaved.Sub(next) <= updateGuard {
		if err := t.saveTimestamp(next.Add(tsoSaveInterval)); err != nil {
			return err
		}
	}
	t.physical = next
	t.logical = 0
	return nil
}

// GetTimestamps allocates count timestamps and returns the last one.
func (t *TSO) GetTimestamps(count uint32) (uint64, error) {
	if count == 0 {
		return 0, errors.New("tso count should be positive")
	}
	if int64(count) >= maxLogical {
		return 0, errors.Errorf("tso count %d too large", count)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.logical+int64(count) >= maxLogical {
		if err := t.updateLocked(); err != nil {
			return 0, err
		}
	} else if now := time.Now(); now.Sub(t.physical) > updateGuard {
		if err := t.updateLocked(); err != nil {
			return 0, err
		}
	}
	t.logical += int64(count)
	return ComposeTS(t.physical.UnixNano()/int64(time.Millisecond), t.logical), nil
}

func (t *TSO) Next() (uint64, error) {
	return t.GetTimestamps(1)
}
