package storage

import (
	"bytes"
	"context"
	"encoding/binary"
	"sync"
	"time"

	"github.com/juju/ratelimit"
	"github.com/ngaut/log"
	"github.com/pingcap-incubator/tinysi/kv/config"
	"github.com/pingcap-incubator/tinysi/kv/transaction/latches"
	"github.com/pingcap-incubator/tinysi/kv/util/codec"
	"github.com/pingcap-incubator/tinysi/kv/util/engine_util"
	"github.com/pingcap/errors"
	"go.uber.org/atomic"
)

const (
	stateServing int32 = iota
	stateClosing
	stateClosed
)

const slowCloseWait = 50 * time.Millisecond

type RegionOptions struct {
	// AdmissionRate is the number of operations per second the region admits, 0 disables admission control.
	AdmissionRate  float64
	AdmissionBurst int64
}

func NewRegionOptions(conf *config.Pipeline) RegionOptions {
	return RegionOptions{AdmissionRate: conf.AdmissionRate, AdmissionBurst: conf.AdmissionBurst}
}

// Region is a Partition over a key range of one table stored in an engine. Several regions and tables can share an
// engine since every cell key starts with the encoded table name.
type Region struct {
	engine engine_util.Engine
	table  string
	name   string
	ns     []byte
	opts   RegionOptions

	mu       sync.RWMutex
	startKey []byte
	endKey   []byte

	state   atomic.Int32
	latches *latches.Latches
	bucket  *ratelimit.Bucket
	incrMu  sync.Mutex

	opsMu    sync.Mutex
	opsCond  *sync.Cond
	opsCount int

	writes atomic.Int64
	reads  atomic.Int64
}

// NewRegion creates a region serving [startKey, endKey) of table. An empty endKey is unbounded.
func NewRegion(engine engine_util.Engine, table, name string, startKey, endKey []byte, opts RegionOptions) *Region {
	r := &Region{
		engine:   engine,
		table:    table,
		name:     name,
		ns:       codec.EncodeBytes([]byte(table)),
		opts:     opts,
		startKey: startKey,
		endKey:   endKey,
		latches:  latches.NewLatches(),
	}
	r.opsCond = sync.NewCond(&r.opsMu)
	if opts.AdmissionRate > 0 {
		burst := opts.AdmissionBurst
		if burst <= 0 {
			burst = int64(opts.AdmissionRate)
		}
		r.bucket = ratelimit.NewBucketWithRate(opts.AdmissionRate, burst)
	}
	return r
}

func (r *Region) TableName() string { return r.table }

func (r *Region) Name() string { return r.name }

func (r *Region) StartKey() []byte {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.startKey
}

func (r *Region) EndKey() []byte {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.endKey
}

func (r *Region) ContainsRow(row []byte) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return containsRow(r.startKey, r.endKey, row)
}

// ContainsRange reports whether [start, end) lies within the region. An empty end is unbounded.
func (r *Region) ContainsRange(start, end []byte) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if bytes.Compare(start, r.startKey) < 0 {
		return false
	}
	if len(r.endKey) == 0 {
		return true
	}
	return len(end) > 0 && bytes.Compare(end, r.endKey) <= 0
}

func (r *Region) wrongRegion(row []byte) error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return &ErrWrongRegion{Key: row, StartKey: r.startKey, EndKey: r.endKey}
}

func (r *Region) IsClosed() bool { return r.state.Load() == stateClosed }

func (r *Region) IsClosing() bool { return r.state.Load() == stateClosing }

func (r *Region) serving() bool { return r.state.Load() == stateServing }

// SetClosing stops the region from admitting new operations while in-flight ones finish.
func (r *Region) SetClosing() {
	r.state.CAS(stateServing, stateClosing)
}

func (r *Region) WritesRequested() int64 { return r.writes.Load() }

func (r *Region) ReadsRequested() int64 { return r.reads.Load() }

func (r *Region) StartOperation(ctx context.Context) error {
	if ctx.Err() != nil {
		return ErrInterrupted
	}
	if r.bucket != nil && r.bucket.TakeAvailable(1) == 0 {
		regionRejectedCounter.WithLabelValues(r.table, "busy").Inc()
		return ErrRegionTooBusy
	}
	r.opsMu.Lock()
	defer r.opsMu.Unlock()
	if !r.serving() {
		regionRejectedCounter.WithLabelValues(r.table, "not_serving").Inc()
		return ErrNotServingRegion
	}
	r.opsCount++
	regionOperationsGauge.WithLabelValues(r.table).Inc()
	return nil
}

func (r *Region) CloseOperation() {
	r.opsMu.Lock()
	defer r.opsMu.Unlock()
	r.opsCount--
	regionOperationsGauge.WithLabelValues(r.table).Dec()
	if r.opsCount == 0 {
		r.opsCond.Broadcast()
	}
}

// Close waits for every in-flight operation to finish. A closed region serves nothing.
func (r *Region) Close() error {
	start := time.Now()
	r.opsMu.Lock()
	r.state.Store(stateClosed)
	for r.opsCount > 0 {
		r.opsCond.Wait()
	}
	r.opsMu.Unlock()
	if dur := time.Since(start); dur > slowCloseWait {
		log.Warnf("close region %s of %s waits %v for operations", r.name, r.table, dur)
	}
	return nil
}

type rowLock struct {
	latches *latches.Latches
	keys    [][]byte
}

func (l *rowLock) Release() {
	l.latches.ReleaseLatches(l.keys)
}

func (r *Region) GetRowLock(ctx context.Context, row []byte) (RowLock, error) {
	if !r.ContainsRow(row) {
		return nil, r.wrongRegion(row)
	}
	keys := [][]byte{row}
	if err := r.latches.WaitForLatches(ctx, keys); err != nil {
		return nil, ErrInterrupted
	}
	return &rowLock{latches: r.latches, keys: keys}, nil
}

func (r *Region) checkRead(row []byte) error {
	if r.IsClosed() {
		return ErrNotServingRegion
	}
	if !r.ContainsRow(row) {
		return r.wrongRegion(row)
	}
	return nil
}

func (r *Region) checkWrite(row []byte) error {
	if !r.serving() {
		return ErrNotServingRegion
	}
	if !r.ContainsRow(row) {
		return r.wrongRegion(row)
	}
	return nil
}

func (r *Region) readRow(row []byte, prev *Result, latestOnly bool) (*Result, error) {
	if err := r.checkRead(row); err != nil {
		return nil, err
	}
	r.reads.Inc()
	res := prev
	if res == nil {
		res = new(Result)
	}
	res.Reset()
	res.Row = row
	prefix := rowPrefix(r.ns, row)
	it := r.engine.NewIterator()
	defer it.Close()
	for it.Seek(prefix); it.Valid(); {
		item := it.Item()
		key := item.Key()
		if !bytes.HasPrefix(key, prefix) {
			break
		}
		var c Cell
		if err := decodeCellKey(r.ns, key, &c); err != nil {
			return nil, err
		}
		val, err := item.Value()
		if err != nil {
			return nil, errors.Trace(err)
		}
		c.Value = engine_util.SafeCopy(nil, val)
		res.Cells = append(res.Cells, c)
		if latestOnly {
			it.Seek(prefixNext(columnPrefix(r.ns, c.Row, c.Family, c.Qualifier)))
		} else {
			it.Next()
		}
	}
	return res, nil
}

func (r *Region) Get(row []byte, prev *Result) (*Result, error) {
	return r.readRow(row, prev, false)
}

func (r *Region) GetLatest(row []byte, prev *Result) (*Result, error) {
	return r.readRow(row, prev, true)
}

func (r *Region) Put(row []byte, cells []Cell) error {
	return r.Mutate(&Mutation{Row: row, Puts: cells})
}

func (r *Region) Delete(row []byte, cells []Cell) error {
	if len(cells) == 0 {
		return r.Mutate(&Mutation{Row: row, DeleteRow: true})
	}
	return r.Mutate(&Mutation{Row: row, Deletes: cells})
}

func (r *Region) Mutate(m *Mutation) error {
	if err := r.checkWrite(m.Row); err != nil {
		return err
	}
	r.writes.Inc()
	wb := new(engine_util.WriteBatch)
	if err := r.addMutation(wb, m); err != nil {
		return err
	}
	return r.engine.Write(wb)
}

func (r *Region) addMutation(wb *engine_util.WriteBatch, m *Mutation) error {
	if m.DeleteRow {
		prefix := rowPrefix(r.ns, m.Row)
		it := r.engine.NewIterator()
		for it.Seek(prefix); it.Valid(); it.Next() {
			key := it.Item().Key()
			if !bytes.HasPrefix(key, prefix) {
				break
			}
			wb.Delete(engine_util.SafeCopy(nil, key))
		}
		it.Close()
	}
	for i := range m.Deletes {
		c := m.Deletes[i]
		c.Row = m.Row
		wb.Delete(encodeCellKey(r.ns, &c))
	}
	for i := range m.Puts {
		c := m.Puts[i]
		c.Row = m.Row
		wb.Set(encodeCellKey(r.ns, &c), c.Value)
	}
	return nil
}

func (r *Region) WriteBatch(ms []*Mutation) ([]MutationStatus, error) {
	statuses := make([]MutationStatus, len(ms))
	if !r.serving() {
		for i := range statuses {
			statuses[i] = MutationStatus{Code: StatusNotServing, Err: ErrNotServingRegion}
		}
		return statuses, nil
	}
	r.writes.Add(int64(len(ms)))
	wb := new(engine_util.WriteBatch)
	var applied []int
	for i, m := range ms {
		if !r.ContainsRow(m.Row) {
			statuses[i] = MutationStatus{Code: StatusWrongRegion, Err: r.wrongRegion(m.Row)}
			continue
		}
		wb.SetSafePoint()
		if err := r.addMutation(wb, m); err != nil {
			wb.RollbackToSafePoint()
			statuses[i] = MutationStatus{Code: StatusFailed, Err: err}
			continue
		}
		applied = append(applied, i)
	}
	if err := r.engine.Write(wb); err != nil {
		for _, i := range applied {
			statuses[i] = MutationStatus{Code: StatusFailed, Err: err}
		}
	}
	return statuses, nil
}

func (r *Region) Increment(row, family, qualifier []byte, amount int64) (int64, error) {
	if err := r.checkWrite(row); err != nil {
		return 0, err
	}
	r.incrMu.Lock()
	defer r.incrMu.Unlock()
	c := Cell{Row: row, Family: family, Qualifier: qualifier}
	key := encodeCellKey(r.ns, &c)
	old, err := engine_util.GetOrNil(r.engine, key)
	if err != nil {
		return 0, err
	}
	var v int64
	if len(old) == 8 {
		v = int64(binary.BigEndian.Uint64(old))
	} else if len(old) != 0 {
		return 0, errors.Errorf("counter %q:%s:%s is not 8 bytes", row, family, qualifier)
	}
	v += amount
	val := make([]byte, 8)
	binary.BigEndian.PutUint64(val, uint64(v))
	wb := new(engine_util.WriteBatch)
	wb.Set(key, val)
	r.writes.Inc()
	return v, r.engine.Write(wb)
}

// Split shrinks the region to [start, splitKey) and returns the daughter region serving [splitKey, end).
func (r *Region) Split(splitKey []byte, name string) (*Region, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !containsRow(r.startKey, r.endKey, splitKey) || bytes.Equal(splitKey, r.startKey) {
		return nil, errors.Errorf("split key %q not inside region [%q, %q)", splitKey, r.startKey, r.endKey)
	}
	daughter := NewRegion(r.engine, r.table, name, splitKey, r.endKey, r.opts)
	daughter.latches = r.latches
	r.endKey = splitKey
	log.Infof("region %s of %s split at %q into %s", r.name, r.table, splitKey, name)
	return daughter, nil
}

// CutPoints returns up to n-1 row keys that split the region into n parts of about the same number of rows.
func (r *Region) CutPoints(n int) ([][]byte, error) {
	if n <= 1 {
		return nil, nil
	}
	start, end := r.StartKey(), r.EndKey()
	var rows [][]byte
	it := r.engine.NewIterator()
	defer it.Close()
	stop := r.stopKey(end)
	for it.Seek(rowPrefix(r.ns, start)); it.Valid(); {
		key := it.Item().Key()
		if bytes.Compare(key, stop) >= 0 {
			break
		}
		var c Cell
		if err := decodeCellKey(r.ns, key, &c); err != nil {
			return nil, err
		}
		rows = append(rows, c.Row)
		it.Seek(prefixNext(rowPrefix(r.ns, c.Row)))
	}
	var cuts [][]byte
	for i := 1; i < n; i++ {
		idx := i * len(rows) / n
		if idx == 0 || idx >= len(rows) {
			continue
		}
		if len(cuts) > 0 && bytes.Equal(cuts[len(cuts)-1], rows[idx]) {
			continue
		}
		cuts = append(cuts, rows[idx])
	}
	return cuts, nil
}

// stopKey is the first encoded key past row end of this table.
func (r *Region) stopKey(end []byte) []byte {
	if len(end) == 0 {
		return prefixNext(r.ns)
	}
	return rowPrefix(r.ns, end)
}

func (r *Region) OpenScanner(scan *Scan) (Scanner, error) {
	return r.OpenScannerWithMetrics(scan, nil)
}

func (r *Region) OpenScannerWithMetrics(scan *Scan, metrics *ScanMetrics) (Scanner, error) {
	if r.IsClosed() {
		return nil, ErrNotServingRegion
	}
	r.reads.Inc()
	start, end := r.StartKey(), r.EndKey()
	if bytes.Compare(scan.StartRow, start) > 0 {
		start = scan.StartRow
	}
	if len(scan.StopRow) > 0 && (len(end) == 0 || bytes.Compare(scan.StopRow, end) < 0) {
		end = scan.StopRow
	}
	if metrics == nil {
		metrics = new(ScanMetrics)
	}
	s := &regionScanner{
		region:  r,
		it:      r.engine.NewIterator(),
		filter:  scan.Filter,
		limit:   scan.Limit,
		stop:    r.stopKey(end),
		metrics: metrics,
	}
	s.it.Seek(rowPrefix(r.ns, start))
	return s, nil
}
