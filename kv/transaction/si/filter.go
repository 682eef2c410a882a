package si

import (
	"context"
	"encoding/binary"

	"github.com/ngaut/log"
	"github.com/pingcap-incubator/tinysi/kv/storage"
	"github.com/pingcap-incubator/tinysi/kv/transaction/txn"
	"github.com/pingcap/errors"
)

func isCommitMarker(c *storage.Cell) bool {
	return c.Matches(storage.DefaultFamily, storage.CommitTimestampQualifier)
}

func isTombstoneColumn(c *storage.Cell) bool {
	return c.Matches(storage.DefaultFamily, storage.TombstoneQualifier)
}

func encodeCommitTS(ts uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, ts)
	return b
}

func decodeCommitTS(b []byte) (uint64, bool) {
	if len(b) != 8 {
		return 0, false
	}
	return binary.BigEndian.Uint64(b), true
}

// rowVisibility is what the filter has learnt about the row it is in.
type rowVisibility struct {
	// commitMarkers maps writer ids to the commit timestamps recorded by read resolution.
	commitMarkers map[uint64]uint64
	// tombstoneSeen is set once the newest visible tombstone column version is found.
	tombstoneSeen bool
	deleted       bool
	deletedAt     uint64
}

func (r *rowVisibility) reset() {
	for k := range r.commitMarkers {
		delete(r.commitMarkers, k)
	}
	r.tombstoneSeen = false
	r.deleted = false
	r.deletedAt = 0
}

// TxnFilter surfaces, for every column of a row, the newest version visible to the reader. Commit markers and
// tombstones are consumed by the filter and never returned.
type TxnFilter struct {
	ctx      context.Context
	reader   txn.TxnView
	supplier txn.Supplier
	resolver *ReadResolver

	// writers caches the transactions looked up during the scan.
	writers map[uint64]*txn.Txn
	row     rowVisibility
}

// NewTxnFilter creates a filter for one scan. resolver may be nil.
func NewTxnFilter(ctx context.Context, reader txn.TxnView, supplier txn.Supplier, resolver *ReadResolver) *TxnFilter {
	return &TxnFilter{
		ctx:      ctx,
		reader:   reader,
		supplier: supplier,
		resolver: resolver,
		writers:  make(map[uint64]*txn.Txn),
		row:      rowVisibility{commitMarkers: make(map[uint64]uint64)},
	}
}

func (f *TxnFilter) FilterRowKey(row []byte) bool { return false }

func (f *TxnFilter) FilterRow() bool { return false }

func (f *TxnFilter) Reset() { f.row.reset() }

func (f *TxnFilter) FilterCell(c *storage.Cell) (storage.ReturnCode, error) {
	if isCommitMarker(c) {
		if ts, ok := decodeCommitTS(c.Value); ok {
			f.row.commitMarkers[c.Timestamp] = ts
		}
		return storage.Skip, nil
	}
	if isTombstoneColumn(c) && f.row.tombstoneSeen {
		return storage.NextCol, nil
	}
	visible, err := f.isVisible(c)
	if err != nil || !visible {
		return storage.Skip, err
	}
	if isTombstoneColumn(c) {
		f.row.tombstoneSeen = true
		if c.IsTombstone() {
			f.row.deleted = true
			f.row.deletedAt = c.Timestamp
		}
		return storage.NextCol, nil
	}
	if f.row.deleted && c.Timestamp <= f.row.deletedAt {
		return storage.NextCol, nil
	}
	return storage.IncludeAndNextCol, nil
}

// isVisible decides whether the writer of c is visible to the reader.
func (f *TxnFilter) isVisible(c *storage.Cell) (bool, error) {
	if c.Timestamp == f.reader.TxnID() {
		return true, nil
	}
	if commitTS, ok := f.row.commitMarkers[c.Timestamp]; ok && commitTS <= f.reader.BeginTS() {
		return true, nil
	}
	writer, err := f.writer(c.Timestamp)
	if err != nil {
		return false, err
	}
	if writer == nil {
		return false, nil
	}
	if f.resolver != nil {
		if _, marked := f.row.commitMarkers[c.Timestamp]; !marked {
			f.resolver.Resolve(c.Row, writer)
		}
	}
	return f.reader.CanSee(writer), nil
}

func (f *TxnFilter) writer(txnID uint64) (*txn.Txn, error) {
	if t, ok := f.writers[txnID]; ok {
		return t, nil
	}
	t, err := f.supplier.GetTransaction(f.ctx, txnID)
	if errors.Cause(err) == txn.ErrTxnNotFound {
		log.Warnf("writer %d of a cell has no transaction record", txnID)
		f.writers[txnID] = nil
		return nil, nil
	}
	if err != nil {
		return nil, errors.Trace(err)
	}
	f.writers[txnID] = t
	return t, nil
}

// Visible runs the cells of one row through the filter and returns the visible versions.
func (f *TxnFilter) Visible(res *storage.Result) (*storage.Result, error) {
	f.Reset()
	out := &storage.Result{Row: res.Row}
	for i := 0; i < len(res.Cells); i++ {
		c := &res.Cells[i]
		code, err := f.FilterCell(c)
		if err != nil {
			return nil, err
		}
		switch code {
		case storage.Include, storage.IncludeAndNextCol:
			out.Cells = append(out.Cells, *c)
		case storage.NextRow:
			return out, nil
		}
		if code == storage.NextCol || code == storage.IncludeAndNextCol {
			for i+1 < len(res.Cells) && res.Cells[i+1].SameColumn(c) {
				i++
			}
		}
	}
	return out, nil
}

// lookupWriter is used by the transactor to reuse the scan cache.
func (f *TxnFilter) lookupWriter(txnID uint64) (*txn.Txn, error) {
	return f.writer(txnID)
}
