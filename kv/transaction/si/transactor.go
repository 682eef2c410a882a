package si

import (
	"bytes"
	"context"
	"sort"

	"github.com/ngaut/log"
	"github.com/opentracing/opentracing-go"
	"github.com/pingcap-incubator/tinysi/kv/storage"
	"github.com/pingcap-incubator/tinysi/kv/transaction/txn"
	"github.com/pingcap-incubator/tinysi/kv/util/rowcodec"
	"github.com/pingcap/errors"
)

// Transactor applies row mutations on behalf of a transaction.
type Transactor struct {
	supplier txn.Supplier
	store    *txn.Store
	resolver *ReadResolver
}

// NewTransactor creates a transactor. store is used to record destination tables and may be nil, as may resolver.
func NewTransactor(supplier txn.Supplier, store *txn.Store, resolver *ReadResolver) *Transactor {
	return &Transactor{supplier: supplier, store: store, resolver: resolver}
}

type tombstoneWrite int

const (
	noTombstone tombstoneWrite = iota
	writeTombstone
	writeAntiTombstone
)

// rowWrite is the state of one row while the pairs of a batch are applied to it.
type rowWrite struct {
	row     []byte
	pairs   []int
	exists  bool
	deleted bool
	value   []byte

	writeData bool
	tombstone tombstoneWrite
}

func (w *rowWrite) mutation(txnID uint64) *storage.Mutation {
	m := &storage.Mutation{Row: w.row}
	switch w.tombstone {
	case writeTombstone:
		m.Puts = append(m.Puts, storage.Cell{Family: storage.DefaultFamily, Qualifier: storage.TombstoneQualifier, Timestamp: txnID, Value: []byte{}})
	case writeAntiTombstone:
		m.Puts = append(m.Puts, storage.Cell{Family: storage.DefaultFamily, Qualifier: storage.TombstoneQualifier, Timestamp: txnID, Value: storage.AntiTombstoneValue})
	}
	if w.writeData && w.exists {
		m.Puts = append(m.Puts, storage.Cell{Family: storage.DefaultFamily, Qualifier: storage.PackedQualifier, Timestamp: txnID, Value: w.value})
	}
	return m
}

// ProcessKvBatch applies pairs to part and returns one error per pair, nil for success. Rows are locked in key order,
// checked for write-write conflicts and written at the transaction id. The returned error is only set when the batch
// could not be attempted at all.
func (t *Transactor) ProcessKvBatch(ctx context.Context, part storage.Partition, writer txn.TxnView, pairs []*KVPair) ([]error, error) {
	if writer == nil {
		return nil, errors.New("nil transaction")
	}
	if !writer.AllowsWrites() {
		return nil, &txn.ErrTxnNotActive{TxnID: writer.TxnID(), State: writer.EffectiveState()}
	}
	if span := opentracing.SpanFromContext(ctx); span != nil {
		span = opentracing.StartSpan("si.ProcessKvBatch", opentracing.ChildOf(span.Context()))
		defer span.Finish()
		ctx = opentracing.ContextWithSpan(ctx, span)
	}

	results := make([]error, len(pairs))
	rows := groupRows(pairs)
	var locks []storage.RowLock
	defer func() {
		for _, l := range locks {
			l.Release()
		}
	}()
	var writes []*rowWrite
	for _, w := range rows {
		lock, err := part.GetRowLock(ctx, w.row)
		if err != nil {
			setAll(results, w.pairs, err)
			continue
		}
		locks = append(locks, lock)
		if err := t.prepareRow(ctx, part, writer, w, pairs, results); err != nil {
			setAll(results, w.pairs, err)
			continue
		}
		if w.writeData || w.tombstone != noTombstone {
			writes = append(writes, w)
		}
	}
	if len(writes) == 0 {
		return results, nil
	}
	if t.store != nil {
		if err := t.store.Elevate(ctx, writer.TxnID(), part.TableName()); err != nil {
			for _, w := range writes {
				setAll(results, w.pairs, err)
			}
			return results, nil
		}
	}
	ms := make([]*storage.Mutation, 0, len(writes))
	for _, w := range writes {
		ms = append(ms, w.mutation(writer.TxnID()))
	}
	statuses, err := part.WriteBatch(ms)
	if err != nil {
		for _, w := range writes {
			setAll(results, w.pairs, err)
		}
		return results, nil
	}
	for i, st := range statuses {
		if !st.IsSuccess() {
			setAll(results, writes[i].pairs, st.Err)
		}
	}
	return results, nil
}

func groupRows(pairs []*KVPair) []*rowWrite {
	byRow := make(map[string]*rowWrite, len(pairs))
	var rows []*rowWrite
	for i, p := range pairs {
		w, ok := byRow[string(p.RowKey)]
		if !ok {
			w = &rowWrite{row: p.RowKey}
			byRow[string(p.RowKey)] = w
			rows = append(rows, w)
		}
		w.pairs = append(w.pairs, i)
	}
	sort.Slice(rows, func(i, j int) bool { return bytes.Compare(rows[i].row, rows[j].row) < 0 })
	return rows
}

// setAll sets err on every pair of idx that has no error yet.
func setAll(results []error, idx []int, err error) {
	for _, i := range idx {
		if results[i] == nil {
			results[i] = err
		}
	}
}

func (t *Transactor) prepareRow(ctx context.Context, part storage.Partition, writer txn.TxnView, w *rowWrite, pairs []*KVPair, results []error) error {
	res, err := part.Get(w.row, nil)
	if err != nil {
		return err
	}
	filter := NewTxnFilter(ctx, writer, t.supplier, t.resolver)
	if err := t.checkConflict(filter, writer, res); err != nil {
		return err
	}
	visible, err := filter.Visible(res)
	if err != nil {
		return err
	}
	if c := visible.Latest(storage.DefaultFamily, storage.PackedQualifier); c != nil {
		w.exists = true
		w.value = c.Value
	}
	w.deleted = filter.row.deleted
	for _, i := range w.pairs {
		results[i] = w.apply(pairs[i])
	}
	return nil
}

// apply folds one pair into the row state.
func (w *rowWrite) apply(p *KVPair) error {
	switch p.Type {
	case Insert:
		if w.exists {
			return &ErrUniqueViolation{Key: p.RowKey}
		}
		w.insert(p.Value)
	case Upsert:
		if !w.exists {
			w.insert(p.Value)
			return nil
		}
		return w.merge(p.Value)
	case Update:
		if !w.exists {
			return ErrRowNotFound
		}
		return w.merge(p.Value)
	case Delete:
		if !w.exists {
			return nil
		}
		w.exists = false
		w.deleted = true
		w.value = nil
		w.tombstone = writeTombstone
	case EmptyColumn:
	default:
		return errors.Errorf("unknown mutation type %d", p.Type)
	}
	return nil
}

func (w *rowWrite) insert(value []byte) {
	w.exists = true
	w.value = value
	w.writeData = true
	if w.deleted {
		w.tombstone = writeAntiTombstone
	}
}

func (w *rowWrite) merge(update []byte) error {
	merged, err := rowcodec.Merge(w.value, update)
	if err != nil {
		return err
	}
	w.value = merged
	w.writeData = true
	return nil
}

// checkConflict returns an *txn.ErrWriteConflict when a version of the row was written by a transaction that the
// writer cannot see and that did not roll back.
func (t *Transactor) checkConflict(filter *TxnFilter, writer txn.TxnView, res *storage.Result) error {
	markers := make(map[uint64]uint64)
	for i := range res.Cells {
		c := &res.Cells[i]
		if isCommitMarker(c) {
			if ts, ok := decodeCommitTS(c.Value); ok {
				markers[c.Timestamp] = ts
			}
		}
	}
	checked := make(map[uint64]bool)
	for i := range res.Cells {
		ts := res.Cells[i].Timestamp
		if ts == writer.TxnID() || checked[ts] {
			continue
		}
		checked[ts] = true
		if commitTS, ok := markers[ts]; ok && commitTS <= writer.BeginTS() {
			continue
		}
		other, err := filter.lookupWriter(ts)
		if err != nil {
			return err
		}
		if other == nil || other.EffectiveState() == txn.StateRolledBack || writer.CanSee(other) {
			continue
		}
		if bothAdditive(writer, other) {
			continue
		}
		log.Debugf("txn %d conflicts with %d on %q", writer.TxnID(), ts, res.Row)
		return &txn.ErrWriteConflict{TxnID: writer.TxnID(), ConflictingTxnID: ts, Key: res.Row}
	}
	return nil
}

type additive interface {
	Additive() bool
}

// bothAdditive reports whether both transactions are additive, which never conflict with each other.
func bothAdditive(a, b txn.TxnView) bool {
	aa, ok := a.(additive)
	if !ok || !aa.Additive() {
		return false
	}
	ba, ok := b.(additive)
	return ok && ba.Additive()
}
