package pipeline

import (
	"bytes"
	"sync"

	"github.com/ngaut/log"
	"github.com/pingcap-incubator/tinysi/kv/storage"
	"github.com/pingcap-incubator/tinysi/kv/transaction/si"
	"github.com/pingcap-incubator/tinysi/kv/transaction/txn"
	"github.com/pingcap-incubator/tinysi/kv/util/rowcodec"
	"github.com/pingcap/errors"
)

// IndexTransformer maps base rows to index rows.
type IndexTransformer interface {
	// Transform returns the index row of the base row stored at baseKey.
	Transform(baseKey, baseRow []byte) (key, value []byte, err error)
	IsUnique() bool
}

// BaseKeyColumn is the column of an index row value holding the base row key.
const BaseKeyColumn int64 = 1

// ColumnIndex indexes the columns ColIDs of a base table. Keys of a non unique index end with the base key.
type ColumnIndex struct {
	Prefix []byte
	ColIDs []int64
	Desc   []bool
	Unique bool
}

func (ix *ColumnIndex) IsUnique() bool { return ix.Unique }

func (ix *ColumnIndex) Transform(baseKey, baseRow []byte) ([]byte, []byte, error) {
	datums, err := rowcodec.NewDecoder(ix.ColIDs).Decode(baseRow, nil)
	if err != nil {
		return nil, nil, errors.Annotatef(err, "index row of %q", baseKey)
	}
	spec := &rowcodec.KeySpec{Prefix: ix.Prefix, Columns: make([]int, len(ix.ColIDs)), Desc: ix.Desc}
	for i := range spec.Columns {
		spec.Columns[i] = i
	}
	strategy := fixedPrefix
	if !ix.Unique {
		strategy = fixedPrefixAndPostfix
		spec.Postfix = baseKey
	}
	key := rowcodec.EncodeRowKey(strategy, datums, spec)
	var enc rowcodec.Encoder
	value, err := enc.Encode([]int64{BaseKeyColumn}, []rowcodec.Datum{rowcodec.NewBytesDatum(baseKey)}, nil)
	if err != nil {
		return nil, nil, err
	}
	return key, value, nil
}

var fixedPrefix, fixedPrefixAndPostfix = mustKeyStrategy(rowcodec.FixedPrefix), mustKeyStrategy(rowcodec.FixedPrefixAndPostfix)

func mustKeyStrategy(t rowcodec.KeyType) rowcodec.KeyStrategy {
	s, err := rowcodec.NewKeyStrategy(t)
	if err != nil {
		panic(err)
	}
	return s
}

// readVisible returns the packed base row visible to the transaction of ctx, nil when there is none.
func readVisible(ctx WriteContext, supplier txn.Supplier, row []byte) ([]byte, error) {
	res, err := ctx.Region().Get(row, nil)
	if err != nil {
		return nil, err
	}
	visible, err := si.NewTxnFilter(ctx.Context(), ctx.Txn(), supplier, nil).Visible(res)
	if err != nil {
		return nil, err
	}
	if c := visible.Latest(storage.DefaultFamily, storage.PackedQualifier); c != nil {
		return c.Value, nil
	}
	return nil, nil
}

// indexWrites collects the results of index pairs written on the flush goroutine of a buffer, so that the
// failures can be reported to the owner context on its own goroutine.
type indexWrites struct {
	mu       sync.Mutex
	failures map[*si.KVPair]error
	written  int
}

func (w *indexWrites) entry(ctx WriteContext, base, pair *si.KVPair) *Entry {
	return &Entry{Pair: pair, Base: base, Owner: ctx, OnResult: func(err error) {
		w.mu.Lock()
		defer w.mu.Unlock()
		if err != nil {
			if _, ok := w.failures[base]; !ok {
				w.failures[base] = err
			}
			return
		}
		w.written++
	}}
}

func (w *indexWrites) report(ctx WriteContext) {
	w.mu.Lock()
	failures := w.failures
	w.failures = make(map[*si.KVPair]error)
	w.mu.Unlock()
	for base, err := range failures {
		ctx.Failed(base, ResultOf(err))
	}
}

// Written is the number of index pairs written successfully.
func (w *indexWrites) Written() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.written
}

// pendingRow is a base row routed earlier in the same context. Its writes may still sit in buf.
type pendingRow struct {
	base  *si.KVPair
	value []byte // nil once deleted
	buf   *CallBuffer
	prev  *pendingRow
}

// pendingRows tracks the base rows routed by the index handlers of one index in one context, so later pairs of the
// batch take the version routed before them as their prior version instead of the one stored. It is only used from
// the goroutine driving the context.
type pendingRows struct {
	rows map[string]*pendingRow
}

func newPendingRows() *pendingRows {
	return &pendingRows{rows: make(map[string]*pendingRow)}
}

// lookup returns the latest pending version of row whose base pair can still run. Index writes of that version
// buffered elsewhere than buf are written first, so the writes of one row keep their order.
func (p *pendingRows) lookup(ctx WriteContext, row []byte, buf *CallBuffer) (*pendingRow, bool) {
	pr := p.rows[string(row)]
	for pr != nil && !ctx.CanRun(pr.base) {
		pr = pr.prev
	}
	if pr == nil {
		return nil, false
	}
	if pr.buf != nil && pr.buf != buf {
		pr.buf.FlushBufferAndWait()
	}
	return pr, true
}

// prior returns the version of row before pair: the pending one, or else the stored one visible to ctx.
func (p *pendingRows) prior(ctx WriteContext, supplier txn.Supplier, row []byte, buf *CallBuffer) ([]byte, error) {
	if pr, ok := p.lookup(ctx, row, buf); ok {
		return pr.value, nil
	}
	return readVisible(ctx, supplier, row)
}

func (p *pendingRows) record(base *si.KVPair, value []byte, buf *CallBuffer) {
	key := string(base.RowKey)
	p.rows[key] = &pendingRow{base: base, value: value, buf: buf, prev: p.rows[key]}
}

// NewIndexWriteHandlers returns the upsert and delete handlers of index for one context. They share what was
// routed so far, so a pair sees the earlier pairs of the batch on the same row.
func NewIndexWriteHandlers(index *IndexDescriptor, supplier txn.Supplier, newBuf func(ctx WriteContext) *CallBuffer) (*IndexUpsertWriteHandler, *IndexDeleteWriteHandler) {
	pending := newPendingRows()
	upsert := NewIndexUpsertWriteHandler(index, supplier, newBuf)
	upsert.pending = pending
	del := NewIndexDeleteWriteHandler(index, supplier, newBuf)
	del.pending = pending
	return upsert, del
}

// IndexUpsertWriteHandler maintains an index for inserts, upserts and updates: the index row of the prior version
// is deleted and the one of the new version inserted.
type IndexUpsertWriteHandler struct {
	index    *IndexDescriptor
	supplier txn.Supplier
	newBuf   func(ctx WriteContext) *CallBuffer
	pending  *pendingRows

	buffer *CallBuffer
	shared bool
	writes indexWrites
}

func NewIndexUpsertWriteHandler(index *IndexDescriptor, supplier txn.Supplier, newBuf func(ctx WriteContext) *CallBuffer) *IndexUpsertWriteHandler {
	return &IndexUpsertWriteHandler{
		index:    index,
		supplier: supplier,
		newBuf:   newBuf,
		pending:  newPendingRows(),
		writes:   indexWrites{failures: make(map[*si.KVPair]error)},
	}
}

func (h *IndexUpsertWriteHandler) callBuffer(ctx WriteContext) *CallBuffer {
	if h.buffer != nil {
		return h.buffer
	}
	if shared := ctx.SharedWriteBuffer(); shared != nil {
		h.buffer = shared.Acquire(ctx.Txn(), h.index.Partition)
		h.shared = true
	} else {
		h.buffer = h.newBuf(ctx)
	}
	return h.buffer
}

func (h *IndexUpsertWriteHandler) Next(pair *si.KVPair, ctx WriteContext) {
	switch pair.Type {
	case si.Insert, si.Upsert, si.Update:
		if result, ok := admit(ctx.Region(), pair.RowKey); !ok {
			ctx.Failed(pair, result)
			return
		}
		if err := h.route(pair, ctx); err != nil {
			ctx.Failed(pair, ResultOf(err))
			return
		}
	}
	ctx.SendUpstream(pair)
}

func (h *IndexUpsertWriteHandler) route(pair *si.KVPair, ctx WriteContext) error {
	tr := h.index.Transformer
	buf := h.callBuffer(ctx)
	prior, err := h.pending.prior(ctx, h.supplier, pair.RowKey, buf)
	if err != nil {
		return err
	}
	if prior != nil && pair.Type == si.Insert {
		// the base insert fails the same way, index rows are never written for it
		return &si.ErrUniqueViolation{Key: pair.RowKey}
	}
	newRow := pair.Value
	if prior != nil {
		if newRow, err = rowcodec.Merge(prior, pair.Value); err != nil {
			return err
		}
	} else if pair.Type == si.Update {
		// the base write reports the missing row
		return nil
	}
	newKey, newValue, err := tr.Transform(pair.RowKey, newRow)
	if err != nil {
		return err
	}
	h.pending.record(pair, newRow, buf)
	if prior != nil {
		oldKey, _, err := tr.Transform(pair.RowKey, prior)
		if err != nil {
			return err
		}
		if bytes.Equal(oldKey, newKey) {
			return nil
		}
		del := &si.KVPair{RowKey: oldKey, Type: si.Delete}
		if err := buf.Add(h.writes.entry(ctx, pair, del)); err != nil {
			return err
		}
	}
	typ := si.Upsert
	if tr.IsUnique() {
		typ = si.Insert
	}
	return buf.Add(h.writes.entry(ctx, pair, &si.KVPair{RowKey: newKey, Value: newValue, Type: typ}))
}

func (h *IndexUpsertWriteHandler) Flush(ctx WriteContext) error {
	if h.buffer != nil {
		h.buffer.FlushBufferAndWait()
	}
	h.writes.report(ctx)
	return nil
}

func (h *IndexUpsertWriteHandler) Close(ctx WriteContext) error {
	if h.buffer != nil {
		if h.shared {
			h.buffer.FlushBufferAndWait()
			ctx.SharedWriteBuffer().Release(ctx.Txn(), h.index.Partition)
		} else {
			h.buffer.Close()
		}
		h.buffer = nil
	}
	h.writes.report(ctx)
	return nil
}

// Written is the number of index pairs the handler wrote.
func (h *IndexUpsertWriteHandler) Written() int { return h.writes.Written() }

// IndexDeleteWriteHandler deletes the index rows of deleted base rows through a call buffer of its own. Deleting a
// base row that is already gone writes nothing.
type IndexDeleteWriteHandler struct {
	index    *IndexDescriptor
	supplier txn.Supplier
	newBuf   func(ctx WriteContext) *CallBuffer
	pending  *pendingRows

	buffer *CallBuffer
	writes indexWrites
}

func NewIndexDeleteWriteHandler(index *IndexDescriptor, supplier txn.Supplier, newBuf func(ctx WriteContext) *CallBuffer) *IndexDeleteWriteHandler {
	return &IndexDeleteWriteHandler{
		index:    index,
		supplier: supplier,
		newBuf:   newBuf,
		pending:  newPendingRows(),
		writes:   indexWrites{failures: make(map[*si.KVPair]error)},
	}
}

func (h *IndexDeleteWriteHandler) Next(pair *si.KVPair, ctx WriteContext) {
	if pair.Type == si.Delete {
		if result, ok := admit(ctx.Region(), pair.RowKey); !ok {
			ctx.Failed(pair, result)
			return
		}
		if err := h.route(pair, ctx); err != nil {
			ctx.Failed(pair, ResultOf(err))
			return
		}
	}
	ctx.SendUpstream(pair)
}

func (h *IndexDeleteWriteHandler) route(pair *si.KVPair, ctx WriteContext) error {
	prior, err := h.pending.prior(ctx, h.supplier, pair.RowKey, h.buffer)
	if err != nil {
		return err
	}
	if prior == nil {
		log.Debugf("index %s: base row %q already deleted", h.index.Name, pair.RowKey)
		h.pending.record(pair, nil, nil)
		return nil
	}
	key, _, err := h.index.Transformer.Transform(pair.RowKey, prior)
	if err != nil {
		return err
	}
	if h.buffer == nil {
		h.buffer = h.newBuf(ctx)
	}
	h.pending.record(pair, nil, h.buffer)
	return h.buffer.Add(h.writes.entry(ctx, pair, &si.KVPair{RowKey: key, Type: si.Delete}))
}

func (h *IndexDeleteWriteHandler) Flush(ctx WriteContext) error {
	if h.buffer != nil {
		h.buffer.FlushBufferAndWait()
	}
	h.writes.report(ctx)
	return nil
}

func (h *IndexDeleteWriteHandler) Close(ctx WriteContext) error {
	if h.buffer != nil {
		h.buffer.Close()
		h.buffer = nil
	}
	h.writes.report(ctx)
	return nil
}

// Written is the number of index deletes the handler wrote.
func (h *IndexDeleteWriteHandler) Written() int { return h.writes.Written() }

// BufferedEntries is the number of index deletes waiting for a flush.
func (h *IndexDeleteWriteHandler) BufferedEntries() int {
	if h.buffer == nil {
		return 0
	}
	return h.buffer.Len()
}
