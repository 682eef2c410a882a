package pipeline

import (
	"context"
	"sync"

	"github.com/ngaut/log"
	"github.com/pingcap-incubator/tinysi/kv/config"
	"github.com/pingcap-incubator/tinysi/kv/storage"
	"github.com/pingcap-incubator/tinysi/kv/transaction/si"
	"github.com/pingcap-incubator/tinysi/kv/transaction/txn"
	"github.com/pingcap-incubator/tinysi/kv/util/worker"
	"github.com/pingcap/errors"
	"go.uber.org/atomic"
)

// Entry is one buffered pair. Base is the pair of the owner context it was derived from; OnResult is called once with
// the outcome of the write, from the flush goroutine.
type Entry struct {
	Pair     *si.KVPair
	Base     *si.KVPair
	Owner    WriteContext
	OnResult func(err error)
}

func (e *Entry) done(err error) {
	if e.OnResult != nil {
		e.OnResult(err)
	}
}

// PreFlushHook sees the buffered entries right before they are sent and returns the ones to send.
type PreFlushHook interface {
	BeforeFlush(entries []*Entry) []*Entry
}

type PreFlushHookFunc func(entries []*Entry) []*Entry

func (f PreFlushHookFunc) BeforeFlush(entries []*Entry) []*Entry { return f(entries) }

// runnable reports whether the base pair of e has not failed and is still taken by the region of its owner. The
// base handler fails the pair itself once it sees the region change.
func (e *Entry) runnable() bool {
	if e.Owner == nil {
		return true
	}
	if !e.Owner.CanRun(e.Base) {
		return false
	}
	if region := e.Owner.Region(); region != nil {
		_, ok := admit(region, e.Base.RowKey)
		return ok
	}
	return true
}

// RunnableOnly drops the entries whose base pair already failed or left the region of its owner.
var RunnableOnly PreFlushHookFunc = func(entries []*Entry) []*Entry {
	out := entries[:0]
	for _, e := range entries {
		if e.runnable() {
			out = append(out, e)
		}
	}
	return out
}

var ErrBufferClosed = errors.New("call buffer is closed")

type flushTask struct {
	entries []*Entry
}

// CallBuffer accumulates pairs for one destination partition and writes them in batches on its own goroutine.
// Writes of one buffer are applied in the order they were flushed.
type CallBuffer struct {
	ctx        context.Context
	dest       storage.Partition
	txn        txn.TxnView
	transactor *si.Transactor
	hook       PreFlushHook
	maxEntries int
	maxSize    int

	mu      sync.Mutex
	entries []*Entry
	size    int
	closed  bool

	inflight sync.WaitGroup
	wg       sync.WaitGroup
	worker   *worker.Worker

	written atomic.Int64
	flushes atomic.Int64
}

// NewCallBuffer creates a started buffer writing to dest as t. hook may be nil.
func NewCallBuffer(ctx context.Context, dest storage.Partition, t txn.TxnView, transactor *si.Transactor,
	conf *config.Pipeline, hook PreFlushHook) *CallBuffer {
	if hook == nil {
		hook = RunnableOnly
	}
	b := &CallBuffer{
		ctx:        ctx,
		dest:       dest,
		txn:        t,
		transactor: transactor,
		hook:       hook,
		maxEntries: conf.MaxBufferEntries,
		maxSize:    int(conf.MaxBufferSize),
	}
	b.worker = worker.NewWorker("call-buffer-"+dest.Name(), &b.wg, 0)
	b.worker.Start(worker.HandlerFunc(b.handle))
	return b
}

func (b *CallBuffer) Destination() storage.Partition { return b.dest }

// Add buffers e, flushing when the buffer is over its entry or byte limit.
func (b *CallBuffer) Add(e *Entry) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrBufferClosed
	}
	b.entries = append(b.entries, e)
	b.size += e.Pair.Size()
	if (b.maxEntries > 0 && len(b.entries) >= b.maxEntries) || (b.maxSize > 0 && b.size >= b.maxSize) {
		b.flushLocked()
	}
	return nil
}

// Len is the number of entries waiting for a flush.
func (b *CallBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.entries)
}

// FlushBuffer hands the buffered entries to the flush goroutine without waiting for the write.
func (b *CallBuffer) FlushBuffer() {
	b.mu.Lock()
	b.flushLocked()
	b.mu.Unlock()
}

func (b *CallBuffer) flushLocked() {
	entries := b.hook.BeforeFlush(b.entries)
	b.entries = nil
	b.size = 0
	if len(entries) == 0 {
		return
	}
	b.inflight.Add(1)
	b.worker.Sender() <- flushTask{entries: entries}
}

// FlushBufferAndWait flushes and blocks until every flushed entry is written.
func (b *CallBuffer) FlushBufferAndWait() {
	b.FlushBuffer()
	b.inflight.Wait()
}

// Close flushes, waits for the writes and stops the flush goroutine. Closing twice does nothing.
func (b *CallBuffer) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	b.flushLocked()
	b.mu.Unlock()
	b.inflight.Wait()
	b.worker.Stop()
	b.wg.Wait()
}

// Written is the number of entries the buffer wrote successfully.
func (b *CallBuffer) Written() int64 { return b.written.Load() }

// Flushes is the number of batches sent to the destination.
func (b *CallBuffer) Flushes() int64 { return b.flushes.Load() }

func (b *CallBuffer) handle(t worker.Task) {
	task, ok := t.(flushTask)
	if !ok {
		return
	}
	defer b.inflight.Done()
	b.flushes.Inc()
	pairs := make([]*si.KVPair, len(task.entries))
	for i, e := range task.entries {
		pairs[i] = e.Pair
	}
	results, err := b.write(pairs)
	if err != nil {
		log.Warnf("flush %d pairs to %s failed: %v", len(pairs), b.dest.Name(), err)
		for _, e := range task.entries {
			e.done(err)
		}
		return
	}
	for i, e := range task.entries {
		if results[i] == nil {
			b.written.Inc()
		}
		e.done(results[i])
	}
}

func (b *CallBuffer) write(pairs []*si.KVPair) ([]error, error) {
	if err := b.dest.StartOperation(b.ctx); err != nil {
		return nil, err
	}
	defer b.dest.CloseOperation()
	return b.transactor.ProcessKvBatch(b.ctx, b.dest, b.txn, pairs)
}
