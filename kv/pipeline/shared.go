package pipeline

import (
	"context"
	"sync"

	"github.com/pingcap-incubator/tinysi/kv/config"
	"github.com/pingcap-incubator/tinysi/kv/storage"
	"github.com/pingcap-incubator/tinysi/kv/transaction/si"
	"github.com/pingcap-incubator/tinysi/kv/transaction/txn"
)

// SharedPreFlushHook is used on buffers filled by several write contexts. It asks every owner whether its base pair
// can still run, and sends identical pairs once.
type SharedPreFlushHook struct{}

func (SharedPreFlushHook) BeforeFlush(entries []*Entry) []*Entry {
	entries = RunnableOnly(entries)
	seen := make(map[string]*Entry, len(entries))
	out := entries[:0]
	for _, e := range entries {
		key := dedupKey(e.Pair)
		if first, ok := seen[key]; ok {
			first.OnResult = fanOut(first.OnResult, e.OnResult)
			continue
		}
		seen[key] = e
		out = append(out, e)
	}
	return out
}

func dedupKey(p *si.KVPair) string {
	b := make([]byte, 0, 1+len(p.RowKey)+len(p.Value)+4)
	b = append(b, byte(p.Type))
	b = append(b, p.RowKey...)
	b = append(b, 0, 0)
	b = append(b, p.Value...)
	return string(b)
}

func fanOut(a, b func(error)) func(error) {
	return func(err error) {
		if a != nil {
			a(err)
		}
		if b != nil {
			b(err)
		}
	}
}

type bufferKey struct {
	txnID uint64
	dest  string
}

type sharedBuffer struct {
	buf  *CallBuffer
	refs int
}

// SharedCallBufferFactory hands out one call buffer per transaction and destination, so the contexts of one write
// reuse it. Shared buffers outlive the context that created them and write with a background context.
type SharedCallBufferFactory struct {
	transactor *si.Transactor
	conf       *config.Pipeline

	mu      sync.Mutex
	buffers map[bufferKey]*sharedBuffer
}

func NewSharedCallBufferFactory(transactor *si.Transactor, conf *config.Pipeline) *SharedCallBufferFactory {
	return &SharedCallBufferFactory{
		transactor: transactor,
		conf:       conf,
		buffers:    make(map[bufferKey]*sharedBuffer),
	}
}

// Acquire returns the buffer writing to dest as t, creating it on first use. Every Acquire needs a Release.
func (f *SharedCallBufferFactory) Acquire(t txn.TxnView, dest storage.Partition) *CallBuffer {
	key := bufferKey{txnID: t.TxnID(), dest: dest.TableName() + "/" + dest.Name()}
	f.mu.Lock()
	defer f.mu.Unlock()
	sb, ok := f.buffers[key]
	if !ok {
		sb = &sharedBuffer{buf: NewCallBuffer(context.Background(), dest, t, f.transactor, f.conf, SharedPreFlushHook{})}
		f.buffers[key] = sb
	}
	sb.refs++
	return sb.buf
}

// Release drops a reference taken by Acquire. The last release closes the buffer, waiting for its writes.
func (f *SharedCallBufferFactory) Release(t txn.TxnView, dest storage.Partition) {
	key := bufferKey{txnID: t.TxnID(), dest: dest.TableName() + "/" + dest.Name()}
	f.mu.Lock()
	sb, ok := f.buffers[key]
	if !ok {
		f.mu.Unlock()
		return
	}
	sb.refs--
	if sb.refs > 0 {
		f.mu.Unlock()
		return
	}
	delete(f.buffers, key)
	f.mu.Unlock()
	sb.buf.Close()
}

// Len is the number of open shared buffers.
func (f *SharedCallBufferFactory) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.buffers)
}

// Close closes every shared buffer.
func (f *SharedCallBufferFactory) Close() {
	f.mu.Lock()
	buffers := f.buffers
	f.buffers = make(map[bufferKey]*sharedBuffer)
	f.mu.Unlock()
	for _, sb := range buffers {
		sb.buf.Close()
	}
}
