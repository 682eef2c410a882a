package pipeline

import (
	"context"
	"sync"

	"github.com/pingcap-incubator/tinysi/kv/storage"
	"github.com/pingcap-incubator/tinysi/kv/transaction/si"
	"github.com/pingcap-incubator/tinysi/kv/transaction/txn"
	"github.com/pingcap/errors"
)

// WriteHandler is one stage of a write context. Next either claims the pair, fails it through the context or passes
// it on with SendUpstream.
type WriteHandler interface {
	Next(pair *si.KVPair, ctx WriteContext)
	// Flush writes out buffered pairs. It may be called several times.
	Flush(ctx WriteContext) error
	// Close flushes and releases the resources of the handler, waiting for outstanding writes.
	Close(ctx WriteContext) error
}

// WriteContext is what a handler sees of the context it runs in.
type WriteContext interface {
	// SendUpstream passes pair to the next handler.
	SendUpstream(pair *si.KVPair)
	Success(pair *si.KVPair)
	Failed(pair *si.KVPair, result WriteResult)
	NotRun(pair *si.KVPair)
	// CanRun reports whether pair has not failed so far. It is safe for concurrent use.
	CanRun(pair *si.KVPair) bool

	Context() context.Context
	Txn() txn.TxnView
	Region() storage.Partition
	// SharedWriteBuffer returns the buffers shared with the other contexts of the same write, or nil.
	SharedWriteBuffer() *SharedCallBufferFactory
}

type contextState int

const (
	stateCreated contextState = iota
	stateReceiving
	stateFlushing
	stateClosing
	stateClosed
)

func (s contextState) String() string {
	switch s {
	case stateCreated:
		return "CREATED"
	case stateReceiving:
		return "RECEIVING"
	case stateFlushing:
		return "FLUSHING"
	case stateClosing:
		return "CLOSING"
	case stateClosed:
		return "CLOSED"
	}
	return "UNKNOWN"
}

var ErrContextClosed = errors.New("write context is closed")

// PipelineWriteContext runs one batch of pairs through a chain of handlers and collects one result per pair. It is
// meant to be driven by one goroutine; only CanRun may be called from others.
type PipelineWriteContext struct {
	ctx    context.Context
	txn    txn.TxnView
	region storage.Partition
	shared *SharedCallBufferFactory

	handlers []WriteHandler
	state    contextState
	pairs    []*si.KVPair

	mu      sync.RWMutex
	results map[*si.KVPair]WriteResult
}

func NewPipelineWriteContext(ctx context.Context, t txn.TxnView, region storage.Partition, shared *SharedCallBufferFactory) *PipelineWriteContext {
	return &PipelineWriteContext{
		ctx:     ctx,
		txn:     t,
		region:  region,
		shared:  shared,
		results: make(map[*si.KVPair]WriteResult),
	}
}

// AddLast appends h to the chain. Handlers can only be added before the first pair is sent.
func (p *PipelineWriteContext) AddLast(h WriteHandler) {
	if p.state != stateCreated {
		panic("add handler to a running write context")
	}
	p.handlers = append(p.handlers, h)
}

// SendUpstream feeds pair to the first handler.
func (p *PipelineWriteContext) SendUpstream(pair *si.KVPair) {
	p.pairs = append(p.pairs, pair)
	if p.state >= stateClosing {
		p.Failed(pair, WriteResult{Code: Failed, Err: ErrContextClosed})
		return
	}
	p.state = stateReceiving
	if err := p.ctx.Err(); err != nil {
		p.Failed(pair, ResultOf(err))
		return
	}
	p.forward(0, pair)
}

func (p *PipelineWriteContext) forward(i int, pair *si.KVPair) {
	if i >= len(p.handlers) || !p.CanRun(pair) {
		return
	}
	p.handlers[i].Next(pair, &handlerLink{PipelineWriteContext: p, next: i + 1})
}

func (p *PipelineWriteContext) Success(pair *si.KVPair) {
	p.mu.Lock()
	if _, ok := p.results[pair]; !ok {
		p.results[pair] = successResult
	}
	p.mu.Unlock()
}

// Failed records result for pair. A failure replaces an earlier success but never an earlier failure.
func (p *PipelineWriteContext) Failed(pair *si.KVPair, result WriteResult) {
	p.mu.Lock()
	if prev, ok := p.results[pair]; !ok || prev.IsSuccess() {
		p.results[pair] = result
	}
	p.mu.Unlock()
}

func (p *PipelineWriteContext) NotRun(pair *si.KVPair) {
	p.Failed(pair, WriteResult{Code: NotRun})
}

func (p *PipelineWriteContext) CanRun(pair *si.KVPair) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	r, ok := p.results[pair]
	return !ok || r.CanRun()
}

// FailAll fails every pair sent so far that has no result yet. Pairs already written keep their success.
func (p *PipelineWriteContext) FailAll(result WriteResult) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, pair := range p.pairs {
		if _, ok := p.results[pair]; !ok {
			p.results[pair] = result
		}
	}
}

func (p *PipelineWriteContext) Context() context.Context { return p.ctx }

func (p *PipelineWriteContext) Txn() txn.TxnView { return p.txn }

func (p *PipelineWriteContext) Region() storage.Partition { return p.region }

func (p *PipelineWriteContext) SharedWriteBuffer() *SharedCallBufferFactory { return p.shared }

// Flush asks every handler to write out what it buffered.
func (p *PipelineWriteContext) Flush() error {
	if p.state >= stateClosing {
		return ErrContextClosed
	}
	p.state = stateFlushing
	for i, h := range p.handlers {
		if err := h.Flush(&handlerLink{PipelineWriteContext: p, next: i + 1}); err != nil {
			return errors.Trace(err)
		}
	}
	return nil
}

// Close flushes, closes every handler and returns the result of each pair sent. Pairs nobody failed succeeded.
func (p *PipelineWriteContext) Close() (map[*si.KVPair]WriteResult, error) {
	if err := p.Flush(); err != nil {
		return nil, err
	}
	p.state = stateClosing
	var firstErr error
	for i, h := range p.handlers {
		if err := h.Close(&handlerLink{PipelineWriteContext: p, next: i + 1}); err != nil && firstErr == nil {
			firstErr = errors.Trace(err)
		}
	}
	p.state = stateClosed
	if firstErr != nil {
		return nil, firstErr
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make(map[*si.KVPair]WriteResult, len(p.pairs))
	for _, pair := range p.pairs {
		r, ok := p.results[pair]
		if !ok {
			r = successResult
		}
		out[pair] = r
	}
	return out, nil
}

// handlerLink is the context handed to one handler, so that SendUpstream reaches the handler after it.
type handlerLink struct {
	*PipelineWriteContext
	next int
}

func (l *handlerLink) SendUpstream(pair *si.KVPair) {
	l.forward(l.next, pair)
}
