package pipeline

import (
	"context"
	"sync"

	"github.com/ngaut/log"
	"github.com/pingcap-incubator/tinysi/kv/config"
	"github.com/pingcap-incubator/tinysi/kv/storage"
	"github.com/pingcap-incubator/tinysi/kv/transaction/si"
	"github.com/pingcap-incubator/tinysi/kv/transaction/txn"
	"github.com/pingcap/errors"
)

type IndexState int

const (
	IndexReady IndexState = iota
	// IndexBuilding indexes are not populated yet, writing to their table fails with ErrIndexNotSetUp.
	IndexBuilding
	IndexDropped
)

func (s IndexState) String() string {
	switch s {
	case IndexReady:
		return "READY"
	case IndexBuilding:
		return "BUILDING"
	case IndexDropped:
		return "DROPPED"
	}
	return "UNKNOWN"
}

// IndexDescriptor is one secondary index of a base table, stored in its own partition.
type IndexDescriptor struct {
	Name        string
	Partition   storage.Partition
	Transformer IndexTransformer
	State       IndexState
}

// WriteContextFactory builds the write contexts of one base table: one upsert and one delete handler per ready
// index, then the region handler.
type WriteContextFactory struct {
	table      string
	transactor *si.Transactor
	supplier   txn.Supplier
	conf       *config.Pipeline

	mu      sync.RWMutex
	indexes []*IndexDescriptor
}

func NewWriteContextFactory(table string, transactor *si.Transactor, supplier txn.Supplier, conf *config.Pipeline) *WriteContextFactory {
	return &WriteContextFactory{
		table:      table,
		transactor: transactor,
		supplier:   supplier,
		conf:       conf,
	}
}

func (f *WriteContextFactory) Table() string { return f.table }

// AddIndex registers an index. Indexes are copied, so later changes go through SetIndexState.
func (f *WriteContextFactory) AddIndex(desc IndexDescriptor) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, ix := range f.indexes {
		if ix.Name == desc.Name {
			f.indexes[i] = &desc
			return
		}
	}
	f.indexes = append(f.indexes, &desc)
	log.Infof("table %s: add index %s (%s)", f.table, desc.Name, desc.State)
}

func (f *WriteContextFactory) SetIndexState(name string, state IndexState) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, ix := range f.indexes {
		if ix.Name == name {
			updated := *ix
			updated.State = state
			f.indexes[i] = &updated
			return nil
		}
	}
	return errors.Errorf("table %s has no index %s", f.table, name)
}

// HasIndexes reports whether writes to the table fan out to indexes.
func (f *WriteContextFactory) HasIndexes() bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	for _, ix := range f.indexes {
		if ix.State != IndexDropped {
			return true
		}
	}
	return false
}

// Create builds a write context for t on region.
func (f *WriteContextFactory) Create(ctx context.Context, t txn.TxnView, region storage.Partition,
	shared *SharedCallBufferFactory) (*PipelineWriteContext, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.Annotate(storage.ErrInterrupted, err.Error())
	}
	f.mu.RLock()
	indexes := append([]*IndexDescriptor(nil), f.indexes...)
	f.mu.RUnlock()
	wctx := NewPipelineWriteContext(ctx, t, region, shared)
	for _, ix := range indexes {
		switch ix.State {
		case IndexBuilding:
			return nil, errors.Annotatef(ErrIndexNotSetUp, "index %s of %s", ix.Name, f.table)
		case IndexDropped:
			continue
		}
		upsert, del := NewIndexWriteHandlers(ix, f.supplier, f.newBuffer(ix))
		wctx.AddLast(upsert)
		wctx.AddLast(del)
	}
	wctx.AddLast(NewRegionWriteHandler(region, f.transactor, f.conf.MaxBufferEntries))
	return wctx, nil
}

func (f *WriteContextFactory) newBuffer(ix *IndexDescriptor) func(ctx WriteContext) *CallBuffer {
	return func(ctx WriteContext) *CallBuffer {
		return NewCallBuffer(ctx.Context(), ix.Partition, ctx.Txn(), f.transactor, f.conf, nil)
	}
}
