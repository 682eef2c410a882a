package txn

import (
	"context"
	"sync"

	"go.uber.org/atomic"
)

// Supplier looks transactions up by id. Implementations must be safe for concurrent use.
type Supplier interface {
	GetTransaction(ctx context.Context, txnID uint64) (*Txn, error)
}

type supplierCall struct {
	wg  sync.WaitGroup
	txn *Txn
	err error
}

// CachedSupplier caches transactions whose effective state is final. A final state never changes, so entries are
// never invalidated. Records that are still active are read from the delegate every time, but concurrent lookups of
// the same id share one read.
type CachedSupplier struct {
	delegate Supplier
	size     int

	mu      sync.Mutex
	oldMap  map[uint64]*Txn
	newMap  map[uint64]*Txn
	loading map[uint64]*supplierCall

	hits   atomic.Int64
	misses atomic.Int64
}

func NewCachedSupplier(delegate Supplier, size int) *CachedSupplier {
	if size <= 0 {
		size = 1024
	}
	return &CachedSupplier{
		delegate: delegate,
		size:     size,
		oldMap:   make(map[uint64]*Txn),
		newMap:   make(map[uint64]*Txn),
		loading:  make(map[uint64]*supplierCall),
	}
}

func (s *CachedSupplier) lookup(txnID uint64) (*Txn, bool) {
	if t, ok := s.newMap[txnID]; ok {
		return t, true
	}
	t, ok := s.oldMap[txnID]
	return t, ok
}

// Cache adds txn to the cache when its effective state is final.
func (s *CachedSupplier) Cache(t *Txn) {
	if !t.EffectiveState().IsFinal() {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cacheLocked(t)
}

func (s *CachedSupplier) cacheLocked(t *Txn) {
	s.newMap[t.TxnID()] = t
	if len(s.newMap) >= s.size {
		s.oldMap = s.newMap
		s.newMap = make(map[uint64]*Txn)
	}
}

func (s *CachedSupplier) GetTransaction(ctx context.Context, txnID uint64) (*Txn, error) {
	s.mu.Lock()
	if t, ok := s.lookup(txnID); ok {
		s.mu.Unlock()
		s.hits.Inc()
		return t, nil
	}
	if call, ok := s.loading[txnID]; ok {
		s.mu.Unlock()
		call.wg.Wait()
		return call.txn, call.err
	}
	call := new(supplierCall)
	call.wg.Add(1)
	s.loading[txnID] = call
	s.mu.Unlock()
	s.misses.Inc()

	call.txn, call.err = s.delegate.GetTransaction(ctx, txnID)

	s.mu.Lock()
	delete(s.loading, txnID)
	if call.err == nil && call.txn.EffectiveState().IsFinal() {
		s.cacheLocked(call.txn)
	}
	s.mu.Unlock()
	call.wg.Done()
	return call.txn, call.err
}

// Hits and Misses count lookups answered from and past the cache.
func (s *CachedSupplier) Hits() int64 { return s.hits.Load() }

func (s *CachedSupplier) Misses() int64 { return s.misses.Load() }
