package txn

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/ngaut/log"
	"github.com/pingcap-incubator/tinysi/kv/config"
	"github.com/pingcap-incubator/tinysi/kv/storage"
	"github.com/pingcap/errors"
)

// Store keeps transaction records in the transaction table partition.
type Store struct {
	part    storage.Partition
	tso     *TSO
	buckets int
	timeout time.Duration

	mu sync.Mutex
	// children maps a transaction id to the ids of the children begun through this store.
	children map[uint64][]uint64
}

func NewStore(part storage.Partition, tso *TSO, conf *config.Txn) *Store {
	return &Store{
		part:     part,
		tso:      tso,
		buckets:  conf.TableBuckets,
		timeout:  conf.KeepAliveTimeout.Duration,
		children: make(map[uint64][]uint64),
	}
}

func (s *Store) Timeout() time.Duration { return s.timeout }

// TSO returns the oracle the store allocates ids and commit timestamps from.
func (s *Store) TSO() *TSO { return s.tso }

func (s *Store) Partition() storage.Partition { return s.part }

func (s *Store) rowKey(txnID uint64) []byte {
	return RowKey(txnID, s.buckets)
}

func (s *Store) newTxn(rec *Record, parent *Txn, now time.Time) *Txn {
	t := NewTxn(rec, parent)
	t.timedOut = rec.IsTimedOut(now, s.timeout)
	return t
}

// Begin starts a top level transaction.
func (s *Store) Begin(ctx context.Context, isolation IsolationLevel) (*Txn, error) {
	return s.begin(ctx, nil, isolation, false)
}

// BeginChild starts a child of parent. The writes of the child are only visible outside the hierarchy once every
// ancestor committed.
func (s *Store) BeginChild(ctx context.Context, parent *Txn, additive bool) (*Txn, error) {
	if parent == nil {
		return nil, errors.New("nil parent transaction")
	}
	if !parent.AllowsWrites() {
		return nil, &ErrTxnNotActive{TxnID: parent.TxnID(), State: parent.EffectiveState()}
	}
	return s.begin(ctx, parent, parent.Isolation(), additive)
}

func (s *Store) begin(ctx context.Context, parent *Txn, isolation IsolationLevel, additive bool) (*Txn, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.Trace(err)
	}
	id, err := s.tso.Next()
	if err != nil {
		return nil, err
	}
	now := time.Now()
	rec := &Record{
		TxnID:     id,
		BeginTS:   id,
		State:     StateActive,
		KeepAlive: keepAliveMillis(now),
		Isolation: isolation,
		Additive:  additive,
	}
	if parent != nil {
		rec.ParentTxnID = parent.TxnID()
	}
	if err := s.part.Put(s.rowKey(id), EncodeCells(rec)); err != nil {
		return nil, errors.Trace(err)
	}
	if parent != nil {
		s.mu.Lock()
		s.children[parent.TxnID()] = append(s.children[parent.TxnID()], id)
		s.mu.Unlock()
	}
	log.Debugf("begin txn %d parent %d", id, rec.ParentTxnID)
	return s.newTxn(rec, parent, now), nil
}

// Load reads a transaction and its ancestors.
func (s *Store) Load(ctx context.Context, txnID uint64) (*Txn, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.Trace(err)
	}
	res, err := s.part.GetLatest(s.rowKey(txnID), nil)
	if err != nil {
		return nil, errors.Trace(err)
	}
	if res.IsEmpty() {
		return nil, ErrTxnNotFound
	}
	rec, err := DecodeRecord(res)
	if err != nil {
		return nil, err
	}
	return s.resolve(ctx, rec, time.Now())
}

func (s *Store) resolve(ctx context.Context, rec *Record, now time.Time) (*Txn, error) {
	var parent *Txn
	if rec.ParentTxnID > 0 {
		p, err := s.Load(ctx, rec.ParentTxnID)
		if err != nil {
			return nil, errors.Annotatef(err, "load parent of %d", rec.TxnID)
		}
		parent = p
	}
	return s.newTxn(rec, parent, now), nil
}

// GetTransaction makes Store a Supplier.
func (s *Store) GetTransaction(ctx context.Context, txnID uint64) (*Txn, error) {
	return s.Load(ctx, txnID)
}

// update runs f on the freshly loaded transaction while holding its row lock and writes the cells it returns.
func (s *Store) update(ctx context.Context, txnID uint64, f func(t *Txn) ([]storage.Cell, error)) error {
	row := s.rowKey(txnID)
	lock, err := s.part.GetRowLock(ctx, row)
	if err != nil {
		return err
	}
	defer lock.Release()
	t, err := s.Load(ctx, txnID)
	if err != nil {
		return err
	}
	cells, ferr := f(t)
	if len(cells) > 0 {
		if err := s.part.Put(row, cells); err != nil {
			return errors.Trace(err)
		}
	}
	return ferr
}

// KeepAlive refreshes the keep-alive of an active transaction. A transaction that already timed out is rolled back.
func (s *Store) KeepAlive(ctx context.Context, txnID uint64) error {
	return s.update(ctx, txnID, func(t *Txn) ([]storage.Cell, error) {
		if t.TimedOut() {
			return []storage.Cell{stateCell(txnID, StateRolledBack)}, ErrTxnTimedOut
		}
		if t.State() != StateActive {
			return nil, &ErrTxnNotActive{TxnID: txnID, State: t.State()}
		}
		return []storage.Cell{keepAliveCell(txnID, keepAliveMillis(time.Now()))}, nil
	})
}

// Commit commits an active transaction and returns its commit timestamp. Committing a committed transaction
// returns the timestamp it committed at.
func (s *Store) Commit(ctx context.Context, txnID uint64) (uint64, error) {
	var commitTS uint64
	var isRoot bool
	err := s.update(ctx, txnID, func(t *Txn) ([]storage.Cell, error) {
		switch {
		case t.State() == StateCommitted:
			commitTS = t.CommitTS()
			return nil, nil
		case t.TimedOut():
			return []storage.Cell{stateCell(txnID, StateRolledBack)}, ErrTxnTimedOut
		case t.State() != StateActive:
			return nil, &ErrCannotCommit{TxnID: txnID, State: t.State()}
		case t.parent != nil && t.parent.EffectiveState() == StateRolledBack:
			return []storage.Cell{stateCell(txnID, StateRolledBack)}, &ErrCannotCommit{TxnID: txnID, State: StateRolledBack}
		}
		ts, err := s.tso.Next()
		if err != nil {
			return nil, err
		}
		commitTS = ts
		isRoot = t.parent == nil
		return []storage.Cell{commitCell(txnID, ts), stateCell(txnID, StateCommitted)}, nil
	})
	if err != nil {
		return 0, err
	}
	if isRoot {
		if err := s.recordGlobalCommitOfChildren(ctx, txnID, commitTS); err != nil {
			return commitTS, err
		}
	}
	log.Debugf("commit txn %d at %d", txnID, commitTS)
	return commitTS, nil
}

func (s *Store) takeChildren(txnID uint64) []uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	children := s.children[txnID]
	delete(s.children, txnID)
	return children
}

func (s *Store) recordGlobalCommitOfChildren(ctx context.Context, txnID, commitTS uint64) error {
	for _, child := range s.takeChildren(txnID) {
		t, err := s.Load(ctx, child)
		if err != nil {
			return err
		}
		if t.State() == StateCommitted {
			if err := s.RecordGlobalCommit(ctx, child, commitTS); err != nil {
				return err
			}
		}
		if err := s.recordGlobalCommitOfChildren(ctx, child, commitTS); err != nil {
			return err
		}
	}
	return nil
}

// RecordGlobalCommit marks a committed transaction as visible outside its hierarchy from commitTS on.
func (s *Store) RecordGlobalCommit(ctx context.Context, txnID, commitTS uint64) error {
	return s.update(ctx, txnID, func(t *Txn) ([]storage.Cell, error) {
		if t.State() != StateCommitted {
			return nil, &ErrTxnNotActive{TxnID: txnID, State: t.State()}
		}
		return []storage.Cell{globalCommitCell(txnID, commitTS)}, nil
	})
}

// Rollback rolls an active transaction back. Rolling back a rolled back transaction does nothing.
func (s *Store) Rollback(ctx context.Context, txnID uint64) error {
	return s.update(ctx, txnID, func(t *Txn) ([]storage.Cell, error) {
		if t.rec.State.IsRolledBack() {
			return nil, nil
		}
		if t.State() == StateCommitted {
			return nil, &ErrTxnNotActive{TxnID: txnID, State: t.State()}
		}
		state := StateRolledBack
		if t.parent == nil && s.hasLiveChildren(ctx, txnID) {
			state = StateRolledBackRoot
		}
		s.takeChildren(txnID)
		log.Debugf("rollback txn %d as %s", txnID, state)
		return []storage.Cell{stateCell(txnID, state)}, nil
	})
}

func (s *Store) hasLiveChildren(ctx context.Context, txnID uint64) bool {
	s.mu.Lock()
	children := append([]uint64(nil), s.children[txnID]...)
	s.mu.Unlock()
	for _, child := range children {
		t, err := s.Load(ctx, child)
		if err == nil && t.State() == StateActive {
			return true
		}
	}
	return false
}

// Elevate records that the transaction writes to table.
func (s *Store) Elevate(ctx context.Context, txnID uint64, table string) error {
	return s.update(ctx, txnID, func(t *Txn) ([]storage.Cell, error) {
		if !t.AllowsWrites() {
			return nil, &ErrTxnNotActive{TxnID: txnID, State: t.EffectiveState()}
		}
		rec := t.Record()
		if !rec.addDestinationTable(table) {
			return nil, nil
		}
		return []storage.Cell{destTablesCell(txnID, rec.DestinationTables)}, nil
	})
}

// ActiveTransactions lists the transactions with ids in [afterTS, beforeTS] that are still active. A committed child
// of an active transaction is still listed. When table is not empty only transactions that wrote to it are listed.
// A beforeTS of 0 means no upper bound.
func (s *Store) ActiveTransactions(ctx context.Context, afterTS, beforeTS uint64, table string) ([]*Txn, error) {
	if beforeTS == 0 {
		beforeTS = math.MaxUint64
	}
	now := time.Now()
	scanner, err := s.part.OpenScanner(&storage.Scan{
		Filter: NewActiveTxnFilter(afterTS, beforeTS, table, s.timeout, now),
	})
	if err != nil {
		return nil, errors.Trace(err)
	}
	defer scanner.Close()
	var txns []*Txn
	for {
		if err := ctx.Err(); err != nil {
			return nil, errors.Trace(err)
		}
		res, err := scanner.Next()
		if err != nil {
			return nil, err
		}
		if res == nil {
			break
		}
		rec, err := DecodeRecord(res)
		if err != nil {
			return nil, err
		}
		t, err := s.resolve(ctx, rec, now)
		if err != nil {
			return nil, err
		}
		txns = append(txns, t)
	}
	sortTxns(txns)
	return txns, nil
}
