package txn

import (
	"fmt"
	"sort"
	"time"
)

// State is the recorded state of a transaction.
type State int64

const (
	StateActive State = iota + 1
	StateCommitted
	StateRolledBack
	// StateRolledBackRoot is recorded on a top level transaction rolled back while it still had live children.
	StateRolledBackRoot
)

func (s State) String() string {
	switch s {
	case StateActive:
		return "ACTIVE"
	case StateCommitted:
		return "COMMITTED"
	case StateRolledBack:
		return "ROLLEDBACK"
	case StateRolledBackRoot:
		return "ROLLEDBACK_ROOT"
	}
	return fmt.Sprintf("State(%d)", int64(s))
}

// IsRolledBack treats both rolled back states alike.
func (s State) IsRolledBack() bool {
	return s == StateRolledBack || s == StateRolledBackRoot
}

func (s State) IsFinal() bool {
	return s == StateCommitted || s.IsRolledBack()
}

// IsolationLevel is recorded on the transaction. Visibility is always snapshot isolation.
type IsolationLevel int64

const (
	SnapshotIsolation IsolationLevel = iota
	ReadCommitted
	ReadUncommitted
)

func (l IsolationLevel) String() string {
	switch l {
	case SnapshotIsolation:
		return "SI"
	case ReadCommitted:
		return "RC"
	case ReadUncommitted:
		return "RU"
	}
	return fmt.Sprintf("IsolationLevel(%d)", int64(l))
}

// Record is the persisted form of a transaction.
type Record struct {
	TxnID          uint64
	BeginTS        uint64
	ParentTxnID    uint64
	CommitTS       uint64
	GlobalCommitTS uint64
	State          State
	// KeepAlive is the wall clock time in milliseconds of the last keep-alive.
	KeepAlive         int64
	DestinationTables []string
	Isolation         IsolationLevel
	Additive          bool
}

// IsTimedOut reports whether an active record has not been kept alive within timeout.
func (r *Record) IsTimedOut(now time.Time, timeout time.Duration) bool {
	if r.State != StateActive {
		return false
	}
	return now.Sub(time.Unix(0, r.KeepAlive*int64(time.Millisecond))) > timeout
}

// HasDestinationTable reports whether the transaction has written to table.
func (r *Record) HasDestinationTable(table string) bool {
	for _, t := range r.DestinationTables {
		if t == table {
			return true
		}
	}
	return false
}

func (r *Record) addDestinationTable(table string) bool {
	if r.HasDestinationTable(table) {
		return false
	}
	r.DestinationTables = append(r.DestinationTables, table)
	sort.Strings(r.DestinationTables)
	return true
}

func (r *Record) clone() *Record {
	c := *r
	c.DestinationTables = append([]string(nil), r.DestinationTables...)
	return &c
}

func keepAliveMillis(t time.Time) int64 {
	return t.UnixNano() / int64(time.Millisecond)
}

// TxnView is the read-only view of a transaction that reads and writes are done on behalf of.
type TxnView interface {
	TxnID() uint64
	BeginTS() uint64
	CommitTS() uint64
	GlobalCommitTS() uint64
	State() State
	// Parent returns nil for a top level transaction.
	Parent() TxnView
	// EffectiveState folds the states of all ancestors into the state of the transaction.
	EffectiveState() State
	// EffectiveCommitTS is the timestamp at which writes become visible outside the hierarchy, 0 when not yet.
	EffectiveCommitTS() uint64
	IsAncestorOf(other TxnView) bool
	// CanSee reports whether the writes of writer are visible to this transaction.
	CanSee(writer TxnView) bool
	AllowsWrites() bool
}

// Txn is an immutable snapshot of a transaction record with its ancestors resolved.
type Txn struct {
	rec    *Record
	parent *Txn
	// timedOut is set when the record claims to be active but its keep-alive expired.
	timedOut bool
}

// NewTxn wraps rec. parent must be the resolved parent when rec.ParentTxnID is not 0.
func NewTxn(rec *Record, parent *Txn) *Txn {
	return &Txn{rec: rec, parent: parent}
}

func (t *Txn) TxnID() uint64          { return t.rec.TxnID }
func (t *Txn) BeginTS() uint64        { return t.rec.BeginTS }
func (t *Txn) CommitTS() uint64       { return t.rec.CommitTS }
func (t *Txn) GlobalCommitTS() uint64 { return t.rec.GlobalCommitTS }

// Record returns a copy of the persisted form.
func (t *Txn) Record() *Record { return t.rec.clone() }

func (t *Txn) Isolation() IsolationLevel { return t.rec.Isolation }

func (t *Txn) Additive() bool { return t.rec.Additive }

func (t *Txn) DestinationTables() []string { return t.rec.DestinationTables }

func (t *Txn) State() State {
	if t.timedOut {
		return StateRolledBack
	}
	return t.rec.State
}

func (t *Txn) TimedOut() bool { return t.timedOut }

func (t *Txn) Parent() TxnView {
	if t.parent == nil {
		return nil
	}
	return t.parent
}

func (t *Txn) EffectiveState() State {
	state := t.State()
	if state.IsRolledBack() {
		return StateRolledBack
	}
	if t.parent == nil {
		return state
	}
	parentState := t.parent.EffectiveState()
	if parentState == StateRolledBack {
		return StateRolledBack
	}
	if state == StateCommitted && parentState == StateCommitted {
		return StateCommitted
	}
	return StateActive
}

func (t *Txn) EffectiveCommitTS() uint64 {
	if t.rec.GlobalCommitTS > 0 {
		return t.rec.GlobalCommitTS
	}
	if t.State() != StateCommitted {
		return 0
	}
	if t.parent == nil {
		return t.rec.CommitTS
	}
	return t.parent.EffectiveCommitTS()
}

func (t *Txn) IsAncestorOf(other TxnView) bool {
	for p := other.Parent(); p != nil; p = p.Parent() {
		if p.TxnID() == t.TxnID() {
			return true
		}
	}
	return false
}

func (t *Txn) CanSee(writer TxnView) bool {
	if writer.TxnID() == t.TxnID() {
		return true
	}
	if writer.EffectiveState() == StateRolledBack {
		return false
	}
	if writer.IsAncestorOf(t) {
		return true
	}
	// Climb to the highest ancestor of writer that is not shared with t.
	x := writer
	for p := x.Parent(); p != nil && p.TxnID() != t.TxnID() && !p.IsAncestorOf(t); p = x.Parent() {
		if x.State() != StateCommitted {
			return false
		}
		x = p
	}
	return x.State() == StateCommitted && x.CommitTS() <= t.BeginTS()
}

func (t *Txn) AllowsWrites() bool {
	return t.State() == StateActive && t.EffectiveState() == StateActive
}

func sortTxns(txns []*Txn) {
	sort.Slice(txns, func(i, j int) bool { return txns[i].TxnID() < txns[j].TxnID() })
}

func (t *Txn) String() string {
	return fmt.Sprintf("txn %d (parent %d, %s, begin %d, commit %d)",
		t.rec.TxnID, t.rec.ParentTxnID, t.State(), t.rec.BeginTS, t.rec.CommitTS)
}
