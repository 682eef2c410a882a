package txn

import (
	"time"

	"github.com/pingcap-incubator/tinysi/kv/storage"
)

// activeRowState is what the filter has learnt about the row it is in. It is reset at every row.
type activeRowState struct {
	// seen holds, per field, 0 when no column was seen, 1 for a legacy column and 2 for a current one. A current
	// column replaces a legacy one, any other repeat is skipped.
	seen [fieldGlobalCommit + 1]int8
	// legacy rows may still be rewritten by the current columns that sort after them, so they are only decided at
	// the end of the row.
	legacy bool

	state        State
	isAlive      bool
	destMatch    bool
	committed    bool
	globalCommit bool
	isChild      bool
}

func (s *activeRowState) take(format columnFormat) bool {
	level := int8(2)
	if format.legacy {
		level = 1
		s.legacy = true
	}
	if s.seen[format.field] >= level {
		return false
	}
	s.seen[format.field] = level
	return true
}

func (s *activeRowState) has(f field) bool {
	return s.seen[f] > 0
}

// definitive reports whether the cells seen so far exclude the row whatever follows.
func (s *activeRowState) definitive() bool {
	switch {
	case s.globalCommit:
		return true
	case s.has(fieldState) && s.state.IsRolledBack():
		return true
	case s.has(fieldState) && s.state == StateActive && s.has(fieldKeepAlive) && !s.isAlive:
		return true
	case s.has(fieldDestTable) && !s.destMatch:
		return true
	}
	return false
}

// exclude reports whether the row is not an active transaction once all of its cells are seen.
func (s *activeRowState) exclude(destTableRequested bool) bool {
	switch {
	case s.definitive():
		return true
	case !s.isChild && (s.committed || s.has(fieldState) && s.state == StateCommitted):
		return true
	case destTableRequested && !s.has(fieldDestTable):
		return true
	}
	return false
}

// ActiveTxnFilter keeps only the transaction table rows of transactions that are still active, with ids in
// [afterTS, beforeTS]. When destTable is set, only transactions that wrote to it are kept.
type ActiveTxnFilter struct {
	afterTS   uint64
	beforeTS  uint64
	destTable string
	timeout   time.Duration
	now       time.Time

	row activeRowState
}

func NewActiveTxnFilter(afterTS, beforeTS uint64, destTable string, timeout time.Duration, now time.Time) *ActiveTxnFilter {
	return &ActiveTxnFilter{
		afterTS:   afterTS,
		beforeTS:  beforeTS,
		destTable: destTable,
		timeout:   timeout,
		now:       now,
	}
}

// FilterRowKey skips rows by transaction id alone, since the id is the begin timestamp in both formats.
func (f *ActiveTxnFilter) FilterRowKey(row []byte) bool {
	id, err := TxnIDFromRowKey(row)
	if err != nil {
		return true
	}
	return id < f.afterTS || id > f.beforeTS
}

func (f *ActiveTxnFilter) FilterRow() bool {
	return f.row.exclude(f.destTable != "")
}

func (f *ActiveTxnFilter) Reset() {
	f.row = activeRowState{}
}

func (f *ActiveTxnFilter) FilterCell(c *storage.Cell) (storage.ReturnCode, error) {
	format := lookupColumn(c)
	if format.field == fieldInvalid {
		return storage.Include, nil
	}
	if format.field == fieldDestTable && f.destTable == "" {
		return storage.Include, nil
	}
	if !f.row.take(format) {
		return storage.Skip, nil
	}
	if err := f.apply(format, c); err != nil {
		return storage.Include, err
	}
	if !f.row.legacy && f.row.definitive() {
		return storage.NextRow, nil
	}
	return storage.Include, nil
}

func (f *ActiveTxnFilter) apply(format columnFormat, c *storage.Cell) error {
	switch format.field {
	case fieldState:
		v, err := decodeNumber(format, c.Value)
		if err != nil {
			return err
		}
		f.row.state = State(v)
	case fieldKeepAlive:
		keepAlive, err := decodeNumber(format, c.Value)
		if err != nil {
			return err
		}
		rec := Record{State: StateActive, KeepAlive: keepAlive}
		f.row.isAlive = !rec.IsTimedOut(f.now, f.timeout)
	case fieldDestTable:
		tables, err := decodeDestTables(format, c.Value)
		if err != nil {
			return err
		}
		f.row.destMatch = false
		for _, t := range tables {
			if t == f.destTable {
				f.row.destMatch = true
			}
		}
	case fieldGlobalCommit:
		// The whole hierarchy committed.
		f.row.globalCommit = true
	case fieldCommit:
		// A committed child may still belong to an active parent.
		f.row.committed = true
	case fieldData:
		parent, err := decodeParent(format, c.Value)
		if err != nil {
			return err
		}
		f.row.isChild = parent > 0
	case fieldParent:
		f.row.isChild = len(c.Value) > 0
	}
	return nil
}
