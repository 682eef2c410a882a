package storage

import (
	"bytes"
	"context"
)

// Partition is a contiguous key range of one table. Writers and scanners only talk to partitions, so they do not
// depend on the engine underneath.
type Partition interface {
	TableName() string
	Name() string

	// Get returns every stored version of row, newest first per column. prev is reused when not nil.
	Get(row []byte, prev *Result) (*Result, error)
	// GetLatest returns only the newest version of each column of row.
	GetLatest(row []byte, prev *Result) (*Result, error)
	OpenScanner(scan *Scan) (Scanner, error)
	OpenScannerWithMetrics(scan *Scan, metrics *ScanMetrics) (Scanner, error)

	Put(row []byte, cells []Cell) error
	// Delete removes the given versions of row, or every version when cells is empty.
	Delete(row []byte, cells []Cell) error
	Mutate(m *Mutation) error
	// WriteBatch applies every mutation and reports one status per mutation. There is no all-or-nothing guarantee.
	WriteBatch(ms []*Mutation) ([]MutationStatus, error)
	// Increment adds amount to the 8 byte counter at family:qualifier of row and returns the new value.
	Increment(row, family, qualifier []byte, amount int64) (int64, error)

	// StartOperation pins the region open until the matching CloseOperation.
	StartOperation(ctx context.Context) error
	CloseOperation()
	// GetRowLock blocks until the row lock is held or ctx is done.
	GetRowLock(ctx context.Context, row []byte) (RowLock, error)

	StartKey() []byte
	EndKey() []byte
	ContainsRow(row []byte) bool
	ContainsRange(start, end []byte) bool
	IsClosed() bool
	IsClosing() bool

	WritesRequested() int64
	ReadsRequested() int64
	Close() error
}

// RowLock is held until Release is called.
type RowLock interface {
	Release()
}

// Result is the cells of one row in scan order.
type Result struct {
	Row   []byte
	Cells []Cell
}

func (r *Result) Reset() {
	r.Row = nil
	r.Cells = r.Cells[:0]
}

func (r *Result) IsEmpty() bool {
	return r == nil || len(r.Cells) == 0
}

// Latest returns the newest version of family:qualifier or nil.
func (r *Result) Latest(family, qualifier []byte) *Cell {
	for i := range r.Cells {
		if r.Cells[i].Matches(family, qualifier) {
			return &r.Cells[i]
		}
	}
	return nil
}

// Versions returns every version of family:qualifier, newest first.
func (r *Result) Versions(family, qualifier []byte) []Cell {
	var out []Cell
	for i := range r.Cells {
		if r.Cells[i].Matches(family, qualifier) {
			out = append(out, r.Cells[i])
		}
	}
	return out
}

// Size is the number of bytes of all cells.
func (r *Result) Size() int {
	size := 0
	for i := range r.Cells {
		size += r.Cells[i].Size()
	}
	return size
}

// ReturnCode tells the scanner what to do with a cell.
type ReturnCode int

const (
	// Include the cell in the row.
	Include ReturnCode = iota
	// Skip the cell and continue with the next one.
	Skip
	// NextCol skips the remaining versions of the column.
	NextCol
	// IncludeAndNextCol includes the cell and skips the remaining versions of the column.
	IncludeAndNextCol
	// NextRow skips the rest of the row.
	NextRow
)

// CellFilter is called by scanners for every cell. Reset is called before each row.
type CellFilter interface {
	// FilterRowKey returns true when the whole row should be skipped using its key alone.
	FilterRowKey(row []byte) bool
	FilterCell(cell *Cell) (ReturnCode, error)
	// FilterRow returns true when the row should be excluded after all its cells are seen.
	FilterRow() bool
	Reset()
}

// Scan describes a range scan. An empty StopRow means the end of the partition.
type Scan struct {
	StartRow []byte
	StopRow  []byte
	Filter   CellFilter
	// Limit stops the scan after that many rows, 0 is no limit.
	Limit int
}

// Scanner yields rows lazily. Next returns nil once the scan is done.
type Scanner interface {
	Next() (*Result, error)
	Close()
}

// Mutation is a set of puts and deletes applied to one row atomically.
type Mutation struct {
	Row     []byte
	Puts    []Cell
	Deletes []Cell
	// DeleteRow removes every version of the row before Puts are applied.
	DeleteRow bool
}

// Size is the number of bytes the mutation writes.
func (m *Mutation) Size() int {
	size := len(m.Row)
	for i := range m.Puts {
		size += m.Puts[i].Size()
	}
	return size
}

type StatusCode int

const (
	StatusSuccess StatusCode = iota
	StatusFailed
	StatusWrongRegion
	StatusNotServing
)

// MutationStatus is the outcome of one mutation of a WriteBatch.
type MutationStatus struct {
	Code StatusCode
	Err  error
}

func (s MutationStatus) IsSuccess() bool { return s.Code == StatusSuccess }

func containsRow(start, end, row []byte) bool {
	return bytes.Compare(row, start) >= 0 && (len(end) == 0 || bytes.Compare(row, end) < 0)
}
