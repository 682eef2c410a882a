package pipeline

import (
	"context"
	"fmt"

	"github.com/pingcap-incubator/tinysi/kv/storage"
	"github.com/pingcap-incubator/tinysi/kv/transaction/si"
	"github.com/pingcap-incubator/tinysi/kv/transaction/txn"
	"github.com/pingcap/errors"
)

// Code is the outcome of one mutation, or of a whole bulk write.
type Code int

const (
	Success Code = iota
	Failed
	NotServingRegion
	RegionTooBusy
	WrongRegion
	WriteConflict
	UniqueViolation
	IndexNotSetUp
	Interrupted
	// NotRun marks a mutation that was never attempted.
	NotRun
	// Partial is only used for bulk writes where some mutations failed.
	Partial
)

var codeNames = map[Code]string{
	Success:          "SUCCESS",
	Failed:           "FAILED",
	NotServingRegion: "NOT_SERVING_REGION",
	RegionTooBusy:    "REGION_TOO_BUSY",
	WrongRegion:      "WRONG_REGION",
	WriteConflict:    "WRITE_CONFLICT",
	UniqueViolation:  "UNIQUE_VIOLATION",
	IndexNotSetUp:    "INDEX_NOT_SETUP",
	Interrupted:      "INTERRUPTED",
	NotRun:           "NOT_RUN",
	Partial:          "PARTIAL",
}

func (c Code) String() string {
	if s, ok := codeNames[c]; ok {
		return s
	}
	return fmt.Sprintf("Code(%d)", int(c))
}

// ErrIndexNotSetUp is returned while an index of the target table is still being built.
var ErrIndexNotSetUp = errors.New("index not set up")

// WriteResult is the outcome of one mutation. Err is the cause of a failure, when there is one.
type WriteResult struct {
	Code Code
	Err  error
}

var successResult = WriteResult{Code: Success}

func (r WriteResult) IsSuccess() bool { return r.Code == Success }

// CanRun reports whether a mutation with this result may still be written.
func (r WriteResult) CanRun() bool { return r.Code == Success }

func (r WriteResult) String() string {
	if r.Err == nil {
		return r.Code.String()
	}
	return fmt.Sprintf("%s: %v", r.Code, r.Err)
}

// ResultOf converts the error of a write into a result.
func ResultOf(err error) WriteResult {
	if err == nil {
		return successResult
	}
	cause := errors.Cause(err)
	switch {
	case cause == storage.ErrNotServingRegion:
		return WriteResult{Code: NotServingRegion, Err: err}
	case cause == storage.ErrRegionTooBusy:
		return WriteResult{Code: RegionTooBusy, Err: err}
	case cause == storage.ErrInterrupted, cause == context.Canceled, cause == context.DeadlineExceeded:
		return WriteResult{Code: Interrupted, Err: err}
	case cause == ErrIndexNotSetUp:
		return WriteResult{Code: IndexNotSetUp, Err: err}
	case storage.IsWrongRegion(err):
		return WriteResult{Code: WrongRegion, Err: err}
	case txn.IsWriteConflict(err):
		return WriteResult{Code: WriteConflict, Err: err}
	case si.IsUniqueViolation(err):
		return WriteResult{Code: UniqueViolation, Err: err}
	}
	return WriteResult{Code: Failed, Err: err}
}
