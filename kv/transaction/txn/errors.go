package txn

import (
	"fmt"

	"github.com/pingcap/errors"
)

var (
	// ErrTxnNotFound is returned when there is no record for a transaction id.
	ErrTxnNotFound = errors.New("transaction not found")
	// ErrTxnTimedOut is returned when an active transaction missed its keep-alive deadline.
	ErrTxnTimedOut = errors.New("transaction timed out")
)

// ErrCannotCommit is returned when a transaction is asked to move out of a state it cannot leave.
type ErrCannotCommit struct {
	TxnID uint64
	State State
}

func (e *ErrCannotCommit) Error() string {
	return fmt.Sprintf("transaction %d cannot be committed: state is %s", e.TxnID, e.State)
}

// ErrTxnNotActive is returned when a transaction that already finished is kept alive, elevated or rolled back.
type ErrTxnNotActive struct {
	TxnID uint64
	State State
}

func (e *ErrTxnNotActive) Error() string {
	return fmt.Sprintf("transaction %d is not active: state is %s", e.TxnID, e.State)
}

// ErrWriteConflict is returned when a row was written by a transaction the writer cannot see.
type ErrWriteConflict struct {
	TxnID            uint64
	ConflictingTxnID uint64
	Key              []byte
}

func (e *ErrWriteConflict) Error() string {
	return fmt.Sprintf("write conflict on %q: transaction %d conflicts with %d", e.Key, e.TxnID, e.ConflictingTxnID)
}

func IsWriteConflict(err error) bool {
	_, ok := errors.Cause(err).(*ErrWriteConflict)
	return ok
}

func IsCannotCommit(err error) bool {
	_, ok := errors.Cause(err).(*ErrCannotCommit)
	return ok
}
