package si

import (
	"fmt"

	"github.com/pingcap/errors"
)

type MutationType int

const (
	Insert MutationType = iota
	Update
	Upsert
	Delete
	// EmptyColumn checks the row for write conflicts without changing it.
	EmptyColumn
)

func (t MutationType) String() string {
	switch t {
	case Insert:
		return "INSERT"
	case Update:
		return "UPDATE"
	case Upsert:
		return "UPSERT"
	case Delete:
		return "DELETE"
	case EmptyColumn:
		return "EMPTY_COLUMN"
	}
	return fmt.Sprintf("MutationType(%d)", int(t))
}

// KVPair is one row mutation. Value is a packed row; an Update only carries the changed columns.
type KVPair struct {
	RowKey []byte
	Value  []byte
	Type   MutationType
}

func (p *KVPair) String() string {
	return fmt.Sprintf("%s %q", p.Type, p.RowKey)
}

// Size is the number of bytes of the pair.
func (p *KVPair) Size() int {
	return len(p.RowKey) + len(p.Value)
}

var (
	// ErrRowNotFound is returned when an update finds no visible row.
	ErrRowNotFound = errors.New("row not found")
)

// ErrUniqueViolation is returned when an insert finds a visible row with the same key.
type ErrUniqueViolation struct {
	Key []byte
}

func (e *ErrUniqueViolation) Error() string {
	return fmt.Sprintf("duplicate key %q", e.Key)
}

func IsUniqueViolation(err error) bool {
	_, ok := errors.Cause(err).(*ErrUniqueViolation)
	return ok
}
