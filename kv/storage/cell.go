package storage

import (
	"bytes"
	"fmt"
	"sort"

	"github.com/pingcap-incubator/tinysi/kv/util/codec"
	"github.com/pingcap/errors"
)

// The SI layout keeps every column of a table row in one family.
var (
	DefaultFamily = []byte("V")
	// CommitTimestampQualifier holds the commit timestamp of the writer of a row version once it is resolved.
	CommitTimestampQualifier = []byte("0")
	// TombstoneQualifier holds a tombstone (empty value) or an anti-tombstone (AntiTombstoneValue).
	TombstoneQualifier = []byte("1")
	// PackedQualifier holds the row value packed by rowcodec.
	PackedQualifier = []byte("7")

	AntiTombstoneValue = []byte("0")
)

// Cell is one version of one column of a row. Timestamp is the id of the writing transaction.
type Cell struct {
	Row       []byte
	Family    []byte
	Qualifier []byte
	Timestamp uint64
	Value     []byte
}

func (c *Cell) String() string {
	return fmt.Sprintf("%q/%s:%s/%d=%q", c.Row, c.Family, c.Qualifier, c.Timestamp, c.Value)
}

// SameColumn reports whether both cells are versions of the same column.
func (c *Cell) SameColumn(o *Cell) bool {
	return bytes.Equal(c.Family, o.Family) && bytes.Equal(c.Qualifier, o.Qualifier)
}

// Matches reports whether c is a version of family:qualifier.
func (c *Cell) Matches(family, qualifier []byte) bool {
	return bytes.Equal(c.Family, family) && bytes.Equal(c.Qualifier, qualifier)
}

// Size is the number of key and value bytes of the cell.
func (c *Cell) Size() int {
	return len(c.Row) + len(c.Family) + len(c.Qualifier) + 8 + len(c.Value)
}

// IsTombstone reports whether c is a tombstone column version that deletes the row.
func (c *Cell) IsTombstone() bool {
	return c.Matches(DefaultFamily, TombstoneQualifier) && len(c.Value) == 0
}

// IsAntiTombstone reports whether c is a tombstone column version that undoes earlier tombstones.
func (c *Cell) IsAntiTombstone() bool {
	return c.Matches(DefaultFamily, TombstoneQualifier) && bytes.Equal(c.Value, AntiTombstoneValue)
}

// CompareCells orders cells by row, family and qualifier ascending, then timestamp descending.
func CompareCells(a, b *Cell) int {
	if r := bytes.Compare(a.Row, b.Row); r != 0 {
		return r
	}
	if r := bytes.Compare(a.Family, b.Family); r != 0 {
		return r
	}
	if r := bytes.Compare(a.Qualifier, b.Qualifier); r != 0 {
		return r
	}
	switch {
	case a.Timestamp > b.Timestamp:
		return -1
	case a.Timestamp < b.Timestamp:
		return 1
	}
	return 0
}

// SortCells sorts cells in scan order.
func SortCells(cells []Cell) {
	sort.Slice(cells, func(i, j int) bool { return CompareCells(&cells[i], &cells[j]) < 0 })
}

// rowPrefix is the encoded prefix shared by every cell key of row.
func rowPrefix(ns, row []byte) []byte {
	return codec.AppendBytes(append([]byte(nil), ns...), row)
}

// columnPrefix is the encoded prefix shared by every version of a column.
func columnPrefix(ns, row, family, qualifier []byte) []byte {
	b := rowPrefix(ns, row)
	b = codec.AppendBytes(b, family)
	return codec.AppendBytes(b, qualifier)
}

// encodeCellKey lays a cell out so that byte order is scan order.
func encodeCellKey(ns []byte, c *Cell) []byte {
	return codec.AppendTs(columnPrefix(ns, c.Row, c.Family, c.Qualifier), c.Timestamp)
}

func decodeCellKey(ns, key []byte, c *Cell) error {
	if !bytes.HasPrefix(key, ns) {
		return errors.Errorf("cell key %q outside namespace %q", key, ns)
	}
	b, ts, err := codec.SplitTs(key[len(ns):])
	if err != nil {
		return errors.Trace(err)
	}
	if b, c.Row, err = codec.DecodeBytes(b); err != nil {
		return errors.Trace(err)
	}
	if b, c.Family, err = codec.DecodeBytes(b); err != nil {
		return errors.Trace(err)
	}
	if b, c.Qualifier, err = codec.DecodeBytes(b); err != nil {
		return errors.Trace(err)
	}
	if len(b) != 0 {
		return errors.Errorf("invalid cell key %q", key)
	}
	c.Timestamp = ts
	return nil
}

// prefixNext returns the smallest key greater than every key that has prefix p. Encoded prefixes always end in a
// marker byte below 0xFF.
func prefixNext(p []byte) []byte {
	next := append([]byte(nil), p...)
	for i := len(next) - 1; i >= 0; i-- {
		next[i]++
		if next[i] != 0 {
			return next[:i+1]
		}
	}
	return append(p, 0)
}
