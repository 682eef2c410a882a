package txn

import (
	"encoding/binary"

	"github.com/dgryski/go-farm"
	"github.com/pingcap-incubator/tinysi/kv/storage"
	"github.com/pingcap-incubator/tinysi/kv/util/codec"
	"github.com/pingcap/errors"
)

// Qualifiers of the transaction table.
var (
	DataQualifier             = []byte("d")
	KeepAliveQualifier        = []byte("k")
	CommitQualifier           = []byte("t")
	GlobalCommitQualifier     = []byte("g")
	StateQualifier            = []byte("s")
	DestinationTableQualifier = []byte("e")
)

// Qualifiers of the legacy transaction table. Rows of both formats can be read at once.
var (
	LegacyBeginQualifier        = legacyQualifier(0)
	LegacyParentQualifier       = legacyQualifier(1)
	LegacyStatusQualifier       = legacyQualifier(6)
	LegacyCommitQualifier       = legacyQualifier(7)
	LegacyKeepAliveQualifier    = legacyQualifier(8)
	LegacyWriteTableQualifier   = legacyQualifier(10)
	LegacyGlobalCommitQualifier = legacyQualifier(14)
)

func legacyQualifier(n uint32) []byte {
	q := make([]byte, 4)
	binary.BigEndian.PutUint32(q, n)
	return q
}

type field int

const (
	fieldInvalid field = iota
	// fieldData holds begin ts, parent, additive and isolation, only in the current format.
	fieldData
	fieldBegin
	fieldParent
	fieldState
	fieldCommit
	fieldKeepAlive
	fieldDestTable
	fieldGlobalCommit
)

type columnFormat struct {
	field  field
	legacy bool
}

// columnFormats resolves the qualifiers of both formats to the fields they hold.
var columnFormats = map[string]columnFormat{
	string(DataQualifier):             {fieldData, false},
	string(KeepAliveQualifier):        {fieldKeepAlive, false},
	string(CommitQualifier):           {fieldCommit, false},
	string(GlobalCommitQualifier):     {fieldGlobalCommit, false},
	string(StateQualifier):            {fieldState, false},
	string(DestinationTableQualifier): {fieldDestTable, false},

	string(LegacyBeginQualifier):        {fieldBegin, true},
	string(LegacyParentQualifier):       {fieldParent, true},
	string(LegacyStatusQualifier):       {fieldState, true},
	string(LegacyCommitQualifier):       {fieldCommit, true},
	string(LegacyKeepAliveQualifier):    {fieldKeepAlive, true},
	string(LegacyWriteTableQualifier):   {fieldDestTable, true},
	string(LegacyGlobalCommitQualifier): {fieldGlobalCommit, true},
}

func lookupColumn(c *storage.Cell) columnFormat {
	if string(c.Family) != string(storage.DefaultFamily) {
		return columnFormat{}
	}
	return columnFormats[string(c.Qualifier)]
}

// RowKey is the transaction table row of txnID. The leading bucket byte spreads consecutive ids over the table.
func RowKey(txnID uint64, buckets int) []byte {
	key := make([]byte, 9)
	binary.BigEndian.PutUint64(key[1:], txnID)
	key[0] = byte(farm.Fingerprint64(key[1:]) % uint64(buckets))
	return key
}

func TxnIDFromRowKey(row []byte) (uint64, error) {
	if len(row) != 9 {
		return 0, errors.Errorf("invalid transaction row key %q", row)
	}
	return binary.BigEndian.Uint64(row[1:]), nil
}

func encodeLegacyInt(v uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, v)
	return b
}

func decodeLegacyInt(b []byte) (uint64, error) {
	if len(b) != 8 {
		return 0, errors.Errorf("invalid legacy number %q", b)
	}
	return binary.BigEndian.Uint64(b), nil
}

func encodeInt(v int64) []byte {
	return codec.EncodeInt64Field(nil, v, false)
}

func decodeInt(b []byte) (int64, error) {
	_, v, err := codec.DecodeInt64Field(b, false)
	return v, errors.Trace(err)
}

func boolToInt(b bool) int64 {
	if b {
		return 1
	}
	return 0
}

func encodeData(rec *Record) []byte {
	return codec.NewMultiFieldEncoder(4).
		EncodeNextInt64(int64(rec.BeginTS), false).
		EncodeNextInt64(int64(rec.ParentTxnID), false).
		EncodeNextInt64(boolToInt(rec.Additive), false).
		EncodeNextInt64(int64(rec.Isolation), false).
		Build()
}

func encodeDestTables(tables []string) []byte {
	enc := codec.NewMultiFieldEncoder(len(tables))
	for _, t := range tables {
		enc.EncodeNextString(t, false)
	}
	return enc.Build()
}

func newCell(id uint64, qual, value []byte) storage.Cell {
	return storage.Cell{Family: storage.DefaultFamily, Qualifier: qual, Timestamp: id, Value: value}
}

func stateCell(id uint64, state State) storage.Cell {
	return newCell(id, StateQualifier, encodeInt(int64(state)))
}

func keepAliveCell(id uint64, keepAlive int64) storage.Cell {
	return newCell(id, KeepAliveQualifier, encodeInt(keepAlive))
}

func commitCell(id, commitTS uint64) storage.Cell {
	return newCell(id, CommitQualifier, encodeInt(int64(commitTS)))
}

func globalCommitCell(id, commitTS uint64) storage.Cell {
	return newCell(id, GlobalCommitQualifier, encodeInt(int64(commitTS)))
}

func destTablesCell(id uint64, tables []string) storage.Cell {
	return newCell(id, DestinationTableQualifier, encodeDestTables(tables))
}

// EncodeCells returns the transaction table cells of rec in the current format.
func EncodeCells(rec *Record) []storage.Cell {
	id := rec.TxnID
	cells := []storage.Cell{
		newCell(id, DataQualifier, encodeData(rec)),
		keepAliveCell(id, rec.KeepAlive),
		stateCell(id, rec.State),
	}
	if rec.CommitTS > 0 {
		cells = append(cells, commitCell(id, rec.CommitTS))
	}
	if rec.GlobalCommitTS > 0 {
		cells = append(cells, globalCommitCell(id, rec.GlobalCommitTS))
	}
	if len(rec.DestinationTables) > 0 {
		cells = append(cells, destTablesCell(id, rec.DestinationTables))
	}
	return cells
}

// EncodeLegacyCells returns the cells of rec in the legacy format. The legacy format holds one destination table.
func EncodeLegacyCells(rec *Record) []storage.Cell {
	id := rec.TxnID
	var parent []byte
	if rec.ParentTxnID > 0 {
		parent = encodeLegacyInt(rec.ParentTxnID)
	}
	cells := []storage.Cell{
		newCell(id, LegacyBeginQualifier, encodeLegacyInt(rec.BeginTS)),
		newCell(id, LegacyParentQualifier, parent),
		newCell(id, LegacyStatusQualifier, encodeLegacyInt(uint64(rec.State))),
		newCell(id, LegacyKeepAliveQualifier, encodeLegacyInt(uint64(rec.KeepAlive))),
	}
	if rec.CommitTS > 0 {
		cells = append(cells, newCell(id, LegacyCommitQualifier, encodeLegacyInt(rec.CommitTS)))
	}
	if rec.GlobalCommitTS > 0 {
		cells = append(cells, newCell(id, LegacyGlobalCommitQualifier, encodeLegacyInt(rec.GlobalCommitTS)))
	}
	if len(rec.DestinationTables) > 0 {
		cells = append(cells, newCell(id, LegacyWriteTableQualifier, []byte(rec.DestinationTables[0])))
	}
	return cells
}

// decodeNumber decodes a single number column of either format.
func decodeNumber(format columnFormat, value []byte) (int64, error) {
	if format.legacy {
		v, err := decodeLegacyInt(value)
		return int64(v), err
	}
	return decodeInt(value)
}

// decodeParent returns the parent id held by a data or legacy parent column.
func decodeParent(format columnFormat, value []byte) (uint64, error) {
	if format.legacy {
		if len(value) == 0 {
			return 0, nil
		}
		return decodeLegacyInt(value)
	}
	dec := codec.NewMultiFieldDecoder(value)
	if err := dec.Skip(); err != nil {
		return 0, errors.Trace(err)
	}
	parent, _, err := dec.DecodeNextInt64(false)
	return uint64(parent), errors.Trace(err)
}

func decodeDestTables(format columnFormat, value []byte) ([]string, error) {
	if format.legacy {
		return []string{string(value)}, nil
	}
	var tables []string
	dec := codec.NewMultiFieldDecoder(value)
	for dec.Available() {
		t, _, err := dec.DecodeNextString(false)
		if err != nil {
			return nil, errors.Trace(err)
		}
		tables = append(tables, t)
	}
	return tables, nil
}

func decodeDataInto(rec *Record, value []byte) error {
	dec := codec.NewMultiFieldDecoder(value)
	vals := make([]int64, 4)
	for i := range vals {
		if !dec.Available() {
			break
		}
		v, _, err := dec.DecodeNextInt64(false)
		if err != nil {
			return errors.Trace(err)
		}
		vals[i] = v
	}
	rec.BeginTS = uint64(vals[0])
	rec.ParentTxnID = uint64(vals[1])
	rec.Additive = vals[2] != 0
	rec.Isolation = IsolationLevel(vals[3])
	return nil
}

// decodeColumn sets the field that c holds on rec.
func decodeColumn(rec *Record, format columnFormat, c *storage.Cell) error {
	var err error
	var v int64
	switch format.field {
	case fieldData:
		return decodeDataInto(rec, c.Value)
	case fieldParent:
		rec.ParentTxnID, err = decodeParent(format, c.Value)
		return err
	case fieldDestTable:
		rec.DestinationTables, err = decodeDestTables(format, c.Value)
		return err
	}
	if v, err = decodeNumber(format, c.Value); err != nil {
		return err
	}
	switch format.field {
	case fieldBegin:
		rec.BeginTS = uint64(v)
	case fieldState:
		rec.State = State(v)
	case fieldCommit:
		rec.CommitTS = uint64(v)
	case fieldKeepAlive:
		rec.KeepAlive = v
	case fieldGlobalCommit:
		rec.GlobalCommitTS = uint64(v)
	}
	return nil
}

// DecodeRecord decodes a transaction table row written in either format. A current format column wins over the
// legacy column of the same field, so a legacy row updated by this store reads its newest values.
func DecodeRecord(res *storage.Result) (*Record, error) {
	id, err := TxnIDFromRowKey(res.Row)
	if err != nil {
		return nil, err
	}
	rec := &Record{TxnID: id}
	// field -> whether the decoded column was legacy
	seen := make(map[field]bool, 8)
	for i := range res.Cells {
		c := &res.Cells[i]
		format := lookupColumn(c)
		if format.field == fieldInvalid {
			continue
		}
		if legacy, ok := seen[format.field]; ok && (format.legacy || !legacy) {
			continue
		}
		seen[format.field] = format.legacy
		if err := decodeColumn(rec, format, c); err != nil {
			return nil, errors.Annotatef(err, "decode %s of transaction %d", c.Qualifier, id)
		}
	}
	if _, ok := seen[fieldState]; !ok {
		return nil, errors.Errorf("transaction %d has no state", id)
	}
	if rec.BeginTS == 0 {
		rec.BeginTS = id
	}
	return rec, nil
}
