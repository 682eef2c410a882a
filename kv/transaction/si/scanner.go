package si

import (
	"context"

	"github.com/pingcap-incubator/tinysi/kv/storage"
	"github.com/pingcap-incubator/tinysi/kv/transaction/txn"
	"github.com/pingcap-incubator/tinysi/kv/util/rowcodec"
	"github.com/pingcap/errors"
)

// TableLayout tells a scanner how the rows of a table are stored.
type TableLayout struct {
	Keys    rowcodec.KeyStrategy
	KeySpec *rowcodec.KeySpec
	// ColIDs are the packed column ids, by row position.
	ColIDs []int64
	Kinds  []rowcodec.Kind
}

// Row is one decoded table row.
type Row struct {
	Key   []byte
	Datum []rowcodec.Datum
}

// TableScanner reads the rows of one partition as seen by a transaction.
type TableScanner struct {
	scanner storage.Scanner
	layout  *TableLayout
	decoder *rowcodec.Decoder
	metrics *storage.ScanMetrics
}

// NewTableScanner opens a snapshot scan of [start, stop) of part for reader. metrics may be nil.
func NewTableScanner(ctx context.Context, part storage.Partition, reader txn.TxnView, supplier txn.Supplier,
	resolver *ReadResolver, layout *TableLayout, start, stop []byte, metrics *storage.ScanMetrics) (*TableScanner, error) {
	if metrics == nil {
		metrics = new(storage.ScanMetrics)
	}
	scan := &storage.Scan{
		StartRow: start,
		StopRow:  stop,
		Filter:   NewTxnFilter(ctx, reader, supplier, resolver),
	}
	scanner, err := part.OpenScannerWithMetrics(scan, metrics)
	if err != nil {
		return nil, err
	}
	return &TableScanner{
		scanner: scanner,
		layout:  layout,
		decoder: rowcodec.NewDecoder(layout.ColIDs),
		metrics: metrics,
	}, nil
}

// Next returns the next visible row, or nil when the scan is done.
func (s *TableScanner) Next() (*Row, error) {
	for {
		res, err := s.scanner.Next()
		if err != nil || res == nil {
			return nil, err
		}
		c := res.Latest(storage.DefaultFamily, storage.PackedQualifier)
		if c == nil {
			s.metrics.RowsFiltered.Inc()
			continue
		}
		datums, err := s.decoder.Decode(c.Value, nil)
		if err != nil {
			return nil, errors.Annotatef(err, "decode row %q", res.Row)
		}
		if s.layout.Keys != nil && s.layout.KeySpec != nil {
			if err := rowcodec.DecodeRowKey(s.layout.Keys, res.Row, datums, s.layout.Kinds, s.layout.KeySpec); err != nil {
				return nil, err
			}
		}
		return &Row{Key: res.Row, Datum: datums}, nil
	}
}

func (s *TableScanner) Metrics() *storage.ScanMetrics { return s.metrics }

func (s *TableScanner) Close() {
	s.scanner.Close()
}
