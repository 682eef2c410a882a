package stats

import (
	"context"
	"time"

	"github.com/ngaut/log"
	"github.com/pingcap-incubator/tinysi/kv/config"
	"github.com/pingcap-incubator/tinysi/kv/storage"
	"github.com/pingcap-incubator/tinysi/kv/transaction/si"
	"github.com/pingcap-incubator/tinysi/kv/transaction/txn"
	"github.com/pingcap/errors"
)

// PartitionStatistics are the statistics of the rows of one region visible to the collecting transaction.
type PartitionStatistics struct {
	Table     string
	Region    string
	RowCount  int64
	ByteCount int64
	Columns   []*ColumnStatistics
}

// AvgRowSize is the mean number of bytes of a row.
func (s *PartitionStatistics) AvgRowSize() float64 {
	if s.RowCount == 0 {
		return 0
	}
	return float64(s.ByteCount) / float64(s.RowCount)
}

// Column returns the statistics of colID, or nil.
func (s *PartitionStatistics) Column(colID int64) *ColumnStatistics {
	for _, c := range s.Columns {
		if c.ColID == colID {
			return c
		}
	}
	return nil
}

// Collector gathers column statistics from the rows of a table scanner. It is not safe for concurrent use.
type Collector struct {
	table   string
	region  string
	columns []*columnCollector
}

// NewCollector creates a collector for the columns of layout, in layout order.
func NewCollector(table, region string, layout *si.TableLayout, conf *config.Stats) *Collector {
	c := &Collector{table: table, region: region}
	for _, id := range layout.ColIDs {
		c.columns = append(c.columns, newColumnCollector(id, conf.TopK, conf.SampleSize))
	}
	return c
}

// Update adds one row. The row must have the columns of the layout, in order.
func (c *Collector) Update(row *si.Row) error {
	if len(row.Datum) != len(c.columns) {
		return errors.Errorf("row %q has %d columns, want %d", row.Key, len(row.Datum), len(c.columns))
	}
	for i, d := range row.Datum {
		c.columns[i].update(d)
	}
	return nil
}

// Statistics returns the collected statistics. Row and byte counts come from the scan metrics.
func (c *Collector) Statistics(metrics *storage.ScanMetrics) (*PartitionStatistics, error) {
	ps := &PartitionStatistics{
		Table:     c.table,
		Region:    c.region,
		RowCount:  metrics.RowsOutput(),
		ByteCount: metrics.BytesOutput.Load(),
	}
	for _, col := range c.columns {
		s, err := col.statistics()
		if err != nil {
			return nil, errors.Annotatef(err, "column %d", col.colID)
		}
		ps.Columns = append(ps.Columns, s)
	}
	return ps, nil
}

// Collect drains scanner into the collector and returns the statistics.
func (c *Collector) Collect(ctx context.Context, scanner *si.TableScanner) (*PartitionStatistics, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, errors.Trace(err)
		}
		row, err := scanner.Next()
		if err != nil {
			return nil, err
		}
		if row == nil {
			break
		}
		if err := c.Update(row); err != nil {
			return nil, err
		}
	}
	return c.Statistics(scanner.Metrics())
}

// CollectPartition scans the whole of part as reader and returns its statistics.
func CollectPartition(ctx context.Context, part storage.Partition, reader txn.TxnView, supplier txn.Supplier,
	layout *si.TableLayout, conf *config.Stats) (*PartitionStatistics, error) {
	start := time.Now()
	scanner, err := si.NewTableScanner(ctx, part, reader, supplier, nil, layout, part.StartKey(), part.EndKey(), nil)
	if err != nil {
		return nil, err
	}
	defer scanner.Close()
	ps, err := NewCollector(part.TableName(), part.Name(), layout, conf).Collect(ctx, scanner)
	if err != nil {
		return nil, err
	}
	log.Infof("collected statistics of %s/%s: %d rows, %d bytes in %v",
		ps.Table, ps.Region, ps.RowCount, ps.ByteCount, time.Since(start))
	return ps, nil
}
