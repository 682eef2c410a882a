package pipeline

import (
	"context"
	"strconv"
	"sync"

	"github.com/ngaut/log"
	"github.com/opentracing/opentracing-go"
	"github.com/pingcap-incubator/tinysi/kv/storage"
	"github.com/pingcap-incubator/tinysi/kv/transaction/si"
	"github.com/pingcap-incubator/tinysi/kv/transaction/txn"
	"github.com/pingcap/errors"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/atomic"
)

var (
	pipelineRowsCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tinysi",
			Subsystem: "pipeline",
			Name:      "rows_total",
			Help:      "Counter of rows written by the region pipelines.",
		}, []string{"table", "result"})

	bulkWriteCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tinysi",
			Subsystem: "pipeline",
			Name:      "bulk_writes_total",
			Help:      "Counter of bulk writes by result.",
		}, []string{"table", "result"})

	bulkWriteSizeHistogram = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "tinysi",
			Subsystem: "pipeline",
			Name:      "bulk_write_rows",
			Help:      "Bucketed histogram of rows in a bulk write.",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 16),
		}, []string{"table"})
)

func init() {
	prometheus.MustRegister(pipelineRowsCounter)
	prometheus.MustRegister(bulkWriteCounter)
	prometheus.MustRegister(bulkWriteSizeHistogram)
}

// PipelineMeters meters the writes of one region pipeline.
type PipelineMeters struct {
	table      string
	successful atomic.Int64
	rejected   atomic.Int64
	failed     atomic.Int64
}

func newPipelineMeters(table string) *PipelineMeters {
	return &PipelineMeters{table: table}
}

func (m *PipelineMeters) mark(results []WriteResult, global Code) {
	var ok, rejected, failed int64
	for _, r := range results {
		switch r.Code {
		case Success:
			ok++
		case NotServingRegion, RegionTooBusy, WrongRegion, Interrupted:
			rejected++
		default:
			failed++
		}
	}
	m.successful.Add(ok)
	m.rejected.Add(rejected)
	m.failed.Add(failed)
	pipelineRowsCounter.WithLabelValues(m.table, "success").Add(float64(ok))
	pipelineRowsCounter.WithLabelValues(m.table, "rejected").Add(float64(rejected))
	pipelineRowsCounter.WithLabelValues(m.table, "failed").Add(float64(failed))
	bulkWriteCounter.WithLabelValues(m.table, global.String()).Inc()
	bulkWriteSizeHistogram.WithLabelValues(m.table).Observe(float64(len(results)))
}

// Successful is the number of rows written.
func (m *PipelineMeters) Successful() int64 { return m.successful.Load() }

// Rejected is the number of rows the region could not take, to be retried elsewhere.
func (m *PipelineMeters) Rejected() int64 { return m.rejected.Load() }

// Failed is the number of rows that failed for other reasons, conflicts among them.
func (m *PipelineMeters) Failed() int64 { return m.failed.Load() }

// BulkWrite is a batch of pairs written to one region under one transaction.
type BulkWrite struct {
	Txn   txn.TxnView
	Pairs []*si.KVPair
}

// BulkWriteResult holds one result per pair of the write, in order, and the result of the whole write.
type BulkWriteResult struct {
	Code    Code
	Results []WriteResult
}

// FailedRows returns the failed results by pair position.
func (r *BulkWriteResult) FailedRows() map[int]WriteResult {
	failed := make(map[int]WriteResult)
	for i, res := range r.Results {
		if !res.IsSuccess() {
			failed[i] = res
		}
	}
	return failed
}

func (r *BulkWriteResult) String() string {
	return r.Code.String() + " (" + strconv.Itoa(len(r.FailedRows())) + "/" + strconv.Itoa(len(r.Results)) + " failed)"
}

func terminalResult(n int, result WriteResult) *BulkWriteResult {
	res := &BulkWriteResult{Code: result.Code, Results: make([]WriteResult, n)}
	for i := range res.Results {
		res.Results[i] = result
	}
	return res
}

// PendingWrite is a bulk write whose pairs went through the handlers but were not flushed yet.
type PendingWrite struct {
	write  *BulkWrite
	wctx   *PipelineWriteContext
	result *BulkWriteResult
}

// Terminal returns the result of a write that failed before it got a context, or nil.
func (p *PendingWrite) Terminal() *BulkWriteResult { return p.result }

// RegionWritePipeline applies bulk writes to one region. Routing a write does not pin the region; only the flush is
// run inside a region operation.
type RegionWritePipeline struct {
	region  storage.Partition
	factory *WriteContextFactory
	shared  *SharedCallBufferFactory
	meters  *PipelineMeters

	mu     sync.Mutex
	closed bool
}

func NewRegionWritePipeline(region storage.Partition, factory *WriteContextFactory, shared *SharedCallBufferFactory) *RegionWritePipeline {
	return &RegionWritePipeline{
		region:  region,
		factory: factory,
		shared:  shared,
		meters:  newPipelineMeters(region.TableName()),
	}
}

func (p *RegionWritePipeline) Region() storage.Partition { return p.region }

func (p *RegionWritePipeline) Meters() *PipelineMeters { return p.meters }

// IsDependent reports whether writes through the pipeline also write to index partitions.
func (p *RegionWritePipeline) IsDependent() bool { return p.factory.HasIndexes() }

func (p *RegionWritePipeline) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// SubmitBulkWrite routes every pair of w through a new write context. A nil transaction is an error; every other
// failure is reported in the pending write.
func (p *RegionWritePipeline) SubmitBulkWrite(ctx context.Context, w *BulkWrite) (*PendingWrite, error) {
	if w == nil || w.Txn == nil {
		return nil, errors.New("bulk write without transaction")
	}
	if p.isClosed() || p.region.IsClosed() || p.region.IsClosing() {
		return &PendingWrite{write: w, result: terminalResult(len(w.Pairs), ResultOf(storage.ErrNotServingRegion))}, nil
	}
	wctx, err := p.factory.Create(ctx, w.Txn, p.region, p.shared)
	if err != nil {
		log.Debugf("create write context on %s: %v", p.region.Name(), err)
		return &PendingWrite{write: w, result: terminalResult(len(w.Pairs), ResultOf(err))}, nil
	}
	for _, pair := range w.Pairs {
		wctx.SendUpstream(pair)
	}
	return &PendingWrite{write: w, wctx: wctx}, nil
}

// FinishWrite flushes a pending write inside a region operation and returns its results.
func (p *RegionWritePipeline) FinishWrite(ctx context.Context, pw *PendingWrite) (*BulkWriteResult, error) {
	if pw.result != nil {
		p.meters.mark(pw.result.Results, pw.result.Code)
		return pw.result, nil
	}
	if span := opentracing.SpanFromContext(ctx); span != nil {
		span = opentracing.StartSpan("pipeline.FinishWrite", opentracing.ChildOf(span.Context()))
		span.SetTag("region", p.region.Name())
		span.SetTag("rows", len(pw.write.Pairs))
		defer span.Finish()
		ctx = opentracing.ContextWithSpan(ctx, span)
	}
	if err := p.region.StartOperation(ctx); err != nil {
		// nothing buffered may be written outside a region operation
		pw.wctx.FailAll(ResultOf(err))
		return p.finish(pw)
	}
	defer p.region.CloseOperation()
	return p.finish(pw)
}

func (p *RegionWritePipeline) finish(pw *PendingWrite) (*BulkWriteResult, error) {
	outcomes, err := pw.wctx.Close()
	if err != nil {
		return nil, err
	}
	res := &BulkWriteResult{Code: Success, Results: make([]WriteResult, len(pw.write.Pairs))}
	failed := 0
	for i, pair := range pw.write.Pairs {
		r, ok := outcomes[pair]
		if !ok {
			r = WriteResult{Code: NotRun}
		}
		res.Results[i] = r
		if !r.IsSuccess() {
			failed++
		}
	}
	if failed > 0 {
		res.Code = Partial
	}
	p.meters.mark(res.Results, res.Code)
	return res, nil
}

// Write submits and finishes w.
func (p *RegionWritePipeline) Write(ctx context.Context, w *BulkWrite) (*BulkWriteResult, error) {
	pw, err := p.SubmitBulkWrite(ctx, w)
	if err != nil {
		return nil, err
	}
	return p.FinishWrite(ctx, pw)
}

// Close stops accepting writes. Writes already submitted can still finish.
func (p *RegionWritePipeline) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
}
