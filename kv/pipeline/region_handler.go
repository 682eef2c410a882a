package pipeline

import (
	"github.com/ngaut/log"
	"github.com/pingcap-incubator/tinysi/kv/storage"
	"github.com/pingcap-incubator/tinysi/kv/transaction/si"
)

// RegionWriteHandler is the last handler of a chain. It writes the base pairs to the region of the context.
type RegionWriteHandler struct {
	region     storage.Partition
	transactor *si.Transactor
	maxEntries int

	buffer []*si.KVPair
}

func NewRegionWriteHandler(region storage.Partition, transactor *si.Transactor, maxEntries int) *RegionWriteHandler {
	return &RegionWriteHandler{
		region:     region,
		transactor: transactor,
		maxEntries: maxEntries,
	}
}

func (h *RegionWriteHandler) Next(pair *si.KVPair, ctx WriteContext) {
	if result, ok := admit(h.region, pair.RowKey); !ok {
		ctx.Failed(pair, result)
		return
	}
	h.buffer = append(h.buffer, pair)
	if h.maxEntries > 0 && len(h.buffer) >= h.maxEntries {
		h.flushInOperation(ctx)
	}
}

// admit reports whether region still takes row, and the result of the pair when it does not.
func admit(region storage.Partition, row []byte) (WriteResult, bool) {
	if region.IsClosed() || region.IsClosing() {
		return WriteResult{Code: NotServingRegion, Err: storage.ErrNotServingRegion}, false
	}
	if !region.ContainsRow(row) {
		return WriteResult{Code: WrongRegion, Err: &storage.ErrWrongRegion{
			Key:      row,
			StartKey: region.StartKey(),
			EndKey:   region.EndKey(),
		}}, false
	}
	return successResult, true
}

// flushInOperation flushes a full buffer while pairs are still being routed, which happens outside the region
// operation of the pipeline.
func (h *RegionWriteHandler) flushInOperation(ctx WriteContext) {
	if err := h.region.StartOperation(ctx.Context()); err != nil {
		for _, pair := range h.buffer {
			ctx.Failed(pair, ResultOf(err))
		}
		h.buffer = h.buffer[:0]
		return
	}
	defer h.region.CloseOperation()
	if err := h.Flush(ctx); err != nil {
		log.Warnf("flush region %s failed: %v", h.region.Name(), err)
	}
}

// Flush writes the buffered pairs that can still run. The caller holds a region operation.
func (h *RegionWriteHandler) Flush(ctx WriteContext) error {
	pairs := h.buffer[:0:0]
	for _, pair := range h.buffer {
		if ctx.CanRun(pair) {
			pairs = append(pairs, pair)
		}
	}
	h.buffer = h.buffer[:0]
	if len(pairs) == 0 {
		return nil
	}
	results, err := h.transactor.ProcessKvBatch(ctx.Context(), h.region, ctx.Txn(), pairs)
	if err != nil {
		for _, pair := range pairs {
			ctx.Failed(pair, ResultOf(err))
		}
		return nil
	}
	for i, pair := range pairs {
		if results[i] == nil {
			ctx.Success(pair)
			continue
		}
		ctx.Failed(pair, ResultOf(results[i]))
	}
	return nil
}

func (h *RegionWriteHandler) Close(ctx WriteContext) error {
	return h.Flush(ctx)
}
