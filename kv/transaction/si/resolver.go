package si

import (
	"context"
	"sync"

	"github.com/ngaut/log"
	"github.com/pingcap-incubator/tinysi/kv/storage"
	"github.com/pingcap-incubator/tinysi/kv/transaction/txn"
	"github.com/pingcap-incubator/tinysi/kv/util/worker"
	"github.com/prometheus/client_golang/prometheus"
)

var readResolutionCounter = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "tinysi",
		Subsystem: "si",
		Name:      "read_resolutions_total",
		Help:      "Counter of read resolutions by outcome.",
	}, []string{"type"})

func init() {
	prometheus.MustRegister(readResolutionCounter)
}

type resolveTask struct {
	row   string
	txnID uint64
}

const resolveCacheSize = 1024

// resolveCache remembers the cells already queued for resolution, so a hot row is not resolved by every reader.
type resolveCache struct {
	mu     sync.Mutex
	oldMap map[resolveTask]struct{}
	newMap map[resolveTask]struct{}
}

func newResolveCache() *resolveCache {
	return &resolveCache{
		oldMap: make(map[resolveTask]struct{}),
		newMap: make(map[resolveTask]struct{}),
	}
}

// check adds task and reports whether it was already there.
func (rc *resolveCache) check(task resolveTask) bool {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	if _, ok := rc.newMap[task]; ok {
		return true
	}
	if _, ok := rc.oldMap[task]; ok {
		return true
	}
	rc.newMap[task] = struct{}{}
	if len(rc.newMap) == resolveCacheSize {
		rc.oldMap = rc.newMap
		rc.newMap = make(map[resolveTask]struct{})
	}
	return false
}

func (rc *resolveCache) clear(task resolveTask) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	delete(rc.newMap, task)
	delete(rc.oldMap, task)
}

type resolveRequest struct {
	task   resolveTask
	writer *txn.Txn
}

// ReadResolver rolls the cells of finished transactions forward in the background. Cells of committed writers get a
// commit marker holding the effective commit timestamp; cells of rolled back writers are deleted.
type ReadResolver struct {
	part  storage.Partition
	cache *resolveCache

	wg     sync.WaitGroup
	worker *worker.Worker
}

func NewReadResolver(part storage.Partition, queueSize int) *ReadResolver {
	r := &ReadResolver{
		part:  part,
		cache: newResolveCache(),
	}
	r.worker = worker.NewWorker("read-resolver", &r.wg, queueSize)
	return r
}

func (r *ReadResolver) Start() {
	r.worker.Start(worker.HandlerFunc(r.handle))
}

// Stop waits for queued resolutions to finish.
func (r *ReadResolver) Stop() {
	r.worker.Stop()
	r.wg.Wait()
}

// Resolve queues the cells of writer in row for resolution when writer finished. It never blocks.
func (r *ReadResolver) Resolve(row []byte, writer *txn.Txn) {
	state := writer.EffectiveState()
	if !state.IsFinal() {
		return
	}
	task := resolveTask{row: string(row), txnID: writer.TxnID()}
	if r.cache.check(task) {
		return
	}
	if !r.worker.TrySend(resolveRequest{task: task, writer: writer}) {
		r.cache.clear(task)
		readResolutionCounter.WithLabelValues("dropped").Inc()
	}
}

func (r *ReadResolver) handle(t worker.Task) {
	req, ok := t.(resolveRequest)
	if !ok {
		return
	}
	if err := r.resolve(req); err != nil {
		log.Warnf("resolve txn %d on row %q failed: %v", req.task.txnID, req.task.row, err)
		r.cache.clear(req.task)
		readResolutionCounter.WithLabelValues("failed").Inc()
	}
}

func (r *ReadResolver) resolve(req resolveRequest) error {
	if err := r.part.StartOperation(context.Background()); err != nil {
		return err
	}
	defer r.part.CloseOperation()
	row := []byte(req.task.row)
	id := req.writer.TxnID()
	if req.writer.EffectiveState() == txn.StateCommitted {
		marker := storage.Cell{
			Family:    storage.DefaultFamily,
			Qualifier: storage.CommitTimestampQualifier,
			Timestamp: id,
			Value:     encodeCommitTS(req.writer.EffectiveCommitTS()),
		}
		if err := r.part.Put(row, []storage.Cell{marker}); err != nil {
			return err
		}
		readResolutionCounter.WithLabelValues("committed").Inc()
		return nil
	}
	res, err := r.part.Get(row, nil)
	if err != nil {
		return err
	}
	var deletes []storage.Cell
	for _, c := range res.Cells {
		if c.Timestamp == id {
			deletes = append(deletes, c)
		}
	}
	if len(deletes) == 0 {
		return nil
	}
	if err := r.part.Delete(row, deletes); err != nil {
		return err
	}
	readResolutionCounter.WithLabelValues("rolledback").Inc()
	return nil
}
