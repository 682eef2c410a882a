package txn

import (
	"context"
	"sync"
	"time"

	"github.com/ngaut/log"
	"github.com/pingcap-incubator/tinysi/kv/util/worker"
	"github.com/pingcap/errors"
)

type registerTask struct{ txnID uint64 }

type unregisterTask struct{ txnID uint64 }

type tickTask struct{}

type countTask struct{ reply chan int }

// KeepAliveScheduler refreshes the keep-alive of registered transactions until they finish.
type KeepAliveScheduler struct {
	store    *Store
	interval time.Duration

	wg     sync.WaitGroup
	worker *worker.Worker
	ticker *worker.Ticker

	// txns is only touched by the worker goroutine.
	txns map[uint64]struct{}
}

func NewKeepAliveScheduler(store *Store, interval time.Duration) *KeepAliveScheduler {
	s := &KeepAliveScheduler{
		store:    store,
		interval: interval,
		txns:     make(map[uint64]struct{}),
	}
	s.worker = worker.NewWorker("keep-alive", &s.wg, 0)
	return s
}

func (s *KeepAliveScheduler) Start() {
	s.worker.Start(worker.HandlerFunc(s.handle))
	s.ticker = worker.NewTicker(s.worker, s.interval, func() worker.Task { return tickTask{} })
}

func (s *KeepAliveScheduler) Register(txnID uint64) {
	s.worker.Sender() <- registerTask{txnID: txnID}
}

func (s *KeepAliveScheduler) Unregister(txnID uint64) {
	s.worker.Sender() <- unregisterTask{txnID: txnID}
}

// Len returns the number of transactions kept alive.
func (s *KeepAliveScheduler) Len() int {
	reply := make(chan int, 1)
	s.worker.Sender() <- countTask{reply: reply}
	return <-reply
}

func (s *KeepAliveScheduler) Stop() {
	s.ticker.Stop()
	s.worker.Stop()
	s.wg.Wait()
}

func (s *KeepAliveScheduler) handle(t worker.Task) {
	switch task := t.(type) {
	case registerTask:
		s.txns[task.txnID] = struct{}{}
	case unregisterTask:
		delete(s.txns, task.txnID)
	case countTask:
		task.reply <- len(s.txns)
	case tickTask:
		s.keepAliveAll()
	}
}

func (s *KeepAliveScheduler) keepAliveAll() {
	ctx, cancel := context.WithTimeout(context.Background(), s.interval)
	defer cancel()
	for id := range s.txns {
		err := s.store.KeepAlive(ctx, id)
		if err == nil {
			continue
		}
		switch errors.Cause(err).(type) {
		case *ErrTxnNotActive:
			delete(s.txns, id)
			continue
		}
		if cause := errors.Cause(err); cause == ErrTxnTimedOut || cause == ErrTxnNotFound {
			log.Warnf("stop keeping txn %d alive: %v", id, err)
			delete(s.txns, id)
			continue
		}
		log.Warnf("keep txn %d alive failed: %v", id, err)
	}
}
