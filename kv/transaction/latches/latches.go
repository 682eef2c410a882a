package latches

import (
	"context"
	"sync"
	"time"

	"github.com/ngaut/log"
)

// Latching provides mutual exclusion between writers of the same rows. It should not be confused with transactions:
// a transaction may span many writes, a latch only covers the rows one write is applying so that two concurrent
// writes cannot interleave their conflict checks and cell writes on the same row.
//
// A latch is a per-row lock. There is only one latch per row key, not one per column or per version. Only one goroutine
// can hold a latch at a time and all rows that a write might touch must be locked at once.
//
// Latching is implemented using a single map which maps keys to a channel that is closed on release. Access to this
// map is guarded by a mutex to ensure that latching is atomic and consistent.

// slowLatchWait is how long a wait may take before it is logged.
const slowLatchWait = 50 * time.Millisecond

type Latches struct {
	// Before modifying any cell of a row, the goroutine must have the latch for that row. `Latches` maps each latched
	// key to a channel. Goroutines who find a key locked should wait for that channel to be closed.
	latchMap map[string]chan struct{}
	// Mutex to guard latchMap. A goroutine must hold this mutex while it makes any change to latchMap.
	latchGuard sync.Mutex
	// An optional validation function, only used for testing.
	Validation func(keys [][]byte)
}

// NewLatches creates a new Latches object for managing the latches of one partition.
func NewLatches() *Latches {
	l := new(Latches)
	l.latchMap = make(map[string]chan struct{})
	return l
}

// AcquireLatches tries lock all Latches specified by keys. If this succeeds, nil is returned. If any of the keys are
// locked, then AcquireLatches returns a channel which is closed when that lock is free.
func (l *Latches) AcquireLatches(keysToLatch [][]byte) <-chan struct{} {
	l.latchGuard.Lock()
	defer l.latchGuard.Unlock()

	// Check none of the keys we want to write are locked.
	for _, key := range keysToLatch {
		if ch, ok := l.latchMap[string(key)]; ok {
			return ch
		}
	}

	// All Latches are available, lock them all with a new channel.
	ch := make(chan struct{})
	for _, key := range keysToLatch {
		l.latchMap[string(key)] = ch
	}
	return nil
}

// ReleaseLatches releases the latches for all keys in keysToUnlatch. It will wakeup any goroutines blocked on one of
// the latches. All keys in keysToUnlatch must have been locked together in one call to AcquireLatches.
func (l *Latches) ReleaseLatches(keysToUnlatch [][]byte) {
	l.latchGuard.Lock()
	defer l.latchGuard.Unlock()

	first := true
	for _, key := range keysToUnlatch {
		ch, ok := l.latchMap[string(key)]
		if !ok {
			continue
		}
		if first {
			close(ch)
			first = false
		}
		delete(l.latchMap, string(key))
	}
}

// WaitForLatches attempts to lock all keys in keysToLatch using AcquireLatches. If a latch is already locked, then
// WaitForLatches will wait for it to become unlocked then try again, until ctx is done.
func (l *Latches) WaitForLatches(ctx context.Context, keysToLatch [][]byte) error {
	start := time.Now()
	for {
		ch := l.AcquireLatches(keysToLatch)
		if ch == nil {
			if dur := time.Since(start); dur > slowLatchWait {
				log.Warnf("acquire %d latches takes %v", len(keysToLatch), dur)
			}
			return nil
		}
		select {
		case <-ch:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Len returns the number of latched keys.
func (l *Latches) Len() int {
	l.latchGuard.Lock()
	defer l.latchGuard.Unlock()
	return len(l.latchMap)
}

// Validate calls the function in Validation, if it exists.
func (l *Latches) Validate(latched [][]byte) {
	if l.Validation != nil {
		l.Validation(latched)
	}
}
