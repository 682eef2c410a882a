package latches

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestAcquireLatches(t *testing.T) {
	l := NewLatches()

	// Acquiring a new latch is ok.
	ch := l.AcquireLatches([][]byte{{}, {3}, {3, 0, 42}})
	assert.Nil(t, ch)

	// Can only acquire once.
	ch = l.AcquireLatches([][]byte{{}})
	assert.NotNil(t, ch)
	ch = l.AcquireLatches([][]byte{{3, 0, 42}})
	assert.NotNil(t, ch)

	// Release then acquire is ok.
	l.ReleaseLatches([][]byte{{3}, {3, 0, 43}})
	ch = l.AcquireLatches([][]byte{{3}})
	assert.Nil(t, ch)
	ch = l.AcquireLatches([][]byte{{3, 0, 42}})
	assert.NotNil(t, ch)
}

func TestWaitForLatches(t *testing.T) {
	l := NewLatches()
	keys := [][]byte{[]byte("row")}
	assert.Nil(t, l.WaitForLatches(context.Background(), keys))

	done := make(chan error, 1)
	go func() {
		done <- l.WaitForLatches(context.Background(), keys)
	}()
	select {
	case <-done:
		t.Fatal("latch acquired twice")
	case <-time.After(20 * time.Millisecond):
	}
	l.ReleaseLatches(keys)
	assert.Nil(t, <-done)
	assert.Equal(t, 1, l.Len())
}

func TestWaitForLatchesCancelled(t *testing.T) {
	l := NewLatches()
	keys := [][]byte{[]byte("row")}
	assert.Nil(t, l.WaitForLatches(context.Background(), keys))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.Equal(t, context.DeadlineExceeded, l.WaitForLatches(ctx, keys))
}
