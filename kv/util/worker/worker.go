package worker

import (
	"sync"
	"time"

	"github.com/ngaut/log"
)

type TaskStop struct{}

type Task interface{}

// Worker runs the tasks sent to it one by one on a single goroutine.
type Worker struct {
	name     string
	sender   chan<- Task
	receiver <-chan Task
	wg       *sync.WaitGroup
}

type TaskHandler interface {
	Handle(t Task)
}

// HandlerFunc lets a plain function handle tasks.
type HandlerFunc func(t Task)

func (f HandlerFunc) Handle(t Task) { f(t) }

type Starter interface {
	Start()
}

func (w *Worker) Start(handler TaskHandler) {
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		if s, ok := handler.(Starter); ok {
			s.Start()
		}
		for {
			task := <-w.receiver
			if _, ok := task.(TaskStop); ok {
				log.Debugf("worker %s stopped", w.name)
				return
			}
			handler.Handle(task)
		}
	}()
}

func (w *Worker) Sender() chan<- Task {
	return w.sender
}

// TrySend queues t without blocking and reports whether it was queued.
func (w *Worker) TrySend(t Task) bool {
	select {
	case w.sender <- t:
		return true
	default:
		return false
	}
}

func (w *Worker) Stop() {
	w.sender <- TaskStop{}
}

const defaultWorkerCapacity = 128

// NewWorker creates a worker whose queue holds capacity tasks, or a default number when capacity is not positive.
func NewWorker(name string, wg *sync.WaitGroup, capacity int) *Worker {
	if capacity <= 0 {
		capacity = defaultWorkerCapacity
	}
	ch := make(chan Task, capacity)
	return &Worker{
		sender:   (chan<- Task)(ch),
		receiver: (<-chan Task)(ch),
		name:     name,
		wg:       wg,
	}
}

// Ticker sends a task to a worker at every interval until it is stopped.
type Ticker struct {
	stop chan struct{}
	once sync.Once
}

func NewTicker(w *Worker, interval time.Duration, newTask func() Task) *Ticker {
	t := &Ticker{stop: make(chan struct{})}
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if !w.TrySend(newTask()) {
					log.Warnf("worker %s is busy, skip tick", w.name)
				}
			case <-t.stop:
				return
			}
		}
	}()
	return t
}

func (t *Ticker) Stop() {
	t.once.Do(func() { close(t.stop) })
}
