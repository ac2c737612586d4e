package companion

import (
	"sync"
	"time"
)

// MainQueue runs functions one at a time on a single goroutine. All
// companion state is owned by that goroutine.
type MainQueue struct {
	tasks    chan func()
	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

// NewMainQueue creates a queue. Nothing runs until Run is called.
func NewMainQueue() *MainQueue {
	return &MainQueue{
		tasks: make(chan func(), 256),
		stop:  make(chan struct{}),
		done:  make(chan struct{}),
	}
}

// Run executes queued functions until Stop.
func (q *MainQueue) Run() {
	defer close(q.done)
	for {
		select {
		case <-q.stop:
			return
		case fn := <-q.tasks:
			fn()
		}
	}
}

// Async queues fn. It reports false when the queue has been stopped.
// Must not be called from the queue itself while the buffer is full.
func (q *MainQueue) Async(fn func()) bool {
	select {
	case <-q.stop:
		return false
	default:
	}
	select {
	case <-q.stop:
		return false
	case q.tasks <- fn:
		return true
	}
}

// AsyncAfter queues fn once d has elapsed.
func (q *MainQueue) AsyncAfter(d time.Duration, fn func()) {
	time.AfterFunc(d, func() { q.Async(fn) })
}

// Stop ends Run after the current function returns. Queued functions that
// have not started are dropped.
func (q *MainQueue) Stop() {
	q.stopOnce.Do(func() { close(q.stop) })
}

// Done is closed when Run returns.
func (q *MainQueue) Done() <-chan struct{} {
	return q.done
}
