// Package queue serializes every mutating tangle operation through a single
// lazily-spawned worker goroutine. Operations are executed strictly in
// enqueue order; each enqueue returns a Future that completes after the
// operation's side effects are visible.
package queue

import (
	"io"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// DefaultIdleTimeout is how long the worker lingers on an empty queue before
// flushing caches and exiting. New work respawns it.
const DefaultIdleTimeout = 30 * time.Second

// Operation is one unit of work executed on the worker.
type Operation func() (interface{}, error)

// Options configures a Queue.
type Options struct {
	// IdleTimeout overrides DefaultIdleTimeout.
	IdleTimeout time.Duration
	// OnIdle runs on the worker right after it decided to exit; used to
	// flush caches.
	OnIdle func()
	// Logger receives worker lifecycle events; nil disables logging.
	Logger *logrus.Logger
}

type item struct {
	fut     *Future
	run     Operation
	barrier *Barrier
}

// Queue is a single-consumer FIFO of operations with barriers and futures.
// Any goroutine may enqueue.
type Queue struct {
	mu       sync.Mutex
	items    []*item
	wake     chan struct{}
	disposed chan struct{}
	down     bool
	running  bool
	workers  sync.WaitGroup
	idle     time.Duration
	onIdle   func()
	log      *logrus.Logger
}

// New returns an idle queue; the worker is spawned on first enqueue.
func New(opts Options) *Queue {
	if opts.IdleTimeout <= 0 {
		opts.IdleTimeout = DefaultIdleTimeout
	}
	log := opts.Logger
	if log == nil {
		log = logrus.New()
		log.SetOutput(io.Discard)
	}
	return &Queue{
		wake:     make(chan struct{}, 1),
		disposed: make(chan struct{}),
		idle:     opts.IdleTimeout,
		onIdle:   opts.OnIdle,
		log:      log,
	}
}

// Enqueue appends an operation and wakes or spawns the worker.
func (q *Queue) Enqueue(op Operation) *Future {
	fut := newFuture()
	q.push(&item{fut: fut, run: op})
	return fut
}

// Barrier enqueues a barrier sentinel. Its future completes when the worker
// reaches it; a closed barrier then blocks every subsequent operation until
// Open is called.
func (q *Queue) Barrier(open bool) *Barrier {
	b := newBarrier(open)
	q.push(&item{fut: b.fut, barrier: b})
	return b
}

// Pending returns the number of not-yet-dispatched items.
func (q *Queue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Dispose fails every pending operation with ErrDisposed and shuts the worker
// down, waiting for an in-flight operation to finish. Must not be called from
// the worker itself.
func (q *Queue) Dispose() {
	q.mu.Lock()
	if q.down {
		q.mu.Unlock()
		return
	}
	q.down = true
	pending := q.items
	q.items = nil
	q.mu.Unlock()
	close(q.disposed)
	for _, it := range pending {
		it.fut.complete(nil, ErrDisposed)
	}
	q.wakeWorker()
	q.workers.Wait()
}

func (q *Queue) push(it *item) {
	q.mu.Lock()
	if q.down {
		q.mu.Unlock()
		it.fut.complete(nil, ErrDisposed)
		return
	}
	q.items = append(q.items, it)
	spawn := !q.running
	if spawn {
		q.running = true
	}
	q.mu.Unlock()
	if spawn {
		q.log.WithField("op", it.fut.ID()).Debug("queue worker spawned")
		q.workers.Add(1)
		go q.work()
	} else {
		q.wakeWorker()
	}
}

func (q *Queue) wakeWorker() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

func (q *Queue) next() *item {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return nil
	}
	it := q.items[0]
	q.items = q.items[1:]
	return it
}

// work is the single worker loop: dequeue until empty, then wait on the
// wakeup with the idle timeout; on timeout, flush and exit.
func (q *Queue) work() {
	defer q.workers.Done()
	for {
		it := q.next()
		if it == nil {
			select {
			case <-q.disposed:
				return
			case <-q.wake:
				continue
			case <-time.After(q.idle):
				q.mu.Lock()
				if len(q.items) > 0 {
					q.mu.Unlock()
					continue
				}
				q.running = false
				q.mu.Unlock()
				if q.onIdle != nil {
					q.onIdle()
				}
				q.log.Debug("queue worker idle, exiting")
				return
			}
		}
		q.dispatch(it)
	}
}

func (q *Queue) dispatch(it *item) {
	if it.barrier != nil {
		// reached: complete, then hold the line while closed
		it.fut.complete(nil, nil)
		select {
		case <-it.barrier.gate:
		case <-q.disposed:
		}
		return
	}
	if !it.fut.tryStart() {
		return // canceled before execution; no side effect
	}
	value, err := it.run()
	if err != nil {
		q.log.WithField("op", it.fut.ID()).WithError(err).Debug("operation failed")
	}
	it.fut.complete(value, err)
}
