package queue

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

const (
	statePending = iota
	stateRunning
	stateCompleted
	stateCanceled
)

// Future is the completion handle of one enqueued operation.
type Future struct {
	id    string
	mu    sync.Mutex
	state int
	value interface{}
	err   error
	done  chan struct{}
}

func newFuture() *Future {
	return &Future{id: uuid.NewString(), done: make(chan struct{})}
}

// Failed returns a future already completed with err.
func Failed(err error) *Future {
	f := newFuture()
	f.complete(nil, err)
	return f
}

// ID returns the operation's unique identifier.
func (f *Future) ID() string {
	return f.id
}

// Done is closed once the operation completed, failed or was canceled.
func (f *Future) Done() <-chan struct{} {
	return f.done
}

// Wait blocks until completion or context cancellation and returns the
// operation's result.
func (f *Future) Wait(ctx context.Context) (interface{}, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-f.done:
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.value, f.err
}

// Cancel removes the operation's effect if it has not started executing. It
// reports whether cancellation won; a canceled operation completes with
// ErrCanceled and produces no side effect.
func (f *Future) Cancel() bool {
	f.mu.Lock()
	if f.state != statePending {
		f.mu.Unlock()
		return false
	}
	f.state = stateCanceled
	f.err = ErrCanceled
	f.mu.Unlock()
	close(f.done)
	return true
}

// tryStart transitions pending -> running; it loses against Cancel.
func (f *Future) tryStart() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state != statePending {
		return false
	}
	f.state = stateRunning
	return true
}

func (f *Future) complete(value interface{}, err error) {
	f.mu.Lock()
	if f.state == stateCompleted || f.state == stateCanceled {
		f.mu.Unlock()
		return
	}
	f.state = stateCompleted
	f.value = value
	f.err = err
	f.mu.Unlock()
	close(f.done)
}
