package queue

import (
	"context"
	"sync"
)

// Barrier is a queue sentinel. Its future completes when the worker reaches
// it; while closed, the worker blocks all subsequent items until Open.
type Barrier struct {
	fut  *Future
	gate chan struct{}
	once sync.Once
}

func newBarrier(open bool) *Barrier {
	b := &Barrier{fut: newFuture(), gate: make(chan struct{})}
	if open {
		b.Open()
	}
	return b
}

// ID returns the barrier's operation identifier.
func (b *Barrier) ID() string {
	return b.fut.ID()
}

// Open releases the worker. Opening twice is a no-op.
func (b *Barrier) Open() {
	b.once.Do(func() {
		close(b.gate)
	})
}

// Reached is closed once the worker has drained the queue up to this barrier.
func (b *Barrier) Reached() <-chan struct{} {
	return b.fut.Done()
}

// Wait blocks until the barrier has been reached.
func (b *Barrier) Wait(ctx context.Context) error {
	_, err := b.fut.Wait(ctx)
	return err
}

// BarrierGroup opens several barriers atomically and signals completion when
// all of them have been reached.
type BarrierGroup struct {
	barriers []*Barrier
}

// NewBarrierGroup groups the given barriers; they may belong to different
// queues.
func NewBarrierGroup(barriers ...*Barrier) *BarrierGroup {
	return &BarrierGroup{barriers: barriers}
}

// Open releases every barrier in the group.
func (g *BarrierGroup) Open() {
	for _, b := range g.barriers {
		b.Open()
	}
}

// Wait blocks until every barrier in the group has been reached.
func (g *BarrierGroup) Wait(ctx context.Context) error {
	for _, b := range g.barriers {
		if err := b.Wait(ctx); err != nil {
			return err
		}
	}
	return nil
}
