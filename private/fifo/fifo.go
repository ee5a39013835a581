// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

// Package fifo implements a bounded blocking queue used to hand buffers
// between a single producer and a single consumer.
package fifo

import (
	"context"
	"sync"
	"time"

	"github.com/zeebo/errs"
	"golang.org/x/sync/semaphore"
)

const (
	// NoWait makes Queue and Dequeue return immediately when they cannot proceed.
	NoWait time.Duration = 0
	// Forever makes Queue and Dequeue block until they can proceed or the
	// fifo is decommitted.
	Forever time.Duration = -1
)

// Fifo is a bounded queue guarded by a pair of counting semaphores: one
// counts free slots, the other counts queued elements. Decommit unblocks
// every waiter.
type Fifo[T any] struct {
	space *semaphore.Weighted
	items *semaphore.Weighted

	mu          sync.Mutex
	slots       []T
	head        int
	tail        int
	decommitted bool
	alive       context.Context
	kill        context.CancelFunc
}

// New returns a fifo able to hold capacity elements.
func New[T any](capacity int) (*Fifo[T], error) {
	if capacity < 1 {
		return nil, errs.New("invalid fifo capacity %d", capacity)
	}

	items := semaphore.NewWeighted(int64(capacity))
	if !items.TryAcquire(int64(capacity)) {
		return nil, errs.New("unable to initialize fifo")
	}

	alive, kill := context.WithCancel(context.Background())
	return &Fifo[T]{
		space: semaphore.NewWeighted(int64(capacity)),
		items: items,
		slots: make([]T, capacity+1),
		alive: alive,
		kill:  kill,
	}, nil
}

// Capacity returns the maximum number of elements the fifo holds.
func (f *Fifo[T]) Capacity() int { return len(f.slots) - 1 }

// Len returns the number of currently queued elements.
func (f *Fifo[T]) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return (f.tail - f.head + len(f.slots)) % len(f.slots)
}

// Queue appends elem, waiting up to timeout for a free slot. It returns false
// if no slot became available in time or the fifo is decommitted.
func (f *Fifo[T]) Queue(elem T, timeout time.Duration) bool {
	if !f.acquire(f.space, timeout) {
		return false
	}

	f.mu.Lock()
	if f.decommitted {
		f.mu.Unlock()
		f.space.Release(1)
		return false
	}
	f.slots[f.tail] = elem
	f.tail = (f.tail + 1) % len(f.slots)
	f.mu.Unlock()

	f.items.Release(1)
	return true
}

// Dequeue removes the oldest element, waiting up to timeout for one to be
// queued. Once decommitted, Dequeue on an empty fifo fails immediately.
func (f *Fifo[T]) Dequeue(timeout time.Duration) (elem T, ok bool) {
	if !f.acquire(f.items, timeout) {
		return elem, false
	}

	var zero T
	f.mu.Lock()
	elem = f.slots[f.head]
	f.slots[f.head] = zero
	f.head = (f.head + 1) % len(f.slots)
	f.mu.Unlock()

	f.space.Release(1)
	return elem, true
}

// Drain dequeues every queued element without waiting, passing each to fn.
func (f *Fifo[T]) Drain(fn func(T)) {
	for {
		elem, ok := f.Dequeue(NoWait)
		if !ok {
			return
		}
		if fn != nil {
			fn(elem)
		}
	}
}

// Decommit wakes every blocked waiter. Afterwards Queue fails and Dequeue
// fails as soon as the fifo is empty. Calling it more than once is harmless.
func (f *Fifo[T]) Decommit() {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.decommitted = true
	f.kill()
}

// Commit reverses Decommit so the fifo can be reused.
func (f *Fifo[T]) Commit() {
	f.mu.Lock()
	defer f.mu.Unlock()

	if !f.decommitted {
		return
	}
	f.decommitted = false
	f.alive, f.kill = context.WithCancel(context.Background())
}

// Decommitted reports whether Decommit was called without a later Commit.
func (f *Fifo[T]) Decommitted() bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.decommitted
}

func (f *Fifo[T]) acquire(sem *semaphore.Weighted, timeout time.Duration) bool {
	if sem.TryAcquire(1) {
		return true
	}
	if timeout == NoWait {
		return false
	}

	f.mu.Lock()
	ctx := f.alive
	f.mu.Unlock()

	if ctx.Err() != nil {
		return false
	}

	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	return sem.Acquire(ctx, 1) == nil
}
