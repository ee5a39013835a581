// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

package pictmngr

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"
)

// mvPool tracks the motion vector buffers by id. Every free id is counted by
// the semaphore.
type mvPool struct {
	available *semaphore.Weighted
	alive     context.Context
	kill      context.CancelFunc

	mu     sync.Mutex
	access []int
	free   []int
}

func newMVPool(capacity int) (*mvPool, error) {
	if capacity < 1 {
		return nil, Error.New("invalid motion vector pool size %d", capacity)
	}

	alive, kill := context.WithCancel(context.Background())
	p := &mvPool{
		available: semaphore.NewWeighted(int64(capacity)),
		alive:     alive,
		kill:      kill,
		access:    make([]int, capacity),
		free:      make([]int, 0, capacity),
	}
	for id := range capacity {
		p.free = append(p.free, id)
	}
	return p, nil
}

// getFreeBufID waits for a free motion vector buffer and returns its id with
// an access count of 1.
func (p *mvPool) getFreeBufID(ctx context.Context) (_ int, err error) {
	defer mon.Task()(&ctx)(&err)

	if p.alive.Err() != nil {
		return UndefID, ErrDecommitted.New("motion vector pool")
	}
	if !p.available.TryAcquire(1) {
		ctx, cancel := context.WithCancel(ctx)
		defer cancel()
		stop := context.AfterFunc(p.alive, cancel)
		defer stop()

		if err := p.available.Acquire(ctx, 1); err != nil {
			if p.alive.Err() != nil {
				return UndefID, ErrDecommitted.New("motion vector pool")
			}
			return UndefID, Error.Wrap(err)
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	id := p.free[0]
	p.free = append(p.free[:0], p.free[1:]...)
	p.access[id] = 1
	return id, nil
}

func (p *mvPool) increment(id int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.access[id] <= 0 {
		panic("reference of a motion vector buffer not in use")
	}
	p.access[id]++
}

func (p *mvPool) decrement(id int) {
	p.mu.Lock()
	if p.access[id] <= 0 {
		p.mu.Unlock()
		panic("extra release")
	}
	p.access[id]--
	freed := p.access[id] == 0
	if freed {
		p.free = append(p.free, id)
	}
	p.mu.Unlock()

	if freed {
		p.available.Release(1)
	}
}

func (p *mvPool) decommit() { p.kill() }

func (p *mvPool) numFree() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	return len(p.free)
}
