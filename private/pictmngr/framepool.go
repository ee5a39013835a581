// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

package pictmngr

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"

	"storj.io/vcu/private/buffer"
)

// frameSlot is one frame of the pool.
//
// accessCount is -1 while the buffer is out of the pool, 0 while it sits in
// the free list and positive while decoding or referencing uses it.
type frameSlot struct {
	buf            *buffer.Buffer
	next           int
	accessCount    int
	willBeOutputed bool
	mvID           int
	info           DisplayInfo
}

func (s *frameSlot) resetInfo(id int) {
	s.willBeOutputed = false
	s.mvID = UndefID
	s.info = DisplayInfo{FrameID: id}
}

// framePool hands out frame buffers in the order they were released.
type framePool struct {
	free  *semaphore.Weighted
	alive context.Context
	kill  context.CancelFunc

	mu          sync.Mutex
	slots       []frameSlot
	head        int
	tail        int
	decommitted bool
}

func newFramePool(capacity int) (*framePool, error) {
	if capacity < 1 {
		return nil, Error.New("invalid frame pool size %d", capacity)
	}

	// the free list starts empty, buffers are adopted later.
	free := semaphore.NewWeighted(int64(capacity))
	if !free.TryAcquire(int64(capacity)) {
		return nil, Error.New("unable to initialize frame pool")
	}

	alive, kill := context.WithCancel(context.Background())
	return &framePool{
		free:  free,
		alive: alive,
		kill:  kill,
		slots: make([]frameSlot, 0, capacity),
		head:  UndefID,
		tail:  UndefID,
	}, nil
}

// pushLocked appends id to the free list. The caller releases the free
// semaphore once the lock is dropped.
func (p *framePool) pushLocked(id int) {
	slot := &p.slots[id]
	slot.accessCount = 0
	slot.next = UndefID

	if p.tail == UndefID {
		p.head = id
	} else {
		p.slots[p.tail].next = id
	}
	p.tail = id
}

func (p *framePool) unlinkLocked(id int) {
	prev := UndefID
	for cur := p.head; cur != UndefID; prev, cur = cur, p.slots[cur].next {
		if cur != id {
			continue
		}
		if prev == UndefID {
			p.head = p.slots[cur].next
		} else {
			p.slots[prev].next = p.slots[cur].next
		}
		if p.tail == cur {
			p.tail = prev
		}
		p.slots[cur].next = UndefID
		return
	}
	panic("frame not in free list")
}

func (p *framePool) acquire(ctx context.Context) bool {
	if p.free.TryAcquire(1) {
		return true
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(p.alive, cancel)
	defer stop()

	return p.free.Acquire(ctx, 1) == nil
}

// pop waits for the head of the free list and returns it with an access
// count of 1. It returns UndefID when ctx is done or the pool is
// decommitted.
func (p *framePool) pop(ctx context.Context) int {
	if p.alive.Err() != nil || !p.acquire(ctx) {
		return UndefID
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.decommitted {
		p.free.Release(1)
		return UndefID
	}

	id := p.head
	if id == UndefID {
		panic("popping an empty free list")
	}
	p.head = p.slots[id].next
	if p.head == UndefID {
		p.tail = UndefID
	}

	slot := &p.slots[id]
	slot.next = UndefID
	slot.accessCount = 1
	slot.resetInfo(id)
	return id
}

// adopt adds buf to the pool, taking a reference on it. It returns the
// frame id and whether the buffer was already known.
func (p *framePool) adopt(buf *buffer.Buffer) (id int, known bool, err error) {
	p.mu.Lock()
	defer func() {
		p.mu.Unlock()
		if err == nil && !known {
			p.free.Release(1)
		}
	}()

	if id := p.lookupLocked(buf); id != UndefID {
		return id, true, nil
	}

	id = UndefID
	for i := range p.slots {
		if p.slots[i].buf == nil {
			id = i
			break
		}
	}
	if id == UndefID {
		if len(p.slots) == cap(p.slots) {
			return UndefID, false, Error.New("frame pool is full")
		}
		p.slots = append(p.slots, frameSlot{})
		id = len(p.slots) - 1
	}

	buf.Ref()
	slot := &p.slots[id]
	slot.buf = buf
	slot.resetInfo(id)
	p.pushLocked(id)
	return id, false, nil
}

func (p *framePool) lookupLocked(buf *buffer.Buffer) int {
	for i := range p.slots {
		if p.slots[i].buf == buf {
			return i
		}
	}
	return UndefID
}

func (p *framePool) lookup(buf *buffer.Buffer) int {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.lookupLocked(buf)
}

// slotLocked returns the slot of an adopted frame.
func (p *framePool) slotLocked(id int) *frameSlot {
	if id < 0 || id >= len(p.slots) || p.slots[id].buf == nil {
		panic("invalid frame id")
	}
	return &p.slots[id]
}

func (p *framePool) increment(id int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	slot := p.slotLocked(id)
	if slot.accessCount <= 0 {
		panic("reference of a frame not in use")
	}
	slot.accessCount++
}

// decrement drops a reference. At zero a frame waiting for display leaves
// the pool, any other frame goes back to the free list.
func (p *framePool) decrement(id int) {
	var unref *buffer.Buffer
	var pushed bool

	p.mu.Lock()
	slot := p.slotLocked(id)
	if slot.accessCount <= 0 {
		p.mu.Unlock()
		panic("extra release")
	}
	slot.accessCount--
	if slot.accessCount == 0 {
		if slot.willBeOutputed {
			slot.accessCount = -1
			unref = slot.buf
		} else {
			p.pushLocked(id)
			pushed = true
		}
	}
	p.mu.Unlock()

	if unref != nil {
		unref.Unref()
	}
	if pushed {
		p.free.Release(1)
	}
}

// markOutput flags the frame for display and takes the display reference on
// its buffer.
func (p *framePool) markOutput(id int) *buffer.Buffer {
	p.mu.Lock()
	defer p.mu.Unlock()

	slot := p.slotLocked(id)
	slot.willBeOutputed = true
	slot.buf.Ref()
	return slot.buf
}

// unmarkOutput drops the display reference taken by markOutput for a frame
// which could not be queued for display.
func (p *framePool) unmarkOutput(id int) {
	p.mu.Lock()
	slot := p.slotLocked(id)
	slot.willBeOutputed = false
	buf := slot.buf
	p.mu.Unlock()

	buf.Unref()
}

// giveBack takes back the display reference of a known frame.
func (p *framePool) giveBack(id int) error {
	var unref *buffer.Buffer
	var pushed bool

	p.mu.Lock()
	slot := p.slotLocked(id)
	switch {
	case slot.accessCount == 0:
		p.mu.Unlock()
		return Error.New("frame %d is already free", id)
	case slot.accessCount < 0:
		// the display reference becomes the pool reference.
		slot.willBeOutputed = false
		p.pushLocked(id)
		pushed = true
	default:
		slot.willBeOutputed = false
		unref = slot.buf
	}
	p.mu.Unlock()

	if unref != nil {
		unref.Unref()
	}
	if pushed {
		p.free.Release(1)
	}
	return nil
}

// remove forgets a frame of the free list, giving up the pool reference.
// Frames in use or pending output are refused.
func (p *framePool) remove(id int) error {
	p.mu.Lock()
	slot := p.slotLocked(id)
	buf := slot.buf

	switch {
	case slot.accessCount > 0:
		p.mu.Unlock()
		return Error.New("frame %d is in use", id)
	case slot.accessCount < 0 || slot.willBeOutputed:
		p.mu.Unlock()
		return Error.New("frame %d is pending output", id)
	}
	if !p.free.TryAcquire(1) {
		p.mu.Unlock()
		return Error.New("frame %d is being allocated", id)
	}
	p.unlinkLocked(id)
	*slot = frameSlot{next: UndefID}
	p.mu.Unlock()

	buf.Unref()
	return nil
}

// takeUnused removes the head of the free list from the pool and returns
// its buffer with the pool reference.
func (p *framePool) takeUnused() *buffer.Buffer {
	if !p.free.TryAcquire(1) {
		return nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	id := p.head
	if id == UndefID {
		panic("popping an empty free list")
	}
	p.unlinkLocked(id)
	buf := p.slots[id].buf
	p.slots[id] = frameSlot{next: UndefID}
	return buf
}

func (p *framePool) decommit() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.decommitted = true
	p.kill()
}

func (p *framePool) isDecommitted() bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.decommitted
}

func (p *framePool) stats() (stats Stats) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for i := range p.slots {
		slot := &p.slots[i]
		if slot.buf == nil {
			continue
		}
		stats.Adopted++
		switch {
		case slot.accessCount == 0:
			stats.Free++
		case slot.accessCount > 0:
			stats.InUse++
		default:
			stats.PendingOutput++
		}
	}
	return stats
}
