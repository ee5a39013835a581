// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

// Package buffer implements the reference counted buffers handed between
// the feeders, the decode engine and the picture manager.
package buffer

import (
	"sync"
	"sync/atomic"

	"storj.io/common/sync2/race2"
)

// Buffer is a reference counted byte slice carrying typed metadata. New
// buffers start with a reference count of 1, owned by the creator.
type Buffer struct {
	data      []byte
	refCount  atomic.Int32
	onRelease func(*Buffer)

	mu    sync.Mutex
	metas map[MetaType]Meta
}

// New wraps data into a buffer. onRelease, if not nil, is called once the
// last reference is dropped.
func New(data []byte, onRelease func(*Buffer)) *Buffer {
	b := &Buffer{
		data:      data,
		onRelease: onRelease,
		metas:     make(map[MetaType]Meta),
	}
	b.refCount.Store(1)
	return b
}

// Alloc returns a buffer backed by size zeroed bytes.
func Alloc(size int, onRelease func(*Buffer)) *Buffer {
	return New(make([]byte, size), onRelease)
}

// Data returns the underlying memory.
func (b *Buffer) Data() []byte { return b.data }

// Size returns the length of the underlying memory.
func (b *Buffer) Size() int { return len(b.data) }

// RefCount returns the current number of references.
func (b *Buffer) RefCount() int32 { return b.refCount.Load() }

// Ref adds a reference. Taking a reference on a released buffer panics.
func (b *Buffer) Ref() {
	if b.refCount.Add(1) <= 1 {
		panic("ref of released buffer")
	}
}

// Unref drops a reference, calling the release callback when it was the
// last one.
func (b *Buffer) Unref() {
	res := b.refCount.Add(-1)
	if res <= 0 {
		if res < 0 {
			panic("extra release")
		}
		if b.onRelease != nil {
			b.onRelease(b)
		}
	}
}

// Clean zeroes the underlying memory.
func (b *Buffer) Clean() {
	race2.WriteSlice(b.data)
	clear(b.data)
}

// AddMeta attaches m. It returns false if a metadata of the same type is
// already attached.
func (b *Buffer) AddMeta(m Meta) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.metas[m.MetaType()]; ok {
		return false
	}
	b.metas[m.MetaType()] = m
	return true
}

// Meta returns the attached metadata of type t, or nil.
func (b *Buffer) Meta(t MetaType) Meta {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.metas[t]
}

// RemoveMeta detaches the metadata of type t.
func (b *Buffer) RemoveMeta(t MetaType) {
	b.mu.Lock()
	defer b.mu.Unlock()

	delete(b.metas, t)
}

// Circ returns the circular metadata attached to the buffer, or nil.
func (b *Buffer) Circ() *CircMeta {
	m, _ := b.Meta(MetaCircular).(*CircMeta)
	return m
}

// Sei returns the SEI metadata attached to the buffer, or nil.
func (b *Buffer) Sei() *SeiMeta {
	m, _ := b.Meta(MetaSei).(*SeiMeta)
	return m
}

// PixMap returns the picture metadata attached to the buffer, or nil.
func (b *Buffer) PixMap() *PixMapMeta {
	m, _ := b.Meta(MetaPixMap).(*PixMapMeta)
	return m
}
