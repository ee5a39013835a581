// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

package feeder

import (
	"sync"

	"go.uber.org/zap"

	"storj.io/eventkit"
	"storj.io/vcu/private/buffer"
	"storj.io/vcu/private/fifo"
)

type splitWork struct {
	buf   *buffer.Buffer
	flush bool
}

// SplitBufferFeeder accepts buffers holding exactly one unit each. Buffers
// are handed to the engine as they are; the decoded ones wait in a
// completed queue until FreeBuf hands them back.
type SplitBufferFeeder struct {
	log    *zap.Logger
	engine Engine

	work      *fifo.Fifo[splitWork]
	completed *fifo.Fifo[*buffer.Buffer]
	done      chan struct{}

	mu      sync.Mutex
	flushed bool
	err     error
}

var _ Feeder = (*SplitBufferFeeder)(nil)

// NewSplit returns a feeder handing pushed buffers directly to engine.
func NewSplit(engine Engine, config Config) (*SplitBufferFeeder, error) {
	config.setup()

	work, err := fifo.New[splitWork](config.InputFifoCapacity)
	if err != nil {
		return nil, Error.Wrap(err)
	}
	completed, err := fifo.New[*buffer.Buffer](config.InputFifoCapacity)
	if err != nil {
		return nil, Error.Wrap(err)
	}

	f := &SplitBufferFeeder{
		log:       config.Log.Named("feeder"),
		engine:    engine,
		work:      work,
		completed: completed,
		done:      make(chan struct{}),
	}
	go f.run()
	return f, nil
}

// PushBuffer implements Feeder.
func (f *SplitBufferFeeder) PushBuffer(buf *buffer.Buffer, size int, isLast bool) bool {
	if size < 0 || size > buf.Size() {
		return false
	}
	if !attachCirc(buf, size, isLast) {
		return false
	}
	if sei := buf.Sei(); sei != nil {
		sei.Reset()
	}

	buf.Ref()
	if !f.work.Queue(splitWork{buf: buf}, fifo.Forever) {
		buf.Unref()
		return false
	}
	mon.IntVal("split_fifo_len").Observe(int64(f.work.Len()))
	return true
}

// Signal implements Feeder. The worker is woken up by pushed buffers, so
// there is nothing to do.
func (f *SplitBufferFeeder) Signal() {}

// Flush implements Feeder.
func (f *SplitBufferFeeder) Flush() {
	f.work.Queue(splitWork{flush: true}, fifo.Forever)
}

// Reset implements Feeder.
func (f *SplitBufferFeeder) Reset() {
	f.work.Drain(func(w splitWork) {
		if w.buf != nil {
			w.buf.Unref()
		}
	})

	f.mu.Lock()
	f.flushed = false
	f.mu.Unlock()
}

// FreeBuf implements Feeder. It releases every completed buffer up to and
// including buf.
func (f *SplitBufferFeeder) FreeBuf(buf *buffer.Buffer) {
	for {
		completed, ok := f.completed.Dequeue(fifo.NoWait)
		if !ok {
			return
		}
		completed.Unref()
		if completed == buf {
			return
		}
	}
}

// Destroy implements Feeder. Buffers pushed before Destroy are still
// decoded, but released right away instead of waiting in the completed queue.
func (f *SplitBufferFeeder) Destroy() {
	// a worker blocked queuing onto a full completed fifo returns once it
	// is decommitted.
	f.completed.Decommit()
	f.work.Decommit()
	<-f.done

	f.Reset()
	f.completed.Drain((*buffer.Buffer).Unref)
}

// Err implements Feeder.
func (f *SplitBufferFeeder) Err() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.err
}

func (f *SplitBufferFeeder) run() {
	defer close(f.done)

	for {
		w, ok := f.work.Dequeue(fifo.Forever)
		if !ok {
			break
		}
		if w.flush {
			f.flush()
			continue
		}
		if !f.decode(w.buf) {
			return
		}
	}

	f.flush()
}

func (f *SplitBufferFeeder) decode(buf *buffer.Buffer) bool {
	meta := buf.Circ()
	result := f.engine.DecodeOneUnit(buffer.StreamView{Data: buf.Data(), CircMeta: *meta})

	switch {
	case result.Succeeded():
		f.mu.Lock()
		f.flushed = false
		f.mu.Unlock()

		if !f.completed.Queue(buf, fifo.Forever) {
			buf.Unref()
		}
	case result == ErrUnitInvalidChannel || result == ErrUnitDynamicAlloc:
		buf.Unref()
		f.fail(result)
		return false
	default:
		f.log.Debug("dropping undecodable buffer", zap.Int("size", meta.AvailSize))
		buf.Unref()
	}

	if meta.LastChunk {
		f.flush()
	}
	return true
}

func (f *SplitBufferFeeder) flush() {
	f.mu.Lock()
	flushed := f.flushed
	f.flushed = true
	f.mu.Unlock()

	if !flushed {
		f.engine.InternalFlush()
	}
}

func (f *SplitBufferFeeder) fail(result UnitResult) {
	err := ErrChannel.New("%s", result)

	// refuse further input before the error is visible.
	f.work.Decommit()

	f.mu.Lock()
	f.err = err
	f.mu.Unlock()

	mon.Event("feeder_channel_error")
	evs.Event("decoder-channel-error", eventkit.String("result", result.String()))
	f.log.Error("stopping feeder", zap.Error(err))
}
