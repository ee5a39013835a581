// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

package feeder

import (
	"storj.io/vcu/private/buffer"
	"storj.io/vcu/private/fifo"
	"storj.io/vcu/private/patchworker"
)

// UnsplitBufferFeeder accepts arbitrary chunks of a continuous elementary
// stream. Chunks are copied into a circular stream buffer in which the
// engine finds the unit boundaries itself.
type UnsplitBufferFeeder struct {
	input   *fifo.Fifo[*buffer.Buffer]
	stream  *buffer.Buffer
	decoder *DecoderFeeder
}

var _ Feeder = (*UnsplitBufferFeeder)(nil)

// NewUnsplit returns a feeder driving engine from a circular stream buffer.
func NewUnsplit(engine Engine, config Config) (*UnsplitBufferFeeder, error) {
	config.setup()

	input, err := fifo.New[*buffer.Buffer](config.InputFifoCapacity)
	if err != nil {
		return nil, Error.Wrap(err)
	}

	stream := buffer.Alloc(config.StreamBufferSize.Int(), nil)
	pw, err := patchworker.New(input, stream, config.StreamMargin)
	if err != nil {
		return nil, Error.Wrap(err)
	}

	return &UnsplitBufferFeeder{
		input:   input,
		stream:  stream,
		decoder: NewDecoderFeeder(config.Log.Named("feeder"), engine, pw, config.Recovery),
	}, nil
}

// PushBuffer implements Feeder.
func (f *UnsplitBufferFeeder) PushBuffer(buf *buffer.Buffer, size int, isLast bool) bool {
	if size < 0 || size > buf.Size() {
		return false
	}
	if !attachCirc(buf, size, isLast) {
		return false
	}

	buf.Ref()
	if !f.input.Queue(buf, fifo.Forever) {
		buf.Unref()
		return false
	}
	mon.IntVal("input_fifo_len").Observe(int64(f.input.Len()))

	f.decoder.Process()
	return true
}

// Signal implements Feeder.
func (f *UnsplitBufferFeeder) Signal() { f.decoder.Process() }

// Flush implements Feeder.
func (f *UnsplitBufferFeeder) Flush() { f.decoder.Flush() }

// Reset implements Feeder.
func (f *UnsplitBufferFeeder) Reset() { f.decoder.Reset() }

// FreeBuf implements Feeder. Pushed buffers are released as soon as they
// are copied into the stream buffer, so there is nothing to hand back.
func (f *UnsplitBufferFeeder) FreeBuf(buf *buffer.Buffer) {}

// Destroy implements Feeder.
func (f *UnsplitBufferFeeder) Destroy() {
	f.input.Decommit()
	f.decoder.Destroy()
	f.decoder.Reset()
}

// Err implements Feeder.
func (f *UnsplitBufferFeeder) Err() error { return f.decoder.Err() }

// Stream returns the circular stream buffer read by the engine.
func (f *UnsplitBufferFeeder) Stream() *buffer.Buffer { return f.stream }
