// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

package feeder

import (
	"fmt"

	"storj.io/vcu/private/buffer"
)

// UnitResult is the outcome of Engine.DecodeOneUnit.
type UnitResult int

const (
	// SuccessAccessUnit means a unit completing an access unit was decoded.
	SuccessAccessUnit UnitResult = iota
	// SuccessNALUnit means a unit was decoded but the access unit goes on.
	SuccessNALUnit
	// ErrUnitNotFound means the view does not hold a complete unit yet.
	ErrUnitNotFound
	// ErrUnitInvalidChannel means the decode channel is unusable.
	ErrUnitInvalidChannel
	// ErrUnitDynamicAlloc means the engine failed to allocate resources.
	ErrUnitDynamicAlloc
)

// String implements fmt.Stringer.
func (r UnitResult) String() string {
	switch r {
	case SuccessAccessUnit:
		return "SuccessAccessUnit"
	case SuccessNALUnit:
		return "SuccessNALUnit"
	case ErrUnitNotFound:
		return "ErrUnitNotFound"
	case ErrUnitInvalidChannel:
		return "ErrUnitInvalidChannel"
	case ErrUnitDynamicAlloc:
		return "ErrUnitDynamicAlloc"
	default:
		return fmt.Sprintf("UnitResult(%d)", int(r))
	}
}

// Succeeded reports whether a unit was decoded.
func (r UnitResult) Succeeded() bool {
	return r == SuccessAccessUnit || r == SuccessNALUnit
}

// Engine is the decode engine driven by the feeders. All methods are called
// from the feeder's worker goroutine only.
type Engine interface {
	// DecodeOneUnit decodes at most one unit out of stream.
	DecodeOneUnit(stream buffer.StreamView) UnitResult
	// DecodedStreamOffset returns the ring position up to which the stream
	// has been consumed. It restarts at 0 when the feeder is reset.
	DecodedStreamOffset() int
	// SkipParsedUnits consumes the units already parsed but not decoded.
	SkipParsedUnits()
	// InternalFlush finishes decoding everything the engine holds.
	InternalFlush()
	// FlushInput drops the buffered but not yet decoded input.
	FlushInput()
}

// Feeder accepts pushed bitstream buffers and drives an Engine with them.
type Feeder interface {
	// PushBuffer queues the first size bytes of buf. isLast marks the end of
	// the stream. On failure the caller keeps ownership of buf.
	PushBuffer(buf *buffer.Buffer, size int, isLast bool) bool
	// Signal tells the feeder that the engine may be able to make progress.
	Signal()
	// Flush marks the end of the pushed stream.
	Flush()
	// Reset drops every pushed buffer not yet decoded.
	Reset()
	// FreeBuf hands back a buffer decoded by the feeder.
	FreeBuf(buf *buffer.Buffer)
	// Destroy stops the feeder, waiting for its worker to exit.
	Destroy()
	// Err returns the channel error that stopped the feeder, if any.
	Err() error
}

// attachCirc describes the first size bytes of buf with circular metadata.
func attachCirc(buf *buffer.Buffer, size int, isLast bool) bool {
	if meta := buf.Circ(); meta != nil {
		meta.Reset(size, isLast)
		return true
	}
	meta := new(buffer.CircMeta)
	meta.Reset(size, isLast)
	return buf.AddMeta(meta)
}
