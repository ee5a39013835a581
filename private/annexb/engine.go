// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

package annexb

import (
	"sync"

	"github.com/spacemonkeygo/monkit/v3"
	"go.uber.org/zap"

	"storj.io/vcu/private/buffer"
	"storj.io/vcu/private/feeder"
)

var mon = monkit.Package()

// Handler receives the NAL units found by an Engine.
type Handler interface {
	// HandleUnit decodes one NAL unit. nal.Data is only valid during the
	// call. An error stops the decode channel.
	HandleUnit(nal NALUnit) error
	// Flush finishes decoding the stream.
	Flush() error
}

// Mode selects how an Engine finds units in its stream views.
type Mode int

const (
	// Unsplit engines scan a continuous stream for start codes and decode
	// one NAL unit per call.
	Unsplit Mode = iota
	// Split engines decode every NAL unit of a view at once, each view
	// holding one access unit.
	Split
)

// Engine is an Annex-B decode engine handing NAL units to a Handler.
type Engine struct {
	log     *zap.Logger
	handler Handler
	mode    Mode

	mu      sync.Mutex
	offset  int
	parsed  int
	last    buffer.StreamView
	scan    scanState
	scratch []byte
	err     error
}

// scanState remembers how far a view starting at offset was scanned, so the
// bytes appended to it later are the only ones scanned again.
type scanState struct {
	valid  bool
	offset int
	start  int
	from   int
}

var _ feeder.Engine = (*Engine)(nil)

// NewEngine returns an engine feeding handler.
func NewEngine(log *zap.Logger, handler Handler, mode Mode) *Engine {
	if log == nil {
		log = zap.NewNop()
	}
	return &Engine{
		log:     log.Named("annexb"),
		handler: handler,
		mode:    mode,
	}
}

// DecodeOneUnit implements feeder.Engine.
func (e *Engine) DecodeOneUnit(view buffer.StreamView) feeder.UnitResult {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.last = view
	if e.mode == Split {
		return e.decodeAccessUnit(view)
	}
	return e.decodeNALUnit(view)
}

func (e *Engine) decodeNALUnit(view buffer.StreamView) feeder.UnitResult {
	avail := view.AvailSize
	tail := max(0, avail-len(startCode)+1)

	start, from := -1, 0
	if e.scan.valid && e.scan.offset == view.Offset {
		start, from = e.scan.start, e.scan.from
	}

	if start < 0 {
		start = findStartCode(view, from)
		if start < 0 {
			if view.LastChunk {
				e.advance(view, avail)
			} else {
				e.scan = scanState{valid: true, offset: view.Offset, start: -1, from: tail}
			}
			return feeder.ErrUnitNotFound
		}
		from = 0
	}

	payload := start + len(startCode)
	end := findStartCode(view, max(payload, from))
	if end < 0 {
		if !view.LastChunk {
			e.parsed = start
			e.scan = scanState{valid: true, offset: view.Offset, start: start, from: max(payload, tail)}
			return feeder.ErrUnitNotFound
		}
		end = avail
	}

	e.scratch = subView(view, payload, end).Bytes(e.scratch[:0])
	data := trimTrailingZeros(e.scratch)
	e.advance(view, end)

	if len(data) == 0 {
		return feeder.SuccessNALUnit
	}
	return e.handle(data)
}

func (e *Engine) decodeAccessUnit(view buffer.StreamView) feeder.UnitResult {
	e.scratch = view.Bytes(e.scratch[:0])
	nals := SplitNALUnits(e.scratch)
	if len(nals) == 0 {
		return feeder.ErrUnitNotFound
	}

	result := feeder.SuccessNALUnit
	for _, data := range nals {
		switch r := e.handle(data); r {
		case feeder.SuccessAccessUnit:
			result = r
		case feeder.SuccessNALUnit:
		default:
			return r
		}
	}
	return result
}

func (e *Engine) handle(data []byte) feeder.UnitResult {
	nal, err := ParseNALUnit(data)
	if err != nil {
		mon.Event("annexb_invalid_nal")
		e.log.Debug("skipping invalid nal unit", zap.Error(err))
		return feeder.SuccessNALUnit
	}

	if err := e.handler.HandleUnit(nal); err != nil {
		e.err = err
		return feeder.ErrUnitInvalidChannel
	}

	mon.Counter("annexb_nal_units").Inc(1)
	if nal.Type.IsVCL() {
		return feeder.SuccessAccessUnit
	}
	return feeder.SuccessNALUnit
}

// DecodedStreamOffset implements feeder.Engine.
func (e *Engine) DecodedStreamOffset() int {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.offset
}

// SkipParsedUnits implements feeder.Engine. It drops the bytes preceding the
// unit which did not fit into the stream buffer.
func (e *Engine) SkipParsedUnits() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.mode == Split || e.parsed == 0 {
		return
	}
	mon.Event("annexb_skip_parsed")
	e.advance(e.last, e.parsed)
}

// FlushInput implements feeder.Engine. It drops every buffered byte.
func (e *Engine) FlushInput() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.mode == Split || e.last.AvailSize == 0 {
		return
	}
	mon.Event("annexb_flush_input")
	e.advance(e.last, e.last.AvailSize)
}

// InternalFlush implements feeder.Engine.
func (e *Engine) InternalFlush() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.handler.Flush(); err != nil {
		e.log.Error("flush failed", zap.Error(err))
		e.err = err
	}
}

// Reset restarts the engine at the beginning of an empty stream buffer.
func (e *Engine) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.offset = 0
	e.parsed = 0
	e.last = buffer.StreamView{}
	e.scan = scanState{}
	e.err = nil
}

// Err returns the handler error which stopped the engine.
func (e *Engine) Err() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.err
}

func (e *Engine) advance(view buffer.StreamView, n int) {
	if view.Capacity() > 0 {
		e.offset = (view.Offset + n) % view.Capacity()
	}
	e.parsed = 0
	e.scan = scanState{}
}

func subView(view buffer.StreamView, from, to int) buffer.StreamView {
	return buffer.StreamView{
		Data: view.Data,
		CircMeta: buffer.CircMeta{
			Offset:    (view.Offset + from) % view.Capacity(),
			AvailSize: to - from,
		},
	}
}

// findStartCode returns the position of the first start code at or after
// from in the available bytes of view, or -1.
func findStartCode(view buffer.StreamView, from int) int {
	for i := from; i+len(startCode) <= view.AvailSize; i++ {
		if view.At(i) == 0 && view.At(i+1) == 0 && view.At(i+2) == 1 {
			return i
		}
	}
	return -1
}
