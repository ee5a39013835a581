// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

package feeder

import (
	"context"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"storj.io/common/sync2"
	"storj.io/eventkit"
	"storj.io/vcu/private/patchworker"
	"storj.io/vcu/private/stalldetection"
)

// DecoderFeeder runs the slave goroutine moving data from a patchworker into
// an engine one unit at a time.
//
// The slave sleeps until Process is called, then runs work cycles for as
// long as a cycle moved data or decoded a unit.
type DecoderFeeder struct {
	log         *zap.Logger
	engine      Engine
	patchworker *patchworker.Patchworker
	recovery    stalldetection.Config

	work     sync2.Event
	progress sync2.Event
	started  sync2.Fence
	done     chan struct{}

	keepGoing atomic.Int32
	flushed   atomic.Bool

	// only accessed by the slave.
	endWithAccessUnit bool
	incomingWork      bool

	mu  sync.Mutex
	err error
}

// NewDecoderFeeder starts a slave feeding engine from pw.
func NewDecoderFeeder(log *zap.Logger, engine Engine, pw *patchworker.Patchworker, recovery stalldetection.Config) *DecoderFeeder {
	if log == nil {
		log = zap.NewNop()
	}
	recovery.Setup()

	f := &DecoderFeeder{
		log:               log,
		engine:            engine,
		patchworker:       pw,
		recovery:          recovery,
		done:              make(chan struct{}),
		endWithAccessUnit: true,
	}
	f.keepGoing.Store(1)

	go f.run()
	f.started.Wait(context.Background())

	return f
}

// Process wakes the slave up: new input may be queued or the engine may
// have consumed more of the stream.
func (f *DecoderFeeder) Process() {
	f.work.Signal()
	f.progress.Signal()
}

// Flush marks a soft end of the input and wakes the slave up.
func (f *DecoderFeeder) Flush() {
	f.patchworker.NotifyEndOfInput()
	f.Process()
}

// Reset drops the queued input and empties the stream buffer. It must only
// be called while the engine is idle.
func (f *DecoderFeeder) Reset() {
	f.patchworker.Reset()
	f.flushed.Store(false)
}

// Destroy stops the slave and waits for it to exit. The slave first finishes
// the access unit in progress when more data is flowing.
func (f *DecoderFeeder) Destroy() {
	f.keepGoing.Add(-1)
	f.work.Signal()
	<-f.done
}

// Err returns the error which stopped the slave.
func (f *DecoderFeeder) Err() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.err
}

func (f *DecoderFeeder) run() {
	defer close(f.done)
	f.started.Release()

	ctx := context.Background()
	for f.keepGoing.Load() > 0 || (!f.endWithAccessUnit && f.incomingWork) {
		f.work.Wait(ctx)
		if !f.process() {
			return
		}
	}

	for f.incomingWork {
		if !f.process() {
			return
		}
	}

	if !f.flushed.Load() {
		f.engine.InternalFlush()
		f.flushed.Store(true)
	}
}

// process runs one work cycle. It returns false when the channel failed.
func (f *DecoderFeeder) process() bool {
	f.updateConsumed()

	transferred := f.patchworker.Transfer()
	f.incomingWork = transferred > 0

	result := f.engine.DecodeOneUnit(f.patchworker.View())
	switch result {
	case SuccessAccessUnit, SuccessNALUnit:
		f.endWithAccessUnit = result == SuccessAccessUnit
		f.incomingWork = true

	case ErrUnitNotFound:
		freed := false
		if f.patchworker.IsFull() {
			freed = f.recover()
			if freed {
				f.incomingWork = true
			}
		}
		// a full ring holding the whole stream with nothing decodable left
		// still ends the stream.
		if !freed && f.patchworker.IsAllDataTransfered() && !f.flushed.Load() {
			f.engine.InternalFlush()
			f.flushed.Store(true)
			f.endWithAccessUnit = true
		}

	case ErrUnitInvalidChannel, ErrUnitDynamicAlloc:
		f.fail(result)
		return false
	}

	if f.incomingWork {
		f.work.Signal()
	}
	return true
}

// recover tries to free stream space when the buffer is full and holds no
// decodable unit: wait for the engine, then skip parsed units, then drop the
// input. It reports whether space was freed.
func (f *DecoderFeeder) recover() bool {
	for i := 0; i < f.recovery.MaxWaits; i++ {
		mon.Event("feeder_recover_wait")

		ctx, cancel := context.WithTimeout(context.Background(), f.recovery.ProgressTimeout)
		f.progress.Wait(ctx)
		cancel()

		if f.updateConsumed() > 0 {
			return true
		}
	}

	mon.Event("feeder_recover_skip")
	f.engine.SkipParsedUnits()
	if f.updateConsumed() > 0 {
		return true
	}

	if f.recovery.DisableForcedFlush {
		return false
	}

	view := f.patchworker.View()
	mon.Event("feeder_recover_flush")
	evs.Event("feeder-forced-input-flush",
		eventkit.Int64("available", int64(view.AvailSize)),
		eventkit.Int64("capacity", int64(view.Capacity())),
	)
	f.log.Warn("stream buffer full without a decodable unit, flushing input",
		zap.Int("available", view.AvailSize),
		zap.Int("capacity", view.Capacity()))

	f.engine.FlushInput()
	return f.updateConsumed() > 0
}

func (f *DecoderFeeder) updateConsumed() int {
	return f.patchworker.ConsumeTo(f.engine.DecodedStreamOffset())
}

func (f *DecoderFeeder) fail(result UnitResult) {
	err := ErrChannel.New("%s", result)

	// refuse further input before the error is visible, nothing drains
	// the fifo anymore.
	f.patchworker.DecommitInput()

	f.mu.Lock()
	f.err = err
	f.mu.Unlock()

	mon.Event("feeder_channel_error")
	evs.Event("decoder-channel-error", eventkit.String("result", result.String()))
	f.log.Error("stopping feeder", zap.Error(err))
}
