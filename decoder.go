// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

package vcu

import (
	"context"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/zeebo/errs"
	"go.uber.org/zap"

	"storj.io/common/sync2"
	"storj.io/vcu/private/annexb"
	"storj.io/vcu/private/buffer"
	"storj.io/vcu/private/feeder"
	"storj.io/vcu/private/pictmngr"
)

// errPollInterval is how often a waiting NextFrame checks for a stopped
// decode channel.
const errPollInterval = 10 * time.Millisecond

// Frame is a decoded picture handed out for display. It must be given back
// with PutDisplayBuffer.
type Frame struct {
	Data      []byte
	Dimension Dimension
	CRC       uint32
	Crop      pictmngr.Crop
	Err       error

	buf *buffer.Buffer
}

// Decoder decodes an H.264 Annex-B elementary stream into frames.
type Decoder struct {
	log      *zap.Logger
	config   Config
	pictures *pictmngr.PictMngr
	engine   feeder.Engine
	handler  *frameHandler
	feeder   feeder.Feeder
	ready    sync2.Event
	closed   atomic.Bool

	mu         sync.Mutex
	lastPushed *buffer.Buffer
}

// OpenDecoder opens a decoder with the default configuration.
func OpenDecoder(ctx context.Context) (*Decoder, error) {
	return (Config{}).OpenDecoder(ctx)
}

// OpenDecoder opens a decoder.
func (config Config) OpenDecoder(ctx context.Context) (_ *Decoder, err error) {
	defer mon.Func().RestartTrace(&ctx)(&err)

	config.setup()
	log := config.Log.Named("vcu")

	pictures, err := pictmngr.New(pictmngr.Config{
		Log:                  log.Named("pictmngr"),
		FramePoolSize:        config.FramePoolSize,
		MotionVectorPoolSize: config.MotionVectorPoolSize,
		MaxReferenceFrames:   config.MaxReferenceFrames,
		ReorderDepth:         config.ReorderDepth,
	})
	if err != nil {
		return nil, Error.Wrap(err)
	}
	for range config.FramePoolSize {
		buf := buffer.Alloc(config.FrameDimension.FrameSize(), nil)
		if err := pictures.PutDisplayBuffer(buf); err != nil {
			return nil, Error.Wrap(err)
		}
		buf.Unref()
	}

	d := &Decoder{
		log:      log,
		config:   config,
		pictures: pictures,
	}
	d.handler = &frameHandler{
		log:      log,
		pictures: pictures,
		dim:      config.FrameDimension,
		ready:    &d.ready,
	}

	mode := annexb.Unsplit
	if config.SplitInput {
		mode = annexb.Split
	}
	d.engine = config.engineFactory(log, d.handler, mode)

	feederConfig := feeder.Config{
		Log:               log,
		InputFifoCapacity: config.InputFifoCapacity,
		StreamBufferSize:  config.StreamBufferSize,
		StreamMargin:      config.StreamMargin,
		Recovery:          config.Recovery,
	}
	if config.SplitInput {
		d.feeder, err = feeder.NewSplit(d.engine, feederConfig)
	} else {
		d.feeder, err = feeder.NewUnsplit(d.engine, feederConfig)
	}
	if err != nil {
		return nil, Error.Wrap(err)
	}

	return d, nil
}

// PushBuffer queues a copy of data for decoding. isLast marks the end of the
// stream. With split input data must hold exactly one access unit.
func (d *Decoder) PushBuffer(data []byte, isLast bool) error {
	if d.closed.Load() {
		return ErrClosed.New("push")
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	buf := buffer.Alloc(len(data), nil)
	copy(buf.Data(), data)
	defer buf.Unref()

	if !d.feeder.PushBuffer(buf, len(data), isLast) {
		if d.closed.Load() {
			return ErrClosed.New("push")
		}
		if err := d.LastError(); err != nil {
			return err
		}
		return Error.New("buffer refused")
	}

	if d.config.SplitInput {
		if d.lastPushed != nil {
			d.feeder.FreeBuf(d.lastPushed)
		}
		d.lastPushed = buf
	}
	return nil
}

// Flush marks the end of the stream without a last buffer.
func (d *Decoder) Flush() {
	d.feeder.Flush()
}

// Reset drops the pushed data not decoded yet so a new stream can be pushed.
// It must only be called once the previous stream was flushed and decoded.
func (d *Decoder) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.feeder.Reset()
	if e, ok := d.engine.(interface{ Reset() }); ok {
		e.Reset()
	}
	d.handler.reset()
	d.lastPushed = nil
}

// GetDisplayBuffer returns the next decoded frame, or nil when none is
// ready. endOfStream is set once every frame of a flushed stream has been
// returned.
func (d *Decoder) GetDisplayBuffer() (frame *Frame, endOfStream bool) {
	buf, info := d.pictures.GetDisplayBuffer()
	if buf == nil {
		return nil, info.EndOfStream
	}

	data := buf.Data()
	if pix := buf.PixMap(); pix != nil {
		data = data[:pix.Dim.FrameSize()]
	}
	return &Frame{
		Data:      data,
		Dimension: info.Dim,
		CRC:       info.CRC,
		Crop:      info.Crop,
		Err:       info.Err,
		buf:       buf,
	}, false
}

// NextFrame waits for the next decoded frame. It returns io.EOF once the
// end of a flushed stream is reached.
func (d *Decoder) NextFrame(ctx context.Context) (*Frame, error) {
	for {
		frame, endOfStream := d.GetDisplayBuffer()
		switch {
		case frame != nil:
			return frame, nil
		case endOfStream:
			return nil, io.EOF
		}
		if err := d.LastError(); err != nil {
			return nil, err
		}

		waitCtx, cancel := context.WithTimeout(ctx, errPollInterval)
		d.ready.Wait(waitCtx)
		cancel()
		if err := ctx.Err(); err != nil {
			return nil, err
		}
	}
}

// PutDisplayBuffer gives a displayed frame back to the decoder.
func (d *Decoder) PutDisplayBuffer(frame *Frame) error {
	if frame == nil || frame.buf == nil {
		return Error.New("invalid frame")
	}
	return Error.Wrap(d.pictures.PutDisplayBuffer(frame.buf))
}

// LastError returns the error which stopped decoding, if any.
func (d *Decoder) LastError() error {
	var engineErr error
	if e, ok := d.engine.(interface{ Err() error }); ok {
		engineErr = e.Err()
	}
	return errs.Combine(d.feeder.Err(), engineErr)
}

// Stats returns a snapshot of the frame pool.
func (d *Decoder) Stats() pictmngr.Stats {
	return d.pictures.Stats()
}

// Close stops decoding and releases the frame buffers. Frames still held
// by the caller stay valid.
func (d *Decoder) Close() error {
	if !d.closed.CompareAndSwap(false, true) {
		return ErrClosed.New("close")
	}

	// Decommitting first unblocks a decode waiting for a free frame, and
	// destroying the feeder unblocks a waiting PushBuffer.
	d.pictures.DecommitPool()
	d.feeder.Destroy()

	for {
		buf := d.pictures.GetUnusedDisplayBuffer()
		if buf == nil {
			break
		}
		buf.Unref()
	}
	mon.Event("decoder_closed")
	return nil
}
