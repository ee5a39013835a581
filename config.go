// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

package vcu

import (
	"go.uber.org/zap"

	"storj.io/common/memory"
	"storj.io/vcu/private/annexb"
	"storj.io/vcu/private/buffer"
	"storj.io/vcu/private/feeder"
	"storj.io/vcu/private/stalldetection"
)

// Dimension is a picture size in pixels.
type Dimension = buffer.Dimension

// RecoveryConfig configures how a full stream buffer without a decodable
// unit is recovered from.
type RecoveryConfig = stalldetection.Config

// Config defines the configuration of a Decoder.
type Config struct {
	Log *zap.Logger

	// FramePoolSize is the number of frame buffers decoded pictures are
	// written into.
	FramePoolSize int
	// FrameDimension is the size of the decoded pictures.
	FrameDimension Dimension
	// MotionVectorPoolSize defaults to one more than FramePoolSize.
	MotionVectorPoolSize int

	// StreamBufferSize is the size of the circular buffer the pushed data is
	// gathered in. It must hold the largest NAL unit of the stream.
	StreamBufferSize memory.Size
	// StreamMargin bytes of the stream buffer are always kept free.
	StreamMargin int
	// InputFifoCapacity is how many pushed buffers may wait for decoding.
	InputFifoCapacity int
	// SplitInput means every pushed buffer holds exactly one access unit.
	SplitInput bool

	MaxReferenceFrames int
	ReorderDepth       int

	Recovery RecoveryConfig

	engineFactory engineFactory
}

type engineFactory = func(log *zap.Logger, handler annexb.Handler, mode annexb.Mode) feeder.Engine

func defaultEngineFactory(log *zap.Logger, handler annexb.Handler, mode annexb.Mode) feeder.Engine {
	return annexb.NewEngine(log, handler, mode)
}

func (config *Config) setup() {
	if config.Log == nil {
		config.Log = zap.NewNop()
	}
	if config.FramePoolSize <= 0 {
		config.FramePoolSize = 4
	}
	if config.FrameDimension.Width <= 0 || config.FrameDimension.Height <= 0 {
		config.FrameDimension = Dimension{Width: 64, Height: 64}
	}
	if config.MotionVectorPoolSize <= 0 {
		config.MotionVectorPoolSize = config.FramePoolSize + 1
	}
	if config.StreamBufferSize <= 0 {
		config.StreamBufferSize = feeder.DefaultConfig.StreamBufferSize
	}
	if config.StreamMargin <= 0 {
		config.StreamMargin = feeder.DefaultConfig.StreamMargin
	}
	if config.InputFifoCapacity <= 0 {
		config.InputFifoCapacity = feeder.DefaultConfig.InputFifoCapacity
	}
	if config.MaxReferenceFrames <= 0 {
		config.MaxReferenceFrames = 2
	}
	if config.ReorderDepth < 0 {
		config.ReorderDepth = 0
	}
	config.Recovery.Setup()
	if config.engineFactory == nil {
		config.engineFactory = defaultEngineFactory
	}
}

// setEngineFactory exposes replacing the decode engine.
//
// NB: this is used with linkname in internal/expose.
// It needs to be updated when this is updated.
//
//lint:ignore U1000, used with linkname
//nolint: unused
func (config *Config) setEngineFactory(factory engineFactory) { config.engineFactory = factory }
