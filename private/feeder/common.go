// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

// Package feeder pumps pushed bitstream buffers into a decode engine.
package feeder

import (
	"github.com/spacemonkeygo/monkit/v3"
	"github.com/zeebo/errs"
	"go.uber.org/zap"

	"storj.io/common/memory"
	"storj.io/eventkit"
	"storj.io/vcu/private/stalldetection"
)

var (
	mon = monkit.Package()
	evs = eventkit.Package()

	// Error is the default feeder errs class.
	Error = errs.Class("feeder")

	// ErrChannel is the class of errors reported when the engine declares
	// the decode channel unusable.
	ErrChannel = errs.Class("decode channel")
)

// Config configures a feeder.
type Config struct {
	Log *zap.Logger

	// InputFifoCapacity is the number of pushed buffers that may be queued
	// before PushBuffer blocks.
	InputFifoCapacity int

	// StreamBufferSize is the size of the circular buffer read by the engine.
	StreamBufferSize memory.Size

	// StreamMargin is the number of bytes of the circular buffer never filled.
	StreamMargin int

	Recovery stalldetection.Config
}

// DefaultConfig provides default values for feeders.
var DefaultConfig = Config{
	InputFifoCapacity: 256,
	StreamBufferSize:  1 * memory.MiB,
	StreamMargin:      1,
}

func (config *Config) setup() {
	if config.Log == nil {
		config.Log = zap.NewNop()
	}
	if config.InputFifoCapacity < 1 {
		config.InputFifoCapacity = DefaultConfig.InputFifoCapacity
	}
	if config.StreamBufferSize <= 0 {
		config.StreamBufferSize = DefaultConfig.StreamBufferSize
	}
	if config.StreamMargin < 1 {
		config.StreamMargin = DefaultConfig.StreamMargin
	}
	config.Recovery.Setup()
}
