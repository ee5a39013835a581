// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

// Package expose exposes unexported decoder hooks for tests and tooling
// inside this module.
package expose

import (
	_ "unsafe" // for go:linkname

	"go.uber.org/zap"

	"storj.io/vcu"
	"storj.io/vcu/private/annexb"
	"storj.io/vcu/private/feeder"
)

// ConfigSetEngineFactory exposes Config.setEngineFactory.
//
//go:linkname ConfigSetEngineFactory storj.io/vcu.(*Config).setEngineFactory
func ConfigSetEngineFactory(*vcu.Config, func(log *zap.Logger, handler annexb.Handler, mode annexb.Mode) feeder.Engine)
