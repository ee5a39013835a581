// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

package stalldetection

import (
	"time"

	"storj.io/eventkit"
)

var evs = eventkit.Package()

// Config contains configuration for recovering a feeder whose stream
// buffer is full while the engine finds no complete unit in it.
// Empty struct implies default values.
type Config struct {
	// ProgressTimeout is how long the feeder waits for the engine to report
	// consumed stream before it starts skipping parsed units.
	ProgressTimeout time.Duration

	// MaxWaits is the number of progress waits attempted before escalating.
	MaxWaits int

	// DisableForcedFlush keeps the feeder from dropping buffered input as the
	// last recovery step. The feeder then retries on the next signal.
	DisableForcedFlush bool
}

// DefaultConfig provides default values for stall recovery.
var DefaultConfig = Config{
	ProgressTimeout: 50 * time.Millisecond,
	MaxWaits:        1,
}

// Setup updates the recovery config values to their finals.
// Uses defaults when out of range or unassigned.
func (c *Config) Setup() {
	if c.ProgressTimeout <= 0 {
		c.ProgressTimeout = DefaultConfig.ProgressTimeout
	}
	if c.MaxWaits < 1 {
		c.MaxWaits = DefaultConfig.MaxWaits
	}

	evs.Event("feeder-recovery-config-setup",
		eventkit.Duration("progress_timeout", c.ProgressTimeout),
		eventkit.Int64("max_waits", int64(c.MaxWaits)),
		eventkit.Bool("disable_forced_flush", c.DisableForcedFlush),
	)
}
