// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

package vcu

import (
	"github.com/spacemonkeygo/monkit/v3"
	"github.com/zeebo/errs"
)

var mon = monkit.Package()

// Error is default error class for vcu.
var Error = errs.Class("vcu")

// ErrClosed is returned when using a closed decoder.
var ErrClosed = errs.Class("decoder closed")
