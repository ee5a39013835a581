// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

// Package telemetry reports decoder state as monkit stats.
package telemetry

import (
	"github.com/spacemonkeygo/monkit/v3"

	"storj.io/vcu"
)

// Options specify how a decoder is reported.
type Options struct {
	// Measurement is the series name, "vcu_frame_pool" by default.
	Measurement string
	// Tags are added to the series key, e.g. the stream name.
	Tags map[string]string
}

// StatSource reports the frame pool of decoder with the default options.
func StatSource(decoder *vcu.Decoder) monkit.StatSource {
	return StatSourceWith(decoder, &Options{})
}

// StatSourceWith reports the frame pool of decoder. The returned source can
// be chained into a monkit registry with Chain.
func StatSourceWith(decoder *vcu.Decoder, opts *Options) monkit.StatSource {
	measurement := opts.Measurement
	if measurement == "" {
		measurement = "vcu_frame_pool"
	}
	key := monkit.NewSeriesKey(measurement)
	for name, value := range opts.Tags {
		key = key.WithTag(name, value)
	}

	return monkit.StatSourceFunc(func(cb func(key monkit.SeriesKey, field string, val float64)) {
		stats := decoder.Stats()
		cb(key, "adopted", float64(stats.Adopted))
		cb(key, "free", float64(stats.Free))
		cb(key, "in_use", float64(stats.InUse))
		cb(key, "pending_output", float64(stats.PendingOutput))
		cb(key, "free_motion_vectors", float64(stats.FreeMotionVectors))
	})
}
