// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

package telemetry_test

import (
	"testing"

	"github.com/spacemonkeygo/monkit/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"storj.io/common/testcontext"
	"storj.io/vcu"
	"storj.io/vcu/telemetry"
)

func collect(source monkit.StatSource) (map[string]float64, []monkit.SeriesKey) {
	fields := map[string]float64{}
	var keys []monkit.SeriesKey
	source.Stats(func(key monkit.SeriesKey, field string, val float64) {
		fields[field] = val
		keys = append(keys, key)
	})
	return fields, keys
}

func TestStatSource(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	decoder, err := vcu.Config{FramePoolSize: 3}.OpenDecoder(ctx)
	require.NoError(t, err)
	defer ctx.Check(decoder.Close)

	fields, keys := collect(telemetry.StatSource(decoder))
	assert.Equal(t, map[string]float64{
		"adopted":             3,
		"free":                3,
		"in_use":              0,
		"pending_output":      0,
		"free_motion_vectors": 4,
	}, fields)
	assert.Equal(t, "vcu_frame_pool", keys[0].Measurement)
}

func TestStatSourceWith(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	decoder, err := vcu.OpenDecoder(ctx)
	require.NoError(t, err)
	defer ctx.Check(decoder.Close)

	_, keys := collect(telemetry.StatSourceWith(decoder, &telemetry.Options{
		Measurement: "camera",
		Tags:        map[string]string{"stream": "front"},
	}))
	require.NotEmpty(t, keys)
	assert.Equal(t, "camera", keys[0].Measurement)
	assert.Contains(t, keys[0].String(), "stream=front")
}
