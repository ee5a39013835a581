// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

package annexb

import (
	"bytes"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/zeebo/mwc"

	"storj.io/common/memory"
	"storj.io/vcu/private/buffer"
	"storj.io/vcu/private/feeder"
)

var (
	sps   = []byte{0x67, 0x42, 0x00, 0x1e, 0x95}
	pps   = []byte{0x68, 0xce, 0x3c, 0x80}
	idr   = []byte{0x65, 0x88, 0x84, 0x00, 0x33, 0xff}
	slice = []byte{0x41, 0x9a, 0x02, 0x03, 0x04}
)

func stream(nals ...[]byte) []byte {
	var out []byte
	for i, nal := range nals {
		if i%2 == 0 {
			out = append(out, 0)
		}
		out = append(out, 0, 0, 1)
		out = append(out, nal...)
	}
	return out
}

type recorder struct {
	mu      sync.Mutex
	units   [][]byte
	flushes int
	fail    error
}

func (r *recorder) HandleUnit(nal NALUnit) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.fail != nil {
		return r.fail
	}
	r.units = append(r.units, append([]byte(nil), nal.Data...))
	return nil
}

func (r *recorder) Flush() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.flushes++
	return nil
}

func (r *recorder) stats() ([][]byte, int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	return append([][]byte(nil), r.units...), r.flushes
}

// ring places data into a ring of size bytes starting at offset.
func ring(data []byte, size, offset int) buffer.StreamView {
	view := buffer.StreamView{Data: make([]byte, size), CircMeta: buffer.CircMeta{Offset: offset, AvailSize: len(data)}}
	for i, b := range data {
		view.Data[(offset+i)%size] = b
	}
	return view
}

// consume advances view to the engine offset.
func consume(view buffer.StreamView, e *Engine) buffer.StreamView {
	n := ((e.DecodedStreamOffset()-view.Offset)%view.Capacity() + view.Capacity()) % view.Capacity()
	view.Offset = e.DecodedStreamOffset()
	view.AvailSize -= n
	return view
}

func TestParsing(t *testing.T) {
	data := stream(sps, pps, idr)
	require.Equal(t, 1, FindStartCode(data, 0))
	require.Equal(t, 9, FindStartCode(data, 2))
	require.Equal(t, -1, FindStartCode(data, len(data)))

	require.Equal(t, [][]byte{sps, pps, idr}, SplitNALUnits(append([]byte{0xff}, data...)))
	require.Empty(t, SplitNALUnits([]byte{1, 2, 3}))

	header, err := ParseHeader(0x65)
	require.NoError(t, err)
	require.Equal(t, Header{RefIDC: 3, Type: NALIDR}, header)
	require.True(t, header.Type.IsVCL())
	require.False(t, NALSPS.IsVCL())

	_, err = ParseHeader(0x85)
	require.Error(t, err)
	_, err = ParseNALUnit(nil)
	require.Error(t, err)

	require.Equal(t,
		[]byte{0x65, 0, 0, 1, 0, 0, 0, 0, 2},
		UnescapeRBSP(nil, []byte{0x65, 0, 0, 3, 1, 0, 0, 3, 0, 0, 3, 2}))
}

func TestEngineUnsplit(t *testing.T) {
	t.Run("one unit per call across the ring end", func(t *testing.T) {
		rec := &recorder{}
		e := NewEngine(nil, rec, Unsplit)

		view := ring(stream(sps, pps, idr, slice), 64, 40)
		var results []feeder.UnitResult
		for {
			result := e.DecodeOneUnit(view)
			if result == feeder.ErrUnitNotFound {
				break
			}
			results = append(results, result)
			view = consume(view, e)
		}
		require.Equal(t, []feeder.UnitResult{
			feeder.SuccessNALUnit, feeder.SuccessNALUnit, feeder.SuccessAccessUnit,
		}, results)

		view.LastChunk = true
		require.Equal(t, feeder.SuccessAccessUnit, e.DecodeOneUnit(view))
		view = consume(view, e)
		require.Equal(t, 0, view.AvailSize)
		require.Equal(t, feeder.ErrUnitNotFound, e.DecodeOneUnit(view))

		units, _ := rec.stats()
		require.Equal(t, [][]byte{sps, pps, idr, slice}, units)
	})

	t.Run("waits for the end of a partial unit", func(t *testing.T) {
		rec := &recorder{}
		e := NewEngine(nil, rec, Unsplit)

		data := stream(idr, slice)
		view := ring(data, 64, 0)
		view.AvailSize = 6
		require.Equal(t, feeder.ErrUnitNotFound, e.DecodeOneUnit(view))
		view.AvailSize = 12
		require.Equal(t, feeder.ErrUnitNotFound, e.DecodeOneUnit(view))
		view.AvailSize = len(data)
		require.Equal(t, feeder.SuccessAccessUnit, e.DecodeOneUnit(view))

		units, _ := rec.stats()
		require.Equal(t, [][]byte{idr}, units)
	})

	t.Run("drops garbage at the end of the stream", func(t *testing.T) {
		e := NewEngine(nil, &recorder{}, Unsplit)
		view := ring([]byte{9, 9, 9, 9}, 16, 0)
		require.Equal(t, feeder.ErrUnitNotFound, e.DecodeOneUnit(view))
		require.Equal(t, 0, e.DecodedStreamOffset())

		view.LastChunk = true
		require.Equal(t, feeder.ErrUnitNotFound, e.DecodeOneUnit(view))
		require.Equal(t, 4, e.DecodedStreamOffset())
	})

	t.Run("recovery steps", func(t *testing.T) {
		e := NewEngine(nil, &recorder{}, Unsplit)
		view := ring(append([]byte{7, 7}, stream(idr)...), 16, 0)

		require.Equal(t, feeder.ErrUnitNotFound, e.DecodeOneUnit(view))
		e.SkipParsedUnits()
		require.Equal(t, 3, e.DecodedStreamOffset())

		view = consume(view, e)
		require.Equal(t, feeder.ErrUnitNotFound, e.DecodeOneUnit(view))
		e.SkipParsedUnits()
		require.Equal(t, 3, e.DecodedStreamOffset())
		e.FlushInput()
		require.Equal(t, 3+view.AvailSize, e.DecodedStreamOffset())

		e.Reset()
		require.Equal(t, 0, e.DecodedStreamOffset())
	})

	t.Run("handler error stops the channel", func(t *testing.T) {
		rec := &recorder{fail: errors.New("broken")}
		e := NewEngine(nil, rec, Unsplit)

		view := ring(stream(idr, slice), 32, 0)
		require.Equal(t, feeder.ErrUnitInvalidChannel, e.DecodeOneUnit(view))
		require.EqualError(t, e.Err(), "broken")
	})

	t.Run("invalid units are skipped", func(t *testing.T) {
		rec := &recorder{}
		e := NewEngine(nil, rec, Unsplit)

		view := ring(stream([]byte{0x85, 1}, idr), 32, 0)
		require.Equal(t, feeder.SuccessNALUnit, e.DecodeOneUnit(view))
		units, _ := rec.stats()
		require.Empty(t, units)
	})
}

func TestEngineSplit(t *testing.T) {
	rec := &recorder{}
	e := NewEngine(nil, rec, Split)

	au := stream(sps, pps, idr)
	require.Equal(t, feeder.SuccessAccessUnit, e.DecodeOneUnit(ring(au, len(au), 0)))
	require.Equal(t, feeder.SuccessNALUnit, e.DecodeOneUnit(ring(stream(sps), 16, 0)))
	require.Equal(t, feeder.ErrUnitNotFound, e.DecodeOneUnit(ring(nil, 16, 0)))

	e.InternalFlush()
	units, flushes := rec.stats()
	require.Equal(t, [][]byte{sps, pps, idr, sps}, units)
	require.Equal(t, 1, flushes)
}

func TestEngineBehindFeeder(t *testing.T) {
	var nals [][]byte
	for i := range 40 {
		nal := append([]byte{0x41}, bytes.Repeat([]byte{byte(i + 1)}, mwc.Intn(20)+1)...)
		nals = append(nals, nal)
	}
	data := stream(nals...)

	rec := &recorder{}
	e := NewEngine(nil, rec, Unsplit)
	f, err := feeder.NewUnsplit(e, feeder.Config{StreamBufferSize: 64 * memory.B})
	require.NoError(t, err)

	for len(data) > 0 {
		n := min(len(data), mwc.Intn(30)+1)
		require.True(t, f.PushBuffer(buffer.New(data[:n], nil), n, n == len(data)))
		data = data[n:]
	}

	require.Eventually(t, func() bool {
		_, flushes := rec.stats()
		return flushes == 1
	}, 5*time.Second, time.Millisecond)
	f.Destroy()

	units, _ := rec.stats()
	require.Equal(t, nals, units)
	require.NoError(t, f.Err())
}
