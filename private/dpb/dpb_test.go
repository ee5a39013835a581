// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

package dpb

import (
	"testing"

	"github.com/stretchr/testify/require"
)

type recorder struct {
	outputs  []int
	frames   []int
	vectors  []int
	dpb      *Dpb
	reenters int
}

func (r *recorder) OutputFrame(frameID int) {
	r.outputs = append(r.outputs, frameID)
	// calling back into the dpb must not deadlock.
	if r.dpb != nil {
		r.reenters += r.dpb.Len()
	}
}
func (r *recorder) ReleaseFrame(frameID int) { r.frames = append(r.frames, frameID) }
func (r *recorder) ReleaseMotionVector(id int) { r.vectors = append(r.vectors, id) }

func decode(t *testing.T, d *Dpb, pic Picture) {
	t.Helper()
	require.NoError(t, d.Insert(pic))
	require.NoError(t, d.EndDecoding(pic.FrameID))
}

func TestDpb(t *testing.T) {
	t.Run("invalid parameters", func(t *testing.T) {
		_, err := New(&recorder{}, 0, 0)
		require.Error(t, err)
		_, err = New(&recorder{}, 1, -1)
		require.Error(t, err)
	})

	t.Run("sliding window", func(t *testing.T) {
		rec := &recorder{}
		d, err := New(rec, 2, 0)
		require.NoError(t, err)
		rec.dpb = d

		for i := 0; i < 4; i++ {
			decode(t, d, Picture{POC: 2 * i, FrameID: i, MotionVecID: 10 + i, Output: true, Marking: ShortTerm})
		}

		require.Equal(t, []int{0, 1, 2, 3}, rec.outputs)
		require.Equal(t, []int{2, 3}, d.References())
		require.Equal(t, []int{0, 1}, rec.frames)
		require.Equal(t, []int{10, 11}, rec.vectors)
		require.NotZero(t, rec.reenters)
	})

	t.Run("non reference pictures leave after output", func(t *testing.T) {
		rec := &recorder{}
		d, err := New(rec, 2, 0)
		require.NoError(t, err)

		decode(t, d, Picture{FrameID: 7, MotionVecID: 1, Output: true, Marking: Unused})
		require.Equal(t, []int{7}, rec.outputs)
		require.Equal(t, []int{7}, rec.frames)
		require.Equal(t, 0, d.Len())
	})

	t.Run("reorder in poc order", func(t *testing.T) {
		rec := &recorder{}
		d, err := New(rec, 4, 2)
		require.NoError(t, err)

		for i, poc := range []int{0, 6, 2, 4} {
			decode(t, d, Picture{POC: poc, FrameID: i, Output: true, Marking: ShortTerm})
		}
		require.Equal(t, []int{0, 2}, rec.outputs)

		d.Flush()
		require.Equal(t, []int{0, 2, 3, 1}, rec.outputs)
		require.Equal(t, 0, d.Len())
		require.ElementsMatch(t, []int{0, 1, 2, 3}, rec.frames)
	})

	t.Run("idr clears references", func(t *testing.T) {
		rec := &recorder{}
		d, err := New(rec, 4, 4)
		require.NoError(t, err)

		decode(t, d, Picture{POC: 0, FrameID: 0, Output: true, Marking: ShortTerm})
		decode(t, d, Picture{POC: 4, FrameID: 1, Output: true, Marking: LongTerm})
		require.Empty(t, rec.outputs)

		decode(t, d, Picture{POC: 0, FrameID: 2, Output: true, Marking: ShortTerm, NALType: IDR})
		require.Equal(t, []int{0, 1}, rec.outputs)
		require.Equal(t, []int{2}, d.References())
		require.ElementsMatch(t, []int{0, 1}, rec.frames)
	})

	t.Run("output waits for the end of decoding", func(t *testing.T) {
		rec := &recorder{}
		d, err := New(rec, 2, 0)
		require.NoError(t, err)

		require.NoError(t, d.Insert(Picture{FrameID: 3, Output: true, Marking: ShortTerm}))
		require.Empty(t, rec.outputs)
		require.NoError(t, d.EndDecoding(3))
		require.Equal(t, []int{3}, rec.outputs)

		require.Error(t, d.EndDecoding(4))
		require.Error(t, d.Insert(Picture{FrameID: 3}))
	})

	t.Run("non existing pictures are never output", func(t *testing.T) {
		rec := &recorder{}
		d, err := New(rec, 1, 0)
		require.NoError(t, err)

		require.NoError(t, d.Insert(Picture{FrameID: 1, Output: true, Marking: ShortTerm, NonExisting: true}))
		decode(t, d, Picture{FrameID: 2, Output: true, Marking: ShortTerm})
		require.Equal(t, []int{2}, rec.outputs)
		require.Equal(t, []int{1}, rec.frames)
	})
}
