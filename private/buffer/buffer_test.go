// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

package buffer

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBuffer(t *testing.T) {
	t.Run("release callback on last unref", func(t *testing.T) {
		released := 0
		b := Alloc(16, func(*Buffer) { released++ })
		require.Equal(t, int32(1), b.RefCount())

		b.Ref()
		b.Unref()
		require.Equal(t, 0, released)

		b.Unref()
		require.Equal(t, 1, released)
	})

	t.Run("extra release panics", func(t *testing.T) {
		b := Alloc(1, nil)
		b.Unref()
		require.Panics(t, b.Unref)
		require.Panics(t, b.Ref)
	})

	t.Run("metadata", func(t *testing.T) {
		b := Alloc(8, nil)
		require.Nil(t, b.Circ())

		require.True(t, b.AddMeta(&CircMeta{AvailSize: 8}))
		require.False(t, b.AddMeta(&CircMeta{}))
		require.Equal(t, 8, b.Circ().AvailSize)

		require.True(t, b.AddMeta(&PixMapMeta{Dim: Dimension{Width: 4, Height: 2}}))
		require.Equal(t, 12, b.PixMap().Dim.FrameSize())

		b.RemoveMeta(MetaCircular)
		require.Nil(t, b.Circ())
		require.Nil(t, b.Sei())
	})

	t.Run("clean", func(t *testing.T) {
		b := New([]byte{1, 2, 3}, nil)
		b.Clean()
		require.Equal(t, []byte{0, 0, 0}, b.Data())
	})
}

func TestStreamView(t *testing.T) {
	view := StreamView{
		Data:     []byte{5, 6, 7, 1, 2, 3, 4},
		CircMeta: CircMeta{Offset: 3, AvailSize: 6},
	}
	require.Equal(t, []byte{1, 2, 3, 4, 5, 6}, view.Bytes(nil))
	require.Equal(t, byte(5), view.At(4))
	require.Equal(t, 7, view.Capacity())

	view.AvailSize = 2
	require.Equal(t, []byte{1, 2}, view.Bytes(nil))

	view.AvailSize = 0
	require.Empty(t, view.Bytes(nil))
}
