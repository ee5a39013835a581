// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

package buffer

// MetaType identifies a kind of metadata attachable to a Buffer.
type MetaType int

const (
	// MetaCircular is the type of CircMeta.
	MetaCircular MetaType = iota + 1
	// MetaSei is the type of SeiMeta.
	MetaSei
	// MetaPixMap is the type of PixMapMeta.
	MetaPixMap
)

// Meta is metadata attached to a Buffer.
type Meta interface {
	MetaType() MetaType
}

// CircMeta describes the unread part of a buffer used as a ring: AvailSize
// bytes starting at Offset, wrapping at the end of the buffer. LastChunk
// marks the end of the stream.
type CircMeta struct {
	Offset    int
	AvailSize int
	LastChunk bool
}

// MetaType implements Meta.
func (*CircMeta) MetaType() MetaType { return MetaCircular }

// Reset sets the description to cover size bytes from the beginning.
func (m *CircMeta) Reset(size int, last bool) {
	m.Offset = 0
	m.AvailSize = size
	m.LastChunk = last
}

// SeiMeta counts the SEI messages parsed out of a buffer.
type SeiMeta struct {
	NumPayloads int
	Payloads    [][]byte
}

// MetaType implements Meta.
func (*SeiMeta) MetaType() MetaType { return MetaSei }

// Reset forgets every recorded payload.
func (m *SeiMeta) Reset() {
	m.NumPayloads = 0
	m.Payloads = m.Payloads[:0]
}

// Dimension is a picture size in pixels.
type Dimension struct {
	Width  int
	Height int
}

// FrameSize returns the byte size of a 4:2:0 8-bit picture of this dimension.
func (d Dimension) FrameSize() int {
	return d.Width * d.Height * 3 / 2
}

// PixMapMeta records the picture dimension held by a frame buffer.
type PixMapMeta struct {
	Dim Dimension
}

// MetaType implements Meta.
func (*PixMapMeta) MetaType() MetaType { return MetaPixMap }

// StreamView is a snapshot of a circular stream buffer handed to the
// decode engine.
type StreamView struct {
	Data []byte
	CircMeta
}

// Capacity returns the ring size.
func (v StreamView) Capacity() int { return len(v.Data) }

// At returns the i-th available byte, counting from Offset.
func (v StreamView) At(i int) byte {
	return v.Data[(v.Offset+i)%len(v.Data)]
}

// Bytes appends the available bytes, unwrapped, to dst.
func (v StreamView) Bytes(dst []byte) []byte {
	if v.AvailSize == 0 {
		return dst
	}
	end := v.Offset + v.AvailSize
	if end <= len(v.Data) {
		return append(dst, v.Data[v.Offset:end]...)
	}
	dst = append(dst, v.Data[v.Offset:]...)
	return append(dst, v.Data[:end-len(v.Data)]...)
}
