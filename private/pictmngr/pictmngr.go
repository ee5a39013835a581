// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

// Package pictmngr tracks the frame buffers and motion vector buffers of a
// decode channel from their allocation for decoding until their display.
package pictmngr

import (
	"context"
	"sync"

	"github.com/spacemonkeygo/monkit/v3"
	"github.com/zeebo/errs"
	"go.uber.org/zap"

	"storj.io/vcu/private/buffer"
	"storj.io/vcu/private/dpb"
	"storj.io/vcu/private/fifo"
)

var (
	mon = monkit.Package()

	// Error is the pictmngr errs class.
	Error = errs.Class("pictmngr")

	// ErrDecommitted is returned by blocking calls once the pools are
	// decommitted.
	ErrDecommitted = errs.Class("pool decommitted")
)

// UndefID is the id of no frame or motion vector buffer.
const UndefID = -1

// Crop is the number of pixels to hide on each side of a picture.
type Crop struct {
	Left   int
	Right  int
	Top    int
	Bottom int
}

// PicStruct describes how a decoded picture should be displayed.
type PicStruct int

const (
	// PicStructFrame is a progressive frame.
	PicStructFrame PicStruct = iota
	// PicStructTopField is a top field.
	PicStructTopField
	// PicStructBottomField is a bottom field.
	PicStructBottomField
)

// DisplayInfo describes a frame handed out for display.
type DisplayInfo struct {
	FrameID     int
	Dim         buffer.Dimension
	CRC         uint32
	Crop        Crop
	PicStruct   PicStruct
	Err         error
	EndOfStream bool
}

// Stats is a snapshot of the frame pool.
type Stats struct {
	Adopted       int
	Free          int
	InUse         int
	PendingOutput int

	FreeMotionVectors int
}

// Config configures a PictMngr.
type Config struct {
	Log *zap.Logger

	FramePoolSize        int
	MotionVectorPoolSize int
	MaxReferenceFrames   int
	ReorderDepth         int
}

// PictMngr is the picture manager of one decode channel.
type PictMngr struct {
	log     *zap.Logger
	frames  *framePool
	vectors *mvPool
	dpb     *dpb.Dpb
	display *fifo.Fifo[int]

	mu           sync.Mutex
	currentFrame int
	currentMV    int
}

// New returns a picture manager with empty pools. Frame buffers are added
// with PutDisplayBuffer.
func New(config Config) (*PictMngr, error) {
	if config.Log == nil {
		config.Log = zap.NewNop()
	}

	frames, err := newFramePool(config.FramePoolSize)
	if err != nil {
		return nil, err
	}
	vectors, err := newMVPool(config.MotionVectorPoolSize)
	if err != nil {
		return nil, err
	}
	// each frame is queued for display at most once, plus end markers.
	display, err := fifo.New[int](2*config.FramePoolSize + 1)
	if err != nil {
		return nil, Error.Wrap(err)
	}

	pm := &PictMngr{
		log:          config.Log,
		frames:       frames,
		vectors:      vectors,
		display:      display,
		currentFrame: UndefID,
		currentMV:    UndefID,
	}
	pm.dpb, err = dpb.New(dpbManager{pm}, config.MaxReferenceFrames, config.ReorderDepth)
	if err != nil {
		return nil, Error.Wrap(err)
	}
	return pm, nil
}

// BeginFrame waits for a free frame buffer and a free motion vector buffer
// to decode a picture of dimension dim into. A free buffer is used even when
// ctx is already done.
func (pm *PictMngr) BeginFrame(ctx context.Context, dim buffer.Dimension) (err error) {
	defer mon.Task()(&ctx)(&err)

	frameID := pm.frames.pop(ctx)
	if frameID == UndefID {
		if pm.frames.isDecommitted() {
			return ErrDecommitted.New("frame pool")
		}
		return Error.New("no free frame buffer: %v", ctx.Err())
	}

	buf := pm.RecBuffer(frameID)
	if buf.Size() < dim.FrameSize() {
		pm.frames.decrement(frameID)
		return Error.New("frame buffer of %d bytes too small for %dx%d", buf.Size(), dim.Width, dim.Height)
	}
	buf.Clean()
	if meta := buf.PixMap(); meta != nil {
		meta.Dim = dim
	} else {
		buf.AddMeta(&buffer.PixMapMeta{Dim: dim})
	}

	mvID, err := pm.vectors.getFreeBufID(ctx)
	if err != nil {
		pm.frames.decrement(frameID)
		return err
	}

	pm.frames.mu.Lock()
	slot := pm.frames.slotLocked(frameID)
	slot.mvID = mvID
	slot.info.Dim = dim
	pm.frames.mu.Unlock()

	pm.mu.Lock()
	pm.currentFrame, pm.currentMV = frameID, mvID
	pm.mu.Unlock()

	pm.log.Debug("begin frame", zap.Int("frame", frameID), zap.Int("mv", mvID))
	return nil
}

// CancelFrame gives back the buffers of the frame being started.
func (pm *PictMngr) CancelFrame() {
	pm.mu.Lock()
	frameID, mvID := pm.currentFrame, pm.currentMV
	pm.currentFrame, pm.currentMV = UndefID, UndefID
	pm.mu.Unlock()

	if frameID != UndefID {
		pm.frames.decrement(frameID)
	}
	if mvID != UndefID {
		pm.vectors.decrement(mvID)
	}
	mon.Event("pictmngr_cancel_frame")
}

// CurrentFrameID returns the frame started by the last BeginFrame.
func (pm *PictMngr) CurrentFrameID() int {
	pm.mu.Lock()
	defer pm.mu.Unlock()

	return pm.currentFrame
}

// CurrentMotionVectorID returns the motion vector buffer obtained by the
// last BeginFrame.
func (pm *PictMngr) CurrentMotionVectorID() int {
	pm.mu.Lock()
	defer pm.mu.Unlock()

	return pm.currentMV
}

// RecBuffer returns the reconstructed buffer of a frame.
func (pm *PictMngr) RecBuffer(frameID int) *buffer.Buffer {
	pm.frames.mu.Lock()
	defer pm.frames.mu.Unlock()

	return pm.frames.slotLocked(frameID).buf
}

// Insert hands a started frame over to the DPB, which keeps a reference on
// the frame and the motion vector buffers.
func (pm *PictMngr) Insert(poc, pocLsb, frameID, mvID int, output bool, marking dpb.Marking, nonExisting bool, nalType dpb.NALType) error {
	pm.frames.increment(frameID)
	pm.vectors.increment(mvID)

	err := pm.dpb.Insert(dpb.Picture{
		POC:         poc,
		POCLsb:      pocLsb,
		FrameID:     frameID,
		MotionVecID: mvID,
		Output:      output,
		Marking:     marking,
		NonExisting: nonExisting,
		NALType:     nalType,
	})
	if err != nil {
		pm.frames.decrement(frameID)
		pm.vectors.decrement(mvID)
		return Error.Wrap(err)
	}
	return nil
}

// EndDecoding signals that the frame is decoded and drops the references
// taken by BeginFrame.
func (pm *PictMngr) EndDecoding(frameID int) error {
	pm.frames.mu.Lock()
	mvID := pm.frames.slotLocked(frameID).mvID
	pm.frames.mu.Unlock()

	err := pm.dpb.EndDecoding(frameID)

	pm.mu.Lock()
	if pm.currentFrame == frameID {
		pm.currentFrame, pm.currentMV = UndefID, UndefID
	}
	pm.mu.Unlock()

	pm.frames.decrement(frameID)
	if mvID != UndefID {
		pm.vectors.decrement(mvID)
	}
	return Error.Wrap(err)
}

// IncrementFrameBuffer adds a reference on a frame in use.
func (pm *PictMngr) IncrementFrameBuffer(frameID int) { pm.frames.increment(frameID) }

// DecrementFrameBuffer drops a reference on a frame. The last reference
// either frees a frame queued for display or puts it back in the free list.
func (pm *PictMngr) DecrementFrameBuffer(frameID int) { pm.frames.decrement(frameID) }

// IncrementMotionVector adds a reference on a motion vector buffer in use.
func (pm *PictMngr) IncrementMotionVector(mvID int) { pm.vectors.increment(mvID) }

// DecrementMotionVector drops a reference on a motion vector buffer.
func (pm *PictMngr) DecrementMotionVector(mvID int) { pm.vectors.decrement(mvID) }

// GetDisplayBuffer returns the next frame to display with its display
// reference, or nil when none is ready. The end of a flushed stream is
// reported with a nil buffer and EndOfStream set.
func (pm *PictMngr) GetDisplayBuffer() (*buffer.Buffer, DisplayInfo) {
	frameID, ok := pm.display.Dequeue(fifo.NoWait)
	if !ok {
		return nil, DisplayInfo{FrameID: UndefID}
	}
	if frameID == UndefID {
		return nil, DisplayInfo{FrameID: UndefID, EndOfStream: true}
	}

	pm.frames.mu.Lock()
	defer pm.frames.mu.Unlock()

	slot := pm.frames.slotLocked(frameID)
	return slot.buf, slot.info
}

// PutDisplayBuffer hands a buffer to the pool. A buffer seen for the first
// time is adopted into the free list, a known buffer gives back its display
// reference.
func (pm *PictMngr) PutDisplayBuffer(buf *buffer.Buffer) error {
	frameID, known, err := pm.frames.adopt(buf)
	if err != nil {
		return err
	}
	if !known {
		pm.log.Debug("adopted frame buffer", zap.Int("frame", frameID), zap.Int("size", buf.Size()))
		return nil
	}
	return pm.frames.giveBack(frameID)
}

// GetUnusedDisplayBuffer removes a free buffer from the pool and returns it,
// or nil when every buffer is busy.
func (pm *PictMngr) GetUnusedDisplayBuffer() *buffer.Buffer {
	return pm.frames.takeUnused()
}

// GetRecBufferFromDisplayBuffer returns the reconstructed buffer behind a
// display buffer, or nil for a buffer unknown to the pool.
func (pm *PictMngr) GetRecBufferFromDisplayBuffer(buf *buffer.Buffer) (*buffer.Buffer, DisplayInfo) {
	pm.frames.mu.Lock()
	defer pm.frames.mu.Unlock()

	frameID := pm.frames.lookupLocked(buf)
	if frameID == UndefID {
		return nil, DisplayInfo{FrameID: UndefID}
	}
	slot := pm.frames.slotLocked(frameID)
	return slot.buf, slot.info
}

// SignalCallbackDisplayIsDone gives back the display reference of a frame
// handed out for display.
func (pm *PictMngr) SignalCallbackDisplayIsDone(buf *buffer.Buffer) error {
	frameID := pm.frames.lookup(buf)
	if frameID == UndefID {
		return Error.New("unknown display buffer")
	}
	return pm.frames.giveBack(frameID)
}

// SignalCallbackReleaseIsDone removes a buffer which is not in use from the
// pool.
func (pm *PictMngr) SignalCallbackReleaseIsDone(buf *buffer.Buffer) error {
	frameID := pm.frames.lookup(buf)
	if frameID == UndefID {
		return Error.New("unknown display buffer")
	}
	return pm.frames.remove(frameID)
}

// UpdateDisplayBufferCRC records the checksum of a decoded frame.
func (pm *PictMngr) UpdateDisplayBufferCRC(frameID int, crc uint32) {
	pm.updateInfo(frameID, func(info *DisplayInfo) { info.CRC = crc })
}

// UpdateDisplayBufferCrop records the cropping of a decoded frame.
func (pm *PictMngr) UpdateDisplayBufferCrop(frameID int, crop Crop) {
	pm.updateInfo(frameID, func(info *DisplayInfo) { info.Crop = crop })
}

// UpdateDisplayBufferPicStruct records the picture structure of a decoded
// frame.
func (pm *PictMngr) UpdateDisplayBufferPicStruct(frameID int, picStruct PicStruct) {
	pm.updateInfo(frameID, func(info *DisplayInfo) { info.PicStruct = picStruct })
}

// UpdateDisplayBufferError records a decoding error of a frame.
func (pm *PictMngr) UpdateDisplayBufferError(frameID int, err error) {
	pm.updateInfo(frameID, func(info *DisplayInfo) { info.Err = err })
}

func (pm *PictMngr) updateInfo(frameID int, fn func(*DisplayInfo)) {
	pm.frames.mu.Lock()
	defer pm.frames.mu.Unlock()

	fn(&pm.frames.slotLocked(frameID).info)
}

// Flush outputs every frame still in the DPB and marks the end of the
// stream for display.
func (pm *PictMngr) Flush() {
	pm.dpb.Flush()
	if !pm.display.Queue(UndefID, fifo.NoWait) {
		pm.log.Error("display queue full, end of stream lost")
	}
}

// DecommitPool fails every blocked and future BeginFrame.
func (pm *PictMngr) DecommitPool() {
	pm.frames.decommit()
	pm.vectors.decommit()
	mon.Event("pictmngr_decommit")
}

// Stats returns a snapshot of the pools.
func (pm *PictMngr) Stats() Stats {
	stats := pm.frames.stats()
	stats.FreeMotionVectors = pm.vectors.numFree()
	return stats
}

// References returns the frames held by the DPB for reference.
func (pm *PictMngr) References() []int { return pm.dpb.References() }

type dpbManager struct{ pm *PictMngr }

// OutputFrame queues the frame for display.
func (m dpbManager) OutputFrame(frameID int) {
	m.pm.frames.markOutput(frameID)
	if !m.pm.display.Queue(frameID, fifo.NoWait) {
		// the DPB still holds the frame, so it goes back to the free list
		// once released.
		m.pm.frames.unmarkOutput(frameID)
		mon.Event("pictmngr_output_dropped")
		m.pm.log.Error("display queue full, frame dropped", zap.Int("frame", frameID))
		return
	}
	mon.Counter("pictmngr_output").Inc(1)
}

// ReleaseFrame drops the DPB reference of the frame.
func (m dpbManager) ReleaseFrame(frameID int) { m.pm.frames.decrement(frameID) }

// ReleaseMotionVector drops the DPB reference of the motion vector buffer.
func (m dpbManager) ReleaseMotionVector(mvID int) { m.pm.vectors.decrement(mvID) }
