// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

package vcu

import (
	"context"
	"hash/crc32"
	"sync"

	"go.uber.org/zap"

	"storj.io/common/sync2"
	"storj.io/vcu/private/annexb"
	"storj.io/vcu/private/dpb"
	"storj.io/vcu/private/pictmngr"
)

// frameHandler turns the picture NAL units found by the engine into frames
// of the picture manager. Each picture NAL unit is one frame.
type frameHandler struct {
	log      *zap.Logger
	pictures *pictmngr.PictMngr
	dim      Dimension
	ready    *sync2.Event

	mu  sync.Mutex
	poc int
}

// HandleUnit implements annexb.Handler.
func (h *frameHandler) HandleUnit(nal annexb.NALUnit) error {
	if !nal.Type.IsVCL() {
		mon.Counter("decoder_param_units").Inc(1)
		return nil
	}

	if err := h.pictures.BeginFrame(context.Background(), h.dim); err != nil {
		if pictmngr.ErrDecommitted.Has(err) {
			mon.Event("decoder_frame_dropped")
			return nil
		}
		return err
	}
	frameID := h.pictures.CurrentFrameID()
	mvID := h.pictures.CurrentMotionVectorID()

	rec := h.pictures.RecBuffer(frameID)
	if n := copy(rec.Data(), nal.Data); n < len(nal.Data) {
		h.pictures.UpdateDisplayBufferError(frameID, Error.New("picture of %d bytes truncated to %d", len(nal.Data), n))
	}
	h.pictures.UpdateDisplayBufferCRC(frameID, crc32.ChecksumIEEE(rec.Data()))
	h.pictures.UpdateDisplayBufferPicStruct(frameID, pictmngr.PicStructFrame)

	nalType, marking := dpb.NonIDR, dpb.Unused
	if nal.Type == annexb.NALIDR {
		nalType = dpb.IDR
	}
	if nal.RefIDC > 0 {
		marking = dpb.ShortTerm
	}

	h.mu.Lock()
	if nalType == dpb.IDR {
		h.poc = 0
	}
	poc := h.poc
	h.poc += 2
	h.mu.Unlock()

	if err := h.pictures.Insert(poc, poc&0xff, frameID, mvID, true, marking, false, nalType); err != nil {
		h.pictures.CancelFrame()
		return err
	}
	if err := h.pictures.EndDecoding(frameID); err != nil {
		return err
	}

	h.log.Debug("decoded frame", zap.Int("frame", frameID), zap.Int("poc", poc), zap.Int("size", len(nal.Data)))
	h.ready.Signal()
	return nil
}

// Flush implements annexb.Handler.
func (h *frameHandler) Flush() error {
	h.pictures.Flush()
	h.ready.Signal()
	return nil
}

func (h *frameHandler) reset() {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.poc = 0
}
