// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

// Package patchworker copies variable sized input buffers into the single
// circular stream buffer read by the decode engine.
package patchworker

import (
	"sync"

	"github.com/spacemonkeygo/monkit/v3"
	"github.com/zeebo/errs"

	"storj.io/vcu/private/buffer"
	"storj.io/vcu/private/fifo"
)

var (
	mon = monkit.Package()

	// Error is the patchworker errs class.
	Error = errs.Class("patchworker")
)

// Patchworker drains buffers from an input fifo into an output ring, one
// input buffer at a time. A buffer that does not fit completely stays
// current until a later Transfer finds room for the rest.
//
// Transfer is meant to be called from a single goroutine. The mutex only
// protects against a concurrent Reset and readers of the ring state.
type Patchworker struct {
	input  *fifo.Fifo[*buffer.Buffer]
	output *buffer.Buffer
	margin int

	mu          sync.Mutex
	circ        *buffer.CircMeta
	work        *buffer.Buffer
	endOfInput  bool
	endOfOutput bool
}

// New returns a patchworker filling output from input. margin bytes of the
// output are always kept free.
func New(input *fifo.Fifo[*buffer.Buffer], output *buffer.Buffer, margin int) (*Patchworker, error) {
	if margin < 0 || output.Size() <= margin {
		return nil, Error.New("output of %d bytes cannot keep a margin of %d", output.Size(), margin)
	}

	circ := output.Circ()
	if circ == nil {
		circ = new(buffer.CircMeta)
		output.AddMeta(circ)
	}
	circ.Reset(0, false)

	return &Patchworker{
		input:  input,
		output: output,
		margin: margin,
		circ:   circ,
	}, nil
}

// Transfer moves as many bytes of the current input buffer as fit into the
// output ring and returns the amount copied. It never blocks: with no input
// available it returns 0.
func (pw *Patchworker) Transfer() int {
	pw.mu.Lock()
	defer pw.mu.Unlock()

	if pw.endOfOutput {
		return 0
	}

	if pw.work == nil {
		work, ok := pw.input.Dequeue(fifo.NoWait)
		if !ok {
			if pw.endOfInput {
				pw.reachEndOfOutput()
			}
			return 0
		}
		pw.work = work
	}

	meta := inputMeta(pw.work)
	copied := pw.copyToOutput(pw.work.Data()[meta.Offset : meta.Offset+meta.AvailSize])
	meta.Offset += copied
	meta.AvailSize -= copied

	if meta.AvailSize == 0 {
		if meta.LastChunk {
			pw.reachEndOfOutput()
		}
		pw.work.Unref()
		pw.work = nil
	}

	mon.Counter("patchworker_bytes").Inc(int64(copied))
	return copied
}

// Consume releases n bytes at the head of the output ring.
func (pw *Patchworker) Consume(n int) {
	pw.mu.Lock()
	defer pw.mu.Unlock()

	pw.consume(n)
}

// ConsumeTo releases every byte up to the ring position offset and returns
// how many were released.
func (pw *Patchworker) ConsumeTo(offset int) int {
	pw.mu.Lock()
	defer pw.mu.Unlock()

	size := pw.output.Size()
	n := ((offset-pw.circ.Offset)%size + size) % size
	pw.consume(n)
	return n
}

func (pw *Patchworker) consume(n int) {
	if n < 0 || n > pw.circ.AvailSize {
		panic("consumed more than available")
	}
	pw.circ.Offset = (pw.circ.Offset + n) % pw.output.Size()
	pw.circ.AvailSize -= n
}

// View returns a snapshot of the output ring.
func (pw *Patchworker) View() buffer.StreamView {
	pw.mu.Lock()
	defer pw.mu.Unlock()

	return buffer.StreamView{Data: pw.output.Data(), CircMeta: *pw.circ}
}

// IsFull reports whether the output ring has no free byte left.
func (pw *Patchworker) IsFull() bool {
	pw.mu.Lock()
	defer pw.mu.Unlock()

	return pw.circ.AvailSize >= pw.output.Size()-pw.margin
}

// IsAllDataTransfered reports whether the end of the stream has been
// copied into the output ring.
func (pw *Patchworker) IsAllDataTransfered() bool {
	pw.mu.Lock()
	defer pw.mu.Unlock()

	return pw.endOfOutput
}

// NotifyEndOfInput marks that no buffer will follow the ones already queued.
func (pw *Patchworker) NotifyEndOfInput() {
	pw.mu.Lock()
	defer pw.mu.Unlock()

	pw.endOfInput = true
}

// DecommitInput decommits the input fifo, so queuing further buffers fails
// and blocked producers return.
func (pw *Patchworker) DecommitInput() { pw.input.Decommit() }

// Reset drops the current and queued input buffers and empties the output
// ring.
func (pw *Patchworker) Reset() {
	pw.mu.Lock()
	defer pw.mu.Unlock()

	if pw.work != nil {
		pw.work.Unref()
		pw.work = nil
	}
	pw.input.Drain((*buffer.Buffer).Unref)

	pw.circ.Reset(0, false)
	pw.endOfInput = false
	pw.endOfOutput = false
}

func (pw *Patchworker) reachEndOfOutput() {
	pw.endOfOutput = true
	pw.circ.LastChunk = true
}

func (pw *Patchworker) copyToOutput(src []byte) int {
	out := pw.output.Data()
	free := len(out) - pw.circ.AvailSize - pw.margin
	n := min(free, len(src))
	if n <= 0 {
		return 0
	}

	write := (pw.circ.Offset + pw.circ.AvailSize) % len(out)
	first := copy(out[write:], src[:n])
	copy(out, src[first:n])

	pw.circ.AvailSize += n
	return n
}

// inputMeta returns the circular metadata of an input buffer, attaching one
// describing the whole buffer when there is none.
func inputMeta(b *buffer.Buffer) *buffer.CircMeta {
	if meta := b.Circ(); meta != nil {
		return meta
	}
	meta := &buffer.CircMeta{AvailSize: b.Size()}
	b.AddMeta(meta)
	return meta
}
