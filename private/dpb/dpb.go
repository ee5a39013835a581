// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

// Package dpb implements the decoded picture buffer: reference marking of
// decoded frames and their ordering for display.
package dpb

import (
	"sort"
	"sync"

	"github.com/spacemonkeygo/monkit/v3"
	"github.com/zeebo/errs"
)

var (
	mon = monkit.Package()

	// Error is the dpb errs class.
	Error = errs.Class("dpb")
)

// Marking is the reference marking of a picture.
type Marking int

const (
	// Unused pictures are not used for reference.
	Unused Marking = iota
	// ShortTerm pictures are released by the sliding window.
	ShortTerm
	// LongTerm pictures stay until an IDR or a flush.
	LongTerm
)

// String implements fmt.Stringer.
func (m Marking) String() string {
	switch m {
	case Unused:
		return "unused"
	case ShortTerm:
		return "short-term"
	case LongTerm:
		return "long-term"
	default:
		return "unknown"
	}
}

// NALType distinguishes the pictures which reset the DPB.
type NALType int

const (
	// NonIDR is a regular picture.
	NonIDR NALType = iota
	// IDR pictures clear every reference and start a new POC sequence.
	IDR
)

// Manager receives the transitions of the pictures held by the DPB.
//
// The callbacks are called without any DPB lock held so the manager may call
// back into the DPB.
type Manager interface {
	// OutputFrame hands the frame over for display.
	OutputFrame(frameID int)
	// ReleaseFrame drops the reference the DPB took on the frame.
	ReleaseFrame(frameID int)
	// ReleaseMotionVector drops the reference the DPB took on the motion
	// vector buffer.
	ReleaseMotionVector(mvID int)
}

// Picture describes a picture inserted into the DPB.
type Picture struct {
	POC         int
	POCLsb      int
	FrameID     int
	MotionVecID int
	Output      bool
	Marking     Marking
	NonExisting bool
	NALType     NALType
}

type node struct {
	Picture
	decoded bool
	order   int
}

// Dpb holds the decoded pictures still needed for reference or display.
type Dpb struct {
	manager       Manager
	maxReferences int
	reorderDepth  int

	mu    sync.Mutex
	nodes []*node
	order int
}

// New returns a DPB keeping at most maxReferences reference pictures and
// delaying output until more than reorderDepth decoded pictures await
// display.
func New(manager Manager, maxReferences, reorderDepth int) (*Dpb, error) {
	if maxReferences < 1 {
		return nil, Error.New("invalid number of reference frames %d", maxReferences)
	}
	if reorderDepth < 0 {
		return nil, Error.New("invalid reorder depth %d", reorderDepth)
	}
	return &Dpb{
		manager:       manager,
		maxReferences: maxReferences,
		reorderDepth:  reorderDepth,
	}, nil
}

// actions are the manager callbacks collected under the lock.
type actions struct {
	outputs []int
	frames  []int
	vectors []int
}

func (a *actions) run(m Manager) {
	for _, id := range a.outputs {
		m.OutputFrame(id)
	}
	for _, id := range a.frames {
		m.ReleaseFrame(id)
	}
	for _, id := range a.vectors {
		m.ReleaseMotionVector(id)
	}
}

// Insert adds a picture whose decoding has started.
func (d *Dpb) Insert(pic Picture) error {
	var acts actions
	err := func() error {
		d.mu.Lock()
		defer d.mu.Unlock()

		if d.find(pic.FrameID) != nil {
			return Error.New("frame %d already in dpb", pic.FrameID)
		}

		if pic.NALType == IDR {
			d.bump(&acts, 0)
			for _, n := range d.nodes {
				n.Marking = Unused
			}
			d.collect(&acts)
		}

		if pic.Marking != Unused {
			d.slideWindow()
			d.collect(&acts)
		}
		if pic.NonExisting {
			pic.Output = false
		}

		d.order++
		d.nodes = append(d.nodes, &node{
			Picture: pic,
			decoded: pic.NonExisting,
			order:   d.order,
		})
		return nil
	}()
	acts.run(d.manager)
	mon.IntVal("dpb_size").Observe(int64(d.Len()))
	return err
}

// EndDecoding marks the frame as decoded, making it eligible for display.
func (d *Dpb) EndDecoding(frameID int) error {
	var acts actions
	err := func() error {
		d.mu.Lock()
		defer d.mu.Unlock()

		n := d.find(frameID)
		if n == nil {
			return Error.New("frame %d not in dpb", frameID)
		}
		n.decoded = true

		d.bump(&acts, d.reorderDepth)
		d.collect(&acts)
		return nil
	}()
	acts.run(d.manager)
	return err
}

// Flush outputs every pending picture in POC order and empties the DPB.
func (d *Dpb) Flush() {
	var acts actions
	func() {
		d.mu.Lock()
		defer d.mu.Unlock()

		d.bump(&acts, 0)
		for _, n := range d.nodes {
			n.Marking = Unused
			n.Output = false
		}
		d.collect(&acts)
	}()
	acts.run(d.manager)
	mon.Counter("dpb_flush").Inc(1)
}

// Len returns the number of pictures held.
func (d *Dpb) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()

	return len(d.nodes)
}

// References returns the frame IDs currently marked for reference, oldest
// first.
func (d *Dpb) References() []int {
	d.mu.Lock()
	defer d.mu.Unlock()

	var ids []int
	for _, n := range d.nodes {
		if n.Marking != Unused {
			ids = append(ids, n.FrameID)
		}
	}
	return ids
}

func (d *Dpb) find(frameID int) *node {
	for _, n := range d.nodes {
		if n.FrameID == frameID {
			return n
		}
	}
	return nil
}

// slideWindow unmarks the oldest short-term reference pictures until there
// is room for one more reference.
func (d *Dpb) slideWindow() {
	for {
		var refs int
		var oldest *node
		for _, n := range d.nodes {
			if n.Marking == Unused {
				continue
			}
			refs++
			if n.Marking == ShortTerm && (oldest == nil || n.order < oldest.order) {
				oldest = n
			}
		}
		if refs < d.maxReferences || oldest == nil {
			return
		}
		oldest.Marking = Unused
	}
}

// bump outputs decoded pictures in POC order while more than depth of them
// await display.
func (d *Dpb) bump(acts *actions, depth int) {
	for {
		var pending []*node
		for _, n := range d.nodes {
			if n.Output && n.decoded {
				pending = append(pending, n)
			}
		}
		if len(pending) <= depth || len(pending) == 0 {
			return
		}
		sort.Slice(pending, func(i, j int) bool {
			if pending[i].POC != pending[j].POC {
				return pending[i].POC < pending[j].POC
			}
			return pending[i].order < pending[j].order
		})

		next := pending[0]
		next.Output = false
		acts.outputs = append(acts.outputs, next.FrameID)
	}
}

// collect removes the pictures needed neither for reference nor display.
func (d *Dpb) collect(acts *actions) {
	kept := d.nodes[:0]
	for _, n := range d.nodes {
		if n.Marking != Unused || n.Output || !n.decoded {
			kept = append(kept, n)
			continue
		}
		acts.frames = append(acts.frames, n.FrameID)
		acts.vectors = append(acts.vectors, n.MotionVecID)
	}
	clear(d.nodes[len(kept):])
	d.nodes = kept
}
