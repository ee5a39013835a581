// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

// Package annexb parses H.264 Annex-B byte streams and implements the
// reference decode engine driven by the feeders.
package annexb

import (
	"bytes"

	"github.com/zeebo/errs"
)

// Error is the annexb errs class.
var Error = errs.Class("annexb")

var startCode = []byte{0, 0, 1}

// NALType is the nal_unit_type of a NAL unit header.
type NALType uint8

// NAL unit types.
const (
	NALSlice         NALType = 1
	NALSliceA        NALType = 2
	NALSliceB        NALType = 3
	NALSliceC        NALType = 4
	NALIDR           NALType = 5
	NALSEI           NALType = 6
	NALSPS           NALType = 7
	NALPPS           NALType = 8
	NALAUD           NALType = 9
	NALEndOfSequence NALType = 10
	NALEndOfStream   NALType = 11
	NALFiller        NALType = 12
)

// IsVCL reports whether units of this type carry picture data.
func (t NALType) IsVCL() bool { return t >= NALSlice && t <= NALIDR }

// Header is a parsed NAL unit header byte.
type Header struct {
	RefIDC uint8
	Type   NALType
}

// ParseHeader parses the first byte of a NAL unit.
func ParseHeader(b byte) (Header, error) {
	if b&0x80 != 0 {
		return Header{}, Error.New("forbidden zero bit set in header %#02x", b)
	}
	return Header{
		RefIDC: (b >> 5) & 0x3,
		Type:   NALType(b & 0x1f),
	}, nil
}

// NALUnit is a NAL unit without its start code. Data includes the header
// byte.
type NALUnit struct {
	Header
	Data []byte
}

// FindStartCode returns the index of the first 0x000001 start code at or
// after from, or -1.
func FindStartCode(data []byte, from int) int {
	if from >= len(data) {
		return -1
	}
	i := bytes.Index(data[from:], startCode)
	if i < 0 {
		return -1
	}
	return from + i
}

// trimTrailingZeros drops the trailing_zero_8bits and the leading zero of a
// following four byte start code.
func trimTrailingZeros(nal []byte) []byte {
	for len(nal) > 0 && nal[len(nal)-1] == 0 {
		nal = nal[:len(nal)-1]
	}
	return nal
}

// SplitNALUnits splits an Annex-B stream into NAL units. The returned slices
// alias data. Bytes before the first start code are ignored.
func SplitNALUnits(data []byte) [][]byte {
	var nals [][]byte

	pos := FindStartCode(data, 0)
	for pos >= 0 {
		start := pos + len(startCode)
		next := FindStartCode(data, start)
		end := next
		if end < 0 {
			end = len(data)
		}
		if nal := trimTrailingZeros(data[start:end]); len(nal) > 0 {
			nals = append(nals, nal)
		}
		pos = next
	}
	return nals
}

// ParseNALUnit parses the header of a NAL unit.
func ParseNALUnit(data []byte) (NALUnit, error) {
	if len(data) == 0 {
		return NALUnit{}, Error.New("empty nal unit")
	}
	header, err := ParseHeader(data[0])
	if err != nil {
		return NALUnit{}, err
	}
	return NALUnit{Header: header, Data: data}, nil
}

// UnescapeRBSP removes the emulation prevention bytes of a NAL unit payload,
// appending the raw byte sequence payload to dst.
func UnescapeRBSP(dst, nal []byte) []byte {
	zeros := 0
	for _, b := range nal {
		if zeros >= 2 && b == 3 {
			zeros = 0
			continue
		}
		dst = append(dst, b)
		if b == 0 {
			zeros++
		} else {
			zeros = 0
		}
	}
	return dst
}
