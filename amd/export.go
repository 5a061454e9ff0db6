// Copyright 2025 The GoGPU Authors
// SPDX-License-Identifier: MIT

package amd

import "fortio.org/safecast"

// MiscLayout identifies how point size, edge flag, shading rate, layer and
// viewport are packed into the position misc vector.
type MiscLayout uint8

const (
	// MiscGen1 is the GFX10 layout: word1 holds the edge flag, word2 packs the
	// layer into bits [19:17] and the viewport into bits [23:20], word3 holds
	// the X and Y shading rates in bits [3:2] and [5:4].
	MiscGen1 MiscLayout = iota

	// MiscGen2 is the GFX11+ layout: word2 packs the layer into bits [12:0],
	// the viewport from bit 13 and a shading rate enum into bits [31:28].
	// The edge flag travels in the primitive export.
	MiscGen2
)

// Gen1 field positions.
const (
	Gen1LayerShift    = 17
	Gen1LayerMask     = 0x7
	Gen1ViewportShift = 20
	Gen1ViewportMask  = 0xf
	Gen1RateXShift    = 2
	Gen1RateYShift    = 4
)

// Gen2 field positions.
const (
	Gen2LayerMask     = 0x1fff
	Gen2ViewportShift = 13
	Gen2RateShift     = 28
)

// ForcedShadingRate is the 2x2 coarse rate used when VRS is forced.
// Rates are encoded as log2(width)<<2 | log2(height).
const ForcedShadingRate = 1<<2 | 1

// MiscFields is the decoded content of a position misc vector.
type MiscFields struct {
	PointSize float32
	EdgeFlag  bool
	Layer     uint32
	Viewport  uint32
	// Rate is log2(width)<<2 | log2(height).
	Rate uint32
}

// PackMiscWords returns words 1 to 3 of the misc vector. Word 0 holds the
// point size and is not packed.
func (m MiscLayout) PackMiscWords(f MiscFields) (w1, w2, w3 uint32) {
	switch m {
	case MiscGen1:
		if f.EdgeFlag {
			w1 = 1
		}
		w2 = (f.Layer&Gen1LayerMask)<<Gen1LayerShift | (f.Viewport&Gen1ViewportMask)<<Gen1ViewportShift
		w3 = (f.Rate>>2&3)<<Gen1RateXShift | (f.Rate&3)<<Gen1RateYShift
	default:
		w2 = f.Layer&Gen2LayerMask | f.Viewport<<Gen2ViewportShift | (f.Rate&0xf)<<Gen2RateShift
	}
	return w1, w2, w3
}

// UnpackMiscWords decodes words 1 to 3 of the misc vector.
func (m MiscLayout) UnpackMiscWords(w1, w2, w3 uint32) MiscFields {
	var f MiscFields
	switch m {
	case MiscGen1:
		f.EdgeFlag = w1&1 != 0
		f.Layer = w2 >> Gen1LayerShift & Gen1LayerMask
		f.Viewport = w2 >> Gen1ViewportShift & Gen1ViewportMask
		f.Rate = (w3>>Gen1RateXShift&3)<<2 | w3>>Gen1RateYShift&3
	default:
		f.Layer = w2 & Gen2LayerMask
		f.Viewport = w2 >> Gen2ViewportShift & 0x7fff
		f.Rate = w2 >> Gen2RateShift
	}
	return f
}

// PrimNullFlag marks a primitive export that produces no primitive.
const PrimNullFlag = 1 << 31

// PrimExport describes one primitive export argument.
type PrimExport struct {
	Indices   [3]uint32
	EdgeFlags [3]bool
	Null      bool
}

// PrimEdgeFlagBit returns the bit holding the edge flag of vertex i, or -1
// when the generation has no edge flags in the primitive export.
func (hw HWInfo) PrimEdgeFlagBit(i int) int {
	if !hw.HasPrimEdgeFlags {
		return -1
	}
	return i*int(hw.PrimIndexBits) + 9
}

// PrimIndexMask masks one vertex index.
const PrimIndexMask = 0x1ff

// PackPrimExport encodes a primitive export argument.
func (hw HWInfo) PackPrimExport(p PrimExport, numVertices int) uint32 {
	var v uint32
	for i := 0; i < numVertices; i++ {
		shift := safecast.MustConv[uint32](i * int(hw.PrimIndexBits))
		v |= (p.Indices[i] & PrimIndexMask) << shift
		if bit := hw.PrimEdgeFlagBit(i); bit >= 0 && p.EdgeFlags[i] {
			v |= 1 << safecast.MustConv[uint32](bit)
		}
	}
	if p.Null {
		v |= PrimNullFlag
	}
	return v
}

// UnpackPrimExport decodes a primitive export argument.
func (hw HWInfo) UnpackPrimExport(v uint32, numVertices int) PrimExport {
	var p PrimExport
	for i := 0; i < numVertices; i++ {
		shift := safecast.MustConv[uint32](i * int(hw.PrimIndexBits))
		p.Indices[i] = v >> shift & PrimIndexMask
		if bit := hw.PrimEdgeFlagBit(i); bit >= 0 {
			p.EdgeFlags[i] = v>>safecast.MustConv[uint32](bit)&1 != 0
		}
	}
	p.Null = v&PrimNullFlag != 0
	return p
}
