// Copyright 2025 The GoGPU Authors
// SPDX-License-Identifier: MIT

package amd

// HWInfo lists the generation-dependent behavior the lowering passes check
// before emitting code.
type HWInfo struct {
	Gfx GfxLevel

	// HasUdot4x8 selects the dot-product prefix sum over SAD.
	HasUdot4x8 bool

	// HasAttrRing means parameters are stored to the attribute ring
	// instead of exported.
	HasAttrRing bool

	// NeedsAttrRingWait means attribute ring stores must be made visible with
	// a release barrier before the last position export.
	NeedsAttrRingWait bool

	// NeedsValidMask sets the valid-mask flag on the first position export.
	NeedsValidMask bool

	// NeedsFullyCulledWorkaround means a workgroup must never allocate zero
	// vertices and primitives.
	NeedsFullyCulledWorkaround bool

	// HasPrimEdgeFlags means the primitive export carries edge flags.
	HasPrimEdgeFlags bool

	// HasOrderedAdd64 selects the 64-bit ordered add stream-out protocol
	// instead of the ordered counter registers.
	HasOrderedAdd64 bool

	// HasPipelineStatCounters means shaders can increment the generated
	// primitive and invocation query counters.
	HasPipelineStatCounters bool

	// HasVRS means the shading rate can be written per vertex.
	HasVRS bool

	// Misc selects the layout of the position misc vector.
	Misc MiscLayout

	// PrimIndexBits is the width of one vertex index in a primitive export.
	PrimIndexBits uint
}

// Info returns the hardware description of g.
func Info(g GfxLevel) HWInfo {
	hw := HWInfo{
		Gfx:                        g,
		HasUdot4x8:                 g >= GFX10_3,
		HasAttrRing:                g >= GFX11,
		NeedsAttrRingWait:          g == GFX11 || g == GFX11_5,
		NeedsValidMask:             g == GFX10,
		NeedsFullyCulledWorkaround: g == GFX10,
		HasPrimEdgeFlags:           g < GFX11,
		HasOrderedAdd64:            g >= GFX12,
		HasPipelineStatCounters:    g >= GFX10_3,
		HasVRS:                     g >= GFX10_3,
		Misc:                       MiscGen1,
		PrimIndexBits:              10,
	}
	if g >= GFX11 {
		hw.Misc = MiscGen2
	}
	if g >= GFX12 {
		hw.PrimIndexBits = 9
	}
	return hw
}
