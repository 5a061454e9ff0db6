// Copyright 2025 The GoGPU Authors
// SPDX-License-Identifier: MIT

package prerast

import (
	"github.com/gogpu/nggc/amd"
	"github.com/gogpu/nggc/ir"
)

// PosConfig controls position export emission.
type PosConfig struct {
	HW amd.HWInfo

	// ForceVRS exports the coarse shading rate for every vertex whose w is
	// not 1, unless the shader writes a rate of its own.
	ForceVRS bool

	KillPointSize bool
	KillLayer     bool

	// ClipCullDistMask enables clip/cull distance components 0-7.
	ClipCullDistMask uint8
	// UserClipPlaneMask computes distances from the clip vertex for the
	// planes not written by the shader.
	UserClipPlaneMask uint8

	// NoDone leaves the done flag off, for callers that export more
	// positions afterwards.
	NoDone bool
}

// ClipDistance returns clip/cull distance i of the vertex, or NoExpr when
// neither the shader nor a user clip plane provides it.
func ClipDistance(b *ir.Builder, rec *Record, i int, userPlanes uint8) ir.ExpressionHandle {
	slot := ir.SlotClipDist0 + ir.Slot(i/4)
	if rec.Has(slot, i%4) {
		return rec.Value(b, slot, i%4)
	}
	if userPlanes&(1<<i) == 0 {
		return ir.NoExpr
	}
	src := ir.SlotClipVertex
	if rec.Slots[src].Mask == 0 {
		src = ir.SlotPos
	}
	plane := b.Intrinsic(ir.IntrLoadUserClipPlane, 4, 32, ir.Indices{Base: uint32(i)})
	dist := b.Float(0)
	for c := 0; c < 4; c++ {
		v := rec.ValueOr(b, src, c, b.Float(0))
		dist = b.FFma(v, b.Channel(plane, c), dist)
	}
	return dist
}

// ExportPosition emits the position exports of one vertex: the position,
// the misc vector and up to two clip distance vectors. The last export is
// flagged done unless cfg.NoDone is set. It returns the number of exports.
func ExportPosition(b *ir.Builder, rec *Record, cfg PosConfig) int {
	type posExport struct {
		value ir.ExpressionHandle
		mask  uint8
	}
	var exps []posExport

	one, zero := b.Float(1), b.Float(0)
	pos := make([]ir.ExpressionHandle, 4)
	for c := range pos {
		def := zero
		if c == 3 {
			def = one
		}
		pos[c] = rec.ValueOr(b, ir.SlotPos, c, def)
	}
	exps = append(exps, posExport{b.Vec(pos...), 0xf})

	if misc, mask := miscVector(b, rec, cfg, pos[3]); mask != 0 {
		exps = append(exps, posExport{misc, mask})
	}

	for half := 0; half < 2; half++ {
		enabled := (cfg.ClipCullDistMask | cfg.UserClipPlaneMask) >> (4 * half) & 0xf
		if enabled == 0 {
			continue
		}
		comps := make([]ir.ExpressionHandle, 4)
		var mask uint8
		for c := range comps {
			comps[c] = b.Undef(1, 32)
			if enabled&(1<<c) == 0 {
				continue
			}
			if d := ClipDistance(b, rec, half*4+c, cfg.UserClipPlaneMask); d != ir.NoExpr {
				comps[c] = d
				mask |= 1 << c
			}
		}
		if mask != 0 {
			exps = append(exps, posExport{b.Vec(comps...), mask})
		}
	}

	for i, e := range exps {
		var flags ir.ExportFlags
		if i == 0 && cfg.HW.NeedsValidMask {
			flags |= ir.ExportValidMask
		}
		if i == len(exps)-1 && !cfg.NoDone {
			flags |= ir.ExportDone
		}
		b.Export(e.value, ir.ExportPos(i), e.mask, flags)
	}
	return len(exps)
}

// miscVector packs point size, edge flag, layer, viewport and shading rate.
func miscVector(b *ir.Builder, rec *Record, cfg PosConfig, w ir.ExpressionHandle) (ir.ExpressionHandle, uint8) {
	hasPSize := rec.Has(ir.SlotPointSize, 0) && !cfg.KillPointSize
	hasEdge := rec.Has(ir.SlotEdge, 0) && cfg.HW.Misc == amd.MiscGen1
	hasLayer := rec.Has(ir.SlotLayer, 0) && !cfg.KillLayer
	hasVP := rec.Has(ir.SlotViewport, 0)
	hasRate := cfg.HW.HasVRS && (rec.Has(ir.SlotPrimitiveShadingRate, 0) || cfg.ForceVRS)
	if !hasPSize && !hasEdge && !hasLayer && !hasVP && !hasRate {
		return ir.NoExpr, 0
	}

	comps := []ir.ExpressionHandle{b.Undef(1, 32), b.Undef(1, 32), b.Undef(1, 32), b.Undef(1, 32)}
	var mask uint8
	if hasPSize {
		comps[0] = rec.Value(b, ir.SlotPointSize, 0)
		mask |= 1
	}

	var rate ir.ExpressionHandle
	if hasRate {
		if rec.Has(ir.SlotPrimitiveShadingRate, 0) {
			rate = rec.Value(b, ir.SlotPrimitiveShadingRate, 0)
		} else {
			rate = b.BCsel(b.FNe(w, b.Float(1)), b.Const32(amd.ForcedShadingRate), b.Const32(0))
		}
	}

	switch cfg.HW.Misc {
	case amd.MiscGen1:
		if hasEdge {
			comps[1] = b.B2I(b.FNe(rec.Value(b, ir.SlotEdge, 0), b.Float(0)), 32)
			mask |= 2
		}
		if hasLayer || hasVP {
			w2 := b.Const32(0)
			if hasLayer {
				l := b.IAndImm(rec.Value(b, ir.SlotLayer, 0), amd.Gen1LayerMask)
				w2 = b.IOr(w2, b.IShlImm(l, amd.Gen1LayerShift))
			}
			if hasVP {
				v := b.IAndImm(rec.Value(b, ir.SlotViewport, 0), amd.Gen1ViewportMask)
				w2 = b.IOr(w2, b.IShlImm(v, amd.Gen1ViewportShift))
			}
			comps[2] = w2
			mask |= 4
		}
		if hasRate {
			x := b.IShlImm(b.UBfeImm(rate, 2, 2), amd.Gen1RateXShift)
			y := b.IShlImm(b.IAndImm(rate, 3), amd.Gen1RateYShift)
			comps[3] = b.IOr(x, y)
			mask |= 8
		}
	default:
		if hasLayer || hasVP || hasRate {
			w2 := b.Const32(0)
			if hasLayer {
				w2 = b.IAndImm(rec.Value(b, ir.SlotLayer, 0), amd.Gen2LayerMask)
			}
			if hasVP {
				w2 = b.IOr(w2, b.IShlImm(rec.Value(b, ir.SlotViewport, 0), amd.Gen2ViewportShift))
			}
			if hasRate {
				w2 = b.IOr(w2, b.IShlImm(b.IAndImm(rate, 0xf), amd.Gen2RateShift))
			}
			comps[2] = w2
			mask |= 4
		}
	}
	return b.Vec(comps...), mask
}

// paramSlot is one exportable parameter of the record.
type paramSlot struct {
	offset int
	value  ir.ExpressionHandle
	mask   uint8
}

// parameters returns the record's varyings mapped to a parameter offset, in
// slot order with the 16-bit bank last. Each offset is returned once.
func parameters(b *ir.Builder, rec *Record, mapIO MapIO) []paramSlot {
	var out []paramSlot
	var seen [32]bool
	claim := func(offset int) bool {
		if offset == NoExport || offset < 0 || offset >= len(seen) || seen[offset] {
			return false
		}
		seen[offset] = true
		return true
	}

	for s := 0; s < ir.NumSlots; s++ {
		info := &rec.Slots[s]
		if info.AsVarying == 0 {
			continue
		}
		offset := mapIO(ir.Slot(s))
		if !claim(offset) {
			continue
		}
		v, _ := rec.ComponentsOf(b, ir.Slot(s))
		out = append(out, paramSlot{offset, v, info.Mask})
	}
	for s := 0; s < ir.NumSlots16; s++ {
		mask := rec.Lo16[s].AsVarying | rec.Hi16[s].AsVarying
		if mask == 0 {
			continue
		}
		offset := mapIO(Slot16Location(ir.Slot16(s)))
		if !claim(offset) {
			continue
		}
		comps := make([]ir.ExpressionHandle, 4)
		for c := range comps {
			comps[c] = rec.Value16(b, ir.Slot16(s), c)
		}
		out = append(out, paramSlot{offset, b.Vec(comps...), rec.Lo16[s].Mask | rec.Hi16[s].Mask})
	}
	return out
}

// ExportParameters emits one parameter export per mapped output slot.
// It returns the number of exports.
func ExportParameters(b *ir.Builder, rec *Record, mapIO MapIO, perPrimitive bool) int {
	var flags ir.ExportFlags
	if perPrimitive {
		flags = ir.ExportPerPrimitive
	}
	params := parameters(b, rec, mapIO)
	for _, p := range params {
		b.Export(p.value, ir.ExportParam(p.offset), p.mask, flags)
	}
	return len(params)
}

// AttrRingConfig controls attribute ring stores.
type AttrRingConfig struct {
	// Count is the number of live export threads in this wave.
	Count ir.ExpressionHandle
	// ExportTID is the thread's export index, or NoExpr to use the lane index.
	ExportTID ir.ExpressionHandle
	// Index is the ring entry written by this thread, or NoExpr to use the
	// local invocation index.
	Index ir.ExpressionHandle
	// ParamBase is added to every parameter offset; mesh shaders store
	// per-primitive attributes after the per-vertex ones.
	ParamBase int
}

// StoreParametersToAttrRing writes mapped outputs to the attribute ring as
// full vec4s. Threads are enabled in groups of 8 so every group stores
// whole lines. It returns the number of stores.
func StoreParametersToAttrRing(b *ir.Builder, rec *Record, mapIO MapIO, cfg AttrRingConfig) int {
	params := parameters(b, rec, mapIO)
	if len(params) == 0 {
		return 0
	}
	count := b.IAndImm(b.IAddImm(cfg.Count, 7), ^uint64(7))
	tid := cfg.ExportTID
	if tid == ir.NoExpr {
		tid = b.SubgroupInvocation()
	}
	b.PushIf(b.ULt(tid, count))
	vindex := cfg.Index
	if vindex == ir.NoExpr {
		vindex = b.LocalInvocationIndex()
	}
	soffset := b.LoadArg(ir.ArgAttrRingOffset)
	voffset := b.Const32(0)
	for _, p := range params {
		comps := make([]ir.ExpressionHandle, 4)
		for c := range comps {
			if p.mask&(1<<c) != 0 {
				comps[c] = b.Channel(p.value, c)
			} else {
				comps[c] = b.Undef(1, 32)
			}
		}
		base := uint32(cfg.ParamBase+p.offset) * 16
		b.StoreBuffer(ir.RingAttr, b.Vec(comps...), voffset, soffset, vindex, base)
	}
	b.PopIf()
	return len(params)
}

// WaitAttrRing orders attribute ring stores before the following exports
// on generations that need it.
func WaitAttrRing(b *ir.Builder, hw amd.HWInfo) {
	if !hw.NeedsAttrRingWait {
		return
	}
	b.Barrier(ir.ScopeSubgroup, ir.ScopeDevice, ir.SemanticsRelease, ir.ModeOutput)
}

// PackPrimExportArg packs vertex indices, positioned edge flag bits and the
// null flag into a primitive export argument. edgeFlags and isNull may be NoExpr.
func PackPrimExportArg(b *ir.Builder, hw amd.HWInfo, indices []ir.ExpressionHandle, edgeFlags, isNull ir.ExpressionHandle) ir.ExpressionHandle {
	arg := b.Const32(0)
	if edgeFlags != ir.NoExpr && hw.HasPrimEdgeFlags {
		arg = edgeFlags
	}
	for i, idx := range indices {
		arg = b.IOr(arg, b.IShlImm(idx, uint32(i)*uint32(hw.PrimIndexBits)))
	}
	if isNull != ir.NoExpr {
		if b.Bits(isNull) == 1 {
			isNull = b.B2I(isNull, 32)
		}
		arg = b.IOr(arg, b.IShlImm(isNull, 31))
	}
	return arg
}

// EdgeFlagMask returns the primitive export bits of all vertices whose edge
// flag may be set.
func EdgeFlagMask(hw amd.HWInfo, numVertices int) uint32 {
	var m uint32
	for i := 0; i < numVertices; i++ {
		if bit := hw.PrimEdgeFlagBit(i); bit >= 0 {
			m |= 1 << bit
		}
	}
	return m
}

// ExportPrimitive emits the primitive export. extra is NoExpr or the second
// export channel holding per-primitive layer, viewport and rate.
func ExportPrimitive(b *ir.Builder, arg, extra ir.ExpressionHandle) {
	if extra == ir.NoExpr {
		b.Export(arg, ir.ExportPrim, 0x1, ir.ExportDone)
		return
	}
	b.Export(b.Vec(arg, extra), ir.ExportPrim, 0x3, ir.ExportDone)
}
