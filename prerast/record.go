// Copyright 2025 The GoGPU Authors
// SPDX-License-Identifier: MIT

// Package prerast implements the output handling shared by every
// pre-rasterization stage: gathering output stores into a per-invocation
// record, emitting position/parameter/primitive exports, and writing
// transform feedback.
package prerast

import (
	"fmt"

	"github.com/gogpu/nggc/ir"
)

// NoExport is returned by a MapIO function for slots without a parameter.
const NoExport = -1

// MapIO maps an output slot to a parameter index, or NoExport.
// 16-bit slots are passed as Slot16Location(n).
type MapIO func(slot ir.Slot) int

// Slot16Location returns the MapIO key of a dedicated 16-bit slot.
func Slot16Location(s ir.Slot16) ir.Slot {
	return ir.NumSlots + ir.Slot(s)
}

// DefaultMapIO assigns VAR0-VAR23 to parameters 0-23, the first four 16-bit
// slots to 24-27, and primitive id, layer and viewport to 28-30.
func DefaultMapIO(slot ir.Slot) int {
	switch {
	case slot.IsVarying() && slot-ir.SlotVar0 < 24:
		return int(slot - ir.SlotVar0)
	case slot >= ir.NumSlots && slot < ir.NumSlots+4:
		return 24 + int(slot-ir.NumSlots)
	case slot == ir.SlotPrimitiveID:
		return 28
	case slot == ir.SlotLayer:
		return 29
	case slot == ir.SlotViewport:
		return 30
	}
	return NoExport
}

// Half selects which part of a slot a component reference addresses.
type Half uint8

const (
	// Full addresses a 32-bit slot.
	Full Half = iota
	// Lo16 and Hi16 address the halves of a dedicated 16-bit slot.
	Lo16
	Hi16
)

// Source yields the final value of one output component as a 32-bit value.
// Halves of 16-bit slots are addressed by their Slot16Location key and are
// zero-extended.
type Source interface {
	Component(b *ir.Builder, slot ir.Slot, comp int, half Half) ir.ExpressionHandle
}

// SlotInfo is the bookkeeping of one output slot.
type SlotInfo struct {
	// Mask holds the components written.
	Mask uint8
	// AsVarying and AsSysval hold the components consumed by the next stage
	// and by fixed-function hardware.
	AsVarying uint8
	AsSysval  uint8
	// Streams holds 2 bits per component.
	Streams uint8

	locals [4]ir.LocalHandle
}

// Stream returns the stream of component c.
func (s *SlotInfo) Stream(c int) uint8 {
	return s.Streams >> (2 * c) & 3
}

// Record is the per-invocation output record.
//
// Each written component lives in its own local variable, so values written
// under control flow are read back correctly wherever the record is consumed.
// The cleanup passes forward the locals back into plain values.
type Record struct {
	Slots [ir.NumSlots]SlotInfo
	Lo16  [ir.NumSlots16]SlotInfo
	Hi16  [ir.NumSlots16]SlotInfo
}

// NewRecord returns an empty record.
func NewRecord() *Record {
	return &Record{}
}

func (r *Record) info(slot ir.Slot, half Half) *SlotInfo {
	switch half {
	case Lo16:
		return &r.Lo16[slot]
	case Hi16:
		return &r.Hi16[slot]
	}
	return &r.Slots[slot]
}

func halfOf(idx ir.Indices) Half {
	switch {
	case !idx.Bank16:
		return Full
	case idx.High16:
		return Hi16
	}
	return Lo16
}

// Store folds an output store into the record. idx uses the store_output
// conventions: WriteMask selects components of value, Component is the first
// slot component they land in.
func (r *Record) Store(b *ir.Builder, idx ir.Indices, value ir.ExpressionHandle) {
	half := halfOf(idx)
	if half == Full && int(idx.Slot) >= ir.NumSlots || half != Full && int(idx.Slot) >= ir.NumSlots16 {
		panic(fmt.Sprintf("prerast: output slot %d out of range", idx.Slot))
	}
	wantBits := uint8(32)
	if half != Full {
		wantBits = 16
	}
	// A 16-bit value stored to a 32-bit slot lands in one half of it.
	merge16 := half == Full && b.Bits(value) == 16
	if b.Bits(value) != wantBits && !merge16 {
		panic(fmt.Sprintf("prerast: %d-bit store to %s", b.Bits(value), idx.Slot))
	}
	mask := idx.WriteMask
	if mask == 0 {
		mask = uint8(1)<<b.Components(value) - 1
	}
	if int(idx.Component)+bitLen(mask) > 4 {
		panic(fmt.Sprintf("prerast: store to %s writes past component 3", idx.Slot))
	}

	info := r.info(idx.Slot, half)
	for i := 0; i < 4; i++ {
		if mask&(1<<i) == 0 {
			continue
		}
		c := int(idx.Component) + i
		bit := uint8(1) << c
		written := info.Mask&bit != 0
		if !written {
			info.locals[c] = b.Local(fmt.Sprintf("out_%s_%c%s", idx.Slot, "xyzw"[c], halfSuffix(half)), 1, wantBits)
		}
		info.Mask |= bit
		if !idx.NoVarying && isVaryingSlot(idx.Slot, half) {
			info.AsVarying |= bit
		}
		if !idx.NoSysval && half == Full && idx.Slot.IsSysval() {
			info.AsSysval |= bit
		}
		info.Streams = info.Streams&^(3<<(2*c)) | idx.ComponentStream(i)<<(2*c)

		v := b.Channel(value, i)
		if merge16 {
			old := b.Const32(0)
			if written {
				old = b.LoadLocal(info.locals[c])
			}
			wide := b.U2U(v, 32)
			if idx.High16 {
				v = b.IOr(b.IAndImm(old, 0xffff), b.IShlImm(wide, 16))
			} else {
				v = b.IOr(b.IAndImm(old, 0xffff0000), wide)
			}
		}
		b.StoreLocal(info.locals[c], v)
	}
}

func isVaryingSlot(slot ir.Slot, half Half) bool {
	if half != Full {
		return true
	}
	switch slot {
	case ir.SlotPos, ir.SlotPointSize, ir.SlotClipDist0, ir.SlotClipDist1, ir.SlotCullDist0, ir.SlotCullDist1,
		ir.SlotClipVertex, ir.SlotEdge, ir.SlotPrimitiveShadingRate, ir.SlotPrimitiveIndices, ir.SlotCullPrimitive:
		return false
	}
	return true
}

func halfSuffix(h Half) string {
	switch h {
	case Lo16:
		return "_lo"
	case Hi16:
		return "_hi"
	}
	return ""
}

func bitLen(m uint8) int {
	n := 0
	for m != 0 {
		n++
		m >>= 1
	}
	return n
}

// Set writes one 32-bit component as a plain varying store.
func (r *Record) Set(b *ir.Builder, slot ir.Slot, comp int, v ir.ExpressionHandle) {
	r.Store(b, ir.Indices{Slot: slot, Component: uint8(comp), WriteMask: 1}, v)
}

// Written returns the mask of 32-bit slots with any component written.
func (r *Record) Written() uint64 {
	var m uint64
	for s := range r.Slots {
		if r.Slots[s].Mask != 0 {
			m |= ir.Slot(s).Bit()
		}
	}
	return m
}

// Written16 returns the mask of 16-bit slots with either half written.
func (r *Record) Written16() uint16 {
	var m uint16
	for s := 0; s < ir.NumSlots16; s++ {
		if r.Lo16[s].Mask|r.Hi16[s].Mask != 0 {
			m |= 1 << s
		}
	}
	return m
}

// Has reports whether component comp of slot was written.
func (r *Record) Has(slot ir.Slot, comp int) bool {
	return r.Slots[slot].Mask&(1<<comp) != 0
}

// Value returns component comp of a 32-bit slot, or undef when it was never written.
func (r *Record) Value(b *ir.Builder, slot ir.Slot, comp int) ir.ExpressionHandle {
	info := &r.Slots[slot]
	if info.Mask&(1<<comp) == 0 {
		return b.Undef(1, 32)
	}
	return b.LoadLocal(info.locals[comp])
}

// ValueOr returns component comp of slot or def when it was never written.
func (r *Record) ValueOr(b *ir.Builder, slot ir.Slot, comp int, def ir.ExpressionHandle) ir.ExpressionHandle {
	if !r.Has(slot, comp) {
		return def
	}
	return r.Value(b, slot, comp)
}

// Value16 returns one component of a 16-bit slot with both halves packed
// into 32 bits. An unwritten half is undefined.
func (r *Record) Value16(b *ir.Builder, slot ir.Slot16, comp int) ir.ExpressionHandle {
	lo, hi := &r.Lo16[slot], &r.Hi16[slot]
	half := func(info *SlotInfo) ir.ExpressionHandle {
		if info.Mask&(1<<comp) == 0 {
			return b.Undef(1, 16)
		}
		return b.LoadLocal(info.locals[comp])
	}
	return b.Pack32Split16(half(lo), half(hi))
}

// Component implements Source.
func (r *Record) Component(b *ir.Builder, slot ir.Slot, comp int, half Half) ir.ExpressionHandle {
	if half == Full {
		return r.Value(b, slot, comp)
	}
	info := r.info(slot-ir.NumSlots, half)
	if info.Mask&(1<<comp) == 0 {
		return b.Undef(1, 32)
	}
	return b.U2U(b.LoadLocal(info.locals[comp]), 32)
}

// ComponentsOf returns the written components of a slot as a vec4, with
// unwritten components undefined, together with the written mask.
func (r *Record) ComponentsOf(b *ir.Builder, slot ir.Slot) (ir.ExpressionHandle, uint8) {
	comps := make([]ir.ExpressionHandle, 4)
	for c := range comps {
		comps[c] = r.Value(b, slot, c)
	}
	return b.Vec(comps...), r.Slots[slot].Mask
}
