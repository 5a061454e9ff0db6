// Copyright 2025 The GoGPU Authors
// SPDX-License-Identifier: MIT

package prerast

import (
	"fmt"
	"math/bits"

	"golang.org/x/exp/constraints"

	"github.com/gogpu/nggc/ir"
)

// Width returns the bit width of T.
func Width[T constraints.Unsigned]() uint8 {
	return uint8(bits.Len64(uint64(^T(0))))
}

// StoreIO writes the components of v selected by mask to shared memory, one
// dword per component starting at addr+base. Components of T narrower than
// 32 bits are stored to the low bits of their dword; 64-bit components take
// two dwords.
func StoreIO[T constraints.Unsigned](b *ir.Builder, v ir.ExpressionHandle, mask uint8, addr ir.ExpressionHandle, base uint32) {
	w := Width[T]()
	if b.Bits(v) != w {
		panic(fmt.Sprintf("prerast: %d-bit value stored as %d-bit io", b.Bits(v), w))
	}
	stride := uint32(amdDwords(w)) * 4
	for c := 0; c < int(b.Components(v)); c++ {
		if mask&(1<<c) == 0 {
			continue
		}
		comp := b.Channel(v, c)
		off := base + uint32(c)*stride
		switch {
		case w > 32:
			lo, hi := b.Unpack64(comp)
			b.StoreShared(b.Vec(lo, hi), addr, off)
		case w < 32:
			b.StoreShared(b.U2U(comp, 32), addr, off)
		default:
			b.StoreShared(comp, addr, off)
		}
	}
}

// LoadIO reads numComponents values of type T written by StoreIO.
func LoadIO[T constraints.Unsigned](b *ir.Builder, numComponents uint8, addr ir.ExpressionHandle, base uint32) ir.ExpressionHandle {
	w := Width[T]()
	stride := uint32(amdDwords(w)) * 4
	comps := make([]ir.ExpressionHandle, numComponents)
	for c := range comps {
		off := base + uint32(c)*stride
		switch {
		case w > 32:
			d := b.LoadShared(2, 32, addr, off)
			comps[c] = b.Pack64(b.Channel(d, 0), b.Channel(d, 1))
		case w < 32:
			comps[c] = b.U2U(b.LoadShared(1, 32, addr, off), w)
		default:
			comps[c] = b.LoadShared(1, 32, addr, off)
		}
	}
	return b.Vec(comps...)
}

func amdDwords(w uint8) uint8 {
	return (w + 31) / 32
}

// LDSLayout places a vertex's output slots in shared memory: every written
// 32-bit slot gets a vec4 in slot order, followed by the 16-bit slots with
// both halves packed in one dword per component.
type LDSLayout struct {
	Written   uint64
	Written16 uint16
	// Extra is the number of dwords reserved after the slots.
	Extra uint32
}

// NumSlots returns the number of vec4 entries.
func (l LDSLayout) NumSlots() int {
	return bits.OnesCount64(l.Written) + bits.OnesCount16(l.Written16)
}

// Stride returns the per-vertex size in bytes.
func (l LDSLayout) Stride() uint32 {
	return (uint32(l.NumSlots())*4 + l.Extra) * 4
}

// Offset returns the byte offset of one component. 16-bit slots use
// Slot16Location keys. It panics for a slot not in the layout.
func (l LDSLayout) Offset(slot ir.Slot, comp int) uint32 {
	var index int
	if slot >= ir.NumSlots {
		s := slot - ir.NumSlots
		if l.Written16&(1<<s) == 0 {
			panic(fmt.Sprintf("prerast: 16-bit slot %d not in the shared memory layout", s))
		}
		index = bits.OnesCount64(l.Written) + bits.OnesCount16(l.Written16&(1<<s-1))
	} else {
		if l.Written&slot.Bit() == 0 {
			panic(fmt.Sprintf("prerast: %s not in the shared memory layout", slot))
		}
		index = bits.OnesCount64(l.Written & (slot.Bit() - 1))
	}
	return uint32(index*4+comp) * 4
}

// ExtraOffset returns the byte offset of extra dword i.
func (l LDSLayout) ExtraOffset(i uint32) uint32 {
	return uint32(l.NumSlots())*16 + i*4
}

// Store writes the record components selected by masks to the vertex
// entry at addr. masks returns the components to store for a slot.
func (l LDSLayout) Store(b *ir.Builder, rec *Record, addr ir.ExpressionHandle, masks func(slot ir.Slot) uint8) {
	for s := 0; s < ir.NumSlots; s++ {
		slot := ir.Slot(s)
		if l.Written&slot.Bit() == 0 {
			continue
		}
		m := masks(slot) & rec.Slots[s].Mask
		for c := 0; c < 4; c++ {
			if m&(1<<c) != 0 {
				b.StoreShared(rec.Value(b, slot, c), addr, l.Offset(slot, c))
			}
		}
	}
	for s := 0; s < ir.NumSlots16; s++ {
		if l.Written16&(1<<s) == 0 {
			continue
		}
		key := Slot16Location(ir.Slot16(s))
		m := masks(key) & (rec.Lo16[s].Mask | rec.Hi16[s].Mask)
		for c := 0; c < 4; c++ {
			if m&(1<<c) != 0 {
				b.StoreShared(rec.Value16(b, ir.Slot16(s), c), addr, l.Offset(key, c))
			}
		}
	}
}

// LDSSource reads output components from a vertex entry in shared memory.
type LDSSource struct {
	Layout LDSLayout
	Addr   ir.ExpressionHandle
}

// Component implements Source.
func (s LDSSource) Component(b *ir.Builder, slot ir.Slot, comp int, half Half) ir.ExpressionHandle {
	v := b.LoadShared(1, 32, s.Addr, s.Layout.Offset(slot, comp))
	switch half {
	case Lo16:
		return b.U2U(b.ALU(ir.OpUnpack32Lo16, v), 32)
	case Hi16:
		return b.U2U(b.ALU(ir.OpUnpack32Hi16, v), 32)
	}
	return v
}

// Load reads the components selected by masks from the vertex entry at addr
// into a new record. like supplies the component flags of every slot, so
// the loaded record exports exactly like the one that was stored.
func (l LDSLayout) Load(b *ir.Builder, like *Record, addr ir.ExpressionHandle, masks func(slot ir.Slot) uint8) *Record {
	out := NewRecord()
	for s := 0; s < ir.NumSlots; s++ {
		slot := ir.Slot(s)
		if l.Written&slot.Bit() == 0 {
			continue
		}
		info := &like.Slots[s]
		m := masks(slot) & info.Mask
		for c := 0; c < 4; c++ {
			if m&(1<<c) == 0 {
				continue
			}
			v := b.LoadShared(1, 32, addr, l.Offset(slot, c))
			out.Store(b, loadIndices(info, slot, c, Full), v)
		}
	}
	for s := 0; s < ir.NumSlots16; s++ {
		if l.Written16&(1<<s) == 0 {
			continue
		}
		key := Slot16Location(ir.Slot16(s))
		lo, hi := &like.Lo16[s], &like.Hi16[s]
		m := masks(key) & (lo.Mask | hi.Mask)
		for c := 0; c < 4; c++ {
			if m&(1<<c) == 0 {
				continue
			}
			v := b.LoadShared(1, 32, addr, l.Offset(key, c))
			if lo.Mask&(1<<c) != 0 {
				out.Store(b, loadIndices(lo, ir.Slot(s), c, Lo16), b.ALU(ir.OpUnpack32Lo16, v))
			}
			if hi.Mask&(1<<c) != 0 {
				out.Store(b, loadIndices(hi, ir.Slot(s), c, Hi16), b.ALU(ir.OpUnpack32Hi16, v))
			}
		}
	}
	return out
}

func loadIndices(info *SlotInfo, slot ir.Slot, c int, half Half) ir.Indices {
	bit := uint8(1) << c
	return ir.Indices{
		Slot:      slot,
		Bank16:    half != Full,
		High16:    half == Hi16,
		Component: uint8(c),
		WriteMask: 1,
		NoVarying: info.AsVarying&bit == 0,
		NoSysval:  info.AsSysval&bit == 0,
		Streams:   info.Stream(c),
	}
}
