// Copyright 2025 The GoGPU Authors
// SPDX-License-Identifier: MIT

package prerast

import (
	"github.com/gogpu/nggc/amd"
	"github.com/gogpu/nggc/ir"
)

// OrderedAddDepth is the number of 64-bit ordered adds kept in flight while
// waiting for the workgroup's turn.
const OrderedAddDepth = 6

// StreamoutScratchSize is the shared memory used to broadcast buffer
// offsets and emit counts: 4 dwords each.
const StreamoutScratchSize = 32

// StreamoutConfig describes the stream-out state of a shader.
type StreamoutConfig struct {
	HW  amd.HWInfo
	Xfb *ir.XfbInfo

	VerticesPerPrimitive int

	// Scratch is the shared memory byte address of a StreamoutScratchSize area.
	Scratch uint32

	// UseOrderedAddLoop reserves space with 64-bit ordered adds issued by
	// four lanes instead of the ordered counter registers.
	UseOrderedAddLoop bool

	// XfbQuery counts the primitives written per stream when the query is
	// enabled at run time.
	XfbQuery bool
}

// StreamoutInfo is the reservation made by a workgroup.
type StreamoutInfo struct {
	Buffers uint8
	Streams uint8
	// Offsets is the workgroup's base byte offset in each written buffer.
	Offsets [4]ir.ExpressionHandle
	// EmitPrims is the number of primitives each written stream may store.
	EmitPrims [4]ir.ExpressionHandle
}

// PrimStride returns the bytes one primitive takes in buffer buf.
func (c StreamoutConfig) PrimStride(buf int) uint32 {
	return uint32(c.VerticesPerPrimitive) * c.Xfb.BufferStride[buf]
}

// BuildStreamoutBufferInfo reserves buffer space for genPrims primitives of
// each stream. genPrims must hold the same value in every invocation that
// runs the reservation; entries of unwritten streams are ignored. The
// result is read back from shared memory after a workgroup barrier, so
// every invocation of the workgroup must call it.
func BuildStreamoutBufferInfo(b *ir.Builder, cfg StreamoutConfig, tid ir.ExpressionHandle, genPrims [4]ir.ExpressionHandle) StreamoutInfo {
	xfb := cfg.Xfb
	so := StreamoutInfo{Buffers: xfb.BuffersWritten(), Streams: xfb.StreamsWritten()}

	var r reservation
	r.cfg = cfg
	for buf := 0; buf < 4; buf++ {
		if so.Buffers&(1<<buf) == 0 {
			continue
		}
		desc := b.Intrinsic(ir.IntrLoadStreamoutBuffer, 4, 32, ir.Indices{Base: uint32(buf)})
		r.sizes[buf] = b.Channel(desc, 2)
		r.primStride[buf] = b.Const32(cfg.PrimStride(buf))
	}
	r.buffers, r.streams = so.Buffers, so.Streams
	r.genPrims = genPrims

	if cfg.UseOrderedAddLoop {
		r.orderedAddLoop(b, tid)
	} else {
		r.orderedCounter(b, tid)
	}

	b.WorkgroupBarrier()

	zero := b.Const32(0)
	for buf := 0; buf < 4; buf++ {
		if so.Buffers&(1<<buf) != 0 {
			so.Offsets[buf] = b.LoadShared(1, 32, zero, cfg.Scratch+uint32(buf)*4)
		} else {
			so.Offsets[buf] = ir.NoExpr
		}
	}
	for s := 0; s < 4; s++ {
		if so.Streams&(1<<s) != 0 {
			so.EmitPrims[s] = b.LoadShared(1, 32, zero, cfg.Scratch+16+uint32(s)*4)
		} else {
			so.EmitPrims[s] = ir.NoExpr
		}
	}
	return so
}

type reservation struct {
	cfg        StreamoutConfig
	buffers    uint8
	streams    uint8
	sizes      [4]ir.ExpressionHandle
	primStride [4]ir.ExpressionHandle
	genPrims   [4]ir.ExpressionHandle
}

// requests returns the bytes the workgroup reserves in each buffer. Buffers
// of size 0 are not bound and reserve nothing.
func (r *reservation) requests(b *ir.Builder) [4]ir.ExpressionHandle {
	var req [4]ir.ExpressionHandle
	for buf := 0; buf < 4; buf++ {
		if r.buffers&(1<<buf) == 0 {
			req[buf] = b.Const32(0)
			continue
		}
		valid := b.INeImm(r.sizes[buf], 0)
		prims := r.genPrims[r.cfg.Xfb.BufferToStream[buf]]
		req[buf] = b.BCsel(valid, b.IMul(prims, r.primStride[buf]), b.Const32(0))
	}
	return req
}

// clamp turns the offsets returned by the ordered add into the final
// offsets, the permitted emit counts and the amounts to give back.
//
// The amount given back never exceeds the workgroup's own reservation, so
// a workgroup that starts past the end returns exactly what it added even
// when earlier corrections have not landed yet.
func (r *reservation) clamp(b *ir.Builder, req, offsets [4]ir.ExpressionHandle) (emit, amounts [4]ir.ExpressionHandle, anyOverflow ir.ExpressionHandle) {
	zero := b.Const32(0)
	for s := 0; s < 4; s++ {
		emit[s] = r.genPrims[s]
	}
	anyOverflow = b.Bool(false)
	for buf := 0; buf < 4; buf++ {
		amounts[buf] = zero
		if r.buffers&(1<<buf) == 0 {
			continue
		}
		size := r.sizes[buf]
		off := b.BCsel(b.INeImm(size, 0), offsets[buf], zero)
		offsets[buf] = off

		end := b.IAdd(off, req[buf])
		overflow := b.ULt(size, end)
		remain := b.BCsel(b.ULt(off, size), b.ISub(size, off), zero)
		remainPrims := b.UDiv(remain, r.primStride[buf])
		excess := b.BCsel(overflow, b.ISub(end, size), zero)
		amounts[buf] = b.UMin(req[buf], excess)

		s := r.cfg.Xfb.BufferToStream[buf]
		emit[s] = b.BCsel(overflow, b.UMin(emit[s], remainPrims), emit[s])
		anyOverflow = b.IOr(anyOverflow, overflow)
	}
	return emit, amounts, anyOverflow
}

// publish stores the offsets and emit counts for the other waves and
// updates the stream-out query.
func (r *reservation) publish(b *ir.Builder, offsets, emit [4]ir.ExpressionHandle) {
	zero := b.Const32(0)
	for buf := 0; buf < 4; buf++ {
		if r.buffers&(1<<buf) != 0 {
			b.StoreShared(offsets[buf], zero, r.cfg.Scratch+uint32(buf)*4)
		}
	}
	for s := 0; s < 4; s++ {
		if r.streams&(1<<s) != 0 {
			b.StoreShared(emit[s], zero, r.cfg.Scratch+16+uint32(s)*4)
		}
	}
	if !r.cfg.XfbQuery {
		return
	}
	b.If(b.LoadArg(ir.ArgXfbQueryEnabled), func() {
		for s := 0; s < 4; s++ {
			if r.streams&(1<<s) != 0 {
				b.Call(ir.IntrAtomicAddXfbPrimCount, ir.Indices{Stream: uint8(s)}, emit[s])
			}
		}
	})
}

// orderedCounter reserves space through the ordered counter registers from
// the first invocation of the workgroup.
func (r *reservation) orderedCounter(b *ir.Builder, tid ir.ExpressionHandle) {
	b.PushIf(b.IEqImm(tid, 0))
	req := r.requests(b)
	id := b.Intrinsic(ir.IntrLoadOrderedID, 1, 32, ir.Indices{})
	old := b.Intrinsic(ir.IntrOrderedXfbCounterAdd, 4, 32, ir.Indices{WriteMask: r.buffers}, id, b.Vec(req[:]...))

	var offsets [4]ir.ExpressionHandle
	for buf := range offsets {
		offsets[buf] = b.Channel(old, buf)
	}
	emit, amounts, anyOverflow := r.clamp(b, req, offsets)
	b.If(anyOverflow, func() {
		b.Call(ir.IntrXfbCounterSub, ir.Indices{WriteMask: r.buffers}, b.Vec(amounts[:]...))
	})
	r.publish(b, offsets, emit)
	b.PopIf()
}

// orderedAddLoop reserves space with 64-bit ordered adds. Lane i owns the
// {ordered id, offset} record of buffer i. An add only applies when the
// record holds the workgroup's ordered id, so the lanes keep issuing adds,
// OrderedAddDepth in flight, until the oldest one reports the id.
func (r *reservation) orderedAddLoop(b *ir.Builder, tid ir.ExpressionHandle) {
	b.PushIf(b.ULtImm(tid, 4))
	req := r.requests(b)

	mine := b.Const32(0)
	for buf := 0; buf < 4; buf++ {
		mine = b.BCsel(b.IEqImm(tid, uint64(buf)), req[buf], mine)
	}
	id := b.Intrinsic(ir.IntrLoadOrderedID, 1, 32, ir.Indices{})
	voffset := b.IMulImm(tid, 8)
	src := b.Pack64(id, mine)

	var ring [OrderedAddDepth]ir.LocalHandle
	never := b.Pack64(b.INot(id), b.Const32(0))
	for i := range ring {
		ring[i] = b.Local("xfb_ordered_add", 1, 64)
		b.StoreLocal(ring[i], never)
	}

	b.Loop(func() {
		res := b.Intrinsic(ir.IntrOrderedAdd64, 1, 64, ir.Indices{Ring: ir.RingXfbState}, voffset, src)
		var prev [OrderedAddDepth - 1]ir.ExpressionHandle
		for i := range prev {
			prev[i] = b.LoadLocal(ring[i])
		}
		for i := range prev {
			b.StoreLocal(ring[i+1], prev[i])
		}
		b.StoreLocal(ring[0], res)

		oldestID, _ := b.Unpack64(b.LoadLocal(ring[OrderedAddDepth-1]))
		b.BreakIf(b.VoteAny(b.IEq(oldestID, id)))
	})

	_, myOffset := b.Unpack64(b.LoadLocal(ring[OrderedAddDepth-1]))
	var offsets [4]ir.ExpressionHandle
	for buf := range offsets {
		offsets[buf] = b.ReadInvocation(myOffset, b.Const32(uint32(buf)))
	}

	emit, amounts, anyOverflow := r.clamp(b, req, offsets)
	b.If(anyOverflow, func() {
		amount := b.Const32(0)
		for buf := 0; buf < 4; buf++ {
			amount = b.BCsel(b.IEqImm(tid, uint64(buf)), amounts[buf], amount)
		}
		b.Intrinsic(ir.IntrGlobalAtomicAdd, 1, 32, ir.Indices{Ring: ir.RingXfbState, Base: 4}, voffset, b.INeg(amount))
	})
	b.If(b.IEqImm(tid, 0), func() {
		r.publish(b, offsets, emit)
	})
	b.PopIf()
}

// StreamoutVertex writes vertex vertexIndex of the invocation's primitive to
// every buffer of stream. offsets holds the primitive's byte offset in each
// buffer. Components that are consecutive in both the record and the buffer
// are merged into one store of up to four dwords.
func StreamoutVertex(b *ir.Builder, xfb *ir.XfbInfo, stream uint8, offsets [4]ir.ExpressionHandle, vertexIndex int, src Source) int {
	zero := b.Const32(0)
	stores := 0

	var values []ir.ExpressionHandle
	var storeBuf uint8
	var storeOffset uint32
	flush := func() {
		if len(values) == 0 {
			return
		}
		base := uint32(vertexIndex)*xfb.BufferStride[storeBuf] + storeOffset
		b.StoreBuffer(ir.XfbRing(int(storeBuf)), b.Vec(values...), offsets[storeBuf], zero, zero, base)
		values = nil
		stores++
	}

	for _, out := range xfb.Outputs {
		if out.ComponentMask == 0 || xfb.BufferToStream[out.Buffer] != stream {
			continue
		}
		half := Full
		if out.Slot >= ir.NumSlots {
			half = Lo16
			if out.High16 {
				half = Hi16
			}
		}
		for c := 0; c < 4; c++ {
			if out.ComponentMask&(1<<c) == 0 {
				continue
			}
			data := src.Component(b, out.Slot, int(out.ComponentOffset)+c, half)
			if half != Full {
				data = b.Conv(ir.OpF16F2, 32, data)
			}

			dst := out.Offset + uint32(c)*4
			hole := storeOffset+uint32(len(values))*4 != dst
			if len(values) > 0 && (len(values) == 4 || storeBuf != out.Buffer || hole) {
				flush()
			}
			if len(values) == 0 {
				storeBuf, storeOffset = out.Buffer, dst
			}
			values = append(values, data)
		}
	}
	flush()
	return stores
}

// StreamoutMask returns, for each output slot, the components captured by
// any stream-out output.
func StreamoutMask(xfb *ir.XfbInfo) func(ir.Slot) uint8 {
	masks := make(map[ir.Slot]uint8)
	for _, out := range xfb.Outputs {
		masks[out.Slot] |= out.ComponentMask << out.ComponentOffset
	}
	return func(s ir.Slot) uint8 { return masks[s] }
}

// StreamoutLayout returns the shared memory layout holding the captured
// components of a vertex.
func StreamoutLayout(xfb *ir.XfbInfo) LDSLayout {
	var l LDSLayout
	for _, out := range xfb.Outputs {
		if out.ComponentMask == 0 {
			continue
		}
		if out.Slot >= ir.NumSlots {
			l.Written16 |= 1 << (out.Slot - ir.NumSlots)
		} else {
			l.Written |= out.Slot.Bit()
		}
	}
	return l
}
