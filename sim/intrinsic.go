// Copyright 2025 The GoGPU Authors
// SPDX-License-Identifier: MIT

package sim

import (
	"math"
	"math/bits"

	"fortio.org/safecast"

	"github.com/gogpu/nggc/ir"
)

// intrinsic evaluates a value-producing intrinsic for the lanes in mask.
//
//nolint:gocyclo,cyclop // one case per intrinsic
func (w *wave) intrinsic(e *ir.Expression, k ir.ExprIntrinsic, dst []value, mask uint64) error {
	wg := w.wg
	set := func(fn func(l int) uint64) {
		lanes(mask, func(l int) { dst[l][0] = fn(l) })
	}
	switch k.Op {
	case ir.IntrLoadLocalInvocationIndex:
		set(func(l int) uint64 { return uint64(safecast.MustConv[uint32](w.invocation(l))) })
	case ir.IntrLoadSubgroupID:
		set(func(int) uint64 { return uint64(w.index) })
	case ir.IntrLoadNumSubgroups:
		set(func(int) uint64 { return uint64(wg.cfg.NumWaves) })
	case ir.IntrLoadSubgroupInvocation:
		set(func(l int) uint64 { return uint64(l) })

	case ir.IntrLoadArg:
		set(func(l int) uint64 {
			v := uint64(wg.arg(k.Index.Arg, w.invocation(l)))
			if k.Index.Arg.IsBool() {
				v &= 1
			}
			return v
		})
	case ir.IntrLoadVertexID:
		set(func(l int) uint64 { return uint64(laneValue(wg.in.VertexIDs, w.invocation(l))) })
	case ir.IntrLoadInstanceID:
		set(func(l int) uint64 { return uint64(laneValue(wg.in.InstanceIDs, w.invocation(l))) })
	case ir.IntrLoadPrimitiveID:
		set(func(l int) uint64 { return uint64(laneValue(wg.in.PrimitiveIDs, w.invocation(l))) })
	case ir.IntrLoadTessRelPatchID:
		set(func(l int) uint64 { return uint64(laneValue(wg.in.PatchIDs, w.invocation(l))) })
	case ir.IntrLoadTessCoord:
		lanes(mask, func(l int) {
			var uv [2]float32
			if inv := w.invocation(l); inv < len(wg.in.TessCoords) {
				uv = wg.in.TessCoords[inv]
			}
			dst[l] = value{
				uint64(math.Float32bits(uv[0])),
				uint64(math.Float32bits(uv[1])),
				uint64(math.Float32bits(1 - uv[0] - uv[1])),
			}
		})
	case ir.IntrLoadOrderedID:
		set(func(int) uint64 { return uint64(wg.in.OrderedID) })
	case ir.IntrLoadVertexInput:
		lanes(mask, func(l int) {
			var in [4]uint32
			if wg.cfg.VertexInput != nil {
				in = wg.cfg.VertexInput(w.scalar(k.Args[0], l), w.scalar(k.Args[1], l), k.Index.Location)
			}
			dst[l] = widen(in)
		})
	case ir.IntrLoadPerVertexInput:
		lanes(mask, func(l int) {
			var in [4]uint32
			if wg.cfg.PerVertexInput != nil {
				in = wg.cfg.PerVertexInput(wg.index, w.invocation(l), w.scalar(k.Args[0], l), k.Index.Location)
			}
			dst[l] = widen(in)
		})
	case ir.IntrLoadUserClipPlane:
		p := wg.cfg.ClipPlanes[k.Index.Base&7]
		lanes(mask, func(l int) {
			for c := range p {
				dst[l][c] = uint64(math.Float32bits(p[c]))
			}
		})
	case ir.IntrLoadStreamoutBuffer:
		buf := k.Index.Base & 3
		wg.dev.lock()
		desc := value{0, 0, uint64(wg.dev.Xfb[buf].Size()), uint64(wg.dev.XfbStride[buf])}
		wg.dev.unlock()
		lanes(mask, func(l int) { dst[l] = desc })

	case ir.IntrBallot:
		var m uint64
		lanes(mask, func(l int) {
			if w.comp(k.Args[0], l, 0)&1 != 0 {
				m |= 1 << l
			}
		})
		set(func(int) uint64 { return m })
	case ir.IntrInverseBallot:
		set(func(l int) uint64 { return w.comp(k.Args[0], l, 0) >> l & 1 })
	case ir.IntrReadInvocation:
		lanes(mask, func(l int) {
			src := int(w.scalar(k.Args[1], l))
			if src >= w.size {
				dst[l] = value{undefPattern, undefPattern, undefPattern, undefPattern}
				return
			}
			for c := 0; c < int(e.NumComponents); c++ {
				dst[l][c] = w.comp(k.Args[0], src, c)
			}
		})
	case ir.IntrReadFirstInvocation:
		first := firstLane(mask)
		lanes(mask, func(l int) {
			for c := 0; c < int(e.NumComponents); c++ {
				dst[l][c] = w.comp(k.Args[0], first, c)
			}
		})
	case ir.IntrElect:
		first := firstLane(mask)
		set(func(l int) uint64 { return b2u(l == first) })
	case ir.IntrVoteAny:
		var voted bool
		lanes(mask, func(l int) { voted = voted || w.comp(k.Args[0], l, 0)&1 != 0 })
		set(func(int) uint64 { return b2u(voted) })
	case ir.IntrMbcnt:
		set(func(l int) uint64 {
			below := w.comp(k.Args[0], l, 0) & (uint64(1)<<l - 1)
			return uint64(bits.OnesCount64(below)) + w.comp(k.Args[1], l, 0)&math.MaxUint32
		})
	case ir.IntrLanePermute16:
		lanes(mask, func(l int) {
			for c := 0; c < int(e.NumComponents); c++ {
				dst[l][c] = w.comp(k.Args[0], l&^15, c)
			}
		})

	case ir.IntrLoadShared:
		return w.loadShared(e, k, dst, mask)
	case ir.IntrSharedAtomicAdd:
		return w.sharedAtomicAdd(k, dst, mask)
	case ir.IntrLoadBuffer:
		return w.loadBuffer(e, k, dst, mask)
	case ir.IntrGlobalAtomicAdd:
		return w.globalAtomicAdd(k, dst, mask)
	case ir.IntrOrderedAdd64:
		return w.orderedAdd64(k, dst, mask)
	case ir.IntrOrderedXfbCounterAdd:
		return w.orderedCounterAdd(k, dst, mask)

	default:
		return w.errorf(ErrUnsupported, "intrinsic %s", k.Op)
	}
	return nil
}

// call executes an intrinsic statement for the lanes in mask.
func (w *wave) call(s ir.StmtIntrinsic, mask uint64) error {
	wg := w.wg
	switch s.Op {
	case ir.IntrStoreShared:
		return w.storeShared(s, mask)
	case ir.IntrStoreBuffer:
		return w.storeBuffer(s, mask)
	case ir.IntrXfbCounterSub:
		l := firstLane(mask)
		wg.dev.lock()
		for c := 0; c < 4; c++ {
			if s.Index.WriteMask&(1<<c) != 0 {
				wg.dev.Counters[c] -= uint32(w.comp(s.Args[0], l, c))
			}
		}
		wg.dev.unlock()
	case ir.IntrExport:
		nc := int(w.f.Expressions[s.Args[0]].NumComponents)
		events := make([]Event, 0, bits.OnesCount64(mask))
		lanes(mask, func(l int) {
			ev := Event{
				Kind:       EventExport,
				Wave:       w.index,
				Invocation: w.invocation(l),
				Target:     s.Index.Target,
				Mask:       s.Index.WriteMask,
				Flags:      s.Index.Flags,
			}
			for c := 0; c < nc; c++ {
				ev.Value[c] = uint32(w.comp(s.Args[0], l, c))
			}
			events = append(events, ev)
		})
		wg.mu.Lock()
		wg.events = append(wg.events, events...)
		wg.mu.Unlock()
	case ir.IntrAllocVerticesAndPrims:
		l := firstLane(mask)
		wg.record(Event{
			Kind:       EventAlloc,
			Wave:       w.index,
			Invocation: w.invocation(l),
			Value:      [4]uint32{w.scalar(s.Args[0], l), w.scalar(s.Args[1], l)},
		})
	case ir.IntrAtomicAddGenPrimCount, ir.IntrAtomicAddXfbPrimCount, ir.IntrAtomicAddInvocationCount:
		wg.dev.lock()
		lanes(mask, func(l int) {
			n := uint64(w.scalar(s.Args[0], l))
			switch s.Op {
			case ir.IntrAtomicAddGenPrimCount:
				wg.dev.Queries.GeneratedPrims[s.Index.Stream&3] += n
			case ir.IntrAtomicAddXfbPrimCount:
				wg.dev.Queries.XfbPrims[s.Index.Stream&3] += n
			default:
				wg.dev.Queries.Invocations += n
			}
		})
		wg.dev.unlock()
	default:
		return w.errorf(ErrUnsupported, "intrinsic %s", s.Op)
	}
	return nil
}

func (w *wave) loadShared(e *ir.Expression, k ir.ExprIntrinsic, dst []value, mask uint64) error {
	wg := w.wg
	n := byteSize(e.BitSize)
	wg.mu.Lock()
	defer wg.mu.Unlock()
	var kind ErrorKind
	var err error
	lanes(mask, func(l int) {
		addr := w.scalar(k.Args[0], l) + k.Index.Base
		for c := 0; c < int(e.NumComponents) && err == nil; c++ {
			a := addr + uint32(c*n)
			if kind, err = wg.lds.check(w.index, wg.releases, a, n, false); err == nil {
				dst[l][c] = wg.lds.load(a, n)
			}
		}
	})
	if err != nil {
		return w.errorf(kind, "load: %v", err)
	}
	return nil
}

func (w *wave) storeShared(s ir.StmtIntrinsic, mask uint64) error {
	wg := w.wg
	v := &w.f.Expressions[s.Args[0]]
	n := byteSize(v.BitSize)
	wg.mu.Lock()
	defer wg.mu.Unlock()
	var kind ErrorKind
	var err error
	lanes(mask, func(l int) {
		addr := w.scalar(s.Args[1], l) + s.Index.Base
		for c := 0; c < int(v.NumComponents) && err == nil; c++ {
			if s.Index.WriteMask&(1<<c) == 0 {
				continue
			}
			a := addr + uint32(c*n)
			if kind, err = wg.lds.check(w.index, wg.releases, a, n, true); err == nil {
				wg.lds.store(a, n, w.comp(s.Args[0], l, c))
			}
		}
	})
	if err != nil {
		return w.errorf(kind, "store: %v", err)
	}
	return nil
}

func (w *wave) sharedAtomicAdd(k ir.ExprIntrinsic, dst []value, mask uint64) error {
	wg := w.wg
	wg.mu.Lock()
	defer wg.mu.Unlock()
	var err error
	lanes(mask, func(l int) {
		if err != nil {
			return
		}
		addr := w.scalar(k.Args[0], l) + k.Index.Base
		if err = wg.lds.inBounds(addr, 4); err != nil {
			return
		}
		old := wg.lds.load(addr, 4)
		wg.lds.store(addr, 4, old+w.comp(k.Args[1], l, 0))
		dst[l][0] = old
	})
	if err != nil {
		return w.errorf(ErrOutOfBounds, "atomic: %v", err)
	}
	return nil
}

// ringAddress returns the byte address of a ring access.
func (w *wave) ringAddress(voffset, soffset ir.ExpressionHandle, base uint32, l int) uint32 {
	return w.scalar(voffset, l) + w.scalar(soffset, l) + base
}

func (w *wave) loadBuffer(e *ir.Expression, k ir.ExprIntrinsic, dst []value, mask uint64) error {
	dev := w.wg.dev
	dev.lock()
	defer dev.unlock()
	var err error
	lanes(mask, func(l int) {
		addr := w.ringAddress(k.Args[0], k.Args[1], k.Index.Base, l)
		for c := 0; c < int(e.NumComponents) && err == nil; c++ {
			a := addr + uint32(c)*4
			switch k.Index.Ring {
			case ir.RingMeshScratch:
				dst[l][c] = uint64(dev.Scratch[a/4])
			case ir.RingXfbState:
				if a+4 > uint32(len(dev.XfbState)) {
					err = w.errorf(ErrOutOfBounds, "stream-out state load at %d", a)
					return
				}
				dst[l][c] = uint64(dev.stateDword(a))
			default:
				err = w.errorf(ErrUnsupported, "load from %s", k.Index.Ring)
			}
		}
	})
	return err
}

func (w *wave) storeBuffer(s ir.StmtIntrinsic, mask uint64) error {
	wg := w.wg
	dev := wg.dev
	v := &w.f.Expressions[s.Args[0]]
	var events []Event
	var err error
	dev.lock()
	lanes(mask, func(l int) {
		if err != nil {
			return
		}
		addr := w.ringAddress(s.Args[1], s.Args[2], s.Index.Base, l)
		var comps [4]uint32
		for c := 0; c < int(v.NumComponents); c++ {
			comps[c] = uint32(w.comp(s.Args[0], l, c))
		}
		switch ring := s.Index.Ring; ring {
		case ir.RingAttr:
			key := AttrKey{Index: w.scalar(s.Args[2], l) + w.scalar(s.Args[3], l), Param: (w.scalar(s.Args[1], l) + s.Index.Base) / 16}
			dev.Attr[key] = comps
			events = append(events, Event{
				Kind:       EventAttrStore,
				Wave:       w.index,
				Invocation: w.invocation(l),
				Value:      comps,
				Param:      key.Param,
			})
		case ir.RingMeshScratch:
			for c := 0; c < int(v.NumComponents); c++ {
				if s.Index.WriteMask&(1<<c) != 0 {
					dev.Scratch[addr/4+uint32(c)] = comps[c]
				}
			}
		case ir.RingXfb0, ir.RingXfb1, ir.RingXfb2, ir.RingXfb3:
			buf := dev.Xfb[ring-ir.RingXfb0]
			for c := 0; c < int(v.NumComponents); c++ {
				if s.Index.WriteMask&(1<<c) != 0 {
					buf.store(addr+uint32(c)*4, comps[c])
				}
			}
		default:
			err = w.errorf(ErrUnsupported, "store to %s", ring)
		}
	})
	dev.unlock()
	if len(events) > 0 {
		wg.mu.Lock()
		wg.events = append(wg.events, events...)
		wg.mu.Unlock()
	}
	return err
}

func (w *wave) stateAddress(voffset ir.ExpressionHandle, base uint32, l, n int) (uint32, error) {
	a := w.scalar(voffset, l) + base
	if uint64(a)+uint64(n) > uint64(len(w.wg.dev.XfbState)) || a%4 != 0 {
		return 0, w.errorf(ErrOutOfBounds, "stream-out state access at %d", a)
	}
	return a, nil
}

func (w *wave) globalAtomicAdd(k ir.ExprIntrinsic, dst []value, mask uint64) error {
	if k.Index.Ring != ir.RingXfbState {
		return w.errorf(ErrUnsupported, "atomic on %s", k.Index.Ring)
	}
	dev := w.wg.dev
	dev.lock()
	defer dev.unlock()
	var err error
	lanes(mask, func(l int) {
		if err != nil {
			return
		}
		var a uint32
		if a, err = w.stateAddress(k.Args[0], k.Index.Base, l, 4); err != nil {
			return
		}
		old := dev.stateDword(a)
		dev.setStateDword(a, old+w.scalar(k.Args[1], l))
		dst[l][0] = uint64(old)
	})
	return err
}

// orderedAdd64 adds the high dword of the operand to the offset of a
// {ordered id, offset} record when the record's id equals the low dword,
// and then advances the id. It returns the old record either way. A wave
// whose id is still ahead of every record sleeps until a record changes.
func (w *wave) orderedAdd64(k ir.ExprIntrinsic, dst []value, mask uint64) error {
	if k.Index.Ring != ir.RingXfbState {
		return w.errorf(ErrUnsupported, "ordered add on %s", k.Index.Ring)
	}
	dev := w.wg.dev
	dev.lock()
	defer dev.unlock()
	var err error
	applied := false
	lanes(mask, func(l int) {
		if err != nil {
			return
		}
		var a uint32
		if a, err = w.stateAddress(k.Args[0], k.Index.Base, l, 8); err != nil {
			return
		}
		src := w.comp(k.Args[1], l, 0)
		id, off := dev.stateDword(a), dev.stateDword(a+4)
		dst[l][0] = uint64(off)<<32 | uint64(id)
		if id == uint32(src) {
			dev.setStateDword(a, id+1)
			dev.setStateDword(a+4, off+uint32(src>>32))
			applied = true
		}
	})
	if err != nil {
		return err
	}
	if applied {
		dev.cond.Broadcast()
		return nil
	}
	l := firstLane(mask)
	a, _ := w.stateAddress(k.Args[0], k.Index.Base, l, 8)
	cur := dev.stateDword(a)
	want := uint32(w.comp(k.Args[1], l, 0))
	if int32(cur-want) >= 0 {
		return nil
	}
	if err := dev.wait(w.ctx, func() bool { return dev.stateDword(a) != cur }); err != nil {
		return w.errorf(ErrCancelled, "ordered add: %v", err)
	}
	return nil
}

// orderedCounterAdd waits for the workgroup's turn, then adds the operand
// to the counters selected by the write mask. The first active lane
// supplies the operands.
func (w *wave) orderedCounterAdd(k ir.ExprIntrinsic, dst []value, mask uint64) error {
	dev := w.wg.dev
	l := firstLane(mask)
	id := w.scalar(k.Args[0], l)
	dev.lock()
	defer dev.unlock()
	if err := dev.wait(w.ctx, func() bool { return dev.NextOrderedID == id }); err != nil {
		return w.errorf(ErrCancelled, "ordered counter add: %v", err)
	}
	var old value
	for c := 0; c < 4; c++ {
		if k.Index.WriteMask&(1<<c) == 0 {
			continue
		}
		old[c] = uint64(dev.Counters[c])
		dev.Counters[c] += uint32(w.comp(k.Args[1], l, c))
	}
	dev.NextOrderedID++
	dev.cond.Broadcast()
	lanes(mask, func(l int) { dst[l] = old })
	return nil
}

func widen(v [4]uint32) value {
	return value{uint64(v[0]), uint64(v[1]), uint64(v[2]), uint64(v[3])}
}

func byteSize(bitSize uint8) int {
	if bitSize < 8 {
		return 1
	}
	return int(bitSize / 8)
}

func b2u(v bool) uint64 {
	if v {
		return 1
	}
	return 0
}
