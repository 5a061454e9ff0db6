// Copyright 2025 The GoGPU Authors
// SPDX-License-Identifier: MIT

package sim

import (
	"context"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/gogpu/nggc/ir"
)

func orderedWorkgroups(n int) []Workgroup {
	wgs := make([]Workgroup, n)
	for i := range wgs {
		wgs[i].OrderedID = uint32(i)
	}
	return wgs
}

func TestRun_OrderedCounterAddFollowsOrderedID(t *testing.T) {
	sh := buildShader(t, 0, func(b *ir.Builder) {
		b.If(b.IEqImm(b.LocalInvocationIndex(), 0), func() {
			id := b.Intrinsic(ir.IntrLoadOrderedID, 1, 32, ir.Indices{})
			req := b.Vec(b.IAddImm(id, 1), b.Const32(0), b.Const32(0), b.Const32(0))
			old := b.Intrinsic(ir.IntrOrderedXfbCounterAdd, 4, 32, ir.Indices{WriteMask: 1}, id, req)
			b.Export(b.Channel(old, 0), ir.ExportPos0, 1, 0)
		})
	})
	// Launch in reverse so later workgroups reach the counter first.
	wgs := orderedWorkgroups(16)
	for i, j := 0, len(wgs)-1; i < j; i, j = i+1, j-1 {
		wgs[i], wgs[j] = wgs[j], wgs[i]
	}
	dev := NewDevice()
	res, err := Run(context.Background(), dev, sh, Config{WaveSize: 32, NumWaves: 1, Parallelism: len(wgs)}, wgs)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	for i, wr := range res.Workgroups {
		id := wgs[i].OrderedID
		if got, want := exportValues(wr, ir.ExportPos0)[0], id*(id+1)/2; got != want {
			t.Errorf("workgroup with ordered id %d saw offset %d, want %d", id, got, want)
		}
	}
	if dev.Counters[0] != 16*17/2 || dev.NextOrderedID != 16 {
		t.Errorf("counter = %d next id = %d", dev.Counters[0], dev.NextOrderedID)
	}
}

func TestRun_OrderedAdd64RetriesUntilItsTurn(t *testing.T) {
	sh := buildShader(t, 0, func(b *ir.Builder) {
		b.If(b.IEqImm(b.LocalInvocationIndex(), 0), func() {
			id := b.Intrinsic(ir.IntrLoadOrderedID, 1, 32, ir.Indices{})
			src := b.Pack64(id, b.Const32(4))
			last := b.Local("last", 1, 64)
			b.Loop(func() {
				res := b.Intrinsic(ir.IntrOrderedAdd64, 1, 64, ir.Indices{Ring: ir.RingXfbState}, b.Const32(0), src)
				b.StoreLocal(last, res)
				seen, _ := b.Unpack64(res)
				b.BreakIf(b.IEq(seen, id))
			})
			_, off := b.Unpack64(b.LoadLocal(last))
			b.Export(off, ir.ExportPos0, 1, 0)
		})
	})
	dev := NewDevice()
	res, err := Run(context.Background(), dev, sh, Config{WaveSize: 32, NumWaves: 1, Parallelism: 4}, orderedWorkgroups(12))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	for i, wr := range res.Workgroups {
		if got := exportValues(wr, ir.ExportPos0)[0]; got != uint32(4*i) {
			t.Errorf("workgroup %d got offset %d, want %d", i, got, 4*i)
		}
	}
	if id, off := dev.XfbRecord(0); id != 12 || off != 48 {
		t.Errorf("record = {%d, %d}, want {12, 48}", id, off)
	}
}

func TestRun_XfbStoresOutsideBufferAreDropped(t *testing.T) {
	sh := buildShader(t, 0, func(b *ir.Builder) {
		lane := b.SubgroupInvocation()
		zero := b.Const32(0)
		b.StoreBuffer(ir.XfbRing(1), b.Vec(lane, b.IAddImm(lane, 100)), b.IMulImm(lane, 8), zero, zero, 0)
	})
	dev := NewDevice()
	buf := dev.BindXfb(1, 16, 8)
	if _, err := Run(context.Background(), dev, sh, Config{WaveSize: 32, NumWaves: 1}, []Workgroup{{}}); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if diff := cmp.Diff([]uint32{0, 100, 1, 101}, buf.Dwords()); diff != "" {
		t.Errorf("buffer mismatch (-want +got):\n%s", diff)
	}
	if buf.Dropped != 60 {
		t.Errorf("dropped = %d, want 60", buf.Dropped)
	}
}

func TestRun_AttrRingAndQueries(t *testing.T) {
	sh := buildShader(t, 0, func(b *ir.Builder) {
		tid := b.LocalInvocationIndex()
		b.StoreBuffer(ir.RingAttr, b.Vec(tid, tid, tid, tid), b.Const32(0), b.LoadArg(ir.ArgAttrRingOffset), tid, 32)
		b.Call(ir.IntrAtomicAddGenPrimCount, ir.Indices{Stream: 2}, b.Const32(1))
		b.If(b.Elect(), func() {
			b.Call(ir.IntrAllocVerticesAndPrims, ir.Indices{}, b.Const32(3), b.Const32(1))
		})
	})
	dev := NewDevice()
	wgs := []Workgroup{{Args: map[ir.ShaderArg]uint32{ir.ArgAttrRingOffset: 1000}}}
	res, err := Run(context.Background(), dev, sh, Config{WaveSize: 32, NumWaves: 2}, wgs)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if v, ok := dev.AttrValue(1005, 2); !ok || v != [4]uint32{5, 5, 5, 5} {
		t.Errorf("attr {1005, 2} = %v, %v", v, ok)
	}
	if dev.Queries.GeneratedPrims[2] != 64 {
		t.Errorf("generated prims = %d, want 64", dev.Queries.GeneratedPrims[2])
	}
	wr := res.Workgroups[0]
	if n := wr.Count(EventAttrStore); n != 64 {
		t.Errorf("attr store events = %d, want 64", n)
	}
	if n := wr.Count(EventAlloc); n != 2 {
		t.Errorf("alloc events = %d, want 2 (one per wave)", n)
	}
}
