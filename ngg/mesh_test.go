// Copyright 2025 The GoGPU Authors
// SPDX-License-Identifier: MIT

package ngg

import (
	"errors"
	"slices"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/gogpu/nggc/amd"
	"github.com/gogpu/nggc/ir"
	"github.com/gogpu/nggc/sim"
)

func newMeshShader(name string, apiSize, maxVtx, maxPrim uint32) (*ir.Shader, *ir.Builder) {
	sh := ir.NewShader(name, ir.StageMesh)
	sh.Info.Mesh = ir.MeshInfo{
		MaxVertices:     maxVtx,
		MaxPrimitives:   maxPrim,
		OutputPrimitive: ir.PrimTriangles,
		WorkgroupSize:   [3]uint32{apiSize, 1, 1},
	}
	return sh, ir.NewBuilder(sh.Func)
}

func storeVertex(b *ir.Builder, slot ir.Slot, vtx, v ir.ExpressionHandle) {
	b.Call(ir.IntrStorePerVertexOutput, ir.Indices{Slot: slot, WriteMask: uint8(1)<<b.Components(v) - 1}, v, vtx)
}

func storePrimitive(b *ir.Builder, slot ir.Slot, prim, v ir.ExpressionHandle) {
	b.Call(ir.IntrStorePerPrimitiveOutput, ir.Indices{Slot: slot, WriteMask: uint8(1)<<b.Components(v) - 1}, v, prim)
}

func meshOptions(gfx amd.GfxLevel) Options {
	opts := DefaultOptions(gfx)
	opts.WaveSize = 32
	return opts
}

// buildQuadMesh writes four vertices and two triangles from an API
// workgroup of eight invocations. Vertex i has position x = i and VAR0 =
// 10*i; primitive p connects p, p+1 and p+2, carries VAR1 = 100+p and is
// culled when p is 1.
func buildQuadMesh() *ir.Shader {
	sh, b := newMeshShader("quad", 8, 4, 2)
	tid := b.LocalInvocationIndex()
	b.Call(ir.IntrSetMeshOutputs, ir.Indices{}, b.Const32(4), b.Const32(2))
	b.If(b.ULtImm(tid, 4), func() {
		storeVertex(b, ir.SlotPos, tid, b.Vec(tid, b.Const32(0), b.Const32(0), b.Float(1)))
		storeVertex(b, ir.SlotVar0, tid, b.IMulImm(tid, 10))
	})
	b.If(b.ULtImm(tid, 2), func() {
		storePrimitive(b, ir.SlotPrimitiveIndices, tid, b.Vec(tid, b.IAddImm(tid, 1), b.IAddImm(tid, 2)))
		storePrimitive(b, ir.SlotCullPrimitive, tid, b.IEqImm(tid, 1))
		storePrimitive(b, ir.SlotVar1, tid, b.IAddImm(tid, 100))
	})
	return sh
}

// checkQuadMesh checks the exports of buildQuadMesh.
func checkQuadMesh(t *testing.T, dev *sim.Device, wr *sim.WorkgroupResult, gfx amd.GfxLevel) {
	t.Helper()
	hw := amd.Info(gfx)

	allocs := slices.DeleteFunc(slices.Clone(wr.Events), func(e sim.Event) bool { return e.Kind != sim.EventAlloc })
	if len(allocs) != 1 || allocs[0].Value != [4]uint32{4, 2} {
		t.Errorf("allocations = %+v, want one of 4 vertices and 2 primitives", allocs)
	}
	for i := 0; i < 32; i++ {
		pos := posExports(wr, i)
		if i >= 4 {
			if len(pos) != 0 {
				t.Errorf("invocation %d exported a position", i)
			}
			continue
		}
		if len(pos) != 1 || pos[0].Value[0] != uint32(i) {
			t.Errorf("invocation %d position exports = %+v", i, pos)
		}
	}

	prims := wr.ExportsTo(ir.ExportPrim)
	slices.SortFunc(prims, func(a, b sim.Event) int { return a.Invocation - b.Invocation })
	var got []amd.PrimExport
	for _, p := range prims {
		got = append(got, hw.UnpackPrimExport(p.Value[0], 3))
	}
	want := []amd.PrimExport{
		{Indices: [3]uint32{0, 1, 2}},
		{Indices: [3]uint32{1, 2, 3}, Null: true},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("primitive exports mismatch (-want +got):\n%s", diff)
	}

	if hw.HasAttrRing {
		for i := uint32(0); i < 4; i++ {
			if v, ok := dev.AttrValue(i, 0); !ok || v[0] != 10*i {
				t.Errorf("vertex attribute %d = %v, %v", i, v, ok)
			}
		}
		// VAR1 follows the single per-vertex parameter.
		for p := uint32(0); p < 2; p++ {
			if v, ok := dev.AttrValue(p, 2); !ok || v[0] != 100+p {
				t.Errorf("primitive attribute %d = %v, %v", p, v, ok)
			}
		}
		return
	}
	vparams := paramByInvocation(wr, ir.ExportParam(0))
	for i := 0; i < 4; i++ {
		if v, ok := vparams[i]; !ok || v[0] != uint32(10*i) {
			t.Errorf("vertex %d parameter = %v, %v", i, v, ok)
		}
	}
	pparams := wr.ExportsTo(ir.ExportParam(1))
	if len(pparams) != 2 {
		t.Fatalf("%d primitive parameter exports, want 2", len(pparams))
	}
	for _, e := range pparams {
		if e.Flags&ir.ExportPerPrimitive == 0 || e.Value[0] != uint32(100+e.Invocation) {
			t.Errorf("primitive parameter export = %+v", e)
		}
	}
}

func TestMeshHWWorkgroupSize(t *testing.T) {
	tests := []struct {
		name string
		wave int
		mesh ir.MeshInfo
		want int
	}{
		{"api bound", 32, ir.MeshInfo{MaxVertices: 4, MaxPrimitives: 2, WorkgroupSize: [3]uint32{8, 4, 1}}, 32},
		{"vertex bound", 64, ir.MeshInfo{MaxVertices: 100, MaxPrimitives: 20, WorkgroupSize: [3]uint32{32}}, 128},
		{"primitive bound", 32, ir.MeshInfo{MaxVertices: 64, MaxPrimitives: 126, WorkgroupSize: [3]uint32{32}}, 128},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := DefaultOptions(amd.GFX11)
			opts.WaveSize = tt.wave
			if got := MeshHWWorkgroupSize(opts, tt.mesh); got != tt.want {
				t.Errorf("MeshHWWorkgroupSize() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestLowerMesh_Quad(t *testing.T) {
	for _, gfx := range []amd.GfxLevel{amd.GFX10_3, amd.GFX11} {
		t.Run(gfx.String(), func(t *testing.T) {
			sh := buildQuadMesh()
			mustLower(t, sh, meshOptions(gfx))

			if n := workgroupBarriers(sh.Func.Body); n != 0 {
				t.Errorf("%d workgroup barriers in a single-wave mesh shader", n)
			}
			wantPrim := ir.SlotPrimitiveIndices.Bit() | ir.SlotCullPrimitive.Bit() | ir.SlotVar1.Bit()
			if sh.Info.PerPrimitiveOutputs != wantPrim {
				t.Errorf("PerPrimitiveOutputs = %#x, want %#x", sh.Info.PerPrimitiveOutputs, wantPrim)
			}
			if sh.Info.OutputsWritten&(ir.SlotPos.Bit()|ir.SlotVar0.Bit()) == 0 {
				t.Errorf("OutputsWritten = %#x misses the vertex outputs", sh.Info.OutputsWritten)
			}

			dev := sim.NewDevice()
			res := mustRun(t, dev, sh, sim.Config{WaveSize: 32, NumWaves: 1}, sim.Workgroup{})
			checkQuadMesh(t, dev, res.Workgroups[0], gfx)
		})
	}
}

func TestLowerMesh_ScratchRing(t *testing.T) {
	for _, gfx := range []amd.GfxLevel{amd.GFX10_3, amd.GFX11} {
		t.Run(gfx.String(), func(t *testing.T) {
			sh := buildQuadMesh()
			opts := meshOptions(gfx)
			opts.MeshSharedLimit = 64
			mustLower(t, sh, opts)

			if sh.Info.SharedSize > 64 {
				t.Errorf("SharedSize = %d, want at most 64", sh.Info.SharedSize)
			}
			dev := sim.NewDevice()
			res := mustRun(t, dev, sh, sim.Config{WaveSize: 32, NumWaves: 1}, sim.Workgroup{
				Args: map[ir.ShaderArg]uint32{ir.ArgMeshScratchRingOffset: 0x1000},
			})
			if len(dev.Scratch) == 0 {
				t.Fatal("nothing was written to the scratch ring")
			}
			for addr := range dev.Scratch {
				if addr < 0x1000/4 {
					t.Errorf("scratch dword %#x below the workgroup's ring offset", addr)
				}
			}
			checkQuadMesh(t, dev, res.Workgroups[0], gfx)
		})
	}
}

func TestLowerMesh_SpillsAttributesFirst(t *testing.T) {
	for _, gfx := range []amd.GfxLevel{amd.GFX10_3, amd.GFX11} {
		t.Run(gfx.String(), func(t *testing.T) {
			sh := buildQuadMesh()
			opts := meshOptions(gfx)
			// Room for the info block, the position and both primitive
			// system values, but not for the varyings.
			opts.MeshSharedLimit = 144
			mustLower(t, sh, opts)

			if sh.Info.SharedSize > 144 {
				t.Errorf("SharedSize = %d, want at most 144", sh.Info.SharedSize)
			}
			dev := sim.NewDevice()
			res := mustRun(t, dev, sh, sim.Config{WaveSize: 32, NumWaves: 1}, sim.Workgroup{
				Args: map[ir.ShaderArg]uint32{ir.ArgMeshScratchRingOffset: 0x1000},
			})
			var got []uint32
			for _, v := range dev.Scratch {
				got = append(got, v)
			}
			slices.Sort(got)
			// VAR0 of the four vertices and VAR1 of the two primitives.
			want := []uint32{0, 10, 20, 30, 100, 101}
			if diff := cmp.Diff(want, got); diff != "" {
				t.Errorf("scratch ring contents mismatch (-want +got):\n%s", diff)
			}
			checkQuadMesh(t, dev, res.Workgroups[0], gfx)
		})
	}
}

func TestLowerMesh_AttrRingWaitInEveryWave(t *testing.T) {
	// Three vertices and forty primitives: the second wave exports
	// primitives only.
	sh, b := newMeshShader("wide", 40, 3, 40)
	tid := b.LocalInvocationIndex()
	b.Call(ir.IntrSetMeshOutputs, ir.Indices{}, b.Const32(3), b.Const32(40))
	b.If(b.ULtImm(tid, 3), func() {
		storeVertex(b, ir.SlotPos, tid, b.Vec(tid, b.Const32(0), b.Const32(0), b.Float(1)))
		storeVertex(b, ir.SlotVar0, tid, tid)
	})
	storePrimitive(b, ir.SlotPrimitiveIndices, tid, b.Vec(b.Const32(0), b.Const32(1), b.Const32(2)))
	storePrimitive(b, ir.SlotVar1, tid, b.IAddImm(tid, 100))
	mustLower(t, sh, meshOptions(amd.GFX11))

	dev := sim.NewDevice()
	res := mustRun(t, dev, sh, sim.Config{WaveSize: 32, NumWaves: 2}, sim.Workgroup{})
	wr := res.Workgroups[0]
	for wave := 0; wave < 2; wave++ {
		waited, exported := false, false
		for _, e := range wr.Events {
			if e.Wave != wave {
				continue
			}
			switch e.Kind {
			case sim.EventMemoryBarrier:
				waited = true
			case sim.EventExport:
				exported = true
				if !waited {
					t.Fatalf("wave %d exported to %v before waiting for its attribute stores", wave, e.Target)
				}
			}
		}
		if !exported {
			t.Errorf("wave %d exported nothing", wave)
		}
	}
	if got := len(wr.ExportsTo(ir.ExportPrim)); got != 40 {
		t.Errorf("%d primitive exports, want 40", got)
	}
	for p := uint32(32); p < 40; p++ {
		if v, ok := dev.AttrValue(p, 2); !ok || v[0] != 100+p {
			t.Errorf("primitive attribute %d = %v, %v", p, v, ok)
		}
	}
}

func TestLowerMesh_FastLaunch(t *testing.T) {
	sh := buildQuadMesh()
	opts := meshOptions(amd.GFX11)
	opts.FastLaunch2 = true
	mustLower(t, sh, opts)

	// The allocation is made in the block that runs the shader body and
	// stores its outputs.
	for _, st := range sh.Func.Body {
		blk := ir.Block{st}
		if containsIntrinsic(blk, ir.IntrAllocVerticesAndPrims) && !containsIntrinsic(blk, ir.IntrStoreShared) {
			t.Errorf("allocation outside the shader body:\n%s", sh)
		}
	}

	dev := sim.NewDevice()
	res := mustRun(t, dev, sh, sim.Config{WaveSize: 32, NumWaves: 1}, sim.Workgroup{})
	checkQuadMesh(t, dev, res.Workgroups[0], amd.GFX11)
}

func containsIntrinsic(blk ir.Block, op ir.Intrinsic) bool {
	found := false
	ir.Walk(blk, func(st ir.Statement) {
		if call, ok := st.Kind.(ir.StmtIntrinsic); ok && call.Op == op {
			found = true
		}
	})
	return found
}

func TestLowerMesh_BarrierReplay(t *testing.T) {
	const apiSize, numVtx, numPrim = 16, 64, 32
	sh, b := newMeshShader("replay", apiSize, numVtx, numPrim)
	tid := b.LocalInvocationIndex()
	b.Call(ir.IntrSetMeshOutputs, ir.Indices{}, b.Const32(numVtx), b.Const32(numPrim))
	b.WorkgroupBarrier()
	for k := uint64(0); k < numVtx/apiSize; k++ {
		v := b.IAddImm(tid, k*apiSize)
		storeVertex(b, ir.SlotPos, v, b.Vec(v, b.Const32(0), b.Const32(0), b.Float(1)))
	}
	b.WorkgroupBarrier()
	for k := uint64(0); k < numPrim/apiSize; k++ {
		p := b.IAddImm(tid, k*apiSize)
		storePrimitive(b, ir.SlotPrimitiveIndices, p, b.Vec(p, b.IAddImm(p, 1), b.IAddImm(p, 2)))
	}

	opts := meshOptions(amd.GFX10_3)
	mustLower(t, sh, opts)

	res := mustRun(t, nil, sh, sim.Config{WaveSize: 32, NumWaves: 2}, sim.Workgroup{})
	wr := res.Workgroups[0]
	if len(wr.Barriers) != 2 || wr.Barriers[0] != wr.Barriers[1] {
		t.Errorf("barriers per wave = %v, want equal counts", wr.Barriers)
	}
	if wr.Barriers[0] != 3 {
		t.Errorf("first wave ran %d barriers, want 3", wr.Barriers[0])
	}
	for i := 0; i < numVtx; i++ {
		pos := posExports(wr, i)
		if len(pos) != 1 || pos[0].Value[0] != uint32(i) {
			t.Errorf("invocation %d position exports = %+v", i, pos)
		}
	}
	prims := wr.ExportsTo(ir.ExportPrim)
	if len(prims) != numPrim {
		t.Fatalf("%d primitive exports, want %d", len(prims), numPrim)
	}
	hw := amd.Info(amd.GFX10_3)
	for _, p := range prims {
		got := hw.UnpackPrimExport(p.Value[0], 3)
		i := uint32(p.Invocation)
		if got != (amd.PrimExport{Indices: [3]uint32{i, i + 1, i + 2}}) {
			t.Errorf("invocation %d exported primitive %+v", p.Invocation, got)
		}
	}
}

func TestLowerMesh_NoBarrierReplayWithoutBodyBarriers(t *testing.T) {
	sh, b := newMeshShader("plain", 16, 64, 1)
	tid := b.LocalInvocationIndex()
	b.Call(ir.IntrSetMeshOutputs, ir.Indices{}, b.Const32(3), b.Const32(1))
	storeVertex(b, ir.SlotPos, tid, b.Vec(tid, b.Const32(0), b.Const32(0), b.Float(1)))
	mustLower(t, sh, meshOptions(amd.GFX11))

	if n := workgroupBarriers(sh.Func.Body); n != 1 {
		t.Errorf("%d workgroup barriers, want 1", n)
	}
	res := mustRun(t, nil, sh, sim.Config{WaveSize: 32, NumWaves: 2}, sim.Workgroup{})
	if got := res.Workgroups[0].Barriers; !slices.Equal(got, []int{1, 1}) {
		t.Errorf("barriers per wave = %v, want [1 1]", got)
	}
}

func TestLowerMesh_OutputLoads(t *testing.T) {
	sh, b := newMeshShader("readback", 4, 4, 1)
	tid := b.LocalInvocationIndex()
	b.Call(ir.IntrSetMeshOutputs, ir.Indices{}, b.Const32(4), b.Const32(1))
	storeVertex(b, ir.SlotPos, tid, b.Vec(tid, b.Const32(0), b.Const32(0), b.Float(1)))
	storeVertex(b, ir.SlotVar0, tid, b.IMulImm(tid, 3))
	prev := b.Intrinsic(ir.IntrLoadPerVertexOutput, 1, 32, ir.Indices{Slot: ir.SlotVar0}, tid)
	storeVertex(b, ir.SlotVar1, tid, b.IAddImm(prev, 1))
	mustLower(t, sh, meshOptions(amd.GFX10_3))

	res := mustRun(t, nil, sh, sim.Config{WaveSize: 32, NumWaves: 1}, sim.Workgroup{})
	params := paramByInvocation(res.Workgroups[0], ir.ExportParam(1))
	for i := 0; i < 4; i++ {
		if v, ok := params[i]; !ok || v[0] != uint32(3*i+1) {
			t.Errorf("vertex %d VAR1 = %v, %v, want %d", i, v, ok, 3*i+1)
		}
	}
}

func TestLowerMesh_PrimitiveLayer(t *testing.T) {
	sh, b := newMeshShader("layered", 4, 3, 1)
	tid := b.LocalInvocationIndex()
	b.Call(ir.IntrSetMeshOutputs, ir.Indices{}, b.Const32(3), b.Const32(1))
	storeVertex(b, ir.SlotPos, tid, b.Vec(tid, b.Const32(0), b.Const32(0), b.Float(1)))
	b.If(b.IEqImm(tid, 0), func() {
		storePrimitive(b, ir.SlotPrimitiveIndices, tid, b.Vec(b.Const32(0), b.Const32(1), b.Const32(2)))
		storePrimitive(b, ir.SlotLayer, tid, b.Const32(5))
		storePrimitive(b, ir.SlotViewport, tid, b.Const32(2))
	})
	opts := meshOptions(amd.GFX11)
	opts.HasParamExports = false
	mustLower(t, sh, opts)

	res := mustRun(t, nil, sh, sim.Config{WaveSize: 32, NumWaves: 1}, sim.Workgroup{})
	prims := res.Workgroups[0].ExportsTo(ir.ExportPrim)
	if len(prims) != 1 {
		t.Fatalf("%d primitive exports, want 1", len(prims))
	}
	if prims[0].Mask != 0x3 {
		t.Fatalf("primitive export mask = %#x, want 0x3", prims[0].Mask)
	}
	misc := amd.MiscGen2.UnpackMiscWords(0, prims[0].Value[1], 0)
	if misc.Layer != 5 || misc.Viewport != 2 {
		t.Errorf("primitive misc = %+v, want layer 5 viewport 2", misc)
	}
}

func TestLowerMesh_Errors(t *testing.T) {
	quad := func() *ir.Shader { return buildQuadMesh() }

	withStoreOutput := quad()
	wb := ir.NewBuilder(withStoreOutput.Func)
	storeOutput(wb, ir.SlotPos, wb.FloatVec(0, 0, 0, 1))

	tooLarge, _ := newMeshShader("large", 32, 300, 1)

	half, hb := newMeshShader("half", 4, 4, 1)
	hb.Call(ir.IntrStorePerVertexOutput, ir.Indices{Slot: ir.SlotVar0, Bank16: true, WriteMask: 1}, hb.Const32(1), hb.Const32(0))

	tests := []struct {
		name string
		sh   *ir.Shader
		gfx  amd.GfxLevel
		want ErrorKind
	}{
		{"before gfx10.3", quad(), amd.GFX10, ErrUnsupportedStage},
		{"store_output", withStoreOutput, amd.GFX11, ErrInvalidShader},
		{"workgroup too large", tooLarge, amd.GFX11, ErrInvalidShader},
		{"16-bit output", half, amd.GFX11, ErrInvalidShader},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Lower(tt.sh, meshOptions(tt.gfx))
			var nerr *Error
			if !errors.As(err, &nerr) || nerr.Kind != tt.want {
				t.Fatalf("Lower() = %v, want a %v error", err, tt.want)
			}
		})
	}
}
