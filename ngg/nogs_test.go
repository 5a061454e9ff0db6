// Copyright 2025 The GoGPU Authors
// SPDX-License-Identifier: MIT

package ngg

import (
	"errors"
	"math"
	"slices"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/gogpu/nggc/amd"
	"github.com/gogpu/nggc/ir"
	"github.com/gogpu/nggc/prerast"
	"github.com/gogpu/nggc/sim"
)

func singleWaveOptions(gfx amd.GfxLevel) Options {
	opts := DefaultOptions(gfx)
	opts.WaveSize = 32
	opts.MaxWorkgroupSize = 32
	return opts
}

func posExports(wr *sim.WorkgroupResult, invocation int) []sim.Event {
	var out []sim.Event
	for _, e := range wr.Exports(invocation) {
		if e.Target.IsPos() {
			out = append(out, e)
		}
	}
	return out
}

func TestLowerVertex_SingleTriangle(t *testing.T) {
	tests := []struct {
		name string
		gfx  amd.GfxLevel
	}{
		{"parameter exports", amd.GFX10_3},
		{"attribute ring", amd.GFX11},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sh := ir.NewShader("triangle", ir.StageVertex)
			b := ir.NewBuilder(sh.Func)
			storeOutput(b, ir.SlotPos, b.FloatVec(1, 0, 0, 1))
			storeOutput(b, ir.SlotVar0, b.FloatVec(1, 1, 1, 1))
			mustLower(t, sh, singleWaveOptions(tt.gfx))

			if n := workgroupBarriers(sh.Func.Body); n != 0 {
				t.Errorf("%d workgroup barriers in a single-wave shader", n)
			}
			if usesShared(sh) {
				t.Errorf("shader uses shared memory:\n%s", sh)
			}
			if want := ir.SlotPos.Bit() | ir.SlotVar0.Bit(); sh.Info.OutputsWritten != want {
				t.Errorf("OutputsWritten = %#x, want %#x", sh.Info.OutputsWritten, want)
			}

			dev := sim.NewDevice()
			res := mustRun(t, dev, sh, sim.Config{WaveSize: 32, NumWaves: 1}, sim.Workgroup{
				Args:     map[ir.ShaderArg]uint32{ir.ArgNumInputVertices: 3, ir.ArgNumInputPrimitives: 1},
				LaneArgs: primLaneArgs([][3]uint32{{0, 1, 2}}, 32),
			})
			wr := res.Workgroups[0]

			if n := wr.Count(sim.EventAlloc); n != 1 {
				t.Errorf("%d allocations, want 1", n)
			}
			for i := 0; i < 3; i++ {
				pos := posExports(wr, i)
				if len(pos) != 1 {
					t.Fatalf("invocation %d made %d position exports", i, len(pos))
				}
				if pos[0].Mask != 0xf || pos[0].Value != fbits(1, 0, 0, 1) || pos[0].Flags&ir.ExportDone == 0 {
					t.Errorf("invocation %d position export = %+v", i, pos[0])
				}
			}

			prims := wr.ExportsTo(ir.ExportPrim)
			if len(prims) != 1 {
				t.Fatalf("%d primitive exports, want 1", len(prims))
			}
			got := amd.Info(tt.gfx).UnpackPrimExport(prims[0].Value[0], 3)
			if diff := cmp.Diff(amd.PrimExport{Indices: [3]uint32{0, 1, 2}}, got); diff != "" {
				t.Errorf("primitive export mismatch (-want +got):\n%s", diff)
			}

			params := paramByInvocation(wr, ir.ExportParam(0))
			if amd.Info(tt.gfx).HasAttrRing {
				if len(params) != 0 {
					t.Errorf("%d parameter exports with an attribute ring", len(params))
				}
				for i := uint32(0); i < 3; i++ {
					if v, ok := dev.AttrValue(i, 0); !ok || v != fbits(1, 1, 1, 1) {
						t.Errorf("attribute ring entry %d = %v, %v", i, v, ok)
					}
				}
				return
			}
			if len(params) != 3 {
				t.Fatalf("%d parameter exports, want 3", len(params))
			}
			for i, v := range params {
				if v != fbits(1, 1, 1, 1) {
					t.Errorf("invocation %d exported %v", i, v)
				}
			}
		})
	}
}

func TestLowerVertex_OneDoneExportPerVertex(t *testing.T) {
	const numVtx, numPrim = 100, 50
	sh := ir.NewShader("many", ir.StageVertex)
	b := ir.NewBuilder(sh.Func)
	vid := b.Intrinsic(ir.IntrLoadVertexID, 1, 32, ir.Indices{})
	storeOutput(b, ir.SlotPos, b.Vec(b.Conv(ir.OpU2F, 32, vid), b.Float(0), b.Float(0), b.Float(1)))
	storeOutput(b, ir.SlotVar0, vid)

	opts := DefaultOptions(amd.GFX10)
	opts.WaveSize = 32
	opts.MaxWorkgroupSize = 128
	mustLower(t, sh, opts)

	prims := make([][3]uint32, numPrim)
	for i := range prims {
		prims[i] = [3]uint32{uint32(2 * i), uint32(2*i + 1), uint32((2*i + 2) % numVtx)}
	}
	res := mustRun(t, nil, sh, sim.Config{WaveSize: 32, NumWaves: 4}, sim.Workgroup{
		Args:      map[ir.ShaderArg]uint32{ir.ArgNumInputVertices: numVtx, ir.ArgNumInputPrimitives: numPrim},
		LaneArgs:  primLaneArgs(prims, 128),
		VertexIDs: seq(128, 1000),
	})
	wr := res.Workgroups[0]

	for i := 0; i < 128; i++ {
		done := 0
		pos := posExports(wr, i)
		for _, e := range pos {
			if e.Flags&ir.ExportDone != 0 {
				done++
			}
		}
		want := 0
		if i < numVtx {
			want = 1
			if pos[0].Flags&ir.ExportValidMask == 0 {
				t.Errorf("invocation %d: first position export lacks the valid mask", i)
			}
		}
		if done != want {
			t.Errorf("invocation %d made %d done position exports, want %d", i, done, want)
		}
	}

	hw := amd.Info(amd.GFX10)
	exps := wr.ExportsTo(ir.ExportPrim)
	if len(exps) != numPrim {
		t.Fatalf("%d primitive exports, want %d", len(exps), numPrim)
	}
	for _, e := range exps {
		p := hw.UnpackPrimExport(e.Value[0], 3)
		if p.Indices != prims[e.Invocation] || p.Null {
			t.Errorf("invocation %d exported %+v, want %v", e.Invocation, p, prims[e.Invocation])
		}
	}
	for _, e := range wr.Events {
		if e.Kind == sim.EventAlloc && (e.Wave != 0 || e.Value[0] != numVtx || e.Value[1] != numPrim) {
			t.Errorf("allocation %+v", e)
		}
	}
}

func TestLowerVertex_Passthrough(t *testing.T) {
	sh := ir.NewShader("passthrough", ir.StageVertex)
	b := ir.NewBuilder(sh.Func)
	storeOutput(b, ir.SlotPos, b.FloatVec(0, 0, 0, 1))
	opts := singleWaveOptions(amd.GFX11)
	opts.Passthrough = true
	mustLower(t, sh, opts)

	const arg = 0x00300401
	res := mustRun(t, nil, sh, sim.Config{WaveSize: 32, NumWaves: 1}, sim.Workgroup{
		Args:     map[ir.ShaderArg]uint32{ir.ArgNumInputVertices: 3, ir.ArgNumInputPrimitives: 1},
		LaneArgs: map[ir.ShaderArg][]uint32{ir.ArgGSPrimExport: {arg}},
	})
	exps := res.Workgroups[0].ExportsTo(ir.ExportPrim)
	if len(exps) != 1 || exps[0].Value[0] != arg {
		t.Errorf("primitive exports = %+v, want one of %#x", exps, arg)
	}
}

func TestLowerVertex_PrimitiveID(t *testing.T) {
	prims := [][3]uint32{{0, 1, 2}, {3, 2, 1}}
	tests := []struct {
		name      string
		provoking uint32
		want      map[int]uint32
	}{
		{"first vertex", 0, map[int]uint32{0: 7, 3: 9}},
		{"last vertex", 2, map[int]uint32{2: 7, 1: 9}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sh := ir.NewShader("primid", ir.StageVertex)
			b := ir.NewBuilder(sh.Func)
			storeOutput(b, ir.SlotPos, b.FloatVec(0, 0, 0, 1))
			opts := singleWaveOptions(amd.GFX10_3)
			opts.ExportPrimitiveID = true
			mustLower(t, sh, opts)

			res := mustRun(t, nil, sh, sim.Config{WaveSize: 32, NumWaves: 1}, sim.Workgroup{
				Args: map[ir.ShaderArg]uint32{
					ir.ArgNumInputVertices:   4,
					ir.ArgNumInputPrimitives: 2,
					ir.ArgProvokingVertex:    tt.provoking,
				},
				LaneArgs:     primLaneArgs(prims, 32),
				PrimitiveIDs: []uint32{7, 9},
			})
			params := paramByInvocation(res.Workgroups[0], ir.ExportParam(prerast.DefaultMapIO(ir.SlotPrimitiveID)))
			if len(params) != 4 {
				t.Fatalf("%d primitive ID exports, want 4", len(params))
			}
			for inv, id := range tt.want {
				if params[inv][0] != id {
					t.Errorf("vertex %d has primitive ID %d, want %d", inv, params[inv][0], id)
				}
			}
		})
	}
}

func TestLowerVertex_UserEdgeFlags(t *testing.T) {
	hw := amd.Info(amd.GFX10_3)
	tests := []struct {
		name    string
		initial uint32
		want    [3]bool
	}{
		{"enabled", prerast.EdgeFlagMask(hw, 3), [3]bool{true, false, true}},
		{"disabled by the initial flags", 0, [3]bool{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sh := ir.NewShader("edges", ir.StageVertex)
			b := ir.NewBuilder(sh.Func)
			vid := b.Intrinsic(ir.IntrLoadVertexID, 1, 32, ir.Indices{})
			storeOutput(b, ir.SlotPos, b.FloatVec(0, 0, 0, 1))
			storeOutput(b, ir.SlotEdge, b.BCsel(b.IEqImm(vid, 1), b.Float(0), b.Float(1)))
			opts := singleWaveOptions(amd.GFX10_3)
			opts.HasUserEdgeFlags = true
			mustLower(t, sh, opts)

			res := mustRun(t, nil, sh, sim.Config{WaveSize: 32, NumWaves: 1}, sim.Workgroup{
				Args: map[ir.ShaderArg]uint32{
					ir.ArgNumInputVertices:   3,
					ir.ArgNumInputPrimitives: 1,
					ir.ArgInitialEdgeFlags:   tt.initial,
				},
				LaneArgs:  primLaneArgs([][3]uint32{{0, 1, 2}}, 32),
				VertexIDs: seq(3, 0),
			})
			exps := res.Workgroups[0].ExportsTo(ir.ExportPrim)
			if len(exps) != 1 {
				t.Fatalf("%d primitive exports, want 1", len(exps))
			}
			if got := hw.UnpackPrimExport(exps[0].Value[0], 3).EdgeFlags; got != tt.want {
				t.Errorf("edge flags = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestLowerVertex_Streamout(t *testing.T) {
	prims := [][3]uint32{{0, 1, 2}, {2, 1, 3}}
	tests := []struct {
		name string
		gfx  amd.GfxLevel
	}{
		{"ordered counters", amd.GFX11},
		{"ordered adds", amd.GFX12},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sh := ir.NewShader("xfb", ir.StageVertex)
			sh.Info.Xfb = &ir.XfbInfo{
				Outputs:      []ir.XfbOutput{{Buffer: 0, Slot: ir.SlotVar0, ComponentMask: 0xf}},
				BufferStride: [4]uint32{16},
			}
			b := ir.NewBuilder(sh.Func)
			vid := b.Intrinsic(ir.IntrLoadVertexID, 1, 32, ir.Indices{})
			storeOutput(b, ir.SlotPos, b.FloatVec(0, 0, 0, 1))
			storeOutput(b, ir.SlotVar0, b.Vec(vid, b.IAddImm(vid, 1), b.IAddImm(vid, 2), b.IAddImm(vid, 3)))
			opts := singleWaveOptions(tt.gfx)
			opts.HasGenPrimQuery = true
			opts.HasXfbPrimQuery = true
			mustLower(t, sh, opts)

			dev := sim.NewDevice()
			buf := dev.BindXfb(0, 256, 16)
			mustRun(t, dev, sh, sim.Config{WaveSize: 32, NumWaves: 1}, sim.Workgroup{
				Args: map[ir.ShaderArg]uint32{
					ir.ArgNumInputVertices:    4,
					ir.ArgNumInputPrimitives:  2,
					ir.ArgXfbQueryEnabled:     1,
					ir.ArgPrimGenQueryEnabled: 1,
				},
				LaneArgs:  primLaneArgs(prims, 32),
				VertexIDs: seq(4, 10),
			})

			var want []uint32
			for _, p := range prims {
				for _, v := range p {
					want = append(want, 10+v, 11+v, 12+v, 13+v)
				}
			}
			if diff := cmp.Diff(want, buf.Dwords()[:len(want)]); diff != "" {
				t.Errorf("buffer contents mismatch (-want +got):\n%s", diff)
			}
			var written uint32
			if amd.Info(tt.gfx).HasOrderedAdd64 {
				_, written = dev.XfbRecord(0)
			} else {
				written = dev.Counters[0]
			}
			if written != 96 {
				t.Errorf("buffer offset = %d, want 96", written)
			}
			if q := dev.Queries; q.XfbPrims[0] != 2 || q.GeneratedPrims[0] != 2 {
				t.Errorf("queries = %+v, want 2 written and 2 generated", q)
			}
		})
	}
}

// cullScene describes triangles whose vertices fetch their position from
// the vertex input; every third triangle lies right of the frustum.
type cullScene struct {
	numVtx  int
	prims   [][3]uint32
	pos     map[uint32][4]float32
	visible []bool
}

const sceneFirstVertex = 100

func newCullScene(numPrims int, offscreen func(i int) bool) cullScene {
	s := cullScene{numVtx: 3 * numPrims, pos: make(map[uint32][4]float32)}
	for i := 0; i < numPrims; i++ {
		x := -0.8 + float32(i%8)*0.2
		y := -0.8 + float32(i/8)*0.2
		if offscreen(i) {
			x += 5
		}
		base := uint32(3 * i)
		s.prims = append(s.prims, [3]uint32{base, base + 1, base + 2})
		s.pos[sceneFirstVertex+base] = [4]float32{x, y, 0, 1}
		s.pos[sceneFirstVertex+base+1] = [4]float32{x + 0.1, y, 0, 1}
		s.pos[sceneFirstVertex+base+2] = [4]float32{x, y + 0.1, 0, 1}
		s.visible = append(s.visible, !offscreen(i))
	}
	return s
}

func (s cullScene) vertexInput(vertexID, _, _ uint32) [4]uint32 {
	p := s.pos[vertexID]
	return fbits(p[0], p[1], p[2], p[3])
}

// cullShader fetches the position from the vertex input and exports the
// vertex ID to parameter 0.
func cullShader() *ir.Shader {
	sh := ir.NewShader("cull", ir.StageVertex)
	b := ir.NewBuilder(sh.Func)
	vid := b.Intrinsic(ir.IntrLoadVertexID, 1, 32, ir.Indices{})
	iid := b.Intrinsic(ir.IntrLoadInstanceID, 1, 32, ir.Indices{})
	pos := b.Intrinsic(ir.IntrLoadVertexInput, 4, 32, ir.Indices{}, vid, iid)
	storeOutput(b, ir.SlotPos, pos)
	storeOutput(b, ir.SlotVar0, b.Vec(vid, iid))
	return sh
}

func TestLowerVertex_Culling(t *testing.T) {
	tests := []struct {
		name     string
		waves    int
		compact  bool
		disabled bool
	}{
		{name: "single wave", waves: 1},
		{name: "two waves", waves: 2},
		{name: "two waves compacted primitives", waves: 2, compact: true},
		{name: "single wave compacted primitives", waves: 1, compact: true},
		{name: "disabled at run time", waves: 2, disabled: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			lanes := 32 * tt.waves
			scene := newCullScene(lanes/3, func(i int) bool { return i%3 == 1 })
			sh := cullShader()
			opts := DefaultOptions(amd.GFX10_3)
			opts.WaveSize = 32
			opts.MaxWorkgroupSize = lanes
			opts.CanCull = true
			opts.CompactPrimitives = tt.compact
			mustLower(t, sh, opts)
			if tt.waves == 1 && workgroupBarriers(sh.Func.Body) != 0 {
				t.Errorf("single-wave culling emitted barriers")
			}

			enabled := uint32(1)
			if tt.disabled {
				enabled = 0
			}
			res := mustRun(t, nil, sh, sim.Config{WaveSize: 32, NumWaves: tt.waves, VertexInput: scene.vertexInput}, sim.Workgroup{
				Args: map[ir.ShaderArg]uint32{
					ir.ArgNumInputVertices:   uint32(scene.numVtx),
					ir.ArgNumInputPrimitives: uint32(len(scene.prims)),
					ir.ArgCullAnyEnabled:     enabled,
				},
				LaneArgs:    primLaneArgs(scene.prims, lanes),
				VertexIDs:   seq(lanes, sceneFirstVertex),
				InstanceIDs: slices.Repeat([]uint32{4}, lanes),
			})
			wr := res.Workgroups[0]
			checkCulledScene(t, wr, scene, tt.compact, tt.disabled)
		})
	}
}

// checkCulledScene checks that the surviving triangles are exported with
// indices of exporters that carry the original vertices.
func checkCulledScene(t *testing.T, wr *sim.WorkgroupResult, scene cullScene, compact, disabled bool) {
	t.Helper()
	hw := amd.Info(amd.GFX10_3)
	var wantPrims [][3]uint32
	for i, p := range scene.prims {
		if scene.visible[i] || disabled {
			wantPrims = append(wantPrims, p)
		}
	}

	ids := paramByInvocation(wr, ir.ExportParam(0))
	if len(ids) != 3*len(wantPrims) {
		t.Errorf("%d vertices exported, want %d", len(ids), 3*len(wantPrims))
	}
	for inv, v := range ids {
		if inv >= len(ids) {
			t.Errorf("invocation %d exports, but only %d vertices survive", inv, len(ids))
		}
		if v[1] != 4 {
			t.Errorf("invocation %d has instance ID %d, want 4", inv, v[1])
		}
		pos := posExports(wr, inv)
		if len(pos) != 1 || pos[0].Flags&ir.ExportDone == 0 {
			t.Fatalf("invocation %d position exports = %+v", inv, pos)
		}
		if want := scene.vertexInput(v[0], 0, 0); pos[0].Value != want {
			t.Errorf("invocation %d exports vertex %d at %v, want %v", inv, v[0], pos[0].Value, want)
		}
	}

	var gotPrims [][3]uint32
	nulls := 0
	exps := wr.ExportsTo(ir.ExportPrim)
	slices.SortFunc(exps, func(a, b sim.Event) int { return a.Invocation - b.Invocation })
	for _, e := range exps {
		p := hw.UnpackPrimExport(e.Value[0], 3)
		if p.Null {
			nulls++
			continue
		}
		var orig [3]uint32
		for j, idx := range p.Indices {
			v, ok := ids[int(idx)]
			if !ok {
				t.Fatalf("primitive of invocation %d references vertex %d, which exports nothing", e.Invocation, idx)
			}
			orig[j] = v[0] - sceneFirstVertex
		}
		gotPrims = append(gotPrims, orig)
	}
	if diff := cmp.Diff(wantPrims, gotPrims); diff != "" {
		t.Errorf("surviving primitives mismatch (-want +got):\n%s", diff)
	}
	wantNulls := len(scene.prims) - len(wantPrims)
	if compact {
		wantNulls = 0
	}
	if nulls != wantNulls {
		t.Errorf("%d null primitives, want %d", nulls, wantNulls)
	}
}

func TestLowerVertex_FullyCulledWorkaround(t *testing.T) {
	scene := newCullScene(2, func(int) bool { return true })
	sh := cullShader()
	opts := singleWaveOptions(amd.GFX10)
	opts.CanCull = true
	mustLower(t, sh, opts)

	res := mustRun(t, nil, sh, sim.Config{WaveSize: 32, NumWaves: 1, VertexInput: scene.vertexInput}, sim.Workgroup{
		Args: map[ir.ShaderArg]uint32{
			ir.ArgNumInputVertices:   uint32(scene.numVtx),
			ir.ArgNumInputPrimitives: uint32(len(scene.prims)),
			ir.ArgCullAnyEnabled:     1,
		},
		LaneArgs:  primLaneArgs(scene.prims, 32),
		VertexIDs: seq(32, sceneFirstVertex),
	})
	wr := res.Workgroups[0]

	var allocs [][4]uint32
	for _, e := range wr.Events {
		if e.Kind == sim.EventAlloc {
			allocs = append(allocs, e.Value)
		}
	}
	if diff := cmp.Diff([][4]uint32{{1, 1}}, allocs); diff != "" {
		t.Errorf("allocations mismatch (-want +got):\n%s", diff)
	}
	prims := wr.ExportsTo(ir.ExportPrim)
	if len(prims) != 1 || prims[0].Invocation != 0 || prims[0].Value[0]&amd.PrimNullFlag == 0 {
		t.Errorf("primitive exports = %+v, want one null primitive", prims)
	}
	pos := posExports(wr, 0)
	if len(pos) != 1 || pos[0].Value != fbits(-1, -1, -1, -1) || pos[0].Flags&ir.ExportDone == 0 {
		t.Errorf("position exports = %+v", pos)
	}
	if n := len(wr.ExportsTo(ir.ExportParam(0))); n != 0 {
		t.Errorf("%d parameter exports from a culled workgroup", n)
	}
}

func TestLowerTessEval_CullingCarriesInputs(t *testing.T) {
	coords := [][2]float32{
		{0.1, 0.2}, {0.3, 0.2}, {0.1, 0.4},
		{5, 0.2}, {5.2, 0.2}, {5, 0.3},
		{0.5, 0.5}, {0.6, 0.5}, {0.5, 0.6},
	}
	prims := [][3]uint32{{0, 1, 2}, {3, 4, 5}, {6, 7, 8}}

	sh := ir.NewShader("tes", ir.StageTessEval)
	b := ir.NewBuilder(sh.Func)
	tc := b.Intrinsic(ir.IntrLoadTessCoord, 3, 32, ir.Indices{})
	patch := b.Intrinsic(ir.IntrLoadTessRelPatchID, 1, 32, ir.Indices{})
	storeOutput(b, ir.SlotPos, b.Vec(b.Channel(tc, 0), b.Channel(tc, 1), b.Float(0), b.Float(1)))
	storeOutput(b, ir.SlotVar0, b.Vec(b.Channel(tc, 0), b.Channel(tc, 1), b.Channel(tc, 2), patch))
	opts := singleWaveOptions(amd.GFX10_3)
	opts.CanCull = true
	opts.ExportPrimitiveID = true
	mustLower(t, sh, opts)

	res := mustRun(t, nil, sh, sim.Config{WaveSize: 32, NumWaves: 1}, sim.Workgroup{
		Args: map[ir.ShaderArg]uint32{
			ir.ArgNumInputVertices:   uint32(len(coords)),
			ir.ArgNumInputPrimitives: uint32(len(prims)),
			ir.ArgCullAnyEnabled:     1,
		},
		LaneArgs:     primLaneArgs(prims, 32),
		TessCoords:   coords,
		PatchIDs:     seq(len(coords), 50),
		PrimitiveIDs: seq(len(coords), 70),
	})
	wr := res.Workgroups[0]

	vars := paramByInvocation(wr, ir.ExportParam(0))
	primIDs := paramByInvocation(wr, ir.ExportParam(prerast.DefaultMapIO(ir.SlotPrimitiveID)))
	if len(vars) != 6 {
		t.Fatalf("%d vertices exported, want 6", len(vars))
	}
	// Surviving vertices keep their order: 0-2 and 6-8.
	for inv, orig := range []int{0, 1, 2, 6, 7, 8} {
		u, v := coords[orig][0], coords[orig][1]
		want := [4]uint32{math.Float32bits(u), math.Float32bits(v), math.Float32bits(1 - u - v), uint32(50 + orig)}
		if vars[inv] != want {
			t.Errorf("exporter %d carries %v, want %v", inv, vars[inv], want)
		}
		if primIDs[inv][0] != uint32(70+orig) {
			t.Errorf("exporter %d has primitive ID %d, want %d", inv, primIDs[inv][0], 70+orig)
		}
	}
}

func TestLower_Errors(t *testing.T) {
	gsInVertex := ir.NewShader("emit", ir.StageVertex)
	ir.NewBuilder(gsInVertex.Func).Call(ir.IntrEmitVertex, ir.Indices{})

	badWave := DefaultOptions(amd.GFX11)
	badWave.WaveSize = 48

	tests := []struct {
		name string
		sh   *ir.Shader
		opts Options
		want ErrorKind
	}{
		{"nil shader", nil, DefaultOptions(amd.GFX11), ErrInvalidShader},
		{"unsupported stage", ir.NewShader("cs", ir.ShaderStage(99)), DefaultOptions(amd.GFX11), ErrUnsupportedStage},
		{"wave size", ir.NewShader("vs", ir.StageVertex), badWave, ErrInvalidOptions},
		{"geometry intrinsic", gsInVertex, DefaultOptions(amd.GFX11), ErrInvalidShader},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			changed, err := Lower(tt.sh, tt.opts)
			var nerr *Error
			if !errors.As(err, &nerr) || nerr.Kind != tt.want {
				t.Fatalf("Lower() = %v, want a %v error", err, tt.want)
			}
			if changed {
				t.Error("Lower reported a change on error")
			}
		})
	}
}
