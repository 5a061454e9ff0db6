// Copyright 2025 The GoGPU Authors
// SPDX-License-Identifier: MIT

// Package samples provides small input shaders for every NGG stage,
// together with the simulator launch that draws them.
package samples

import (
	"math"
	"slices"

	"github.com/gogpu/nggc/amd"
	"github.com/gogpu/nggc/ir"
	"github.com/gogpu/nggc/ngg"
	"github.com/gogpu/nggc/sim"
)

// Sample is a named input shader.
type Sample struct {
	Name        string
	Description string

	// Build returns a fresh, unlowered shader.
	Build func() *ir.Shader
	// Adjust changes the options the sample needs, such as the workgroup
	// size or culling.
	Adjust func(opts *ngg.Options)
	// Dispatch returns the simulator launch of the lowered shader.
	Dispatch func(opts ngg.Options, sh *ir.Shader) (sim.Config, []sim.Workgroup)
}

// Options returns the options the sample is lowered with on gfx.
func (s Sample) Options(gfx amd.GfxLevel) ngg.Options {
	opts := ngg.DefaultOptions(gfx)
	opts.WaveSize = 32
	if s.Adjust != nil {
		s.Adjust(&opts)
	}
	return opts
}

// All returns every sample in a stable order.
func All() []Sample {
	return []Sample{triangle(), culledGrid(), stripGS(), quadMesh()}
}

// Lookup returns the sample called name.
func Lookup(name string) (Sample, bool) {
	all := All()
	i := slices.IndexFunc(all, func(s Sample) bool { return s.Name == name })
	if i < 0 {
		return Sample{}, false
	}
	return all[i], true
}

func storeOutput(b *ir.Builder, slot ir.Slot, v ir.ExpressionHandle) {
	b.Call(ir.IntrStoreOutput, ir.Indices{Slot: slot, WriteMask: uint8(1)<<b.Components(v) - 1}, v)
}

func seq(n int, base uint32) []uint32 {
	out := make([]uint32, n)
	for i := range out {
		out[i] = base + uint32(i)
	}
	return out
}

// primLaneArgs spreads the vertex indices of prims over the primitive
// invocations of a workgroup.
func primLaneArgs(prims [][3]uint32, lanes int) map[ir.ShaderArg][]uint32 {
	args := make(map[ir.ShaderArg][]uint32)
	for i := 0; i < 3; i++ {
		vals := make([]uint32, lanes)
		for p, prim := range prims {
			vals[p] = prim[i]
		}
		args[ir.ArgGSVertexIndex0+ir.ShaderArg(i)] = vals
	}
	return args
}

func waves(opts ngg.Options, lanes int) int {
	return int(amd.DivRoundUp(uint(lanes), uint(opts.WaveSize)))
}

// triangle is a vertex shader drawing one triangle with the vertex ID as
// its only varying.
func triangle() Sample {
	return Sample{
		Name:        "triangle",
		Description: "vertex shader, one triangle, no culling",
		Build: func() *ir.Shader {
			sh := ir.NewShader("triangle", ir.StageVertex)
			b := ir.NewBuilder(sh.Func)
			vid := b.Intrinsic(ir.IntrLoadVertexID, 1, 32, ir.Indices{})
			x := b.Conv(ir.OpU2F, 32, vid)
			storeOutput(b, ir.SlotPos, b.Vec(x, b.Float(0), b.Float(0), b.Float(1)))
			storeOutput(b, ir.SlotVar0, vid)
			return sh
		},
		Dispatch: func(opts ngg.Options, _ *ir.Shader) (sim.Config, []sim.Workgroup) {
			lanes := opts.WaveSize
			return sim.Config{WaveSize: opts.WaveSize, NumWaves: 1}, []sim.Workgroup{{
				Args:      map[ir.ShaderArg]uint32{ir.ArgNumInputVertices: 3, ir.ArgNumInputPrimitives: 1},
				LaneArgs:  primLaneArgs([][3]uint32{{0, 1, 2}}, lanes),
				VertexIDs: seq(lanes, 0),
			}}
		},
	}
}

const gridPrims = 20

// gridPosition places triangle i of the culled grid. Every third triangle
// lies outside the viewport.
func gridPosition(vertexID uint32) [4]uint32 {
	i := vertexID / 3
	x := -0.8 + float32(i%5)*0.3
	y := -0.8 + float32(i/5)*0.3
	if i%3 == 1 {
		x += 5
	}
	switch vertexID % 3 {
	case 1:
		x += 0.1
	case 2:
		y += 0.1
	}
	return [4]uint32{math.Float32bits(x), math.Float32bits(y), 0, math.Float32bits(1)}
}

// culledGrid is a vertex shader with culling enabled on a grid of
// triangles, some of which are off screen.
func culledGrid() Sample {
	return Sample{
		Name:        "culled-grid",
		Description: "vertex shader with primitive culling and vertex compaction",
		Build: func() *ir.Shader {
			sh := ir.NewShader("culled-grid", ir.StageVertex)
			b := ir.NewBuilder(sh.Func)
			vid := b.Intrinsic(ir.IntrLoadVertexID, 1, 32, ir.Indices{})
			iid := b.Intrinsic(ir.IntrLoadInstanceID, 1, 32, ir.Indices{})
			pos := b.Intrinsic(ir.IntrLoadVertexInput, 4, 32, ir.Indices{}, vid, iid)
			storeOutput(b, ir.SlotPos, pos)
			storeOutput(b, ir.SlotVar0, vid)
			return sh
		},
		Adjust: func(opts *ngg.Options) {
			opts.MaxWorkgroupSize = 64
			opts.CanCull = true
		},
		Dispatch: func(opts ngg.Options, _ *ir.Shader) (sim.Config, []sim.Workgroup) {
			lanes := opts.MaxWorkgroupSize
			prims := make([][3]uint32, gridPrims)
			for i := range prims {
				base := uint32(3 * i)
				prims[i] = [3]uint32{base, base + 1, base + 2}
			}
			cfg := sim.Config{
				WaveSize:    opts.WaveSize,
				NumWaves:    waves(opts, lanes),
				VertexInput: func(vid, _, _ uint32) [4]uint32 { return gridPosition(vid) },
			}
			return cfg, []sim.Workgroup{{
				Args: map[ir.ShaderArg]uint32{
					ir.ArgNumInputVertices:   3 * gridPrims,
					ir.ArgNumInputPrimitives: gridPrims,
					ir.ArgCullAnyEnabled:     1,
				},
				LaneArgs:  primLaneArgs(prims, lanes),
				VertexIDs: seq(lanes, 0),
			}}
		},
	}
}

// stripGS is a geometry shader turning every input primitive into a
// two-triangle strip.
func stripGS() Sample {
	return Sample{
		Name:        "strip-gs",
		Description: "geometry shader emitting a triangle strip per input primitive",
		Build: func() *ir.Shader {
			sh := ir.NewShader("strip-gs", ir.StageGeometry)
			sh.Info.GS = ir.GeometryInfo{VerticesOut: 4, OutputPrimitive: ir.PrimTriangleStrip, ActiveStreams: 1}
			b := ir.NewBuilder(sh.Func)
			pid := b.Intrinsic(ir.IntrLoadPrimitiveID, 1, 32, ir.Indices{})
			x := b.Conv(ir.OpU2F, 32, pid)
			for n := range 4 {
				storeOutput(b, ir.SlotPos, b.Vec(x, b.Float(float32(n)), b.Float(0), b.Float(1)))
				storeOutput(b, ir.SlotVar0, b.Vec(pid, b.Const32(uint32(n))))
				b.Call(ir.IntrEmitVertex, ir.Indices{})
			}
			b.Call(ir.IntrSetVertexAndPrimitiveCount, ir.Indices{}, b.Const32(4), b.Const32(2))
			return sh
		},
		Dispatch: func(opts ngg.Options, sh *ir.Shader) (sim.Config, []sim.Workgroup) {
			n := ngg.MaxGeometryInvocations(opts, sh.Info.GS)
			return sim.Config{WaveSize: opts.WaveSize, NumWaves: waves(opts, opts.MaxWorkgroupSize)}, []sim.Workgroup{{
				Args:         map[ir.ShaderArg]uint32{ir.ArgNumInputPrimitives: uint32(n)},
				PrimitiveIDs: seq(n, 0),
			}}
		},
	}
}

// quadMesh is a mesh shader writing a quad as two triangles.
func quadMesh() Sample {
	return Sample{
		Name:        "quad-mesh",
		Description: "mesh shader writing a quad with a per-primitive varying",
		Build: func() *ir.Shader {
			sh := ir.NewShader("quad-mesh", ir.StageMesh)
			sh.Info.Mesh = ir.MeshInfo{MaxVertices: 4, MaxPrimitives: 2, OutputPrimitive: ir.PrimTriangles, WorkgroupSize: [3]uint32{4, 1, 1}}
			b := ir.NewBuilder(sh.Func)
			tid := b.LocalInvocationIndex()
			b.Call(ir.IntrSetMeshOutputs, ir.Indices{}, b.Const32(4), b.Const32(2))
			x := b.Conv(ir.OpU2F, 32, b.IAndImm(tid, 1))
			y := b.Conv(ir.OpU2F, 32, b.UShrImm(tid, 1))
			b.Call(ir.IntrStorePerVertexOutput, ir.Indices{Slot: ir.SlotPos, WriteMask: 0xf}, b.Vec(x, y, b.Float(0), b.Float(1)), tid)
			b.If(b.ULtImm(tid, 2), func() {
				idx := b.Vec(tid, b.IAddImm(tid, 1), b.IAddImm(tid, 2))
				b.Call(ir.IntrStorePerPrimitiveOutput, ir.Indices{Slot: ir.SlotPrimitiveIndices, WriteMask: 0x7}, idx, tid)
				b.Call(ir.IntrStorePerPrimitiveOutput, ir.Indices{Slot: ir.SlotVar0, WriteMask: 0x1}, tid, tid)
			})
			return sh
		},
		Dispatch: func(opts ngg.Options, sh *ir.Shader) (sim.Config, []sim.Workgroup) {
			n := ngg.MeshHWWorkgroupSize(opts, sh.Info.Mesh)
			return sim.Config{WaveSize: opts.WaveSize, NumWaves: waves(opts, n)}, []sim.Workgroup{{}}
		},
	}
}
