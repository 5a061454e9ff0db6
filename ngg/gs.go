// Copyright 2025 The GoGPU Authors
// SPDX-License-Identifier: MIT

package ngg

import (
	"fmt"

	"fortio.org/safecast"

	"github.com/gogpu/nggc/amd"
	"github.com/gogpu/nggc/ir"
	"github.com/gogpu/nggc/prerast"
)

// Shared memory phases of geometry shaders.
const (
	phaseGSEmit Phase = iota
	phaseGSCompact
	phaseGSExport
)

// Extra dwords after the output slots of a geometry shader vertex.
const (
	// gsPrimflag is the first of four per-stream primitive flag dwords.
	gsPrimflag = 0
	// gsExporter holds the index of the invocation that exports the vertex.
	gsExporter = 4
	// gsSource is written at the exporter's own entry and holds the vertex
	// slot it exports.
	gsSource = 5

	gsExtraDwords = 6
)

// Primitive flag bits.
const (
	primflagCompletes = 1 << 0
	primflagOdd       = 1 << 1
	primflagLive      = 1 << 2
)

// MaxGeometryInvocations returns how many geometry shader invocations a
// workgroup may run: every emitted vertex needs its own invocation in the
// export phase.
func MaxGeometryInvocations(opts Options, gs ir.GeometryInfo) int {
	if gs.VerticesOut == 0 {
		return 0
	}
	return opts.MaxWorkgroupSize / int(gs.VerticesOut)
}

// geometryLowerer lowers geometry shaders. Each invocation runs the shader
// for one input primitive and writes every emitted vertex to its own slot
// in shared memory. The workgroup then compacts the live stream 0 vertices,
// writes transform feedback from shared memory and exports the vertices and
// the primitives that emit_vertex completed.
type geometryLowerer struct {
	*lowering

	vpp         int
	verticesOut uint32
	layout      prerast.LDSLayout
	verts       *Region

	// streams are the streams whose emits are kept.
	streams  uint8
	xfb      bool
	query    bool
	counters [4]ir.LocalHandle
	strips   [4]ir.LocalHandle
}

func (g *geometryLowerer) lower() error {
	err := rejectIntrinsics(g.sh, ir.IntrSetMeshOutputs, ir.IntrStorePerVertexOutput, ir.IntrStorePerPrimitiveOutput)
	if err != nil {
		return err
	}
	gs := g.sh.Info.GS
	if gs.VerticesOut == 0 || gs.VerticesOut > g.maxLanes() {
		return newError(ErrInvalidShader, "%s: %d output vertices, want 1 to %d", g.sh.Name, gs.VerticesOut, g.maxLanes())
	}
	if !setsStreamCount(g.sh.Func.Body, 0) {
		fatal(g.sh.Name, "geometry shader does not set the stream 0 vertex and primitive count")
	}

	g.vpp = gs.OutputPrimitive.VerticesPerPrimitive()
	g.verticesOut = gs.VerticesOut
	g.query = g.opts.HasGenPrimQuery && g.hw.HasPipelineStatCounters
	g.streams = 1
	if g.query {
		g.streams |= gs.ActiveStreams
	}
	if _, ok := g.streamoutConfig(g.vpp, nil); ok {
		g.xfb = true
		g.streams |= g.sh.Info.Xfb.StreamsWritten()
	}
	Logger().Debug("ngg lowering", "shader", g.sh.Name, "stage", g.sh.Stage,
		"vertices_out", g.verticesOut, "streams", g.streams, "streamout", g.xfb)
	g.lowerGeometry()
	return nil
}

// setsStreamCount reports whether blk sets the vertex and primitive count
// of stream.
func setsStreamCount(blk ir.Block, stream uint8) bool {
	found := false
	ir.Walk(blk, func(st ir.Statement) {
		if call, ok := st.Kind.(ir.StmtIntrinsic); ok && call.Op == ir.IntrSetVertexAndPrimitiveCount && call.Index.Stream == stream {
			found = true
		}
	})
	return found
}

func (g *geometryLowerer) lowerGeometry() {
	f := g.sh.Func
	body := ir.Extract(f)
	rec := prerast.NewRecord()
	body = prerast.Gather(f, body, rec)

	g.layout = prerast.LDSLayout{Written: rec.Written(), Written16: rec.Written16(), Extra: gsExtraDwords}
	lanes := g.maxLanes()
	g.verts = g.arena.Alloc("gs_vertices", g.layout.Stride()*lanes, phaseGSEmit, phaseGSCompact, phaseGSExport)
	scratch := g.arena.Alloc("repack", RepackScratchSize(g.maxWaves, 2)*g.repackCalls())
	var soScratch *Region
	if g.xfb {
		soScratch = g.arena.Alloc("streamout", prerast.StreamoutScratchSize)
	}

	b := ir.NewBuilder(f)
	tid := b.LocalInvocationIndex()
	numPrim := b.LoadArg(ir.ArgNumInputPrimitives)
	for s := 0; s < 4; s++ {
		if g.streams&(1<<s) == 0 {
			continue
		}
		g.counters[s] = b.Local(fmt.Sprintf("gs_vertex_count%d", s), 1, 32)
		g.strips[s] = b.Local(fmt.Sprintf("gs_strip_length%d", s), 1, 32)
		b.StoreLocal(g.counters[s], b.Const32(0))
		b.StoreLocal(g.strips[s], b.Const32(0))
	}
	g.invocationQuery(b, tid, numPrim)

	body = ir.MapBlock(body, func(st ir.Statement) (ir.Block, bool) {
		call, ok := st.Kind.(ir.StmtIntrinsic)
		if !ok {
			return nil, false
		}
		switch call.Op {
		case ir.IntrEmitVertex:
			return b.Capture(func() { g.emitVertex(b, rec, tid, call.Index.Stream) }), true
		case ir.IntrEndPrimitive:
			return b.Capture(func() { g.endPrimitive(b, call.Index.Stream) }), true
		case ir.IntrSetVertexAndPrimitiveCount:
			return b.Capture(func() { g.setCount(b, tid, call.Index.Stream, call.Args[0]) }), true
		}
		return nil, false
	})
	b.If(b.ULt(tid, numPrim), func() {
		b.Append(body...)
	})

	g.finale(b, rec, tid, numPrim, scratch, soScratch)
}

// repackCalls returns the number of two-predicate repacks the finale runs:
// live stream 0 vertices and completed primitives of every kept stream.
func (g *geometryLowerer) repackCalls() uint32 {
	n := 1
	for s := 0; s < 4; s++ {
		if g.countsPrims(s) {
			n++
		}
	}
	return safecast.MustConv[uint32]((n + 1) / 2)
}

// countsPrims reports whether the finale numbers the completed primitives
// of stream, for transform feedback or the generated primitives query.
func (g *geometryLowerer) countsPrims(stream int) bool {
	return g.streams&(1<<stream) != 0 && (g.xfb || g.query)
}

func (g *geometryLowerer) slotAddr(b *ir.Builder, slot ir.ExpressionHandle) ir.ExpressionHandle {
	return b.IAddImm(b.IMulImm(slot, uint64(g.layout.Stride())), uint64(g.verts.Base()))
}

func (g *geometryLowerer) extra(i uint32) uint32 {
	return g.layout.ExtraOffset(i)
}

// streamMask selects the record components that belong to stream.
func streamMask(rec *prerast.Record, stream uint8) func(ir.Slot) uint8 {
	of := func(info *prerast.SlotInfo) uint8 {
		var m uint8
		for c := 0; c < 4; c++ {
			if info.Mask&(1<<c) != 0 && info.Stream(c) == stream {
				m |= 1 << c
			}
		}
		return m
	}
	return func(slot ir.Slot) uint8 {
		if slot >= ir.NumSlots {
			s := slot - ir.NumSlots
			return of(&rec.Lo16[s]) | of(&rec.Hi16[s])
		}
		return of(&rec.Slots[slot])
	}
}

// emitVertex stores the current outputs of stream to the invocation's next
// vertex slot together with its primitive flags. Emits past the declared
// maximum are dropped.
func (g *geometryLowerer) emitVertex(b *ir.Builder, rec *prerast.Record, tid ir.ExpressionHandle, stream uint8) {
	if g.streams&(1<<stream) == 0 {
		return
	}
	count := b.LoadLocal(g.counters[stream])
	b.If(b.ULtImm(count, uint64(g.verticesOut)), func() {
		slot := b.IAdd(b.IMulImm(tid, uint64(g.verticesOut)), count)
		addr := g.slotAddr(b, slot)
		if stream == 0 || g.xfb {
			g.layout.Store(b, rec, addr, streamMask(rec, stream))
		}

		strip := b.IAddImm(b.LoadLocal(g.strips[stream]), 1)
		completes := b.UGe(strip, b.Const32(safecast.MustConv[uint32](g.vpp)))
		flags := b.IOr(b.Const32(primflagLive), b.B2I(completes, 32))
		if g.vpp == 3 {
			odd := b.IAndImm(b.IAddImm(strip, 1), 1)
			flags = b.IOr(flags, b.IShlImm(odd, 1))
		}
		b.StoreShared(flags, addr, g.extra(gsPrimflag+uint32(stream)))
		b.StoreLocal(g.strips[stream], strip)
		b.StoreLocal(g.counters[stream], b.IAddImm(count, 1))
	})
}

func (g *geometryLowerer) endPrimitive(b *ir.Builder, stream uint8) {
	if g.streams&(1<<stream) == 0 {
		return
	}
	b.StoreLocal(g.strips[stream], b.Const32(0))
}

// setCount clears the primitive flags of the vertex slots of stream the
// invocation did not emit. A count known to fill every slot needs no clearing.
func (g *geometryLowerer) setCount(b *ir.Builder, tid ir.ExpressionHandle, stream uint8, count ir.ExpressionHandle) {
	if g.streams&(1<<stream) == 0 {
		return
	}
	if c, ok := g.sh.Func.Expr(count).Kind.(ir.ExprConst); ok && c.Values[0] >= uint64(g.verticesOut) {
		return
	}
	i := b.Local(fmt.Sprintf("gs_clear%d", stream), 1, 32)
	b.StoreLocal(i, b.UMin(count, b.Const32(g.verticesOut)))
	b.Loop(func() {
		cur := b.LoadLocal(i)
		b.BreakIf(b.UGe(cur, b.Const32(g.verticesOut)))
		slot := b.IAdd(b.IMulImm(tid, uint64(g.verticesOut)), cur)
		b.StoreShared(b.Const32(0), g.slotAddr(b, slot), g.extra(gsPrimflag+uint32(stream)))
		b.StoreLocal(i, b.IAddImm(cur, 1))
	})
}

// primitiveSlots returns the vertex slots of the primitive completed at slot,
// in the order that keeps the winding of odd strip triangles and the
// provoking vertex.
func (g *geometryLowerer) primitiveSlots(b *ir.Builder, slot, flags ir.ExpressionHandle) []ir.ExpressionHandle {
	first := b.ISub(slot, b.Const32(safecast.MustConv[uint32](g.vpp-1)))
	out := make([]ir.ExpressionHandle, g.vpp)
	for i := range out {
		out[i] = b.IAddImm(first, uint64(i))
	}
	if g.vpp != 3 {
		return out
	}
	odd := b.UBfeImm(flags, 1, 1)
	pvFirst := b.IEqImm(b.LoadArg(ir.ArgProvokingVertex), 0)
	out[0], out[1], out[2] =
		b.BCsel(pvFirst, out[0], b.IAdd(out[0], odd)),
		b.BCsel(pvFirst, b.IAdd(out[1], odd), b.ISub(out[1], odd)),
		b.BCsel(pvFirst, b.ISub(out[2], odd), out[2])
	return out
}

// finale compacts, streams out and exports what the invocations emitted.
// Invocation t handles vertex slot t.
func (g *geometryLowerer) finale(b *ir.Builder, rec *prerast.Record, tid, numPrim ir.ExpressionHandle, scratch, soScratch *Region) {
	g.enter(b, phaseGSCompact)
	numSlots := b.IMulImm(numPrim, uint64(g.verticesOut))
	hasSlot := b.ULt(tid, numSlots)
	own := g.slotAddr(b, tid)

	var flags [4]ir.ExpressionHandle
	var completes [4]ir.ExpressionHandle
	for s := 0; s < 4; s++ {
		if g.streams&(1<<s) == 0 {
			continue
		}
		fl := b.Local(fmt.Sprintf("gs_primflags%d", s), 1, 32)
		b.StoreLocal(fl, b.Const32(0))
		b.If(hasSlot, func() {
			b.StoreLocal(fl, b.LoadShared(1, 32, own, g.extra(gsPrimflag+uint32(s))))
		})
		flags[s] = b.LoadLocal(fl)
		completes[s] = b.INeImm(b.IAndImm(flags[s], primflagCompletes), 0)
	}
	live := b.INeImm(b.IAndImm(flags[0], primflagLive), 0)

	// Repack in pairs: live vertices first, then completed primitives.
	preds := []ir.ExpressionHandle{live}
	var streamOf []int
	for s := 0; s < 4; s++ {
		if g.countsPrims(s) {
			preds = append(preds, completes[s])
			streamOf = append(streamOf, s)
		}
	}
	var results []RepackResult
	cfg := g.repackConfig(scratch)
	for i := 0; i < len(preds); i += 2 {
		results = append(results, Repack(b, cfg, preds[i:min(i+2, len(preds))]...)...)
		cfg.Scratch += RepackScratchSize(g.maxWaves, 2)
	}
	vtxCount := results[0].Count
	var prims [4]RepackResult
	for i, s := range streamOf {
		prims[s] = results[i+1]
	}

	b.If(live, func() {
		exporter := results[0].Index
		b.StoreShared(exporter, own, g.extra(gsExporter))
		b.StoreShared(tid, g.slotAddr(b, exporter), g.extra(gsSource))
	})
	if g.query {
		for s := 0; s < 4; s++ {
			if g.countsPrims(s) {
				g.genPrimQuery(b, tid, s, prims[s].Count)
			}
		}
	}
	if g.xfb {
		g.streamout(b, tid, flags, completes, prims, soScratch)
	}

	g.enter(b, phaseGSExport)
	primCount := numSlots
	culled := g.alloc(b, tid, vtxCount, primCount)
	exportsPrim := hasSlot
	if culled != ir.NoExpr {
		exportsPrim = b.IAnd(exportsPrim, b.INot(culled))
	}
	primArg := b.Local("gs_prim_arg", 1, 32)
	b.If(exportsPrim, func() {
		b.StoreLocal(primArg, b.Const32(amd.PrimNullFlag))
		b.If(completes[0], func() {
			slots := g.primitiveSlots(b, tid, flags[0])
			idx := make([]ir.ExpressionHandle, len(slots))
			for i, s := range slots {
				idx[i] = b.LoadShared(1, 32, g.slotAddr(b, s), g.extra(gsExporter))
			}
			b.StoreLocal(primArg, prerast.PackPrimExportArg(b, g.hw, idx, ir.NoExpr, ir.NoExpr))
		})
		prerast.ExportPrimitive(b, b.LoadLocal(primArg), ir.NoExpr)
	})

	waveCount := g.waveExportCount(b, vtxCount)
	b.If(b.ULt(tid, vtxCount), func() {
		src := b.LoadShared(1, 32, own, g.extra(gsSource))
		out := g.layout.Load(b, rec, g.slotAddr(b, src), streamMask(rec, 0))
		g.exported = out
		g.exportVertex(b, out, waveCount)
	})
}

// invocationQuery counts the geometry shader invocations of the workgroup.
func (g *geometryLowerer) invocationQuery(b *ir.Builder, tid, numPrim ir.ExpressionHandle) {
	if !g.query {
		return
	}
	b.If(b.IAnd(b.IEqImm(tid, 0), b.LoadArg(ir.ArgShaderQueryEnabled)), func() {
		b.Call(ir.IntrAtomicAddInvocationCount, ir.Indices{}, numPrim)
	})
}

// streamout writes the completed primitives of every stream to its
// buffers, numbered by the primitive repack of the stream.
func (g *geometryLowerer) streamout(b *ir.Builder, tid ir.ExpressionHandle, flags, completes [4]ir.ExpressionHandle, prims [4]RepackResult, scratch *Region) {
	xfb := g.sh.Info.Xfb
	cfg, _ := g.streamoutConfig(g.vpp, scratch)
	var genPrims [4]ir.ExpressionHandle
	for s := range genPrims {
		genPrims[s] = ir.NoExpr
		if g.countsPrims(s) {
			genPrims[s] = prims[s].Count
		}
	}
	so := prerast.BuildStreamoutBufferInfo(b, cfg, tid, genPrims)
	for s := 0; s < 4; s++ {
		if so.Streams&(1<<s) == 0 {
			continue
		}
		stream := uint8(s)
		b.If(b.IAnd(completes[s], b.ULt(prims[s].Index, so.EmitPrims[s])), func() {
			offsets := [4]ir.ExpressionHandle{ir.NoExpr, ir.NoExpr, ir.NoExpr, ir.NoExpr}
			for buf := range offsets {
				if so.Buffers&(1<<buf) == 0 || xfb.BufferToStream[buf] != stream {
					continue
				}
				offsets[buf] = b.IAdd(so.Offsets[buf], b.IMulImm(prims[s].Index, uint64(cfg.PrimStride(buf))))
			}
			for i, slot := range g.primitiveSlots(b, tid, flags[s]) {
				src := prerast.LDSSource{Layout: g.layout, Addr: g.slotAddr(b, slot)}
				prerast.StreamoutVertex(b, xfb, stream, offsets, i, src)
			}
		})
	}
}
