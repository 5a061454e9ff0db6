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

// Shared memory phases of vertex and tessellation evaluation shaders.
const (
	phaseVertexWrite Phase = iota
	phaseCull
	phaseRepack
	phaseScatter
	phaseReadback
	phasePrimWrite
	phasePrimRead
)

// Vertex entry of the culling path, in bytes.
const (
	cullPosOffset      = 0
	cullAcceptedOffset = 16
	cullExporterOffset = 20
	cullClipMaskOffset = 24
	cullInputsOffset   = 28
)

// carriedInput is a shader input that compaction moves to the lane that
// exports the vertex.
type carriedInput struct {
	op     ir.Intrinsic
	comps  uint8
	offset uint32
	local  ir.LocalHandle
	uses   []ir.ExpressionHandle
}

// vertexLowerer lowers vertex and tessellation evaluation shaders. Every
// invocation runs the shader for at most one input vertex and exports at
// most one input primitive.
type vertexLowerer struct {
	*lowering
	vpp int

	cull        bool
	xfb         bool
	passthrough bool
	// primID exports the primitive ID of a vertex shader, which only the
	// primitive's invocation knows.
	primID    bool
	userEdges bool
}

func newVertexLowerer(l *lowering) *vertexLowerer {
	v := &vertexLowerer{lowering: l, vpp: l.opts.NumVerticesPerPrimitive}
	_, v.xfb = l.streamoutConfig(v.vpp, nil)
	vs := l.sh.Stage == ir.StageVertex
	v.primID = vs && l.opts.ExportPrimitiveID
	v.userEdges = vs && l.opts.HasUserEdgeFlags && l.hw.HasPrimEdgeFlags
	v.cull = l.opts.CanCull && v.vpp > 1 && !v.xfb && !v.primID && !v.userEdges
	v.passthrough = l.opts.Passthrough && !v.cull && !v.xfb && !v.userEdges
	return v
}

func (v *vertexLowerer) lower() error {
	err := rejectIntrinsics(v.sh, ir.IntrEmitVertex, ir.IntrEndPrimitive, ir.IntrSetVertexAndPrimitiveCount,
		ir.IntrSetMeshOutputs, ir.IntrStorePerVertexOutput, ir.IntrStorePerPrimitiveOutput)
	if err != nil {
		return err
	}
	Logger().Debug("ngg lowering", "shader", v.sh.Name, "stage", v.sh.Stage,
		"cull", v.cull, "streamout", v.xfb, "passthrough", v.passthrough)
	if v.cull {
		v.lowerCulling()
	} else {
		v.lowerPlain()
	}
	return nil
}

// prologue holds the values every invocation starts with.
type prologue struct {
	tid, numVtx, numPrim ir.ExpressionHandle
	hasVtx, hasPrim      ir.ExpressionHandle
	idx                  []ir.ExpressionHandle
}

func (v *vertexLowerer) prologue(b *ir.Builder) prologue {
	p := prologue{
		tid:     b.LocalInvocationIndex(),
		numVtx:  b.LoadArg(ir.ArgNumInputVertices),
		numPrim: b.LoadArg(ir.ArgNumInputPrimitives),
	}
	p.hasVtx = b.ULt(p.tid, p.numVtx)
	p.hasPrim = b.ULt(p.tid, p.numPrim)
	p.idx = vertexIndices(b, v.vpp)
	return p
}

// lowerPlain exports every input vertex and primitive.
func (v *vertexLowerer) lowerPlain() {
	f := v.sh.Func
	body := ir.Extract(f)
	rec := prerast.NewRecord()
	body = prerast.Gather(f, body, rec)
	v.exported = rec

	b := ir.NewBuilder(f)
	p := v.prologue(b)
	v.alloc(b, p.tid, p.numVtx, p.numPrim)
	v.genPrimQuery(b, p.tid, 0, p.numPrim)

	primID := v.primID && rec.Slots[ir.SlotPrimitiveID].Mask == 0
	late := v.userEdges || !v.opts.EarlyPrimExport
	needLDS := primID || v.userEdges || v.xfb
	lanes := v.maxLanes()

	var primIDs, edges, xfbVerts, soScratch *Region
	if primID {
		primIDs = v.arena.Alloc("primitive_ids", 4*lanes, phaseVertexWrite, phaseReadback)
	}
	if v.userEdges {
		edges = v.arena.Alloc("edge_flags", 4*lanes, phaseVertexWrite, phaseReadback)
	}
	var xfbLayout prerast.LDSLayout
	if v.xfb {
		xfbLayout = prerast.StreamoutLayout(v.sh.Info.Xfb)
		xfbVerts = v.arena.Alloc("xfb_vertices", xfbLayout.Stride()*lanes, phaseVertexWrite, phaseReadback)
		soScratch = v.arena.Alloc("streamout", prerast.StreamoutScratchSize)
	}

	edgeBits := func() ir.ExpressionHandle {
		if v.userEdges {
			return v.userEdgeFlagBits(b, p.idx, edges)
		}
		return v.edgeFlagBits(b, v.vpp)
	}
	primExport := func() {
		b.If(p.hasPrim, func() {
			var arg ir.ExpressionHandle
			if v.passthrough {
				arg = b.LoadArg(ir.ArgGSPrimExport)
			} else {
				arg = prerast.PackPrimExportArg(b, v.hw, p.idx, edgeBits(), ir.NoExpr)
			}
			prerast.ExportPrimitive(b, arg, ir.NoExpr)
		})
	}
	if !late {
		primExport()
	}

	if primID {
		b.If(p.hasPrim, func() {
			id := b.Intrinsic(ir.IntrLoadPrimitiveID, 1, 32, ir.Indices{})
			b.StoreShared(id, b.IMulImm(v.provokingVertex(b, p.idx), 4), primIDs.Base())
		})
	}

	waveCount := v.waveExportCount(b, p.numVtx)
	b.If(p.hasVtx, func() {
		b.Append(body...)
		if v.sh.Stage == ir.StageTessEval && v.opts.ExportPrimitiveID && rec.Slots[ir.SlotPrimitiveID].Mask == 0 {
			rec.Set(b, ir.SlotPrimitiveID, 0, b.Intrinsic(ir.IntrLoadPrimitiveID, 1, 32, ir.Indices{}))
		}
		if v.userEdges {
			flag := b.FNe(rec.ValueOr(b, ir.SlotEdge, 0, b.Float(1)), b.Float(0))
			b.StoreShared(b.B2I(flag, 32), b.IMulImm(p.tid, 4), edges.Base())
		}
		if v.xfb {
			addr := b.IAddImm(b.IMulImm(p.tid, uint64(xfbLayout.Stride())), uint64(xfbVerts.Base()))
			xfbLayout.Store(b, rec, addr, prerast.StreamoutMask(v.sh.Info.Xfb))
		}
		if !needLDS {
			v.exportVertex(b, rec, waveCount)
		}
	})
	if !needLDS {
		if late {
			primExport()
		}
		return
	}

	v.enter(b, phaseReadback)
	b.If(p.hasVtx, func() {
		if primID {
			rec.Set(b, ir.SlotPrimitiveID, 0, b.LoadShared(1, 32, b.IMulImm(p.tid, 4), primIDs.Base()))
		}
		v.exportVertex(b, rec, waveCount)
	})
	if late {
		primExport()
	}
	if v.xfb {
		v.streamout(b, p, xfbLayout, xfbVerts, soScratch)
	}
}

// provokingVertex returns the index of the vertex whose attributes are
// flat-shaded across the primitive.
func (v *vertexLowerer) provokingVertex(b *ir.Builder, idx []ir.ExpressionHandle) ir.ExpressionHandle {
	if len(idx) == 1 {
		return idx[0]
	}
	which := b.LoadArg(ir.ArgProvokingVertex)
	out := idx[0]
	for i := 1; i < len(idx); i++ {
		out = b.BCsel(b.IEqImm(which, uint64(i)), idx[i], out)
	}
	return out
}

// userEdgeFlagBits combines the edge flags written by the vertices of the
// primitive with the initial edge flags.
func (v *vertexLowerer) userEdgeFlagBits(b *ir.Builder, idx []ir.ExpressionHandle, edges *Region) ir.ExpressionHandle {
	bits := b.Const32(0)
	for i, vi := range idx {
		bit := v.hw.PrimEdgeFlagBit(i)
		if bit < 0 {
			continue
		}
		flag := b.LoadShared(1, 32, b.IMulImm(vi, 4), edges.Base())
		bits = b.IOr(bits, b.IShlImm(flag, safecast.MustConv[uint32](bit)))
	}
	return b.IAnd(bits, v.edgeFlagBits(b, len(idx)))
}

// streamout writes the primitives of stream 0 to the transform feedback
// buffers. Each primitive invocation reads its vertices from shared memory.
func (v *vertexLowerer) streamout(b *ir.Builder, p prologue, layout prerast.LDSLayout, verts, scratch *Region) {
	xfb := v.sh.Info.Xfb
	cfg, _ := v.streamoutConfig(v.vpp, scratch)
	genPrims := [4]ir.ExpressionHandle{p.numPrim, p.numPrim, p.numPrim, p.numPrim}
	so := prerast.BuildStreamoutBufferInfo(b, cfg, p.tid, genPrims)
	if so.Streams&1 == 0 {
		return
	}
	b.If(b.IAnd(p.hasPrim, b.ULt(p.tid, so.EmitPrims[0])), func() {
		offsets := [4]ir.ExpressionHandle{ir.NoExpr, ir.NoExpr, ir.NoExpr, ir.NoExpr}
		for buf := range offsets {
			if so.Buffers&(1<<buf) == 0 || xfb.BufferToStream[buf] != 0 {
				continue
			}
			offsets[buf] = b.IAdd(so.Offsets[buf], b.IMulImm(p.tid, uint64(cfg.PrimStride(buf))))
		}
		for i, vi := range p.idx {
			addr := b.IAddImm(b.IMulImm(vi, uint64(layout.Stride())), uint64(verts.Base()))
			prerast.StreamoutVertex(b, xfb, 0, offsets, i, prerast.LDSSource{Layout: layout, Addr: addr})
		}
	})
}

// lowerCulling culls input primitives, compacts the vertices they still
// reference into the lowest invocations and runs the shader only there.
//
// A position-only copy of the shader runs first on every input vertex.
// Primitive invocations cull with those positions and count the accepted
// primitives of every vertex. The accepted vertices and primitives are
// repacked; each vertex moves its position and inputs to its exporting
// invocation, which runs the full shader on them.
func (v *vertexLowerer) lowerCulling() {
	f := v.sh.Func
	body := ir.Extract(f)
	inputs := v.carriedInputs(body)

	posBody := ir.MapBlock(ir.Clone(f, body), func(st ir.Statement) (ir.Block, bool) {
		call, ok := st.Kind.(ir.StmtIntrinsic)
		return nil, ok && call.Op != ir.IntrStoreOutput
	})
	posRec := prerast.NewRecord()
	posBody = prerast.Gather(f, posBody, posRec)
	rec := prerast.NewRecord()
	body = prerast.Gather(f, body, rec)
	v.exported = rec

	stride := uint32(cullInputsOffset)
	for _, in := range inputs {
		in.offset = stride
		stride += 4 * uint32(in.comps)
	}
	lanes := v.maxLanes()
	scratch := v.arena.Alloc("repack", RepackScratchSize(v.maxWaves, 2))
	verts := v.arena.Alloc("cull_vertices", stride*lanes,
		phaseVertexWrite, phaseCull, phaseRepack, phaseScatter, phaseReadback)
	var prims *Region
	if v.opts.CompactPrimitives {
		prims = v.arena.Overlay("cull_primitives", verts, 4*lanes, phasePrimWrite, phasePrimRead)
	}

	b := ir.NewBuilder(f)
	p := v.prologue(b)
	v.genPrimQuery(b, p.tid, 0, p.numPrim)
	own := b.IMulImm(p.tid, uint64(stride))
	clipMask := v.opts.ClipCullDistMask | v.opts.UserClipPlaneMask

	b.If(p.hasVtx, func() {
		b.Append(posBody...)
		base := verts.Base()
		pos := make([]ir.ExpressionHandle, 4)
		for c := range pos {
			def := float32(0)
			if c == 3 {
				def = 1
			}
			pos[c] = posRec.ValueOr(b, ir.SlotPos, c, b.Float(def))
		}
		b.StoreShared(b.Vec(pos...), own, base+cullPosOffset)
		b.StoreShared(b.Const32(0), own, base+cullAcceptedOffset)
		if clipMask != 0 {
			b.StoreShared(v.negativeClipDistances(b, posRec, clipMask), own, base+cullClipMaskOffset)
		}
		for _, in := range inputs {
			b.StoreShared(b.Intrinsic(in.op, in.comps, 32, ir.Indices{}), own, base+in.offset)
		}
	})

	v.enter(b, phaseCull)
	primAccepted := b.Local("prim_accepted", 1, 1)
	b.StoreLocal(primAccepted, b.Bool(false))
	b.If(p.hasPrim, func() {
		base := verts.Base()
		mark := func(b *ir.Builder) {
			for _, vi := range p.idx {
				b.SharedAtomicAdd(b.IMulImm(vi, uint64(stride)), b.Const32(1), base+cullAcceptedOffset)
			}
		}
		b.IfElse(b.LoadArg(ir.ArgCullAnyEnabled), func() {
			cv := make([]CullVertex, len(p.idx))
			clipAll := b.Const32(0xff)
			for i, vi := range p.idx {
				addr := b.IMulImm(vi, uint64(stride))
				pos := b.LoadShared(4, 32, addr, base+cullPosOffset)
				w := b.Channel(pos, 3)
				cv[i] = CullVertex{X: b.FDiv(b.Channel(pos, 0), w), Y: b.FDiv(b.Channel(pos, 1), w), W: w}
				if clipMask != 0 {
					clipAll = b.IAnd(clipAll, b.LoadShared(1, 32, addr, base+cullClipMaskOffset))
				}
			}
			clipAccepted := b.Bool(true)
			if clipMask != 0 {
				clipAccepted = b.IEqImm(clipAll, 0)
			}
			b.StoreLocal(primAccepted, CullPrimitive(b, CullConfig{NumVertices: v.vpp}, cv, clipAccepted, mark))
		}, func() {
			mark(b)
			b.StoreLocal(primAccepted, b.Bool(true))
		})
	})

	v.enter(b, phaseRepack)
	base := verts.Base()
	esAccepted := b.IAnd(p.hasVtx, b.INeImm(b.LoadShared(1, 32, own, base+cullAcceptedOffset), 0))
	gsAccepted := b.LoadLocal(primAccepted)
	pos := b.LoadShared(4, 32, own, base+cullPosOffset)
	values := make([]ir.ExpressionHandle, len(inputs))
	for i, in := range inputs {
		values[i] = b.LoadShared(in.comps, 32, own, base+in.offset)
	}
	rs := Repack(b, v.repackConfig(scratch), esAccepted, gsAccepted)
	esCount, gsCount := rs[0].Count, rs[1].Count
	v.arena.Begin(phaseScatter)

	b.If(esAccepted, func() {
		dst := b.IMulImm(rs[0].Index, uint64(stride))
		b.StoreShared(pos, dst, base+cullPosOffset)
		for i, in := range inputs {
			b.StoreShared(values[i], dst, base+in.offset)
		}
		b.StoreShared(rs[0].Index, own, base+cullExporterOffset)
	})

	v.enter(b, phaseReadback)
	exporter := b.ULt(p.tid, esCount)
	posLocal := b.Local("cull_pos", 4, 32)
	b.If(exporter, func() {
		b.StoreLocal(posLocal, b.LoadShared(4, 32, own, base+cullPosOffset))
		for _, in := range inputs {
			b.StoreLocal(in.local, b.LoadShared(in.comps, 32, own, base+in.offset))
		}
	})
	primArg := b.Local("prim_arg", 1, 32)
	b.If(p.hasPrim, func() {
		b.StoreLocal(primArg, b.Const32(amd.PrimNullFlag))
		b.If(gsAccepted, func() {
			idx := make([]ir.ExpressionHandle, len(p.idx))
			for i, vi := range p.idx {
				idx[i] = b.LoadShared(1, 32, b.IMulImm(vi, uint64(stride)), base+cullExporterOffset)
			}
			b.StoreLocal(primArg, prerast.PackPrimExportArg(b, v.hw, idx, v.edgeFlagBits(b, v.vpp), ir.NoExpr))
		})
	})

	primCount := p.numPrim
	if prims != nil {
		v.enter(b, phasePrimWrite)
		b.If(gsAccepted, func() {
			b.StoreShared(b.LoadLocal(primArg), b.IMulImm(rs[1].Index, 4), prims.Base())
		})
		v.enter(b, phasePrimRead)
		b.If(b.ULt(p.tid, gsCount), func() {
			b.StoreLocal(primArg, b.LoadShared(1, 32, b.IMulImm(p.tid, 4), prims.Base()))
		})
		primCount = gsCount
	}

	culled := v.alloc(b, p.tid, esCount, primCount)
	exportsPrim := b.ULt(p.tid, primCount)
	if culled != ir.NoExpr {
		exportsPrim = b.IAnd(exportsPrim, b.INot(culled))
	}
	primExport := func() {
		b.If(exportsPrim, func() {
			prerast.ExportPrimitive(b, b.LoadLocal(primArg), ir.NoExpr)
		})
	}
	if v.opts.EarlyPrimExport {
		primExport()
	}

	for _, in := range inputs {
		for _, h := range in.uses {
			f.Replace(h, ir.ExprLoadLocal{Local: in.local})
		}
	}
	waveCount := v.waveExportCount(b, esCount)
	b.If(exporter, func() {
		b.Append(body...)
		culledPos := b.LoadLocal(posLocal)
		for c := 0; c < 4; c++ {
			rec.Set(b, ir.SlotPos, c, b.Channel(culledPos, c))
		}
		if v.sh.Stage == ir.StageTessEval && v.opts.ExportPrimitiveID && rec.Slots[ir.SlotPrimitiveID].Mask == 0 {
			for _, in := range inputs {
				if in.op == ir.IntrLoadPrimitiveID {
					rec.Set(b, ir.SlotPrimitiveID, 0, b.LoadLocal(in.local))
				}
			}
		}
		v.exportVertex(b, rec, waveCount)
	})
	if !v.opts.EarlyPrimExport {
		primExport()
	}
	Logger().Debug("ngg culling", "shader", v.sh.Name, "vertex_stride", stride,
		"carried_inputs", len(inputs), "compact_primitives", prims != nil)
}

// negativeClipDistances returns a mask of the enabled clip and cull
// distances that are negative.
func (v *vertexLowerer) negativeClipDistances(b *ir.Builder, rec *prerast.Record, enabled uint8) ir.ExpressionHandle {
	mask := b.Const32(0)
	zero := b.Float(0)
	for i := 0; i < 8; i++ {
		if enabled&(1<<i) == 0 {
			continue
		}
		d := prerast.ClipDistance(b, rec, i, v.opts.UserClipPlaneMask)
		if d == ir.NoExpr {
			continue
		}
		mask = b.IOr(mask, b.IShlImm(b.B2I(b.FLt(d, zero), 32), uint32(i)))
	}
	return mask
}

// carriedInputs finds the per-vertex inputs read by body. Their uses are
// redirected to locals filled by the exporting invocation after compaction.
func (v *vertexLowerer) carriedInputs(body ir.Block) []*carriedInput {
	var ops map[ir.Intrinsic]bool
	switch v.sh.Stage {
	case ir.StageVertex:
		ops = map[ir.Intrinsic]bool{ir.IntrLoadVertexID: true, ir.IntrLoadInstanceID: true}
	case ir.StageTessEval:
		ops = map[ir.Intrinsic]bool{ir.IntrLoadTessCoord: true, ir.IntrLoadTessRelPatchID: true, ir.IntrLoadPrimitiveID: true}
	}

	f := v.sh.Func
	var out []*carriedInput
	byOp := make(map[ir.Intrinsic]*carriedInput)
	ir.WalkExpressions(f, body, func(h ir.ExpressionHandle, e *ir.Expression) {
		call, ok := e.Kind.(ir.ExprIntrinsic)
		if !ok || !ops[call.Op] {
			return
		}
		in := byOp[call.Op]
		if in == nil {
			in = &carriedInput{
				op:    call.Op,
				comps: e.NumComponents,
				local: f.AddLocal(fmt.Sprintf("carried_%s", call.Op), e.NumComponents, 32),
			}
			byOp[call.Op] = in
			out = append(out, in)
		}
		in.uses = append(in.uses, h)
	})
	if v.sh.Stage == ir.StageTessEval && v.opts.ExportPrimitiveID && byOp[ir.IntrLoadPrimitiveID] == nil {
		out = append(out, &carriedInput{
			op:    ir.IntrLoadPrimitiveID,
			comps: 1,
			local: f.AddLocal("carried_primitive_id", 1, 32),
		})
	}
	return out
}
