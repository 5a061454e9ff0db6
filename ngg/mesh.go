// Copyright 2025 The GoGPU Authors
// SPDX-License-Identifier: MIT

package ngg

import (
	"cmp"
	"slices"

	"fortio.org/safecast"

	"github.com/gogpu/nggc/amd"
	"github.com/gogpu/nggc/ir"
	"github.com/gogpu/nggc/prerast"
)

// Shared memory phases of mesh shaders.
const (
	phaseMeshBody Phase = iota
	phaseMeshExport
)

// Byte offsets in the mesh info region.
const (
	meshVertexCount = 0
	meshPrimCount   = 4
	meshBarriers    = 8
	meshInfoSize    = 16
)

// meshSlotSize is the storage of one output slot of one vertex or primitive.
const meshSlotSize = 16

// MeshHWWorkgroupSize returns the invocations launched per mesh workgroup:
// the API workgroup, widened so that every vertex and every primitive has an
// invocation to export it, in whole waves.
func MeshHWWorkgroupSize(opts Options, mesh ir.MeshInfo) int {
	n := max(mesh.APIWorkgroupSize(), mesh.MaxVertices, mesh.MaxPrimitives)
	return int(amd.AlignUp(n, safecast.MustConv[uint32](opts.WaveSize)))
}

// meshSlot is one output slot of a vertex or a primitive. Its storage is
// a vec4 per element, in shared memory or, when spilled, in the mesh
// scratch ring.
type meshSlot struct {
	slot    ir.Slot
	mask    uint8
	varying uint8
	sysval  uint8

	spilled bool
	// offset is the byte offset of the slot's array in the region of its
	// kind, or in the scratch ring when spilled.
	offset uint32
}

// meshOutputs stores one kind of mesh output.
type meshOutputs struct {
	name  string
	slots []meshSlot
	count uint32

	// region holds the slots kept in shared memory.
	region *Region
}

// slotSize is the storage of one slot for every element.
func (o *meshOutputs) slotSize() uint32 {
	return o.count * meshSlotSize
}

func (o *meshOutputs) size() uint32 {
	return safecast.MustConv[uint32](len(o.slots)) * o.slotSize()
}

func (o *meshOutputs) index(slot ir.Slot) int {
	return slices.IndexFunc(o.slots, func(s meshSlot) bool { return s.slot == slot })
}

// add records a write or read of components of slot.
func (o *meshOutputs) add(slot ir.Slot, mask uint8, idx ir.Indices, store bool) {
	i := o.index(slot)
	if i < 0 {
		o.slots = append(o.slots, meshSlot{slot: slot})
		i = len(o.slots) - 1
	}
	s := &o.slots[i]
	s.mask |= mask
	if store && !idx.NoVarying {
		s.varying |= mask
	}
	if store && !idx.NoSysval {
		s.sysval |= mask
	}
}

// place assigns shared memory offsets to the slots that are not spilled
// and allocates their region.
func (o *meshOutputs) place(a *Arena) {
	var size uint32
	for i := range o.slots {
		if s := &o.slots[i]; !s.spilled {
			s.offset = size
			size += o.slotSize()
		}
	}
	if size > 0 {
		o.region = a.Alloc(o.name, size)
	}
}

func (o *meshOutputs) store(b *ir.Builder, elem, v ir.ExpressionHandle, slot ir.Slot, comp int) {
	if b.Bits(v) == 1 {
		v = b.B2I(v, 32)
	}
	s := &o.slots[o.index(slot)]
	addr := b.IMulImm(elem, meshSlotSize)
	base := s.offset + safecast.MustConv[uint32](comp*4)
	if !s.spilled {
		b.StoreShared(v, addr, o.region.Base()+base)
		return
	}
	b.StoreBuffer(ir.RingMeshScratch, v, addr, b.LoadArg(ir.ArgMeshScratchRingOffset), b.Const32(0), base)
}

func (o *meshOutputs) load(b *ir.Builder, elem ir.ExpressionHandle, slot ir.Slot, comp int) ir.ExpressionHandle {
	s := &o.slots[o.index(slot)]
	addr := b.IMulImm(elem, meshSlotSize)
	base := s.offset + safecast.MustConv[uint32](comp*4)
	if !s.spilled {
		return b.LoadShared(1, 32, addr, o.region.Base()+base)
	}
	return b.LoadBuffer(ir.RingMeshScratch, 1, 32, addr, b.LoadArg(ir.ArgMeshScratchRingOffset), base)
}

// has reports whether any component of slot is written.
func (o *meshOutputs) has(slot ir.Slot) bool {
	return o.index(slot) >= 0
}

// record loads the outputs of elem into a fresh record, leaving out the
// slots skip reports.
func (o *meshOutputs) record(b *ir.Builder, elem ir.ExpressionHandle, skip func(ir.Slot) bool) *prerast.Record {
	rec := prerast.NewRecord()
	for _, s := range o.slots {
		if skip != nil && skip(s.slot) {
			continue
		}
		for c := 0; c < 4; c++ {
			bit := uint8(1) << c
			if s.mask&bit == 0 {
				continue
			}
			rec.Store(b, ir.Indices{
				Slot:      s.slot,
				Component: safecast.MustConv[uint8](c),
				WriteMask: 1,
				NoVarying: s.varying&bit == 0,
				NoSysval:  s.sysval&bit == 0,
			}, o.load(b, elem, s.slot, c))
		}
	}
	return rec
}

// meshLowerer lowers mesh shaders. The API workgroup writes its vertex and
// primitive outputs to per-element storage; after a workgroup barrier every
// hardware invocation exports at most one vertex and one primitive from it.
// Hardware invocations beyond the API workgroup replay the body's barriers
// so that every wave executes the same number of them.
type meshLowerer struct {
	*lowering

	info     ir.MeshInfo
	api      uint32
	hwSize   uint32
	vpp      int
	verts    *meshOutputs
	prims    *meshOutputs
	infoRgn  *Region
	spilled  bool
	replay   bool
	barriers ir.LocalHandle
	fast     bool
}

func (m *meshLowerer) lower() error {
	err := rejectIntrinsics(m.sh, ir.IntrStoreOutput, ir.IntrEmitVertex, ir.IntrEndPrimitive, ir.IntrSetVertexAndPrimitiveCount)
	if err != nil {
		return err
	}
	if m.opts.Gfx < amd.GFX10_3 {
		return newError(ErrUnsupportedStage, "%s: mesh shaders need %s or later", m.sh.Name, amd.GFX10_3)
	}
	m.info = m.sh.Info.Mesh
	m.api = m.info.APIWorkgroupSize()
	m.hwSize = safecast.MustConv[uint32](MeshHWWorkgroupSize(m.opts, m.info))
	if m.hwSize > MaxWorkgroupSize {
		return newError(ErrInvalidShader, "%s: mesh workgroup of %d invocations, at most %d",
			m.sh.Name, m.hwSize, MaxWorkgroupSize)
	}
	m.maxWaves = int(m.hwSize) / m.opts.WaveSize
	m.vpp = m.info.OutputPrimitive.VerticesPerPrimitive()
	m.fast = m.opts.FastLaunch2 && m.opts.Gfx >= amd.GFX11 && prerast.HasIntrinsic(m.sh.Func.Body, ir.IntrSetMeshOutputs)

	m.verts = &meshOutputs{name: "mesh_vertices", count: m.info.MaxVertices}
	m.prims = &meshOutputs{name: "mesh_primitives", count: m.info.MaxPrimitives}
	if err := m.gatherSlots(); err != nil {
		return err
	}
	m.layout()

	apiWaves := amd.DivRoundUp(m.api, m.waveSize32())
	m.replay = int(apiWaves) < m.maxWaves && hasWorkgroupBarrier(m.sh.Func.Body)

	Logger().Debug("ngg lowering", "shader", m.sh.Name, "stage", m.sh.Stage,
		"api_size", m.api, "hw_size", m.hwSize, "spilled", m.spilled, "barrier_replay", m.replay)
	m.lowerMesh()
	return nil
}

// gatherSlots collects the output slots the body writes or reads.
func (m *meshLowerer) gatherSlots() error {
	var bad error
	visit := func(op ir.Intrinsic, idx ir.Indices, nc uint8, store bool) {
		var outs *meshOutputs
		switch op {
		case ir.IntrStorePerVertexOutput, ir.IntrLoadPerVertexOutput:
			outs = m.verts
		case ir.IntrStorePerPrimitiveOutput, ir.IntrLoadPerPrimitiveOutput:
			outs = m.prims
		default:
			return
		}
		if idx.Bank16 && bad == nil {
			bad = newError(ErrInvalidShader, "%s: 16-bit mesh output %s", m.sh.Name, idx.Slot)
			return
		}
		mask := uint8(1)<<nc - 1
		if store && idx.WriteMask != 0 {
			mask &= idx.WriteMask
		}
		outs.add(idx.Slot, mask<<idx.Component, idx, store)
	}
	f := m.sh.Func
	ir.Walk(f.Body, func(st ir.Statement) {
		if call, ok := st.Kind.(ir.StmtIntrinsic); ok {
			nc := uint8(1)
			if len(call.Args) > 0 {
				nc = f.Expr(call.Args[0]).NumComponents
			}
			visit(call.Op, call.Index, nc, true)
		}
	})
	ir.WalkExpressions(f, f.Body, func(_ ir.ExpressionHandle, e *ir.Expression) {
		if call, ok := e.Kind.(ir.ExprIntrinsic); ok {
			visit(call.Op, call.Index, e.NumComponents, false)
		}
	})
	for _, s := range m.prims.slots {
		m.sh.Info.PerPrimitiveOutputs |= s.slot.Bit()
	}
	return bad
}

// layout places the outputs in shared memory. While the layout exceeds
// the mesh budget, slots move to the scratch ring one at a time, largest
// first. Attributes move before the system values the export reads.
func (m *meshLowerer) layout() {
	m.infoRgn = m.arena.Alloc("mesh_info", meshInfoSize)
	limit := m.opts.meshSharedLimit()
	total := m.arena.Used() + m.verts.size() + m.prims.size()

	type candidate struct {
		outs *meshOutputs
		i    int
	}
	var cands []candidate
	for _, outs := range []*meshOutputs{m.prims, m.verts} {
		for i := range outs.slots {
			cands = append(cands, candidate{outs, i})
		}
	}
	slices.SortStableFunc(cands, func(a, b candidate) int {
		if sa, sb := a.outs.slots[a.i].slot.IsSysval(), b.outs.slots[b.i].slot.IsSysval(); sa != sb {
			if sa {
				return 1
			}
			return -1
		}
		return cmp.Compare(b.outs.slotSize(), a.outs.slotSize())
	})

	var ring uint32
	for _, c := range cands {
		if total <= limit {
			break
		}
		s := &c.outs.slots[c.i]
		s.spilled = true
		s.offset = ring
		ring += c.outs.slotSize()
		total -= c.outs.slotSize()
		m.spilled = true
		Logger().Debug("mesh output spilled", "shader", m.sh.Name, "kind", c.outs.name, "slot", s.slot, "bytes", c.outs.slotSize())
	}
	m.verts.place(m.arena)
	m.prims.place(m.arena)
}

func hasWorkgroupBarrier(blk ir.Block) bool {
	found := false
	ir.Walk(blk, func(st ir.Statement) {
		if bar, ok := st.Kind.(ir.StmtBarrier); ok && bar.Execution == ir.ScopeWorkgroup {
			found = true
		}
	})
	return found
}

// barrier synchronizes the workgroup, including the scratch ring when
// outputs live there.
func (m *meshLowerer) barrier(b *ir.Builder) {
	if m.spilled {
		b.Barrier(ir.ScopeWorkgroup, ir.ScopeWorkgroup, ir.SemanticsAcqRel, ir.ModeShared|ir.ModeGlobal)
		return
	}
	b.WorkgroupBarrier()
}

func (m *meshLowerer) lowerMesh() {
	f := m.sh.Func
	body := ir.Extract(f)
	b := ir.NewBuilder(f)
	m.arena.Begin(phaseMeshBody)

	tid := b.LocalInvocationIndex()
	zero := b.Const32(0)
	b.If(b.IEqImm(tid, 0), func() {
		b.StoreShared(zero, zero, m.infoRgn.Base()+meshVertexCount)
		b.StoreShared(zero, zero, m.infoRgn.Base()+meshPrimCount)
		if m.replay {
			b.StoreShared(zero, zero, m.infoRgn.Base()+meshBarriers)
		}
	})
	if m.replay {
		m.barriers = b.Local("mesh_barriers", 1, 32)
		b.StoreLocal(m.barriers, zero)
	}

	body = m.rewrite(b, body, tid)
	b.If(b.ULt(tid, b.Const32(m.api)), func() {
		b.Append(body...)
	})

	m.syncOutputs(b)
	m.finale(b, tid)
}

// rewrite turns output stores into storage writes, output loads into
// storage reads and set_mesh_outputs into the count stores.
func (m *meshLowerer) rewrite(b *ir.Builder, body ir.Block, tid ir.ExpressionHandle) ir.Block {
	f := m.sh.Func
	return ir.MapBlock(body, func(st ir.Statement) (ir.Block, bool) {
		switch s := st.Kind.(type) {
		case ir.StmtEmit:
			return m.splitOutputLoads(b, s.Range)
		case ir.StmtBarrier:
			if !m.replay || s.Execution != ir.ScopeWorkgroup {
				return nil, false
			}
			return b.Capture(func() {
				b.Append(st)
				b.StoreLocal(m.barriers, b.IAddImm(b.LoadLocal(m.barriers), 1))
			}), true
		case ir.StmtIntrinsic:
			switch s.Op {
			case ir.IntrStorePerVertexOutput, ir.IntrStorePerPrimitiveOutput:
				outs := m.verts
				if s.Op == ir.IntrStorePerPrimitiveOutput {
					outs = m.prims
				}
				return b.Capture(func() {
					v, elem := s.Args[0], s.Args[1]
					mask := s.Index.WriteMask
					if mask == 0 {
						mask = 0xf
					}
					for c := 0; c < int(f.Expr(v).NumComponents); c++ {
						if mask&(1<<c) != 0 {
							outs.store(b, elem, b.Channel(v, c), s.Index.Slot, int(s.Index.Component)+c)
						}
					}
				}), true
			case ir.IntrSetMeshOutputs:
				return b.Capture(func() {
					m.setOutputs(b, tid, s.Args[0], s.Args[1])
				}), true
			}
		}
		return nil, false
	})
}

// splitOutputLoads replaces the output loads of an emitted range by locals
// written from storage right before the load would have been evaluated.
func (m *meshLowerer) splitOutputLoads(b *ir.Builder, r ir.Range) (ir.Block, bool) {
	f := m.sh.Func
	isLoad := func(h ir.ExpressionHandle) bool {
		call, ok := f.Expr(h).Kind.(ir.ExprIntrinsic)
		return ok && (call.Op == ir.IntrLoadPerVertexOutput || call.Op == ir.IntrLoadPerPrimitiveOutput)
	}
	found := false
	for h := r.Start; h < r.End; h++ {
		found = found || isLoad(h)
	}
	if !found {
		return nil, false
	}
	return b.Capture(func() {
		start := r.Start
		for h := r.Start; h < r.End; h++ {
			if !isLoad(h) {
				continue
			}
			e := *f.Expr(h)
			call := e.Kind.(ir.ExprIntrinsic)
			outs := m.verts
			if call.Op == ir.IntrLoadPerPrimitiveOutput {
				outs = m.prims
			}
			if start < h {
				b.Append(ir.Statement{Kind: ir.StmtEmit{Range: ir.Range{Start: start, End: h}}})
			}
			comps := make([]ir.ExpressionHandle, e.NumComponents)
			for c := range comps {
				comps[c] = outs.load(b, call.Args[0], call.Index.Slot, int(call.Index.Component)+c)
			}
			v := comps[0]
			if len(comps) > 1 {
				v = b.Vec(comps...)
			}
			tmp := b.Local(outs.name+"_load", e.NumComponents, 32)
			b.StoreLocal(tmp, v)
			f.Replace(h, ir.ExprLoadLocal{Local: tmp})
			start = h
		}
		b.Append(ir.Statement{Kind: ir.StmtEmit{Range: ir.Range{Start: start, End: r.End}}})
	}), true
}

// setOutputs records the vertex and primitive counts for the export phase.
// With fast launch the first wave allocates them right away.
func (m *meshLowerer) setOutputs(b *ir.Builder, tid, numVtx, numPrim ir.ExpressionHandle) {
	numVtx = b.UMin(numVtx, b.Const32(m.info.MaxVertices))
	numPrim = b.UMin(numPrim, b.Const32(m.info.MaxPrimitives))
	if m.fast {
		m.alloc(b, tid, numVtx, numPrim)
	}
	b.If(b.IEqImm(tid, 0), func() {
		zero := b.Const32(0)
		b.StoreShared(numVtx, zero, m.infoRgn.Base()+meshVertexCount)
		b.StoreShared(numPrim, zero, m.infoRgn.Base()+meshPrimCount)
	})
}

// syncOutputs waits for the body of every API invocation. Waves that only
// exist for the export phase run as many barriers as the body did: the
// first wave publishes its barrier count plus one, and the others keep
// arriving at barriers until they have matched it.
func (m *meshLowerer) syncOutputs(b *ir.Builder) {
	if !m.replay {
		if m.maxWaves > 1 {
			m.barrier(b)
		}
		m.arena.Begin(phaseMeshExport)
		return
	}
	counter := m.infoRgn.Base() + meshBarriers
	zero := b.Const32(0)
	b.If(b.IAnd(b.IEqImm(b.SubgroupID(), 0), b.Elect()), func() {
		b.SharedAtomicAdd(zero, b.IAddImm(b.LoadLocal(m.barriers), 1), counter)
	})
	apiWaves := amd.DivRoundUp(m.api, m.waveSize32())
	b.IfElse(b.UGe(b.SubgroupID(), b.Const32(apiWaves)), func() {
		i := b.Local("replayed", 1, 32)
		b.StoreLocal(i, zero)
		b.Loop(func() {
			m.barrier(b)
			n := b.IAddImm(b.LoadLocal(i), 1)
			b.StoreLocal(i, n)
			want := b.SharedAtomicAdd(zero, b.Const32(0), counter)
			b.BreakIf(b.IAnd(b.INeImm(want, 0), b.UGe(n, want)))
		})
	}, func() {
		m.barrier(b)
	})
	m.arena.Begin(phaseMeshExport)
}

func (m *meshLowerer) finale(b *ir.Builder, tid ir.ExpressionHandle) {
	zero := b.Const32(0)
	numVtx := b.LoadShared(1, 32, zero, m.infoRgn.Base()+meshVertexCount)
	numPrim := b.LoadShared(1, 32, zero, m.infoRgn.Base()+meshPrimCount)
	if !m.fast {
		m.alloc(b, tid, numVtx, numPrim)
	}
	m.genPrimQuery(b, tid, 0, numPrim)

	if m.opts.HasParamExports && m.hw.HasAttrRing {
		// Every attribute store of the wave precedes the wait, and the wait
		// precedes both the position and the primitive exports.
		b.If(b.ULt(tid, numPrim), func() {
			rec := m.prims.record(b, tid, isPrimitiveSysval)
			prerast.StoreParametersToAttrRing(b, rec, m.mapIO, prerast.AttrRingConfig{
				Count:     m.waveExportCount(b, numPrim),
				ExportTID: ir.NoExpr,
				Index:     ir.NoExpr,
				ParamBase: m.vertexParamEnd(),
			})
		})
		b.If(b.ULt(tid, numVtx), func() {
			prerast.StoreParametersToAttrRing(b, m.verts.record(b, tid, nil), m.mapIO, prerast.AttrRingConfig{
				Count:     m.waveExportCount(b, numVtx),
				ExportTID: ir.NoExpr,
				Index:     ir.NoExpr,
			})
		})
		prerast.WaitAttrRing(b, m.hw)
		b.If(b.ULt(tid, numVtx), func() {
			rec := m.verts.record(b, tid, nil)
			prerast.ExportPosition(b, rec, m.posConfig())
			m.exported = rec
		})
	} else {
		b.If(b.ULt(tid, numVtx), func() {
			rec := m.verts.record(b, tid, nil)
			m.exportVertex(b, rec, m.waveExportCount(b, numVtx))
			m.exported = rec
		})
	}
	if m.exported == nil {
		m.exported = prerast.NewRecord()
	}

	b.If(b.ULt(tid, numPrim), func() {
		m.exportPrimitive(b, tid)
		if m.opts.HasParamExports && !m.hw.HasAttrRing {
			prerast.ExportParameters(b, m.prims.record(b, tid, isPrimitiveSysval), m.mapIO, true)
		}
	})
}

// isPrimitiveSysval reports the per-primitive slots consumed by the
// primitive export itself.
func isPrimitiveSysval(slot ir.Slot) bool {
	switch slot {
	case ir.SlotPrimitiveIndices, ir.SlotCullPrimitive, ir.SlotPrimitiveShadingRate:
		return true
	}
	return false
}

// vertexParamEnd returns the first parameter after the per-vertex ones.
func (m *meshLowerer) vertexParamEnd() int {
	end := 0
	for _, s := range m.verts.slots {
		if off := m.mapIO(s.slot); off != prerast.NoExport && s.varying != 0 {
			end = max(end, off+1)
		}
	}
	return end
}

func (m *meshLowerer) exportPrimitive(b *ir.Builder, tid ir.ExpressionHandle) {
	idx := make([]ir.ExpressionHandle, m.vpp)
	for i := range idx {
		if m.prims.has(ir.SlotPrimitiveIndices) {
			idx[i] = m.prims.load(b, tid, ir.SlotPrimitiveIndices, i)
		} else {
			idx[i] = b.Const32(0)
		}
	}
	isNull := ir.NoExpr
	if m.prims.has(ir.SlotCullPrimitive) {
		isNull = b.INeImm(m.prims.load(b, tid, ir.SlotCullPrimitive, 0), 0)
	}
	arg := prerast.PackPrimExportArg(b, m.hw, idx, ir.NoExpr, isNull)
	prerast.ExportPrimitive(b, arg, m.primitiveMisc(b, tid))
}

// primitiveMisc packs the per-primitive layer, viewport and shading rate
// into the second primitive export channel, or returns NoExpr when the
// generation has none or the shader writes none of them.
func (m *meshLowerer) primitiveMisc(b *ir.Builder, tid ir.ExpressionHandle) ir.ExpressionHandle {
	if m.hw.Misc != amd.MiscGen2 {
		return ir.NoExpr
	}
	type field struct {
		slot  ir.Slot
		mask  uint64
		shift uint32
	}
	fields := []field{
		{ir.SlotLayer, amd.Gen2LayerMask, 0},
		{ir.SlotViewport, ^uint64(0), amd.Gen2ViewportShift},
		{ir.SlotPrimitiveShadingRate, 0xf, amd.Gen2RateShift},
	}
	w := ir.NoExpr
	for _, fd := range fields {
		if !m.prims.has(fd.slot) {
			continue
		}
		v := b.IShlImm(b.IAndImm(m.prims.load(b, tid, fd.slot, 0), fd.mask), fd.shift)
		if w == ir.NoExpr {
			w = v
		} else {
			w = b.IOr(w, v)
		}
	}
	return w
}
