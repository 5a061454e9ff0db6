// Copyright 2025 The GoGPU Authors
// SPDX-License-Identifier: MIT

// Package ngg lowers vertex, tessellation evaluation, geometry and mesh
// shaders to the NGG hardware protocol.
//
// A lowered shader runs one workgroup per batch of input primitives. It
// allocates the vertices and primitives it exports, exports positions,
// parameters and primitive connectivity, and may cull primitives, compact
// the surviving vertices and write transform feedback buffers on the way.
// Lanes exchange data through shared memory laid out by an Arena; repacking
// sparse lanes into dense indices is done by Repack.
package ngg

import (
	"fortio.org/safecast"

	"github.com/gogpu/nggc/amd"
	"github.com/gogpu/nggc/ir"
	"github.com/gogpu/nggc/ir/opt"
	"github.com/gogpu/nggc/prerast"
)

// lowerer lowers the body of one shader stage.
type lowerer interface {
	lower() error
}

// lowering is the state shared by the stage lowerers of one shader.
type lowering struct {
	sh    *ir.Shader
	opts  Options
	hw    amd.HWInfo
	mapIO prerast.MapIO
	arena *Arena

	maxWaves int
	// exported is the record whose slots are exported, for the metadata.
	exported *prerast.Record
}

// Lower rewrites sh in place for the NGG hardware protocol and reports
// whether it changed the shader. Recoverable problems with the input are
// returned as *Error. A geometry shader that never sets the stream 0 vertex
// and primitive counts cannot be lowered safely; Lower panics with a
// *FatalError for it after logging the diagnostic.
func Lower(sh *ir.Shader, opts Options) (bool, error) {
	if sh == nil || sh.Func == nil {
		return false, newError(ErrInvalidShader, "nil shader")
	}
	if err := opts.Validate(); err != nil {
		return false, err
	}
	if errs, err := ir.Validate(sh); err != nil || len(errs) > 0 {
		return false, newError(ErrInvalidShader, "%s: %v", sh.Name, firstError(err, errs))
	}

	l := &lowering{
		sh:       sh,
		opts:     opts,
		hw:       amd.Info(opts.Gfx),
		mapIO:    opts.mapIO(),
		arena:    NewArena(sh.Info.SharedSize),
		maxWaves: opts.maxWaves(),
	}
	var impl lowerer
	switch sh.Stage {
	case ir.StageVertex, ir.StageTessEval:
		impl = newVertexLowerer(l)
	case ir.StageGeometry:
		impl = &geometryLowerer{lowering: l}
	case ir.StageMesh:
		impl = &meshLowerer{lowering: l}
	default:
		return false, newError(ErrUnsupportedStage, "%s: %s", sh.Name, sh.Stage)
	}

	if err := impl.lower(); err != nil {
		return false, err
	}
	if err := l.arena.Check(sh.Name); err != nil {
		return false, err
	}
	Logger().Debug("ngg shared memory layout", "shader", sh.Name, "stage", sh.Stage,
		"bytes", l.arena.Used(), "regions", l.arena.String())

	opt.Run(sh)
	if errs, err := ir.Validate(sh); err != nil || len(errs) > 0 {
		return false, newError(ErrInternal, "%s: lowered shader is invalid: %v", sh.Name, firstError(err, errs))
	}

	sh.Info.SharedSize = l.arena.Size()
	if rec := l.exported; rec != nil {
		sh.Info.OutputsWritten = rec.Written() | sh.Info.PerPrimitiveOutputs
		sh.Info.Outputs16Written = rec.Written16()
	}
	return true, nil
}

func firstError(err error, errs []ir.ValidationError) error {
	if err != nil {
		return err
	}
	return errs[0]
}

// waveSize32 returns the wave size as a 32-bit constant operand.
func (l *lowering) waveSize32() uint32 {
	return safecast.MustConv[uint32](l.opts.WaveSize)
}

// maxLanes is the number of invocations a workgroup may launch, which
// bounds the per-invocation shared memory regions.
func (l *lowering) maxLanes() uint32 {
	return safecast.MustConv[uint32](l.maxWaves * l.opts.WaveSize)
}

// enter moves the arena to phase p. A single-wave workgroup runs in
// lockstep, so it needs no barrier.
func (l *lowering) enter(b *ir.Builder, p Phase) {
	if l.maxWaves > 1 {
		l.arena.Enter(b, p)
		return
	}
	l.arena.Begin(p)
}

func (l *lowering) repackConfig(scratch *Region) RepackConfig {
	cfg := RepackConfig{HW: l.hw, WaveSize: l.opts.WaveSize, MaxWaves: l.maxWaves}
	if scratch != nil {
		cfg.Scratch = scratch.Base()
	}
	return cfg
}

func (l *lowering) posConfig() prerast.PosConfig {
	return prerast.PosConfig{
		HW:                l.hw,
		ForceVRS:          l.opts.ForceVRS,
		KillPointSize:     l.opts.KillPointSize,
		KillLayer:         l.opts.KillLayer,
		ClipCullDistMask:  l.opts.ClipCullDistMask,
		UserClipPlaneMask: l.opts.UserClipPlaneMask,
	}
}

// streamoutConfig returns the stream-out settings, or false when the shader
// writes no transform feedback.
func (l *lowering) streamoutConfig(vpp int, scratch *Region) (prerast.StreamoutConfig, bool) {
	xfb := l.sh.Info.Xfb
	if l.opts.DisableStreamout || xfb == nil || xfb.BuffersWritten() == 0 {
		return prerast.StreamoutConfig{}, false
	}
	cfg := prerast.StreamoutConfig{
		HW:                   l.hw,
		Xfb:                  xfb,
		VerticesPerPrimitive: vpp,
		UseOrderedAddLoop:    l.opts.UseOrderedAddLoop || l.hw.HasOrderedAdd64,
		XfbQuery:             l.opts.HasXfbPrimQuery,
	}
	if scratch != nil {
		cfg.Scratch = scratch.Base()
	}
	return cfg, true
}

// alloc emits the vertex and primitive allocation from the first wave.
// It must run in uniform control flow. When the generation cannot allocate
// an empty workgroup, a workgroup without vertices allocates one vertex and
// one null primitive and exports both from its first lane; alloc returns
// the 1-bit condition under which that happened, or NoExpr.
func (l *lowering) alloc(b *ir.Builder, tid, numVtx, numPrim ir.ExpressionHandle) ir.ExpressionHandle {
	wave0 := b.IEqImm(b.SubgroupID(), 0)
	if !l.hw.NeedsFullyCulledWorkaround {
		b.If(wave0, func() {
			b.Call(ir.IntrAllocVerticesAndPrims, ir.Indices{}, numVtx, numPrim)
		})
		return ir.NoExpr
	}

	culled := b.IEqImm(numVtx, 0)
	b.If(wave0, func() {
		b.IfElse(culled, func() {
			one := b.Const32(1)
			b.Call(ir.IntrAllocVerticesAndPrims, ir.Indices{}, one, one)
			b.If(b.IEqImm(tid, 0), func() {
				prerast.ExportPrimitive(b, b.Const32(amd.PrimNullFlag), ir.NoExpr)
				flags := ir.ExportDone
				if l.hw.NeedsValidMask {
					flags |= ir.ExportValidMask
				}
				b.Export(b.FloatVec(-1, -1, -1, -1), ir.ExportPos0, 0xf, flags)
			})
		}, func() {
			b.Call(ir.IntrAllocVerticesAndPrims, ir.Indices{}, numVtx, numPrim)
		})
	})
	return culled
}

// waveExportCount returns how many of the first count export threads of the
// workgroup fall into the current wave.
func (l *lowering) waveExportCount(b *ir.Builder, count ir.ExpressionHandle) ir.ExpressionHandle {
	waveBase := b.IMulImm(b.SubgroupID(), uint64(l.opts.WaveSize))
	rest := b.ISub(b.UMax(count, waveBase), waveBase)
	return b.UMin(rest, b.Const32(l.waveSize32()))
}

// exportVertex exports the position and parameters of one vertex. On
// generations with an attribute ring the parameters are stored to the ring
// first; waveCount is the number of exporting threads of the wave.
func (l *lowering) exportVertex(b *ir.Builder, rec *prerast.Record, waveCount ir.ExpressionHandle) {
	if !l.opts.HasParamExports {
		prerast.ExportPosition(b, rec, l.posConfig())
		return
	}
	if l.hw.HasAttrRing {
		prerast.StoreParametersToAttrRing(b, rec, l.mapIO, prerast.AttrRingConfig{
			Count:     waveCount,
			ExportTID: ir.NoExpr,
			Index:     ir.NoExpr,
		})
		prerast.WaitAttrRing(b, l.hw)
		prerast.ExportPosition(b, rec, l.posConfig())
		return
	}
	prerast.ExportPosition(b, rec, l.posConfig())
	prerast.ExportParameters(b, rec, l.mapIO, false)
}

// genPrimQuery adds count to the primitives generated query of stream from
// the first invocation when the query is enabled at run time.
func (l *lowering) genPrimQuery(b *ir.Builder, tid ir.ExpressionHandle, stream int, count ir.ExpressionHandle) {
	if !l.opts.HasGenPrimQuery || !l.hw.HasPipelineStatCounters {
		return
	}
	b.If(b.IAnd(b.IEqImm(tid, 0), b.LoadArg(ir.ArgPrimGenQueryEnabled)), func() {
		b.Call(ir.IntrAtomicAddGenPrimCount, ir.Indices{Stream: safecast.MustConv[uint8](stream)}, count)
	})
}

// vertexIndices returns the input vertex indices of the invocation's primitive.
func vertexIndices(b *ir.Builder, n int) []ir.ExpressionHandle {
	idx := make([]ir.ExpressionHandle, n)
	for i := range idx {
		idx[i] = b.LoadArg(ir.ArgGSVertexIndex0 + ir.ShaderArg(i))
	}
	return idx
}

// edgeFlagBits returns the edge flag bits of the primitive export from the
// initial edge flags argument, or NoExpr on generations without them.
func (l *lowering) edgeFlagBits(b *ir.Builder, n int) ir.ExpressionHandle {
	if !l.hw.HasPrimEdgeFlags {
		return ir.NoExpr
	}
	return b.IAndImm(b.LoadArg(ir.ArgInitialEdgeFlags), uint64(prerast.EdgeFlagMask(l.hw, n)))
}

// rejectIntrinsics reports an input shader calling an intrinsic its stage
// cannot use.
func rejectIntrinsics(sh *ir.Shader, ops ...ir.Intrinsic) error {
	for _, op := range ops {
		if prerast.HasIntrinsic(sh.Func.Body, op) {
			return newError(ErrInvalidShader, "%s: %s shader calls %s", sh.Name, sh.Stage, op)
		}
	}
	return nil
}
