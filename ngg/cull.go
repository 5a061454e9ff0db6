// Copyright 2025 The GoGPU Authors
// SPDX-License-Identifier: MIT

package ngg

import (
	"fmt"

	"github.com/gogpu/nggc/ir"
)

// CullVertex is the position of one primitive vertex with x and y already
// divided by w.
type CullVertex struct {
	X, Y, W ir.ExpressionHandle
}

// CullConfig selects the tests applied by CullPrimitive.
type CullConfig struct {
	// NumVertices is 2 for lines and 3 for triangles.
	NumVertices int
}

// CullPrimitive decides whether a primitive survives culling and returns the
// 1-bit decision. clipAccepted is false when some clip distance is negative
// on every vertex. Face culling and the small primitive filter follow the
// run-time cull arguments.
//
// A primitive with a NaN coordinate or with every w negative is rejected.
// When only some w are negative the primitive crosses the w=0 plane and the
// screen-space tests are skipped. onAccepted, when not nil, is emitted once
// inside the accepted branch.
func CullPrimitive(b *ir.Builder, cfg CullConfig, verts []CullVertex, clipAccepted ir.ExpressionHandle, onAccepted func(b *ir.Builder)) ir.ExpressionHandle {
	if cfg.NumVertices != 2 && cfg.NumVertices != 3 || len(verts) != cfg.NumVertices {
		panic(fmt.Sprintf("ngg: cannot cull a primitive of %d vertices", len(verts)))
	}

	nan := b.Bool(false)
	allNeg, anyNeg := b.Bool(true), b.Bool(false)
	zero := b.Float(0)
	for _, v := range verts {
		for _, c := range []ir.ExpressionHandle{v.X, v.Y, v.W} {
			nan = b.IOr(nan, b.FNe(c, c))
		}
		neg := b.FLt(v.W, zero)
		allNeg = b.IAnd(allNeg, neg)
		anyNeg = b.IOr(anyNeg, neg)
	}

	accepted := b.Local("cull_accepted", 1, 1)
	initial := b.IAnd(clipAccepted, b.INot(b.IOr(nan, allNeg)))
	b.StoreLocal(accepted, initial)

	b.If(b.IAnd(initial, b.INot(anyNeg)), func() {
		var reject ir.ExpressionHandle
		if cfg.NumVertices == 3 {
			reject = triangleRejected(b, verts)
		} else {
			reject = lineRejected(b, verts)
		}
		reject = b.IOr(reject, boundsRejected(b, verts))
		b.StoreLocal(accepted, b.INot(reject))
	})

	final := b.LoadLocal(accepted)
	if onAccepted != nil {
		b.If(final, func() { onAccepted(b) })
	}
	return final
}

// triangleRejected applies the zero-area and face tests.
func triangleRejected(b *ir.Builder, v []CullVertex) ir.ExpressionHandle {
	// det = (x1-x0)*(y2-y0) - (x2-x0)*(y1-y0)
	det := b.FSub(
		b.FMul(b.FSub(v[1].X, v[0].X), b.FSub(v[2].Y, v[0].Y)),
		b.FMul(b.FSub(v[2].X, v[0].X), b.FSub(v[1].Y, v[0].Y)),
	)
	zero := b.Float(0)
	degenerate := b.FEq(det, zero)

	ccw := b.FLt(zero, det)
	front := b.IEq(ccw, b.LoadArg(ir.ArgCullCCW))
	cullFront := b.IAnd(front, b.LoadArg(ir.ArgCullFrontFace))
	cullBack := b.IAnd(b.INot(front), b.LoadArg(ir.ArgCullBackFace))
	return b.IOr(degenerate, b.IOr(cullFront, cullBack))
}

// lineRejected rejects lines of zero length.
func lineRejected(b *ir.Builder, v []CullVertex) ir.ExpressionHandle {
	sameX := b.FEq(v[0].X, v[1].X)
	sameY := b.FEq(v[0].Y, v[1].Y)
	return b.IAnd(sameX, sameY)
}

// boundsRejected applies the frustum test and, when enabled at run time,
// rejects primitives whose bounding box covers no sample in some axis.
func boundsRejected(b *ir.Builder, v []CullVertex) ir.ExpressionHandle {
	axes := [2]struct {
		coord         func(CullVertex) ir.ExpressionHandle
		scale, offset ir.ShaderArg
	}{
		{func(c CullVertex) ir.ExpressionHandle { return c.X }, ir.ArgViewportScaleX, ir.ArgViewportOffsetX},
		{func(c CullVertex) ir.ExpressionHandle { return c.Y }, ir.ArgViewportScaleY, ir.ArgViewportOffsetY},
	}
	one, negOne := b.Float(1), b.Float(-1)
	smallEnabled := b.LoadArg(ir.ArgCullSmallPrims)
	precision := b.LoadArg(ir.ArgSmallPrimPrecision)

	reject := b.Bool(false)
	for _, ax := range axes {
		lo, hi := ax.coord(v[0]), ax.coord(v[0])
		for _, vert := range v[1:] {
			lo = b.FMin(lo, ax.coord(vert))
			hi = b.FMax(hi, ax.coord(vert))
		}
		reject = b.IOr(reject, b.IOr(b.FLt(hi, negOne), b.FLt(one, lo)))

		scale, offset := b.LoadArg(ax.scale), b.LoadArg(ax.offset)
		sLo := b.ALU(ir.OpFRoundEven, b.FSub(b.FFma(lo, scale, offset), precision))
		sHi := b.ALU(ir.OpFRoundEven, b.FAdd(b.FFma(hi, scale, offset), precision))
		reject = b.IOr(reject, b.IAnd(smallEnabled, b.FEq(sLo, sHi)))
	}
	return reject
}
