// Copyright 2025 The GoGPU Authors
// SPDX-License-Identifier: MIT

package ngg

import (
	"math"
	"testing"

	"github.com/gogpu/nggc/ir"
	"github.com/gogpu/nggc/sim"
)

func mustValidate(t *testing.T, sh *ir.Shader) {
	t.Helper()
	errs, err := ir.Validate(sh)
	if err != nil || len(errs) > 0 {
		t.Fatalf("invalid shader: %v %v\n%s", err, errs, sh)
	}
}

// mustLower lowers sh and fails the test on error.
func mustLower(t *testing.T, sh *ir.Shader, opts Options) {
	t.Helper()
	mustValidate(t, sh)
	changed, err := Lower(sh, opts)
	if err != nil {
		t.Fatalf("Lower: %v\n%s", err, sh)
	}
	if !changed {
		t.Fatalf("Lower reported no change")
	}
}

func mustRun(t *testing.T, dev *sim.Device, sh *ir.Shader, cfg sim.Config, wgs ...sim.Workgroup) *sim.Result {
	t.Helper()
	if dev == nil {
		dev = sim.NewDevice()
	}
	res, err := sim.Run(t.Context(), dev, sh, cfg, wgs)
	if err != nil {
		t.Fatalf("Run: %v\n%s", err, sh)
	}
	return res
}

func storeOutput(b *ir.Builder, slot ir.Slot, v ir.ExpressionHandle) {
	b.Call(ir.IntrStoreOutput, ir.Indices{Slot: slot, WriteMask: uint8(1)<<b.Components(v) - 1}, v)
}

// workgroupBarriers counts the workgroup barriers in blk.
func workgroupBarriers(blk ir.Block) int {
	n := 0
	ir.Walk(blk, func(st ir.Statement) {
		if bar, ok := st.Kind.(ir.StmtBarrier); ok && bar.Execution == ir.ScopeWorkgroup {
			n++
		}
	})
	return n
}

// usesShared reports whether the shader touches shared memory.
func usesShared(sh *ir.Shader) bool {
	found := false
	ir.WalkExpressions(sh.Func, sh.Func.Body, func(_ ir.ExpressionHandle, e *ir.Expression) {
		if call, ok := e.Kind.(ir.ExprIntrinsic); ok {
			switch call.Op {
			case ir.IntrLoadShared, ir.IntrSharedAtomicAdd:
				found = true
			}
		}
	})
	ir.Walk(sh.Func.Body, func(st ir.Statement) {
		if call, ok := st.Kind.(ir.StmtIntrinsic); ok && call.Op == ir.IntrStoreShared {
			found = true
		}
	})
	return found
}

func fbits(vs ...float32) [4]uint32 {
	var out [4]uint32
	for i, v := range vs {
		out[i] = math.Float32bits(v)
	}
	return out
}

// seq returns {base, base+1, ...} of length n.
func seq(n int, base uint32) []uint32 {
	out := make([]uint32, n)
	for i := range out {
		out[i] = base + uint32(i)
	}
	return out
}

// primLaneArgs spreads the vertex indices of prims over the primitive
// invocations.
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

// paramByInvocation maps each invocation to the value it exported to target.
func paramByInvocation(wr *sim.WorkgroupResult, target ir.ExportTarget) map[int][4]uint32 {
	out := make(map[int][4]uint32)
	for _, e := range wr.ExportsTo(target) {
		out[e.Invocation] = e.Value
	}
	return out
}
