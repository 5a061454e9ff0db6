// Copyright 2025 The GoGPU Authors
// SPDX-License-Identifier: MIT

package prerast

import (
	"github.com/gogpu/nggc/ir"
)

// Gather folds every store_output in body into rec and returns the body with
// the stores removed. Stores are visited in program order, so the last writer
// of each component wins.
func Gather(f *ir.Function, body ir.Block, rec *Record) ir.Block {
	b := ir.NewBuilder(f)
	return ir.MapBlock(body, func(st ir.Statement) (ir.Block, bool) {
		call, ok := st.Kind.(ir.StmtIntrinsic)
		if !ok || call.Op != ir.IntrStoreOutput {
			return nil, false
		}
		return b.Capture(func() {
			rec.Store(b, call.Index, call.Args[0])
		}), true
	})
}

// HasIntrinsic reports whether blk contains a statement calling op.
func HasIntrinsic(blk ir.Block, op ir.Intrinsic) bool {
	found := false
	ir.Walk(blk, func(st ir.Statement) {
		if call, ok := st.Kind.(ir.StmtIntrinsic); ok && call.Op == op {
			found = true
		}
	})
	return found
}
