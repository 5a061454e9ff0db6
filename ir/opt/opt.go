// Package opt implements the generic cleanup passes run after lowering.
package opt

import (
	"github.com/gogpu/nggc/ir"
)

// Pass rewrites a function and reports whether it changed anything.
type Pass func(f *ir.Function) bool

// Passes is the cleanup pipeline in the order Run applies it.
var Passes = []struct {
	Name string
	Pass Pass
}{
	{"forward_locals", ForwardLocals},
	{"fold_constants", FoldConstants},
	{"dead_control_flow", DeadControlFlow},
	{"dead_code", DeadCode},
	{"dead_locals", DeadLocals},
}

// maxRounds bounds the fixed-point loop.
const maxRounds = 64

// Run applies the cleanup pipeline until no pass makes progress.
func Run(sh *ir.Shader) bool {
	changed := false
	for round := 0; round < maxRounds; round++ {
		progress := false
		for _, p := range Passes {
			if p.Pass(sh.Func) {
				progress = true
			}
		}
		if !progress {
			break
		}
		changed = true
	}
	return changed
}

// rewriteUses redirects every use of a key of repl to its value and reports
// whether any use changed.
func rewriteUses(f *ir.Function, repl map[ir.ExpressionHandle]ir.ExpressionHandle) bool {
	if len(repl) == 0 {
		return false
	}
	changed := false
	resolve := func(h ir.ExpressionHandle) ir.ExpressionHandle {
		for {
			n, ok := repl[h]
			if !ok {
				return h
			}
			h = n
			changed = true
		}
	}
	remap := func(hs []ir.ExpressionHandle) {
		for i, h := range hs {
			hs[i] = resolve(h)
		}
	}
	for i := range f.Expressions {
		switch k := f.Expressions[i].Kind.(type) {
		case ir.ExprALU:
			remap(k.Args)
		case ir.ExprVec:
			remap(k.Components)
		case ir.ExprChannel:
			k.Vector = resolve(k.Vector)
			f.Expressions[i].Kind = k
		case ir.ExprIntrinsic:
			remap(k.Args)
		}
	}
	f.Body = ir.MapBlock(f.Body, func(st ir.Statement) (ir.Block, bool) {
		switch s := st.Kind.(type) {
		case ir.StmtIf:
			s.Condition = resolve(s.Condition)
			return ir.Block{{Kind: s}}, true
		case ir.StmtStoreLocal:
			s.Value = resolve(s.Value)
			return ir.Block{{Kind: s}}, true
		case ir.StmtIntrinsic:
			remap(s.Args)
		}
		return nil, false
	})
	return changed
}

// storedLocals returns the locals written anywhere inside blk.
func storedLocals(blk ir.Block) map[ir.LocalHandle]bool {
	out := make(map[ir.LocalHandle]bool)
	ir.Walk(blk, func(st ir.Statement) {
		if s, ok := st.Kind.(ir.StmtStoreLocal); ok {
			out[s.Local] = true
		}
	})
	return out
}
