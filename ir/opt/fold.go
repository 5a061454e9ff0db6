package opt

import (
	"github.com/gogpu/nggc/ir"
)

// FoldConstants evaluates ALU operations on constants and removes trivial
// vector shuffles.
func FoldConstants(f *ir.Function) bool {
	changed := false
	repl := make(map[ir.ExpressionHandle]ir.ExpressionHandle)

	constOf := func(h ir.ExpressionHandle) (ir.ExprConst, bool) {
		c, ok := f.Expressions[h].Kind.(ir.ExprConst)
		return c, ok
	}
	component := func(c ir.ExprConst, nc uint8, i int) uint64 {
		if nc == 1 {
			return c.Values[0]
		}
		return c.Values[i]
	}

	ir.WalkExpressions(f, f.Body, func(h ir.ExpressionHandle, e *ir.Expression) {
		switch k := e.Kind.(type) {
		case ir.ExprALU:
			if k.Op == ir.OpBCsel {
				if cond, ok := constOf(k.Args[0]); ok && f.Expressions[k.Args[0]].NumComponents == 1 {
					pick := k.Args[2]
					if cond.Values[0]&1 != 0 {
						pick = k.Args[1]
					}
					if f.Expressions[pick].NumComponents == e.NumComponents {
						repl[h] = pick
						return
					}
				}
			}
			srcs := make([]ir.ExprConst, len(k.Args))
			srcBits := make([]uint8, len(k.Args))
			for i, a := range k.Args {
				c, ok := constOf(a)
				if !ok {
					return
				}
				srcs[i] = c
				srcBits[i] = f.Expressions[a].BitSize
			}
			var out ir.ExprConst
			vals := make([]uint64, len(k.Args))
			for comp := 0; comp < int(e.NumComponents); comp++ {
				for i, a := range k.Args {
					vals[i] = component(srcs[i], f.Expressions[a].NumComponents, comp)
				}
				out.Values[comp] = ir.EvalALU(k.Op, e.BitSize, srcBits, vals)
			}
			e.Kind = out
			changed = true
		case ir.ExprChannel:
			switch src := f.Expressions[k.Vector].Kind.(type) {
			case ir.ExprConst:
				e.Kind = ir.ExprConst{Values: [4]uint64{src.Values[k.Component]}}
				changed = true
			case ir.ExprVec:
				repl[h] = src.Components[k.Component]
			}
		case ir.ExprVec:
			var out ir.ExprConst
			for i, c := range k.Components {
				cv, ok := constOf(c)
				if !ok {
					return
				}
				out.Values[i] = cv.Values[0]
			}
			e.Kind = out
			changed = true
		}
	})

	return rewriteUses(f, repl) || changed
}
