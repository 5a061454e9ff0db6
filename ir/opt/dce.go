package opt

import (
	"github.com/gogpu/nggc/ir"
)

// DeadCode drops expressions whose values are never used from their emit
// statements. Handles stay stable; dropped expressions remain in the arena.
func DeadCode(f *ir.Function) bool {
	live := make([]bool, len(f.Expressions))
	ir.Walk(f.Body, func(st ir.Statement) {
		for _, h := range ir.StatementOperands(st.Kind) {
			live[h] = true
		}
		if emit, ok := st.Kind.(ir.StmtEmit); ok {
			for h := emit.Range.Start; h < emit.Range.End; h++ {
				if in, ok := f.Expressions[h].Kind.(ir.ExprIntrinsic); ok && in.Op.Info().SideEffects {
					live[h] = true
				}
			}
		}
	})
	for h := len(f.Expressions) - 1; h >= 0; h-- {
		if !live[h] {
			continue
		}
		for _, a := range ir.Operands(f.Expressions[h].Kind) {
			live[a] = true
		}
	}

	changed := false
	f.Body = ir.MapBlock(f.Body, func(st ir.Statement) (ir.Block, bool) {
		emit, ok := st.Kind.(ir.StmtEmit)
		if !ok {
			return nil, false
		}
		var out ir.Block
		start := emit.Range.Start
		for h := emit.Range.Start; h <= emit.Range.End; h++ {
			if h < emit.Range.End && live[h] {
				continue
			}
			if h > start {
				out = append(out, ir.Statement{Kind: ir.StmtEmit{Range: ir.Range{Start: start, End: h}}})
			}
			start = h + 1
		}
		if len(out) == 1 && out[0].Kind.(ir.StmtEmit).Range == emit.Range {
			return nil, false
		}
		changed = true
		return out, true
	})
	return changed
}

// DeadLocals removes stores to locals that are never loaded.
func DeadLocals(f *ir.Function) bool {
	loaded := make(map[ir.LocalHandle]bool)
	ir.WalkExpressions(f, f.Body, func(_ ir.ExpressionHandle, e *ir.Expression) {
		if ld, ok := e.Kind.(ir.ExprLoadLocal); ok {
			loaded[ld.Local] = true
		}
	})
	changed := false
	f.Body = ir.MapBlock(f.Body, func(st ir.Statement) (ir.Block, bool) {
		if s, ok := st.Kind.(ir.StmtStoreLocal); ok && !loaded[s.Local] {
			changed = true
			return nil, true
		}
		return nil, false
	})
	return changed
}

// DeadControlFlow removes empty or constant branches, unreachable
// statements after break/continue and loops that exit immediately.
// Adjacent emits are merged.
func DeadControlFlow(f *ir.Function) bool {
	changed := false
	var clean func(blk ir.Block) ir.Block
	clean = func(blk ir.Block) ir.Block {
		out := make(ir.Block, 0, len(blk))
	stmts:
		for i, st := range blk {
			switch s := st.Kind.(type) {
			case ir.StmtEmit:
				if s.Range.Len() == 0 {
					changed = true
					continue
				}
				if n := len(out); n > 0 {
					if prev, ok := out[n-1].Kind.(ir.StmtEmit); ok && prev.Range.End == s.Range.Start {
						prev.Range.End = s.Range.End
						out[n-1].Kind = prev
						changed = true
						continue
					}
				}
			case ir.StmtIf:
				s.Accept = clean(s.Accept)
				s.Reject = clean(s.Reject)
				if len(s.Accept) == 0 && len(s.Reject) == 0 {
					changed = true
					continue
				}
				if c, ok := f.Expressions[s.Condition].Kind.(ir.ExprConst); ok {
					changed = true
					taken := s.Reject
					if c.Values[0]&1 != 0 {
						taken = s.Accept
					}
					out = append(out, taken...)
					continue
				}
				st.Kind = s
			case ir.StmtLoop:
				s.Body = clean(s.Body)
				if len(s.Body) > 0 {
					if _, ok := s.Body[0].Kind.(ir.StmtBreak); ok {
						changed = true
						continue
					}
				}
				st.Kind = s
			case ir.StmtBreak, ir.StmtContinue:
				out = append(out, st)
				if i+1 < len(blk) {
					changed = true
				}
				break stmts
			}
			out = append(out, st)
		}
		return out
	}
	f.Body = clean(f.Body)
	return changed
}
