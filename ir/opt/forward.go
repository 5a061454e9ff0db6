package opt

import (
	"maps"

	"github.com/gogpu/nggc/ir"
)

// ForwardLocals replaces loads of a local with the value last stored to it
// when that store dominates the load, no other store can intervene, and the
// value precedes the load in the expression arena.
func ForwardLocals(f *ir.Function) bool {
	fw := &forwarder{f: f, repl: make(map[ir.ExpressionHandle]ir.ExpressionHandle)}
	fw.block(f.Body, make(map[ir.LocalHandle]ir.ExpressionHandle))
	return rewriteUses(f, fw.repl)
}

type forwarder struct {
	f    *ir.Function
	repl map[ir.ExpressionHandle]ir.ExpressionHandle
}

func (fw *forwarder) block(blk ir.Block, known map[ir.LocalHandle]ir.ExpressionHandle) {
	for _, st := range blk {
		switch s := st.Kind.(type) {
		case ir.StmtEmit:
			for h := s.Range.Start; h < s.Range.End; h++ {
				ld, ok := fw.f.Expressions[h].Kind.(ir.ExprLoadLocal)
				if !ok {
					continue
				}
				// Users of h follow h, so only values defined before h may replace it.
				if v, ok := known[ld.Local]; ok && v < h {
					fw.repl[h] = v
				}
			}
		case ir.StmtStoreLocal:
			lv := fw.f.LocalVars[s.Local]
			val := fw.f.Expressions[s.Value]
			full := s.WriteMask == 0 || s.WriteMask == uint8(1)<<lv.NumComponents-1
			if full && val.NumComponents == lv.NumComponents && val.BitSize == lv.BitSize {
				known[s.Local] = s.Value
			} else {
				delete(known, s.Local)
			}
		case ir.StmtIf:
			fw.block(s.Accept, maps.Clone(known))
			fw.block(s.Reject, maps.Clone(known))
			for l := range storedLocals(ir.Block{st}) {
				delete(known, l)
			}
		case ir.StmtLoop:
			stored := storedLocals(s.Body)
			inner := maps.Clone(known)
			for l := range stored {
				delete(inner, l)
				delete(known, l)
			}
			fw.block(s.Body, inner)
		}
	}
}
