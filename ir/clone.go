package ir

import "fmt"

// Extract removes the body of f and returns it.
func Extract(f *Function) Block {
	body := f.Body
	f.Body = nil
	return body
}

// Cloner duplicates blocks inside one function.
//
// Expressions emitted by the cloned block get fresh handles. Uses of values
// defined outside the block keep their handles unless Map overrides them.
// Locals are shared with the original unless Locals overrides them.
type Cloner struct {
	Func   *Function
	Map    map[ExpressionHandle]ExpressionHandle
	Locals map[LocalHandle]LocalHandle
}

// NewCloner returns a cloner for f.
func NewCloner(f *Function) *Cloner {
	return &Cloner{
		Func:   f,
		Map:    make(map[ExpressionHandle]ExpressionHandle),
		Locals: make(map[LocalHandle]LocalHandle),
	}
}

// Clone returns a copy of blk.
func (c *Cloner) Clone(blk Block) Block {
	out := make(Block, 0, len(blk))
	for _, st := range blk {
		out = append(out, Statement{Kind: c.cloneStmt(st.Kind)})
	}
	return out
}

func (c *Cloner) cloneStmt(kind StatementKind) StatementKind {
	switch s := kind.(type) {
	case StmtEmit:
		start := ExpressionHandle(len(c.Func.Expressions))
		for h := s.Range.Start; h < s.Range.End; h++ {
			e := c.Func.Expressions[h]
			e.Kind = c.cloneExpr(e.Kind)
			c.Map[h] = ExpressionHandle(len(c.Func.Expressions))
			c.Func.Expressions = append(c.Func.Expressions, e)
		}
		return StmtEmit{Range: Range{Start: start, End: ExpressionHandle(len(c.Func.Expressions))}}
	case StmtIf:
		return StmtIf{Condition: c.use(s.Condition), Accept: c.Clone(s.Accept), Reject: c.Clone(s.Reject)}
	case StmtLoop:
		return StmtLoop{Body: c.Clone(s.Body)}
	case StmtBreak, StmtContinue, StmtBarrier:
		return s
	case StmtStoreLocal:
		return StmtStoreLocal{Local: c.local(s.Local), Value: c.use(s.Value), WriteMask: s.WriteMask}
	case StmtIntrinsic:
		return StmtIntrinsic{Op: s.Op, Args: c.uses(s.Args), Index: s.Index}
	default:
		panic(fmt.Sprintf("ir: cannot clone statement %T", kind))
	}
}

func (c *Cloner) cloneExpr(kind ExpressionKind) ExpressionKind {
	switch e := kind.(type) {
	case ExprConst, ExprUndef:
		return e
	case ExprALU:
		return ExprALU{Op: e.Op, Args: c.uses(e.Args)}
	case ExprVec:
		return ExprVec{Components: c.uses(e.Components)}
	case ExprChannel:
		return ExprChannel{Vector: c.use(e.Vector), Component: e.Component}
	case ExprLoadLocal:
		return ExprLoadLocal{Local: c.local(e.Local)}
	case ExprIntrinsic:
		return ExprIntrinsic{Op: e.Op, Args: c.uses(e.Args), Index: e.Index}
	default:
		panic(fmt.Sprintf("ir: cannot clone expression %T", kind))
	}
}

func (c *Cloner) use(h ExpressionHandle) ExpressionHandle {
	if n, ok := c.Map[h]; ok {
		return n
	}
	return h
}

func (c *Cloner) uses(hs []ExpressionHandle) []ExpressionHandle {
	if hs == nil {
		return nil
	}
	out := make([]ExpressionHandle, len(hs))
	for i, h := range hs {
		out[i] = c.use(h)
	}
	return out
}

func (c *Cloner) local(l LocalHandle) LocalHandle {
	if n, ok := c.Locals[l]; ok {
		return n
	}
	return l
}

// Clone returns a copy of blk with fresh expression handles.
func Clone(f *Function, blk Block) Block {
	return NewCloner(f).Clone(blk)
}

// MapBlock rewrites blk bottom-up. fn is called for every statement after
// its nested blocks were rewritten; when it returns true the statement is
// replaced by the returned block.
func MapBlock(blk Block, fn func(st Statement) (Block, bool)) Block {
	out := make(Block, 0, len(blk))
	for _, st := range blk {
		switch s := st.Kind.(type) {
		case StmtIf:
			s.Accept = MapBlock(s.Accept, fn)
			s.Reject = MapBlock(s.Reject, fn)
			st.Kind = s
		case StmtLoop:
			s.Body = MapBlock(s.Body, fn)
			st.Kind = s
		}
		if repl, ok := fn(st); ok {
			out = append(out, repl...)
			continue
		}
		out = append(out, st)
	}
	return out
}

// Walk calls fn for every statement of blk in program order, descending into
// nested blocks before visiting the statements that follow.
func Walk(blk Block, fn func(st Statement)) {
	for _, st := range blk {
		fn(st)
		switch s := st.Kind.(type) {
		case StmtIf:
			Walk(s.Accept, fn)
			Walk(s.Reject, fn)
		case StmtLoop:
			Walk(s.Body, fn)
		}
	}
}

// WalkExpressions calls fn for every expression emitted in blk.
func WalkExpressions(f *Function, blk Block, fn func(h ExpressionHandle, e *Expression)) {
	Walk(blk, func(st Statement) {
		if emit, ok := st.Kind.(StmtEmit); ok {
			for h := emit.Range.Start; h < emit.Range.End; h++ {
				fn(h, &f.Expressions[h])
			}
		}
	})
}

// Operands returns the expressions an expression reads.
func Operands(kind ExpressionKind) []ExpressionHandle {
	switch e := kind.(type) {
	case ExprALU:
		return e.Args
	case ExprVec:
		return e.Components
	case ExprChannel:
		return []ExpressionHandle{e.Vector}
	case ExprIntrinsic:
		return e.Args
	}
	return nil
}

// StatementOperands returns the expressions a statement reads directly.
func StatementOperands(kind StatementKind) []ExpressionHandle {
	switch s := kind.(type) {
	case StmtIf:
		return []ExpressionHandle{s.Condition}
	case StmtStoreLocal:
		return []ExpressionHandle{s.Value}
	case StmtIntrinsic:
		return s.Args
	}
	return nil
}
