package ir

import "testing"

func TestClone_FreshHandles(t *testing.T) {
	sh := NewShader("vs", StageVertex)
	b := NewBuilder(sh.Func)
	outer := b.Const32(5)
	body := b.Capture(func() {
		x := b.IAddImm(outer, 1)
		b.If(b.IEqImm(x, 6), func() {
			b.Export(b.Vec(x, x, x, x), ExportPos(0), 0xf, ExportDone)
		})
	})
	n := len(sh.Func.Expressions)

	c := NewCloner(sh.Func)
	copied := c.Clone(body)
	b.Append(copied...)

	if len(sh.Func.Expressions) != 2*n-1 {
		t.Errorf("expressions after clone = %d, want %d", len(sh.Func.Expressions), 2*n-1)
	}
	if _, ok := c.Map[outer]; ok {
		t.Error("value defined outside the block was remapped")
	}
	add := sh.Func.Expressions[c.Map[outer+2]].Kind.(ExprALU)
	if add.Args[0] != outer {
		t.Errorf("cloned add reads %%%d, want outer %%%d", add.Args[0], outer)
	}
	expectNoValidationErrors(t, sh)
}

func TestMapBlock_ReplacesNested(t *testing.T) {
	sh := NewShader("gs", StageGeometry)
	b := NewBuilder(sh.Func)
	b.If(b.Bool(true), func() {
		b.Call(IntrEmitVertex, Indices{})
	})
	b.Call(IntrEmitVertex, Indices{})

	count := 0
	sh.Func.Body = MapBlock(sh.Func.Body, func(st Statement) (Block, bool) {
		if s, ok := st.Kind.(StmtIntrinsic); ok && s.Op == IntrEmitVertex {
			count++
			return b.Capture(func() { b.WorkgroupBarrier() }), true
		}
		return nil, false
	})
	if count != 2 {
		t.Errorf("replaced %d statements, want 2", count)
	}
	Walk(sh.Func.Body, func(st Statement) {
		if s, ok := st.Kind.(StmtIntrinsic); ok && s.Op == IntrEmitVertex {
			t.Error("emit_vertex survived MapBlock")
		}
	})
}

func TestExtract(t *testing.T) {
	sh := NewShader("vs", StageVertex)
	b := NewBuilder(sh.Func)
	b.Const32(1)
	body := Extract(sh.Func)
	if len(body) != 1 || len(sh.Func.Body) != 0 {
		t.Errorf("Extract left body=%d returned=%d", len(sh.Func.Body), len(body))
	}
}
