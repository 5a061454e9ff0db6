package ir

import (
	"fmt"
	"io"
	"math"
	"strings"
)

// Print writes a textual dump of the shader to w.
func Print(w io.Writer, sh *Shader) error {
	p := &printer{f: sh.Func}
	fmt.Fprintf(&p.sb, "shader %s (%s) shared_size=%d outputs=%#x\n", sh.Name, sh.Stage, sh.Info.SharedSize, sh.Info.OutputsWritten)
	for i, lv := range sh.Func.LocalVars {
		fmt.Fprintf(&p.sb, "  local%d %s: %s\n", i, lv.Name, shape(lv.NumComponents, lv.BitSize))
	}
	p.block(sh.Func.Body, 1)
	_, err := io.WriteString(w, p.sb.String())
	return err
}

// String returns the textual dump of the shader.
func (sh *Shader) String() string {
	var sb strings.Builder
	_ = Print(&sb, sh)
	return sb.String()
}

type printer struct {
	f  *Function
	sb strings.Builder
}

func shape(nc, bits uint8) string {
	if nc == 1 {
		return fmt.Sprintf("u%d", bits)
	}
	return fmt.Sprintf("u%dx%d", bits, nc)
}

func (p *printer) indent(depth int) {
	p.sb.WriteString(strings.Repeat("  ", depth))
}

func (p *printer) block(blk Block, depth int) {
	for _, st := range blk {
		switch s := st.Kind.(type) {
		case StmtEmit:
			for h := s.Range.Start; h < s.Range.End; h++ {
				e := p.f.Expressions[h]
				p.indent(depth)
				fmt.Fprintf(&p.sb, "%%%d: %s = %s\n", h, shape(e.NumComponents, e.BitSize), p.expr(e))
			}
		case StmtIf:
			p.indent(depth)
			fmt.Fprintf(&p.sb, "if %%%d {\n", s.Condition)
			p.block(s.Accept, depth+1)
			if len(s.Reject) > 0 {
				p.indent(depth)
				p.sb.WriteString("} else {\n")
				p.block(s.Reject, depth+1)
			}
			p.indent(depth)
			p.sb.WriteString("}\n")
		case StmtLoop:
			p.indent(depth)
			p.sb.WriteString("loop {\n")
			p.block(s.Body, depth+1)
			p.indent(depth)
			p.sb.WriteString("}\n")
		case StmtBreak:
			p.indent(depth)
			p.sb.WriteString("break\n")
		case StmtContinue:
			p.indent(depth)
			p.sb.WriteString("continue\n")
		case StmtStoreLocal:
			p.indent(depth)
			fmt.Fprintf(&p.sb, "local%d", s.Local)
			if s.WriteMask != 0 {
				fmt.Fprintf(&p.sb, ".%s", maskString(s.WriteMask))
			}
			fmt.Fprintf(&p.sb, " = %%%d\n", s.Value)
		case StmtBarrier:
			p.indent(depth)
			fmt.Fprintf(&p.sb, "barrier exec=%s mem=%s sem=%d modes=%d\n", s.Execution, s.Memory, s.Semantics, s.Modes)
		case StmtIntrinsic:
			p.indent(depth)
			fmt.Fprintf(&p.sb, "%s(%s)%s\n", s.Op, args(s.Args), indexString(s.Op, s.Index))
		}
	}
}

func (p *printer) expr(e Expression) string {
	switch k := e.Kind.(type) {
	case ExprConst:
		parts := make([]string, e.NumComponents)
		for i := range parts {
			v := k.Values[i]
			if e.BitSize == 32 {
				f := math.Float32frombits(uint32(v))
				if v>>23 != 0 && !math.IsNaN(float64(f)) && !math.IsInf(float64(f), 0) {
					parts[i] = fmt.Sprintf("%#x /* %g */", v, f)
					continue
				}
			}
			parts[i] = fmt.Sprintf("%#x", v)
		}
		return "const(" + strings.Join(parts, ", ") + ")"
	case ExprUndef:
		return "undef"
	case ExprALU:
		return fmt.Sprintf("%s %s", k.Op, args(k.Args))
	case ExprVec:
		return fmt.Sprintf("vec %s", args(k.Components))
	case ExprChannel:
		return fmt.Sprintf("%%%d.%c", k.Vector, "xyzw"[k.Component])
	case ExprLoadLocal:
		return fmt.Sprintf("load local%d", k.Local)
	case ExprIntrinsic:
		return fmt.Sprintf("%s(%s)%s", k.Op, args(k.Args), indexString(k.Op, k.Index))
	}
	return fmt.Sprintf("%T", e.Kind)
}

func args(hs []ExpressionHandle) string {
	parts := make([]string, len(hs))
	for i, h := range hs {
		parts[i] = fmt.Sprintf("%%%d", h)
	}
	return strings.Join(parts, ", ")
}

func maskString(m uint8) string {
	var sb strings.Builder
	for i := 0; i < 4; i++ {
		if m&(1<<i) != 0 {
			sb.WriteByte("xyzw"[i])
		}
	}
	return sb.String()
}

func indexString(op Intrinsic, idx Indices) string {
	var parts []string
	switch op {
	case IntrLoadArg:
		parts = append(parts, "arg="+idx.Arg.String())
	case IntrExport:
		parts = append(parts, "target="+idx.Target.String(), "mask="+maskString(idx.WriteMask))
		if idx.Flags&ExportDone != 0 {
			parts = append(parts, "done")
		}
		if idx.Flags&ExportValidMask != 0 {
			parts = append(parts, "vm")
		}
		if idx.Flags&ExportPerPrimitive != 0 {
			parts = append(parts, "per_prim")
		}
	case IntrStoreOutput, IntrStorePerVertexOutput, IntrStorePerPrimitiveOutput,
		IntrLoadPerVertexOutput, IntrLoadPerPrimitiveOutput, IntrLoadPerVertexInput:
		slot := idx.Slot.String()
		if idx.Bank16 {
			slot = Slot16(idx.Slot).String()
			if idx.High16 {
				slot += ".hi"
			}
		}
		parts = append(parts, "slot="+slot, fmt.Sprintf("comp=%d", idx.Component))
		if idx.WriteMask != 0 {
			parts = append(parts, "mask="+maskString(idx.WriteMask))
		}
		if idx.Streams != 0 {
			parts = append(parts, fmt.Sprintf("streams=%#x", idx.Streams))
		}
	case IntrStoreBuffer, IntrLoadBuffer:
		parts = append(parts, idx.Ring.String(), fmt.Sprintf("base=%d", idx.Base))
	case IntrLoadShared, IntrStoreShared, IntrSharedAtomicAdd:
		parts = append(parts, fmt.Sprintf("base=%d", idx.Base))
	case IntrEmitVertex, IntrEndPrimitive, IntrSetVertexAndPrimitiveCount,
		IntrAtomicAddXfbPrimCount, IntrAtomicAddGenPrimCount:
		parts = append(parts, fmt.Sprintf("stream=%d", idx.Stream))
	case IntrLoadVertexInput:
		parts = append(parts, fmt.Sprintf("location=%d", idx.Location))
	case IntrLoadUserClipPlane, IntrLoadStreamoutBuffer:
		parts = append(parts, fmt.Sprintf("index=%d", idx.Base))
	}
	if len(parts) == 0 {
		return ""
	}
	return " [" + strings.Join(parts, " ") + "]"
}
