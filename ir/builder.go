package ir

import (
	"fmt"
	"math"
	"slices"
)

// Builder appends expressions and statements to a function.
//
// The builder keeps a stack of open blocks. Expressions are emitted into the
// innermost open block as they are created; consecutive expressions share one
// StmtEmit.
type Builder struct {
	Func   *Function
	frames []*frame
}

type frameKind uint8

const (
	frameRoot frameKind = iota
	frameIf
	frameLoop
	frameCapture
)

type frame struct {
	kind   frameKind
	dst    *Block
	block  Block
	cond   ExpressionHandle
	accept Block
	inElse bool
}

func (fr *frame) cur() *Block {
	if fr.dst != nil {
		return fr.dst
	}
	return &fr.block
}

// NewBuilder returns a builder appending to the end of f.Body.
func NewBuilder(f *Function) *Builder {
	return &Builder{
		Func:   f,
		frames: []*frame{{kind: frameRoot, dst: &f.Body}},
	}
}

func (b *Builder) top() *frame {
	return b.frames[len(b.frames)-1]
}

// Depth returns the number of open control-flow frames above the root.
func (b *Builder) Depth() int {
	return len(b.frames) - 1
}

// Append appends statements to the current block.
func (b *Builder) Append(stmts ...Statement) {
	blk := b.top().cur()
	*blk = append(*blk, stmts...)
}

func (b *Builder) stmt(kind StatementKind) {
	b.Append(Statement{Kind: kind})
}

// Add appends an expression to the arena and emits it into the current block.
func (b *Builder) Add(kind ExpressionKind, numComponents, bitSize uint8) ExpressionHandle {
	if numComponents == 0 || numComponents > 4 {
		panic(fmt.Sprintf("ir: invalid component count %d", numComponents))
	}
	h := ExpressionHandle(len(b.Func.Expressions))
	b.Func.Expressions = append(b.Func.Expressions, Expression{Kind: kind, NumComponents: numComponents, BitSize: bitSize})

	blk := b.top().cur()
	if n := len(*blk); n > 0 {
		if emit, ok := (*blk)[n-1].Kind.(StmtEmit); ok && emit.Range.End == h {
			emit.Range.End = h + 1
			(*blk)[n-1].Kind = emit
			return h
		}
	}
	*blk = append(*blk, Statement{Kind: StmtEmit{Range: Range{Start: h, End: h + 1}}})
	return h
}

// Expr returns the expression for a handle.
func (b *Builder) Expr(h ExpressionHandle) *Expression {
	return b.Func.Expr(h)
}

// Components returns the component count of h.
func (b *Builder) Components(h ExpressionHandle) uint8 {
	return b.Func.Expressions[h].NumComponents
}

// Bits returns the bit size of h.
func (b *Builder) Bits(h ExpressionHandle) uint8 {
	return b.Func.Expressions[h].BitSize
}

// ---------------------------------------------------------------------------
// Control flow
// ---------------------------------------------------------------------------

// PushIf opens the accept block of a new if statement.
func (b *Builder) PushIf(cond ExpressionHandle) {
	b.frames = append(b.frames, &frame{kind: frameIf, cond: cond})
}

// PushElse switches the innermost if statement to its reject block.
func (b *Builder) PushElse() {
	fr := b.top()
	if fr.kind != frameIf || fr.inElse {
		panic("ir: PushElse without matching PushIf")
	}
	fr.accept = fr.block
	fr.block = nil
	fr.inElse = true
}

// PopIf closes the innermost if statement and appends it to the enclosing block.
func (b *Builder) PopIf() {
	fr := b.top()
	if fr.kind != frameIf {
		panic("ir: PopIf without matching PushIf")
	}
	b.frames = b.frames[:len(b.frames)-1]
	st := StmtIf{Condition: fr.cond}
	if fr.inElse {
		st.Accept, st.Reject = fr.accept, fr.block
	} else {
		st.Accept = fr.block
	}
	b.stmt(st)
}

// If builds an if statement whose accept block is filled by then.
func (b *Builder) If(cond ExpressionHandle, then func()) {
	b.PushIf(cond)
	then()
	b.PopIf()
}

// IfElse builds an if statement with both blocks.
func (b *Builder) IfElse(cond ExpressionHandle, then, otherwise func()) {
	b.PushIf(cond)
	then()
	b.PushElse()
	otherwise()
	b.PopIf()
}

// PushLoop opens the body of a new loop.
func (b *Builder) PushLoop() {
	b.frames = append(b.frames, &frame{kind: frameLoop})
}

// PopLoop closes the innermost loop.
func (b *Builder) PopLoop() {
	fr := b.top()
	if fr.kind != frameLoop {
		panic("ir: PopLoop without matching PushLoop")
	}
	b.frames = b.frames[:len(b.frames)-1]
	b.stmt(StmtLoop{Body: fr.block})
}

// Loop builds a loop whose body is filled by body.
func (b *Builder) Loop(body func()) {
	b.PushLoop()
	body()
	b.PopLoop()
}

// Break exits the innermost loop.
func (b *Builder) Break() {
	b.stmt(StmtBreak{})
}

// Continue jumps to the next iteration of the innermost loop.
func (b *Builder) Continue() {
	b.stmt(StmtContinue{})
}

// BreakIf exits the innermost loop when cond holds.
func (b *Builder) BreakIf(cond ExpressionHandle) {
	b.stmt(StmtIf{Condition: cond, Accept: Block{{Kind: StmtBreak{}}}})
}

// Capture runs fn with a fresh detached block as the current block and
// returns that block. Expressions created inside are still added to the
// function arena.
func (b *Builder) Capture(fn func()) Block {
	fr := &frame{kind: frameCapture}
	b.frames = append(b.frames, fr)
	fn()
	if b.top() != fr {
		panic("ir: unbalanced control flow inside Capture")
	}
	b.frames = b.frames[:len(b.frames)-1]
	return fr.block
}

// ---------------------------------------------------------------------------
// Constants
// ---------------------------------------------------------------------------

// Imm returns a scalar constant of the given bit size.
func (b *Builder) Imm(v uint64, bitSize uint8) ExpressionHandle {
	return b.Add(ExprConst{Values: [4]uint64{truncBits(v, bitSize)}}, 1, bitSize)
}

// Const32 returns a 32-bit scalar constant.
func (b *Builder) Const32(v uint32) ExpressionHandle {
	return b.Imm(uint64(v), 32)
}

// Int returns a 32-bit constant holding a signed value.
func (b *Builder) Int(v int32) ExpressionHandle {
	return b.Imm(uint64(uint32(v)), 32)
}

// Float returns a 32-bit float constant.
func (b *Builder) Float(v float32) ExpressionHandle {
	return b.Imm(uint64(math.Float32bits(v)), 32)
}

// Bool returns a 1-bit constant.
func (b *Builder) Bool(v bool) ExpressionHandle {
	if v {
		return b.Imm(1, 1)
	}
	return b.Imm(0, 1)
}

// ConstVec returns a vector constant.
func (b *Builder) ConstVec(bitSize uint8, values ...uint64) ExpressionHandle {
	var c ExprConst
	for i, v := range values {
		c.Values[i] = truncBits(v, bitSize)
	}
	return b.Add(c, uint8(len(values)), bitSize)
}

// FloatVec returns a vector of 32-bit float constants.
func (b *Builder) FloatVec(values ...float32) ExpressionHandle {
	raw := make([]uint64, len(values))
	for i, v := range values {
		raw[i] = uint64(math.Float32bits(v))
	}
	return b.ConstVec(32, raw...)
}

// Undef returns an undefined value.
func (b *Builder) Undef(numComponents, bitSize uint8) ExpressionHandle {
	return b.Add(ExprUndef{}, numComponents, bitSize)
}

// ---------------------------------------------------------------------------
// ALU
// ---------------------------------------------------------------------------

// ALU builds an ALU expression and infers its shape from the operands.
func (b *Builder) ALU(op ALUOp, args ...ExpressionHandle) ExpressionHandle {
	if len(args) != op.NumArgs() {
		panic(fmt.Sprintf("ir: %s takes %d operands, got %d", op, op.NumArgs(), len(args)))
	}
	var nc uint8 = 1
	for _, a := range args {
		if c := b.Components(a); c > nc {
			nc = c
		}
	}
	return b.Add(ExprALU{Op: op, Args: slices.Clone(args)}, nc, b.resultBits(op, args))
}

// Conv builds a conversion to an explicit bit size.
func (b *Builder) Conv(op ALUOp, bitSize uint8, x ExpressionHandle) ExpressionHandle {
	return b.Add(ExprALU{Op: op, Args: []ExpressionHandle{x}}, b.Components(x), bitSize)
}

func (b *Builder) resultBits(op ALUOp, args []ExpressionHandle) uint8 {
	switch {
	case op.IsComparison():
		return 1
	case op == OpBCsel:
		return b.Bits(args[1])
	}
	switch op {
	case OpB2I, OpBitCount, OpF2I, OpF2U, OpI2F, OpU2F, OpF16F2,
		OpUnpack64X, OpUnpack64Y, OpPack32Split16, OpUDot4x8, OpSadU8x4:
		return 32
	case OpF2F16, OpUnpack32Lo16, OpUnpack32Hi16:
		return 16
	case OpPack64Split:
		return 64
	}
	return b.Bits(args[0])
}

func (b *Builder) IAdd(x, y ExpressionHandle) ExpressionHandle { return b.ALU(OpIAdd, x, y) }
func (b *Builder) ISub(x, y ExpressionHandle) ExpressionHandle { return b.ALU(OpISub, x, y) }
func (b *Builder) IMul(x, y ExpressionHandle) ExpressionHandle { return b.ALU(OpIMul, x, y) }
func (b *Builder) INeg(x ExpressionHandle) ExpressionHandle    { return b.ALU(OpINeg, x) }
func (b *Builder) UDiv(x, y ExpressionHandle) ExpressionHandle { return b.ALU(OpUDiv, x, y) }
func (b *Builder) UMin(x, y ExpressionHandle) ExpressionHandle { return b.ALU(OpUMin, x, y) }
func (b *Builder) UMax(x, y ExpressionHandle) ExpressionHandle { return b.ALU(OpUMax, x, y) }
func (b *Builder) IMin(x, y ExpressionHandle) ExpressionHandle { return b.ALU(OpIMin, x, y) }
func (b *Builder) IMax(x, y ExpressionHandle) ExpressionHandle { return b.ALU(OpIMax, x, y) }
func (b *Builder) IAnd(x, y ExpressionHandle) ExpressionHandle { return b.ALU(OpIAnd, x, y) }
func (b *Builder) IOr(x, y ExpressionHandle) ExpressionHandle  { return b.ALU(OpIOr, x, y) }
func (b *Builder) IXor(x, y ExpressionHandle) ExpressionHandle { return b.ALU(OpIXor, x, y) }
func (b *Builder) INot(x ExpressionHandle) ExpressionHandle    { return b.ALU(OpINot, x) }
func (b *Builder) IShl(x, y ExpressionHandle) ExpressionHandle { return b.ALU(OpIShl, x, y) }
func (b *Builder) UShr(x, y ExpressionHandle) ExpressionHandle { return b.ALU(OpUShr, x, y) }
func (b *Builder) IShr(x, y ExpressionHandle) ExpressionHandle { return b.ALU(OpIShr, x, y) }
func (b *Builder) IEq(x, y ExpressionHandle) ExpressionHandle  { return b.ALU(OpIEq, x, y) }
func (b *Builder) INe(x, y ExpressionHandle) ExpressionHandle  { return b.ALU(OpINe, x, y) }
func (b *Builder) ULt(x, y ExpressionHandle) ExpressionHandle  { return b.ALU(OpULt, x, y) }
func (b *Builder) UGe(x, y ExpressionHandle) ExpressionHandle  { return b.ALU(OpUGe, x, y) }
func (b *Builder) ILt(x, y ExpressionHandle) ExpressionHandle  { return b.ALU(OpILt, x, y) }
func (b *Builder) IGe(x, y ExpressionHandle) ExpressionHandle  { return b.ALU(OpIGe, x, y) }
func (b *Builder) FAdd(x, y ExpressionHandle) ExpressionHandle { return b.ALU(OpFAdd, x, y) }
func (b *Builder) FSub(x, y ExpressionHandle) ExpressionHandle { return b.ALU(OpFSub, x, y) }
func (b *Builder) FMul(x, y ExpressionHandle) ExpressionHandle { return b.ALU(OpFMul, x, y) }
func (b *Builder) FDiv(x, y ExpressionHandle) ExpressionHandle { return b.ALU(OpFDiv, x, y) }
func (b *Builder) FNeg(x ExpressionHandle) ExpressionHandle    { return b.ALU(OpFNeg, x) }
func (b *Builder) FAbs(x ExpressionHandle) ExpressionHandle    { return b.ALU(OpFAbs, x) }
func (b *Builder) FMin(x, y ExpressionHandle) ExpressionHandle { return b.ALU(OpFMin, x, y) }
func (b *Builder) FMax(x, y ExpressionHandle) ExpressionHandle { return b.ALU(OpFMax, x, y) }
func (b *Builder) FLt(x, y ExpressionHandle) ExpressionHandle  { return b.ALU(OpFLt, x, y) }
func (b *Builder) FGe(x, y ExpressionHandle) ExpressionHandle  { return b.ALU(OpFGe, x, y) }
func (b *Builder) FEq(x, y ExpressionHandle) ExpressionHandle  { return b.ALU(OpFEq, x, y) }
func (b *Builder) FNe(x, y ExpressionHandle) ExpressionHandle  { return b.ALU(OpFNe, x, y) }

// FFma returns x*y+z.
func (b *Builder) FFma(x, y, z ExpressionHandle) ExpressionHandle { return b.ALU(OpFFma, x, y, z) }

// BCsel selects accept where cond is true and reject elsewhere.
func (b *Builder) BCsel(cond, accept, reject ExpressionHandle) ExpressionHandle {
	return b.ALU(OpBCsel, cond, accept, reject)
}

// B2I converts a 1-bit value to 0 or 1 of the given width.
func (b *Builder) B2I(x ExpressionHandle, bitSize uint8) ExpressionHandle {
	return b.Conv(OpB2I, bitSize, x)
}

// U2U zero-extends or truncates x.
func (b *Builder) U2U(x ExpressionHandle, bitSize uint8) ExpressionHandle {
	if b.Bits(x) == bitSize {
		return x
	}
	return b.Conv(OpU2U, bitSize, x)
}

// BitCount returns the population count of x as a 32-bit value.
func (b *Builder) BitCount(x ExpressionHandle) ExpressionHandle { return b.ALU(OpBitCount, x) }

// UBfe extracts bits [offset, offset+bits) of x.
func (b *Builder) UBfe(x, offset, bits ExpressionHandle) ExpressionHandle {
	return b.ALU(OpUBfe, x, offset, bits)
}

// UBfeImm extracts bits [offset, offset+bits) of x with constant position.
func (b *Builder) UBfeImm(x ExpressionHandle, offset, bits uint32) ExpressionHandle {
	return b.UBfe(x, b.Const32(offset), b.Const32(bits))
}

// IAddImm adds a constant.
func (b *Builder) IAddImm(x ExpressionHandle, v uint64) ExpressionHandle {
	if v == 0 {
		return x
	}
	return b.IAdd(x, b.Imm(v, b.Bits(x)))
}

// IMulImm multiplies by a constant.
func (b *Builder) IMulImm(x ExpressionHandle, v uint64) ExpressionHandle {
	if v == 1 {
		return x
	}
	return b.IMul(x, b.Imm(v, b.Bits(x)))
}

// IAndImm masks with a constant.
func (b *Builder) IAndImm(x ExpressionHandle, v uint64) ExpressionHandle {
	return b.IAnd(x, b.Imm(v, b.Bits(x)))
}

// IShlImm shifts left by a constant.
func (b *Builder) IShlImm(x ExpressionHandle, n uint32) ExpressionHandle {
	if n == 0 {
		return x
	}
	return b.IShl(x, b.Const32(n))
}

// UShrImm shifts right by a constant.
func (b *Builder) UShrImm(x ExpressionHandle, n uint32) ExpressionHandle {
	if n == 0 {
		return x
	}
	return b.UShr(x, b.Const32(n))
}

// IEqImm compares with a constant.
func (b *Builder) IEqImm(x ExpressionHandle, v uint64) ExpressionHandle {
	return b.IEq(x, b.Imm(v, b.Bits(x)))
}

// INeImm compares with a constant.
func (b *Builder) INeImm(x ExpressionHandle, v uint64) ExpressionHandle {
	return b.INe(x, b.Imm(v, b.Bits(x)))
}

// ULtImm compares with a constant.
func (b *Builder) ULtImm(x ExpressionHandle, v uint64) ExpressionHandle {
	return b.ULt(x, b.Imm(v, b.Bits(x)))
}

// Pack64 packs two 32-bit halves into a 64-bit value.
func (b *Builder) Pack64(lo, hi ExpressionHandle) ExpressionHandle {
	return b.ALU(OpPack64Split, lo, hi)
}

// Unpack64 splits a 64-bit value into its 32-bit halves.
func (b *Builder) Unpack64(x ExpressionHandle) (lo, hi ExpressionHandle) {
	return b.ALU(OpUnpack64X, x), b.ALU(OpUnpack64Y, x)
}

// Pack32Split16 packs two 16-bit halves into a 32-bit value.
func (b *Builder) Pack32Split16(lo, hi ExpressionHandle) ExpressionHandle {
	return b.ALU(OpPack32Split16, lo, hi)
}

// ---------------------------------------------------------------------------
// Vectors and locals
// ---------------------------------------------------------------------------

// Vec composes scalars into a vector. A single component is returned as is.
// The operands are copied, so callers may reuse comps.
func (b *Builder) Vec(comps ...ExpressionHandle) ExpressionHandle {
	if len(comps) == 1 {
		return comps[0]
	}
	for _, c := range comps {
		if b.Components(c) != 1 {
			panic("ir: Vec operands must be scalars")
		}
	}
	return b.Add(ExprVec{Components: slices.Clone(comps)}, uint8(len(comps)), b.Bits(comps[0]))
}

// Channel extracts component c of v. Scalars are returned as is.
func (b *Builder) Channel(v ExpressionHandle, c int) ExpressionHandle {
	if b.Components(v) == 1 && c == 0 {
		return v
	}
	if c >= int(b.Components(v)) {
		panic(fmt.Sprintf("ir: channel %d of %d-component value", c, b.Components(v)))
	}
	return b.Add(ExprChannel{Vector: v, Component: uint8(c)}, 1, b.Bits(v))
}

// Channels splits v into scalars.
func (b *Builder) Channels(v ExpressionHandle) []ExpressionHandle {
	n := int(b.Components(v))
	out := make([]ExpressionHandle, n)
	for i := range out {
		out[i] = b.Channel(v, i)
	}
	return out
}

// Local adds a new local variable.
func (b *Builder) Local(name string, numComponents, bitSize uint8) LocalHandle {
	return b.Func.AddLocal(name, numComponents, bitSize)
}

// LoadLocal reads a local variable.
func (b *Builder) LoadLocal(l LocalHandle) ExpressionHandle {
	lv := b.Func.LocalVars[l]
	return b.Add(ExprLoadLocal{Local: l}, lv.NumComponents, lv.BitSize)
}

// StoreLocal writes every component of a local variable.
func (b *Builder) StoreLocal(l LocalHandle, v ExpressionHandle) {
	b.stmt(StmtStoreLocal{Local: l, Value: v})
}

// StoreLocalMask writes the components of a local selected by mask.
func (b *Builder) StoreLocalMask(l LocalHandle, v ExpressionHandle, mask uint8) {
	b.stmt(StmtStoreLocal{Local: l, Value: v, WriteMask: mask})
}

// ---------------------------------------------------------------------------
// Intrinsics
// ---------------------------------------------------------------------------

// Intrinsic builds a value-producing intrinsic.
func (b *Builder) Intrinsic(op Intrinsic, numComponents, bitSize uint8, idx Indices, args ...ExpressionHandle) ExpressionHandle {
	info := op.Info()
	if !info.HasResult {
		panic(fmt.Sprintf("ir: %s produces no value", op))
	}
	if len(args) != info.NumArgs {
		panic(fmt.Sprintf("ir: %s takes %d operands, got %d", op, info.NumArgs, len(args)))
	}
	return b.Add(ExprIntrinsic{Op: op, Args: slices.Clone(args), Index: idx}, numComponents, bitSize)
}

// Call builds an intrinsic statement.
func (b *Builder) Call(op Intrinsic, idx Indices, args ...ExpressionHandle) {
	info := op.Info()
	if info.HasResult {
		panic(fmt.Sprintf("ir: %s produces a value", op))
	}
	if len(args) != info.NumArgs {
		panic(fmt.Sprintf("ir: %s takes %d operands, got %d", op, info.NumArgs, len(args)))
	}
	b.stmt(StmtIntrinsic{Op: op, Args: slices.Clone(args), Index: idx})
}

// LoadArg reads a preloaded shader argument.
func (b *Builder) LoadArg(arg ShaderArg) ExpressionHandle {
	var bits uint8 = 32
	if arg.IsBool() {
		bits = 1
	}
	return b.Intrinsic(IntrLoadArg, 1, bits, Indices{Arg: arg})
}

// LocalInvocationIndex returns the flattened invocation index in the workgroup.
func (b *Builder) LocalInvocationIndex() ExpressionHandle {
	return b.Intrinsic(IntrLoadLocalInvocationIndex, 1, 32, Indices{})
}

// SubgroupID returns the wave index in the workgroup.
func (b *Builder) SubgroupID() ExpressionHandle {
	return b.Intrinsic(IntrLoadSubgroupID, 1, 32, Indices{})
}

// NumSubgroups returns the number of waves in the workgroup.
func (b *Builder) NumSubgroups() ExpressionHandle {
	return b.Intrinsic(IntrLoadNumSubgroups, 1, 32, Indices{})
}

// SubgroupInvocation returns the lane index in the wave.
func (b *Builder) SubgroupInvocation() ExpressionHandle {
	return b.Intrinsic(IntrLoadSubgroupInvocation, 1, 32, Indices{})
}

// Ballot returns a 64-bit mask of active lanes where pred holds.
func (b *Builder) Ballot(pred ExpressionHandle) ExpressionHandle {
	return b.Intrinsic(IntrBallot, 1, 64, Indices{}, pred)
}

// InverseBallot returns whether the current lane's bit is set in mask.
func (b *Builder) InverseBallot(mask ExpressionHandle) ExpressionHandle {
	return b.Intrinsic(IntrInverseBallot, 1, 1, Indices{}, mask)
}

// ReadInvocation reads v from the given lane.
func (b *Builder) ReadInvocation(v, lane ExpressionHandle) ExpressionHandle {
	return b.Intrinsic(IntrReadInvocation, b.Components(v), b.Bits(v), Indices{}, v, lane)
}

// ReadFirstInvocation reads v from the first active lane.
func (b *Builder) ReadFirstInvocation(v ExpressionHandle) ExpressionHandle {
	return b.Intrinsic(IntrReadFirstInvocation, b.Components(v), b.Bits(v), Indices{}, v)
}

// Elect is true in exactly one active lane.
func (b *Builder) Elect() ExpressionHandle {
	return b.Intrinsic(IntrElect, 1, 1, Indices{})
}

// VoteAny is true if pred holds in any active lane.
func (b *Builder) VoteAny(pred ExpressionHandle) ExpressionHandle {
	return b.Intrinsic(IntrVoteAny, 1, 1, Indices{}, pred)
}

// Mbcnt returns base plus the number of set bits of mask below the current lane.
func (b *Builder) Mbcnt(mask, base ExpressionHandle) ExpressionHandle {
	return b.Intrinsic(IntrMbcnt, 1, 32, Indices{}, mask, base)
}

// LanePermute16 broadcasts lane 0 of each 16-lane row to the whole row.
func (b *Builder) LanePermute16(v ExpressionHandle) ExpressionHandle {
	return b.Intrinsic(IntrLanePermute16, b.Components(v), b.Bits(v), Indices{}, v)
}

// LoadShared reads workgroup-shared memory at addr+base.
func (b *Builder) LoadShared(numComponents, bitSize uint8, addr ExpressionHandle, base uint32) ExpressionHandle {
	return b.Intrinsic(IntrLoadShared, numComponents, bitSize, Indices{Base: base}, addr)
}

// StoreShared writes v to workgroup-shared memory at addr+base.
func (b *Builder) StoreShared(v, addr ExpressionHandle, base uint32) {
	b.Call(IntrStoreShared, Indices{Base: base, WriteMask: fullMask(b.Components(v))}, v, addr)
}

// SharedAtomicAdd adds v to shared memory and returns the old value.
func (b *Builder) SharedAtomicAdd(addr, v ExpressionHandle, base uint32) ExpressionHandle {
	return b.Intrinsic(IntrSharedAtomicAdd, 1, b.Bits(v), Indices{Base: base}, addr, v)
}

// StoreBuffer writes v to a ring at voffset+soffset+base. When vindex is
// used the store is swizzled.
func (b *Builder) StoreBuffer(ring Ring, v, voffset, soffset, vindex ExpressionHandle, base uint32) {
	b.Call(IntrStoreBuffer, Indices{Ring: ring, Base: base, WriteMask: fullMask(b.Components(v))}, v, voffset, soffset, vindex)
}

// LoadBuffer reads a ring at voffset+soffset+base.
func (b *Builder) LoadBuffer(ring Ring, numComponents, bitSize uint8, voffset, soffset ExpressionHandle, base uint32) ExpressionHandle {
	return b.Intrinsic(IntrLoadBuffer, numComponents, bitSize, Indices{Ring: ring, Base: base}, voffset, soffset)
}

// Export emits a hardware export of v. Components not in mask are ignored.
func (b *Builder) Export(v ExpressionHandle, target ExportTarget, mask uint8, flags ExportFlags) {
	b.Call(IntrExport, Indices{Target: target, WriteMask: mask, Flags: flags}, v)
}

// WorkgroupBarrier synchronizes the workgroup and orders shared memory.
func (b *Builder) WorkgroupBarrier() {
	b.stmt(StmtBarrier{Execution: ScopeWorkgroup, Memory: ScopeWorkgroup, Semantics: SemanticsAcqRel, Modes: ModeShared})
}

// Barrier appends an arbitrary barrier.
func (b *Builder) Barrier(exec, mem Scope, sem MemorySemantics, modes MemoryModes) {
	b.stmt(StmtBarrier{Execution: exec, Memory: mem, Semantics: sem, Modes: modes})
}

func fullMask(nc uint8) uint8 {
	return uint8(1)<<nc - 1
}

// truncBits clears bits above bitSize.
func truncBits(v uint64, bitSize uint8) uint64 {
	if bitSize >= 64 {
		return v
	}
	return v & (uint64(1)<<bitSize - 1)
}
