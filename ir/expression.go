package ir

// Expression represents an SSA value.
// An expression is evaluated at the StmtEmit that covers its handle.
type Expression struct {
	Kind          ExpressionKind
	NumComponents uint8
	BitSize       uint8
}

// ExpressionKind represents the different kinds of expressions.
type ExpressionKind interface {
	expressionKind()
}

// ExprConst is an immediate. Values holds the raw bits of each component.
type ExprConst struct {
	Values [4]uint64
}

func (ExprConst) expressionKind() {}

// ExprUndef is a value with unspecified contents.
type ExprUndef struct{}

func (ExprUndef) expressionKind() {}

// ExprALU applies an ALU operation component-wise.
// Scalar arguments are broadcast to the result width.
type ExprALU struct {
	Op   ALUOp
	Args []ExpressionHandle
}

func (ExprALU) expressionKind() {}

// ExprVec composes scalars into a vector.
type ExprVec struct {
	Components []ExpressionHandle
}

func (ExprVec) expressionKind() {}

// ExprChannel extracts one component of a vector.
type ExprChannel struct {
	Vector    ExpressionHandle
	Component uint8
}

func (ExprChannel) expressionKind() {}

// ExprLoadLocal reads a local variable.
type ExprLoadLocal struct {
	Local LocalHandle
}

func (ExprLoadLocal) expressionKind() {}

// ExprIntrinsic is a value-producing intrinsic.
type ExprIntrinsic struct {
	Op    Intrinsic
	Args  []ExpressionHandle
	Index Indices
}

func (ExprIntrinsic) expressionKind() {}

// ALUOp represents ALU operations.
type ALUOp uint8

const (
	// Integer arithmetic
	OpIAdd ALUOp = iota
	OpISub
	OpIMul
	OpINeg
	OpUDiv
	OpIDiv
	OpUMod
	OpUMin
	OpUMax
	OpIMin
	OpIMax

	// Bitwise (also used for 1-bit booleans)
	OpIAnd
	OpIOr
	OpIXor
	OpINot
	OpIShl
	OpUShr
	OpIShr
	OpBitCount
	OpUBfe // (value, offset, bits)

	// Integer comparisons, result is 1-bit
	OpIEq
	OpINe
	OpULt
	OpUGe
	OpILt
	OpIGe

	// Selection
	OpBCsel // (cond, accept, reject)

	// Conversions; the destination width is the expression BitSize
	OpB2I   // bool to 0/1
	OpU2U   // zero-extend or truncate
	OpI2I   // sign-extend or truncate
	OpF2I   // float32 to signed int
	OpF2U   // float32 to unsigned int
	OpI2F   // signed int to float32
	OpU2F   // unsigned int to float32
	OpF2F16 // float32 to float16 bits
	OpF16F2 // float16 bits to float32

	// Float arithmetic (32-bit)
	OpFAdd
	OpFSub
	OpFMul
	OpFDiv
	OpFNeg
	OpFAbs
	OpFMin
	OpFMax
	OpFFma
	OpFRoundEven
	OpFSat

	// Float comparisons, result is 1-bit
	OpFEq
	OpFNe
	OpFLt
	OpFGe
	OpFIsFinite

	// Packing
	OpPack64Split   // (lo32, hi32) -> 64
	OpUnpack64X     // 64 -> lo32
	OpUnpack64Y     // 64 -> hi32
	OpPack32Split16 // (lo16, hi16) -> 32
	OpUnpack32Lo16
	OpUnpack32Hi16

	// Horizontal byte sums
	OpUDot4x8 // (a, b, acc): sum of a.byte[i]*b.byte[i] + acc
	OpSadU8x4 // (a, b, acc): sum of |a.byte[i]-b.byte[i]| + acc

	numALUOps
)

var aluNames = [numALUOps]string{
	OpIAdd: "iadd", OpISub: "isub", OpIMul: "imul", OpINeg: "ineg",
	OpUDiv: "udiv", OpIDiv: "idiv", OpUMod: "umod", OpUMin: "umin",
	OpUMax: "umax", OpIMin: "imin", OpIMax: "imax",
	OpIAnd: "iand", OpIOr: "ior", OpIXor: "ixor", OpINot: "inot",
	OpIShl: "ishl", OpUShr: "ushr", OpIShr: "ishr", OpBitCount: "bit_count",
	OpUBfe: "ubfe",
	OpIEq:  "ieq", OpINe: "ine", OpULt: "ult", OpUGe: "uge", OpILt: "ilt", OpIGe: "ige",
	OpBCsel: "bcsel",
	OpB2I:   "b2i", OpU2U: "u2u", OpI2I: "i2i", OpF2I: "f2i", OpF2U: "f2u",
	OpI2F: "i2f", OpU2F: "u2f", OpF2F16: "f2f16", OpF16F2: "f16f2",
	OpFAdd: "fadd", OpFSub: "fsub", OpFMul: "fmul", OpFDiv: "fdiv",
	OpFNeg: "fneg", OpFAbs: "fabs", OpFMin: "fmin", OpFMax: "fmax",
	OpFFma: "ffma", OpFRoundEven: "fround_even", OpFSat: "fsat",
	OpFEq: "feq", OpFNe: "fne", OpFLt: "flt", OpFGe: "fge", OpFIsFinite: "fisfinite",
	OpPack64Split: "pack_64_2x32_split", OpUnpack64X: "unpack_64_2x32_split_x",
	OpUnpack64Y: "unpack_64_2x32_split_y", OpPack32Split16: "pack_32_2x16_split",
	OpUnpack32Lo16: "unpack_32_2x16_split_x", OpUnpack32Hi16: "unpack_32_2x16_split_y",
	OpUDot4x8: "udot_4x8_uadd", OpSadU8x4: "sad_u8x4",
}

// String returns the NIR-style mnemonic of the operation.
func (op ALUOp) String() string {
	if op < numALUOps {
		return aluNames[op]
	}
	return "unknown"
}

// NumArgs returns the number of operands the operation takes.
func (op ALUOp) NumArgs() int {
	switch op {
	case OpINeg, OpINot, OpBitCount, OpB2I, OpU2U, OpI2I, OpF2I, OpF2U, OpI2F, OpU2F,
		OpF2F16, OpF16F2, OpFNeg, OpFAbs, OpFRoundEven, OpFSat, OpFIsFinite,
		OpUnpack64X, OpUnpack64Y, OpUnpack32Lo16, OpUnpack32Hi16:
		return 1
	case OpUBfe, OpBCsel, OpFFma, OpUDot4x8, OpSadU8x4:
		return 3
	default:
		return 2
	}
}

// IsComparison reports whether the operation produces a 1-bit result.
func (op ALUOp) IsComparison() bool {
	switch op {
	case OpIEq, OpINe, OpULt, OpUGe, OpILt, OpIGe, OpFEq, OpFNe, OpFLt, OpFGe, OpFIsFinite:
		return true
	}
	return false
}
