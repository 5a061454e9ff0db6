// Package ir defines the intermediate representation rewritten by the NGG
// lowering passes.
//
// # Structure
//
// A Shader owns a single entry Function:
//   - Expressions: an arena of SSA values addressed by ExpressionHandle
//   - LocalVars: mutable variables, the only way to carry values out of a
//     branch or a loop
//   - Body: a tree of structured statements (if, loop, break, continue)
//
// An expression is evaluated at the StmtEmit whose range covers its handle and
// stays visible until the end of the enclosing block.
//
// # Values
//
// Every value has 1 to 4 components of 1, 8, 16, 32 or 64 bits. Booleans are
// 1-bit, floats are stored as their IEEE-754 bits. Operations are untyped; the
// opcode decides how bits are interpreted.
//
// # Intrinsics
//
// Hardware and API operations (cross-lane reads, shared memory, ring buffer
// stores, exports, logical shader outputs) are intrinsics. Value-producing
// intrinsics are expressions, the others are StmtIntrinsic statements.
//
// # Building
//
// Builder appends to a function with a stack of open blocks:
//
//	b := ir.NewBuilder(f)
//	tid := b.LocalInvocationIndex()
//	b.If(b.ULtImm(tid, 3), func() {
//		b.Export(pos, ir.ExportPos(0), 0xf, ir.ExportDone)
//	})
package ir
