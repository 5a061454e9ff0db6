package ir

// Statement represents a statement in the IR.
// Statements have side effects and structured control flow, but do not produce values.
// The function body is represented as a tree of statements, with references to expressions.
type Statement struct {
	Kind StatementKind
}

// StatementKind represents the different kinds of statements.
type StatementKind interface {
	statementKind()
}

// Block represents a sequence of statements executed in order.
type Block []Statement

// Range represents a range of expression handles for Emit statements.
type Range struct {
	Start ExpressionHandle
	End   ExpressionHandle // Exclusive
}

// Len returns the number of handles covered by the range.
func (r Range) Len() int {
	return int(r.End) - int(r.Start)
}

// Contains reports whether h is inside the range.
func (r Range) Contains(h ExpressionHandle) bool {
	return h >= r.Start && h < r.End
}

// StmtEmit evaluates a range of expressions, making them visible to all
// statements that follow in the same block and in nested blocks.
type StmtEmit struct {
	Range Range
}

func (StmtEmit) statementKind() {}

// StmtIf conditionally executes one of two blocks based on the condition value.
// There are no phi instructions. To use values computed in accept or reject
// blocks after the If statement, store them in a LocalVariable.
type StmtIf struct {
	Condition ExpressionHandle // Must be a 1-bit scalar
	Accept    Block
	Reject    Block
}

func (StmtIf) statementKind() {}

// StmtLoop executes a block repeatedly until a Break is reached.
type StmtLoop struct {
	Body Block
}

func (StmtLoop) statementKind() {}

// StmtBreak exits the innermost enclosing Loop.
type StmtBreak struct{}

func (StmtBreak) statementKind() {}

// StmtContinue skips to the next iteration of the innermost enclosing Loop.
type StmtContinue struct{}

func (StmtContinue) statementKind() {}

// StmtStoreLocal writes the components selected by WriteMask to a local.
// A zero WriteMask writes every component.
type StmtStoreLocal struct {
	Local     LocalHandle
	Value     ExpressionHandle
	WriteMask uint8
}

func (StmtStoreLocal) statementKind() {}

// StmtBarrier synchronizes invocations and orders memory accesses.
type StmtBarrier struct {
	// Execution is the scope of the control barrier. ScopeNone makes this
	// a pure memory barrier.
	Execution Scope
	Memory    Scope
	Semantics MemorySemantics
	Modes     MemoryModes
}

func (StmtBarrier) statementKind() {}

// StmtIntrinsic executes an intrinsic that produces no value.
type StmtIntrinsic struct {
	Op    Intrinsic
	Args  []ExpressionHandle
	Index Indices
}

func (StmtIntrinsic) statementKind() {}

// Scope is a synchronization scope.
type Scope uint8

const (
	ScopeNone Scope = iota
	ScopeSubgroup
	ScopeWorkgroup
	ScopeDevice
)

// String returns the scope name.
func (s Scope) String() string {
	switch s {
	case ScopeNone:
		return "none"
	case ScopeSubgroup:
		return "subgroup"
	case ScopeWorkgroup:
		return "workgroup"
	case ScopeDevice:
		return "device"
	default:
		return "unknown"
	}
}

// MemorySemantics selects acquire and/or release ordering.
type MemorySemantics uint8

const (
	SemanticsAcquire MemorySemantics = 1 << iota
	SemanticsRelease

	SemanticsAcqRel = SemanticsAcquire | SemanticsRelease
)

// MemoryModes selects which kinds of memory a barrier orders.
type MemoryModes uint8

const (
	ModeShared MemoryModes = 1 << iota
	ModeGlobal
	ModeOutput
)
