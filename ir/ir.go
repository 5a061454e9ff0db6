// Package ir defines the intermediate representation consumed and produced by
// the NGG lowering passes.
//
// A shader is a single entry function whose body is a tree of statements
// referring to SSA values held in an expression arena.
package ir

// Shader represents a shader program in IR form.
type Shader struct {
	// Name is used only for diagnostics.
	Name string

	// Stage is the API shader stage.
	Stage ShaderStage

	// Info holds metadata that lowering passes read and update.
	Info ShaderInfo

	// Func is the entry function.
	Func *Function
}

// NewShader creates an empty shader with an empty entry function.
func NewShader(name string, stage ShaderStage) *Shader {
	return &Shader{
		Name:  name,
		Stage: stage,
		Func:  &Function{Name: name},
	}
}

// ShaderStage represents a shader stage.
type ShaderStage uint8

const (
	StageVertex ShaderStage = iota
	StageTessEval
	StageGeometry
	StageMesh
)

// String returns the stage name.
func (s ShaderStage) String() string {
	switch s {
	case StageVertex:
		return "vertex"
	case StageTessEval:
		return "tess_eval"
	case StageGeometry:
		return "geometry"
	case StageMesh:
		return "mesh"
	default:
		return "unknown"
	}
}

// ShaderInfo holds shader metadata.
type ShaderInfo struct {
	// OutputsWritten is a bitmask of 32-bit varying slots (bit = Slot).
	OutputsWritten uint64

	// Outputs16Written is a bitmask of the dedicated 16-bit varying slots.
	Outputs16Written uint16

	// PerPrimitiveOutputs marks which of OutputsWritten are per-primitive (mesh only).
	PerPrimitiveOutputs uint64

	// SharedSize is the number of LDS bytes the shader needs.
	SharedSize uint32

	// UsesInstanceID and UsesPrimitiveID tell the culling path which
	// arguments must be carried through vertex compaction.
	UsesInstanceID  bool
	UsesPrimitiveID bool

	GS   GeometryInfo
	Mesh MeshInfo

	// Xfb describes transform feedback; nil when stream-out is not used.
	Xfb *XfbInfo
}

// PrimitiveType is an output primitive topology.
type PrimitiveType uint8

const (
	PrimPoints PrimitiveType = iota
	PrimLines
	PrimTriangles
	PrimLineStrip
	PrimTriangleStrip
)

// VerticesPerPrimitive returns how many vertices make up one primitive.
func (p PrimitiveType) VerticesPerPrimitive() int {
	switch p {
	case PrimPoints:
		return 1
	case PrimLines, PrimLineStrip:
		return 2
	default:
		return 3
	}
}

// GeometryInfo holds geometry shader metadata.
type GeometryInfo struct {
	VerticesOut     uint32
	OutputPrimitive PrimitiveType
	ActiveStreams   uint8 // bitmask of streams 0-3
	Invocations     uint32
}

// MeshInfo holds mesh shader metadata.
type MeshInfo struct {
	MaxVertices     uint32
	MaxPrimitives   uint32
	OutputPrimitive PrimitiveType
	WorkgroupSize   [3]uint32
}

// APIWorkgroupSize returns the flattened API workgroup size.
func (m MeshInfo) APIWorkgroupSize() uint32 {
	n := uint32(1)
	for _, d := range m.WorkgroupSize {
		if d != 0 {
			n *= d
		}
	}
	return n
}

// XfbOutput describes one captured output range.
type XfbOutput struct {
	Buffer        uint8
	Offset        uint32 // byte offset inside the vertex record
	Slot          Slot
	High16        bool // for 16-bit slots: capture the high half
	ComponentMask uint8
	// ComponentOffset is the first component of Slot covered by ComponentMask bit 0.
	ComponentOffset uint8
}

// XfbInfo describes transform feedback state for a shader.
type XfbInfo struct {
	Outputs        []XfbOutput
	BufferStride   [4]uint32
	BufferToStream [4]uint8
}

// BuffersWritten returns a mask of buffers referenced by any output.
func (x *XfbInfo) BuffersWritten() uint8 {
	var m uint8
	for _, o := range x.Outputs {
		if o.ComponentMask != 0 {
			m |= 1 << o.Buffer
		}
	}
	return m
}

// StreamsWritten returns a mask of streams fed by any written buffer.
func (x *XfbInfo) StreamsWritten() uint8 {
	var m uint8
	bufs := x.BuffersWritten()
	for b := 0; b < 4; b++ {
		if bufs&(1<<b) != 0 {
			m |= 1 << x.BufferToStream[b]
		}
	}
	return m
}

// Handle types for referencing IR objects
type (
	ExpressionHandle uint32
	LocalHandle      uint32
)

// NoExpr marks an absent optional expression operand.
const NoExpr ExpressionHandle = ^ExpressionHandle(0)

// Function represents the entry function of a shader.
type Function struct {
	Name        string
	LocalVars   []LocalVariable
	Expressions []Expression
	Body        Block
}

// LocalVariable represents a function-local variable.
// Locals are the only way to carry values out of a branch or loop.
type LocalVariable struct {
	Name          string
	NumComponents uint8
	BitSize       uint8
}

// Expr returns the expression for a handle.
func (f *Function) Expr(h ExpressionHandle) *Expression {
	return &f.Expressions[h]
}

// AddLocal appends a new local variable.
func (f *Function) AddLocal(name string, numComponents, bitSize uint8) LocalHandle {
	f.LocalVars = append(f.LocalVars, LocalVariable{Name: name, NumComponents: numComponents, BitSize: bitSize})
	return LocalHandle(len(f.LocalVars) - 1)
}

// Replace rewrites the definition of h in place. Every use of h observes the
// new definition, which is how a value's uses are redirected.
func (f *Function) Replace(h ExpressionHandle, kind ExpressionKind) {
	f.Expressions[h].Kind = kind
}
