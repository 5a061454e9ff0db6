package ir

import "fmt"

// Intrinsic identifies a hardware or API operation that is not plain ALU.
type Intrinsic uint8

const (
	// Invocation identity
	IntrLoadLocalInvocationIndex Intrinsic = iota
	IntrLoadSubgroupID
	IntrLoadNumSubgroups
	IntrLoadSubgroupInvocation

	// Shader argument preloads
	IntrLoadArg
	IntrLoadVertexID
	IntrLoadInstanceID
	IntrLoadTessCoord
	IntrLoadTessRelPatchID
	IntrLoadPrimitiveID
	IntrLoadVertexInput    // args: vertex id, instance id
	IntrLoadPerVertexInput // args: vertex index within the input primitive
	IntrLoadUserClipPlane
	IntrLoadStreamoutBuffer
	IntrLoadOrderedID

	// Cross-lane
	IntrBallot
	IntrInverseBallot
	IntrReadInvocation
	IntrReadFirstInvocation
	IntrElect
	IntrVoteAny
	IntrMbcnt         // args: mask, base
	IntrLanePermute16 // broadcast lane 0 of each 16-lane row

	// Memory
	IntrLoadShared      // args: address
	IntrStoreShared     // args: value, address
	IntrSharedAtomicAdd // args: address, value
	IntrLoadBuffer      // args: voffset, soffset
	IntrStoreBuffer     // args: value, voffset, soffset, vindex
	IntrGlobalAtomicAdd // args: voffset, value
	IntrOrderedAdd64    // args: voffset, packed (ordered id, value)

	// Ordered counters (GDS style)
	IntrOrderedXfbCounterAdd // args: ordered id, vec4 sizes
	IntrXfbCounterSub        // args: vec4 amounts

	// Hardware protocol
	IntrExport                // args: vec4 value
	IntrAllocVerticesAndPrims // args: vertex count, primitive count

	// Query counters
	IntrAtomicAddGenPrimCount // args: count
	IntrAtomicAddXfbPrimCount // args: count
	IntrAtomicAddInvocationCount

	// Logical outputs consumed by lowering
	IntrStoreOutput             // args: value
	IntrStorePerVertexOutput    // args: value, vertex index
	IntrStorePerPrimitiveOutput // args: value, primitive index
	IntrLoadPerVertexOutput     // args: vertex index
	IntrLoadPerPrimitiveOutput  // args: primitive index
	IntrEmitVertex
	IntrEndPrimitive
	IntrSetVertexAndPrimitiveCount // args: vertex count, primitive count
	IntrSetMeshOutputs             // args: vertex count, primitive count

	numIntrinsics
)

// IntrinsicInfo describes an intrinsic.
type IntrinsicInfo struct {
	Name    string
	NumArgs int
	// HasResult is false for intrinsics that only appear in StmtIntrinsic.
	HasResult bool
	// SideEffects marks value-producing intrinsics that may not be removed.
	SideEffects bool
	// Convergent intrinsics read other lanes and must not be moved or cloned
	// across control flow.
	Convergent bool
}

var intrinsicInfos = [numIntrinsics]IntrinsicInfo{
	IntrLoadLocalInvocationIndex: {Name: "load_local_invocation_index", HasResult: true},
	IntrLoadSubgroupID:           {Name: "load_subgroup_id", HasResult: true},
	IntrLoadNumSubgroups:         {Name: "load_num_subgroups", HasResult: true},
	IntrLoadSubgroupInvocation:   {Name: "load_subgroup_invocation", HasResult: true},

	IntrLoadArg:             {Name: "load_arg", HasResult: true},
	IntrLoadVertexID:        {Name: "load_vertex_id", HasResult: true},
	IntrLoadInstanceID:      {Name: "load_instance_id", HasResult: true},
	IntrLoadTessCoord:       {Name: "load_tess_coord", HasResult: true},
	IntrLoadTessRelPatchID:  {Name: "load_tess_rel_patch_id", HasResult: true},
	IntrLoadPrimitiveID:     {Name: "load_primitive_id", HasResult: true},
	IntrLoadVertexInput:     {Name: "load_vertex_input", NumArgs: 2, HasResult: true},
	IntrLoadPerVertexInput:  {Name: "load_per_vertex_input", NumArgs: 1, HasResult: true},
	IntrLoadUserClipPlane:   {Name: "load_user_clip_plane", HasResult: true},
	IntrLoadStreamoutBuffer: {Name: "load_streamout_buffer", HasResult: true},
	IntrLoadOrderedID:       {Name: "load_ordered_id", HasResult: true},

	IntrBallot:              {Name: "ballot", NumArgs: 1, HasResult: true, Convergent: true},
	IntrInverseBallot:       {Name: "inverse_ballot", NumArgs: 1, HasResult: true},
	IntrReadInvocation:      {Name: "read_invocation", NumArgs: 2, HasResult: true, Convergent: true},
	IntrReadFirstInvocation: {Name: "read_first_invocation", NumArgs: 1, HasResult: true, Convergent: true},
	IntrElect:               {Name: "elect", HasResult: true, Convergent: true},
	IntrVoteAny:             {Name: "vote_any", NumArgs: 1, HasResult: true, Convergent: true},
	IntrMbcnt:               {Name: "mbcnt", NumArgs: 2, HasResult: true},
	IntrLanePermute16:       {Name: "lane_permute16", NumArgs: 1, HasResult: true, Convergent: true},

	IntrLoadShared:      {Name: "load_shared", NumArgs: 1, HasResult: true},
	IntrStoreShared:     {Name: "store_shared", NumArgs: 2},
	IntrSharedAtomicAdd: {Name: "shared_atomic_add", NumArgs: 2, HasResult: true, SideEffects: true},
	IntrLoadBuffer:      {Name: "load_buffer", NumArgs: 2, HasResult: true},
	IntrStoreBuffer:     {Name: "store_buffer", NumArgs: 4},
	IntrGlobalAtomicAdd: {Name: "global_atomic_add", NumArgs: 2, HasResult: true, SideEffects: true},
	IntrOrderedAdd64:    {Name: "global_atomic_ordered_add_b64", NumArgs: 2, HasResult: true, SideEffects: true},

	IntrOrderedXfbCounterAdd: {Name: "ordered_xfb_counter_add", NumArgs: 2, HasResult: true, SideEffects: true},
	IntrXfbCounterSub:        {Name: "xfb_counter_sub", NumArgs: 1},

	IntrExport:                {Name: "export", NumArgs: 1},
	IntrAllocVerticesAndPrims: {Name: "alloc_vertices_and_primitives", NumArgs: 2},

	IntrAtomicAddGenPrimCount:    {Name: "atomic_add_gen_prim_count", NumArgs: 1},
	IntrAtomicAddXfbPrimCount:    {Name: "atomic_add_xfb_prim_count", NumArgs: 1},
	IntrAtomicAddInvocationCount: {Name: "atomic_add_shader_invocation_count", NumArgs: 1},

	IntrStoreOutput:                {Name: "store_output", NumArgs: 1},
	IntrStorePerVertexOutput:       {Name: "store_per_vertex_output", NumArgs: 2},
	IntrStorePerPrimitiveOutput:    {Name: "store_per_primitive_output", NumArgs: 2},
	IntrLoadPerVertexOutput:        {Name: "load_per_vertex_output", NumArgs: 1, HasResult: true},
	IntrLoadPerPrimitiveOutput:     {Name: "load_per_primitive_output", NumArgs: 1, HasResult: true},
	IntrEmitVertex:                 {Name: "emit_vertex"},
	IntrEndPrimitive:               {Name: "end_primitive"},
	IntrSetVertexAndPrimitiveCount: {Name: "set_vertex_and_primitive_count", NumArgs: 2},
	IntrSetMeshOutputs:             {Name: "set_mesh_outputs", NumArgs: 2},
}

// Info returns the static description of the intrinsic.
func (op Intrinsic) Info() IntrinsicInfo {
	if op < numIntrinsics {
		return intrinsicInfos[op]
	}
	panic(fmt.Sprintf("ir: unknown intrinsic %d", op))
}

// String returns the intrinsic name.
func (op Intrinsic) String() string {
	return op.Info().Name
}

// Indices holds the constant operands of an intrinsic.
// Each intrinsic reads only the fields that apply to it.
type Indices struct {
	Base      uint32
	Slot      Slot
	Bank16    bool // Slot is a Slot16
	High16    bool // writes the high half of a 16-bit slot
	Component uint8
	WriteMask uint8
	// Streams holds 2 bits per written component for GS output stores.
	Streams uint8
	Stream  uint8
	// NoVarying and NoSysval restrict an output store to fixed-function
	// consumers or to the next stage.
	NoVarying bool
	NoSysval  bool
	Arg       ShaderArg
	Ring      Ring
	Target    ExportTarget
	Flags     ExportFlags
	Location  uint32
}

// ComponentStream returns the stream of component c of an output store.
func (i Indices) ComponentStream(c int) uint8 {
	return (i.Streams >> (2 * c)) & 3
}

// ShaderArg identifies a preloaded shader argument.
type ShaderArg uint8

const (
	ArgNumInputVertices ShaderArg = iota
	ArgNumInputPrimitives
	ArgWaveVertexCount
	ArgGSVertexIndex0
	ArgGSVertexIndex1
	ArgGSVertexIndex2
	ArgGSPrimExport // passthrough: packed primitive export argument
	ArgInitialEdgeFlags
	ArgProvokingVertex
	ArgCullAnyEnabled
	ArgCullFrontFace
	ArgCullBackFace
	ArgCullCCW
	ArgCullSmallPrims
	ArgSmallPrimPrecision
	ArgViewportScaleX
	ArgViewportScaleY
	ArgViewportOffsetX
	ArgViewportOffsetY
	ArgAttrRingOffset
	ArgMeshScratchRingOffset
	ArgPrimGenQueryEnabled
	ArgXfbQueryEnabled
	ArgShaderQueryEnabled
	numShaderArgs
)

var argNames = [numShaderArgs]string{
	ArgNumInputVertices:      "num_input_vertices",
	ArgNumInputPrimitives:    "num_input_primitives",
	ArgWaveVertexCount:       "wave_vertex_count",
	ArgGSVertexIndex0:        "gs_vertex_index0",
	ArgGSVertexIndex1:        "gs_vertex_index1",
	ArgGSVertexIndex2:        "gs_vertex_index2",
	ArgGSPrimExport:          "gs_prim_export",
	ArgInitialEdgeFlags:      "initial_edgeflags",
	ArgProvokingVertex:       "provoking_vertex",
	ArgCullAnyEnabled:        "cull_any_enabled",
	ArgCullFrontFace:         "cull_front_face",
	ArgCullBackFace:          "cull_back_face",
	ArgCullCCW:               "cull_ccw",
	ArgCullSmallPrims:        "cull_small_prims",
	ArgSmallPrimPrecision:    "small_prim_precision",
	ArgViewportScaleX:        "viewport_scale_x",
	ArgViewportScaleY:        "viewport_scale_y",
	ArgViewportOffsetX:       "viewport_offset_x",
	ArgViewportOffsetY:       "viewport_offset_y",
	ArgAttrRingOffset:        "attr_ring_offset",
	ArgMeshScratchRingOffset: "mesh_scratch_ring_offset",
	ArgPrimGenQueryEnabled:   "prim_gen_query_enabled",
	ArgXfbQueryEnabled:       "xfb_query_enabled",
	ArgShaderQueryEnabled:    "shader_query_enabled",
}

// String returns the argument name.
func (a ShaderArg) String() string {
	if a < numShaderArgs {
		return argNames[a]
	}
	return "unknown_arg"
}

// IsBool reports whether the argument is a 1-bit flag.
func (a ShaderArg) IsBool() bool {
	switch a {
	case ArgCullAnyEnabled, ArgCullFrontFace, ArgCullBackFace, ArgCullCCW, ArgCullSmallPrims,
		ArgPrimGenQueryEnabled, ArgXfbQueryEnabled, ArgShaderQueryEnabled:
		return true
	}
	return false
}

// Ring identifies a named hardware ring buffer.
type Ring uint8

const (
	RingAttr Ring = iota
	RingGSVS
	RingTessOffchip
	RingMeshScratch
	RingXfbState
	RingXfb0
	RingXfb1
	RingXfb2
	RingXfb3
)

// XfbRing returns the ring of stream-out buffer i.
func XfbRing(i int) Ring {
	return RingXfb0 + Ring(i)
}

// String returns the ring name.
func (r Ring) String() string {
	switch r {
	case RingAttr:
		return "ring_attr"
	case RingGSVS:
		return "ring_gsvs"
	case RingTessOffchip:
		return "ring_tess_offchip"
	case RingMeshScratch:
		return "ring_mesh_scratch"
	case RingXfbState:
		return "ring_xfb_state"
	default:
		return fmt.Sprintf("ring_xfb%d", r-RingXfb0)
	}
}

// ExportTarget identifies an export destination.
type ExportTarget uint8

const (
	ExportPos0   ExportTarget = 12
	ExportParam0 ExportTarget = 32
	ExportPrim   ExportTarget = 20
)

// ExportPos returns the i-th position export target.
func ExportPos(i int) ExportTarget {
	return ExportPos0 + ExportTarget(i)
}

// ExportParam returns the i-th parameter export target.
func ExportParam(i int) ExportTarget {
	return ExportParam0 + ExportTarget(i)
}

// IsPos reports whether the target is a position export.
func (t ExportTarget) IsPos() bool { return t >= ExportPos0 && t < ExportPos0+4 }

// IsParam reports whether the target is a parameter export.
func (t ExportTarget) IsParam() bool { return t >= ExportParam0 && t < ExportParam0+32 }

// String returns the target name.
func (t ExportTarget) String() string {
	switch {
	case t.IsPos():
		return fmt.Sprintf("pos%d", t-ExportPos0)
	case t.IsParam():
		return fmt.Sprintf("param%d", t-ExportParam0)
	case t == ExportPrim:
		return "prim"
	}
	return fmt.Sprintf("target%d", uint8(t))
}

// ExportFlags are export instruction modifiers.
type ExportFlags uint8

const (
	// ExportDone marks the last export of its kind.
	ExportDone ExportFlags = 1 << iota
	// ExportValidMask tells the hardware the exec mask is final.
	ExportValidMask
	// ExportPerPrimitive marks a per-primitive parameter export.
	ExportPerPrimitive
)
