// Copyright 2025 The GoGPU Authors
// SPDX-License-Identifier: MIT

package ngg

import (
	"fortio.org/safecast"

	"github.com/gogpu/nggc/amd"
	"github.com/gogpu/nggc/prerast"
)

// DefaultMeshSharedLimit is the shared memory a mesh shader layout may use
// before outputs are moved to the scratch ring.
const DefaultMeshSharedLimit = 28 * 1024

// Options configures NGG lowering. The TOML tags are used by option files.
type Options struct {
	Gfx amd.GfxLevel `toml:"gfx"`

	// WaveSize is 32 or 64.
	WaveSize int `toml:"wave_size"`
	// MaxWorkgroupSize bounds the invocations of one workgroup.
	MaxWorkgroupSize int `toml:"max_workgroup_size"`

	// NumVerticesPerPrimitive is the input topology of vertex and
	// tessellation evaluation shaders: 1, 2 or 3.
	NumVerticesPerPrimitive int `toml:"vertices_per_primitive"`

	// HasParamExports is false when no later stage reads the varyings.
	HasParamExports bool `toml:"param_exports"`

	ForceVRS      bool `toml:"force_vrs"`
	KillPointSize bool `toml:"kill_point_size"`
	KillLayer     bool `toml:"kill_layer"`

	// CanCull enables primitive culling and vertex compaction. Whether a
	// draw actually culls is decided at run time by the cull arguments.
	CanCull bool `toml:"can_cull"`
	// Passthrough exports the primitive argument produced by the hardware
	// as is. It is ignored when culling or stream-out is active.
	Passthrough      bool `toml:"passthrough"`
	DisableStreamout bool `toml:"disable_streamout"`
	// FastLaunch2 allocates mesh outputs where the shader sets them.
	FastLaunch2 bool `toml:"fast_launch_2"`
	// CompactPrimitives moves surviving primitives to the lowest lanes
	// after culling instead of exporting null primitives.
	CompactPrimitives bool `toml:"compact_primitives"`
	// EarlyPrimExport exports primitives before running the shader body
	// when nothing they carry depends on it.
	EarlyPrimExport   bool `toml:"early_prim_export"`
	ExportPrimitiveID bool `toml:"export_primitive_id"`
	HasUserEdgeFlags  bool `toml:"user_edge_flags"`

	ClipCullDistMask  uint8 `toml:"clip_cull_dist_mask"`
	UserClipPlaneMask uint8 `toml:"user_clip_plane_mask"`

	HasGenPrimQuery bool `toml:"gen_prim_query"`
	HasXfbPrimQuery bool `toml:"xfb_prim_query"`
	// UseOrderedAddLoop selects the 64-bit ordered add stream-out protocol.
	// Generations without ordered counters always use it.
	UseOrderedAddLoop bool `toml:"ordered_add_loop"`

	// MeshSharedLimit is the mesh shader shared memory budget in bytes;
	// zero means DefaultMeshSharedLimit.
	MeshSharedLimit uint32 `toml:"mesh_shared_limit"`

	// MapIO maps output slots to parameter offsets; nil means
	// prerast.DefaultMapIO.
	MapIO prerast.MapIO `toml:"-"`
}

// DefaultOptions returns the options of a typical draw on gfx.
func DefaultOptions(gfx amd.GfxLevel) Options {
	return Options{
		Gfx:                     gfx,
		WaveSize:                64,
		MaxWorkgroupSize:        128,
		NumVerticesPerPrimitive: 3,
		HasParamExports:         true,
		EarlyPrimExport:         true,
		UseOrderedAddLoop:       amd.Info(gfx).HasOrderedAdd64,
		MeshSharedLimit:         DefaultMeshSharedLimit,
	}
}

// Validate reports options the lowering cannot honor.
func (o *Options) Validate() error {
	if !o.Gfx.Valid() {
		return newError(ErrInvalidOptions, "unknown gfx level %d", uint8(o.Gfx))
	}
	if o.WaveSize != 32 && o.WaveSize != 64 {
		return newError(ErrInvalidOptions, "wave size %d, want 32 or 64", o.WaveSize)
	}
	if o.MaxWorkgroupSize <= 0 || o.MaxWorkgroupSize > MaxWorkgroupSize {
		return newError(ErrInvalidOptions, "max workgroup size %d out of range [1, %d]", o.MaxWorkgroupSize, MaxWorkgroupSize)
	}
	if o.maxWaves() > MaxWaves {
		return newError(ErrInvalidOptions, "%d waves per workgroup, at most %d", o.maxWaves(), MaxWaves)
	}
	if o.NumVerticesPerPrimitive < 1 || o.NumVerticesPerPrimitive > 3 {
		return newError(ErrInvalidOptions, "%d vertices per primitive", o.NumVerticesPerPrimitive)
	}
	if o.MeshSharedLimit > amd.MaxLDSSize {
		return newError(ErrInvalidOptions, "mesh shared memory limit %d exceeds %d", o.MeshSharedLimit, amd.MaxLDSSize)
	}
	return nil
}

// MaxWorkgroupSize is the largest NGG workgroup.
const MaxWorkgroupSize = 256

// MaxWaves is the largest number of waves the repack protocol supports.
const MaxWaves = 8

func (o *Options) maxWaves() int {
	return int(amd.DivRoundUp(safecast.MustConv[uint](o.MaxWorkgroupSize), safecast.MustConv[uint](o.WaveSize)))
}

func (o *Options) mapIO() prerast.MapIO {
	if o.MapIO == nil {
		return prerast.DefaultMapIO
	}
	return o.MapIO
}

func (o *Options) meshSharedLimit() uint32 {
	if o.MeshSharedLimit == 0 {
		return DefaultMeshSharedLimit
	}
	return o.MeshSharedLimit
}
