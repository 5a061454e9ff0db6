// Copyright 2025 The GoGPU Authors
// SPDX-License-Identifier: MIT

package ngg

import (
	"fmt"
	"strings"

	"github.com/gogpu/nggc/amd"
	"github.com/gogpu/nggc/ir"
)

// Phase is one step of a shared memory protocol. Data stored in one phase is
// read in a later phase, and consecutive phases are separated by a
// workgroup barrier. Phases only move forward.
type Phase uint8

// Arena lays out the shared memory used by the lowering after the shader's
// own shared memory, and tracks the phase the generated code is in.
//
// Regions may alias: an overlay reuses the bytes of a region that is dead
// in every phase the overlay is used in. The barrier between phases is the
// only thing that makes this safe, so every access goes through Region.Base,
// which panics when the region is not live in the current phase.
type Arena struct {
	start   uint32
	end     uint32
	phase   Phase
	regions []*Region
}

// Region is a compile-time range of shared memory.
type Region struct {
	Name   string
	Offset uint32
	Size   uint32

	phases uint64
	arena  *Arena
}

// allPhases marks a region live in every phase.
const allPhases = ^uint64(0)

// NewArena returns an arena starting after start bytes of shader shared memory.
func NewArena(start uint32) *Arena {
	start = amd.AlignUp(start, 16)
	return &Arena{start: start, end: start}
}

func phaseMask(phases []Phase) uint64 {
	if len(phases) == 0 {
		return allPhases
	}
	var m uint64
	for _, p := range phases {
		m |= 1 << p
	}
	return m
}

// Alloc reserves size bytes, 16-byte aligned, live in phases. A region
// without phases is live in all of them.
func (a *Arena) Alloc(name string, size uint32, phases ...Phase) *Region {
	r := &Region{Name: name, Offset: a.end, Size: size, phases: phaseMask(phases), arena: a}
	a.end = amd.AlignUp(a.end+size, 16)
	a.regions = append(a.regions, r)
	return r
}

// Overlay reserves size bytes inside over for phases in which over is dead.
func (a *Arena) Overlay(name string, over *Region, size uint32, phases ...Phase) *Region {
	m := phaseMask(phases)
	if m&over.phases != 0 {
		panic(fmt.Sprintf("ngg: %s overlays %s in a phase where it is live", name, over.Name))
	}
	if size > over.Size {
		panic(fmt.Sprintf("ngg: %s needs %d bytes, %s has %d", name, size, over.Name, over.Size))
	}
	r := &Region{Name: name, Offset: over.Offset, Size: size, phases: m, arena: a}
	a.regions = append(a.regions, r)
	return r
}

// Size returns the total shared memory size, including the shader's own.
func (a *Arena) Size() uint32 {
	return a.end
}

// Used returns the bytes reserved by the arena.
func (a *Arena) Used() uint32 {
	return a.end - a.start
}

// Check reports a layout larger than the hardware allows.
func (a *Arena) Check(shader string) error {
	if a.end > amd.MaxLDSSize {
		return newError(ErrSharedMemory, "%s: %d bytes of shared memory (%s), at most %d",
			shader, a.end, a, amd.MaxLDSSize)
	}
	return nil
}

// String describes the layout.
func (a *Arena) String() string {
	var sb strings.Builder
	for i, r := range a.regions {
		if i > 0 {
			sb.WriteString(", ")
		}
		fmt.Fprintf(&sb, "%s@%d+%d", r.Name, r.Offset, r.Size)
	}
	return sb.String()
}

// Phase returns the current phase.
func (a *Arena) Phase() Phase {
	return a.phase
}

// Enter emits a workgroup barrier and moves to phase p. It must be called
// in uniform control flow.
func (a *Arena) Enter(b *ir.Builder, p Phase) {
	b.WorkgroupBarrier()
	a.Begin(p)
}

// Begin moves to phase p without a barrier, for callers that just emitted
// one, such as a multi-wave Repack.
func (a *Arena) Begin(p Phase) {
	if p < a.phase {
		panic(fmt.Sprintf("ngg: shared memory phase %d after %d", p, a.phase))
	}
	a.phase = p
}

// Base returns the byte address of the region. It panics when the region
// is not live in the current phase.
func (r *Region) Base() uint32 {
	if r.phases&(1<<r.arena.phase) == 0 {
		panic(fmt.Sprintf("ngg: %s accessed in phase %d", r.Name, r.arena.phase))
	}
	return r.Offset
}
