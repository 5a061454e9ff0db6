// Copyright 2025 The GoGPU Authors
// SPDX-License-Identifier: MIT

package ngg

import (
	"errors"
	"testing"

	"github.com/gogpu/nggc/ir"
)

func TestArena_Layout(t *testing.T) {
	a := NewArena(20)
	repack := a.Alloc("repack", 8)
	vtx := a.Alloc("vertices", 100, 0, 1)
	prims := a.Overlay("prims", vtx, 64, 2)

	tests := []struct {
		r      *Region
		offset uint32
	}{
		{repack, 32},
		{vtx, 48},
		{prims, 48},
	}
	for _, tt := range tests {
		if tt.r.Offset != tt.offset {
			t.Errorf("%s at %d, want %d", tt.r.Name, tt.r.Offset, tt.offset)
		}
	}
	if got := a.Size(); got != 160 {
		t.Errorf("Size() = %d, want 160", got)
	}
	if got := a.Used(); got != 128 {
		t.Errorf("Used() = %d, want 128", got)
	}
	if got, want := a.String(), "repack@32+8, vertices@48+100, prims@48+64"; got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}
}

func TestArena_Phases(t *testing.T) {
	a := NewArena(0)
	vtx := a.Alloc("vertices", 64, 0, 1)
	prims := a.Overlay("prims", vtx, 16, 2)

	f := &ir.Function{}
	b := ir.NewBuilder(f)
	_ = vtx.Base()
	a.Enter(b, 1)
	_ = vtx.Base()
	a.Enter(b, 2)
	_ = prims.Base()

	barriers := 0
	ir.Walk(f.Body, func(st ir.Statement) {
		if _, ok := st.Kind.(ir.StmtBarrier); ok {
			barriers++
		}
	})
	if barriers != 2 {
		t.Errorf("%d barriers, want 2", barriers)
	}

	mustPanic(t, "dead region", func() { _ = vtx.Base() })
	mustPanic(t, "backwards", func() { a.Begin(1) })
}

func TestArena_OverlayPanics(t *testing.T) {
	a := NewArena(0)
	vtx := a.Alloc("vertices", 64, 0, 1)
	mustPanic(t, "live phase", func() { a.Overlay("prims", vtx, 16, 1) })
	mustPanic(t, "too large", func() { a.Overlay("prims", vtx, 65, 2) })
	mustPanic(t, "all phases", func() { a.Overlay("prims", vtx, 16) })
}

func TestArena_Check(t *testing.T) {
	a := NewArena(16 * 1024)
	a.Alloc("vertices", 16*1024)
	if err := a.Check("fits"); err != nil {
		t.Errorf("Check() = %v", err)
	}
	a.Alloc("one more", 4)
	err := a.Check("too big")
	var nerr *Error
	if !errors.As(err, &nerr) || nerr.Kind != ErrSharedMemory {
		t.Errorf("Check() = %v, want a %v error", err, ErrSharedMemory)
	}
}

func mustPanic(t *testing.T, name string, fn func()) {
	t.Helper()
	defer func() {
		if recover() == nil {
			t.Errorf("%s: no panic", name)
		}
	}()
	fn()
}
