// Copyright 2025 The GoGPU Authors
// SPDX-License-Identifier: MIT

package samples

import (
	"testing"

	"github.com/gogpu/nggc/amd"
	"github.com/gogpu/nggc/ir"
	"github.com/gogpu/nggc/ngg"
	"github.com/gogpu/nggc/sim"
)

func TestSamplesLowerAndRun(t *testing.T) {
	for _, gfx := range []amd.GfxLevel{amd.GFX10_3, amd.GFX11, amd.GFX12} {
		for _, s := range All() {
			t.Run(gfx.String()+"/"+s.Name, func(t *testing.T) {
				sh := s.Build()
				opts := s.Options(gfx)
				if _, err := ngg.Lower(sh, opts); err != nil {
					t.Fatalf("Lower: %v", err)
				}
				cfg, wgs := s.Dispatch(opts, sh)
				res, err := sim.Run(t.Context(), sim.NewDevice(), sh, cfg, wgs)
				if err != nil {
					t.Fatalf("Run: %v\n%s", err, sh)
				}
				wr := res.Workgroups[0]
				if wr.Count(sim.EventAlloc) != 1 {
					t.Errorf("%d allocations, want 1", wr.Count(sim.EventAlloc))
				}
				if len(wr.ExportsTo(ir.ExportPos0)) == 0 {
					t.Error("no position exports")
				}
				if len(wr.ExportsTo(ir.ExportPrim)) == 0 {
					t.Error("no primitive exports")
				}
			})
		}
	}
}

func TestLookup(t *testing.T) {
	for _, s := range All() {
		got, ok := Lookup(s.Name)
		if !ok || got.Name != s.Name {
			t.Errorf("Lookup(%q) = %q, %v", s.Name, got.Name, ok)
		}
	}
	if _, ok := Lookup("missing"); ok {
		t.Error("Lookup found a sample that does not exist")
	}
}
