// Copyright 2025 The GoGPU Authors
// SPDX-License-Identifier: MIT

package nggc

import (
	"runtime"
	"testing"

	"github.com/gogpu/nggc/amd"
	"github.com/gogpu/nggc/ir"
	"github.com/gogpu/nggc/samples"
	"github.com/gogpu/nggc/sim"
)

// BenchmarkLower benchmarks lowering each sample shader. Building the input
// shader is excluded from the measurement.
func BenchmarkLower(b *testing.B) {
	for _, s := range samples.All() {
		b.Run(s.Name, func(b *testing.B) {
			opts := s.Options(amd.GFX11)
			b.ReportAllocs()
			b.ResetTimer()

			var result *ir.Shader
			for i := 0; i < b.N; i++ {
				b.StopTimer()
				sh := s.Build()
				b.StartTimer()
				if _, err := Lower(sh, opts); err != nil {
					b.Fatalf("lower failed: %v", err)
				}
				result = sh
			}
			runtime.KeepAlive(result)
		})
	}
}

// BenchmarkLowerAll benchmarks lowering every sample for every generation
// concurrently.
func BenchmarkLowerAll(b *testing.B) {
	gens := []amd.GfxLevel{amd.GFX10_3, amd.GFX11, amd.GFX12}
	b.ReportAllocs()
	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		b.StopTimer()
		var jobs []Job
		for _, gfx := range gens {
			for _, s := range samples.All() {
				jobs = append(jobs, Job{Shader: s.Build(), Options: s.Options(gfx)})
			}
		}
		b.StartTimer()
		if _, err := LowerAll(b.Context(), jobs); err != nil {
			b.Fatalf("lower failed: %v", err)
		}
	}
}

// BenchmarkFullPipeline benchmarks lowering a sample and running it on the
// simulator.
func BenchmarkFullPipeline(b *testing.B) {
	for _, s := range samples.All() {
		b.Run(s.Name, func(b *testing.B) {
			opts := s.Options(amd.GFX11)
			b.ReportAllocs()
			b.ResetTimer()

			var result *sim.Result
			for i := 0; i < b.N; i++ {
				sh := s.Build()
				if _, err := Lower(sh, opts); err != nil {
					b.Fatalf("lower failed: %v", err)
				}
				cfg, wgs := s.Dispatch(opts, sh)
				res, err := sim.Run(b.Context(), sim.NewDevice(), sh, cfg, wgs)
				if err != nil {
					b.Fatalf("run failed: %v", err)
				}
				result = res
			}
			runtime.KeepAlive(result)
		})
	}
}
