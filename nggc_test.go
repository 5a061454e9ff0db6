// Copyright 2025 The GoGPU Authors
// SPDX-License-Identifier: MIT

package nggc

import (
	"context"
	"errors"
	"testing"

	"github.com/gogpu/nggc/amd"
	"github.com/gogpu/nggc/ir"
	"github.com/gogpu/nggc/ngg"
	"github.com/gogpu/nggc/samples"
)

func sampleJobs(gfx amd.GfxLevel) []Job {
	var jobs []Job
	for _, s := range samples.All() {
		jobs = append(jobs, Job{Shader: s.Build(), Options: s.Options(gfx)})
	}
	return jobs
}

func TestLowerAll(t *testing.T) {
	jobs := sampleJobs(amd.GFX11)
	changed, err := LowerAll(t.Context(), jobs)
	if err != nil {
		t.Fatalf("LowerAll: %v", err)
	}
	for i, c := range changed {
		if !c {
			t.Errorf("job %d (%s) reported no change", i, jobs[i].Shader.Name)
		}
		if errs, err := ir.Validate(jobs[i].Shader); err != nil || len(errs) > 0 {
			t.Errorf("job %d: lowered shader invalid: %v %v", i, err, errs)
		}
	}
}

func TestLowerAll_Error(t *testing.T) {
	jobs := sampleJobs(amd.GFX11)
	jobs[1].Options.WaveSize = 48
	_, err := LowerAll(t.Context(), jobs)
	var nerr *ngg.Error
	if !errors.As(err, &nerr) || nerr.Kind != ngg.ErrInvalidOptions {
		t.Fatalf("LowerAll() = %v, want an invalid options error", err)
	}
}

func TestLowerAll_Canceled(t *testing.T) {
	ctx, cancel := context.WithCancel(t.Context())
	cancel()
	_, err := LowerAll(ctx, sampleJobs(amd.GFX11))
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("LowerAll() = %v, want context.Canceled", err)
	}
}

func TestLowerAll_FatalPanicsOnCaller(t *testing.T) {
	gs := ir.NewShader("no-count", ir.StageGeometry)
	gs.Info.GS = ir.GeometryInfo{VerticesOut: 1, OutputPrimitive: ir.PrimPoints, ActiveStreams: 1}
	b := ir.NewBuilder(gs.Func)
	b.Call(ir.IntrStoreOutput, ir.Indices{Slot: ir.SlotPos, WriteMask: 0xf}, b.FloatVec(0, 0, 0, 1))
	b.Call(ir.IntrEmitVertex, ir.Indices{})

	jobs := append(sampleJobs(amd.GFX11), Job{Shader: gs, Options: ngg.DefaultOptions(amd.GFX11)})
	defer func() {
		r := recover()
		f, ok := r.(*ngg.FatalError)
		if !ok {
			t.Fatalf("recovered %v, want a *ngg.FatalError", r)
		}
		if f.Shader != "no-count" {
			t.Errorf("fatal error for shader %q", f.Shader)
		}
	}()
	_, _ = LowerAll(t.Context(), jobs)
	t.Fatal("LowerAll returned after a fatal error")
}
