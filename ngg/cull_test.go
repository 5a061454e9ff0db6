// Copyright 2025 The GoGPU Authors
// SPDX-License-Identifier: MIT

package ngg

import (
	"math"
	"testing"

	"github.com/gogpu/nggc/ir"
	"github.com/gogpu/nggc/sim"
)

type cullVert struct{ x, y, w float32 }

func TestCullPrimitive(t *testing.T) {
	nan := float32(math.NaN())
	ccwTri := []cullVert{{-0.5, -0.5, 1}, {0.5, -0.5, 1}, {0, 0.5, 1}}
	cwTri := []cullVert{{-0.5, -0.5, 1}, {0, 0.5, 1}, {0.5, -0.5, 1}}
	tiny := []cullVert{{0, 0, 1}, {0.0004, 0, 1}, {0, 0.0004, 1}}

	tests := []struct {
		name       string
		verts      []cullVert
		clipReject bool
		args       map[ir.ShaderArg]uint32
		want       bool
	}{
		{name: "inside unit cube", verts: ccwTri, want: true},
		{name: "inside unit cube clockwise", verts: cwTri, want: true},
		{name: "nan coordinate", verts: []cullVert{{nan, -0.5, 1}, {0.5, -0.5, 1}, {0, 0.5, 1}}},
		{name: "nan w", verts: []cullVert{{-0.5, -0.5, 1}, {0.5, -0.5, nan}, {0, 0.5, 1}}},
		{name: "all w negative", verts: []cullVert{{-0.5, -0.5, -1}, {0.5, -0.5, -2}, {0, 0.5, -1}}},
		{name: "clip distances negative", verts: ccwTri, clipReject: true},
		{name: "zero area", verts: []cullVert{{0, 0, 1}, {0, 0, 1}, {1, 1, 1}}},
		{name: "collinear", verts: []cullVert{{-1, -1, 1}, {0, 0, 1}, {1, 1, 1}}},
		{
			name:  "back face",
			verts: cwTri,
			args:  map[ir.ShaderArg]uint32{ir.ArgCullBackFace: 1, ir.ArgCullCCW: 1},
		},
		{
			name:  "front face kept by back face culling",
			verts: ccwTri,
			args:  map[ir.ShaderArg]uint32{ir.ArgCullBackFace: 1, ir.ArgCullCCW: 1},
			want:  true,
		},
		{
			name:  "front face culled",
			verts: ccwTri,
			args:  map[ir.ShaderArg]uint32{ir.ArgCullFrontFace: 1, ir.ArgCullCCW: 1},
		},
		{
			name:  "clockwise front face",
			verts: cwTri,
			args:  map[ir.ShaderArg]uint32{ir.ArgCullFrontFace: 1},
		},
		{name: "right of the frustum", verts: []cullVert{{1.5, 0, 1}, {2, 0, 1}, {2, 1, 1}}},
		{name: "below the frustum", verts: []cullVert{{0, -1.5, 1}, {1, -2, 1}, {0, -3, 1}}},
		{name: "straddles the frustum", verts: []cullVert{{0.5, 0, 1}, {2, 0, 1}, {2, 1, 1}}, want: true},
		{name: "crosses w zero", verts: []cullVert{{5, 5, -1}, {6, 5, 1}, {5, 6, 1}}, want: true},
		{name: "small primitive filter disabled", verts: tiny, args: viewportArgs(0), want: true},
		{name: "small primitive between samples", verts: tiny, args: viewportArgs(1)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			accepted, calls := runCull(t, tt.verts, !tt.clipReject, tt.args)
			if accepted != tt.want {
				t.Errorf("accepted = %v, want %v", accepted, tt.want)
			}
			if calls != 1 {
				t.Errorf("onAccepted emitted %d times, want 1", calls)
			}
		})
	}
}

func TestCullPrimitive_Lines(t *testing.T) {
	tests := []struct {
		name  string
		verts []cullVert
		want  bool
	}{
		{"inside", []cullVert{{-0.5, 0, 1}, {0.5, 0.25, 1}}, true},
		{"zero length", []cullVert{{0.25, 0.25, 1}, {0.25, 0.25, 1}}, false},
		{"left of the frustum", []cullVert{{-3, 0, 1}, {-2, 0.5, 1}}, false},
		{"nan", []cullVert{{0, float32(math.NaN()), 1}, {0.5, 0, 1}}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got, _ := runCull(t, tt.verts, true, nil); got != tt.want {
				t.Errorf("accepted = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestCullPrimitive_PanicsOnPoints(t *testing.T) {
	b := ir.NewBuilder(&ir.Function{})
	v := CullVertex{X: b.Float(0), Y: b.Float(0), W: b.Float(1)}
	defer func() {
		if recover() == nil {
			t.Error("CullPrimitive did not panic")
		}
	}()
	CullPrimitive(b, CullConfig{NumVertices: 1}, []CullVertex{v}, b.Bool(true), nil)
}

// viewportArgs maps [-1, 1] to [0, 200] with the small primitive filter
// set to enabled.
func viewportArgs(enabled uint32) map[ir.ShaderArg]uint32 {
	f := math.Float32bits
	return map[ir.ShaderArg]uint32{
		ir.ArgCullSmallPrims:     enabled,
		ir.ArgSmallPrimPrecision: f(1.0 / 256),
		ir.ArgViewportScaleX:     f(100),
		ir.ArgViewportScaleY:     f(100),
		ir.ArgViewportOffsetX:    f(100.25),
		ir.ArgViewportOffsetY:    f(100.25),
	}
}

// runCull culls one primitive in a one-wave shader and returns the decision
// and the number of times the accept callback was emitted. Accepted lanes
// export to parameter 1 from the callback.
func runCull(t *testing.T, verts []cullVert, clipAccepted bool, args map[ir.ShaderArg]uint32) (bool, int) {
	t.Helper()
	sh := ir.NewShader("cull", ir.StageVertex)
	b := ir.NewBuilder(sh.Func)
	cv := make([]CullVertex, len(verts))
	for i, v := range verts {
		cv[i] = CullVertex{X: b.Float(v.x), Y: b.Float(v.y), W: b.Float(v.w)}
	}
	calls := 0
	res := CullPrimitive(b, CullConfig{NumVertices: len(verts)}, cv, b.Bool(clipAccepted), func(b *ir.Builder) {
		calls++
		b.Export(b.Const32(7), ir.ExportParam(1), 1, 0)
	})
	b.Export(b.B2I(res, 32), ir.ExportParam(0), 1, 0)
	mustValidate(t, sh)

	res2, err := sim.Run(t.Context(), sim.NewDevice(), sh, sim.Config{WaveSize: 32, NumWaves: 1}, []sim.Workgroup{{Args: args}})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	wr := res2.Workgroups[0]
	decision := wr.ExportsTo(ir.ExportParam(0))
	if len(decision) != 32 {
		t.Fatalf("%d decisions exported, want 32", len(decision))
	}
	accepted := decision[0].Value[0] == 1
	if cb := len(wr.ExportsTo(ir.ExportParam(1))); accepted && cb != 32 || !accepted && cb != 0 {
		t.Errorf("callback ran in %d lanes with accepted = %v", cb, accepted)
	}
	return accepted, calls
}
