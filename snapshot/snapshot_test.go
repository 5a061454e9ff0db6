// Package snapshot_test holds golden tests of what the lowered sample
// shaders draw.
//
// Every sample is lowered for every generation, run on the simulator and
// rendered as a trace: the allocation, every export keyed by invocation and
// target, and every attribute ring entry keyed by index and parameter. The
// trace must match testdata/golden/{gfx}/{sample}.trace. Lowering the same
// sample twice must also print the same IR.
//
// To regenerate golden files after intentional changes:
//
//	UPDATE_GOLDEN=1 go test ./snapshot/...
package snapshot_test

import (
	"cmp"
	"errors"
	"fmt"
	"io/fs"
	"math"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"testing"

	gocmp "github.com/google/go-cmp/cmp"

	"github.com/gogpu/nggc/amd"
	"github.com/gogpu/nggc/ir"
	"github.com/gogpu/nggc/ngg"
	"github.com/gogpu/nggc/samples"
	"github.com/gogpu/nggc/sim"
)

var generations = []amd.GfxLevel{amd.GFX10_3, amd.GFX11, amd.GFX12}

// undef is what the simulator returns for undefined components.
const undef = 0xdeadbeef

func TestSnapshots(t *testing.T) {
	for _, gfx := range generations {
		for _, s := range samples.All() {
			t.Run(gfx.String()+"/"+s.Name, func(t *testing.T) {
				first := lowerSample(t, s, gfx)
				second := lowerSample(t, s, gfx)
				if a, b := first.String(), second.String(); a != b {
					t.Fatalf("lowering is not deterministic (-first +second):\n%s",
						gocmp.Diff(strings.Split(a, "\n"), strings.Split(b, "\n")))
				}
				got := drawTrace(t, s, gfx, first)
				compareGolden(t, filepath.Join("testdata", "golden", gfx.String(), s.Name+".trace"), got)
			})
		}
	}
}

// lowerSample lowers a fresh copy of s.
func lowerSample(t *testing.T, s samples.Sample, gfx amd.GfxLevel) *ir.Shader {
	t.Helper()
	sh := s.Build()
	if _, err := ngg.Lower(sh, s.Options(gfx)); err != nil {
		t.Fatalf("lower %s: %v", s.Name, err)
	}
	return sh
}

// drawTrace runs the lowered sample and renders one line per observable
// result. Each line is "key: values".
func drawTrace(t *testing.T, s samples.Sample, gfx amd.GfxLevel, sh *ir.Shader) []string {
	t.Helper()
	opts := s.Options(gfx)
	cfg, wgs := s.Dispatch(opts, sh)
	dev := sim.NewDevice()
	res, err := sim.Run(t.Context(), dev, sh, cfg, wgs)
	if err != nil {
		t.Fatalf("run %s: %v", s.Name, err)
	}
	hw := amd.Info(gfx)
	wr := res.Workgroups[0]

	var lines []string
	for _, e := range wr.Events {
		if e.Kind == sim.EventAlloc {
			lines = append(lines, fmt.Sprintf("alloc: %d %d", e.Value[0], e.Value[1]))
		}
	}

	exports := slices.DeleteFunc(slices.Clone(wr.Events), func(e sim.Event) bool { return e.Kind != sim.EventExport })
	slices.SortStableFunc(exports, func(a, b sim.Event) int {
		return cmp.Or(cmp.Compare(a.Invocation, b.Invocation), cmp.Compare(a.Target, b.Target))
	})
	for _, e := range exports {
		key := fmt.Sprintf("inv %d %s", e.Invocation, e.Target)
		if e.Flags&ir.ExportPerPrimitive != 0 {
			key += " per-primitive"
		}
		lines = append(lines, key+": "+exportValues(hw, e))
	}

	keys := make([]sim.AttrKey, 0, len(dev.Attr))
	for k := range dev.Attr {
		keys = append(keys, k)
	}
	slices.SortFunc(keys, func(a, b sim.AttrKey) int {
		return cmp.Or(cmp.Compare(a.Index, b.Index), cmp.Compare(a.Param, b.Param))
	})
	for _, k := range keys {
		v := dev.Attr[k]
		vals := make([]string, len(v))
		for i, c := range v {
			vals[i] = intValue(c)
		}
		lines = append(lines, fmt.Sprintf("attr %d.%d: %s", k.Index, k.Param, strings.Join(vals, " ")))
	}
	return lines
}

// exportValues renders the written components of an export. Primitive
// exports are decoded into vertex indices and positions print as floats.
func exportValues(hw amd.HWInfo, e sim.Event) string {
	if e.Target == ir.ExportPrim {
		p := hw.UnpackPrimExport(e.Value[0], 3)
		if p.Null {
			return "null"
		}
		return fmt.Sprintf("%d %d %d", p.Indices[0], p.Indices[1], p.Indices[2])
	}
	var vals []string
	for c, v := range e.Value {
		if e.Mask&(1<<c) == 0 {
			continue
		}
		if e.Target.IsPos() {
			vals = append(vals, strconv.FormatFloat(float64(math.Float32frombits(v)), 'f', 3, 64))
		} else {
			vals = append(vals, intValue(v))
		}
	}
	return strings.Join(vals, " ")
}

func intValue(v uint32) string {
	if v == undef {
		return "?"
	}
	return strconv.FormatUint(uint64(v), 10)
}

// compareGolden compares the trace with the golden file at path, or
// rewrites the file when UPDATE_GOLDEN is set. A missing golden file fails.
func compareGolden(t *testing.T, path string, got []string) {
	t.Helper()

	if os.Getenv("UPDATE_GOLDEN") != "" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatalf("create golden dir: %v", err)
		}
		if err := os.WriteFile(path, []byte(strings.Join(got, "\n")+"\n"), 0o644); err != nil {
			t.Fatalf("write golden file: %v", err)
		}
		t.Logf("updated golden file: %s", path)
		return
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		t.Fatalf("golden file %s is missing; run with UPDATE_GOLDEN=1 to create it", path)
	}
	if err != nil {
		t.Fatalf("read golden file %s: %v", path, err)
	}
	want := strings.Split(strings.TrimSpace(strings.ReplaceAll(string(data), "\r\n", "\n")), "\n")
	for _, d := range diffTraces(want, got) {
		t.Errorf("%s: %s", path, d)
	}
}

// diffTraces reports, per key, the entries that are missing, unexpected or
// different.
func diffTraces(want, got []string) []string {
	wm, wantKeys := splitTrace(want)
	gm, gotKeys := splitTrace(got)
	var out []string
	for _, k := range wantKeys {
		g, ok := gm[k]
		switch {
		case !ok:
			out = append(out, fmt.Sprintf("%s: missing, want %q", k, wm[k]))
		case g != wm[k]:
			out = append(out, fmt.Sprintf("%s: got %q, want %q", k, g, wm[k]))
		}
	}
	for _, k := range gotKeys {
		if _, ok := wm[k]; !ok {
			out = append(out, fmt.Sprintf("%s: unexpected %q", k, gm[k]))
		}
	}
	return out
}

// splitTrace indexes trace lines by key, in order of first appearance.
// Repeated keys get a counter suffix.
func splitTrace(lines []string) (map[string]string, []string) {
	m := make(map[string]string, len(lines))
	seen := make(map[string]int)
	var keys []string
	for _, line := range lines {
		k, v, _ := strings.Cut(line, ": ")
		seen[k]++
		if n := seen[k]; n > 1 {
			k = fmt.Sprintf("%s #%d", k, n)
		}
		m[k] = v
		keys = append(keys, k)
	}
	return m, keys
}

func TestDiffTraces(t *testing.T) {
	want := []string{"alloc: 3 1", "inv 0 prim: 0 1 2", "inv 1 pos0: 1.000 0.000 0.000 1.000"}
	got := []string{"alloc: 3 1", "inv 0 prim: null", "inv 2 pos0: 2.000 0.000 0.000 1.000"}
	diffs := diffTraces(want, got)
	wantDiffs := []string{
		`inv 0 prim: got "null", want "0 1 2"`,
		`inv 1 pos0: missing, want "1.000 0.000 0.000 1.000"`,
		`inv 2 pos0: unexpected "2.000 0.000 0.000 1.000"`,
	}
	if d := gocmp.Diff(wantDiffs, diffs); d != "" {
		t.Errorf("diffTraces mismatch (-want +got):\n%s", d)
	}
	if d := diffTraces(want, want); len(d) != 0 {
		t.Errorf("identical traces differ: %v", d)
	}
}
