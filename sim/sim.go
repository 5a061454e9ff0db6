// Copyright 2025 The GoGPU Authors
// SPDX-License-Identifier: MIT

// Package sim executes lowered shaders on a model of the hardware: waves of
// lanes in lockstep, workgroups of concurrently running waves that meet at
// barriers, workgroup-shared memory with race detection, and the global
// state that stream-out, the attribute ring and the query counters update.
//
// Each workgroup runs in its own goroutine and each wave of a workgroup in
// its own goroutine, so nothing but barriers and the ordered atomics orders
// their progress.
package sim

import (
	"context"
	"fmt"
	"runtime"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/gogpu/nggc/ir"
)

// ErrorKind classifies simulation failures.
type ErrorKind uint8

const (
	ErrInvalidConfig ErrorKind = iota
	ErrRace
	ErrOutOfBounds
	ErrUnsupported
	ErrIterationLimit
	ErrCancelled
)

func (k ErrorKind) String() string {
	switch k {
	case ErrInvalidConfig:
		return "invalid config"
	case ErrRace:
		return "shared memory race"
	case ErrOutOfBounds:
		return "out of bounds"
	case ErrUnsupported:
		return "unsupported"
	case ErrIterationLimit:
		return "iteration limit"
	case ErrCancelled:
		return "cancelled"
	}
	return "unknown"
}

// Error is returned when a shader does something the hardware model rejects.
type Error struct {
	Kind      ErrorKind
	Workgroup int
	Wave      int
	Message   string
}

func (e *Error) Error() string {
	return fmt.Sprintf("sim: workgroup %d wave %d: %s: %s", e.Workgroup, e.Wave, e.Kind, e.Message)
}

// Config describes a dispatch.
type Config struct {
	// WaveSize is 32 or 64.
	WaveSize int
	// NumWaves is the number of waves launched per workgroup. Every lane of
	// every wave starts active.
	NumWaves int
	// MaxIterations bounds the loop iterations of one wave.
	MaxIterations int
	// Parallelism bounds the number of workgroups running at once; 0 uses GOMAXPROCS.
	Parallelism int

	// ClipPlanes are the user clip planes.
	ClipPlanes [8][4]float32

	// VertexInput fetches vertex attribute location for a vertex and instance.
	VertexInput func(vertexID, instanceID, location uint32) [4]uint32
	// PerVertexInput fetches an input of vertex index of the primitive a
	// geometry shader invocation works on.
	PerVertexInput func(wg, invocation int, index, location uint32) [4]uint32
}

// Workgroup holds the inputs of one workgroup.
type Workgroup struct {
	// Args holds the workgroup-uniform arguments.
	Args map[ir.ShaderArg]uint32
	// LaneArgs holds per-invocation arguments indexed by local invocation index.
	LaneArgs map[ir.ShaderArg][]uint32

	VertexIDs    []uint32
	InstanceIDs  []uint32
	PrimitiveIDs []uint32
	TessCoords   [][2]float32
	PatchIDs     []uint32

	OrderedID uint32
}

// EventKind identifies trace events.
type EventKind uint8

const (
	EventExport EventKind = iota
	EventAttrStore
	EventAlloc
	EventMemoryBarrier
)

// Event is one entry of a workgroup trace.
type Event struct {
	Kind       EventKind
	Wave       int
	Invocation int
	Target     ir.ExportTarget
	Mask       uint8
	Flags      ir.ExportFlags
	Value      [4]uint32
	// Param is the attribute ring parameter of an attribute store.
	Param uint32
}

// WorkgroupResult is what one workgroup produced.
type WorkgroupResult struct {
	Events []Event
	// Barriers counts the workgroup barriers each wave executed.
	Barriers []int
}

// Exports returns the export events of one invocation in program order.
func (r *WorkgroupResult) Exports(invocation int) []Event {
	var out []Event
	for _, e := range r.Events {
		if e.Kind == EventExport && e.Invocation == invocation {
			out = append(out, e)
		}
	}
	return out
}

// ExportsTo returns every export to target in trace order.
func (r *WorkgroupResult) ExportsTo(target ir.ExportTarget) []Event {
	var out []Event
	for _, e := range r.Events {
		if e.Kind == EventExport && e.Target == target {
			out = append(out, e)
		}
	}
	return out
}

// Count returns the number of events of kind.
func (r *WorkgroupResult) Count(kind EventKind) int {
	n := 0
	for _, e := range r.Events {
		if e.Kind == kind {
			n++
		}
	}
	return n
}

// Result holds the results of all workgroups in launch order.
type Result struct {
	Workgroups []*WorkgroupResult
}

// DefaultMaxIterations is used when Config.MaxIterations is zero.
const DefaultMaxIterations = 1 << 16

// Run executes sh once per workgroup on dev.
func Run(ctx context.Context, dev *Device, sh *ir.Shader, cfg Config, wgs []Workgroup) (*Result, error) {
	if cfg.WaveSize != 32 && cfg.WaveSize != 64 {
		return nil, &Error{Kind: ErrInvalidConfig, Message: fmt.Sprintf("wave size %d", cfg.WaveSize)}
	}
	if cfg.NumWaves <= 0 || cfg.NumWaves*cfg.WaveSize > 1024 {
		return nil, &Error{Kind: ErrInvalidConfig, Message: fmt.Sprintf("%d waves per workgroup", cfg.NumWaves)}
	}
	if cfg.MaxIterations == 0 {
		cfg.MaxIterations = DefaultMaxIterations
	}
	limit := cfg.Parallelism
	if limit <= 0 {
		limit = runtime.GOMAXPROCS(0)
	}

	res := &Result{Workgroups: make([]*WorkgroupResult, len(wgs))}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	// Workgroups start in launch order, so the oldest unfinished workgroup
	// always runs and the ordered atomics make progress.
	for i := range wgs {
		g.Go(func() error {
			wr, err := runWorkgroup(gctx, dev, sh, &cfg, i, &wgs[i])
			res.Workgroups[i] = wr
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return res, err
	}
	return res, nil
}

// workgroup is the state shared by the waves of one workgroup.
type workgroup struct {
	index int
	in    *Workgroup
	cfg   *Config
	dev   *Device
	sh    *ir.Shader

	mu       sync.Mutex
	cond     *sync.Cond
	lds      *lds
	alive    int
	arrived  int
	releases int
	failed   bool

	events   []Event
	barriers []int
}

func runWorkgroup(ctx context.Context, dev *Device, sh *ir.Shader, cfg *Config, index int, in *Workgroup) (*WorkgroupResult, error) {
	wg := &workgroup{
		index:    index,
		in:       in,
		cfg:      cfg,
		dev:      dev,
		sh:       sh,
		lds:      newLDS(sh.Info.SharedSize),
		alive:    cfg.NumWaves,
		barriers: make([]int, cfg.NumWaves),
	}
	wg.cond = sync.NewCond(&wg.mu)

	stop := context.AfterFunc(ctx, func() {
		wg.mu.Lock()
		wg.failed = true
		wg.cond.Broadcast()
		wg.mu.Unlock()
	})
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	for w := 0; w < cfg.NumWaves; w++ {
		g.Go(func() error {
			wv := newWave(gctx, wg, w)
			err := wv.run()
			wg.leave(err != nil)
			return err
		})
	}
	err := g.Wait()
	return &WorkgroupResult{Events: wg.events, Barriers: wg.barriers}, err
}

// barrier blocks until every running wave reached a barrier. Each release
// starts a new shared memory epoch.
func (wg *workgroup) barrier(ctx context.Context, wave int) error {
	wg.mu.Lock()
	defer wg.mu.Unlock()
	wg.barriers[wave]++
	wg.arrived++
	if wg.arrived == wg.alive {
		wg.release()
		return nil
	}
	gen := wg.releases
	for wg.releases == gen {
		if wg.failed || ctx.Err() != nil {
			return &Error{Kind: ErrCancelled, Workgroup: wg.index, Wave: wave, Message: "workgroup stopped at a barrier"}
		}
		wg.cond.Wait()
	}
	return nil
}

func (wg *workgroup) release() {
	wg.arrived = 0
	wg.releases++
	wg.cond.Broadcast()
}

// leave removes a finished wave from the barrier count.
func (wg *workgroup) leave(failed bool) {
	wg.mu.Lock()
	defer wg.mu.Unlock()
	wg.alive--
	if failed {
		wg.failed = true
		wg.cond.Broadcast()
		return
	}
	if wg.arrived > 0 && wg.arrived == wg.alive {
		wg.release()
	}
}

func (wg *workgroup) record(e Event) {
	wg.mu.Lock()
	wg.events = append(wg.events, e)
	wg.mu.Unlock()
}

func (wg *workgroup) arg(a ir.ShaderArg, invocation int) uint32 {
	if vals, ok := wg.in.LaneArgs[a]; ok && invocation < len(vals) {
		return vals[invocation]
	}
	return wg.in.Args[a]
}

func laneValue(vals []uint32, invocation int) uint32 {
	if invocation < len(vals) {
		return vals[invocation]
	}
	return 0
}
