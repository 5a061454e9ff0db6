// Copyright 2025 The GoGPU Authors
// SPDX-License-Identifier: MIT

package sim

import (
	"context"
	"fmt"
	"math/bits"

	"github.com/gogpu/nggc/ir"
)

// undefPattern is what an undefined value reads as.
const undefPattern = 0xdeadbeefdeadbeef

type value [4]uint64

// wave executes the shader for WaveSize lanes in lockstep. Divergent control
// flow runs each side with the lanes that took it.
type wave struct {
	ctx   context.Context
	wg    *workgroup
	index int
	size  int
	f     *ir.Function

	vals   [][]value
	locals [][]value
	loops  []*loopFrame
	iters  int
}

type loopFrame struct {
	brk  uint64
	cont uint64
}

func newWave(ctx context.Context, wg *workgroup, index int) *wave {
	f := wg.sh.Func
	w := &wave{
		ctx:    ctx,
		wg:     wg,
		index:  index,
		size:   wg.cfg.WaveSize,
		f:      f,
		vals:   make([][]value, len(f.Expressions)),
		locals: make([][]value, len(f.LocalVars)),
	}
	for i := range w.locals {
		w.locals[i] = make([]value, w.size)
		for l := range w.locals[i] {
			w.locals[i][l] = value{undefPattern, undefPattern, undefPattern, undefPattern}
		}
	}
	return w
}

func (w *wave) run() error {
	_, err := w.block(w.f.Body, w.fullMask())
	return err
}

func (w *wave) fullMask() uint64 {
	if w.size == 64 {
		return ^uint64(0)
	}
	return 1<<w.size - 1
}

func (w *wave) errorf(kind ErrorKind, format string, args ...any) error {
	return &Error{Kind: kind, Workgroup: w.wg.index, Wave: w.index, Message: fmt.Sprintf(format, args...)}
}

// invocation returns the local invocation index of lane.
func (w *wave) invocation(lane int) int {
	return w.index*w.size + lane
}

// lanes calls fn for each lane in mask in ascending order.
func lanes(mask uint64, fn func(lane int)) {
	for m := mask; m != 0; m &= m - 1 {
		fn(bits.TrailingZeros64(m))
	}
}

func firstLane(mask uint64) int {
	return bits.TrailingZeros64(mask)
}

// block executes blk for the lanes in mask and returns the lanes that fall
// through to the statement after it.
func (w *wave) block(blk ir.Block, mask uint64) (uint64, error) {
	for i := range blk {
		if mask == 0 {
			return 0, nil
		}
		var err error
		switch s := blk[i].Kind.(type) {
		case ir.StmtEmit:
			for h := s.Range.Start; h < s.Range.End; h++ {
				if err = w.eval(h, mask); err != nil {
					return 0, err
				}
			}
		case ir.StmtIf:
			mask, err = w.branch(s, mask)
		case ir.StmtLoop:
			mask, err = w.loop(s, mask)
		case ir.StmtBreak:
			w.loops[len(w.loops)-1].brk |= mask
			return 0, nil
		case ir.StmtContinue:
			w.loops[len(w.loops)-1].cont |= mask
			return 0, nil
		case ir.StmtStoreLocal:
			w.storeLocal(s, mask)
		case ir.StmtBarrier:
			err = w.barrier(s, mask)
		case ir.StmtIntrinsic:
			err = w.call(s, mask)
		default:
			err = w.errorf(ErrUnsupported, "statement %T", s)
		}
		if err != nil {
			return 0, err
		}
	}
	return mask, nil
}

func (w *wave) branch(s ir.StmtIf, mask uint64) (uint64, error) {
	var taken uint64
	lanes(mask, func(l int) {
		if w.comp(s.Condition, l, 0)&1 != 0 {
			taken |= 1 << l
		}
	})
	var out uint64
	if taken != 0 {
		m, err := w.block(s.Accept, taken)
		if err != nil {
			return 0, err
		}
		out |= m
	}
	if rest := mask &^ taken; rest != 0 {
		m, err := w.block(s.Reject, rest)
		if err != nil {
			return 0, err
		}
		out |= m
	}
	return out, nil
}

func (w *wave) loop(s ir.StmtLoop, mask uint64) (uint64, error) {
	fr := &loopFrame{}
	w.loops = append(w.loops, fr)
	defer func() { w.loops = w.loops[:len(w.loops)-1] }()
	live := mask
	for live != 0 {
		w.iters++
		if w.iters > w.wg.cfg.MaxIterations {
			return 0, w.errorf(ErrIterationLimit, "more than %d loop iterations", w.wg.cfg.MaxIterations)
		}
		if err := w.ctx.Err(); err != nil {
			return 0, w.errorf(ErrCancelled, "%v", err)
		}
		fr.cont = 0
		m, err := w.block(s.Body, live)
		if err != nil {
			return 0, err
		}
		live = m | fr.cont
	}
	return fr.brk, nil
}

func (w *wave) storeLocal(s ir.StmtStoreLocal, mask uint64) {
	lv := w.f.LocalVars[s.Local]
	wm := s.WriteMask
	if wm == 0 {
		wm = 1<<lv.NumComponents - 1
	}
	scalar := w.f.Expressions[s.Value].NumComponents == 1
	lanes(mask, func(l int) {
		for c := 0; c < int(lv.NumComponents); c++ {
			if wm&(1<<c) == 0 {
				continue
			}
			src := c
			if scalar {
				src = 0
			}
			w.locals[s.Local][l][c] = w.comp(s.Value, l, src)
		}
	})
}

func (w *wave) barrier(s ir.StmtBarrier, mask uint64) error {
	if s.Memory == ir.ScopeDevice && s.Semantics&ir.SemanticsRelease != 0 {
		w.wg.record(Event{Kind: EventMemoryBarrier, Wave: w.index, Invocation: w.invocation(firstLane(mask))})
	}
	if s.Execution != ir.ScopeWorkgroup {
		return nil
	}
	return w.wg.barrier(w.ctx, w.index)
}

// comp returns component c of expression h in lane l. Values that were
// never evaluated for the lane read as undefined.
func (w *wave) comp(h ir.ExpressionHandle, l, c int) uint64 {
	v := w.vals[h]
	if v == nil {
		return undefPattern
	}
	return v[l][c]
}

// scalar returns the 32-bit scalar value of h in lane l.
func (w *wave) scalar(h ir.ExpressionHandle, l int) uint32 {
	return uint32(w.comp(h, l, 0))
}

func (w *wave) dest(h ir.ExpressionHandle) []value {
	if w.vals[h] == nil {
		w.vals[h] = make([]value, w.size)
		for l := range w.vals[h] {
			w.vals[h][l] = value{undefPattern, undefPattern, undefPattern, undefPattern}
		}
	}
	return w.vals[h]
}

func (w *wave) eval(h ir.ExpressionHandle, mask uint64) error {
	e := &w.f.Expressions[h]
	dst := w.dest(h)
	switch k := e.Kind.(type) {
	case ir.ExprConst:
		lanes(mask, func(l int) { dst[l] = k.Values })
	case ir.ExprUndef:
		lanes(mask, func(l int) { dst[l] = value{undefPattern, undefPattern, undefPattern, undefPattern} })
	case ir.ExprALU:
		srcBits := make([]uint8, len(k.Args))
		scalar := make([]bool, len(k.Args))
		for i, a := range k.Args {
			srcBits[i] = w.f.Expressions[a].BitSize
			scalar[i] = w.f.Expressions[a].NumComponents == 1
		}
		src := make([]uint64, len(k.Args))
		lanes(mask, func(l int) {
			for c := 0; c < int(e.NumComponents); c++ {
				for i, a := range k.Args {
					ac := c
					if scalar[i] {
						ac = 0
					}
					src[i] = w.comp(a, l, ac)
				}
				dst[l][c] = ir.EvalALU(k.Op, e.BitSize, srcBits, src)
			}
		})
	case ir.ExprVec:
		lanes(mask, func(l int) {
			for i, a := range k.Components {
				dst[l][i] = w.comp(a, l, 0)
			}
		})
	case ir.ExprChannel:
		lanes(mask, func(l int) { dst[l][0] = w.comp(k.Vector, l, int(k.Component)) })
	case ir.ExprLoadLocal:
		lanes(mask, func(l int) { dst[l] = w.locals[k.Local][l] })
	case ir.ExprIntrinsic:
		return w.intrinsic(e, k, dst, mask)
	default:
		return w.errorf(ErrUnsupported, "expression %T", k)
	}
	return nil
}
