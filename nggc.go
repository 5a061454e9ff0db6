// Copyright 2025 The GoGPU Authors
// SPDX-License-Identifier: MIT

// Package nggc lowers pre-rasterization shaders to the NGG hardware
// protocol of AMD RDNA GPUs.
//
// A shader is built with the ir package, lowered in place and can then be
// executed on the reference simulator in the sim package:
//
//	sh := ir.NewShader("triangle", ir.StageVertex)
//	b := ir.NewBuilder(sh.Func)
//	b.Call(ir.IntrStoreOutput, ir.Indices{Slot: ir.SlotPos, WriteMask: 0xf}, b.FloatVec(0, 0, 0, 1))
//	if _, err := nggc.Lower(sh, ngg.DefaultOptions(amd.GFX11)); err != nil {
//	    log.Fatal(err)
//	}
//
// For many shaders at once, use LowerAll.
package nggc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"

	"golang.org/x/sync/errgroup"

	"github.com/gogpu/nggc/ir"
	"github.com/gogpu/nggc/ngg"
)

// Version is the nggc release.
const Version = "0.1.0-dev"

// Job is one shader to lower with its options.
type Job struct {
	Shader  *ir.Shader
	Options ngg.Options
}

// Lower rewrites sh in place for the NGG protocol. It reports whether the
// shader changed.
func Lower(sh *ir.Shader, opts ngg.Options) (bool, error) {
	return ngg.Lower(sh, opts)
}

// LowerAll lowers every job concurrently and returns which shaders changed.
// The first error stops the jobs that have not started yet.
//
// A fatal protocol violation in any shader is re-raised as a *ngg.FatalError
// panic on the calling goroutine once the other jobs have stopped.
func LowerAll(ctx context.Context, jobs []Job) ([]bool, error) {
	changed := make([]bool, len(jobs))
	fatals := make([]*ngg.FatalError, len(jobs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))
	for i, job := range jobs {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			c, err := lowerJob(job, &fatals[i])
			if err != nil {
				return fmt.Errorf("job %d: %w", i, err)
			}
			changed[i] = c
			return nil
		})
	}
	err := g.Wait()
	for _, f := range fatals {
		if f != nil {
			panic(f)
		}
	}
	return changed, err
}

// lowerJob lowers one job and stores a fatal error instead of panicking.
func lowerJob(job Job, fatal **ngg.FatalError) (changed bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			var f *ngg.FatalError
			if e, ok := r.(error); ok && errors.As(e, &f) {
				*fatal = f
				err = f
				return
			}
			panic(r)
		}
	}()
	return ngg.Lower(job.Shader, job.Options)
}

// SetLogger configures the logger of the lowering passes. Pass nil to
// restore the silent default.
func SetLogger(l *slog.Logger) {
	ngg.SetLogger(l)
}

// Logger returns the logger of the lowering passes.
func Logger() *slog.Logger {
	return ngg.Logger()
}
