// Copyright 2025 The GoGPU Authors
// SPDX-License-Identifier: MIT

package main

import (
	"fmt"
	"io"
	"maps"
	"slices"

	"github.com/spf13/cobra"

	"github.com/gogpu/nggc"
	"github.com/gogpu/nggc/ir"
	"github.com/gogpu/nggc/sim"
)

func newRunCmd() *cobra.Command {
	var flags sampleFlags
	cmd := &cobra.Command{
		Use:   "run <sample>",
		Short: "Lower a sample shader, run it on the simulator and summarize its exports",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, opts, err := flags.resolve(args[0])
			if err != nil {
				return err
			}
			sh := s.Build()
			if _, err := nggc.Lower(sh, opts); err != nil {
				return err
			}
			cfg, wgs := s.Dispatch(opts, sh)
			dev := sim.NewDevice()
			res, err := sim.Run(cmd.Context(), dev, sh, cfg, wgs)
			if err != nil {
				return err
			}
			return summarize(cmd.OutOrStdout(), sh, dev, res)
		},
	}
	flags.register(cmd)
	return cmd
}

// summarize prints the allocations, exports and barriers of every workgroup
// followed by the query counters.
func summarize(w io.Writer, sh *ir.Shader, dev *sim.Device, res *sim.Result) error {
	fmt.Fprintf(w, "%s %s\n", titleColor.Sprint(sh.Name), sh.Stage)
	for i, wr := range res.Workgroups {
		fmt.Fprintf(w, "workgroup %d\n", i)
		for _, e := range wr.Events {
			if e.Kind == sim.EventAlloc {
				fmt.Fprintf(w, "  alloc             %d vertices, %d primitives\n", e.Value[0], e.Value[1])
			}
		}
		counts := make(map[ir.ExportTarget]int)
		for _, e := range wr.Events {
			if e.Kind == sim.EventExport {
				counts[e.Target]++
			}
		}
		for _, t := range slices.Sorted(maps.Keys(counts)) {
			fmt.Fprintf(w, "  export %-10s %d\n", t, counts[t])
		}
		if n := wr.Count(sim.EventAttrStore); n > 0 {
			fmt.Fprintf(w, "  attribute stores  %d\n", n)
		}
		fmt.Fprintf(w, "  barriers per wave %v\n", wr.Barriers)
	}
	q := dev.Queries
	fmt.Fprintf(w, "queries: generated %v, stream-out %v, invocations %d\n", q.GeneratedPrims, q.XfbPrims, q.Invocations)
	_, err := fmt.Fprintln(w, okColor.Sprint("ok"))
	return err
}
