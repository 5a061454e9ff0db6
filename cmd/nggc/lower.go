// Copyright 2025 The GoGPU Authors
// SPDX-License-Identifier: MIT

package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/gogpu/nggc"
	"github.com/gogpu/nggc/ir"
	"github.com/gogpu/nggc/ngg"
)

// report describes one lowered shader.
type report struct {
	Shader              string `msgpack:"shader"`
	Stage               string `msgpack:"stage"`
	Gfx                 string `msgpack:"gfx"`
	Changed             bool   `msgpack:"changed"`
	OutputsWritten      uint64 `msgpack:"outputs_written"`
	Outputs16Written    uint16 `msgpack:"outputs16_written"`
	PerPrimitiveOutputs uint64 `msgpack:"per_primitive_outputs"`
	SharedSize          uint32 `msgpack:"shared_size"`
	Expressions         int    `msgpack:"expressions"`
	IR                  string `msgpack:"ir"`
}

func newReport(sh *ir.Shader, opts ngg.Options, changed bool) report {
	return report{
		Shader:              sh.Name,
		Stage:               sh.Stage.String(),
		Gfx:                 opts.Gfx.String(),
		Changed:             changed,
		OutputsWritten:      sh.Info.OutputsWritten,
		Outputs16Written:    sh.Info.Outputs16Written,
		PerPrimitiveOutputs: sh.Info.PerPrimitiveOutputs,
		SharedSize:          sh.Info.SharedSize,
		Expressions:         len(sh.Func.Expressions),
		IR:                  sh.String(),
	}
}

func newLowerCmd() *cobra.Command {
	var (
		flags  sampleFlags
		format string
		output string
	)
	cmd := &cobra.Command{
		Use:   "lower <sample>",
		Short: "Lower a sample shader and print the result",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, opts, err := flags.resolve(args[0])
			if err != nil {
				return err
			}
			sh := s.Build()
			changed, err := nggc.Lower(sh, opts)
			if err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			if output != "" {
				f, err := os.Create(output)
				if err != nil {
					return err
				}
				defer f.Close()
				w = f
			}
			rep := newReport(sh, opts, changed)
			switch format {
			case "text":
				return writeText(w, rep)
			case "msgpack":
				return msgpack.NewEncoder(w).Encode(rep)
			default:
				return fmt.Errorf("invalid --format %q, want text or msgpack", format)
			}
		},
	}
	flags.register(cmd)
	cmd.Flags().StringVar(&format, "format", "text", "output format (text|msgpack)")
	cmd.Flags().StringVarP(&output, "output", "o", "", "output file (default: stdout)")
	return cmd
}

func writeText(w io.Writer, rep report) error {
	if _, err := fmt.Fprintf(w, "%s %s for %s\n", titleColor.Sprint(rep.Shader), rep.Stage, rep.Gfx); err != nil {
		return err
	}
	fmt.Fprintf(w, "  outputs written   %#x\n", rep.OutputsWritten)
	if rep.PerPrimitiveOutputs != 0 {
		fmt.Fprintf(w, "  per-primitive     %#x\n", rep.PerPrimitiveOutputs)
	}
	fmt.Fprintf(w, "  shared memory     %d bytes\n", rep.SharedSize)
	fmt.Fprintf(w, "  expressions       %d\n\n", rep.Expressions)
	_, err := io.WriteString(w, rep.IR)
	return err
}
