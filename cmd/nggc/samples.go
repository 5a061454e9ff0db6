// Copyright 2025 The GoGPU Authors
// SPDX-License-Identifier: MIT

package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/gogpu/nggc/amd"
	"github.com/gogpu/nggc/ngg"
	"github.com/gogpu/nggc/samples"
)

func newSamplesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "samples",
		Short: "List the sample shaders",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			for _, s := range samples.All() {
				fmt.Fprintf(w, "%s\t%s\t%s\n", titleColor.Sprint(s.Name), s.Build().Stage, s.Description)
			}
			return w.Flush()
		},
	}
}

// sampleFlags are the flags shared by the commands that lower a sample.
type sampleFlags struct {
	gfx     string
	options string
}

func (f *sampleFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.gfx, "gfx", "gfx11", "target generation (gfx10, gfx10.3, gfx11, gfx11.5, gfx12)")
	cmd.Flags().StringVar(&f.options, "options", "", "TOML file overriding the lowering options")
}

// resolve looks up the sample and its lowering options.
func (f *sampleFlags) resolve(name string) (samples.Sample, ngg.Options, error) {
	s, ok := samples.Lookup(name)
	if !ok {
		return samples.Sample{}, ngg.Options{}, fmt.Errorf("unknown sample %q; see nggc samples", name)
	}
	gfx, err := amd.ParseGfxLevel(f.gfx)
	if err != nil {
		return samples.Sample{}, ngg.Options{}, err
	}
	opts := s.Options(gfx)
	if f.options != "" {
		if err := loadOptions(f.options, &opts); err != nil {
			return samples.Sample{}, ngg.Options{}, err
		}
	}
	return s, opts, nil
}
