// Copyright 2025 The GoGPU Authors
// SPDX-License-Identifier: MIT

// Command nggc lowers the built-in sample shaders to the NGG protocol and
// runs them on the reference simulator.
//
// Usage:
//
//	nggc samples                          # List the sample shaders
//	nggc lower triangle --gfx gfx11       # Print the lowered IR
//	nggc lower quad-mesh --format msgpack # Write a binary lowering report
//	nggc run culled-grid --options o.toml # Lower, simulate and summarize
package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/gogpu/nggc"
	"github.com/gogpu/nggc/ngg"
)

var (
	titleColor = color.New(color.FgCyan, color.Bold)
	okColor    = color.New(color.FgGreen)
	errColor   = color.New(color.FgRed, color.Bold)
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "nggc",
		Short:         "NGG shader lowering",
		Long:          "nggc lowers vertex, tessellation evaluation, geometry and mesh shaders to the NGG hardware protocol.",
		Version:       nggc.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			mode, _ := cmd.Flags().GetString("color")
			if err := setColor(mode, cmd.OutOrStdout()); err != nil {
				return err
			}
			if verbose, _ := cmd.Flags().GetBool("verbose"); verbose {
				nggc.SetLogger(slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: slog.LevelDebug})))
			}
			return nil
		},
	}
	root.PersistentFlags().String("color", "auto", "colorize output (auto|on|off)")
	root.PersistentFlags().BoolP("verbose", "v", false, "log lowering decisions to stderr")

	root.AddCommand(newSamplesCmd(), newLowerCmd(), newRunCmd(), newVersionCmd())
	return root
}

func main() {
	defer func() {
		if r := recover(); r != nil {
			if f, ok := r.(*ngg.FatalError); ok {
				fmt.Fprintln(os.Stderr, errColor.Sprint(f.Error()))
				os.Exit(2)
			}
			panic(r)
		}
	}()
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, errColor.Sprint("Error: ", err))
		os.Exit(1)
	}
}

// setColor applies the --color flag. In auto mode output is colored only
// when it goes to a terminal.
func setColor(mode string, w io.Writer) error {
	switch mode {
	case "on":
		color.NoColor = false
	case "off":
		color.NoColor = true
	case "auto":
		f, ok := w.(*os.File)
		color.NoColor = !ok || !term.IsTerminal(int(f.Fd()))
	default:
		return fmt.Errorf("invalid --color %q, want auto, on or off", mode)
	}
	return nil
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the nggc version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "nggc version %s\n", nggc.Version)
		},
	}
}
