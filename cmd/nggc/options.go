// Copyright 2025 The GoGPU Authors
// SPDX-License-Identifier: MIT

package main

import (
	"fmt"

	"github.com/BurntSushi/toml"

	"github.com/gogpu/nggc/ngg"
)

// loadOptions overlays the keys of a TOML file on opts. Unknown keys are
// an error so that typos do not go unnoticed.
func loadOptions(path string, opts *ngg.Options) error {
	meta, err := toml.DecodeFile(path, opts)
	if err != nil {
		return fmt.Errorf("options %s: %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return fmt.Errorf("options %s: unknown key %q", path, undecoded[0].String())
	}
	return opts.Validate()
}
