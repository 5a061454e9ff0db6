// Copyright 2025 The GoGPU Authors
// SPDX-License-Identifier: MIT

// Package amd describes the GPU generations targeted by NGG lowering and the
// bit layouts of their export protocol.
package amd

import (
	"fmt"
	"strings"
)

// GfxLevel is a graphics IP generation.
type GfxLevel uint8

// Supported generations, oldest first.
const (
	GFX10 GfxLevel = iota + 1
	GFX10_3
	GFX11
	GFX11_5
	GFX12
)

var gfxNames = map[GfxLevel]string{
	GFX10:   "gfx10",
	GFX10_3: "gfx10.3",
	GFX11:   "gfx11",
	GFX11_5: "gfx11.5",
	GFX12:   "gfx12",
}

// String returns the generation name.
func (g GfxLevel) String() string {
	if n, ok := gfxNames[g]; ok {
		return n
	}
	return fmt.Sprintf("gfx(%d)", uint8(g))
}

// Valid reports whether g is a known generation.
func (g GfxLevel) Valid() bool {
	_, ok := gfxNames[g]
	return ok
}

// ParseGfxLevel parses names such as "gfx10.3" or "GFX11".
func ParseGfxLevel(s string) (GfxLevel, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for g, n := range gfxNames {
		if n == s || strings.ReplaceAll(n, ".", "_") == s {
			return g, nil
		}
	}
	return 0, fmt.Errorf("unknown gfx level %q", s)
}

// MarshalText implements encoding.TextMarshaler.
func (g GfxLevel) MarshalText() ([]byte, error) {
	if !g.Valid() {
		return nil, fmt.Errorf("unknown gfx level %d", uint8(g))
	}
	return []byte(g.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (g *GfxLevel) UnmarshalText(text []byte) error {
	v, err := ParseGfxLevel(string(text))
	if err != nil {
		return err
	}
	*g = v
	return nil
}

// MaxLDSSize is the largest shared memory allocation of a workgroup.
const MaxLDSSize = 32 * 1024
