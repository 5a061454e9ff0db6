// Copyright 2025 The GoGPU Authors
// SPDX-License-Identifier: MIT

package amd

import "golang.org/x/exp/constraints"

// AlignUp rounds v up to a multiple of a. a must be a power of two.
func AlignUp[T constraints.Unsigned](v, a T) T {
	return (v + a - 1) &^ (a - 1)
}

// DivRoundUp returns ceil(v / d).
func DivRoundUp[T constraints.Unsigned](v, d T) T {
	return (v + d - 1) / d
}
