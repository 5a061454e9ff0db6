// Copyright 2025 The GoGPU Authors
// SPDX-License-Identifier: MIT

package ngg

import (
	"fmt"

	"fortio.org/safecast"

	"github.com/gogpu/nggc/amd"
	"github.com/gogpu/nggc/ir"
)

// RepackConfig describes the workgroup a repack runs in.
type RepackConfig struct {
	HW       amd.HWInfo
	WaveSize int
	// MaxWaves is the compile-time bound on waves per workgroup.
	MaxWaves int
	// Scratch is the shared memory byte address of RepackScratchSize bytes.
	Scratch uint32
}

// RepackResult is the dense numbering of the invocations where a predicate
// holds. Index is only meaningful in those invocations.
type RepackResult struct {
	Count ir.ExpressionHandle
	Index ir.ExpressionHandle
}

// RepackScratchSize returns the shared memory used by n simultaneous
// repacks: one byte per wave, rounded up to dwords.
func RepackScratchSize(maxWaves, n int) uint32 {
	if maxWaves <= 1 {
		return 0
	}
	return amd.DivRoundUp(safecast.MustConv[uint32](maxWaves), 4) * 4 * safecast.MustConv[uint32](n)
}

// Repack numbers the invocations of the workgroup where each predicate of
// live holds. It takes one or two predicates and must run in uniform
// control flow, because it contains a workgroup barrier when the workgroup
// may have more than one wave. Repacks issued one after the other need
// separate scratch areas.
func Repack(b *ir.Builder, cfg RepackConfig, live ...ir.ExpressionHandle) []RepackResult {
	if len(live) == 0 || len(live) > 2 {
		panic(fmt.Sprintf("ngg: repack of %d predicates", len(live)))
	}
	masks := make([]ir.ExpressionHandle, len(live))
	counts := make([]ir.ExpressionHandle, len(live))
	for i, p := range live {
		masks[i] = b.Ballot(p)
		counts[i] = b.BitCount(masks[i])
	}

	out := make([]RepackResult, len(live))
	if cfg.MaxWaves <= 1 {
		for i := range live {
			out[i] = RepackResult{Count: counts[i], Index: b.Mbcnt(masks[i], b.Const32(0))}
		}
		return out
	}
	if cfg.MaxWaves > MaxWaves {
		panic(fmt.Sprintf("ngg: repack across %d waves", cfg.MaxWaves))
	}

	dwords := safecast.MustConv[uint8](amd.DivRoundUp(safecast.MustConv[uint32](cfg.MaxWaves), 4))
	region := uint32(dwords) * 4
	waveID := b.SubgroupID()
	lane := b.SubgroupInvocation()

	// One byte per wave and predicate.
	if len(live) == 1 {
		b.If(b.Elect(), func() {
			b.StoreShared(b.U2U(counts[0], 8), waveID, cfg.Scratch)
		})
	} else {
		b.If(b.IEqImm(lane, 0), func() {
			b.StoreShared(b.U2U(counts[0], 8), waveID, cfg.Scratch)
		})
		b.If(b.IEqImm(lane, 16), func() {
			b.StoreShared(b.U2U(counts[1], 8), waveID, cfg.Scratch+region)
		})
	}
	b.WorkgroupBarrier()

	// Lanes 0-15 work on the first predicate, lanes 16-31 on the second.
	zero := b.Const32(0)
	var packed ir.ExpressionHandle
	if len(live) == 1 {
		packed = b.LoadShared(dwords, 32, zero, cfg.Scratch)
	} else {
		tmp := b.Local("repack_counts", dwords, 32)
		b.If(b.IEqImm(b.IAndImm(lane, 15), 0), func() {
			addr := b.IMulImm(b.UBfeImm(lane, 4, 1), uint64(region))
			b.StoreLocal(tmp, b.LoadShared(dwords, 32, addr, cfg.Scratch))
		})
		packed = b.LanePermute16(b.LoadLocal(tmp))
	}

	sum := prefixSum(b, cfg.HW, packed, b.IAndImm(lane, 15))

	numWaves := b.NumSubgroups()
	for i := range live {
		row := uint64(16 * i)
		total := b.ReadInvocation(sum, b.IAddImm(b.ISub(numWaves, b.Const32(1)), row))
		inclusive := b.ReadInvocation(sum, b.IAddImm(waveID, row))
		before := b.ISub(inclusive, counts[i])
		out[i] = RepackResult{Count: total, Index: b.Mbcnt(masks[i], before)}
	}
	return out
}

// prefixSum returns, in every lane, the sum of the per-wave count bytes
// 0..rowLane of packed. It uses a dot product with a mask of ones where the
// hardware has one, and a masked sum of absolute differences otherwise.
func prefixSum(b *ir.Builder, hw amd.HWInfo, packed, rowLane ir.ExpressionHandle) ir.ExpressionHandle {
	sum := b.Const32(0)
	for d := 0; d < int(b.Components(packed)); d++ {
		first := uint64(4 * d)
		// Bytes of dword d below or at rowLane. shift is 24 for the lowest lane
		// that sees the dword and 0 once the whole dword is covered.
		covered := b.UMin(rowLane, b.Const32(uint32(first)+3))
		shift := b.IMulImm(b.ISub(b.Const32(uint32(first)+3), covered), 8)
		word := b.Channel(packed, d)

		var part ir.ExpressionHandle
		if hw.HasUdot4x8 {
			part = b.ALU(ir.OpUDot4x8, word, b.UShr(b.Const32(0x01010101), shift), sum)
		} else {
			masked := b.IAnd(word, b.UShr(b.Const32(0xffffffff), shift))
			part = b.ALU(ir.OpSadU8x4, masked, b.Const32(0), sum)
		}
		if d == 0 {
			sum = part
			continue
		}
		sum = b.BCsel(b.ULtImm(rowLane, first), sum, part)
	}
	return sum
}
