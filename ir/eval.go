package ir

import (
	"fmt"
	"math"
	"math/bits"
)

// EvalALU computes one component of an ALU operation.
// src holds the raw operand bits and srcBits their widths; the result is
// truncated to bitSize. Floats are IEEE-754 binary32 unless noted.
//
//nolint:gocyclo,cyclop // one case per opcode
func EvalALU(op ALUOp, bitSize uint8, srcBits []uint8, src []uint64) uint64 {
	var a, b, c uint64
	switch len(src) {
	case 3:
		c = src[2]
		fallthrough
	case 2:
		b = src[1]
		fallthrough
	case 1:
		a = src[0]
	}
	w := bitSize
	if len(srcBits) > 0 {
		w = srcBits[0]
	}
	fa, fb, fc := f32(a), f32(b), f32(c)

	var r uint64
	switch op {
	case OpIAdd:
		r = a + b
	case OpISub:
		r = a - b
	case OpIMul:
		r = a * b
	case OpINeg:
		r = -a
	case OpUDiv:
		if b == 0 {
			r = 0
		} else {
			r = a / b
		}
	case OpIDiv:
		sa, sb := sext(a, w), sext(b, w)
		if sb == 0 {
			r = 0
		} else {
			r = uint64(sa / sb)
		}
	case OpUMod:
		if b == 0 {
			r = 0
		} else {
			r = a % b
		}
	case OpUMin:
		r = min(a, b)
	case OpUMax:
		r = max(a, b)
	case OpIMin:
		r = uint64(min(sext(a, w), sext(b, w)))
	case OpIMax:
		r = uint64(max(sext(a, w), sext(b, w)))

	case OpIAnd:
		r = a & b
	case OpIOr:
		r = a | b
	case OpIXor:
		r = a ^ b
	case OpINot:
		r = ^a
	case OpIShl:
		r = a << (b % uint64(w))
	case OpUShr:
		r = a >> (b % uint64(w))
	case OpIShr:
		r = uint64(sext(a, w) >> (b % uint64(w)))
	case OpBitCount:
		r = uint64(bits.OnesCount64(a))
	case OpUBfe:
		off, n := b&31, c&31
		if n == 0 {
			r = 0
		} else {
			r = (a >> off) & (uint64(1)<<n - 1)
		}

	case OpIEq:
		r = b2u(a == b)
	case OpINe:
		r = b2u(a != b)
	case OpULt:
		r = b2u(a < b)
	case OpUGe:
		r = b2u(a >= b)
	case OpILt:
		r = b2u(sext(a, w) < sext(b, w))
	case OpIGe:
		r = b2u(sext(a, w) >= sext(b, w))

	case OpBCsel:
		if a&1 != 0 {
			r = b
		} else {
			r = c
		}

	case OpB2I:
		r = a & 1
	case OpU2U:
		r = a
	case OpI2I:
		r = uint64(sext(a, w))
	case OpF2I:
		r = uint64(int64(int32(clampF(fa, math.MinInt32, math.MaxInt32))))
	case OpF2U:
		r = uint64(uint32(clampF(fa, 0, math.MaxUint32)))
	case OpI2F:
		r = u32f(float32(sext(a, w)))
	case OpU2F:
		r = u32f(float32(a))
	case OpF2F16:
		r = uint64(float32ToHalf(fa))
	case OpF16F2:
		r = u32f(halfToFloat32(uint16(a)))

	case OpFAdd:
		r = u32f(fa + fb)
	case OpFSub:
		r = u32f(fa - fb)
	case OpFMul:
		r = u32f(fa * fb)
	case OpFDiv:
		r = u32f(fa / fb)
	case OpFNeg:
		r = u32f(-fa)
	case OpFAbs:
		r = u32f(float32(math.Abs(float64(fa))))
	case OpFMin:
		r = u32f(fmin(fa, fb))
	case OpFMax:
		r = u32f(fmax(fa, fb))
	case OpFFma:
		r = u32f(float32(math.FMA(float64(fa), float64(fb), float64(fc))))
	case OpFRoundEven:
		r = u32f(float32(math.RoundToEven(float64(fa))))
	case OpFSat:
		r = u32f(fmin(fmax(fa, 0), 1))

	case OpFEq:
		r = b2u(fa == fb)
	case OpFNe:
		r = b2u(fa != fb)
	case OpFLt:
		r = b2u(fa < fb)
	case OpFGe:
		r = b2u(fa >= fb)
	case OpFIsFinite:
		r = b2u(!math.IsInf(float64(fa), 0) && !math.IsNaN(float64(fa)))

	case OpPack64Split:
		r = a&0xffffffff | b<<32
	case OpUnpack64X:
		r = a & 0xffffffff
	case OpUnpack64Y:
		r = a >> 32
	case OpPack32Split16:
		r = a&0xffff | (b&0xffff)<<16
	case OpUnpack32Lo16:
		r = a & 0xffff
	case OpUnpack32Hi16:
		r = (a >> 16) & 0xffff

	case OpUDot4x8:
		r = c
		for i := 0; i < 4; i++ {
			r += ((a >> (8 * i)) & 0xff) * ((b >> (8 * i)) & 0xff)
		}
	case OpSadU8x4:
		r = c
		for i := 0; i < 4; i++ {
			x, y := (a>>(8*i))&0xff, (b>>(8*i))&0xff
			if x > y {
				r += x - y
			} else {
				r += y - x
			}
		}

	default:
		panic(fmt.Sprintf("ir: cannot evaluate %s", op))
	}
	return truncBits(r, bitSize)
}

func b2u(v bool) uint64 {
	if v {
		return 1
	}
	return 0
}

func sext(v uint64, bitSize uint8) int64 {
	if bitSize == 0 || bitSize >= 64 {
		return int64(v)
	}
	shift := 64 - bitSize
	return int64(v<<shift) >> shift
}

func f32(v uint64) float32 {
	return math.Float32frombits(uint32(v))
}

func u32f(f float32) uint64 {
	return uint64(math.Float32bits(f))
}

func clampF(f float32, lo, hi float64) float64 {
	v := float64(f)
	if math.IsNaN(v) {
		return 0
	}
	return math.Max(lo, math.Min(hi, v))
}

// fmin and fmax return the non-NaN operand when exactly one is NaN.
func fmin(x, y float32) float32 {
	switch {
	case isNaN(x):
		return y
	case isNaN(y):
		return x
	case x < y:
		return x
	}
	return y
}

func fmax(x, y float32) float32 {
	switch {
	case isNaN(x):
		return y
	case isNaN(y):
		return x
	case x > y:
		return x
	}
	return y
}

func isNaN(f float32) bool {
	return math.IsNaN(float64(f))
}

func float32ToHalf(f float32) uint16 {
	b := math.Float32bits(f)
	sign := uint16(b>>16) & 0x8000
	exp := int32(b>>23&0xff) - 127 + 15
	mant := b & 0x7fffff
	switch {
	case b&0x7fffffff > 0x7f800000:
		return sign | 0x7e00
	case exp >= 0x1f:
		return sign | 0x7c00
	case exp <= 0:
		if exp < -10 {
			return sign
		}
		mant |= 0x800000
		shift := uint32(14 - exp)
		h := mant >> shift
		if rem := mant & (1<<shift - 1); rem > 1<<(shift-1) || (rem == 1<<(shift-1) && h&1 != 0) {
			h++
		}
		return sign | uint16(h)
	}
	h := uint32(exp)<<10 | mant>>13
	if rem := mant & 0x1fff; rem > 0x1000 || (rem == 0x1000 && h&1 != 0) {
		h++
	}
	return sign | uint16(h)
}

func halfToFloat32(h uint16) float32 {
	sign := uint32(h&0x8000) << 16
	exp := uint32(h>>10) & 0x1f
	mant := uint32(h & 0x3ff)
	switch {
	case exp == 0x1f:
		return math.Float32frombits(sign | 0x7f800000 | mant<<13)
	case exp == 0:
		if mant == 0 {
			return math.Float32frombits(sign)
		}
		e := uint32(127 - 15 + 1)
		for mant&0x400 == 0 {
			mant <<= 1
			e--
		}
		return math.Float32frombits(sign | e<<23 | (mant&0x3ff)<<13)
	}
	return math.Float32frombits(sign | (exp+127-15)<<23 | mant<<13)
}
