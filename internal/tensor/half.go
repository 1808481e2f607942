package tensor

import "math"

// IEEE 754 half-precision conversion helpers. Checkpoints may store F16 or
// BF16 weights, and fp16 export needs the reverse direction.

// Float16ToFloat32 converts an IEEE 754 half-precision value.
func Float16ToFloat32(h uint16) float32 {
	sign := uint32(h>>15) & 1
	exp := uint32(h>>10) & 0x1f
	frac := uint32(h) & 0x3ff

	var bits uint32
	switch {
	case exp == 0:
		if frac == 0 {
			// Signed zero
			bits = sign << 31
		} else {
			// Subnormal: normalize
			e := uint32(127 - 15 + 1)
			for frac&0x400 == 0 {
				frac <<= 1
				e--
			}
			frac &= 0x3ff
			bits = sign<<31 | e<<23 | frac<<13
		}
	case exp == 0x1f:
		// Inf or NaN
		bits = sign<<31 | 0xff<<23 | frac<<13
	default:
		bits = sign<<31 | (exp+127-15)<<23 | frac<<13
	}
	return math.Float32frombits(bits)
}

// Float32ToFloat16 converts to IEEE 754 half precision with
// round-to-nearest-even. Overflow saturates to infinity.
func Float32ToFloat16(f float32) uint16 {
	bits := math.Float32bits(f)
	sign := uint16(bits>>16) & 0x8000
	exp := int32(bits>>23&0xff) - 127 + 15
	frac := bits & 0x7fffff

	switch {
	case exp >= 0x1f:
		if bits&0x7fffffff > 0x7f800000 {
			// NaN: keep a non-zero mantissa
			return sign | 0x7e00
		}
		return sign | 0x7c00 // Inf / overflow
	case exp <= 0:
		if exp < -10 {
			return sign // Underflow to signed zero
		}
		// Subnormal half
		frac |= 0x800000
		shift := uint32(14 - exp)
		half := uint16(frac >> shift)
		round := frac >> (shift - 1) & 1
		sticky := frac&(1<<(shift-1)-1) != 0
		if round == 1 && (sticky || half&1 == 1) {
			half++
		}
		return sign | half
	default:
		half := sign | uint16(exp)<<10 | uint16(frac>>13)
		round := frac >> 12 & 1
		sticky := frac&0xfff != 0
		if round == 1 && (sticky || half&1 == 1) {
			half++ // Carry may roll into the exponent; that is correct rounding
		}
		return half
	}
}

// BFloat16ToFloat32 converts a bfloat16 value (truncated float32).
func BFloat16ToFloat32(b uint16) float32 {
	return math.Float32frombits(uint32(b) << 16)
}

// Float32ToBFloat16 converts to bfloat16 with round-to-nearest-even.
func Float32ToBFloat16(f float32) uint16 {
	bits := math.Float32bits(f)
	if bits&0x7fffffff > 0x7f800000 {
		return uint16(bits>>16) | 0x40 // Quiet NaN
	}
	round := bits >> 15 & 1
	sticky := bits&0x7fff != 0
	b := uint16(bits >> 16)
	if round == 1 && (sticky || b&1 == 1) {
		b++
	}
	return b
}
