// Package quant implements the affine quantisation used by the quantised
// tensor types: real = scale * (q - zero).
package quant

import (
	"math"

	"github.com/samcharles93/stratum/internal/tensor"
)

// Params is one scale and zero point.
type Params struct {
	Scale float32
	Zero  int32
}

// FromInfo returns the per-tensor parameters held by q.
func FromInfo(q tensor.QuantInfo) Params {
	scale, zero := q.Uniform()
	return Params{Scale: scale, Zero: zero}
}

// RoundHalfAwayFromZero rounds like the integer kernels do.
func RoundHalfAwayFromZero(v float32) int32 {
	return int32(math.Round(float64(v)))
}

// QuantiseU8 maps v onto [0, 255].
func QuantiseU8(v float32, p Params) uint8 {
	q := RoundHalfAwayFromZero(v/p.Scale) + p.Zero
	return uint8(min(max(q, 0), 255))
}

// QuantiseS8 maps v onto [-128, 127].
func QuantiseS8(v float32, p Params) int8 {
	q := RoundHalfAwayFromZero(v/p.Scale) + p.Zero
	return int8(min(max(q, -128), 127))
}

// DequantiseU8 returns the real value of q.
func DequantiseU8(q uint8, p Params) float32 {
	return float32(int32(q)-p.Zero) * p.Scale
}

// DequantiseS8 returns the real value of q.
func DequantiseS8(q int8, p Params) float32 {
	return float32(int32(q)-p.Zero) * p.Scale
}

// Store quantises v into one byte of a QASYMM8 or, with signed set,
// QASYMM8_SIGNED buffer.
func Store(v float32, p Params, signed bool) byte {
	if signed {
		return byte(QuantiseS8(v, p))
	}
	return QuantiseU8(v, p)
}

// Load is the inverse of Store.
func Load(b byte, p Params, signed bool) float32 {
	if signed {
		return DequantiseS8(int8(b), p)
	}
	return DequantiseU8(b, p)
}

// Signed reports whether dt stores two's complement bytes.
func Signed(dt tensor.DataType) bool {
	return dt == tensor.QASYMM8Signed
}
