package tensor

import (
	"math"

	"github.com/x448/float16"
)

// fp16Table maps every binary16 bit pattern to float32.
var fp16Table = func() [1 << 16]float32 {
	var tbl [1 << 16]float32
	for i := range tbl {
		tbl[i] = float16.Frombits(uint16(i)).Float32()
	}
	return tbl
}()

// F16ToF32 widens a binary16 value.
func F16ToF32(h float16.Float16) float32 {
	return fp16Table[h.Bits()]
}

// F32ToF16 narrows with round-to-nearest-even.
func F32ToF16(f float32) float16.Float16 {
	return float16.Fromfloat32(f)
}

// BF16ToF32 widens a bfloat16 bit pattern.
func BF16ToF32(u uint16) float32 {
	return math.Float32frombits(uint32(u) << 16)
}

// F32ToBF16 narrows with round-to-nearest-even on the dropped 16 bits.
// NaNs stay NaN.
func F32ToBF16(f float32) uint16 {
	u := math.Float32bits(f)
	if u&0x7F800000 == 0x7F800000 && u&0x007FFFFF != 0 {
		return uint16(u>>16) | 0x40
	}
	rnd := uint32(0x7FFF + ((u >> 16) & 1))
	return uint16((u + rnd) >> 16)
}

// EncodeF16 converts src into a freshly allocated binary16 slice.
func EncodeF16(src []float32) []float16.Float16 {
	out := make([]float16.Float16, len(src))
	for i, v := range src {
		out[i] = float16.Fromfloat32(v)
	}
	return out
}

// DecodeF16 widens src into dst, which must be at least as long.
func DecodeF16(dst []float32, src []float16.Float16) {
	dst = dst[:len(src)]
	for i, h := range src {
		dst[i] = fp16Table[h.Bits()]
	}
}

// RoundF16 rounds f through binary16 and back.
func RoundF16(f float32) float32 {
	return fp16Table[float16.Fromfloat32(f).Bits()]
}
