// Package kernels holds the portable leaf strategies registered into the
// CPU registry. Each operator has a generic Base strategy plus specialised
// ones that process whole vector blocks and bit-test the tail.
package kernels

import (
	"math"

	"github.com/x448/float16"

	"github.com/samcharles93/stratum/internal/cpuinfo"
	"github.com/samcharles93/stratum/internal/kernel"
	"github.com/samcharles93/stratum/internal/tensor"
	"github.com/samcharles93/stratum/internal/window"
)

// lanes is a typed view over a tensor buffer that loads and stores in fp32.
type lanes interface {
	at(i int) float32
	set(i int, v float32)
}

type f32s []float32

func (s f32s) at(i int) float32     { return s[i] }
func (s f32s) set(i int, v float32) { s[i] = v }

// f16s widens on load and rounds to nearest even once on store.
type f16s []float16.Float16

func (s f16s) at(i int) float32     { return tensor.F16ToF32(s[i]) }
func (s f16s) set(i int, v float32) { s[i] = tensor.F32ToF16(v) }

func f32View(b tensor.Buffer) f32s { return f32s(b.Float32s()) }
func f16View(b tensor.Buffer) f16s { return f16s(b.Float16s()) }

// elemType ties a lane view to its constructor so routines can be
// instantiated per data type.
type elemType[V lanes] struct {
	dt   tensor.DataType
	view func(tensor.Buffer) V
	tag  string
}

var (
	fp32 = elemType[f32s]{dt: tensor.F32, view: f32View, tag: "fp32"}
	fp16 = elemType[f16s]{dt: tensor.F16, view: f16View, tag: "fp16"}
)

// Capability sets used by the strategy tables.
var (
	capsBase       = cpuinfo.Of(cpuinfo.Base)
	capsVector     = cpuinfo.Of(cpuinfo.Base, cpuinfo.Vector)
	capsVectorFP16 = cpuinfo.Of(cpuinfo.Base, cpuinfo.Vector, cpuinfo.FP16)
	capsVectorSVE  = cpuinfo.Of(cpuinfo.Base, cpuinfo.Vector, cpuinfo.SVE)
)

// vecBlock is the number of lanes the specialised strategies process per
// main-loop iteration.
const vecBlock = 16

// view binds a tensor's element strides and base offset.
type view struct {
	strides []int
	base    int
}

func viewOf(d tensor.Descriptor) view {
	return view{strides: d.ElemStrides(), base: d.ElemOffset()}
}

func (v view) offset(c window.Coordinates) int {
	return kernel.Offset(v.base, v.strides, c)
}

func (v view) inner() int {
	if len(v.strides) == 0 {
		return 0
	}
	return v.strides[len(v.strides)-1]
}

var negInf = float32(math.Inf(-1))

// blocks walks n lanes in whole vecBlock blocks, then hands the remainder
// over in bit-tested decreasing widths 8, 4, 2 and 1.
func blocks(n int, fn func(j, width int)) {
	j := 0
	for ; j+vecBlock <= n; j += vecBlock {
		fn(j, vecBlock)
	}
	for w := vecBlock / 2; w > 0; w >>= 1 {
		if (n-j)&w != 0 {
			fn(j, w)
			j += w
		}
	}
}
