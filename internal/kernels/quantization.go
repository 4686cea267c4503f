package kernels

import (
	"github.com/samcharles93/stratum/internal/cpuinfo"
	"github.com/samcharles93/stratum/internal/kernel"
	"github.com/samcharles93/stratum/internal/tensor"
	"github.com/samcharles93/stratum/internal/window"
	"github.com/samcharles93/stratum/pkg/quant"
)

type quantizePlan struct {
	in, out view
	dst     quant.Params
	signed  bool
	lut     *[256]uint8
}

func validateQuantization(s *kernel.Strategy, c *kernel.Config) error {
	if err := wantInputs(s, c, 1, 1); err != nil {
		return err
	}
	in, out := c.Inputs[0].Desc, c.Output.Desc
	if in.DataType() != s.DType {
		return kernel.Invalid(s, "input is %s, strategy handles %s", in.DataType(), s.DType)
	}
	if dt := out.DataType(); dt != tensor.QASYMM8 && dt != tensor.QASYMM8Signed {
		return kernel.Invalid(s, "output is %s, expected qasymm8 or qasymm8_signed", dt)
	}
	if c.Clamp.OrNone() != kernel.NoClamp {
		return kernel.Invalid(s, "quantization takes no clamp")
	}
	return wantShape(s, "output", out, in.Shape())
}

func prepareQuantization(s *kernel.Strategy, c *kernel.Config) (any, error) {
	out := c.Output.Desc
	p := &quantizePlan{
		in:     viewOf(c.Inputs[0].Desc),
		out:    viewOf(out),
		dst:    quant.FromInfo(out.Quant()),
		signed: quant.Signed(out.DataType()),
	}
	if s.DType.IsQuantized() {
		p.lut = requantLUT(quant.FromInfo(c.Inputs[0].Desc.Quant()), quant.Signed(s.DType), p.dst, p.signed)
	}
	return p, nil
}

// requantLUT maps every input byte to its requantised output byte.
func requantLUT(in quant.Params, inSigned bool, out quant.Params, outSigned bool) *[256]uint8 {
	var lut [256]uint8
	for b := range lut {
		lut[b] = quant.Store(quant.Load(byte(b), in, inSigned), out, outSigned)
	}
	return &lut
}

func quantizeGeneric[V lanes](et elemType[V]) func(*kernel.Exec, kernel.Tile) {
	return func(e *kernel.Exec, t kernel.Tile) {
		p := e.Plan.(*quantizePlan)
		src, dst := et.view(e.In(0).Buf), e.Out().Buf
		di, do := p.in.inner(), p.out.inner()
		t.Rows(func(c window.Coordinates, n int) {
			si, so := p.in.offset(c), p.out.offset(c)
			for j := range n {
				dst[so+j*do] = quant.Store(src.at(si+j*di), p.dst, p.signed)
			}
		})
	}
}

// quantizeVector scales a whole block before rounding any of it. Contiguous
// runs only; strided ones take the generic path.
func quantizeVector[V lanes](et elemType[V]) func(*kernel.Exec, kernel.Tile) {
	generic := quantizeGeneric(et)
	return func(e *kernel.Exec, t kernel.Tile) {
		p := e.Plan.(*quantizePlan)
		if p.in.inner() != 1 || p.out.inner() != 1 {
			generic(e, t)
			return
		}
		src, dst := et.view(e.In(0).Buf), e.Out().Buf
		lo, hi := int32(0), int32(255)
		if p.signed {
			lo, hi = -128, 127
		}
		t.Rows(func(c window.Coordinates, n int) {
			si, so := p.in.offset(c), p.out.offset(c)
			blocks(n, func(j, width int) {
				var acc [vecBlock]int32
				for k := range width {
					acc[k] = quant.RoundHalfAwayFromZero(src.at(si+j+k)/p.dst.Scale) + p.dst.Zero
				}
				for k := range width {
					dst[so+j+k] = byte(min(max(acc[k], lo), hi))
				}
			})
		})
	}
}

func requantize(e *kernel.Exec, t kernel.Tile) {
	p := e.Plan.(*quantizePlan)
	src, dst := e.In(0).Buf, e.Out().Buf
	di, do := p.in.inner(), p.out.inner()
	t.Rows(func(c window.Coordinates, n int) {
		si, so := p.in.offset(c), p.out.offset(c)
		for j := range n {
			dst[so+j*do] = p.lut[src[si+j*di]]
		}
	})
}

func registerQuantization(r *kernel.Registry) {
	add := func(name string, dt tensor.DataType, tile []int, caps cpuinfo.Set, routine func(*kernel.Exec, kernel.Tile)) {
		r.Register(&kernel.Strategy{
			Name:     name,
			Op:       kernel.Quantization,
			DType:    dt,
			Requires: caps,
			Tile:     tile,
			Validate: validateQuantization,
			Prepare:  prepareQuantization,
			Run:      kernel.Tiled(routine),
		})
	}
	add("generic_fp32_quantize", tensor.F32, []int{4}, capsBase, quantizeGeneric(fp32))
	add("vec_fp32_quantize", tensor.F32, []int{vecBlock}, capsVector, quantizeVector(fp32))
	add("generic_fp16_quantize", tensor.F16, []int{8}, capsBase, quantizeGeneric(fp16))
	add("vec_fp16_quantize", tensor.F16, []int{vecBlock}, capsVectorFP16, quantizeVector(fp16))
	add("generic_qasymm8_requantize", tensor.QASYMM8, []int{16}, capsBase, requantize)
	add("generic_qasymm8_signed_requantize", tensor.QASYMM8Signed, []int{16}, capsBase, requantize)
}
