package kernels

import (
	"github.com/samcharles93/stratum/internal/cpuinfo"
	"github.com/samcharles93/stratum/internal/kernel"
	"github.com/samcharles93/stratum/internal/tensor"
	"github.com/samcharles93/stratum/internal/window"
	"github.com/samcharles93/stratum/pkg/quant"
)

type activationPlan struct {
	in, out view
	params  kernel.ActivationParams
	clamp   kernel.Clamp
	lut     *[256]uint8
}

func validateActivation(s *kernel.Strategy, c *kernel.Config) error {
	if err := wantInputs(s, c, 1, 1); err != nil {
		return err
	}
	if _, err := paramsOf[kernel.ActivationParams](s, c); err != nil {
		return err
	}
	if err := sameType(s, c, true); err != nil {
		return err
	}
	// Only the quantisation may differ, and only by requantising.
	in, out := c.Inputs[0].Desc, c.Output.Desc
	if s.DType.IsQuantized() {
		out = out.WithQuant(in.Quant())
	}
	if !in.SameMeta(out) {
		return kernel.Invalid(s, "output %s does not match input %s", c.Output.Desc, in)
	}
	return nil
}

func prepareActivation(s *kernel.Strategy, c *kernel.Config) (any, error) {
	p := &activationPlan{
		in:     viewOf(c.Inputs[0].Desc),
		out:    viewOf(c.Output.Desc),
		params: c.Params.(kernel.ActivationParams),
		clamp:  c.Clamp.OrNone(),
	}
	if s.DType == tensor.QASYMM8 {
		p.lut = activationLUT(p.params, p.clamp, quant.FromInfo(c.Inputs[0].Desc.Quant()), quant.FromInfo(c.Output.Desc.Quant()))
	}
	return p, nil
}

// activationLUT precomputes the requantised result for every input byte.
func activationLUT(p kernel.ActivationParams, clamp kernel.Clamp, in, out quant.Params) *[256]uint8 {
	var lut [256]uint8
	for q := range lut {
		v := clamp.Apply(p.Eval(quant.DequantiseU8(uint8(q), in)))
		lut[q] = quant.QuantiseU8(v, out)
	}
	return &lut
}

func activationGeneric[V lanes](et elemType[V]) func(*kernel.Exec, kernel.Tile) {
	return func(e *kernel.Exec, t kernel.Tile) {
		p := e.Plan.(*activationPlan)
		src, dst := et.view(e.In(0).Buf), et.view(e.Out().Buf)
		di, do := p.in.inner(), p.out.inner()
		t.Rows(func(c window.Coordinates, n int) {
			si, so := p.in.offset(c), p.out.offset(c)
			for j := range n {
				dst.set(so+j*do, p.clamp.Apply(p.params.Eval(src.at(si+j*di))))
			}
		})
	}
}

func activationVector[V lanes](et elemType[V]) func(*kernel.Exec, kernel.Tile) {
	generic := activationGeneric(et)
	return func(e *kernel.Exec, t kernel.Tile) {
		p := e.Plan.(*activationPlan)
		if p.in.inner() != 1 || p.out.inner() != 1 {
			generic(e, t)
			return
		}
		src, dst := et.view(e.In(0).Buf), et.view(e.Out().Buf)
		t.Rows(func(c window.Coordinates, n int) {
			si, so := p.in.offset(c), p.out.offset(c)
			blocks(n, func(j, width int) {
				var acc [vecBlock]float32
				for k := range width {
					acc[k] = p.params.Eval(src.at(si + j + k))
				}
				for k := range width {
					dst.set(so+j+k, p.clamp.Apply(acc[k]))
				}
			})
		})
	}
}

func activationQASYMM8(e *kernel.Exec, t kernel.Tile) {
	p := e.Plan.(*activationPlan)
	src, dst := e.In(0).Buf, e.Out().Buf
	di, do := p.in.inner(), p.out.inner()
	t.Rows(func(c window.Coordinates, n int) {
		si, so := p.in.offset(c), p.out.offset(c)
		for j := range n {
			dst[so+j*do] = p.lut[src[si+j*di]]
		}
	})
}

func registerActivation(r *kernel.Registry) {
	add := func(name string, dt tensor.DataType, tile []int, caps cpuinfo.Set, routine func(*kernel.Exec, kernel.Tile)) {
		r.Register(&kernel.Strategy{
			Name:     name,
			Op:       kernel.Activation,
			DType:    dt,
			Requires: caps,
			Tile:     tile,
			Validate: validateActivation,
			Prepare:  prepareActivation,
			Run:      kernel.Tiled(routine),
		})
	}
	add("generic_fp32_act", tensor.F32, []int{4}, capsBase, activationGeneric(fp32))
	add("vec_fp32_act", tensor.F32, []int{vecBlock}, capsVector, activationVector(fp32))
	add("generic_fp16_act", tensor.F16, []int{8}, capsBase, activationGeneric(fp16))
	add("vec_fp16_act", tensor.F16, []int{vecBlock}, capsVectorFP16, activationVector(fp16))
	add("generic_qasymm8_act", tensor.QASYMM8, []int{16}, capsBase, activationQASYMM8)
}
