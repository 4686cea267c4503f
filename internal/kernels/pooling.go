package kernels

import (
	"github.com/samcharles93/stratum/internal/cpuinfo"
	"github.com/samcharles93/stratum/internal/kernel"
	"github.com/samcharles93/stratum/internal/status"
	"github.com/samcharles93/stratum/internal/tensor"
	"github.com/samcharles93/stratum/internal/window"
)

type poolingPlan struct {
	in, out view
	p       kernel.PoolingParams
	h, w    int
	clamp   kernel.Clamp
}

// window returns the valid input rows and columns for output (oy, ox) and
// the divisor an average over that window uses.
func (p *poolingPlan) window(oy, ox int) (y0, y1, x0, x1, count int) {
	pad := p.p.Pad
	y0 = oy*pad.StrideY - pad.PadTop
	x0 = ox*pad.StrideX - pad.PadLeft
	y1 = min(y0+p.p.KernelH, p.h+pad.PadBottom)
	x1 = min(x0+p.p.KernelW, p.w+pad.PadRight)
	count = (y1 - y0) * (x1 - x0)
	y0, x0 = max(y0, 0), max(x0, 0)
	y1, x1 = min(y1, p.h), min(x1, p.w)
	if p.p.ExcludePadding {
		count = (y1 - y0) * (x1 - x0)
	}
	return y0, y1, x0, x1, max(count, 1)
}

func validatePooling(s *kernel.Strategy, c *kernel.Config) error {
	if err := wantInputs(s, c, 1, 1); err != nil {
		return err
	}
	p, err := paramsOf[kernel.PoolingParams](s, c)
	if err != nil {
		return err
	}
	if err := p.Check(); err != nil {
		return kernel.Invalid(s, "%s", status.Reason(err))
	}
	if p.Pad.PadLeft >= p.KernelW || p.Pad.PadRight >= p.KernelW || p.Pad.PadTop >= p.KernelH || p.Pad.PadBottom >= p.KernelH {
		return kernel.Invalid(s, "padding must be smaller than the %dx%d pool", p.KernelW, p.KernelH)
	}
	if err := sameType(s, c, false); err != nil {
		return err
	}
	in := c.Inputs[0].Desc
	if err := wantRank(s, "input", in, 4); err != nil {
		return err
	}
	oh, ow, err := p.OutputHW(in.Dim(1), in.Dim(2))
	if err != nil {
		return kernel.Invalid(s, "%s", status.Reason(err))
	}
	return wantShape(s, "output", c.Output.Desc, tensor.Shape{in.Dim(0), oh, ow, in.Dim(3)})
}

func preparePooling(s *kernel.Strategy, c *kernel.Config) (any, error) {
	in := c.Inputs[0].Desc
	return &poolingPlan{
		in:    viewOf(in),
		out:   viewOf(c.Output.Desc),
		p:     c.Params.(kernel.PoolingParams),
		h:     in.Dim(1),
		w:     in.Dim(2),
		clamp: c.Clamp.OrNone(),
	}, nil
}

// poolingGeneric visits the pool window once per output channel.
func poolingGeneric[V lanes](et elemType[V]) func(*kernel.Exec, kernel.Tile) {
	return func(e *kernel.Exec, t kernel.Tile) {
		p := e.Plan.(*poolingPlan)
		src, dst := et.view(e.In(0).Buf), et.view(e.Out().Buf)
		isMax := p.p.Type == kernel.PoolMax
		sy, sx, sc := p.in.strides[1], p.in.strides[2], p.in.strides[3]
		t.Rows(func(c window.Coordinates, n int) {
			y0, y1, x0, x1, count := p.window(c[1], c[2])
			base := p.in.base + c[0]*p.in.strides[0] + c[3]*sc
			so, do := p.out.offset(c), p.out.inner()
			for j := range n {
				acc := float32(0)
				if isMax {
					acc = negInf
				}
				for y := y0; y < y1; y++ {
					for x := x0; x < x1; x++ {
						v := src.at(base + y*sy + x*sx + j*sc)
						if isMax {
							acc = max(acc, v)
						} else {
							acc += v
						}
					}
				}
				if !isMax {
					acc /= float32(count)
				}
				dst.set(so+j*do, p.clamp.Apply(acc))
			}
		})
	}
}

// poolingDepthfirst walks the window once per channel block, keeping a
// block of accumulators live across the whole window.
func poolingDepthfirst[V lanes](et elemType[V]) func(*kernel.Exec, kernel.Tile) {
	generic := poolingGeneric(et)
	return func(e *kernel.Exec, t kernel.Tile) {
		p := e.Plan.(*poolingPlan)
		if p.in.inner() != 1 || p.out.inner() != 1 {
			generic(e, t)
			return
		}
		src, dst := et.view(e.In(0).Buf), et.view(e.Out().Buf)
		isMax := p.p.Type == kernel.PoolMax
		sy, sx := p.in.strides[1], p.in.strides[2]
		t.Rows(func(c window.Coordinates, n int) {
			y0, y1, x0, x1, count := p.window(c[1], c[2])
			base := p.in.base + c[0]*p.in.strides[0] + c[3]
			so := p.out.offset(c)
			blocks(n, func(j, width int) {
				var acc [vecBlock]float32
				if isMax {
					for k := range width {
						acc[k] = negInf
					}
				}
				for y := y0; y < y1; y++ {
					for x := x0; x < x1; x++ {
						row := base + y*sy + x*sx + j
						if isMax {
							for k := range width {
								acc[k] = max(acc[k], src.at(row+k))
							}
						} else {
							for k := range width {
								acc[k] += src.at(row + k)
							}
						}
					}
				}
				for k := range width {
					v := acc[k]
					if !isMax {
						v /= float32(count)
					}
					dst.set(so+j+k, p.clamp.Apply(v))
				}
			})
		})
	}
}

func registerPooling(r *kernel.Registry) {
	add := func(name string, dt tensor.DataType, tile []int, caps cpuinfo.Set, routine func(*kernel.Exec, kernel.Tile)) {
		r.Register(&kernel.Strategy{
			Name:     name,
			Op:       kernel.Pooling,
			DType:    dt,
			Layout:   tensor.NHWC,
			Requires: caps,
			Tile:     tile,
			Validate: validatePooling,
			Prepare:  preparePooling,
			Run:      kernel.Tiled(routine),
		})
	}
	add("generic_fp32_nhwc_pool_depthfirst", tensor.F32, []int{1, 1, 1, 4}, capsBase, poolingGeneric(fp32))
	add("vec_fp32_nhwc_pool_depthfirst", tensor.F32, []int{1, 1, 1, vecBlock}, capsVector, poolingDepthfirst(fp32))
	add("generic_fp16_nhwc_pool_depthfirst", tensor.F16, []int{1, 1, 1, 8}, capsBase, poolingGeneric(fp16))
	add("vec_fp16_nhwc_pool_depthfirst", tensor.F16, []int{1, 1, 1, vecBlock}, capsVectorFP16, poolingDepthfirst(fp16))
}
