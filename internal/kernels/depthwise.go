package kernels

import (
	"github.com/samcharles93/stratum/internal/cpuinfo"
	"github.com/samcharles93/stratum/internal/kernel"
	"github.com/samcharles93/stratum/internal/status"
	"github.com/samcharles93/stratum/internal/tensor"
	"github.com/samcharles93/stratum/internal/window"
)

type depthwisePlan struct {
	in, wts, bias, out view
	hasBias            bool
	kh, kw             int
	h, w               int
	strideY, strideX   int
	padTop, padLeft    int
	dilY, dilX         int
	clamp              kernel.Clamp
}

// depthwiseShape describes a specialised kernel's fixed geometry. Zero
// fields accept anything.
type depthwiseShape struct {
	kernel int
	stride int
}

func validateDepthwise(fixed depthwiseShape) func(*kernel.Strategy, *kernel.Config) error {
	return func(s *kernel.Strategy, c *kernel.Config) error {
		if err := wantInputs(s, c, 2, 3); err != nil {
			return err
		}
		p, err := paramsOf[kernel.DepthwiseParams](s, c)
		if err != nil {
			return err
		}
		if err := p.Check(); err != nil {
			return kernel.Invalid(s, "%s", status.Reason(err))
		}
		if err := sameType(s, c, false); err != nil {
			return err
		}
		in, wts := c.Inputs[0].Desc, c.Inputs[1].Desc
		if err := wantRank(s, "input", in, 4); err != nil {
			return err
		}
		if err := wantRank(s, "weights", wts, 3); err != nil {
			return err
		}
		ch := in.Dim(3)
		if wts.Dim(2) != ch {
			return kernel.Invalid(s, "weights have %d channels, input has %d", wts.Dim(2), ch)
		}
		if len(c.Inputs) == 3 {
			if err := wantShape(s, "bias", c.Inputs[2].Desc, tensor.Shape{ch}); err != nil {
				return err
			}
		}
		kh, kw := wts.Dim(0), wts.Dim(1)
		dx, dy := p.Dilations()
		if fixed.kernel != 0 && (kh != fixed.kernel || kw != fixed.kernel) {
			return kernel.Invalid(s, "kernel %dx%d not supported, need %dx%d", kh, kw, fixed.kernel, fixed.kernel)
		}
		if fixed.stride != 0 && (p.Pad.StrideX != fixed.stride || p.Pad.StrideY != fixed.stride) {
			return kernel.Invalid(s, "stride %dx%d not supported, need %dx%d", p.Pad.StrideX, p.Pad.StrideY, fixed.stride, fixed.stride)
		}
		if fixed.kernel != 0 && (dx != 1 || dy != 1) {
			return kernel.Invalid(s, "dilation %dx%d not supported", dx, dy)
		}
		oh, err := kernel.ConvOutputSize(in.Dim(1), kh, p.Pad.StrideY, p.Pad.PadTop, p.Pad.PadBottom, dy)
		if err != nil {
			return kernel.Invalid(s, "%s", status.Reason(err))
		}
		ow, err := kernel.ConvOutputSize(in.Dim(2), kw, p.Pad.StrideX, p.Pad.PadLeft, p.Pad.PadRight, dx)
		if err != nil {
			return kernel.Invalid(s, "%s", status.Reason(err))
		}
		return wantShape(s, "output", c.Output.Desc, tensor.Shape{in.Dim(0), oh, ow, ch})
	}
}

func prepareDepthwise(s *kernel.Strategy, c *kernel.Config) (any, error) {
	p := c.Params.(kernel.DepthwiseParams)
	in, wts := c.Inputs[0].Desc, c.Inputs[1].Desc
	dx, dy := p.Dilations()
	plan := &depthwisePlan{
		in:      viewOf(in),
		wts:     viewOf(wts),
		out:     viewOf(c.Output.Desc),
		kh:      wts.Dim(0),
		kw:      wts.Dim(1),
		h:       in.Dim(1),
		w:       in.Dim(2),
		strideY: p.Pad.StrideY,
		strideX: p.Pad.StrideX,
		padTop:  p.Pad.PadTop,
		padLeft: p.Pad.PadLeft,
		dilY:    dy,
		dilX:    dx,
		clamp:   c.Clamp.OrNone(),
	}
	if len(c.Inputs) == 3 {
		plan.bias = viewOf(c.Inputs[2].Desc)
		plan.hasBias = true
	}
	return plan, nil
}

type depthwiseBufs struct {
	src, wts, bias, dst lanes
}

func bindDepthwise[V lanes](et elemType[V], e *kernel.Exec) depthwiseBufs {
	b := depthwiseBufs{
		src: et.view(e.In(0).Buf),
		wts: et.view(e.In(1).Buf),
		dst: et.view(e.Out().Buf),
	}
	if len(e.Config.Inputs) == 3 {
		b.bias = et.view(e.In(2).Buf)
	}
	return b
}

// accumulate computes output (n, oy, ox) for channels [ch, ch+width) into
// acc. Taps are summed in kernel row-major order starting from the bias.
func (p *depthwisePlan) accumulate(b depthwiseBufs, acc *[vecBlock]float32, n, oy, ox, ch, width int) {
	for k := range width {
		acc[k] = 0
		if p.hasBias {
			acc[k] = b.bias.at(p.bias.base + (ch+k)*p.bias.strides[0])
		}
	}
	is, ws := p.in.strides, p.wts.strides
	for ky := range p.kh {
		iy := oy*p.strideY - p.padTop + ky*p.dilY
		if iy < 0 || iy >= p.h {
			continue
		}
		for kx := range p.kw {
			ix := ox*p.strideX - p.padLeft + kx*p.dilX
			if ix < 0 || ix >= p.w {
				continue
			}
			src := p.in.base + n*is[0] + iy*is[1] + ix*is[2] + ch*is[3]
			wt := p.wts.base + ky*ws[0] + kx*ws[1] + ch*ws[2]
			for k := range width {
				acc[k] += b.src.at(src+k*is[3]) * b.wts.at(wt+k*ws[2])
			}
		}
	}
}

// depthwiseGeneric handles any kernel size, stride and dilation one output
// channel at a time.
func depthwiseGeneric[V lanes](et elemType[V]) func(*kernel.Exec, kernel.Tile) {
	return func(e *kernel.Exec, t kernel.Tile) {
		p := e.Plan.(*depthwisePlan)
		b := bindDepthwise(et, e)
		var acc [vecBlock]float32
		t.Rows(func(c window.Coordinates, n int) {
			so, do := p.out.offset(c), p.out.inner()
			for j := range n {
				p.accumulate(b, &acc, c[0], c[1], c[2], c[3]+j, 1)
				b.dst.set(so+j*do, p.clamp.Apply(acc[0]))
			}
		})
	}
}

// depthwise3x3 computes a 2x2 block of output pixels per tile, channel
// blocks at a time.
func depthwise3x3[V lanes](et elemType[V]) func(*kernel.Exec, kernel.Tile) {
	return func(e *kernel.Exec, t kernel.Tile) {
		p := e.Plan.(*depthwisePlan)
		b := bindDepthwise(et, e)
		var acc [vecBlock]float32
		n, c0, nc := t.Origin[0], t.Origin[3], t.Extent[3]
		do := p.out.inner()
		for oy := t.Origin[1]; oy < t.Origin[1]+t.Extent[1]; oy++ {
			for ox := t.Origin[2]; ox < t.Origin[2]+t.Extent[2]; ox++ {
				so := p.out.offset(window.Coordinates{n, oy, ox, c0})
				blocks(nc, func(j, width int) {
					p.accumulate(b, &acc, n, oy, ox, c0+j, width)
					for k := range width {
						b.dst.set(so+(j+k)*do, p.clamp.Apply(acc[k]))
					}
				})
			}
		}
	}
}

func registerDepthwise(r *kernel.Registry) {
	add := func(name string, dt tensor.DataType, tile []int, caps cpuinfo.Set, fixed depthwiseShape, routine func(*kernel.Exec, kernel.Tile)) {
		r.Register(&kernel.Strategy{
			Name:     name,
			Op:       kernel.DepthwiseConv,
			DType:    dt,
			Layout:   tensor.NHWC,
			Requires: caps,
			Tile:     tile,
			Validate: validateDepthwise(fixed),
			Prepare:  prepareDepthwise,
			Run:      kernel.Tiled(routine),
		})
	}
	free := depthwiseShape{}
	s1 := depthwiseShape{kernel: 3, stride: 1}
	s2 := depthwiseShape{kernel: 3, stride: 2}
	add("generic_fp32_nhwc_depthwise", tensor.F32, []int{1, 1, 1, 4}, capsBase, free, depthwiseGeneric(fp32))
	add("vec_fp32_nhwc_3x3_s1_output2x2", tensor.F32, []int{1, 2, 2, 4}, capsVector, s1, depthwise3x3(fp32))
	add("vec_fp32_nhwc_3x3_s2_output2x2", tensor.F32, []int{1, 2, 2, 4}, capsVector, s2, depthwise3x3(fp32))
	add("generic_fp16_nhwc_depthwise", tensor.F16, []int{1, 1, 1, 8}, capsBase, free, depthwiseGeneric(fp16))
	add("vec_fp16_nhwc_3x3_s2_output2x2", tensor.F16, []int{1, 2, 2, 8}, capsVectorFP16, s2, depthwise3x3(fp16))
}
