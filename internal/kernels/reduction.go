package kernels

import (
	"github.com/samcharles93/stratum/internal/cpuinfo"
	"github.com/samcharles93/stratum/internal/kernel"
	"github.com/samcharles93/stratum/internal/tensor"
	"github.com/samcharles93/stratum/internal/window"
)

type reductionPlan struct {
	in, out view
	op      kernel.ReduceOp
	axis    int
	length  int
	// outDim[i] is the input dim output dim i walks, in order.
	outDim []int
	clamp  kernel.Clamp
}

// ReducedShape returns the output shape of reducing in along axis.
func ReducedShape(in tensor.Shape, axis int, keepDims bool) tensor.Shape {
	out := make(tensor.Shape, 0, len(in))
	for i, d := range in {
		switch {
		case i != axis:
			out = append(out, d)
		case keepDims:
			out = append(out, 1)
		}
	}
	if len(out) == 0 {
		out = append(out, 1)
	}
	return out
}

func validateReduction(s *kernel.Strategy, c *kernel.Config) error {
	if err := wantInputs(s, c, 1, 1); err != nil {
		return err
	}
	p, err := paramsOf[kernel.ReductionParams](s, c)
	if err != nil {
		return err
	}
	if err := sameType(s, c, false); err != nil {
		return err
	}
	in := c.Inputs[0].Desc
	if p.Axis < 0 || p.Axis >= in.Rank() {
		return kernel.Invalid(s, "axis %d out of range for rank %d", p.Axis, in.Rank())
	}
	return wantShape(s, "output", c.Output.Desc, ReducedShape(in.Shape(), p.Axis, p.KeepDims))
}

func prepareReduction(s *kernel.Strategy, c *kernel.Config) (any, error) {
	p := c.Params.(kernel.ReductionParams)
	in := c.Inputs[0].Desc
	plan := &reductionPlan{
		in:     viewOf(in),
		out:    viewOf(c.Output.Desc),
		op:     p.Op,
		axis:   p.Axis,
		length: in.Dim(p.Axis),
		clamp:  c.Clamp.OrNone(),
	}
	for i := range in.Rank() {
		if i != p.Axis || p.KeepDims {
			plan.outDim = append(plan.outDim, i)
		}
	}
	if len(plan.outDim) == 0 {
		// Rank-1 input reduced to a single element.
		plan.outDim = []int{-1}
	}
	return plan, nil
}

// inputBase maps an output coordinate to the input offset of the first
// element along the reduced axis.
func (p *reductionPlan) inputBase(c window.Coordinates) int {
	off := p.in.base
	for o, i := range p.outDim {
		if i < 0 || i == p.axis {
			continue
		}
		off += c[o] * p.in.strides[i]
	}
	return off
}

func (p *reductionPlan) init() float32 {
	switch p.op {
	case kernel.ReduceMax:
		return negInf
	case kernel.ReduceMin:
		return -negInf
	}
	return 0
}

func (p *reductionPlan) combine(acc, v float32) float32 {
	switch p.op {
	case kernel.ReduceMax:
		return max(acc, v)
	case kernel.ReduceMin:
		return min(acc, v)
	}
	return acc + v
}

func (p *reductionPlan) finish(acc float32) float32 {
	if p.op == kernel.ReduceMean {
		acc /= float32(p.length)
	}
	return p.clamp.Apply(acc)
}

// innerStride is the input step between neighbouring outputs of a row.
func (p *reductionPlan) innerStride() int {
	last := p.outDim[len(p.outDim)-1]
	if last < 0 || last == p.axis {
		return 0
	}
	return p.in.strides[last]
}

func reductionGeneric[V lanes](et elemType[V]) func(*kernel.Exec, kernel.Tile) {
	return func(e *kernel.Exec, t kernel.Tile) {
		p := e.Plan.(*reductionPlan)
		src, dst := et.view(e.In(0).Buf), et.view(e.Out().Buf)
		step, di, do := p.in.strides[p.axis], p.innerStride(), p.out.inner()
		t.Rows(func(c window.Coordinates, n int) {
			si, so := p.inputBase(c), p.out.offset(c)
			for j := range n {
				acc := p.init()
				base := si + j*di
				for r := range p.length {
					acc = p.combine(acc, src.at(base+r*step))
				}
				dst.set(so+j*do, p.finish(acc))
			}
		})
	}
}

// reductionVector reduces a block of neighbouring outputs together,
// walking the reduced axis once per block. Each output still folds its
// values in axis order.
func reductionVector[V lanes](et elemType[V]) func(*kernel.Exec, kernel.Tile) {
	return func(e *kernel.Exec, t kernel.Tile) {
		p := e.Plan.(*reductionPlan)
		src, dst := et.view(e.In(0).Buf), et.view(e.Out().Buf)
		step, di, do := p.in.strides[p.axis], p.innerStride(), p.out.inner()
		t.Rows(func(c window.Coordinates, n int) {
			si, so := p.inputBase(c), p.out.offset(c)
			blocks(n, func(j, width int) {
				var acc [vecBlock]float32
				for k := range width {
					acc[k] = p.init()
				}
				for r := range p.length {
					row := si + r*step + j*di
					for k := range width {
						acc[k] = p.combine(acc[k], src.at(row+k*di))
					}
				}
				for k := range width {
					dst.set(so+(j+k)*do, p.finish(acc[k]))
				}
			})
		})
	}
}

func registerReduction(r *kernel.Registry) {
	add := func(name string, dt tensor.DataType, tile []int, caps cpuinfo.Set, routine func(*kernel.Exec, kernel.Tile)) {
		r.Register(&kernel.Strategy{
			Name:     name,
			Op:       kernel.Reduction,
			DType:    dt,
			Requires: caps,
			Tile:     tile,
			Validate: validateReduction,
			Prepare:  prepareReduction,
			Run:      kernel.Tiled(routine),
		})
	}
	add("generic_fp32_reduce", tensor.F32, []int{4}, capsBase, reductionGeneric(fp32))
	add("vec_fp32_reduce", tensor.F32, []int{vecBlock}, capsVector, reductionVector(fp32))
}
