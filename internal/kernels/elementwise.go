package kernels

import (
	"github.com/samcharles93/stratum/internal/cpuinfo"
	"github.com/samcharles93/stratum/internal/kernel"
	"github.com/samcharles93/stratum/internal/tensor"
	"github.com/samcharles93/stratum/internal/window"
)

type elementwisePlan struct {
	a, b, out view
	op        kernel.ElementwiseOp
	clamp     kernel.Clamp
}

func validateElementwise(s *kernel.Strategy, c *kernel.Config) error {
	if err := wantInputs(s, c, 2, 2); err != nil {
		return err
	}
	p, err := paramsOf[kernel.ElementwiseParams](s, c)
	if err != nil {
		return err
	}
	if p.Op.IsLogical() != (s.DType == tensor.U8) {
		return kernel.Invalid(s, "%s is not defined on %s", p.Op, s.DType)
	}
	if err := sameType(s, c, false); err != nil {
		return err
	}
	want, err := tensor.BroadcastShapes(c.Inputs[0].Desc.Shape(), c.Inputs[1].Desc.Shape())
	if err != nil {
		return kernel.Invalid(s, "inputs %s and %s are not broadcast compatible", c.Inputs[0].Desc.Shape(), c.Inputs[1].Desc.Shape())
	}
	return wantShape(s, "output", c.Output.Desc, want)
}

func prepareElementwise(s *kernel.Strategy, c *kernel.Config) (any, error) {
	shape := c.Output.Desc.Shape()
	a, err := c.Inputs[0].Desc.Broadcast(shape)
	if err != nil {
		return nil, err
	}
	b, err := c.Inputs[1].Desc.Broadcast(shape)
	if err != nil {
		return nil, err
	}
	return &elementwisePlan{
		a:     viewOf(a),
		b:     viewOf(b),
		out:   viewOf(c.Output.Desc),
		op:    c.Params.(kernel.ElementwiseParams).Op,
		clamp: c.Clamp.OrNone(),
	}, nil
}

func elementwiseGeneric[V lanes](et elemType[V]) func(*kernel.Exec, kernel.Tile) {
	return func(e *kernel.Exec, t kernel.Tile) {
		p := e.Plan.(*elementwisePlan)
		a, b, dst := et.view(e.In(0).Buf), et.view(e.In(1).Buf), et.view(e.Out().Buf)
		da, db, do := p.a.inner(), p.b.inner(), p.out.inner()
		t.Rows(func(c window.Coordinates, n int) {
			sa, sb, so := p.a.offset(c), p.b.offset(c), p.out.offset(c)
			for j := range n {
				v := p.op.Eval(a.at(sa+j*da), b.at(sb+j*db))
				dst.set(so+j*do, p.clamp.Apply(v))
			}
		})
	}
}

// elementwiseVector handles dense rows and rows where one operand is a
// broadcast scalar; anything else takes the strided path.
func elementwiseVector[V lanes](et elemType[V]) func(*kernel.Exec, kernel.Tile) {
	generic := elementwiseGeneric(et)
	return func(e *kernel.Exec, t kernel.Tile) {
		p := e.Plan.(*elementwisePlan)
		da, db := p.a.inner(), p.b.inner()
		if p.out.inner() != 1 || da > 1 || db > 1 {
			generic(e, t)
			return
		}
		a, b, dst := et.view(e.In(0).Buf), et.view(e.In(1).Buf), et.view(e.Out().Buf)
		t.Rows(func(c window.Coordinates, n int) {
			sa, sb, so := p.a.offset(c), p.b.offset(c), p.out.offset(c)
			blocks(n, func(j, width int) {
				var va, vb [vecBlock]float32
				for k := range width {
					va[k] = a.at(sa + (j+k)*da)
					vb[k] = b.at(sb + (j+k)*db)
				}
				for k := range width {
					dst.set(so+j+k, p.clamp.Apply(p.op.Eval(va[k], vb[k])))
				}
			})
		})
	}
}

func logicalU8(e *kernel.Exec, t kernel.Tile) {
	p := e.Plan.(*elementwisePlan)
	a, b, dst := e.In(0).Buf, e.In(1).Buf, e.Out().Buf
	da, db, do := p.a.inner(), p.b.inner(), p.out.inner()
	and := p.op == kernel.LogicalAnd
	t.Rows(func(c window.Coordinates, n int) {
		sa, sb, so := p.a.offset(c), p.b.offset(c), p.out.offset(c)
		for j := range n {
			x, y := a[sa+j*da] != 0, b[sb+j*db] != 0
			var r bool
			if and {
				r = x && y
			} else {
				r = x || y
			}
			if r {
				dst[so+j*do] = 1
			} else {
				dst[so+j*do] = 0
			}
		}
	})
}

func registerElementwise(r *kernel.Registry) {
	add := func(name string, dt tensor.DataType, tile []int, caps cpuinfo.Set, routine func(*kernel.Exec, kernel.Tile)) {
		r.Register(&kernel.Strategy{
			Name:     name,
			Op:       kernel.Elementwise,
			DType:    dt,
			Requires: caps,
			Tile:     tile,
			Validate: validateElementwise,
			Prepare:  prepareElementwise,
			Run:      kernel.Tiled(routine),
		})
	}
	add("generic_fp32_elementwise", tensor.F32, []int{4}, capsBase, elementwiseGeneric(fp32))
	add("vec_fp32_elementwise", tensor.F32, []int{vecBlock}, capsVector, elementwiseVector(fp32))
	add("generic_fp16_elementwise", tensor.F16, []int{8}, capsBase, elementwiseGeneric(fp16))
	add("vec_fp16_elementwise", tensor.F16, []int{vecBlock}, capsVectorFP16, elementwiseVector(fp16))
	add("generic_u8_logical", tensor.U8, []int{16}, capsBase, logicalU8)
}
