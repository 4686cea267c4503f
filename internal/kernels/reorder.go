package kernels

import (
	"github.com/samcharles93/stratum/internal/cpuinfo"
	"github.com/samcharles93/stratum/internal/kernel"
	"github.com/samcharles93/stratum/internal/tensor"
	"github.com/samcharles93/stratum/internal/window"
)

type reorderPlan struct {
	in, out view
	p       kernel.ReorderParams
	n       int
	// sk and sn are the input element strides along K and N.
	sk, sn int
}

func validateReorder(s *kernel.Strategy, c *kernel.Config) error {
	if err := wantInputs(s, c, 1, 1); err != nil {
		return err
	}
	p, err := paramsOf[kernel.ReorderParams](s, c)
	if err != nil {
		return err
	}
	if err := p.Check(); err != nil {
		return err
	}
	if err := sameType(s, c, false); err != nil {
		return err
	}
	in := c.Inputs[0].Desc
	if err := wantRank(s, "input", in, 2); err != nil {
		return err
	}
	want, err := p.OutputShape(in.Shape())
	if err != nil {
		return err
	}
	if c.Clamp.OrNone() != kernel.NoClamp {
		return kernel.Invalid(s, "reorder takes no clamp")
	}
	return wantShape(s, "output", c.Output.Desc, want)
}

func prepareReorder(s *kernel.Strategy, c *kernel.Config) (any, error) {
	in := c.Inputs[0].Desc
	p := c.Params.(kernel.ReorderParams)
	plan := &reorderPlan{in: viewOf(in), out: viewOf(c.Output.Desc), p: p}
	st := in.ElemStrides()
	plan.sk, plan.sn = st[0], st[1]
	if p.Transpose {
		plan.sk, plan.sn = st[1], st[0]
	}
	_, plan.n = p.KN(in.Shape())
	return plan, nil
}

// reorderGeneric fills each output element from B[k][blk*Block+lane], or
// zero past the last column.
func reorderGeneric[V lanes](et elemType[V]) func(*kernel.Exec, kernel.Tile) {
	return func(e *kernel.Exec, t kernel.Tile) {
		p := e.Plan.(*reorderPlan)
		src, dst := et.view(e.In(0).Buf), et.view(e.Out().Buf)
		do := p.out.inner()
		t.Rows(func(c window.Coordinates, n int) {
			col := c[0]*p.p.Block + c[2]
			si, so := p.in.base+c[1]*p.sk+col*p.sn, p.out.offset(c)
			for j := range n {
				var v float32
				if col+j < p.n {
					v = src.at(si + j*p.sn)
				}
				dst.set(so+j*do, v)
			}
		})
	}
}

// reorderVector copies whole runs when the input is dense along N and
// only zero-fills the tail block.
func reorderVector[V lanes](et elemType[V]) func(*kernel.Exec, kernel.Tile) {
	generic := reorderGeneric(et)
	return func(e *kernel.Exec, t kernel.Tile) {
		p := e.Plan.(*reorderPlan)
		if p.sn != 1 || p.out.inner() != 1 {
			generic(e, t)
			return
		}
		src, dst := et.view(e.In(0).Buf), et.view(e.Out().Buf)
		t.Rows(func(c window.Coordinates, n int) {
			col := c[0]*p.p.Block + c[2]
			si, so := p.in.base+c[1]*p.sk+col, p.out.offset(c)
			valid := min(n, max(p.n-col, 0))
			blocks(valid, func(j, width int) {
				var buf [vecBlock]float32
				for k := range width {
					buf[k] = src.at(si + j + k)
				}
				for k := range width {
					dst.set(so+j+k, buf[k])
				}
			})
			for j := valid; j < n; j++ {
				dst.set(so+j, 0)
			}
		})
	}
}

func registerReorder(r *kernel.Registry) {
	add := func(name string, dt tensor.DataType, caps cpuinfo.Set, routine func(*kernel.Exec, kernel.Tile)) {
		r.Register(&kernel.Strategy{
			Name:     name,
			Op:       kernel.Reorder,
			DType:    dt,
			Requires: caps,
			Tile:     []int{1, 8, vecBlock},
			Validate: validateReorder,
			Prepare:  prepareReorder,
			Run:      kernel.Tiled(routine),
		})
	}
	add("generic_fp32_reorder", tensor.F32, capsBase, reorderGeneric(fp32))
	add("vec_fp32_reorder", tensor.F32, capsVector, reorderVector(fp32))
	add("generic_fp16_reorder", tensor.F16, capsBase, reorderGeneric(fp16))
}
