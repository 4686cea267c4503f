package kernels

import (
	"github.com/samcharles93/stratum/internal/cpuinfo"
	"github.com/samcharles93/stratum/internal/kernel"
	"github.com/samcharles93/stratum/internal/tensor"
)

// maxGEMMRows bounds the register block of the widest GEMM strategy.
const maxGEMMRows = 8

type gemmPlan struct {
	a, b, c, bias, out view
	k                  int
	p                  kernel.GEMMParams
	clamp              kernel.Clamp
	biasIdx            int
}

func validateGEMM(s *kernel.Strategy, c *kernel.Config) error {
	p, err := paramsOf[kernel.GEMMParams](s, c)
	if err != nil {
		return err
	}
	n := p.NumInputs()
	if err := wantInputs(s, c, n, n); err != nil {
		return err
	}
	if err := sameType(s, c, false); err != nil {
		return err
	}
	a, b := c.Inputs[0].Desc, c.Inputs[1].Desc
	if err := wantRank(s, "A", a, 2); err != nil {
		return err
	}
	var mn tensor.Shape
	if p.BlockedB < 0 {
		return kernel.Invalid(s, "blocked B width %d is negative", p.BlockedB)
	}
	if p.BlockedB > 0 {
		if err := wantRank(s, "output", c.Output.Desc, 2); err != nil {
			return err
		}
		mn = tensor.Shape{a.Dim(0), c.Output.Desc.Dim(1)}
		want, err := kernel.ReorderParams{Block: p.BlockedB}.OutputShape(tensor.Shape{a.Dim(1), mn[1]})
		if err != nil {
			return err
		}
		if err := wantShape(s, "blocked B", b, want); err != nil {
			return err
		}
	} else {
		if err := wantRank(s, "B", b, 2); err != nil {
			return err
		}
		if a.Dim(1) != b.Dim(0) {
			return kernel.Invalid(s, "inner dimensions differ: A is %s, B is %s", a.Shape(), b.Shape())
		}
		mn = tensor.Shape{a.Dim(0), b.Dim(1)}
	}
	if err := wantShape(s, "output", c.Output.Desc, mn); err != nil {
		return err
	}
	next := 2
	if p.WithC {
		if err := wantShape(s, "C", c.Inputs[next].Desc, mn); err != nil {
			return err
		}
		next++
	}
	if p.WithBias {
		if err := wantShape(s, "bias", c.Inputs[next].Desc, tensor.Shape{mn[1]}); err != nil {
			return err
		}
	}
	return nil
}

func prepareGEMM(s *kernel.Strategy, c *kernel.Config) (any, error) {
	p := c.Params.(kernel.GEMMParams)
	plan := &gemmPlan{
		a:     viewOf(c.Inputs[0].Desc),
		b:     viewOf(c.Inputs[1].Desc),
		out:   viewOf(c.Output.Desc),
		k:     c.Inputs[0].Desc.Dim(1),
		p:     p,
		clamp: c.Clamp.OrNone(),
	}
	next := 2
	if p.WithC {
		plan.c = viewOf(c.Inputs[next].Desc)
		next++
	}
	if p.WithBias {
		plan.bias = viewOf(c.Inputs[next].Desc)
		plan.biasIdx = next
	}
	return plan, nil
}

type gemmBufs struct {
	a, b, c, bias, dst lanes
}

func bindGEMM[V lanes](et elemType[V], e *kernel.Exec, p *gemmPlan) gemmBufs {
	g := gemmBufs{a: et.view(e.In(0).Buf), b: et.view(e.In(1).Buf), dst: et.view(e.Out().Buf)}
	if p.p.WithC {
		g.c = et.view(e.In(2).Buf)
	}
	if p.p.WithBias {
		g.bias = et.view(e.In(p.biasIdx).Buf)
	}
	return g
}

// bIndex returns the element offset of B[k][j]. A blocked B holds column j
// in block j/BlockedB at lane j%BlockedB.
func (p *gemmPlan) bIndex(k, j int) int {
	if n := p.p.BlockedB; n > 0 {
		return p.b.base + (j/n)*p.b.strides[0] + k*p.b.strides[1] + (j%n)*p.b.strides[2]
	}
	return p.b.base + k*p.b.strides[0] + j*p.b.strides[1]
}

// store applies alpha, beta*C, bias and the clamp to one accumulator.
func (p *gemmPlan) store(g gemmBufs, i, j int, acc float32) {
	v := p.p.Alpha * acc
	if p.p.WithC {
		v += p.p.Beta * g.c.at(p.c.base+i*p.c.strides[0]+j*p.c.strides[1])
	}
	if p.p.WithBias {
		v += g.bias.at(p.bias.base + j*p.bias.strides[0])
	}
	g.dst.set(p.out.base+i*p.out.strides[0]+j*p.out.strides[1], p.clamp.Apply(v))
}

// gemmGeneric computes each output of the tile as an independent dot
// product.
func gemmGeneric[V lanes](et elemType[V]) func(*kernel.Exec, kernel.Tile) {
	return func(e *kernel.Exec, t kernel.Tile) {
		p := e.Plan.(*gemmPlan)
		g := bindGEMM(et, e, p)
		as0, as1 := p.a.strides[0], p.a.strides[1]
		for i := t.Origin[0]; i < t.Origin[0]+t.Extent[0]; i++ {
			for j := t.Origin[1]; j < t.Origin[1]+t.Extent[1]; j++ {
				var acc float32
				ai := p.a.base + i*as0
				for k := range p.k {
					acc += g.a.at(ai+k*as1) * g.b.at(p.bIndex(k, j))
				}
				p.store(g, i, j, acc)
			}
		}
	}
}

// gemmBlocked keeps a rows x vecBlock accumulator block live and updates it
// with one rank-1 product per step of K. Rows and columns of an oddment
// tile are narrowed, the K order is the same as the generic kernel.
func gemmBlocked[V lanes](et elemType[V]) func(*kernel.Exec, kernel.Tile) {
	return func(e *kernel.Exec, t kernel.Tile) {
		p := e.Plan.(*gemmPlan)
		g := bindGEMM(et, e, p)
		i0, j0 := t.Origin[0], t.Origin[1]
		rows, cols := t.Extent[0], t.Extent[1]
		as0, as1 := p.a.strides[0], p.a.strides[1]

		var acc [maxGEMMRows][vecBlock]float32
		var brow [vecBlock]float32
		for k := range p.k {
			for j := range cols {
				brow[j] = g.b.at(p.bIndex(k, j0+j))
			}
			ak := p.a.base + i0*as0 + k*as1
			for i := range rows {
				av := g.a.at(ak + i*as0)
				r := &acc[i]
				blocks(cols, func(j, width int) {
					for q := j; q < j+width; q++ {
						r[q] += av * brow[q]
					}
				})
			}
		}
		for i := range rows {
			for j := range cols {
				p.store(g, i0+i, j0+j, acc[i][j])
			}
		}
	}
}

func registerGEMM(r *kernel.Registry) {
	add := func(name string, dt tensor.DataType, tile []int, caps cpuinfo.Set, routine func(*kernel.Exec, kernel.Tile)) {
		r.Register(&kernel.Strategy{
			Name:     name,
			Op:       kernel.GEMM,
			DType:    dt,
			Requires: caps,
			Tile:     tile,
			Validate: validateGEMM,
			Prepare:  prepareGEMM,
			Run:      kernel.Tiled(routine),
		})
	}
	add("generic_fp32_gemm_4x4", tensor.F32, []int{4, 4}, capsBase, gemmGeneric(fp32))
	add("vec_fp32_gemm_6x16", tensor.F32, []int{6, vecBlock}, capsVector, gemmBlocked(fp32))
	add("sve_fp32_gemm_8x16", tensor.F32, []int{maxGEMMRows, vecBlock}, capsVectorSVE, gemmBlocked(fp32))
	add("generic_fp16_gemm_4x4", tensor.F16, []int{4, 4}, capsBase, gemmGeneric(fp16))
	add("vec_fp16_gemm_6x16", tensor.F16, []int{6, vecBlock}, capsVectorFP16, gemmBlocked(fp16))
}
