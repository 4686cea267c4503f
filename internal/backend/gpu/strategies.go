package gpu

import (
	"fmt"
	"math"

	"github.com/samcharles93/stratum/internal/cpuinfo"
	"github.com/samcharles93/stratum/internal/kernel"
	"github.com/samcharles93/stratum/internal/kernels"
	"github.com/samcharles93/stratum/internal/tensor"
	"github.com/samcharles93/stratum/internal/window"
)

// Requires is the capability set every device strategy asks for.
var Requires = cpuinfo.Of(cpuinfo.Base, cpuinfo.GPU)

// plan is a compiled shader plus the parameter block with everything but
// the window filled in.
type plan struct {
	kernel Kernel
	params params
	inputs int
}

type program struct {
	name     string
	source   string
	op       kernel.OpKind
	tile     []int
	validate func(s *kernel.Strategy, c *kernel.Config) error
	fill     func(c *kernel.Config, p *params) error
}

var programs = []program{
	{
		name:     "wgsl_fp32_activation",
		source:   activationShader,
		op:       kernel.Activation,
		tile:     []int{workgroupX},
		validate: kernels.ValidateActivation,
		fill:     fillActivation,
	},
	{
		name:     "wgsl_fp32_elementwise",
		source:   elementwiseShader,
		op:       kernel.Elementwise,
		tile:     []int{workgroupX},
		validate: kernels.ValidateElementwise,
		fill:     fillElementwise,
	},
	{
		name:     "wgsl_fp32_gemm",
		source:   gemmShader,
		op:       kernel.GEMM,
		tile:     []int{1, workgroupX},
		validate: validateGEMM,
		fill:     fillGEMM,
	},
}

// NewRegistry returns a registry holding one WGSL strategy per supported
// operator, each compiled and dispatched through l.
func NewRegistry(l Launcher) *kernel.Registry {
	r := kernel.NewRegistry("webgpu")
	for _, prog := range programs {
		r.Register(&kernel.Strategy{
			Name:     prog.name,
			Op:       prog.op,
			DType:    tensor.F32,
			Requires: Requires,
			Tile:     prog.tile,
			Validate: func(s *kernel.Strategy, c *kernel.Config) error {
				if err := prog.validate(s, c); err != nil {
					return err
				}
				return fitsIndexing(s, c)
			},
			Prepare: func(s *kernel.Strategy, c *kernel.Config) (any, error) {
				k, err := l.Compile(s.Name, prog.source)
				if err != nil {
					return nil, fmt.Errorf("compile %s: %w", s.Name, err)
				}
				pl := &plan{kernel: k, inputs: len(c.Inputs)}
				rightAlign(&pl.params.outStr, c.Output.Desc.ElemStrides())
				pl.params.base[0] = uint32(c.Output.Desc.ElemOffset())
				pl.params.setClamp(c.Clamp.OrNone())
				if err := prog.fill(c, &pl.params); err != nil {
					return nil, err
				}
				return pl, nil
			},
			Run: launcher(l),
		})
	}
	return r
}

func launcher(l Launcher) kernel.Runner {
	return func(e *kernel.Exec, w window.Window) error {
		pl := e.Plan.(*plan)
		p := pl.params
		p.setWindow(w)
		args := make([]Arg, 0, 2+pl.inputs)
		args = append(args,
			Arg{Buf: p.encode(), Usage: Uniform},
			Arg{Buf: e.Out().Buf, Usage: Write},
		)
		for i := range pl.inputs {
			args = append(args, Arg{Buf: e.In(i).Buf, Usage: Read})
		}
		return l.Launch(pl.kernel, args, WorkSize(w, local), local)
	}
}

// fitsIndexing rejects tensors the shaders cannot address with 32-bit
// element offsets.
func fitsIndexing(s *kernel.Strategy, c *kernel.Config) error {
	check := func(what string, d tensor.Descriptor) error {
		if uint64(d.Extent()/d.ElemSize()) > math.MaxUint32 {
			return kernel.Invalid(s, "%s spans more elements than 32-bit indexing reaches", what)
		}
		return nil
	}
	for i, in := range c.Inputs {
		if err := check(fmt.Sprintf("input %d", i), in.Desc); err != nil {
			return err
		}
	}
	return check("output", c.Output.Desc)
}

func validateGEMM(s *kernel.Strategy, c *kernel.Config) error {
	if err := kernels.ValidateGEMM(s, c); err != nil {
		return err
	}
	p := c.Params.(kernel.GEMMParams)
	if p.WithC || p.WithBias {
		return kernel.Invalid(s, "accumulating into C or adding a bias is not implemented on the device")
	}
	if p.BlockedB > 0 {
		return kernel.Invalid(s, "blocked B is not implemented on the device")
	}
	return nil
}

func fillActivation(c *kernel.Config, p *params) error {
	ap := c.Params.(kernel.ActivationParams)
	in := c.Inputs[0].Desc
	rightAlign(&p.aStr, in.ElemStrides())
	p.base[1] = uint32(in.ElemOffset())
	p.base[3] = uint32(ap.Func)
	p.scalars[0], p.scalars[1] = ap.A, ap.B
	return nil
}

func fillElementwise(c *kernel.Config, p *params) error {
	shape := c.Output.Desc.Shape()
	a, err := c.Inputs[0].Desc.Broadcast(shape)
	if err != nil {
		return err
	}
	b, err := c.Inputs[1].Desc.Broadcast(shape)
	if err != nil {
		return err
	}
	rightAlign(&p.aStr, a.ElemStrides())
	rightAlign(&p.bStr, b.ElemStrides())
	p.base[1] = uint32(a.ElemOffset())
	p.base[2] = uint32(b.ElemOffset())
	p.base[3] = uint32(c.Params.(kernel.ElementwiseParams).Op)
	return nil
}

func fillGEMM(c *kernel.Config, p *params) error {
	a, b := c.Inputs[0].Desc, c.Inputs[1].Desc
	rightAlign(&p.aStr, a.ElemStrides())
	rightAlign(&p.bStr, b.ElemStrides())
	p.base[1] = uint32(a.ElemOffset())
	p.base[2] = uint32(b.ElemOffset())
	p.extra[0] = uint32(a.Dim(1))
	p.scalars[0] = c.Params.(kernel.GEMMParams).Alpha
	return nil
}
