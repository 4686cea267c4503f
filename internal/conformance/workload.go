// Package conformance builds synthetic operator workloads and checks that
// every strategy eligible for one computes the same output.
package conformance

import (
	"fmt"
	"math/rand/v2"
	"strings"

	"github.com/samcharles93/stratum/internal/kernel"
	"github.com/samcharles93/stratum/internal/kernels"
	"github.com/samcharles93/stratum/internal/tensor"
	"github.com/samcharles93/stratum/pkg/quant"
)

// Case names one workload. The meaning of Shape depends on Op:
//
//	activation, elementwise, reduction: the input shape
//	pooling, depthwise: the NHWC input shape
//	gemm: [M, N, K]
//	quantization: the input shape
//	reorder: the [K, N] input shape
type Case struct {
	Op     kernel.OpKind
	DType  tensor.DataType
	Shape  tensor.Shape
	Params any
	// Out is the output type of a quantization case, QASYMM8 when unset.
	Out tensor.DataType
}

func (c Case) String() string {
	dims := make([]string, len(c.Shape))
	for i, d := range c.Shape {
		dims[i] = fmt.Sprint(d)
	}
	s := fmt.Sprintf("%s/%s/%s", c.Op, c.DType, strings.Join(dims, "x"))
	switch p := c.Params.(type) {
	case kernel.ActivationParams:
		s += "/" + p.Func.String()
	case kernel.ElementwiseParams:
		s += "/" + p.Op.String()
	case kernel.PoolingParams:
		s += "/" + p.Type.String()
	case kernel.ReductionParams:
		s += fmt.Sprintf("/%s@%d", p.Op, p.Axis)
	case kernel.ReorderParams:
		s += fmt.Sprintf("/block%d", p.Block)
		if p.Transpose {
			s += "t"
		}
	case kernel.GEMMParams:
		if p.BlockedB > 0 {
			s += fmt.Sprintf("/blocked%d", p.BlockedB)
		}
	}
	if c.Op == kernel.Quantization {
		s += "/" + c.outType().String()
	}
	return s
}

func (c Case) outType() tensor.DataType {
	if c.Out == tensor.DataTypeUnknown {
		return tensor.QASYMM8
	}
	return c.Out
}

// DefaultParams returns the parameters Workload uses when a case leaves
// Params nil.
func DefaultParams(op kernel.OpKind) any {
	switch op {
	case kernel.Activation:
		return kernel.ActivationParams{Func: kernel.ReLU}
	case kernel.Elementwise:
		return kernel.ElementwiseParams{Op: kernel.Add}
	case kernel.Pooling:
		return kernel.PoolingParams{Type: kernel.PoolMax, KernelW: 3, KernelH: 3, Pad: kernel.Stride(1, 1).Padded(1, 1)}
	case kernel.DepthwiseConv:
		return kernel.DepthwiseParams{Pad: kernel.Stride(1, 1).Padded(1, 1)}
	case kernel.GEMM:
		return kernel.GEMMParams{Alpha: 1, WithBias: true}
	case kernel.Reduction:
		return kernel.ReductionParams{Op: kernel.ReduceSum, Axis: -1}
	case kernel.Reorder:
		return kernel.ReorderParams{Block: 16}
	}
	return nil
}

// Workload allocates the tensors of c, fills the inputs with values
// derived from seed and returns the configuration. The output is zeroed.
func Workload(c Case, seed uint64) (*kernel.Config, error) {
	p := c.Params
	if p == nil {
		p = DefaultParams(c.Op)
	}
	if err := c.Shape.Check(); err != nil {
		return nil, err
	}
	f := filler{r: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)), dt: c.DType}
	cfg := &kernel.Config{Op: c.Op, Params: p, Clamp: kernel.NoClamp}
	sh := c.Shape
	switch c.Op {
	case kernel.Activation:
		cfg.Inputs = []tensor.Tensor{f.tensor(sh, tensor.LayoutUnknown)}
		cfg.Output = f.empty(sh, tensor.LayoutUnknown)
	case kernel.Elementwise:
		if len(sh) == 0 {
			return nil, fmt.Errorf("elementwise needs rank >= 1")
		}
		cfg.Inputs = []tensor.Tensor{
			f.tensor(sh, tensor.LayoutUnknown),
			f.tensor(tensor.Shape{sh[len(sh)-1]}, tensor.LayoutUnknown),
		}
		cfg.Output = f.empty(sh, tensor.LayoutUnknown)
	case kernel.Pooling:
		pp, ok := p.(kernel.PoolingParams)
		if !ok || len(sh) != 4 {
			return nil, fmt.Errorf("pooling needs an NHWC shape and pooling params")
		}
		oh, ow, err := pp.OutputHW(sh[1], sh[2])
		if err != nil {
			return nil, err
		}
		cfg.Inputs = []tensor.Tensor{f.tensor(sh, tensor.NHWC)}
		cfg.Output = f.empty(tensor.Shape{sh[0], oh, ow, sh[3]}, tensor.NHWC)
	case kernel.DepthwiseConv:
		dp, ok := p.(kernel.DepthwiseParams)
		if !ok || len(sh) != 4 {
			return nil, fmt.Errorf("depthwise needs an NHWC shape and depthwise params")
		}
		dx, dy := dp.Dilations()
		oh, err := kernel.ConvOutputSize(sh[1], 3, dp.Pad.StrideY, dp.Pad.PadTop, dp.Pad.PadBottom, dy)
		if err != nil {
			return nil, err
		}
		ow, err := kernel.ConvOutputSize(sh[2], 3, dp.Pad.StrideX, dp.Pad.PadLeft, dp.Pad.PadRight, dx)
		if err != nil {
			return nil, err
		}
		cfg.Inputs = []tensor.Tensor{
			f.tensor(sh, tensor.NHWC),
			f.tensor(tensor.Shape{3, 3, sh[3]}, tensor.NHWC),
			f.tensor(tensor.Shape{sh[3]}, tensor.NHWC),
		}
		cfg.Output = f.empty(tensor.Shape{sh[0], oh, ow, sh[3]}, tensor.NHWC)
	case kernel.GEMM:
		gp, ok := p.(kernel.GEMMParams)
		if !ok || len(sh) != 3 {
			return nil, fmt.Errorf("gemm needs shape [M, N, K] and gemm params")
		}
		m, n, k := sh[0], sh[1], sh[2]
		bShape := tensor.Shape{k, n}
		if gp.BlockedB > 0 {
			var err error
			if bShape, err = (kernel.ReorderParams{Block: gp.BlockedB}).OutputShape(bShape); err != nil {
				return nil, err
			}
		}
		cfg.Inputs = []tensor.Tensor{
			f.tensor(tensor.Shape{m, k}, tensor.LayoutUnknown),
			f.tensor(bShape, tensor.LayoutUnknown),
		}
		if gp.WithC {
			cfg.Inputs = append(cfg.Inputs, f.tensor(tensor.Shape{m, n}, tensor.LayoutUnknown))
		}
		if gp.WithBias {
			cfg.Inputs = append(cfg.Inputs, f.tensor(tensor.Shape{n}, tensor.LayoutUnknown))
		}
		cfg.Output = f.empty(tensor.Shape{m, n}, tensor.LayoutUnknown)
	case kernel.Reduction:
		rp, ok := p.(kernel.ReductionParams)
		if !ok || len(sh) == 0 {
			return nil, fmt.Errorf("reduction needs rank >= 1 and reduction params")
		}
		if rp.Axis < 0 {
			rp.Axis += len(sh)
		}
		cfg.Params = rp
		cfg.Inputs = []tensor.Tensor{f.tensor(sh, tensor.LayoutUnknown)}
		cfg.Output = f.empty(kernels.ReducedShape(sh, rp.Axis, rp.KeepDims), tensor.LayoutUnknown)
	case kernel.Quantization:
		out := c.outType()
		if !out.IsQuantized() {
			return nil, fmt.Errorf("quantization output must be quantised, have %s", out)
		}
		cfg.Inputs = []tensor.Tensor{f.tensor(sh, tensor.LayoutUnknown)}
		cfg.Output = tensor.New(sh, out, tensor.LayoutUnknown)
		cfg.Output.Desc = cfg.Output.Desc.WithQuant(outputQuant)
	case kernel.Reorder:
		rp, ok := p.(kernel.ReorderParams)
		if !ok {
			return nil, fmt.Errorf("reorder needs reorder params")
		}
		shape, err := rp.OutputShape(sh)
		if err != nil {
			return nil, err
		}
		cfg.Inputs = []tensor.Tensor{f.tensor(sh, tensor.LayoutUnknown)}
		cfg.Output = f.empty(shape, tensor.LayoutUnknown)
	default:
		return nil, fmt.Errorf("no workload for %s", c.Op)
	}
	return cfg, nil
}

type filler struct {
	r  *rand.Rand
	dt tensor.DataType
}

// Quantised workload tensors take fixed parameters. Inputs cover about
// [-2, 2) and outputs are scaled differently so every case requantises.
var (
	inputQuant  = tensor.QuantInfo{Scales: []float32{1.0 / 64}, Offsets: []int32{128}}
	outputQuant = tensor.QuantInfo{Scales: []float32{1.0 / 48}, Offsets: []int32{7}}
)

func (f filler) empty(shape tensor.Shape, layout tensor.Layout) tensor.Tensor {
	t := tensor.New(shape, f.dt, layout)
	if f.dt.IsQuantized() {
		t.Desc = t.Desc.WithQuant(outputQuant)
	}
	return t
}

// tensor allocates a tensor of values drawn from [-2, 2).
func (f filler) tensor(shape tensor.Shape, layout tensor.Layout) tensor.Tensor {
	t := tensor.New(shape, f.dt, layout)
	switch f.dt {
	case tensor.QASYMM8, tensor.QASYMM8Signed:
		t.Desc = t.Desc.WithQuant(inputQuant)
		if f.dt == tensor.QASYMM8Signed {
			t.Desc = t.Desc.WithQuant(tensor.QuantInfo{Scales: inputQuant.Scales, Offsets: []int32{0}})
		}
		for i := range t.Buf {
			t.Buf[i] = byte(f.r.UintN(256))
		}
	case tensor.F32:
		dst := t.Buf.Float32s()
		for i := range dst {
			dst[i] = f.r.Float32()*4 - 2
		}
	case tensor.F16:
		dst := t.Buf.Float16s()
		for i := range dst {
			dst[i] = tensor.F32ToF16(f.r.Float32()*4 - 2)
		}
	}
	return t
}

// Values widens the elements of t to float32.
func Values(t tensor.Tensor) []float32 {
	switch t.Desc.DataType() {
	case tensor.F16:
		h := t.Buf.Float16s()
		out := make([]float32, len(h))
		tensor.DecodeF16(out, h)
		return out
	case tensor.F32:
		return append([]float32(nil), t.Buf.Float32s()...)
	case tensor.QASYMM8, tensor.QASYMM8Signed:
		p, signed := quant.FromInfo(t.Desc.Quant()), quant.Signed(t.Desc.DataType())
		out := make([]float32, len(t.Buf))
		for i, b := range t.Buf {
			out[i] = quant.Load(b, p, signed)
		}
		return out
	}
	return nil
}
