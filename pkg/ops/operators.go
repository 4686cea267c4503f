package ops

import (
	"github.com/samcharles93/stratum/internal/kernel"
	"github.com/samcharles93/stratum/internal/kernels"
)

// Activation applies a pointwise function followed by the output clamp.
type Activation struct{ op }

// NewActivation returns an unconfigured Activation.
func NewActivation(opts ...Option) *Activation { return &Activation{newOp(opts)} }

func activationConfig(in, out Tensor, p ActivationParams, clamp Clamp) *kernel.Config {
	return &kernel.Config{Op: kernel.Activation, Inputs: []Tensor{in}, Output: out, Params: p, Clamp: clamp}
}

// Configure selects a strategy for in and out and binds them. out must
// have in's shape and type; a quantised out may use different parameters.
func (a *Activation) Configure(in, out Tensor, p ActivationParams, clamp Clamp) error {
	return a.configure(activationConfig(in, out, p, clamp))
}

// ValidateActivation reports whether Configure would succeed for these
// descriptors, without touching any buffer.
func ValidateActivation(in, out Descriptor, p ActivationParams, clamp Clamp, opts ...Option) error {
	return validate(activationConfig(Tensor{Desc: in}, Tensor{Desc: out}, p, clamp), opts)
}

// Elementwise combines two inputs that broadcast to the output shape.
type Elementwise struct{ op }

// NewElementwise returns an unconfigured Elementwise.
func NewElementwise(opts ...Option) *Elementwise { return &Elementwise{newOp(opts)} }

func elementwiseConfig(a, b, out Tensor, p ElementwiseParams, clamp Clamp) *kernel.Config {
	return &kernel.Config{Op: kernel.Elementwise, Inputs: []Tensor{a, b}, Output: out, Params: p, Clamp: clamp}
}

// Configure selects a strategy for a op b into out and binds the tensors.
func (e *Elementwise) Configure(a, b, out Tensor, p ElementwiseParams, clamp Clamp) error {
	return e.configure(elementwiseConfig(a, b, out, p, clamp))
}

// ValidateElementwise reports whether Configure would succeed for these
// descriptors.
func ValidateElementwise(a, b, out Descriptor, p ElementwiseParams, clamp Clamp, opts ...Option) error {
	return validate(elementwiseConfig(Tensor{Desc: a}, Tensor{Desc: b}, Tensor{Desc: out}, p, clamp), opts)
}

// Pooling reduces NHWC spatial windows by max or average.
type Pooling struct{ op }

// NewPooling returns an unconfigured Pooling.
func NewPooling(opts ...Option) *Pooling { return &Pooling{newOp(opts)} }

func poolingConfig(in, out Tensor, p PoolingParams, clamp Clamp) *kernel.Config {
	return &kernel.Config{Op: kernel.Pooling, Inputs: []Tensor{in}, Output: out, Params: p, Clamp: clamp}
}

// Configure selects a strategy for pooling NHWC in into out. The output's
// spatial size must be the one params.OutputHW gives.
func (p *Pooling) Configure(in, out Tensor, params PoolingParams, clamp Clamp) error {
	return p.configure(poolingConfig(in, out, params, clamp))
}

// ValidatePooling reports whether Configure would succeed for these
// descriptors.
func ValidatePooling(in, out Descriptor, p PoolingParams, clamp Clamp, opts ...Option) error {
	return validate(poolingConfig(Tensor{Desc: in}, Tensor{Desc: out}, p, clamp), opts)
}

// DepthwiseConv2D convolves each NHWC channel with its own filter. The
// bias is optional.
type DepthwiseConv2D struct{ op }

// NewDepthwiseConv2D returns an unconfigured DepthwiseConv2D.
func NewDepthwiseConv2D(opts ...Option) *DepthwiseConv2D { return &DepthwiseConv2D{newOp(opts)} }

func depthwiseConfig(in, weights Tensor, bias *Tensor, out Tensor, p DepthwiseParams, clamp Clamp) *kernel.Config {
	inputs := []Tensor{in, weights}
	if bias != nil {
		inputs = append(inputs, *bias)
	}
	return &kernel.Config{Op: kernel.DepthwiseConv, Inputs: inputs, Output: out, Params: p, Clamp: clamp}
}

// Configure selects a strategy for convolving in with weights [KH,KW,C]
// and an optional bias [C] into out.
func (d *DepthwiseConv2D) Configure(in, weights Tensor, bias *Tensor, out Tensor, p DepthwiseParams, clamp Clamp) error {
	return d.configure(depthwiseConfig(in, weights, bias, out, p, clamp))
}

// ValidateDepthwiseConv2D reports whether Configure would succeed for these
// descriptors. bias may be nil.
func ValidateDepthwiseConv2D(in, weights Descriptor, bias *Descriptor, out Descriptor, p DepthwiseParams, clamp Clamp, opts ...Option) error {
	var bt *Tensor
	if bias != nil {
		bt = &Tensor{Desc: *bias}
	}
	return validate(depthwiseConfig(Tensor{Desc: in}, Tensor{Desc: weights}, bt, Tensor{Desc: out}, p, clamp), opts)
}

// GEMM computes out = clamp(alpha*A*B + beta*C + bias). C and bias are
// optional; passing them sets WithC and WithBias.
type GEMM struct{ op }

// NewGEMM returns an unconfigured GEMM.
func NewGEMM(opts ...Option) *GEMM { return &GEMM{newOp(opts)} }

func gemmConfig(a, b Tensor, c, bias *Tensor, out Tensor, p GEMMParams, clamp Clamp) *kernel.Config {
	inputs := []Tensor{a, b}
	p.WithC, p.WithBias = c != nil, bias != nil
	if c != nil {
		inputs = append(inputs, *c)
	}
	if bias != nil {
		inputs = append(inputs, *bias)
	}
	return &kernel.Config{Op: kernel.GEMM, Inputs: inputs, Output: out, Params: p, Clamp: clamp}
}

// Configure selects a strategy for out = clamp(alpha*a*b + beta*c + bias).
// b may be the output of a Reorder when p.BlockedB names its block.
func (g *GEMM) Configure(a, b Tensor, c, bias *Tensor, out Tensor, p GEMMParams, clamp Clamp) error {
	return g.configure(gemmConfig(a, b, c, bias, out, p, clamp))
}

// ValidateGEMM reports whether Configure would succeed for these
// descriptors. c and bias may be nil.
func ValidateGEMM(a, b Descriptor, c, bias *Descriptor, out Descriptor, p GEMMParams, clamp Clamp, opts ...Option) error {
	var ct, bt *Tensor
	if c != nil {
		ct = &Tensor{Desc: *c}
	}
	if bias != nil {
		bt = &Tensor{Desc: *bias}
	}
	return validate(gemmConfig(Tensor{Desc: a}, Tensor{Desc: b}, ct, bt, Tensor{Desc: out}, p, clamp), opts)
}

// Reduction folds one axis by sum, mean, max or min.
type Reduction struct{ op }

// NewReduction returns an unconfigured Reduction.
func NewReduction(opts ...Option) *Reduction { return &Reduction{newOp(opts)} }

func reductionConfig(in, out Tensor, p ReductionParams, clamp Clamp) *kernel.Config {
	return &kernel.Config{Op: kernel.Reduction, Inputs: []Tensor{in}, Output: out, Params: p, Clamp: clamp}
}

// Configure selects a strategy for reducing in into out, whose shape must
// be ReducedShape(in, p).
func (r *Reduction) Configure(in, out Tensor, p ReductionParams, clamp Clamp) error {
	return r.configure(reductionConfig(in, out, p, clamp))
}

// ValidateReduction reports whether Configure would succeed for these
// descriptors.
func ValidateReduction(in, out Descriptor, p ReductionParams, clamp Clamp, opts ...Option) error {
	return validate(reductionConfig(Tensor{Desc: in}, Tensor{Desc: out}, p, clamp), opts)
}

// Quantization converts F32, F16 or quantised input to QASYMM8 or
// QASYMM8_SIGNED using the scale and offset of the output descriptor.
// Quantised input is requantised.
type Quantization struct{ op }

// NewQuantization returns an unconfigured Quantization.
func NewQuantization(opts ...Option) *Quantization { return &Quantization{newOp(opts)} }

func quantizationConfig(in, out Tensor) *kernel.Config {
	return &kernel.Config{Op: kernel.Quantization, Inputs: []Tensor{in}, Output: out, Clamp: NoClamp}
}

// Configure selects a strategy for quantising in into out. The shapes must
// match.
func (q *Quantization) Configure(in, out Tensor) error {
	return q.configure(quantizationConfig(in, out))
}

// ValidateQuantization reports whether Configure would succeed for these
// descriptors.
func ValidateQuantization(in, out Descriptor, opts ...Option) error {
	return validate(quantizationConfig(Tensor{Desc: in}, Tensor{Desc: out}), opts)
}

// Reorder packs a 2-D weight matrix into the column blocks a GEMM with
// BlockedB reads.
type Reorder struct{ op }

// NewReorder returns an unconfigured Reorder.
func NewReorder(opts ...Option) *Reorder { return &Reorder{newOp(opts)} }

func reorderConfig(in, out Tensor, p ReorderParams) *kernel.Config {
	return &kernel.Config{Op: kernel.Reorder, Inputs: []Tensor{in}, Output: out, Params: p, Clamp: NoClamp}
}

// Configure selects a strategy for packing in into out, whose shape must be
// ReorderedShape(in, p).
func (r *Reorder) Configure(in, out Tensor, p ReorderParams) error {
	return r.configure(reorderConfig(in, out, p))
}

// ValidateReorder reports whether Configure would succeed for these
// descriptors.
func ValidateReorder(in, out Descriptor, p ReorderParams, opts ...Option) error {
	return validate(reorderConfig(Tensor{Desc: in}, Tensor{Desc: out}, p), opts)
}

// ReorderedShape returns the output shape Reorder expects for in.
func ReorderedShape(in Shape, p ReorderParams) (Shape, error) {
	return p.OutputShape(in)
}

// FuseActivation folds a relu-style activation into clamp, so the operator
// producing a tensor applies it on store instead of a separate Activation
// pass. Functions that are not a clamp report ErrUnsupported.
func FuseActivation(p ActivationParams, clamp Clamp) (Clamp, error) {
	return clamp.Fuse(p)
}

// ReducedShape returns the output shape Reduction expects for in.
func ReducedShape(in Shape, p ReductionParams) Shape {
	return kernels.ReducedShape(in, p.Axis, p.KeepDims)
}

// ConvOutputSize returns the spatial output size of a pooling or
// convolution window over in elements.
func ConvOutputSize(in, k, stride, padBefore, padAfter, dilation int) (int, error) {
	return kernel.ConvOutputSize(in, k, stride, padBefore, padAfter, dilation)
}
