package kernel

import (
	"fmt"
	"math"
	"strings"

	"github.com/samcharles93/stratum/internal/status"
	"github.com/samcharles93/stratum/internal/tensor"
)

// ActivationFunc selects the pointwise function of an Activation operator.
type ActivationFunc uint8

const (
	Identity ActivationFunc = iota
	ReLU
	BoundedReLU   // min(max(0, x), A)
	LUBoundedReLU // min(max(x, B), A)
	LeakyReLU     // x > 0 ? x : A*x
	Logistic
	Tanh // A * tanh(B * x)
)

var activationNames = [...]string{
	Identity:      "identity",
	ReLU:          "relu",
	BoundedReLU:   "bounded_relu",
	LUBoundedReLU: "lu_bounded_relu",
	LeakyReLU:     "leaky_relu",
	Logistic:      "logistic",
	Tanh:          "tanh",
}

func (f ActivationFunc) String() string {
	if int(f) < len(activationNames) {
		return activationNames[f]
	}
	return fmt.Sprintf("activation(%d)", uint8(f))
}

// ParseActivationFunc accepts the names produced by String.
func ParseActivationFunc(s string) (ActivationFunc, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	for i, n := range activationNames {
		if n == name {
			return ActivationFunc(i), nil
		}
	}
	return 0, fmt.Errorf("unknown activation %q", s)
}

// ActivationParams configures an Activation operator. A and B are the
// function's coefficients; their meaning depends on Func.
type ActivationParams struct {
	Func ActivationFunc
	A    float32
	B    float32
}

// Eval applies the activation to one value in fp32.
func (p ActivationParams) Eval(x float32) float32 {
	switch p.Func {
	case ReLU:
		return max(x, 0)
	case BoundedReLU:
		return min(max(x, 0), p.A)
	case LUBoundedReLU:
		return min(max(x, p.B), p.A)
	case LeakyReLU:
		if x > 0 {
			return x
		}
		return p.A * x
	case Logistic:
		return float32(1 / (1 + math.Exp(-float64(x))))
	case Tanh:
		return p.A * float32(math.Tanh(float64(p.B*x)))
	default:
		return x
	}
}

// IsClampFamily reports functions that reduce to a Clamp and can therefore
// be fused into a producer kernel.
func (p ActivationParams) IsClampFamily() bool {
	switch p.Func {
	case Identity, ReLU, BoundedReLU, LUBoundedReLU:
		return true
	}
	return false
}

// Clamp returns the bounds equivalent to a clamp-family activation.
func (p ActivationParams) Clamp() Clamp {
	inf := float32(math.Inf(1))
	switch p.Func {
	case ReLU:
		return Clamp{Min: 0, Max: inf}
	case BoundedReLU:
		return Clamp{Min: 0, Max: p.A}
	case LUBoundedReLU:
		return Clamp{Min: p.B, Max: p.A}
	default:
		return NoClamp
	}
}

// ElementwiseOp selects the binary function of an Elementwise operator.
type ElementwiseOp uint8

const (
	Add ElementwiseOp = iota
	Sub
	Mul
	Max
	Min
	PRelu       // x > 0 ? x : alpha*x, alpha is the second input
	SquaredDiff // (a-b)^2
	LogicalOr
	LogicalAnd
)

var elementwiseNames = [...]string{
	Add:         "add",
	Sub:         "sub",
	Mul:         "mul",
	Max:         "max",
	Min:         "min",
	PRelu:       "prelu",
	SquaredDiff: "squared_diff",
	LogicalOr:   "logical_or",
	LogicalAnd:  "logical_and",
}

func (o ElementwiseOp) String() string {
	if int(o) < len(elementwiseNames) {
		return elementwiseNames[o]
	}
	return fmt.Sprintf("elementwise(%d)", uint8(o))
}

// ParseElementwiseOp accepts the names produced by String.
func ParseElementwiseOp(s string) (ElementwiseOp, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	for i, n := range elementwiseNames {
		if n == name {
			return ElementwiseOp(i), nil
		}
	}
	return 0, fmt.Errorf("unknown elementwise op %q", s)
}

// IsLogical reports ops defined only on U8 boolean tensors.
func (o ElementwiseOp) IsLogical() bool {
	return o == LogicalOr || o == LogicalAnd
}

// Eval applies the op in fp32.
func (o ElementwiseOp) Eval(a, b float32) float32 {
	switch o {
	case Add:
		return a + b
	case Sub:
		return a - b
	case Mul:
		return a * b
	case Max:
		return max(a, b)
	case Min:
		return min(a, b)
	case PRelu:
		if a > 0 {
			return a
		}
		return a * b
	case SquaredDiff:
		d := a - b
		return d * d
	default:
		return 0
	}
}

// ElementwiseParams configures an Elementwise operator over two inputs that
// broadcast to the output shape.
type ElementwiseParams struct {
	Op ElementwiseOp
}

// PoolingType selects the pooling reduction.
type PoolingType uint8

const (
	PoolMax PoolingType = iota
	PoolAvg
)

func (p PoolingType) String() string {
	if p == PoolAvg {
		return "avg"
	}
	return "max"
}

// PadStrideInfo carries stride and explicit padding for spatial operators.
type PadStrideInfo struct {
	StrideX   int
	StrideY   int
	PadLeft   int
	PadRight  int
	PadTop    int
	PadBottom int
}

// Stride returns a PadStrideInfo with the given strides and no padding.
func Stride(x, y int) PadStrideInfo {
	return PadStrideInfo{StrideX: x, StrideY: y}
}

// Padded returns a copy with symmetric padding.
func (p PadStrideInfo) Padded(x, y int) PadStrideInfo {
	p.PadLeft, p.PadRight, p.PadTop, p.PadBottom = x, x, y, y
	return p
}

// HasPadding reports whether any side is padded.
func (p PadStrideInfo) HasPadding() bool {
	return p.PadLeft|p.PadRight|p.PadTop|p.PadBottom != 0
}

func (p PadStrideInfo) check() error {
	if p.StrideX <= 0 || p.StrideY <= 0 {
		return status.Configuration("strides must be positive, have %dx%d", p.StrideX, p.StrideY)
	}
	if p.PadLeft < 0 || p.PadRight < 0 || p.PadTop < 0 || p.PadBottom < 0 {
		return status.Configuration("padding must be non-negative")
	}
	return nil
}

// ConvOutputSize returns floor((in + padBefore + padAfter - (k-1)*dilation - 1)/stride) + 1,
// the spatial output size of a convolution or pooling window.
func ConvOutputSize(in, k, stride, padBefore, padAfter, dilation int) (int, error) {
	if in <= 0 || k <= 0 || stride <= 0 || dilation <= 0 {
		return 0, status.Configuration("invalid window: in=%d k=%d stride=%d dilation=%d", in, k, stride, dilation)
	}
	span := in + padBefore + padAfter - (k-1)*dilation - 1
	if span < 0 {
		return 0, status.Configuration("kernel %d (dilation %d) larger than padded input %d", k, dilation, in+padBefore+padAfter)
	}
	return span/stride + 1, nil
}

// PoolingParams configures a 2-D NHWC pooling operator.
type PoolingParams struct {
	Type    PoolingType
	KernelW int
	KernelH int
	Pad     PadStrideInfo
	// ExcludePadding divides averages by the number of valid input
	// elements rather than the full window size.
	ExcludePadding bool
}

// Check validates the parameters alone.
func (p PoolingParams) Check() error {
	if p.KernelW <= 0 || p.KernelH <= 0 {
		return status.Configuration("pool size must be positive, have %dx%d", p.KernelW, p.KernelH)
	}
	return p.Pad.check()
}

// OutputHW returns the pooled spatial size for an input of h x w.
func (p PoolingParams) OutputHW(h, w int) (int, int, error) {
	oh, err := ConvOutputSize(h, p.KernelH, p.Pad.StrideY, p.Pad.PadTop, p.Pad.PadBottom, 1)
	if err != nil {
		return 0, 0, err
	}
	ow, err := ConvOutputSize(w, p.KernelW, p.Pad.StrideX, p.Pad.PadLeft, p.Pad.PadRight, 1)
	if err != nil {
		return 0, 0, err
	}
	return oh, ow, nil
}

// DepthwiseParams configures a 2-D NHWC depthwise convolution. Inputs are
// the activation [N,H,W,C], weights [KH,KW,C] and optionally bias [C].
type DepthwiseParams struct {
	Pad             PadStrideInfo
	DilationX       int
	DilationY       int
	DepthMultiplier int
}

// Dilations returns the dilation factors with zero treated as 1.
func (p DepthwiseParams) Dilations() (x, y int) {
	return max(p.DilationX, 1), max(p.DilationY, 1)
}

// Check validates the parameters alone.
func (p DepthwiseParams) Check() error {
	if p.DilationX < 0 || p.DilationY < 0 {
		return status.Configuration("dilation must be positive")
	}
	if p.DepthMultiplier > 1 {
		return status.Unsupported("depth multiplier %d", p.DepthMultiplier)
	}
	return p.Pad.check()
}

// GEMMParams configures D = clamp(Alpha*A*B + Beta*C + bias). Inputs are A
// [M,K], B [K,N], then C [M,N] when WithC and bias [N] when WithBias.
//
// With BlockedB set, B is instead the [ceil(N/BlockedB), K, BlockedB]
// tensor a Reorder with that block produces.
type GEMMParams struct {
	Alpha    float32
	Beta     float32
	WithC    bool
	WithBias bool
	BlockedB int
}

// NumInputs returns how many input tensors the parameters imply.
func (p GEMMParams) NumInputs() int {
	n := 2
	if p.WithC {
		n++
	}
	if p.WithBias {
		n++
	}
	return n
}

// ReduceOp selects the reduction function.
type ReduceOp uint8

const (
	ReduceSum ReduceOp = iota
	ReduceMean
	ReduceMax
	ReduceMin
)

var reduceNames = [...]string{
	ReduceSum:  "sum",
	ReduceMean: "mean",
	ReduceMax:  "max",
	ReduceMin:  "min",
}

func (r ReduceOp) String() string {
	if int(r) < len(reduceNames) {
		return reduceNames[r]
	}
	return fmt.Sprintf("reduce(%d)", uint8(r))
}

// ParseReduceOp accepts the names produced by String.
func ParseReduceOp(s string) (ReduceOp, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	for i, n := range reduceNames {
		if n == name {
			return ReduceOp(i), nil
		}
	}
	return 0, fmt.Errorf("unknown reduction %q", s)
}

// ReductionParams reduces along one axis. With KeepDims the output keeps
// the axis with size 1; otherwise it is removed.
type ReductionParams struct {
	Op       ReduceOp
	Axis     int
	KeepDims bool
}

// ReorderParams packs a 2-D weight matrix into column blocks. The input is
// [K,N], or [N,K] with Transpose, and the output is [ceil(N/Block), K, Block]
// with the lanes past N zeroed. Each block row is the contiguous run of B a
// GEMM register block reads per step of K.
type ReorderParams struct {
	Block     int
	Transpose bool
}

// ReorderBlocks lists the supported block widths.
var ReorderBlocks = []int{4, 8, 16}

// Check validates the parameters alone.
func (p ReorderParams) Check() error {
	for _, b := range ReorderBlocks {
		if p.Block == b {
			return nil
		}
	}
	return status.Configuration("reorder block %d, supported are %v", p.Block, ReorderBlocks)
}

// KN returns the logical rows K and columns N of a reorder input.
func (p ReorderParams) KN(in tensor.Shape) (k, n int) {
	if p.Transpose {
		return in[1], in[0]
	}
	return in[0], in[1]
}

// OutputShape returns the blocked shape a 2-D input reorders to.
func (p ReorderParams) OutputShape(in tensor.Shape) (tensor.Shape, error) {
	if err := p.Check(); err != nil {
		return nil, err
	}
	if len(in) != 2 {
		return nil, status.Configuration("reorder input must have rank 2, has shape %s", in)
	}
	k, n := p.KN(in)
	return tensor.Shape{(n + p.Block - 1) / p.Block, k, p.Block}, nil
}
