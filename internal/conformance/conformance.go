package conformance

import (
	"context"
	"errors"
	"fmt"
	"math"

	"golang.org/x/sync/errgroup"

	"github.com/samcharles93/stratum/internal/cpuinfo"
	"github.com/samcharles93/stratum/internal/kernel"
	"github.com/samcharles93/stratum/internal/operator"
	"github.com/samcharles93/stratum/internal/status"
	"github.com/samcharles93/stratum/internal/tensor"
)

// ErrMismatch is reported when two strategies of one case disagree beyond
// the tolerance of its data type.
var ErrMismatch = errors.New("strategies disagree")

// Tolerance is the largest relative difference allowed between two
// strategies, floored at the same absolute difference near zero.
func Tolerance(dt tensor.DataType) float64 {
	switch dt {
	case tensor.F32:
		return 1e-5
	case tensor.F16:
		return 2e-3
	case tensor.BF16:
		return 1e-2
	default:
		return 0
	}
}

// Result is the verdict for one case.
type Result struct {
	Case       Case
	Strategies []string // strategies that accepted the case, in precedence order
	MaxDiff    float64
	Err        error
}

// Skipped reports a case fewer than two strategies could run, so nothing
// was compared.
func (r Result) Skipped() bool {
	return r.Err == nil && len(r.Strategies) < 2
}

// Check runs every case through each strategy of reg eligible under caps
// and compares the outputs with the first. Up to parallel cases run at
// once; zero means no limit. Per-case failures land in the results; the
// returned error is only ever the context's.
func Check(ctx context.Context, reg *kernel.Registry, caps cpuinfo.Set, cases []Case, parallel int) ([]Result, error) {
	results := make([]Result, len(cases))
	g, ctx := errgroup.WithContext(ctx)
	if parallel > 0 {
		g.SetLimit(parallel)
	}
	for i, c := range cases {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			results[i] = checkCase(reg, caps, c, uint64(i)+1)
			return nil
		})
	}
	return results, g.Wait()
}

func checkCase(reg *kernel.Registry, caps cpuinfo.Set, c Case, seed uint64) Result {
	res := Result{Case: c}
	cfg, err := Workload(c, seed)
	if err != nil {
		res.Err = err
		return res
	}
	var (
		ref     []float32
		refName string
	)
	tol := Tolerance(c.DType)
	for _, s := range reg.Candidates(cfg.Query(caps)) {
		out, err := runPinned(s, cfg, caps)
		if errors.Is(err, status.ErrValidation) {
			// Fixed-geometry strategies decline shapes they do not cover.
			continue
		}
		if err != nil {
			res.Err = fmt.Errorf("%s: %w", s.Name, err)
			return res
		}
		res.Strategies = append(res.Strategies, s.Name)
		if ref == nil {
			ref, refName = out, s.Name
			continue
		}
		d := maxRelDiff(ref, out)
		res.MaxDiff = max(res.MaxDiff, d)
		if d > tol {
			res.Err = fmt.Errorf("%w: %s and %s differ by %.3g (tolerance %.3g)", ErrMismatch, refName, s.Name, d, tol)
			return res
		}
	}
	return res
}

// runPinned configures cfg against a registry holding only s and returns
// the output it computes over the whole window.
func runPinned(s *kernel.Strategy, cfg *kernel.Config, caps cpuinfo.Set) ([]float32, error) {
	reg := kernel.NewRegistry("pinned:" + s.Name)
	reg.Register(s)

	bound := *cfg
	d := cfg.Output.Desc
	bound.Output = tensor.New(d.Shape(), d.DataType(), d.Layout())
	bound.Output.Desc = d
	op := operator.New(nil)
	if err := op.Configure(&bound, reg, caps); err != nil {
		return nil, err
	}
	if err := op.Run(op.Window()); err != nil {
		return nil, err
	}
	return Values(bound.Output), nil
}

func maxRelDiff(want, got []float32) float64 {
	if len(want) != len(got) {
		return math.Inf(1)
	}
	var worst float64
	for i := range want {
		a, b := float64(want[i]), float64(got[i])
		if math.IsNaN(a) != math.IsNaN(b) {
			return math.Inf(1)
		}
		scale := math.Max(1, math.Max(math.Abs(a), math.Abs(b)))
		worst = math.Max(worst, math.Abs(a-b)/scale)
	}
	return worst
}

// DefaultCases covers every operator with shapes whose trailing dims are
// not multiples of the common tiles, so partial blocks are exercised.
func DefaultCases() []Case {
	var cases []Case
	for _, p := range []kernel.ActivationParams{
		{Func: kernel.Identity},
		{Func: kernel.ReLU},
		{Func: kernel.BoundedReLU, A: 1.5},
		{Func: kernel.LUBoundedReLU, A: 1, B: -1},
		{Func: kernel.LeakyReLU, A: 0.1},
		{Func: kernel.Logistic},
		{Func: kernel.Tanh, A: 1, B: 0.5},
	} {
		cases = append(cases,
			Case{Op: kernel.Activation, DType: tensor.F32, Shape: tensor.Shape{3, 37}, Params: p},
			Case{Op: kernel.Activation, DType: tensor.F16, Shape: tensor.Shape{5, 21}, Params: p},
		)
	}
	for _, op := range []kernel.ElementwiseOp{kernel.Add, kernel.Sub, kernel.Mul, kernel.Max, kernel.Min, kernel.PRelu, kernel.SquaredDiff} {
		p := kernel.ElementwiseParams{Op: op}
		cases = append(cases,
			Case{Op: kernel.Elementwise, DType: tensor.F32, Shape: tensor.Shape{4, 35}, Params: p},
			Case{Op: kernel.Elementwise, DType: tensor.F16, Shape: tensor.Shape{2, 3, 19}, Params: p},
		)
	}
	for _, typ := range []kernel.PoolingType{kernel.PoolMax, kernel.PoolAvg} {
		p := kernel.PoolingParams{Type: typ, KernelW: 3, KernelH: 3, Pad: kernel.Stride(1, 1).Padded(1, 1)}
		cases = append(cases,
			Case{Op: kernel.Pooling, DType: tensor.F32, Shape: tensor.Shape{1, 7, 9, 20}, Params: p},
			Case{Op: kernel.Pooling, DType: tensor.F16, Shape: tensor.Shape{1, 5, 6, 18}, Params: p},
		)
	}
	cases = append(cases,
		Case{Op: kernel.DepthwiseConv, DType: tensor.F32, Shape: tensor.Shape{1, 8, 7, 12},
			Params: kernel.DepthwiseParams{Pad: kernel.Stride(1, 1).Padded(1, 1)}},
		Case{Op: kernel.DepthwiseConv, DType: tensor.F32, Shape: tensor.Shape{2, 9, 9, 6},
			Params: kernel.DepthwiseParams{Pad: kernel.Stride(2, 2).Padded(1, 1)}},
		Case{Op: kernel.GEMM, DType: tensor.F32, Shape: tensor.Shape{13, 37, 19}},
		Case{Op: kernel.GEMM, DType: tensor.F32, Shape: tensor.Shape{6, 16, 8}, Params: kernel.GEMMParams{Alpha: 0.5, Beta: 2, WithC: true}},
		Case{Op: kernel.GEMM, DType: tensor.F16, Shape: tensor.Shape{7, 20, 9}},
		Case{Op: kernel.GEMM, DType: tensor.F32, Shape: tensor.Shape{13, 37, 19}, Params: kernel.GEMMParams{Alpha: 1, WithBias: true, BlockedB: 8}},
		Case{Op: kernel.GEMM, DType: tensor.F32, Shape: tensor.Shape{6, 16, 8}, Params: kernel.GEMMParams{Alpha: 1, BlockedB: 16}},
	)
	for _, p := range []kernel.ReorderParams{{Block: 4}, {Block: 16}, {Block: 8, Transpose: true}} {
		cases = append(cases, Case{Op: kernel.Reorder, DType: tensor.F32, Shape: tensor.Shape{11, 37}, Params: p})
	}
	for _, out := range []tensor.DataType{tensor.QASYMM8, tensor.QASYMM8Signed} {
		cases = append(cases,
			Case{Op: kernel.Quantization, DType: tensor.F32, Shape: tensor.Shape{3, 37}, Out: out},
			Case{Op: kernel.Quantization, DType: tensor.F16, Shape: tensor.Shape{5, 21}, Out: out},
			Case{Op: kernel.Quantization, DType: tensor.QASYMM8, Shape: tensor.Shape{70}, Out: out},
		)
	}
	for _, op := range []kernel.ReduceOp{kernel.ReduceSum, kernel.ReduceMean, kernel.ReduceMax, kernel.ReduceMin} {
		cases = append(cases,
			Case{Op: kernel.Reduction, DType: tensor.F32, Shape: tensor.Shape{6, 35}, Params: kernel.ReductionParams{Op: op, Axis: 1}},
			Case{Op: kernel.Reduction, DType: tensor.F32, Shape: tensor.Shape{9, 3, 21}, Params: kernel.ReductionParams{Op: op, Axis: 0, KeepDims: true}},
		)
	}
	return cases
}
