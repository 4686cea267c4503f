package kernels

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/samcharles93/stratum/internal/kernel"
	"github.com/samcharles93/stratum/internal/tensor"
)

func reductionConfig(in tensor.Tensor, p kernel.ReductionParams) *kernel.Config {
	return &kernel.Config{
		Op:     kernel.Reduction,
		Inputs: []tensor.Tensor{in},
		Output: tensor.New(ReducedShape(in.Desc.Shape(), p.Axis, p.KeepDims), tensor.F32, tensor.LayoutUnknown),
		Params: p,
	}
}

func TestReducedShape(t *testing.T) {
	t.Parallel()

	assert.Equal(t, tensor.Shape{2, 4}, ReducedShape(tensor.Shape{2, 3, 4}, 1, false))
	assert.Equal(t, tensor.Shape{2, 1, 4}, ReducedShape(tensor.Shape{2, 3, 4}, 1, true))
	assert.Equal(t, tensor.Shape{1}, ReducedShape(tensor.Shape{5}, 0, false))
	assert.Equal(t, tensor.Shape{1}, ReducedShape(tensor.Shape{5}, 0, true))
}

func TestReductionOps(t *testing.T) {
	t.Parallel()

	// 2x3 matrix [[1 2 3] [4 5 6]].
	values := []float32{1, 2, 3, 4, 5, 6}
	tests := []struct {
		name string
		p    kernel.ReductionParams
		want []float32
	}{
		{"sum rows", kernel.ReductionParams{Op: kernel.ReduceSum, Axis: 1}, []float32{6, 15}},
		{"sum cols", kernel.ReductionParams{Op: kernel.ReduceSum, Axis: 0}, []float32{5, 7, 9}},
		{"mean rows", kernel.ReductionParams{Op: kernel.ReduceMean, Axis: 1}, []float32{2, 5}},
		{"max cols keepdims", kernel.ReductionParams{Op: kernel.ReduceMax, Axis: 0, KeepDims: true}, []float32{4, 5, 6}},
		{"min rows keepdims", kernel.ReductionParams{Op: kernel.ReduceMin, Axis: 1, KeepDims: true}, []float32{1, 4}},
	}
	for _, name := range []string{"generic_fp32_reduce", "vec_fp32_reduce"} {
		for _, tt := range tests {
			cfg := reductionConfig(f32Tensor(tensor.Shape{2, 3}, values), tt.p)
			execute(t, lookup(t, name), cfg)
			assert.Equal(t, tt.want, cfg.Output.Buf.Float32s(), "%s %s", name, tt.name)
		}
	}
}

func TestReductionRankOne(t *testing.T) {
	t.Parallel()

	cfg := reductionConfig(f32Tensor(tensor.Shape{5}, []float32{3, -1, 4, 1, -5}), kernel.ReductionParams{Op: kernel.ReduceMin})
	execute(t, lookup(t, "vec_fp32_reduce"), cfg)
	assert.Equal(t, []float32{-5}, cfg.Output.Buf.Float32s())
}

func TestReductionStrategiesAgree(t *testing.T) {
	t.Parallel()

	shape := tensor.Shape{3, 7, 37}
	values := randomValues(5, shape.NumElements())
	for axis := range shape.Rank() {
		for _, op := range []kernel.ReduceOp{kernel.ReduceSum, kernel.ReduceMean, kernel.ReduceMax} {
			p := kernel.ReductionParams{Op: op, Axis: axis, KeepDims: axis == 1}
			ref := reductionConfig(f32Tensor(shape, values), p)
			execute(t, lookup(t, "generic_fp32_reduce"), ref)
			got := reductionConfig(f32Tensor(shape, values), p)
			execute(t, lookup(t, "vec_fp32_reduce"), got)
			require.Equal(t, ref.Output.Buf.Float32s(), got.Output.Buf.Float32s(), "axis %d op %s", axis, op)
		}
	}
}

func TestReductionClamp(t *testing.T) {
	t.Parallel()

	cfg := reductionConfig(f32Tensor(tensor.Shape{2, 2}, []float32{5, 5, -5, -5}), kernel.ReductionParams{Op: kernel.ReduceSum, Axis: 1})
	cfg.Clamp = kernel.Clamp{Min: -6, Max: 6}
	execute(t, lookup(t, "generic_fp32_reduce"), cfg)
	assert.Equal(t, []float32{6, -6}, cfg.Output.Buf.Float32s())
}

func TestReductionValidation(t *testing.T) {
	t.Parallel()

	s := lookup(t, "generic_fp32_reduce")
	in := tensor.New(tensor.Shape{2, 3}, tensor.F32, tensor.LayoutUnknown)

	cfg := &kernel.Config{
		Op:     kernel.Reduction,
		Inputs: []tensor.Tensor{in},
		Output: tensor.New(tensor.Shape{2}, tensor.F32, tensor.LayoutUnknown),
		Params: kernel.ReductionParams{Axis: 2},
	}
	err := s.Validate(s, cfg)
	require.ErrorIs(t, err, kernel.ErrValidation)
	var ve *kernel.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Contains(t, ve.Reason, "out of range")

	// Output shape ignores keepdims.
	cfg.Params = kernel.ReductionParams{Axis: 1, KeepDims: true}
	require.ErrorIs(t, s.Validate(s, cfg), kernel.ErrValidation)

	cfg.Params = kernel.ReductionParams{Axis: 1}
	require.NoError(t, s.Validate(s, cfg))
}
