package kernels

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/samcharles93/stratum/internal/kernel"
	"github.com/samcharles93/stratum/internal/tensor"
	"github.com/samcharles93/stratum/pkg/quant"
)

func TestActivationClamp(t *testing.T) {
	t.Parallel()

	for _, name := range []string{"generic_fp32_act", "vec_fp32_act"} {
		in := f32Tensor(tensor.Shape{3}, []float32{-5, 3, 9})
		out := tensor.New(tensor.Shape{3}, tensor.F32, tensor.LayoutUnknown)
		cfg := &kernel.Config{
			Op:     kernel.Activation,
			Inputs: []tensor.Tensor{in},
			Output: out,
			Params: kernel.ActivationParams{Func: kernel.Identity},
			Clamp:  kernel.Clamp{Min: 0, Max: 6},
		}
		execute(t, lookup(t, name), cfg)
		assert.Equal(t, []float32{0, 3, 6}, out.Buf.Float32s(), name)
	}
}

func TestActivationOddmentsStayInBounds(t *testing.T) {
	t.Parallel()

	nan := float32(math.NaN())
	for _, name := range []string{"generic_fp32_act", "vec_fp32_act"} {
		inBuf := tensor.Alloc(12 * 4)
		outBuf := tensor.Alloc(12 * 4)
		src, dst := inBuf.Float32s(), outBuf.Float32s()
		for i := range 11 {
			src[i] = float32(i) - 5
		}
		src[11] = nan
		dst[11] = nan

		d := tensor.NewDescriptor(tensor.Shape{11}, tensor.F32, tensor.LayoutUnknown)
		cfg := &kernel.Config{
			Op:     kernel.Activation,
			Inputs: []tensor.Tensor{{Desc: d, Buf: inBuf}},
			Output: tensor.Tensor{Desc: d, Buf: outBuf},
			Params: kernel.ActivationParams{Func: kernel.ReLU},
		}
		execute(t, lookup(t, name), cfg)
		for i := range 11 {
			require.Equal(t, max(float32(i)-5, 0), dst[i], "%s index %d", name, i)
		}
		require.True(t, math.IsNaN(float64(dst[11])), "%s wrote past the valid region", name)
	}
}

func TestActivationFunctions(t *testing.T) {
	t.Parallel()

	x := []float32{-2, -0.5, 0, 0.5, 2}
	tests := []struct {
		params kernel.ActivationParams
		want   []float32
	}{
		{kernel.ActivationParams{Func: kernel.ReLU}, []float32{0, 0, 0, 0.5, 2}},
		{kernel.ActivationParams{Func: kernel.BoundedReLU, A: 1}, []float32{0, 0, 0, 0.5, 1}},
		{kernel.ActivationParams{Func: kernel.LUBoundedReLU, A: 1, B: -1}, []float32{-1, -0.5, 0, 0.5, 1}},
		{kernel.ActivationParams{Func: kernel.LeakyReLU, A: 0.1}, []float32{-0.2, -0.05, 0, 0.5, 2}},
	}
	for _, tt := range tests {
		in := f32Tensor(tensor.Shape{5}, x)
		out := tensor.New(tensor.Shape{5}, tensor.F32, tensor.LayoutUnknown)
		execute(t, lookup(t, "vec_fp32_act"), &kernel.Config{
			Op: kernel.Activation, Inputs: []tensor.Tensor{in}, Output: out, Params: tt.params,
		})
		requireClose(t, tt.want, out.Buf.Float32s(), 1e-7, tt.params.Func)
	}
}

func TestActivationStrategiesAgree(t *testing.T) {
	t.Parallel()

	shape := tensor.Shape{3, 5, 37}
	values := randomValues(7, shape.NumElements())
	params := []kernel.ActivationParams{
		{Func: kernel.Logistic},
		{Func: kernel.Tanh, A: 1, B: 1},
		{Func: kernel.LeakyReLU, A: 0.01},
	}
	for _, p := range params {
		ref := tensor.New(shape, tensor.F32, tensor.LayoutUnknown)
		execute(t, lookup(t, "generic_fp32_act"), &kernel.Config{Op: kernel.Activation, Inputs: []tensor.Tensor{f32Tensor(shape, values)}, Output: ref, Params: p})
		got := tensor.New(shape, tensor.F32, tensor.LayoutUnknown)
		execute(t, lookup(t, "vec_fp32_act"), &kernel.Config{Op: kernel.Activation, Inputs: []tensor.Tensor{f32Tensor(shape, values)}, Output: got, Params: p})
		assert.Equal(t, ref.Buf.Float32s(), got.Buf.Float32s(), p.Func)

		h16 := tensor.New(shape, tensor.F16, tensor.LayoutUnknown)
		execute(t, lookup(t, "generic_fp16_act"), &kernel.Config{Op: kernel.Activation, Inputs: []tensor.Tensor{f16Tensor(shape, values)}, Output: h16, Params: p})
		v16 := tensor.New(shape, tensor.F16, tensor.LayoutUnknown)
		execute(t, lookup(t, "vec_fp16_act"), &kernel.Config{Op: kernel.Activation, Inputs: []tensor.Tensor{f16Tensor(shape, values)}, Output: v16, Params: p})
		requireClose(t, toFloat32s(h16), toFloat32s(v16), fp16Tol, p.Func)
		requireClose(t, toFloat32s(ref), toFloat32s(v16), fp16Tol, p.Func)
	}
}

func TestActivationStridedInput(t *testing.T) {
	t.Parallel()

	// Every other element of an 8-wide row.
	buf := tensor.FromFloat32s([]float32{-1, 100, 2, 100, -3, 100, 4, 100})
	in := tensor.Tensor{Desc: tensor.NewDescriptor(tensor.Shape{4}, tensor.F32, tensor.LayoutUnknown).WithStrides(8), Buf: buf}
	out := tensor.New(tensor.Shape{4}, tensor.F32, tensor.LayoutUnknown)
	execute(t, lookup(t, "vec_fp32_act"), &kernel.Config{
		Op: kernel.Activation, Inputs: []tensor.Tensor{in}, Output: out, Params: kernel.ActivationParams{Func: kernel.ReLU},
	})
	assert.Equal(t, []float32{0, 2, 0, 4}, out.Buf.Float32s())
}

func TestActivationQASYMM8(t *testing.T) {
	t.Parallel()

	qp := quant.Params{Scale: 0.5, Zero: 128}
	info := tensor.QuantInfo{Scales: []float32{qp.Scale}, Offsets: []int32{qp.Zero}}
	values := []float32{-4, -1, 0, 1.5, 6, 60}
	shape := tensor.Shape{len(values)}

	in := tensor.New(shape, tensor.QASYMM8, tensor.LayoutUnknown)
	in.Desc = in.Desc.WithQuant(info)
	for i, v := range values {
		in.Buf[i] = quant.QuantiseU8(v, qp)
	}
	out := tensor.New(shape, tensor.QASYMM8, tensor.LayoutUnknown)
	out.Desc = out.Desc.WithQuant(info)

	execute(t, lookup(t, "generic_qasymm8_act"), &kernel.Config{
		Op:     kernel.Activation,
		Inputs: []tensor.Tensor{in},
		Output: out,
		Params: kernel.ActivationParams{Func: kernel.BoundedReLU, A: 6},
	})
	want := []float32{0, 0, 0, 1.5, 6, 6}
	for i, w := range want {
		assert.Equal(t, w, quant.DequantiseU8(out.Buf[i], qp), "index %d", i)
	}
}

func TestActivationValidation(t *testing.T) {
	t.Parallel()

	s := lookup(t, "generic_fp32_act")
	cfg := &kernel.Config{
		Op:     kernel.Activation,
		Inputs: []tensor.Tensor{tensor.New(tensor.Shape{4}, tensor.F32, tensor.LayoutUnknown)},
		Output: tensor.New(tensor.Shape{5}, tensor.F32, tensor.LayoutUnknown),
		Params: kernel.ActivationParams{},
	}
	require.ErrorIs(t, s.Validate(s, cfg), kernel.ErrValidation)

	cfg.Output = tensor.New(tensor.Shape{4}, tensor.F32, tensor.LayoutUnknown)
	cfg.Params = kernel.PoolingParams{}
	require.ErrorIs(t, s.Validate(s, cfg), kernel.ErrValidation)
}

func TestActivationRequantises(t *testing.T) {
	t.Parallel()

	s := lookup(t, "generic_qasymm8_act")
	quantised := func(shape tensor.Shape, scale float32) tensor.Tensor {
		tt := tensor.New(shape, tensor.QASYMM8, tensor.LayoutUnknown)
		tt.Desc = tt.Desc.WithQuant(tensor.QuantInfo{Scales: []float32{scale}, Offsets: []int32{10}})
		return tt
	}
	cfg := &kernel.Config{
		Op:     kernel.Activation,
		Inputs: []tensor.Tensor{quantised(tensor.Shape{2, 8}, 0.25)},
		Output: quantised(tensor.Shape{2, 8}, 0.5),
		Params: kernel.ActivationParams{Func: kernel.ReLU},
	}
	require.NoError(t, s.Validate(s, cfg))

	cfg.Output = quantised(tensor.Shape{16}, 0.25)
	require.ErrorIs(t, s.Validate(s, cfg), kernel.ErrValidation)
}
