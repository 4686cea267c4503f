package kernels

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/samcharles93/stratum/internal/kernel"
	"github.com/samcharles93/stratum/internal/tensor"
)

type gemmCase struct {
	m, n, k     int
	alpha, beta float32
}

func (gc gemmCase) String() string {
	return fmt.Sprintf("%dx%dx%d_a%g_b%g", gc.m, gc.n, gc.k, gc.alpha, gc.beta)
}

func (gc gemmCase) config(dt tensor.DataType, bias bool) *kernel.Config {
	build := f32Tensor
	if dt == tensor.F16 {
		build = f16Tensor
	}
	p := kernel.GEMMParams{Alpha: gc.alpha, Beta: gc.beta, WithC: gc.beta != 0, WithBias: bias}
	inputs := []tensor.Tensor{
		build(tensor.Shape{gc.m, gc.k}, randomValues(21, gc.m*gc.k)),
		build(tensor.Shape{gc.k, gc.n}, randomValues(22, gc.k*gc.n)),
	}
	if p.WithC {
		inputs = append(inputs, build(tensor.Shape{gc.m, gc.n}, randomValues(23, gc.m*gc.n)))
	}
	if bias {
		inputs = append(inputs, build(tensor.Shape{gc.n}, randomValues(24, gc.n)))
	}
	return &kernel.Config{
		Op:     kernel.GEMM,
		Inputs: inputs,
		Output: tensor.New(tensor.Shape{gc.m, gc.n}, dt, tensor.LayoutUnknown),
		Params: p,
	}
}

func referenceGEMM(cfg *kernel.Config) []float32 {
	p := cfg.Params.(kernel.GEMMParams)
	a, b := toFloat32s(cfg.Inputs[0]), toFloat32s(cfg.Inputs[1])
	m, k, n := cfg.Inputs[0].Desc.Dim(0), cfg.Inputs[0].Desc.Dim(1), cfg.Inputs[1].Desc.Dim(1)
	var c, bias []float32
	next := 2
	if p.WithC {
		c = toFloat32s(cfg.Inputs[next])
		next++
	}
	if p.WithBias {
		bias = toFloat32s(cfg.Inputs[next])
	}
	out := make([]float32, m*n)
	for i := range m {
		for j := range n {
			var acc float64
			for q := range k {
				acc += float64(a[i*k+q]) * float64(b[q*n+j])
			}
			v := float64(p.Alpha) * acc
			if c != nil {
				v += float64(p.Beta) * float64(c[i*n+j])
			}
			if bias != nil {
				v += float64(bias[j])
			}
			out[i*n+j] = float32(v)
		}
	}
	return out
}

var smallGEMMs = []gemmCase{
	{1, 17, 32, 0.4, 0.7},
	{1, 23, 31, 1, 0},
	{1, 23, 31, 1, 1},
	{2, 16, 8, 1, 0},
	{12, 21, 38, 0.2, 1.2},
	{13, 33, 21, 1, 0},
}

func TestGEMMMatchesReference(t *testing.T) {
	t.Parallel()

	for _, name := range []string{"generic_fp32_gemm_4x4", "vec_fp32_gemm_6x16", "sve_fp32_gemm_8x16"} {
		for _, gc := range smallGEMMs {
			t.Run(name+"/"+gc.String(), func(t *testing.T) {
				t.Parallel()
				cfg := gc.config(tensor.F32, false)
				execute(t, lookup(t, name), cfg)
				requireClose(t, referenceGEMM(cfg), toFloat32s(cfg.Output), fp32Tol)
			})
		}
	}
}

func TestGEMMBiasAndClamp(t *testing.T) {
	t.Parallel()

	gc := gemmCase{m: 7, n: 19, k: 5, alpha: 1, beta: 0.5}
	for _, name := range []string{"generic_fp32_gemm_4x4", "vec_fp32_gemm_6x16"} {
		cfg := gc.config(tensor.F32, true)
		cfg.Clamp = kernel.Clamp{Min: -1, Max: 1}
		execute(t, lookup(t, name), cfg)

		want := referenceGEMM(cfg)
		for i := range want {
			want[i] = min(max(want[i], -1), 1)
		}
		requireClose(t, want, toFloat32s(cfg.Output), fp32Tol, name)
	}
}

func TestGEMMFP16(t *testing.T) {
	t.Parallel()

	gc := gemmCase{m: 9, n: 20, k: 13, alpha: 1, beta: 0}
	generic := gc.config(tensor.F16, true)
	execute(t, lookup(t, "generic_fp16_gemm_4x4"), generic)
	vec := gc.config(tensor.F16, true)
	execute(t, lookup(t, "vec_fp16_gemm_6x16"), vec)

	requireClose(t, toFloat32s(generic.Output), toFloat32s(vec.Output), fp16Tol)
	requireClose(t, referenceGEMM(generic), toFloat32s(generic.Output), 1e-2)
}

func TestGEMMInnerDimensionMismatch(t *testing.T) {
	t.Parallel()

	s := lookup(t, "vec_fp32_gemm_6x16")
	cfg := &kernel.Config{
		Op: kernel.GEMM,
		Inputs: []tensor.Tensor{
			tensor.New(tensor.Shape{4, 5}, tensor.F32, tensor.LayoutUnknown),
			tensor.New(tensor.Shape{6, 3}, tensor.F32, tensor.LayoutUnknown),
		},
		Output: tensor.New(tensor.Shape{4, 3}, tensor.F32, tensor.LayoutUnknown),
		Params: kernel.GEMMParams{Alpha: 1},
	}
	err := s.Validate(s, cfg)
	require.ErrorIs(t, err, kernel.ErrValidation)
	var ve *kernel.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Contains(t, ve.Reason, "inner dimensions differ")
}

func TestGEMMInputCount(t *testing.T) {
	t.Parallel()

	s := lookup(t, "generic_fp32_gemm_4x4")
	cfg := gemmCase{m: 2, n: 2, k: 2, alpha: 1}.config(tensor.F32, false)
	cfg.Params = kernel.GEMMParams{Alpha: 1, WithBias: true}
	require.ErrorIs(t, s.Validate(s, cfg), kernel.ErrValidation)
}

func TestGEMMSelection(t *testing.T) {
	t.Parallel()

	q := kernel.Query{Op: kernel.GEMM, DType: tensor.F32, Caps: allCaps, Shape: tensor.Shape{64, 64}}
	s, err := kernel.Default.Select(q)
	require.NoError(t, err)
	assert.Equal(t, "sve_fp32_gemm_8x16", s.Name)

	q.Caps = capsVector
	s, err = kernel.Default.Select(q)
	require.NoError(t, err)
	assert.Equal(t, "vec_fp32_gemm_6x16", s.Name)

	q.Caps = capsBase
	s, err = kernel.Default.Select(q)
	require.NoError(t, err)
	assert.Equal(t, "generic_fp32_gemm_4x4", s.Name)
}
