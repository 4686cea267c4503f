package kernels

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/samcharles93/stratum/internal/kernel"
	"github.com/samcharles93/stratum/internal/tensor"
)

type depthwiseCase struct {
	n, h, w, c int
	k          int
	p          kernel.DepthwiseParams
	bias       bool
}

func (dc depthwiseCase) outShape(t *testing.T) tensor.Shape {
	t.Helper()
	dx, dy := dc.p.Dilations()
	oh, err := kernel.ConvOutputSize(dc.h, dc.k, dc.p.Pad.StrideY, dc.p.Pad.PadTop, dc.p.Pad.PadBottom, dy)
	require.NoError(t, err)
	ow, err := kernel.ConvOutputSize(dc.w, dc.k, dc.p.Pad.StrideX, dc.p.Pad.PadLeft, dc.p.Pad.PadRight, dx)
	require.NoError(t, err)
	return tensor.Shape{dc.n, oh, ow, dc.c}
}

func (dc depthwiseCase) config(t *testing.T, dt tensor.DataType) *kernel.Config {
	t.Helper()
	build := f32Tensor
	if dt == tensor.F16 {
		build = f16Tensor
	}
	inShape := tensor.Shape{dc.n, dc.h, dc.w, dc.c}
	wShape := tensor.Shape{dc.k, dc.k, dc.c}
	inputs := []tensor.Tensor{
		nhwc(build(inShape, randomValues(11, inShape.NumElements()))),
		nhwc(build(wShape, randomValues(12, wShape.NumElements()))),
	}
	if dc.bias {
		inputs = append(inputs, nhwc(build(tensor.Shape{dc.c}, randomValues(13, dc.c))))
	}
	return &kernel.Config{
		Op:     kernel.DepthwiseConv,
		Inputs: inputs,
		Output: tensor.New(dc.outShape(t), dt, tensor.NHWC),
		Params: dc.p,
	}
}

// referenceDepthwise is a direct float64 evaluation of the convolution.
func referenceDepthwise(t *testing.T, cfg *kernel.Config) []float32 {
	t.Helper()
	p := cfg.Params.(kernel.DepthwiseParams)
	in, wts := toFloat32s(cfg.Inputs[0]), toFloat32s(cfg.Inputs[1])
	var bias []float32
	if len(cfg.Inputs) == 3 {
		bias = toFloat32s(cfg.Inputs[2])
	}
	is, ws, os := cfg.Inputs[0].Desc.Shape(), cfg.Inputs[1].Desc.Shape(), cfg.Output.Desc.Shape()
	h, w, c, kh, kw := is[1], is[2], is[3], ws[0], ws[1]
	dx, dy := p.Dilations()
	out := make([]float32, os.NumElements())
	for n := range os[0] {
		for oy := range os[1] {
			for ox := range os[2] {
				for ch := range c {
					var acc float64
					if bias != nil {
						acc = float64(bias[ch])
					}
					for ky := range kh {
						for kx := range kw {
							iy := oy*p.Pad.StrideY - p.Pad.PadTop + ky*dy
							ix := ox*p.Pad.StrideX - p.Pad.PadLeft + kx*dx
							if iy < 0 || iy >= h || ix < 0 || ix >= w {
								continue
							}
							acc += float64(in[((n*h+iy)*w+ix)*c+ch]) * float64(wts[(ky*kw+kx)*c+ch])
						}
					}
					out[((n*os[1]+oy)*os[2]+ox)*c+ch] = float32(acc)
				}
			}
		}
	}
	return out
}

func TestDepthwiseMatchesReference(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name     string
		strategy string
		dc       depthwiseCase
	}{
		{"generic 5x5 dilated", "generic_fp32_nhwc_depthwise", depthwiseCase{n: 1, h: 9, w: 8, c: 6, k: 5, p: kernel.DepthwiseParams{Pad: kernel.Stride(1, 1).Padded(2, 2), DilationX: 2, DilationY: 1}, bias: true}},
		{"generic strided", "generic_fp32_nhwc_depthwise", depthwiseCase{n: 2, h: 7, w: 7, c: 3, k: 3, p: kernel.DepthwiseParams{Pad: kernel.Stride(2, 3)}}},
		{"3x3 s1", "vec_fp32_nhwc_3x3_s1_output2x2", depthwiseCase{n: 1, h: 7, w: 6, c: 11, k: 3, p: kernel.DepthwiseParams{Pad: kernel.Stride(1, 1).Padded(1, 1)}, bias: true}},
		{"3x3 s2", "vec_fp32_nhwc_3x3_s2_output2x2", depthwiseCase{n: 2, h: 9, w: 8, c: 5, k: 3, p: kernel.DepthwiseParams{Pad: kernel.Stride(2, 2).Padded(1, 1)}}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			cfg := tc.dc.config(t, tensor.F32)
			execute(t, lookup(t, tc.strategy), cfg)
			requireClose(t, referenceDepthwise(t, cfg), toFloat32s(cfg.Output), fp32Tol)
		})
	}
}

func TestDepthwiseFP16(t *testing.T) {
	t.Parallel()

	dc := depthwiseCase{n: 1, h: 8, w: 8, c: 12, k: 3, p: kernel.DepthwiseParams{Pad: kernel.Stride(2, 2).Padded(1, 1)}, bias: true}
	generic := dc.config(t, tensor.F16)
	execute(t, lookup(t, "generic_fp16_nhwc_depthwise"), generic)
	vec := dc.config(t, tensor.F16)
	execute(t, lookup(t, "vec_fp16_nhwc_3x3_s2_output2x2"), vec)

	requireClose(t, toFloat32s(generic.Output), toFloat32s(vec.Output), fp16Tol)
	requireClose(t, referenceDepthwise(t, generic), toFloat32s(generic.Output), 1e-2)
}

func TestDepthwiseSpecialisedRejectsGeometry(t *testing.T) {
	t.Parallel()

	s1 := lookup(t, "vec_fp32_nhwc_3x3_s1_output2x2")

	cfg := depthwiseCase{n: 1, h: 8, w: 8, c: 4, k: 5, p: kernel.DepthwiseParams{Pad: kernel.Stride(1, 1)}}.config(t, tensor.F32)
	err := s1.Validate(s1, cfg)
	require.ErrorIs(t, err, kernel.ErrValidation)
	var ve *kernel.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Contains(t, ve.Reason, "kernel 5x5")

	cfg = depthwiseCase{n: 1, h: 8, w: 8, c: 4, k: 3, p: kernel.DepthwiseParams{Pad: kernel.Stride(2, 2)}}.config(t, tensor.F32)
	require.ErrorIs(t, s1.Validate(s1, cfg), kernel.ErrValidation)

	cfg = depthwiseCase{n: 1, h: 8, w: 8, c: 4, k: 3, p: kernel.DepthwiseParams{Pad: kernel.Stride(1, 1), DilationX: 2, DilationY: 2}}.config(t, tensor.F32)
	require.ErrorIs(t, s1.Validate(s1, cfg), kernel.ErrValidation)

	// The generic strategy accepts all three.
	g := lookup(t, "generic_fp32_nhwc_depthwise")
	require.NoError(t, g.Validate(g, cfg))
}

func TestDepthwiseResolveFallsBack(t *testing.T) {
	t.Parallel()

	cfg := depthwiseCase{n: 1, h: 8, w: 8, c: 4, k: 5, p: kernel.DepthwiseParams{Pad: kernel.Stride(1, 1)}}.config(t, tensor.F32)
	s, err := kernel.Default.Resolve(cfg.Query(allCaps), func(s *kernel.Strategy) error { return s.Validate(s, cfg) })
	require.NoError(t, err)
	assert.Equal(t, "generic_fp32_nhwc_depthwise", s.Name)

	cfg = depthwiseCase{n: 1, h: 8, w: 8, c: 4, k: 3, p: kernel.DepthwiseParams{Pad: kernel.Stride(2, 2).Padded(1, 1)}}.config(t, tensor.F32)
	s, err = kernel.Default.Resolve(cfg.Query(allCaps), func(s *kernel.Strategy) error { return s.Validate(s, cfg) })
	require.NoError(t, err)
	assert.Equal(t, "vec_fp32_nhwc_3x3_s2_output2x2", s.Name)
}

func TestDepthwiseRejectsWrongOutput(t *testing.T) {
	t.Parallel()

	cfg := depthwiseCase{n: 1, h: 8, w: 8, c: 4, k: 3, p: kernel.DepthwiseParams{Pad: kernel.Stride(1, 1)}}.config(t, tensor.F32)
	cfg.Output = tensor.New(tensor.Shape{1, 8, 8, 4}, tensor.F32, tensor.NHWC)
	g := lookup(t, "generic_fp32_nhwc_depthwise")
	require.ErrorIs(t, g.Validate(g, cfg), kernel.ErrValidation)
}
