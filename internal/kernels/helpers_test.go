package kernels

import (
	"math"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/samcharles93/stratum/internal/cpuinfo"
	"github.com/samcharles93/stratum/internal/kernel"
	"github.com/samcharles93/stratum/internal/tensor"
	"github.com/samcharles93/stratum/internal/window"
)

// allCaps lets every registered strategy be a candidate.
var allCaps = cpuinfo.Of(cpuinfo.Base, cpuinfo.Vector, cpuinfo.FP16, cpuinfo.DotProd, cpuinfo.BF16, cpuinfo.SVE, cpuinfo.SVE2)

func lookup(t *testing.T, name string) *kernel.Strategy {
	t.Helper()
	s, ok := kernel.Default.Lookup(name)
	require.True(t, ok, "strategy %s not registered", name)
	return s
}

// execute validates, prepares and runs s over the whole output of cfg.
func execute(t *testing.T, s *kernel.Strategy, cfg *kernel.Config) {
	t.Helper()
	require.NoError(t, cfg.CheckDescriptors())
	require.NoError(t, cfg.CheckBuffers())
	require.NoError(t, s.Validate(s, cfg))
	plan, err := s.Prepare(s, cfg)
	require.NoError(t, err)
	w, err := window.FromShape(cfg.Output.Desc.Shape(), s.Tile)
	require.NoError(t, err)
	require.NoError(t, s.Run(&kernel.Exec{Strategy: s, Config: cfg, Plan: plan}, w))
}

func f32Tensor(shape tensor.Shape, values []float32) tensor.Tensor {
	t := tensor.New(shape, tensor.F32, tensor.LayoutUnknown)
	copy(t.Buf.Float32s(), values)
	return t
}

func f16Tensor(shape tensor.Shape, values []float32) tensor.Tensor {
	t := tensor.New(shape, tensor.F16, tensor.LayoutUnknown)
	dst := t.Buf.Float16s()
	for i, v := range values {
		dst[i] = tensor.F32ToF16(v)
	}
	return t
}

func nhwc(t tensor.Tensor) tensor.Tensor {
	t.Desc = t.Desc.Retag(tensor.NHWC)
	return t
}

func randomValues(seed uint64, n int) []float32 {
	r := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	out := make([]float32, n)
	for i := range out {
		out[i] = r.Float32()*4 - 2
	}
	return out
}

func toFloat32s(t tensor.Tensor) []float32 {
	switch t.Desc.DataType() {
	case tensor.F16:
		h := t.Buf.Float16s()
		out := make([]float32, len(h))
		tensor.DecodeF16(out, h)
		return out
	default:
		return append([]float32(nil), t.Buf.Float32s()...)
	}
}

// requireClose compares element-wise with a relative tolerance floored at
// an absolute one for values near zero.
func requireClose(t *testing.T, want, got []float32, tol float64, msgAndArgs ...any) {
	t.Helper()
	require.Equal(t, len(want), len(got), msgAndArgs...)
	for i := range want {
		a, b := float64(want[i]), float64(got[i])
		scale := math.Max(1, math.Max(math.Abs(a), math.Abs(b)))
		if math.Abs(a-b) > tol*scale {
			require.Failf(t, "values differ", "index %d: want %v got %v (tol %g) %v", i, a, b, tol, msgAndArgs)
		}
	}
}

// fp32Tol and fp16Tol bound the difference between two strategies of the
// same operator.
const (
	fp32Tol = 1e-5
	fp16Tol = 2e-3
)
