package operator

import (
	"bytes"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/samcharles93/stratum/internal/cpuinfo"
	"github.com/samcharles93/stratum/internal/kernel"
	_ "github.com/samcharles93/stratum/internal/kernels"
	"github.com/samcharles93/stratum/internal/logger"
	"github.com/samcharles93/stratum/internal/status"
	"github.com/samcharles93/stratum/internal/tensor"
	"github.com/samcharles93/stratum/internal/window"
)

var vectorCaps = cpuinfo.Of(cpuinfo.Base, cpuinfo.Vector)

func reluConfig(values []float32) *kernel.Config {
	shape := tensor.Shape{len(values)}
	in := tensor.New(shape, tensor.F32, tensor.LayoutUnknown)
	copy(in.Buf.Float32s(), values)
	return &kernel.Config{
		Op:     kernel.Activation,
		Inputs: []tensor.Tensor{in},
		Output: tensor.New(shape, tensor.F32, tensor.LayoutUnknown),
		Params: kernel.ActivationParams{Func: kernel.Identity},
		Clamp:  kernel.Clamp{Min: 0, Max: 6},
	}
}

func TestConfigureAndRun(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	op := New(logger.JSON(&buf, slog.LevelDebug))
	assert.Equal(t, Unconfigured, op.State())

	cfg := reluConfig([]float32{-5, 3, 9})
	require.NoError(t, op.Configure(cfg, kernel.Default, vectorCaps))
	assert.Equal(t, Configured, op.State())
	assert.Equal(t, "vec_fp32_act", op.Strategy().Name)
	assert.Contains(t, buf.String(), "vec_fp32_act")

	require.NoError(t, op.Run(op.Window()))
	assert.Equal(t, []float32{0, 3, 6}, cfg.Output.Buf.Float32s())
}

func TestConfigureHonoursCapabilities(t *testing.T) {
	t.Parallel()

	op := New(nil)
	require.NoError(t, op.Configure(reluConfig([]float32{1, 2}), kernel.Default, cpuinfo.Of(cpuinfo.Base)))
	assert.Equal(t, "generic_fp32_act", op.Strategy().Name)
	assert.Equal(t, window.Dimension{Start: 0, End: 2, Step: 4}, op.Window().Dim(0))
}

func TestReconfigureRejected(t *testing.T) {
	t.Parallel()

	op := New(nil)
	require.NoError(t, op.Configure(reluConfig([]float32{1}), kernel.Default, vectorCaps))
	err := op.Configure(reluConfig([]float32{1}), kernel.Default, vectorCaps)
	require.ErrorIs(t, err, kernel.ErrConfiguration)
	assert.Equal(t, "vec_fp32_act", op.Strategy().Name)
}

func TestRunBeforeConfigure(t *testing.T) {
	t.Parallel()

	w, err := window.New(window.Dimension{Start: 0, End: 1, Step: 1})
	require.NoError(t, err)
	require.ErrorIs(t, New(nil).Run(w), kernel.ErrConfiguration)
}

func TestUnsupportedBeforeBufferAccess(t *testing.T) {
	t.Parallel()

	d := tensor.NewDescriptor(tensor.Shape{4, 4}, tensor.INT4, tensor.NHWC)
	cfg := &kernel.Config{
		Op:     kernel.DepthwiseConv,
		Inputs: []tensor.Tensor{{Desc: d}, {Desc: d}},
		Output: tensor.Tensor{Desc: d},
		Params: kernel.DepthwiseParams{Pad: kernel.Stride(1, 1)},
	}
	op := New(nil)
	err := op.Configure(cfg, kernel.Default, vectorCaps)
	require.ErrorIs(t, err, kernel.ErrUnsupported)
	assert.Equal(t, Unconfigured, op.State())
	require.ErrorIs(t, Validate(cfg, kernel.Default, vectorCaps), kernel.ErrUnsupported)
}

func TestBadDescriptorIsConfigurationError(t *testing.T) {
	t.Parallel()

	cfg := reluConfig([]float32{1, 2})
	cfg.Inputs[0].Desc = cfg.Inputs[0].Desc.WithStrides(2)
	require.ErrorIs(t, Validate(cfg, kernel.Default, vectorCaps), kernel.ErrConfiguration)
}

func TestShortBufferIsConfigurationError(t *testing.T) {
	t.Parallel()

	cfg := reluConfig([]float32{1, 2, 3, 4})
	// Descriptors alone are fine.
	cfg.Output.Buf = cfg.Output.Buf[:8]
	require.NoError(t, Validate(cfg, kernel.Default, vectorCaps))
	require.ErrorIs(t, New(nil).Configure(cfg, kernel.Default, vectorCaps), kernel.ErrConfiguration)
}

func TestValidationErrorCarriesReason(t *testing.T) {
	t.Parallel()

	cfg := reluConfig([]float32{1, 2, 3})
	cfg.Output = tensor.New(tensor.Shape{4}, tensor.F32, tensor.LayoutUnknown)
	err := Validate(cfg, kernel.Default, vectorCaps)
	require.ErrorIs(t, err, kernel.ErrValidation)
	var ve *kernel.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.NotEmpty(t, ve.Reason)
	assert.Equal(t, "generic_fp32_act", ve.Strategy)
}

func TestSubWindowsCoverOutput(t *testing.T) {
	t.Parallel()

	values := make([]float32, 50)
	for i := range values {
		values[i] = float32(i) - 25
	}
	cfg := reluConfig(values)
	op := New(nil)
	require.NoError(t, op.Configure(cfg, kernel.Default, vectorCaps))

	parts, err := op.Window().Split(0, 3)
	require.NoError(t, err)
	for _, p := range parts {
		require.NoError(t, op.Run(p))
	}
	for i, v := range cfg.Output.Buf.Float32s() {
		require.Equal(t, min(max(values[i], 0), 6), v, "index %d", i)
	}
}

func TestBoundConfigIsACopy(t *testing.T) {
	t.Parallel()

	cfg := reluConfig([]float32{1, 2})
	op := New(nil)
	require.NoError(t, op.Configure(cfg, kernel.Default, vectorCaps))
	cfg.Inputs[0] = tensor.Tensor{}
	cfg.Clamp = kernel.Clamp{Min: -1, Max: -1}
	require.NoError(t, op.Run(op.Window()))
	assert.Equal(t, []float32{1, 2}, op.Config().Output.Buf.Float32s())
}

func TestConfigureNilConfig(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	op := New(logger.JSON(&buf, slog.LevelDebug))
	err := op.Configure(nil, kernel.Default, vectorCaps)
	require.ErrorIs(t, err, status.ErrConfiguration)
	assert.Equal(t, Unconfigured, op.State())
	assert.Nil(t, op.Strategy())
}
