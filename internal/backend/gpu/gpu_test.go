package gpu

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/samcharles93/stratum/internal/cpuinfo"
	"github.com/samcharles93/stratum/internal/kernel"
	"github.com/samcharles93/stratum/internal/operator"
	"github.com/samcharles93/stratum/internal/tensor"
	"github.com/samcharles93/stratum/internal/window"
)

func decodeParams(b []byte) params {
	var p params
	word := func(i int) uint32 { return binary.LittleEndian.Uint32(b[i*4:]) }
	blocks := []*[8]uint32{&p.origin, &p.extent, &p.outStr, &p.aStr, &p.bStr}
	for bi, block := range blocks {
		for i := range block {
			block[i] = word(bi*8 + i)
		}
	}
	for i := range 4 {
		p.base[i] = word(40 + i)
		p.extra[i] = word(44 + i)
		p.scalars[i] = math.Float32frombits(word(48 + i))
	}
	return p
}

type fakeKernel string

func (k fakeKernel) Name() string { return string(k) }

// emulator runs the shaders of this package on the host, one invocation at
// a time, reading the parameter block the way the WGSL prelude does.
type emulator struct {
	mu       sync.Mutex
	compiled []string
	launches int
	failOn   string
}

func (m *emulator) Compile(name, source string) (Kernel, error) {
	if name == m.failOn {
		return nil, errors.New("shader rejected")
	}
	if !strings.Contains(source, "fn main") || !strings.Contains(source, "struct Params") {
		return nil, fmt.Errorf("%s: malformed shader", name)
	}
	m.mu.Lock()
	m.compiled = append(m.compiled, name)
	m.mu.Unlock()
	return fakeKernel(name), nil
}

func (m *emulator) Launch(k Kernel, args []Arg, global, local [3]int) error {
	for i := range 3 {
		if global[i]%local[i] != 0 {
			return fmt.Errorf("global %v not a multiple of local %v", global, local)
		}
	}
	if args[0].Usage != Uniform || len(args[0].Buf) != paramsSize || args[1].Usage != Write {
		return errors.New("unexpected bindings")
	}
	m.mu.Lock()
	m.launches++
	m.mu.Unlock()

	p := decodeParams(args[0].Buf)
	dst := tensor.Buffer(args[1].Buf).Float32s()
	var lhs, rhs []float32
	if len(args) > 2 {
		lhs = tensor.Buffer(args[2].Buf).Float32s()
	}
	if len(args) > 3 {
		rhs = tensor.Buffer(args[3].Buf).Float32s()
	}
	clamp := func(v float32) float32 { return min(max(v, p.scalars[2]), p.scalars[3]) }
	for z := range global[2] {
		for y := range global[1] {
			for x := range global[0] {
				coord, ok := locate(&p, x, y, z)
				if !ok {
					continue
				}
				out := dot6(p.base[0], &p.outStr, coord)
				switch k.Name() {
				case "wgsl_fp32_activation":
					ap := kernel.ActivationParams{Func: kernel.ActivationFunc(p.base[3]), A: p.scalars[0], B: p.scalars[1]}
					dst[out] = clamp(ap.Eval(lhs[dot6(p.base[1], &p.aStr, coord)]))
				case "wgsl_fp32_elementwise":
					op := kernel.ElementwiseOp(p.base[3])
					dst[out] = clamp(op.Eval(lhs[dot6(p.base[1], &p.aStr, coord)], rhs[dot6(p.base[2], &p.bStr, coord)]))
				case "wgsl_fp32_gemm":
					i, j := coord[4], coord[5]
					var acc float32
					for kk := range p.extra[0] {
						acc += lhs[p.base[1]+i*p.aStr[4]+kk*p.aStr[5]] * rhs[p.base[2]+kk*p.bStr[4]+j*p.bStr[5]]
					}
					dst[out] = clamp(p.scalars[0] * acc)
				default:
					return fmt.Errorf("unknown kernel %s", k.Name())
				}
			}
		}
	}
	return nil
}

func locate(p *params, x, y, z int) ([6]uint32, bool) {
	var c [6]uint32
	e := p.extent
	if uint32(x) >= e[5] || uint32(y) >= e[4] {
		return c, false
	}
	rest := uint32(z)
	for d := 3; d >= 1; d-- {
		c[d] = rest % e[d]
		rest /= e[d]
	}
	if rest >= e[0] {
		return c, false
	}
	c[0] = rest
	c[4], c[5] = uint32(y), uint32(x)
	for i := range c {
		c[i] += p.origin[i]
	}
	return c, true
}

func dot6(base uint32, s *[8]uint32, c [6]uint32) uint32 {
	off := base
	for i := range c {
		off += s[i] * c[i]
	}
	return off
}

var devCaps = cpuinfo.Of(cpuinfo.Base, cpuinfo.GPU)

func filled(shape tensor.Shape, gen func(i int) float32) tensor.Tensor {
	t := tensor.New(shape, tensor.F32, tensor.LayoutUnknown)
	for i := range t.Buf.Float32s() {
		t.Buf.Float32s()[i] = gen(i)
	}
	return t
}

func ramp(i int) float32 { return float32(i%23)*0.37 - 3.5 }

// twin builds two configurations sharing inputs with separate outputs.
func twin(build func() *kernel.Config) (*kernel.Config, *kernel.Config) {
	a, b := build(), build()
	b.Inputs = a.Inputs
	return a, b
}

// runBoth configures dev on the device registry and ref on the CPU
// registry, runs both over their full windows and returns the outputs.
func runBoth(t *testing.T, reg *kernel.Registry, dev, ref *kernel.Config) ([]float32, []float32) {
	t.Helper()
	gop := operator.New(nil)
	require.NoError(t, gop.Configure(dev, reg, devCaps))
	require.True(t, strings.HasPrefix(gop.Strategy().Name, "wgsl_"), gop.Strategy().Name)
	require.NoError(t, gop.Run(gop.Window()))

	cop := operator.New(nil)
	require.NoError(t, cop.Configure(ref, kernel.Default, cpuinfo.Of(cpuinfo.Base)))
	require.NoError(t, cop.Run(cop.Window()))
	return dev.Output.Buf.Float32s(), ref.Output.Buf.Float32s()
}

func TestWorkSize(t *testing.T) {
	t.Parallel()

	w, err := window.FromShape(tensor.Shape{2, 3, 5, 70}, []int{64})
	require.NoError(t, err)
	assert.Equal(t, [3]int{128, 5, 6}, WorkSize(w, local))

	w, err = window.New(window.Dimension{Start: 10, End: 12, Step: 1})
	require.NoError(t, err)
	assert.Equal(t, [3]int{64, 1, 1}, WorkSize(w, local))
	assert.Equal(t, [3]int{2, 1, 1}, WorkSize(w, [3]int{}))
}

func TestParamsLayout(t *testing.T) {
	t.Parallel()

	var p params
	w, err := window.New(
		window.Dimension{Start: 1, End: 3, Step: 1},
		window.Dimension{Start: 4, End: 9, Step: 4},
	)
	require.NoError(t, err)
	p.setWindow(w)
	p.setClamp(kernel.NoClamp)
	p.base[3] = 6
	b := p.encode()
	require.Len(t, b, paramsSize)

	word := func(i int) uint32 { return binary.LittleEndian.Uint32(b[i*4:]) }
	// origin and extent are right-aligned into six dims.
	assert.Equal(t, []uint32{0, 0, 0, 0, 1, 4}, []uint32{word(0), word(1), word(2), word(3), word(4), word(5)})
	assert.Equal(t, []uint32{1, 1, 1, 1, 2, 5}, []uint32{word(8), word(9), word(10), word(11), word(12), word(13)})
	assert.Equal(t, uint32(6), word(43))
	assert.Equal(t, float32(-math.MaxFloat32), math.Float32frombits(word(50)))
	assert.Equal(t, float32(math.MaxFloat32), math.Float32frombits(word(51)))
	assert.Equal(t, p, decodeParams(b))
}

func TestActivationMatchesCPU(t *testing.T) {
	t.Parallel()

	funcs := []kernel.ActivationParams{
		{Func: kernel.Identity},
		{Func: kernel.ReLU},
		{Func: kernel.BoundedReLU, A: 2},
		{Func: kernel.LUBoundedReLU, A: 1.5, B: -0.5},
		{Func: kernel.LeakyReLU, A: 0.1},
		{Func: kernel.Logistic},
		{Func: kernel.Tanh, A: 1.7, B: 0.66},
	}
	for _, ap := range funcs {
		t.Run(ap.Func.String(), func(t *testing.T) {
			t.Parallel()
			m := &emulator{}
			reg := NewRegistry(m)
			shape := tensor.Shape{3, 5, 67}
			dev, ref := twin(func() *kernel.Config {
				return &kernel.Config{
					Op:     kernel.Activation,
					Inputs: []tensor.Tensor{filled(shape, ramp)},
					Output: tensor.New(shape, tensor.F32, tensor.LayoutUnknown),
					Params: ap,
					Clamp:  kernel.Clamp{Min: -2, Max: 3},
				}
			})
			got, want := runBoth(t, reg, dev, ref)
			require.InDeltaSlice(t, want, got, 1e-5)
			assert.Equal(t, []string{"wgsl_fp32_activation"}, m.compiled)
			assert.Equal(t, 1, m.launches)
		})
	}
}

func TestElementwiseBroadcast(t *testing.T) {
	t.Parallel()

	for _, op := range []kernel.ElementwiseOp{kernel.Add, kernel.Sub, kernel.Mul, kernel.Max, kernel.Min, kernel.PRelu, kernel.SquaredDiff} {
		t.Run(op.String(), func(t *testing.T) {
			t.Parallel()
			reg := NewRegistry(&emulator{})
			dev, ref := twin(func() *kernel.Config {
				return &kernel.Config{
					Op: kernel.Elementwise,
					Inputs: []tensor.Tensor{
						filled(tensor.Shape{4, 1, 70}, ramp),
						filled(tensor.Shape{3, 1}, func(i int) float32 { return float32(i) - 1 }),
					},
					Output: tensor.New(tensor.Shape{4, 3, 70}, tensor.F32, tensor.LayoutUnknown),
					Params: kernel.ElementwiseParams{Op: op},
				}
			})
			got, want := runBoth(t, reg, dev, ref)
			require.Equal(t, want, got)
		})
	}
}

func TestGEMMMatchesCPU(t *testing.T) {
	t.Parallel()

	reg := NewRegistry(&emulator{})
	const m, n, k = 7, 70, 19
	dev, ref := twin(func() *kernel.Config {
		return &kernel.Config{
			Op: kernel.GEMM,
			Inputs: []tensor.Tensor{
				filled(tensor.Shape{m, k}, ramp),
				filled(tensor.Shape{k, n}, func(i int) float32 { return ramp(i * 7) }),
			},
			Output: tensor.New(tensor.Shape{m, n}, tensor.F32, tensor.LayoutUnknown),
			Params: kernel.GEMMParams{Alpha: 0.5},
			Clamp:  kernel.Clamp{Min: -10, Max: 10},
		}
	})
	got, want := runBoth(t, reg, dev, ref)
	require.InDeltaSlice(t, want, got, 1e-4)
}

func TestGEMMRejectsAccumulate(t *testing.T) {
	t.Parallel()

	reg := NewRegistry(&emulator{})
	cfg := &kernel.Config{
		Op: kernel.GEMM,
		Inputs: []tensor.Tensor{
			filled(tensor.Shape{2, 3}, ramp),
			filled(tensor.Shape{3, 4}, ramp),
			filled(tensor.Shape{2, 4}, ramp),
		},
		Output: tensor.New(tensor.Shape{2, 4}, tensor.F32, tensor.LayoutUnknown),
		Params: kernel.GEMMParams{Alpha: 1, Beta: 1, WithC: true},
	}
	err := operator.Validate(cfg, reg, devCaps)
	require.ErrorIs(t, err, kernel.ErrValidation)
	assert.Contains(t, err.Error(), "wgsl_fp32_gemm")
}

func TestUnsupportedOnDevice(t *testing.T) {
	t.Parallel()

	reg := NewRegistry(&emulator{})
	in := tensor.New(tensor.Shape{8}, tensor.U8, tensor.LayoutUnknown)
	cfg := &kernel.Config{
		Op:     kernel.Elementwise,
		Inputs: []tensor.Tensor{in, in},
		Output: tensor.New(tensor.Shape{8}, tensor.U8, tensor.LayoutUnknown),
		Params: kernel.ElementwiseParams{Op: kernel.LogicalAnd},
	}
	require.ErrorIs(t, operator.Validate(cfg, reg, devCaps), kernel.ErrUnsupported)

	// Without the GPU capability nothing in the device registry qualifies.
	act := &kernel.Config{
		Op:     kernel.Activation,
		Inputs: []tensor.Tensor{filled(tensor.Shape{4}, ramp)},
		Output: tensor.New(tensor.Shape{4}, tensor.F32, tensor.LayoutUnknown),
		Params: kernel.ActivationParams{Func: kernel.ReLU},
	}
	require.ErrorIs(t, operator.Validate(act, reg, cpuinfo.Of(cpuinfo.Base)), kernel.ErrUnsupported)
}

func TestSubWindowLaunches(t *testing.T) {
	t.Parallel()

	m := &emulator{}
	reg := NewRegistry(m)
	shape := tensor.Shape{5, 130}
	cfg := &kernel.Config{
		Op:     kernel.Activation,
		Inputs: []tensor.Tensor{filled(shape, ramp)},
		Output: tensor.New(shape, tensor.F32, tensor.LayoutUnknown),
		Params: kernel.ActivationParams{Func: kernel.ReLU},
	}
	op := operator.New(nil)
	require.NoError(t, op.Configure(cfg, reg, devCaps))
	parts, err := op.Window().Split(1, 3)
	require.NoError(t, err)
	for _, w := range parts {
		require.NoError(t, op.Run(w))
	}
	assert.Equal(t, 3, m.launches)
	in := cfg.Inputs[0].Buf.Float32s()
	for i, v := range cfg.Output.Buf.Float32s() {
		require.Equal(t, max(in[i], 0), v, "index %d", i)
	}
}

func TestCompileFailureFailsConfigure(t *testing.T) {
	t.Parallel()

	reg := NewRegistry(&emulator{failOn: "wgsl_fp32_activation"})
	cfg := &kernel.Config{
		Op:     kernel.Activation,
		Inputs: []tensor.Tensor{filled(tensor.Shape{4}, ramp)},
		Output: tensor.New(tensor.Shape{4}, tensor.F32, tensor.LayoutUnknown),
		Params: kernel.ActivationParams{Func: kernel.ReLU},
	}
	op := operator.New(nil)
	err := op.Configure(cfg, reg, devCaps)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "shader rejected")
	assert.Equal(t, operator.Unconfigured, op.State())
}

func TestDeviceWithoutTag(t *testing.T) {
	if Enabled {
		t.Skip("built with a device implementation")
	}
	_, err := NewDevice()
	require.ErrorIs(t, err, ErrUnavailable)
}
