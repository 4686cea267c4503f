// Package ops is the public face of the dispatch core. Each operator type
// is configured once against a backend, which selects and prepares a
// strategy, and then run any number of times over its whole output or a
// caller-chosen sub-window.
//
// Configuration failures are reported synchronously and unwrap to one of
// ErrConfiguration, ErrUnsupported or ErrValidation. Run performs no
// further validation.
package ops

import (
	"github.com/samcharles93/stratum/internal/backend"
	"github.com/samcharles93/stratum/internal/cpuinfo"
	"github.com/samcharles93/stratum/internal/kernel"
	"github.com/samcharles93/stratum/internal/logger"
	"github.com/samcharles93/stratum/internal/operator"
	"github.com/samcharles93/stratum/internal/status"
	"github.com/samcharles93/stratum/internal/tensor"
	"github.com/samcharles93/stratum/internal/window"
)

type (
	Shape      = tensor.Shape
	DataType   = tensor.DataType
	Layout     = tensor.Layout
	QuantInfo  = tensor.QuantInfo
	Descriptor = tensor.Descriptor
	Buffer     = tensor.Buffer
	Tensor     = tensor.Tensor

	Window    = window.Window
	Dimension = window.Dimension

	Clamp             = kernel.Clamp
	ActivationParams  = kernel.ActivationParams
	ElementwiseParams = kernel.ElementwiseParams
	PoolingParams     = kernel.PoolingParams
	PadStrideInfo     = kernel.PadStrideInfo
	DepthwiseParams   = kernel.DepthwiseParams
	GEMMParams        = kernel.GEMMParams
	ReductionParams   = kernel.ReductionParams
	ReorderParams     = kernel.ReorderParams

	Capabilities = cpuinfo.Set
	Backend      = backend.Backend
	Logger       = logger.Logger

	ValidationError = status.ValidationError
)

var (
	ErrConfiguration = status.ErrConfiguration
	ErrUnsupported   = status.ErrUnsupported
	ErrValidation    = status.ErrValidation

	// NoClamp leaves outputs unbounded. The zero Clamp means the same.
	NoClamp = kernel.NoClamp
)

const (
	F32              = tensor.F32
	F16              = tensor.F16
	BF16             = tensor.BF16
	S32              = tensor.S32
	S8               = tensor.S8
	U8               = tensor.U8
	QASYMM8          = tensor.QASYMM8
	QASYMM8Signed    = tensor.QASYMM8Signed
	QSYMM8PerChannel = tensor.QSYMM8PerChannel
	INT4             = tensor.INT4

	LayoutUnknown = tensor.LayoutUnknown
	NHWC          = tensor.NHWC
	NCHW          = tensor.NCHW

	Identity      = kernel.Identity
	ReLU          = kernel.ReLU
	BoundedReLU   = kernel.BoundedReLU
	LUBoundedReLU = kernel.LUBoundedReLU
	LeakyReLU     = kernel.LeakyReLU
	Logistic      = kernel.Logistic
	Tanh          = kernel.Tanh

	Add         = kernel.Add
	Sub         = kernel.Sub
	Mul         = kernel.Mul
	Max         = kernel.Max
	Min         = kernel.Min
	PRelu       = kernel.PRelu
	SquaredDiff = kernel.SquaredDiff
	LogicalOr   = kernel.LogicalOr
	LogicalAnd  = kernel.LogicalAnd

	PoolMax = kernel.PoolMax
	PoolAvg = kernel.PoolAvg

	ReduceSum  = kernel.ReduceSum
	ReduceMean = kernel.ReduceMean
	ReduceMax  = kernel.ReduceMax
	ReduceMin  = kernel.ReduceMin
)

// NewDescriptor returns a dense row-major descriptor.
func NewDescriptor(shape Shape, dt DataType, layout Layout) Descriptor {
	return tensor.NewDescriptor(shape, dt, layout)
}

// NewTensor allocates a dense tensor.
func NewTensor(shape Shape, dt DataType, layout Layout) Tensor {
	return tensor.New(shape, dt, layout)
}

// NewWindow builds a window for RunWindow from explicit dimensions. Steps
// wider or narrower than the bound strategy's tile are re-stepped to fit.
func NewWindow(dims ...Dimension) (Window, error) {
	return window.New(dims...)
}

// ParseCapabilities parses a comma-separated capability list such as
// "base,vector,fp16".
func ParseCapabilities(s string) (Capabilities, error) {
	return cpuinfo.ParseSet(s)
}

// Option configures an operator.
type Option func(*options)

type options struct {
	backend Backend
	name    string
	threads int
	caps    Capabilities
	log     Logger
}

// WithBackend runs the operator on b.
func WithBackend(b Backend) Option {
	return func(o *options) { o.backend = b }
}

// WithBackendName opens the named backend ("cpu", "webgpu" or "auto") when
// the operator is configured.
func WithBackendName(name string) Option {
	return func(o *options) { o.name = name }
}

// WithThreads caps the number of workers a run may use. Zero uses the
// backend scheduler's thread count.
func WithThreads(n int) Option {
	return func(o *options) { o.threads = max(n, 0) }
}

// WithCapabilities replaces the backend's capability set during selection.
// It exists to pin a particular strategy in tests and benchmarks.
func WithCapabilities(caps Capabilities) Option {
	return func(o *options) { o.caps = caps }
}

// WithLogger receives debug-level selection events.
func WithLogger(l Logger) Option {
	return func(o *options) { o.log = l }
}

func buildOptions(opts []Option) options {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	if o.log == nil {
		o.log = logger.Discard()
	}
	return o
}

func (o *options) resolve() (Backend, Capabilities, error) {
	b := o.backend
	if b == nil {
		name := o.name
		if name == "" {
			name = backend.CPU
		}
		var err error
		if b, err = backend.New(name); err != nil {
			return nil, 0, err
		}
	}
	caps := b.Capabilities()
	if o.caps != 0 {
		caps = o.caps
	}
	return b, caps, nil
}

// validate runs the buffer-free checks of configure for cfg.
func validate(cfg *kernel.Config, opts []Option) error {
	o := buildOptions(opts)
	b, caps, err := o.resolve()
	if err != nil {
		return err
	}
	_, _, err = backend.Select(b, cfg, caps)
	return err
}

// op is the state shared by every typed operator.
type op struct {
	opts    options
	backend Backend
	inner   *operator.Operator
}

func newOp(opts []Option) op {
	return op{opts: buildOptions(opts)}
}

func (k *op) configure(cfg *kernel.Config) error {
	if k.inner != nil {
		return status.Configuration("operator already configured with %s; create a new one", k.Strategy())
	}
	b, caps, err := k.opts.resolve()
	if err != nil {
		return err
	}
	owner, _, err := backend.Select(b, cfg, caps)
	if err != nil {
		return err
	}
	if owner != b {
		k.opts.log.Debug("falling back", "from", b.Name(), "to", owner.Name(), "op", cfg.Op)
		caps = owner.Capabilities()
	}
	inner := operator.New(k.opts.log)
	if err := inner.Configure(cfg, owner.Registry(), caps); err != nil {
		return err
	}
	k.backend, k.inner = owner, inner
	return nil
}

// Run computes the whole output.
func (k *op) Run() error {
	if k.inner == nil {
		return status.Configuration("operator run before configure")
	}
	return k.RunWindow(k.inner.Window())
}

// RunWindow computes the part of the output covered by w, which must lie
// inside Window.
func (k *op) RunWindow(w Window) error {
	if k.inner == nil {
		return status.Configuration("operator run before configure")
	}
	sched := k.backend.Scheduler()
	threads := k.opts.threads
	if threads == 0 {
		threads = sched.NumThreads()
	}
	return sched.Schedule(w, k.inner, threads)
}

// Window is the whole output stepped by the strategy tile.
func (k *op) Window() Window {
	if k.inner == nil {
		return Window{}
	}
	return k.inner.Window()
}

// Strategy names the bound strategy, or "" before Configure.
func (k *op) Strategy() string {
	if k.inner == nil || k.inner.Strategy() == nil {
		return ""
	}
	return k.inner.Strategy().Name
}

// Backend names the backend the operator runs on, or "" before Configure.
func (k *op) Backend() string {
	if k.backend == nil {
		return ""
	}
	return k.backend.Name()
}
