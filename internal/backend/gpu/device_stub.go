//go:build !webgpu

package gpu

// Enabled reports whether this binary carries a device implementation.
const Enabled = false

// Device is unavailable without the webgpu build tag.
type Device struct{}

// NewDevice always fails in builds without the webgpu tag.
func NewDevice() (*Device, error) { return nil, ErrUnavailable }

func (*Device) Name() string { return "" }

func (*Device) Compile(name, source string) (Kernel, error) { return nil, ErrUnavailable }

func (*Device) Launch(Kernel, []Arg, [3]int, [3]int) error { return ErrUnavailable }

func (*Device) Close() error { return nil }
