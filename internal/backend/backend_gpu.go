package backend

import (
	"github.com/samcharles93/stratum/internal/backend/gpu"
	"github.com/samcharles93/stratum/internal/cpuinfo"
	"github.com/samcharles93/stratum/internal/kernel"
	"github.com/samcharles93/stratum/internal/scheduler"
)

// GPUBackend dispatches WGSL strategies through a Launcher. Each run is a
// single launch over the whole window, so it schedules sequentially.
type GPUBackend struct {
	name     string
	reg      *kernel.Registry
	fallback Backend
}

// NewGPU wraps l. Requests the device strategies do not cover go to
// fallback, which may be nil.
func NewGPU(l gpu.Launcher, fallback Backend) *GPUBackend {
	return &GPUBackend{name: GPU, reg: gpu.NewRegistry(l), fallback: fallback}
}

func newGPU() (Backend, error) {
	dev, err := gpu.NewDevice()
	if err != nil {
		return nil, err
	}
	return NewGPU(dev, newCPU()), nil
}

func (b *GPUBackend) Name() string                   { return b.name }
func (b *GPUBackend) Capabilities() cpuinfo.Set      { return gpu.Requires }
func (b *GPUBackend) Registry() *kernel.Registry     { return b.reg }
func (b *GPUBackend) Scheduler() scheduler.Interface { return scheduler.Sequential{} }
func (b *GPUBackend) Fallback() Backend              { return b.fallback }
