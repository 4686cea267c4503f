package backend

import (
	"github.com/samcharles93/stratum/internal/cpuinfo"
	"github.com/samcharles93/stratum/internal/kernel"
	_ "github.com/samcharles93/stratum/internal/kernels"
	"github.com/samcharles93/stratum/internal/scheduler"
)

// CPUBackend runs the portable strategies of the default registry on the
// shared worker pool.
type CPUBackend struct {
	caps  cpuinfo.Set
	sched scheduler.Interface
}

// NewCPU returns a CPU backend restricted to caps and running on sched.
// A zero caps probes the host; a nil sched uses the process-wide one.
func NewCPU(caps cpuinfo.Set, sched scheduler.Interface) *CPUBackend {
	if caps == 0 {
		caps = cpuinfo.Probe()
	}
	if sched == nil {
		sched = scheduler.Default()
	}
	return &CPUBackend{caps: caps, sched: sched}
}

func newCPU() Backend { return NewCPU(0, nil) }

func (b *CPUBackend) Name() string                   { return CPU }
func (b *CPUBackend) Capabilities() cpuinfo.Set      { return b.caps }
func (b *CPUBackend) Registry() *kernel.Registry     { return kernel.Default }
func (b *CPUBackend) Scheduler() scheduler.Interface { return b.sched }
