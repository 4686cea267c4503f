// Package backend pairs a strategy registry with the capability set that
// selects from it and the scheduler that runs the chosen strategy.
package backend

import (
	"errors"
	"fmt"
	"strings"

	"github.com/samcharles93/stratum/internal/cpuinfo"
	"github.com/samcharles93/stratum/internal/kernel"
	"github.com/samcharles93/stratum/internal/operator"
	"github.com/samcharles93/stratum/internal/scheduler"
	"github.com/samcharles93/stratum/internal/status"
)

const (
	CPU  = "cpu"
	GPU  = "webgpu"
	Auto = "auto"
)

// Backend is a place operators run: the strategies it offers, the
// capabilities that pick among them and the scheduler that drives them.
type Backend interface {
	Name() string
	Capabilities() cpuinfo.Set
	Registry() *kernel.Registry
	Scheduler() scheduler.Interface
}

// Fallbacker is implemented by backends that hand requests none of their
// strategies cover to another backend.
type Fallbacker interface {
	Fallback() Backend
}

// Normalize lower-cases a backend name and maps aliases, so "" becomes
// Auto and "gpu" becomes GPU. Unknown names are an error.
func Normalize(name string) (string, error) {
	backend := strings.ToLower(strings.TrimSpace(name))
	if backend == "" {
		return Auto, nil
	}
	switch backend {
	case CPU, GPU, Auto:
		return backend, nil
	case "gpu":
		return GPU, nil
	default:
		return "", fmt.Errorf("unknown backend %q (expected auto, cpu, or webgpu)", backend)
	}
}

// New opens the named backend. Auto picks the device backend when this
// build has one and a device opens, and the CPU otherwise.
func New(name string) (Backend, error) {
	name, err := Normalize(name)
	if err != nil {
		return nil, err
	}
	switch name {
	case CPU:
		return newCPU(), nil
	case GPU:
		return newGPU()
	}
	if Has(GPU) {
		if b, err := newGPU(); err == nil {
			return b, nil
		}
	}
	return newCPU(), nil
}

// Select returns the strategy cfg would bind on b, and the backend that
// owns it. A request b does not cover goes to its fallback, which selects
// with its own capabilities. A non-zero caps replaces b's.
func Select(b Backend, cfg *kernel.Config, caps cpuinfo.Set) (Backend, *kernel.Strategy, error) {
	if caps == 0 {
		caps = b.Capabilities()
	}
	s, err := operator.Select(cfg, b.Registry(), caps)
	if !errors.Is(err, status.ErrUnsupported) {
		return b, s, err
	}
	if f, ok := b.(Fallbacker); ok && f.Fallback() != nil {
		fb := f.Fallback()
		s, err = operator.Select(cfg, fb.Registry(), fb.Capabilities())
		return fb, s, err
	}
	return b, nil, err
}
