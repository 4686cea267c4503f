//go:build webgpu

package gpu

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/openfluke/webgpu/wgpu"
)

// Enabled reports whether this binary carries a device implementation.
const Enabled = true

// readbackTimeout bounds how long a launch waits for its output to map.
const readbackTimeout = 5 * time.Second

// Device is a WebGPU adapter, device and queue plus the pipelines compiled
// on it. Launches are serialised on the queue.
type Device struct {
	instance *wgpu.Instance
	adapter  *wgpu.Adapter
	device   *wgpu.Device
	queue    *wgpu.Queue
	name     string

	mu        sync.Mutex
	pipelines map[string]*pipeline
}

type pipeline struct {
	name string
	pipe *wgpu.ComputePipeline
}

func (p *pipeline) Name() string { return p.name }

var (
	shared     *Device
	sharedErr  error
	sharedOnce sync.Once
)

// NewDevice opens the process-wide device on first use, preferring a
// high-performance adapter and falling back to whatever the instance
// offers.
func NewDevice() (*Device, error) {
	sharedOnce.Do(func() {
		shared, sharedErr = open()
	})
	return shared, sharedErr
}

func open() (*Device, error) {
	inst := wgpu.CreateInstance(nil)
	if inst == nil {
		return nil, fmt.Errorf("%w: cannot create a WebGPU instance", ErrUnavailable)
	}
	var (
		adapter *wgpu.Adapter
		err     error
	)
	for _, opts := range []*wgpu.RequestAdapterOptions{
		{PowerPreference: wgpu.PowerPreferenceHighPerformance},
		{PowerPreference: wgpu.PowerPreferenceLowPower},
		nil,
	} {
		if adapter, err = inst.RequestAdapter(opts); err == nil && adapter != nil {
			break
		}
	}
	if adapter == nil {
		return nil, fmt.Errorf("%w: no adapter: %v", ErrUnavailable, err)
	}
	dev, err := adapter.RequestDevice(nil)
	if err != nil {
		return nil, fmt.Errorf("%w: request device: %v", ErrUnavailable, err)
	}
	info := adapter.GetInfo()
	return &Device{
		instance:  inst,
		adapter:   adapter,
		device:    dev,
		queue:     dev.GetQueue(),
		name:      info.Name,
		pipelines: map[string]*pipeline{},
	}, nil
}

// Name is the adapter name reported by the driver.
func (d *Device) Name() string { return d.name }

// Compile builds a compute pipeline from WGSL source with entry point main.
// Pipelines are cached by name.
func (d *Device) Compile(name, source string) (Kernel, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if p, ok := d.pipelines[name]; ok {
		return p, nil
	}
	module, err := d.device.CreateShaderModule(&wgpu.ShaderModuleDescriptor{
		Label:          name,
		WGSLDescriptor: &wgpu.ShaderModuleWGSLDescriptor{Code: source},
	})
	if err != nil {
		return nil, fmt.Errorf("shader %s: %w", name, err)
	}
	defer module.Release()
	pipe, err := d.device.CreateComputePipeline(&wgpu.ComputePipelineDescriptor{
		Label:   name,
		Compute: wgpu.ProgrammableStageDescriptor{Module: module, EntryPoint: "main"},
	})
	if err != nil {
		return nil, fmt.Errorf("pipeline %s: %w", name, err)
	}
	p := &pipeline{name: name, pipe: pipe}
	d.pipelines[name] = p
	return p, nil
}

// Launch uploads args, dispatches global/local workgroups and copies every
// Write argument back into its host slice.
func (d *Device) Launch(k Kernel, args []Arg, global, local [3]int) error {
	p, ok := k.(*pipeline)
	if !ok {
		return fmt.Errorf("kernel %s was not compiled on this device", k.Name())
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	bufs := make([]*wgpu.Buffer, len(args))
	defer func() {
		for _, b := range bufs {
			if b != nil {
				b.Release()
			}
		}
	}()
	entries := make([]wgpu.BindGroupEntry, len(args))
	for i, a := range args {
		b, err := d.device.CreateBufferInit(&wgpu.BufferInitDescriptor{
			Label:    fmt.Sprintf("%s_arg%d", p.name, i),
			Contents: padTo4(a.Buf),
			Usage:    bufferUsage(a.Usage),
		})
		if err != nil {
			return fmt.Errorf("upload argument %d: %w", i, err)
		}
		bufs[i] = b
		entries[i] = wgpu.BindGroupEntry{Binding: uint32(i), Buffer: b, Size: b.GetSize()}
	}
	bg, err := d.device.CreateBindGroup(&wgpu.BindGroupDescriptor{
		Label:   p.name,
		Layout:  p.pipe.GetBindGroupLayout(0),
		Entries: entries,
	})
	if err != nil {
		return fmt.Errorf("bind group: %w", err)
	}
	defer bg.Release()

	enc, err := d.device.CreateCommandEncoder(nil)
	if err != nil {
		return err
	}
	defer enc.Release()
	pass := enc.BeginComputePass(nil)
	pass.SetPipeline(p.pipe)
	pass.SetBindGroup(0, bg, nil)
	pass.DispatchWorkgroups(groups(global[0], local[0]), groups(global[1], local[1]), groups(global[2], local[2]))
	pass.End()

	var staging []*wgpu.Buffer
	defer func() {
		for _, s := range staging {
			s.Release()
		}
	}()
	for i, a := range args {
		if a.Usage != Write {
			continue
		}
		size := bufs[i].GetSize()
		s, err := d.device.CreateBuffer(&wgpu.BufferDescriptor{
			Label: fmt.Sprintf("%s_readback%d", p.name, i),
			Size:  size,
			Usage: wgpu.BufferUsageMapRead | wgpu.BufferUsageCopyDst,
		})
		if err != nil {
			return fmt.Errorf("staging buffer: %w", err)
		}
		staging = append(staging, s)
		enc.CopyBufferToBuffer(bufs[i], 0, s, 0, size)
	}
	cmd, err := enc.Finish(nil)
	if err != nil {
		return err
	}
	d.queue.Submit(cmd)
	cmd.Release()

	next := 0
	for _, a := range args {
		if a.Usage != Write {
			continue
		}
		if err := d.readback(staging[next], a.Buf); err != nil {
			return err
		}
		next++
	}
	return nil
}

func (d *Device) readback(s *wgpu.Buffer, dst []byte) error {
	size := s.GetSize()
	done := make(chan error, 1)
	err := s.MapAsync(wgpu.MapModeRead, 0, size, func(st wgpu.BufferMapAsyncStatus) {
		if st != wgpu.BufferMapAsyncStatusSuccess {
			done <- fmt.Errorf("map failed: %v", st)
			return
		}
		done <- nil
	})
	if err != nil {
		return fmt.Errorf("map readback: %w", err)
	}
	deadline := time.After(readbackTimeout)
	for {
		d.device.Poll(false, nil)
		select {
		case err := <-done:
			if err != nil {
				return err
			}
			copy(dst, s.GetMappedRange(0, uint(size)))
			s.Unmap()
			return nil
		case <-deadline:
			return errors.New("readback timed out")
		default:
			time.Sleep(time.Millisecond)
		}
	}
}

// Close drops cached pipelines. The device itself lives for the process.
func (d *Device) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	for name, p := range d.pipelines {
		p.pipe.Release()
		delete(d.pipelines, name)
	}
	return nil
}

func bufferUsage(u Usage) wgpu.BufferUsage {
	switch u {
	case Uniform:
		return wgpu.BufferUsageUniform | wgpu.BufferUsageCopyDst
	case Write:
		return wgpu.BufferUsageStorage | wgpu.BufferUsageCopySrc | wgpu.BufferUsageCopyDst
	default:
		return wgpu.BufferUsageStorage | wgpu.BufferUsageCopyDst
	}
}

// padTo4 returns b extended to a multiple of four bytes, the alignment
// WebGPU requires for buffer sizes.
func padTo4(b []byte) []byte {
	if len(b) == 0 {
		return make([]byte, 4)
	}
	if r := len(b) % 4; r != 0 {
		return append(b[:len(b):len(b)], make([]byte, 4-r)...)
	}
	return b
}

func groups(global, local int) uint32 {
	return uint32((global + local - 1) / local)
}
