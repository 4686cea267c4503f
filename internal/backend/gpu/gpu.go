// Package gpu runs operators as WGSL compute shaders. Device management is
// behind the Launcher interface; this package only chooses the shader, packs
// its parameters and maps execution windows onto dispatch sizes.
package gpu

import (
	"encoding/binary"
	"errors"
	"math"

	"github.com/samcharles93/stratum/internal/kernel"
	"github.com/samcharles93/stratum/internal/tensor"
	"github.com/samcharles93/stratum/internal/window"
)

// ErrUnavailable is returned by NewDevice when no usable device exists or
// the binary was built without the webgpu tag.
var ErrUnavailable = errors.New("gpu: no compute device available")

// Kernel is a compiled compute program.
type Kernel interface {
	Name() string
}

// Usage says how a shader binds an argument.
type Usage uint8

const (
	// Uniform is a small read-only parameter block.
	Uniform Usage = iota
	// Read is a read-only storage buffer.
	Read
	// Write is a read-write storage buffer copied back after the launch.
	Write
)

func (u Usage) String() string {
	switch u {
	case Uniform:
		return "uniform"
	case Read:
		return "read"
	case Write:
		return "write"
	}
	return "usage(?)"
}

// Arg is one shader binding. Binding numbers follow slice order.
type Arg struct {
	Buf   []byte
	Usage Usage
}

// Launcher compiles and dispatches compute programs. global is the total
// invocation count per axis and is always a multiple of local.
type Launcher interface {
	Compile(name, source string) (Kernel, error)
	Launch(k Kernel, args []Arg, global, local [3]int) error
}

// workgroupX is the x size every shader in this package declares.
const workgroupX = 64

var local = [3]int{workgroupX, 1, 1}

// WorkSize maps a window onto a dispatch: the innermost dim on x rounded
// up to the workgroup size, the next dim on y, and every outer dim
// collapsed onto z.
func WorkSize(w window.Window, local [3]int) [3]int {
	ext := padded(w)
	global := [3]int{ext.extent[5], ext.extent[4], 1}
	for i := range 4 {
		global[2] *= ext.extent[i]
	}
	for i, l := range local {
		l = max(l, 1)
		global[i] = (global[i] + l - 1) / l * l
	}
	return global
}

// box is a window right-aligned into six dims, the leading ones of extent
// one.
type box struct {
	origin, extent [tensor.MaxDims]int
}

func padded(w window.Window) box {
	var b box
	lead := tensor.MaxDims - w.Rank()
	for i := range tensor.MaxDims {
		b.extent[i] = 1
		if i >= lead {
			d := w.Dim(i - lead)
			b.origin[i] = d.Start
			b.extent[i] = d.End - d.Start
		}
	}
	return b
}

// params mirrors the Params struct at the top of every shader.
type params struct {
	origin  [8]uint32
	extent  [8]uint32
	outStr  [8]uint32
	aStr    [8]uint32
	bStr    [8]uint32
	base    [4]uint32 // out, a, b element offsets; selector
	extra   [4]uint32 // inner length for GEMM
	scalars [4]float32
}

const paramsSize = 5*8*4 + 3*4*4

// rightAlign places the element strides of d so they line up with a padded
// window of the same rank as the output.
func rightAlign(dst *[8]uint32, strides []int) {
	lead := tensor.MaxDims - len(strides)
	for i, s := range strides {
		dst[lead+i] = uint32(s)
	}
}

func (p *params) setWindow(w window.Window) {
	b := padded(w)
	for i := range tensor.MaxDims {
		p.origin[i] = uint32(b.origin[i])
		p.extent[i] = uint32(b.extent[i])
	}
}

func (p *params) setClamp(c kernel.Clamp) {
	p.scalars[2] = finite(c.Min)
	p.scalars[3] = finite(c.Max)
}

// finite maps infinities to the largest finite float; shaders may assume
// finite uniforms.
func finite(v float32) float32 {
	switch {
	case math.IsInf(float64(v), 1):
		return math.MaxFloat32
	case math.IsInf(float64(v), -1):
		return -math.MaxFloat32
	}
	return v
}

func (p *params) encode() []byte {
	out := make([]byte, 0, paramsSize)
	for _, block := range [][8]uint32{p.origin, p.extent, p.outStr, p.aStr, p.bStr} {
		for _, v := range block {
			out = binary.LittleEndian.AppendUint32(out, v)
		}
	}
	for _, v := range p.base {
		out = binary.LittleEndian.AppendUint32(out, v)
	}
	for _, v := range p.extra {
		out = binary.LittleEndian.AppendUint32(out, v)
	}
	for _, v := range p.scalars {
		out = binary.LittleEndian.AppendUint32(out, math.Float32bits(v))
	}
	return out
}
