package tensor

import (
	"unsafe"

	"github.com/x448/float16"
)

// Buffer is client-owned backing memory. The core never allocates, frees or
// resizes it; it only takes typed views.
type Buffer []byte

// Len returns the size in bytes.
func (b Buffer) Len() int { return len(b) }

// Float32s views the buffer as float32 values without copying. Trailing
// bytes that do not form a whole element are ignored.
func (b Buffer) Float32s() []float32 {
	if len(b) < 4 {
		return nil
	}
	return unsafe.Slice((*float32)(unsafe.Pointer(&b[0])), len(b)/4)
}

// Float16s views the buffer as IEEE binary16 values.
func (b Buffer) Float16s() []float16.Float16 {
	if len(b) < 2 {
		return nil
	}
	return unsafe.Slice((*float16.Float16)(unsafe.Pointer(&b[0])), len(b)/2)
}

// Uint16s views the buffer as raw 16-bit words, used for bf16.
func (b Buffer) Uint16s() []uint16 {
	if len(b) < 2 {
		return nil
	}
	return unsafe.Slice((*uint16)(unsafe.Pointer(&b[0])), len(b)/2)
}

// Int32s views the buffer as int32 values.
func (b Buffer) Int32s() []int32 {
	if len(b) < 4 {
		return nil
	}
	return unsafe.Slice((*int32)(unsafe.Pointer(&b[0])), len(b)/4)
}

// Int16s views the buffer as int16 values.
func (b Buffer) Int16s() []int16 {
	if len(b) < 2 {
		return nil
	}
	return unsafe.Slice((*int16)(unsafe.Pointer(&b[0])), len(b)/2)
}

// Int8s views the buffer as int8 values.
func (b Buffer) Int8s() []int8 {
	if len(b) == 0 {
		return nil
	}
	return unsafe.Slice((*int8)(unsafe.Pointer(&b[0])), len(b))
}

// Bytes returns the underlying bytes.
func (b Buffer) Bytes() []byte { return b }

// FromFloat32s wraps an existing float32 slice as a Buffer sharing memory.
func FromFloat32s(v []float32) Buffer {
	if len(v) == 0 {
		return nil
	}
	return unsafe.Slice((*byte)(unsafe.Pointer(&v[0])), len(v)*4)
}

// FromFloat16s wraps an existing binary16 slice as a Buffer sharing memory.
func FromFloat16s(v []float16.Float16) Buffer {
	if len(v) == 0 {
		return nil
	}
	return unsafe.Slice((*byte)(unsafe.Pointer(&v[0])), len(v)*2)
}

// FromInt32s wraps an existing int32 slice as a Buffer sharing memory.
func FromInt32s(v []int32) Buffer {
	if len(v) == 0 {
		return nil
	}
	return unsafe.Slice((*byte)(unsafe.Pointer(&v[0])), len(v)*4)
}

// Alloc returns a zeroed, float64-aligned buffer of n bytes. It exists for
// tests and tools; library code never calls it.
func Alloc(n int) Buffer {
	if n == 0 {
		return Buffer{}
	}
	words := make([]uint64, (n+7)/8)
	return unsafe.Slice((*byte)(unsafe.Pointer(&words[0])), n)
}

// Tensor pairs a descriptor with the buffer it addresses.
type Tensor struct {
	Desc Descriptor
	Buf  Buffer
}

// New allocates a dense tensor for shape. Intended for tests and tools.
func New(shape Shape, dt DataType, layout Layout) Tensor {
	d := NewDescriptor(shape, dt, layout)
	return Tensor{Desc: d, Buf: Alloc(max(d.Extent(), 0))}
}

// IsValid checks the descriptor against the bound buffer length.
func (t Tensor) IsValid() error {
	return t.Desc.IsValid(len(t.Buf))
}
