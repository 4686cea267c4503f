package tensor

import (
	"fmt"
	"math"
	"strings"

	"github.com/samcharles93/stratum/internal/status"
)

// Descriptor is immutable tensor metadata: shape, byte strides, element
// type, layout tag, quantisation and a byte offset into the backing buffer.
// Derivations always return a new value.
type Descriptor struct {
	shape   Shape
	strides []int
	dtype   DataType
	layout  Layout
	quant   QuantInfo
	offset  int
	bcast   uint8 // bit i set: dim i was produced by Broadcast and may have stride 0
}

// NewDescriptor returns a densely packed row-major descriptor.
func NewDescriptor(shape Shape, dt DataType, layout Layout) Descriptor {
	return Descriptor{
		shape:   shape.Clone(),
		strides: RowMajorStrides(shape, dt.Size()),
		dtype:   dt,
		layout:  layout,
	}
}

// WithStrides replaces the byte strides. The result is checked lazily by
// Check and IsValid.
func (d Descriptor) WithStrides(strides ...int) Descriptor {
	out := d.clone()
	out.strides = append([]int(nil), strides...)
	out.bcast = 0
	return out
}

// WithQuant attaches quantisation parameters.
func (d Descriptor) WithQuant(q QuantInfo) Descriptor {
	out := d.clone()
	out.quant = q.clone()
	return out
}

// WithOffset sets the byte offset of element zero.
func (d Descriptor) WithOffset(offset int) Descriptor {
	out := d.clone()
	out.offset = offset
	return out
}

// Retag returns the same tensor with a different layout tag.
func (d Descriptor) Retag(layout Layout) Descriptor {
	out := d.clone()
	out.layout = layout
	return out
}

// Reshape reinterprets a densely packed descriptor with a new shape holding
// the same number of elements.
func (d Descriptor) Reshape(shape Shape) (Descriptor, error) {
	if err := shape.Check(); err != nil {
		return Descriptor{}, err
	}
	if !d.IsContiguous() {
		return Descriptor{}, status.Configuration("reshape %s: descriptor is not densely packed", d.shape)
	}
	if shape.NumElements() != d.shape.NumElements() {
		return Descriptor{}, status.Configuration("reshape %s to %s changes element count", d.shape, shape)
	}
	out := d.clone()
	out.shape = shape.Clone()
	out.strides = RowMajorStrides(shape, d.dtype.Size())
	out.bcast = 0
	return out, nil
}

// Broadcast expands d to shape `to`. New leading dims and size-1 dims that
// grow get stride 0 and are marked as broadcast.
func (d Descriptor) Broadcast(to Shape) (Descriptor, error) {
	if err := to.Check(); err != nil {
		return Descriptor{}, err
	}
	if len(to) < len(d.shape) {
		return Descriptor{}, status.Configuration("broadcast %s to lower rank %s", d.shape, to)
	}
	out := d.clone()
	out.shape = to.Clone()
	out.strides = make([]int, len(to))
	out.bcast = 0
	lead := len(to) - len(d.shape)
	for i := range to {
		j := i - lead
		switch {
		case j < 0:
			out.bcast |= 1 << i
		case d.shape[j] == to[i]:
			out.strides[i] = d.strides[j]
			if d.IsBroadcast(j) {
				out.bcast |= 1 << i
			}
		case d.shape[j] == 1:
			out.bcast |= 1 << i
		default:
			return Descriptor{}, status.Configuration("cannot broadcast %s to %s", d.shape, to)
		}
	}
	return out, nil
}

func (d Descriptor) clone() Descriptor {
	out := d
	out.shape = d.shape.Clone()
	out.strides = append([]int(nil), d.strides...)
	out.quant = d.quant.clone()
	return out
}

// Shape returns a copy of the dimensions.
func (d Descriptor) Shape() Shape { return d.shape.Clone() }

// Strides returns a copy of the byte strides.
func (d Descriptor) Strides() []int { return append([]int(nil), d.strides...) }

func (d Descriptor) DataType() DataType { return d.dtype }
func (d Descriptor) Layout() Layout     { return d.layout }
func (d Descriptor) Quant() QuantInfo   { return d.quant }
func (d Descriptor) Offset() int        { return d.offset }
func (d Descriptor) Rank() int          { return len(d.shape) }
func (d Descriptor) ElemSize() int      { return d.dtype.Size() }

// Dim returns dimension i, counting negative indices from the end.
func (d Descriptor) Dim(i int) int {
	if i < 0 {
		i += len(d.shape)
	}
	return d.shape[i]
}

// Stride returns the byte stride of dimension i, counting negative indices
// from the end.
func (d Descriptor) Stride(i int) int {
	if i < 0 {
		i += len(d.strides)
	}
	return d.strides[i]
}

// NumElements returns the logical element count.
func (d Descriptor) NumElements() int { return d.shape.NumElements() }

// IsBroadcast reports whether dim i was expanded by Broadcast.
func (d Descriptor) IsBroadcast(i int) bool {
	return i >= 0 && i < 8 && d.bcast&(1<<i) != 0
}

// IsContiguous reports dense row-major packing with no broadcast dims.
func (d Descriptor) IsContiguous() bool {
	if d.bcast != 0 || len(d.strides) != len(d.shape) {
		return false
	}
	want := RowMajorStrides(d.shape, d.dtype.Size())
	for i := range want {
		if d.shape[i] != 1 && d.strides[i] != want[i] {
			return false
		}
	}
	return true
}

// ElemStrides returns strides in elements rather than bytes.
func (d Descriptor) ElemStrides() []int {
	es := d.dtype.Size()
	out := make([]int, len(d.strides))
	if es == 0 {
		return out
	}
	for i, s := range d.strides {
		out[i] = s / es
	}
	return out
}

// ElemOffset returns the offset in elements.
func (d Descriptor) ElemOffset() int {
	if es := d.dtype.Size(); es > 0 {
		return d.offset / es
	}
	return 0
}

// Extent returns the number of bytes from the buffer start up to and
// including the last addressed element.
func (d Descriptor) Extent() int {
	n := d.offset + d.dtype.Size()
	for i, s := range d.strides {
		n += s * (d.shape[i] - 1)
	}
	return n
}

// Check validates the descriptor alone: rank, dimension sizes, stride
// alignment and aliasing, offset and quantisation info.
func (d Descriptor) Check() error {
	if d.dtype == DataTypeUnknown || d.dtype.Size() == 0 {
		return status.Configuration("unknown data type")
	}
	if err := d.shape.Check(); err != nil {
		return err
	}
	if len(d.strides) != len(d.shape) {
		return status.Configuration("have %d strides for rank %d", len(d.strides), len(d.shape))
	}
	es := d.dtype.Size()
	if d.offset < 0 || d.offset%es != 0 {
		return status.Configuration("offset %d is not a non-negative multiple of %d", d.offset, es)
	}
	// span is the byte distance covered by all dims inside the current one.
	span := es
	for i := len(d.shape) - 1; i >= 0; i-- {
		s := d.strides[i]
		if s < 0 || s%es != 0 {
			return status.Configuration("stride %d of dim %d is not a non-negative multiple of %d", s, i, es)
		}
		if d.shape[i] == 1 {
			continue
		}
		if s == 0 {
			if d.IsBroadcast(i) {
				continue
			}
			return status.Configuration("dim %d has stride 0 but is not a broadcast dim", i)
		}
		if s < span {
			return status.Configuration("stride %d of dim %d is below the minimum %d", s, i, span)
		}
		span = max(span, s*(d.shape[i]-1)+es)
	}
	if d.dtype.IsQuantized() {
		if d.quant.Empty() {
			return status.Configuration("%s tensor requires quantisation info", d.dtype)
		}
		if d.dtype != QSYMM8PerChannel && len(d.quant.Scales) != 1 {
			return status.Configuration("%s takes one scale, have %d", d.dtype, len(d.quant.Scales))
		}
		if n := len(d.quant.Offsets); n > 1 && n != len(d.quant.Scales) {
			return status.Configuration("have %d offsets for %d scales", n, len(d.quant.Scales))
		}
		for i, sc := range d.quant.Scales {
			if !(sc > 0) || math.IsInf(float64(sc), 1) {
				return status.Configuration("scale %d is %v, must be positive and finite", i, sc)
			}
		}
	}
	return nil
}

// IsValid checks the descriptor and that everything it addresses lies
// within a buffer of bufLen bytes.
func (d Descriptor) IsValid(bufLen int) error {
	if err := d.Check(); err != nil {
		return err
	}
	if ext := d.Extent(); ext > bufLen {
		return status.Configuration("tensor %s %s addresses %d bytes, buffer has %d", d.shape, d.dtype, ext, bufLen)
	}
	return nil
}

// SameMeta reports equal shape, data type and quantisation.
func (d Descriptor) SameMeta(o Descriptor) bool {
	return d.dtype == o.dtype && d.shape.Equal(o.shape) && d.quant.Equal(o.quant)
}

func (d Descriptor) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s%s", d.dtype, d.shape)
	if d.layout != LayoutUnknown {
		fmt.Fprintf(&b, " %s", d.layout)
	}
	if !d.IsContiguous() {
		fmt.Fprintf(&b, " strides=%v", d.strides)
	}
	if d.offset != 0 {
		fmt.Fprintf(&b, " offset=%d", d.offset)
	}
	return b.String()
}
