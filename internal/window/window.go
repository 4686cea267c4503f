// Package window describes the region of an output tensor a kernel invocation
// computes, and the tile and split arithmetic over it.
package window

import (
	"fmt"
	"math/bits"
	"strings"

	"github.com/samcharles93/stratum/internal/status"
	"github.com/samcharles93/stratum/internal/tensor"
)

// MaxDims mirrors the descriptor rank limit.
const MaxDims = tensor.MaxDims

// Dimension is a half-open range [Start, End) walked in Step increments.
type Dimension struct {
	Start int
	End   int
	Step  int
}

// Steps returns how many step-sized tiles cover the range, counting a final
// partial tile.
func (d Dimension) Steps() int {
	if d.End <= d.Start || d.Step <= 0 {
		return 0
	}
	return (d.End - d.Start + d.Step - 1) / d.Step
}

// Len returns End-Start.
func (d Dimension) Len() int { return d.End - d.Start }

func (d Dimension) check(i int) error {
	if d.Step <= 0 {
		return status.Configuration("window dim %d: step %d must be positive", i, d.Step)
	}
	if d.End < d.Start {
		return status.Configuration("window dim %d: end %d before start %d", i, d.End, d.Start)
	}
	return nil
}

// Coordinates is a point or extent with one entry per window dimension.
type Coordinates [MaxDims]int

// Window is an ordered set of at most MaxDims dimensions. The zero value is
// an empty window with no dimensions.
type Window struct {
	dims [MaxDims]Dimension
	n    int
}

// New builds a window from explicit dimensions.
func New(dims ...Dimension) (Window, error) {
	var w Window
	if len(dims) > MaxDims {
		return w, status.Configuration("window rank %d exceeds %d", len(dims), MaxDims)
	}
	for i, d := range dims {
		if err := d.check(i); err != nil {
			return Window{}, err
		}
		w.dims[i] = d
	}
	w.n = len(dims)
	return w, nil
}

// FromShape covers the whole of shape. steps is aligned to the trailing
// dims; missing leading entries default to 1.
func FromShape(shape tensor.Shape, steps []int) (Window, error) {
	if err := shape.Check(); err != nil {
		return Window{}, err
	}
	if len(steps) > len(shape) {
		steps = steps[len(steps)-len(shape):]
	}
	lead := len(shape) - len(steps)
	dims := make([]Dimension, len(shape))
	for i, s := range shape {
		step := 1
		if i >= lead {
			step = steps[i-lead]
		}
		dims[i] = Dimension{Start: 0, End: s, Step: step}
	}
	return New(dims...)
}

// Rank returns the number of dimensions.
func (w Window) Rank() int { return w.n }

// Dim returns dimension i.
func (w Window) Dim(i int) Dimension { return w.dims[i] }

// Dims returns a copy of the dimensions.
func (w Window) Dims() []Dimension {
	return append([]Dimension(nil), w.dims[:w.n]...)
}

// WithDim returns a copy of w with dimension i replaced.
func (w Window) WithDim(i int, d Dimension) (Window, error) {
	if i < 0 || i >= w.n {
		return Window{}, status.Configuration("window dim %d out of range for rank %d", i, w.n)
	}
	if err := d.check(i); err != nil {
		return Window{}, err
	}
	w.dims[i] = d
	return w, nil
}

// NumIterations returns the product of Steps over all dimensions, failing
// when the product does not fit in uint64. An empty window has zero.
func (w Window) NumIterations() (uint64, error) {
	if w.n == 0 {
		return 0, nil
	}
	total := uint64(1)
	for i := range w.n {
		hi, lo := bits.Mul64(total, uint64(w.dims[i].Steps()))
		if hi != 0 {
			return 0, status.Configuration("window %s: iteration count overflows uint64", w)
		}
		total = lo
	}
	return total, nil
}

// CoarsestDimension returns the dimension with the most steps, preferring
// the lowest index on ties.
func (w Window) CoarsestDimension() int {
	best, bestSteps := 0, -1
	for i := range w.n {
		if s := w.dims[i].Steps(); s > bestSteps {
			best, bestSteps = i, s
		}
	}
	return best
}

// Split divides dimension dim into parts sub-windows whose step counts
// differ by at most one. The other dimensions are copied unchanged.
func (w Window) Split(dim, parts int) ([]Window, error) {
	if dim < 0 || dim >= w.n {
		return nil, status.Configuration("split dim %d out of range for rank %d", dim, w.n)
	}
	steps := w.dims[dim].Steps()
	if parts < 1 || parts > steps {
		return nil, status.Configuration("cannot split %d steps of dim %d into %d parts", steps, dim, parts)
	}
	return w.SplitInto(make([]Window, 0, parts), dim, parts), nil
}

// SplitInto appends the parts of an already checked split to dst and
// returns it. It does not allocate when dst has capacity.
func (w Window) SplitInto(dst []Window, dim, parts int) []Window {
	d := w.dims[dim]
	steps := d.Steps()
	base, rem := steps/parts, steps%parts
	start := d.Start
	for p := range parts {
		n := base
		if p < rem {
			n++
		}
		end := min(start+n*d.Step, d.End)
		sub := w
		sub.dims[dim] = Dimension{Start: start, End: end, Step: d.Step}
		dst = append(dst, sub)
		start = end
	}
	return dst
}

// Contains reports whether o lies entirely inside w. Ranks must match.
func (w Window) Contains(o Window) bool {
	if w.n != o.n {
		return false
	}
	for i := range w.n {
		if o.dims[i].Start < w.dims[i].Start || o.dims[i].End > w.dims[i].End {
			return false
		}
	}
	return true
}

// Equal compares all dimensions.
func (w Window) Equal(o Window) bool {
	return w.n == o.n && w.dims == o.dims
}

// ForEachTile walks the window in row-major order. For every tile it passes
// the origin and the extent actually covered; the extent is narrower than
// Step only for the final tile of a dimension (the oddment).
func (w Window) ForEachTile(fn func(origin, extent Coordinates)) {
	if w.n == 0 {
		return
	}
	for i := range w.n {
		if w.dims[i].Steps() == 0 {
			return
		}
	}
	var origin, extent Coordinates
	for i := range w.n {
		origin[i] = w.dims[i].Start
		extent[i] = min(w.dims[i].Step, w.dims[i].End-origin[i])
	}
	for {
		fn(origin, extent)
		i := w.n - 1
		for ; i >= 0; i-- {
			d := w.dims[i]
			origin[i] += d.Step
			if origin[i] < d.End {
				extent[i] = min(d.Step, d.End-origin[i])
				break
			}
			origin[i] = d.Start
			extent[i] = min(d.Step, d.End-d.Start)
		}
		if i < 0 {
			return
		}
	}
}

// Shape returns the number of elements the window covers per dimension.
func (w Window) Shape() tensor.Shape {
	out := make(tensor.Shape, w.n)
	for i := range w.n {
		out[i] = w.dims[i].Len()
	}
	return out
}

func (w Window) String() string {
	var b strings.Builder
	b.WriteByte('{')
	for i := range w.n {
		if i > 0 {
			b.WriteString(", ")
		}
		d := w.dims[i]
		fmt.Fprintf(&b, "[%d:%d:%d]", d.Start, d.End, d.Step)
	}
	b.WriteByte('}')
	return b.String()
}
