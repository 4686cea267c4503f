package tensor

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/samcharles93/stratum/internal/status"
)

// MaxDims is the highest rank any descriptor or window may have.
const MaxDims = 6

// Shape lists dimension sizes, outermost first.
type Shape []int

// NumElements returns the product of all dimensions. An empty shape is a
// scalar and has one element.
func (s Shape) NumElements() int {
	n := 1
	for _, d := range s {
		n *= d
	}
	return n
}

// Rank returns the number of dimensions.
func (s Shape) Rank() int { return len(s) }

// Equal reports whether both shapes have identical dimensions.
func (s Shape) Equal(o Shape) bool {
	if len(s) != len(o) {
		return false
	}
	for i := range s {
		if s[i] != o[i] {
			return false
		}
	}
	return true
}

// Clone returns an independent copy.
func (s Shape) Clone() Shape {
	if s == nil {
		return nil
	}
	return append(Shape(nil), s...)
}

// Last returns the innermost dimension, or 1 for a scalar.
func (s Shape) Last() int {
	if len(s) == 0 {
		return 1
	}
	return s[len(s)-1]
}

func (s Shape) String() string {
	parts := make([]string, len(s))
	for i, d := range s {
		parts[i] = strconv.Itoa(d)
	}
	return "[" + strings.Join(parts, "x") + "]"
}

// Check reports a configuration error for ranks above MaxDims or
// non-positive dimensions.
func (s Shape) Check() error {
	if len(s) > MaxDims {
		return status.Configuration("rank %d exceeds %d", len(s), MaxDims)
	}
	for i, d := range s {
		if d <= 0 {
			return status.Configuration("dimension %d of %s must be positive", i, s)
		}
	}
	return nil
}

// ParseShape parses "2x3x4" or "2,3,4".
func ParseShape(str string) (Shape, error) {
	str = strings.TrimSpace(str)
	if str == "" {
		return nil, fmt.Errorf("empty shape")
	}
	fields := strings.FieldsFunc(str, func(r rune) bool { return r == 'x' || r == ',' || r == 'X' })
	out := make(Shape, 0, len(fields))
	for _, f := range fields {
		v, err := strconv.Atoi(strings.TrimSpace(f))
		if err != nil {
			return nil, fmt.Errorf("parse shape %q: %w", str, err)
		}
		out = append(out, v)
	}
	return out, out.Check()
}

// BroadcastShapes returns the NumPy-style broadcast of a and b: shapes are
// right-aligned and each pair of dims must be equal or contain a 1.
func BroadcastShapes(a, b Shape) (Shape, error) {
	n := max(len(a), len(b))
	out := make(Shape, n)
	for i := range n {
		da, db := 1, 1
		if j := len(a) - n + i; j >= 0 {
			da = a[j]
		}
		if j := len(b) - n + i; j >= 0 {
			db = b[j]
		}
		switch {
		case da == db:
			out[i] = da
		case da == 1:
			out[i] = db
		case db == 1:
			out[i] = da
		default:
			return nil, status.Configuration("shapes %s and %s are not broadcastable", a, b)
		}
	}
	return out, nil
}

// RowMajorStrides returns densely packed byte strides for shape.
func RowMajorStrides(shape Shape, elemSize int) []int {
	strides := make([]int, len(shape))
	acc := elemSize
	for i := len(shape) - 1; i >= 0; i-- {
		strides[i] = acc
		acc *= shape[i]
	}
	return strides
}
