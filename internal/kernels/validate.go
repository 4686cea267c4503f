package kernels

import (
	"github.com/samcharles93/stratum/internal/kernel"
	"github.com/samcharles93/stratum/internal/tensor"
)

func paramsOf[P any](s *kernel.Strategy, c *kernel.Config) (P, error) {
	p, ok := c.Params.(P)
	if !ok {
		var zero P
		return zero, kernel.Invalid(s, "expected %T parameters, have %T", zero, c.Params)
	}
	return p, nil
}

func wantInputs(s *kernel.Strategy, c *kernel.Config, lo, hi int) error {
	if n := len(c.Inputs); n < lo || n > hi {
		if lo == hi {
			return kernel.Invalid(s, "expected %d inputs, have %d", lo, n)
		}
		return kernel.Invalid(s, "expected %d to %d inputs, have %d", lo, hi, n)
	}
	return nil
}

// sameType checks every tensor carries the strategy's data type and, for
// quantised types, identical quantisation info unless requant is set.
func sameType(s *kernel.Strategy, c *kernel.Config, requant bool) error {
	out := c.Output.Desc
	if out.DataType() != s.DType {
		return kernel.Invalid(s, "output is %s, strategy handles %s", out.DataType(), s.DType)
	}
	for i, in := range c.Inputs {
		if in.Desc.DataType() != s.DType {
			return kernel.Invalid(s, "input %d is %s, output is %s", i, in.Desc.DataType(), s.DType)
		}
		if !requant && s.DType.IsQuantized() && !in.Desc.Quant().Equal(out.Quant()) {
			return kernel.Invalid(s, "input %d quantisation differs from output", i)
		}
	}
	return nil
}

func wantRank(s *kernel.Strategy, what string, d tensor.Descriptor, rank int) error {
	if d.Rank() != rank {
		return kernel.Invalid(s, "%s must have rank %d, has shape %s", what, rank, d.Shape())
	}
	return nil
}

func wantShape(s *kernel.Strategy, what string, d tensor.Descriptor, want tensor.Shape) error {
	if !d.Shape().Equal(want) {
		return kernel.Invalid(s, "%s shape %s, expected %s", what, d.Shape(), want)
	}
	return nil
}
