package kernel

import (
	"github.com/samcharles93/stratum/internal/cpuinfo"
	"github.com/samcharles93/stratum/internal/status"
	"github.com/samcharles93/stratum/internal/tensor"
)

// Config is a fully described operator invocation: tensors, per-op
// parameters and the fused output clamp.
type Config struct {
	Op     OpKind
	Inputs []tensor.Tensor
	Output tensor.Tensor
	Params any
	Clamp  Clamp
}

// Input returns input i.
func (c *Config) Input(i int) tensor.Tensor { return c.Inputs[i] }

// DataType is the type selection keys on: the first input's, or the
// output's when there are no inputs.
func (c *Config) DataType() tensor.DataType {
	if len(c.Inputs) > 0 {
		return c.Inputs[0].Desc.DataType()
	}
	return c.Output.Desc.DataType()
}

// Layout is the layout tag selection keys on.
func (c *Config) Layout() tensor.Layout {
	if len(c.Inputs) > 0 {
		return c.Inputs[0].Desc.Layout()
	}
	return c.Output.Desc.Layout()
}

// Query builds the selection query for this configuration.
func (c *Config) Query(caps cpuinfo.Set) Query {
	return Query{
		Op:     c.Op,
		DType:  c.DataType(),
		Layout: c.Layout(),
		Caps:   caps,
		Shape:  c.Output.Desc.Shape(),
	}
}

// CheckDescriptors validates every descriptor without touching buffers.
func (c *Config) CheckDescriptors() error {
	if c.Op == OpUnknown {
		return status.Configuration("operator kind not set")
	}
	for i, in := range c.Inputs {
		if err := in.Desc.Check(); err != nil {
			return status.Configuration("input %d: %v", i, err)
		}
	}
	if err := c.Output.Desc.Check(); err != nil {
		return status.Configuration("output: %v", err)
	}
	if !c.Clamp.OrNone().Valid() {
		return status.Configuration("clamp min %v above max %v", c.Clamp.Min, c.Clamp.Max)
	}
	return nil
}

// CheckBuffers verifies each buffer covers the extent its descriptor
// addresses.
func (c *Config) CheckBuffers() error {
	for i, in := range c.Inputs {
		if err := in.IsValid(); err != nil {
			return status.Configuration("input %d: %v", i, err)
		}
	}
	if err := c.Output.IsValid(); err != nil {
		return status.Configuration("output: %v", err)
	}
	return nil
}
