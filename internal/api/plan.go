package api

import (
	"bytes"
	"fmt"

	"github.com/goccy/go-json"

	"github.com/samcharles93/stratum/internal/cpuinfo"
	"github.com/samcharles93/stratum/internal/kernel"
	"github.com/samcharles93/stratum/internal/tensor"
)

func (t TensorSpec) descriptor() (tensor.Descriptor, error) {
	dt, err := tensor.ParseDataType(t.DType)
	if err != nil {
		return tensor.Descriptor{}, err
	}
	layout, err := tensor.ParseLayout(t.Layout)
	if err != nil {
		return tensor.Descriptor{}, err
	}
	d := tensor.NewDescriptor(tensor.Shape(t.Shape), dt, layout)
	if len(t.Strides) > 0 {
		d = d.WithStrides(t.Strides...)
	}
	if t.Offset != 0 {
		d = d.WithOffset(t.Offset)
	}
	if t.Quant != nil {
		d = d.WithQuant(tensor.QuantInfo{Scales: t.Quant.Scales, Offsets: t.Quant.Offsets})
	}
	return d, nil
}

func (c *ClampSpec) clamp() kernel.Clamp {
	if c == nil {
		return kernel.NoClamp
	}
	out := kernel.NoClamp
	if c.Min != nil {
		out.Min = *c.Min
	}
	if c.Max != nil {
		out.Max = *c.Max
	}
	return out
}

func (s activationSpec) params() (kernel.ActivationParams, error) {
	fn := kernel.Identity
	if s.Func != "" {
		var err error
		if fn, err = kernel.ParseActivationFunc(s.Func); err != nil {
			return kernel.ActivationParams{}, err
		}
	}
	return kernel.ActivationParams{Func: fn, A: s.A, B: s.B}, nil
}

func (p padStrideSpec) info() kernel.PadStrideInfo {
	return kernel.PadStrideInfo{
		StrideX:   max(p.StrideX, 1),
		StrideY:   max(p.StrideY, 1),
		PadLeft:   p.PadLeft,
		PadRight:  p.PadRight,
		PadTop:    p.PadTop,
		PadBottom: p.PadBottom,
	}
}

// decodeParams reads the op-specific parameter object. Unknown fields are
// rejected so typos surface instead of silently taking defaults.
func decodeParams[T any](raw json.RawMessage) (T, error) {
	var out T
	if len(bytes.TrimSpace(raw)) == 0 {
		return out, nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&out); err != nil {
		return out, fmt.Errorf("params: %w", err)
	}
	return out, nil
}

func parseParams(op kernel.OpKind, raw json.RawMessage) (any, error) {
	switch op {
	case kernel.Activation:
		s, err := decodeParams[activationSpec](raw)
		if err != nil {
			return nil, err
		}
		return s.params()
	case kernel.Elementwise:
		s, err := decodeParams[elementwiseSpec](raw)
		if err != nil {
			return nil, err
		}
		e := kernel.Add
		if s.Op != "" {
			if e, err = kernel.ParseElementwiseOp(s.Op); err != nil {
				return nil, err
			}
		}
		return kernel.ElementwiseParams{Op: e}, nil
	case kernel.Pooling:
		s, err := decodeParams[poolingSpec](raw)
		if err != nil {
			return nil, err
		}
		typ := kernel.PoolMax
		switch s.Type {
		case "", "max":
		case "avg", "average":
			typ = kernel.PoolAvg
		default:
			return nil, fmt.Errorf("unknown pooling type %q", s.Type)
		}
		return kernel.PoolingParams{
			Type:           typ,
			KernelW:        s.KernelW,
			KernelH:        s.KernelH,
			Pad:            s.Pad.info(),
			ExcludePadding: s.ExcludePadding,
		}, nil
	case kernel.DepthwiseConv:
		s, err := decodeParams[depthwiseSpec](raw)
		if err != nil {
			return nil, err
		}
		return kernel.DepthwiseParams{
			Pad:             s.Pad.info(),
			DilationX:       s.DilationX,
			DilationY:       s.DilationY,
			DepthMultiplier: s.DepthMultiplier,
		}, nil
	case kernel.GEMM:
		s, err := decodeParams[gemmSpec](raw)
		if err != nil {
			return nil, err
		}
		p := kernel.GEMMParams{Alpha: 1, Beta: s.Beta, WithC: s.WithC, WithBias: s.WithBias, BlockedB: s.BlockedB}
		if s.Alpha != nil {
			p.Alpha = *s.Alpha
		}
		return p, nil
	case kernel.Reduction:
		s, err := decodeParams[reductionSpec](raw)
		if err != nil {
			return nil, err
		}
		r := kernel.ReduceSum
		if s.Op != "" {
			if r, err = kernel.ParseReduceOp(s.Op); err != nil {
				return nil, err
			}
		}
		return kernel.ReductionParams{Op: r, Axis: s.Axis, KeepDims: s.KeepDims}, nil
	case kernel.Quantization:
		// The output descriptor carries everything; only reject stray fields.
		if _, err := decodeParams[struct{}](raw); err != nil {
			return nil, err
		}
		return nil, nil
	case kernel.Reorder:
		s, err := decodeParams[reorderSpec](raw)
		if err != nil {
			return nil, err
		}
		if s.Block == 0 {
			s.Block = 16
		}
		return kernel.ReorderParams{Block: s.Block, Transpose: s.Transpose}, nil
	}
	return nil, fmt.Errorf("unknown operator %q", op)
}

// config turns a plan into a buffer-less operator configuration. Errors are
// malformed requests, except a fused activation the clamp cannot express,
// which keeps its configuration or unsupported verdict.
func (p *PlanRequest) config() (*kernel.Config, error) {
	if p.Op == "" {
		return nil, newInvalidRequest("op is required")
	}
	op, err := kernel.ParseOpKind(p.Op)
	if err != nil {
		return nil, newInvalidRequest(err.Error())
	}
	params, err := parseParams(op, p.Params)
	if err != nil {
		return nil, newInvalidRequest(err.Error())
	}
	cfg := &kernel.Config{Op: op, Params: params, Clamp: p.Clamp.clamp()}
	if p.Activation != nil {
		act, err := p.Activation.params()
		if err != nil {
			return nil, newInvalidRequest("activation: " + err.Error())
		}
		if cfg.Clamp, err = cfg.Clamp.Fuse(act); err != nil {
			return nil, err
		}
	}
	for i, in := range p.Inputs {
		d, err := in.descriptor()
		if err != nil {
			return nil, newInvalidRequest(fmt.Sprintf("inputs[%d]: %v", i, err))
		}
		cfg.Inputs = append(cfg.Inputs, tensor.Tensor{Desc: d})
	}
	out, err := p.Output.descriptor()
	if err != nil {
		return nil, newInvalidRequest(fmt.Sprintf("output: %v", err))
	}
	cfg.Output = tensor.Tensor{Desc: out}
	return cfg, nil
}

func strategyInfo(s *kernel.Strategy) StrategyInfo {
	info := StrategyInfo{
		Name:     s.Name,
		Op:       s.Op.String(),
		DType:    s.DType.String(),
		Layout:   s.Layout.String(),
		Requires: capNames(s.Requires),
		Tile:     s.Tile,
	}
	if info.Tile == nil {
		info.Tile = []int{}
	}
	return info
}

func capNames(s cpuinfo.Set) []string {
	list := s.List()
	out := make([]string, len(list))
	for i, c := range list {
		out[i] = c.String()
	}
	return out
}
