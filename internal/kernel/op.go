package kernel

import (
	"fmt"
	"strings"
)

// OpKind names the logical operator a strategy implements.
type OpKind uint8

const (
	OpUnknown OpKind = iota
	Activation
	Elementwise
	Pooling
	DepthwiseConv
	GEMM
	Reduction
	Quantization
	Reorder
)

var opNames = [...]string{
	OpUnknown:     "unknown",
	Activation:    "activation",
	Elementwise:   "elementwise",
	Pooling:       "pooling",
	DepthwiseConv: "depthwise",
	GEMM:          "gemm",
	Reduction:     "reduction",
	Quantization:  "quantization",
	Reorder:       "reorder",
}

func (k OpKind) String() string {
	if int(k) < len(opNames) {
		return opNames[k]
	}
	return fmt.Sprintf("op(%d)", uint8(k))
}

// Ops lists every concrete operator kind.
func Ops() []OpKind {
	return []OpKind{Activation, Elementwise, Pooling, DepthwiseConv, GEMM, Reduction, Quantization, Reorder}
}

// ParseOpKind accepts the names produced by String.
func ParseOpKind(s string) (OpKind, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	switch name {
	case "depthwiseconv", "depthwise_conv":
		return DepthwiseConv, nil
	case "quantize", "quantise":
		return Quantization, nil
	}
	for _, k := range Ops() {
		if k.String() == name {
			return k, nil
		}
	}
	return OpUnknown, fmt.Errorf("unknown operator %q", s)
}
