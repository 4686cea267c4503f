package api

import "github.com/goccy/go-json"

// TensorSpec describes one tensor of a plan. Strides are in bytes and
// default to a dense row-major packing.
type TensorSpec struct {
	Shape   []int      `json:"shape"`
	DType   string     `json:"dtype"`
	Layout  string     `json:"layout,omitempty"`
	Strides []int      `json:"strides,omitempty"`
	Offset  int        `json:"offset,omitempty"`
	Quant   *QuantSpec `json:"quant,omitempty"`
}

type QuantSpec struct {
	Scales  []float32 `json:"scales"`
	Offsets []int32   `json:"offsets,omitempty"`
}

// ClampSpec bounds the output. A missing side is unbounded.
type ClampSpec struct {
	Min *float32 `json:"min,omitempty"`
	Max *float32 `json:"max,omitempty"`
}

// PlanRequest is an operator invocation described by metadata only. No
// buffer is ever attached.
type PlanRequest struct {
	Op           string          `json:"op"`
	Backend      string          `json:"backend,omitempty"`
	Capabilities string          `json:"capabilities,omitempty"`
	Inputs       []TensorSpec    `json:"inputs"`
	Output       TensorSpec      `json:"output"`
	Params       json.RawMessage `json:"params,omitempty"`
	Clamp        *ClampSpec      `json:"clamp,omitempty"`
	// Activation is fused into the clamp of the operator. Only the
	// clamp-family functions are accepted.
	Activation *activationSpec `json:"activation,omitempty"`
}

type activationSpec struct {
	Func string  `json:"func"`
	A    float32 `json:"a"`
	B    float32 `json:"b"`
}

type elementwiseSpec struct {
	Op string `json:"op"`
}

type padStrideSpec struct {
	StrideX   int `json:"stride_x"`
	StrideY   int `json:"stride_y"`
	PadLeft   int `json:"pad_left"`
	PadRight  int `json:"pad_right"`
	PadTop    int `json:"pad_top"`
	PadBottom int `json:"pad_bottom"`
}

type poolingSpec struct {
	Type           string        `json:"type"`
	KernelW        int           `json:"kernel_w"`
	KernelH        int           `json:"kernel_h"`
	Pad            padStrideSpec `json:"pad"`
	ExcludePadding bool          `json:"exclude_padding"`
}

type depthwiseSpec struct {
	Pad             padStrideSpec `json:"pad"`
	DilationX       int           `json:"dilation_x"`
	DilationY       int           `json:"dilation_y"`
	DepthMultiplier int           `json:"depth_multiplier"`
}

type gemmSpec struct {
	Alpha    *float32 `json:"alpha"`
	Beta     float32  `json:"beta"`
	WithC    bool     `json:"with_c"`
	WithBias bool     `json:"with_bias"`
	BlockedB int      `json:"blocked_b"`
}

type reorderSpec struct {
	Block     int  `json:"block"`
	Transpose bool `json:"transpose"`
}

type reductionSpec struct {
	Op       string `json:"op"`
	Axis     int    `json:"axis"`
	KeepDims bool   `json:"keep_dims"`
}

// StrategyInfo is the public view of a registered strategy.
type StrategyInfo struct {
	Name     string   `json:"name"`
	Op       string   `json:"op"`
	DType    string   `json:"dtype"`
	Layout   string   `json:"layout"`
	Requires []string `json:"requires"`
	Tile     []int    `json:"tile"`
}

type CapabilitiesResponse struct {
	Backend      string   `json:"backend"`
	Capabilities []string `json:"capabilities"`
	Available    []string `json:"available"`
	Threads      int      `json:"threads"`
}

type StrategiesResponse struct {
	Backend    string         `json:"backend"`
	Strategies []StrategyInfo `json:"strategies"`
}

type ValidateResponse struct {
	Valid    bool   `json:"valid"`
	Backend  string `json:"backend"`
	Strategy string `json:"strategy"`
}

type SelectResponse struct {
	Backend    string         `json:"backend"`
	Strategy   StrategyInfo   `json:"strategy"`
	Candidates []StrategyInfo `json:"candidates"`
	Window     [][3]int       `json:"window"`
}

type ResponseError struct {
	Message  string `json:"message"`
	Type     string `json:"type"`
	Code     string `json:"code,omitempty"`
	Param    string `json:"param,omitempty"`
	Strategy string `json:"strategy,omitempty"`
}
