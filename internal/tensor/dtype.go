// Package tensor describes tensors to the dispatch core: shape, byte strides,
// element type, layout tag and quantisation parameters. Descriptors are pure
// metadata; buffers are owned by the caller and only ever viewed.
package tensor

import (
	"fmt"
	"strings"
)

// DataType identifies the element encoding of a tensor.
// Keep these stable; add new values only at the end.
type DataType uint8

const (
	DataTypeUnknown DataType = iota
	F32
	F16
	BF16
	S32
	S16
	S8
	U8
	QASYMM8
	QASYMM8Signed
	QSYMM8PerChannel
	INT4
)

var dataTypeNames = [...]string{
	DataTypeUnknown:  "unknown",
	F32:              "f32",
	F16:              "f16",
	BF16:             "bf16",
	S32:              "s32",
	S16:              "s16",
	S8:               "s8",
	U8:               "u8",
	QASYMM8:          "qasymm8",
	QASYMM8Signed:    "qasymm8_signed",
	QSYMM8PerChannel: "qsymm8_per_channel",
	INT4:             "int4",
}

// Size returns the number of bytes used to address one element. Packed
// sub-byte types report 1 since strides are expressed in whole bytes.
func (dt DataType) Size() int {
	switch dt {
	case F32, S32:
		return 4
	case F16, BF16, S16:
		return 2
	case S8, U8, QASYMM8, QASYMM8Signed, QSYMM8PerChannel, INT4:
		return 1
	default:
		return 0
	}
}

// Packed reports whether more than one element shares a byte.
func (dt DataType) Packed() bool {
	return dt == INT4
}

// IsFloat reports whether the type is a floating point format.
func (dt DataType) IsFloat() bool {
	return dt == F32 || dt == F16 || dt == BF16
}

// IsQuantized reports whether values carry a scale and zero point.
func (dt DataType) IsQuantized() bool {
	return dt == QASYMM8 || dt == QASYMM8Signed || dt == QSYMM8PerChannel
}

func (dt DataType) String() string {
	if int(dt) < len(dataTypeNames) {
		return dataTypeNames[dt]
	}
	return fmt.Sprintf("dtype(%d)", uint8(dt))
}

// ParseDataType accepts the names produced by String, case-insensitively.
func ParseDataType(s string) (DataType, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	switch name {
	case "fp32", "float32":
		return F32, nil
	case "fp16", "float16", "half":
		return F16, nil
	}
	for i, n := range dataTypeNames {
		if i == int(DataTypeUnknown) {
			continue
		}
		if n == name {
			return DataType(i), nil
		}
	}
	return DataTypeUnknown, fmt.Errorf("unknown data type %q", s)
}

// Layout tags the ordering of spatial and channel dimensions.
type Layout uint8

const (
	LayoutUnknown Layout = iota
	NHWC
	NCHW
)

func (l Layout) String() string {
	switch l {
	case NHWC:
		return "nhwc"
	case NCHW:
		return "nchw"
	default:
		return "unknown"
	}
}

// ParseLayout parses "nhwc", "nchw" or "" (unknown).
func ParseLayout(s string) (Layout, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "unknown", "any":
		return LayoutUnknown, nil
	case "nhwc":
		return NHWC, nil
	case "nchw":
		return NCHW, nil
	default:
		return LayoutUnknown, fmt.Errorf("unknown layout %q", s)
	}
}

// QuantInfo holds per-tensor (one entry) or per-channel scale and zero point.
type QuantInfo struct {
	Scales  []float32
	Offsets []int32
}

// Empty reports whether no quantisation parameters are attached.
func (q QuantInfo) Empty() bool {
	return len(q.Scales) == 0
}

// Uniform returns the first scale and offset, which is the whole story for
// per-tensor quantisation.
func (q QuantInfo) Uniform() (float32, int32) {
	var scale float32 = 1
	var offset int32
	if len(q.Scales) > 0 {
		scale = q.Scales[0]
	}
	if len(q.Offsets) > 0 {
		offset = q.Offsets[0]
	}
	return scale, offset
}

// Equal compares scales and offsets element-wise.
func (q QuantInfo) Equal(o QuantInfo) bool {
	if len(q.Scales) != len(o.Scales) || len(q.Offsets) != len(o.Offsets) {
		return false
	}
	for i := range q.Scales {
		if q.Scales[i] != o.Scales[i] {
			return false
		}
	}
	for i := range q.Offsets {
		if q.Offsets[i] != o.Offsets[i] {
			return false
		}
	}
	return true
}

func (q QuantInfo) clone() QuantInfo {
	return QuantInfo{
		Scales:  append([]float32(nil), q.Scales...),
		Offsets: append([]int32(nil), q.Offsets...),
	}
}
