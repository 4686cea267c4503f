package kernels

import "github.com/samcharles93/stratum/internal/kernel"

func init() {
	Register(kernel.Default)
}

// Register adds every CPU strategy to r. The default registry is filled at
// init; tests and tools may build private registries with it.
func Register(r *kernel.Registry) {
	registerActivation(r)
	registerElementwise(r)
	registerPooling(r)
	registerDepthwise(r)
	registerGEMM(r)
	registerReduction(r)
	registerQuantization(r)
	registerReorder(r)
}

// Shape checks shared with device backends, which accept the same tensors
// as the CPU strategies of the matching operator.
var (
	ValidateActivation  = validateActivation
	ValidateElementwise = validateElementwise
	ValidateGEMM        = validateGEMM
)

