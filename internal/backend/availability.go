package backend

import (
	"strings"

	"github.com/samcharles93/stratum/internal/backend/gpu"
)

// Available returns a comma-separated list of available backends.
func Available() string {
	entries := []string{CPU}
	if Has(GPU) {
		entries = append(entries, GPU)
	}
	return strings.Join(entries, ",")
}

// Has reports whether this build can open the named backend. The device
// backend additionally needs a working adapter at run time.
func Has(name string) bool {
	switch name {
	case GPU:
		return gpu.Enabled
	default:
		return name == CPU
	}
}
