//go:build amd64

package cpuinfo

import "golang.org/x/sys/cpu"

func hostCaps() Set {
	var s Set
	if cpu.X86.HasAVX2 && cpu.X86.HasFMA {
		s |= Set(Vector)
	}
	if cpu.X86.HasAVX512F && cpu.X86.HasAVX512BW && cpu.X86.HasAVX512VL {
		s |= Set(SVE)
	}
	if cpu.X86.HasAVX512VNNI {
		s |= Set(DotProd)
	}
	if cpu.X86.HasAVX512BF16 {
		s |= Set(BF16)
	}
	return s
}

func hostFeatures() map[string]bool {
	return map[string]bool{
		"AVX":        cpu.X86.HasAVX,
		"AVX2":       cpu.X86.HasAVX2,
		"FMA":        cpu.X86.HasFMA,
		"AVX512F":    cpu.X86.HasAVX512F,
		"AVX512BW":   cpu.X86.HasAVX512BW,
		"AVX512VL":   cpu.X86.HasAVX512VL,
		"AVX512VNNI": cpu.X86.HasAVX512VNNI,
		"AVX512BF16": cpu.X86.HasAVX512BF16,
		"SSE41":      cpu.X86.HasSSE41,
		"SSE42":      cpu.X86.HasSSE42,
	}
}
