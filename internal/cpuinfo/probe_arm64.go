//go:build arm64

package cpuinfo

import "golang.org/x/sys/cpu"

func hostCaps() Set {
	var s Set
	if cpu.ARM64.HasASIMD {
		s |= Set(Vector)
	}
	if cpu.ARM64.HasFPHP && cpu.ARM64.HasASIMDHP {
		s |= Set(FP16)
	}
	if cpu.ARM64.HasASIMDDP {
		s |= Set(DotProd)
	}
	if cpu.ARM64.HasSVE {
		s |= Set(SVE)
	}
	if cpu.ARM64.HasSVE2 {
		s |= Set(SVE2)
	}
	return s
}

func hostFeatures() map[string]bool {
	return map[string]bool{
		"ASIMD":    cpu.ARM64.HasASIMD,
		"FP":       cpu.ARM64.HasFP,
		"FPHP":     cpu.ARM64.HasFPHP,
		"ASIMDHP":  cpu.ARM64.HasASIMDHP,
		"ASIMDDP":  cpu.ARM64.HasASIMDDP,
		"ASIMDFHM": cpu.ARM64.HasASIMDFHM,
		"SVE":      cpu.ARM64.HasSVE,
		"SVE2":     cpu.ARM64.HasSVE2,
		"ATOMICS":  cpu.ARM64.HasATOMICS,
	}
}
