//go:build !arm64 && !amd64

package cpuinfo

func hostCaps() Set { return 0 }

func hostFeatures() map[string]bool { return map[string]bool{} }
