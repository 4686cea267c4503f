package cpuinfo

import (
	"bufio"
	"io"
	"os"
	"runtime"
	"strings"
)

const procCPUInfo = "/proc/cpuinfo"

// ThreadsHint suggests a worker count. On heterogeneous (big.LITTLE) hosts
// it returns how many cores the least common core type has, so a split
// never lands work on a slow cluster that the fast one waits for. Hosts
// without "CPU part" entries fall back to runtime.NumCPU.
func ThreadsHint() int {
	f, err := os.Open(procCPUInfo)
	if err != nil {
		return runtime.NumCPU()
	}
	defer f.Close()
	if n := threadsFromCPUInfo(f); n > 0 {
		return n
	}
	return runtime.NumCPU()
}

// threadsFromCPUInfo returns the occurrence count of the least frequent
// "CPU part" value, or 0 when there are none.
func threadsFromCPUInfo(r io.Reader) int {
	freq := map[string]int{}
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := sc.Text()
		if !strings.HasPrefix(line, "CPU part") {
			continue
		}
		_, part, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		freq[part]++
	}
	least := 0
	for _, n := range freq {
		if least == 0 || n < least {
			least = n
		}
	}
	return least
}
