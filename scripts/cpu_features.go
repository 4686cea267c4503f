package main

import (
	"fmt"
	"os"
	"runtime"

	"github.com/goccy/go-json"

	"github.com/samcharles93/stratum/internal/cpuinfo"
)

type output struct {
	GoVersion    string          `json:"go_version"`
	GoOS         string          `json:"go_os"`
	GoArch       string          `json:"go_arch"`
	CPUs         int             `json:"cpus"`
	Threads      int             `json:"threads_hint"`
	Host         cpuinfo.Set     `json:"host"`
	Capabilities cpuinfo.Set     `json:"capabilities"`
	Features     map[string]bool `json:"features"`
}

func main() {
	out := output{
		GoVersion:    runtime.Version(),
		GoOS:         runtime.GOOS,
		GoArch:       runtime.GOARCH,
		CPUs:         runtime.NumCPU(),
		Threads:      cpuinfo.ThreadsHint(),
		Host:         cpuinfo.Host(),
		Capabilities: cpuinfo.Probe(),
		Features:     cpuinfo.Features(),
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil {
		fmt.Fprintf(os.Stderr, "encode: %v\n", err)
		os.Exit(1)
	}
}
