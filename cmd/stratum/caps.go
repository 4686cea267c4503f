package main

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/urfave/cli/v3"

	"github.com/samcharles93/stratum/internal/backend"
	"github.com/samcharles93/stratum/internal/cpuinfo"
)

type capsReport struct {
	Backend      string          `json:"backend"`
	Available    []string        `json:"available"`
	Capabilities []string        `json:"capabilities"`
	Host         []string        `json:"host"`
	Threads      int             `json:"threads"`
	Features     map[string]bool `json:"features"`
}

func capsCmd() *cli.Command {
	var asJSON bool

	return &cli.Command{
		Name:  "caps",
		Usage: "Show the capabilities strategy selection sees",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:        "json",
				Usage:       "print JSON",
				Destination: &asJSON,
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			b, caps, err := openBackend()
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: %v", err), 1)
			}
			report := capsReport{
				Backend:      b.Name(),
				Available:    strings.Split(backend.Available(), ","),
				Capabilities: capList(caps),
				Host:         capList(cpuinfo.Host()),
				Threads:      b.Scheduler().NumThreads(),
				Features:     cpuinfo.Features(),
			}
			if asJSON {
				return writeJSON(stdout, report)
			}

			fmt.Fprintf(stdout, "backend:      %s (available: %s)\n", report.Backend, strings.Join(report.Available, ", "))
			fmt.Fprintf(stdout, "capabilities: %s\n", strings.Join(report.Capabilities, ", "))
			fmt.Fprintf(stdout, "host probe:   %s\n", strings.Join(report.Host, ", "))
			fmt.Fprintf(stdout, "threads:      %d\n", report.Threads)
			names := make([]string, 0, len(report.Features))
			for name, ok := range report.Features {
				if ok {
					names = append(names, name)
				}
			}
			slices.Sort(names)
			fmt.Fprintf(stdout, "cpu features: %s\n", strings.Join(names, " "))
			return nil
		},
	}
}
