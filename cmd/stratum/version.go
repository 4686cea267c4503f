package main

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v3"

	"github.com/samcharles93/stratum/internal/version"
)

func versionCmd() *cli.Command {
	var asJSON bool

	return &cli.Command{
		Name:  "version",
		Usage: "Print version information",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:        "json",
				Usage:       "print JSON",
				Destination: &asJSON,
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			info := version.Resolve()
			if asJSON {
				return writeJSON(stdout, info)
			}
			fmt.Fprintf(stdout, "version:    %s\n", info.Version)
			if info.Commit != "" {
				fmt.Fprintf(stdout, "commit:     %s\n", info.Commit)
			}
			if info.BuildTime != "" {
				fmt.Fprintf(stdout, "build time: %s\n", info.BuildTime)
			}
			fmt.Fprintf(stdout, "go:         %s %s\n", info.GoVersion, info.Platform)
			return nil
		},
	}
}
