package main

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v3"

	"github.com/samcharles93/stratum/internal/conformance"
	"github.com/samcharles93/stratum/internal/logger"
)

type conformanceRow struct {
	Case       string   `json:"case"`
	Strategies []string `json:"strategies"`
	MaxDiff    float64  `json:"max_diff"`
	Status     string   `json:"status"`
	Error      string   `json:"error,omitempty"`
}

func conformanceCmd() *cli.Command {
	var (
		parallel int64
		verbose  bool
		asJSON   bool
	)

	return &cli.Command{
		Name:  "conformance",
		Usage: "Run every eligible strategy on synthetic workloads and compare outputs",
		Flags: []cli.Flag{
			&cli.Int64Flag{
				Name:        "parallel",
				Aliases:     []string{"p"},
				Usage:       "cases checked concurrently (0 = unlimited)",
				Value:       4,
				Destination: &parallel,
			},
			&cli.BoolFlag{
				Name:        "verbose",
				Aliases:     []string{"v"},
				Usage:       "also list skipped cases",
				Destination: &verbose,
			},
			&cli.BoolFlag{
				Name:        "json",
				Usage:       "print JSON",
				Destination: &asJSON,
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			log := logger.FromContext(ctx)

			b, caps, err := openBackend()
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: %v", err), 1)
			}
			log.Info("running conformance", "backend", b.Name(), "caps", caps, "parallel", parallel)
			results, err := conformance.Check(ctx, b.Registry(), caps, conformance.DefaultCases(), int(parallel))
			if err != nil {
				return err
			}

			var rows []conformanceRow
			failed, compared := 0, 0
			for _, r := range results {
				row := conformanceRow{Case: r.Case.String(), Strategies: r.Strategies, MaxDiff: r.MaxDiff}
				switch {
				case r.Err != nil:
					row.Status, row.Error = "fail", r.Err.Error()
					failed++
				case r.Skipped():
					row.Status = "skip"
				default:
					row.Status = "ok"
					compared++
				}
				rows = append(rows, row)
			}

			if asJSON {
				if err := writeJSON(stdout, rows); err != nil {
					return err
				}
			} else {
				for _, row := range rows {
					if row.Status == "skip" && !verbose {
						continue
					}
					fmt.Fprintf(stdout, "%-4s %-40s %d strategies  max diff %.2g\n", row.Status, row.Case, len(row.Strategies), row.MaxDiff)
					if row.Error != "" {
						fmt.Fprintf(stdout, "     %s\n", row.Error)
					}
				}
				fmt.Fprintf(stdout, "\n%d compared, %d failed, %d skipped\n", compared, failed, len(rows)-compared-failed)
			}
			if failed > 0 {
				return cli.Exit(fmt.Sprintf("error: %d conformance cases failed", failed), 1)
			}
			return nil
		},
	}
}
